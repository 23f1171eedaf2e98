// Package neo4j implements store.GraphStorage on a Neo4j property graph.
// Every write is a MERGE keyed on stable ids, so replaying an episode is
// idempotent.
package neo4j

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"podgraph/pkg/common"
	"podgraph/pkg/logger"
)

// Config carries the connection settings for a Neo4j instance.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

// Storage is a store.GraphStorage backed by a Neo4j driver.
type Storage struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewStorage connects to Neo4j and verifies the connection before returning.
func NewStorage(ctx context.Context, cfg Config) (*Storage, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j at %s: %w", cfg.URI, err)
	}
	logger.Info("connected to neo4j", "uri", cfg.URI, "database", cfg.Database)
	return &Storage{driver: driver, database: cfg.Database}, nil
}

func (s *Storage) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// execWrite runs one Cypher statement in a managed write transaction.
func (s *Storage) execWrite(ctx context.Context, query string, params map[string]any) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return nil, result.Err()
	})
	return err
}

func (s *Storage) CreateEpisode(ctx context.Context, episode common.Episode) error {
	return s.execWrite(ctx, `
		MERGE (e:Episode {id: $id})
		SET e.title = $title,
		    e.description = $description,
		    e.published_date = $published_date,
		    e.youtube_url = $youtube_url,
		    e.podcast = $podcast`,
		map[string]any{
			"id":             episode.ID,
			"title":          episode.Title,
			"description":    episode.Description,
			"published_date": episode.PublishedDate,
			"youtube_url":    episode.YoutubeURL,
			"podcast":        episode.Podcast,
		})
}

func (s *Storage) CreateMeaningfulUnit(ctx context.Context, unit common.MeaningfulUnit) error {
	distribution, err := json.Marshal(unit.SpeakerDistribution)
	if err != nil {
		return fmt.Errorf("encoding speaker distribution for unit %s: %w", unit.ID, err)
	}
	return s.execWrite(ctx, `
		MERGE (u:Unit {id: $id})
		SET u.index = $index,
		    u.text = $text,
		    u.start = $start,
		    u.end = $end,
		    u.unit_type = $unit_type,
		    u.themes = $themes,
		    u.speaker_distribution = $speaker_distribution
		MERGE (e:Episode {id: $episode_id})
		MERGE (u)-[:PART_OF]->(e)`,
		map[string]any{
			"id":                   unit.ID,
			"episode_id":           unit.EpisodeID,
			"index":                unit.Index,
			"text":                 unit.Text,
			"start":                unit.Start,
			"end":                  unit.End,
			"unit_type":            unit.UnitType,
			"themes":               unit.Themes,
			"speaker_distribution": string(distribution),
		})
}

func (s *Storage) CreateEntity(ctx context.Context, episodeID string, entity common.Entity) error {
	return s.execWrite(ctx, `
		MERGE (n:Entity {id: $id})
		SET n.type = $type,
		    n.value = $value,
		    n.confidence = $confidence,
		    n.description = $description,
		    n.source_unit_ids = $source_unit_ids
		MERGE (e:Episode {id: $episode_id})
		MERGE (n)-[m:MENTIONED_IN]->(e)
		SET m.confidence = $confidence`,
		map[string]any{
			"id":              entity.ID,
			"episode_id":      episodeID,
			"type":            entity.Type,
			"value":           entity.Value,
			"confidence":      entity.Confidence,
			"description":     entity.Description,
			"source_unit_ids": entity.SourceUnitIDs,
		})
}

func (s *Storage) CreateQuote(ctx context.Context, quote common.Quote) error {
	return s.execWrite(ctx, `
		MERGE (q:Quote {id: $id})
		SET q.text = $text,
		    q.speaker = $speaker,
		    q.quote_type = $quote_type,
		    q.start = $start,
		    q.end = $end,
		    q.importance_score = $importance_score,
		    q.confidence = $confidence
		MERGE (u:Unit {id: $unit_id})
		MERGE (e:Episode {id: $episode_id})
		MERGE (q)-[:EXTRACTED_FROM]->(u)
		MERGE (q)-[:PART_OF]->(e)`,
		map[string]any{
			"id":               quote.ID,
			"unit_id":          quote.UnitID,
			"episode_id":       quote.EpisodeID,
			"text":             quote.Text,
			"speaker":          quote.Speaker,
			"quote_type":       quote.QuoteType,
			"start":            quote.Start,
			"end":              quote.End,
			"importance_score": quote.ImportanceScore,
			"confidence":       quote.Confidence,
		})
}

func (s *Storage) CreateInsight(ctx context.Context, insight common.Insight) error {
	return s.execWrite(ctx, `
		MERGE (i:Insight {id: $id})
		SET i.text = $text,
		    i.insight_type = $insight_type,
		    i.importance = $importance,
		    i.confidence = $confidence,
		    i.themes = $themes
		MERGE (u:Unit {id: $unit_id})
		MERGE (e:Episode {id: $episode_id})
		MERGE (i)-[:EXTRACTED_FROM]->(u)
		MERGE (i)-[:PART_OF]->(e)`,
		map[string]any{
			"id":           insight.ID,
			"unit_id":      insight.UnitID,
			"episode_id":   insight.EpisodeID,
			"text":         insight.Text,
			"insight_type": insight.InsightType,
			"importance":   insight.Importance,
			"confidence":   insight.Confidence,
			"themes":       insight.Themes,
		})
}

func (s *Storage) CreateSentiment(ctx context.Context, sentiment common.SentimentResult) error {
	emotions, err := json.Marshal(sentiment.Emotions)
	if err != nil {
		return fmt.Errorf("encoding emotions for unit %s: %w", sentiment.UnitID, err)
	}
	attitudes, err := json.Marshal(sentiment.Attitudes)
	if err != nil {
		return fmt.Errorf("encoding attitudes for unit %s: %w", sentiment.UnitID, err)
	}
	return s.execWrite(ctx, `
		MERGE (s:Sentiment {unit_id: $unit_id})
		SET s.polarity = $polarity,
		    s.score = $score,
		    s.emotions = $emotions,
		    s.attitudes = $attitudes,
		    s.energy_level = $energy_level,
		    s.engagement_level = $engagement_level
		MERGE (u:Unit {id: $unit_id})
		MERGE (s)-[:RATES]->(u)`,
		map[string]any{
			"unit_id":          sentiment.UnitID,
			"polarity":         sentiment.Polarity,
			"score":            sentiment.Score,
			"emotions":         string(emotions),
			"attitudes":        string(attitudes),
			"energy_level":     sentiment.EnergyLevel,
			"engagement_level": sentiment.EngagementLevel,
		})
}

func (s *Storage) CreateRelationship(ctx context.Context, relationship common.Relationship) error {
	// Relationship types cannot be parameterized in Cypher, so the type is
	// sanitized and interpolated.
	query := fmt.Sprintf(`
		MATCH (a:Entity {id: $source_id})
		MATCH (b:Entity {id: $target_id})
		MERGE (a)-[r:%s]->(b)
		SET r += $props`, sanitizeRelType(relationship.Type))
	props := relationship.Properties
	if props == nil {
		props = map[string]any{}
	}
	return s.execWrite(ctx, query, map[string]any{
		"source_id": relationship.SourceEntityID,
		"target_id": relationship.TargetEntityID,
		"props":     props,
	})
}

// DeleteEpisodeGraph removes the episode and everything hanging off it:
// units with their sentiment ratings, entities mentioned only here, quotes
// and insights.
func (s *Storage) DeleteEpisodeGraph(ctx context.Context, episodeID string) error {
	return s.execWrite(ctx, `
		MATCH (e:Episode {id: $id})
		OPTIONAL MATCH (u:Unit)-[:PART_OF]->(e)
		OPTIONAL MATCH (s:Sentiment)-[:RATES]->(u)
		OPTIONAL MATCH (n)-[:PART_OF|MENTIONED_IN]->(e)
		DETACH DELETE s, u, n, e`,
		map[string]any{"id": episodeID})
}

var relTypeRe = regexp.MustCompile(`[^A-Z0-9_]`)

// sanitizeRelType restricts a free-form relationship type to a legal Cypher
// relationship name.
func sanitizeRelType(relType string) string {
	cleaned := relTypeRe.ReplaceAllString(strings.ToUpper(strings.TrimSpace(relType)), "_")
	cleaned = strings.Trim(cleaned, "_")
	if cleaned == "" {
		return "RELATED_TO"
	}
	return cleaned
}
