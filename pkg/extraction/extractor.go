// Package extraction runs the LLM knowledge extraction over meaningful
// units: entities, quotes, insights, relationships and sentiment, with
// bounded parallelism and per-unit timeouts.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"

	"podgraph/internal/util"
	"podgraph/pkg/ai"
	"podgraph/pkg/common"
	"podgraph/pkg/logger"
	"podgraph/pkg/speaker"
)

const (
	defaultConcurrency = 5
	defaultUnitTimeout = 600 * time.Second
	defaultMaxRetries  = 3
)

// UnitError records the failure of a single unit. Timeout distinguishes
// units that hit their deadline from units whose model call failed outright.
type UnitError struct {
	UnitID  string
	Index   int
	Timeout bool
	Err     error
}

func (e *UnitError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("unit %s (index %d) timed out: %v", e.UnitID, e.Index, e.Err)
	}
	return fmt.Sprintf("unit %s (index %d) failed: %v", e.UnitID, e.Index, e.Err)
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

// ExtractionError is returned when so many units failed that the episode's
// results would be misleading rather than merely incomplete.
type ExtractionError struct {
	EpisodeID string
	Failed    int
	Timeouts  int
	Total     int
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for episode %s: %d of %d units failed (%d timed out)",
		e.EpisodeID, e.Failed, e.Total, e.Timeouts)
}

// Config bounds the extraction run. Zero values fall back to defaults.
type Config struct {
	Concurrency int
	UnitTimeout time.Duration
	MaxRetries  int
}

// Extractor runs knowledge extraction against an AI client.
type Extractor struct {
	aiClient    ai.TranscriptAIClient
	concurrency int
	unitTimeout time.Duration
	maxRetries  int
}

func NewExtractor(aiClient ai.TranscriptAIClient, cfg Config) *Extractor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.UnitTimeout <= 0 {
		cfg.UnitTimeout = defaultUnitTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &Extractor{
		aiClient:    aiClient,
		concurrency: cfg.Concurrency,
		unitTimeout: cfg.UnitTimeout,
		maxRetries:  cfg.MaxRetries,
	}
}

// Extract processes all units of an episode in parallel, at most
// Concurrency at a time, each under its own timeout. A failing unit never
// cancels its siblings. When more than half of the units fail the whole
// episode fails; otherwise the surviving results are returned together with
// the per-unit errors so the caller can report partial coverage.
//
// speakers canonicalizes quote attribution against the labels established
// during speaker identification; it may be nil.
func (e *Extractor) Extract(
	ctx context.Context,
	episode common.Episode,
	units []common.MeaningfulUnit,
	speakers *speaker.Identifier,
) ([]common.UnitExtraction, []*UnitError, error) {
	if len(units) == 0 {
		return nil, nil, nil
	}

	var (
		mu       sync.Mutex
		results  []common.UnitExtraction
		unitErrs []*UnitError
		done     int
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.concurrency)

	for _, unit := range units {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			extraction, err := e.extractUnit(groupCtx, episode, unit, speakers)

			mu.Lock()
			defer mu.Unlock()
			done++
			if err != nil {
				// Only the parent being canceled tears the run down. Unit
				// failures are recorded and counted against the threshold.
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				ue := &UnitError{
					UnitID:  unit.ID,
					Index:   unit.Index,
					Timeout: errors.Is(err, context.DeadlineExceeded),
					Err:     err,
				}
				unitErrs = append(unitErrs, ue)
				logger.Warn("unit extraction failed",
					"episode", episode.ID, "unit", unit.ID, "timeout", ue.Timeout, "error", err)
				return nil
			}
			results = append(results, *extraction)
			logger.Debug("unit extracted",
				"episode", episode.ID, "unit", unit.ID, "progress", fmt.Sprintf("%d/%d", done, len(units)))
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, unitErrs, fmt.Errorf("extraction aborted for episode %s: %w", episode.ID, err)
	}

	timeouts := 0
	for _, ue := range unitErrs {
		if ue.Timeout {
			timeouts++
		}
	}
	if len(unitErrs)*2 > len(units) {
		return nil, unitErrs, &ExtractionError{
			EpisodeID: episode.ID,
			Failed:    len(unitErrs),
			Timeouts:  timeouts,
			Total:     len(units),
		}
	}
	if len(unitErrs) > 0 {
		logger.Warn("extraction completed with partial coverage",
			"episode", episode.ID, "failed", len(unitErrs), "total", len(units), "timeouts", timeouts)
	}

	sort.Slice(results, func(i, j int) bool {
		return indexOf(units, results[i].UnitID) < indexOf(units, results[j].UnitID)
	})
	return results, unitErrs, nil
}

// extractUnit runs the structured extraction call for one unit under its own
// deadline, then attaches sentiment. Sentiment is best-effort and never
// fails the unit.
func (e *Extractor) extractUnit(
	ctx context.Context,
	episode common.Episode,
	unit common.MeaningfulUnit,
	speakers *speaker.Identifier,
) (*common.UnitExtraction, error) {
	unitCtx, cancel := context.WithTimeout(ctx, e.unitTimeout)
	defer cancel()

	prompt := fmt.Sprintf(ai.ExtractPrompt,
		episode.Title, unit.Start, unit.End, strings.Join(unitSpeakers(unit), ", "), unit.Text)

	response, err := util.RetryWithContext(unitCtx, e.maxRetries, func(callCtx context.Context) (*extractionResponse, error) {
		var parsed extractionResponse
		if err := e.aiClient.GenerateCompletionWithFormat(
			callCtx,
			"knowledge_extraction",
			"Entities, quotes, insights and relationships extracted from a span of podcast conversation",
			prompt,
			&parsed,
		); err != nil {
			return nil, err
		}
		return &parsed, nil
	})
	if err != nil {
		return nil, err
	}

	extraction := e.convertResponse(episode.ID, unit, response, speakers)
	extraction.Sentiment = e.analyzeSentiment(unitCtx, unit)
	return extraction, nil
}

// convertResponse turns a model response into domain records with generated
// ids and provenance back to the unit.
func (e *Extractor) convertResponse(
	episodeID string,
	unit common.MeaningfulUnit,
	response *extractionResponse,
	speakers *speaker.Identifier,
) *common.UnitExtraction {
	extraction := &common.UnitExtraction{UnitID: unit.ID}

	for _, record := range response.Entities {
		value := strings.TrimSpace(record.Value)
		if value == "" {
			continue
		}
		extraction.Entities = append(extraction.Entities, common.Entity{
			ID:            gonanoid.Must(),
			Type:          normalizeEntityType(record.Type),
			Value:         value,
			Confidence:    clamp01(record.Confidence),
			Description:   strings.TrimSpace(record.Description),
			SourceUnitIDs: []string{unit.ID},
		})
	}

	for _, record := range response.Quotes {
		text := strings.TrimSpace(record.Text)
		if text == "" {
			continue
		}
		speakerLabel := strings.TrimSpace(record.Speaker)
		if speakers != nil && speakerLabel != "" {
			speakerLabel = speakers.Canonical(speakerLabel)
		}
		extraction.Quotes = append(extraction.Quotes, common.Quote{
			ID:              gonanoid.Must(),
			UnitID:          unit.ID,
			EpisodeID:       episodeID,
			Text:            text,
			Speaker:         speakerLabel,
			QuoteType:       strings.TrimSpace(record.QuoteType),
			Start:           unit.Start,
			End:             unit.End,
			ImportanceScore: clamp01(record.ImportanceScore),
			Confidence:      clamp01(record.Confidence),
		})
	}

	for _, record := range response.Insights {
		text := strings.TrimSpace(record.Text)
		if text == "" {
			continue
		}
		themes := record.Themes
		if len(themes) == 0 {
			themes = unit.Themes
		}
		extraction.Insights = append(extraction.Insights, common.Insight{
			ID:          gonanoid.Must(),
			UnitID:      unit.ID,
			EpisodeID:   episodeID,
			Text:        text,
			InsightType: strings.TrimSpace(record.InsightType),
			Importance:  clamp01(record.Importance),
			Confidence:  clamp01(record.Confidence),
			Themes:      themes,
		})
	}

	for _, record := range response.ConversationStructure.Relationships {
		source := strings.TrimSpace(record.Source)
		target := strings.TrimSpace(record.Target)
		if source == "" || target == "" || source == target {
			continue
		}
		extraction.Relationships = append(extraction.Relationships, common.RawRelationship{
			SourceValue: source,
			TargetValue: target,
			Type:        normalizeEntityType(record.Type),
			Description: strings.TrimSpace(record.Description),
		})
	}

	return extraction
}

// normalizeEntityType upper-snake-cases a free-form type string.
func normalizeEntityType(entityType string) string {
	trimmed := strings.TrimSpace(entityType)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(strings.Join(strings.Fields(trimmed), "_"))
}

func unitSpeakers(unit common.MeaningfulUnit) []string {
	labels := make([]string, 0, len(unit.SpeakerDistribution))
	for label := range unit.SpeakerDistribution {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

func indexOf(units []common.MeaningfulUnit, unitID string) int {
	for _, u := range units {
		if u.ID == unitID {
			return u.Index
		}
	}
	return -1
}
