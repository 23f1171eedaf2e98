package store

import (
	"context"
	"errors"
	"testing"

	"podgraph/pkg/common"
)

// mockStorage keeps written records in maps keyed by id, which mirrors the
// MERGE semantics of the real backend: writing the same id twice leaves one
// record.
type mockStorage struct {
	episodes      map[string]common.Episode
	units         map[string]common.MeaningfulUnit
	entities      map[string]common.Entity
	quotes        map[string]common.Quote
	insights      map[string]common.Insight
	sentiments    map[string]common.SentimentResult
	relationships map[string]common.Relationship

	failOp        string
	failuresLeft  int
	deleteCalls   int
	deletedEpisod string
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		episodes:      map[string]common.Episode{},
		units:         map[string]common.MeaningfulUnit{},
		entities:      map[string]common.Entity{},
		quotes:        map[string]common.Quote{},
		insights:      map[string]common.Insight{},
		sentiments:    map[string]common.SentimentResult{},
		relationships: map[string]common.Relationship{},
	}
}

func (m *mockStorage) fail(op string) error {
	if m.failOp == op && m.failuresLeft != 0 {
		if m.failuresLeft > 0 {
			m.failuresLeft--
		}
		return errors.New(op + " unavailable")
	}
	return nil
}

func (m *mockStorage) CreateEpisode(ctx context.Context, episode common.Episode) error {
	if err := m.fail("create_episode"); err != nil {
		return err
	}
	m.episodes[episode.ID] = episode
	return nil
}

func (m *mockStorage) CreateMeaningfulUnit(ctx context.Context, unit common.MeaningfulUnit) error {
	if err := m.fail("create_unit"); err != nil {
		return err
	}
	m.units[unit.ID] = unit
	return nil
}

func (m *mockStorage) CreateEntity(ctx context.Context, episodeID string, entity common.Entity) error {
	if err := m.fail("create_entity"); err != nil {
		return err
	}
	m.entities[entity.ID] = entity
	return nil
}

func (m *mockStorage) CreateQuote(ctx context.Context, quote common.Quote) error {
	if err := m.fail("create_quote"); err != nil {
		return err
	}
	m.quotes[quote.ID] = quote
	return nil
}

func (m *mockStorage) CreateInsight(ctx context.Context, insight common.Insight) error {
	if err := m.fail("create_insight"); err != nil {
		return err
	}
	m.insights[insight.ID] = insight
	return nil
}

func (m *mockStorage) CreateSentiment(ctx context.Context, sentiment common.SentimentResult) error {
	if err := m.fail("create_sentiment"); err != nil {
		return err
	}
	m.sentiments[sentiment.UnitID] = sentiment
	return nil
}

func (m *mockStorage) CreateRelationship(ctx context.Context, relationship common.Relationship) error {
	if err := m.fail("create_relationship"); err != nil {
		return err
	}
	m.relationships[relationship.SourceEntityID+"/"+relationship.Type+"/"+relationship.TargetEntityID] = relationship
	return nil
}

func (m *mockStorage) DeleteEpisodeGraph(ctx context.Context, episodeID string) error {
	m.deleteCalls++
	m.deletedEpisod = episodeID
	m.episodes = map[string]common.Episode{}
	m.units = map[string]common.MeaningfulUnit{}
	m.entities = map[string]common.Entity{}
	m.quotes = map[string]common.Quote{}
	m.insights = map[string]common.Insight{}
	m.sentiments = map[string]common.SentimentResult{}
	m.relationships = map[string]common.Relationship{}
	return nil
}

func (m *mockStorage) Close(ctx context.Context) error { return nil }

func sampleGraph() *common.EpisodeGraph {
	return &common.EpisodeGraph{
		Episode: common.Episode{ID: "ep-1", Title: "Test Episode"},
		Units: []common.MeaningfulUnit{
			{ID: "u1", EpisodeID: "ep-1", Index: 0, Text: "unit one"},
			{ID: "u2", EpisodeID: "ep-1", Index: 1, Text: "unit two"},
		},
		Entities: []common.Entity{
			{ID: "e1", Type: "PERSON", Value: "Jane Doe", Confidence: 0.9, SourceUnitIDs: []string{"u1"}},
		},
		Quotes: []common.Quote{
			{ID: "q1", UnitID: "u1", EpisodeID: "ep-1", Text: "a quote", Speaker: "Jane Doe"},
		},
		Insights: []common.Insight{
			{ID: "i1", UnitID: "u2", EpisodeID: "ep-1", Text: "an insight"},
		},
		Sentiments: []common.SentimentResult{
			{UnitID: "u1", Polarity: "neutral"},
		},
		Relationships: []common.Relationship{
			{SourceEntityID: "e1", TargetEntityID: "e1x", Type: "KNOWS"},
		},
	}
}

func TestWriteEpisodePersistsEverything(t *testing.T) {
	storage := newMockStorage()
	writer := NewWriter(storage)

	if err := writer.WriteEpisode(context.Background(), sampleGraph()); err != nil {
		t.Fatalf("WriteEpisode() error = %v", err)
	}
	if len(storage.episodes) != 1 || len(storage.units) != 2 || len(storage.entities) != 1 {
		t.Errorf("persisted %d episodes, %d units, %d entities; want 1, 2, 1",
			len(storage.episodes), len(storage.units), len(storage.entities))
	}
	if len(storage.quotes) != 1 || len(storage.insights) != 1 || len(storage.sentiments) != 1 || len(storage.relationships) != 1 {
		t.Error("quotes, insights, sentiments or relationships missing")
	}
}

func TestWriteEpisodeIsIdempotent(t *testing.T) {
	storage := newMockStorage()
	writer := NewWriter(storage)

	graph := sampleGraph()
	for range 2 {
		if err := writer.WriteEpisode(context.Background(), graph); err != nil {
			t.Fatalf("WriteEpisode() error = %v", err)
		}
	}
	if len(storage.units) != 2 {
		t.Errorf("replay duplicated units: got %d, want 2", len(storage.units))
	}
	if len(storage.entities) != 1 {
		t.Errorf("replay duplicated entities: got %d, want 1", len(storage.entities))
	}
}

func TestWriteEpisodeRetriesTransientFailures(t *testing.T) {
	storage := newMockStorage()
	storage.failOp = "create_entity"
	storage.failuresLeft = 2

	writer := NewWriter(storage)
	writer.maxRetries = 3

	if err := writer.WriteEpisode(context.Background(), sampleGraph()); err != nil {
		t.Fatalf("WriteEpisode() error = %v, want success after transient failures", err)
	}
	if storage.deleteCalls != 0 {
		t.Errorf("rollback ran %d times despite eventual success", storage.deleteCalls)
	}
	if len(storage.entities) != 1 {
		t.Error("entity not persisted after retries")
	}
}

func TestWriteEpisodeRollsBackOnExhaustedRetries(t *testing.T) {
	storage := newMockStorage()
	storage.failOp = "create_insight"
	storage.failuresLeft = -1 // never recovers

	writer := NewWriter(storage)
	writer.maxRetries = 1

	err := writer.WriteEpisode(context.Background(), sampleGraph())

	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("WriteEpisode() error = %v, want *StorageError", err)
	}
	if storageErr.EpisodeID != "ep-1" || storageErr.Op != "create_insight" {
		t.Errorf("StorageError = %+v, want episode ep-1 failing at create_insight", storageErr)
	}
	if storage.deleteCalls == 0 {
		t.Fatal("rollback never ran")
	}
	if storage.deletedEpisod != "ep-1" {
		t.Errorf("rolled back episode %q, want ep-1", storage.deletedEpisod)
	}
	if len(storage.episodes)+len(storage.units)+len(storage.entities)+len(storage.quotes) != 0 {
		t.Error("partial graph left behind after rollback")
	}
}
