package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"podgraph/pkg/ai"
	"podgraph/pkg/common"
)

type mockAIClient struct {
	mu       sync.Mutex
	calls    int
	formatFn func(name, prompt string, out any) error
}

func (m *mockAIClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return "", errors.New("not used")
}

func (m *mockAIClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.formatFn(name, prompt, out)
}

func (m *mockAIClient) ResetMetrics() {}

func (m *mockAIClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func decodeInto(out any, payload string) error {
	return json.Unmarshal([]byte(payload), out)
}

const emptySentiment = `{"polarity":"neutral","score":0,"energy_level":0.5,"engagement_level":0.5}`

func makeUnits(n int) []common.MeaningfulUnit {
	units := make([]common.MeaningfulUnit, n)
	for i := range units {
		units[i] = common.MeaningfulUnit{
			ID:        fmt.Sprintf("u%d", i+1),
			EpisodeID: "ep-1",
			Index:     i,
			Text:      fmt.Sprintf("Alice: unit %d text", i+1),
			Start:     float64(i * 60),
			End:       float64((i + 1) * 60),
			SpeakerDistribution: map[string]float64{
				"Alice": 60, "Bob": 40,
			},
		}
	}
	return units
}

func TestExtractAllUnitsSucceed(t *testing.T) {
	client := &mockAIClient{
		formatFn: func(name, prompt string, out any) error {
			if name == "sentiment_analysis" {
				return decodeInto(out, emptySentiment)
			}
			return decodeInto(out, `{
				"entities": [
					{"type": "researcher", "value": "Jane Doe", "confidence": 0.9, "description": "AI researcher"}
				],
				"quotes": [
					{"text": "This changes everything.", "speaker": "Alice", "quote_type": "opinion", "importance_score": 0.8, "confidence": 0.9}
				],
				"insights": [
					{"text": "Small models are catching up.", "insight_type": "observation", "importance": 0.7, "confidence": 0.8}
				],
				"conversation_structure": {
					"relationships": [
						{"source": "Jane Doe", "target": "Acme Lab", "type": "works_at", "description": "employment"}
					],
					"themes": ["AI research"]
				}
			}`)
		},
	}

	extractor := NewExtractor(client, Config{Concurrency: 2, MaxRetries: 1})
	units := makeUnits(3)
	results, unitErrs, err := extractor.Extract(context.Background(), common.Episode{ID: "ep-1", Title: "Ep"}, units, nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(unitErrs) != 0 {
		t.Fatalf("unit errors = %v, want none", unitErrs)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, result := range results {
		if result.UnitID != units[i].ID {
			t.Errorf("result %d is for unit %s, want %s (ordered by unit index)", i, result.UnitID, units[i].ID)
		}
		if len(result.Entities) != 1 || len(result.Quotes) != 1 || len(result.Insights) != 1 {
			t.Errorf("result %d incomplete: %+v", i, result)
		}
		if result.Sentiment == nil {
			t.Errorf("result %d missing sentiment", i)
		}
	}

	entity := results[0].Entities[0]
	if entity.Type != "RESEARCHER" {
		t.Errorf("entity type = %q, want normalized RESEARCHER", entity.Type)
	}
	if entity.ID == "" {
		t.Error("entity id not generated")
	}
	if len(entity.SourceUnitIDs) != 1 || entity.SourceUnitIDs[0] != "u1" {
		t.Errorf("entity source units = %v, want [u1]", entity.SourceUnitIDs)
	}

	rel := results[0].Relationships[0]
	if rel.Type != "WORKS_AT" {
		t.Errorf("relationship type = %q, want WORKS_AT", rel.Type)
	}

	quote := results[0].Quotes[0]
	if quote.EpisodeID != "ep-1" || quote.UnitID != "u1" {
		t.Errorf("quote provenance = (%s, %s), want (ep-1, u1)", quote.EpisodeID, quote.UnitID)
	}
}

func TestExtractOneTimeoutKeepsSiblings(t *testing.T) {
	client := &mockAIClient{
		formatFn: func(name, prompt string, out any) error {
			if name == "sentiment_analysis" {
				return decodeInto(out, emptySentiment)
			}
			if strings.Contains(prompt, "unit 2 text") {
				return fmt.Errorf("model call: %w", context.DeadlineExceeded)
			}
			return decodeInto(out, `{"entities":[{"type":"TOPIC","value":"Go","confidence":0.8}],"conversation_structure":{}}`)
		},
	}

	extractor := NewExtractor(client, Config{Concurrency: 4, MaxRetries: 3})
	units := makeUnits(4)
	results, unitErrs, err := extractor.Extract(context.Background(), common.Episode{ID: "ep-1"}, units, nil)
	if err != nil {
		t.Fatalf("Extract() error = %v, want partial success", err)
	}
	if len(results) != 3 {
		t.Errorf("got %d results, want 3", len(results))
	}
	if len(unitErrs) != 1 {
		t.Fatalf("got %d unit errors, want 1", len(unitErrs))
	}
	if unitErrs[0].UnitID != "u2" {
		t.Errorf("failed unit = %s, want u2", unitErrs[0].UnitID)
	}
	if !unitErrs[0].Timeout {
		t.Error("deadline exceeded not classified as timeout")
	}
	for _, result := range results {
		if result.UnitID == "u2" {
			t.Error("failed unit present in results")
		}
	}
}

func TestExtractMajorityFailureFailsEpisode(t *testing.T) {
	client := &mockAIClient{
		formatFn: func(name, prompt string, out any) error {
			if name == "sentiment_analysis" {
				return decodeInto(out, emptySentiment)
			}
			if strings.Contains(prompt, "unit 1 text") {
				return decodeInto(out, `{"conversation_structure":{}}`)
			}
			return errors.New("model unavailable")
		},
	}

	extractor := NewExtractor(client, Config{Concurrency: 2, MaxRetries: 1})
	units := makeUnits(4)
	_, unitErrs, err := extractor.Extract(context.Background(), common.Episode{ID: "ep-1"}, units, nil)

	var extractionErr *ExtractionError
	if !errors.As(err, &extractionErr) {
		t.Fatalf("Extract() error = %v, want *ExtractionError", err)
	}
	if extractionErr.Failed != 3 || extractionErr.Total != 4 {
		t.Errorf("failure counts = %d/%d, want 3/4", extractionErr.Failed, extractionErr.Total)
	}
	if len(unitErrs) != 3 {
		t.Errorf("got %d unit errors, want 3", len(unitErrs))
	}
}

func TestExtractExactlyHalfFailedIsPartialSuccess(t *testing.T) {
	client := &mockAIClient{
		formatFn: func(name, prompt string, out any) error {
			if name == "sentiment_analysis" {
				return decodeInto(out, emptySentiment)
			}
			if strings.Contains(prompt, "unit 1 text") || strings.Contains(prompt, "unit 2 text") {
				return errors.New("model unavailable")
			}
			return decodeInto(out, `{"conversation_structure":{}}`)
		},
	}

	extractor := NewExtractor(client, Config{Concurrency: 2, MaxRetries: 1})
	results, unitErrs, err := extractor.Extract(context.Background(), common.Episode{ID: "ep-1"}, makeUnits(4), nil)
	if err != nil {
		t.Fatalf("Extract() error = %v, want success at exactly 50%% failures", err)
	}
	if len(results) != 2 || len(unitErrs) != 2 {
		t.Errorf("got %d results and %d errors, want 2 and 2", len(results), len(unitErrs))
	}
}

func TestExtractNoUnits(t *testing.T) {
	extractor := NewExtractor(&mockAIClient{}, Config{})
	results, unitErrs, err := extractor.Extract(context.Background(), common.Episode{ID: "ep-1"}, nil, nil)
	if err != nil || results != nil || unitErrs != nil {
		t.Errorf("Extract() with no units = (%v, %v, %v), want all nil", results, unitErrs, err)
	}
}

func TestExtractCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &mockAIClient{
		formatFn: func(name, prompt string, out any) error {
			return decodeInto(out, `{"conversation_structure":{}}`)
		},
	}
	extractor := NewExtractor(client, Config{Concurrency: 1, MaxRetries: 1})
	_, _, err := extractor.Extract(ctx, common.Episode{ID: "ep-1"}, makeUnits(2), nil)
	if err == nil {
		t.Fatal("Extract() error = nil, want abort on canceled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Extract() error = %v, want context.Canceled", err)
	}
}

func TestNewExtractorDefaults(t *testing.T) {
	extractor := NewExtractor(&mockAIClient{}, Config{})
	if extractor.concurrency != defaultConcurrency {
		t.Errorf("concurrency = %d, want %d", extractor.concurrency, defaultConcurrency)
	}
	if extractor.unitTimeout != defaultUnitTimeout {
		t.Errorf("unit timeout = %v, want %v", extractor.unitTimeout, defaultUnitTimeout)
	}
	if extractor.maxRetries != defaultMaxRetries {
		t.Errorf("max retries = %d, want %d", extractor.maxRetries, defaultMaxRetries)
	}
}

func TestNormalizeEntityType(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"researcher", "RESEARCHER"},
		{"works at", "WORKS_AT"},
		{"  Software Company ", "SOFTWARE_COMPANY"},
		{"", "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := normalizeEntityType(tt.in); got != tt.want {
			t.Errorf("normalizeEntityType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractRespectsConcurrencyLimit(t *testing.T) {
	var mu sync.Mutex
	active, peak := 0, 0

	client := &mockAIClient{
		formatFn: func(name, prompt string, out any) error {
			if name == "sentiment_analysis" {
				return decodeInto(out, emptySentiment)
			}
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return decodeInto(out, `{"conversation_structure":{}}`)
		},
	}

	extractor := NewExtractor(client, Config{Concurrency: 2, MaxRetries: 1})
	if _, _, err := extractor.Extract(context.Background(), common.Episode{ID: "ep-1"}, makeUnits(6), nil); err != nil {
		t.Fatal(err)
	}
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", peak)
	}
}
