package conversation

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"podgraph/pkg/ai"
	"podgraph/pkg/common"
)

type mockAIClient struct {
	formatFn func(name string, prompt string, out any) error
}

func (m *mockAIClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return "", errors.New("not implemented")
}

func (m *mockAIClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	if m.formatFn == nil {
		return errors.New("no format handler")
	}
	return m.formatFn(name, prompt, out)
}

func (m *mockAIClient) ResetMetrics()                {}
func (m *mockAIClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func fourSegments() []common.Segment {
	return []common.Segment{
		{Start: 0, End: 5, Speaker: "Host", Text: "Intro."},
		{Start: 5, End: 10, Speaker: "Guest", Text: "Topic one."},
		{Start: 10, End: 15, Speaker: "Guest", Text: "More on topic one."},
		{Start: 15, End: 20, Speaker: "Host", Text: "Wrap up."},
	}
}

func TestAnalyzeClampsOutOfRangeIndices(t *testing.T) {
	client := &mockAIClient{
		formatFn: func(name, prompt string, out any) error {
			res := out.(*analysisResponse)
			res.Themes = []themeRecord{
				{Name: "Intro", SegmentIndices: []int{0, -1, 99}},
				{Name: "Topic one", SegmentIndices: []int{2, 1, 1, 400}},
			}
			res.FlowDescription = "Opening then main topic."
			return nil
		},
	}

	analyzer := NewAnalyzer(client, 1)
	structure, err := analyzer.Analyze(context.Background(), "ep-1", fourSegments())
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	want := []common.Theme{
		{Name: "Intro", SegmentIndices: []int{0}},
		{Name: "Topic one", SegmentIndices: []int{1, 2}},
	}
	if !reflect.DeepEqual(structure.Themes, want) {
		t.Errorf("Analyze() themes = %#v, want %#v", structure.Themes, want)
	}

	for _, theme := range structure.Themes {
		for _, idx := range theme.SegmentIndices {
			if idx < 0 || idx >= 4 {
				t.Errorf("out-of-range index %d survived sanitization", idx)
			}
		}
	}
}

func TestAnalyzeFailsWhenNoValidThemes(t *testing.T) {
	client := &mockAIClient{
		formatFn: func(name, prompt string, out any) error {
			res := out.(*analysisResponse)
			res.Themes = []themeRecord{
				{Name: "", SegmentIndices: []int{0}},
				{Name: "Phantom", SegmentIndices: []int{50, 51}},
			}
			return nil
		},
	}

	analyzer := NewAnalyzer(client, 1)
	_, err := analyzer.Analyze(context.Background(), "ep-1", fourSegments())

	var analysisErr *AnalysisError
	if !errors.As(err, &analysisErr) {
		t.Fatalf("Analyze() error = %v, want *AnalysisError", err)
	}
}

func TestAnalyzeModelFailure(t *testing.T) {
	client := &mockAIClient{
		formatFn: func(name, prompt string, out any) error {
			return errors.New("model unavailable")
		},
	}

	analyzer := NewAnalyzer(client, 2)
	_, err := analyzer.Analyze(context.Background(), "ep-1", fourSegments())

	var analysisErr *AnalysisError
	if !errors.As(err, &analysisErr) {
		t.Fatalf("Analyze() error = %v, want *AnalysisError", err)
	}
	if analysisErr.EpisodeID != "ep-1" {
		t.Errorf("EpisodeID = %q, want ep-1", analysisErr.EpisodeID)
	}
}

func TestAnalyzeEmptySegments(t *testing.T) {
	analyzer := NewAnalyzer(&mockAIClient{}, 1)
	_, err := analyzer.Analyze(context.Background(), "ep-1", nil)
	var analysisErr *AnalysisError
	if !errors.As(err, &analysisErr) {
		t.Fatalf("Analyze() error = %v, want *AnalysisError", err)
	}
}
