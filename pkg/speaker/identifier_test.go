package speaker

import (
	"context"
	"errors"
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

func TestIdentifyCanonicalizesInlineLabels(t *testing.T) {
	segments := []common.Segment{
		{Start: 0, End: 2, Speaker: "Alice Smith", Text: "Hi."},
		{Start: 2, End: 4, Speaker: "alice  smith", Text: "Still me."},
		{Start: 4, End: 6, Speaker: "Bob", Text: "And me."},
	}

	id := NewIdentifier("ep-1", &mockAIClient{}, 1)
	got, err := id.Identify(context.Background(), segments)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}

	if got[0].Speaker != "Alice Smith" || got[1].Speaker != "Alice Smith" {
		t.Errorf("case variants not merged: %q vs %q", got[0].Speaker, got[1].Speaker)
	}
	if got[2].Speaker != "Bob" {
		t.Errorf("got[2].Speaker = %q, want Bob", got[2].Speaker)
	}
}

func TestIdentifyAssignsUntaggedSegments(t *testing.T) {
	segments := []common.Segment{
		{Start: 0, End: 2, Speaker: "Host", Text: "Welcome."},
		{Start: 2, End: 4, Text: "Glad to be here."},
		{Start: 4, End: 6, Text: "Let us dive in."},
	}

	client := &mockAIClient{
		formatFn: func(name, prompt string, out any) error {
			res := out.(*assignmentResponse)
			res.Assignments = []speakerAssignment{
				{SegmentIndex: 1, Speaker: "Guest"},
				{SegmentIndex: 2, Speaker: "Host"},
				{SegmentIndex: 99, Speaker: "Ghost"}, // out of range, must be dropped
			}
			return nil
		},
	}

	id := NewIdentifier("ep-1", client, 1)
	got, err := id.Identify(context.Background(), segments)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}

	if got[1].Speaker != "Guest" {
		t.Errorf("got[1].Speaker = %q, want Guest", got[1].Speaker)
	}
	if got[2].Speaker != "Host" {
		t.Errorf("got[2].Speaker = %q, want Host", got[2].Speaker)
	}
	for _, label := range id.Known() {
		if label == "Ghost" {
			t.Errorf("out-of-range assignment registered label %q", label)
		}
	}
}

func TestIdentifyAcceptsGenericLabels(t *testing.T) {
	segments := []common.Segment{
		{Start: 0, End: 2, Text: "Hello."},
	}
	client := &mockAIClient{
		formatFn: func(name, prompt string, out any) error {
			res := out.(*assignmentResponse)
			res.Assignments = []speakerAssignment{{SegmentIndex: 0, Speaker: "Speaker 1"}}
			return nil
		},
	}

	id := NewIdentifier("ep-1", client, 1)
	got, err := id.Identify(context.Background(), segments)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if got[0].Speaker != "Speaker 1" {
		t.Errorf("generic label rejected: got %q", got[0].Speaker)
	}
}

func TestIdentifyFailureIsFatal(t *testing.T) {
	segments := []common.Segment{{Start: 0, End: 2, Text: "Hello."}}
	client := &mockAIClient{
		formatFn: func(name, prompt string, out any) error {
			return errors.New("model unavailable")
		},
	}

	id := NewIdentifier("ep-1", client, 2)
	_, err := id.Identify(context.Background(), segments)

	var idErr *IdentificationError
	if !errors.As(err, &idErr) {
		t.Fatalf("Identify() error = %v, want *IdentificationError", err)
	}
	if idErr.EpisodeID != "ep-1" {
		t.Errorf("EpisodeID = %q, want ep-1", idErr.EpisodeID)
	}
}

func TestIdentifyContinuationFallback(t *testing.T) {
	segments := []common.Segment{
		{Start: 0, End: 2, Speaker: "Host", Text: "One."},
		{Start: 2, End: 4, Text: "Two."},
	}
	// Model answers but leaves the untagged segment unassigned.
	client := &mockAIClient{
		formatFn: func(name, prompt string, out any) error { return nil },
	}

	id := NewIdentifier("ep-1", client, 1)
	got, err := id.Identify(context.Background(), segments)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if got[1].Speaker != "Host" {
		t.Errorf("got[1].Speaker = %q, want continuation of Host", got[1].Speaker)
	}
}

func TestCacheIsolationAcrossEpisodes(t *testing.T) {
	client := &mockAIClient{}

	idA := NewIdentifier("ep-A", client, 1)
	segmentsA := []common.Segment{{Start: 0, End: 2, Speaker: "Mel Robbins", Text: "Hi."}}
	if _, err := idA.Identify(context.Background(), segmentsA); err != nil {
		t.Fatalf("Identify(A) error = %v", err)
	}

	idB := NewIdentifier("ep-B", client, 1)
	segmentsB := []common.Segment{{Start: 0, End: 2, Speaker: "Unrelated Person", Text: "Hi."}}
	resolved, err := idB.Identify(context.Background(), segmentsB)
	if err != nil {
		t.Fatalf("Identify(B) error = %v", err)
	}

	for _, label := range idB.Known() {
		if label == "Mel Robbins" {
			t.Fatalf("speaker label from episode A leaked into episode B")
		}
	}
	if resolved[0].Speaker != "Unrelated Person" {
		t.Errorf("resolved speaker = %q", resolved[0].Speaker)
	}
}
