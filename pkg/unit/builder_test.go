package unit

import (
	"math"
	"testing"

	"podgraph/pkg/common"
)

func structureFor(themes ...common.Theme) *common.ConversationStructure {
	return &common.ConversationStructure{
		Themes:          themes,
		FlowDescription: "test flow",
	}
}

func TestBuildSingleSpeakerDistribution(t *testing.T) {
	segments := []common.Segment{
		{Start: 0, End: 10, Speaker: "Host", Text: "Solo intro."},
		{Start: 10, End: 20, Speaker: "Host", Text: "Still talking."},
	}
	builder := NewBuilder(NewBuilderParams{})

	units, err := builder.Build("ep-1", segments, structureFor(common.Theme{
		Name:           "Intro",
		SegmentIndices: []int{0, 1},
	}))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("Build() units = %d, want 1", len(units))
	}

	unit := units[0]
	if unit.SpeakerDistribution["Host"] != 100.0 {
		t.Errorf("single-speaker distribution = %v, want {Host: 100.0}", unit.SpeakerDistribution)
	}
	if unit.UnitType != "monologue" {
		t.Errorf("UnitType = %q, want monologue", unit.UnitType)
	}
	if unit.Start != 0 || unit.End != 20 {
		t.Errorf("unit time range = [%v, %v], want [0, 20]", unit.Start, unit.End)
	}
}

func TestBuildDistributionSumsToHundred(t *testing.T) {
	// Durations of 10, 10 and 10 across three speakers: each share rounds to
	// 33.3 and the largest bucket absorbs the remainder.
	segments := []common.Segment{
		{Start: 0, End: 10, Speaker: "A", Text: "One."},
		{Start: 10, End: 20, Speaker: "B", Text: "Two."},
		{Start: 20, End: 30, Speaker: "C", Text: "Three."},
	}
	builder := NewBuilder(NewBuilderParams{})

	units, err := builder.Build("ep-1", segments, structureFor(common.Theme{
		Name:           "Roundtable",
		SegmentIndices: []int{0, 1, 2},
	}))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	sum := 0.0
	for speaker, share := range units[0].SpeakerDistribution {
		if speaker == "" {
			t.Errorf("empty speaker key in distribution")
		}
		sum += share
	}
	if math.Abs(sum-100.0) > 0.1 {
		t.Errorf("distribution sum = %v, want 100.0 (±0.1)", sum)
	}
	if units[0].UnitType != "dialogue" {
		t.Errorf("UnitType = %q, want dialogue", units[0].UnitType)
	}
}

func TestBuildDropsZeroDurationUnits(t *testing.T) {
	segments := []common.Segment{
		{Start: 5, End: 5, Speaker: "Host", Text: "Blip."},
		{Start: 10, End: 20, Speaker: "Host", Text: "Real content."},
	}
	builder := NewBuilder(NewBuilderParams{})

	units, err := builder.Build("ep-1", segments, structureFor(
		common.Theme{Name: "Empty", SegmentIndices: []int{0}},
		common.Theme{Name: "Real", SegmentIndices: []int{1}},
	))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("Build() units = %d, want 1 (zero-duration dropped)", len(units))
	}
	if units[0].Themes[0] != "Real" {
		t.Errorf("surviving unit theme = %q, want Real", units[0].Themes[0])
	}
}

func TestBuildFailsWhenNothingSurvives(t *testing.T) {
	segments := []common.Segment{
		{Start: 5, End: 5, Speaker: "Host", Text: "Blip."},
	}
	builder := NewBuilder(NewBuilderParams{})

	_, err := builder.Build("ep-1", segments, structureFor(common.Theme{
		Name:           "Empty",
		SegmentIndices: []int{0},
	}))
	if err == nil {
		t.Fatal("Build() expected error when no unit survives")
	}
}

func TestBuildSplitsOversizedSpans(t *testing.T) {
	long := ""
	for i := 0; i < 60; i++ {
		long += "word "
	}
	segments := []common.Segment{
		{Start: 0, End: 10, Speaker: "A", Text: long},
		{Start: 10, End: 20, Speaker: "B", Text: long},
		{Start: 20, End: 30, Speaker: "A", Text: long},
	}
	builder := NewBuilder(NewBuilderParams{MaxTokens: 80})

	units, err := builder.Build("ep-1", segments, structureFor(common.Theme{
		Name:           "Long discussion",
		SegmentIndices: []int{0, 1, 2},
	}))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(units) < 2 {
		t.Fatalf("Build() units = %d, want oversized span split into several", len(units))
	}
	for i, u := range units {
		if u.Index != i {
			t.Errorf("unit %d has index %d", i, u.Index)
		}
		if u.Themes[0] != "Long discussion" {
			t.Errorf("unit %d theme = %q", i, u.Themes[0])
		}
	}
}
