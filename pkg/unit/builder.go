package unit

import (
	"fmt"
	"math"
	"strings"

	"podgraph/pkg/common"
	"podgraph/pkg/logger"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkoukk/tiktoken-go"
)

// Builder materializes MeaningfulUnits from the analyzer's theme spans.
// Spans whose text exceeds the token budget are split on segment boundaries
// so no single unit overflows the extraction model's context.
type Builder struct {
	tokenEncoder string
	maxTokens    int
}

// NewBuilderParams configures unit construction. TokenEncoder names a
// tiktoken encoding; MaxTokens caps the unit text size.
type NewBuilderParams struct {
	TokenEncoder string
	MaxTokens    int
}

func NewBuilder(params NewBuilderParams) *Builder {
	encoder := params.TokenEncoder
	if encoder == "" {
		encoder = "o200k_base"
	}
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return &Builder{
		tokenEncoder: encoder,
		maxTokens:    maxTokens,
	}
}

// Build turns each theme span into one or more MeaningfulUnits. Units with no
// speaking time are dropped with a warning. Every returned unit's speaker
// distribution sums to exactly 100.0.
func (b *Builder) Build(
	episodeID string,
	segments []common.Segment,
	structure *common.ConversationStructure,
) ([]common.MeaningfulUnit, error) {
	enc, err := tiktoken.GetEncoding(b.tokenEncoder)
	if err != nil {
		return nil, fmt.Errorf("failed to load token encoder %q: %w", b.tokenEncoder, err)
	}

	units := make([]common.MeaningfulUnit, 0, len(structure.Themes))

	for _, theme := range structure.Themes {
		span := make([]common.Segment, 0, len(theme.SegmentIndices))
		for _, idx := range theme.SegmentIndices {
			span = append(span, segments[idx])
		}

		for _, chunk := range b.splitSpan(enc, span) {
			built, ok := b.buildUnit(episodeID, len(units), chunk, theme.Name)
			if !ok {
				continue
			}
			units = append(units, built)
		}
	}

	if len(units) == 0 {
		return nil, fmt.Errorf("no meaningful units could be built for episode %s", episodeID)
	}

	return units, nil
}

// splitSpan greedily packs consecutive segments into chunks that stay under
// the token budget. A single oversized segment still becomes its own chunk.
func (b *Builder) splitSpan(enc *tiktoken.Tiktoken, span []common.Segment) [][]common.Segment {
	var chunks [][]common.Segment
	var current []common.Segment
	currentTokens := 0

	for _, segment := range span {
		segmentTokens := len(enc.Encode(renderSegment(segment), nil, nil)) + 1
		if currentTokens+segmentTokens > b.maxTokens && len(current) > 0 {
			chunks = append(chunks, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, segment)
		currentTokens += segmentTokens
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}

	return chunks
}

func (b *Builder) buildUnit(episodeID string, index int, span []common.Segment, theme string) (common.MeaningfulUnit, bool) {
	distribution := speakerDistribution(span)
	if distribution == nil {
		logger.Warn("[Unit] Dropping zero-duration unit", "episode_id", episodeID, "theme", theme)
		return common.MeaningfulUnit{}, false
	}

	id, err := gonanoid.New()
	if err != nil {
		logger.Warn("[Unit] Failed to generate unit ID, dropping unit", "episode_id", episodeID, "err", err)
		return common.MeaningfulUnit{}, false
	}

	var text strings.Builder
	start := span[0].Start
	end := span[0].End
	for i, segment := range span {
		if i > 0 {
			text.WriteString("\n")
		}
		text.WriteString(renderSegment(segment))
		if segment.Start < start {
			start = segment.Start
		}
		if segment.End > end {
			end = segment.End
		}
	}

	unitType := "dialogue"
	if len(distribution) == 1 {
		unitType = "monologue"
	}

	return common.MeaningfulUnit{
		ID:                  id,
		EpisodeID:           episodeID,
		Index:               index,
		Text:                text.String(),
		Start:               start,
		End:                 end,
		SpeakerDistribution: distribution,
		Themes:              []string{theme},
		UnitType:            unitType,
	}, true
}

func renderSegment(segment common.Segment) string {
	if segment.Speaker == "" {
		return segment.Text
	}
	return segment.Speaker + ": " + segment.Text
}

// speakerDistribution sums speaking time per speaker and converts to
// percentages. Each bucket is rounded to one decimal and the largest bucket
// absorbs the rounding remainder so the values sum to exactly 100.0.
// Returns nil when the span has no speaking time at all.
func speakerDistribution(span []common.Segment) map[string]float64 {
	durations := make(map[string]float64)
	total := 0.0
	for _, segment := range span {
		d := segment.Duration()
		if d <= 0 {
			continue
		}
		speaker := segment.Speaker
		if speaker == "" {
			speaker = "Unknown"
		}
		durations[speaker] += d
		total += d
	}
	if total <= 0 || len(durations) == 0 {
		return nil
	}

	distribution := make(map[string]float64, len(durations))
	largest := ""
	largestShare := -1.0
	for speaker, duration := range durations {
		share := math.Round(duration/total*1000) / 10
		distribution[speaker] = share
		if duration > largestShare {
			largestShare = duration
			largest = speaker
		}
	}

	othersSum := 0.0
	for speaker, share := range distribution {
		if speaker != largest {
			othersSum += share
		}
	}
	distribution[largest] = 100.0 - othersSum

	return distribution
}
