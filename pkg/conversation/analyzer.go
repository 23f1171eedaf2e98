package conversation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"podgraph/internal/util"
	"podgraph/pkg/ai"
	"podgraph/pkg/common"
	"podgraph/pkg/logger"
)

// AnalysisError means no usable conversation structure could be produced for
// an episode. Defective indices alone never cause it; they are filtered.
type AnalysisError struct {
	EpisodeID string
	Err       error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("conversation analysis failed for episode %s: %v", e.EpisodeID, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

const maxSegmentExcerpt = 240

// Analyzer finds topic boundaries across an episode's segments and groups
// them into themes. The resulting structure is consumed by unit building and
// recomputed on resume; it is never checkpointed.
type Analyzer struct {
	aiClient   ai.TranscriptAIClient
	maxRetries int
}

func NewAnalyzer(aiClient ai.TranscriptAIClient, maxRetries int) *Analyzer {
	return &Analyzer{
		aiClient:   aiClient,
		maxRetries: maxRetries,
	}
}

type themeRecord struct {
	Name           string `json:"name" jsonschema_description:"Short specific name of the theme"`
	SegmentIndices []int  `json:"segment_indices" jsonschema_description:"Indices of segments belonging to this theme"`
}

type analysisResponse struct {
	Themes          []themeRecord `json:"themes" jsonschema_description:"Topical themes covering the conversation"`
	FlowDescription string        `json:"flow_description" jsonschema_description:"How the conversation moves between themes"`
}

// Analyze produces the theme grouping for an episode. Before returning, every
// theme's segment indices are validated against [0, len(segments)-1]:
// out-of-range indices from the model are dropped with a warning, never
// propagated and never fatal on their own.
func (a *Analyzer) Analyze(ctx context.Context, episodeID string, segments []common.Segment) (*common.ConversationStructure, error) {
	if len(segments) == 0 {
		return nil, &AnalysisError{EpisodeID: episodeID, Err: fmt.Errorf("no segments to analyze")}
	}

	var listing strings.Builder
	for idx, segment := range segments {
		text := segment.Text
		if len(text) > maxSegmentExcerpt {
			text = text[:maxSegmentExcerpt] + "…"
		}
		fmt.Fprintf(&listing, "[%d] %s: %s\n", idx, segment.Speaker, text)
	}

	prompt := fmt.Sprintf(ai.ConversationPrompt, listing.String())

	var res analysisResponse
	err := util.RetryErrWithContext(ctx, a.maxRetries, func(ctx context.Context) error {
		return a.aiClient.GenerateCompletionWithFormat(
			ctx,
			"analyze_conversation",
			"Group podcast transcript segments into topical themes.",
			prompt,
			&res,
		)
	})
	if err != nil {
		return nil, &AnalysisError{EpisodeID: episodeID, Err: err}
	}

	structure := &common.ConversationStructure{
		Themes:          sanitizeThemes(episodeID, res.Themes, len(segments)),
		FlowDescription: strings.TrimSpace(res.FlowDescription),
	}

	if len(structure.Themes) == 0 {
		return nil, &AnalysisError{EpisodeID: episodeID, Err: fmt.Errorf("no valid themes remained after validation")}
	}

	return structure, nil
}

// sanitizeThemes drops out-of-range and duplicate indices and discards themes
// with no surviving segments. Indices are returned sorted ascending.
func sanitizeThemes(episodeID string, records []themeRecord, segmentCount int) []common.Theme {
	themes := make([]common.Theme, 0, len(records))

	for _, record := range records {
		name := strings.TrimSpace(record.Name)
		if name == "" {
			logger.Warn("[Conversation] Dropping unnamed theme", "episode_id", episodeID)
			continue
		}

		seen := make(map[int]bool, len(record.SegmentIndices))
		indices := make([]int, 0, len(record.SegmentIndices))
		dropped := 0
		for _, idx := range record.SegmentIndices {
			if idx < 0 || idx >= segmentCount {
				dropped++
				continue
			}
			if seen[idx] {
				continue
			}
			seen[idx] = true
			indices = append(indices, idx)
		}
		if dropped > 0 {
			logger.Warn("[Conversation] Dropped out-of-range segment indices",
				"episode_id", episodeID, "theme", name, "dropped", dropped)
		}
		if len(indices) == 0 {
			logger.Warn("[Conversation] Dropping theme with no valid segments",
				"episode_id", episodeID, "theme", name)
			continue
		}
		sort.Ints(indices)

		themes = append(themes, common.Theme{
			Name:           name,
			SegmentIndices: indices,
		})
	}

	return themes
}
