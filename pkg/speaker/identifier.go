package speaker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"podgraph/internal/util"
	"podgraph/pkg/ai"
	"podgraph/pkg/common"
	"podgraph/pkg/logger"
)

// IdentificationError is fatal for the episode: when speakers cannot be
// resolved the episode is rejected without partial data.
type IdentificationError struct {
	EpisodeID string
	Err       error
}

func (e *IdentificationError) Error() string {
	return fmt.Sprintf("speaker identification failed for episode %s: %v", e.EpisodeID, e.Err)
}

func (e *IdentificationError) Unwrap() error {
	return e.Err
}

const assignmentBatchSize = 80

// Identifier assigns speaker labels to the segments of a single episode.
//
// The label cache is scoped to one episode by construction: an Identifier is
// created fresh for an episode and discarded when the episode completes, so
// labels from one transcript can never leak into another. The cache is
// mutex-guarded because extraction workers consult it concurrently when
// normalizing quote attribution.
type Identifier struct {
	episodeID  string
	aiClient   ai.TranscriptAIClient
	maxRetries int

	mu    sync.Mutex
	cache map[string]string // normalized label -> canonical label
	known []string          // canonical labels in first-seen order
}

// NewIdentifier creates an identifier for exactly one episode.
func NewIdentifier(episodeID string, aiClient ai.TranscriptAIClient, maxRetries int) *Identifier {
	return &Identifier{
		episodeID:  episodeID,
		aiClient:   aiClient,
		maxRetries: maxRetries,
		cache:      make(map[string]string),
	}
}

// Reset clears the label cache. Called before the first segment of the
// episode is processed; the pipeline discards the whole Identifier afterwards.
func (i *Identifier) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cache = make(map[string]string)
	i.known = nil
}

// Identify returns a copy of the segments with a speaker label on every one.
// Inline labels from the transcript are canonicalized first; untagged
// segments are resolved with batched model calls. Any label the model
// proposes is accepted, generic ones included; upgrading generic labels is
// downstream work, not this component's.
func (i *Identifier) Identify(ctx context.Context, segments []common.Segment) ([]common.Segment, error) {
	i.Reset()

	resolved := make([]common.Segment, len(segments))
	copy(resolved, segments)

	var untagged []int
	for idx := range resolved {
		if strings.TrimSpace(resolved[idx].Speaker) == "" {
			untagged = append(untagged, idx)
			continue
		}
		resolved[idx].Speaker = i.Canonical(resolved[idx].Speaker)
	}

	if len(untagged) == 0 {
		return resolved, nil
	}

	for start := 0; start < len(untagged); start += assignmentBatchSize {
		end := min(start+assignmentBatchSize, len(untagged))
		if err := i.assignBatch(ctx, resolved, untagged[start:end]); err != nil {
			return nil, &IdentificationError{EpisodeID: i.episodeID, Err: err}
		}
	}

	// Whatever the model left unassigned continues the previous speaker.
	lastSeen := ""
	for idx := range resolved {
		if strings.TrimSpace(resolved[idx].Speaker) == "" {
			if lastSeen == "" {
				lastSeen = i.Canonical("Speaker 1")
			}
			resolved[idx].Speaker = lastSeen
			continue
		}
		lastSeen = resolved[idx].Speaker
	}

	return resolved, nil
}

type speakerAssignment struct {
	SegmentIndex int    `json:"segment_index" jsonschema_description:"Index of the segment this assignment applies to"`
	Speaker      string `json:"speaker" jsonschema_description:"Speaker label for the segment"`
}

type assignmentResponse struct {
	Assignments []speakerAssignment `json:"assignments" jsonschema_description:"Speaker assignments for the unlabeled segments"`
}

func (i *Identifier) assignBatch(ctx context.Context, segments []common.Segment, indices []int) error {
	var listing strings.Builder
	for _, idx := range indices {
		contextLabel := segments[idx].Speaker
		if contextLabel == "" {
			contextLabel = "?"
		}
		fmt.Fprintf(&listing, "[%d] (%s) %s\n", idx, contextLabel, segments[idx].Text)
	}

	prompt := fmt.Sprintf(ai.SpeakerPrompt, strings.Join(i.Known(), ", "), listing.String())

	var res assignmentResponse
	err := util.RetryErrWithContext(ctx, i.maxRetries, func(ctx context.Context) error {
		return i.aiClient.GenerateCompletionWithFormat(
			ctx,
			"assign_speakers",
			"Assign a speaker label to each unlabeled transcript segment.",
			prompt,
			&res,
		)
	})
	if err != nil {
		return err
	}

	valid := make(map[int]bool, len(indices))
	for _, idx := range indices {
		valid[idx] = true
	}

	for _, assignment := range res.Assignments {
		if !valid[assignment.SegmentIndex] {
			logger.Warn("[Speaker] Dropping assignment for unknown segment index",
				"episode_id", i.episodeID, "index", assignment.SegmentIndex)
			continue
		}
		label := strings.TrimSpace(assignment.Speaker)
		if label == "" {
			continue
		}
		segments[assignment.SegmentIndex].Speaker = i.Canonical(label)
	}

	return nil
}

// Canonical maps a raw label to the episode's canonical form for it,
// registering the label on first sight. Matching is case- and
// whitespace-insensitive; the first spelling seen wins.
func (i *Identifier) Canonical(label string) string {
	cleaned := strings.Join(strings.Fields(label), " ")
	if cleaned == "" {
		return ""
	}
	key := strings.ToLower(cleaned)

	i.mu.Lock()
	defer i.mu.Unlock()

	if canonical, ok := i.cache[key]; ok {
		return canonical
	}
	i.cache[key] = cleaned
	i.known = append(i.known, cleaned)
	return cleaned
}

// Known returns the canonical labels seen so far, in first-seen order.
func (i *Identifier) Known() []string {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make([]string, len(i.known))
	copy(out, i.known)
	return out
}
