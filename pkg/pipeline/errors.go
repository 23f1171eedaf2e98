package pipeline

import (
	"fmt"

	"podgraph/pkg/checkpoint"
)

// PhaseError marks an episode failure with the phase that caused it. The
// wrapped error keeps its own type, so callers can still errors.As into
// extraction.ExtractionError, store.StorageError and the rest.
type PhaseError struct {
	EpisodeID string
	Phase     checkpoint.Phase
	Err       error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("episode %s failed during %s: %v", e.EpisodeID, e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}
