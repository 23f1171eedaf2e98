// Package checkpoint persists per-episode pipeline progress so that an
// interrupted run can resume after the last completed phase instead of
// starting over. One JSON file per episode, written atomically.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"podgraph/pkg/common"
)

// Phase names a stage of the episode pipeline. Phases are strictly ordered;
// a checkpoint records the last phase that ran to completion.
type Phase string

const (
	PhaseParsing              Phase = "PARSING"
	PhaseSpeakerID            Phase = "SPEAKER_ID"
	PhaseConversationAnalysis Phase = "CONVERSATION_ANALYSIS"
	PhaseUnitBuilding         Phase = "UNIT_BUILDING"
	PhaseExtraction           Phase = "EXTRACTION"
	PhaseResolution           Phase = "RESOLUTION"
	PhaseStorage              Phase = "STORAGE"
	PhaseDone                 Phase = "DONE"
)

var phaseOrder = []Phase{
	PhaseParsing,
	PhaseSpeakerID,
	PhaseConversationAnalysis,
	PhaseUnitBuilding,
	PhaseExtraction,
	PhaseResolution,
	PhaseStorage,
	PhaseDone,
}

// Index returns the position of p in the pipeline order, or -1 for an
// unknown phase. Unknown phases come from hand-edited or stale checkpoint
// files and are treated as "no progress".
func (p Phase) Index() int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}

// Covers reports whether a checkpoint at phase p means the given phase has
// already completed.
func (p Phase) Covers(other Phase) bool {
	pi, oi := p.Index(), other.Index()
	return pi >= 0 && oi >= 0 && pi >= oi
}

// PhaseResults holds the serializable outputs of completed phases. Only the
// fields for phases that have actually run are populated. Derived state that
// is cheap to recompute, like the conversation structure, is intentionally
// not stored.
type PhaseResults struct {
	Episode     *common.Episode         `json:"episode,omitempty"`
	Segments    []common.Segment        `json:"segments,omitempty"`
	Speakers    []string                `json:"speakers,omitempty"`
	Units       []common.MeaningfulUnit `json:"units,omitempty"`
	Extractions []common.UnitExtraction `json:"extractions,omitempty"`
	Graph       *common.EpisodeGraph    `json:"graph,omitempty"`
}

// Checkpoint is the on-disk record for one episode.
type Checkpoint struct {
	EpisodeID          string            `json:"episode_id"`
	LastCompletedPhase Phase             `json:"last_completed_phase"`
	Results            PhaseResults      `json:"results"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Manager reads and writes checkpoint files under a single directory.
// Each episode gets its own file, so concurrent episodes never contend.
type Manager struct {
	dir string
}

func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

// Load returns the checkpoint for the given episode, or nil when none
// exists. A missing file is not an error; an unreadable or corrupt file is,
// so the caller can log it and start fresh.
func (m *Manager) Load(episodeID string) (*Checkpoint, error) {
	data, err := os.ReadFile(m.path(episodeID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading checkpoint for %s: %w", episodeID, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decoding checkpoint for %s: %w", episodeID, err)
	}
	if cp.EpisodeID != episodeID {
		return nil, fmt.Errorf("checkpoint episode mismatch: file for %s contains %s", episodeID, cp.EpisodeID)
	}
	if cp.LastCompletedPhase.Index() < 0 {
		return nil, fmt.Errorf("checkpoint for %s has unknown phase %q", episodeID, cp.LastCompletedPhase)
	}
	return &cp, nil
}

// Save writes the checkpoint atomically. The file is first written to a
// temporary path in the same directory and then renamed over the target, so
// a crash mid-write never leaves a torn checkpoint behind.
func (m *Manager) Save(cp *Checkpoint) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}

	cp.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encoding checkpoint for %s: %w", cp.EpisodeID, err)
	}

	target := m.path(cp.EpisodeID)
	tmp, err := os.CreateTemp(m.dir, filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp checkpoint for %s: %w", cp.EpisodeID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing checkpoint for %s: %w", cp.EpisodeID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing checkpoint for %s: %w", cp.EpisodeID, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing checkpoint for %s: %w", cp.EpisodeID, err)
	}
	return nil
}

// Delete removes the checkpoint for an episode. Deleting a checkpoint that
// does not exist is a no-op.
func (m *Manager) Delete(episodeID string) error {
	err := os.Remove(m.path(episodeID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting checkpoint for %s: %w", episodeID, err)
	}
	return nil
}

func (m *Manager) path(episodeID string) string {
	return filepath.Join(m.dir, sanitizeID(episodeID)+".json")
}

// sanitizeID maps an episode id onto a safe file name. Episode ids are
// slugs already, but transcripts with odd titles must not escape the
// checkpoint directory.
func sanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "episode"
	}
	return b.String()
}
