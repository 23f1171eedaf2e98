// Package pipeline orchestrates the full episode flow: parse, identify
// speakers, analyze conversation structure, build meaningful units, extract
// knowledge, resolve duplicates and store the graph. Progress is
// checkpointed after every phase so interrupted episodes resume instead of
// restarting.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"podgraph/internal/util"
	"podgraph/pkg/ai"
	"podgraph/pkg/checkpoint"
	"podgraph/pkg/common"
	"podgraph/pkg/conversation"
	"podgraph/pkg/extraction"
	"podgraph/pkg/logger"
	"podgraph/pkg/resolve"
	"podgraph/pkg/speaker"
	"podgraph/pkg/store"
	"podgraph/pkg/transcript"
	"podgraph/pkg/unit"
)

// Status summarizes how an episode run ended.
type Status string

const (
	StatusCompleted             Status = "completed"
	StatusCompletedWithWarnings Status = "completed_with_warnings"
	StatusFailed                Status = "failed"
)

// Result reports what one episode run produced.
type Result struct {
	EpisodeID     string
	Status        Status
	Resumed       bool
	Units         int
	Entities      int
	Quotes        int
	Insights      int
	Relationships int
	FailedUnits   int
	TimedOutUnits int
	Metrics       ai.ModelMetrics
}

// Config bounds a pipeline. Zero values fall back to component defaults.
type Config struct {
	CheckpointDir string
	Concurrency   int
	UnitTimeout   time.Duration
	MaxRetries    int
	MaxUnitTokens int
}

// Pipeline processes transcripts end to end against one AI client and one
// graph storage backend. A Pipeline is safe to reuse across episodes; all
// per-episode state lives in locals and in the checkpoint files.
type Pipeline struct {
	aiClient    ai.TranscriptAIClient
	analyzer    *conversation.Analyzer
	builder     *unit.Builder
	extractor   *extraction.Extractor
	writer      *store.Writer
	checkpoints *checkpoint.Manager
	maxRetries  int
}

func New(aiClient ai.TranscriptAIClient, storage store.GraphStorage, cfg Config) *Pipeline {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	dir := cfg.CheckpointDir
	if dir == "" {
		dir = "checkpoints"
	}
	return &Pipeline{
		aiClient: aiClient,
		analyzer: conversation.NewAnalyzer(aiClient, maxRetries),
		builder:  unit.NewBuilder(unit.NewBuilderParams{MaxTokens: cfg.MaxUnitTokens}),
		extractor: extraction.NewExtractor(aiClient, extraction.Config{
			Concurrency: cfg.Concurrency,
			UnitTimeout: cfg.UnitTimeout,
			MaxRetries:  maxRetries,
		}),
		writer:      store.NewWriter(storage),
		checkpoints: checkpoint.NewManager(dir),
		maxRetries:  maxRetries,
	}
}

// ProcessTranscript runs one VTT transcript through the whole pipeline.
// filename is used for the episode id when the transcript metadata carries
// no title. The returned Result is non-nil even on failure.
func (p *Pipeline) ProcessTranscript(ctx context.Context, filename, content string) (*Result, error) {
	p.aiClient.ResetMetrics()

	// The episode id comes from the metadata header alone, so a resumable
	// episode is recognized before any cue parsing happens. A checkpoint that
	// covers PARSING skips the parser entirely, even when the cues themselves
	// have become unreadable since the first attempt.
	meta := transcript.Metadata(content)
	episode := episodeFromMetadata(filename, meta)
	result := &Result{EpisodeID: episode.ID, Status: StatusFailed}

	cp := p.loadCheckpoint(episode.ID)
	if cp != nil {
		result.Resumed = true
		logger.Info("resuming episode from checkpoint",
			"episode", episode.ID, "last_completed_phase", cp.LastCompletedPhase)
	} else {
		cp = &checkpoint.Checkpoint{EpisodeID: episode.ID}
	}

	var segments []common.Segment
	if cp.LastCompletedPhase.Covers(checkpoint.PhaseParsing) && len(cp.Results.Segments) > 0 {
		segments = cp.Results.Segments
		if cp.Results.Episode != nil {
			episode = *cp.Results.Episode
		}
	} else {
		parsed, err := transcript.Parse(content)
		if err != nil {
			return p.fail(episode.ID, checkpoint.PhaseParsing, err)
		}
		episode = episodeFromMetadata(filename, parsed.Metadata)
		segments = parsed.Segments
		cp.Results.Episode = &episode
		cp.Results.Segments = segments
		p.saveCheckpoint(cp, checkpoint.PhaseParsing)
	}

	identifier := speaker.NewIdentifier(episode.ID, p.aiClient, p.maxRetries)
	if cp.LastCompletedPhase.Covers(checkpoint.PhaseSpeakerID) {
		// Segments in the checkpoint are already speaker-resolved; re-seed
		// the label cache so quote attribution still canonicalizes.
		for _, label := range cp.Results.Speakers {
			identifier.Canonical(label)
		}
	} else {
		var err error
		segments, err = identifier.Identify(ctx, segments)
		if err != nil {
			return p.fail(episode.ID, checkpoint.PhaseSpeakerID, err)
		}
		cp.Results.Segments = segments
		cp.Results.Speakers = identifier.Known()
		p.saveCheckpoint(cp, checkpoint.PhaseSpeakerID)
	}

	var units []common.MeaningfulUnit
	if cp.LastCompletedPhase.Covers(checkpoint.PhaseUnitBuilding) && len(cp.Results.Units) > 0 {
		units = cp.Results.Units
	} else {
		// The conversation structure is derived state and is never stored in
		// the checkpoint; a resume before UNIT_BUILDING recomputes it.
		structure, err := p.analyzer.Analyze(ctx, episode.ID, segments)
		if err != nil {
			return p.fail(episode.ID, checkpoint.PhaseConversationAnalysis, err)
		}
		if !cp.LastCompletedPhase.Covers(checkpoint.PhaseConversationAnalysis) {
			p.saveCheckpoint(cp, checkpoint.PhaseConversationAnalysis)
		}
		p.describeEpisode(ctx, &episode, structure)

		units, err = p.builder.Build(episode.ID, segments, structure)
		if err != nil {
			return p.fail(episode.ID, checkpoint.PhaseUnitBuilding, err)
		}
		cp.Results.Episode = &episode
		cp.Results.Units = units
		p.saveCheckpoint(cp, checkpoint.PhaseUnitBuilding)
	}
	result.Units = len(units)

	var extractions []common.UnitExtraction
	if cp.LastCompletedPhase.Covers(checkpoint.PhaseExtraction) && cp.Results.Extractions != nil {
		extractions = cp.Results.Extractions
	} else {
		var unitErrs []*extraction.UnitError
		var err error
		extractions, unitErrs, err = p.extractor.Extract(ctx, episode, units, identifier)
		result.FailedUnits = len(unitErrs)
		for _, ue := range unitErrs {
			if ue.Timeout {
				result.TimedOutUnits++
			}
		}
		if err != nil {
			return p.fail(episode.ID, checkpoint.PhaseExtraction, err)
		}
		cp.Results.Extractions = extractions
		p.saveCheckpoint(cp, checkpoint.PhaseExtraction)
	}

	var graph *common.EpisodeGraph
	if cp.LastCompletedPhase.Covers(checkpoint.PhaseResolution) && cp.Results.Graph != nil {
		graph = cp.Results.Graph
	} else {
		resolution := resolve.Resolve(episode.ID, extractions)
		graph = assembleGraph(episode, units, extractions, resolution)
		cp.Results.Graph = graph
		p.saveCheckpoint(cp, checkpoint.PhaseResolution)
	}
	result.Entities = len(graph.Entities)
	result.Quotes = len(graph.Quotes)
	result.Insights = len(graph.Insights)
	result.Relationships = len(graph.Relationships)

	if err := p.writer.WriteEpisode(ctx, graph); err != nil {
		return p.fail(episode.ID, checkpoint.PhaseStorage, err)
	}
	p.saveCheckpoint(cp, checkpoint.PhaseStorage)

	// The episode is durable now; the checkpoint has served its purpose.
	if err := p.checkpoints.Delete(episode.ID); err != nil {
		logger.Warn("failed to delete checkpoint", "episode", episode.ID, "error", err)
	}

	result.Status = StatusCompleted
	if result.FailedUnits > 0 {
		result.Status = StatusCompletedWithWarnings
	}
	result.Metrics = p.aiClient.GetMetrics()
	logger.Info("episode processed",
		"episode", episode.ID,
		"status", string(result.Status),
		"units", result.Units,
		"entities", result.Entities,
		"failed_units", result.FailedUnits)
	return result, nil
}

func (p *Pipeline) fail(episodeID string, phase checkpoint.Phase, err error) (*Result, error) {
	phaseErr := &PhaseError{EpisodeID: episodeID, Phase: phase, Err: err}
	logger.Error("episode failed", "episode", episodeID, "phase", string(phase), "error", err)
	return &Result{EpisodeID: episodeID, Status: StatusFailed}, phaseErr
}

// describeEpisode fills in a missing episode description from the analyzed
// conversation structure. Best effort: a failed model call leaves the
// description empty and never affects the run.
func (p *Pipeline) describeEpisode(ctx context.Context, episode *common.Episode, structure *common.ConversationStructure) {
	if episode.Description != "" || structure == nil || len(structure.Themes) == 0 {
		return
	}

	names := make([]string, 0, len(structure.Themes))
	for _, theme := range structure.Themes {
		names = append(names, theme.Name)
	}
	prompt := fmt.Sprintf(ai.DescribePrompt,
		episode.Title, strings.Join(names, ", "), structure.FlowDescription)

	description, err := util.RetryWithContext(ctx, p.maxRetries, func(callCtx context.Context) (string, error) {
		return p.aiClient.GenerateCompletion(callCtx, prompt)
	})
	if err != nil {
		logger.Warn("episode description generation failed",
			"episode", episode.ID, "error", err)
		return
	}
	episode.Description = strings.TrimSpace(description)
}

// loadCheckpoint returns nil both when no checkpoint exists and when the
// file is unreadable. A broken checkpoint costs a fresh run, not the episode.
func (p *Pipeline) loadCheckpoint(episodeID string) *checkpoint.Checkpoint {
	cp, err := p.checkpoints.Load(episodeID)
	if err != nil {
		logger.Warn("ignoring unreadable checkpoint", "episode", episodeID, "error", err)
		return nil
	}
	return cp
}

// saveCheckpoint advances the phase marker and persists. Checkpointing is
// an optimization; failures degrade resume, never the episode.
func (p *Pipeline) saveCheckpoint(cp *checkpoint.Checkpoint, phase checkpoint.Phase) {
	cp.LastCompletedPhase = phase
	if err := p.checkpoints.Save(cp); err != nil {
		logger.Warn("failed to save checkpoint",
			"episode", cp.EpisodeID, "phase", string(phase), "error", err)
	}
}

// assembleGraph flattens the per-unit extractions and the resolution into
// the episode graph handed to storage.
func assembleGraph(
	episode common.Episode,
	units []common.MeaningfulUnit,
	extractions []common.UnitExtraction,
	resolution *resolve.Resolution,
) *common.EpisodeGraph {
	graph := &common.EpisodeGraph{
		Episode:       episode,
		Units:         units,
		Entities:      resolution.Entities,
		Relationships: resolution.Relationships,
	}
	for _, ext := range extractions {
		graph.Quotes = append(graph.Quotes, ext.Quotes...)
		graph.Insights = append(graph.Insights, ext.Insights...)
		if ext.Sentiment != nil {
			graph.Sentiments = append(graph.Sentiments, *ext.Sentiment)
		}
	}
	return graph
}

func episodeFromMetadata(filename string, meta common.TranscriptMetadata) common.Episode {
	return common.Episode{
		ID:          EpisodeID(meta.EpisodeTitle, filename),
		Title:       meta.EpisodeTitle,
		Description: meta.Description,
		YoutubeURL:  meta.YoutubeURL,
		Podcast:     meta.PodcastName,
	}
}

// EpisodeID derives a stable slug for an episode, preferring the metadata
// title and falling back to the file name. Stability across re-runs is what
// makes resume and idempotent storage work.
func EpisodeID(title, filename string) string {
	source := strings.TrimSpace(title)
	if source == "" {
		base := filepath.Base(filename)
		source = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if slug := slugify(source); slug != "" {
		return slug
	}
	return "episode"
}

func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
