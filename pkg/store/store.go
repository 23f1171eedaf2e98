// Package store persists episode graphs. The Writer drives a GraphStorage
// backend with retries and all-or-nothing episode semantics; the neo4j
// subpackage provides the production backend.
package store

import (
	"context"

	"podgraph/pkg/common"
)

// GraphStorage defines the operations the pipeline needs from a property
// graph backend. All create operations must be idempotent so a retried or
// resumed episode never duplicates nodes or edges.
type GraphStorage interface {
	CreateEpisode(ctx context.Context, episode common.Episode) error
	CreateMeaningfulUnit(ctx context.Context, unit common.MeaningfulUnit) error

	// CreateEntity links the entity to its episode with a MENTIONED_IN edge
	// carrying the extraction confidence.
	CreateEntity(ctx context.Context, episodeID string, entity common.Entity) error

	// CreateQuote and CreateInsight link each node both to the unit it was
	// extracted from and to the episode it belongs to.
	CreateQuote(ctx context.Context, quote common.Quote) error
	CreateInsight(ctx context.Context, insight common.Insight) error

	CreateSentiment(ctx context.Context, sentiment common.SentimentResult) error
	CreateRelationship(ctx context.Context, relationship common.Relationship) error

	// DeleteEpisodeGraph removes every node and edge written for the
	// episode. Used to roll back a partially written episode.
	DeleteEpisodeGraph(ctx context.Context, episodeID string) error

	Close(ctx context.Context) error
}
