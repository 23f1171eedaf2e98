package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"podgraph/pkg/common"
	"podgraph/pkg/logger"
)

const (
	defaultMaxRetries      = 3
	defaultInitialInterval = 500 * time.Millisecond
)

// StorageError wraps a persistence failure with the episode and the
// operation that exhausted its retries.
type StorageError struct {
	EpisodeID string
	Op        string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storing episode %s failed at %s: %v", e.EpisodeID, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Writer persists complete episode graphs. Each backend call is retried
// with exponential backoff; when an operation still fails, everything
// already written for the episode is rolled back so a failed episode leaves
// no partial graph behind.
type Writer struct {
	storage    GraphStorage
	maxRetries uint64
}

func NewWriter(storage GraphStorage) *Writer {
	return &Writer{storage: storage, maxRetries: defaultMaxRetries}
}

// WriteEpisode persists the full graph for one episode: the episode node,
// its units, entities, quotes, insights, sentiments and relationships, in
// dependency order so every edge target exists before the edge.
func (w *Writer) WriteEpisode(ctx context.Context, graph *common.EpisodeGraph) error {
	episodeID := graph.Episode.ID

	write := func(op string, fn func(context.Context) error) error {
		if err := w.retry(ctx, fn); err != nil {
			return w.rollback(ctx, episodeID, op, err)
		}
		return nil
	}

	if err := write("create_episode", func(ctx context.Context) error {
		return w.storage.CreateEpisode(ctx, graph.Episode)
	}); err != nil {
		return err
	}

	for _, unit := range graph.Units {
		if err := write("create_unit", func(ctx context.Context) error {
			return w.storage.CreateMeaningfulUnit(ctx, unit)
		}); err != nil {
			return err
		}
	}
	for _, entity := range graph.Entities {
		if err := write("create_entity", func(ctx context.Context) error {
			return w.storage.CreateEntity(ctx, episodeID, entity)
		}); err != nil {
			return err
		}
	}
	for _, quote := range graph.Quotes {
		if err := write("create_quote", func(ctx context.Context) error {
			return w.storage.CreateQuote(ctx, quote)
		}); err != nil {
			return err
		}
	}
	for _, insight := range graph.Insights {
		if err := write("create_insight", func(ctx context.Context) error {
			return w.storage.CreateInsight(ctx, insight)
		}); err != nil {
			return err
		}
	}
	for _, sentiment := range graph.Sentiments {
		if err := write("create_sentiment", func(ctx context.Context) error {
			return w.storage.CreateSentiment(ctx, sentiment)
		}); err != nil {
			return err
		}
	}
	for _, relationship := range graph.Relationships {
		if err := write("create_relationship", func(ctx context.Context) error {
			return w.storage.CreateRelationship(ctx, relationship)
		}); err != nil {
			return err
		}
	}

	logger.Info("episode graph stored",
		"episode", episodeID,
		"units", len(graph.Units),
		"entities", len(graph.Entities),
		"quotes", len(graph.Quotes),
		"insights", len(graph.Insights),
		"relationships", len(graph.Relationships))
	return nil
}

func (w *Writer) retry(ctx context.Context, fn func(context.Context) error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(newExponential(), w.maxRetries),
		ctx,
	)
	return backoff.Retry(func() error { return fn(ctx) }, policy)
}

// rollback removes whatever was written for the episode before the failing
// operation. The delete itself is retried; if it also fails the orphaned
// subgraph is reported so an operator can clean it up.
func (w *Writer) rollback(ctx context.Context, episodeID, op string, cause error) error {
	logger.Warn("rolling back partially stored episode", "episode", episodeID, "failed_op", op, "error", cause)
	if err := w.retry(ctx, func(ctx context.Context) error {
		return w.storage.DeleteEpisodeGraph(ctx, episodeID)
	}); err != nil {
		logger.Error("rollback failed, episode subgraph may be orphaned", "episode", episodeID, "error", err)
	}
	return &StorageError{EpisodeID: episodeID, Op: op, Err: cause}
}

func newExponential() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultInitialInterval
	return b
}
