// Package results persists a bounded, most-recent-first history of job results.
package results

import (
	"context"
	"errors"
	"fmt"

	"github.com/jordanhubbard/ensemble/pkg/config"
	"github.com/jordanhubbard/ensemble/pkg/models"
)

// ErrPersist marks a failure to write results. Callers still hold the
// in-memory results when they see it.
var ErrPersist = errors.New("failed to persist job results")

// Store is append-only, size-bounded persistence of job results.
type Store interface {
	// Append prepends results, which must already be most-recent-first, and
	// trims the history to the store's maximum.
	Append(ctx context.Context, results []models.JobResult) error
	// ReadAll returns the history most-recent-first, or an empty list when
	// the backing store is absent or unreadable.
	ReadAll(ctx context.Context) []models.JobResult
}

// New builds the store selected by cfg.Backend.
func New(ctx context.Context, cfg config.ResultsConfig) (Store, error) {
	max := cfg.MaxResults
	if max <= 0 {
		max = models.MaxResults
	}
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Path, max), nil
	case "redis":
		return NewRedisStore(ctx, cfg.RedisURL, cfg.RedisKey, max)
	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN, max)
	default:
		return nil, fmt.Errorf("unknown results backend %q", cfg.Backend)
	}
}

// merge returns fresh followed by existing, truncated to max.
func merge(fresh, existing []models.JobResult, max int) []models.JobResult {
	out := make([]models.JobResult, 0, len(fresh)+len(existing))
	out = append(out, fresh...)
	out = append(out, existing...)
	if len(out) > max {
		out = out[:max]
	}
	return out
}
