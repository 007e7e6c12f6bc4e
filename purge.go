// File: purge.go

package tokenizer

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultPurgeHours     = 168
	DefaultPurgeBatchSize = 100
)

// PurgeOptions selects what Purge hard-deletes. When neither Revoked nor
// Expired is set both are purged.
type PurgeOptions struct {
	Revoked   bool
	Expired   bool
	Hours     int
	BatchSize int
}

// PurgeResult summarizes a purge run.
type PurgeResult struct {
	Deleted int
	Batches int
}

// Purger hard-deletes revoked and long-expired token records.
type Purger struct {
	store  TokenStore
	clock  Clock
	logger *slog.Logger
}

func NewPurger(store TokenStore, clock Clock, logger *slog.Logger) *Purger {
	if clock == nil {
		clock = RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Purger{store: store, clock: clock, logger: logger}
}

// Purge deletes matching records batch by batch until a batch comes back
// short of the batch size.
func (p *Purger) Purge(ctx context.Context, opts PurgeOptions) (PurgeResult, error) {
	if !opts.Revoked && !opts.Expired {
		opts.Revoked = true
		opts.Expired = true
	}
	if opts.Hours <= 0 {
		opts.Hours = DefaultPurgeHours
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultPurgeBatchSize
	}

	criteria := PurgeCriteria{
		Revoked:       opts.Revoked,
		Expired:       opts.Expired,
		ExpiredBefore: p.clock.Now().UTC().Add(-time.Duration(opts.Hours) * time.Hour),
	}

	var result PurgeResult
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		n, err := p.store.PurgeBatch(ctx, criteria, opts.BatchSize)
		if err != nil {
			return result, fmt.Errorf("failed to purge tokens: %w", err)
		}
		result.Deleted += n
		result.Batches++

		if n < opts.BatchSize {
			break
		}
	}

	p.logger.Info("purged tokens",
		"revoked", opts.Revoked,
		"expired", opts.Expired,
		"hours", opts.Hours,
		"deleted", result.Deleted,
	)
	return result, nil
}
