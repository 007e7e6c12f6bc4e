// File: concurrency.go

package tokenizer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
)

// ConcurrencyPolicy limits the live sessions of an owner. It runs on
// AccessTokenCreated and revokes the sibling records the new token
// supersedes.
//
// Single-platform mode keeps only the created record and anything newer. Multi-platform mode
// keeps the newest record of every platform, and never evicts records of
// the platforms listed in MultiPlatformTokens.
type ConcurrencyPolicy struct {
	cfg        ConcurrencyConfig
	store      TokenStore
	dispatcher Dispatcher
	clock      Clock
	logger     *slog.Logger
}

// NewConcurrencyPolicy creates a policy. dispatcher receives the
// AccessTokenRevoked events of evicted records and may be nil.
func NewConcurrencyPolicy(cfg ConcurrencyConfig, store TokenStore, dispatcher Dispatcher, clock Clock, logger *slog.Logger) *ConcurrencyPolicy {
	if clock == nil {
		clock = RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConcurrencyPolicy{
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		clock:      clock,
		logger:     logger,
	}
}

func (p *ConcurrencyPolicy) Handle(ctx context.Context, event Event) error {
	created, ok := event.(*AccessTokenCreated)
	if !ok || !p.cfg.Enabled {
		return nil
	}
	_, err := p.Enforce(ctx, created.Record, created.Subject)
	return err
}

// Enforce revokes the records of created's owner that it supersedes and
// returns them.
func (p *ConcurrencyPolicy) Enforce(ctx context.Context, created *TokenRecord, subject Subject) ([]*TokenRecord, error) {
	if created == nil {
		return nil, nil
	}

	records, err := p.store.ListLive(ctx, created.OwnerType, created.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list owner tokens: %w", err)
	}

	var evicted []*TokenRecord
	for _, record := range p.victims(created, records) {
		if err := ctx.Err(); err != nil {
			return evicted, err
		}

		deleted, err := p.store.SoftDelete(ctx, record.ID, p.clock.Now().UTC())
		if err != nil {
			return evicted, fmt.Errorf("failed to evict token %d: %w", record.ID, err)
		}
		if !deleted {
			continue
		}

		now := p.clock.Now().UTC()
		record.DeletedAt = &now
		evicted = append(evicted, record)
		if p.dispatcher != nil {
			p.dispatcher.Dispatch(ctx, &AccessTokenRevoked{Record: record, Subject: subject})
		}
	}

	if len(evicted) > 0 {
		p.logger.Info("evicted concurrent tokens",
			"owner_type", created.OwnerType,
			"owner_id", created.OwnerID,
			"count", len(evicted),
		)
	}
	return evicted, nil
}

// victims selects the records to evict from the live records of an owner.
func (p *ConcurrencyPolicy) victims(created *TokenRecord, records []*TokenRecord) []*TokenRecord {
	var out []*TokenRecord

	// ids grow with creation time; a late event never evicts a newer token
	if !p.cfg.AllowMultiPlatforms {
		for _, record := range records {
			if record.ID < created.ID {
				out = append(out, record)
			}
		}
		return out
	}

	latest := make(map[string]uint64)
	for _, record := range records {
		if record.ID > latest[record.Platform] {
			latest[record.Platform] = record.ID
		}
	}
	for _, record := range records {
		if record.ID == latest[record.Platform] {
			continue
		}
		if slices.Contains(p.cfg.MultiPlatformTokens, record.Platform) {
			continue
		}
		out = append(out, record)
	}
	return out
}
