package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/example/appauth/internal/metrics"
	"github.com/example/appauth/internal/store"
)

const DefaultPruneBatchSize = 100

// PruneOptions selects tokens for deletion.
type PruneOptions struct {
	// OlderThan is the grace period: tokens expired, or revoked, for less than this are kept.
	OlderThan time.Duration
	// IncludeInactive also removes revoked tokens last updated before the cutoff.
	IncludeInactive bool
	BatchSize       int
	DryRun          bool
}

// PruneResult reports what was (or, in a dry run, would be) deleted.
type PruneResult struct {
	Cutoff   time.Time `json:"cutoff"`
	Expired  int64     `json:"expired"`
	Inactive int64     `json:"inactive"`
	DryRun   bool      `json:"dry_run"`
}

// Total is the number of tokens removed.
func (r PruneResult) Total() int64 { return r.Expired + r.Inactive }

// Prune deletes expired (and optionally inactive) tokens in bounded batches.
// Each batch is its own statement so a long prune never holds a large lock.
// Re-running after a partial failure is safe.
func (s *Service) Prune(ctx context.Context, o PruneOptions) (PruneResult, error) {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultPruneBatchSize
	}
	cutoff := s.now().Add(-o.OlderThan)
	res := PruneResult{Cutoff: cutoff, DryRun: o.DryRun}

	expired := store.TokenFilter{ExpiresBefore: cutoff}
	inactive := store.TokenFilter{Active: store.Bool(false), UpdatedBefore: cutoff}

	if o.DryRun {
		n, err := s.store.CountTokens(ctx, expired)
		if err != nil {
			return res, fmt.Errorf("counting expired tokens: %w", err)
		}
		res.Expired = int64(n)
		if o.IncludeInactive {
			all, err := s.store.CountTokens(ctx, inactive)
			if err != nil {
				return res, fmt.Errorf("counting inactive tokens: %w", err)
			}
			both := inactive
			both.ExpiresBefore = cutoff
			overlap, err := s.store.CountTokens(ctx, both)
			if err != nil {
				return res, fmt.Errorf("counting inactive tokens: %w", err)
			}
			res.Inactive = int64(all - overlap)
		}
		return res, nil
	}

	var err error
	if res.Expired, err = s.deleteBatched(ctx, expired, o.BatchSize); err != nil {
		return res, fmt.Errorf("pruning expired tokens: %w", err)
	}
	if o.IncludeInactive {
		if res.Inactive, err = s.deleteBatched(ctx, inactive, o.BatchSize); err != nil {
			return res, fmt.Errorf("pruning inactive tokens: %w", err)
		}
	}
	log.Info().Time("cutoff", cutoff).Int64("expired", res.Expired).Int64("inactive", res.Inactive).Msg("tokens pruned")
	return res, nil
}

func (s *Service) deleteBatched(ctx context.Context, f store.TokenFilter, batch int) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.store.DeleteTokens(ctx, f, batch)
		if err != nil {
			return total, err
		}
		total += n
		metrics.TokensPrunedTotal.Add(float64(n))
		if n < int64(batch) {
			return total, nil
		}
		log.Debug().Int64("deleted", total).Msg("prune batch complete")
	}
}
