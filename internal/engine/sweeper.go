package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/walletwatch/geotrigger/internal/gate"
	"github.com/walletwatch/geotrigger/internal/metrics"
	"github.com/walletwatch/geotrigger/internal/store"
)

// SweepStore is the slice of the store the maintenance sweeper reconciles.
type SweepStore interface {
	HasSweepWork(ctx context.Context, retention time.Duration) (bool, error)
	RateLimitedOutcomes(ctx context.Context) ([]*store.ExecutionOutcome, error)
	GetRule(ctx context.Context, id int64) (*store.ExecutionRule, error)
	RateLimitCount(ctx context.Context, ruleID int64, wallet string, windowSeconds int) (int, error)
	RewriteOutcomeSkip(ctx context.Context, outcomeID int64, reason store.SkipReason) error
	PurgeExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// Sweeper is the independent periodic reconciler: it re-evaluates
// rate-limited outcomes whose window has since cleared and applies the
// retention policy to aged terminal updates. It only touches terminal-ish
// rows, so it may interleave freely with a matching cycle.
type Sweeper struct {
	store     SweepStore
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
}

// NewSweeper wires a Sweeper.
func NewSweeper(s SweepStore, interval, retention time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:     s,
		logger:    logger,
		interval:  interval,
		retention: retention,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("maintenance sweep failed", "err", err)
			}
		}
	}
}

// Sweep performs one maintenance pass. The existence probe keeps the common
// no-work case to a single cheap query. Idempotent: a second pass with no
// intervening updates changes nothing.
func (s *Sweeper) Sweep(ctx context.Context) error {
	hasWork, err := s.store.HasSweepWork(ctx, s.retention)
	if err != nil {
		return fmt.Errorf("sweep: probe: %w", err)
	}
	if !hasWork {
		return nil
	}
	metrics.SweepsRun.Inc()

	if err := s.reevaluateRateLimited(ctx); err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	purged, err := s.store.PurgeExpired(ctx, s.retention)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	if purged > 0 {
		metrics.UpdatesPurged.Add(float64(purged))
		s.logger.Info("retention cleanup", "deleted", purged)
	}
	return nil
}

// reevaluateRateLimited rewrites rate_limit_exceeded outcomes whose trailing
// window has cleared, so the manual-execution view stays current without a
// new location update. Only rules bound for the WebAuthn flow are rewritten;
// everything else re-enters naturally on the wallet's next position report.
func (s *Sweeper) reevaluateRateLimited(ctx context.Context) error {
	held, err := s.store.RateLimitedOutcomes(ctx)
	if err != nil {
		return err
	}

	for _, outcome := range held {
		rule, err := s.store.GetRule(ctx, outcome.RuleID)
		if err != nil {
			s.logger.Warn("held outcome references missing rule", "outcome", outcome.ID, "rule", outcome.RuleID, "err", err)
			continue
		}
		if !gate.RequiresWebAuthn(rule) {
			continue
		}

		cleared := true
		if rule.MaxExecutionsPerWallet != nil && rule.ExecutionWindowSeconds != nil {
			count, err := s.store.RateLimitCount(ctx, rule.ID, outcome.Wallet, *rule.ExecutionWindowSeconds)
			if err != nil {
				return err
			}
			cleared = count < *rule.MaxExecutionsPerWallet
		}
		if !cleared {
			continue
		}

		if err := s.store.RewriteOutcomeSkip(ctx, outcome.ID, store.SkipRequiresWebAuthn); err != nil {
			return err
		}
		metrics.OutcomesRewritten.Inc()
		s.logger.Info("rate-limit hold cleared", "outcome", outcome.ID, "rule", rule.ID, "wallet", outcome.Wallet)
	}
	return nil
}
