// Package engine drives the recurring matching cycle and the maintenance
// sweep over the location/rule store.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/walletwatch/geotrigger/internal/executor"
	"github.com/walletwatch/geotrigger/internal/geo"
	"github.com/walletwatch/geotrigger/internal/metrics"
	"github.com/walletwatch/geotrigger/internal/store"
)

// Store is the slice of the location/rule store the scheduler drives.
type Store interface {
	MarkSuperseded(ctx context.Context) (int64, error)
	ClaimNextBatch(ctx context.Context, limit int) ([]*store.LocationUpdate, error)
	CompleteUpdate(ctx context.Context, updateID string, status store.UpdateStatus, matchedRuleIDs []int64, outcomes []*store.ExecutionOutcome) error
	ResetDwellExcept(ctx context.Context, wallet string, keep []int64) error
}

// Matcher selects the rules spatially containing a coordinate.
type Matcher interface {
	Match(ctx context.Context, wallet string, coord geo.Coordinate) ([]*store.ExecutionRule, error)
}

// Gate runs the eligibility pipeline for one matched rule.
type Gate interface {
	Evaluate(ctx context.Context, rule *store.ExecutionRule, update *store.LocationUpdate) (store.SkipReason, error)
}

// Executor performs or defers the action of an eligible rule.
type Executor interface {
	Execute(ctx context.Context, rule *store.ExecutionRule, update *store.LocationUpdate) (*executor.Result, error)
}

// Scheduler owns the single-flight periodic matching cycle. Ticks that
// arrive while a cycle is in flight are dropped, not queued; the in-process
// flag is cooperative, which is sufficient for one active worker per
// deployment.
type Scheduler struct {
	store    Store
	matcher  Matcher
	gate     Gate
	exec     Executor
	logger   *slog.Logger
	interval time.Duration
	batch    int

	inFlight atomic.Bool
	now      func() time.Time
}

// NewScheduler wires a Scheduler. batch caps how many updates one cycle
// claims.
func NewScheduler(s Store, m Matcher, g Gate, e Executor, interval time.Duration, batch int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    s,
		matcher:  m,
		gate:     g,
		exec:     e,
		logger:   logger,
		interval: interval,
		batch:    batch,
		now:      time.Now,
	}
}

// SetNow overrides the scheduler's clock. Test hook.
func (s *Scheduler) SetNow(now func() time.Time) {
	s.now = now
}

// Run drives cycles on the configured interval until ctx is cancelled. The
// in-flight cycle always finishes; only future cycles stop.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick starts one cycle unless another is already in flight.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		metrics.CyclesSkipped.Inc()
		return
	}
	defer s.inFlight.Store(false)

	if err := s.RunCycle(ctx); err != nil {
		s.logger.Error("matching cycle aborted", "err", err)
	}
}

// RunCycle performs one full cycle: dedupe, claim, then sequentially match,
// gate, execute, and record each claimed update. A store failure on the
// claim path aborts the cycle; per-update failures are converted to
// status=failed and the cycle proceeds.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	start := s.now()
	metrics.CyclesRun.Inc()

	superseded, err := s.store.MarkSuperseded(ctx)
	if err != nil {
		return fmt.Errorf("cycle: dedupe: %w", err)
	}
	if superseded > 0 {
		metrics.UpdatesSuperseded.Add(float64(superseded))
		s.logger.Info("superseded stale updates", "count", superseded)
	}

	updates, err := s.store.ClaimNextBatch(ctx, s.batch)
	if err != nil {
		return fmt.Errorf("cycle: claim: %w", err)
	}

	for _, update := range updates {
		status, err := s.processUpdate(ctx, update)
		if err != nil {
			s.logger.Error("update processing failed", "update", update.ID, "wallet", update.Wallet, "err", err)
			status = store.StatusFailed
			if cerr := s.store.CompleteUpdate(ctx, update.ID, store.StatusFailed, nil, nil); cerr != nil {
				s.logger.Error("failed to record update failure", "update", update.ID, "err", cerr)
			}
		}
		metrics.UpdatesProcessed.WithLabelValues(string(status)).Inc()
	}

	metrics.CycleDuration.Observe(float64(s.now().Sub(start).Milliseconds()))
	return nil
}

// processUpdate runs matcher, gating pipeline, execution and recording for
// one claimed update. Rules are evaluated in creation order. A panic anywhere
// in the per-update path is converted to an error so one bad update can never
// take down the worker.
func (s *Scheduler) processUpdate(ctx context.Context, update *store.LocationUpdate) (status store.UpdateStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			status = store.StatusFailed
			err = fmt.Errorf("process update %s: panic: %v", update.ID, r)
		}
	}()
	matched, err := s.matcher.Match(ctx, update.Wallet, update.Coordinate)
	if err != nil {
		return store.StatusFailed, fmt.Errorf("match: %w", err)
	}

	matchedIDs := make([]int64, 0, len(matched))
	outcomes := make([]*store.ExecutionOutcome, 0, len(matched))
	executed := false

	for _, rule := range matched {
		matchedIDs = append(matchedIDs, rule.ID)
		metrics.RulesMatched.WithLabelValues(strconv.FormatInt(rule.ID, 10)).Inc()

		outcome := &store.ExecutionOutcome{
			UpdateID:  update.ID,
			RuleID:    rule.ID,
			Wallet:    update.Wallet,
			MatchedAt: s.now(),
		}

		reason, err := s.gate.Evaluate(ctx, rule, update)
		if err != nil {
			return store.StatusFailed, fmt.Errorf("gate rule %d: %w", rule.ID, err)
		}
		if reason != store.SkipNone {
			outcome.SkipReason = reason
			metrics.OutcomesRecorded.WithLabelValues(string(reason)).Inc()
			outcomes = append(outcomes, outcome)
			continue
		}

		res, err := s.exec.Execute(ctx, rule, update)
		if err != nil {
			// Ledger and mapping failures are per-rule results, not cycle
			// errors. The next update for this wallet re-attempts naturally.
			s.logger.Warn("execution failed", "update", update.ID, "rule", rule.ID, "err", err)
			metrics.OutcomesRecorded.WithLabelValues("failed").Inc()
			outcomes = append(outcomes, outcome)
			continue
		}

		outcome.Success = res.Success
		outcome.Completed = res.Completed
		outcome.TransactionRef = res.TransactionRef
		if res.Completed {
			now := s.now()
			outcome.CompletedAt = &now
			executed = true
			metrics.OutcomesRecorded.WithLabelValues("executed").Inc()
		} else {
			metrics.OutcomesRecorded.WithLabelValues("deferred").Inc()
		}
		outcomes = append(outcomes, outcome)
	}

	// Rules this wallet no longer matches lose their dwell time: leaving the
	// area resets the clock.
	if err := s.store.ResetDwellExcept(ctx, update.Wallet, matchedIDs); err != nil {
		return store.StatusFailed, fmt.Errorf("reset dwell: %w", err)
	}

	status = store.StatusSkipped
	switch {
	case executed:
		status = store.StatusExecuted
	case len(matched) > 0:
		status = store.StatusMatched
	}

	if err := s.store.CompleteUpdate(ctx, update.ID, status, matchedIDs, outcomes); err != nil {
		return store.StatusFailed, fmt.Errorf("record: %w", err)
	}
	return status, nil
}
