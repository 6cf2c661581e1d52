package store

import (
	"context"
	"fmt"
	"time"
)

// HasSweepWork is the cheap existence probe the sweeper runs before scanning:
// true when any rate-limited outcome awaits re-evaluation or any terminal
// update has aged past the retention horizon.
func (s *Store) HasSweepWork(ctx context.Context, retention time.Duration) (bool, error) {
	cutoff := s.now().Add(-retention).Unix()
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM execution_outcomes WHERE completed = 0 AND skip_reason = ?
		) OR EXISTS (
			SELECT 1 FROM location_updates
			WHERE received_at < ? AND status NOT IN (?, ?)
		)`,
		SkipRateLimitExceeded, cutoff, StatusPending, StatusProcessing).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sweep probe: %w", err)
	}
	return n != 0, nil
}

// RateLimitedOutcomes returns every uncompleted outcome still held by the
// rate-limit gate.
func (s *Store) RateLimitedOutcomes(ctx context.Context) ([]*ExecutionOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, update_id, rule_id, wallet, success, completed, skip_reason,
		       transaction_ref, matched_at, completed_at
		FROM execution_outcomes
		WHERE completed = 0 AND skip_reason = ?
		ORDER BY id`, SkipRateLimitExceeded)
	if err != nil {
		return nil, fmt.Errorf("rate limited outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []*ExecutionOutcome
	for rows.Next() {
		var o ExecutionOutcome
		var matchedAt int64
		var completedAt *int64
		if err := rows.Scan(&o.ID, &o.UpdateID, &o.RuleID, &o.Wallet, &o.Success,
			&o.Completed, &o.SkipReason, &o.TransactionRef, &matchedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("rate limited outcomes: scan: %w", err)
		}
		o.MatchedAt = unixTime(matchedAt)
		if completedAt != nil {
			t := unixTime(*completedAt)
			o.CompletedAt = &t
		}
		outcomes = append(outcomes, &o)
	}
	return outcomes, rows.Err()
}

// RewriteOutcomeSkip replaces the skip reason of one outcome. The sweeper
// uses it to move cleared rate-limit holds into the WebAuthn bucket.
func (s *Store) RewriteOutcomeSkip(ctx context.Context, outcomeID int64, reason SkipReason) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE execution_outcomes SET skip_reason = ? WHERE id = ? AND completed = 0`,
		reason, outcomeID); err != nil {
		return fmt.Errorf("rewrite outcome %d: %w", outcomeID, err)
	}
	return nil
}

// PurgeExpired applies the retention policy to terminal updates older than
// the horizon. Updates with a completed outcome survive with their held
// outcomes marked superseded; updates with none are deleted outright
// (outcomes cascade). Returns rows deleted. Idempotent.
func (s *Store) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention).Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	defer tx.Rollback()

	// Supersede the held outcomes of aged updates that must be kept.
	if _, err := tx.ExecContext(ctx, `
		UPDATE execution_outcomes
		SET skip_reason = ?
		WHERE completed = 0 AND skip_reason != ?
		  AND update_id IN (
			SELECT id FROM location_updates
			WHERE received_at < ? AND status NOT IN (?, ?)
		  )
		  AND EXISTS (
			SELECT 1 FROM execution_outcomes done
			WHERE done.update_id = execution_outcomes.update_id AND done.completed = 1
		  )`,
		SkipSuperseded, SkipSuperseded, cutoff, StatusPending, StatusProcessing); err != nil {
		return 0, fmt.Errorf("purge expired: supersede: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM location_updates
		WHERE received_at < ? AND status NOT IN (?, ?)
		  AND NOT EXISTS (
			SELECT 1 FROM execution_outcomes o
			WHERE o.update_id = location_updates.id AND o.completed = 1
		  )`,
		cutoff, StatusPending, StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("purge expired: delete: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	return deleted, nil
}
