package store

import (
	"context"
	"fmt"
	"time"
)

// RecordExecution appends one completed execution for a (rule, wallet) pair.
// History is append-only and drives future rate-limit counts.
func (s *Store) RecordExecution(ctx context.Context, ruleID int64, wallet, transactionRef, payload string) (*ExecutionHistoryEntry, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_history (rule_id, wallet, executed_at, transaction_ref, payload)
		VALUES (?, ?, ?, ?, ?)`,
		ruleID, wallet, now.Unix(), transactionRef, payload)
	if err != nil {
		return nil, fmt.Errorf("record execution rule %d wallet %s: %w", ruleID, wallet, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("record execution rule %d wallet %s: %w", ruleID, wallet, err)
	}
	return &ExecutionHistoryEntry{
		ID:             id,
		RuleID:         ruleID,
		Wallet:         wallet,
		ExecutedAt:     now,
		TransactionRef: transactionRef,
		Payload:        payload,
	}, nil
}

// RateLimitCount returns how many executions of ruleID by wallet landed in
// the trailing window ending now.
func (s *Store) RateLimitCount(ctx context.Context, ruleID int64, wallet string, windowSeconds int) (int, error) {
	cutoff := s.now().Add(-time.Duration(windowSeconds) * time.Second).Unix()
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM execution_history
		WHERE rule_id = ? AND wallet = ? AND executed_at > ?`,
		ruleID, wallet, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("rate limit count rule %d wallet %s: %w", ruleID, wallet, err)
	}
	return n, nil
}
