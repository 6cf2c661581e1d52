package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DwellUpsert creates or advances the dwell record for one (rule, wallet)
// pair. While the pair stays in range the accumulated time grows by the gap
// since the previous observation; an out-of-range observation resets the
// record to zero. Returns the record as it stands after the write.
func (s *Store) DwellUpsert(ctx context.Context, ruleID int64, wallet string, inRange bool) (*DwellRecord, error) {
	now := s.now()

	prev, err := s.dwellRecord(ctx, ruleID, wallet)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dwell upsert rule %d wallet %s: %w", ruleID, wallet, err)
	}

	rec := &DwellRecord{
		RuleID:    ruleID,
		Wallet:    wallet,
		EnteredAt: now,
		IsInRange: inRange,
		UpdatedAt: now,
	}
	switch {
	case prev == nil:
		// First sight: zero accumulated time either way.
	case !inRange:
		// Leaving the area wipes the accumulated time.
		rec.AccumulatedSeconds = 0
	case prev.IsInRange:
		rec.EnteredAt = prev.EnteredAt
		rec.AccumulatedSeconds = prev.AccumulatedSeconds + now.Sub(prev.UpdatedAt).Seconds()
	default:
		// Re-entry after a reset: restart the clock from now.
		rec.AccumulatedSeconds = prev.AccumulatedSeconds
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dwell_records (rule_id, wallet, entered_at, accumulated_seconds, is_in_range, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (rule_id, wallet) DO UPDATE SET
			entered_at = excluded.entered_at,
			accumulated_seconds = excluded.accumulated_seconds,
			is_in_range = excluded.is_in_range,
			updated_at = excluded.updated_at`,
		ruleID, wallet, rec.EnteredAt.Unix(), rec.AccumulatedSeconds, rec.IsInRange, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("dwell upsert rule %d wallet %s: %w", ruleID, wallet, err)
	}
	return rec, nil
}

// ResetDwellExcept zeroes every dwell record of wallet whose rule is not in
// keep. Called once per processed update so that leaving an area is observed
// even when no rule matches at all.
func (s *Store) ResetDwellExcept(ctx context.Context, wallet string, keep []int64) error {
	query := `
		UPDATE dwell_records
		SET is_in_range = 0, accumulated_seconds = 0, updated_at = ?
		WHERE wallet = ? AND is_in_range = 1`
	args := []any{s.now().Unix(), wallet}
	if len(keep) > 0 {
		query += ` AND rule_id NOT IN (` + placeholders(len(keep)) + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("reset dwell wallet %s: %w", wallet, err)
	}
	return nil
}

// Dwell returns the current record for a pair, or nil if none exists.
func (s *Store) Dwell(ctx context.Context, ruleID int64, wallet string) (*DwellRecord, error) {
	rec, err := s.dwellRecord(ctx, ruleID, wallet)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *Store) dwellRecord(ctx context.Context, ruleID int64, wallet string) (*DwellRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT rule_id, wallet, entered_at, accumulated_seconds, is_in_range, updated_at
		FROM dwell_records WHERE rule_id = ? AND wallet = ?`, ruleID, wallet)

	var rec DwellRecord
	var enteredAt, updatedAt int64
	err := row.Scan(&rec.RuleID, &rec.Wallet, &enteredAt, &rec.AccumulatedSeconds,
		&rec.IsInRange, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.EnteredAt = unixTime(enteredAt)
	rec.UpdatedAt = unixTime(updatedAt)
	return &rec, nil
}

func placeholders(n int) string {
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}
