package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// InsertUpdate records a newly ingested wallet position as pending.
func (s *Store) InsertUpdate(ctx context.Context, u *LocationUpdate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO location_updates (id, wallet, latitude, longitude, received_at, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Wallet, u.Coordinate.Latitude, u.Coordinate.Longitude,
		u.ReceivedAt.Unix(), StatusPending)
	if err != nil {
		return fmt.Errorf("insert update %s: %w", u.ID, err)
	}
	return nil
}

// MarkSuperseded skips every pending or processing update that has a newer
// sibling for the same wallet, leaving exactly the freshest one eligible.
// Idempotent: a second call with no new rows changes nothing.
func (s *Store) MarkSuperseded(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE location_updates
		SET status = ?, skip_reason = ?, processed_at = ?
		WHERE status IN (?, ?)
		  AND EXISTS (
			SELECT 1 FROM location_updates newer
			WHERE newer.wallet = location_updates.wallet
			  AND newer.status IN (?, ?)
			  AND (newer.received_at > location_updates.received_at
			       OR (newer.received_at = location_updates.received_at
			           AND newer.id > location_updates.id))
		  )`,
		StatusSkipped, SkipSuperseded, s.now().Unix(),
		StatusPending, StatusProcessing,
		StatusPending, StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("mark superseded: %w", err)
	}
	return res.RowsAffected()
}

// ClaimNextBatch flips up to limit pending updates to processing and returns
// them oldest-first. Run after MarkSuperseded so at most one update per
// wallet is claimable.
func (s *Store) ClaimNextBatch(ctx context.Context, limit int) ([]*LocationUpdate, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, wallet, latitude, longitude, received_at
		FROM location_updates
		WHERE status = ?
		ORDER BY received_at, id
		LIMIT ?`, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: select: %w", err)
	}
	updates, err := scanUpdates(rows)
	if err != nil {
		return nil, fmt.Errorf("claim batch: scan: %w", err)
	}

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx,
			`UPDATE location_updates SET status = ? WHERE id = ?`,
			StatusProcessing, u.ID); err != nil {
			return nil, fmt.Errorf("claim batch: flip %s: %w", u.ID, err)
		}
		u.Status = StatusProcessing
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim batch: commit: %w", err)
	}
	return updates, nil
}

// CompleteUpdate writes the terminal state of one processed update together
// with its matched rules and per-rule outcomes.
func (s *Store) CompleteUpdate(ctx context.Context, updateID string, status UpdateStatus, matchedRuleIDs []int64, outcomes []*ExecutionOutcome) error {
	ids, err := json.Marshal(matchedRuleIDs)
	if err != nil {
		return fmt.Errorf("complete update %s: encode rule ids: %w", updateID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("complete update %s: %w", updateID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE location_updates
		SET status = ?, matched_rule_ids = ?, processed_at = ?
		WHERE id = ?`,
		status, string(ids), s.now().Unix(), updateID); err != nil {
		return fmt.Errorf("complete update %s: %w", updateID, err)
	}

	for _, o := range outcomes {
		var completedAt any
		if o.CompletedAt != nil {
			completedAt = o.CompletedAt.Unix()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO execution_outcomes
				(update_id, rule_id, wallet, success, completed, skip_reason,
				 transaction_ref, matched_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			updateID, o.RuleID, o.Wallet, o.Success, o.Completed, o.SkipReason,
			o.TransactionRef, o.MatchedAt.Unix(), completedAt); err != nil {
			return fmt.Errorf("complete update %s: outcome rule %d: %w", updateID, o.RuleID, err)
		}
	}

	return tx.Commit()
}

// GetUpdate fetches one update by id.
func (s *Store) GetUpdate(ctx context.Context, id string) (*LocationUpdate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, wallet, latitude, longitude, received_at, status, skip_reason
		FROM location_updates WHERE id = ?`, id)

	var u LocationUpdate
	var receivedAt int64
	err := row.Scan(&u.ID, &u.Wallet, &u.Coordinate.Latitude, &u.Coordinate.Longitude,
		&receivedAt, &u.Status, &u.SkipReason)
	if err != nil {
		return nil, fmt.Errorf("get update %s: %w", id, err)
	}
	u.ReceivedAt = unixTime(receivedAt)
	return &u, nil
}

func scanUpdates(rows *sql.Rows) ([]*LocationUpdate, error) {
	defer rows.Close()
	var updates []*LocationUpdate
	for rows.Next() {
		var u LocationUpdate
		var receivedAt int64
		if err := rows.Scan(&u.ID, &u.Wallet, &u.Coordinate.Latitude,
			&u.Coordinate.Longitude, &receivedAt); err != nil {
			return nil, err
		}
		u.ReceivedAt = unixTime(receivedAt)
		updates = append(updates, &u)
	}
	return updates, rows.Err()
}
