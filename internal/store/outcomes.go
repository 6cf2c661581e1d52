package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// PendingOutcomes is the manual-execution read view: the newest uncompleted
// outcome per (rule, wallet) held by the confirmation or WebAuthn gate. Every
// row already cleared ownership, rate-limit and dwell checks, so clients can
// treat it as ready to sign.
func (s *Store) PendingOutcomes(ctx context.Context) ([]*PendingExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.rule_id, o.wallet, o.skip_reason, o.matched_at,
		       r.function_name, r.parameter_template
		FROM execution_outcomes o
		JOIN execution_rules r ON r.id = o.rule_id
		WHERE o.completed = 0
		  AND o.skip_reason IN (?, ?)
		  AND o.matched_at = (
			SELECT MAX(o2.matched_at) FROM execution_outcomes o2
			WHERE o2.rule_id = o.rule_id AND o2.wallet = o.wallet
			  AND o2.completed = 0 AND o2.skip_reason IN (?, ?)
		  )
		GROUP BY o.rule_id, o.wallet
		ORDER BY o.matched_at DESC`,
		SkipRequiresWebAuthn, SkipRequiresConfirmation,
		SkipRequiresWebAuthn, SkipRequiresConfirmation)
	if err != nil {
		return nil, fmt.Errorf("pending outcomes: %w", err)
	}
	defer rows.Close()

	var pending []*PendingExecution
	for rows.Next() {
		var p PendingExecution
		var matchedAt int64
		var tmpl string
		if err := rows.Scan(&p.OutcomeID, &p.RuleID, &p.Wallet, &p.SkipReason,
			&matchedAt, &p.FunctionName, &tmpl); err != nil {
			return nil, fmt.Errorf("pending outcomes: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(tmpl), &p.ParameterTemplate); err != nil {
			return nil, fmt.Errorf("pending outcomes: rule %d template: %w", p.RuleID, err)
		}
		p.MatchedAt = unixTime(matchedAt)
		pending = append(pending, &p)
	}
	return pending, rows.Err()
}

// SettleOutcomes marks every uncompleted held outcome for (rule, wallet) as
// completed with the given transaction reference. Called after an
// out-of-band signed submission succeeds.
func (s *Store) SettleOutcomes(ctx context.Context, ruleID int64, wallet, transactionRef string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE execution_outcomes
		SET success = 1, completed = 1, transaction_ref = ?, completed_at = ?, skip_reason = ''
		WHERE rule_id = ? AND wallet = ? AND completed = 0
		  AND skip_reason IN (?, ?)`,
		transactionRef, s.now().Unix(), ruleID, wallet,
		SkipRequiresWebAuthn, SkipRequiresConfirmation)
	if err != nil {
		return 0, fmt.Errorf("settle outcomes rule %d wallet %s: %w", ruleID, wallet, err)
	}
	return res.RowsAffected()
}

// OutcomesForUpdate returns all recorded outcomes of one update, oldest rule
// first. Used by tests and the read API.
func (s *Store) OutcomesForUpdate(ctx context.Context, updateID string) ([]*ExecutionOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, update_id, rule_id, wallet, success, completed, skip_reason,
		       transaction_ref, matched_at, completed_at
		FROM execution_outcomes
		WHERE update_id = ?
		ORDER BY rule_id`, updateID)
	if err != nil {
		return nil, fmt.Errorf("outcomes for update %s: %w", updateID, err)
	}
	defer rows.Close()

	var outcomes []*ExecutionOutcome
	for rows.Next() {
		var o ExecutionOutcome
		var matchedAt int64
		var completedAt *int64
		if err := rows.Scan(&o.ID, &o.UpdateID, &o.RuleID, &o.Wallet, &o.Success,
			&o.Completed, &o.SkipReason, &o.TransactionRef, &matchedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("outcomes for update %s: scan: %w", updateID, err)
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
