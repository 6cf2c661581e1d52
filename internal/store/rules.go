package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/walletwatch/geotrigger/internal/geo"
)

// ActiveRules returns all active rules ordered by creation time. The order is
// the evaluation and recording priority within a cycle.
func (s *Store) ActiveRules(ctx context.Context) ([]*ExecutionRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, rule_type, center_lat, center_lng, radius_meters,
		       geofence_id, target_wallet, auto_execute, requires_confirmation,
		       requires_webauthn, max_executions_per_wallet,
		       execution_window_seconds, min_dwell_seconds,
		       submit_readonly_to_ledger, function_name, parameter_template,
		       is_active, created_at
		FROM execution_rules
		WHERE is_active = 1
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("active rules: %w", err)
	}
	defer rows.Close()

	var rules []*ExecutionRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("active rules: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// GetRule fetches one rule by id, active or not.
func (s *Store) GetRule(ctx context.Context, id int64) (*ExecutionRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, rule_type, center_lat, center_lng, radius_meters,
		       geofence_id, target_wallet, auto_execute, requires_confirmation,
		       requires_webauthn, max_executions_per_wallet,
		       execution_window_seconds, min_dwell_seconds,
		       submit_readonly_to_ledger, function_name, parameter_template,
		       is_active, created_at
		FROM execution_rules WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get rule %d: %w", id, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get rule %d: %w", id, err)
		}
		return nil, fmt.Errorf("get rule %d: %w", id, sql.ErrNoRows)
	}
	return scanRule(rows)
}

// InsertRule persists a rule definition and returns its id. Rule mutation is
// owned by the external configuration surface; the worker only calls this
// from tests and seeding tools.
func (s *Store) InsertRule(ctx context.Context, r *ExecutionRule) (int64, error) {
	tmpl, err := json.Marshal(r.ParameterTemplate)
	if err != nil {
		return 0, fmt.Errorf("insert rule: encode template: %w", err)
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_rules
			(owner, rule_type, center_lat, center_lng, radius_meters, geofence_id,
			 target_wallet, auto_execute, requires_confirmation, requires_webauthn,
			 max_executions_per_wallet, execution_window_seconds, min_dwell_seconds,
			 submit_readonly_to_ledger, function_name, parameter_template,
			 is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Owner, r.RuleType, r.Center.Latitude, r.Center.Longitude, r.RadiusMeters,
		r.GeofenceID, r.TargetWallet, r.AutoExecute, r.RequiresConfirmation,
		r.RequiresWebAuthn, r.MaxExecutionsPerWallet, r.ExecutionWindowSeconds,
		r.MinDwellSeconds, r.SubmitReadonlyToLedger, r.FunctionName, string(tmpl),
		r.IsActive, createdAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("insert rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert rule: %w", err)
	}
	r.ID = id
	r.CreatedAt = createdAt
	return id, nil
}

// InsertGeofence persists a named polygon and returns its id.
func (s *Store) InsertGeofence(ctx context.Context, name string, vertices []geo.Coordinate) (int64, error) {
	data, err := json.Marshal(vertices)
	if err != nil {
		return 0, fmt.Errorf("insert geofence %s: %w", name, err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO geofences (name, vertices) VALUES (?, ?)`, name, string(data))
	if err != nil {
		return 0, fmt.Errorf("insert geofence %s: %w", name, err)
	}
	return res.LastInsertId()
}

// GeofenceVertices loads the polygon referenced by a geofence rule.
func (s *Store) GeofenceVertices(ctx context.Context, id int64) ([]geo.Coordinate, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT vertices FROM geofences WHERE id = ?`, id).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("geofence %d: %w", id, err)
	}
	var vertices []geo.Coordinate
	if err := json.Unmarshal([]byte(data), &vertices); err != nil {
		return nil, fmt.Errorf("geofence %d: decode vertices: %w", id, err)
	}
	return vertices, nil
}

type ruleScanner interface {
	Scan(dest ...any) error
}

func scanRule(row ruleScanner) (*ExecutionRule, error) {
	var r ExecutionRule
	var geofenceID sql.NullInt64
	var maxExec, windowSec, minDwell sql.NullInt64
	var tmpl string
	var createdAt int64

	err := row.Scan(&r.ID, &r.Owner, &r.RuleType, &r.Center.Latitude,
		&r.Center.Longitude, &r.RadiusMeters, &geofenceID, &r.TargetWallet,
		&r.AutoExecute, &r.RequiresConfirmation, &r.RequiresWebAuthn,
		&maxExec, &windowSec, &minDwell, &r.SubmitReadonlyToLedger,
		&r.FunctionName, &tmpl, &r.IsActive, &createdAt)
	if err != nil {
		return nil, err
	}

	if geofenceID.Valid {
		r.GeofenceID = &geofenceID.Int64
	}
	if maxExec.Valid {
		v := int(maxExec.Int64)
		r.MaxExecutionsPerWallet = &v
	}
	if windowSec.Valid {
		v := int(windowSec.Int64)
		r.ExecutionWindowSeconds = &v
	}
	if minDwell.Valid {
		v := int(minDwell.Int64)
		r.MinDwellSeconds = &v
	}
	if err := json.Unmarshal([]byte(tmpl), &r.ParameterTemplate); err != nil {
		return nil, fmt.Errorf("rule %d: decode template: %w", r.ID, err)
	}
	r.CreatedAt = unixTime(createdAt)
	return &r, nil
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
