package store

import (
	"time"

	"github.com/walletwatch/geotrigger/internal/geo"
)

// UpdateStatus is the lifecycle state of a LocationUpdate.
type UpdateStatus string

const (
	StatusPending    UpdateStatus = "pending"
	StatusProcessing UpdateStatus = "processing"
	StatusMatched    UpdateStatus = "matched"
	StatusExecuted   UpdateStatus = "executed"
	StatusSkipped    UpdateStatus = "skipped"
	StatusFailed     UpdateStatus = "failed"
)

// SkipReason explains why a matched rule did not execute.
type SkipReason string

const (
	SkipNone                 SkipReason = ""
	SkipTargetWalletMismatch SkipReason = "target_wallet_mismatch"
	SkipAutoExecuteDisabled  SkipReason = "auto_execute_disabled"
	SkipRequiresConfirmation SkipReason = "requires_confirmation"
	SkipRateLimitExceeded    SkipReason = "rate_limit_exceeded"
	SkipInsufficientDwell    SkipReason = "insufficient_dwell_time"
	SkipRequiresWebAuthn     SkipReason = "requires_webauthn"
	SkipSuperseded           SkipReason = "superseded_by_newer_execution"
)

// RuleType discriminates the supported spatial rule shapes.
type RuleType string

const (
	RuleTypeRadius    RuleType = "radius"
	RuleTypeGeofence  RuleType = "geofence"
	RuleTypeProximity RuleType = "proximity"
)

// LocationUpdate is one reported wallet position awaiting (or past) matching.
type LocationUpdate struct {
	ID         string
	Wallet     string
	Coordinate geo.Coordinate
	ReceivedAt time.Time
	Status     UpdateStatus
	SkipReason SkipReason
}

// ExecutionRule is a configured spatial trigger. Rules are mutated only by
// the external configuration surface; a matching cycle reads them once.
type ExecutionRule struct {
	ID                     int64
	Owner                  string
	RuleType               RuleType
	Center                 geo.Coordinate
	RadiusMeters           float64
	GeofenceID             *int64
	TargetWallet           string // empty = any wallet
	AutoExecute            bool
	RequiresConfirmation   bool
	RequiresWebAuthn       bool
	MaxExecutionsPerWallet *int
	ExecutionWindowSeconds *int
	MinDwellSeconds        *int
	SubmitReadonlyToLedger bool
	FunctionName           string
	ParameterTemplate      map[string]string
	IsActive               bool
	CreatedAt              time.Time
}

// DwellRecord tracks accumulated time-in-area for one (rule, wallet) pair.
type DwellRecord struct {
	RuleID             int64
	Wallet             string
	EnteredAt          time.Time
	AccumulatedSeconds float64
	IsInRange          bool
	UpdatedAt          time.Time
}

// ExecutionHistoryEntry is one completed ledger execution. Append-only; it is
// the source of truth for rate-limit counts.
type ExecutionHistoryEntry struct {
	ID             int64
	RuleID         int64
	Wallet         string
	ExecutedAt     time.Time
	TransactionRef string
	Payload        string
}

// ExecutionOutcome is the recorded result of one rule evaluated against one
// update. A skip reason means the rule matched spatially but a gate held it.
type ExecutionOutcome struct {
	ID             int64
	UpdateID       string
	RuleID         int64
	Wallet         string
	Success        bool
	Completed      bool
	SkipReason     SkipReason
	TransactionRef string
	MatchedAt      time.Time
	CompletedAt    *time.Time
}

// PendingExecution is one row of the manual-execution read view: the newest
// held outcome per (rule, wallet), carrying enough of the rule for an
// out-of-band client to build and sign the call.
type PendingExecution struct {
	OutcomeID         int64
	RuleID            int64
	Wallet            string
	SkipReason        SkipReason
	FunctionName      string
	ParameterTemplate map[string]string
	MatchedAt         time.Time
}
