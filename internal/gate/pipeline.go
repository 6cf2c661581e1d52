// Package gate implements the ordered eligibility checks a spatially matched
// rule must clear before execution.
package gate

import (
	"context"
	"fmt"

	"github.com/walletwatch/geotrigger/internal/ledger"
	"github.com/walletwatch/geotrigger/internal/store"
)

// Store is the slice of the store the pipeline needs: dwell bookkeeping and
// rate-limit counting.
type Store interface {
	DwellUpsert(ctx context.Context, ruleID int64, wallet string, inRange bool) (*store.DwellRecord, error)
	RateLimitCount(ctx context.Context, ruleID int64, wallet string, windowSeconds int) (int, error)
}

// Pipeline runs the eligibility checks in a fixed order. The first failing
// check decides the skip reason; later checks never run, with one exception:
// the dwell record is always advanced once ownership and auto-execute pass,
// so dwell time keeps accumulating while a rule is held by rate limits or
// manual-execution requirements.
type Pipeline struct {
	store Store
}

// New creates a Pipeline over the given store.
func New(s Store) *Pipeline {
	return &Pipeline{store: s}
}

// Evaluate runs the checks for one matched rule against one update. It
// returns store.SkipNone when the rule may execute, otherwise the reason the
// rule is held. The rate-limit and dwell checks deliberately precede the
// WebAuthn check so the pending view only ever surfaces rules that are
// otherwise eligible.
func (p *Pipeline) Evaluate(ctx context.Context, rule *store.ExecutionRule, update *store.LocationUpdate) (store.SkipReason, error) {
	if rule.TargetWallet != "" && rule.TargetWallet != update.Wallet {
		return store.SkipTargetWalletMismatch, nil
	}
	if !rule.AutoExecute {
		return store.SkipAutoExecuteDisabled, nil
	}

	dwell, err := p.store.DwellUpsert(ctx, rule.ID, update.Wallet, true)
	if err != nil {
		return store.SkipNone, fmt.Errorf("gate: dwell: %w", err)
	}

	// Dual-flagged rules must land only in the WebAuthn bucket, the one
	// channel manual-execution clients poll.
	if rule.RequiresConfirmation && !RequiresWebAuthn(rule) {
		return store.SkipRequiresConfirmation, nil
	}

	if rule.MaxExecutionsPerWallet != nil && rule.ExecutionWindowSeconds != nil {
		count, err := p.store.RateLimitCount(ctx, rule.ID, update.Wallet, *rule.ExecutionWindowSeconds)
		if err != nil {
			return store.SkipNone, fmt.Errorf("gate: rate limit: %w", err)
		}
		if count >= *rule.MaxExecutionsPerWallet {
			return store.SkipRateLimitExceeded, nil
		}
	}

	if rule.MinDwellSeconds != nil && dwell.AccumulatedSeconds < float64(*rule.MinDwellSeconds) {
		return store.SkipInsufficientDwell, nil
	}

	if RequiresWebAuthn(rule) {
		return store.SkipRequiresWebAuthn, nil
	}

	return store.SkipNone, nil
}

// RequiresWebAuthn reports whether a rule's execution must go through the
// out-of-band user-present flow: either the contract flag is set or the
// parameter template binds a WebAuthn field to a concrete value.
func RequiresWebAuthn(rule *store.ExecutionRule) bool {
	return rule.RequiresWebAuthn || ledger.TemplateRequiresWebAuthn(rule.ParameterTemplate)
}
