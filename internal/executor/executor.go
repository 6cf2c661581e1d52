// Package executor performs or defers the action of a rule that cleared the
// gating pipeline.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/walletwatch/geotrigger/internal/ledger"
	"github.com/walletwatch/geotrigger/internal/metrics"
	"github.com/walletwatch/geotrigger/internal/store"
)

// Result is the terminal execution state of one eligible rule.
type Result struct {
	Success        bool
	Completed      bool
	TransactionRef string
	Detail         string
}

// HistoryRecorder persists completed executions; the store's append-only
// execution history.
type HistoryRecorder interface {
	RecordExecution(ctx context.Context, ruleID int64, wallet, transactionRef, payload string) (*store.ExecutionHistoryEntry, error)
}

// Executor classifies the rule's target function and runs the appropriate
// path: mutating functions are always deferred to manual execution, read-only
// functions either complete synthetically or go through a signed ledger
// round trip with bounded confirmation polling.
type Executor struct {
	registry   *Registry
	client     ledger.Client
	history    HistoryRecorder
	contractID string

	confirmAttempts int
	confirmBackoff  time.Duration

	// sleep is swapped in tests to skip real confirmation waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Executor. confirmAttempts and confirmBackoff bound the
// post-submission confirmation poll.
func New(registry *Registry, client ledger.Client, history HistoryRecorder, contractID string, confirmAttempts int, confirmBackoff time.Duration) *Executor {
	return &Executor{
		registry:        registry,
		client:          client,
		history:         history,
		contractID:      contractID,
		confirmAttempts: confirmAttempts,
		confirmBackoff:  confirmBackoff,
		sleep:           sleepCtx,
	}
}

// Execute runs the rule's action for the given update. An error return means
// the execution failed for this cycle; the caller records it and the next
// location update naturally re-attempts.
func (e *Executor) Execute(ctx context.Context, rule *store.ExecutionRule, update *store.LocationUpdate) (*Result, error) {
	binding, err := e.registry.Get(rule.FunctionName)
	if err != nil {
		return nil, fmt.Errorf("execute rule %d: %w", rule.ID, err)
	}

	if !binding.ReadOnly {
		// This worker holds no signing authority for state-changing calls.
		return &Result{
			Success:   false,
			Completed: false,
			Detail:    "mutating function requires manual execution",
		}, nil
	}

	params := ledger.ResolveParams(rule.ParameterTemplate, update.Wallet,
		formatCoord(update.Coordinate.Latitude), formatCoord(update.Coordinate.Longitude))
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("execute rule %d: encode params: %w", rule.ID, err)
	}

	if !rule.SubmitReadonlyToLedger {
		// Simulated execution: no external call, locally generated reference.
		ref := "sim-" + uuid.New().String()
		if _, err := e.history.RecordExecution(ctx, rule.ID, update.Wallet, ref, string(payload)); err != nil {
			return nil, fmt.Errorf("execute rule %d: %w", rule.ID, err)
		}
		return &Result{Success: true, Completed: true, TransactionRef: ref, Detail: "simulated"}, nil
	}

	if e.client == nil {
		// Worker started without a ledger endpoint; a per-rule failure, the
		// same as any other submission problem.
		return nil, fmt.Errorf("execute rule %d: %w: no ledger endpoint configured", rule.ID, ledger.ErrSubmission)
	}
	txRef, err := e.submitAndConfirm(ctx, rule, update, params)
	if err != nil {
		return nil, fmt.Errorf("execute rule %d: %w", rule.ID, err)
	}
	if _, err := e.history.RecordExecution(ctx, rule.ID, update.Wallet, txRef, string(payload)); err != nil {
		return nil, fmt.Errorf("execute rule %d: %w", rule.ID, err)
	}
	return &Result{Success: true, Completed: true, TransactionRef: txRef, Detail: "confirmed"}, nil
}

func (e *Executor) submitAndConfirm(ctx context.Context, rule *store.ExecutionRule, update *store.LocationUpdate, params map[string]string) (string, error) {
	start := time.Now()
	defer func() {
		metrics.LedgerSubmissionDuration.Observe(time.Since(start).Seconds())
	}()

	inv := &ledger.Invocation{
		ContractID: e.contractID,
		Function:   rule.FunctionName,
		Params:     params,
		Nonce:      uuid.New().String(),
		IssuedAt:   time.Now().Unix(),
	}

	txRef, err := e.client.Submit(ctx, inv)
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < e.confirmAttempts; attempt++ {
		if err := e.sleep(ctx, e.confirmBackoff); err != nil {
			return "", err
		}
		status, err := e.client.Transaction(ctx, txRef)
		if err != nil {
			continue // transient poll failure; the attempt budget bounds us
		}
		switch status {
		case ledger.TxComplete:
			return txRef, nil
		case ledger.TxFailed:
			return "", fmt.Errorf("%w: transaction %s failed", ledger.ErrSubmission, txRef)
		}
	}
	return "", fmt.Errorf("%w: transaction %s unconfirmed after %d attempts",
		ledger.ErrSubmission, txRef, e.confirmAttempts)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
