// Package ledger talks to the smart-contract ledger over JSON-RPC and owns
// the parameter-template semantics of contract calls.
package ledger

import (
	"context"
	"errors"
)

// Invocation is one fully resolved contract call ready for signing.
type Invocation struct {
	ContractID string            `json:"contract_id"`
	Function   string            `json:"function"`
	Params     map[string]string `json:"params"`
	Signer     string            `json:"signer"`
	Nonce      string            `json:"nonce"`
	IssuedAt   int64             `json:"iat"`
}

// TxStatus is a submitted transaction's confirmation state.
type TxStatus string

const (
	TxPending  TxStatus = "pending"
	TxComplete TxStatus = "complete"
	TxFailed   TxStatus = "failed"
)

// ErrSubmission marks build/sign/submit failures. Callers match with
// errors.Is; the matching cycle records them as per-rule execution failures
// and moves on.
var ErrSubmission = errors.New("ledger submission failed")

// Client submits signed read-only invocations and reports their confirmation
// status. The worker never holds authority for state-changing calls.
type Client interface {
	// Submit signs and sends the invocation, returning the transaction
	// reference assigned by the ledger.
	Submit(ctx context.Context, inv *Invocation) (string, error)
	// Transaction returns the confirmation status of a submitted call.
	Transaction(ctx context.Context, txRef string) (TxStatus, error)
}
