package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RPCClient is a JSON-RPC 2.0 client for a Soroban-style RPC endpoint.
type RPCClient struct {
	endpoint   string
	credential *Credential
	httpClient *http.Client
}

// NewRPCClient creates a client for the given endpoint, signing submissions
// with credential.
func NewRPCClient(endpoint string, credential *Credential) *RPCClient {
	return &RPCClient{
		endpoint:   endpoint,
		credential: credential,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type sendParams struct {
	Envelope  *Invocation `json:"envelope"`
	Signature string      `json:"signature"`
}

type sendResult struct {
	Hash   string `json:"hash"`
	Status string `json:"status"`
}

type txResult struct {
	Status string `json:"status"`
}

// Submit signs the invocation with the service credential and sends it.
func (c *RPCClient) Submit(ctx context.Context, inv *Invocation) (string, error) {
	inv.Signer = c.credential.Address()
	signature, err := c.credential.SignInvocation(inv)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmission, err)
	}

	var res sendResult
	if err := c.call(ctx, "sendTransaction", sendParams{Envelope: inv, Signature: signature}, &res); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmission, err)
	}
	if res.Hash == "" {
		return "", fmt.Errorf("%w: ledger returned no transaction hash", ErrSubmission)
	}
	return res.Hash, nil
}

// Transaction fetches the confirmation status of a submitted call.
func (c *RPCClient) Transaction(ctx context.Context, txRef string) (TxStatus, error) {
	var res txResult
	if err := c.call(ctx, "getTransaction", map[string]string{"hash": txRef}, &res); err != nil {
		return TxPending, err
	}
	switch res.Status {
	case "SUCCESS":
		return TxComplete, nil
	case "FAILED":
		return TxFailed, nil
	default:
		return TxPending, nil
	}
}

func (c *RPCClient) call(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      time.Now().UnixNano(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}

	var envelope rpcResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%s: %w", method, envelope.Error)
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}
