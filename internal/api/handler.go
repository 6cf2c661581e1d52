package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/walletwatch/geotrigger/internal/config"
	"github.com/walletwatch/geotrigger/internal/geo"
	"github.com/walletwatch/geotrigger/internal/store"
)

// Store is the slice of the store the HTTP surface reads and writes.
type Store interface {
	InsertUpdate(ctx context.Context, u *store.LocationUpdate) error
	ActiveRules(ctx context.Context) ([]*store.ExecutionRule, error)
	PendingOutcomes(ctx context.Context) ([]*store.PendingExecution, error)
	SettleOutcomes(ctx context.Context, ruleID int64, wallet, transactionRef string) (int64, error)
	RecordExecution(ctx context.Context, ruleID int64, wallet, transactionRef, payload string) (*store.ExecutionHistoryEntry, error)
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	store  Store
	loader *config.Loader
	mux    *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(s Store, loader *config.Loader) http.Handler {
	h := &Handler{store: s, loader: loader, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/locations", h.ingestLocation)
	h.mux.HandleFunc("GET /v1/executions/pending", h.pendingExecutions)
	h.mux.HandleFunc("POST /v1/executions/complete", h.completeExecution)
	h.mux.HandleFunc("GET /v1/rules", h.listRules)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// locationRequest is the ingestion payload for one wallet position.
type locationRequest struct {
	Wallet    string  `json:"wallet"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// POST /v1/locations — record a wallet position as a pending update. The
// matching cycle picks it up on its next tick.
func (h *Handler) ingestLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if req.Wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet is required")
		return
	}
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		writeError(w, http.StatusBadRequest, "coordinate out of range")
		return
	}

	update := &store.LocationUpdate{
		ID:         uuid.New().String(),
		Wallet:     req.Wallet,
		Coordinate: geo.Coordinate{Latitude: req.Latitude, Longitude: req.Longitude},
		ReceivedAt: time.Now(),
		Status:     store.StatusPending,
	}
	if err := h.store.InsertUpdate(r.Context(), update); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":     update.ID,
		"status": update.Status,
	})
}

// GET /v1/executions/pending — the manual-execution read view: held outcomes
// grouped per (rule, wallet), each ready for an out-of-band signed call.
func (h *Handler) pendingExecutions(w http.ResponseWriter, r *http.Request) {
	pending, err := h.store.PendingOutcomes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(pending),
		"pending": pending,
	})
}

// completeRequest reports one finished out-of-band execution.
type completeRequest struct {
	RuleID         int64  `json:"rule_id"`
	Wallet         string `json:"wallet"`
	TransactionRef string `json:"transaction_ref"`
	Payload        string `json:"payload"`
}

// POST /v1/executions/complete — the "finish execution" action: the caller
// performed the signed submission out-of-band; record it and settle the held
// outcomes for the pair.
func (h *Handler) completeExecution(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if req.RuleID == 0 || req.Wallet == "" || req.TransactionRef == "" {
		writeError(w, http.StatusBadRequest, "rule_id, wallet and transaction_ref are required")
		return
	}

	// Settle first: recording history for a pair with nothing pending would
	// wrongly consume the wallet's rate-limit window.
	settled, err := h.store.SettleOutcomes(r.Context(), req.RuleID, req.Wallet, req.TransactionRef)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if settled == 0 {
		writeError(w, http.StatusConflict, "no pending execution for this rule and wallet")
		return
	}
	entry, err := h.store.RecordExecution(r.Context(), req.RuleID, req.Wallet, req.TransactionRef, req.Payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"history_id":       entry.ID,
		"outcomes_settled": settled,
	})
}

// GET /v1/rules — list active rules.
func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.ActiveRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": h.loader.Config().Version,
		"count":   len(rules),
		"rules":   rules,
	})
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 until the store answers queries.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.ActiveRules(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "store unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
