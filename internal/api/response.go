package api

import (
	"encoding/json"
	"net/http"
)

// writeJSON writes v as the response body with the given status. Encoding
// errors are dropped: the status line is already on the wire.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the envelope every non-2xx body uses.
type errorResponse struct {
	Error string `json:"error"`
}

// writeError writes msg in the standard error envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
