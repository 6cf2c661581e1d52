package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletwatch/geotrigger/internal/api"
	"github.com/walletwatch/geotrigger/internal/config"
	"github.com/walletwatch/geotrigger/internal/geo"
	"github.com/walletwatch/geotrigger/internal/store"
)

func newServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	dir := t.TempDir()

	s, err := store.Open(filepath.Join(dir, "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfgPath := filepath.Join(dir, "worker.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
version: "1.0"
functions:
  - name: get_location
    readonly: true
`), 0o644))
	loader, err := config.NewLoader(cfgPath)
	require.NoError(t, err)

	srv := httptest.NewServer(api.New(s, loader))
	t.Cleanup(srv.Close)
	return srv, s
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestIngestLocation(t *testing.T) {
	srv, s := newServer(t)

	resp, body := postJSON(t, srv.URL+"/v1/locations",
		`{"wallet": "W1", "latitude": 40.0, "longitude": -74.0}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "pending", body["status"])
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	u, err := s.GetUpdate(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "W1", u.Wallet)
	assert.Equal(t, store.StatusPending, u.Status)
}

func TestIngestLocationRejectsBadInput(t *testing.T) {
	srv, _ := newServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"wallet": `},
		{"missing wallet", `{"latitude": 40, "longitude": -74}`},
		{"latitude out of range", `{"wallet": "W1", "latitude": 91, "longitude": 0}`},
		{"longitude out of range", `{"wallet": "W1", "latitude": 0, "longitude": -181}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, _ := postJSON(t, srv.URL+"/v1/locations", tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestPendingAndCompleteFlow(t *testing.T) {
	srv, s := newServer(t)
	ctx := context.Background()

	ruleID, err := s.InsertRule(ctx, &store.ExecutionRule{
		Owner:            "owner1",
		RuleType:         store.RuleTypeRadius,
		Center:           geo.Coordinate{Latitude: 40.0, Longitude: -74.0},
		RadiusMeters:     50,
		AutoExecute:      true,
		RequiresWebAuthn: true,
		FunctionName:     "get_location",
		IsActive:         true,
		CreatedAt:        time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, s.InsertUpdate(ctx, &store.LocationUpdate{
		ID:         "U1",
		Wallet:     "W1",
		Coordinate: geo.Coordinate{Latitude: 40.0001, Longitude: -74.0001},
		ReceivedAt: time.Now(),
	}))
	require.NoError(t, s.CompleteUpdate(ctx, "U1", store.StatusMatched, []int64{ruleID},
		[]*store.ExecutionOutcome{{
			UpdateID:   "U1",
			RuleID:     ruleID,
			Wallet:     "W1",
			SkipReason: store.SkipRequiresWebAuthn,
			MatchedAt:  time.Now(),
		}}))

	resp, body := getJSON(t, srv.URL+"/v1/executions/pending")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, body = postJSON(t, srv.URL+"/v1/executions/complete",
		`{"rule_id": `+jsonInt(ruleID)+`, "wallet": "W1", "transaction_ref": "tx-abc"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["outcomes_settled"])

	// Settled: the view is empty and repeating the call conflicts.
	resp, body = getJSON(t, srv.URL+"/v1/executions/pending")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["count"])

	resp, _ = postJSON(t, srv.URL+"/v1/executions/complete",
		`{"rule_id": `+jsonInt(ruleID)+`, "wallet": "W1", "transaction_ref": "tx-abc"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// The conflicting retry did not append a second history entry.
	count, err := s.RateLimitCount(ctx, ruleID, "W1", 3600)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCompleteRequiresFields(t *testing.T) {
	srv, _ := newServer(t)

	resp, _ := postJSON(t, srv.URL+"/v1/executions/complete",
		`{"wallet": "W1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndReadiness(t *testing.T) {
	srv, _ := newServer(t)

	resp, body := getJSON(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = getJSON(t, srv.URL+"/readyz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])
}

func TestListRules(t *testing.T) {
	srv, s := newServer(t)

	_, err := s.InsertRule(context.Background(), &store.ExecutionRule{
		Owner:        "owner1",
		RuleType:     store.RuleTypeRadius,
		Center:       geo.Coordinate{Latitude: 40.0, Longitude: -74.0},
		RadiusMeters: 100,
		FunctionName: "get_location",
		IsActive:     true,
		CreatedAt:    time.Now(),
	})
	require.NoError(t, err)

	resp, body := getJSON(t, srv.URL+"/v1/rules")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1.0", body["version"])
	assert.EqualValues(t, 1, body["count"])
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
