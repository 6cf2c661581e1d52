package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletwatch/geotrigger/internal/geo"
	"github.com/walletwatch/geotrigger/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insertUpdate(t *testing.T, s *store.Store, id, wallet string, receivedAt time.Time) {
	t.Helper()
	require.NoError(t, s.InsertUpdate(context.Background(), &store.LocationUpdate{
		ID:         id,
		Wallet:     wallet,
		Coordinate: geo.Coordinate{Latitude: 40.0, Longitude: -74.0},
		ReceivedAt: receivedAt,
	}))
}

func baseRule(fn string) *store.ExecutionRule {
	return &store.ExecutionRule{
		Owner:        "owner1",
		RuleType:     store.RuleTypeRadius,
		Center:       geo.Coordinate{Latitude: 40.0, Longitude: -74.0},
		RadiusMeters: 50,
		AutoExecute:  true,
		FunctionName: fn,
		IsActive:     true,
	}
}

func TestOpenMigratesOnceAndReopens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := store.Open(path)
	require.NoError(t, err)
	insertUpdate(t, s, "u1", "W1", time.Now())
	require.NoError(t, s.Close())

	// Second open finds the schema already stamped and leaves the data alone.
	s, err = store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	u, err := s.GetUpdate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "W1", u.Wallet)
}

func TestMarkSupersededKeepsFreshest(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	insertUpdate(t, s, "a", "W1", base)
	insertUpdate(t, s, "b", "W1", base.Add(10*time.Second))
	insertUpdate(t, s, "c", "W2", base)

	n, err := s.MarkSuperseded(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	a, err := s.GetUpdate(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSkipped, a.Status)
	assert.Equal(t, store.SkipSuperseded, a.SkipReason)

	b, err := s.GetUpdate(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, b.Status)

	c, err := s.GetUpdate(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, c.Status)

	// Idempotent: nothing left to supersede.
	n, err = s.MarkSuperseded(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClaimNextBatchFlipsToProcessing(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	insertUpdate(t, s, "a", "W1", base)
	insertUpdate(t, s, "b", "W2", base.Add(time.Second))

	claimed, err := s.ClaimNextBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "a", claimed[0].ID) // oldest first
	assert.Equal(t, store.StatusProcessing, claimed[0].Status)

	// A processing update is never reclaimed.
	claimed, err = s.ClaimNextBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestCompleteUpdateRecordsOutcomes(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	ruleID, err := s.InsertRule(ctx, baseRule("get_location"))
	require.NoError(t, err)
	insertUpdate(t, s, "u1", "W1", now)

	err = s.CompleteUpdate(ctx, "u1", store.StatusExecuted, []int64{ruleID}, []*store.ExecutionOutcome{{
		UpdateID:       "u1",
		RuleID:         ruleID,
		Wallet:         "W1",
		Success:        true,
		Completed:      true,
		TransactionRef: "sim-123",
		MatchedAt:      now,
		CompletedAt:    &now,
	}})
	require.NoError(t, err)

	u, err := s.GetUpdate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusExecuted, u.Status)

	outcomes, err := s.OutcomesForUpdate(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Completed)
	assert.Equal(t, "sim-123", outcomes[0].TransactionRef)
	require.NotNil(t, outcomes[0].CompletedAt)
}

func TestDwellAccumulatesAndResets(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	ruleID, err := s.InsertRule(ctx, baseRule("get_location"))
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second)
	s.SetNow(func() time.Time { return now })

	rec, err := s.DwellUpsert(ctx, ruleID, "W1", true)
	require.NoError(t, err)
	assert.Zero(t, rec.AccumulatedSeconds)
	assert.True(t, rec.IsInRange)

	// Two cycles 5s apart while in range.
	now = now.Add(5 * time.Second)
	rec, err = s.DwellUpsert(ctx, ruleID, "W1", true)
	require.NoError(t, err)
	assert.InDelta(t, 5, rec.AccumulatedSeconds, 0.01)

	now = now.Add(5 * time.Second)
	rec, err = s.DwellUpsert(ctx, ruleID, "W1", true)
	require.NoError(t, err)
	assert.InDelta(t, 10, rec.AccumulatedSeconds, 0.01)

	// Leaving the area resets to zero.
	now = now.Add(5 * time.Second)
	rec, err = s.DwellUpsert(ctx, ruleID, "W1", false)
	require.NoError(t, err)
	assert.Zero(t, rec.AccumulatedSeconds)
	assert.False(t, rec.IsInRange)

	// Re-entry restarts from zero, not from the old total.
	now = now.Add(5 * time.Second)
	rec, err = s.DwellUpsert(ctx, ruleID, "W1", true)
	require.NoError(t, err)
	assert.Zero(t, rec.AccumulatedSeconds)
	now = now.Add(5 * time.Second)
	rec, err = s.DwellUpsert(ctx, ruleID, "W1", true)
	require.NoError(t, err)
	assert.InDelta(t, 5, rec.AccumulatedSeconds, 0.01)
}

func TestResetDwellExcept(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	r1, err := s.InsertRule(ctx, baseRule("get_location"))
	require.NoError(t, err)
	r2, err := s.InsertRule(ctx, baseRule("balance"))
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second)
	s.SetNow(func() time.Time { return now })

	_, err = s.DwellUpsert(ctx, r1, "W1", true)
	require.NoError(t, err)
	_, err = s.DwellUpsert(ctx, r2, "W1", true)
	require.NoError(t, err)
	now = now.Add(10 * time.Second)
	_, err = s.DwellUpsert(ctx, r1, "W1", true)
	require.NoError(t, err)
	_, err = s.DwellUpsert(ctx, r2, "W1", true)
	require.NoError(t, err)

	// Wallet still matches r1 but left r2's area.
	require.NoError(t, s.ResetDwellExcept(ctx, "W1", []int64{r1}))

	kept, err := s.Dwell(ctx, r1, "W1")
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.InDelta(t, 10, kept.AccumulatedSeconds, 0.01)
	assert.True(t, kept.IsInRange)

	reset, err := s.Dwell(ctx, r2, "W1")
	require.NoError(t, err)
	require.NotNil(t, reset)
	assert.Zero(t, reset.AccumulatedSeconds)
	assert.False(t, reset.IsInRange)
}

func TestRateLimitCountWindow(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	ruleID, err := s.InsertRule(ctx, baseRule("get_location"))
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second)
	s.SetNow(func() time.Time { return now })

	_, err = s.RecordExecution(ctx, ruleID, "W1", "tx1", "{}")
	require.NoError(t, err)

	count, err := s.RateLimitCount(ctx, ruleID, "W1", 3600)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Another wallet is unaffected.
	count, err = s.RateLimitCount(ctx, ruleID, "W2", 3600)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Window slides past the execution.
	now = now.Add(3601 * time.Second)
	count, err = s.RateLimitCount(ctx, ruleID, "W1", 3600)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPendingOutcomesViewAndSettle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	rule := baseRule("transfer")
	rule.RequiresWebAuthn = true
	rule.ParameterTemplate = map[string]string{"to": "{wallet}"}
	ruleID, err := s.InsertRule(ctx, rule)
	require.NoError(t, err)

	insertUpdate(t, s, "u1", "W1", now)
	insertUpdate(t, s, "u2", "W1", now.Add(time.Minute))

	hold := func(updateID string, at time.Time) *store.ExecutionOutcome {
		return &store.ExecutionOutcome{
			UpdateID:   updateID,
			RuleID:     ruleID,
			Wallet:     "W1",
			SkipReason: store.SkipRequiresWebAuthn,
			MatchedAt:  at,
		}
	}
	require.NoError(t, s.CompleteUpdate(ctx, "u1", store.StatusMatched, []int64{ruleID},
		[]*store.ExecutionOutcome{hold("u1", now)}))
	require.NoError(t, s.CompleteUpdate(ctx, "u2", store.StatusMatched, []int64{ruleID},
		[]*store.ExecutionOutcome{hold("u2", now.Add(time.Minute))}))

	// One row per (rule, wallet): the newest hold.
	pending, err := s.PendingOutcomes(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ruleID, pending[0].RuleID)
	assert.Equal(t, "W1", pending[0].Wallet)
	assert.Equal(t, store.SkipRequiresWebAuthn, pending[0].SkipReason)
	assert.Equal(t, "transfer", pending[0].FunctionName)
	assert.Equal(t, "{wallet}", pending[0].ParameterTemplate["to"])

	// Settling completes every hold for the pair and empties the view.
	settled, err := s.SettleOutcomes(ctx, ruleID, "W1", "tx-real")
	require.NoError(t, err)
	assert.Equal(t, int64(2), settled)

	pending, err = s.PendingOutcomes(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	outcomes, err := s.OutcomesForUpdate(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Completed)
	assert.Equal(t, "tx-real", outcomes[0].TransactionRef)
}

func TestPurgeExpiredRetention(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	s.SetNow(func() time.Time { return now })

	ruleID, err := s.InsertRule(ctx, baseRule("get_location"))
	require.NoError(t, err)

	old := now.Add(-100 * time.Hour)
	insertUpdate(t, s, "aged-no-exec", "W1", old)
	insertUpdate(t, s, "aged-completed", "W2", old)
	insertUpdate(t, s, "fresh", "W3", now)

	require.NoError(t, s.CompleteUpdate(ctx, "aged-no-exec", store.StatusMatched, []int64{ruleID},
		[]*store.ExecutionOutcome{{
			UpdateID: "aged-no-exec", RuleID: ruleID, Wallet: "W1",
			SkipReason: store.SkipRequiresWebAuthn, MatchedAt: old,
		}}))
	require.NoError(t, s.CompleteUpdate(ctx, "aged-completed", store.StatusExecuted, []int64{ruleID},
		[]*store.ExecutionOutcome{
			{UpdateID: "aged-completed", RuleID: ruleID, Wallet: "W2", Success: true,
				Completed: true, TransactionRef: "tx1", MatchedAt: old, CompletedAt: &old},
			{UpdateID: "aged-completed", RuleID: ruleID, Wallet: "W2",
				SkipReason: store.SkipRequiresConfirmation, MatchedAt: old},
		}))
	require.NoError(t, s.CompleteUpdate(ctx, "fresh", store.StatusMatched, []int64{ruleID},
		[]*store.ExecutionOutcome{{
			UpdateID: "fresh", RuleID: ruleID, Wallet: "W3",
			SkipReason: store.SkipRequiresWebAuthn, MatchedAt: now,
		}}))

	deleted, err := s.PurgeExpired(ctx, 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// The update with no completed outcome is gone.
	_, err = s.GetUpdate(ctx, "aged-no-exec")
	assert.Error(t, err)

	// The completed update survives; its held outcome is superseded.
	_, err = s.GetUpdate(ctx, "aged-completed")
	require.NoError(t, err)
	outcomes, err := s.OutcomesForUpdate(ctx, "aged-completed")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		if !o.Completed {
			assert.Equal(t, store.SkipSuperseded, o.SkipReason)
		}
	}

	// Fresh rows untouched.
	_, err = s.GetUpdate(ctx, "fresh")
	require.NoError(t, err)

	// Idempotent.
	deleted, err = s.PurgeExpired(ctx, 72*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
