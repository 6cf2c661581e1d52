package rules_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletwatch/geotrigger/internal/geo"
	"github.com/walletwatch/geotrigger/internal/rules"
	"github.com/walletwatch/geotrigger/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func radiusRule(center geo.Coordinate, radius float64, createdAt time.Time) *store.ExecutionRule {
	return &store.ExecutionRule{
		Owner:        "owner1",
		RuleType:     store.RuleTypeRadius,
		Center:       center,
		RadiusMeters: radius,
		AutoExecute:  true,
		FunctionName: "get_location",
		IsActive:     true,
		CreatedAt:    createdAt,
	}
}

func TestMatchRadiusContainment(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	center := geo.Coordinate{Latitude: 40.0, Longitude: -74.0}

	_, err := s.InsertRule(ctx, radiusRule(center, 50, time.Now()))
	require.NoError(t, err)

	m := rules.New(s)

	inside, err := m.Match(ctx, "W1", geo.Coordinate{Latitude: 40.0001, Longitude: -74.0001})
	require.NoError(t, err)
	assert.Len(t, inside, 1)

	outside, err := m.Match(ctx, "W1", geo.Coordinate{Latitude: 40.01, Longitude: -74.01})
	require.NoError(t, err)
	assert.Empty(t, outside)
}

func TestMatchOrderedByCreation(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	center := geo.Coordinate{Latitude: 40.0, Longitude: -74.0}
	base := time.Now().Truncate(time.Second)

	// Insert out of creation order on purpose.
	late, err := s.InsertRule(ctx, radiusRule(center, 100, base.Add(time.Hour)))
	require.NoError(t, err)
	early, err := s.InsertRule(ctx, radiusRule(center, 100, base))
	require.NoError(t, err)

	matched, err := rules.New(s).Match(ctx, "W1", center)
	require.NoError(t, err)
	require.Len(t, matched, 2)
	assert.Equal(t, early, matched[0].ID)
	assert.Equal(t, late, matched[1].ID)
}

func TestMatchSkipsInactiveAndForeignTargets(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	center := geo.Coordinate{Latitude: 40.0, Longitude: -74.0}

	inactive := radiusRule(center, 100, time.Now())
	inactive.IsActive = false
	_, err := s.InsertRule(ctx, inactive)
	require.NoError(t, err)

	scoped := radiusRule(center, 100, time.Now())
	scoped.TargetWallet = "W-other"
	_, err = s.InsertRule(ctx, scoped)
	require.NoError(t, err)

	mine := radiusRule(center, 100, time.Now())
	mine.TargetWallet = "W1"
	mineID, err := s.InsertRule(ctx, mine)
	require.NoError(t, err)

	matched, err := rules.New(s).Match(ctx, "W1", center)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, mineID, matched[0].ID)
}

func TestMatchGeofence(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	fenceID, err := s.InsertGeofence(ctx, "downtown", []geo.Coordinate{
		{Latitude: 40.0, Longitude: -74.0},
		{Latitude: 40.0, Longitude: -73.9},
		{Latitude: 40.1, Longitude: -73.9},
		{Latitude: 40.1, Longitude: -74.0},
	})
	require.NoError(t, err)

	rule := &store.ExecutionRule{
		Owner:        "owner1",
		RuleType:     store.RuleTypeGeofence,
		GeofenceID:   &fenceID,
		AutoExecute:  true,
		FunctionName: "get_location",
		IsActive:     true,
	}
	_, err = s.InsertRule(ctx, rule)
	require.NoError(t, err)

	m := rules.New(s)

	inside, err := m.Match(ctx, "W1", geo.Coordinate{Latitude: 40.05, Longitude: -73.95})
	require.NoError(t, err)
	assert.Len(t, inside, 1)

	outside, err := m.Match(ctx, "W1", geo.Coordinate{Latitude: 40.5, Longitude: -73.95})
	require.NoError(t, err)
	assert.Empty(t, outside)
}
