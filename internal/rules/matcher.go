// Package rules implements spatial candidate selection for location updates.
package rules

import (
	"context"
	"fmt"

	"github.com/walletwatch/geotrigger/internal/geo"
	"github.com/walletwatch/geotrigger/internal/store"
)

// RuleSource is the slice of the store the matcher reads.
type RuleSource interface {
	ActiveRules(ctx context.Context) ([]*store.ExecutionRule, error)
	GeofenceVertices(ctx context.Context, id int64) ([]geo.Coordinate, error)
}

// Matcher selects the rules whose area contains a coordinate. Pure
// containment, boundary inclusive, no scoring; results keep rule-creation
// order so downstream recording is deterministic.
type Matcher struct {
	source RuleSource
}

// New creates a Matcher over the given rule source.
func New(source RuleSource) *Matcher {
	return &Matcher{source: source}
}

// Match returns every active rule that applies to wallet and contains coord.
// A rule scoped to a different target wallet is not a candidate at all.
func (m *Matcher) Match(ctx context.Context, wallet string, coord geo.Coordinate) ([]*store.ExecutionRule, error) {
	active, err := m.source.ActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}

	var matched []*store.ExecutionRule
	for _, r := range active {
		if r.TargetWallet != "" && r.TargetWallet != wallet {
			continue
		}
		ok, err := m.contains(ctx, r, coord)
		if err != nil {
			return nil, fmt.Errorf("match rule %d: %w", r.ID, err)
		}
		if ok {
			matched = append(matched, r)
		}
	}
	return matched, nil
}

func (m *Matcher) contains(ctx context.Context, r *store.ExecutionRule, coord geo.Coordinate) (bool, error) {
	switch r.RuleType {
	case store.RuleTypeRadius, store.RuleTypeProximity:
		return geo.WithinRadius(coord, r.Center, r.RadiusMeters), nil
	case store.RuleTypeGeofence:
		if r.GeofenceID == nil {
			// Misconfigured geofence rule: nothing to contain against.
			return false, nil
		}
		vertices, err := m.source.GeofenceVertices(ctx, *r.GeofenceID)
		if err != nil {
			return false, err
		}
		return geo.InPolygon(coord, vertices), nil
	default:
		return false, fmt.Errorf("unknown rule type %q", r.RuleType)
	}
}
