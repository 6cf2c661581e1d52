package geo

import "math"

// earthRadiusMeters is the mean Earth radius used for geodesic distance.
const earthRadiusMeters = 6371000.0

// Coordinate is a WGS84 position.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DistanceMeters returns the haversine (great-circle) distance between two
// coordinates in meters.
func DistanceMeters(a, b Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// WithinRadius reports whether p lies within radiusMeters of center.
// The boundary itself is inside: distance == radius matches.
func WithinRadius(p, center Coordinate, radiusMeters float64) bool {
	return DistanceMeters(p, center) <= radiusMeters
}

// InPolygon reports whether p is inside or on the boundary of the polygon
// described by vertices (ordered, not necessarily closed). Uses a ray cast
// over lat/lng treated as planar, which is adequate for the small areas
// geofences describe.
func InPolygon(p Coordinate, vertices []Coordinate) bool {
	n := len(vertices)
	if n < 3 {
		return false
	}
	if onPolygonBoundary(p, vertices) {
		return true
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		vi, vj := vertices[i], vertices[j]
		if (vi.Longitude > p.Longitude) != (vj.Longitude > p.Longitude) {
			cross := (vj.Latitude-vi.Latitude)*(p.Longitude-vi.Longitude)/
				(vj.Longitude-vi.Longitude) + vi.Latitude
			if p.Latitude < cross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

func onPolygonBoundary(p Coordinate, vertices []Coordinate) bool {
	const eps = 1e-12
	n := len(vertices)
	j := n - 1
	for i := 0; i < n; i++ {
		if onSegment(p, vertices[j], vertices[i], eps) {
			return true
		}
		j = i
	}
	return false
}

// onSegment reports whether p lies on the segment a→b within tolerance eps.
func onSegment(p, a, b Coordinate, eps float64) bool {
	cross := (b.Longitude-a.Longitude)*(p.Latitude-a.Latitude) -
		(b.Latitude-a.Latitude)*(p.Longitude-a.Longitude)
	if math.Abs(cross) > eps {
		return false
	}
	dot := (p.Longitude-a.Longitude)*(b.Longitude-a.Longitude) +
		(p.Latitude-a.Latitude)*(b.Latitude-a.Latitude)
	if dot < -eps {
		return false
	}
	lenSq := (b.Longitude-a.Longitude)*(b.Longitude-a.Longitude) +
		(b.Latitude-a.Latitude)*(b.Latitude-a.Latitude)
	return dot <= lenSq+eps
}
