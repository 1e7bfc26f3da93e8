package domain

import "math"

const (
	// metersPerDegree is a flat-earth approximation of one degree of
	// latitude in meters, used to convert a simplification tolerance
	// from meters to degrees.
	metersPerDegree = 111320.0

	// minEpsilonDegrees floors the angular tolerance so a zero or tiny
	// meter tolerance still simplifies instead of degenerating.
	minEpsilonDegrees = 1e-6

	// SimplifyVertexThreshold is the total vertex count above which a
	// polygon is simplified before being sent in a spatial query.
	SimplifyVertexThreshold = 1500

	// DefaultSimplifyToleranceMeters keeps boundary filters within a
	// parcel-scale error while cutting payloads by an order of magnitude.
	DefaultSimplifyToleranceMeters = 25
)

// Ring is an ordered vertex sequence; each vertex is [longitude,
// latitude]. A closed ring repeats its first vertex at the end.
type Ring [][2]float64

// Closed reports whether the ring's first and last vertices coincide.
func (r Ring) Closed() bool {
	return len(r) >= 2 && r[0] == r[len(r)-1]
}

// TotalVertices sums the vertex counts of all rings.
func TotalVertices(rings []Ring) int {
	n := 0
	for _, r := range rings {
		n += len(r)
	}
	return n
}

// SimplifyRings reduces each ring with Douglas–Peucker at the given
// tolerance in meters. Closed rings stay closed: the duplicated closing
// vertex is removed before simplification and re-appended after.
// Degenerate rings (fewer than 3 vertices) pass through unchanged.
func SimplifyRings(rings []Ring, toleranceMeters float64) []Ring {
	eps := math.Max(minEpsilonDegrees, toleranceMeters/metersPerDegree)
	out := make([]Ring, 0, len(rings))
	for _, ring := range rings {
		if len(ring) < 3 {
			out = append(out, ring)
			continue
		}
		closed := ring.Closed()
		core := ring
		if closed {
			core = ring[:len(ring)-1]
		}
		simp := douglasPeucker(core, eps)
		if closed {
			simp = append(simp, simp[0])
		}
		out = append(out, simp)
	}
	return out
}

// douglasPeucker keeps the vertex of maximum perpendicular deviation
// from the chord whenever it exceeds eps, recursing on both halves.
func douglasPeucker(pts Ring, eps float64) Ring {
	if len(pts) <= 2 {
		return append(Ring{}, pts...)
	}
	a, b := pts[0], pts[len(pts)-1]
	dmax, idx := 0.0, -1
	for i := 1; i < len(pts)-1; i++ {
		if d := perpendicularDistance(pts[i], a, b); d > dmax {
			dmax, idx = d, i
		}
	}
	if dmax > eps && idx != -1 {
		left := douglasPeucker(pts[:idx+1], eps)
		right := douglasPeucker(pts[idx:], eps)
		return append(left[:len(left)-1], right...)
	}
	return Ring{a, b}
}

// perpendicularDistance measures point p against segment ab, clamping
// the projection to the segment so coincident endpoints degrade to a
// plain point distance instead of dividing by zero.
func perpendicularDistance(p, a, b [2]float64) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	if dx == 0 && dy == 0 {
		return math.Hypot(p[0]-a[0], p[1]-a[1])
	}
	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / (dx*dx + dy*dy)
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p[0]-(a[0]+t*dx), p[1]-(a[1]+t*dy))
}
