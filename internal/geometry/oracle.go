package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// ErrUnsupportedGeometry is returned for anything that is not a Polygon,
// MultiPolygon or Bound.
var ErrUnsupportedGeometry = errors.New("geometry: unsupported geometry type")

// ErrDegenerateGeometry is returned for polygons with a ring that cannot
// enclose any area.
var ErrDegenerateGeometry = errors.New("geometry: degenerate polygon")

// Oracle answers the geometric questions the selection engine needs.
// Implementations must be deterministic for a fixed pair of inputs.
type Oracle interface {
	Intersects(a, b orb.Geometry) (bool, error)
	Overlaps(a, b orb.Geometry) (bool, error)
	Within(a, b orb.Geometry) (bool, error)
	Area(g orb.Geometry) (float64, error)
	Perimeter(g orb.Geometry) (float64, error)
	Centroid(g orb.Geometry) (orb.Point, error)
	Distance(a, b orb.Point) float64
	Buffer(g orb.Geometry, tolerance float64) (orb.Geometry, error)
	PointInPolygon(p orb.Point, g orb.Geometry) (bool, error)
}

// Measure selects how lengths and areas are computed.
type Measure int

const (
	// Planar treats coordinates as cartesian units.
	Planar Measure = iota
	// Geodesic treats coordinates as WGS84 lon/lat and reports meters.
	Geodesic
)

// String returns the configuration name of the measure.
func (m Measure) String() string {
	if m == Geodesic {
		return "geodesic"
	}
	return "planar"
}

// ParseMeasure maps a configuration value to a Measure. Unknown values
// fall back to Planar.
func ParseMeasure(s string) Measure {
	if s == "geodesic" {
		return Geodesic
	}
	return Planar
}

// OrbOracle implements Oracle on top of paulmach/orb.
// Predicates work on vertex containment and edge crossings, which is exact
// for simple polygons and good enough for map zones.
type OrbOracle struct {
	measure Measure
}

// NewOracle creates an orb-backed oracle using the given measure.
func NewOracle(m Measure) *OrbOracle {
	return &OrbOracle{measure: m}
}

// Measure reports the measure the oracle was built with.
func (o *OrbOracle) Measure() Measure {
	return o.measure
}

// Intersects reports whether a and b share any point, boundaries included.
func (o *OrbOracle) Intersects(a, b orb.Geometry) (bool, error) {
	pa, err := polygons(a)
	if err != nil {
		return false, err
	}
	pb, err := polygons(b)
	if err != nil {
		return false, err
	}
	if !a.Bound().Intersects(b.Bound()) {
		return false, nil
	}
	if anyVertexIn(pa, pb) || anyVertexIn(pb, pa) {
		return true, nil
	}
	return edgesTouch(pa, pb, false), nil
}

// Overlaps reports whether the interiors of a and b intersect while neither
// is within the other.
func (o *OrbOracle) Overlaps(a, b orb.Geometry) (bool, error) {
	pa, err := polygons(a)
	if err != nil {
		return false, err
	}
	pb, err := polygons(b)
	if err != nil {
		return false, err
	}
	if !a.Bound().Intersects(b.Bound()) {
		return false, nil
	}
	if within(pa, pb) || within(pb, pa) {
		return false, nil
	}
	if edgesTouch(pa, pb, true) {
		return true, nil
	}
	return anyVertexStrictlyIn(pa, pb) || anyVertexStrictlyIn(pb, pa), nil
}

// Within reports whether a lies completely inside b.
func (o *OrbOracle) Within(a, b orb.Geometry) (bool, error) {
	pa, err := polygons(a)
	if err != nil {
		return false, err
	}
	pb, err := polygons(b)
	if err != nil {
		return false, err
	}
	return within(pa, pb), nil
}

// Area returns the area of g in square units (square meters for Geodesic).
func (o *OrbOracle) Area(g orb.Geometry) (float64, error) {
	if _, err := polygons(g); err != nil {
		return 0, err
	}
	var area float64
	if o.measure == Geodesic {
		area = geo.Area(g)
	} else {
		area = planar.Area(g)
	}
	if math.IsNaN(area) || math.IsInf(area, 0) {
		return 0, fmt.Errorf("geometry: area is not finite")
	}
	return math.Abs(area), nil
}

// Perimeter returns the total ring length of g.
func (o *OrbOracle) Perimeter(g orb.Geometry) (float64, error) {
	if _, err := polygons(g); err != nil {
		return 0, err
	}
	if o.measure == Geodesic {
		return geo.Length(g), nil
	}
	return planar.Length(g), nil
}

// Centroid returns the area-weighted centroid of g.
func (o *OrbOracle) Centroid(g orb.Geometry) (orb.Point, error) {
	if _, err := polygons(g); err != nil {
		return orb.Point{}, err
	}
	c, _ := planar.CentroidArea(g)
	if math.IsNaN(c[0]) || math.IsNaN(c[1]) {
		return orb.Point{}, fmt.Errorf("geometry: degenerate centroid")
	}
	return c, nil
}

// Distance returns the distance between two points.
func (o *OrbOracle) Distance(a, b orb.Point) float64 {
	if o.measure == Geodesic {
		return geo.Distance(a, b)
	}
	return planar.Distance(a, b)
}

// Buffer grows g outward by tolerance coordinate units. Outer rings are
// offset outward with mitred corners and holes shrink by the same amount.
func (o *OrbOracle) Buffer(g orb.Geometry, tolerance float64) (orb.Geometry, error) {
	polys, err := polygons(g)
	if err != nil {
		return nil, err
	}
	if tolerance <= 0 {
		return g, nil
	}
	out := make(orb.MultiPolygon, 0, len(polys))
	for _, poly := range polys {
		buffered := make(orb.Polygon, 0, len(poly))
		for i, ring := range poly {
			buffered = append(buffered, offsetRing(ring, tolerance, i == 0))
		}
		out = append(out, buffered)
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return out, nil
}

// PointInPolygon reports whether p lies inside g, boundary included.
func (o *OrbOracle) PointInPolygon(p orb.Point, g orb.Geometry) (bool, error) {
	polys, err := polygons(g)
	if err != nil {
		return false, err
	}
	return containsPoint(polys, p), nil
}

// checkRings rejects rings with fewer than four points or fewer than three
// distinct vertices.
func checkRings(p orb.Polygon) error {
	for i, ring := range p {
		if len(ring) < 4 {
			return fmt.Errorf("%w: ring %d has %d points", ErrDegenerateGeometry, i, len(ring))
		}
		distinct := make(map[orb.Point]struct{}, len(ring))
		for _, pt := range ring {
			distinct[pt] = struct{}{}
		}
		if len(distinct) < 3 {
			return fmt.Errorf("%w: ring %d has %d distinct vertices", ErrDegenerateGeometry, i, len(distinct))
		}
	}
	return nil
}

func polygons(g orb.Geometry) ([]orb.Polygon, error) {
	switch v := g.(type) {
	case orb.Polygon:
		if len(v) == 0 {
			return nil, fmt.Errorf("geometry: empty polygon")
		}
		if err := checkRings(v); err != nil {
			return nil, err
		}
		return []orb.Polygon{v}, nil
	case orb.MultiPolygon:
		if len(v) == 0 {
			return nil, fmt.Errorf("geometry: empty multipolygon")
		}
		for _, p := range v {
			if len(p) == 0 {
				return nil, fmt.Errorf("geometry: empty polygon in multipolygon")
			}
			if err := checkRings(p); err != nil {
				return nil, err
			}
		}
		return []orb.Polygon(v), nil
	case orb.Bound:
		return []orb.Polygon{v.ToPolygon()}, nil
	case nil:
		return nil, fmt.Errorf("geometry: nil geometry")
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, g.GeoJSONType())
	}
}
