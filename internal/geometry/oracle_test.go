package geometry

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
	}}
}

func TestOrbOracle_Measurements(t *testing.T) {
	o := NewOracle(Planar)
	sq := square(0, 0, 10)

	area, err := o.Area(sq)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, area, 1e-9)

	perimeter, err := o.Perimeter(sq)
	require.NoError(t, err)
	assert.InDelta(t, 40.0, perimeter, 1e-9)

	c, err := o.Centroid(sq)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, c[0], 1e-9)
	assert.InDelta(t, 5.0, c[1], 1e-9)

	assert.InDelta(t, 5.0, o.Distance(orb.Point{0, 0}, orb.Point{3, 4}), 1e-9)
}

func TestOrbOracle_MultiPolygonArea(t *testing.T) {
	o := NewOracle(Planar)
	mp := orb.MultiPolygon{square(0, 0, 2), square(10, 10, 3)}

	area, err := o.Area(mp)
	require.NoError(t, err)
	assert.InDelta(t, 13.0, area, 1e-9)
}

func TestOrbOracle_Predicates(t *testing.T) {
	o := NewOracle(Planar)
	base := square(0, 0, 10)

	tests := []struct {
		name       string
		other      orb.Polygon
		intersects bool
		overlaps   bool
		within     bool
	}{
		{"shared edge", square(10, 0, 10), true, false, false},
		{"shared corner", square(10, 10, 5), true, false, false},
		{"partial overlap", square(5, 5, 10), true, true, false},
		{"contained", square(2, 2, 3), true, false, true},
		{"disjoint", square(20, 20, 1), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := o.Intersects(base, tt.other)
			require.NoError(t, err)
			assert.Equal(t, tt.intersects, got, "intersects")

			got, err = o.Overlaps(base, tt.other)
			require.NoError(t, err)
			assert.Equal(t, tt.overlaps, got, "overlaps")

			got, err = o.Within(tt.other, base)
			require.NoError(t, err)
			assert.Equal(t, tt.within, got, "within")
		})
	}
}

func TestOrbOracle_Buffer(t *testing.T) {
	o := NewOracle(Planar)

	buffered, err := o.Buffer(square(0, 0, 10), 1)
	require.NoError(t, err)

	area, err := o.Area(buffered)
	require.NoError(t, err)
	assert.InDelta(t, 144.0, area, 1e-6)

	// A gap of 0.5 is bridged by a buffer of 1.
	gapped := square(10.5, 0, 5)
	hit, err := o.Intersects(square(0, 0, 10), gapped)
	require.NoError(t, err)
	assert.False(t, hit)

	hit, err = o.Intersects(buffered, gapped)
	require.NoError(t, err)
	assert.True(t, hit)

	same, err := o.Buffer(square(0, 0, 1), 0)
	require.NoError(t, err)
	assert.Equal(t, square(0, 0, 1), same)
}

func TestOrbOracle_PointInPolygon(t *testing.T) {
	o := NewOracle(Planar)
	sq := square(0, 0, 10)

	in, err := o.PointInPolygon(orb.Point{5, 5}, sq)
	require.NoError(t, err)
	assert.True(t, in)

	in, err = o.PointInPolygon(orb.Point{15, 5}, sq)
	require.NoError(t, err)
	assert.False(t, in)

	in, err = o.PointInPolygon(orb.Point{10, 5}, sq)
	require.NoError(t, err)
	assert.True(t, in, "boundary counts as inside")

	in, err = o.PointInPolygon(orb.Point{5, 5}, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{6, 6}})
	require.NoError(t, err)
	assert.True(t, in)
}

func TestOrbOracle_UnsupportedGeometry(t *testing.T) {
	o := NewOracle(Planar)
	line := orb.LineString{{0, 0}, {1, 1}}

	_, err := o.Area(line)
	require.ErrorIs(t, err, ErrUnsupportedGeometry)

	_, err = o.Intersects(line, square(0, 0, 1))
	require.ErrorIs(t, err, ErrUnsupportedGeometry)

	_, err = o.Centroid(nil)
	require.Error(t, err)
}

func TestOrbOracle_DegenerateGeometry(t *testing.T) {
	o := NewOracle(Planar)
	tests := []struct {
		name string
		geom orb.Geometry
	}{
		{"empty ring", orb.Polygon{orb.Ring{}}},
		{"too few points", orb.Polygon{orb.Ring{{0, 0}, {1, 0}, {0, 0}}}},
		{"collapsed ring", orb.Polygon{orb.Ring{{0, 0}, {1, 1}, {0, 0}, {1, 1}, {0, 0}}}},
		{"degenerate hole", orb.Polygon{square(0, 0, 4)[0], orb.Ring{}}},
		{"degenerate member", orb.MultiPolygon{square(0, 0, 1), {orb.Ring{}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Centroid(tt.geom)
			assert.ErrorIs(t, err, ErrDegenerateGeometry)
			_, err = o.Area(tt.geom)
			assert.ErrorIs(t, err, ErrDegenerateGeometry)
			_, err = o.Perimeter(tt.geom)
			assert.ErrorIs(t, err, ErrDegenerateGeometry)
			_, err = o.PointInPolygon(orb.Point{0, 0}, tt.geom)
			assert.ErrorIs(t, err, ErrDegenerateGeometry)
			_, err = o.Intersects(tt.geom, square(0, 0, 1))
			assert.ErrorIs(t, err, ErrDegenerateGeometry)
		})
	}
}

func TestOrbOracle_Geodesic(t *testing.T) {
	o := NewOracle(Geodesic)
	assert.Equal(t, Geodesic, o.Measure())

	d := o.Distance(orb.Point{0, 0}, orb.Point{0, 1})
	assert.InDelta(t, 111195.0, d, 500.0)

	area, err := o.Area(square(0, 0, 0.01))
	require.NoError(t, err)
	assert.Greater(t, area, 1.0e6)
}

func TestParseMeasure(t *testing.T) {
	assert.Equal(t, Geodesic, ParseMeasure("geodesic"))
	assert.Equal(t, Planar, ParseMeasure("planar"))
	assert.Equal(t, Planar, ParseMeasure(""))
	assert.Equal(t, "geodesic", Geodesic.String())
}
