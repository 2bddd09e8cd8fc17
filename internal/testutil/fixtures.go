package testutil

import (
	"fmt"
	"math/rand/v2"

	"github.com/earthring/zoneselect/internal/selection"
	"github.com/paulmach/orb"
)

// RandomString generates a random string of specified length
func RandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.IntN(len(charset))]
	}
	return string(b)
}

// RandomUsername generates a random username
func RandomUsername() string {
	return "testuser_" + RandomString(8)
}

// Square returns a closed axis-aligned square polygon.
func Square(x, y, size float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
	}}
}

// ZoneGrid returns rows*cols unit-square zones named z-<row>-<col>. Zones
// in the same row or column share edges. Every zone carries a "row"
// property.
func ZoneGrid(rows, cols int) []selection.Zone {
	zones := make([]selection.Zone, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			geom := Square(float64(c), float64(r), 1)
			bound := geom.Bound()
			zones = append(zones, selection.Zone{
				ID:         fmt.Sprintf("z-%d-%d", r, c),
				Name:       fmt.Sprintf("Zone %d,%d", r, c),
				Geometry:   geom,
				Properties: map[string]any{"row": float64(r)},
				BBox:       &bound,
			})
		}
	}
	return zones
}
