package selection

import "github.com/earthring/zoneselect/internal/geometry"

// computeMetrics measures zones on every call. Zones whose area cannot be
// determined add nothing to the totals and are never largest or smallest.
func computeMetrics(zones []Zone, oracle geometry.Oracle) Metrics {
	m := Metrics{Count: len(zones)}
	var largest, smallest float64

	for i := range zones {
		z := zones[i]
		if z.Geometry != nil && oracle != nil {
			if p, err := oracle.Perimeter(z.Geometry); err == nil {
				m.TotalPerimeter += p
			}
		}
		area, ok := zoneArea(z, oracle)
		if !ok {
			continue
		}
		m.TotalArea += area
		if m.Largest == nil || area > largest {
			m.Largest, largest = &zones[i], area
		}
		if m.Smallest == nil || area < smallest {
			m.Smallest, smallest = &zones[i], area
		}
	}
	if m.Count > 0 {
		m.AverageArea = m.TotalArea / float64(m.Count)
	}
	return m
}
