package selection

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"

	"github.com/earthring/zoneselect/internal/geometry"
	"github.com/paulmach/orb"
)

// AreaProperty is the zone property consulted before computing area from
// geometry.
const AreaProperty = "area"

// Validate checks zones against c. Every failing check contributes its
// message; nothing short-circuits. A nil c accepts anything.
func Validate(zones []Zone, c *Constraints, oracle geometry.Oracle) ValidationResult {
	result := ValidationResult{Valid: true}
	if c == nil {
		return result
	}

	n := len(zones)
	if c.MaxSelections != nil && n > *c.MaxSelections {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: selection of %d zones exceeds maximum of %d", ErrMaxSelections, n, *c.MaxSelections))
	}
	if c.MinSelections != nil && n < *c.MinSelections {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: selection of %d zones is below minimum of %d", ErrMinSelections, n, *c.MinSelections))
	}

	if c.MaxTotalArea != nil || c.MinTotalArea != nil {
		total := totalArea(zones, oracle)
		if c.MaxTotalArea != nil && total > *c.MaxTotalArea {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: total area %.2f exceeds maximum of %.2f", ErrConstraintViolation, total, *c.MaxTotalArea))
		}
		if c.MinTotalArea != nil && total < *c.MinTotalArea {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: total area %.2f is below minimum of %.2f", ErrConstraintViolation, total, *c.MinTotalArea))
		}
	}

	if c.MaxDistance != nil && n > 1 && oracle != nil {
		if a, b, d, ok := farthestPair(zones, oracle); ok && d > *c.MaxDistance {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: zones %q and %q are %.2f apart, maximum is %.2f", ErrConstraintViolation, a, b, d, *c.MaxDistance))
		}
	}

	if len(c.RequiredProperties) > 0 {
		for _, z := range zones {
			for _, key := range slices.Sorted(maps.Keys(c.RequiredProperties)) {
				want := c.RequiredProperties[key]
				got, ok := z.Properties[key]
				if !ok || !valuesEqual(got, want) {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: zone %q property %q must be %v", ErrConstraintViolation, z.ID, key, want))
				}
			}
		}
	}

	if c.Custom != nil {
		custom := c.Custom(zones)
		if !custom.Valid {
			if len(custom.Errors) == 0 {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: custom validation failed", ErrConstraintViolation))
			}
			result.Errors = append(result.Errors, custom.Errors...)
		}
		result.Warnings = append(result.Warnings, custom.Warnings...)
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// zoneArea prefers a numeric area property over the oracle. ok is false
// when neither yields a value.
func zoneArea(z Zone, oracle geometry.Oracle) (float64, bool) {
	if v, ok := z.Properties[AreaProperty]; ok {
		if f, ok := toFloat(v); ok {
			return f, true
		}
	}
	if oracle == nil || z.Geometry == nil {
		return 0, false
	}
	area, err := oracle.Area(z.Geometry)
	if err != nil {
		return 0, false
	}
	return area, true
}

func totalArea(zones []Zone, oracle geometry.Oracle) float64 {
	var total float64
	for _, z := range zones {
		if a, ok := zoneArea(z, oracle); ok {
			total += a
		}
	}
	return total
}

func farthestPair(zones []Zone, oracle geometry.Oracle) (string, string, float64, bool) {
	type located struct {
		id string
		c  orb.Point
	}
	points := make([]located, 0, len(zones))
	for _, z := range zones {
		if z.Geometry == nil {
			continue
		}
		c, err := oracle.Centroid(z.Geometry)
		if err != nil {
			continue
		}
		points = append(points, located{id: z.ID, c: c})
	}

	var (
		bestA, bestB string
		best         float64
		found        bool
	)
	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			d := oracle.Distance(points[i].c, points[j].c)
			if !found || d > best {
				bestA, bestB, best, found = points[i].id, points[j].id, d, true
			}
		}
	}
	return bestA, bestB, best, found
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// valuesEqual treats numbers of different Go types as equal when their
// values match, since properties usually come from decoded JSON.
func valuesEqual(got, want any) bool {
	gf, gok := toFloat(got)
	wf, wok := toFloat(want)
	if gok && wok {
		return gf == wf
	}
	return reflect.DeepEqual(got, want)
}
