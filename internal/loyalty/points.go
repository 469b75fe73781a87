package loyalty

import "math"

// Tier is a named loyalty level covering an inclusive point range.
// The tier table partitions [0, ∞): ascending, no gaps, no overlaps.
type Tier struct {
	Name      string   `json:"name"`
	MinPoints int      `json:"minPoints"`
	MaxPoints int      `json:"maxPoints"`
	Benefits  []string `json:"benefits"`
}

var tiers = []Tier{
	{
		Name:      "Bronce",
		MinPoints: 0,
		MaxPoints: 999,
		Benefits:  []string{"Acceso a ofertas semanales"},
	},
	{
		Name:      "Plata",
		MinPoints: 1000,
		MaxPoints: 4999,
		Benefits:  []string{"5% de descuento", "Acceso anticipado a lanzamientos"},
	},
	{
		Name:      "Oro",
		MinPoints: 5000,
		MaxPoints: 14999,
		Benefits:  []string{"10% de descuento", "Envío gratis"},
	},
	{
		Name:      "Platino",
		MinPoints: 15000,
		MaxPoints: math.MaxInt,
		Benefits:  []string{"15% de descuento", "Envío gratis", "Soporte prioritario"},
	},
}

// Tiers returns the static tier table in ascending order.
func Tiers() []Tier {
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	return out
}

// TierFor maps a point total to its tier. Negative totals are not a
// valid input but must not crash; they map to the lowest tier.
func TierFor(points int) Tier {
	for i := len(tiers) - 1; i >= 0; i-- {
		if points >= tiers[i].MinPoints {
			return tiers[i]
		}
	}
	return tiers[0]
}

// NextTier returns the tier immediately above the current one, or
// ok=false when the total already sits in the last tier.
func NextTier(points int) (Tier, bool) {
	cur := TierFor(points)
	for i, t := range tiers {
		if t.Name == cur.Name && i+1 < len(tiers) {
			return tiers[i+1], true
		}
	}
	return Tier{}, false
}

// PointsToNext returns how many points are missing to enter the next
// tier, or 0 when there is none.
func PointsToNext(points int) int {
	next, ok := NextTier(points)
	if !ok {
		return 0
	}
	d := next.MinPoints - points
	if d < 0 {
		return 0
	}
	return d
}

// ProgressRatio reports progress through the current tier as a value
// in [0, 1]. It is exactly 1 in the last tier, and exactly 0 at the
// boundary where a tier is entered.
func ProgressRatio(points int) float64 {
	cur := TierFor(points)
	next, ok := NextTier(points)
	if !ok {
		return 1
	}
	r := float64(points-cur.MinPoints) / float64(next.MinPoints-cur.MinPoints)
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
