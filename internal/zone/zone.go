// Package zone maps an observed cost per lead onto a priced tier.
//
// Tiers are half-open intervals over the sorted prices: the cheapest tier takes every value
// below its price, tier i takes [price(i-1), price(i)), and any value at or above the top
// price is clamped into the top tier rather than reported as out of range.
//
// When two tiers share a price the cheaper tier in canonical order (green, gold, pink, red)
// keeps it and the other is dropped, so classification stays deterministic.
package zone

import (
	"math"
	"sort"

	"github.com/AngelCh415/creative-ops/internal/models"
)

var rank = func() map[string]int {
	m := make(map[string]int, len(models.TierOrder))
	for i, n := range models.TierOrder {
		m[n] = i
	}
	return m
}()

func validPositive(f float64) bool {
	return f > 0 && !math.IsNaN(f) && !math.IsInf(f, 0)
}

func tierRank(name string) int {
	if r, ok := rank[name]; ok {
		return r
	}
	return len(rank)
}

// Classify returns the tier value falls into. ok is false when value is not a positive finite
// number or no tier carries a usable price.
func Classify(tiers []models.Tier, value float64) (models.Tier, bool) {
	if !validPositive(value) {
		return models.Tier{}, false
	}
	sorted := make([]models.Tier, 0, len(tiers))
	for _, t := range tiers {
		if validPositive(t.Price) {
			sorted = append(sorted, t)
		}
	}
	if len(sorted) == 0 {
		return models.Tier{}, false
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Price != sorted[j].Price {
			return sorted[i].Price < sorted[j].Price
		}
		return tierRank(sorted[i].Name) < tierRank(sorted[j].Name)
	})

	uniq := sorted[:1]
	for _, t := range sorted[1:] {
		if t.Price != uniq[len(uniq)-1].Price {
			uniq = append(uniq, t)
		}
	}

	for i, t := range uniq {
		if i == 0 {
			if value < t.Price {
				return t, true
			}
			continue
		}
		if uniq[i-1].Price <= value && value < t.Price {
			return t, true
		}
	}
	return uniq[len(uniq)-1], true
}

// ClassifyThresholds classifies cpl against an article's stored thresholds.
func ClassifyThresholds(z models.ZoneThresholds, cpl float64) (models.Tier, bool) {
	return Classify(z.Tiers(), cpl)
}
