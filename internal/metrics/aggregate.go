package metrics

import (
	"fmt"
	"math"

	"github.com/AngelCh415/creative-ops/internal/models"
)

// Aggregate folds the found video records of one entity into a single metric.
// It returns nil when no record was found, which is distinct from an all-zero aggregate.
func Aggregate(records []models.VideoMetricRecord) *models.AggregatedMetric {
	var raw models.AggregatedRaw
	var durSum float64
	n := 0
	for _, r := range records {
		if !r.Found || r.Raw == nil {
			continue
		}
		n++
		raw.Leads += r.Raw.Leads
		raw.Cost += r.Raw.Cost
		raw.Clicks += r.Raw.Clicks
		raw.Impressions += r.Raw.Impressions
		raw.CostFromSources += r.Raw.CostFromSources
		raw.ClicksOnLink += r.Raw.ClicksOnLink
		durSum += r.Raw.AvgDuration
		raw.DaysCount = math.Max(raw.DaysCount, r.Raw.DaysCount)
	}
	if n == 0 {
		return nil
	}

	// métricas derivadas
	raw.AvgDuration = durSum / float64(n)
	raw.CPL = safeDivF(raw.Cost, raw.Leads)
	raw.CTR = safeDivF(raw.ClicksOnLink, raw.Impressions) * 100
	raw.CPC = safeDivF(raw.Cost, raw.Clicks)
	raw.CPM = safeDivF(raw.CostFromSources, raw.Impressions) * 1000

	return &models.AggregatedMetric{
		Found:      true,
		VideoCount: n,
		Data: models.AggregatedData{
			Raw:       raw,
			Formatted: format(raw),
		},
	}
}

// AggregateEntity picks the records belonging to e's videos out of byName and aggregates them.
// A title listed more than once counts once.
func AggregateEntity(e models.Entity, byName map[string]models.VideoMetricRecord) *models.AggregatedMetric {
	if len(e.LinkTitles) == 0 {
		return nil
	}
	recs := make([]models.VideoMetricRecord, 0, len(e.LinkTitles))
	seen := make(map[string]struct{}, len(e.LinkTitles))
	for _, title := range e.LinkTitles {
		k := normName(title)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if r, ok := byName[k]; ok {
			recs = append(recs, r)
		}
	}
	return Aggregate(recs)
}

func format(r models.AggregatedRaw) models.AggregatedFormatted {
	return models.AggregatedFormatted{
		Leads:           count(r.Leads),
		Cost:            money(r.Cost),
		Clicks:          count(r.Clicks),
		Impressions:     count(r.Impressions),
		AvgDuration:     fmt.Sprintf("%.2fs", round2(r.AvgDuration)),
		DaysCount:       count(r.DaysCount),
		CostFromSources: money(r.CostFromSources),
		ClicksOnLink:    count(r.ClicksOnLink),
		CPL:             money(r.CPL),
		CTR:             fmt.Sprintf("%.2f%%", round2(r.CTR)),
		CPC:             money(r.CPC),
		CPM:             money(r.CPM),
	}
}

func money(f float64) string { return fmt.Sprintf("%.2f$", round2(f)) }
func count(f float64) string { return fmt.Sprintf("%.0f", math.Round(f)) }

func safeDivF(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
