package metrics

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/AngelCh415/creative-ops/internal/models"
	"github.com/AngelCh415/creative-ops/internal/utils"
)

type Fetcher interface {
	GetBatchVideoMetrics(ctx context.Context, names []string) ([]models.VideoMetricRecord, error)
}

// Cache is the metrics cache table keyed by video name.
type Cache interface {
	GetCachedMetrics(ctx context.Context, names []string, freshAfter time.Time) (map[string]models.VideoMetricRecord, error)
	PutCachedMetrics(ctx context.Context, recs []models.VideoMetricRecord, at time.Time) error
}

type Service struct {
	f     Fetcher
	cache Cache
	ttl   time.Duration
	now   func() time.Time
	log   *slog.Logger
}

// NewService builds the aggregation service. cache may be nil.
func NewService(f Fetcher, cache Cache, ttl time.Duration, log *slog.Logger) *Service {
	return &Service{f: f, cache: cache, ttl: ttl, now: time.Now, log: log}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func normName(s string) string { return strings.TrimSpace(s) }

// VideoRecords resolves one record per distinct video name, cache first.
// A fetch error is returned together with whatever the cache could serve.
func (s *Service) VideoRecords(ctx context.Context, names []string) (map[string]models.VideoMetricRecord, error) {
	out := make(map[string]models.VideoMetricRecord, len(names))
	uniq := make([]string, 0, len(names))
	for _, n := range names {
		k := normName(n)
		if k == "" {
			continue
		}
		if _, ok := out[k]; ok {
			continue
		}
		out[k] = models.VideoMetricRecord{Name: k}
		uniq = append(uniq, k)
	}
	if len(uniq) == 0 {
		return out, nil
	}

	missing := uniq
	if s.cache != nil && s.ttl > 0 {
		hits, err := s.cache.GetCachedMetrics(ctx, uniq, s.now().Add(-s.ttl))
		if err != nil {
			s.log.Warn("metrics cache read failed", slog.String("err", err.Error()))
			hits = nil
		}
		missing = missing[:0:0]
		for _, k := range uniq {
			if rec, ok := hits[k]; ok {
				out[k] = rec
				utils.MetricsCacheLookups.WithLabelValues("hit").Inc()
				continue
			}
			utils.MetricsCacheLookups.WithLabelValues("miss").Inc()
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	recs, fetchErr := s.f.GetBatchVideoMetrics(ctx, missing)
	found := make([]models.VideoMetricRecord, 0, len(recs))
	for _, r := range recs {
		k := normName(r.Name)
		out[k] = r
		if r.Found {
			found = append(found, r)
		}
	}
	if s.cache != nil && len(found) > 0 {
		if err := s.cache.PutCachedMetrics(ctx, found, s.now()); err != nil {
			s.log.Warn("metrics cache write failed", slog.String("err", err.Error()))
		}
	}
	return out, fetchErr
}

// AggregateEntities returns one entry per entity id; the value is nil for entities without data.
func (s *Service) AggregateEntities(ctx context.Context, entities []models.Entity) (map[string]*models.AggregatedMetric, error) {
	var names []string
	for _, e := range entities {
		names = append(names, e.LinkTitles...)
	}
	byName, err := s.VideoRecords(ctx, names)
	if err != nil {
		s.log.Warn("metrics lookup degraded", slog.Int("entities", len(entities)), slog.String("err", err.Error()))
	}
	out := make(map[string]*models.AggregatedMetric, len(entities))
	for _, e := range entities {
		out[e.ID] = AggregateEntity(e, byName)
	}
	return out, err
}
