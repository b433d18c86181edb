// Package metricsapi talks to the remote video metrics lookup API.
package metricsapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/AngelCh415/creative-ops/internal/models"
	"github.com/AngelCh415/creative-ops/internal/remote"
	"github.com/AngelCh415/creative-ops/internal/utils"
)

// ErrUnavailable means no chunk of a batch reached the API.
var ErrUnavailable = errors.New("metrics api unavailable")

const defaultBatchSize = 50

type Config struct {
	BaseURL   string
	BatchSize int
	Retries   int
}

type Client struct {
	baseURL   string
	batchSize int
	r         *remote.Retrier
	log       *slog.Logger
}

func New(c remote.HTTPClient, cfg Config, log *slog.Logger) *Client {
	bs := cfg.BatchSize
	if bs <= 0 {
		bs = defaultBatchSize
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		batchSize: bs,
		r:         remote.NewRetrier(c, cfg.Retries),
		log:       log,
	}
}

type batchRequest struct {
	Names []string `json:"names"`
}

type batchResponse struct {
	Results []batchItem `json:"results"`
}

type batchItem struct {
	Name  string `json:"name"`
	Found bool   `json:"found"`
	Error string `json:"error"`
	Data  *struct {
		Raw       *models.RawMetrics       `json:"raw"`
		Formatted *models.FormattedMetrics `json:"formatted"`
	} `json:"data"`
}

// GetBatchVideoMetrics returns exactly one record per input name, in input order.
// Per-name and per-chunk failures degrade to Found=false; only when every chunk failed is an
// error (wrapping ErrUnavailable) returned alongside the degraded records.
func (c *Client) GetBatchVideoMetrics(ctx context.Context, names []string) ([]models.VideoMetricRecord, error) {
	out := make([]models.VideoMetricRecord, len(names))
	uniq := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		k := strings.TrimSpace(n)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			uniq = append(uniq, k)
		}
	}

	byName := make(map[string]models.VideoMetricRecord, len(uniq))
	var chunks, failed int
	var lastErr error
	if c.baseURL == "" && len(uniq) > 0 {
		chunks, failed, lastErr = 1, 1, errors.New("base url not configured")
		for _, n := range uniq {
			byName[n] = models.VideoMetricRecord{Name: n, Error: lastErr.Error()}
		}
	} else {
		for start := 0; start < len(uniq); start += c.batchSize {
			end := min(start+c.batchSize, len(uniq))
			chunk := uniq[start:end]
			chunks++
			if err := c.fetchChunk(ctx, chunk, byName); err != nil {
				failed++
				lastErr = err
				utils.RemoteCalls.WithLabelValues("metrics", "error").Inc()
				c.log.Warn("metrics batch failed", slog.Int("names", len(chunk)), slog.String("err", err.Error()))
				for _, n := range chunk {
					byName[n] = models.VideoMetricRecord{Name: n, Error: err.Error()}
				}
				continue
			}
			utils.RemoteCalls.WithLabelValues("metrics", "ok").Inc()
		}
	}

	for i, n := range names {
		k := strings.TrimSpace(n)
		rec, ok := byName[k]
		switch {
		case k == "":
			rec = models.VideoMetricRecord{Error: "empty name"}
		case !ok:
			rec = models.VideoMetricRecord{Error: "not returned"}
		}
		rec.Name = n
		out[i] = rec
	}

	if chunks > 0 && failed == chunks {
		return out, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
	}
	return out, nil
}

func (c *Client) fetchChunk(ctx context.Context, chunk []string, into map[string]models.VideoMetricRecord) error {
	var resp batchResponse
	if err := c.r.PostJSON(ctx, c.baseURL+"/videos/metrics/batch", batchRequest{Names: chunk}, &resp); err != nil {
		return err
	}
	asked := make(map[string]struct{}, len(chunk))
	for _, n := range chunk {
		asked[n] = struct{}{}
	}
	for _, it := range resp.Results {
		name := strings.TrimSpace(it.Name)
		if _, ok := asked[name]; !ok {
			continue
		}
		into[name] = toRecord(name, it)
	}
	return nil
}

func toRecord(name string, it batchItem) models.VideoMetricRecord {
	rec := models.VideoMetricRecord{Name: name, Error: it.Error}
	if !it.Found {
		return rec
	}
	if it.Data == nil || it.Data.Raw == nil || !validRaw(*it.Data.Raw) {
		rec.Error = "malformed metrics payload"
		return rec
	}
	raw := *it.Data.Raw
	rec.Found = true
	rec.Error = ""
	rec.Raw = &raw
	rec.Formatted = it.Data.Formatted
	return rec
}

func validRaw(r models.RawMetrics) bool {
	for _, v := range []float64{r.Leads, r.Cost, r.Clicks, r.Impressions, r.AvgDuration, r.DaysCount, r.CostFromSources, r.ClicksOnLink} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
	}
	return true
}

// Health checks the API's health endpoint. It is not retried.
func (c *Client) Health(ctx context.Context) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: base url not configured", ErrUnavailable)
	}
	if err := remote.GetJSON(ctx, c.r.C, c.baseURL+"/health", nil); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
