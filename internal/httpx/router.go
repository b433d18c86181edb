package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AngelCh415/creative-ops/internal/models"
	"github.com/AngelCh415/creative-ops/internal/period"
	"github.com/AngelCh415/creative-ops/internal/trello"
	"github.com/AngelCh415/creative-ops/internal/utils"
	"github.com/AngelCh415/creative-ops/internal/zone"
)

type EntityStore interface {
	CreateEntity(ctx context.Context, e models.Entity) (models.Entity, error)
	GetEntity(ctx context.Context, id string) (models.Entity, error)
	ListEntities(ctx context.Context, kind models.Kind) ([]models.Entity, error)
	AppendEdit(ctx context.Context, rec models.EditRecord) (models.EditRecord, error)
	EditsFor(ctx context.Context, ids []string) (map[string][]models.EditRecord, error)
	UpsertZone(ctx context.Context, z models.ZoneThresholds) error
	ZonesByArticles(ctx context.Context, articles []string) (map[string]models.ZoneThresholds, error)
	Ping(ctx context.Context) error
}

type Aggregator interface {
	AggregateEntities(ctx context.Context, entities []models.Entity) (map[string]*models.AggregatedMetric, error)
}

type CardFeed interface {
	Statuses(ctx context.Context) (map[string]models.CardStatus, error)
	Subscribe(ctx context.Context, fn func(models.StatusEvent)) (func(), error)
}

type HealthChecker interface {
	Health(ctx context.Context) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators served by the API.
type Deps struct {
	Log        *slog.Logger
	Store      EntityStore
	Shared     Pinger
	Metrics    Aggregator
	MetricsAPI HealthChecker
	Cards      CardFeed
	Period     period.Filter
}

type router struct{ Deps }

func NewRouter(d Deps) http.Handler {
	rt := &router{Deps: d}
	mux := chi.NewRouter()
	mux.Use(utils.RequestID)
	mux.Use(utils.Logger(d.Log))
	mux.Use(utils.Metrics)

	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	mux.Get("/readyz", rt.ready)
	mux.Handle("/metrics", promhttp.Handler())

	mux.Route("/api", func(api chi.Router) {
		api.Get("/entities", rt.listEntities)
		api.Post("/entities", rt.createEntity)
		api.Get("/entities/{id}/edits", rt.listEdits)
		api.Post("/entities/{id}/edits", rt.appendEdit)

		api.Put("/zones/{article}", rt.putZone)
		api.Get("/zones/{article}/classify", rt.classify)

		api.Get("/metrics/health", rt.metricsHealth)

		api.Get("/cards", rt.cards)
		api.Get("/cards/stream", rt.cardStream)
	})
	return mux
}

func (rt *router) ready(w http.ResponseWriter, r *http.Request) {
	if err := rt.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "db: "+err.Error())
		return
	}
	if rt.Shared != nil {
		if err := rt.Shared.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "shared store: "+err.Error())
			return
		}
	}
	w.WriteHeader(200)
	w.Write([]byte("ready"))
}

type entityView struct {
	models.Entity
	Metrics            *models.AggregatedMetric `json:"metrics"`
	Zone               *models.Tier             `json:"zone"`
	CardStatus         *models.CardStatus       `json:"card_status"`
	HasHistory         bool                     `json:"has_history"`
	MetricsUnavailable bool                     `json:"metrics_unavailable"`
}

func (rt *router) listEntities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	kind := models.Kind(q.Get("kind"))
	if kind != "" && !kind.Valid() {
		writeError(w, http.StatusBadRequest, "unknown kind")
		return
	}
	entities, err := rt.Store.ListEntities(ctx, kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	edits, err := rt.Store.EditsFor(ctx, ids)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if p := q.Get("period"); p != "" && p != period.All {
		rng, ok := rt.Period.RangeFor(p, q.Get("from"), q.Get("to"))
		if !ok {
			writeError(w, http.StatusBadRequest, "bad period")
			return
		}
		entities = period.FilterEntities(entities, rng, edits)
	}

	views := make([]entityView, len(entities))
	if len(entities) == 0 {
		writeJSON(w, views)
		return
	}

	aggs, aggErr := rt.Metrics.AggregateEntities(ctx, entities)
	if aggErr != nil {
		rt.Log.Warn("metrics degraded", slog.String("rid", utils.RID(ctx)), slog.String("err", aggErr.Error()))
	}

	articles := make([]string, 0, len(entities))
	seen := make(map[string]struct{})
	for _, e := range entities {
		if _, ok := seen[e.Article]; !ok {
			seen[e.Article] = struct{}{}
			articles = append(articles, e.Article)
		}
	}
	zones, err := rt.Store.ZonesByArticles(ctx, articles)
	if err != nil {
		rt.Log.Warn("zone lookup failed", slog.String("err", err.Error()))
	}

	var statuses map[string]models.CardStatus
	if rt.Cards != nil {
		if statuses, err = rt.Cards.Statuses(ctx); err != nil {
			rt.Log.Warn("card status lookup failed", slog.String("err", err.Error()))
		}
	}

	for i, e := range entities {
		v := entityView{
			Entity:             e,
			Metrics:            aggs[e.ID],
			HasHistory:         len(edits[e.ID]) > 0,
			MetricsUnavailable: aggErr != nil,
		}
		if v.Metrics != nil && v.Metrics.Found {
			if z, ok := zones[e.Article]; ok {
				if tier, ok := zone.ClassifyThresholds(z, v.Metrics.Data.Raw.CPL); ok {
					v.Zone = &tier
				}
			}
		}
		if id, ok := trello.ExtractCardID(e.TrelloLink); ok {
			if st, ok := statuses[id]; ok {
				v.CardStatus = &st
			}
		}
		views[i] = v
	}
	writeJSON(w, views)
}

func (rt *router) createEntity(w http.ResponseWriter, r *http.Request) {
	var e models.Entity
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	e.ID = ""
	created, err := rt.Store.CreateEntity(r.Context(), e)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

func (rt *router) listEdits(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := rt.Store.GetEntity(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	edits, err := rt.Store.EditsFor(r.Context(), []string{id})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := edits[id]
	if out == nil {
		out = []models.EditRecord{}
	}
	writeJSON(w, out)
}

func (rt *router) appendEdit(w http.ResponseWriter, r *http.Request) {
	var rec models.EditRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	rec.ID = ""
	rec.EntityID = chi.URLParam(r, "id")
	saved, err := rt.Store.AppendEdit(r.Context(), rec)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(saved)
}

func (rt *router) putZone(w http.ResponseWriter, r *http.Request) {
	var z models.ZoneThresholds
	if err := json.NewDecoder(r.Body).Decode(&z); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	z.Article = chi.URLParam(r, "article")
	for _, t := range z.Tiers() {
		if !(t.Price > 0) || math.IsInf(t.Price, 0) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a positive price", t.Name))
			return
		}
	}
	if err := rt.Store.UpsertZone(r.Context(), z); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, z)
}

func (rt *router) classify(w http.ResponseWriter, r *http.Request) {
	article := chi.URLParam(r, "article")
	cpl, err := strconv.ParseFloat(r.URL.Query().Get("cpl"), 64)
	if err != nil || math.IsNaN(cpl) || math.IsInf(cpl, 0) {
		writeError(w, http.StatusBadRequest, "cpl must be a number")
		return
	}
	zones, err := rt.Store.ZonesByArticles(r.Context(), []string{article})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	resp := map[string]any{"article": article, "cpl": cpl, "zone": nil}
	if z, ok := zones[article]; ok {
		if tier, ok := zone.ClassifyThresholds(z, cpl); ok {
			resp["zone"] = tier
		}
	}
	writeJSON(w, resp)
}

func (rt *router) metricsHealth(w http.ResponseWriter, r *http.Request) {
	if err := rt.MetricsAPI.Health(r.Context()); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (rt *router) cards(w http.ResponseWriter, r *http.Request) {
	if rt.Cards == nil {
		writeJSON(w, map[string]models.CardStatus{})
		return
	}
	st, err := rt.Cards.Statuses(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, st)
}

// cardStream relays status changes as server-sent events until the client goes away.
func (rt *router) cardStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok || rt.Cards == nil {
		writeError(w, http.StatusNotImplemented, "streaming unsupported")
		return
	}
	ctx := r.Context()
	events := make(chan models.StatusEvent, 16)
	unsubscribe, err := rt.Cards.Subscribe(ctx, func(ev models.StatusEvent) {
		select {
		case events <- ev:
		default:
		}
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: card-status-changed\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	if err := enc.Encode(v); err != nil {
		slog.Error("write json failed", slog.String("err", err.Error()))
	}
}
