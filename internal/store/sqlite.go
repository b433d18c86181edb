package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/AngelCh415/creative-ops/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS entities (
    id          TEXT PRIMARY KEY,
    kind        TEXT NOT NULL,
    article     TEXT NOT NULL,
    editor_id   TEXT NOT NULL DEFAULT '',
    link_titles TEXT NOT NULL DEFAULT '[]',
    links       TEXT NOT NULL DEFAULT '[]',
    comment     TEXT NOT NULL DEFAULT '',
    trello_link TEXT NOT NULL DEFAULT '',
    country     TEXT NOT NULL DEFAULT '',
    work_types  TEXT NOT NULL DEFAULT '[]',
    tags        TEXT NOT NULL DEFAULT '[]',
    created_at  INTEGER NOT NULL,
    buyer_id    TEXT NOT NULL DEFAULT '',
    searcher_id TEXT NOT NULL DEFAULT '',
    designer_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS entity_edits (
    id         TEXT PRIMARY KEY,
    entity_id  TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    editor_id  TEXT NOT NULL DEFAULT '',
    note       TEXT NOT NULL DEFAULT '',
    changed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS zone_thresholds (
    article    TEXT PRIMARY KEY,
    green      REAL,
    gold       REAL,
    pink       REAL,
    red        REAL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS metrics_cache (
    video_name TEXT PRIMARY KEY,
    payload    TEXT NOT NULL,
    cached_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_kind_created ON entities(kind, created_at);
CREATE INDEX IF NOT EXISTS idx_edits_entity ON entity_edits(entity_id, changed_at);
`

// sqlite caps bound variables per statement; IN lists are chunked below this.
const maxInArgs = 500

// SQLStore is the persistence collaborator: entities, edit history, zone thresholds and the
// video metrics cache table.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQL opens (or creates) the database at path and applies the schema.
func OpenSQL(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one writer; also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 10000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLStore{db: db, now: time.Now}, nil
}

func (s *SQLStore) Close() error                   { return s.db.Close() }
func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func toJSON(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func fromJSON(s string) []string {
	var out []string
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func chunks(keys []string) [][]string {
	var out [][]string
	for start := 0; start < len(keys); start += maxInArgs {
		out = append(out, keys[start:min(start+maxInArgs, len(keys))])
	}
	return out
}

func anyArgs(keys []string) []any {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return args
}

// CreateEntity validates and stores e, assigning an id and creation time when missing.
func (s *SQLStore) CreateEntity(ctx context.Context, e models.Entity) (models.Entity, error) {
	if err := e.Validate(); err != nil {
		return models.Entity{}, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (id, kind, article, editor_id, link_titles, links, comment, trello_link,
			country, work_types, tags, created_at, buyer_id, searcher_id, designer_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), e.Article, e.EditorID, toJSON(e.LinkTitles), toJSON(e.Links), e.Comment,
		e.TrelloLink, e.Country, toJSON(e.WorkTypes), toJSON(e.Tags), e.CreatedAt.UnixMilli(),
		e.BuyerID, e.SearcherID, e.DesignerID)
	if err != nil {
		return models.Entity{}, fmt.Errorf("insert entity: %w", err)
	}
	e.CreatedAt = time.UnixMilli(e.CreatedAt.UnixMilli())
	return e, nil
}

const entityCols = `id, kind, article, editor_id, link_titles, links, comment, trello_link,
	country, work_types, tags, created_at, buyer_id, searcher_id, designer_id`

type scanner interface{ Scan(dest ...any) error }

func scanEntity(sc scanner) (models.Entity, error) {
	var e models.Entity
	var kind, titles, links, workTypes, tags string
	var created int64
	if err := sc.Scan(&e.ID, &kind, &e.Article, &e.EditorID, &titles, &links, &e.Comment, &e.TrelloLink,
		&e.Country, &workTypes, &tags, &created, &e.BuyerID, &e.SearcherID, &e.DesignerID); err != nil {
		return e, err
	}
	e.Kind = models.Kind(kind)
	e.LinkTitles = fromJSON(titles)
	e.Links = fromJSON(links)
	e.WorkTypes = fromJSON(workTypes)
	e.Tags = fromJSON(tags)
	e.CreatedAt = time.UnixMilli(created)
	return e, nil
}

func (s *SQLStore) GetEntity(ctx context.Context, id string) (models.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityCols+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return e, models.ErrNotFound
	}
	return e, err
}

// ListEntities returns entities of kind (all kinds when empty), newest first.
func (s *SQLStore) ListEntities(ctx context.Context, kind models.Kind) ([]models.Entity, error) {
	q := `SELECT ` + entityCols + ` FROM entities`
	var args []any
	if kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	q += ` ORDER BY created_at DESC, id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CardLinks lists the distinct Trello links of all entities.
func (s *SQLStore) CardLinks(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT trello_link FROM entities WHERE trello_link <> '' ORDER BY trello_link`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// AppendEdit records a history entry; the entity must exist.
func (s *SQLStore) AppendEdit(ctx context.Context, rec models.EditRecord) (models.EditRecord, error) {
	if rec.EntityID == "" {
		return rec, models.ErrInvalidInput
	}
	if _, err := s.GetEntity(ctx, rec.EntityID); err != nil {
		return rec, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ChangedAt.IsZero() {
		rec.ChangedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entity_edits (id, entity_id, editor_id, note, changed_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.EntityID, rec.EditorID, rec.Note, rec.ChangedAt.UnixMilli())
	if err != nil {
		return rec, fmt.Errorf("insert edit: %w", err)
	}
	rec.ChangedAt = time.UnixMilli(rec.ChangedAt.UnixMilli())
	return rec, nil
}

// EditsFor returns the edit history of the given entities, oldest first, grouped by entity id.
func (s *SQLStore) EditsFor(ctx context.Context, ids []string) (map[string][]models.EditRecord, error) {
	out := make(map[string][]models.EditRecord)
	for _, part := range chunks(ids) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, entity_id, editor_id, note, changed_at FROM entity_edits
			 WHERE entity_id IN (`+placeholders(len(part))+`) ORDER BY changed_at, id`, anyArgs(part)...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var r models.EditRecord
			var changed int64
			if err := rows.Scan(&r.ID, &r.EntityID, &r.EditorID, &r.Note, &changed); err != nil {
				rows.Close()
				return nil, err
			}
			r.ChangedAt = time.UnixMilli(changed)
			out[r.EntityID] = append(out[r.EntityID], r)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLStore) HasHistory(ctx context.Context, entityID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM entity_edits WHERE entity_id = ?)`, entityID).Scan(&n)
	return n == 1, err
}

func nullable(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func fromNullable(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	f := n.Float64
	return &f
}

func (s *SQLStore) UpsertZone(ctx context.Context, z models.ZoneThresholds) error {
	if strings.TrimSpace(z.Article) == "" {
		return models.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO zone_thresholds (article, green, gold, pink, red, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(article) DO UPDATE SET green = excluded.green, gold = excluded.gold,
			pink = excluded.pink, red = excluded.red, updated_at = excluded.updated_at`,
		z.Article, nullable(z.Green), nullable(z.Gold), nullable(z.Pink), nullable(z.Red), s.now().UnixMilli())
	return err
}

// ZonesByArticles returns the thresholds stored for each known article.
func (s *SQLStore) ZonesByArticles(ctx context.Context, articles []string) (map[string]models.ZoneThresholds, error) {
	out := make(map[string]models.ZoneThresholds)
	for _, part := range chunks(articles) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT article, green, gold, pink, red FROM zone_thresholds WHERE article IN (`+placeholders(len(part))+`)`,
			anyArgs(part)...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var z models.ZoneThresholds
			var g, go_, p, r sql.NullFloat64
			if err := rows.Scan(&z.Article, &g, &go_, &p, &r); err != nil {
				rows.Close()
				return nil, err
			}
			z.Green, z.Gold, z.Pink, z.Red = fromNullable(g), fromNullable(go_), fromNullable(p), fromNullable(r)
			out[z.Article] = z
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetCachedMetrics returns cached records stored after freshAfter.
func (s *SQLStore) GetCachedMetrics(ctx context.Context, names []string, freshAfter time.Time) (map[string]models.VideoMetricRecord, error) {
	out := make(map[string]models.VideoMetricRecord)
	for _, part := range chunks(names) {
		args := append(anyArgs(part), freshAfter.UnixMilli())
		rows, err := s.db.QueryContext(ctx,
			`SELECT video_name, payload FROM metrics_cache WHERE video_name IN (`+placeholders(len(part))+`) AND cached_at > ?`,
			args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var name, payload string
			if err := rows.Scan(&name, &payload); err != nil {
				rows.Close()
				return nil, err
			}
			var rec models.VideoMetricRecord
			if json.Unmarshal([]byte(payload), &rec) != nil || !rec.Found || rec.Raw == nil {
				continue
			}
			out[name] = rec
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLStore) PutCachedMetrics(ctx context.Context, recs []models.VideoMetricRecord, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO metrics_cache (video_name, payload, cached_at) VALUES (?, ?, ?)
		ON CONFLICT(video_name) DO UPDATE SET payload = excluded.payload, cached_at = excluded.cached_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range recs {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, r.Name, string(b), at.UnixMilli()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PurgeMetricsCache deletes every cached metric row and reports how many were removed.
func (s *SQLStore) PurgeMetricsCache(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM metrics_cache`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
