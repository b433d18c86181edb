package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AngelCh415/creative-ops/internal/models"
	"github.com/AngelCh415/creative-ops/internal/store"
)

func TestRunRequiresCredentials(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	t.Setenv("DB_URL", "")
	assert.Error(t, run(log))

	t.Setenv("DB_URL", filepath.Join(t.TempDir(), "x.db"))
	t.Setenv("DB_SERVICE_ROLE_KEY", "")
	t.Setenv("DB_ANON_KEY", "")
	assert.ErrorContains(t, run(log), "DB_SERVICE_ROLE_KEY")
}

func TestRunPurgesCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dash.db")
	ctx := context.Background()
	db, err := store.OpenSQL(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.PutCachedMetrics(ctx, []models.VideoMetricRecord{
		{Name: "v1", Found: true, Raw: &models.RawMetrics{Leads: 1}},
	}, time.Now()))
	require.NoError(t, db.Close())

	t.Setenv("DB_URL", path)
	t.Setenv("DB_SERVICE_ROLE_KEY", "secret")
	require.NoError(t, run(slog.New(slog.NewTextHandler(io.Discard, nil))))

	db, err = store.OpenSQL(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	got, err := db.GetCachedMetrics(ctx, []string{"v1"}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got)
}
