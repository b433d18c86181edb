package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AngelCh415/creative-ops/internal/models"
)

const layout = "2006-01-02T15:04:05"

func fixed(loc *time.Location) Filter {
	return Filter{
		Now:      func() time.Time { return time.Date(2024, 6, 15, 14, 30, 0, 0, loc) },
		Location: loc,
	}
}

func TestRangeForNamedPeriods(t *testing.T) {
	f := fixed(time.UTC)
	cases := []struct {
		period     string
		start, end string
	}{
		{Today, "2024-06-15T00:00:00", "2024-06-15T23:59:59"},
		{Yesterday, "2024-06-14T00:00:00", "2024-06-14T23:59:59"},
		{ThisWeek, "2024-06-10T00:00:00", "2024-06-16T23:59:59"},
		{Last7Days, "2024-06-09T00:00:00", "2024-06-15T23:59:59"},
		{ThisMonth, "2024-06-01T00:00:00", "2024-06-30T23:59:59"},
		{LastMonth, "2024-05-01T00:00:00", "2024-05-31T23:59:59"},
	}
	for _, tc := range cases {
		r, ok := f.RangeFor(tc.period, "", "")
		require.True(t, ok, tc.period)
		assert.Equal(t, tc.start, r.Start.Format(layout), tc.period)
		assert.Equal(t, tc.end, r.End.Format(layout), tc.period)
	}
}

func TestThisWeekOnSundayAndMonday(t *testing.T) {
	sunday := Filter{Now: func() time.Time { return time.Date(2024, 6, 16, 9, 0, 0, 0, time.UTC) }, Location: time.UTC}
	r, _ := sunday.RangeFor(ThisWeek, "", "")
	assert.Equal(t, "2024-06-10T00:00:00", r.Start.Format(layout))

	monday := Filter{Now: func() time.Time { return time.Date(2024, 6, 17, 0, 0, 0, 0, time.UTC) }, Location: time.UTC}
	r, _ = monday.RangeFor(ThisWeek, "", "")
	assert.Equal(t, "2024-06-17T00:00:00", r.Start.Format(layout))
	assert.Equal(t, "2024-06-23T23:59:59", r.End.Format(layout))
}

func TestRangeUsesLocationOfRecord(t *testing.T) {
	kyiv := time.FixedZone("EEST", 3*3600)
	// 22:30 UTC on the 15th is already the 16th in the location of record
	f := Filter{Now: func() time.Time { return time.Date(2024, 6, 15, 22, 30, 0, 0, time.UTC) }, Location: kyiv}
	r, ok := f.RangeFor(Today, "", "")
	require.True(t, ok)
	assert.Equal(t, "2024-06-16T00:00:00", r.Start.Format(layout))
	assert.Equal(t, kyiv, r.Start.Location())
}

func TestRangeForCustom(t *testing.T) {
	f := fixed(time.UTC)
	r, ok := f.RangeFor(Custom, "2024-01-05", "2024-01-07")
	require.True(t, ok)
	assert.Equal(t, "2024-01-05T00:00:00", r.Start.Format(layout))
	assert.Equal(t, "2024-01-07T23:59:59", r.End.Format(layout))

	for _, bad := range [][2]string{{"", "2024-01-07"}, {"2024-01-07", "junk"}, {"2024-01-08", "2024-01-07"}} {
		_, ok := f.RangeFor(Custom, bad[0], bad[1])
		assert.False(t, ok, "%v", bad)
	}
	_, ok = f.RangeFor("fortnight", "", "")
	assert.False(t, ok)
	_, ok = f.RangeFor(All, "", "")
	assert.False(t, ok)
}

func TestIsEntityInRangeEditFallback(t *testing.T) {
	f := fixed(time.UTC)
	r, _ := f.RangeFor(ThisWeek, "", "")

	old := models.Entity{ID: "old", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	fresh := models.Entity{ID: "fresh", CreatedAt: time.Date(2024, 6, 16, 23, 59, 59, 0, time.UTC)}
	touched := []models.EditRecord{{EntityID: "old", ChangedAt: time.Date(2024, 6, 12, 8, 0, 0, 0, time.UTC)}}
	stale := []models.EditRecord{{EntityID: "old", ChangedAt: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}}

	assert.True(t, IsEntityInRange(fresh, r, nil))
	assert.False(t, IsEntityInRange(old, r, nil))
	assert.False(t, IsEntityInRange(old, r, stale))
	assert.True(t, IsEntityInRange(old, r, touched))

	got := FilterEntities([]models.Entity{old, fresh}, r, map[string][]models.EditRecord{"old": touched})
	assert.Len(t, got, 2)
	got = FilterEntities([]models.Entity{old, fresh}, r, nil)
	assert.Equal(t, []models.Entity{fresh}, got)
}
