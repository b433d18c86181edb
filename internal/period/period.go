// Package period turns named reporting periods into concrete date ranges.
package period

import (
	"strings"
	"time"

	"github.com/AngelCh415/creative-ops/internal/models"
)

const (
	Today     = "today"
	Yesterday = "yesterday"
	ThisWeek  = "this_week"
	Last7Days = "last_7_days"
	ThisMonth = "this_month"
	LastMonth = "last_month"
	Custom    = "custom"
	All       = "all"
)

const dateLayout = "2006-01-02"

// Range is inclusive on both ends.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Filter computes ranges in a fixed location relative to Now.
type Filter struct {
	Now      func() time.Time
	Location *time.Location
}

func New(loc *time.Location) Filter {
	if loc == nil {
		loc = time.UTC
	}
	return Filter{Now: time.Now, Location: loc}
}

func (f Filter) loc() *time.Location {
	if f.Location == nil {
		return time.UTC
	}
	return f.Location
}

func (f Filter) startOfDay(t time.Time) time.Time {
	y, m, d := t.In(f.loc()).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, f.loc())
}

func endOfDay(start time.Time) time.Time {
	y, m, d := start.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), start.Location())
}

// RangeFor maps a period token to a range. ok is false for unknown tokens, "all", and
// custom ranges that are missing, unparsable or reversed.
func (f Filter) RangeFor(p, customFrom, customTo string) (Range, bool) {
	now := time.Now()
	if f.Now != nil {
		now = f.Now()
	}
	today := f.startOfDay(now)

	switch strings.ToLower(strings.TrimSpace(p)) {
	case Today:
		return Range{today, endOfDay(today)}, true
	case Yesterday:
		y := today.AddDate(0, 0, -1)
		return Range{y, endOfDay(y)}, true
	case ThisWeek:
		// lunes = inicio de semana
		offset := (int(today.Weekday()) + 6) % 7
		start := today.AddDate(0, 0, -offset)
		return Range{start, endOfDay(start.AddDate(0, 0, 6))}, true
	case Last7Days:
		return Range{today.AddDate(0, 0, -6), endOfDay(today)}, true
	case ThisMonth:
		start := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, f.loc())
		return Range{start, endOfDay(start.AddDate(0, 1, -1))}, true
	case LastMonth:
		thisStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, f.loc())
		start := thisStart.AddDate(0, -1, 0)
		return Range{start, endOfDay(thisStart.AddDate(0, 0, -1))}, true
	case Custom:
		from, err1 := time.ParseInLocation(dateLayout, strings.TrimSpace(customFrom), f.loc())
		to, err2 := time.ParseInLocation(dateLayout, strings.TrimSpace(customTo), f.loc())
		if err1 != nil || err2 != nil || to.Before(from) {
			return Range{}, false
		}
		return Range{from, endOfDay(to)}, true
	}
	return Range{}, false
}

// IsEntityInRange matches on the entity's creation time, or on any of its edits falling in
// the range, so an old entity that was recently touched still shows up.
func IsEntityInRange(e models.Entity, r Range, edits []models.EditRecord) bool {
	if r.Contains(e.CreatedAt) {
		return true
	}
	for _, ed := range edits {
		if ed.EntityID == e.ID && r.Contains(ed.ChangedAt) {
			return true
		}
	}
	return false
}

// FilterEntities keeps the entities in range; edits are grouped by entity id.
func FilterEntities(entities []models.Entity, r Range, edits map[string][]models.EditRecord) []models.Entity {
	out := make([]models.Entity, 0, len(entities))
	for _, e := range entities {
		if IsEntityInRange(e, r, edits[e.ID]) {
			out = append(out, e)
		}
	}
	return out
}
