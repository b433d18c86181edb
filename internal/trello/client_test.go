package trello

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AngelCh415/creative-ops/internal/remote"
)

func TestExtractCardID(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://trello.com/c/ABC123/some-title", "ABC123", true},
		{"https://trello.com/c/ABC123", "ABC123", true},
		{"https://www.trello.com/c/ABC123/", "ABC123", true},
		{"http://trello.com/c/Xy7Zq9Lm/12-card?filter=x", "Xy7Zq9Lm", true},
		{"trello.com/c/ABC123", "ABC123", true},
		{"  trello.com/c/ABC123/slug  ", "ABC123", true},
		{"Xy7Zq9Lm", "Xy7Zq9Lm", true},
		{"5f1b2c3d4e5f6a7b8c9d0e1f", "5f1b2c3d4e5f6a7b8c9d0e1f", true},
		{"not-a-url", "", false},
		{"https://example.com/c/ABC123", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := ExtractCardID(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

type fakeBoard struct {
	mu         sync.Mutex
	cardList   map[string]string
	failing    map[string]bool
	listCalls  atomic.Int32
	cardCalls  atomic.Int32
	actionsRaw string
}

func (f *fakeBoard) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		assert.Equal(t, "tk", r.URL.Query().Get("token"))
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/boards/B1/lists":
			f.listCalls.Add(1)
			w.Write([]byte(`[{"id":"L1","name":"To Do"},{"id":"L2","name":"Review"},{"id":"L3","name":"Done"}]`))
		case r.URL.Path == "/boards/B1/actions":
			w.Write([]byte(f.actionsRaw))
		case strings.HasPrefix(r.URL.Path, "/cards/"):
			f.cardCalls.Add(1)
			id := strings.TrimPrefix(r.URL.Path, "/cards/")
			f.mu.Lock()
			list, ok := f.cardList[id]
			fail := f.failing[id]
			f.mu.Unlock()
			if fail {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			if !ok {
				http.NotFound(w, r)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"id": "long-" + id, "name": "Card " + id, "idList": list, "shortLink": id})
		default:
			http.NotFound(w, r)
		}
	})
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time { c.mu.Lock(); defer c.mu.Unlock(); return c.t }
func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestClient(t *testing.T, fb *fakeBoard) (*Client, *clock) {
	t.Helper()
	srv := httptest.NewServer(fb.handler(t))
	t.Cleanup(srv.Close)
	clk := &clock{t: time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(remote.NewHTTPClient(2*time.Second), Config{
		BaseURL: srv.URL, Key: "k", Token: "tk", BoardID: "B1", Now: clk.Now,
	}, log)
	return c, clk
}

func TestGetBatchCardStatusesPartialFailure(t *testing.T) {
	fb := &fakeBoard{
		cardList: map[string]string{"card0001": "L1", "card0002": "L2", "card0003": "L2", "card0004": "L3", "card0005": "L1"},
		failing:  map[string]bool{"card0003": true},
	}
	c, _ := newTestClient(t, fb)

	urls := []string{
		"https://trello.com/c/card0001/first",
		"https://trello.com/c/card0002",
		"https://trello.com/c/card0003/third",
		"trello.com/c/card0004",
		"card0005",
		"not-a-url",
	}
	got := c.GetBatchCardStatuses(context.Background(), urls)
	require.Len(t, got, 4)
	assert.NotContains(t, got, "card0003")
	assert.Equal(t, "Review", got["card0002"].ListName)
	assert.Equal(t, "Done", got["card0004"].ListName)
	assert.Equal(t, "Card card0001", got["card0001"].CardName)
	assert.EqualValues(t, 1, fb.listCalls.Load(), "lists fetched once per batch")
}

func TestGetCardStatusNotFoundAndUnknownList(t *testing.T) {
	fb := &fakeBoard{cardList: map[string]string{"orphan01": "L9"}}
	c, _ := newTestClient(t, fb)

	st, err := c.GetCardStatus(context.Background(), "missing1")
	require.NoError(t, err)
	assert.Nil(t, st)

	st, err = c.GetCardStatus(context.Background(), "orphan01")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestGetCardStatusCachesForFiveMinutes(t *testing.T) {
	fb := &fakeBoard{cardList: map[string]string{"card0001": "L1"}}
	c, clk := newTestClient(t, fb)
	ctx := context.Background()

	st, err := c.GetCardStatus(ctx, "card0001")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "To Do", st.ListName)

	fb.mu.Lock()
	fb.cardList["card0001"] = "L3"
	fb.mu.Unlock()

	clk.Advance(4 * time.Minute)
	st, _ = c.GetCardStatus(ctx, "card0001")
	assert.Equal(t, "To Do", st.ListName)
	assert.EqualValues(t, 1, fb.cardCalls.Load())

	c.Invalidate("card0001")
	st, _ = c.GetCardStatus(ctx, "card0001")
	assert.Equal(t, "Done", st.ListName)
	assert.EqualValues(t, 2, fb.cardCalls.Load())

	clk.Advance(6 * time.Minute)
	_, _ = c.GetCardStatus(ctx, "card0001")
	assert.EqualValues(t, 3, fb.cardCalls.Load())
	assert.EqualValues(t, 2, fb.listCalls.Load(), "lists refreshed after ttl")
}

func TestInvalidateAllDropsCardsButKeepsLists(t *testing.T) {
	fb := &fakeBoard{cardList: map[string]string{"card0001": "L1", "card0002": "L1"}}
	c, _ := newTestClient(t, fb)
	ctx := context.Background()

	got := c.GetBatchCardStatuses(ctx, []string{"card0001", "card0002"})
	require.Len(t, got, 2)
	assert.EqualValues(t, 2, fb.cardCalls.Load())

	fb.mu.Lock()
	fb.cardList["card0002"] = "L3"
	fb.mu.Unlock()

	c.InvalidateAll()
	got = c.GetBatchCardStatuses(ctx, []string{"card0001", "card0002"})
	assert.Equal(t, "Done", got["card0002"].ListName)
	assert.EqualValues(t, 4, fb.cardCalls.Load())
	assert.EqualValues(t, 1, fb.listCalls.Load())
}

func TestGetBoardActionsKeepsMovesOldestFirst(t *testing.T) {
	fb := &fakeBoard{actionsRaw: `[
		{"id":"a3","date":"2024-06-15T10:00:00Z","data":{"card":{"id":"c2","name":"Two","shortLink":"card0002"},
			"listBefore":{"id":"L1","name":"To Do"},"listAfter":{"id":"L2","name":"Review"}}},
		{"id":"a2","date":"2024-06-15T09:00:00Z","data":{"card":{"id":"c1","name":"One","shortLink":"card0001"}}},
		{"id":"a1","date":"2024-06-15T08:00:00Z","data":{"card":{"id":"c1","name":"One","shortLink":"card0001"},
			"listBefore":{"id":"L2","name":"Review"},"listAfter":{"id":"L3","name":"Done"}}}
	]`}
	c, _ := newTestClient(t, fb)

	evs, err := c.GetBoardActions(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "a1", evs[0].ActionID)
	assert.Equal(t, "Done", evs[0].ToListName)
	assert.Equal(t, "card0002", evs[1].ShortLink)
	assert.Equal(t, "L1", evs[1].FromListID)
}
