// Package trello resolves card statuses from a Trello board.
package trello

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AngelCh415/creative-ops/internal/models"
	"github.com/AngelCh415/creative-ops/internal/remote"
	"github.com/AngelCh415/creative-ops/internal/utils"
)

const (
	defaultBaseURL = "https://api.trello.com/1"
	listsTTL       = 5 * time.Minute
	cardTTL        = 5 * time.Minute
)

// Patterns are tried in order; the first match wins.
var cardPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://(?:www\.)?trello\.com/c/([A-Za-z0-9]+)/[^/?#]+`),
	regexp.MustCompile(`^https?://(?:www\.)?trello\.com/c/([A-Za-z0-9]+)/?(?:[?#].*)?$`),
	regexp.MustCompile(`^(?:www\.)?trello\.com/c/([A-Za-z0-9]+)(?:[/?#].*)?$`),
	regexp.MustCompile(`^([A-Za-z0-9]{8}|[a-f0-9]{24})$`),
}

// ExtractCardID parses a card URL or bare card id. ok=false means the caller must skip it.
func ExtractCardID(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	for _, re := range cardPatterns {
		if m := re.FindStringSubmatch(s); m != nil {
			return m[1], true
		}
	}
	return "", false
}

type Config struct {
	BaseURL     string
	Key         string
	Token       string
	BoardID     string
	Concurrency int
	Retries     int
	Now         func() time.Time
}

type cachedCard struct {
	status models.CardStatus
	at     time.Time
}

type Client struct {
	baseURL     string
	key, token  string
	boardID     string
	concurrency int
	r           *remote.Retrier
	now         func() time.Time
	log         *slog.Logger

	mu      sync.Mutex
	lists   []models.BoardList
	listsAt time.Time
	cards   map[string]cachedCard
}

func New(c remote.HTTPClient, cfg Config, log *slog.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		baseURL:     base,
		key:         cfg.Key,
		token:       cfg.Token,
		boardID:     cfg.BoardID,
		concurrency: cfg.Concurrency,
		r:           remote.NewRetrier(c, cfg.Retries),
		now:         now,
		log:         log,
		cards:       make(map[string]cachedCard),
	}
}

func (c *Client) endpoint(path string, q url.Values) string {
	if q == nil {
		q = url.Values{}
	}
	q.Set("key", c.key)
	q.Set("token", c.token)
	return c.baseURL + path + "?" + q.Encode()
}

// GetBoardLists returns the board's columns, cached for five minutes.
func (c *Client) GetBoardLists(ctx context.Context) ([]models.BoardList, error) {
	c.mu.Lock()
	if c.lists != nil && c.now().Sub(c.listsAt) < listsTTL {
		lists := c.lists
		c.mu.Unlock()
		return lists, nil
	}
	c.mu.Unlock()

	var lists []models.BoardList
	q := url.Values{"fields": {"name"}}
	if err := c.r.GetJSON(ctx, c.endpoint("/boards/"+url.PathEscape(c.boardID)+"/lists", q), &lists); err != nil {
		utils.RemoteCalls.WithLabelValues("trello", "error").Inc()
		return nil, err
	}
	utils.RemoteCalls.WithLabelValues("trello", "ok").Inc()

	c.mu.Lock()
	c.lists = lists
	c.listsAt = c.now()
	c.mu.Unlock()
	return lists, nil
}

type cardResp struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IDList    string `json:"idList"`
	ShortLink string `json:"shortLink"`
}

// GetCardStatus returns nil without error when the card does not exist or sits in a list
// that is not on the board.
func (c *Client) GetCardStatus(ctx context.Context, cardID string) (*models.CardStatus, error) {
	if st, ok := c.cached(cardID); ok {
		return &st, nil
	}
	lists, err := c.GetBoardLists(ctx)
	if err != nil {
		return nil, err
	}
	return c.fetchCard(ctx, cardID, lists)
}

func (c *Client) cached(cardID string) (models.CardStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cc, ok := c.cards[cardID]
	if !ok || c.now().Sub(cc.at) >= cardTTL {
		return models.CardStatus{}, false
	}
	return cc.status, true
}

func (c *Client) fetchCard(ctx context.Context, cardID string, lists []models.BoardList) (*models.CardStatus, error) {
	var card cardResp
	q := url.Values{"fields": {"idList,name,shortLink"}}
	err := c.r.GetJSON(ctx, c.endpoint("/cards/"+url.PathEscape(cardID), q), &card)
	if remote.IsNotFound(err) {
		utils.RemoteCalls.WithLabelValues("trello", "not_found").Inc()
		c.log.Info("trello card not found", slog.String("card", cardID))
		return nil, nil
	}
	if err != nil {
		utils.RemoteCalls.WithLabelValues("trello", "error").Inc()
		return nil, err
	}
	utils.RemoteCalls.WithLabelValues("trello", "ok").Inc()

	var listName string
	found := false
	for _, l := range lists {
		if l.ID == card.IDList {
			listName, found = l.Name, true
			break
		}
	}
	if !found {
		c.log.Warn("trello card in unknown list", slog.String("card", cardID), slog.String("list", card.IDList))
		return nil, nil
	}

	st := models.CardStatus{
		CardID:    cardID,
		ListID:    card.IDList,
		ListName:  listName,
		CardName:  card.Name,
		UpdatedAt: c.now(),
	}
	c.mu.Lock()
	c.cards[cardID] = cachedCard{status: st, at: st.UpdatedAt}
	c.mu.Unlock()
	return &st, nil
}

// GetBatchCardStatuses resolves every card link concurrently. Links that do not parse and cards
// that fail or are not found are left out of the result.
func (c *Client) GetBatchCardStatuses(ctx context.Context, urls []string) map[string]models.CardStatus {
	out := make(map[string]models.CardStatus)
	ids := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		id, ok := ExtractCardID(u)
		if !ok {
			continue
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return out
	}

	lists, err := c.GetBoardLists(ctx)
	if err != nil {
		c.log.Error("trello lists fetch failed", slog.String("err", err.Error()))
		return out
	}

	var mu sync.Mutex
	var g errgroup.Group
	if c.concurrency > 0 {
		g.SetLimit(c.concurrency)
	}
	for _, id := range ids {
		id := id
		g.Go(func() error {
			st, ok := c.cached(id)
			if !ok {
				p, err := c.fetchCard(ctx, id, lists)
				if err != nil {
					c.log.Warn("trello card fetch failed", slog.String("card", id), slog.String("err", err.Error()))
					return nil
				}
				if p == nil {
					return nil
				}
				st = *p
			}
			mu.Lock()
			out[id] = st
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

type actionResp struct {
	ID   string    `json:"id"`
	Date time.Time `json:"date"`
	Data struct {
		Card struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			ShortLink string `json:"shortLink"`
		} `json:"card"`
		ListBefore *models.BoardList `json:"listBefore"`
		ListAfter  *models.BoardList `json:"listAfter"`
	} `json:"data"`
}

// GetBoardActions returns list-to-list moves after the since cursor (an action id or a date),
// oldest first. An empty cursor returns the most recent page.
func (c *Client) GetBoardActions(ctx context.Context, since string) ([]models.MoveEvent, error) {
	q := url.Values{"filter": {"updateCard:idList"}, "limit": {"100"}}
	if since != "" {
		q.Set("since", since)
	}
	var actions []actionResp
	if err := c.r.GetJSON(ctx, c.endpoint("/boards/"+url.PathEscape(c.boardID)+"/actions", q), &actions); err != nil {
		utils.RemoteCalls.WithLabelValues("trello", "error").Inc()
		return nil, err
	}
	utils.RemoteCalls.WithLabelValues("trello", "ok").Inc()

	out := make([]models.MoveEvent, 0, len(actions))
	for _, a := range actions {
		if a.Data.ListBefore == nil || a.Data.ListAfter == nil || a.ID == since {
			continue
		}
		out = append(out, models.MoveEvent{
			ActionID:     a.ID,
			CardID:       a.Data.Card.ID,
			ShortLink:    a.Data.Card.ShortLink,
			CardName:     a.Data.Card.Name,
			FromListID:   a.Data.ListBefore.ID,
			FromListName: a.Data.ListBefore.Name,
			ToListID:     a.Data.ListAfter.ID,
			ToListName:   a.Data.ListAfter.Name,
			Date:         a.Date,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// Invalidate drops cached statuses so the next lookup hits the API.
func (c *Client) Invalidate(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.cards, id)
	}
}

// InvalidateAll drops every cached card status. Board lists stay cached.
func (c *Client) InvalidateAll() {
	c.mu.Lock()
	c.cards = make(map[string]cachedCard)
	c.mu.Unlock()
}
