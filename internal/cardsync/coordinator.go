// Package cardsync elects one instance to poll Trello and fans card status changes out to all
// instances through a shared store.
//
// Election is lease based: the lock is taken when it is absent, already ours, or its timestamp
// is older than LeaderTimeout. Two instances can therefore both believe they lead for up to one
// timeout window (a paused leader resuming after another took over). Every fresh acquisition
// bumps a fencing token and the store refuses status writes carrying an older token, so the
// stale leader loses one poll and steps down instead of overwriting newer data.
package cardsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AngelCh415/creative-ops/internal/models"
	"github.com/AngelCh415/creative-ops/internal/utils"
)

// Store is the shared lock, status table and change bus.
type Store interface {
	AcquireLeader(ctx context.Context, tabID string, now time.Time, timeout time.Duration) (models.LeaderLock, bool, error)
	ReleaseLeader(ctx context.Context, tabID string) (bool, error)
	UpsertStatuses(ctx context.Context, token int64, statuses map[string]models.CardStatus) ([]string, error)
	CardStatuses(ctx context.Context) (map[string]models.CardStatus, error)
	Cursor(ctx context.Context) (string, error)
	SetCursor(ctx context.Context, cursor string) error
	Publish(ctx context.Context, ev models.StatusEvent) error
	Subscribe(ctx context.Context) (<-chan models.StatusEvent, func(), error)
}

type CardSource interface {
	GetBatchCardStatuses(ctx context.Context, urls []string) map[string]models.CardStatus
	GetBoardActions(ctx context.Context, since string) ([]models.MoveEvent, error)
	Invalidate(ids ...string)
	InvalidateAll()
}

// LinkSource lists the card links to track.
type LinkSource interface {
	CardLinks(ctx context.Context) ([]string, error)
}

type Config struct {
	TabID             string
	LeaderTimeout     time.Duration
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	ElectionInterval  time.Duration
	Now               func() time.Time
}

type Coordinator struct {
	cfg   Config
	store Store
	cards CardSource
	links LinkSource
	log   *slog.Logger

	mu     sync.Mutex
	leader bool
	token  int64
}

func New(store Store, cards CardSource, links LinkSource, cfg Config, log *slog.Logger) *Coordinator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.LeaderTimeout <= 0 {
		cfg.LeaderTimeout = 10 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 3 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ElectionInterval <= 0 {
		cfg.ElectionInterval = 5 * time.Second
	}
	return &Coordinator{
		cfg:   cfg,
		store: store,
		cards: cards,
		links: links,
		log:   log.With(slog.String("tab_id", cfg.TabID)),
	}
}

func (c *Coordinator) IsLeader() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leader
}

func (c *Coordinator) setLeader(leader bool, token int64) {
	c.mu.Lock()
	was := c.leader
	c.leader = leader
	if leader {
		c.token = token
	}
	c.mu.Unlock()

	switch {
	case leader && !was:
		// moves seen by another leader are behind the shared cursor; our card cache may predate them
		c.cards.InvalidateAll()
		c.log.Info("became card sync leader", slog.Int64("token", token))
		utils.LeaderGauge.Set(1)
	case !leader && was:
		c.log.Info("stepped down as card sync leader")
		utils.LeaderGauge.Set(0)
	}
}

// ElectLeader tries to take or refresh the lock. Calling it while already leader only renews
// the timestamp; the token stays the same.
func (c *Coordinator) ElectLeader(ctx context.Context) (bool, error) {
	lock, ok, err := c.store.AcquireLeader(ctx, c.cfg.TabID, c.cfg.Now(), c.cfg.LeaderTimeout)
	if err != nil {
		c.setLeader(false, 0)
		return false, err
	}
	if !ok {
		c.log.Debug("lock held elsewhere", slog.String("owner", lock.TabID))
	}
	c.setLeader(ok, lock.Token)
	return ok, nil
}

// Resign releases the lock if this instance still owns it.
func (c *Coordinator) Resign(ctx context.Context) error {
	c.setLeader(false, 0)
	_, err := c.store.ReleaseLeader(ctx, c.cfg.TabID)
	return err
}

// PollOnce refreshes card statuses and publishes the ones that changed. Followers skip it.
func (c *Coordinator) PollOnce(ctx context.Context) error {
	c.mu.Lock()
	leader, token := c.leader, c.token
	c.mu.Unlock()
	if !leader {
		return nil
	}

	cursor, err := c.store.Cursor(ctx)
	if err != nil {
		c.log.Warn("read board cursor failed", slog.String("err", err.Error()))
	}
	moves, err := c.cards.GetBoardActions(ctx, cursor)
	if err != nil {
		// statuses still refresh once the card cache expires
		c.log.Warn("board actions fetch failed", slog.String("err", err.Error()))
	}
	for _, m := range moves {
		c.cards.Invalidate(m.CardID, m.ShortLink)
	}

	links, err := c.links.CardLinks(ctx)
	if err != nil {
		utils.CardPolls.WithLabelValues("error").Inc()
		return err
	}
	statuses := c.cards.GetBatchCardStatuses(ctx, links)

	changed, err := c.store.UpsertStatuses(ctx, token, statuses)
	if errors.Is(err, models.ErrStaleFence) {
		utils.CardPolls.WithLabelValues("stale").Inc()
		c.log.Warn("status write rejected, newer leader exists", slog.Int64("token", token))
		c.setLeader(false, 0)
		return err
	}
	if err != nil {
		utils.CardPolls.WithLabelValues("error").Inc()
		return err
	}

	if len(moves) > 0 {
		if err := c.store.SetCursor(ctx, moves[len(moves)-1].ActionID); err != nil {
			c.log.Warn("save board cursor failed", slog.String("err", err.Error()))
		}
	}
	for _, id := range changed {
		if err := c.store.Publish(ctx, models.StatusEvent{CardID: id, Status: statuses[id]}); err != nil {
			c.log.Warn("publish status failed", slog.String("card", id), slog.String("err", err.Error()))
		}
	}
	utils.CardPolls.WithLabelValues("ok").Inc()
	c.log.Debug("card poll done", slog.Int("cards", len(statuses)), slog.Int("changed", len(changed)))
	return nil
}

// Run drives heartbeat, polling and re-election from one loop until ctx is done, then resigns.
func (c *Coordinator) Run(ctx context.Context) {
	heartbeat := time.NewTicker(c.cfg.HeartbeatInterval)
	poll := time.NewTicker(c.cfg.PollInterval)
	election := time.NewTicker(c.cfg.ElectionInterval)
	defer heartbeat.Stop()
	defer poll.Stop()
	defer election.Stop()

	c.tryElect(ctx)
	for {
		select {
		case <-ctx.Done():
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			if err := c.Resign(rctx); err != nil {
				c.log.Warn("resign failed", slog.String("err", err.Error()))
			}
			cancel()
			return
		case <-heartbeat.C:
			if c.IsLeader() {
				if _, err := c.ElectLeader(ctx); err != nil {
					c.log.Warn("heartbeat failed", slog.String("err", err.Error()))
				}
			}
		case <-poll.C:
			if c.IsLeader() {
				c.poll(ctx)
			}
		case <-election.C:
			if !c.IsLeader() {
				c.tryElect(ctx)
			}
		}
	}
}

func (c *Coordinator) tryElect(ctx context.Context) {
	ok, err := c.ElectLeader(ctx)
	if err != nil {
		c.log.Warn("election failed", slog.String("err", err.Error()))
		return
	}
	if ok {
		c.poll(ctx)
	}
}

func (c *Coordinator) poll(ctx context.Context) {
	if err := c.PollOnce(ctx); err != nil && ctx.Err() == nil {
		c.log.Warn("card poll failed", slog.String("err", err.Error()))
	}
}

// Subscribe calls fn for every status change published by any instance until unsubscribe is
// called or ctx ends.
func (c *Coordinator) Subscribe(ctx context.Context, fn func(models.StatusEvent)) (func(), error) {
	ch, cancel, err := c.store.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	go func() {
		for ev := range ch {
			fn(ev)
		}
	}()
	return cancel, nil
}

// Statuses returns the last known status of every tracked card.
func (c *Coordinator) Statuses(ctx context.Context) (map[string]models.CardStatus, error) {
	return c.store.CardStatuses(ctx)
}
