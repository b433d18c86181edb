package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AngelCh415/creative-ops/internal/models"
)

// MemoryStore is the single-process card sync store: leader lock, card status table,
// board cursor and change notifications.
type MemoryStore struct {
	mu       sync.RWMutex
	lock     *models.LeaderLock
	fence    int64
	statuses map[string]models.CardStatus
	cursor   string

	subMu  sync.Mutex
	subs   map[int]chan models.StatusEvent
	nextID int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		statuses: make(map[string]models.CardStatus),
		subs:     make(map[int]chan models.StatusEvent),
	}
}

// AcquireLeader takes the lock if it is free, already ours, or older than timeout.
// A fresh acquisition bumps the fencing token; a renewal keeps it.
func (s *MemoryStore) AcquireLeader(_ context.Context, tabID string, now time.Time, timeout time.Duration) (models.LeaderLock, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur := s.lock; cur != nil && cur.TabID != tabID && now.Sub(cur.Timestamp) <= timeout {
		return *cur, false, nil
	}
	token := s.fence
	if s.lock == nil || s.lock.TabID != tabID {
		s.fence++
		token = s.fence
	}
	s.lock = &models.LeaderLock{Timestamp: now, TabID: tabID, Token: token}
	return *s.lock, true, nil
}

// ReleaseLeader clears the lock only while tabID still owns it.
func (s *MemoryStore) ReleaseLeader(_ context.Context, tabID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil || s.lock.TabID != tabID {
		return false, nil
	}
	s.lock = nil
	return true, nil
}

func (s *MemoryStore) CurrentLeader(_ context.Context) (*models.LeaderLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lock == nil {
		return nil, nil
	}
	l := *s.lock
	return &l, nil
}

// UpsertStatuses writes statuses under token and returns the ids whose list or title changed.
func (s *MemoryStore) UpsertStatuses(_ context.Context, token int64, statuses map[string]models.CardStatus) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token < s.fence {
		return nil, models.ErrStaleFence
	}
	var changed []string
	for id, st := range statuses {
		prev, ok := s.statuses[id]
		if !ok || prev.ListID != st.ListID || prev.ListName != st.ListName || prev.CardName != st.CardName {
			changed = append(changed, id)
		}
		s.statuses[id] = st
	}
	sort.Strings(changed)
	return changed, nil
}

func (s *MemoryStore) CardStatuses(_ context.Context) (map[string]models.CardStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.CardStatus, len(s.statuses))
	for k, v := range s.statuses {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Cursor(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor, nil
}

func (s *MemoryStore) SetCursor(_ context.Context, cursor string) error {
	s.mu.Lock()
	s.cursor = cursor
	s.mu.Unlock()
	return nil
}

// Publish never blocks; a subscriber whose buffer is full misses the event.
func (s *MemoryStore) Publish(_ context.Context, ev models.StatusEvent) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context) (<-chan models.StatusEvent, func(), error) {
	ch := make(chan models.StatusEvent, 64)
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			close(ch)
			s.subMu.Unlock()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
