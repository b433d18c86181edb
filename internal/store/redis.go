package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AngelCh415/creative-ops/internal/models"
)

const (
	keyLeader   = "cardsync:leader"
	keyFence    = "cardsync:fence"
	keyStatuses = "cardsync:statuses"
	keySigs     = "cardsync:sigs"
	keyCursor   = "cardsync:cursor"

	// StatusChannel carries card-status-changed notifications.
	StatusChannel = "card-status-changed"
)

// KEYS: leader, fence. ARGV: tab id, now (ms), timeout (ms).
// Returns {acquired, tab_id, ts, token}.
var acquireScript = redis.NewScript(`
local owner = redis.call('HGET', KEYS[1], 'tab_id')
local now = tonumber(ARGV[2])
local timeout = tonumber(ARGV[3])
if owner and owner ~= ARGV[1] then
  local ts = tonumber(redis.call('HGET', KEYS[1], 'ts'))
  if now - ts <= timeout then
    local tok = tonumber(redis.call('HGET', KEYS[1], 'token'))
    return {0, owner, ts, tok}
  end
end
local token
if owner == ARGV[1] then
  token = tonumber(redis.call('HGET', KEYS[1], 'token'))
end
if not token then
  token = redis.call('INCR', KEYS[2])
end
redis.call('HSET', KEYS[1], 'tab_id', ARGV[1], 'ts', ARGV[2], 'token', token)
redis.call('PEXPIRE', KEYS[1], timeout * 3)
return {1, ARGV[1], now, token}
`)

// KEYS: leader. ARGV: tab id.
var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'tab_id') == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// KEYS: fence, statuses, sigs. ARGV: token, then triples (id, json, sig).
// Returns {0} when the token is stale, else {1, changed ids...}.
var upsertScript = redis.NewScript(`
local fence = tonumber(redis.call('GET', KEYS[1]) or '0')
if tonumber(ARGV[1]) < fence then
  return {0}
end
local out = {1}
for i = 2, #ARGV, 3 do
  local id = ARGV[i]
  if redis.call('HGET', KEYS[3], id) ~= ARGV[i + 2] then
    table.insert(out, id)
    redis.call('HSET', KEYS[3], id, ARGV[i + 2])
  end
  redis.call('HSET', KEYS[2], id, ARGV[i + 1])
end
return out
`)

// RedisStore shares the card sync state between instances through Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisClient parses a redis:// URL and checks the connection.
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisStore) AcquireLeader(ctx context.Context, tabID string, now time.Time, timeout time.Duration) (models.LeaderLock, bool, error) {
	res, err := acquireScript.Run(ctx, s.client, []string{keyLeader, keyFence},
		tabID, now.UnixMilli(), timeout.Milliseconds()).Slice()
	if err != nil {
		return models.LeaderLock{}, false, err
	}
	if len(res) != 4 {
		return models.LeaderLock{}, false, fmt.Errorf("acquire leader: unexpected reply %v", res)
	}
	acquired, _ := res[0].(int64)
	owner, _ := res[1].(string)
	ts, _ := res[2].(int64)
	token, _ := res[3].(int64)
	lock := models.LeaderLock{Timestamp: time.UnixMilli(ts), TabID: owner, Token: token}
	return lock, acquired == 1, nil
}

func (s *RedisStore) ReleaseLeader(ctx context.Context, tabID string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{keyLeader}, tabID).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) CurrentLeader(ctx context.Context) (*models.LeaderLock, error) {
	vals, err := s.client.HGetAll(ctx, keyLeader).Result()
	if err != nil {
		return nil, err
	}
	if vals["tab_id"] == "" {
		return nil, nil
	}
	ts, _ := strconv.ParseInt(vals["ts"], 10, 64)
	token, _ := strconv.ParseInt(vals["token"], 10, 64)
	return &models.LeaderLock{Timestamp: time.UnixMilli(ts), TabID: vals["tab_id"], Token: token}, nil
}

func signature(st models.CardStatus) string {
	return st.ListID + "\x1f" + st.ListName + "\x1f" + st.CardName
}

func (s *RedisStore) UpsertStatuses(ctx context.Context, token int64, statuses map[string]models.CardStatus) ([]string, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(statuses))
	for id := range statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	args := make([]any, 0, 1+3*len(ids))
	args = append(args, token)
	for _, id := range ids {
		b, err := json.Marshal(statuses[id])
		if err != nil {
			return nil, err
		}
		args = append(args, id, string(b), signature(statuses[id]))
	}
	res, err := upsertScript.Run(ctx, s.client, []string{keyFence, keyStatuses, keySigs}, args...).Slice()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, errors.New("upsert statuses: empty reply")
	}
	if ok, _ := res[0].(int64); ok != 1 {
		return nil, models.ErrStaleFence
	}
	changed := make([]string, 0, len(res)-1)
	for _, v := range res[1:] {
		if id, ok := v.(string); ok {
			changed = append(changed, id)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

func (s *RedisStore) CardStatuses(ctx context.Context) (map[string]models.CardStatus, error) {
	vals, err := s.client.HGetAll(ctx, keyStatuses).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.CardStatus, len(vals))
	for id, raw := range vals {
		var st models.CardStatus
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			continue
		}
		out[id] = st
	}
	return out, nil
}

func (s *RedisStore) Cursor(ctx context.Context) (string, error) {
	v, err := s.client.Get(ctx, keyCursor).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (s *RedisStore) SetCursor(ctx context.Context, cursor string) error {
	return s.client.Set(ctx, keyCursor, cursor, 0).Err()
}

func (s *RedisStore) Publish(ctx context.Context, ev models.StatusEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, StatusChannel, data).Err()
}

// Subscribe returns once the subscription is confirmed by the server.
func (s *RedisStore) Subscribe(ctx context.Context) (<-chan models.StatusEvent, func(), error) {
	pubsub := s.client.Subscribe(ctx, StatusChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, err
	}
	out := make(chan models.StatusEvent, 64)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var ev models.StatusEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	stop := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			pubsub.Close()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			pubsub.Close()
		case <-stop:
		}
	}()
	return out, cancel, nil
}
