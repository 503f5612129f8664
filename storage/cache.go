package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"pawboard-api/domain"
)

// BoardUpdatedChannel carries a message per board mutation so interested
// processes (lobby screens behind a push bridge, warm-up jobs) can react
// without waiting for the next poll.
const BoardUpdatedChannel = "pawboard:board-updated"

const cacheKeySet = "board:cached"

type backend interface {
	FetchBoard(ctx context.Context, view domain.View, isPublic bool, modifiedAfter time.Time) (domain.Board, error)
	InsertVisit(ctx context.Context, v domain.Visit) error
	UpdateVisit(ctx context.Context, v domain.Visit) error
	ApplyMove(ctx context.Context, v domain.Visit, entry domain.HistoryEntry) error
	ApplyCheckIn(ctx context.Context, v domain.Visit, entry domain.HistoryEntry) error
	ApplyCheckout(ctx context.Context, v domain.Visit, entry domain.HistoryEntry) error
}

// Cache wraps a Storage instance with Redis-backed caching for full board
// reads. Every visit mutation evicts all cached boards and publishes on
// the board-updated channel.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis
// client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

// FetchBoard serves full board fetches from Redis when possible.
// Incremental fetches (non-zero modifiedAfter) always go to the backing
// storage; they are cheap and caching them would fragment the key space.
func (c *Cache) FetchBoard(ctx context.Context, view domain.View, isPublic bool, modifiedAfter time.Time) (domain.Board, error) {
	if !modifiedAfter.IsZero() {
		return c.base.FetchBoard(ctx, view, isPublic, modifiedAfter)
	}

	key := boardCacheKey(view.Name, isPublic)
	if board, ok := c.loadBoardFromCache(ctx, key); ok {
		return board, nil
	}

	board, err := c.base.FetchBoard(ctx, view, isPublic, modifiedAfter)
	if err != nil {
		return domain.Board{}, err
	}

	c.storeBoard(ctx, key, board)
	return board, nil
}

func (c *Cache) InsertVisit(ctx context.Context, v domain.Visit) error {
	if err := c.base.InsertVisit(ctx, v); err != nil {
		return err
	}
	c.evictAndPublish(ctx, v.ID)
	return nil
}

func (c *Cache) UpdateVisit(ctx context.Context, v domain.Visit) error {
	if err := c.base.UpdateVisit(ctx, v); err != nil {
		return err
	}
	c.evictAndPublish(ctx, v.ID)
	return nil
}

func (c *Cache) ApplyMove(ctx context.Context, v domain.Visit, entry domain.HistoryEntry) error {
	if err := c.base.ApplyMove(ctx, v, entry); err != nil {
		return err
	}
	c.evictAndPublish(ctx, v.ID)
	return nil
}

func (c *Cache) ApplyCheckIn(ctx context.Context, v domain.Visit, entry domain.HistoryEntry) error {
	if err := c.base.ApplyCheckIn(ctx, v, entry); err != nil {
		return err
	}
	c.evictAndPublish(ctx, v.ID)
	return nil
}

func (c *Cache) ApplyCheckout(ctx context.Context, v domain.Visit, entry domain.HistoryEntry) error {
	if err := c.base.ApplyCheckout(ctx, v, entry); err != nil {
		return err
	}
	c.evictAndPublish(ctx, v.ID)
	return nil
}

func (c *Cache) loadBoardFromCache(ctx context.Context, key string) (domain.Board, bool) {
	if c.redis == nil {
		return domain.Board{}, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return domain.Board{}, false
	}
	var board domain.Board
	if err := json.Unmarshal(data, &board); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return domain.Board{}, false
	}
	return board, true
}

func (c *Cache) storeBoard(ctx context.Context, key string, board domain.Board) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(board)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
	_ = c.redis.SAdd(ctx, cacheKeySet, key).Err()
}

// evictAndPublish drops every cached board variant and announces the
// mutation. View names are not enumerable here, so cached keys are
// tracked in a Redis set.
func (c *Cache) evictAndPublish(ctx context.Context, visitID string) {
	if c.redis == nil {
		return
	}
	keys, err := c.redis.SMembers(ctx, cacheKeySet).Result()
	if err == nil && len(keys) > 0 {
		_, _ = c.redis.Del(ctx, append(keys, cacheKeySet)...).Result()
	}
	payload, err := json.Marshal(map[string]string{"visitId": visitID})
	if err != nil {
		return
	}
	_ = c.redis.Publish(ctx, BoardUpdatedChannel, payload).Err()
}

func boardCacheKey(view string, isPublic bool) string {
	if isPublic {
		return "board:" + view + ":public"
	}
	return "board:" + view + ":staff"
}
