package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cart-service/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseLockScript deletes the lock only while it still holds the caller's
// token.
const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
}

// NewClient creates a new Redis client and checks the connection
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing go-redis client
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func totalsKey(cartID int64) string {
	return fmt.Sprintf("cart:totals:%d", cartID)
}

func seenKey(eventID string) string {
	return fmt.Sprintf("event:seen:%s", eventID)
}

func lockKey(name string) string {
	return fmt.Sprintf("lock:%s", name)
}

// CacheCartTotals stores the latest totals of a cart with a TTL
func (c *Client) CacheCartTotals(ctx context.Context, cartID int64, snapshot models.TotalsSnapshot, ttl time.Duration) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal cart totals: %w", err)
	}
	return c.rdb.Set(ctx, totalsKey(cartID), payload, ttl).Err()
}

// GetCachedCartTotals returns the cached totals, or nil when none are cached
func (c *Client) GetCachedCartTotals(ctx context.Context, cartID int64) (*models.TotalsSnapshot, error) {
	payload, err := c.rdb.Get(ctx, totalsKey(cartID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snapshot models.TotalsSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cart totals: %w", err)
	}
	return &snapshot, nil
}

// InvalidateCartTotals drops the cached totals of a cart
func (c *Client) InvalidateCartTotals(ctx context.Context, cartID int64) error {
	return c.rdb.Del(ctx, totalsKey(cartID)).Err()
}

// MarkEventSeen records a settled event with TTL
func (c *Client) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, seenKey(eventID), "1", ttl).Err()
}

// IsEventSeen checks if a settled event is recorded
func (c *Client) IsEventSeen(ctx context.Context, eventID string) (bool, error) {
	result, err := c.rdb.Exists(ctx, seenKey(eventID)).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// AcquireLock takes a distributed lock for ttl. The returned token names this
// holder and must be passed to ReleaseLock; ok is false when the lock is held
// elsewhere.
func (c *Client) AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, lockKey(name), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseLock releases the lock if token still holds it. It reports false
// when the lock had already expired, possibly to another holder.
func (c *Client) ReleaseLock(ctx context.Context, name, token string) (bool, error) {
	n, err := c.releaseScript.Run(ctx, c.rdb, []string{lockKey(name)}, token).Int()
	if err != nil {
		return false, fmt.Errorf("release lock script failed: %w", err)
	}
	return n > 0, nil
}
