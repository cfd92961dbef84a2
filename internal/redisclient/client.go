package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

//go:embed scripts/set_seats.lua
var setSeatsScript string

// ErrCacheMiss is returned when no seat snapshot is cached for a workshop.
var ErrCacheMiss = errors.New("seat snapshot not cached")

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
	seatsScript   *redis.Script
}

// SeatSnapshot is the cached seat state of a workshop
type SeatSnapshot struct {
	Available int  `json:"available_seats"`
	Total     int  `json:"total_seats"`
	Closed    bool `json:"registration_closed"`
}

// NewClient creates a new Redis client with Lua scripts loaded
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
		seatsScript:   redis.NewScript(setSeatsScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func seatsKey(workshopID int64) string {
	return fmt.Sprintf("workshop:%d:seats", workshopID)
}

// SetSeats caches the seat snapshot of a workshop
func (c *Client) SetSeats(ctx context.Context, workshopID int64, snap SeatSnapshot) error {
	closed := 0
	if snap.Closed {
		closed = 1
	}

	_, err := c.seatsScript.Run(ctx, c.rdb, []string{seatsKey(workshopID)}, snap.Available, snap.Total, closed).Result()
	if err != nil {
		return fmt.Errorf("set seats script failed: %w", err)
	}
	return nil
}

// GetSeats reads the cached seat snapshot of a workshop
func (c *Client) GetSeats(ctx context.Context, workshopID int64) (*SeatSnapshot, error) {
	result, err := c.rdb.HGetAll(ctx, seatsKey(workshopID)).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, ErrCacheMiss
	}

	available, _ := strconv.Atoi(result["available"])
	total, _ := strconv.Atoi(result["total"])

	return &SeatSnapshot{
		Available: available,
		Total:     total,
		Closed:    result["closed"] == "1",
	}, nil
}

// InvalidateSeats drops a cached seat snapshot
func (c *Client) InvalidateSeats(ctx context.Context, workshopID int64) error {
	return c.rdb.Del(ctx, seatsKey(workshopID)).Err()
}

// AcquireLock acquires a distributed lock and returns its owner token.
// An empty token with a nil error means the lock is held by someone else.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// ReleaseLock releases a distributed lock if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}
