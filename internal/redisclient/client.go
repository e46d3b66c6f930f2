package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"levelup-loyalty/internal/store"

	"github.com/go-redis/redis/v8"
)

const (
	keyPrefix  = "levelup:"
	journalKey = "levelup:write_ahead"
)

// Client is a shared cache backend. Each batch is applied in one MULTI/EXEC.
type Client struct {
	rdb *redis.Client
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
	return &Client{rdb: rdb}
}

func (c *Client) Name() string { return "redis" }

func (c *Client) Authoritative() bool { return false }

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, nil
}

// Commit writes every put and appends the write-ahead entry in one transaction
func (c *Client) Commit(ctx context.Context, batch *store.Batch) error {
	entry, err := batch.Encode()
	if err != nil {
		return err
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range batch.Puts {
			pipe.Set(ctx, keyPrefix+p.Key, []byte(p.Value), 0)
		}
		pipe.LPush(ctx, journalKey, entry)
		pipe.LTrim(ctx, journalKey, 0, store.JournalRetention-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis batch %s failed: %w", batch.ID, err)
	}
	return nil
}

// Journal returns the most recent write-ahead entries, newest first
func (c *Client) Journal(ctx context.Context, limit int) ([]*store.Batch, error) {
	raw, err := c.rdb.LRange(ctx, journalKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}
	batches := make([]*store.Batch, 0, len(raw))
	for _, r := range raw {
		b, err := store.DecodeBatch([]byte(r))
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}
