// Package redis publishes trading events to Redis and persists the daily
// ledger snapshot so a restart mid-day keeps its counters.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// ErrNotFound is returned by Client.Get for a missing key.
var ErrNotFound = errors.New("redis: key not found")

const defaultLatestTTL = 30 * time.Minute

// Record is one event write: XADD to Stream (trimmed to ~MaxLen), SET
// LatestKey with a TTL and PUBLISH to Channel. Empty targets are skipped.
type Record struct {
	Stream    string `json:"stream,omitempty"`
	MaxLen    int64  `json:"max_len,omitempty"`
	LatestKey string `json:"latest_key,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Data      string `json:"data"`
}

// Client is the Redis surface the stores use.
type Client interface {
	Write(ctx context.Context, recs ...Record) error
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Close() error
}

// Config configures the connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Conn is a Client backed by a go-redis client.
type Conn struct {
	client *goredis.Client
}

// Dial connects and pings the server.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Conn{client: client}, nil
}

// Raw returns the underlying client for health checks.
func (c *Conn) Raw() *goredis.Client { return c.client }

// Write sends every record in one pipeline.
func (c *Conn) Write(ctx context.Context, recs ...Record) error {
	if len(recs) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, r := range recs {
		if r.Stream != "" {
			pipe.XAdd(ctx, &goredis.XAddArgs{
				Stream: r.Stream,
				MaxLen: r.MaxLen,
				Approx: true,
				Values: map[string]interface{}{"data": r.Data},
			})
		}
		if r.LatestKey != "" {
			pipe.Set(ctx, r.LatestKey, r.Data, defaultLatestTTL)
		}
		if r.Channel != "" {
			pipe.Publish(ctx, r.Channel, r.Data)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline (%d records): %w", len(recs), err)
	}
	return nil
}

func (c *Conn) Get(ctx context.Context, key string) (string, error) {
	v, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (c *Conn) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Close closes the Redis client.
func (c *Conn) Close() error {
	return c.client.Close()
}
