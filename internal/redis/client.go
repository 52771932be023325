package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/trading-engine/internal/config"
)

// Client wraps the Redis client with engine-specific operations
type Client struct {
	rdb *redis.Client
}

// New creates a new Redis client
func New(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks if Redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Valuation caching

// SetAssetValuation caches the latest USD valuation of an asset with TTL
func (c *Client) SetAssetValuation(ctx context.Context, asset string, usdValue decimal.Decimal, ttl time.Duration) error {
	key := fmt.Sprintf("portfolio:%s:usd", asset)
	return c.rdb.Set(ctx, key, usdValue.String(), ttl).Err()
}

// GetAssetValuation retrieves a cached USD valuation
func (c *Client) GetAssetValuation(ctx context.Context, asset string) (decimal.Decimal, error) {
	key := fmt.Sprintf("portfolio:%s:usd", asset)
	s, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(s)
}

// Heartbeat

// SetHeartbeat records the engine's last heartbeat timestamp
func (c *Client) SetHeartbeat(ctx context.Context, at time.Time) error {
	return c.rdb.Set(ctx, "engine:heartbeat", at.UTC().Format(time.RFC3339), 0).Err()
}

// GetHeartbeat retrieves the last heartbeat, zero time when none exists
func (c *Client) GetHeartbeat(ctx context.Context) (time.Time, error) {
	s, err := c.rdb.Get(ctx, "engine:heartbeat").Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, s)
}

// Pub/Sub operations for real-time dashboard updates

// Publish publishes a message to a channel
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.rdb.Publish(ctx, channel, jsonData).Err()
}

// Subscribe returns a subscription to a channel
func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channels...)
}
