package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// EventChannel is the pub/sub channel carrying a user's observability records.
func EventChannel(userID string) string {
	return fmt.Sprintf("events:%s", userID)
}

// FlagKey holds the value of a remote feature flag.
func FlagKey(name string) string {
	return fmt.Sprintf("flags:%s", name)
}

func RateLimitKey(userID string) string {
	return fmt.Sprintf("ratelimit:%s", userID)
}
