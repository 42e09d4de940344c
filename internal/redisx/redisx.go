package redisx

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key does not exist.
var ErrMiss = errors.New("redisx: cache miss")

const keyPrefix = "comps"

type Client struct{ Rdb *redis.Client }

func New(addr string, password string, db int) *Client {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &Client{Rdb: rdb}
}

// Key joins parts under the service prefix: Key("resolve", k) -> "comps:resolve:k".
func Key(parts ...string) string {
	return keyPrefix + ":" + strings.Join(parts, ":")
}

func (c *Client) Ping(ctx context.Context) error {
	return c.Rdb.Ping(ctx).Err()
}

func (c *Client) Close() error { return c.Rdb.Close() }

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	v, err := c.Rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return v, err
}

func (c *Client) Set(ctx context.Context, key string, val string, ttl time.Duration) error {
	return c.Rdb.Set(ctx, key, val, ttl).Err()
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.Rdb.Exists(ctx, key).Result()
	return n == 1, err
}

func (c *Client) SetNX(ctx context.Context, key string, val string, ttl time.Duration) (bool, error) {
	return c.Rdb.SetNX(ctx, key, val, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.Rdb.Del(ctx, keys...).Err()
}
