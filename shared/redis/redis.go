package redis

import (
	"context"
	"strings"

	"persona-ritual/backend/pkg/config"

	"github.com/redis/go-redis/v9"
)

// Nil is returned by reads of missing keys
var Nil = redis.Nil

// Options describes how to reach redis and how to namespace keys
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// OptionsFromConfig reads the realtime redis settings
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Addr:      cfg.Realtime.RedisURL,
		Password:  cfg.Realtime.RedisPassword,
		DB:        cfg.Realtime.RedisDB,
		KeyPrefix: cfg.Realtime.KeyPrefix,
	}
}

// Client is a go-redis client that namespaces every key under a prefix
type Client struct {
	rdb    *redis.Client
	prefix string
}

// NewClient connects lazily to the configured redis
func NewClient(opts Options) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return Wrap(rdb, opts.KeyPrefix)
}

// Wrap namespaces an existing go-redis client
func Wrap(rdb *redis.Client, prefix string) *Client {
	return &Client{rdb: rdb, prefix: strings.TrimSuffix(prefix, ":")}
}

// Key joins parts under the client prefix, e.g. prefix:presence:conn:<id>
func (c *Client) Key(parts ...string) string {
	if c.prefix == "" {
		return strings.Join(parts, ":")
	}
	return c.prefix + ":" + strings.Join(parts, ":")
}

// Redis returns the underlying go-redis client
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
