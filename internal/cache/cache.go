package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sitewarden/sitewarden/internal/store"
)

// ErrMiss is returned when a key is absent or the cache is not configured.
var ErrMiss = errors.New("cache miss")

const statusTTL = 30 * time.Second

// Client is an optional read-through cache in front of the status table.
// A nil *Client is valid and behaves as an always-missing cache, so callers
// never branch on whether Redis was configured.
type Client struct {
	rdb *redis.Client
}

// New returns nil when redisURL is empty. URLs that fail to parse are treated
// as a bare host:port address.
func New(redisURL string) *Client {
	if redisURL == "" {
		return nil
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{Addr: redisURL}
	}
	return &Client{rdb: redis.NewClient(opt)}
}

func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}

// Ping verifies connectivity at startup. A nil client always succeeds.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, data, ttl).Err()
}

func (c *Client) GetJSON(ctx context.Context, key string, dest any) error {
	if c == nil {
		return ErrMiss
	}
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if c == nil || len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

func statusKey(siteID string) string {
	return "site:status:" + siteID
}

func (c *Client) CacheSiteStatus(ctx context.Context, status *store.SiteStatus) error {
	return c.SetJSON(ctx, statusKey(status.SiteID), status, statusTTL)
}

func (c *Client) GetSiteStatus(ctx context.Context, siteID string) (*store.SiteStatus, error) {
	var status store.SiteStatus
	if err := c.GetJSON(ctx, statusKey(siteID), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// InvalidateSiteStatus drops the cached snapshot after a site is deleted or
// deactivated so a stale status never outlives the site.
func (c *Client) InvalidateSiteStatus(ctx context.Context, siteID string) error {
	return c.Delete(ctx, statusKey(siteID))
}
