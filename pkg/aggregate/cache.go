// Package aggregate builds composite views over multiple peer servers with
// graceful per-source degradation, backed by a two-tier TTL cache.
package aggregate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is a two-tier TTL cache: an in-process hot tier in front of the
// cache table in the fabric database. The SQLite tier survives restarts;
// expired rows are treated as misses and lazily deleted.
type Cache struct {
	hot *gocache.Cache
	db  *sql.DB
}

// NewCache creates a cache over the fabric database.
func NewCache(db *sql.DB) *Cache {
	return &Cache{
		hot: gocache.New(gocache.NoExpiration, 5*time.Minute),
		db:  db,
	}
}

func cacheKey(category, key string) string {
	return category + "\x00" + key
}

// cloneEntry copies the top level of a cached value. Get and Set trade in
// copies so callers can annotate or mutate a result without racing other
// readers of the shared hot-tier map.
func cloneEntry(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Get returns the cached value for (category, key), or found=false on a
// miss or an expired entry. A SQLite hit repopulates the hot tier. The
// returned map is the caller's own copy.
func (c *Cache) Get(ctx context.Context, category, key string) (map[string]any, bool, error) {
	if v, ok := c.hot.Get(cacheKey(category, key)); ok {
		return cloneEntry(v.(map[string]any)), true, nil
	}

	var (
		value     string
		expiresAt string
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT value, expires_at FROM cache WHERE category = ? AND key = ?`,
		category, key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache: %w", err)
	}

	expiry, err := time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil {
		return nil, false, fmt.Errorf("parse cache expiry: %w", err)
	}
	if !time.Now().Before(expiry) {
		_, _ = c.db.ExecContext(ctx, `DELETE FROM cache WHERE category = ? AND key = ?`, category, key)
		return nil, false, nil
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(value), &decoded); err != nil {
		return nil, false, fmt.Errorf("decode cache entry: %w", err)
	}
	c.hot.Set(cacheKey(category, key), decoded, time.Until(expiry))
	return cloneEntry(decoded), true, nil
}

// Set writes the value to both tiers with the given TTL. Existing entries
// for the same (category, key) are replaced.
func (c *Cache) Set(ctx context.Context, category, key string, value map[string]any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	now := time.Now().UTC()
	expiry := now.Add(ttl)

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO cache (category, key, value, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (category, key) DO UPDATE SET
			value = excluded.value,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		category, key, string(data),
		now.Format(time.RFC3339Nano), expiry.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write cache: %w", err)
	}

	c.hot.Set(cacheKey(category, key), cloneEntry(value), ttl)
	return nil
}

// Invalidate removes an entry from both tiers. Safe when absent.
func (c *Cache) Invalidate(ctx context.Context, category, key string) error {
	c.hot.Delete(cacheKey(category, key))
	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM cache WHERE category = ? AND key = ?`, category, key); err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	return nil
}

// InvalidateCategory removes every entry in a category from both tiers.
func (c *Cache) InvalidateCategory(ctx context.Context, category string) error {
	for k := range c.hot.Items() {
		if len(k) > len(category) && k[:len(category)] == category && k[len(category)] == '\x00' {
			c.hot.Delete(k)
		}
	}
	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM cache WHERE category = ?`, category); err != nil {
		return fmt.Errorf("invalidate cache category: %w", err)
	}
	return nil
}
