package reading

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LatestCache mirrors each device's newest reading into Redis, written by
// a Broadcaster subscriber that main starts when redis.addr is set (see
// internal/config). No API handler reads from it: GET /api/reading/latest
// always queries Store.Latest.
type LatestCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewLatestCache builds a client for addr (host:port) without dialing;
// the go-redis client connects lazily per command, so this never blocks
// on the network.
func NewLatestCache(addr string, ttl time.Duration) *LatestCache {
	return &LatestCache{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		ttl: ttl,
	}
}

func cacheKey(deviceID string) string {
	return "pyroscan:latest:" + deviceID
}

// Set stores r as the latest reading for its device.
func (c *LatestCache) Set(ctx context.Context, r Reading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("reading: marshal cache entry: %w", err)
	}
	if err := c.rdb.Set(ctx, cacheKey(r.DeviceID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("reading: cache set: %w", err)
	}
	return nil
}

// Get returns the cached reading for deviceID, or ok=false on a cache
// miss (expired entry or never written).
func (c *LatestCache) Get(ctx context.Context, deviceID string) (r Reading, ok bool, err error) {
	data, err := c.rdb.Get(ctx, cacheKey(deviceID)).Bytes()
	if err == redis.Nil {
		return Reading{}, false, nil
	}
	if err != nil {
		return Reading{}, false, fmt.Errorf("reading: cache get: %w", err)
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return Reading{}, false, fmt.Errorf("reading: unmarshal cache entry: %w", err)
	}
	return r, true, nil
}

// Close releases the underlying connection pool.
func (c *LatestCache) Close() error {
	return c.rdb.Close()
}
