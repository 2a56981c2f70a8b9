// Package cache keeps the freshest feature snapshot per trader and window in
// Redis so downstream services read current state without touching the
// analytics database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fx-cortex/internal/domain"
	"fx-cortex/internal/storage"
)

// DefaultGrace extends cached state past the window length so a briefly
// idle trader does not vanish from readers at the exact window boundary.
const DefaultGrace = time.Hour

// FeatureCache mirrors the latest snapshot per (trader, window) in Redis.
// It must be configured with the same window set as the aggregation engine,
// or writes for the extra windows will be rejected.
type FeatureCache struct {
	client  *redis.Client
	windows []domain.Window
	grace   time.Duration
}

// NewFeatureCache creates a FeatureCache over the given window set. An empty
// set uses domain.DefaultWindows; grace <= 0 uses DefaultGrace.
func NewFeatureCache(client *redis.Client, windows []domain.Window, grace time.Duration) *FeatureCache {
	if len(windows) == 0 {
		windows = domain.DefaultWindows
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &FeatureCache{client: client, windows: windows, grace: grace}
}

func snapshotKey(traderID int64, windowID string) string {
	return fmt.Sprintf("trader_state:%d:%s", traderID, windowID)
}

// ttlFor resolves a window id against the configured set and returns the
// cache TTL for its snapshots.
func (c *FeatureCache) ttlFor(windowID string) (time.Duration, error) {
	w, ok := domain.WindowByID(c.windows, windowID)
	if !ok {
		return 0, fmt.Errorf("cache: unknown window %q", windowID)
	}
	return w.Length + c.grace, nil
}

// Put stores a snapshot with a TTL of its window length plus the grace
// period, so stale traders age out on their own.
func (c *FeatureCache) Put(ctx context.Context, s *domain.FeatureSnapshot) error {
	ttl, err := c.ttlFor(s.WindowID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("cache: marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, snapshotKey(s.TraderID, s.WindowID), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", snapshotKey(s.TraderID, s.WindowID), err)
	}
	return nil
}

// Get retrieves the cached snapshot for a trader and window. Returns
// storage.ErrNotFound when the key is absent or expired.
func (c *FeatureCache) Get(ctx context.Context, traderID int64, windowID string) (*domain.FeatureSnapshot, error) {
	data, err := c.client.Get(ctx, snapshotKey(traderID, windowID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get %s: %w", snapshotKey(traderID, windowID), err)
	}
	var s domain.FeatureSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("cache: unmarshal snapshot: %w", err)
	}
	return &s, nil
}

// Invalidate removes a trader's cached snapshots across all windows. Used
// when per-trader state is rebuilt after corruption.
func (c *FeatureCache) Invalidate(ctx context.Context, traderID int64) error {
	keys := make([]string, 0, len(c.windows))
	for _, w := range c.windows {
		keys = append(keys, snapshotKey(traderID, w.ID))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache: invalidate trader %d: %w", traderID, err)
	}
	return nil
}

const modelVersionKey = "fx-cortex:model_version"

// VersionStore keeps the classifier's model-version marker in Redis so every
// worker process sees coordinator bumps.
type VersionStore struct {
	client *redis.Client
}

// NewVersionStore creates a Redis-backed VersionStore.
func NewVersionStore(client *redis.Client) *VersionStore {
	return &VersionStore{client: client}
}

var _ storage.VersionStore = (*VersionStore)(nil)

// SetModelVersion writes the marker. No TTL: the marker is valid until the
// next round replaces it.
func (s *VersionStore) SetModelVersion(ctx context.Context, version string) error {
	if err := s.client.Set(ctx, modelVersionKey, version, 0).Err(); err != nil {
		return fmt.Errorf("cache: set model version: %w", err)
	}
	return nil
}

// GetModelVersion reads the marker. Returns storage.ErrNotFound before the
// first classifier round.
func (s *VersionStore) GetModelVersion(ctx context.Context) (string, error) {
	v, err := s.client.Get(ctx, modelVersionKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("cache: get model version: %w", err)
	}
	return v, nil
}
