package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

// leaderboardTTL bounds staleness if an invalidation is ever missed; the
// store rebuild path covers expiry.
const leaderboardTTL = 7 * 24 * time.Hour

// LeaderboardCache implements domain.LeaderboardCache storing each cycle's
// ranked entries as a single JSON value.
type LeaderboardCache struct {
	rdb *redis.Client
}

// NewLeaderboardCache creates a LeaderboardCache backed by the given Client.
func NewLeaderboardCache(c *Client) *LeaderboardCache {
	return &LeaderboardCache{rdb: c.Underlying()}
}

func leaderboardKey(cycleID int64) string {
	return fmt.Sprintf("oddyssey:leaderboard:%d", cycleID)
}

// Put stores the full leaderboard for a cycle.
func (lc *LeaderboardCache) Put(ctx context.Context, cycleID int64, entries []domain.LeaderboardEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("redis: marshal leaderboard %d: %w", cycleID, err)
	}
	if err := lc.rdb.Set(ctx, leaderboardKey(cycleID), data, leaderboardTTL).Err(); err != nil {
		return fmt.Errorf("redis: put leaderboard %d: %w", cycleID, err)
	}
	return nil
}

// Get returns the cached leaderboard, or domain.ErrNotFound on a miss.
func (lc *LeaderboardCache) Get(ctx context.Context, cycleID int64) ([]domain.LeaderboardEntry, error) {
	data, err := lc.rdb.Get(ctx, leaderboardKey(cycleID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get leaderboard %d: %w", cycleID, err)
	}

	var entries []domain.LeaderboardEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("redis: decode leaderboard %d: %w", cycleID, err)
	}
	return entries, nil
}

// Invalidate drops the cached leaderboard for a cycle.
func (lc *LeaderboardCache) Invalidate(ctx context.Context, cycleID int64) error {
	if err := lc.rdb.Del(ctx, leaderboardKey(cycleID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate leaderboard %d: %w", cycleID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.LeaderboardCache = (*LeaderboardCache)(nil)
