package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locks so only one worker runs a given job
// at a time.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL and returns an
	// unlock function, or ErrLockHeld if another holder owns it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter bounds request rates per key across engine instances.
type RateLimiter interface {
	// Allow reports whether another request under key fits within limit
	// requests per window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LeaderboardEntry is one row of a cycle leaderboard.
type LeaderboardEntry struct {
	SlipID        int64  `json:"slip_id"`
	PlayerAddress string `json:"player_address"`
	CorrectCount  int    `json:"correct_count"`
	FinalScore    int64  `json:"final_score"`
	Rank          int    `json:"rank"`
	PrizeEligible bool   `json:"prize_eligible"`
}

// LeaderboardCache caches evaluated cycle leaderboards for cheap reads. The
// store remains the source of truth; the cache is rebuilt on miss.
type LeaderboardCache interface {
	Put(ctx context.Context, cycleID int64, entries []LeaderboardEntry) error
	// Get returns ErrNotFound on cache miss.
	Get(ctx context.Context, cycleID int64) ([]LeaderboardEntry, error)
	Invalidate(ctx context.Context, cycleID int64) error
}

// Engine event types published on cycle state transitions.
const (
	EventCycleOpened    = "cycle_opened"
	EventDeadlinePassed = "deadline_passed"
	EventCycleReady     = "cycle_ready"
	EventCycleResolved  = "cycle_resolved"
	EventCycleEvaluated = "cycle_evaluated"
)

// EngineEvent is a cycle state transition broadcast to subscribers.
type EngineEvent struct {
	Type    string         `json:"type"`
	CycleID int64          `json:"cycle_id"`
	At      time.Time      `json:"at"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// EventBus fans engine events out to interested consumers (the oracle bot
// and the websocket hub).
type EventBus interface {
	Publish(ctx context.Context, event EngineEvent) error
	// Subscribe returns a receive channel and a cancel function. The channel
	// is closed after cancel is called or the context ends.
	Subscribe(ctx context.Context) (<-chan EngineEvent, func(), error)
}

// BlobWriter writes archive objects to cold storage.
type BlobWriter interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
}
