package domain

import (
	"context"
	"time"
)

// Clock abstracts UTC wall-clock time so time-gated components can be tested
// deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixtureStore persists fixtures and their raw odds.
type FixtureStore interface {
	UpsertFixtures(ctx context.Context, fixtures []Fixture) error
	UpsertOdds(ctx context.Context, odds []FixtureOdds) error
	GetByID(ctx context.Context, id FixtureID) (Fixture, error)
	ListByIDs(ctx context.Context, ids []FixtureID) ([]Fixture, error)
	// ListCandidates returns fixtures kicking off on the given UTC calendar
	// day that are in a pre-match status and have all five required odds
	// present and non-null.
	ListCandidates(ctx context.Context, day time.Time) ([]Candidate, error)
	UpdateStatus(ctx context.Context, id FixtureID, status string, finishedAt *time.Time) error
}

// CycleStore persists cycles and owns their state machine rows.
//
// Cycle creation is two-phase: CreateDraft stakes the intent under the unique
// game_date constraint before the ledger is called, ActivateDraft binds the
// ledger-assigned cycle id on success, and DeleteDraft rolls the intent back
// on ledger failure. A store transaction is never held across the ledger
// call.
type CycleStore interface {
	CreateDraft(ctx context.Context, gameDate time.Time, matches []MatchEntry, deadline time.Time) (draftID int64, err error)
	ActivateDraft(ctx context.Context, draftID, cycleID int64) error
	DeleteDraft(ctx context.Context, draftID int64) error

	GetByCycleID(ctx context.Context, cycleID int64) (Cycle, error)
	GetByDate(ctx context.Context, gameDate time.Time) (Cycle, error)
	ListByState(ctx context.Context, states ...CycleState) ([]Cycle, error)
	ListOpenPastDeadline(ctx context.Context, now time.Time) ([]Cycle, error)

	// SetState transitions cycleID from the expected state to the new one,
	// returning ErrInvalidTransition if the row is not in the expected state.
	SetState(ctx context.Context, cycleID int64, from, to CycleState) error
	Cancel(ctx context.Context, cycleID int64, reason string) error

	// StageResolution persists the artifact and flips ready_for_resolution in
	// one transaction without touching is_resolved.
	StageResolution(ctx context.Context, cycleID int64, artifact ResolutionArtifact) error
	MarkResolved(ctx context.Context, cycleID int64, txHash string, resolvedAt time.Time) error

	// UnresolvedFixtureIDs returns the union of fixture ids across cycles in
	// pending_results or ready_for_resolution that have no complete stored
	// result yet.
	UnresolvedFixtureIDs(ctx context.Context) ([]FixtureID, error)

	// ListEvaluatedBefore returns cycles whose evaluation completed before
	// the cutoff, for cold-storage archival.
	ListEvaluatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Cycle, error)
}

// ResultStore persists normalised fixture results.
type ResultStore interface {
	Upsert(ctx context.Context, result FixtureResult) error
	GetByFixtureIDs(ctx context.Context, ids []FixtureID) (map[FixtureID]FixtureResult, error)
}

// SlipStore persists user slips and their evaluation output.
type SlipStore interface {
	Insert(ctx context.Context, slip Slip) (int64, error)
	GetByID(ctx context.Context, slipID int64) (Slip, error)
	ListByCycle(ctx context.Context, cycleID int64) ([]Slip, error)
	CountByCycle(ctx context.Context, cycleID int64) (int64, error)

	// StoreEvaluation writes final scores, correct counts, and ranks for every
	// slip of the cycle and sets evaluation_completed, all inside a single
	// transaction guarded by an advisory lock keyed by cycleID. It returns
	// ErrAlreadyEvaluated when the cycle was evaluated by a concurrent run.
	StoreEvaluation(ctx context.Context, cycleID int64, slips []Slip) error

	// DeleteByCycle removes all slips of an archived cycle from the hot store.
	DeleteByCycle(ctx context.Context, cycleID int64) (int64, error)
}
