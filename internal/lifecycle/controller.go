// Package lifecycle drives the daily cycle state machine: opening a cycle
// for a game date, closing betting at the deadline, and cancelling cycles
// that cannot proceed.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

const (
	// draftRetryAttempts and draftRetryDelay bound how long OpenCycle waits
	// for a concurrent opener's in-flight draft to settle.
	draftRetryAttempts = 3
	draftRetryDelay    = 2 * time.Second
)

// Ledger is the slice of the ledger client the controller needs.
type Ledger interface {
	StartNewDailyCycle(ctx context.Context, matches []domain.MatchEntry) (int64, error)
}

// MatchPicker selects the ten daily matches from a candidate pool.
type MatchPicker interface {
	SelectMatches(pool []domain.Candidate) ([]domain.MatchEntry, error)
}

// Config holds lifecycle tuning knobs.
type Config struct {
	// DeadlineTick is how often the watcher scans for open cycles past their
	// betting deadline.
	DeadlineTick time.Duration
}

// Controller owns cycle creation and the betting deadline watcher.
type Controller struct {
	cycles   domain.CycleStore
	fixtures domain.FixtureStore
	slips    domain.SlipStore
	picker   MatchPicker
	ledger   Ledger
	bus      domain.EventBus
	clock    domain.Clock
	cfg      Config
	logger   *slog.Logger
}

func New(
	cycles domain.CycleStore,
	fixtures domain.FixtureStore,
	slips domain.SlipStore,
	picker MatchPicker,
	ledger Ledger,
	bus domain.EventBus,
	clock domain.Clock,
	cfg Config,
	logger *slog.Logger,
) *Controller {
	if cfg.DeadlineTick <= 0 {
		cfg.DeadlineTick = 30 * time.Second
	}
	return &Controller{
		cycles:   cycles,
		fixtures: fixtures,
		slips:    slips,
		picker:   picker,
		ledger:   ledger,
		bus:      bus,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "lifecycle")),
	}
}

// OpenCycle creates and activates the cycle for the given UTC game date. The
// operation is idempotent: if a cycle already exists for the date it is
// returned unchanged. Creation is two-phase so no database transaction spans
// the ledger call: a draft row stakes the date, the ledger assigns the cycle
// id, and the draft is activated or rolled back.
func (c *Controller) OpenCycle(ctx context.Context, gameDate time.Time) (domain.Cycle, error) {
	gameDate = midnightUTC(gameDate)

	if cycle, done, err := c.existingCycle(ctx, gameDate); done || err != nil {
		return cycle, err
	}

	pool, err := c.fixtures.ListCandidates(ctx, gameDate)
	if err != nil {
		return domain.Cycle{}, fmt.Errorf("lifecycle: listing candidates: %w", err)
	}
	matches, err := c.picker.SelectMatches(pool)
	if err != nil {
		return domain.Cycle{}, err
	}
	// Matches are sorted by kickoff, so the deadline is the first entry.
	deadline := matches[0].KickoffUTC

	draftID, err := c.cycles.CreateDraft(ctx, gameDate, matches, deadline)
	if errors.Is(err, domain.ErrCycleExists) {
		// Lost the race to another opener.
		cycle, _, err := c.existingCycle(ctx, gameDate)
		if err != nil {
			return domain.Cycle{}, err
		}
		return cycle, nil
	}
	if err != nil {
		return domain.Cycle{}, fmt.Errorf("lifecycle: creating draft: %w", err)
	}

	cycleID, err := c.ledger.StartNewDailyCycle(ctx, matches)
	if err != nil {
		if delErr := c.cycles.DeleteDraft(context.WithoutCancel(ctx), draftID); delErr != nil {
			c.logger.ErrorContext(ctx, "draft rollback failed",
				slog.Int64("draft_id", draftID),
				slog.String("error", delErr.Error()),
			)
		}
		return domain.Cycle{}, fmt.Errorf("lifecycle: ledger cycle creation: %w", err)
	}

	if err := c.cycles.ActivateDraft(ctx, draftID, cycleID); err != nil {
		return domain.Cycle{}, fmt.Errorf("lifecycle: activating draft: %w", err)
	}

	c.logger.InfoContext(ctx, "cycle opened",
		slog.Int64("cycle_id", cycleID),
		slog.Time("game_date", gameDate),
		slog.Time("betting_deadline", deadline),
	)
	c.publish(ctx, domain.EngineEvent{
		Type:    domain.EventCycleOpened,
		CycleID: cycleID,
		At:      c.clock.Now(),
		Detail:  map[string]any{"game_date": gameDate.Format("2006-01-02")},
	})

	return c.cycles.GetByCycleID(ctx, cycleID)
}

// OpenToday opens the cycle for the current UTC calendar day.
func (c *Controller) OpenToday(ctx context.Context) (domain.Cycle, error) {
	return c.OpenCycle(ctx, c.clock.Now())
}

// existingCycle checks whether a cycle already occupies the game date. A
// concurrent opener's draft gets a short grace period to settle before the
// date is treated as taken.
func (c *Controller) existingCycle(ctx context.Context, gameDate time.Time) (domain.Cycle, bool, error) {
	for attempt := 0; ; attempt++ {
		cycle, err := c.cycles.GetByDate(ctx, gameDate)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Cycle{}, false, nil
		}
		if err != nil {
			return domain.Cycle{}, false, fmt.Errorf("lifecycle: looking up cycle by date: %w", err)
		}
		if cycle.State != domain.CycleDraft {
			return cycle, true, nil
		}
		if attempt >= draftRetryAttempts {
			return domain.Cycle{}, false, fmt.Errorf("lifecycle: draft for %s still unsettled: %w",
				gameDate.Format("2006-01-02"), domain.ErrCycleExists)
		}
		select {
		case <-ctx.Done():
			return domain.Cycle{}, false, ctx.Err()
		case <-time.After(draftRetryDelay):
		}
	}
}

// CancelCycle cancels an open cycle. A cycle that already holds slips cannot
// be cancelled.
func (c *Controller) CancelCycle(ctx context.Context, cycleID int64, reason string) error {
	n, err := c.slips.CountByCycle(ctx, cycleID)
	if err != nil {
		return fmt.Errorf("lifecycle: counting slips: %w", err)
	}
	if n > 0 {
		return domain.ErrCycleHasSlips
	}
	if err := c.cycles.Cancel(ctx, cycleID, reason); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "cycle cancelled",
		slog.Int64("cycle_id", cycleID),
		slog.String("reason", reason),
	)
	return nil
}

// RunDeadlineWatcher transitions open cycles to pending_results once their
// betting deadline passes. It runs until the context ends.
func (c *Controller) RunDeadlineWatcher(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.DeadlineTick)
	defer ticker.Stop()

	c.logger.InfoContext(ctx, "deadline watcher started",
		slog.Duration("tick", c.cfg.DeadlineTick))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.closePastDeadline(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.ErrorContext(ctx, "deadline sweep failed",
					slog.String("error", err.Error()))
			}
		}
	}
}

func (c *Controller) closePastDeadline(ctx context.Context) error {
	cycles, err := c.cycles.ListOpenPastDeadline(ctx, c.clock.Now())
	if err != nil {
		return err
	}
	for _, cycle := range cycles {
		err := c.cycles.SetState(ctx, cycle.CycleID, domain.CycleOpen, domain.CyclePendingResults)
		if errors.Is(err, domain.ErrInvalidTransition) {
			continue // another worker got there first
		}
		if err != nil {
			return err
		}
		c.logger.InfoContext(ctx, "betting closed",
			slog.Int64("cycle_id", cycle.CycleID))
		c.publish(ctx, domain.EngineEvent{
			Type:    domain.EventDeadlinePassed,
			CycleID: cycle.CycleID,
			At:      c.clock.Now(),
		})
	}
	return nil
}

func (c *Controller) publish(ctx context.Context, ev domain.EngineEvent) {
	if err := c.bus.Publish(ctx, ev); err != nil {
		c.logger.WarnContext(ctx, "event publish failed",
			slog.String("event", ev.Type),
			slog.Int64("cycle_id", ev.CycleID),
			slog.String("error", err.Error()),
		)
	}
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
