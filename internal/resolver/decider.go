// Package resolver decides when a cycle is safe to settle and pushes the
// settlement on-chain. The decider stages a resolution artifact once every
// match is accounted for; the oracle bot submits staged artifacts to the
// ledger in cycle order.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

const (
	// resolutionDelay is the safety margin after the last kickoff before a
	// cycle may resolve. It covers stoppage time, extra time, and penalties.
	resolutionDelay = 105 * time.Minute

	// abandonGrace is how long past kickoff a fixture may stay in a
	// pre-match status before it is treated as cancelled.
	abandonGrace = 2 * time.Hour
)

// DeciderConfig holds decider tuning knobs.
type DeciderConfig struct {
	// Tick is how often pending cycles are re-examined.
	Tick time.Duration
}

// Decider examines cycles in pending_results and stages a resolution
// artifact once every match has a settled fate.
type Decider struct {
	cycles   domain.CycleStore
	fixtures domain.FixtureStore
	results  domain.ResultStore
	bus      domain.EventBus
	clock    domain.Clock
	cfg      DeciderConfig
	logger   *slog.Logger
}

func NewDecider(
	cycles domain.CycleStore,
	fixtures domain.FixtureStore,
	results domain.ResultStore,
	bus domain.EventBus,
	clock domain.Clock,
	cfg DeciderConfig,
	logger *slog.Logger,
) *Decider {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Minute
	}
	return &Decider{
		cycles:   cycles,
		fixtures: fixtures,
		results:  results,
		bus:      bus,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "resolver.decider")),
	}
}

// Run re-examines pending cycles on a fixed interval until the context ends.
func (d *Decider) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.Sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				d.logger.ErrorContext(ctx, "decider sweep failed",
					slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep checks every cycle in pending_results and stages those that are
// ready.
func (d *Decider) Sweep(ctx context.Context) error {
	cycles, err := d.cycles.ListByState(ctx, domain.CyclePendingResults)
	if err != nil {
		return fmt.Errorf("resolver: listing pending cycles: %w", err)
	}
	for i := range cycles {
		if err := d.examine(ctx, &cycles[i]); err != nil {
			d.logger.ErrorContext(ctx, "cycle examination failed",
				slog.Int64("cycle_id", cycles[i].CycleID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// examine applies the readiness gates to one cycle and stages its artifact
// when all pass. Gates: the resolution delay after the last kickoff has
// elapsed, every match is terminal or cancelled, and every terminal match
// has a complete stored result.
func (d *Decider) examine(ctx context.Context, cycle *domain.Cycle) error {
	now := d.clock.Now()
	if now.Before(cycle.MaxKickoff().Add(resolutionDelay)) {
		return nil
	}

	fixtures, err := d.fixtures.ListByIDs(ctx, cycle.FixtureIDs())
	if err != nil {
		return fmt.Errorf("loading fixtures: %w", err)
	}
	byID := make(map[domain.FixtureID]domain.Fixture, len(fixtures))
	for _, f := range fixtures {
		byID[f.ID] = f
	}

	results, err := d.results.GetByFixtureIDs(ctx, cycle.FixtureIDs())
	if err != nil {
		return fmt.Errorf("loading results: %w", err)
	}

	artifact := domain.ResolutionArtifact{CycleID: cycle.CycleID}
	for i, m := range cycle.Matches {
		fixture, ok := byID[m.FixtureID]
		if !ok {
			return fmt.Errorf("fixture %d missing from store: %w", m.FixtureID, domain.ErrDataIntegrity)
		}

		// A fixture that never kicked off well past its slot is abandoned.
		// The grace expires at exactly kickoff plus abandonGrace.
		if domain.IsPreMatchStatus(fixture.Status) && !now.Before(m.KickoffUTC.Add(abandonGrace)) {
			if err := d.fixtures.UpdateStatus(ctx, m.FixtureID, domain.StatusCancelled, nil); err != nil {
				return fmt.Errorf("marking fixture %d abandoned: %w", m.FixtureID, err)
			}
			d.logger.WarnContext(ctx, "fixture marked abandoned",
				slog.Int64("fixture_id", int64(m.FixtureID)),
				slog.Int64("cycle_id", cycle.CycleID),
			)
			fixture.Status = domain.StatusCancelled
		}

		switch {
		case domain.IsCancelledStatus(fixture.Status):
			// Both markets void: NotSet outcomes count as misses for every
			// prediction on this match.
			artifact.Outcomes[i] = domain.MatchOutcome{}
		case domain.IsTerminalStatus(fixture.Status):
			result, ok := results[m.FixtureID]
			if !ok || !result.Complete() {
				return nil // result not ingested yet, retry next tick
			}
			artifact.Outcomes[i] = domain.MatchOutcome{
				Moneyline: domain.MoneylineCode(result.Outcome1X2),
				OverUnder: domain.OverUnderCode(result.OutcomeOU),
			}
		default:
			return nil // still in play
		}
	}

	if err := d.cycles.StageResolution(ctx, cycle.CycleID, artifact); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil // staged concurrently
		}
		return fmt.Errorf("staging resolution: %w", err)
	}

	d.logger.InfoContext(ctx, "cycle ready for resolution",
		slog.Int64("cycle_id", cycle.CycleID))
	if err := d.bus.Publish(ctx, domain.EngineEvent{
		Type:    domain.EventCycleReady,
		CycleID: cycle.CycleID,
		At:      now,
	}); err != nil {
		d.logger.WarnContext(ctx, "event publish failed",
			slog.String("error", err.Error()))
	}
	return nil
}
