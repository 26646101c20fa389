// Package evaluator scores the slips of a resolved cycle, ranks them, and
// rebuilds the cached leaderboard. Evaluation is exactly-once: a distributed
// lock keeps concurrent workers out and the store's advisory-locked write
// rejects a second completion.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

// lockTTL bounds how long an evaluation run may hold the distributed lock.
const lockTTL = 2 * time.Minute

// recheckSampleSize is how many stored slips a rerun re-scores against the
// resolution artifact to detect drift.
const recheckSampleSize = 5

// Config holds evaluator tuning knobs.
type Config struct {
	// FallbackTick bounds how long a resolved cycle can wait if the
	// resolved event is missed.
	FallbackTick time.Duration
}

// Evaluator scores and ranks the slips of resolved cycles.
type Evaluator struct {
	cycles domain.CycleStore
	slips  domain.SlipStore
	cache  domain.LeaderboardCache
	locks  domain.LockManager
	bus    domain.EventBus
	clock  domain.Clock
	cfg    Config
	logger *slog.Logger
}

func New(
	cycles domain.CycleStore,
	slips domain.SlipStore,
	cache domain.LeaderboardCache,
	locks domain.LockManager,
	bus domain.EventBus,
	clock domain.Clock,
	cfg Config,
	logger *slog.Logger,
) *Evaluator {
	if cfg.FallbackTick <= 0 {
		cfg.FallbackTick = 5 * time.Minute
	}
	return &Evaluator{
		cycles: cycles,
		slips:  slips,
		cache:  cache,
		locks:  locks,
		bus:    bus,
		clock:  clock,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "evaluator")),
	}
}

// Run evaluates cycles until the context ends, waking on cycle_resolved
// events and sweeping resolved cycles on the fallback ticker.
func (e *Evaluator) Run(ctx context.Context) error {
	events, cancel, err := e.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("evaluator: subscribing to events: %w", err)
	}
	defer cancel()

	ticker := time.NewTicker(e.cfg.FallbackTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type != domain.EventCycleResolved {
				continue
			}
			e.evaluateLogged(ctx, ev.CycleID)
		case <-ticker.C:
			cycles, err := e.cycles.ListByState(ctx, domain.CycleResolved)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				e.logger.ErrorContext(ctx, "listing resolved cycles failed",
					slog.String("error", err.Error()))
				continue
			}
			for _, c := range cycles {
				e.evaluateLogged(ctx, c.CycleID)
			}
		}
	}
}

func (e *Evaluator) evaluateLogged(ctx context.Context, cycleID int64) {
	if err := e.EvaluateCycle(ctx, cycleID); err != nil {
		if ctx.Err() != nil {
			return
		}
		e.logger.ErrorContext(ctx, "cycle evaluation failed",
			slog.Int64("cycle_id", cycleID),
			slog.String("error", err.Error()),
		)
	}
}

// EvaluateCycle scores every slip of a resolved cycle against its resolution
// artifact, persists scores and ranks, and rebuilds the leaderboard cache.
// Calling it for an already-evaluated cycle never re-scores: the stored
// values are spot checked against the artifact and the cache is rebuilt if
// it was evicted. Losing the lock or the store write to a concurrent run is
// a no-op.
func (e *Evaluator) EvaluateCycle(ctx context.Context, cycleID int64) error {
	unlock, err := e.locks.Acquire(ctx, fmt.Sprintf("evaluate:%d", cycleID), lockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		e.logger.InfoContext(ctx, "evaluation already running elsewhere",
			slog.Int64("cycle_id", cycleID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("evaluator: acquiring lock: %w", err)
	}
	defer unlock()

	cycle, err := e.cycles.GetByCycleID(ctx, cycleID)
	if err != nil {
		return fmt.Errorf("evaluator: loading cycle %d: %w", cycleID, err)
	}
	if cycle.EvaluationCompleted {
		return e.recheckEvaluated(ctx, &cycle)
	}
	if !cycle.IsResolved || cycle.Resolution == nil {
		return domain.ErrCycleNotResolved
	}

	slips, err := e.slips.ListByCycle(ctx, cycleID)
	if err != nil {
		return fmt.Errorf("evaluator: listing slips: %w", err)
	}

	for i := range slips {
		correct, score := ScoreSlip(&cycle, cycle.Resolution, &slips[i])
		slips[i].CorrectCount = correct
		slips[i].FinalScore = score
		slips[i].IsEvaluated = true
	}
	RankSlips(slips)

	if err := e.slips.StoreEvaluation(ctx, cycleID, slips); err != nil {
		if errors.Is(err, domain.ErrAlreadyEvaluated) {
			e.logger.InfoContext(ctx, "cycle evaluated by concurrent run",
				slog.Int64("cycle_id", cycleID))
			return nil
		}
		return fmt.Errorf("evaluator: storing evaluation: %w", err)
	}

	if err := e.cache.Put(ctx, cycleID, Leaderboard(slips)); err != nil {
		e.logger.WarnContext(ctx, "leaderboard cache write failed",
			slog.Int64("cycle_id", cycleID),
			slog.String("error", err.Error()),
		)
	}

	e.logger.InfoContext(ctx, "cycle evaluated",
		slog.Int64("cycle_id", cycleID),
		slog.Int("slips", len(slips)),
	)
	if err := e.bus.Publish(ctx, domain.EngineEvent{
		Type:    domain.EventCycleEvaluated,
		CycleID: cycleID,
		At:      e.clock.Now(),
		Detail:  map[string]any{"slips": len(slips)},
	}); err != nil {
		e.logger.WarnContext(ctx, "event publish failed",
			slog.String("error", err.Error()))
	}
	return nil
}

// recheckEvaluated handles a rerun on an already-evaluated cycle: the stored
// scores of a slip sample are recomputed against the resolution artifact, and
// the leaderboard cache is rebuilt if it was evicted. Drift between stored
// and recomputed values means the persisted evaluation no longer matches the
// artifact; it is logged as a data integrity incident, never overwritten.
func (e *Evaluator) recheckEvaluated(ctx context.Context, cycle *domain.Cycle) error {
	slips, err := e.slips.ListByCycle(ctx, cycle.CycleID)
	if err != nil {
		return fmt.Errorf("evaluator: listing slips for recheck: %w", err)
	}

	if cycle.Resolution != nil {
		for i := range slips {
			if i >= recheckSampleSize {
				break
			}
			s := &slips[i]
			if !s.IsEvaluated {
				continue
			}
			correct, score := ScoreSlip(cycle, cycle.Resolution, s)
			if correct != s.CorrectCount || score != s.FinalScore {
				e.logger.ErrorContext(ctx, "stored evaluation drifts from resolution artifact",
					slog.Int64("cycle_id", cycle.CycleID),
					slog.Int64("slip_id", s.SlipID),
					slog.Int("stored_correct", s.CorrectCount),
					slog.Int("recomputed_correct", correct),
					slog.Int64("stored_score", s.FinalScore),
					slog.Int64("recomputed_score", score),
					slog.String("error", domain.ErrDataIntegrity.Error()),
				)
			}
		}
	}

	if _, err := e.cache.Get(ctx, cycle.CycleID); err == nil {
		return nil
	}
	sort.SliceStable(slips, func(i, j int) bool { return slips[i].Rank < slips[j].Rank })
	return e.cache.Put(ctx, cycle.CycleID, Leaderboard(slips))
}

// ScoreSlip computes the correct count and final score for one slip. The
// score starts at 1000 (a 1.000 multiplier in thousandths) and is multiplied
// by the frozen odds of every correct pick, flooring at each step. A match
// whose outcome is NotSet counts as a miss for any prediction on it.
func ScoreSlip(cycle *domain.Cycle, artifact *domain.ResolutionArtifact, slip *domain.Slip) (int, int64) {
	correct := 0
	score := int64(domain.StartingScore)
	for _, p := range slip.Predictions {
		idx := cycle.MatchIndex(p.FixtureID)
		if idx < 0 {
			continue
		}
		if !predictionHits(p, artifact.Outcomes[idx]) {
			continue
		}
		correct++
		score = score * int64(p.SelectedOdd) / domain.OddsScale
	}
	return correct, score
}

func predictionHits(p domain.Prediction, outcome domain.MatchOutcome) bool {
	switch p.BetType {
	case domain.BetMoneyline:
		switch outcome.Moneyline {
		case domain.MoneylineHome:
			return p.Selection == domain.LabelHome
		case domain.MoneylineDraw:
			return p.Selection == domain.LabelDraw
		case domain.MoneylineAway:
			return p.Selection == domain.LabelAway
		}
	case domain.BetOverUnder:
		switch outcome.OverUnder {
		case domain.OverUnderOver:
			return p.Selection == domain.LabelOver
		case domain.OverUnderUnder:
			return p.Selection == domain.LabelUnder
		}
	}
	return false
}

// RankSlips orders slips by correct count descending, then final score
// descending, then placement time ascending, and assigns sequential ranks
// starting at 1.
func RankSlips(slips []domain.Slip) {
	sort.SliceStable(slips, func(i, j int) bool {
		if slips[i].CorrectCount != slips[j].CorrectCount {
			return slips[i].CorrectCount > slips[j].CorrectCount
		}
		if slips[i].FinalScore != slips[j].FinalScore {
			return slips[i].FinalScore > slips[j].FinalScore
		}
		return slips[i].PlacedAt.Before(slips[j].PlacedAt)
	})
	for i := range slips {
		slips[i].Rank = i + 1
	}
}

// Leaderboard converts ranked slips into leaderboard entries. Prize
// eligibility requires at least seven correct picks and a top-three rank.
func Leaderboard(slips []domain.Slip) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, len(slips))
	for i, s := range slips {
		entries[i] = domain.LeaderboardEntry{
			SlipID:        s.SlipID,
			PlayerAddress: s.PlayerAddress,
			CorrectCount:  s.CorrectCount,
			FinalScore:    s.FinalScore,
			Rank:          s.Rank,
			PrizeEligible: s.CorrectCount >= domain.MinCorrectForPrize && s.Rank <= 3,
		}
	}
	return entries
}
