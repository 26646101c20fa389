package evaluator

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

var placedBase = time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)

// scoringCycle builds a resolved cycle where every match finished Home and
// Over, with frozen odds 2.000 for every selection.
func scoringCycle() domain.Cycle {
	cycle := domain.Cycle{
		CycleID:    42,
		State:      domain.CycleResolved,
		IsResolved: true,
	}
	artifact := &domain.ResolutionArtifact{CycleID: 42}
	for i := 0; i < domain.CycleSize; i++ {
		cycle.Matches = append(cycle.Matches, domain.MatchEntry{
			FixtureID: domain.FixtureID(100 + i),
			OddsHome:  2000, OddsDraw: 2000, OddsAway: 2000, OddsOver: 2000, OddsUnder: 2000,
		})
		artifact.Outcomes[i] = domain.MatchOutcome{
			Moneyline: domain.MoneylineHome,
			OverUnder: domain.OverUnderOver,
		}
	}
	cycle.Resolution = artifact
	return cycle
}

// slipPicking builds a slip whose first n moneyline picks are Home (hits in
// scoringCycle) and the rest Away (misses).
func slipPicking(id int64, hits int, placed time.Time) domain.Slip {
	slip := domain.Slip{SlipID: id, CycleID: 42, PlayerAddress: "0xabc", PlacedAt: placed}
	for i := 0; i < domain.CycleSize; i++ {
		sel := domain.LabelAway
		if i < hits {
			sel = domain.LabelHome
		}
		slip.Predictions = append(slip.Predictions, domain.Prediction{
			FixtureID:   domain.FixtureID(100 + i),
			BetType:     domain.BetMoneyline,
			Selection:   sel,
			SelectedOdd: 2000,
		})
	}
	return slip
}

func TestScoreSlipMultipliesHits(t *testing.T) {
	cycle := scoringCycle()

	tests := []struct {
		name        string
		hits        int
		wantCorrect int
		wantScore   int64
	}{
		{"all misses", 0, 0, 1000},
		{"one hit doubles", 1, 1, 2000},
		{"three hits", 3, 3, 8000},
		{"clean sweep", 10, 10, 1024000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slip := slipPicking(1, tt.hits, placedBase)
			correct, score := ScoreSlip(&cycle, cycle.Resolution, &slip)
			if correct != tt.wantCorrect || score != tt.wantScore {
				t.Fatalf("got correct=%d score=%d, want correct=%d score=%d",
					correct, score, tt.wantCorrect, tt.wantScore)
			}
		})
	}
}

func TestScoreSlipFloorsEachStep(t *testing.T) {
	cycle := scoringCycle()
	cycle.Matches[0].OddsHome = 1333
	cycle.Matches[1].OddsHome = 1333

	slip := slipPicking(1, 2, placedBase)
	slip.Predictions[0].SelectedOdd = 1333
	slip.Predictions[1].SelectedOdd = 1333

	_, score := ScoreSlip(&cycle, cycle.Resolution, &slip)
	// 1000 * 1333 / 1000 = 1333; 1333 * 1333 / 1000 = 1776 (floored from 1776.889).
	if score != 1776 {
		t.Fatalf("score = %d, want 1776", score)
	}
}

func TestScoreSlipNotSetIsAlwaysMiss(t *testing.T) {
	cycle := scoringCycle()
	cycle.Resolution.Outcomes[0] = domain.MatchOutcome{} // voided match

	slip := slipPicking(1, 10, placedBase)
	correct, _ := ScoreSlip(&cycle, cycle.Resolution, &slip)
	if correct != 9 {
		t.Fatalf("correct = %d, want 9 (voided match must miss)", correct)
	}
}

func TestRankSlipsOrdering(t *testing.T) {
	slips := []domain.Slip{
		{SlipID: 1, CorrectCount: 7, FinalScore: 5000, PlacedAt: placedBase.Add(time.Minute)},
		{SlipID: 2, CorrectCount: 9, FinalScore: 3000, PlacedAt: placedBase},
		{SlipID: 3, CorrectCount: 7, FinalScore: 5000, PlacedAt: placedBase},
		{SlipID: 4, CorrectCount: 7, FinalScore: 9000, PlacedAt: placedBase},
	}
	RankSlips(slips)

	wantOrder := []int64{2, 4, 3, 1}
	for i, want := range wantOrder {
		if slips[i].SlipID != want {
			t.Fatalf("position %d = slip %d, want slip %d", i, slips[i].SlipID, want)
		}
		if slips[i].Rank != i+1 {
			t.Fatalf("slip %d rank = %d, want %d", slips[i].SlipID, slips[i].Rank, i+1)
		}
	}
}

func TestLeaderboardPrizeEligibility(t *testing.T) {
	slips := []domain.Slip{
		{SlipID: 1, CorrectCount: 9, FinalScore: 9000, Rank: 1},
		{SlipID: 2, CorrectCount: 6, FinalScore: 8000, Rank: 2}, // under the correct floor
		{SlipID: 3, CorrectCount: 7, FinalScore: 7000, Rank: 3},
		{SlipID: 4, CorrectCount: 8, FinalScore: 6000, Rank: 4}, // outside top three
	}
	entries := Leaderboard(slips)

	wantEligible := map[int64]bool{1: true, 2: false, 3: true, 4: false}
	for _, e := range entries {
		if e.PrizeEligible != wantEligible[e.SlipID] {
			t.Fatalf("slip %d eligible = %v, want %v", e.SlipID, e.PrizeEligible, wantEligible[e.SlipID])
		}
	}
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeLocks struct{ held bool }

func (l *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

type fakeBus struct{ events []domain.EngineEvent }

func (b *fakeBus) Publish(_ context.Context, ev domain.EngineEvent) error {
	b.events = append(b.events, ev)
	return nil
}

func (b *fakeBus) Subscribe(context.Context) (<-chan domain.EngineEvent, func(), error) {
	ch := make(chan domain.EngineEvent)
	close(ch)
	return ch, func() {}, nil
}

type fakeCycles struct {
	domain.CycleStore
	cycle domain.Cycle
}

func (f *fakeCycles) GetByCycleID(context.Context, int64) (domain.Cycle, error) {
	return f.cycle, nil
}

type fakeSlips struct {
	domain.SlipStore
	slips            []domain.Slip
	stored           []domain.Slip
	alreadyEvaluated bool
}

func (f *fakeSlips) ListByCycle(context.Context, int64) ([]domain.Slip, error) {
	return f.slips, nil
}

func (f *fakeSlips) StoreEvaluation(_ context.Context, _ int64, slips []domain.Slip) error {
	if f.alreadyEvaluated {
		return domain.ErrAlreadyEvaluated
	}
	f.stored = slips
	return nil
}

type fakeCache struct {
	puts map[int64][]domain.LeaderboardEntry
}

func (c *fakeCache) Put(_ context.Context, cycleID int64, entries []domain.LeaderboardEntry) error {
	if c.puts == nil {
		c.puts = map[int64][]domain.LeaderboardEntry{}
	}
	c.puts[cycleID] = entries
	return nil
}

func (c *fakeCache) Get(_ context.Context, cycleID int64) ([]domain.LeaderboardEntry, error) {
	entries, ok := c.puts[cycleID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return entries, nil
}

func (c *fakeCache) Invalidate(_ context.Context, cycleID int64) error {
	delete(c.puts, cycleID)
	return nil
}

func newEvaluator(cycles *fakeCycles, slips *fakeSlips, cache *fakeCache, locks *fakeLocks, bus *fakeBus) *Evaluator {
	return New(cycles, slips, cache, locks, bus, fixedClock{now: placedBase},
		Config{FallbackTick: time.Minute}, slog.New(slog.DiscardHandler))
}

func TestEvaluateCycleEndToEnd(t *testing.T) {
	cycles := &fakeCycles{cycle: scoringCycle()}
	slips := &fakeSlips{slips: []domain.Slip{
		slipPicking(1, 8, placedBase),
		slipPicking(2, 3, placedBase.Add(time.Minute)),
	}}
	cache := &fakeCache{}
	bus := &fakeBus{}

	ev := newEvaluator(cycles, slips, cache, &fakeLocks{}, bus)
	if err := ev.EvaluateCycle(context.Background(), 42); err != nil {
		t.Fatalf("EvaluateCycle: %v", err)
	}

	if len(slips.stored) != 2 {
		t.Fatalf("stored %d slips, want 2", len(slips.stored))
	}
	if slips.stored[0].SlipID != 1 || slips.stored[0].Rank != 1 {
		t.Fatalf("top slip = %+v, want slip 1 at rank 1", slips.stored[0])
	}
	entries, err := cache.Get(context.Background(), 42)
	if err != nil || len(entries) != 2 {
		t.Fatalf("leaderboard cache = %v entries, err %v", len(entries), err)
	}
	if len(bus.events) != 1 || bus.events[0].Type != domain.EventCycleEvaluated {
		t.Fatalf("events = %+v, want one cycle_evaluated", bus.events)
	}
}

func TestEvaluateCycleLockHeldIsNoOp(t *testing.T) {
	cycles := &fakeCycles{cycle: scoringCycle()}
	slips := &fakeSlips{slips: []domain.Slip{slipPicking(1, 8, placedBase)}}

	ev := newEvaluator(cycles, slips, &fakeCache{}, &fakeLocks{held: true}, &fakeBus{})
	if err := ev.EvaluateCycle(context.Background(), 42); err != nil {
		t.Fatalf("EvaluateCycle with held lock: %v", err)
	}
	if slips.stored != nil {
		t.Fatal("evaluation stored despite held lock")
	}
}

func TestEvaluateCycleConcurrentCompletionIsNoOp(t *testing.T) {
	cycles := &fakeCycles{cycle: scoringCycle()}
	slips := &fakeSlips{slips: []domain.Slip{slipPicking(1, 8, placedBase)}, alreadyEvaluated: true}

	ev := newEvaluator(cycles, slips, &fakeCache{}, &fakeLocks{}, &fakeBus{})
	if err := ev.EvaluateCycle(context.Background(), 42); err != nil {
		t.Fatalf("EvaluateCycle after concurrent completion: %v", err)
	}
}

// evaluatedSlip returns a slip carrying stored evaluation results.
func evaluatedSlip(hits, correct int, score int64) domain.Slip {
	slip := slipPicking(1, hits, placedBase)
	slip.IsEvaluated = true
	slip.CorrectCount = correct
	slip.FinalScore = score
	slip.Rank = 1
	return slip
}

func TestEvaluateCycleRerunDetectsDrift(t *testing.T) {
	cycle := scoringCycle()
	cycle.State = domain.CycleEvaluated
	cycle.EvaluationCompleted = true
	cycles := &fakeCycles{cycle: cycle}
	// Stored values disagree with a recomputation: 8 hits at 2.000 each score
	// 256000 with 8 correct, not 99 with 2.
	slips := &fakeSlips{slips: []domain.Slip{evaluatedSlip(8, 2, 99)}}
	cache := &fakeCache{}

	var logBuf bytes.Buffer
	ev := New(cycles, slips, cache, &fakeLocks{}, &fakeBus{}, fixedClock{now: placedBase},
		Config{FallbackTick: time.Minute}, slog.New(slog.NewTextHandler(&logBuf, nil)))

	if err := ev.EvaluateCycle(context.Background(), 42); err != nil {
		t.Fatalf("EvaluateCycle rerun: %v", err)
	}
	if slips.stored != nil {
		t.Fatal("rerun must never re-store an evaluation")
	}
	logged := logBuf.String()
	if !strings.Contains(logged, "drift") || !strings.Contains(logged, domain.ErrDataIntegrity.Error()) {
		t.Fatalf("rerun did not report drift as a data integrity incident: %s", logged)
	}
}

func TestEvaluateCycleRerunRebuildsCacheWithoutRescoring(t *testing.T) {
	cycle := scoringCycle()
	cycle.State = domain.CycleEvaluated
	cycle.EvaluationCompleted = true
	cycles := &fakeCycles{cycle: cycle}
	slips := &fakeSlips{slips: []domain.Slip{evaluatedSlip(8, 8, 256000)}}
	cache := &fakeCache{}

	var logBuf bytes.Buffer
	ev := New(cycles, slips, cache, &fakeLocks{}, &fakeBus{}, fixedClock{now: placedBase},
		Config{FallbackTick: time.Minute}, slog.New(slog.NewTextHandler(&logBuf, nil)))

	if err := ev.EvaluateCycle(context.Background(), 42); err != nil {
		t.Fatalf("EvaluateCycle rerun: %v", err)
	}
	if slips.stored != nil {
		t.Fatal("rerun must never re-store an evaluation")
	}
	if strings.Contains(logBuf.String(), "drift") {
		t.Fatalf("consistent stored values reported as drift: %s", logBuf.String())
	}
	entries, err := cache.Get(context.Background(), 42)
	if err != nil || len(entries) != 1 {
		t.Fatalf("leaderboard cache not rebuilt on rerun: %v entries, err %v", len(entries), err)
	}
}

func TestEvaluateCycleRequiresResolution(t *testing.T) {
	cycle := scoringCycle()
	cycle.IsResolved = false
	cycle.Resolution = nil
	cycles := &fakeCycles{cycle: cycle}

	ev := newEvaluator(cycles, &fakeSlips{}, &fakeCache{}, &fakeLocks{}, &fakeBus{})
	err := ev.EvaluateCycle(context.Background(), 42)
	if !errors.Is(err, domain.ErrCycleNotResolved) {
		t.Fatalf("err = %v, want ErrCycleNotResolved", err)
	}
}
