package resolver

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

var kickoffBase = time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

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
	pending []domain.Cycle
	staged  map[int64]domain.ResolutionArtifact
}

func (f *fakeCycles) ListByState(_ context.Context, states ...domain.CycleState) ([]domain.Cycle, error) {
	return f.pending, nil
}

func (f *fakeCycles) StageResolution(_ context.Context, cycleID int64, artifact domain.ResolutionArtifact) error {
	if f.staged == nil {
		f.staged = map[int64]domain.ResolutionArtifact{}
	}
	f.staged[cycleID] = artifact
	return nil
}

type fakeFixtures struct {
	domain.FixtureStore
	byID      map[domain.FixtureID]domain.Fixture
	cancelled []domain.FixtureID
}

func (f *fakeFixtures) ListByIDs(_ context.Context, ids []domain.FixtureID) ([]domain.Fixture, error) {
	out := make([]domain.Fixture, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.byID[id])
	}
	return out, nil
}

func (f *fakeFixtures) UpdateStatus(_ context.Context, id domain.FixtureID, status string, _ *time.Time) error {
	fx := f.byID[id]
	fx.Status = status
	f.byID[id] = fx
	f.cancelled = append(f.cancelled, id)
	return nil
}

type fakeResults struct {
	domain.ResultStore
	byID map[domain.FixtureID]domain.FixtureResult
}

func (f *fakeResults) GetByFixtureIDs(_ context.Context, ids []domain.FixtureID) (map[domain.FixtureID]domain.FixtureResult, error) {
	out := map[domain.FixtureID]domain.FixtureResult{}
	for _, id := range ids {
		if r, ok := f.byID[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

func completeResult(id domain.FixtureID, home, away int) domain.FixtureResult {
	o1, ou := domain.DeriveOutcomes(home, away)
	return domain.FixtureResult{
		FixtureID:  id,
		HomeScore:  &home,
		AwayScore:  &away,
		Outcome1X2: &o1,
		OutcomeOU:  &ou,
	}
}

// testCycle builds a pending cycle with ten fixtures all kicking off at
// kickoffBase, a finished fixture set, and complete results.
func testCycle() (domain.Cycle, *fakeFixtures, *fakeResults) {
	fixtures := &fakeFixtures{byID: map[domain.FixtureID]domain.Fixture{}}
	results := &fakeResults{byID: map[domain.FixtureID]domain.FixtureResult{}}
	cycle := domain.Cycle{CycleID: 42, State: domain.CyclePendingResults}
	for i := 0; i < domain.CycleSize; i++ {
		id := domain.FixtureID(100 + i)
		cycle.Matches = append(cycle.Matches, domain.MatchEntry{
			FixtureID:  id,
			KickoffUTC: kickoffBase,
		})
		fixtures.byID[id] = domain.Fixture{ID: id, Status: domain.StatusFullTime, KickoffUTC: kickoffBase}
		results.byID[id] = completeResult(id, 2, 1)
	}
	return cycle, fixtures, results
}

func newDecider(cycles *fakeCycles, fixtures *fakeFixtures, results *fakeResults, bus *fakeBus, now time.Time) *Decider {
	return NewDecider(cycles, fixtures, results, bus, &fixedClock{now: now},
		DeciderConfig{Tick: time.Minute}, slog.New(slog.DiscardHandler))
}

func TestDeciderStagesWhenAllGatesPass(t *testing.T) {
	cycle, fixtures, results := testCycle()
	cycles := &fakeCycles{pending: []domain.Cycle{cycle}}
	bus := &fakeBus{}
	d := newDecider(cycles, fixtures, results, bus, kickoffBase.Add(resolutionDelay+time.Minute))

	if err := d.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	artifact, ok := cycles.staged[42]
	if !ok {
		t.Fatal("cycle not staged")
	}
	for i, o := range artifact.Outcomes {
		if o.Moneyline != domain.MoneylineHome || o.OverUnder != domain.OverUnderOver {
			t.Fatalf("outcome %d = %+v, want Home/Over", i, o)
		}
	}
	if len(bus.events) != 1 || bus.events[0].Type != domain.EventCycleReady {
		t.Fatalf("events = %+v, want one cycle_ready", bus.events)
	}
}

func TestDeciderStagesAtExactResolutionDelay(t *testing.T) {
	cycle, fixtures, results := testCycle()
	cycles := &fakeCycles{pending: []domain.Cycle{cycle}}

	// The delay gate is inclusive: exactly maxKickoff+delay must stage.
	d := newDecider(cycles, fixtures, results, &fakeBus{}, kickoffBase.Add(resolutionDelay))
	if err := d.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, ok := cycles.staged[42]; !ok {
		t.Fatal("cycle not staged at the exact resolution delay instant")
	}
}

func TestDeciderWaitsForResolutionDelay(t *testing.T) {
	cycle, fixtures, results := testCycle()
	cycles := &fakeCycles{pending: []domain.Cycle{cycle}}

	// One minute short of the delay: must not stage even with all results in.
	d := newDecider(cycles, fixtures, results, &fakeBus{}, kickoffBase.Add(resolutionDelay-time.Minute))
	if err := d.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(cycles.staged) != 0 {
		t.Fatal("cycle staged before resolution delay elapsed")
	}
}

func TestDeciderWaitsForMissingResult(t *testing.T) {
	cycle, fixtures, results := testCycle()
	delete(results.byID, 105)
	cycles := &fakeCycles{pending: []domain.Cycle{cycle}}

	d := newDecider(cycles, fixtures, results, &fakeBus{}, kickoffBase.Add(resolutionDelay+time.Minute))
	if err := d.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(cycles.staged) != 0 {
		t.Fatal("cycle staged with a missing result")
	}
}

func TestDeciderMarksStrandedFixtureAbandoned(t *testing.T) {
	cycle, fixtures, results := testCycle()
	// Fixture 103 never kicked off and is well past its slot.
	fx := fixtures.byID[103]
	fx.Status = domain.StatusNotStarted
	fixtures.byID[103] = fx
	delete(results.byID, 103)
	cycles := &fakeCycles{pending: []domain.Cycle{cycle}}

	d := newDecider(cycles, fixtures, results, &fakeBus{}, kickoffBase.Add(abandonGrace+time.Minute))
	if err := d.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(fixtures.cancelled) != 1 || fixtures.cancelled[0] != 103 {
		t.Fatalf("cancelled = %v, want [103]", fixtures.cancelled)
	}
	artifact, ok := cycles.staged[42]
	if !ok {
		t.Fatal("cycle not staged after abandoning stranded fixture")
	}
	idx := cycle.MatchIndex(103)
	if artifact.Outcomes[idx].Moneyline != domain.MoneylineNotSet ||
		artifact.Outcomes[idx].OverUnder != domain.OverUnderNotSet {
		t.Fatalf("abandoned outcome = %+v, want NotSet/NotSet", artifact.Outcomes[idx])
	}
}

func TestDeciderAbandonsAtExactGraceExpiry(t *testing.T) {
	cycle, fixtures, results := testCycle()
	fx := fixtures.byID[107]
	fx.Status = domain.StatusNotStarted
	fixtures.byID[107] = fx
	delete(results.byID, 107)
	cycles := &fakeCycles{pending: []domain.Cycle{cycle}}

	// The abandonment gate is inclusive: exactly kickoff+grace abandons.
	d := newDecider(cycles, fixtures, results, &fakeBus{}, kickoffBase.Add(abandonGrace))
	if err := d.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(fixtures.cancelled) != 1 || fixtures.cancelled[0] != 107 {
		t.Fatalf("cancelled = %v, want [107]", fixtures.cancelled)
	}
	if _, ok := cycles.staged[42]; !ok {
		t.Fatal("cycle not staged at the exact grace expiry instant")
	}
}

func TestDeciderWaitsForInPlayFixture(t *testing.T) {
	cycle, fixtures, results := testCycle()
	fx := fixtures.byID[104]
	fx.Status = domain.StatusSecondHalf
	fixtures.byID[104] = fx
	cycles := &fakeCycles{pending: []domain.Cycle{cycle}}

	d := newDecider(cycles, fixtures, results, &fakeBus{}, kickoffBase.Add(resolutionDelay+time.Minute))
	if err := d.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(cycles.staged) != 0 {
		t.Fatal("cycle staged while a match is still in play")
	}
}
