package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

var gameDate = time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

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

type fakeFixtures struct {
	domain.FixtureStore
	pool []domain.Candidate
}

func (f *fakeFixtures) ListCandidates(context.Context, time.Time) ([]domain.Candidate, error) {
	return f.pool, nil
}

type fakeCycles struct {
	domain.CycleStore
	byDate   map[string]domain.Cycle
	byID     map[int64]domain.Cycle
	draftID  int64
	drafted  []int64
	deleted  []int64
	openPast []domain.Cycle
	setState []string
}

func newFakeCycles() *fakeCycles {
	return &fakeCycles{
		byDate: map[string]domain.Cycle{},
		byID:   map[int64]domain.Cycle{},
	}
}

func (f *fakeCycles) CreateDraft(_ context.Context, date time.Time, matches []domain.MatchEntry, deadline time.Time) (int64, error) {
	key := date.Format("2006-01-02")
	if _, ok := f.byDate[key]; ok {
		return 0, domain.ErrCycleExists
	}
	f.draftID++
	f.drafted = append(f.drafted, f.draftID)
	f.byDate[key] = domain.Cycle{
		GameDate:        date,
		Matches:         matches,
		BettingDeadline: deadline,
		State:           domain.CycleDraft,
	}
	return f.draftID, nil
}

func (f *fakeCycles) ActivateDraft(_ context.Context, draftID, cycleID int64) error {
	for key, c := range f.byDate {
		if c.State == domain.CycleDraft {
			c.CycleID = cycleID
			c.State = domain.CycleOpen
			f.byDate[key] = c
			f.byID[cycleID] = c
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeCycles) DeleteDraft(_ context.Context, draftID int64) error {
	f.deleted = append(f.deleted, draftID)
	for key, c := range f.byDate {
		if c.State == domain.CycleDraft {
			delete(f.byDate, key)
		}
	}
	return nil
}

func (f *fakeCycles) GetByDate(_ context.Context, date time.Time) (domain.Cycle, error) {
	c, ok := f.byDate[date.Format("2006-01-02")]
	if !ok {
		return domain.Cycle{}, domain.ErrNotFound
	}
	return c, nil
}

func (f *fakeCycles) GetByCycleID(_ context.Context, cycleID int64) (domain.Cycle, error) {
	c, ok := f.byID[cycleID]
	if !ok {
		return domain.Cycle{}, domain.ErrNotFound
	}
	return c, nil
}

func (f *fakeCycles) ListOpenPastDeadline(context.Context, time.Time) ([]domain.Cycle, error) {
	return f.openPast, nil
}

func (f *fakeCycles) SetState(_ context.Context, cycleID int64, from, to domain.CycleState) error {
	f.setState = append(f.setState, string(from)+"->"+string(to))
	return nil
}

type fakeSlips struct {
	domain.SlipStore
	count int64
}

func (f *fakeSlips) CountByCycle(context.Context, int64) (int64, error) { return f.count, nil }

type fakePicker struct{ matches []domain.MatchEntry }

func (p *fakePicker) SelectMatches([]domain.Candidate) ([]domain.MatchEntry, error) {
	if p.matches == nil {
		return nil, domain.ErrInsufficientFixtures
	}
	return p.matches, nil
}

type fakeLedger struct {
	cycleID int64
	err     error
	calls   int
}

func (l *fakeLedger) StartNewDailyCycle(context.Context, []domain.MatchEntry) (int64, error) {
	l.calls++
	if l.err != nil {
		return 0, l.err
	}
	return l.cycleID, nil
}

func tenMatches() []domain.MatchEntry {
	matches := make([]domain.MatchEntry, domain.CycleSize)
	for i := range matches {
		matches[i] = domain.MatchEntry{
			FixtureID:  domain.FixtureID(100 + i),
			KickoffUTC: gameDate.Add(time.Duration(12+i) * time.Hour),
			OddsHome:   1500, OddsDraw: 3200, OddsAway: 4100, OddsOver: 1800, OddsUnder: 2000,
		}
	}
	return matches
}

func newController(cycles *fakeCycles, slips *fakeSlips, picker *fakePicker, ledger *fakeLedger, bus *fakeBus) *Controller {
	return New(cycles, &fakeFixtures{}, slips, picker, ledger, bus,
		fixedClock{now: gameDate.Add(6 * time.Hour)}, Config{DeadlineTick: time.Minute},
		slog.New(slog.DiscardHandler))
}

func TestOpenCycleHappyPath(t *testing.T) {
	cycles := newFakeCycles()
	ledger := &fakeLedger{cycleID: 42}
	bus := &fakeBus{}
	ctrl := newController(cycles, &fakeSlips{}, &fakePicker{matches: tenMatches()}, ledger, bus)

	cycle, err := ctrl.OpenCycle(context.Background(), gameDate)
	if err != nil {
		t.Fatalf("OpenCycle: %v", err)
	}
	if cycle.CycleID != 42 {
		t.Fatalf("cycle id = %d, want 42", cycle.CycleID)
	}
	if cycle.State != domain.CycleOpen {
		t.Fatalf("state = %s, want open", cycle.State)
	}
	if !cycle.BettingDeadline.Equal(tenMatches()[0].KickoffUTC) {
		t.Fatalf("deadline = %v, want earliest kickoff", cycle.BettingDeadline)
	}
	if len(bus.events) != 1 || bus.events[0].Type != domain.EventCycleOpened {
		t.Fatalf("events = %+v, want one cycle_opened", bus.events)
	}
}

func TestOpenCycleIdempotent(t *testing.T) {
	cycles := newFakeCycles()
	ledger := &fakeLedger{cycleID: 42}
	ctrl := newController(cycles, &fakeSlips{}, &fakePicker{matches: tenMatches()}, ledger, &fakeBus{})

	if _, err := ctrl.OpenCycle(context.Background(), gameDate); err != nil {
		t.Fatalf("first OpenCycle: %v", err)
	}
	cycle, err := ctrl.OpenCycle(context.Background(), gameDate)
	if err != nil {
		t.Fatalf("second OpenCycle: %v", err)
	}
	if cycle.CycleID != 42 {
		t.Fatalf("cycle id = %d, want 42", cycle.CycleID)
	}
	if ledger.calls != 1 {
		t.Fatalf("ledger calls = %d, want 1 (second open must be a no-op)", ledger.calls)
	}
}

func TestOpenCycleLedgerFailureRollsBackDraft(t *testing.T) {
	cycles := newFakeCycles()
	ledger := &fakeLedger{err: &domain.LedgerError{Kind: domain.LedgerReverted, Op: "startDailyCycle"}}
	ctrl := newController(cycles, &fakeSlips{}, &fakePicker{matches: tenMatches()}, ledger, &fakeBus{})

	_, err := ctrl.OpenCycle(context.Background(), gameDate)
	if err == nil {
		t.Fatal("expected error from ledger failure")
	}
	if len(cycles.deleted) != 1 {
		t.Fatalf("deleted drafts = %v, want exactly one rollback", cycles.deleted)
	}
	if _, err := cycles.GetByDate(context.Background(), gameDate); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("draft still present after rollback: %v", err)
	}
}

// settlingCycles wraps fakeCycles so a pre-seeded draft settles to open the
// second time the date is looked up, like a concurrent opener finishing its
// ledger call.
type settlingCycles struct {
	*fakeCycles
	lookups int
}

func (f *settlingCycles) GetByDate(ctx context.Context, date time.Time) (domain.Cycle, error) {
	f.lookups++
	if f.lookups > 1 {
		key := date.Format("2006-01-02")
		if c, ok := f.byDate[key]; ok && c.State == domain.CycleDraft {
			c.CycleID = 77
			c.State = domain.CycleOpen
			f.byDate[key] = c
			f.byID[77] = c
		}
	}
	return f.fakeCycles.GetByDate(ctx, date)
}

func TestOpenCycleLiveDraftNeverReachesLedger(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the draft grace delay")
	}
	inner := newFakeCycles()
	inner.byDate[gameDate.Format("2006-01-02")] = domain.Cycle{
		GameDate: gameDate,
		State:    domain.CycleDraft,
	}
	cycles := &settlingCycles{fakeCycles: inner}
	ledger := &fakeLedger{cycleID: 99}
	ctrl := New(cycles, &fakeFixtures{}, &fakeSlips{}, &fakePicker{matches: tenMatches()},
		ledger, &fakeBus{}, fixedClock{now: gameDate.Add(6 * time.Hour)},
		Config{DeadlineTick: time.Minute}, slog.New(slog.DiscardHandler))

	cycle, err := ctrl.OpenCycle(context.Background(), gameDate)
	if err != nil {
		t.Fatalf("OpenCycle: %v", err)
	}
	if cycle.CycleID != 77 {
		t.Fatalf("cycle id = %d, want 77 from the concurrent opener", cycle.CycleID)
	}
	if ledger.calls != 0 {
		t.Fatalf("ledger calls = %d, want 0 while another opener holds the draft", ledger.calls)
	}
}

func TestOpenCycleInsufficientPool(t *testing.T) {
	ctrl := newController(newFakeCycles(), &fakeSlips{}, &fakePicker{}, &fakeLedger{}, &fakeBus{})

	_, err := ctrl.OpenCycle(context.Background(), gameDate)
	if !errors.Is(err, domain.ErrInsufficientFixtures) {
		t.Fatalf("err = %v, want ErrInsufficientFixtures", err)
	}
}

func TestCancelCycleWithSlips(t *testing.T) {
	ctrl := newController(newFakeCycles(), &fakeSlips{count: 3}, &fakePicker{}, &fakeLedger{}, &fakeBus{})

	err := ctrl.CancelCycle(context.Background(), 42, "venue flooded")
	if !errors.Is(err, domain.ErrCycleHasSlips) {
		t.Fatalf("err = %v, want ErrCycleHasSlips", err)
	}
}

func TestDeadlineSweepPublishesEvent(t *testing.T) {
	cycles := newFakeCycles()
	cycles.openPast = []domain.Cycle{{CycleID: 7, State: domain.CycleOpen}}
	bus := &fakeBus{}
	ctrl := newController(cycles, &fakeSlips{}, &fakePicker{}, &fakeLedger{}, bus)

	if err := ctrl.closePastDeadline(context.Background()); err != nil {
		t.Fatalf("closePastDeadline: %v", err)
	}
	if len(cycles.setState) != 1 || cycles.setState[0] != "open->pending_results" {
		t.Fatalf("transitions = %v, want open->pending_results", cycles.setState)
	}
	if len(bus.events) != 1 || bus.events[0].Type != domain.EventDeadlinePassed {
		t.Fatalf("events = %+v, want one deadline_passed", bus.events)
	}
}
