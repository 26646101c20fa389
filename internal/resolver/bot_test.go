package resolver

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

type botCycles struct {
	domain.CycleStore
	staged   []domain.Cycle
	resolved map[int64]string
}

func (f *botCycles) ListByState(context.Context, ...domain.CycleState) ([]domain.Cycle, error) {
	return f.staged, nil
}

func (f *botCycles) MarkResolved(_ context.Context, cycleID int64, txHash string, _ time.Time) error {
	if f.resolved == nil {
		f.resolved = map[int64]string{}
	}
	f.resolved[cycleID] = txHash
	return nil
}

type flakyLedger struct {
	err   error
	calls int
}

func (l *flakyLedger) ResolveDailyCycle(context.Context, int64, domain.ResolutionArtifact) (string, error) {
	l.calls++
	if l.err != nil {
		return "", l.err
	}
	return "0xfeed", nil
}

func (l *flakyLedger) SubmitGuidedOutcome(context.Context, [32]byte, []byte) (string, error) {
	return "", nil
}

func (l *flakyLedger) GetOutcome(context.Context, [32]byte) ([]byte, bool, error) {
	return nil, false, nil
}

type alertRecorder struct{ subjects []string }

func (a *alertRecorder) Alert(_ context.Context, subject, _ string) error {
	a.subjects = append(a.subjects, subject)
	return nil
}

func stagedCycle(id int64) domain.Cycle {
	return domain.Cycle{
		CycleID:    id,
		State:      domain.CycleReadyForResolution,
		Resolution: &domain.ResolutionArtifact{CycleID: id},
	}
}

func newBot(cycles *botCycles, ledger *flakyLedger, alerter Alerter, cfg BotConfig) *Bot {
	return NewBot(cycles, ledger, nil, func(domain.FixtureID) [32]byte { return [32]byte{} },
		&fakeBus{}, alerter, &fixedClock{now: kickoffBase}, cfg, slog.New(slog.DiscardHandler))
}

func TestBotRetriesTransientFailuresFiveTimesByDefault(t *testing.T) {
	cycles := &botCycles{staged: []domain.Cycle{stagedCycle(42)}}
	ledger := &flakyLedger{err: &domain.LedgerError{Kind: domain.LedgerTransient, Op: "resolveDailyCycle"}}
	bot := newBot(cycles, ledger, &alertRecorder{}, BotConfig{RetryBackoff: time.Millisecond})

	bot.sweep(context.Background())

	if ledger.calls != 5 {
		t.Fatalf("ledger calls = %d, want 5 attempts for a transient failure", ledger.calls)
	}
	if len(bot.Parked()) != 0 {
		t.Fatalf("parked = %v, want none after exhausting transient retries", bot.Parked())
	}
}

func TestBotParksOnNonRetryableFailure(t *testing.T) {
	cycles := &botCycles{staged: []domain.Cycle{stagedCycle(42)}}
	ledger := &flakyLedger{err: &domain.LedgerError{Kind: domain.LedgerReverted, Op: "resolveDailyCycle", Reason: "cycle not ended"}}
	alerts := &alertRecorder{}
	bot := newBot(cycles, ledger, alerts, BotConfig{RetryBackoff: time.Millisecond})

	bot.sweep(context.Background())

	if ledger.calls != 1 {
		t.Fatalf("ledger calls = %d, want 1 for a non-retryable failure", ledger.calls)
	}
	if reason := bot.Parked()[42]; reason != string(domain.LedgerReverted) {
		t.Fatalf("park reason = %q, want %q", reason, domain.LedgerReverted)
	}
	if len(alerts.subjects) != 1 {
		t.Fatalf("alerts = %v, want exactly one", alerts.subjects)
	}
}

func TestBotResolvesAndPublishes(t *testing.T) {
	cycles := &botCycles{staged: []domain.Cycle{stagedCycle(42)}}
	ledger := &flakyLedger{}
	bot := newBot(cycles, ledger, &alertRecorder{}, BotConfig{RetryBackoff: time.Millisecond})

	bot.sweep(context.Background())

	if cycles.resolved[42] != "0xfeed" {
		t.Fatalf("resolved = %v, want cycle 42 marked with the tx hash", cycles.resolved)
	}
}
