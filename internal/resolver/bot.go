package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

// Ledger is the slice of the ledger client the bot needs.
type Ledger interface {
	ResolveDailyCycle(ctx context.Context, cycleID int64, artifact domain.ResolutionArtifact) (string, error)
	SubmitGuidedOutcome(ctx context.Context, marketID [32]byte, result []byte) (string, error)
	GetOutcome(ctx context.Context, marketID [32]byte) ([]byte, bool, error)
}

// MarketIDer derives the on-chain market id for a fixture.
type MarketIDer func(id domain.FixtureID) [32]byte

// Alerter delivers operator alerts for conditions that need a human.
type Alerter interface {
	Alert(ctx context.Context, subject, message string) error
}

// BotConfig holds oracle bot tuning knobs.
type BotConfig struct {
	// FallbackTick bounds how stale a staged cycle can get if the ready
	// event is missed.
	FallbackTick time.Duration
	// MaxAttempts is the number of submissions tried per cycle per pass for
	// retryable ledger failures.
	MaxAttempts int
	// RetryBackoff is the initial backoff between attempts; it doubles.
	RetryBackoff time.Duration
}

// Bot submits staged resolutions to the ledger. It reacts to cycle_ready
// events and additionally sweeps on a fallback interval. Cycles are always
// settled in ascending cycle id order; a cycle that fails with a
// non-retryable error is parked and alerted, and parked cycles block nothing
// behind them.
type Bot struct {
	cycles   domain.CycleStore
	ledger   Ledger
	results  domain.ResultStore
	marketID MarketIDer
	bus      domain.EventBus
	alerter  Alerter
	clock    domain.Clock
	cfg      BotConfig
	logger   *slog.Logger

	mu     sync.Mutex
	parked map[int64]string // cycle id -> park reason
}

func NewBot(
	cycles domain.CycleStore,
	ledger Ledger,
	results domain.ResultStore,
	marketID MarketIDer,
	bus domain.EventBus,
	alerter Alerter,
	clock domain.Clock,
	cfg BotConfig,
	logger *slog.Logger,
) *Bot {
	if cfg.FallbackTick <= 0 {
		cfg.FallbackTick = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 5 * time.Second
	}
	return &Bot{
		cycles:   cycles,
		ledger:   ledger,
		results:  results,
		marketID: marketID,
		bus:      bus,
		alerter:  alerter,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "resolver.bot")),
		parked:   make(map[int64]string),
	}
}

// Run processes staged cycles until the context ends, waking on cycle_ready
// events and on the fallback ticker.
func (b *Bot) Run(ctx context.Context) error {
	events, cancel, err := b.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("resolver: subscribing to events: %w", err)
	}
	defer cancel()

	ticker := time.NewTicker(b.cfg.FallbackTick)
	defer ticker.Stop()

	b.logger.InfoContext(ctx, "oracle bot started",
		slog.Duration("fallback_tick", b.cfg.FallbackTick))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type != domain.EventCycleReady {
				continue
			}
			b.sweep(ctx)
		case <-ticker.C:
			b.sweep(ctx)
		}
	}
}

// sweep submits every staged, non-parked cycle in ascending cycle id order.
func (b *Bot) sweep(ctx context.Context) {
	cycles, err := b.cycles.ListByState(ctx, domain.CycleReadyForResolution)
	if err != nil {
		b.logger.ErrorContext(ctx, "listing staged cycles failed",
			slog.String("error", err.Error()))
		return
	}
	for i := range cycles {
		if reason := b.parkedReason(cycles[i].CycleID); reason != "" {
			continue
		}
		if err := b.resolve(ctx, &cycles[i]); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.ErrorContext(ctx, "cycle resolution failed",
				slog.Int64("cycle_id", cycles[i].CycleID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// resolve submits one cycle's artifact, retrying retryable ledger failures
// with doubling backoff and parking the cycle on anything terminal.
func (b *Bot) resolve(ctx context.Context, cycle *domain.Cycle) error {
	if cycle.Resolution == nil {
		return fmt.Errorf("cycle %d staged without artifact: %w", cycle.CycleID, domain.ErrDataIntegrity)
	}

	backoff := b.cfg.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		txHash, err := b.ledger.ResolveDailyCycle(ctx, cycle.CycleID, *cycle.Resolution)
		if err == nil {
			return b.finalize(ctx, cycle.CycleID, txHash)
		}
		lastErr = err

		le, ok := domain.AsLedgerError(err)
		if ok && !le.Retryable() {
			b.park(ctx, cycle.CycleID, le)
			return err
		}
		b.logger.WarnContext(ctx, "resolution attempt failed, retrying",
			slog.Int64("cycle_id", cycle.CycleID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	// Retries exhausted: leave the cycle staged for the next sweep rather
	// than parking, since the failure class is transient.
	return fmt.Errorf("resolution attempts exhausted for cycle %d: %w", cycle.CycleID, lastErr)
}

// finalize records the confirmed transaction and announces the resolution.
func (b *Bot) finalize(ctx context.Context, cycleID int64, txHash string) error {
	if err := b.cycles.MarkResolved(ctx, cycleID, txHash, b.clock.Now()); err != nil {
		return fmt.Errorf("marking cycle %d resolved: %w", cycleID, err)
	}
	b.logger.InfoContext(ctx, "cycle resolved on ledger",
		slog.Int64("cycle_id", cycleID),
		slog.String("tx_hash", txHash),
	)
	if err := b.bus.Publish(ctx, domain.EngineEvent{
		Type:    domain.EventCycleResolved,
		CycleID: cycleID,
		At:      b.clock.Now(),
		Detail:  map[string]any{"tx_hash": txHash},
	}); err != nil {
		b.logger.WarnContext(ctx, "event publish failed",
			slog.String("error", err.Error()))
	}
	return nil
}

// park records a cycle as needing manual intervention and raises an alert.
func (b *Bot) park(ctx context.Context, cycleID int64, le *domain.LedgerError) {
	b.mu.Lock()
	b.parked[cycleID] = string(le.Kind)
	b.mu.Unlock()

	b.logger.ErrorContext(ctx, "cycle parked",
		slog.Int64("cycle_id", cycleID),
		slog.String("kind", string(le.Kind)),
		slog.String("reason", le.Reason),
	)
	if b.alerter == nil {
		return
	}
	msg := fmt.Sprintf("Cycle %d resolution failed with %s", cycleID, le.Kind)
	if le.Reason != "" {
		msg += ": " + le.Reason
	}
	if err := b.alerter.Alert(ctx, "cycle resolution parked", msg); err != nil {
		b.logger.WarnContext(ctx, "alert delivery failed",
			slog.String("error", err.Error()))
	}
}

// Unpark clears a parked cycle so the next sweep retries it. Used by the
// admin trigger after the underlying condition is fixed.
func (b *Bot) Unpark(cycleID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.parked[cycleID]; !ok {
		return false
	}
	delete(b.parked, cycleID)
	return true
}

// Parked returns the currently parked cycles and their park reasons.
func (b *Bot) Parked() map[int64]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[int64]string, len(b.parked))
	for id, reason := range b.parked {
		out[id] = reason
	}
	return out
}

func (b *Bot) parkedReason(cycleID int64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parked[cycleID]
}

// SubmitGuidedOutcome pushes a single fixture's settled outcome to a guided
// pool market. The submission is idempotent: an already-submitted outcome is
// returned without a new transaction.
func (b *Bot) SubmitGuidedOutcome(ctx context.Context, fixtureID domain.FixtureID, betType domain.BetType) (string, error) {
	marketID := b.marketID(fixtureID)

	if existing, ok, err := b.ledger.GetOutcome(ctx, marketID); err != nil {
		return "", err
	} else if ok {
		return string(existing), nil
	}

	results, err := b.results.GetByFixtureIDs(ctx, []domain.FixtureID{fixtureID})
	if err != nil {
		return "", fmt.Errorf("loading result for fixture %d: %w", fixtureID, err)
	}
	result, ok := results[fixtureID]
	if !ok || !result.Complete() {
		return "", domain.ErrNotFound
	}

	outcome := domain.GuidedOutcomeString(betType, result.Outcome1X2, result.OutcomeOU)
	if outcome == "" {
		return "", fmt.Errorf("no outcome for fixture %d bet type %s: %w", fixtureID, betType, domain.ErrDataIntegrity)
	}

	if _, err := b.ledger.SubmitGuidedOutcome(ctx, marketID, []byte(outcome)); err != nil {
		return "", err
	}
	b.logger.InfoContext(ctx, "guided outcome submitted",
		slog.Int64("fixture_id", int64(fixtureID)),
		slog.String("outcome", outcome),
	)
	return outcome, nil
}
