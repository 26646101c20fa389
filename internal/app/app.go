// Package app wires the daily cycle engine together: configuration in,
// stores, caches, clients, workers, and the API server out.
package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/bitredict/oddyssey-engine/internal/blob/s3"
	"github.com/bitredict/oddyssey-engine/internal/config"
	"github.com/bitredict/oddyssey-engine/internal/engine"
	"github.com/bitredict/oddyssey-engine/internal/evaluator"
	"github.com/bitredict/oddyssey-engine/internal/ingest"
	"github.com/bitredict/oddyssey-engine/internal/ledger"
	"github.com/bitredict/oddyssey-engine/internal/lifecycle"
	"github.com/bitredict/oddyssey-engine/internal/metrics"
	"github.com/bitredict/oddyssey-engine/internal/resolver"
	"github.com/bitredict/oddyssey-engine/internal/selector"
	"github.com/bitredict/oddyssey-engine/internal/server"
	"github.com/bitredict/oddyssey-engine/internal/server/handler"
	"github.com/bitredict/oddyssey-engine/internal/server/ws"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions run in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
	}
}

// Run wires all dependencies, builds the engine, and blocks until the
// context is cancelled or a worker fails.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	eng := a.buildEngine(deps)
	return eng.Run(ctx)
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) buildEngine(deps *Dependencies) *engine.Engine {
	cfg := a.cfg

	picker := selector.New(a.logger)

	lc := lifecycle.New(
		deps.Cycles, deps.Fixtures, deps.Slips, picker, deps.Ledger,
		deps.Bus, deps.Clock,
		lifecycle.Config{DeadlineTick: cfg.Lifecycle.DeadlineTick.Duration},
		a.logger,
	)

	ing := ingest.New(
		deps.Fixtures, deps.Results, deps.Cycles, deps.Provider, deps.Provider,
		deps.Clock,
		ingest.Config{
			FixtureSyncInterval: cfg.Ingest.FixtureSyncInterval.Duration,
			ResultsInterval:     cfg.Ingest.ResultsInterval.Duration,
		},
		a.logger,
	)

	decider := resolver.NewDecider(
		deps.Cycles, deps.Fixtures, deps.Results, deps.Bus, deps.Clock,
		resolver.DeciderConfig{Tick: cfg.Resolver.DeciderTick.Duration},
		a.logger,
	)

	bot := resolver.NewBot(
		deps.Cycles, deps.Ledger, deps.Results, ledger.FixtureIDBytes32,
		deps.Bus, deps.Notifier, deps.Clock,
		resolver.BotConfig{
			FallbackTick: cfg.Resolver.BotFallbackTick.Duration,
			MaxAttempts:  cfg.Resolver.BotMaxAttempts,
			RetryBackoff: cfg.Resolver.BotRetryBackoff.Duration,
		},
		a.logger,
	)

	eval := evaluator.New(
		deps.Cycles, deps.Slips, deps.Leaderboard, deps.Locks,
		deps.Bus, deps.Clock,
		evaluator.Config{FallbackTick: cfg.Evaluator.FallbackTick.Duration},
		a.logger,
	)

	var archiver *s3blob.Archiver
	if deps.BlobWriter != nil {
		archiver = s3blob.NewArchiver(
			deps.BlobWriter, deps.Cycles, deps.Slips, deps.Clock,
			s3blob.ArchiverConfig{
				RetainFor:  cfg.Archive.RetainFor.Duration,
				BatchLimit: cfg.Archive.BatchLimit,
			},
			a.logger,
		)
	}

	m := metrics.New()

	var (
		srv *server.Server
		hub *ws.Hub
	)
	if cfg.Server.Enabled {
		hub = ws.NewHub(deps.Bus, a.logger)
		handlers := server.Handlers{
			Health: handler.NewHealthHandler(deps.Pingers),
			Cycles: handler.NewCycleHandler(deps.Cycles, deps.Slips, deps.Leaderboard, deps.Clock),
			Slips:  handler.NewSlipHandler(deps.Slips, deps.Cycles, deps.Clock, m.SlipsPlaced),
			Admin:  handler.NewAdminHandler(lc, decider, eval, ing, bot),
		}
		srv = server.New(
			server.Config{
				Port:        cfg.Server.Port,
				CORSOrigins: cfg.Server.CORSOrigins,
				APIKey:      cfg.Server.APIKey,
				RateLimit:   cfg.Server.RateLimit,
				RateWindow:  cfg.Server.RateWindow.Duration,
			},
			handlers, hub, m.Handler(), deps.RateLimiter, m.ObserveHTTP, a.logger,
		)
	}

	archiveCron := ""
	if archiver != nil {
		archiveCron = cfg.Archive.Cron
	}

	return &engine.Engine{
		Lifecycle: lc,
		Ingest:    ing,
		Decider:   decider,
		Bot:       bot,
		Evaluator: eval,
		Archiver:  archiver,
		Server:    srv,
		Hub:       hub,
		Notifier:  deps.Notifier,
		Metrics:   m,
		Bus:       deps.Bus,
		Cfg: engine.Config{
			OpenCron:    cfg.Lifecycle.OpenCron,
			ArchiveCron: archiveCron,
		},
		Logger: a.logger,
	}
}
