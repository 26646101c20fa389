// Package engine runs every background worker of the daily cycle engine
// under one errgroup: the cron schedules, the ingestion loops, the deadline
// watcher, the resolution decider, the oracle bot, the evaluator, and the
// API server.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	s3blob "github.com/bitredict/oddyssey-engine/internal/blob/s3"
	"github.com/bitredict/oddyssey-engine/internal/domain"
	"github.com/bitredict/oddyssey-engine/internal/evaluator"
	"github.com/bitredict/oddyssey-engine/internal/ingest"
	"github.com/bitredict/oddyssey-engine/internal/lifecycle"
	"github.com/bitredict/oddyssey-engine/internal/metrics"
	"github.com/bitredict/oddyssey-engine/internal/notify"
	"github.com/bitredict/oddyssey-engine/internal/resolver"
	"github.com/bitredict/oddyssey-engine/internal/server"
	"github.com/bitredict/oddyssey-engine/internal/server/ws"
)

// Config holds the cron schedules, interpreted in UTC.
type Config struct {
	OpenCron    string
	ArchiveCron string
}

// Engine owns the workers. Optional members (Server, Hub, Notifier,
// Archiver, Metrics) may be nil and are simply not started.
type Engine struct {
	Lifecycle *lifecycle.Controller
	Ingest    *ingest.Service
	Decider   *resolver.Decider
	Bot       *resolver.Bot
	Evaluator *evaluator.Evaluator
	Archiver  *s3blob.Archiver
	Server    *server.Server
	Hub       *ws.Hub
	Notifier  *notify.Notifier
	Metrics   *metrics.Metrics
	Bus       domain.EventBus

	Cfg    Config
	Logger *slog.Logger
}

// Run starts every worker and blocks until the context is cancelled or a
// worker fails. A cancelled context is a clean shutdown and returns nil.
func (e *Engine) Run(ctx context.Context) error {
	logger := e.Logger.With(slog.String("component", "engine"))
	g, ctx := errgroup.WithContext(ctx)

	sched := cron.New(cron.WithLocation(time.UTC))
	if _, err := sched.AddFunc(e.Cfg.OpenCron, func() {
		if _, err := e.Lifecycle.OpenToday(ctx); err != nil {
			logger.ErrorContext(ctx, "scheduled cycle open failed",
				slog.String("error", err.Error()),
			)
			if e.Notifier != nil {
				_ = e.Notifier.Alert(ctx, "Cycle open failed", err.Error())
			}
		}
	}); err != nil {
		return fmt.Errorf("engine: open schedule %q: %w", e.Cfg.OpenCron, err)
	}
	if e.Archiver != nil && e.Cfg.ArchiveCron != "" {
		if _, err := sched.AddFunc(e.Cfg.ArchiveCron, func() {
			if err := e.Archiver.Run(ctx); err != nil {
				logger.ErrorContext(ctx, "scheduled archival failed",
					slog.String("error", err.Error()),
				)
			}
		}); err != nil {
			return fmt.Errorf("engine: archive schedule %q: %w", e.Cfg.ArchiveCron, err)
		}
	}
	sched.Start()
	g.Go(func() error {
		<-ctx.Done()
		<-sched.Stop().Done()
		return nil
	})

	// A restart after the scheduled open still gets today's cycle; OpenToday
	// is idempotent.
	g.Go(func() error {
		if _, err := e.Lifecycle.OpenToday(ctx); err != nil {
			logger.WarnContext(ctx, "startup cycle open failed",
				slog.String("error", err.Error()),
			)
		}
		return nil
	})

	g.Go(func() error { return e.Lifecycle.RunDeadlineWatcher(ctx) })
	g.Go(func() error { return e.Ingest.RunFixtureSync(ctx) })
	g.Go(func() error { return e.Ingest.RunResultsLoop(ctx) })
	g.Go(func() error { return e.Decider.Run(ctx) })
	g.Go(func() error { return e.Bot.Run(ctx) })
	g.Go(func() error { return e.Evaluator.Run(ctx) })

	if e.Hub != nil {
		g.Go(func() error { return e.Hub.Run(ctx) })
	}
	if e.Notifier != nil {
		g.Go(func() error { return e.Notifier.Run(ctx) })
	}
	if e.Metrics != nil && e.Bus != nil {
		g.Go(func() error { return e.Metrics.RunEventCounter(ctx, e.Bus) })
	}

	if e.Server != nil {
		g.Go(e.Server.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return e.Server.Shutdown(shutCtx)
		})
	}

	logger.InfoContext(ctx, "engine started",
		slog.String("open_cron", e.Cfg.OpenCron),
		slog.Bool("archiver", e.Archiver != nil),
		slog.Bool("server", e.Server != nil),
	)

	err := g.Wait()
	if ctx.Err() != nil && (err == nil || err == context.Canceled) {
		return nil
	}
	return err
}
