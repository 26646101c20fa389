// Package ingest moves provider data into the store: the rolling 7-day
// fixture pool with odds, and terminal results for fixtures that active
// cycles are waiting on.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bitredict/oddyssey-engine/internal/domain"
	"github.com/bitredict/oddyssey-engine/internal/provider/sportmonks"
)

// FixtureFetcher is the slice of the provider client fixture sync needs.
type FixtureFetcher interface {
	Fetch7DayFixtures(ctx context.Context, from time.Time) (*sportmonks.FixtureBatch, error)
}

// ResultsFetcher is the slice of the provider client results ingestion needs.
type ResultsFetcher interface {
	FetchFixtureResults(ctx context.Context, ids []domain.FixtureID) ([]sportmonks.Result, map[domain.FixtureID]error, error)
}

// Config holds ingestion loop intervals.
type Config struct {
	// FixtureSyncInterval is how often the 7-day fixture pool is refreshed.
	FixtureSyncInterval time.Duration
	// ResultsInterval is how often unresolved fixtures are polled for results.
	ResultsInterval time.Duration
}

// Service runs the two ingestion loops.
type Service struct {
	fixtures domain.FixtureStore
	results  domain.ResultStore
	cycles   domain.CycleStore
	fetchF   FixtureFetcher
	fetchR   ResultsFetcher
	clock    domain.Clock
	cfg      Config
	logger   *slog.Logger
}

func New(
	fixtures domain.FixtureStore,
	results domain.ResultStore,
	cycles domain.CycleStore,
	fetchF FixtureFetcher,
	fetchR ResultsFetcher,
	clock domain.Clock,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if cfg.FixtureSyncInterval <= 0 {
		cfg.FixtureSyncInterval = time.Hour
	}
	if cfg.ResultsInterval <= 0 {
		cfg.ResultsInterval = 10 * time.Minute
	}
	return &Service{
		fixtures: fixtures,
		results:  results,
		cycles:   cycles,
		fetchF:   fetchF,
		fetchR:   fetchR,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "ingest")),
	}
}

// SyncFixtures pulls the next seven days of fixtures with odds and upserts
// them into the store.
func (s *Service) SyncFixtures(ctx context.Context) error {
	batch, err := s.fetchF.Fetch7DayFixtures(ctx, s.clock.Now())
	if err != nil {
		return fmt.Errorf("ingest: fetching fixtures: %w", err)
	}
	if err := s.fixtures.UpsertFixtures(ctx, batch.Fixtures); err != nil {
		return fmt.Errorf("ingest: upserting fixtures: %w", err)
	}
	if err := s.fixtures.UpsertOdds(ctx, batch.Odds); err != nil {
		return fmt.Errorf("ingest: upserting odds: %w", err)
	}
	s.logger.InfoContext(ctx, "fixture pool synced",
		slog.Int("fixtures", len(batch.Fixtures)),
		slog.Int("odds", len(batch.Odds)),
		slog.Int("dropped", batch.Dropped),
	)
	return nil
}

// RunFixtureSync refreshes the fixture pool on a fixed interval, starting
// with an immediate sync. Individual failures are logged and retried on the
// next tick.
func (s *Service) RunFixtureSync(ctx context.Context) error {
	if err := s.SyncFixtures(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.logger.ErrorContext(ctx, "initial fixture sync failed",
			slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(s.cfg.FixtureSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.SyncFixtures(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.ErrorContext(ctx, "fixture sync failed",
					slog.String("error", err.Error()))
			}
		}
	}
}

// IngestResults polls the provider for every fixture that an active cycle is
// still waiting on, stores normalised results for terminal fixtures, and
// advances fixture statuses. Per-fixture failures never abort the pass.
func (s *Service) IngestResults(ctx context.Context) error {
	ids, err := s.cycles.UnresolvedFixtureIDs(ctx)
	if err != nil {
		return fmt.Errorf("ingest: listing unresolved fixtures: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	results, perID, err := s.fetchR.FetchFixtureResults(ctx, ids)
	if err != nil {
		return fmt.Errorf("ingest: fetching results: %w", err)
	}
	for id, ferr := range perID {
		s.logger.WarnContext(ctx, "fixture result unavailable",
			slog.Int64("fixture_id", int64(id)),
			slog.String("error", ferr.Error()),
		)
	}

	stored := 0
	for i := range results {
		if err := s.applyResult(ctx, &results[i]); err != nil {
			s.logger.ErrorContext(ctx, "applying result failed",
				slog.Int64("fixture_id", int64(results[i].FixtureID)),
				slog.String("error", err.Error()),
			)
			continue
		}
		stored++
	}

	s.logger.InfoContext(ctx, "results ingested",
		slog.Int("pending", len(ids)),
		slog.Int("applied", stored),
		slog.Int("failed", len(perID)),
	)
	return nil
}

// applyResult advances the fixture status and, for terminal fixtures with
// both scores, stores the normalised result.
func (s *Service) applyResult(ctx context.Context, r *sportmonks.Result) error {
	if err := s.fixtures.UpdateStatus(ctx, r.FixtureID, r.Status, r.FinishedAt); err != nil {
		return err
	}
	if !r.Terminal() {
		return nil
	}
	if r.HomeScore == nil || r.AwayScore == nil {
		s.logger.WarnContext(ctx, "terminal fixture missing scores",
			slog.Int64("fixture_id", int64(r.FixtureID)),
			slog.String("status", r.Status),
		)
		return nil
	}

	o1, ou := domain.DeriveOutcomes(*r.HomeScore, *r.AwayScore)
	return s.results.Upsert(ctx, domain.FixtureResult{
		FixtureID:  r.FixtureID,
		HomeScore:  r.HomeScore,
		AwayScore:  r.AwayScore,
		HTHome:     r.HTHome,
		HTAway:     r.HTAway,
		Outcome1X2: &o1,
		OutcomeOU:  &ou,
		FinishedAt: r.FinishedAt,
	})
}

// RefetchFixture re-pulls a single fixture's result on demand, bypassing the
// unresolved-set query. Used by the admin refetch endpoint.
func (s *Service) RefetchFixture(ctx context.Context, id domain.FixtureID) error {
	results, perID, err := s.fetchR.FetchFixtureResults(ctx, []domain.FixtureID{id})
	if err != nil {
		return fmt.Errorf("ingest: refetching fixture %d: %w", id, err)
	}
	if ferr, ok := perID[id]; ok {
		return ferr
	}
	if len(results) == 0 {
		return fmt.Errorf("ingest: fixture %d absent from provider response", id)
	}
	return s.applyResult(ctx, &results[0])
}

// RunResultsLoop polls for results on a fixed interval until the context
// ends.
func (s *Service) RunResultsLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ResultsInterval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "results loop started",
		slog.Duration("interval", s.cfg.ResultsInterval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.IngestResults(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.ErrorContext(ctx, "results pass failed",
					slog.String("error", err.Error()))
			}
		}
	}
}
