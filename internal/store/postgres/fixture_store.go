package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

// FixtureStore implements domain.FixtureStore using PostgreSQL.
type FixtureStore struct {
	pool *pgxpool.Pool
}

// NewFixtureStore creates a new FixtureStore backed by the given pool.
func NewFixtureStore(pool *pgxpool.Pool) *FixtureStore {
	return &FixtureStore{pool: pool}
}

// UpsertFixtures inserts or updates fixtures in a single batch.
func (s *FixtureStore) UpsertFixtures(ctx context.Context, fixtures []domain.Fixture) error {
	if len(fixtures) == 0 {
		return nil
	}

	const query = `
		INSERT INTO fixtures (id, home_team, away_team, league_id, league_name, kickoff_utc, status, finished_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (id) DO UPDATE SET
			home_team = EXCLUDED.home_team,
			away_team = EXCLUDED.away_team,
			league_id = EXCLUDED.league_id,
			league_name = EXCLUDED.league_name,
			kickoff_utc = EXCLUDED.kickoff_utc,
			status = EXCLUDED.status,
			finished_at = COALESCE(EXCLUDED.finished_at, fixtures.finished_at),
			updated_at = NOW()`

	batch := &pgx.Batch{}
	for _, f := range fixtures {
		batch.Queue(query,
			int64(f.ID), f.HomeTeam, f.AwayTeam, f.LeagueID, f.LeagueName,
			f.KickoffUTC, f.Status, f.FinishedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range fixtures {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert fixtures: %w", err)
		}
	}
	return nil
}

// UpsertOdds inserts or updates raw odds rows in a single batch.
func (s *FixtureStore) UpsertOdds(ctx context.Context, odds []domain.FixtureOdds) error {
	if len(odds) == 0 {
		return nil
	}

	const query = `
		INSERT INTO fixture_odds (fixture_id, market_id, label, total, value, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (fixture_id, market_id, label, total) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = NOW()`

	batch := &pgx.Batch{}
	for _, o := range odds {
		batch.Queue(query, int64(o.FixtureID), o.MarketID, o.Label, o.Total, o.Value.String())
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range odds {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert odds: %w", err)
		}
	}
	return nil
}

const fixtureSelectCols = `id, home_team, away_team, league_id, league_name, kickoff_utc, status, finished_at`

func scanFixture(scanner interface{ Scan(dest ...any) error }) (domain.Fixture, error) {
	var f domain.Fixture
	var id int64
	err := scanner.Scan(
		&id, &f.HomeTeam, &f.AwayTeam, &f.LeagueID, &f.LeagueName,
		&f.KickoffUTC, &f.Status, &f.FinishedAt,
	)
	if err != nil {
		return domain.Fixture{}, err
	}
	f.ID = domain.FixtureID(id)
	return f, nil
}

// GetByID returns a single fixture.
func (s *FixtureStore) GetByID(ctx context.Context, id domain.FixtureID) (domain.Fixture, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+fixtureSelectCols+` FROM fixtures WHERE id = $1`, int64(id))
	f, err := scanFixture(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Fixture{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Fixture{}, fmt.Errorf("postgres: get fixture %d: %w", id, err)
	}
	return f, nil
}

// ListByIDs returns the fixtures with the given ids, in kickoff order.
func (s *FixtureStore) ListByIDs(ctx context.Context, ids []domain.FixtureID) ([]domain.Fixture, error) {
	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+fixtureSelectCols+` FROM fixtures WHERE id = ANY($1) ORDER BY kickoff_utc`, raw)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fixtures: %w", err)
	}
	defer rows.Close()

	var out []domain.Fixture
	for rows.Next() {
		f, err := scanFixture(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan fixture: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListCandidates returns pre-match fixtures kicking off on the given UTC day
// that carry all five Oddyssey-required odds.
func (s *FixtureStore) ListCandidates(ctx context.Context, day time.Time) ([]domain.Candidate, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	const query = `
		SELECT f.id, f.home_team, f.away_team, f.league_id, f.league_name, f.kickoff_utc, f.status, f.finished_at,
			oh.value::text, od.value::text, oa.value::text, ov.value::text, ou.value::text
		FROM fixtures f
		JOIN fixture_odds oh ON oh.fixture_id = f.id AND oh.market_id = $3 AND oh.label = 'Home'
		JOIN fixture_odds od ON od.fixture_id = f.id AND od.market_id = $3 AND od.label = 'Draw'
		JOIN fixture_odds oa ON oa.fixture_id = f.id AND oa.market_id = $3 AND oa.label = 'Away'
		JOIN fixture_odds ov ON ov.fixture_id = f.id AND ov.market_id = $4 AND ov.label = 'Over' AND ov.total = $5
		JOIN fixture_odds ou ON ou.fixture_id = f.id AND ou.market_id = $4 AND ou.label = 'Under' AND ou.total = $5
		WHERE f.status IN ('NS', 'Fixture')
		  AND f.kickoff_utc >= $1 AND f.kickoff_utc < $2
		ORDER BY f.kickoff_utc`

	rows, err := s.pool.Query(ctx, query,
		dayStart, dayEnd, domain.MarketID1X2, domain.MarketIDOverUnder, domain.OverUnderTotal)
	if err != nil {
		return nil, fmt.Errorf("postgres: list candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		var c domain.Candidate
		var id int64
		var home, draw, away, over, under string
		err := rows.Scan(
			&id, &c.Fixture.HomeTeam, &c.Fixture.AwayTeam, &c.Fixture.LeagueID,
			&c.Fixture.LeagueName, &c.Fixture.KickoffUTC, &c.Fixture.Status, &c.Fixture.FinishedAt,
			&home, &draw, &away, &over, &under,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan candidate: %w", err)
		}
		c.Fixture.ID = domain.FixtureID(id)
		if c.Home, err = decimal.NewFromString(home); err != nil {
			return nil, fmt.Errorf("postgres: candidate %d home odds: %w", id, err)
		}
		if c.Draw, err = decimal.NewFromString(draw); err != nil {
			return nil, fmt.Errorf("postgres: candidate %d draw odds: %w", id, err)
		}
		if c.Away, err = decimal.NewFromString(away); err != nil {
			return nil, fmt.Errorf("postgres: candidate %d away odds: %w", id, err)
		}
		if c.Over, err = decimal.NewFromString(over); err != nil {
			return nil, fmt.Errorf("postgres: candidate %d over odds: %w", id, err)
		}
		if c.Under, err = decimal.NewFromString(under); err != nil {
			return nil, fmt.Errorf("postgres: candidate %d under odds: %w", id, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateStatus changes a fixture's status and optionally its finished-at
// timestamp.
func (s *FixtureStore) UpdateStatus(ctx context.Context, id domain.FixtureID, status string, finishedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fixtures SET status = $2, finished_at = COALESCE($3, finished_at), updated_at = NOW() WHERE id = $1`,
		int64(id), status, finishedAt)
	if err != nil {
		return fmt.Errorf("postgres: update fixture status %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.FixtureStore = (*FixtureStore)(nil)
