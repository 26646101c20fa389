package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

// ResultStore implements domain.ResultStore using PostgreSQL.
type ResultStore struct {
	pool *pgxpool.Pool
}

// NewResultStore creates a new ResultStore backed by the given pool.
func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

// Upsert writes a fixture result. A re-run with changed scores overwrites the
// previously derived outcomes; the provider is the source of truth.
func (s *ResultStore) Upsert(ctx context.Context, r domain.FixtureResult) error {
	var o1, ou *string
	if r.Outcome1X2 != nil {
		v := string(*r.Outcome1X2)
		o1 = &v
	}
	if r.OutcomeOU != nil {
		v := string(*r.OutcomeOU)
		ou = &v
	}

	const query = `
		INSERT INTO fixture_results (fixture_id, home_score, away_score, ht_home, ht_away, outcome_1x2, outcome_ou25, finished_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (fixture_id) DO UPDATE SET
			home_score = EXCLUDED.home_score,
			away_score = EXCLUDED.away_score,
			ht_home = EXCLUDED.ht_home,
			ht_away = EXCLUDED.ht_away,
			outcome_1x2 = EXCLUDED.outcome_1x2,
			outcome_ou25 = EXCLUDED.outcome_ou25,
			finished_at = COALESCE(EXCLUDED.finished_at, fixture_results.finished_at),
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		int64(r.FixtureID), r.HomeScore, r.AwayScore, r.HTHome, r.HTAway,
		o1, ou, r.FinishedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert result %d: %w", r.FixtureID, err)
	}
	return nil
}

// GetByFixtureIDs returns the stored results for the given ids, keyed by
// fixture id. Missing fixtures are simply absent from the map.
func (s *ResultStore) GetByFixtureIDs(ctx context.Context, ids []domain.FixtureID) (map[domain.FixtureID]domain.FixtureResult, error) {
	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
	}

	const query = `
		SELECT fixture_id, home_score, away_score, ht_home, ht_away, outcome_1x2, outcome_ou25, finished_at
		FROM fixture_results WHERE fixture_id = ANY($1)`

	rows, err := s.pool.Query(ctx, query, raw)
	if err != nil {
		return nil, fmt.Errorf("postgres: get results: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.FixtureID]domain.FixtureResult, len(ids))
	for rows.Next() {
		var r domain.FixtureResult
		var id int64
		var o1, ou *string
		err := rows.Scan(&id, &r.HomeScore, &r.AwayScore, &r.HTHome, &r.HTAway, &o1, &ou, &r.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan result: %w", err)
		}
		r.FixtureID = domain.FixtureID(id)
		if o1 != nil {
			v := domain.Outcome1X2(*o1)
			r.Outcome1X2 = &v
		}
		if ou != nil {
			v := domain.OutcomeOU25(*ou)
			r.OutcomeOU = &v
		}
		out[r.FixtureID] = r
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.ResultStore = (*ResultStore)(nil)
