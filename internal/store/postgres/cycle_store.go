package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

// CycleStore implements domain.CycleStore using PostgreSQL.
type CycleStore struct {
	pool *pgxpool.Pool
}

// NewCycleStore creates a new CycleStore backed by the given pool.
func NewCycleStore(pool *pgxpool.Pool) *CycleStore {
	return &CycleStore{pool: pool}
}

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// draftStaleAfter is how old a draft must be before CreateDraft may take it
// over. A live creation attempt holds its draft for at most the ledger write
// timeout, so anything older is a crashed or abandoned attempt.
const draftStaleAfter = 5 * time.Minute

// CreateDraft stakes the cycle-creation intent for a date. A stale draft for
// the same date (from a crashed or failed ledger call) is taken over; a live
// draft or an activated cycle returns ErrCycleExists.
func (s *CycleStore) CreateDraft(ctx context.Context, gameDate time.Time, matches []domain.MatchEntry, deadline time.Time) (int64, error) {
	data, err := json.Marshal(matches)
	if err != nil {
		return 0, fmt.Errorf("postgres: marshal matches: %w", err)
	}

	// Take over a stale draft first so a crashed or failed creation attempt
	// does not block the date forever. A fresher draft belongs to an opener
	// whose ledger call may still be in flight; taking it over would let two
	// openers create two on-chain cycles for one date.
	var draftID int64
	err = s.pool.QueryRow(ctx, `
		UPDATE cycles SET matches_data = $2, betting_deadline = $3, created_at = NOW()
		WHERE game_date = $1 AND state = 'draft' AND created_at < NOW() - $4::interval
		RETURNING id`,
		gameDate, data, deadline, draftStaleAfter,
	).Scan(&draftID)
	if err == nil {
		return draftID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("postgres: take over draft: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO cycles (game_date, matches_data, betting_deadline, state)
		VALUES ($1, $2, $3, 'draft')
		RETURNING id`,
		gameDate, data, deadline,
	).Scan(&draftID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, domain.ErrCycleExists
		}
		return 0, fmt.Errorf("postgres: create draft: %w", err)
	}
	return draftID, nil
}

// ActivateDraft binds the ledger-assigned cycle id to the draft and opens the
// cycle.
func (s *CycleStore) ActivateDraft(ctx context.Context, draftID, cycleID int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cycles SET cycle_id = $2, state = 'open'
		WHERE id = $1 AND state = 'draft'`,
		draftID, cycleID)
	if err != nil {
		return fmt.Errorf("postgres: activate draft %d: %w", draftID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// DeleteDraft rolls back a staked intent after a ledger failure.
func (s *CycleStore) DeleteDraft(ctx context.Context, draftID int64) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM cycles WHERE id = $1 AND state = 'draft'`, draftID)
	if err != nil {
		return fmt.Errorf("postgres: delete draft %d: %w", draftID, err)
	}
	return nil
}

const cycleSelectCols = `cycle_id, game_date, matches_data, betting_deadline, state,
	ready_for_resolution, is_resolved, evaluation_completed, resolution_data,
	tx_hash, created_at, resolved_at`

func scanCycle(scanner interface{ Scan(dest ...any) error }) (domain.Cycle, error) {
	var c domain.Cycle
	var cycleID *int64
	var matchesData []byte
	var resolutionData []byte
	var txHash *string
	var state string

	err := scanner.Scan(
		&cycleID, &c.GameDate, &matchesData, &c.BettingDeadline, &state,
		&c.ReadyForResolution, &c.IsResolved, &c.EvaluationCompleted, &resolutionData,
		&txHash, &c.CreatedAt, &c.ResolvedAt,
	)
	if err != nil {
		return domain.Cycle{}, err
	}

	if cycleID != nil {
		c.CycleID = *cycleID
	}
	if txHash != nil {
		c.TxHash = *txHash
	}
	c.State = domain.CycleState(state)
	c.GameDate = c.GameDate.UTC()

	if err := json.Unmarshal(matchesData, &c.Matches); err != nil {
		return domain.Cycle{}, fmt.Errorf("decode matches_data: %w", err)
	}
	if len(resolutionData) > 0 {
		var art domain.ResolutionArtifact
		if err := json.Unmarshal(resolutionData, &art); err != nil {
			return domain.Cycle{}, fmt.Errorf("decode resolution_data: %w", err)
		}
		c.Resolution = &art
	}
	return c, nil
}

// GetByCycleID returns a cycle by its ledger-assigned id.
func (s *CycleStore) GetByCycleID(ctx context.Context, cycleID int64) (domain.Cycle, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+cycleSelectCols+` FROM cycles WHERE cycle_id = $1`, cycleID)
	c, err := scanCycle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Cycle{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Cycle{}, fmt.Errorf("postgres: get cycle %d: %w", cycleID, err)
	}
	return c, nil
}

// GetByDate returns the cycle for a UTC calendar day.
func (s *CycleStore) GetByDate(ctx context.Context, gameDate time.Time) (domain.Cycle, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+cycleSelectCols+` FROM cycles WHERE game_date = $1`, gameDate)
	c, err := scanCycle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Cycle{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Cycle{}, fmt.Errorf("postgres: get cycle for %s: %w", gameDate.Format("2006-01-02"), err)
	}
	return c, nil
}

// ListByState returns cycles in any of the given states, ascending cycle id.
func (s *CycleStore) ListByState(ctx context.Context, states ...domain.CycleState) ([]domain.Cycle, error) {
	raw := make([]string, len(states))
	for i, st := range states {
		raw[i] = string(st)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+cycleSelectCols+` FROM cycles WHERE state = ANY($1) ORDER BY cycle_id NULLS LAST`, raw)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cycles by state: %w", err)
	}
	defer rows.Close()
	return collectCycles(rows)
}

// ListOpenPastDeadline returns open cycles whose betting deadline has passed.
func (s *CycleStore) ListOpenPastDeadline(ctx context.Context, now time.Time) ([]domain.Cycle, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+cycleSelectCols+` FROM cycles WHERE state = 'open' AND betting_deadline <= $1 ORDER BY cycle_id`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open past deadline: %w", err)
	}
	defer rows.Close()
	return collectCycles(rows)
}

func collectCycles(rows pgx.Rows) ([]domain.Cycle, error) {
	var out []domain.Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan cycle: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetState transitions a cycle between states with an optimistic guard on the
// expected current state.
func (s *CycleStore) SetState(ctx context.Context, cycleID int64, from, to domain.CycleState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cycles SET state = $3 WHERE cycle_id = $1 AND state = $2`,
		cycleID, string(from), string(to))
	if err != nil {
		return fmt.Errorf("postgres: set cycle %d state %s->%s: %w", cycleID, from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// Cancel marks an open cycle cancelled. The caller is responsible for
// verifying no slips exist.
func (s *CycleStore) Cancel(ctx context.Context, cycleID int64, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cycles SET state = 'cancelled', cancel_reason = $2 WHERE cycle_id = $1 AND state = 'open'`,
		cycleID, reason)
	if err != nil {
		return fmt.Errorf("postgres: cancel cycle %d: %w", cycleID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// StageResolution persists the resolution artifact and flips the ready flag
// in one statement. is_resolved is untouched; only a confirmed ledger
// transaction sets it.
func (s *CycleStore) StageResolution(ctx context.Context, cycleID int64, artifact domain.ResolutionArtifact) error {
	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("postgres: marshal artifact: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE cycles SET resolution_data = $2, ready_for_resolution = TRUE, state = 'ready_for_resolution'
		WHERE cycle_id = $1 AND state = 'pending_results'`,
		cycleID, data)
	if err != nil {
		return fmt.Errorf("postgres: stage resolution %d: %w", cycleID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// MarkResolved records the confirmed resolution transaction.
func (s *CycleStore) MarkResolved(ctx context.Context, cycleID int64, txHash string, resolvedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cycles SET is_resolved = TRUE, resolved_at = $3, tx_hash = $2, state = 'resolved'
		WHERE cycle_id = $1 AND state = 'ready_for_resolution'`,
		cycleID, txHash, resolvedAt)
	if err != nil {
		return fmt.Errorf("postgres: mark resolved %d: %w", cycleID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// UnresolvedFixtureIDs returns fixture ids referenced by unresolved cycles
// that still lack a complete stored result.
func (s *CycleStore) UnresolvedFixtureIDs(ctx context.Context) ([]domain.FixtureID, error) {
	const query = `
		SELECT DISTINCT (m ->> 'fixture_id')::BIGINT AS fid
		FROM cycles c, jsonb_array_elements(c.matches_data) m
		WHERE c.state IN ('pending_results', 'ready_for_resolution')
		  AND NOT EXISTS (
			SELECT 1 FROM fixture_results r
			WHERE r.fixture_id = (m ->> 'fixture_id')::BIGINT
			  AND r.outcome_1x2 IS NOT NULL AND r.outcome_ou25 IS NOT NULL
		  )
		ORDER BY fid`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: unresolved fixture ids: %w", err)
	}
	defer rows.Close()

	var out []domain.FixtureID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan fixture id: %w", err)
		}
		out = append(out, domain.FixtureID(id))
	}
	return out, rows.Err()
}

// ListEvaluatedBefore returns evaluated cycles older than the cutoff for
// archival.
func (s *CycleStore) ListEvaluatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Cycle, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+cycleSelectCols+` FROM cycles
		 WHERE state = 'evaluated' AND evaluated_at IS NOT NULL AND evaluated_at < $1
		 ORDER BY cycle_id LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list evaluated before: %w", err)
	}
	defer rows.Close()
	return collectCycles(rows)
}

// Compile-time interface check.
var _ domain.CycleStore = (*CycleStore)(nil)
