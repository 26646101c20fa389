package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

// SlipStore implements domain.SlipStore using PostgreSQL.
type SlipStore struct {
	pool *pgxpool.Pool
}

// NewSlipStore creates a new SlipStore backed by the given pool.
func NewSlipStore(pool *pgxpool.Pool) *SlipStore {
	return &SlipStore{pool: pool}
}

// Insert stores a validated slip and returns its id.
func (s *SlipStore) Insert(ctx context.Context, slip domain.Slip) (int64, error) {
	data, err := json.Marshal(slip.Predictions)
	if err != nil {
		return 0, fmt.Errorf("postgres: marshal predictions: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO slips (cycle_id, player_address, predictions, placed_at)
		VALUES ($1, $2, $3, $4)
		RETURNING slip_id`,
		slip.CycleID, slip.PlayerAddress, data, slip.PlacedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert slip: %w", err)
	}
	return id, nil
}

const slipSelectCols = `slip_id, cycle_id, player_address, predictions, placed_at,
	is_evaluated, correct_count, final_score, leaderboard_rank`

func scanSlip(scanner interface{ Scan(dest ...any) error }) (domain.Slip, error) {
	var sl domain.Slip
	var predictions []byte
	var rank *int

	err := scanner.Scan(
		&sl.SlipID, &sl.CycleID, &sl.PlayerAddress, &predictions, &sl.PlacedAt,
		&sl.IsEvaluated, &sl.CorrectCount, &sl.FinalScore, &rank,
	)
	if err != nil {
		return domain.Slip{}, err
	}
	if rank != nil {
		sl.Rank = *rank
	}
	if err := json.Unmarshal(predictions, &sl.Predictions); err != nil {
		return domain.Slip{}, fmt.Errorf("decode predictions: %w", err)
	}
	return sl, nil
}

// GetByID returns a single slip.
func (s *SlipStore) GetByID(ctx context.Context, slipID int64) (domain.Slip, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+slipSelectCols+` FROM slips WHERE slip_id = $1`, slipID)
	sl, err := scanSlip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Slip{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Slip{}, fmt.Errorf("postgres: get slip %d: %w", slipID, err)
	}
	return sl, nil
}

// ListByCycle returns every slip of a cycle ordered by placement time.
func (s *SlipStore) ListByCycle(ctx context.Context, cycleID int64) ([]domain.Slip, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+slipSelectCols+` FROM slips WHERE cycle_id = $1 ORDER BY placed_at, slip_id`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list slips for cycle %d: %w", cycleID, err)
	}
	defer rows.Close()

	var out []domain.Slip
	for rows.Next() {
		sl, err := scanSlip(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan slip: %w", err)
		}
		out = append(out, sl)
	}
	return out, rows.Err()
}

// CountByCycle returns the number of slips placed on a cycle.
func (s *SlipStore) CountByCycle(ctx context.Context, cycleID int64) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM slips WHERE cycle_id = $1`, cycleID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count slips for cycle %d: %w", cycleID, err)
	}
	return n, nil
}

// StoreEvaluation writes the evaluation output for every slip of a cycle and
// sets evaluation_completed, all in one transaction. A session-scoped
// advisory lock keyed by the cycle id serialises concurrent evaluator runs;
// the completed flag is re-checked under the lock so the loser no-ops.
func (s *SlipStore) StoreEvaluation(ctx context.Context, cycleID int64, slips []domain.Slip) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin evaluation tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, cycleID); err != nil {
		return fmt.Errorf("postgres: advisory lock cycle %d: %w", cycleID, err)
	}

	var completed bool
	err = tx.QueryRow(ctx,
		`SELECT evaluation_completed FROM cycles WHERE cycle_id = $1 FOR UPDATE`, cycleID,
	).Scan(&completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: check evaluation flag %d: %w", cycleID, err)
	}
	if completed {
		return domain.ErrAlreadyEvaluated
	}

	const update = `
		UPDATE slips SET is_evaluated = TRUE, correct_count = $2, final_score = $3, leaderboard_rank = $4
		WHERE slip_id = $1`

	batch := &pgx.Batch{}
	for _, sl := range slips {
		batch.Queue(update, sl.SlipID, sl.CorrectCount, sl.FinalScore, sl.Rank)
	}
	br := tx.SendBatch(ctx, batch)
	for range slips {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: update slip evaluation: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close evaluation batch: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE cycles SET evaluation_completed = TRUE, state = 'evaluated', evaluated_at = NOW()
		WHERE cycle_id = $1`, cycleID,
	); err != nil {
		return fmt.Errorf("postgres: set evaluation_completed %d: %w", cycleID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit evaluation %d: %w", cycleID, err)
	}
	return nil
}

// DeleteByCycle removes the slips of an archived cycle.
func (s *SlipStore) DeleteByCycle(ctx context.Context, cycleID int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM slips WHERE cycle_id = $1`, cycleID)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete slips for cycle %d: %w", cycleID, err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.SlipStore = (*SlipStore)(nil)
