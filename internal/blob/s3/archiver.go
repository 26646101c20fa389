package s3blob

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

// ArchiverConfig controls which cycles get archived per run.
type ArchiverConfig struct {
	// RetainFor is how long an evaluated cycle stays in the hot store before
	// it is eligible for archival.
	RetainFor time.Duration
	// BatchLimit caps cycles archived per run.
	BatchLimit int
}

// Archiver moves evaluated cycles to cold storage: one JSON object per cycle
// carrying the cycle, its resolution, and every slip with evaluation output.
// Slips are deleted from the hot store only after a successful upload; the
// cycle row itself stays for on-chain cross-referencing.
type Archiver struct {
	writer domain.BlobWriter
	cycles domain.CycleStore
	slips  domain.SlipStore
	clock  domain.Clock
	cfg    ArchiverConfig
	logger *slog.Logger
}

func NewArchiver(
	writer domain.BlobWriter,
	cycles domain.CycleStore,
	slips domain.SlipStore,
	clock domain.Clock,
	cfg ArchiverConfig,
	logger *slog.Logger,
) *Archiver {
	if cfg.RetainFor <= 0 {
		cfg.RetainFor = 30 * 24 * time.Hour
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 50
	}
	return &Archiver{
		writer: writer,
		cycles: cycles,
		slips:  slips,
		clock:  clock,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// cycleArchive is the cold-storage object schema.
type cycleArchive struct {
	Cycle struct {
		CycleID         int64                      `json:"cycle_id"`
		GameDate        string                     `json:"game_date"`
		Matches         []domain.MatchEntry        `json:"matches"`
		BettingDeadline time.Time                  `json:"betting_deadline"`
		Resolution      *domain.ResolutionArtifact `json:"resolution"`
		TxHash          string                     `json:"tx_hash"`
		ResolvedAt      *time.Time                 `json:"resolved_at"`
	} `json:"cycle"`
	Slips      []archivedSlip `json:"slips"`
	ArchivedAt time.Time      `json:"archived_at"`
}

type archivedSlip struct {
	SlipID        int64               `json:"slip_id"`
	PlayerAddress string              `json:"player_address"`
	Predictions   []domain.Prediction `json:"predictions"`
	PlacedAt      time.Time           `json:"placed_at"`
	CorrectCount  int                 `json:"correct_count"`
	FinalScore    int64               `json:"final_score"`
	Rank          int                 `json:"rank"`
}

// Run archives every eligible cycle once. Per-cycle failures are logged and
// skipped so one bad cycle does not block the batch.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.clock.Now().Add(-a.cfg.RetainFor)
	cycles, err := a.cycles.ListEvaluatedBefore(ctx, cutoff, a.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("s3blob: listing archivable cycles: %w", err)
	}

	archived := 0
	for i := range cycles {
		if err := a.archiveCycle(ctx, &cycles[i]); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.ErrorContext(ctx, "cycle archival failed",
				slog.Int64("cycle_id", cycles[i].CycleID),
				slog.String("error", err.Error()),
			)
			continue
		}
		archived++
	}

	if archived > 0 {
		a.logger.InfoContext(ctx, "cycles archived",
			slog.Int("archived", archived),
			slog.Time("cutoff", cutoff),
		)
	}
	return nil
}

func (a *Archiver) archiveCycle(ctx context.Context, cycle *domain.Cycle) error {
	slips, err := a.slips.ListByCycle(ctx, cycle.CycleID)
	if err != nil {
		return fmt.Errorf("listing slips: %w", err)
	}

	var archive cycleArchive
	archive.Cycle.CycleID = cycle.CycleID
	archive.Cycle.GameDate = cycle.GameDate.Format("2006-01-02")
	archive.Cycle.Matches = cycle.Matches
	archive.Cycle.BettingDeadline = cycle.BettingDeadline
	archive.Cycle.Resolution = cycle.Resolution
	archive.Cycle.TxHash = cycle.TxHash
	archive.Cycle.ResolvedAt = cycle.ResolvedAt
	archive.ArchivedAt = a.clock.Now()
	for _, s := range slips {
		archive.Slips = append(archive.Slips, archivedSlip{
			SlipID:        s.SlipID,
			PlayerAddress: s.PlayerAddress,
			Predictions:   s.Predictions,
			PlacedAt:      s.PlacedAt,
			CorrectCount:  s.CorrectCount,
			FinalScore:    s.FinalScore,
			Rank:          s.Rank,
		})
	}

	body, err := json.Marshal(archive)
	if err != nil {
		return fmt.Errorf("encoding archive: %w", err)
	}

	key := archiveKey(cycle)
	if err := a.writer.PutObject(ctx, key, body, "application/json"); err != nil {
		return err
	}

	deleted, err := a.slips.DeleteByCycle(ctx, cycle.CycleID)
	if err != nil {
		return fmt.Errorf("pruning archived slips: %w", err)
	}
	a.logger.InfoContext(ctx, "cycle archived",
		slog.Int64("cycle_id", cycle.CycleID),
		slog.String("key", key),
		slog.Int64("slips_pruned", deleted),
	)
	return nil
}

// archiveKey partitions archives by game month:
//
//	archive/cycles/2026-08/cycle-42.json
func archiveKey(cycle *domain.Cycle) string {
	return fmt.Sprintf("archive/cycles/%s/cycle-%d.json",
		cycle.GameDate.Format("2006-01"), cycle.CycleID)
}
