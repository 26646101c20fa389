package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

// CycleOpener opens and cancels cycles.
type CycleOpener interface {
	OpenToday(ctx context.Context) (domain.Cycle, error)
	OpenCycle(ctx context.Context, gameDate time.Time) (domain.Cycle, error)
	CancelCycle(ctx context.Context, cycleID int64, reason string) error
}

// ResolutionSweeper re-examines pending cycles for resolution readiness.
type ResolutionSweeper interface {
	Sweep(ctx context.Context) error
}

// CycleEvaluator triggers evaluation of one cycle.
type CycleEvaluator interface {
	EvaluateCycle(ctx context.Context, cycleID int64) error
}

// Ingester exposes the ingestion service's manual triggers.
type Ingester interface {
	SyncFixtures(ctx context.Context) error
	IngestResults(ctx context.Context) error
	RefetchFixture(ctx context.Context, id domain.FixtureID) error
}

// OracleAdmin exposes the oracle bot's parked-cycle controls.
type OracleAdmin interface {
	Unpark(cycleID int64) bool
	Parked() map[int64]string
}

// AdminHandler exposes manual triggers for operators. Every route requires
// the API key.
type AdminHandler struct {
	opener    CycleOpener
	decider   ResolutionSweeper
	evaluator CycleEvaluator
	ingester  Ingester
	oracle    OracleAdmin
}

func NewAdminHandler(
	opener CycleOpener,
	decider ResolutionSweeper,
	evaluator CycleEvaluator,
	ingester Ingester,
	oracle OracleAdmin,
) *AdminHandler {
	return &AdminHandler{
		opener:    opener,
		decider:   decider,
		evaluator: evaluator,
		ingester:  ingester,
		oracle:    oracle,
	}
}

// OpenCycle opens a cycle immediately instead of waiting for the schedule.
// An optional JSON body {"date":"2025-01-15"} targets a specific UTC game
// date; an empty body opens today's. Idempotent.
// POST /api/admin/cycles/open
func (h *AdminHandler) OpenCycle(w http.ResponseWriter, r *http.Request) {
	// Body is optional; a missing or empty body means today.
	var body struct {
		Date string `json:"date"`
	}
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&body)

	var (
		cycle domain.Cycle
		err   error
	)
	if body.Date != "" {
		gameDate, perr := time.Parse("2006-01-02", body.Date)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		cycle, err = h.opener.OpenCycle(r.Context(), gameDate)
	} else {
		cycle, err = h.opener.OpenToday(r.Context())
	}
	if errors.Is(err, domain.ErrInsufficientFixtures) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cycle_id": cycle.CycleID,
		"state":    cycle.State,
	})
}

// CancelCycle cancels an open cycle that holds no slips.
// POST /api/admin/cycles/{id}/cancel
func (h *AdminHandler) CancelCycle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid cycle id")
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&body); err != nil || body.Reason == "" {
		writeError(w, http.StatusBadRequest, "a cancellation reason is required")
		return
	}

	err := h.opener.CancelCycle(r.Context(), id, body.Reason)
	switch {
	case errors.Is(err, domain.ErrCycleHasSlips):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "cycle is not open")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"cycle_id": id, "cancelled": true})
	}
}

// TriggerResolutionSweep runs a decider pass immediately.
// POST /api/admin/resolution/sweep
func (h *AdminHandler) TriggerResolutionSweep(w http.ResponseWriter, r *http.Request) {
	if err := h.decider.Sweep(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"swept": true})
}

// TriggerEvaluation evaluates one resolved cycle immediately.
// POST /api/admin/cycles/{id}/evaluate
func (h *AdminHandler) TriggerEvaluation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid cycle id")
		return
	}
	err := h.evaluator.EvaluateCycle(r.Context(), id)
	if errors.Is(err, domain.ErrCycleNotResolved) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycle_id": id, "evaluated": true})
}

// RefetchFixture re-pulls a fixture result from the provider.
// POST /api/admin/fixtures/{id}/refetch
func (h *AdminHandler) RefetchFixture(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid fixture id")
		return
	}
	if err := h.ingester.RefetchFixture(r.Context(), domain.FixtureID(id)); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fixture_id": id, "refetched": true})
}

// TriggerFixtureSync pulls the 7-day fixture pool immediately.
// POST /api/admin/fixtures/sync
func (h *AdminHandler) TriggerFixtureSync(w http.ResponseWriter, r *http.Request) {
	if err := h.ingester.SyncFixtures(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"synced": true})
}

// TriggerResultsIngest polls results for all unresolved fixtures immediately.
// POST /api/admin/results/ingest
func (h *AdminHandler) TriggerResultsIngest(w http.ResponseWriter, r *http.Request) {
	if err := h.ingester.IngestResults(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ingested": true})
}

// ListParked returns cycles parked by the oracle bot.
// GET /api/admin/parked
func (h *AdminHandler) ListParked(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"parked": h.oracle.Parked()})
}

// UnparkCycle clears a parked cycle so the next sweep retries it.
// POST /api/admin/cycles/{id}/unpark
func (h *AdminHandler) UnparkCycle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid cycle id")
		return
	}
	if !h.oracle.Unpark(id) {
		writeError(w, http.StatusNotFound, "cycle is not parked")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycle_id": id, "unparked": true})
}
