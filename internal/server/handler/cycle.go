package handler

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/bitredict/oddyssey-engine/internal/domain"
	"github.com/bitredict/oddyssey-engine/internal/evaluator"
)

// CycleHandler serves the cycle read surface.
type CycleHandler struct {
	cycles domain.CycleStore
	slips  domain.SlipStore
	cache  domain.LeaderboardCache
	clock  domain.Clock
}

func NewCycleHandler(cycles domain.CycleStore, slips domain.SlipStore, cache domain.LeaderboardCache, clock domain.Clock) *CycleHandler {
	return &CycleHandler{cycles: cycles, slips: slips, cache: cache, clock: clock}
}

// cycleView is the public shape of a cycle.
type cycleView struct {
	CycleID             int64               `json:"cycle_id"`
	GameDate            string              `json:"game_date"`
	State               domain.CycleState   `json:"state"`
	BettingDeadline     time.Time           `json:"betting_deadline"`
	Matches             []domain.MatchEntry `json:"matches"`
	IsResolved          bool                `json:"is_resolved"`
	EvaluationCompleted bool                `json:"evaluation_completed"`
	TxHash              string              `json:"tx_hash,omitempty"`
	ResolvedAt          *time.Time          `json:"resolved_at,omitempty"`
}

func toCycleView(c *domain.Cycle) cycleView {
	return cycleView{
		CycleID:             c.CycleID,
		GameDate:            c.GameDate.Format("2006-01-02"),
		State:               c.State,
		BettingDeadline:     c.BettingDeadline,
		Matches:             c.Matches,
		IsResolved:          c.IsResolved,
		EvaluationCompleted: c.EvaluationCompleted,
		TxHash:              c.TxHash,
		ResolvedAt:          c.ResolvedAt,
	}
}

// ListCycles returns cycles filtered by the optional state query parameter.
// GET /api/cycles?state=open
func (h *CycleHandler) ListCycles(w http.ResponseWriter, r *http.Request) {
	states := []domain.CycleState{
		domain.CycleOpen, domain.CyclePendingResults,
		domain.CycleReadyForResolution, domain.CycleResolved, domain.CycleEvaluated,
	}
	if s := r.URL.Query().Get("state"); s != "" {
		states = []domain.CycleState{domain.CycleState(s)}
	}

	cycles, err := h.cycles.ListByState(r.Context(), states...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing cycles failed")
		return
	}
	views := make([]cycleView, len(cycles))
	for i := range cycles {
		views[i] = toCycleView(&cycles[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycles": views})
}

// GetCurrentCycle returns the cycle for today's UTC date.
// GET /api/cycles/current
func (h *CycleHandler) GetCurrentCycle(w http.ResponseWriter, r *http.Request) {
	cycle, err := h.cycles.GetByDate(r.Context(), h.clock.Now())
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no cycle for today")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading cycle failed")
		return
	}
	writeJSON(w, http.StatusOK, toCycleView(&cycle))
}

// GetCycle returns one cycle by ledger cycle id.
// GET /api/cycles/{id}
func (h *CycleHandler) GetCycle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid cycle id")
		return
	}
	cycle, err := h.cycles.GetByCycleID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "cycle not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading cycle failed")
		return
	}
	writeJSON(w, http.StatusOK, toCycleView(&cycle))
}

// GetLeaderboard returns the evaluated leaderboard of a cycle, rebuilding the
// cache from the store on a miss.
// GET /api/cycles/{id}/leaderboard
func (h *CycleHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid cycle id")
		return
	}

	entries, err := h.cache.Get(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		entries, err = h.rebuildLeaderboard(r, id)
		if errors.Is(err, domain.ErrCycleNotResolved) {
			writeError(w, http.StatusConflict, "cycle not evaluated yet")
			return
		}
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "cycle not found")
			return
		}
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading leaderboard failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycle_id": id, "leaderboard": entries})
}

func (h *CycleHandler) rebuildLeaderboard(r *http.Request, cycleID int64) ([]domain.LeaderboardEntry, error) {
	cycle, err := h.cycles.GetByCycleID(r.Context(), cycleID)
	if err != nil {
		return nil, err
	}
	if !cycle.EvaluationCompleted {
		return nil, domain.ErrCycleNotResolved
	}
	slips, err := h.slips.ListByCycle(r.Context(), cycleID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(slips, func(i, j int) bool { return slips[i].Rank < slips[j].Rank })
	entries := evaluator.Leaderboard(slips)
	// Repopulate so subsequent reads hit the cache again.
	_ = h.cache.Put(r.Context(), cycleID, entries)
	return entries, nil
}

// GetCycleStats returns aggregate participation numbers for a cycle.
// GET /api/cycles/{id}/stats
func (h *CycleHandler) GetCycleStats(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid cycle id")
		return
	}
	cycle, err := h.cycles.GetByCycleID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "cycle not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading cycle failed")
		return
	}
	count, err := h.slips.CountByCycle(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "counting slips failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cycle_id":         id,
		"state":            cycle.State,
		"slip_count":       count,
		"betting_deadline": cycle.BettingDeadline,
	})
}
