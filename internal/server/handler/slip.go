package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

// SlipHandler accepts and serves user slips.
type SlipHandler struct {
	slips       domain.SlipStore
	cycles      domain.CycleStore
	clock       domain.Clock
	slipsPlaced prometheus.Counter
}

func NewSlipHandler(slips domain.SlipStore, cycles domain.CycleStore, clock domain.Clock, slipsPlaced prometheus.Counter) *SlipHandler {
	return &SlipHandler{slips: slips, cycles: cycles, clock: clock, slipsPlaced: slipsPlaced}
}

// placeSlipRequest is the POST body for slip placement.
type placeSlipRequest struct {
	CycleID       int64               `json:"cycle_id"`
	PlayerAddress string              `json:"player_address"`
	Predictions   []domain.Prediction `json:"predictions"`
}

// PlaceSlip validates a slip against its cycle and stores it. The cycle must
// be open, the betting deadline unpassed, and every prediction must carry the
// cycle's frozen odds.
// POST /api/slips
func (h *SlipHandler) PlaceSlip(w http.ResponseWriter, r *http.Request) {
	var req placeSlipRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CycleID <= 0 || strings.TrimSpace(req.PlayerAddress) == "" {
		writeError(w, http.StatusBadRequest, "cycle_id and player_address are required")
		return
	}

	cycle, err := h.cycles.GetByCycleID(r.Context(), req.CycleID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "cycle not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading cycle failed")
		return
	}

	now := h.clock.Now()
	if cycle.State != domain.CycleOpen || !now.Before(cycle.BettingDeadline) {
		writeError(w, http.StatusConflict, domain.ErrBettingClosed.Error())
		return
	}

	slip := domain.Slip{
		CycleID:       req.CycleID,
		PlayerAddress: strings.ToLower(strings.TrimSpace(req.PlayerAddress)),
		Predictions:   req.Predictions,
		PlacedAt:      now,
	}
	if err := slip.ValidateAgainstCycle(&cycle); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	slipID, err := h.slips.Insert(r.Context(), slip)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storing slip failed")
		return
	}
	if h.slipsPlaced != nil {
		h.slipsPlaced.Inc()
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"slip_id":   slipID,
		"cycle_id":  req.CycleID,
		"placed_at": now,
	})
}

// slipView is the public shape of a slip.
type slipView struct {
	SlipID        int64               `json:"slip_id"`
	CycleID       int64               `json:"cycle_id"`
	PlayerAddress string              `json:"player_address"`
	Predictions   []domain.Prediction `json:"predictions"`
	PlacedAt      string              `json:"placed_at"`
	IsEvaluated   bool                `json:"is_evaluated"`
	CorrectCount  *int                `json:"correct_count,omitempty"`
	FinalScore    *int64              `json:"final_score,omitempty"`
	Rank          *int                `json:"rank,omitempty"`
}

func toSlipView(s *domain.Slip) slipView {
	v := slipView{
		SlipID:        s.SlipID,
		CycleID:       s.CycleID,
		PlayerAddress: s.PlayerAddress,
		Predictions:   s.Predictions,
		PlacedAt:      s.PlacedAt.Format("2006-01-02T15:04:05Z"),
		IsEvaluated:   s.IsEvaluated,
	}
	if s.IsEvaluated {
		v.CorrectCount = &s.CorrectCount
		v.FinalScore = &s.FinalScore
		v.Rank = &s.Rank
	}
	return v
}

// GetSlip returns one slip with evaluation output once available.
// GET /api/slips/{id}
func (h *SlipHandler) GetSlip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid slip id")
		return
	}
	slip, err := h.slips.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "slip not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading slip failed")
		return
	}
	writeJSON(w, http.StatusOK, toSlipView(&slip))
}

// ListCycleSlips returns every slip of a cycle, optionally filtered by
// player address.
// GET /api/cycles/{id}/slips?player=0x...
func (h *SlipHandler) ListCycleSlips(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid cycle id")
		return
	}
	slips, err := h.slips.ListByCycle(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing slips failed")
		return
	}

	player := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("player")))
	views := make([]slipView, 0, len(slips))
	for i := range slips {
		if player != "" && slips[i].PlayerAddress != player {
			continue
		}
		views = append(views, toSlipView(&slips[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycle_id": id, "slips": views})
}
