package domain

import "time"

// BetType selects which of the two settled markets a prediction targets.
type BetType string

const (
	BetMoneyline BetType = "Moneyline"
	BetOverUnder BetType = "OverUnder"
)

// StartingScore is the initial fixed-point multiplier of a slip (1.000).
const StartingScore = 1000

// MinCorrectForPrize is the minimum correct count for the top-three prize
// tier.
const MinCorrectForPrize = 7

// Prediction is one of the ten picks on a slip. SelectedOdd must equal the
// cycle's frozen odds for the (fixture, bet type, selection) triple.
type Prediction struct {
	FixtureID   FixtureID `json:"fixture_id"`
	BetType     BetType   `json:"bet_type"`
	Selection   string    `json:"selection"`
	SelectedOdd uint32    `json:"selected_odd"`
}

// Slip is a user entry for one cycle: exactly ten predictions in the cycle's
// match order.
type Slip struct {
	SlipID        int64
	CycleID       int64
	PlayerAddress string
	Predictions   []Prediction
	PlacedAt      time.Time
	IsEvaluated   bool
	CorrectCount  int
	FinalScore    int64
	Rank          int
}

// ValidateAgainstCycle checks slip invariants against the owning cycle: ten
// predictions referencing exactly the cycle's fixtures in the same order,
// legal selections per bet type, and selected odds equal to the frozen odds.
func (s *Slip) ValidateAgainstCycle(c *Cycle) error {
	if len(s.Predictions) != CycleSize || len(c.Matches) != CycleSize {
		return ErrSlipMismatch
	}
	for i, p := range s.Predictions {
		m := c.Matches[i]
		if p.FixtureID != m.FixtureID {
			return ErrSlipMismatch
		}
		frozen := m.FrozenOdd(p.BetType, p.Selection)
		if frozen == 0 || frozen != p.SelectedOdd {
			return ErrSlipMismatch
		}
	}
	return nil
}
