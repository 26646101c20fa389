package domain

import (
	"errors"
	"testing"
	"time"
)

func testCycle() *Cycle {
	c := &Cycle{CycleID: 7, State: CycleOpen}
	kick := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	for i := 0; i < CycleSize; i++ {
		c.Matches = append(c.Matches, MatchEntry{
			FixtureID:  FixtureID(1000 + i),
			KickoffUTC: kick.Add(time.Duration(i) * time.Hour),
			OddsHome:   1500,
			OddsDraw:   3200,
			OddsAway:   4100,
			OddsOver:   1850,
			OddsUnder:  1950,
		})
	}
	return c
}

func matchingSlip(c *Cycle) *Slip {
	s := &Slip{CycleID: c.CycleID}
	for _, m := range c.Matches {
		s.Predictions = append(s.Predictions, Prediction{
			FixtureID:   m.FixtureID,
			BetType:     BetMoneyline,
			Selection:   LabelHome,
			SelectedOdd: m.OddsHome,
		})
	}
	return s
}

func TestValidateAgainstCycleAccepts(t *testing.T) {
	c := testCycle()
	s := matchingSlip(c)
	s.Predictions[3] = Prediction{
		FixtureID:   c.Matches[3].FixtureID,
		BetType:     BetOverUnder,
		Selection:   LabelUnder,
		SelectedOdd: c.Matches[3].OddsUnder,
	}

	if err := s.ValidateAgainstCycle(c); err != nil {
		t.Fatalf("ValidateAgainstCycle() = %v, want nil", err)
	}
}

func TestValidateAgainstCycleRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Slip)
	}{
		{"too few predictions", func(s *Slip) {
			s.Predictions = s.Predictions[:CycleSize-1]
		}},
		{"wrong fixture", func(s *Slip) {
			s.Predictions[0].FixtureID = 9999
		}},
		{"out of order", func(s *Slip) {
			s.Predictions[0], s.Predictions[1] = s.Predictions[1], s.Predictions[0]
		}},
		{"stale odds", func(s *Slip) {
			s.Predictions[5].SelectedOdd = 1501
		}},
		{"illegal selection for bet type", func(s *Slip) {
			s.Predictions[2].Selection = LabelOver
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testCycle()
			s := matchingSlip(c)
			tt.mutate(s)
			if err := s.ValidateAgainstCycle(c); !errors.Is(err, ErrSlipMismatch) {
				t.Errorf("ValidateAgainstCycle() = %v, want ErrSlipMismatch", err)
			}
		})
	}
}
