package domain

import "time"

// Outcome1X2 is the normalised full-time 1X2 outcome.
type Outcome1X2 string

const (
	OutcomeHome Outcome1X2 = "Home"
	OutcomeDraw Outcome1X2 = "Draw"
	OutcomeAway Outcome1X2 = "Away"
)

// OutcomeOU25 is the normalised over/under 2.5 outcome.
type OutcomeOU25 string

const (
	OutcomeOver  OutcomeOU25 = "Over"
	OutcomeUnder OutcomeOU25 = "Under"
)

// FixtureResult is the stored terminal result for a fixture. Scores use
// pointers because 0 is a valid score and only null means missing.
type FixtureResult struct {
	FixtureID  FixtureID
	HomeScore  *int
	AwayScore  *int
	HTHome     *int
	HTAway     *int
	Outcome1X2 *Outcome1X2
	OutcomeOU  *OutcomeOU25
	FinishedAt *time.Time
}

// Complete reports whether both normalised outcomes are present.
func (r *FixtureResult) Complete() bool {
	return r != nil && r.Outcome1X2 != nil && r.OutcomeOU != nil
}

// DeriveOutcomes computes the canonical outcomes from final scores. A draw
// includes 0-0; any total of two goals or fewer is Under.
func DeriveOutcomes(home, away int) (Outcome1X2, OutcomeOU25) {
	var o1 Outcome1X2
	switch {
	case home > away:
		o1 = OutcomeHome
	case home == away:
		o1 = OutcomeDraw
	default:
		o1 = OutcomeAway
	}
	if home+away > 2 {
		return o1, OutcomeOver
	}
	return o1, OutcomeUnder
}

// MoneylineCode converts a normalised 1X2 outcome to its ledger encoding.
func MoneylineCode(o *Outcome1X2) MoneylineResult {
	if o == nil {
		return MoneylineNotSet
	}
	switch *o {
	case OutcomeHome:
		return MoneylineHome
	case OutcomeDraw:
		return MoneylineDraw
	case OutcomeAway:
		return MoneylineAway
	}
	return MoneylineNotSet
}

// OverUnderCode converts a normalised O/U outcome to its ledger encoding.
func OverUnderCode(o *OutcomeOU25) OverUnderResult {
	if o == nil {
		return OverUnderNotSet
	}
	switch *o {
	case OutcomeOver:
		return OverUnderOver
	case OutcomeUnder:
		return OverUnderUnder
	}
	return OverUnderNotSet
}

// GuidedOutcomeString returns the canonical string submitted for guided
// fixture outcomes on non-Oddyssey pools ("Home", "Draw", "Away",
// "Over 2.5", "Under 2.5").
func GuidedOutcomeString(betType BetType, o1 *Outcome1X2, ou *OutcomeOU25) string {
	switch betType {
	case BetMoneyline:
		if o1 != nil {
			return string(*o1)
		}
	case BetOverUnder:
		if ou != nil {
			return string(*ou) + " " + OverUnderTotal
		}
	}
	return ""
}
