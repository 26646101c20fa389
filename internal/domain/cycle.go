package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CycleSize is the fixed number of matches in every Oddyssey cycle.
const CycleSize = 10

// OddsScale converts decimal odds to the thousandth-scaled integers the
// ledger and slips use (2.35 -> 2350).
const OddsScale = 1000

// ScaleOdds converts a decimal odds value to its thousandth-scaled integer.
func ScaleOdds(v decimal.Decimal) uint32 {
	return uint32(v.Mul(decimal.NewFromInt(OddsScale)).Round(0).IntPart())
}

// CycleState is the lifecycle state of a daily cycle.
type CycleState string

const (
	CycleDraft              CycleState = "draft"
	CycleOpen               CycleState = "open"
	CyclePendingResults     CycleState = "pending_results"
	CycleReadyForResolution CycleState = "ready_for_resolution"
	CycleResolved           CycleState = "resolved"
	CycleEvaluated          CycleState = "evaluated"
	CycleCancelled          CycleState = "cancelled"
)

// MatchEntry is one of the ten entries in a cycle's match list. The five odds
// are frozen at creation time and never change for the life of the cycle.
type MatchEntry struct {
	FixtureID  FixtureID `json:"fixture_id"`
	KickoffUTC time.Time `json:"kickoff_utc"`
	LeagueID   int64     `json:"league_id"`
	OddsHome   uint32    `json:"odds_home"`
	OddsDraw   uint32    `json:"odds_draw"`
	OddsAway   uint32    `json:"odds_away"`
	OddsOver   uint32    `json:"odds_over"`
	OddsUnder  uint32    `json:"odds_under"`
}

// FrozenOdd returns the frozen odds for a bet type and selection label, or 0
// if the combination is not one of the five settled selections.
func (m MatchEntry) FrozenOdd(betType BetType, selection string) uint32 {
	switch betType {
	case BetMoneyline:
		switch selection {
		case LabelHome:
			return m.OddsHome
		case LabelDraw:
			return m.OddsDraw
		case LabelAway:
			return m.OddsAway
		}
	case BetOverUnder:
		switch selection {
		case LabelOver:
			return m.OddsOver
		case LabelUnder:
			return m.OddsUnder
		}
	}
	return 0
}

// MoneylineResult is the settled 1X2 outcome in ledger encoding.
type MoneylineResult uint8

const (
	MoneylineNotSet MoneylineResult = 0
	MoneylineHome   MoneylineResult = 1
	MoneylineDraw   MoneylineResult = 2
	MoneylineAway   MoneylineResult = 3
)

// OverUnderResult is the settled O/U 2.5 outcome in ledger encoding.
type OverUnderResult uint8

const (
	OverUnderNotSet OverUnderResult = 0
	OverUnderOver   OverUnderResult = 1
	OverUnderUnder  OverUnderResult = 2
)

// MatchOutcome pairs the two settled market results for one match.
type MatchOutcome struct {
	Moneyline MoneylineResult `json:"moneyline"`
	OverUnder OverUnderResult `json:"over_under"`
}

// ResolutionArtifact is the payload staged for on-chain resolution. Outcomes
// are ordered exactly as the cycle's match list.
type ResolutionArtifact struct {
	CycleID  int64                   `json:"cycle_id"`
	Outcomes [CycleSize]MatchOutcome `json:"outcomes"`
}

// Cycle is a single day's Oddyssey contest. CycleID is assigned by the ledger
// at creation and mirrored here; GameDate is the UTC calendar day of the
// earliest kickoff and is unique across cycles.
type Cycle struct {
	CycleID             int64
	GameDate            time.Time // UTC midnight of the cycle date
	Matches             []MatchEntry
	BettingDeadline     time.Time // earliest kickoff among the ten matches
	State               CycleState
	ReadyForResolution  bool
	IsResolved          bool
	EvaluationCompleted bool
	Resolution          *ResolutionArtifact
	TxHash              string
	CreatedAt           time.Time
	ResolvedAt          *time.Time
}

// FixtureIDs returns the cycle's fixture ids in match order.
func (c *Cycle) FixtureIDs() []FixtureID {
	ids := make([]FixtureID, len(c.Matches))
	for i, m := range c.Matches {
		ids[i] = m.FixtureID
	}
	return ids
}

// MaxKickoff returns the latest kickoff among the cycle's matches.
func (c *Cycle) MaxKickoff() time.Time {
	var max time.Time
	for _, m := range c.Matches {
		if m.KickoffUTC.After(max) {
			max = m.KickoffUTC
		}
	}
	return max
}

// MatchIndex returns the position of a fixture in the cycle's match list, or
// -1 if the fixture is not part of the cycle.
func (c *Cycle) MatchIndex(id FixtureID) int {
	for i, m := range c.Matches {
		if m.FixtureID == id {
			return i
		}
	}
	return -1
}
