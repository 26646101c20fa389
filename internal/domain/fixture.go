// Package domain defines the core entities of the Oddyssey daily cycle
// engine together with the store, cache, and error contracts shared by all
// components. Components communicate only through these interfaces; no
// in-memory state crosses component boundaries.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FixtureID is the provider-assigned fixture identifier.
type FixtureID int64

// Fixture status codes as reported by the sports provider.
const (
	StatusNotStarted = "NS"
	StatusFixture    = "Fixture"
	StatusLive       = "LIVE"
	StatusHalfTime   = "HT"
	StatusSecondHalf = "2H"
	StatusExtraTime  = "ET"
	StatusFullTime   = "FT"
	StatusAfterET    = "AET"
	StatusPenalties  = "PEN"
	StatusFTPen      = "FT_PEN"
	StatusCancelled  = "CANC"
	StatusPostponed  = "POST"
)

var terminalStatuses = map[string]bool{
	StatusFullTime:  true,
	StatusAfterET:   true,
	StatusPenalties: true,
	StatusFTPen:     true,
}

var cancelledStatuses = map[string]bool{
	StatusCancelled: true,
	StatusPostponed: true,
	"CANCELLED":     true,
	"POSTPONED":     true,
}

var preMatchStatuses = map[string]bool{
	StatusNotStarted: true,
	StatusFixture:    true,
}

// IsTerminalStatus reports whether the match is definitively over with final
// scores.
func IsTerminalStatus(status string) bool { return terminalStatuses[status] }

// IsCancelledStatus reports whether the match will not be played.
func IsCancelledStatus(status string) bool { return cancelledStatuses[status] }

// IsPreMatchStatus reports whether the match has not kicked off.
func IsPreMatchStatus(status string) bool { return preMatchStatuses[status] }

// Fixture is a single match as mirrored from the sports provider.
type Fixture struct {
	ID         FixtureID
	HomeTeam   string
	AwayTeam   string
	LeagueID   int64
	LeagueName string
	KickoffUTC time.Time
	Status     string
	FinishedAt *time.Time
}

// Odds market identifiers used by the provider.
const (
	MarketID1X2       = 1
	MarketIDOverUnder = 80
)

// Odds selection labels. These are the canonical labels across the provider
// boundary, the store, and slips.
const (
	LabelHome  = "Home"
	LabelDraw  = "Draw"
	LabelAway  = "Away"
	LabelOver  = "Over"
	LabelUnder = "Under"
)

// OverUnderTotal is the only total the engine settles.
const OverUnderTotal = "2.5"

// FixtureOdds is one odds selection for a fixture. Value stays decimal until
// it crosses the selector boundary, where it is frozen as a thousandth-scaled
// integer.
type FixtureOdds struct {
	FixtureID FixtureID
	MarketID  int
	Label     string
	Total     string // empty for 1X2, "2.5" for over/under
	Value     decimal.Decimal
	UpdatedAt time.Time
}

// Candidate is a fixture with all five Oddyssey-required odds present,
// as returned by the store for match selection.
type Candidate struct {
	Fixture Fixture
	Home    decimal.Decimal
	Draw    decimal.Decimal
	Away    decimal.Decimal
	Over    decimal.Decimal
	Under   decimal.Decimal
}
