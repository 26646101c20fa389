package sportmonks

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

// apiEnvelope is the common response wrapper.
type apiEnvelope struct {
	Data       []apiFixture  `json:"data"`
	Pagination *apiPagination `json:"pagination"`
}

type apiPagination struct {
	CurrentPage int  `json:"current_page"`
	HasMore     bool `json:"has_more"`
}

// apiFixture is the provider's fixture shape with the includes the adapter
// requests (participants, league, odds, scores).
type apiFixture struct {
	ID           int64            `json:"id"`
	LeagueID     int64            `json:"league_id"`
	StartingAt   string           `json:"starting_at"`
	State        apiState         `json:"state"`
	League       apiLeague        `json:"league"`
	Participants []apiParticipant `json:"participants"`
	Odds         []apiOdd         `json:"odds"`
	Scores       []apiScore       `json:"scores"`
}

type apiState struct {
	ShortName string `json:"short_name"`
}

type apiLeague struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type apiParticipant struct {
	Name string  `json:"name"`
	Meta apiMeta `json:"meta"`
}

type apiMeta struct {
	Location string `json:"location"` // "home" or "away"
}

type apiOdd struct {
	MarketID int    `json:"market_id"`
	Label    string `json:"label"`
	Total    string `json:"total"`
	Value    string `json:"value"`
}

type apiScore struct {
	Description string       `json:"description"` // "CURRENT", "HT", ...
	Score       apiScoreLine `json:"score"`
}

type apiScoreLine struct {
	Participant string `json:"participant"` // "home" or "away"
	Goals       int    `json:"goals"`
}

// toDomainFixture converts an apiFixture into a domain.Fixture. It returns
// false when a required field is missing or malformed; such records are
// dropped without aborting the batch.
func (f *apiFixture) toDomainFixture() (domain.Fixture, bool) {
	kickoff, err := time.Parse(time.RFC3339, f.StartingAt)
	if err != nil {
		// The provider also emits a space-separated UTC form.
		kickoff, err = time.Parse("2006-01-02 15:04:05", f.StartingAt)
		if err != nil {
			return domain.Fixture{}, false
		}
	}

	var home, away string
	for _, p := range f.Participants {
		switch p.Meta.Location {
		case "home":
			home = p.Name
		case "away":
			away = p.Name
		}
	}
	if home == "" || away == "" {
		return domain.Fixture{}, false
	}

	status := f.State.ShortName
	if status == "" {
		status = domain.StatusNotStarted
	}

	return domain.Fixture{
		ID:         domain.FixtureID(f.ID),
		HomeTeam:   home,
		AwayTeam:   away,
		LeagueID:   f.League.ID,
		LeagueName: f.League.Name,
		KickoffUTC: kickoff.UTC(),
		Status:     status,
	}, true
}

// toDomainOdds extracts the five Oddyssey-relevant selections from a
// fixture's odds. Other markets and totals are ignored.
func (f *apiFixture) toDomainOdds(now time.Time) []domain.FixtureOdds {
	var out []domain.FixtureOdds
	for _, o := range f.Odds {
		switch o.MarketID {
		case domain.MarketID1X2:
			if o.Label != domain.LabelHome && o.Label != domain.LabelDraw && o.Label != domain.LabelAway {
				continue
			}
		case domain.MarketIDOverUnder:
			if o.Total != domain.OverUnderTotal {
				continue
			}
			if o.Label != domain.LabelOver && o.Label != domain.LabelUnder {
				continue
			}
		default:
			continue
		}

		value, err := decimal.NewFromString(o.Value)
		if err != nil || !value.IsPositive() {
			continue
		}

		total := ""
		if o.MarketID == domain.MarketIDOverUnder {
			total = domain.OverUnderTotal
		}
		out = append(out, domain.FixtureOdds{
			FixtureID: domain.FixtureID(f.ID),
			MarketID:  o.MarketID,
			Label:     o.Label,
			Total:     total,
			Value:     value,
			UpdatedAt: now,
		})
	}
	return out
}

// fullTimeScores extracts final scores from the fixture's score lines.
func (f *apiFixture) fullTimeScores() (home, away *int) {
	for _, s := range f.Scores {
		if s.Description != "CURRENT" && s.Description != "FT" {
			continue
		}
		goals := s.Score.Goals
		switch s.Score.Participant {
		case "home":
			home = &goals
		case "away":
			away = &goals
		}
	}
	return home, away
}

// halfTimeScores extracts the half-time score lines when present.
func (f *apiFixture) halfTimeScores() (home, away *int) {
	for _, s := range f.Scores {
		if s.Description != "HT" {
			continue
		}
		goals := s.Score.Goals
		switch s.Score.Participant {
		case "home":
			home = &goals
		case "away":
			away = &goals
		}
	}
	return home, away
}

// excludedLeague reports whether the league name matches any of the
// configured exclusion terms (case-insensitive substring match).
func excludedLeague(name string, terms []string) bool {
	lower := strings.ToLower(name)
	for _, t := range terms {
		if t != "" && strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}
