// Package selector picks the ten daily matches from the candidate pool and
// freezes their odds. Selection is deterministic for a given pool: candidates
// are ordered by kickoff and bookmaker margin before any pick is made.
package selector

import (
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

// Difficulty targets: four easy, four medium, two hard.
const (
	targetEasy   = 4
	targetMedium = 4
	targetHard   = 2
)

// maxPerLeague caps how many matches of the same league one cycle may carry.
const maxPerLeague = 2

// Sanity ranges for candidate odds. Anything outside is treated as a data
// glitch and excluded from selection.
var (
	min1X2 = decimal.NewFromFloat(1.10)
	max1X2 = decimal.NewFromFloat(10.00)
	minOU  = decimal.NewFromFloat(1.10)
	maxOU  = decimal.NewFromFloat(3.00)

	easyCeiling   = decimal.NewFromFloat(2.00)
	mediumCeiling = decimal.NewFromFloat(3.50)
)

type difficulty int

const (
	easy difficulty = iota
	medium
	hard
)

// fallbackOrder maps each difficulty with a deficit to the buckets that may
// fill it, in preference order.
var fallbackOrder = map[difficulty][]difficulty{
	easy:   {medium, hard},
	medium: {easy, hard},
	hard:   {medium, easy},
}

// Selector builds the daily match list.
type Selector struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Selector {
	return &Selector{logger: logger.With(slog.String("component", "selector"))}
}

// ranked is a candidate with its precomputed sort keys.
type ranked struct {
	cand   domain.Candidate
	diff   difficulty
	margin decimal.Decimal
}

// SelectMatches picks exactly ten matches from the pool, balancing difficulty
// 4/4/2 with fallback fills, capping leagues at two matches each. The result
// is sorted by kickoff ascending with all five odds frozen as
// thousandth-scaled integers. Returns domain.ErrInsufficientFixtures when the
// pool cannot yield ten.
func (s *Selector) SelectMatches(pool []domain.Candidate) ([]domain.MatchEntry, error) {
	buckets := map[difficulty][]ranked{}
	dropped := 0
	for _, c := range pool {
		if !domain.IsPreMatchStatus(c.Fixture.Status) {
			continue
		}
		if !sane(c) {
			dropped++
			continue
		}
		r := ranked{cand: c, diff: classify(c), margin: bookMargin(c)}
		buckets[r.diff] = append(buckets[r.diff], r)
	}
	for d := range buckets {
		sortRanked(buckets[d])
	}

	s.logger.Debug("candidate pool bucketed",
		slog.Int("easy", len(buckets[easy])),
		slog.Int("medium", len(buckets[medium])),
		slog.Int("hard", len(buckets[hard])),
		slog.Int("dropped", dropped),
	)

	leagueCount := map[int64]int{}
	picked := map[domain.FixtureID]bool{}
	var selected []ranked

	take := func(d difficulty, want int) int {
		got := 0
		for _, r := range buckets[d] {
			if got == want {
				break
			}
			if picked[r.cand.Fixture.ID] {
				continue
			}
			if leagueCount[r.cand.Fixture.LeagueID] >= maxPerLeague {
				continue
			}
			picked[r.cand.Fixture.ID] = true
			leagueCount[r.cand.Fixture.LeagueID]++
			selected = append(selected, r)
			got++
		}
		return got
	}

	targets := map[difficulty]int{easy: targetEasy, medium: targetMedium, hard: targetHard}
	deficits := map[difficulty]int{}
	for _, d := range []difficulty{easy, medium, hard} {
		got := take(d, targets[d])
		if got < targets[d] {
			deficits[d] = targets[d] - got
		}
	}
	for _, d := range []difficulty{easy, medium, hard} {
		need := deficits[d]
		for _, fb := range fallbackOrder[d] {
			if need == 0 {
				break
			}
			need -= take(fb, need)
		}
	}

	if len(selected) < domain.CycleSize {
		s.logger.Warn("candidate pool too small",
			slog.Int("selected", len(selected)),
			slog.Int("pool", len(pool)),
		)
		return nil, domain.ErrInsufficientFixtures
	}

	sort.Slice(selected, func(i, j int) bool {
		return selected[i].cand.Fixture.KickoffUTC.Before(selected[j].cand.Fixture.KickoffUTC)
	})

	matches := make([]domain.MatchEntry, domain.CycleSize)
	for i, r := range selected[:domain.CycleSize] {
		f := r.cand.Fixture
		matches[i] = domain.MatchEntry{
			FixtureID:  f.ID,
			KickoffUTC: f.KickoffUTC,
			LeagueID:   f.LeagueID,
			OddsHome:   domain.ScaleOdds(r.cand.Home),
			OddsDraw:   domain.ScaleOdds(r.cand.Draw),
			OddsAway:   domain.ScaleOdds(r.cand.Away),
			OddsOver:   domain.ScaleOdds(r.cand.Over),
			OddsUnder:  domain.ScaleOdds(r.cand.Under),
		}
	}
	return matches, nil
}

// sane checks each of the five odds against its market's plausible range.
func sane(c domain.Candidate) bool {
	for _, v := range []decimal.Decimal{c.Home, c.Draw, c.Away} {
		if v.LessThan(min1X2) || v.GreaterThan(max1X2) {
			return false
		}
	}
	for _, v := range []decimal.Decimal{c.Over, c.Under} {
		if v.LessThan(minOU) || v.GreaterThan(maxOU) {
			return false
		}
	}
	return true
}

// classify assigns a difficulty from the longest 1X2 price: a short favourite
// means an easy pick, a wide-open match a hard one.
func classify(c domain.Candidate) difficulty {
	max := c.Home
	if c.Draw.GreaterThan(max) {
		max = c.Draw
	}
	if c.Away.GreaterThan(max) {
		max = c.Away
	}
	switch {
	case max.LessThanOrEqual(easyCeiling):
		return easy
	case max.LessThanOrEqual(mediumCeiling):
		return medium
	default:
		return hard
	}
}

// bookMargin is the bookmaker overround of the 1X2 market: 1/h + 1/d + 1/a - 1.
func bookMargin(c domain.Candidate) decimal.Decimal {
	one := decimal.NewFromInt(1)
	return one.Div(c.Home).Add(one.Div(c.Draw)).Add(one.Div(c.Away)).Sub(one)
}

// sortRanked orders a bucket by kickoff ascending, then lower margin first.
func sortRanked(rs []ranked) {
	sort.Slice(rs, func(i, j int) bool {
		ki, kj := rs[i].cand.Fixture.KickoffUTC, rs[j].cand.Fixture.KickoffUTC
		if !ki.Equal(kj) {
			return ki.Before(kj)
		}
		return rs[i].margin.LessThan(rs[j].margin)
	})
}
