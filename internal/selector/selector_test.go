package selector

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

var baseKickoff = time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

func cand(id int64, league int64, kickoffOffset time.Duration, h, d, a, over, under float64) domain.Candidate {
	return domain.Candidate{
		Fixture: domain.Fixture{
			ID:         domain.FixtureID(id),
			LeagueID:   league,
			KickoffUTC: baseKickoff.Add(kickoffOffset),
			Status:     domain.StatusNotStarted,
		},
		Home:  decimal.NewFromFloat(h),
		Draw:  decimal.NewFromFloat(d),
		Away:  decimal.NewFromFloat(a),
		Over:  decimal.NewFromFloat(over),
		Under: decimal.NewFromFloat(under),
	}
}

// easyCand has a short favourite (max 1X2 <= 2.00).
func easyCand(id, league int64, off time.Duration) domain.Candidate {
	return cand(id, league, off, 1.50, 1.90, 2.00, 1.80, 2.00)
}

// mediumCand has max 1X2 in (2.00, 3.50].
func mediumCand(id, league int64, off time.Duration) domain.Candidate {
	return cand(id, league, off, 2.20, 3.30, 3.10, 1.85, 1.95)
}

// hardCand has max 1X2 > 3.50.
func hardCand(id, league int64, off time.Duration) domain.Candidate {
	return cand(id, league, off, 2.80, 3.20, 4.00, 2.00, 1.80)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestSelectMatchesBalancedPool(t *testing.T) {
	var pool []domain.Candidate
	for i := int64(0); i < 6; i++ {
		pool = append(pool, easyCand(100+i, 10+i, time.Duration(i)*time.Hour))
	}
	for i := int64(0); i < 6; i++ {
		pool = append(pool, mediumCand(200+i, 20+i, time.Duration(i)*time.Hour))
	}
	for i := int64(0); i < 4; i++ {
		pool = append(pool, hardCand(300+i, 30+i, time.Duration(i)*time.Hour))
	}

	matches, err := New(testLogger()).SelectMatches(pool)
	if err != nil {
		t.Fatalf("SelectMatches: %v", err)
	}
	if len(matches) != domain.CycleSize {
		t.Fatalf("got %d matches, want %d", len(matches), domain.CycleSize)
	}

	counts := map[string]int{}
	for _, m := range matches {
		switch {
		case m.FixtureID >= 300:
			counts["hard"]++
		case m.FixtureID >= 200:
			counts["medium"]++
		default:
			counts["easy"]++
		}
	}
	if counts["easy"] != 4 || counts["medium"] != 4 || counts["hard"] != 2 {
		t.Fatalf("difficulty split = %v, want easy:4 medium:4 hard:2", counts)
	}

	for i := 1; i < len(matches); i++ {
		if matches[i].KickoffUTC.Before(matches[i-1].KickoffUTC) {
			t.Fatalf("matches not sorted by kickoff at index %d", i)
		}
	}
}

func TestSelectMatchesDeficitFallback(t *testing.T) {
	// Only one hard candidate available: the deficit must be filled from
	// medium first.
	var pool []domain.Candidate
	for i := int64(0); i < 5; i++ {
		pool = append(pool, easyCand(100+i, 10+i, time.Duration(i)*time.Hour))
	}
	for i := int64(0); i < 7; i++ {
		pool = append(pool, mediumCand(200+i, 20+i, time.Duration(i)*time.Hour))
	}
	pool = append(pool, hardCand(300, 30, time.Hour))

	matches, err := New(testLogger()).SelectMatches(pool)
	if err != nil {
		t.Fatalf("SelectMatches: %v", err)
	}

	counts := map[string]int{}
	for _, m := range matches {
		switch {
		case m.FixtureID >= 300:
			counts["hard"]++
		case m.FixtureID >= 200:
			counts["medium"]++
		default:
			counts["easy"]++
		}
	}
	if counts["hard"] != 1 {
		t.Fatalf("hard count = %d, want 1", counts["hard"])
	}
	if counts["medium"] != 5 {
		t.Fatalf("medium count = %d (hard deficit should fall back to medium), counts=%v", counts["medium"], counts)
	}
}

func TestSelectMatchesLeagueCap(t *testing.T) {
	// Six easy candidates in the same league plus enough spread elsewhere.
	var pool []domain.Candidate
	for i := int64(0); i < 6; i++ {
		pool = append(pool, easyCand(100+i, 10, time.Duration(i)*time.Hour))
	}
	for i := int64(0); i < 6; i++ {
		pool = append(pool, mediumCand(200+i, 20+i, time.Duration(i)*time.Hour))
	}
	for i := int64(0); i < 3; i++ {
		pool = append(pool, hardCand(300+i, 30+i, time.Duration(i)*time.Hour))
	}

	matches, err := New(testLogger()).SelectMatches(pool)
	if err != nil {
		t.Fatalf("SelectMatches: %v", err)
	}

	perLeague := map[int64]int{}
	for _, m := range matches {
		perLeague[m.LeagueID]++
	}
	if perLeague[10] > 2 {
		t.Fatalf("league 10 has %d matches, cap is 2", perLeague[10])
	}
}

func TestSelectMatchesInsanityFiltered(t *testing.T) {
	var pool []domain.Candidate
	// A candidate with an implausible draw price must not be selected even
	// when the pool is short without it.
	bad := cand(999, 99, 0, 1.50, 25.0, 2.00, 1.80, 2.00)
	pool = append(pool, bad)
	for i := int64(0); i < 9; i++ {
		pool = append(pool, easyCand(100+i, 10+i, time.Duration(i)*time.Hour))
	}

	_, err := New(testLogger()).SelectMatches(pool)
	if !errors.Is(err, domain.ErrInsufficientFixtures) {
		t.Fatalf("err = %v, want ErrInsufficientFixtures", err)
	}
}

func TestSelectMatchesPoolTooSmall(t *testing.T) {
	var pool []domain.Candidate
	for i := int64(0); i < 9; i++ {
		pool = append(pool, easyCand(100+i, 10+i, time.Duration(i)*time.Hour))
	}
	_, err := New(testLogger()).SelectMatches(pool)
	if !errors.Is(err, domain.ErrInsufficientFixtures) {
		t.Fatalf("err = %v, want ErrInsufficientFixtures", err)
	}
}

func TestSelectMatchesFreezesScaledOdds(t *testing.T) {
	var pool []domain.Candidate
	pool = append(pool, cand(1, 1, 0, 1.505, 1.90, 2.00, 1.80, 2.00))
	for i := int64(0); i < 9; i++ {
		pool = append(pool, mediumCand(200+i, 20+i, time.Duration(i+1)*time.Hour))
	}
	pool = append(pool, hardCand(300, 30, 2*time.Hour), hardCand(301, 31, 3*time.Hour))

	matches, err := New(testLogger()).SelectMatches(pool)
	if err != nil {
		t.Fatalf("SelectMatches: %v", err)
	}
	if matches[0].FixtureID != 1 {
		t.Fatalf("first match = %d, want fixture 1 (earliest kickoff)", matches[0].FixtureID)
	}
	if matches[0].OddsHome != 1505 {
		t.Fatalf("OddsHome = %d, want 1505", matches[0].OddsHome)
	}
	if matches[0].OddsUnder != 2000 {
		t.Fatalf("OddsUnder = %d, want 2000", matches[0].OddsUnder)
	}
}
