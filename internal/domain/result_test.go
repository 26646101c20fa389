package domain

import "testing"

func TestDeriveOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		home   int
		away   int
		want1  Outcome1X2
		wantOU OutcomeOU25
	}{
		{"home win over", 3, 1, OutcomeHome, OutcomeOver},
		{"away win under", 0, 1, OutcomeAway, OutcomeUnder},
		{"goalless draw is under", 0, 0, OutcomeDraw, OutcomeUnder},
		{"one all is under", 1, 1, OutcomeDraw, OutcomeUnder},
		{"three goals is over", 2, 1, OutcomeHome, OutcomeOver},
		{"high scoring draw", 2, 2, OutcomeDraw, OutcomeOver},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got1, gotOU := DeriveOutcomes(tt.home, tt.away)
			if got1 != tt.want1 || gotOU != tt.wantOU {
				t.Errorf("DeriveOutcomes(%d, %d) = (%s, %s), want (%s, %s)",
					tt.home, tt.away, got1, gotOU, tt.want1, tt.wantOU)
			}
		})
	}
}

func TestOutcomeCodes(t *testing.T) {
	home := OutcomeHome
	under := OutcomeUnder

	if got := MoneylineCode(&home); got != MoneylineHome {
		t.Errorf("MoneylineCode(Home) = %d, want %d", got, MoneylineHome)
	}
	if got := MoneylineCode(nil); got != MoneylineNotSet {
		t.Errorf("MoneylineCode(nil) = %d, want %d", got, MoneylineNotSet)
	}
	if got := OverUnderCode(&under); got != OverUnderUnder {
		t.Errorf("OverUnderCode(Under) = %d, want %d", got, OverUnderUnder)
	}
	if got := OverUnderCode(nil); got != OverUnderNotSet {
		t.Errorf("OverUnderCode(nil) = %d, want %d", got, OverUnderNotSet)
	}
}

func TestGuidedOutcomeString(t *testing.T) {
	draw := OutcomeDraw
	over := OutcomeOver

	if got := GuidedOutcomeString(BetMoneyline, &draw, nil); got != "Draw" {
		t.Errorf("moneyline payload = %q, want Draw", got)
	}
	if got := GuidedOutcomeString(BetOverUnder, nil, &over); got != "Over 2.5" {
		t.Errorf("over/under payload = %q, want Over 2.5", got)
	}
	if got := GuidedOutcomeString(BetMoneyline, nil, &over); got != "" {
		t.Errorf("missing outcome payload = %q, want empty", got)
	}
}
