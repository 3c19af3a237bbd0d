package risk

import (
	"testing"
	"time"
)

func TestScoreSum(t *testing.T) {
	factors := []Factor{
		{Kind: FactorYoungAccount, Severity: 3},
		{Kind: FactorDefaultAvatar, Severity: 2},
		{Kind: FactorSuspiciousUsername, Severity: 3},
	}
	if got := Score(factors); got != 8 {
		t.Fatalf("Score = %d, want 8", got)
	}
	if got := Score(nil); got != 0 {
		t.Fatalf("Score(nil) = %d, want 0", got)
	}
}

func TestJoinSanctionBands(t *testing.T) {
	cases := []struct {
		score    int
		raidMode bool
		want     ActionKind
	}{
		{12, false, ActionBan},
		{10, false, ActionBan},
		{2, true, ActionBan},
		{9, false, ActionKick},
		{7, false, ActionKick},
		{6, false, ActionQuarantine},
		{5, false, ActionQuarantine},
		{4, false, ActionMonitor},
		{3, false, ActionMonitor},
		{2, false, ActionNone},
		{0, false, ActionNone},
	}
	for _, c := range cases {
		got := JoinSanction(c.score, c.raidMode, "role", nil)
		if got.Kind != c.want {
			t.Errorf("JoinSanction(%d, raid=%v) = %s, want %s", c.score, c.raidMode, got.Kind, c.want)
		}
	}
}

func TestPhishingSanctionBands(t *testing.T) {
	cases := []struct {
		score     int
		confirmed bool
		want      ActionKind
	}{
		{0, true, ActionBan},
		{9, false, ActionBan},
		{8, false, ActionBan},
		{6, false, ActionKick},
		{5, false, ActionKick},
		{4, false, ActionWarn},
		{3, false, ActionWarn},
		{2, false, ActionDelete},
		{1, false, ActionDelete},
		{0, false, ActionNone},
	}
	for _, c := range cases {
		got := PhishingSanction(c.score, c.confirmed, "http://x.test")
		if got.Kind != c.want {
			t.Errorf("PhishingSanction(%d, %v) = %s, want %s", c.score, c.confirmed, got.Kind, c.want)
		}
	}
}

func TestNSFWSanctionBands(t *testing.T) {
	cases := []struct {
		score float64
		want  ActionKind
	}{
		{0.95, ActionBan},
		{0.9, ActionBan},
		{0.85, ActionTimeout},
		{0.8, ActionTimeout},
		{0.75, ActionWarn},
		{0.7, ActionWarn},
		{0.69, ActionNone},
		{0.1, ActionNone},
	}
	for _, c := range cases {
		got := NSFWSanction(c.score, 0.7)
		if got.Kind != c.want {
			t.Errorf("NSFWSanction(%.2f) = %s, want %s", c.score, got.Kind, c.want)
		}
	}

	sanction := NSFWSanction(0.85, 0.7)
	if sanction.Duration != 24*time.Hour {
		t.Errorf("timeout tier duration = %v, want 24h", sanction.Duration)
	}
}
