package detect

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/theo7791l/wolaro-guard/internal/guildconf"
	"github.com/theo7791l/wolaro-guard/internal/patterns"
	"github.com/theo7791l/wolaro-guard/internal/risk"
)

type stubChecker struct {
	mu       sync.Mutex
	verdicts map[string]bool // target -> malicious; absent means inconclusive
	calls    []string
}

func (s *stubChecker) Check(ctx context.Context, target string) *bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, target)
	if v, ok := s.verdicts[target]; ok {
		return &v
	}
	return nil
}

func (s *stubChecker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newPhishingDetector(t *testing.T, checker LinkChecker) *PhishingDetector {
	t.Helper()
	rules, err := patterns.NewStore("")
	if err != nil {
		t.Fatalf("pattern store: %v", err)
	}
	return NewPhishingDetector(rules, checker)
}

func linkMsg(content string) *Message {
	return &Message{
		GuildID:   "g1",
		ChannelID: "c1",
		MessageID: "m1",
		AuthorID:  "u1",
		Content:   content,
		Timestamp: time.Now(),
	}
}

func TestExtractURLs(t *testing.T) {
	got := ExtractURLs("check https://example.com/a and http://other.net/b, ok?")
	if len(got) != 2 {
		t.Fatalf("extracted %v", got)
	}
	if got[0] != "https://example.com/a" || got[1] != "http://other.net/b" {
		t.Fatalf("extracted %v", got)
	}

	if got := ExtractURLs("no links here"); got != nil {
		t.Fatalf("false extraction: %v", got)
	}
}

func TestScamBrandDomainIsBanned(t *testing.T) {
	d := newPhishingDetector(t, &stubChecker{})
	cfg := guildconf.Defaults("g1")

	// Brand pattern (4) + suspicious TLD (2) + subdomain depth stays low:
	// still enough for the kick band; add an IP-free lookalike with TLD
	// and brand to cross into ban.
	a := d.AnalyzeMessage(context.Background(), linkMsg("claim here https://free-nitro.xyz/gift"), cfg)
	if a == nil {
		t.Fatal("scam link not flagged")
	}
	if a.Sanction.Kind != risk.ActionKick {
		t.Fatalf("sanction = %v (score %d), want kick", a.Sanction.Kind, risk.Score(a.Factors))
	}
	if len(a.Delete) != 1 {
		t.Fatal("offending message not deleted")
	}
}

func TestExternalConfirmationOverridesLowScore(t *testing.T) {
	checker := &stubChecker{verdicts: map[string]bool{"https://innocuous-looking.com/page": true}}
	d := newPhishingDetector(t, checker)
	cfg := guildconf.Defaults("g1")

	a := d.AnalyzeMessage(context.Background(), linkMsg("see https://innocuous-looking.com/page"), cfg)
	if a == nil || a.Sanction.Kind != risk.ActionBan {
		t.Fatalf("confirmed link = %+v, want ban", a)
	}
}

func TestTrustedDomainBypassesEverything(t *testing.T) {
	checker := &stubChecker{verdicts: map[string]bool{"https://docs.trusted.org/x": true}}
	d := newPhishingDetector(t, checker)
	cfg := guildconf.Defaults("g1")
	cfg.TrustedDomains = []string{"trusted.org"}

	a := d.AnalyzeMessage(context.Background(), linkMsg("read https://docs.trusted.org/x"), cfg)
	if a != nil {
		t.Fatalf("trusted subdomain flagged: %+v", a)
	}
	if len(checker.calls) != 0 {
		t.Fatalf("trusted domain still sent to reputation services: %v", checker.calls)
	}
}

func TestIPHostScoring(t *testing.T) {
	d := newPhishingDetector(t, &stubChecker{})
	cfg := guildconf.Defaults("g1")

	a := d.AnalyzeMessage(context.Background(), linkMsg("download http://203.0.113.7/setup.exe"), cfg)
	if a == nil {
		t.Fatal("raw-IP link not flagged")
	}
	if a.Sanction.Kind != risk.ActionWarn {
		t.Fatalf("sanction = %v, want warn for score 3", a.Sanction.Kind)
	}
	var ipFactor bool
	for _, f := range a.Factors {
		if f.Kind == risk.FactorIPHost {
			ipFactor = true
		}
	}
	if !ipFactor {
		t.Fatalf("factors = %+v, missing ip_host", a.Factors)
	}
}

func TestSubdomainAbuseAddsScore(t *testing.T) {
	d := newPhishingDetector(t, &stubChecker{})
	cfg := guildconf.Defaults("g1")

	// deep chain (2) + suspicious TLD (2) = warn band.
	a := d.AnalyzeMessage(context.Background(), linkMsg("https://login.secure.account.verify.example.icu/auth"), cfg)
	if a == nil || a.Sanction.Kind != risk.ActionWarn {
		t.Fatalf("deep subdomain link = %+v, want warn", a)
	}
}

func TestWorstURLWins(t *testing.T) {
	d := newPhishingDetector(t, &stubChecker{})
	cfg := guildconf.Defaults("g1")

	a := d.AnalyzeMessage(context.Background(),
		linkMsg("https://example.com/fine then http://198.51.100.2/drop then https://free-nitro.xyz/gift"), cfg)
	if a == nil {
		t.Fatal("mixed link message not flagged")
	}
	// The brand+TLD URL (score 6, kick) outranks the bare IP (warn).
	if a.Sanction.Kind != risk.ActionKick {
		t.Fatalf("sanction = %v, want the worst URL's kick", a.Sanction.Kind)
	}
}

// barrierChecker only answers once every expected call is in flight; a
// sequential caller deadlocks against it until the context deadline.
type barrierChecker struct {
	gate *sync.WaitGroup
}

func (b *barrierChecker) Check(ctx context.Context, target string) *bool {
	b.gate.Done()
	released := make(chan struct{})
	go func() {
		b.gate.Wait()
		close(released)
	}()
	select {
	case <-released:
		v := true
		return &v
	case <-ctx.Done():
		return nil
	}
}

func TestReputationLookupsRunConcurrently(t *testing.T) {
	var gate sync.WaitGroup
	gate.Add(3)
	d := newPhishingDetector(t, &barrierChecker{gate: &gate})
	cfg := guildconf.Defaults("g1")

	start := time.Now()
	a := d.AnalyzeMessage(context.Background(),
		linkMsg("https://one.example.com/a https://two.example.com/b https://three.example.com/c"), cfg)
	if a == nil || a.Sanction.Kind != risk.ActionBan {
		t.Fatalf("assessment = %+v, want ban from confirmed verdicts", a)
	}
	if elapsed := time.Since(start); elapsed >= checkDeadline {
		t.Fatalf("lookups took %s, sequential instead of concurrent", elapsed)
	}
}

type hungChecker struct{}

func (hungChecker) Check(ctx context.Context, target string) *bool {
	<-ctx.Done()
	return nil
}

func TestSlowReputationNeverBlocksLocalVerdict(t *testing.T) {
	prev := checkDeadline
	checkDeadline = 100 * time.Millisecond
	defer func() { checkDeadline = prev }()

	d := newPhishingDetector(t, hungChecker{})
	cfg := guildconf.Defaults("g1")

	start := time.Now()
	a := d.AnalyzeMessage(context.Background(), linkMsg("claim here https://free-nitro.xyz/gift"), cfg)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("analysis stalled %s on a hung reputation endpoint", elapsed)
	}
	if a == nil || a.Sanction.Kind != risk.ActionKick {
		t.Fatalf("assessment = %+v, want the local kick verdict", a)
	}
	if len(a.Delete) != 1 {
		t.Fatal("message deletion must survive a hung lookup")
	}
}

func TestPlainLinkPasses(t *testing.T) {
	d := newPhishingDetector(t, &stubChecker{})
	cfg := guildconf.Defaults("g1")

	a := d.AnalyzeMessage(context.Background(), linkMsg("interesting read https://example.com/article"), cfg)
	if a != nil {
		t.Fatalf("plain link flagged: %+v", a)
	}
}
