package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/theo7791l/wolaro-guard/internal/challenge"
	"github.com/theo7791l/wolaro-guard/internal/detect"
	"github.com/theo7791l/wolaro-guard/internal/guildconf"
	"github.com/theo7791l/wolaro-guard/internal/lockdown"
	"github.com/theo7791l/wolaro-guard/internal/metrics"
	"github.com/theo7791l/wolaro-guard/internal/patterns"
	"github.com/theo7791l/wolaro-guard/internal/platform"
	"github.com/theo7791l/wolaro-guard/internal/risk"
	"github.com/theo7791l/wolaro-guard/internal/sched"
	"github.com/theo7791l/wolaro-guard/internal/window"
)

type memBacking struct {
	mu   sync.Mutex
	cfgs map[string]*guildconf.Config
}

func (b *memBacking) LoadGuildConfig(guildID string) (*guildconf.Config, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfgs[guildID], nil
}

func (b *memBacking) SaveGuildConfig(cfg *guildconf.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfgs[cfg.GuildID] = cfg
	return nil
}

type memSink struct {
	mu      sync.Mutex
	entries []*risk.LogEntry
	stats   map[string]int
}

func (s *memSink) LogProtectionAction(e *risk.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *memSink) IncrementStat(guildID, stat string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stats == nil {
		s.stats = make(map[string]int)
	}
	s.stats[guildID+":"+stat]++
	return nil
}

type stubChecker struct {
	mu    sync.Mutex
	calls []string
}

func (s *stubChecker) Check(ctx context.Context, target string) *bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, target)
	return nil
}

type stubScorer struct{}

func (stubScorer) Enabled() bool                                { return false }
func (stubScorer) Score(context.Context, string) (float64, bool) { return 0, false }

type hotScorer struct{ score float64 }

func (hotScorer) Enabled() bool                                  { return true }
func (s hotScorer) Score(context.Context, string) (float64, bool) { return s.score, true }

type harness struct {
	engine     *Engine
	fake       *platform.Fake
	sink       *memSink
	backing    *memBacking
	checker    *stubChecker
	lockdowns  *lockdown.Manager
	raid       *detect.RaidDetector
	challenges *challenge.Manager
}

func newHarness(t *testing.T, seed *guildconf.Config) *harness {
	t.Helper()
	return newHarnessWith(t, seed, stubScorer{})
}

func newHarnessWith(t *testing.T, seed *guildconf.Config, scorer detect.ImageScorer) *harness {
	t.Helper()

	rules, err := patterns.NewStore("")
	if err != nil {
		t.Fatalf("pattern store: %v", err)
	}
	ws := window.NewStore()
	t.Cleanup(ws.Close)
	sc := sched.New()
	t.Cleanup(sc.Close)

	backing := &memBacking{cfgs: make(map[string]*guildconf.Config)}
	if seed != nil {
		backing.cfgs[seed.GuildID] = seed
	}
	cache := guildconf.NewCache(backing, time.Minute)
	t.Cleanup(cache.Close)

	fake := platform.NewFake()
	sink := &memSink{}
	checker := &stubChecker{}
	locks := lockdown.NewManager(fake)

	var eng *Engine
	challenges := challenge.NewManager(sc, func(g, u string) {
		if eng != nil {
			eng.ChallengeExpiry(g, u)
		}
	})
	t.Cleanup(challenges.Close)

	raid := detect.NewRaidDetector(ws, rules, sc)
	eng = New(Deps{
		Client:     fake,
		Cache:      cache,
		Windows:    ws,
		Registry:   metrics.NewRegistry(),
		Flood:      detect.NewFloodDetector(ws, rules),
		Raid:       raid,
		Nuke:       detect.NewNukeDetector(ws),
		Phishing:   detect.NewPhishingDetector(rules, checker),
		NSFW:       detect.NewNSFWDetector(scorer),
		Lockdowns:  locks,
		Challenges: challenges,
		Sink:       sink,
	})
	return &harness{
		engine: eng, fake: fake, sink: sink, backing: backing,
		checker: checker, lockdowns: locks, raid: raid, challenges: challenges,
	}
}

func chatMsg(author, content string) *detect.Message {
	return &detect.Message{
		GuildID:   "g1",
		ChannelID: "c1",
		MessageID: "m1",
		AuthorID:  author,
		Content:   content,
		Timestamp: time.Now(),
	}
}

func TestFloodOutranksLinkScan(t *testing.T) {
	h := newHarness(t, nil)

	// A wall of text that also carries a link: the flood path wins and the
	// reputation services are never consulted.
	h.engine.OnMessage(context.Background(), chatMsg("u1", strings.Repeat("x", 60)+" https://free-nitro.xyz/gift"))

	if got := h.fake.Calls("timeout"); len(got) != 1 {
		t.Fatalf("timeouts = %+v, want the flood sanction", got)
	}
	if len(h.checker.calls) != 0 {
		t.Fatalf("reputation consulted despite flood short-circuit: %v", h.checker.calls)
	}
	if len(h.sink.entries) != 1 || h.sink.entries[0].Detector != "flood" {
		t.Fatalf("audit = %+v", h.sink.entries)
	}
}

func TestPhishingRunsWhenContentIsClean(t *testing.T) {
	h := newHarness(t, nil)

	h.engine.OnMessage(context.Background(), chatMsg("u1", "grab it at https://free-nitro.xyz/gift"))

	if got := h.fake.Calls("delete_message"); len(got) != 1 {
		t.Fatalf("deletes = %+v", got)
	}
	if got := h.fake.Calls("kick"); len(got) != 1 {
		t.Fatalf("kicks = %+v, want phishing sanction", got)
	}
	if len(h.checker.calls) == 0 {
		t.Fatal("reputation services never consulted")
	}
}

func TestImageScanRunsLast(t *testing.T) {
	h := newHarnessWith(t, nil, hotScorer{score: 0.95})

	// Clean text, clean link, explicit image: the chain falls through to
	// the image detector.
	m := chatMsg("u1", "look at this")
	m.ImageURLs = []string{"https://cdn.example.com/pic.png"}
	h.engine.OnMessage(context.Background(), m)

	if got := h.fake.Calls("delete_message"); len(got) != 1 {
		t.Fatalf("deletes = %+v", got)
	}
	if got := h.fake.Calls("ban"); len(got) != 1 {
		t.Fatalf("bans = %+v, want the image sanction", got)
	}
	if len(h.sink.entries) != 1 || h.sink.entries[0].Detector != "nsfw" {
		t.Fatalf("audit = %+v", h.sink.entries)
	}
}

func TestWhitelistedAuthorBypassesDetectors(t *testing.T) {
	cfg := guildconf.Defaults("g1")
	cfg.WhitelistUsers = []string{"mod1"}
	h := newHarness(t, cfg)

	h.engine.OnMessage(context.Background(), chatMsg("mod1", strings.Repeat("x", 3000)))

	if got := h.fake.Calls(""); len(got) != 0 {
		t.Fatalf("whitelisted author sanctioned: %+v", got)
	}
}

func TestRaidFlipsLockdownAndTurnsJoinsAway(t *testing.T) {
	h := newHarness(t, nil)
	now := time.Now()

	for i := 0; i < 5; i++ {
		h.engine.OnMemberJoin(context.Background(), &detect.Join{
			GuildID:        "g1",
			UserID:         fmt.Sprintf("u%d", i),
			Username:       fmt.Sprintf("wanderer%d", i*37),
			AccountCreated: now.Add(-365 * 24 * time.Hour),
			HasAvatar:      true,
			Timestamp:      now.Add(time.Duration(i) * time.Second),
		})
	}
	if !h.raid.RaidActive("g1") {
		t.Fatal("raid mode not active")
	}
	if h.lockdowns.Level("g1") != lockdown.Raid {
		t.Fatalf("lockdown level = %v, want raid", h.lockdowns.Level("g1"))
	}

	// The next join never reaches scoring; it is turned away at the door.
	h.engine.OnMemberJoin(context.Background(), &detect.Join{
		GuildID:        "g1",
		UserID:         "late1",
		Username:       "latecomer",
		AccountCreated: now.Add(-365 * 24 * time.Hour),
		HasAvatar:      true,
		Timestamp:      now.Add(time.Minute),
	})
	kicked := false
	for _, r := range h.fake.Calls("kick") {
		if r.UserID == "late1" {
			kicked = true
		}
	}
	if !kicked {
		t.Fatal("join during raid lockdown not turned away")
	}
}

func TestQuarantineJoinGetsChallenge(t *testing.T) {
	cfg := guildconf.Defaults("g1")
	cfg.ChallengeEnabled = true
	cfg.QuarantineRoleID = "r-q"
	h := newHarness(t, cfg)
	now := time.Now()

	// Young account without avatar scores into the quarantine band.
	h.engine.OnMemberJoin(context.Background(), &detect.Join{
		GuildID:        "g1",
		UserID:         "newbie",
		Username:       "gardener",
		AccountCreated: now.Add(-24 * time.Hour),
		Timestamp:      now,
	})

	if got := h.fake.Calls("add_role"); len(got) != 1 || got[0].RoleID != "r-q" {
		t.Fatalf("quarantine role calls = %+v", got)
	}
	if !h.challenges.Active("g1", "newbie") {
		t.Fatal("no challenge issued")
	}

	dms := h.fake.Calls("dm")
	if len(dms) == 0 {
		t.Fatal("challenge code never sent")
	}
	code := extractCode(t, dms[len(dms)-1].Content)

	h.engine.OnChallengeResponse(context.Background(), "g1", "newbie", code)
	if got := h.fake.Calls("remove_role"); len(got) != 1 || got[0].RoleID != "r-q" {
		t.Fatalf("quarantine not released: %+v", got)
	}
	if h.challenges.Active("g1", "newbie") {
		t.Fatal("challenge still pending after success")
	}
}

func TestFailedChallengeKicks(t *testing.T) {
	cfg := guildconf.Defaults("g1")
	cfg.ChallengeEnabled = true
	cfg.QuarantineRoleID = "r-q"
	h := newHarness(t, cfg)
	now := time.Now()

	h.engine.OnMemberJoin(context.Background(), &detect.Join{
		GuildID:        "g1",
		UserID:         "newbie",
		Username:       "gardener",
		AccountCreated: now.Add(-24 * time.Hour),
		Timestamp:      now,
	})
	for i := 0; i < 3; i++ {
		h.engine.OnChallengeResponse(context.Background(), "g1", "newbie", "WRONG0")
	}

	kicked := false
	for _, r := range h.fake.Calls("kick") {
		if r.UserID == "newbie" {
			kicked = true
		}
	}
	if !kicked {
		t.Fatal("exhausted challenge did not remove the member")
	}
}

func TestNukeActionStripsAndBans(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.Roles["g1"] = []platform.Role{{ID: "r-admin", Name: "Admin", Permissions: 1 << 3}}
	h.fake.MemberRole["g1:rogue"] = []string{"r-admin"}
	now := time.Now()

	for i := 0; i < 3; i++ {
		h.engine.OnPrivilegedAction(context.Background(), &detect.AdminAction{
			GuildID:   "g1",
			ActorID:   "rogue",
			Action:    "channel_delete",
			TargetID:  fmt.Sprintf("ch%d", i),
			Timestamp: now.Add(time.Duration(i) * time.Second),
		})
	}

	if got := h.fake.Calls("remove_role"); len(got) != 1 {
		t.Fatalf("role strips = %+v", got)
	}
	if got := h.fake.Calls("ban"); len(got) != 1 || got[0].UserID != "rogue" {
		t.Fatalf("bans = %+v", got)
	}
}

func TestRepeatedDetectionsEscalateLockdown(t *testing.T) {
	h := newHarness(t, nil)
	wall := strings.Repeat("x", 60)

	// Each flood detection is worth at least a timeout (severity 3); two
	// within the threat window cross the soft-lockdown threshold.
	h.engine.OnMessage(context.Background(), chatMsg("u1", wall))
	m2 := chatMsg("u2", wall)
	m2.MessageID = "m2"
	h.engine.OnMessage(context.Background(), m2)

	if h.lockdowns.Level("g1") == lockdown.Unlocked {
		t.Fatal("threat aggregation never escalated the lockdown")
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	h := newHarness(t, nil)

	// A nil event panics inside the handler; the boundary has to absorb it.
	h.engine.OnMessage(context.Background(), nil)
}

func extractCode(t *testing.T, dm string) string {
	t.Helper()
	fields := strings.Fields(dm)
	for i, f := range fields {
		if f == "code" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	t.Fatalf("no code in DM %q", dm)
	return ""
}
