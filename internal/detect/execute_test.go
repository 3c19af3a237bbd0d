package detect

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/theo7791l/wolaro-guard/internal/guildconf"
	"github.com/theo7791l/wolaro-guard/internal/platform"
	"github.com/theo7791l/wolaro-guard/internal/risk"
)

type memSink struct {
	mu      sync.Mutex
	entries []*risk.LogEntry
	stats   map[string]int
	fail    error
}

func newMemSink() *memSink {
	return &memSink{stats: make(map[string]int)}
}

func (s *memSink) LogProtectionAction(e *risk.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *memSink) IncrementStat(guildID, stat string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[guildID+":"+stat]++
	return nil
}

func TestExecuteDeletesBeforeSanction(t *testing.T) {
	fake := platform.NewFake()
	sink := newMemSink()
	ex := NewExecutor(fake, sink)
	cfg := guildconf.Defaults("g1")
	cfg.LogChannelID = "log1"

	a := &Assessment{
		Detector:  "flood",
		GuildID:   "g1",
		SubjectID: "u1",
		ChannelID: "c1",
		Sanction:  risk.Timeout(5*time.Minute, "Message flooding"),
		Reason:    "Message flooding",
		Delete:    []MessageTarget{{ChannelID: "c1", MessageID: "m1"}},
	}
	entry := ex.Execute(a, cfg)

	records := fake.Calls("")
	if len(records) < 3 {
		t.Fatalf("expected delete, timeout and notify, got %v", records)
	}
	if records[0].Op != "delete_message" {
		t.Fatalf("first op = %s, want delete_message", records[0].Op)
	}
	if got := fake.Calls("timeout"); len(got) != 1 || got[0].Duration != 5*time.Minute {
		t.Fatalf("timeout calls = %+v", got)
	}
	if got := fake.Calls("channel_message"); len(got) != 1 || got[0].ChannelID != "log1" {
		t.Fatalf("log-channel notify = %+v", got)
	}
	if entry.ExecFailed {
		t.Fatal("entry flagged as failed on a clean run")
	}
	if len(sink.entries) != 1 || sink.stats["g1:flood_detections"] != 1 {
		t.Fatalf("audit not persisted: entries=%d stats=%v", len(sink.entries), sink.stats)
	}
}

func TestExecuteFlagsFailure(t *testing.T) {
	fake := platform.NewFake()
	fake.FailOps["timeout"] = errors.New("missing permission")
	ex := NewExecutor(fake, newMemSink())

	a := &Assessment{
		Detector:  "flood",
		GuildID:   "g1",
		SubjectID: "u1",
		Sanction:  risk.Timeout(time.Minute, "x"),
		Reason:    "x",
	}
	entry := ex.Execute(a, guildconf.Defaults("g1"))
	if !entry.ExecFailed {
		t.Fatal("failed sanction not flagged on the audit entry")
	}
}

func TestExecuteStripsDangerousRoles(t *testing.T) {
	fake := platform.NewFake()
	fake.Roles["g1"] = []platform.Role{
		{ID: "r-admin", Name: "Admin", Permissions: permAdministrator},
		{ID: "r-mod", Name: "Mod", Permissions: permBanMembers | permKickMembers},
		{ID: "r-color", Name: "Color", Permissions: 0},
	}
	fake.MemberRole["g1:u1"] = []string{"r-admin", "r-color", "r-mod"}
	ex := NewExecutor(fake, newMemSink())

	a := &Assessment{
		Detector:   "nuke",
		GuildID:    "g1",
		SubjectID:  "u1",
		Sanction:   risk.Ban("Mass deletion"),
		Reason:     "Mass deletion",
		StripRoles: true,
	}
	ex.Execute(a, guildconf.Defaults("g1"))

	removed := fake.Calls("remove_role")
	if len(removed) != 2 {
		t.Fatalf("removed %d roles, want 2", len(removed))
	}
	for _, r := range removed {
		if r.RoleID == "r-color" {
			t.Fatal("harmless role stripped")
		}
	}
	if got := fake.Calls("ban"); len(got) != 1 {
		t.Fatalf("ban calls = %+v", got)
	}
	// Strip happens before the ban.
	all := fake.Calls("")
	banIdx, stripIdx := -1, -1
	for i, r := range all {
		switch r.Op {
		case "ban":
			banIdx = i
		case "remove_role":
			if stripIdx == -1 {
				stripIdx = i
			}
		}
	}
	if stripIdx == -1 || banIdx < stripIdx {
		t.Fatalf("ban at %d before strip at %d", banIdx, stripIdx)
	}
}

func TestExecuteRescanSweepsStragglers(t *testing.T) {
	now := time.Now()
	orig := timeNow
	timeNow = func() time.Time { return now }
	defer func() { timeNow = orig }()

	fake := platform.NewFake()
	fake.History["c1"] = []platform.MessageRef{
		{ID: "fresh", AuthorID: "u1", Timestamp: now.Add(-5 * time.Second)},
		{ID: "other", AuthorID: "u2", Timestamp: now.Add(-5 * time.Second)},
		{ID: "stale", AuthorID: "u1", Timestamp: now.Add(-2 * time.Minute)},
	}
	ex := NewExecutor(fake, newMemSink())

	a := &Assessment{
		Detector:      "flood",
		GuildID:       "g1",
		SubjectID:     "u1",
		Sanction:      risk.Timeout(time.Minute, "x"),
		Reason:        "x",
		RescanChannel: "c1",
		RescanAuthor:  "u1",
		RescanWindow:  30 * time.Second,
	}
	ex.Execute(a, guildconf.Defaults("g1"))

	deleted := fake.Calls("delete_message")
	if len(deleted) != 1 || deleted[0].MessageID != "fresh" {
		t.Fatalf("rescan deleted %+v, want only the fresh offender message", deleted)
	}
}

func TestExecuteRescanWithoutAuthorSweepsAll(t *testing.T) {
	now := time.Now()
	orig := timeNow
	timeNow = func() time.Time { return now }
	defer func() { timeNow = orig }()

	fake := platform.NewFake()
	fake.History["c1"] = []platform.MessageRef{
		{ID: "fresh1", AuthorID: "u1", Timestamp: now.Add(-5 * time.Second)},
		{ID: "fresh2", AuthorID: "u2", Timestamp: now.Add(-10 * time.Second)},
		{ID: "stale", AuthorID: "u1", Timestamp: now.Add(-2 * time.Minute)},
	}
	ex := NewExecutor(fake, newMemSink())

	a := &Assessment{
		Detector:      "flood",
		GuildID:       "g1",
		SubjectID:     "u1",
		Sanction:      risk.None(),
		Reason:        "burst",
		BulkDelete:    map[string][]string{"c1": {"m1"}},
		RescanChannel: "c1",
		RescanWindow:  30 * time.Second,
	}
	ex.Execute(a, guildconf.Defaults("g1"))

	deleted := fake.Calls("delete_message")
	if len(deleted) != 2 {
		t.Fatalf("author-agnostic rescan deleted %+v, want both fresh messages", deleted)
	}
	for _, r := range deleted {
		if r.MessageID == "stale" {
			t.Fatal("rescan swept a message outside the window")
		}
	}
}

func TestExecuteExtraAssessments(t *testing.T) {
	fake := platform.NewFake()
	sink := newMemSink()
	ex := NewExecutor(fake, sink)

	a := &Assessment{
		Detector:   "flood",
		GuildID:    "g1",
		SubjectID:  "u1",
		ChannelID:  "c1",
		Sanction:   risk.Timeout(time.Minute, "burst"),
		Reason:     "burst",
		BulkDelete: map[string][]string{"c1": {"m1", "m2"}},
		Extra: []*Assessment{
			{Detector: "flood", GuildID: "g1", SubjectID: "u2", Sanction: risk.Timeout(time.Minute, "burst"), Reason: "burst"},
		},
	}
	ex.Execute(a, guildconf.Defaults("g1"))

	if got := fake.Calls("timeout"); len(got) != 2 {
		t.Fatalf("timeouts = %d, want both participants", len(got))
	}
	if len(sink.entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(sink.entries))
	}
}
