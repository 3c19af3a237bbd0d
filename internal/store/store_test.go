package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/theo7791l/wolaro-guard/internal/guildconf"
	"github.com/theo7791l/wolaro-guard/internal/risk"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "guard.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestGuildConfigRoundTrip(t *testing.T) {
	db := openTestDB(t)

	if cfg, err := db.LoadGuildConfig("g1"); err != nil || cfg != nil {
		t.Fatalf("missing guild should yield (nil, nil), got (%v, %v)", cfg, err)
	}

	cfg := guildconf.Defaults("g1")
	cfg.SetSpamLevel("high")
	cfg.TrustedDomains = []string{"example.com"}
	cfg.WhitelistUsers = []string{"u1", "u2"}
	cfg.LogChannelID = "c1"
	cfg.NukeLimits["channel_delete"] = guildconf.ActionLimit{Max: 7, Window: 20 * time.Second}

	if err := db.SaveGuildConfig(cfg); err != nil {
		t.Fatalf("SaveGuildConfig: %v", err)
	}

	loaded, err := db.LoadGuildConfig("g1")
	if err != nil {
		t.Fatalf("LoadGuildConfig: %v", err)
	}
	if loaded.SpamLevel != "high" || loaded.SpamMessageCount != 5 {
		t.Errorf("spam level lost: %+v", loaded)
	}
	if len(loaded.TrustedDomains) != 1 || loaded.TrustedDomains[0] != "example.com" {
		t.Errorf("trusted domains lost: %v", loaded.TrustedDomains)
	}
	if len(loaded.WhitelistUsers) != 2 {
		t.Errorf("whitelist users lost: %v", loaded.WhitelistUsers)
	}
	if loaded.LogChannelID != "c1" {
		t.Errorf("log channel lost: %q", loaded.LogChannelID)
	}
	limit := loaded.NukeLimit("channel_delete")
	if limit.Max != 7 || limit.Window != 20*time.Second {
		t.Errorf("nuke limit lost: %+v", limit)
	}
}

func TestSaveIsUpsert(t *testing.T) {
	db := openTestDB(t)

	cfg := guildconf.Defaults("g1")
	if err := db.SaveGuildConfig(cfg); err != nil {
		t.Fatal(err)
	}
	cfg.AntiSpamEnabled = false
	if err := db.SaveGuildConfig(cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := db.LoadGuildConfig("g1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.AntiSpamEnabled {
		t.Error("second save did not overwrite")
	}
}

func TestProtectionLogAppendAndRead(t *testing.T) {
	db := openTestDB(t)

	e1 := risk.NewLogEntry("g1", "u1", "flood", risk.ActionTimeout, "oversized message", "len=2500")
	e2 := risk.NewLogEntry("g1", "u2", "raid", risk.ActionBan, "raid score 11", "")
	e2.ExecFailed = true
	e2.Timestamp = e1.Timestamp.Add(time.Second)

	if err := db.LogProtectionAction(e1); err != nil {
		t.Fatal(err)
	}
	if err := db.LogProtectionAction(e2); err != nil {
		t.Fatal(err)
	}

	logs, err := db.RecentLogs("g1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	if logs[0].SubjectID != "u2" {
		t.Errorf("newest first ordering broken: %+v", logs[0])
	}
	if !logs[0].ExecFailed {
		t.Error("exec_failed flag lost")
	}
	if logs[1].Action != risk.ActionTimeout {
		t.Errorf("action round trip failed: %v", logs[1].Action)
	}
}

func TestStatIncrement(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 3; i++ {
		if err := db.IncrementStat("g1", "flood_detections"); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.IncrementStat("g1", "raid_detections"); err != nil {
		t.Fatal(err)
	}

	stats, err := db.GetStats("g1")
	if err != nil {
		t.Fatal(err)
	}
	if stats["flood_detections"] != 3 {
		t.Errorf("flood_detections = %d, want 3", stats["flood_detections"])
	}
	if stats["raid_detections"] != 1 {
		t.Errorf("raid_detections = %d, want 1", stats["raid_detections"])
	}
}
