package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/theo7791l/wolaro-guard/internal/guildconf"
	"github.com/theo7791l/wolaro-guard/internal/risk"
)

// DB wraps the SQLite store holding guild configuration, the append-only
// protection audit log and per-guild stat counters.
type DB struct {
	db *sql.DB
}

func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	s := &DB{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *DB) Close() error {
	return s.db.Close()
}

func (s *DB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS guild_config (
		guild_id TEXT PRIMARY KEY,
		anti_spam INTEGER DEFAULT 1,
		anti_raid INTEGER DEFAULT 1,
		anti_nuke INTEGER DEFAULT 1,
		phishing INTEGER DEFAULT 1,
		nsfw INTEGER DEFAULT 1,
		challenge INTEGER DEFAULT 0,
		spam_level TEXT DEFAULT 'medium',
		join_rate_threshold INTEGER DEFAULT 5,
		join_rate_window_ms INTEGER DEFAULT 60000,
		nsfw_threshold REAL DEFAULT 0.7,
		nuke_limits TEXT DEFAULT '{}',
		trusted_domains TEXT DEFAULT '[]',
		whitelist_users TEXT DEFAULT '[]',
		whitelist_roles TEXT DEFAULT '[]',
		log_channel_id TEXT DEFAULT '',
		quarantine_role_id TEXT DEFAULT '',
		updated_at INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS protection_logs (
		id TEXT PRIMARY KEY,
		guild_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		detector TEXT NOT NULL,
		action TEXT NOT NULL,
		reason TEXT NOT NULL,
		details TEXT DEFAULT '',
		exec_failed INTEGER DEFAULT 0,
		timestamp INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_protection_logs_guild ON protection_logs(guild_id);
	CREATE INDEX IF NOT EXISTS idx_protection_logs_time ON protection_logs(timestamp);

	CREATE TABLE IF NOT EXISTS stats (
		guild_id TEXT NOT NULL,
		stat TEXT NOT NULL,
		count INTEGER DEFAULT 0,
		PRIMARY KEY (guild_id, stat)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

type nukeLimitRow struct {
	Max      int   `json:"max"`
	WindowMs int64 `json:"window_ms"`
}

// LoadGuildConfig returns (nil, nil) when the guild has no stored row yet.
func (s *DB) LoadGuildConfig(guildID string) (*guildconf.Config, error) {
	row := s.db.QueryRow(`
		SELECT anti_spam, anti_raid, anti_nuke, phishing, nsfw, challenge,
		       spam_level, join_rate_threshold, join_rate_window_ms,
		       nsfw_threshold, nuke_limits, trusted_domains,
		       whitelist_users, whitelist_roles, log_channel_id, quarantine_role_id
		FROM guild_config WHERE guild_id = ?`, guildID)

	cfg := guildconf.Defaults(guildID)
	var (
		antiSpam, antiRaid, antiNuke, phishing, nsfw, challenge int
		spamLevel                                               string
		joinWindowMs                                            int64
		nukeLimitsJSON, trustedJSON, wlUsersJSON, wlRolesJSON   string
	)

	err := row.Scan(&antiSpam, &antiRaid, &antiNuke, &phishing, &nsfw, &challenge,
		&spamLevel, &cfg.JoinRateThreshold, &joinWindowMs,
		&cfg.NSFWThreshold, &nukeLimitsJSON, &trustedJSON,
		&wlUsersJSON, &wlRolesJSON, &cfg.LogChannelID, &cfg.QuarantineRoleID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load guild config: %w", err)
	}

	cfg.AntiSpamEnabled = antiSpam != 0
	cfg.AntiRaidEnabled = antiRaid != 0
	cfg.AntiNukeEnabled = antiNuke != 0
	cfg.PhishingEnabled = phishing != 0
	cfg.NSFWEnabled = nsfw != 0
	cfg.ChallengeEnabled = challenge != 0
	cfg.SetSpamLevel(spamLevel)
	cfg.JoinRateWindow = time.Duration(joinWindowMs) * time.Millisecond

	var limits map[string]nukeLimitRow
	if err := json.Unmarshal([]byte(nukeLimitsJSON), &limits); err == nil {
		for action, l := range limits {
			cfg.NukeLimits[action] = guildconf.ActionLimit{
				Max:    l.Max,
				Window: time.Duration(l.WindowMs) * time.Millisecond,
			}
		}
	}
	json.Unmarshal([]byte(trustedJSON), &cfg.TrustedDomains)
	json.Unmarshal([]byte(wlUsersJSON), &cfg.WhitelistUsers)
	json.Unmarshal([]byte(wlRolesJSON), &cfg.WhitelistRoles)

	return cfg, nil
}

func (s *DB) SaveGuildConfig(cfg *guildconf.Config) error {
	limits := make(map[string]nukeLimitRow, len(cfg.NukeLimits))
	for action, l := range cfg.NukeLimits {
		limits[action] = nukeLimitRow{Max: l.Max, WindowMs: l.Window.Milliseconds()}
	}
	limitsJSON, _ := json.Marshal(limits)
	trustedJSON, _ := json.Marshal(cfg.TrustedDomains)
	wlUsersJSON, _ := json.Marshal(cfg.WhitelistUsers)
	wlRolesJSON, _ := json.Marshal(cfg.WhitelistRoles)

	_, err := s.db.Exec(`
		INSERT INTO guild_config (
			guild_id, anti_spam, anti_raid, anti_nuke, phishing, nsfw, challenge,
			spam_level, join_rate_threshold, join_rate_window_ms, nsfw_threshold,
			nuke_limits, trusted_domains, whitelist_users, whitelist_roles,
			log_channel_id, quarantine_role_id, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			anti_spam=excluded.anti_spam, anti_raid=excluded.anti_raid,
			anti_nuke=excluded.anti_nuke, phishing=excluded.phishing,
			nsfw=excluded.nsfw, challenge=excluded.challenge,
			spam_level=excluded.spam_level,
			join_rate_threshold=excluded.join_rate_threshold,
			join_rate_window_ms=excluded.join_rate_window_ms,
			nsfw_threshold=excluded.nsfw_threshold,
			nuke_limits=excluded.nuke_limits,
			trusted_domains=excluded.trusted_domains,
			whitelist_users=excluded.whitelist_users,
			whitelist_roles=excluded.whitelist_roles,
			log_channel_id=excluded.log_channel_id,
			quarantine_role_id=excluded.quarantine_role_id,
			updated_at=excluded.updated_at`,
		cfg.GuildID,
		boolInt(cfg.AntiSpamEnabled), boolInt(cfg.AntiRaidEnabled),
		boolInt(cfg.AntiNukeEnabled), boolInt(cfg.PhishingEnabled),
		boolInt(cfg.NSFWEnabled), boolInt(cfg.ChallengeEnabled),
		cfg.SpamLevel, cfg.JoinRateThreshold, cfg.JoinRateWindow.Milliseconds(),
		cfg.NSFWThreshold, string(limitsJSON), string(trustedJSON),
		string(wlUsersJSON), string(wlRolesJSON),
		cfg.LogChannelID, cfg.QuarantineRoleID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save guild config: %w", err)
	}
	return nil
}

// LogProtectionAction appends one audit record. Records are never updated
// or deleted by the engine.
func (s *DB) LogProtectionAction(entry *risk.LogEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO protection_logs (id, guild_id, subject_id, detector, action,
			reason, details, exec_failed, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.GuildID, entry.SubjectID, entry.Detector,
		entry.Action.String(), entry.Reason, entry.Details,
		boolInt(entry.ExecFailed), entry.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("log protection action: %w", err)
	}
	return nil
}

func (s *DB) IncrementStat(guildID, stat string) error {
	_, err := s.db.Exec(`
		INSERT INTO stats (guild_id, stat, count) VALUES (?, ?, 1)
		ON CONFLICT(guild_id, stat) DO UPDATE SET count = count + 1`,
		guildID, stat)
	if err != nil {
		return fmt.Errorf("increment stat: %w", err)
	}
	return nil
}

func (s *DB) GetStats(guildID string) (map[string]int64, error) {
	rows, err := s.db.Query(`SELECT stat, count FROM stats WHERE guild_id = ?`, guildID)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int64)
	for rows.Next() {
		var stat string
		var count int64
		if err := rows.Scan(&stat, &count); err != nil {
			return nil, err
		}
		stats[stat] = count
	}
	return stats, rows.Err()
}

// RecentLogs returns the newest audit records for a guild, newest first.
func (s *DB) RecentLogs(guildID string, limit int) ([]risk.LogEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, guild_id, subject_id, detector, action, reason, details,
		       exec_failed, timestamp
		FROM protection_logs WHERE guild_id = ?
		ORDER BY timestamp DESC LIMIT ?`, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent logs: %w", err)
	}
	defer rows.Close()

	var entries []risk.LogEntry
	for rows.Next() {
		var e risk.LogEntry
		var action string
		var failed int
		var ts int64
		if err := rows.Scan(&e.ID, &e.GuildID, &e.SubjectID, &e.Detector,
			&action, &e.Reason, &e.Details, &failed, &ts); err != nil {
			return nil, err
		}
		e.Action = parseAction(action)
		e.ExecFailed = failed != 0
		e.Timestamp = time.UnixMilli(ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func parseAction(s string) risk.ActionKind {
	for a := risk.ActionNone; a <= risk.ActionMonitor; a++ {
		if a.String() == s {
			return a
		}
	}
	return risk.ActionNone
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
