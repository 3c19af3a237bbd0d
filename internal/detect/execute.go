package detect

import (
	"fmt"
	"time"

	"github.com/theo7791l/wolaro-guard/internal/guildconf"
	"github.com/theo7791l/wolaro-guard/internal/logging"
	"github.com/theo7791l/wolaro-guard/internal/platform"
	"github.com/theo7791l/wolaro-guard/internal/risk"
)

// Permission bits that let a compromised account do structural damage.
const (
	permKickMembers    int64 = 1 << 1
	permBanMembers     int64 = 1 << 2
	permAdministrator  int64 = 1 << 3
	permManageChannels int64 = 1 << 4
	permManageGuild    int64 = 1 << 5
	permMentionAll     int64 = 1 << 17
	permManageRoles    int64 = 1 << 28
	permManageWebhooks int64 = 1 << 29
)

const dangerousPermMask = permKickMembers | permBanMembers | permAdministrator |
	permManageChannels | permManageGuild | permMentionAll |
	permManageRoles | permManageWebhooks

// Swapped in tests.
var timeNow = time.Now

// Sink persists audit entries and statistics.
type Sink interface {
	LogProtectionAction(entry *risk.LogEntry) error
	IncrementStat(guildID, stat string) error
}

// Executor carries out an assessment: cleanup first, then the sanction,
// then notification and audit. Execution is best-effort per step; a failed
// step is logged and flagged on the audit entry but never aborts the rest.
type Executor struct {
	client platform.Client
	sink   Sink
}

func NewExecutor(client platform.Client, sink Sink) *Executor {
	return &Executor{client: client, sink: sink}
}

// Execute applies every side effect described by the assessment and writes
// the audit trail. It returns the persisted entry.
func (e *Executor) Execute(a *Assessment, cfg *guildconf.Config) *risk.LogEntry {
	failed := false

	for _, t := range a.Delete {
		if err := e.client.DeleteMessage(t.ChannelID, t.MessageID); err != nil {
			logging.Warn("delete message %s in %s failed: %v", t.MessageID, t.ChannelID, err)
			failed = true
		}
	}
	for channelID, ids := range a.BulkDelete {
		if len(ids) == 0 {
			continue
		}
		if err := e.client.BulkDeleteMessages(channelID, ids); err != nil {
			logging.Warn("bulk delete in %s failed: %v", channelID, err)
			failed = true
		}
	}

	if a.RescanChannel != "" && a.RescanWindow > 0 {
		e.rescan(a.RescanChannel, a.RescanAuthor, a.RescanWindow)
	}

	if a.StripRoles {
		if err := e.stripDangerousRoles(a.GuildID, a.SubjectID, a.Sanction.Reason); err != nil {
			logging.Warn("strip roles for %s in %s failed: %v", a.SubjectID, a.GuildID, err)
			failed = true
		}
	}

	if err := e.applySanction(a); err != nil {
		logging.Error("[%s] %s on %s in %s failed: %v",
			a.Detector, a.Sanction.Kind, a.SubjectID, a.GuildID, err)
		failed = true
	}

	if a.WarnChannel != "" && a.WarnText != "" {
		if err := e.client.SendChannelMessage(a.WarnChannel, a.WarnText); err != nil {
			logging.Warn("channel warning in %s failed: %v", a.WarnChannel, err)
		}
	}

	entry := risk.NewLogEntry(a.GuildID, a.SubjectID, a.Detector, a.Sanction.Kind, a.Reason, a.Details)
	entry.ExecFailed = failed
	if err := e.sink.LogProtectionAction(entry); err != nil {
		logging.Error("audit write failed for %s/%s: %v", a.GuildID, a.Detector, err)
	}
	if err := e.sink.IncrementStat(a.GuildID, a.Detector+"_detections"); err != nil {
		logging.Warn("stat increment failed for %s: %v", a.GuildID, err)
	}

	if cfg != nil && cfg.LogChannelID != "" {
		e.notify(cfg.LogChannelID, a)
	}

	for _, extra := range a.Extra {
		e.Execute(extra, cfg)
	}
	return entry
}

// rescan deletes messages that arrived in the channel during the detection
// window. An empty authorID sweeps every author, for channel-wide floods.
func (e *Executor) rescan(channelID, authorID string, win time.Duration) {
	refs, err := e.client.RecentMessages(channelID, 50)
	if err != nil {
		logging.Warn("rescan of %s failed: %v", channelID, err)
		return
	}
	cutoff := timeNow().Add(-win)
	for _, ref := range refs {
		if ref.Timestamp.Before(cutoff) {
			continue
		}
		if authorID != "" && ref.AuthorID != authorID {
			continue
		}
		if err := e.client.DeleteMessage(channelID, ref.ID); err != nil {
			logging.Warn("rescan delete %s failed: %v", ref.ID, err)
		}
	}
}

func (e *Executor) applySanction(a *Assessment) error {
	s := a.Sanction
	switch s.Kind {
	case risk.ActionNone, risk.ActionDelete, risk.ActionMonitor:
		// Cleanup already happened; monitor is audit-only.
		return nil
	case risk.ActionWarn:
		return e.client.SendDirectMessage(a.SubjectID,
			fmt.Sprintf("Warning: %s. Repeated violations lead to harsher action.", s.Reason))
	case risk.ActionTimeout:
		return e.client.TimeoutMember(a.GuildID, a.SubjectID, s.Duration, s.Reason)
	case risk.ActionKick:
		return e.client.KickMember(a.GuildID, a.SubjectID, s.Reason)
	case risk.ActionBan:
		return e.client.BanMember(a.GuildID, a.SubjectID, s.Reason)
	case risk.ActionQuarantine:
		if s.RoleID == "" {
			logging.Warn("quarantine requested for %s in %s but no quarantine role configured", a.SubjectID, a.GuildID)
			return nil
		}
		return e.client.AddRole(a.GuildID, a.SubjectID, s.RoleID, s.Reason)
	default:
		return fmt.Errorf("unknown sanction kind %d", s.Kind)
	}
}

// stripDangerousRoles removes every role the subject holds that carries a
// dangerous permission bit. Runs before bans so a hijacked admin account
// loses its leverage even if the ban itself fails.
func (e *Executor) stripDangerousRoles(guildID, userID, reason string) error {
	roles, err := e.client.GuildRoles(guildID)
	if err != nil {
		return fmt.Errorf("list guild roles: %w", err)
	}
	memberRoles, err := e.client.MemberRoles(guildID, userID)
	if err != nil {
		return fmt.Errorf("list member roles: %w", err)
	}

	dangerous := make(map[string]bool, len(roles))
	for _, r := range roles {
		if r.Permissions&dangerousPermMask != 0 {
			dangerous[r.ID] = true
		}
	}

	var firstErr error
	for _, rid := range memberRoles {
		if !dangerous[rid] {
			continue
		}
		if err := e.client.RemoveRole(guildID, userID, rid, reason); err != nil {
			logging.Warn("remove role %s from %s failed: %v", rid, userID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (e *Executor) notify(channelID string, a *Assessment) {
	text := fmt.Sprintf("[%s] %s -> <@%s>: %s", a.Detector, a.Sanction.Kind, a.SubjectID, a.Reason)
	if err := e.client.SendChannelMessage(channelID, text); err != nil {
		logging.Warn("log-channel notify failed: %v", err)
	}
}
