package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/theo7791l/wolaro-guard/internal/challenge"
	"github.com/theo7791l/wolaro-guard/internal/detect"
	"github.com/theo7791l/wolaro-guard/internal/guildconf"
	"github.com/theo7791l/wolaro-guard/internal/lockdown"
	"github.com/theo7791l/wolaro-guard/internal/logging"
	"github.com/theo7791l/wolaro-guard/internal/metrics"
	"github.com/theo7791l/wolaro-guard/internal/platform"
	"github.com/theo7791l/wolaro-guard/internal/risk"
	"github.com/theo7791l/wolaro-guard/internal/window"
)

const (
	threatWindow      = 5 * time.Minute
	escalateThreshold = 5
)

// Engine routes inbound events to the detectors and carries their
// assessments out. It is the only component allowed to call the executor,
// so sequencing and aggregation live in one place.
type Engine struct {
	client   platform.Client
	cache    *guildconf.Cache
	exec     *detect.Executor
	windows  *window.Store
	registry *metrics.Registry

	// Message detectors run in slice order; the first one producing work
	// wins.
	msgDetectors []detect.MessageDetector
	joins        detect.JoinDetector
	actions      detect.ActionDetector
	raid         *detect.RaidDetector

	lockdowns  *lockdown.Manager
	challenges *challenge.Manager
	sink       detect.Sink
}

// Deps bundles the engine's collaborators; every field is required except
// Registry, which defaults to the process-wide one.
type Deps struct {
	Client     platform.Client
	Cache      *guildconf.Cache
	Windows    *window.Store
	Registry   *metrics.Registry
	Flood      *detect.FloodDetector
	Raid       *detect.RaidDetector
	Nuke       *detect.NukeDetector
	Phishing   *detect.PhishingDetector
	NSFW       *detect.NSFWDetector
	Lockdowns  *lockdown.Manager
	Challenges *challenge.Manager
	Sink       detect.Sink
}

func New(d Deps) *Engine {
	if d.Registry == nil {
		d.Registry = metrics.Global()
	}
	e := &Engine{
		client:       d.Client,
		cache:        d.Cache,
		exec:         detect.NewExecutor(d.Client, d.Sink),
		windows:      d.Windows,
		registry:     d.Registry,
		msgDetectors: []detect.MessageDetector{d.Flood, d.Phishing, d.NSFW},
		joins:        d.Raid,
		actions:      d.Nuke,
		raid:         d.Raid,
		lockdowns:    d.Lockdowns,
		challenges:   d.Challenges,
		sink:         d.Sink,
	}
	if e.raid != nil {
		e.raid.OnRaid = e.onRaidTransition
	}
	return e
}

// recoverBoundary keeps a panicking detector from taking the gateway
// handler down with it.
func (e *Engine) recoverBoundary(event string) {
	if r := recover(); r != nil {
		logging.Critical("panic handling %s event: %v\n%s", event, r, debug.Stack())
		e.registry.Inc("handler_panics")
	}
}

// OnMessage runs the message detectors in order: content checks first,
// then links, then attachments. The first detector that produces work
// wins; its assessment is executed and the rest are skipped.
func (e *Engine) OnMessage(ctx context.Context, msg *detect.Message) {
	defer e.recoverBoundary("message")
	e.registry.Inc("messages_seen")

	cfg := e.cache.Get(msg.GuildID)
	if cfg.IsWhitelisted(msg.AuthorID, msg.AuthorRoles) {
		return
	}

	for _, det := range e.msgDetectors {
		if a := det.AnalyzeMessage(ctx, msg, cfg); a.Triggered() {
			e.carryOut(a, cfg)
			return
		}
	}
}

// OnMemberJoin scores the join. Under a raid-level lockdown every join is
// turned away before scoring; quarantined joiners get a verification
// challenge when the guild has them enabled.
func (e *Engine) OnMemberJoin(ctx context.Context, join *detect.Join) {
	defer e.recoverBoundary("join")
	e.registry.Inc("joins_seen")

	cfg := e.cache.Get(join.GuildID)
	if cfg.IsWhitelisted(join.UserID, nil) {
		return
	}

	if e.lockdowns.Level(join.GuildID) >= lockdown.Raid {
		e.carryOut(&detect.Assessment{
			Detector:  "raid",
			GuildID:   join.GuildID,
			SubjectID: join.UserID,
			Sanction:  risk.Kick("Guild is under raid lockdown"),
			Reason:    "Guild is under raid lockdown",
		}, cfg)
		return
	}

	a := e.joins.AnalyzeJoin(ctx, join, cfg)
	if !a.Triggered() {
		return
	}
	e.carryOut(a, cfg)

	if a.Sanction.Kind == risk.ActionQuarantine && cfg.ChallengeEnabled {
		e.issueChallenge(join.GuildID, join.UserID)
	}
}

// OnPrivilegedAction feeds audit-log style events to the nuke detector.
func (e *Engine) OnPrivilegedAction(ctx context.Context, act *detect.AdminAction) {
	defer e.recoverBoundary("admin_action")

	cfg := e.cache.Get(act.GuildID)
	if a := e.actions.AnalyzeAction(ctx, act, cfg); a.Triggered() {
		e.carryOut(a, cfg)
	}
}

// OnChallengeResponse resolves a pending verification attempt, usually a
// direct message from a quarantined member.
func (e *Engine) OnChallengeResponse(ctx context.Context, guildID, userID, response string) {
	defer e.recoverBoundary("challenge_response")

	cfg := e.cache.Get(guildID)
	switch e.challenges.Verify(guildID, userID, response) {
	case challenge.ResultSuccess:
		e.registry.Inc("challenges_passed")
		if cfg.QuarantineRoleID != "" {
			if err := e.client.RemoveRole(guildID, userID, cfg.QuarantineRoleID, "Verification passed"); err != nil {
				logging.Warn("quarantine release for %s in %s failed: %v", userID, guildID, err)
			}
		}
		if err := e.client.SendDirectMessage(userID, "Verification passed, welcome."); err != nil {
			logging.Debug("verification DM failed: %v", err)
		}
	case challenge.ResultRetry:
		if err := e.client.SendDirectMessage(userID, "Wrong code, try again."); err != nil {
			logging.Debug("retry DM failed: %v", err)
		}
	case challenge.ResultFailed:
		e.registry.Inc("challenges_failed")
		e.carryOut(&detect.Assessment{
			Detector:  "challenge",
			GuildID:   guildID,
			SubjectID: userID,
			Sanction:  risk.Kick("Verification failed"),
			Reason:    "Verification failed after too many attempts",
		}, cfg)
	case challenge.ResultNoChallenge:
		// Nothing pending; stay silent.
	}
}

func (e *Engine) issueChallenge(guildID, userID string) {
	code, err := e.challenges.Issue(guildID, userID)
	if err != nil {
		logging.Error("challenge issue for %s in %s failed: %v", userID, guildID, err)
		return
	}
	text := fmt.Sprintf("This server requires verification. Reply with the code %s within 5 minutes.", code)
	if err := e.client.SendDirectMessage(userID, text); err != nil {
		logging.Warn("challenge DM to %s failed: %v", userID, err)
	}
}

// carryOut executes one assessment and folds its severity into the guild
// threat level, escalating the lockdown when the recent total crosses the
// threshold.
func (e *Engine) carryOut(a *detect.Assessment, cfg *guildconf.Config) {
	e.exec.Execute(a, cfg)
	e.registry.IncGuild(a.GuildID, a.Detector+"_detections")

	sev := threatSeverity(a.Sanction.Kind)
	if sev == 0 {
		return
	}
	key := "threat:" + a.GuildID
	now := time.Now()
	for i := 0; i < sev; i++ {
		e.windows.Record(key, now, a.Detector)
	}
	total := e.windows.CountWithin(key, threatWindow, now)
	if total < escalateThreshold {
		return
	}
	report, err := e.lockdowns.AutoEscalate(a.GuildID, total, fmt.Sprintf("Threat level %d in %s", total, threatWindow))
	if err != nil {
		logging.Error("auto-escalation for %s failed: %v", a.GuildID, err)
		return
	}
	if report != nil && report.Partial() {
		logging.Warn("auto-escalation for %s partially applied: %d/%d channels", a.GuildID, report.Succeeded, report.Attempted)
	}
}

// threatSeverity weights one sanction for the guild-wide aggregate.
func threatSeverity(kind risk.ActionKind) int {
	switch kind {
	case risk.ActionBan:
		return 5
	case risk.ActionKick:
		return 4
	case risk.ActionTimeout, risk.ActionQuarantine:
		return 3
	case risk.ActionWarn, risk.ActionDelete:
		return 1
	default:
		return 0
	}
}

// onRaidTransition couples raid mode to the lockdown machine: activation
// slams the guild to the raid level, stand-down releases it.
func (e *Engine) onRaidTransition(guildID string, active bool) {
	if active {
		e.registry.Inc("raids_detected")
		if _, err := e.lockdowns.Activate(guildID, lockdown.Raid, "Raid detected"); err != nil {
			logging.Error("raid lockdown for %s failed: %v", guildID, err)
		}
		entry := risk.NewLogEntry(guildID, "", "raid", risk.ActionMonitor, "Raid mode activated", "join velocity threshold crossed")
		if err := e.sink.LogProtectionAction(entry); err != nil {
			logging.Error("raid audit write failed: %v", err)
		}
		return
	}
	if _, err := e.lockdowns.Deactivate(guildID); err != nil {
		logging.Error("raid lockdown release for %s failed: %v", guildID, err)
	}
	entry := risk.NewLogEntry(guildID, "", "raid", risk.ActionMonitor, "Raid mode cleared", "guild went quiet")
	if err := e.sink.LogProtectionAction(entry); err != nil {
		logging.Error("raid audit write failed: %v", err)
	}
}

// ChallengeExpiry is installed as the challenge manager's expiry callback:
// a member who never answered is removed.
func (e *Engine) ChallengeExpiry(guildID, userID string) {
	defer e.recoverBoundary("challenge_expiry")
	cfg := e.cache.Get(guildID)
	e.carryOut(&detect.Assessment{
		Detector:  "challenge",
		GuildID:   guildID,
		SubjectID: userID,
		Sanction:  risk.Kick("Verification expired"),
		Reason:    "Verification challenge expired unanswered",
	}, cfg)
}
