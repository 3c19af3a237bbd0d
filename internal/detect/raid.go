package detect

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/theo7791l/wolaro-guard/internal/guildconf"
	"github.com/theo7791l/wolaro-guard/internal/logging"
	"github.com/theo7791l/wolaro-guard/internal/patterns"
	"github.com/theo7791l/wolaro-guard/internal/risk"
	"github.com/theo7791l/wolaro-guard/internal/sched"
	"github.com/theo7791l/wolaro-guard/internal/window"
	"github.com/theo7791l/wolaro-guard/pkg/textutil"
)

const (
	youngAccountAge    = 7 * 24 * time.Hour
	similarJoinWindow  = 60 * time.Second
	similarJoinMinimum = 3 // prior similar joins needed before the factor fires
	usernameSimilarity = 0.7
	raidQuietPeriod    = 10 * time.Minute
	raidResidualJoins  = 3 // window must be below this to stand down
)

// RaidDetector scores individual joins and tracks guild-wide join velocity.
// Crossing the velocity threshold flips the guild into raid mode, which
// hardens every subsequent join decision until the guild goes quiet.
type RaidDetector struct {
	windows   *window.Store
	rules     *patterns.Store
	scheduler *sched.Scheduler

	mu     sync.Mutex
	raids  map[string]time.Time // guildID -> raid start
	OnRaid func(guildID string, active bool)
}

func NewRaidDetector(windows *window.Store, rules *patterns.Store, scheduler *sched.Scheduler) *RaidDetector {
	return &RaidDetector{
		windows:   windows,
		rules:     rules,
		scheduler: scheduler,
		raids:     make(map[string]time.Time),
	}
}

func (d *RaidDetector) Name() string { return "raid" }

// RaidActive reports whether the guild is currently in raid mode.
func (d *RaidDetector) RaidActive(guildID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.raids[guildID]
	return ok
}

func (d *RaidDetector) AnalyzeJoin(ctx context.Context, join *Join, cfg *guildconf.Config) *Assessment {
	if !cfg.AntiRaidEnabled {
		return nil
	}

	key := "joins:" + join.GuildID
	d.windows.Record(key, join.Timestamp, join.UserID+"|"+join.Username)

	factors := d.joinFactors(join, key)
	raidStarted := d.checkVelocity(join, cfg, key)
	raidActive := d.RaidActive(join.GuildID)

	score := risk.Score(factors)
	sanction := risk.JoinSanction(score, raidActive, cfg.QuarantineRoleID, factors)
	if sanction.Kind == risk.ActionNone && !raidStarted {
		return nil
	}

	details := fmt.Sprintf("score %d", score)
	if raidActive {
		details += ", raid mode active"
	}
	return &Assessment{
		Detector:  d.Name(),
		GuildID:   join.GuildID,
		SubjectID: join.UserID,
		Sanction:  sanction,
		Factors:   factors,
		Reason:    sanction.Reason,
		Details:   details,
	}
}

func (d *RaidDetector) joinFactors(join *Join, key string) []risk.Factor {
	var factors []risk.Factor

	if age := join.Timestamp.Sub(join.AccountCreated); age < youngAccountAge {
		factors = append(factors, risk.Factor{
			Kind:     risk.FactorYoungAccount,
			Severity: 3,
			Detail:   fmt.Sprintf("account age %s", age.Truncate(time.Minute)),
		})
	}
	if !join.HasAvatar {
		factors = append(factors, risk.Factor{Kind: risk.FactorDefaultAvatar, Severity: 2})
	}
	if pat, ok := d.rules.Rules().MatchUsername(join.Username); ok {
		factors = append(factors, risk.Factor{
			Kind:     risk.FactorSuspiciousUsername,
			Severity: 3,
			Detail:   "matches " + pat,
		})
	}

	// Cluster of near-identical usernames arriving together. Only prior
	// joins count toward the threshold, so the factor first fires on the
	// fourth member of a cluster.
	norm := textutil.NormalizeToken(join.Username)
	prior := 0
	for _, e := range d.windows.RecentWithin(key, similarJoinWindow, join.Timestamp) {
		parts := strings.SplitN(e.Payload, "|", 2)
		if len(parts) != 2 || parts[0] == join.UserID {
			continue
		}
		if textutil.Similarity(norm, textutil.NormalizeToken(parts[1])) >= usernameSimilarity {
			prior++
		}
	}
	if prior >= similarJoinMinimum {
		factors = append(factors, risk.Factor{
			Kind:     risk.FactorSimilarUsernames,
			Severity: 4,
			Detail:   fmt.Sprintf("%d similar usernames in %s", prior+1, similarJoinWindow),
		})
	}
	return factors
}

// checkVelocity flips raid mode on when the join window crosses the guild's
// threshold. Returns true only on the transition.
func (d *RaidDetector) checkVelocity(join *Join, cfg *guildconf.Config, key string) bool {
	count := d.windows.CountWithin(key, cfg.JoinRateWindow, join.Timestamp)
	if count < cfg.JoinRateThreshold {
		return false
	}

	d.mu.Lock()
	if _, already := d.raids[join.GuildID]; already {
		d.mu.Unlock()
		return false
	}
	d.raids[join.GuildID] = join.Timestamp
	cb := d.OnRaid
	d.mu.Unlock()

	logging.Warn("raid mode on for guild %s: %d joins in %s", join.GuildID, count, cfg.JoinRateWindow)
	if cb != nil {
		cb(join.GuildID, true)
	}
	d.scheduleStandDown(join.GuildID)
	return true
}

// scheduleStandDown arms the quiet-period check. Raid mode only clears when
// the join window has drained below the residual threshold; an active raid
// re-arms the timer instead.
func (d *RaidDetector) scheduleStandDown(guildID string) {
	d.scheduler.After(raidQuietPeriod,
		func() bool { return d.RaidActive(guildID) },
		func() {
			residual := d.windows.CountWithin("joins:"+guildID, similarJoinWindow, time.Now())
			if residual >= raidResidualJoins {
				logging.Info("guild %s still busy (%d recent joins), raid mode stays on", guildID, residual)
				d.scheduleStandDown(guildID)
				return
			}
			d.mu.Lock()
			delete(d.raids, guildID)
			cb := d.OnRaid
			d.mu.Unlock()
			logging.Info("raid mode off for guild %s", guildID)
			if cb != nil {
				cb(guildID, false)
			}
		})
}

// EndRaid clears raid mode manually, for operator override.
func (d *RaidDetector) EndRaid(guildID string) {
	d.mu.Lock()
	_, was := d.raids[guildID]
	delete(d.raids, guildID)
	cb := d.OnRaid
	d.mu.Unlock()
	if was && cb != nil {
		cb(guildID, false)
	}
}
