package detect

import (
	"context"
	"fmt"

	"github.com/theo7791l/wolaro-guard/internal/guildconf"
	"github.com/theo7791l/wolaro-guard/internal/risk"
	"github.com/theo7791l/wolaro-guard/internal/window"
)

// NukeDetector watches the rate of privileged actions per actor. An actor
// exceeding the configured limit for an action type is treated as hostile
// regardless of their standing: dangerous roles are stripped and the actor
// is banned. Whitelisted actors are exempt.
type NukeDetector struct {
	windows *window.Store
}

func NewNukeDetector(windows *window.Store) *NukeDetector {
	return &NukeDetector{windows: windows}
}

func (d *NukeDetector) Name() string { return "nuke" }

func (d *NukeDetector) AnalyzeAction(ctx context.Context, act *AdminAction, cfg *guildconf.Config) *Assessment {
	if !cfg.AntiNukeEnabled {
		return nil
	}
	if cfg.IsWhitelisted(act.ActorID, nil) {
		return nil
	}

	limit := cfg.NukeLimit(act.Action)
	key := "nuke:" + act.GuildID + ":" + act.ActorID + ":" + act.Action
	d.windows.Record(key, act.Timestamp, act.TargetID)

	count := d.windows.CountWithin(key, limit.Window, act.Timestamp)
	if count < limit.Max {
		return nil
	}
	// One response per wave; the window resets with the ban.
	d.windows.Prune(key)

	reason := fmt.Sprintf("Mass %s: %d in %s (limit %d)", act.Action, count, limit.Window, limit.Max)
	return &Assessment{
		Detector:   d.Name(),
		GuildID:    act.GuildID,
		SubjectID:  act.ActorID,
		Sanction:   risk.Ban(reason),
		Reason:     reason,
		Details:    fmt.Sprintf("last target %s", act.TargetID),
		StripRoles: true,
	}
}
