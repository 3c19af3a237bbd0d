package detect

import (
	"context"
	"fmt"

	"github.com/theo7791l/wolaro-guard/internal/guildconf"
	"github.com/theo7791l/wolaro-guard/internal/risk"
)

// ImageScorer is the classifier surface the NSFW detector consumes,
// satisfied by repute.NSFWClassifier. The boolean reports whether a score
// was obtained at all; unscored images are left alone.
type ImageScorer interface {
	Enabled() bool
	Score(ctx context.Context, target string) (float64, bool)
}

// NSFWDetector sends message attachments to the image classifier and
// sanctions by score band. The offending message is deleted before any
// sanction lands.
type NSFWDetector struct {
	scorer ImageScorer
}

func NewNSFWDetector(scorer ImageScorer) *NSFWDetector {
	return &NSFWDetector{scorer: scorer}
}

func (d *NSFWDetector) Name() string { return "nsfw" }

func (d *NSFWDetector) AnalyzeMessage(ctx context.Context, msg *Message, cfg *guildconf.Config) *Assessment {
	if !cfg.NSFWEnabled || len(msg.ImageURLs) == 0 {
		return nil
	}
	if d.scorer == nil || !d.scorer.Enabled() {
		return nil
	}

	var (
		worstScore float64
		worstURL   string
	)
	for _, u := range msg.ImageURLs {
		score, ok := d.scorer.Score(ctx, u)
		if !ok {
			continue
		}
		if score > worstScore {
			worstScore = score
			worstURL = u
		}
	}

	sanction := risk.NSFWSanction(worstScore, cfg.NSFWThreshold)
	if sanction.Kind == risk.ActionNone {
		return nil
	}
	return &Assessment{
		Detector:  d.Name(),
		GuildID:   msg.GuildID,
		SubjectID: msg.AuthorID,
		ChannelID: msg.ChannelID,
		Sanction:  sanction,
		Reason:    sanction.Reason,
		Details:   fmt.Sprintf("image %s scored %.2f (threshold %.2f)", worstURL, worstScore, cfg.NSFWThreshold),
		Delete:    []MessageTarget{{ChannelID: msg.ChannelID, MessageID: msg.MessageID}},
	}
}
