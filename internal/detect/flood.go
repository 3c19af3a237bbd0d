package detect

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/theo7791l/wolaro-guard/internal/guildconf"
	"github.com/theo7791l/wolaro-guard/internal/patterns"
	"github.com/theo7791l/wolaro-guard/internal/risk"
	"github.com/theo7791l/wolaro-guard/internal/window"
	"github.com/theo7791l/wolaro-guard/pkg/textutil"
)

const (
	floodMaxLength    = 2000
	floodMaxLines     = 20
	floodRepeatRun    = 30
	floodClassRun     = 50
	floodSymbolRun    = 20
	burstThreshold    = 10
	burstWindow       = 5 * time.Second
	burstCooldownFor  = 10 * time.Second
	escalationWindow  = time.Hour
	firstOffenseMute  = 5 * time.Minute
	secondOffenseMute = time.Hour
	spamTimeout       = 10 * time.Minute
	badWordTimeout    = 10 * time.Minute
	rescanWindow      = 30 * time.Second
)

// FloodDetector covers the message-volume family: profanity filtering,
// single-message floods, channel-wide bursts, and per-user spam ladders.
// All state lives in sliding windows; nothing here survives a restart.
type FloodDetector struct {
	windows *window.Store
	rules   *patterns.Store
}

func NewFloodDetector(windows *window.Store, rules *patterns.Store) *FloodDetector {
	return &FloodDetector{windows: windows, rules: rules}
}

func (d *FloodDetector) Name() string { return "flood" }

// AnalyzeMessage runs the checks in fixed order and stops at the first
// match: bad content, single-message flood, channel burst, regular spam.
func (d *FloodDetector) AnalyzeMessage(ctx context.Context, msg *Message, cfg *guildconf.Config) *Assessment {
	if !cfg.AntiSpamEnabled {
		return nil
	}

	if a := d.checkBadWords(msg); a != nil {
		return a
	}
	if a := d.checkSingleFlood(msg); a != nil {
		return a
	}
	if a := d.checkBurst(msg); a != nil {
		return a
	}
	return d.checkSpam(msg, cfg)
}

// checkBadWords matches normalized tokens against the blocklist. First
// offense inside an hour warns; a repeat mutes.
func (d *FloodDetector) checkBadWords(msg *Message) *Assessment {
	rules := d.rules.Rules()
	var hit string
	for _, tok := range textutil.Tokenize(msg.Content) {
		if rules.IsBadWord(textutil.NormalizeToken(tok)) {
			hit = tok
			break
		}
	}
	if hit == "" {
		return nil
	}

	key := "badword:" + msg.GuildID + ":" + msg.AuthorID
	prior := d.windows.CountWithin(key, escalationWindow, msg.Timestamp)
	d.windows.Record(key, msg.Timestamp, msg.MessageID)

	reason := "Prohibited language"
	sanction := risk.Warn(reason)
	if prior >= 1 {
		sanction = risk.Timeout(badWordTimeout, reason+" (repeat offense)")
	}
	return &Assessment{
		Detector:  d.Name(),
		GuildID:   msg.GuildID,
		SubjectID: msg.AuthorID,
		ChannelID: msg.ChannelID,
		Sanction:  sanction,
		Reason:    reason,
		Details:   fmt.Sprintf("matched token %q, offense %d in the last hour", hit, prior+1),
		Delete:    []MessageTarget{{ChannelID: msg.ChannelID, MessageID: msg.MessageID}},
	}
}

// isSingleFlood classifies one message body as a flood on shape alone.
func isSingleFlood(content string) (string, bool) {
	if len(content) > floodMaxLength {
		return "oversized message", true
	}
	if strings.Count(content, "\n") >= floodMaxLines {
		return "excessive line count", true
	}
	if textutil.LongestRun(content) >= floodRepeatRun {
		return "repeated character run", true
	}
	for _, class := range []func(rune) bool{unicode.IsUpper, unicode.IsLower, unicode.IsDigit} {
		if textutil.LongestClassRun(content, class) >= floodClassRun {
			return "uniform character-class run", true
		}
	}
	// Underscore is a word character, not a symbol.
	symbol := func(r rune) bool {
		return r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r)
	}
	if textutil.LongestClassRun(content, symbol) >= floodSymbolRun {
		return "symbol run", true
	}
	return "", false
}

func (d *FloodDetector) checkSingleFlood(msg *Message) *Assessment {
	shape, ok := isSingleFlood(msg.Content)
	if !ok {
		return nil
	}

	sanction, offense := d.escalate("floodesc:"+msg.GuildID+":"+msg.AuthorID, msg.Timestamp, "Message flooding")
	return &Assessment{
		Detector:      d.Name(),
		GuildID:       msg.GuildID,
		SubjectID:     msg.AuthorID,
		ChannelID:     msg.ChannelID,
		Sanction:      sanction,
		Reason:        "Message flooding: " + shape,
		Details:       fmt.Sprintf("%s, offense %d in the last hour", shape, offense),
		Delete:        []MessageTarget{{ChannelID: msg.ChannelID, MessageID: msg.MessageID}},
		RescanChannel: msg.ChannelID,
		RescanAuthor:  msg.AuthorID,
		RescanWindow:  rescanWindow,
	}
}

// escalate records one offense on the ladder key and returns the sanction
// for it: short mute, long mute, then removal. Each offense carries the
// running count forward, so the ladder keeps climbing as long as offenses
// land inside an hour of each other and resets only after a full quiet
// hour.
func (d *FloodDetector) escalate(key string, ts time.Time, reason string) (risk.Sanction, int) {
	prior := 0
	if entries := d.windows.RecentWithin(key, escalationWindow, ts); len(entries) > 0 {
		prior, _ = strconv.Atoi(entries[len(entries)-1].Payload)
	}
	d.windows.Record(key, ts, strconv.Itoa(prior+1))
	switch prior {
	case 0:
		return risk.Timeout(firstOffenseMute, reason), 1
	case 1:
		return risk.Timeout(secondOffenseMute, reason+" (second offense)"), 2
	default:
		return risk.Kick(reason + " (repeated offenses)"), prior + 1
	}
}

// burstEntry round-trips through the window payload.
func burstPayload(msg *Message) string {
	bot := "0"
	if msg.AuthorBot {
		bot = "1"
	}
	return msg.MessageID + "|" + msg.AuthorID + "|" + bot
}

func parseBurstPayload(p string) (messageID, authorID string, bot bool, ok bool) {
	parts := strings.SplitN(p, "|", 3)
	if len(parts) != 3 {
		return "", "", false, false
	}
	return parts[0], parts[1], parts[2] == "1", true
}

// checkBurst watches total channel throughput regardless of author. When a
// channel takes burstThreshold messages inside burstWindow the whole batch
// is bulk-deleted and every human participant climbs their own ladder.
func (d *FloodDetector) checkBurst(msg *Message) *Assessment {
	key := "burst:" + msg.GuildID + ":" + msg.ChannelID
	d.windows.Record(key, msg.Timestamp, burstPayload(msg))

	entries := d.windows.RecentWithin(key, burstWindow, msg.Timestamp)
	if len(entries) < burstThreshold {
		return nil
	}

	// One burst, one response; suppress retriggers while the same
	// burst drains.
	coolKey := "burstcool:" + msg.GuildID + ":" + msg.ChannelID
	if d.windows.CountWithin(coolKey, burstCooldownFor, msg.Timestamp) > 0 {
		return nil
	}
	d.windows.Record(coolKey, msg.Timestamp, "")

	var ids []string
	humans := make(map[string]bool)
	for _, e := range entries {
		mid, aid, bot, ok := parseBurstPayload(e.Payload)
		if !ok {
			continue
		}
		ids = append(ids, mid)
		if !bot {
			humans[aid] = true
		}
	}
	d.windows.Prune(key)

	primary := &Assessment{
		Detector:   d.Name(),
		GuildID:    msg.GuildID,
		SubjectID:  msg.AuthorID,
		ChannelID:  msg.ChannelID,
		Sanction:   risk.None(),
		Reason:     "Channel flood burst",
		Details:    fmt.Sprintf("%d messages in %s", len(entries), burstWindow),
		BulkDelete: map[string][]string{msg.ChannelID: ids},
		// Author-agnostic sweep: burst stragglers land under any name.
		RescanChannel: msg.ChannelID,
		RescanWindow:  rescanWindow,
	}
	if len(humans) > 0 {
		primary.WarnChannel = msg.ChannelID
		primary.WarnText = "Slow down. Flooding this channel leads to timeouts."
	}

	first := true
	for aid := range humans {
		sanction, offense := d.escalate("burstesc:"+msg.GuildID+":"+aid, msg.Timestamp, "Participating in channel flood")
		if first && aid == msg.AuthorID {
			primary.Sanction = sanction
			primary.Details += fmt.Sprintf(", offense %d", offense)
			first = false
			continue
		}
		primary.Extra = append(primary.Extra, &Assessment{
			Detector:  d.Name(),
			GuildID:   msg.GuildID,
			SubjectID: aid,
			ChannelID: msg.ChannelID,
			Sanction:  sanction,
			Reason:    "Participating in channel flood",
			Details:   fmt.Sprintf("offense %d in the last hour", offense),
		})
	}
	return primary
}

// checkSpam applies the per-guild message-count ladder. Crossing it wipes
// the user's recent messages and mutes them for a fixed period.
func (d *FloodDetector) checkSpam(msg *Message, cfg *guildconf.Config) *Assessment {
	key := "spam:" + msg.GuildID + ":" + msg.AuthorID
	d.windows.Record(key, msg.Timestamp, msg.ChannelID+"|"+msg.MessageID)

	entries := d.windows.RecentWithin(key, cfg.SpamWindow, msg.Timestamp)
	if len(entries) < cfg.SpamMessageCount {
		return nil
	}

	var targets []MessageTarget
	for _, e := range entries {
		parts := strings.SplitN(e.Payload, "|", 2)
		if len(parts) != 2 {
			continue
		}
		targets = append(targets, MessageTarget{ChannelID: parts[0], MessageID: parts[1]})
	}
	d.windows.Prune(key)

	return &Assessment{
		Detector:  d.Name(),
		GuildID:   msg.GuildID,
		SubjectID: msg.AuthorID,
		ChannelID: msg.ChannelID,
		Sanction:  risk.Timeout(spamTimeout, "Spamming"),
		Reason:    "Spamming",
		Details: fmt.Sprintf("%d messages in %s (limit %d, level %s)",
			len(entries), cfg.SpamWindow, cfg.SpamMessageCount, cfg.SpamLevel),
		Delete:        targets,
		RescanChannel: msg.ChannelID,
		RescanAuthor:  msg.AuthorID,
		RescanWindow:  rescanWindow,
	}
}
