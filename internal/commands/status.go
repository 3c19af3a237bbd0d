package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/theo7791l/wolaro-guard/internal/logging"
	"github.com/theo7791l/wolaro-guard/internal/metrics"
)

const embedColor = 0x5865F2

func (h *Handler) handleStatus(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	guildID := i.GuildID
	cfg := h.cache.Get(guildID)

	var toggles []string
	for _, t := range []struct {
		name string
		on   bool
	}{
		{"Anti-spam", cfg.AntiSpamEnabled},
		{"Anti-raid", cfg.AntiRaidEnabled},
		{"Anti-nuke", cfg.AntiNukeEnabled},
		{"Phishing", cfg.PhishingEnabled},
		{"NSFW", cfg.NSFWEnabled},
		{"Join challenge", cfg.ChallengeEnabled},
	} {
		mark := "off"
		if t.on {
			mark = "on"
		}
		toggles = append(toggles, fmt.Sprintf("%s: %s", t.name, mark))
	}

	mode := "normal"
	if h.raid.RaidActive(guildID) {
		mode = "**RAID**"
	}

	statsText := "none yet"
	if stats, err := h.db.GetStats(guildID); err != nil {
		logging.Warn("stats read for %s failed: %v", guildID, err)
	} else if len(stats) > 0 {
		keys := make([]string, 0, len(stats))
		for k := range stats {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%s: %d", k, stats[k]))
		}
		statsText = strings.Join(lines, "\n")
	}

	recentText := "none"
	if logs, err := h.db.RecentLogs(guildID, 5); err != nil {
		logging.Warn("log read for %s failed: %v", guildID, err)
	} else if len(logs) > 0 {
		lines := make([]string, 0, len(logs))
		for _, l := range logs {
			lines = append(lines, fmt.Sprintf("%s %s <@%s>: %s",
				l.Timestamp.Format("01-02 15:04"), l.Detector, l.SubjectID, l.Action))
		}
		recentText = strings.Join(lines, "\n")
	}

	health := metrics.CollectHealth(h.registry)
	healthText := fmt.Sprintf("cpu %.1f%%, rss %.0f MB, %d goroutines, up %ds",
		health.ProcCPUPercent, health.ProcRSSMB, health.Goroutines, health.UptimeSeconds)

	embed := &discordgo.MessageEmbed{
		Title: "Protection Status",
		Color: embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Detectors", Value: strings.Join(toggles, "\n"), Inline: true},
			{Name: "Mode", Value: fmt.Sprintf("%s\nLockdown: %s\nSpam level: %s", mode, h.lockdowns.Level(guildID), cfg.SpamLevel), Inline: true},
			{Name: "Counters", Value: statsText, Inline: false},
			{Name: "Recent actions", Value: recentText, Inline: false},
			{Name: "Engine", Value: healthText, Inline: false},
		},
	}

	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	})
}
