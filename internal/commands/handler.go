package commands

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/theo7791l/wolaro-guard/internal/detect"
	"github.com/theo7791l/wolaro-guard/internal/guildconf"
	"github.com/theo7791l/wolaro-guard/internal/lockdown"
	"github.com/theo7791l/wolaro-guard/internal/logging"
	"github.com/theo7791l/wolaro-guard/internal/metrics"
	"github.com/theo7791l/wolaro-guard/internal/store"
)

// Handler routes /guard interactions to their subcommand handlers.
type Handler struct {
	cache     *guildconf.Cache
	db        *store.DB
	lockdowns *lockdown.Manager
	raid      *detect.RaidDetector
	registry  *metrics.Registry
}

func NewHandler(cache *guildconf.Cache, db *store.DB, lockdowns *lockdown.Manager, raid *detect.RaidDetector, registry *metrics.Registry) *Handler {
	return &Handler{cache: cache, db: db, lockdowns: lockdowns, raid: raid, registry: registry}
}

// HandleInteraction is registered on the gateway session.
func (h *Handler) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	if data.Name != "guard" || len(data.Options) == 0 {
		return
	}

	if !isAdministrator(i) {
		respondEphemeral(s, i, "You need Administrator permission to manage protection.")
		return
	}

	sub := data.Options[0]
	var err error
	switch sub.Name {
	case "status":
		err = h.handleStatus(s, i)
	case "lockdown":
		err = h.handleLockdown(s, i, optionString(sub.Options, "level"))
	case "unlock":
		err = h.handleUnlock(s, i)
	case "spamlevel":
		err = h.handleSpamLevel(s, i, optionString(sub.Options, "level"))
	case "whitelist":
		if len(sub.Options) > 0 {
			err = h.handleWhitelist(s, i, sub.Options[0])
		}
	case "trust":
		err = h.handleTrust(s, i, optionString(sub.Options, "domain"))
	case "logchannel":
		err = h.handleLogChannel(s, i, sub.Options)
	case "endraid":
		err = h.handleEndRaid(s, i)
	default:
		err = fmt.Errorf("unknown subcommand %s", sub.Name)
	}
	if err != nil {
		logging.Error("command /guard %s failed: %v", sub.Name, err)
		respondEphemeral(s, i, "Command failed: "+err.Error())
	}
}

func (h *Handler) handleLockdown(s *discordgo.Session, i *discordgo.InteractionCreate, levelName string) error {
	level, ok := parseLevel(levelName)
	if !ok {
		return fmt.Errorf("unknown lockdown level %q", levelName)
	}
	report, err := h.lockdowns.Activate(i.GuildID, level, fmt.Sprintf("Manual lockdown by <@%s>", interactionUserID(i)))
	if err != nil {
		return err
	}
	text := fmt.Sprintf("Lockdown **%s** applied to %d channels.", level, report.Succeeded)
	if report.Partial() {
		text += fmt.Sprintf(" %d channels could not be updated.", report.Attempted-report.Succeeded)
	}
	respondEphemeral(s, i, text)
	return nil
}

func (h *Handler) handleUnlock(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	report, err := h.lockdowns.Deactivate(i.GuildID)
	if err != nil {
		return err
	}
	respondEphemeral(s, i, fmt.Sprintf("Lockdown lifted, %d channels restored.", report.Succeeded))
	return nil
}

func (h *Handler) handleSpamLevel(s *discordgo.Session, i *discordgo.InteractionCreate, level string) error {
	err := h.cache.Update(i.GuildID, func(cfg *guildconf.Config) {
		cfg.SetSpamLevel(level)
	})
	if err != nil {
		return err
	}
	respondEphemeral(s, i, fmt.Sprintf("Spam sensitivity set to **%s**.", level))
	return nil
}

func (h *Handler) handleWhitelist(s *discordgo.Session, i *discordgo.InteractionCreate, op *discordgo.ApplicationCommandInteractionDataOption) error {
	switch op.Name {
	case "view":
		cfg := h.cache.Get(i.GuildID)
		var b strings.Builder
		b.WriteString("**Whitelisted users:** ")
		b.WriteString(mentionList(cfg.WhitelistUsers, "@"))
		b.WriteString("\n**Whitelisted roles:** ")
		b.WriteString(mentionList(cfg.WhitelistRoles, "@&"))
		respondEphemeral(s, i, b.String())
		return nil
	case "add", "remove":
		userID, roleID := optionUserRole(i, op.Options)
		if userID == "" && roleID == "" {
			return fmt.Errorf("pick a user or a role")
		}
		err := h.cache.Update(i.GuildID, func(cfg *guildconf.Config) {
			if op.Name == "add" {
				if userID != "" {
					cfg.WhitelistUsers = appendUnique(cfg.WhitelistUsers, userID)
				}
				if roleID != "" {
					cfg.WhitelistRoles = appendUnique(cfg.WhitelistRoles, roleID)
				}
				return
			}
			if userID != "" {
				cfg.WhitelistUsers = remove(cfg.WhitelistUsers, userID)
			}
			if roleID != "" {
				cfg.WhitelistRoles = remove(cfg.WhitelistRoles, roleID)
			}
		})
		if err != nil {
			return err
		}
		respondEphemeral(s, i, "Whitelist updated.")
		return nil
	default:
		return fmt.Errorf("unknown whitelist operation %s", op.Name)
	}
}

func (h *Handler) handleTrust(s *discordgo.Session, i *discordgo.InteractionCreate, domain string) error {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" || strings.ContainsAny(domain, " /") {
		return fmt.Errorf("%q is not a domain", domain)
	}
	err := h.cache.Update(i.GuildID, func(cfg *guildconf.Config) {
		cfg.TrustedDomains = appendUnique(cfg.TrustedDomains, domain)
	})
	if err != nil {
		return err
	}
	respondEphemeral(s, i, fmt.Sprintf("Links on **%s** and its subdomains will no longer be flagged.", domain))
	return nil
}

func (h *Handler) handleLogChannel(s *discordgo.Session, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption) error {
	var channelID string
	for _, o := range opts {
		if o.Name == "channel" {
			channelID = o.ChannelValue(nil).ID
		}
	}
	if channelID == "" {
		return fmt.Errorf("no channel given")
	}
	err := h.cache.Update(i.GuildID, func(cfg *guildconf.Config) {
		cfg.LogChannelID = channelID
	})
	if err != nil {
		return err
	}
	respondEphemeral(s, i, fmt.Sprintf("Protection notices will go to <#%s>.", channelID))
	return nil
}

func (h *Handler) handleEndRaid(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	if !h.raid.RaidActive(i.GuildID) {
		respondEphemeral(s, i, "No raid mode active.")
		return nil
	}
	h.raid.EndRaid(i.GuildID)
	respondEphemeral(s, i, "Raid mode cleared.")
	return nil
}

func parseLevel(name string) (lockdown.Level, bool) {
	switch name {
	case "soft":
		return lockdown.Soft, true
	case "medium":
		return lockdown.Medium, true
	case "hard":
		return lockdown.Hard, true
	case "raid":
		return lockdown.Raid, true
	default:
		return lockdown.Unlocked, false
	}
}

func isAdministrator(i *discordgo.InteractionCreate) bool {
	return i.Member != nil && i.Member.Permissions&discordgo.PermissionAdministrator != 0
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	return ""
}

func optionString(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, o := range opts {
		if o.Name == name {
			return o.StringValue()
		}
	}
	return ""
}

func optionUserRole(i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption) (userID, roleID string) {
	for _, o := range opts {
		switch o.Name {
		case "user":
			userID = o.Value.(string)
		case "role":
			roleID = o.Value.(string)
		}
	}
	return userID, roleID
}

func mentionList(ids []string, prefix string) string {
	if len(ids) == 0 {
		return "none"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("<%s%s>", prefix, id)
	}
	return strings.Join(parts, ", ")
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// respondEphemeral answers an interaction with a message only the invoker
// sees.
func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		logging.Warn("interaction response failed: %v", err)
	}
}
