package main

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/theo7791l/wolaro-guard/internal/challenge"
	"github.com/theo7791l/wolaro-guard/internal/detect"
	"github.com/theo7791l/wolaro-guard/internal/engine"
	"github.com/theo7791l/wolaro-guard/internal/logging"
)

// gateway translates discordgo events into engine events. It owns no
// decision logic; everything it does is renaming and field extraction.
type gateway struct {
	engine     *engine.Engine
	challenges *challenge.Manager
	selfID     string
}

func (g *gateway) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == g.selfID {
		return
	}

	// Guildless messages are DMs; the only DMs we act on are challenge
	// responses.
	if m.GuildID == "" {
		g.onDirectMessage(m)
		return
	}

	msg := &detect.Message{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		AuthorID:  m.Author.ID,
		AuthorBot: m.Author.Bot,
		Content:   m.Content,
		ImageURLs: imageURLs(m.Message),
		Timestamp: m.Timestamp,
	}
	if m.Member != nil {
		msg.AuthorRoles = m.Member.Roles
	}
	g.engine.OnMessage(context.Background(), msg)
}

func (g *gateway) onDirectMessage(m *discordgo.MessageCreate) {
	for _, guildID := range g.challenges.GuildsFor(m.Author.ID) {
		g.engine.OnChallengeResponse(context.Background(), guildID, m.Author.ID, m.Content)
	}
}

func (g *gateway) onMemberAdd(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.User == nil || m.User.Bot {
		return
	}
	created, err := discordgo.SnowflakeTimestamp(m.User.ID)
	if err != nil {
		logging.Warn("bad snowflake %s: %v", m.User.ID, err)
		created = time.Now().Add(-365 * 24 * time.Hour)
	}
	g.engine.OnMemberJoin(context.Background(), &detect.Join{
		GuildID:        m.GuildID,
		UserID:         m.User.ID,
		Username:       m.User.Username,
		AccountCreated: created,
		HasAvatar:      m.User.Avatar != "",
		Timestamp:      time.Now(),
	})
}

// auditActions maps the audit-log action types the nuke detector rates.
var auditActions = map[discordgo.AuditLogAction]string{
	discordgo.AuditLogActionChannelCreate:    "channel_create",
	discordgo.AuditLogActionChannelDelete:    "channel_delete",
	discordgo.AuditLogActionRoleCreate:       "role_create",
	discordgo.AuditLogActionRoleDelete:       "role_delete",
	discordgo.AuditLogActionMemberBanAdd:     "ban",
	discordgo.AuditLogActionMemberKick:       "kick",
	discordgo.AuditLogActionMemberRoleUpdate: "bulk_role_grant",
}

func (g *gateway) onAuditLogEntry(s *discordgo.Session, e *discordgo.GuildAuditLogEntryCreate) {
	if e.ActionType == nil || e.UserID == g.selfID {
		return
	}
	action, tracked := auditActions[*e.ActionType]
	if !tracked {
		return
	}
	g.engine.OnPrivilegedAction(context.Background(), &detect.AdminAction{
		GuildID:   e.GuildID,
		ActorID:   e.UserID,
		TargetID:  e.TargetID,
		Action:    action,
		Timestamp: time.Now(),
	})
}

// imageURLs collects every image a message carries: uploaded attachments
// plus embed images and thumbnails, which is where linked pictures land.
func imageURLs(m *discordgo.Message) []string {
	var urls []string
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		if strings.HasPrefix(a.ContentType, "image/") || hasImageExt(a.Filename) {
			urls = append(urls, a.URL)
		}
	}
	for _, e := range m.Embeds {
		if e == nil {
			continue
		}
		if e.Image != nil && e.Image.URL != "" {
			urls = append(urls, e.Image.URL)
		}
		if e.Thumbnail != nil && e.Thumbnail.URL != "" {
			urls = append(urls, e.Thumbnail.URL)
		}
	}
	return urls
}

func hasImageExt(name string) bool {
	name = strings.ToLower(name)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".webp"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
