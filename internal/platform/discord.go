package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"
)

// Discord adapts a discordgo session to the Client interface. Outbound
// calls are paced per guild so a burst of sanctions cannot exhaust the REST
// quota that moderation actions share.
type Discord struct {
	session *discordgo.Session

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

const (
	guildActionRate  = 10 // sustained actions per second per guild
	guildActionBurst = 20
	waitTimeout      = 10 * time.Second
)

func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{
		session:  session,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (d *Discord) limiter(guildID string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	lim, ok := d.limiters[guildID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(guildActionRate), guildActionBurst)
		d.limiters[guildID] = lim
	}
	return lim
}

func (d *Discord) pace(guildID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := d.limiter(guildID).Wait(ctx); err != nil {
		return fmt.Errorf("action pacing: %w", err)
	}
	return nil
}

func (d *Discord) DeleteMessage(channelID, messageID string) error {
	return d.session.ChannelMessageDelete(channelID, messageID)
}

func (d *Discord) BulkDeleteMessages(channelID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if len(messageIDs) == 1 {
		return d.session.ChannelMessageDelete(channelID, messageIDs[0])
	}
	return d.session.ChannelMessagesBulkDelete(channelID, messageIDs)
}

func (d *Discord) RecentMessages(channelID string, limit int) ([]MessageRef, error) {
	msgs, err := d.session.ChannelMessages(channelID, limit, "", "", "")
	if err != nil {
		return nil, err
	}
	refs := make([]MessageRef, 0, len(msgs))
	for _, m := range msgs {
		refs = append(refs, MessageRef{
			ID:        m.ID,
			AuthorID:  m.Author.ID,
			Bot:       m.Author.Bot,
			Timestamp: m.Timestamp,
		})
	}
	return refs, nil
}

func (d *Discord) TimeoutMember(guildID, userID string, duration time.Duration, reason string) error {
	if err := d.pace(guildID); err != nil {
		return err
	}
	until := time.Now().Add(duration)
	return d.session.GuildMemberTimeout(guildID, userID, &until, discordgo.WithAuditLogReason(reason))
}

func (d *Discord) KickMember(guildID, userID, reason string) error {
	if err := d.pace(guildID); err != nil {
		return err
	}
	return d.session.GuildMemberDeleteWithReason(guildID, userID, reason)
}

func (d *Discord) BanMember(guildID, userID, reason string) error {
	if err := d.pace(guildID); err != nil {
		return err
	}
	return d.session.GuildBanCreateWithReason(guildID, userID, reason, 0)
}

func (d *Discord) AddRole(guildID, userID, roleID, reason string) error {
	if err := d.pace(guildID); err != nil {
		return err
	}
	return d.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithAuditLogReason(reason))
}

func (d *Discord) RemoveRole(guildID, userID, roleID, reason string) error {
	if err := d.pace(guildID); err != nil {
		return err
	}
	return d.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithAuditLogReason(reason))
}

func (d *Discord) MemberRoles(guildID, userID string) ([]string, error) {
	member, err := d.session.State.Member(guildID, userID)
	if err != nil {
		member, err = d.session.GuildMember(guildID, userID)
		if err != nil {
			return nil, err
		}
	}
	return member.Roles, nil
}

func (d *Discord) GuildRoles(guildID string) ([]Role, error) {
	roles, err := d.session.GuildRoles(guildID)
	if err != nil {
		return nil, err
	}
	out := make([]Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, Role{ID: r.ID, Name: r.Name, Permissions: r.Permissions})
	}
	return out, nil
}

func (d *Discord) GuildChannels(guildID string) ([]Channel, error) {
	channels, err := d.session.GuildChannels(guildID)
	if err != nil {
		return nil, err
	}
	out := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		switch ch.Type {
		case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews,
			discordgo.ChannelTypeGuildForum:
			out = append(out, Channel{ID: ch.ID, Name: ch.Name})
		case discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildStageVoice:
			out = append(out, Channel{ID: ch.ID, Name: ch.Name, Voice: true})
		}
	}
	return out, nil
}

func (d *Discord) EveryoneOverwrite(guildID, channelID string) (Overwrite, error) {
	ch, err := d.session.State.Channel(channelID)
	if err != nil {
		ch, err = d.session.Channel(channelID)
		if err != nil {
			return Overwrite{}, err
		}
	}
	// The @everyone role shares the guild's ID.
	for _, ow := range ch.PermissionOverwrites {
		if ow.ID == guildID {
			return Overwrite{Allow: ow.Allow, Deny: ow.Deny, Exists: true}, nil
		}
	}
	return Overwrite{}, nil
}

func (d *Discord) SetEveryoneOverwrite(guildID, channelID string, allow, deny int64) error {
	if err := d.pace(guildID); err != nil {
		return err
	}
	return d.session.ChannelPermissionSet(channelID, guildID, discordgo.PermissionOverwriteTypeRole, allow, deny)
}

func (d *Discord) RemoveEveryoneOverwrite(guildID, channelID string) error {
	if err := d.pace(guildID); err != nil {
		return err
	}
	return d.session.ChannelPermissionDelete(channelID, guildID)
}

func (d *Discord) RevokeGuildInvites(guildID string) error {
	invites, err := d.session.GuildInvites(guildID)
	if err != nil {
		return fmt.Errorf("list invites: %w", err)
	}
	var firstErr error
	for _, inv := range invites {
		if _, err := d.session.InviteDelete(inv.Code); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete invite %s: %w", inv.Code, err)
		}
	}
	return firstErr
}

func (d *Discord) SendDirectMessage(userID, content string) error {
	ch, err := d.session.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("open DM channel: %w", err)
	}
	_, err = d.session.ChannelMessageSend(ch.ID, content)
	return err
}

func (d *Discord) SendChannelMessage(channelID, content string) error {
	_, err := d.session.ChannelMessageSend(channelID, content)
	return err
}
