package platform

import (
	"time"
)

// Role is the subset of role data the engine needs to strip dangerous
// permissions and resolve whitelists.
type Role struct {
	ID          string
	Name        string
	Permissions int64
}

// Channel identifies a guild channel the lockdown machine can restrict.
type Channel struct {
	ID    string
	Name  string
	Voice bool
}

// Overwrite is a channel permission overwrite for one subject. Exists is
// false when the channel has no overwrite for the subject at all, which is
// different from an overwrite with zero bits.
type Overwrite struct {
	Allow  int64
	Deny   int64
	Exists bool
}

// MessageRef points at a message for cleanup re-scans.
type MessageRef struct {
	ID        string
	AuthorID  string
	Bot       bool
	Timestamp time.Time
}

// Client is the engine's outbound surface toward the chat platform. Every
// call is fallible; the engine observes and logs failures but never rolls
// back a decision because of one.
type Client interface {
	DeleteMessage(channelID, messageID string) error
	BulkDeleteMessages(channelID string, messageIDs []string) error
	RecentMessages(channelID string, limit int) ([]MessageRef, error)

	TimeoutMember(guildID, userID string, duration time.Duration, reason string) error
	KickMember(guildID, userID, reason string) error
	BanMember(guildID, userID, reason string) error
	AddRole(guildID, userID, roleID, reason string) error
	RemoveRole(guildID, userID, roleID, reason string) error

	MemberRoles(guildID, userID string) ([]string, error)
	GuildRoles(guildID string) ([]Role, error)
	GuildChannels(guildID string) ([]Channel, error)
	EveryoneOverwrite(guildID, channelID string) (Overwrite, error)
	SetEveryoneOverwrite(guildID, channelID string, allow, deny int64) error
	RemoveEveryoneOverwrite(guildID, channelID string) error
	RevokeGuildInvites(guildID string) error

	SendDirectMessage(userID, content string) error
	SendChannelMessage(channelID, content string) error
}
