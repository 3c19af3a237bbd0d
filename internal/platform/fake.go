package platform

import (
	"fmt"
	"sync"
	"time"
)

// ActionRecord captures one outbound call made through the Fake client.
type ActionRecord struct {
	Op        string
	GuildID   string
	ChannelID string
	UserID    string
	MessageID string
	RoleID    string
	Duration  time.Duration
	Content   string
	Allow     int64
	Deny      int64
}

// Fake is an in-memory Client for tests. Overwrites, channels and roles can
// be seeded; every call is recorded; individual ops can be forced to fail.
type Fake struct {
	mu sync.Mutex

	Channels   map[string][]Channel            // guildID -> channels
	Roles      map[string][]Role               // guildID -> roles
	MemberRole map[string][]string             // guildID:userID -> role IDs
	Overwrites map[string]Overwrite            // guildID:channelID -> @everyone overwrite
	History    map[string][]MessageRef         // channelID -> recent messages
	FailOps    map[string]error                // op name -> forced error
	Records    []ActionRecord
}

func NewFake() *Fake {
	return &Fake{
		Channels:   make(map[string][]Channel),
		Roles:      make(map[string][]Role),
		MemberRole: make(map[string][]string),
		Overwrites: make(map[string]Overwrite),
		History:    make(map[string][]MessageRef),
		FailOps:    make(map[string]error),
	}
}

func (f *Fake) record(r ActionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Records = append(f.Records, r)
	if err, ok := f.FailOps[r.Op]; ok {
		return err
	}
	return nil
}

// Calls returns the recorded ops matching name, all records when name is
// empty.
func (f *Fake) Calls(name string) []ActionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == "" {
		return append([]ActionRecord(nil), f.Records...)
	}
	var out []ActionRecord
	for _, r := range f.Records {
		if r.Op == name {
			out = append(out, r)
		}
	}
	return out
}

func (f *Fake) DeleteMessage(channelID, messageID string) error {
	return f.record(ActionRecord{Op: "delete_message", ChannelID: channelID, MessageID: messageID})
}

func (f *Fake) BulkDeleteMessages(channelID string, messageIDs []string) error {
	return f.record(ActionRecord{Op: "bulk_delete", ChannelID: channelID, Content: fmt.Sprint(len(messageIDs))})
}

func (f *Fake) RecentMessages(channelID string, limit int) ([]MessageRef, error) {
	if err := f.record(ActionRecord{Op: "recent_messages", ChannelID: channelID}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.History[channelID]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return append([]MessageRef(nil), msgs...), nil
}

func (f *Fake) TimeoutMember(guildID, userID string, duration time.Duration, reason string) error {
	return f.record(ActionRecord{Op: "timeout", GuildID: guildID, UserID: userID, Duration: duration, Content: reason})
}

func (f *Fake) KickMember(guildID, userID, reason string) error {
	return f.record(ActionRecord{Op: "kick", GuildID: guildID, UserID: userID, Content: reason})
}

func (f *Fake) BanMember(guildID, userID, reason string) error {
	return f.record(ActionRecord{Op: "ban", GuildID: guildID, UserID: userID, Content: reason})
}

func (f *Fake) AddRole(guildID, userID, roleID, reason string) error {
	return f.record(ActionRecord{Op: "add_role", GuildID: guildID, UserID: userID, RoleID: roleID})
}

func (f *Fake) RemoveRole(guildID, userID, roleID, reason string) error {
	return f.record(ActionRecord{Op: "remove_role", GuildID: guildID, UserID: userID, RoleID: roleID})
}

func (f *Fake) MemberRoles(guildID, userID string) ([]string, error) {
	if err := f.record(ActionRecord{Op: "member_roles", GuildID: guildID, UserID: userID}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.MemberRole[guildID+":"+userID]...), nil
}

func (f *Fake) GuildRoles(guildID string) ([]Role, error) {
	if err := f.record(ActionRecord{Op: "guild_roles", GuildID: guildID}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Role(nil), f.Roles[guildID]...), nil
}

func (f *Fake) GuildChannels(guildID string) ([]Channel, error) {
	if err := f.record(ActionRecord{Op: "guild_channels", GuildID: guildID}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Channel(nil), f.Channels[guildID]...), nil
}

func (f *Fake) EveryoneOverwrite(guildID, channelID string) (Overwrite, error) {
	if err := f.record(ActionRecord{Op: "get_overwrite", GuildID: guildID, ChannelID: channelID}); err != nil {
		return Overwrite{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Overwrites[guildID+":"+channelID], nil
}

func (f *Fake) SetEveryoneOverwrite(guildID, channelID string, allow, deny int64) error {
	if err := f.record(ActionRecord{Op: "set_overwrite", GuildID: guildID, ChannelID: channelID, Allow: allow, Deny: deny}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Overwrites[guildID+":"+channelID] = Overwrite{Allow: allow, Deny: deny, Exists: true}
	return nil
}

func (f *Fake) RemoveEveryoneOverwrite(guildID, channelID string) error {
	if err := f.record(ActionRecord{Op: "remove_overwrite", GuildID: guildID, ChannelID: channelID}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Overwrites, guildID+":"+channelID)
	return nil
}

func (f *Fake) RevokeGuildInvites(guildID string) error {
	return f.record(ActionRecord{Op: "revoke_invites", GuildID: guildID})
}

func (f *Fake) SendDirectMessage(userID, content string) error {
	return f.record(ActionRecord{Op: "dm", UserID: userID, Content: content})
}

func (f *Fake) SendChannelMessage(channelID, content string) error {
	return f.record(ActionRecord{Op: "channel_message", ChannelID: channelID, Content: content})
}
