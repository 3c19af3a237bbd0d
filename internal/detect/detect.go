package detect

import (
	"context"
	"time"

	"github.com/theo7791l/wolaro-guard/internal/guildconf"
	"github.com/theo7791l/wolaro-guard/internal/risk"
)

// Message is a normalized inbound chat message.
type Message struct {
	GuildID     string
	ChannelID   string
	MessageID   string
	AuthorID    string
	AuthorBot   bool
	AuthorRoles []string
	Content     string
	ImageURLs   []string
	Timestamp   time.Time
}

// Join is a normalized member-join event.
type Join struct {
	GuildID        string
	UserID         string
	Username       string
	AccountCreated time.Time
	HasAvatar      bool
	Timestamp      time.Time
}

// AdminAction is a privileged action attributed to an actor, fed from the
// gateway event stream (channel/role lifecycle, bans, kicks, role grants).
type AdminAction struct {
	GuildID   string
	ActorID   string
	ActorBot  bool
	TargetID  string
	Action    string
	Timestamp time.Time
}

// MessageTarget identifies one message to delete during execution.
type MessageTarget struct {
	ChannelID string
	MessageID string
}

// Assessment is the outcome of analyzing one event. Analysis never touches
// the platform; everything with a side effect is described here and carried
// out by the Executor.
type Assessment struct {
	Detector  string
	GuildID   string
	SubjectID string
	ChannelID string

	Sanction risk.Sanction
	Factors  []risk.Factor
	Reason   string
	Details  string

	// Messages to remove before the sanction is applied.
	Delete []MessageTarget
	// Channels whose listed messages should go through a bulk delete.
	BulkDelete map[string][]string

	// StripRoles removes the subject's dangerous-permission roles before
	// any further sanction.
	StripRoles bool

	// WarnChannel, when non-empty, posts a visible notice in the channel
	// after execution.
	WarnChannel string
	WarnText    string

	// RescanChannel requests a post-execution sweep: recent messages from
	// RescanAuthor inside RescanWindow are deleted too, catching messages
	// that landed while the detection was in flight. An empty RescanAuthor
	// sweeps the channel regardless of author.
	RescanChannel string
	RescanAuthor  string
	RescanWindow  time.Duration

	// Extra carries assessments for additional subjects implicated by the
	// same event, such as the other participants of a burst.
	Extra []*Assessment
}

// Triggered reports whether the assessment carries any work for the
// executor.
func (a *Assessment) Triggered() bool {
	if a == nil {
		return false
	}
	return a.Sanction.Kind != risk.ActionNone ||
		len(a.Delete) > 0 || len(a.BulkDelete) > 0 || a.StripRoles
}

// MessageDetector analyzes chat messages.
type MessageDetector interface {
	Name() string
	AnalyzeMessage(ctx context.Context, msg *Message, cfg *guildconf.Config) *Assessment
}

// JoinDetector analyzes member joins.
type JoinDetector interface {
	Name() string
	AnalyzeJoin(ctx context.Context, join *Join, cfg *guildconf.Config) *Assessment
}

// ActionDetector analyzes privileged admin actions.
type ActionDetector interface {
	Name() string
	AnalyzeAction(ctx context.Context, act *AdminAction, cfg *guildconf.Config) *Assessment
}

var (
	_ MessageDetector = (*FloodDetector)(nil)
	_ MessageDetector = (*PhishingDetector)(nil)
	_ MessageDetector = (*NSFWDetector)(nil)
	_ JoinDetector    = (*RaidDetector)(nil)
	_ ActionDetector  = (*NukeDetector)(nil)
)
