package risk

import (
	"time"

	"github.com/google/uuid"
)

// LogEntry is the append-only audit record written after every detection.
// The decision to act is authoritative even if the platform call later
// fails; ExecFailed marks that case instead of rolling the entry back.
type LogEntry struct {
	ID         string
	GuildID    string
	SubjectID  string
	Detector   string
	Action     ActionKind
	Reason     string
	Details    string
	ExecFailed bool
	Timestamp  time.Time
}

func NewLogEntry(guildID, subjectID, detector string, action ActionKind, reason, details string) *LogEntry {
	return &LogEntry{
		ID:        uuid.NewString(),
		GuildID:   guildID,
		SubjectID: subjectID,
		Detector:  detector,
		Action:    action,
		Reason:    reason,
		Details:   details,
		Timestamp: time.Now(),
	}
}
