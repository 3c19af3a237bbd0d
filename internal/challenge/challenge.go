package challenge

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/theo7791l/wolaro-guard/internal/logging"
	"github.com/theo7791l/wolaro-guard/internal/sched"
)

// codeAlphabet avoids confusable characters (no I/O/0/1) so users can type
// the code back from any font.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	CodeLength  = 6
	TTL         = 5 * time.Minute
	MaxAttempts = 3
)

// Result distinguishes the verification outcomes. NoChallenge is separate
// from Retry so callers can message "you have no pending challenge" rather
// than "wrong code".
type Result int

const (
	ResultSuccess Result = iota
	ResultRetry
	ResultFailed
	ResultNoChallenge
)

// Session is one pending human-verification challenge. At most one exists
// per subject; it is destroyed on success, attempt exhaustion or expiry,
// whichever happens first.
type Session struct {
	Code      string
	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Manager owns every pending session. The session map is the single source
// of truth: the expiry reaper and Verify race through the same key-guarded
// removal, so exactly one of them wins.
type Manager struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	scheduler *sched.Scheduler

	// onExpire runs when a challenge lapses unanswered (caller removes the
	// subject). Never invoked for solved or failed sessions.
	onExpire func(guildID, userID string)

	stop chan struct{}
	once sync.Once
}

func NewManager(scheduler *sched.Scheduler, onExpire func(guildID, userID string)) *Manager {
	m := &Manager{
		sessions:  make(map[string]*Session),
		scheduler: scheduler,
		onExpire:  onExpire,
		stop:      make(chan struct{}),
	}
	go m.reaperLoop()
	return m
}

func key(guildID, userID string) string {
	return guildID + ":" + userID
}

func generateCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate challenge code: %w", err)
	}
	var b strings.Builder
	for _, c := range buf {
		b.WriteByte(codeAlphabet[int(c)%len(codeAlphabet)])
	}
	return b.String(), nil
}

// Issue creates a session for the subject, replacing any pending one, and
// schedules the expiry check. Delivery of the code is the caller's concern.
func (m *Manager) Issue(guildID, userID string) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", err
	}

	now := time.Now()
	session := &Session{
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(TTL),
	}

	k := key(guildID, userID)
	m.mu.Lock()
	m.sessions[k] = session
	m.mu.Unlock()

	// At fire time the session may already be solved, failed or replaced;
	// the check makes a stale expiry a no-op.
	m.scheduler.After(TTL, func() bool {
		return m.removeIfCurrent(k, session)
	}, func() {
		logging.Info("Challenge expired for %s", k)
		if m.onExpire != nil {
			m.onExpire(guildID, userID)
		}
	})

	return code, nil
}

// Verify checks a response against the pending session. Expired sessions
// always yield NoChallenge even if the reaper has not run yet.
func (m *Manager) Verify(guildID, userID, response string) Result {
	k := key(guildID, userID)

	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[k]
	if !ok {
		return ResultNoChallenge
	}
	if time.Now().After(session.ExpiresAt) {
		delete(m.sessions, k)
		return ResultNoChallenge
	}

	if strings.EqualFold(strings.TrimSpace(response), session.Code) {
		delete(m.sessions, k)
		return ResultSuccess
	}

	session.Attempts++
	if session.Attempts >= MaxAttempts {
		delete(m.sessions, k)
		return ResultFailed
	}
	return ResultRetry
}

// Active reports whether the subject has a live, unexpired session.
func (m *Manager) Active(guildID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[key(guildID, userID)]
	return ok && time.Now().Before(session.ExpiresAt)
}

// GuildsFor lists the guilds with a live session for the user. Direct
// messages carry no guild, so the responder resolves them here.
func (m *Manager) GuildsFor(userID string) []string {
	suffix := ":" + userID
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var guilds []string
	for k, session := range m.sessions {
		if strings.HasSuffix(k, suffix) && now.Before(session.ExpiresAt) {
			guilds = append(guilds, strings.TrimSuffix(k, suffix))
		}
	}
	return guilds
}

// removeIfCurrent deletes the key only when it still maps to the given
// session, and reports whether it did.
func (m *Manager) removeIfCurrent(k string, session *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[k]
	if !ok || current != session {
		return false
	}
	delete(m.sessions, k)
	return true
}

// reaperLoop bounds memory for sessions whose scheduled expiry was lost
// (e.g. scheduler shutdown); the scheduled task remains the path that
// triggers removal actions.
func (m *Manager) reaperLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for k, session := range m.sessions {
				if now.After(session.ExpiresAt) {
					delete(m.sessions, k)
				}
			}
			m.mu.Unlock()
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) Close() {
	m.once.Do(func() { close(m.stop) })
}
