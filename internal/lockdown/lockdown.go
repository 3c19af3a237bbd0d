package lockdown

import (
	"fmt"
	"sync"
	"time"

	"github.com/theo7791l/wolaro-guard/internal/logging"
	"github.com/theo7791l/wolaro-guard/internal/platform"
)

// Level orders lockdown severities. Only explicit Deactivate lowers the
// level; escalation paths only ever raise it.
type Level uint8

const (
	Unlocked Level = iota
	Soft
	Medium
	Hard
	Raid
)

func (l Level) String() string {
	switch l {
	case Unlocked:
		return "unlocked"
	case Soft:
		return "soft"
	case Medium:
		return "medium"
	case Hard:
		return "hard"
	case Raid:
		return "raid"
	default:
		return "unknown"
	}
}

// Discord permission bits, the subset the deny sets use.
const (
	permCreateInvite       int64 = 1 << 0
	permAddReactions       int64 = 1 << 6
	permViewChannel        int64 = 1 << 10
	permSendMessages       int64 = 1 << 11
	permEmbedLinks         int64 = 1 << 14
	permAttachFiles        int64 = 1 << 15
	permConnect            int64 = 1 << 20
	permSpeak              int64 = 1 << 21
	permCreatePublicThread int64 = 1 << 35
	permCreatePrivThread   int64 = 1 << 36
	permSendInThreads      int64 = 1 << 38
)

// DenyBits returns the cumulative deny set for a level.
func DenyBits(level Level) int64 {
	var bits int64
	if level >= Soft {
		bits |= permSendMessages | permAddReactions | permCreatePublicThread | permCreatePrivThread
	}
	if level >= Medium {
		bits |= permSendInThreads | permAttachFiles | permEmbedLinks
	}
	if level >= Hard {
		bits |= permConnect | permSpeak | permCreateInvite
	}
	if level >= Raid {
		bits |= permViewChannel
	}
	return bits
}

// capturedChannel is the pre-lockdown snapshot of one channel's @everyone
// overwrite. Restored bit-for-bit on deactivation; an absent overwrite is
// removed again, not replaced with empty bits.
type capturedChannel struct {
	channelID string
	prior     platform.Overwrite
}

// State is the single active lockdown for a guild.
type State struct {
	Level       Level
	Reason      string
	ActivatedAt time.Time
	captured    []capturedChannel
}

// Report accounts for the per-channel fan-out. Partial failure is
// success-with-warnings: some protection is better than none.
type Report struct {
	Attempted int
	Succeeded int
	Errors    []error
}

func (r *Report) Partial() bool {
	return r.Succeeded < r.Attempted
}

// Manager runs the per-guild lockdown state machines.
type Manager struct {
	mu     sync.Mutex
	states map[string]*State
	guards map[string]*sync.Mutex
	client platform.Client
}

// fanOutWorkers bounds concurrent per-channel permission calls.
const fanOutWorkers = 8

func NewManager(client platform.Client) *Manager {
	return &Manager{
		states: make(map[string]*State),
		guards: make(map[string]*sync.Mutex),
		client: client,
	}
}

// guard returns the guild's transition lock. Activate and Deactivate hold
// it across check, snapshot, fan-out and state store: gateway handlers run
// concurrently, and two racing activations would otherwise both capture a
// "pre-lockdown" snapshot with the first activation's deny bits already in
// it, corrupting what Deactivate later restores.
func (m *Manager) guard(guildID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.guards[guildID]
	if g == nil {
		g = new(sync.Mutex)
		m.guards[guildID] = g
	}
	return g
}

// Level returns the guild's current lockdown level.
func (m *Manager) Level(guildID string) Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[guildID]; ok {
		return st.Level
	}
	return Unlocked
}

// Activate applies the level's deny set to every guild channel, capturing
// each channel's prior overwrite first. Re-activating at the same or a
// lower level is a no-op; a higher level escalates using the snapshots
// taken by the first activation, so deactivation always restores the true
// pre-lockdown state.
func (m *Manager) Activate(guildID string, level Level, reason string) (*Report, error) {
	if level == Unlocked {
		return nil, fmt.Errorf("cannot activate unlocked level")
	}

	g := m.guard(guildID)
	g.Lock()
	defer g.Unlock()

	m.mu.Lock()
	existing := m.states[guildID]
	if existing != nil && existing.Level >= level {
		m.mu.Unlock()
		return &Report{}, nil
	}
	m.mu.Unlock()

	channels, err := m.client.GuildChannels(guildID)
	if err != nil {
		return nil, fmt.Errorf("enumerate channels: %w", err)
	}

	var captured []capturedChannel
	if existing == nil {
		// Snapshot before any channel is mutated.
		for _, ch := range channels {
			prior, err := m.client.EveryoneOverwrite(guildID, ch.ID)
			if err != nil {
				logging.Warn("Lockdown capture failed for channel %s: %v", ch.ID, err)
				continue
			}
			captured = append(captured, capturedChannel{channelID: ch.ID, prior: prior})
		}
	} else {
		captured = existing.captured
	}

	deny := DenyBits(level)
	report := m.fanOut(captured, func(cc capturedChannel) error {
		allow := cc.prior.Allow &^ deny
		return m.client.SetEveryoneOverwrite(guildID, cc.channelID, allow, cc.prior.Deny|deny)
	})

	m.mu.Lock()
	m.states[guildID] = &State{
		Level:       level,
		Reason:      reason,
		ActivatedAt: time.Now(),
		captured:    captured,
	}
	m.mu.Unlock()

	if level >= Hard {
		if err := m.client.RevokeGuildInvites(guildID); err != nil {
			logging.Warn("Invite revocation failed for guild %s: %v", guildID, err)
			report.Errors = append(report.Errors, err)
		}
	}

	if report.Partial() {
		logging.Warn("Lockdown %s on guild %s applied to %d/%d channels",
			level, guildID, report.Succeeded, report.Attempted)
	} else {
		logging.Info("Lockdown %s active on guild %s (%d channels): %s",
			level, guildID, report.Succeeded, reason)
	}
	return report, nil
}

// Deactivate restores every captured channel to its exact prior overwrite
// and clears the state. Channels that never had an overwrite get theirs
// removed rather than zeroed.
func (m *Manager) Deactivate(guildID string) (*Report, error) {
	g := m.guard(guildID)
	g.Lock()
	defer g.Unlock()

	m.mu.Lock()
	st, ok := m.states[guildID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("no active lockdown for guild %s", guildID)
	}
	delete(m.states, guildID)
	m.mu.Unlock()

	report := m.fanOut(st.captured, func(cc capturedChannel) error {
		if cc.prior.Exists {
			return m.client.SetEveryoneOverwrite(guildID, cc.channelID, cc.prior.Allow, cc.prior.Deny)
		}
		return m.client.RemoveEveryoneOverwrite(guildID, cc.channelID)
	})

	if report.Partial() {
		logging.Warn("Lockdown lift on guild %s restored %d/%d channels",
			guildID, report.Succeeded, report.Attempted)
	} else {
		logging.Info("Lockdown lifted on guild %s (%d channels restored)", guildID, report.Succeeded)
	}
	return report, nil
}

// AutoEscalate maps an aggregate threat score to a target level and raises
// the lockdown if the guild sits below it. It never de-escalates.
func (m *Manager) AutoEscalate(guildID string, threatScore int, reason string) (*Report, error) {
	target := targetLevel(threatScore)
	if target == Unlocked {
		return &Report{}, nil
	}
	if m.Level(guildID) >= target {
		return &Report{}, nil
	}
	return m.Activate(guildID, target, reason)
}

func targetLevel(threatScore int) Level {
	switch {
	case threatScore >= 20:
		return Raid
	case threatScore >= 15:
		return Hard
	case threatScore >= 10:
		return Medium
	case threatScore >= 5:
		return Soft
	default:
		return Unlocked
	}
}

// fanOut runs op for every captured channel with bounded concurrency and
// waits for full completion so a half-applied lockdown is always visible
// in the report.
func (m *Manager) fanOut(channels []capturedChannel, op func(capturedChannel) error) *Report {
	report := &Report{Attempted: len(channels)}

	var wg sync.WaitGroup
	var mu sync.Mutex
	sem := make(chan struct{}, fanOutWorkers)

	for _, cc := range channels {
		wg.Add(1)
		sem <- struct{}{}
		go func(cc capturedChannel) {
			defer wg.Done()
			defer func() { <-sem }()

			err := op(cc)
			mu.Lock()
			if err != nil {
				report.Errors = append(report.Errors, fmt.Errorf("channel %s: %w", cc.channelID, err))
			} else {
				report.Succeeded++
			}
			mu.Unlock()
		}(cc)
	}
	wg.Wait()
	return report
}
