package guildconf

import (
	"strings"
	"time"
)

// ActionLimit bounds a privileged action type inside a sliding window.
type ActionLimit struct {
	Max    int
	Window time.Duration
}

// Config is the resolved protection configuration for one guild. Detectors
// read it as a value; every field is defaulted at load time so call sites
// never probe for missing settings.
type Config struct {
	GuildID string

	AntiSpamEnabled  bool
	AntiRaidEnabled  bool
	AntiNukeEnabled  bool
	PhishingEnabled  bool
	NSFWEnabled      bool
	ChallengeEnabled bool

	// Regular spam ladder: SpamMessageCount messages inside SpamWindow.
	SpamLevel        string
	SpamMessageCount int
	SpamWindow       time.Duration

	JoinRateThreshold int
	JoinRateWindow    time.Duration

	NSFWThreshold float64

	NukeLimits map[string]ActionLimit

	TrustedDomains []string
	WhitelistUsers []string
	WhitelistRoles []string

	LogChannelID     string
	QuarantineRoleID string
}

// Spam ladder presets: messages per 5 seconds.
var spamLevels = map[string]int{
	"low":     8,
	"medium":  6,
	"high":    5,
	"extreme": 4,
}

// Defaults returns a fully populated config for a guild seen for the first
// time.
func Defaults(guildID string) *Config {
	return &Config{
		GuildID: guildID,

		AntiSpamEnabled:  true,
		AntiRaidEnabled:  true,
		AntiNukeEnabled:  true,
		PhishingEnabled:  true,
		NSFWEnabled:      true,
		ChallengeEnabled: false,

		SpamLevel:        "medium",
		SpamMessageCount: spamLevels["medium"],
		SpamWindow:       5 * time.Second,

		JoinRateThreshold: 5,
		JoinRateWindow:    60 * time.Second,

		NSFWThreshold: 0.7,

		NukeLimits: map[string]ActionLimit{
			"channel_delete":  {Max: 3, Window: 10 * time.Second},
			"channel_create":  {Max: 5, Window: 10 * time.Second},
			"role_delete":     {Max: 3, Window: 10 * time.Second},
			"role_create":     {Max: 5, Window: 10 * time.Second},
			"ban":             {Max: 5, Window: 30 * time.Second},
			"kick":            {Max: 5, Window: 30 * time.Second},
			"bulk_role_grant": {Max: 5, Window: 10 * time.Second},
		},
	}
}

// SetSpamLevel applies a ladder preset; unknown levels keep the current one.
func (c *Config) SetSpamLevel(level string) bool {
	count, ok := spamLevels[level]
	if !ok {
		return false
	}
	c.SpamLevel = level
	c.SpamMessageCount = count
	c.SpamWindow = 5 * time.Second
	return true
}

// NukeLimit returns the limit for an action type, falling back to the
// built-in default when a guild has no override for it.
func (c *Config) NukeLimit(action string) ActionLimit {
	if limit, ok := c.NukeLimits[action]; ok {
		return limit
	}
	if limit, ok := Defaults(c.GuildID).NukeLimits[action]; ok {
		return limit
	}
	return ActionLimit{Max: 5, Window: 10 * time.Second}
}

// IsTrustedDomain matches a host against the guild's trusted-domain list,
// including subdomains of a trusted domain.
func (c *Config) IsTrustedDomain(host string) bool {
	host = strings.ToLower(host)
	for _, d := range c.TrustedDomains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// IsWhitelisted reports whether a user, or any of their roles, is exempt
// from detection.
func (c *Config) IsWhitelisted(userID string, roleIDs []string) bool {
	for _, id := range c.WhitelistUsers {
		if id == userID {
			return true
		}
	}
	for _, rid := range roleIDs {
		for _, id := range c.WhitelistRoles {
			if id == rid {
				return true
			}
		}
	}
	return false
}

func (c *Config) clone() *Config {
	dup := *c
	dup.NukeLimits = make(map[string]ActionLimit, len(c.NukeLimits))
	for k, v := range c.NukeLimits {
		dup.NukeLimits[k] = v
	}
	dup.TrustedDomains = append([]string(nil), c.TrustedDomains...)
	dup.WhitelistUsers = append([]string(nil), c.WhitelistUsers...)
	dup.WhitelistRoles = append([]string(nil), c.WhitelistRoles...)
	return &dup
}
