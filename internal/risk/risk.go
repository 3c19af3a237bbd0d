package risk

import (
	"fmt"
	"time"
)

// FactorKind identifies a single matched risk condition.
type FactorKind string

const (
	FactorYoungAccount       FactorKind = "young_account"
	FactorDefaultAvatar      FactorKind = "default_avatar"
	FactorSuspiciousUsername FactorKind = "suspicious_username"
	FactorSimilarUsernames   FactorKind = "similar_usernames"
	FactorScamBrand          FactorKind = "scam_brand"
	FactorSuspiciousTLD      FactorKind = "suspicious_tld"
	FactorIPHost             FactorKind = "ip_host"
	FactorHomoglyph          FactorKind = "homoglyph"
	FactorSubdomainAbuse     FactorKind = "subdomain_abuse"
)

// Factor is one matched condition within a single analysis call. Factors are
// never persisted; only their sum survives as the score.
type Factor struct {
	Kind     FactorKind
	Severity int
	Detail   string
}

// Score sums factor severities.
func Score(factors []Factor) int {
	total := 0
	for _, f := range factors {
		total += f.Severity
	}
	return total
}

// ActionKind is the sanction chosen for a detection.
type ActionKind uint8

const (
	ActionNone ActionKind = iota
	ActionWarn
	ActionDelete
	ActionTimeout
	ActionKick
	ActionBan
	ActionQuarantine
	ActionMonitor
)

func (a ActionKind) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionWarn:
		return "warn"
	case ActionDelete:
		return "delete"
	case ActionTimeout:
		return "timeout"
	case ActionKick:
		return "kick"
	case ActionBan:
		return "ban"
	case ActionQuarantine:
		return "quarantine"
	case ActionMonitor:
		return "monitor"
	default:
		return "unknown"
	}
}

// Sanction is the concrete remedial action for a detection, produced
// deterministically from a score by fixed bands. Executed once, then logged.
type Sanction struct {
	Kind     ActionKind
	Duration time.Duration // timeout only
	RoleID   string        // quarantine only
	Reason   string
}

func None() Sanction {
	return Sanction{Kind: ActionNone}
}

func Warn(reason string) Sanction {
	return Sanction{Kind: ActionWarn, Reason: reason}
}

func Delete(reason string) Sanction {
	return Sanction{Kind: ActionDelete, Reason: reason}
}

func Timeout(d time.Duration, reason string) Sanction {
	return Sanction{Kind: ActionTimeout, Duration: d, Reason: reason}
}

func Kick(reason string) Sanction {
	return Sanction{Kind: ActionKick, Reason: reason}
}

func Ban(reason string) Sanction {
	return Sanction{Kind: ActionBan, Reason: reason}
}

func Quarantine(roleID, reason string) Sanction {
	return Sanction{Kind: ActionQuarantine, RoleID: roleID, Reason: reason}
}

func Monitor(reason string) Sanction {
	return Sanction{Kind: ActionMonitor, Reason: reason}
}

// JoinSanction maps a join risk score to its band. Raid mode forces a ban
// regardless of the individual score.
func JoinSanction(score int, raidMode bool, quarantineRole string, factors []Factor) Sanction {
	reason := fmt.Sprintf("Join risk score %d: %s", score, describe(factors))

	switch {
	case raidMode || score >= 10:
		if raidMode {
			reason = "Raid mode active - " + reason
		}
		return Ban(reason)
	case score >= 7:
		return Kick(reason)
	case score >= 5:
		return Quarantine(quarantineRole, reason)
	case score >= 3:
		return Monitor(reason)
	default:
		return None()
	}
}

// PhishingSanction maps a URL pattern score to its band. External
// confirmation overrides local scoring entirely.
func PhishingSanction(patternScore int, externalConfirmed bool, url string) Sanction {
	switch {
	case externalConfirmed:
		return Ban(fmt.Sprintf("Malicious link confirmed by reputation service: %s", url))
	case patternScore >= 8:
		return Ban(fmt.Sprintf("Malicious link detected (score %d): %s", patternScore, url))
	case patternScore >= 5:
		return Kick(fmt.Sprintf("High-risk link detected (score %d): %s", patternScore, url))
	case patternScore >= 3:
		return Warn(fmt.Sprintf("Suspicious link removed (score %d): %s", patternScore, url))
	case patternScore > 0:
		return Delete(fmt.Sprintf("Low-risk link removed (score %d): %s", patternScore, url))
	default:
		return None()
	}
}

// NSFWSanction maps a classifier score to its band. The caller deletes the
// message first for every tier.
func NSFWSanction(score, threshold float64) Sanction {
	if score < threshold {
		return None()
	}
	switch {
	case score >= 0.9:
		return Ban(fmt.Sprintf("Explicit content posted (score %.2f)", score))
	case score >= 0.8:
		return Timeout(24*time.Hour, fmt.Sprintf("Explicit content posted (score %.2f)", score))
	default:
		return Warn(fmt.Sprintf("NSFW content removed (score %.2f)", score))
	}
}

func describe(factors []Factor) string {
	if len(factors) == 0 {
		return "no factors"
	}
	s := ""
	for i, f := range factors {
		if i > 0 {
			s += ", "
		}
		s += string(f.Kind)
	}
	return s
}
