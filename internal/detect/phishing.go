package detect

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/theo7791l/wolaro-guard/internal/guildconf"
	"github.com/theo7791l/wolaro-guard/internal/patterns"
	"github.com/theo7791l/wolaro-guard/internal/risk"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

const maxURLsPerMessage = 5

// checkDeadline caps the whole reputation fan-out for one message, so a
// slow endpoint can never hold up deletion. Swapped in tests.
var checkDeadline = 3 * time.Second

// LinkChecker is the reputation surface the phishing detector consumes,
// satisfied by repute.URLChecker. A nil verdict is inconclusive.
type LinkChecker interface {
	Check(ctx context.Context, target string) *bool
}

// PhishingDetector scores every URL in a message against local pattern
// rules and asks the reputation services, all URLs concurrently under one
// bounded deadline. A confirmed verdict overrides local scoring; an
// inconclusive or late one leaves the pattern score in charge. The message
// is always deleted before the author is sanctioned.
type PhishingDetector struct {
	rules   *patterns.Store
	checker LinkChecker
}

func NewPhishingDetector(rules *patterns.Store, checker LinkChecker) *PhishingDetector {
	return &PhishingDetector{rules: rules, checker: checker}
}

func (d *PhishingDetector) Name() string { return "phishing" }

// ExtractURLs pulls http(s) URLs out of a message body, capped so a URL
// wall cannot amplify work.
func ExtractURLs(content string) []string {
	matches := urlPattern.FindAllString(content, maxURLsPerMessage)
	for i, m := range matches {
		matches[i] = strings.TrimRight(m, ".,;:!?)")
	}
	return matches
}

func (d *PhishingDetector) AnalyzeMessage(ctx context.Context, msg *Message, cfg *guildconf.Config) *Assessment {
	if !cfg.PhishingEnabled {
		return nil
	}
	urls := ExtractURLs(msg.Content)
	if len(urls) == 0 {
		return nil
	}

	type candidate struct {
		raw       string
		factors   []risk.Factor
		confirmed bool
	}
	var candidates []*candidate
	for _, raw := range urls {
		host, ok := parseHost(raw)
		if !ok {
			continue
		}
		if cfg.IsTrustedDomain(host) {
			continue
		}
		candidates = append(candidates, &candidate{raw: raw, factors: d.scoreURL(raw, host)})
	}

	if d.checker != nil && len(candidates) > 0 {
		cctx, cancel := context.WithTimeout(ctx, checkDeadline)
		var wg sync.WaitGroup
		for _, c := range candidates {
			wg.Add(1)
			go func(c *candidate) {
				defer wg.Done()
				if v := d.checker.Check(cctx, c.raw); v != nil && *v {
					c.confirmed = true
				}
			}(c)
		}
		wg.Wait()
		cancel()
	}

	var (
		worst        risk.Sanction
		worstURL     string
		worstFactors []risk.Factor
	)
	for _, c := range candidates {
		sanction := risk.PhishingSanction(risk.Score(c.factors), c.confirmed, c.raw)
		if severityRank(sanction.Kind) > severityRank(worst.Kind) {
			worst = sanction
			worstURL = c.raw
			worstFactors = c.factors
		}
	}
	if worst.Kind == risk.ActionNone {
		return nil
	}

	return &Assessment{
		Detector:  d.Name(),
		GuildID:   msg.GuildID,
		SubjectID: msg.AuthorID,
		ChannelID: msg.ChannelID,
		Sanction:  worst,
		Factors:   worstFactors,
		Reason:    worst.Reason,
		Details:   fmt.Sprintf("url %s, score %d", worstURL, risk.Score(worstFactors)),
		Delete:    []MessageTarget{{ChannelID: msg.ChannelID, MessageID: msg.MessageID}},
	}
}

// severityRank orders sanction kinds by harshness for picking the worst
// URL verdict in a message.
func severityRank(k risk.ActionKind) int {
	switch k {
	case risk.ActionBan:
		return 5
	case risk.ActionKick:
		return 4
	case risk.ActionTimeout:
		return 3
	case risk.ActionWarn:
		return 2
	case risk.ActionDelete:
		return 1
	default:
		return 0
	}
}

func parseHost(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Hostname()), true
}

func (d *PhishingDetector) scoreURL(raw, host string) []risk.Factor {
	rules := d.rules.Rules()
	var factors []risk.Factor

	if brand, ok := rules.MatchScamBrand(strings.ToLower(raw)); ok {
		factors = append(factors, risk.Factor{Kind: risk.FactorScamBrand, Severity: 4, Detail: brand})
	}
	if tld := lastLabel(host); rules.IsSuspiciousTLD(tld) {
		factors = append(factors, risk.Factor{Kind: risk.FactorSuspiciousTLD, Severity: 2, Detail: tld})
	}
	if net.ParseIP(host) != nil {
		factors = append(factors, risk.Factor{Kind: risk.FactorIPHost, Severity: 3, Detail: host})
	}
	if hasNonASCII(host) {
		factors = append(factors, risk.Factor{Kind: risk.FactorHomoglyph, Severity: 3, Detail: host})
	}
	if n := strings.Count(host, "."); n > 3 {
		factors = append(factors, risk.Factor{Kind: risk.FactorSubdomainAbuse, Severity: 2, Detail: fmt.Sprintf("%d labels", n+1)})
	}
	return factors
}

func lastLabel(host string) string {
	if i := strings.LastIndexByte(host, '.'); i >= 0 {
		return host[i+1:]
	}
	return host
}

// hasNonASCII flags internationalized hostnames, the usual vehicle for
// lookalike domains.
func hasNonASCII(host string) bool {
	for _, r := range host {
		if r > unicode.MaxASCII {
			return true
		}
	}
	return false
}
