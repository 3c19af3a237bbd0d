package patterns

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/theo7791l/wolaro-guard/pkg/textutil"
)

//go:embed defaults.yaml
var defaultRulesYAML []byte

// ruleFile is the on-disk shape of a rule set. Rules live as data so the
// lists can be extended without touching detector code.
type ruleFile struct {
	BadWords         []string `yaml:"bad_words"`
	WordWhitelist    []string `yaml:"word_whitelist"`
	ScamBrands       []string `yaml:"scam_brands"`
	SuspiciousTLDs   []string `yaml:"suspicious_tlds"`
	UsernamePatterns []string `yaml:"username_patterns"`
}

// Rules is a compiled, immutable rule set. Swapped atomically on reload.
type Rules struct {
	badWords         map[string]struct{}
	wordWhitelist    map[string]struct{}
	scamBrands       []*regexp.Regexp
	suspiciousTLDs   map[string]struct{}
	usernamePatterns []*regexp.Regexp
}

func compile(rf *ruleFile) (*Rules, error) {
	r := &Rules{
		badWords:       make(map[string]struct{}, len(rf.BadWords)),
		wordWhitelist:  make(map[string]struct{}, len(rf.WordWhitelist)),
		suspiciousTLDs: make(map[string]struct{}, len(rf.SuspiciousTLDs)),
	}

	for _, w := range rf.BadWords {
		r.badWords[textutil.NormalizeToken(w)] = struct{}{}
	}
	for _, w := range rf.WordWhitelist {
		r.wordWhitelist[textutil.NormalizeToken(w)] = struct{}{}
	}
	for _, tld := range rf.SuspiciousTLDs {
		r.suspiciousTLDs[strings.ToLower(strings.TrimPrefix(tld, "."))] = struct{}{}
	}

	for _, p := range rf.ScamBrands {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("bad scam brand pattern %q: %w", p, err)
		}
		r.scamBrands = append(r.scamBrands, re)
	}
	for _, p := range rf.UsernamePatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("bad username pattern %q: %w", p, err)
		}
		r.usernamePatterns = append(r.usernamePatterns, re)
	}

	return r, nil
}

// IsBadWord reports whether a normalized token is blocklisted. Whitelisted
// tokens always pass, which guards against substring false positives.
func (r *Rules) IsBadWord(normalized string) bool {
	if _, ok := r.wordWhitelist[normalized]; ok {
		return false
	}
	_, ok := r.badWords[normalized]
	return ok
}

// MatchScamBrand reports whether a URL matches a known scam-brand pattern.
func (r *Rules) MatchScamBrand(url string) (string, bool) {
	for _, re := range r.scamBrands {
		if re.MatchString(url) {
			return re.String(), true
		}
	}
	return "", false
}

// IsSuspiciousTLD checks a bare TLD ("xyz", not ".xyz").
func (r *Rules) IsSuspiciousTLD(tld string) bool {
	_, ok := r.suspiciousTLDs[strings.ToLower(tld)]
	return ok
}

// MatchUsername reports whether a username matches a known scam pattern.
func (r *Rules) MatchUsername(name string) (string, bool) {
	for _, re := range r.usernamePatterns {
		if re.MatchString(name) {
			return re.String(), true
		}
	}
	return "", false
}

// Store holds the active rule set, reloadable at runtime.
type Store struct {
	current atomic.Pointer[Rules]
	path    string
}

// NewStore compiles the embedded defaults, then overlays the rule file at
// path if one exists.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}

	rules, err := parseAndCompile(defaultRulesYAML)
	if err != nil {
		return nil, fmt.Errorf("embedded rules: %w", err)
	}
	s.current.Store(rules)

	if path != "" {
		if err := s.Reload(); err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	return s, nil
}

// Rules returns the active compiled rule set.
func (s *Store) Rules() *Rules {
	return s.current.Load()
}

// Reload re-reads the rule file and atomically swaps the active set. A file
// that fails to parse leaves the previous set in place.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	rules, err := parseAndCompile(data)
	if err != nil {
		return fmt.Errorf("rule file %s: %w", s.path, err)
	}
	s.current.Store(rules)
	return nil
}

func parseAndCompile(data []byte) (*Rules, error) {
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, err
	}
	return compile(&rf)
}
