package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Result is the outcome of one Scrub call. Secret values are never kept.
type Result struct {
	Scrubbed      string         `json:"scrubbed"`
	TotalFindings int            `json:"total_findings"`
	ByRule        map[string]int `json:"by_rule,omitempty"`
}

// HasFindings reports whether anything was redacted.
func (r *Result) HasFindings() bool {
	return r.TotalFindings > 0
}

// RuleIDs returns the sorted ids of the rules that matched.
func (r *Result) RuleIDs() []string {
	ids := make([]string, 0, len(r.ByRule))
	for id := range r.ByRule {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Scrubber detects and redacts secrets from content.
type Scrubber interface {
	Scrub(content string) *Result
	IsEnabled() bool
}

type scrubber struct {
	// gitleaks detectors keep per-scan state
	mu        sync.Mutex
	detector  *detect.Detector
	redaction string
	allow     []*regexp.Regexp
}

// New returns a gitleaks-backed Scrubber. A disabled config yields a
// NoopScrubber.
func New(cfg Config) (Scrubber, error) {
	if !cfg.Enabled {
		return NoopScrubber{}, nil
	}
	allow, err := cfg.compileAllowList()
	if err != nil {
		return nil, err
	}
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	redaction := cfg.RedactionString
	if redaction == "" {
		redaction = DefaultRedactionString
	}
	return &scrubber{detector: detector, redaction: redaction, allow: allow}, nil
}

// Scrub replaces every detected secret with the redaction string.
func (s *scrubber) Scrub(content string) *Result {
	result := &Result{Scrubbed: content, ByRule: map[string]int{}}
	if content == "" {
		return result
	}

	s.mu.Lock()
	findings := s.detector.DetectString(content)
	s.mu.Unlock()

	for _, f := range findings {
		if f.Secret == "" || s.allowed(f.Secret) {
			continue
		}
		result.Scrubbed = strings.ReplaceAll(result.Scrubbed, f.Secret, s.redaction)
		result.TotalFindings++
		result.ByRule[f.RuleID]++
	}
	return result
}

func (s *scrubber) IsEnabled() bool { return true }

func (s *scrubber) allowed(secret string) bool {
	for _, re := range s.allow {
		if re.MatchString(secret) {
			return true
		}
	}
	return false
}

// NoopScrubber returns content unchanged.
type NoopScrubber struct{}

// Scrub returns content unchanged.
func (NoopScrubber) Scrub(content string) *Result {
	return &Result{Scrubbed: content, ByRule: map[string]int{}}
}

// IsEnabled returns false.
func (NoopScrubber) IsEnabled() bool { return false }
