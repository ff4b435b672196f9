// Package permission partitions retrieved candidates by sensitivity against
// the requester's attributes and decides whether a human approval gate is
// required.
package permission

import (
	"fmt"
	"slices"
	"strings"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

// Policy configures the sensitivity rules.
type Policy struct {
	// SensitiveTiers require a match against the candidate's access list.
	SensitiveTiers []string `toml:"sensitive_tiers" koanf:"sensitive_tiers"`
	// ExemptLocations are allowed to see geo-restricted items.
	ExemptLocations []string `toml:"exempt_locations" koanf:"exempt_locations"`
	// RestrictedEmploymentTypes may not see third-party-restricted items.
	RestrictedEmploymentTypes []string `toml:"restricted_employment_types" koanf:"restricted_employment_types"`
}

// DefaultPolicy returns the built-in rules.
func DefaultPolicy() Policy {
	return Policy{
		SensitiveTiers:  []string{string(conversation.TierConfidential), string(conversation.TierRestricted)},
		ExemptLocations: []string{conversation.DefaultLocation},
		RestrictedEmploymentTypes: []string{
			conversation.EmploymentContractor,
			conversation.EmploymentVendor,
			conversation.EmploymentThirdParty,
		},
	}
}

// Validate reports malformed policies as ConfigurationError.
func (p Policy) Validate() error {
	if len(p.SensitiveTiers) == 0 {
		return &conversation.ConfigurationError{Key: "permission.sensitive_tiers", Reason: "must list at least one tier"}
	}
	for _, t := range p.SensitiveTiers {
		tier, ok := conversation.ParseTier(t)
		if !ok {
			return &conversation.ConfigurationError{Key: "permission.sensitive_tiers", Reason: fmt.Sprintf("unknown tier %q", t)}
		}
		if tier == conversation.TierPublic {
			return &conversation.ConfigurationError{Key: "permission.sensitive_tiers", Reason: "public cannot be sensitive"}
		}
	}
	for _, loc := range p.ExemptLocations {
		if strings.TrimSpace(loc) == "" {
			return &conversation.ConfigurationError{Key: "permission.exempt_locations", Reason: "contains an empty location"}
		}
	}
	for _, et := range p.RestrictedEmploymentTypes {
		if strings.TrimSpace(et) == "" {
			return &conversation.ConfigurationError{Key: "permission.restricted_employment_types", Reason: "contains an empty employment type"}
		}
	}
	return nil
}

// compiled is the lookup form of a validated Policy.
type compiled struct {
	sensitive  map[conversation.Tier]struct{}
	exempt     map[string]struct{}
	restricted map[string]struct{}
}

func compile(p Policy) (*compiled, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	c := &compiled{
		sensitive:  make(map[conversation.Tier]struct{}, len(p.SensitiveTiers)),
		exempt:     make(map[string]struct{}, len(p.ExemptLocations)),
		restricted: make(map[string]struct{}, len(p.RestrictedEmploymentTypes)),
	}
	for _, t := range p.SensitiveTiers {
		tier, _ := conversation.ParseTier(t)
		c.sensitive[tier] = struct{}{}
	}
	for _, loc := range p.ExemptLocations {
		c.exempt[strings.ToUpper(strings.TrimSpace(loc))] = struct{}{}
	}
	for _, et := range p.RestrictedEmploymentTypes {
		c.restricted[normalizeEmployment(et)] = struct{}{}
	}
	return c, nil
}

func normalizeEmployment(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

func (c *compiled) hasAccess(cand conversation.Candidate, r conversation.Requester) bool {
	if slices.Contains(cand.Users, r.ID) {
		return true
	}
	for _, team := range r.Teams {
		if slices.Contains(cand.Teams, team) {
			return true
		}
	}
	return false
}
