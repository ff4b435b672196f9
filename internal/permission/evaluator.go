package permission

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

// Verdict is the outcome for a single candidate.
type Verdict int

const (
	// Visible candidates are released to the requester.
	Visible Verdict = iota
	// ApprovalRequired candidates are held until a human decides.
	ApprovalRequired
	// Hidden candidates are dropped and never shown.
	Hidden
)

// Rule names the first rule that flagged a candidate.
type Rule string

// Rules in evaluation order.
const (
	RuleNone        Rule = ""
	RuleAccessList  Rule = "access_list"
	RuleGeo         Rule = "geo_restricted"
	RuleThirdParty  Rule = "third_party_restricted"
	RuleUnknownTier Rule = "unknown_tier"
)

const maxReasonEntries = 5

// Flag describes a candidate that needs approval, by title or id only.
type Flag struct {
	ID         string
	Descriptor string
	Rule       Rule
}

// Decision is the partition of a candidate list.
type Decision struct {
	Filtered  []conversation.Candidate
	Sensitive []conversation.Candidate
	Hidden    int
	// UnlabelledIDs are the hidden candidates that carried no known tier.
	UnlabelledIDs    []string
	ApprovalRequired bool
	Reason           string
	Flags            []Flag
}

// FlaggedIDs returns the ids of the candidates awaiting approval.
func (d Decision) FlaggedIDs() []string {
	ids := make([]string, len(d.Flags))
	for i, f := range d.Flags {
		ids[i] = f.ID
	}
	return ids
}

// Evaluator applies a Policy. The policy can be swapped at runtime.
type Evaluator struct {
	mu     sync.RWMutex
	policy *compiled
}

// NewEvaluator validates p and returns an Evaluator for it.
func NewEvaluator(p Policy) (*Evaluator, error) {
	c, err := compile(p)
	if err != nil {
		return nil, err
	}
	return &Evaluator{policy: c}, nil
}

// Update replaces the active policy. An invalid policy leaves the current
// one in place.
func (e *Evaluator) Update(p Policy) error {
	c, err := compile(p)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.policy = c
	e.mu.Unlock()
	return nil
}

// Check classifies one candidate. Rules are evaluated in order; the first
// match wins.
func (e *Evaluator) Check(cand conversation.Candidate, r conversation.Requester) (Verdict, Rule) {
	e.mu.RLock()
	p := e.policy
	e.mu.RUnlock()
	return p.check(cand, r.WithDefaults())
}

func (p *compiled) check(cand conversation.Candidate, r conversation.Requester) (Verdict, Rule) {
	if !cand.Tier.Known() {
		return Hidden, RuleUnknownTier
	}
	if _, sensitive := p.sensitive[cand.Tier]; sensitive && !p.hasAccess(cand, r) {
		return ApprovalRequired, RuleAccessList
	}
	if cand.GeoRestricted {
		if _, exempt := p.exempt[strings.ToUpper(r.Location)]; !exempt {
			return ApprovalRequired, RuleGeo
		}
	}
	if cand.ThirdPartyRestricted {
		if _, restricted := p.restricted[normalizeEmployment(r.EmploymentType)]; restricted {
			return ApprovalRequired, RuleThirdParty
		}
	}
	return Visible, RuleNone
}

// Evaluate partitions candidates into visible and approval-required lists.
// Their union is the input minus hidden items, and input order is kept.
func (e *Evaluator) Evaluate(candidates []conversation.Candidate, r conversation.Requester) Decision {
	e.mu.RLock()
	p := e.policy
	e.mu.RUnlock()
	r = r.WithDefaults()

	d := Decision{
		Filtered:  make([]conversation.Candidate, 0, len(candidates)),
		Sensitive: []conversation.Candidate{},
	}
	for _, cand := range candidates {
		verdict, rule := p.check(cand, r)
		switch verdict {
		case Visible:
			d.Filtered = append(d.Filtered, cand)
		case ApprovalRequired:
			d.Sensitive = append(d.Sensitive, cand)
			d.Flags = append(d.Flags, Flag{ID: cand.ID, Descriptor: cand.Descriptor(), Rule: rule})
		case Hidden:
			d.Hidden++
			if rule == RuleUnknownTier {
				d.UnlabelledIDs = append(d.UnlabelledIDs, cand.ID)
			}
		}
	}

	if len(d.Sensitive) > 0 {
		d.ApprovalRequired = true
		d.Reason = reason(d.Flags)
	}
	return d
}

// reason lists the count and descriptors of flagged items. Content is
// never included.
func reason(flags []Flag) string {
	names := make([]string, 0, min(len(flags), maxReasonEntries))
	for i, f := range flags {
		if i == maxReasonEntries {
			break
		}
		names = append(names, f.Descriptor)
	}
	s := fmt.Sprintf("%d result(s) require approval: %s", len(flags), strings.Join(names, ", "))
	if extra := len(flags) - len(names); extra > 0 {
		s += fmt.Sprintf(" and %d more", extra)
	}
	return s
}
