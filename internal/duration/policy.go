// Package duration maps skill ranks to phase time budgets.
//
// Stronger tiers get less time. Sessions use the median rank of their real
// participants to pick a single budget for everyone.
package duration

import (
	"fmt"

	"github.com/dyluth/quill/pkg/session"
)

// Durations holds the per-phase budget of one tier, in seconds.
type Durations struct {
	Draft    int `yaml:"draft"`
	Feedback int `yaml:"feedback"`
	Revision int `yaml:"revision"`
}

// For returns the budget for phase, or 0 for an unknown phase.
func (d Durations) For(phase session.Phase) int {
	switch phase {
	case session.PhaseDraft:
		return d.Draft
	case session.PhaseFeedback:
		return d.Feedback
	case session.PhaseRevision:
		return d.Revision
	default:
		return 0
	}
}

// DefaultDurations is the built-in tier table.
var DefaultDurations = map[Tier]Durations{
	TierBronze:   {Draft: 1200, Feedback: 600, Revision: 900},
	TierSilver:   {Draft: 1080, Feedback: 540, Revision: 840},
	TierGold:     {Draft: 960, Feedback: 480, Revision: 780},
	TierPlatinum: {Draft: 840, Feedback: 420, Revision: 720},
	TierDiamond:  {Draft: 720, Feedback: 360, Revision: 660},
	TierMaster:   {Draft: 600, Feedback: 300, Revision: 600},
}

// Policy resolves rank labels to phase durations. Safe for concurrent use
// once constructed; it is never mutated.
type Policy struct {
	tiers       map[Tier]Durations
	defaultTier Tier
}

// DefaultPolicy returns the built-in table with Silver as the default tier.
func DefaultPolicy() *Policy {
	p, _ := NewPolicy(string(DefaultTier), nil)
	return p
}

// NewPolicy builds a policy from the default table with per-tier overrides.
// Override keys and defaultTier are tier names, matched case-insensitively.
func NewPolicy(defaultTier string, overrides map[string]Durations) (*Policy, error) {
	def, ok := ParseTier(defaultTier)
	if !ok {
		return nil, fmt.Errorf("unknown default tier: %q", defaultTier)
	}

	tiers := make(map[Tier]Durations, len(DefaultDurations))
	for tier, d := range DefaultDurations {
		tiers[tier] = d
	}
	for name, d := range overrides {
		tier, ok := ParseTier(name)
		if !ok {
			return nil, fmt.Errorf("unknown tier in duration overrides: %q", name)
		}
		if d.Draft < 0 || d.Feedback < 0 || d.Revision < 0 {
			return nil, fmt.Errorf("tier %s: durations must be >= 0", tier)
		}
		tiers[tier] = d
	}

	return &Policy{tiers: tiers, defaultTier: def}, nil
}

// DefaultTier returns the tier used for unrecognized labels.
func (p *Policy) DefaultTier() Tier {
	return p.defaultTier
}

// PhaseDuration returns the budget in seconds for a rank label and phase.
// Unrecognized labels resolve to the default tier.
func (p *Policy) PhaseDuration(rank string, phase session.Phase) int {
	r := ParseRank(rank, p.defaultTier)
	return p.tiers[r.Tier].For(phase)
}

// MedianRank returns the median of labels under this policy's default tier.
func (p *Policy) MedianRank(labels []string) string {
	return MedianRank(labels, p.defaultTier)
}

// SessionDuration returns the budget for phase derived from the median rank
// of the given labels.
func (p *Policy) SessionDuration(labels []string, phase session.Phase) int {
	return p.PhaseDuration(p.MedianRank(labels), phase)
}
