package duration

import (
	"sort"
	"strings"
)

// Tier is a skill tier. Tiers are ordered by strength, Bronze lowest.
type Tier string

const (
	TierBronze   Tier = "Bronze"
	TierSilver   Tier = "Silver"
	TierGold     Tier = "Gold"
	TierPlatinum Tier = "Platinum"
	TierDiamond  Tier = "Diamond"
	TierMaster   Tier = "Master"
)

// Tiers lists every known tier from weakest to strongest.
var Tiers = []Tier{TierBronze, TierSilver, TierGold, TierPlatinum, TierDiamond, TierMaster}

// DefaultTier is used for empty or unrecognized rank labels.
const DefaultTier = TierSilver

// index returns the strength index of t, or -1 when unknown.
func (t Tier) index() int {
	for i, known := range Tiers {
		if known == t {
			return i
		}
	}
	return -1
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t.index() >= 0
}

// ParseTier matches a tier name case-insensitively.
func ParseTier(name string) (Tier, bool) {
	for _, known := range Tiers {
		if strings.EqualFold(string(known), strings.TrimSpace(name)) {
			return known, true
		}
	}
	return "", false
}

var divisions = map[string]int{"I": 1, "II": 2, "III": 3, "IV": 4}

// Rank is a parsed rank label such as "Gold II".
// Division is 1..4 with 1 the strongest, or 0 when the label carries none.
type Rank struct {
	Label    string
	Tier     Tier
	Division int
	Known    bool
}

// ParseRank parses a label of the form "<Tier>" or "<Tier> <Division>".
// Unrecognized labels parse as the fallback tier with no division and Known=false.
func ParseRank(label string, fallback Tier) Rank {
	r := Rank{Label: label, Tier: fallback}

	fields := strings.Fields(label)
	if len(fields) == 0 || len(fields) > 2 {
		return r
	}
	tier, ok := ParseTier(fields[0])
	if !ok {
		return r
	}
	division := 0
	if len(fields) == 2 {
		division, ok = divisions[strings.ToUpper(fields[1])]
		if !ok {
			return r
		}
	}

	r.Tier = tier
	r.Division = division
	r.Known = true
	return r
}

// strength orders ranks: tier first, then division with I strongest.
// A tier without a division sorts below every division of that tier.
func (r Rank) strength() int {
	score := r.Tier.index() * 10
	if r.Division > 0 {
		score += 5 - r.Division
	}
	return score
}

// CompareRanks returns -1, 0 or 1 as a is weaker than, equal to or stronger than b.
func CompareRanks(a, b Rank) int {
	sa, sb := a.strength(), b.strength()
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

// MedianRank returns the label of the median rank, ordering labels by skill
// rather than alphabetically. Even counts take the lower middle element.
// Returns "" for an empty input.
func MedianRank(labels []string, fallback Tier) string {
	if len(labels) == 0 {
		return ""
	}

	ranks := make([]Rank, len(labels))
	for i, label := range labels {
		ranks[i] = ParseRank(label, fallback)
	}
	sort.SliceStable(ranks, func(i, j int) bool {
		if c := CompareRanks(ranks[i], ranks[j]); c != 0 {
			return c < 0
		}
		return ranks[i].Label < ranks[j].Label
	})

	return ranks[(len(ranks)-1)/2].Label
}
