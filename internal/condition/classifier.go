// Package condition extracts a card condition grade from listing text.
package condition

import (
	"regexp"
	"strconv"
	"strings"

	"dealscout/internal/domain"
)

// Match is the result of classifying listing text.
type Match struct {
	Condition   domain.Condition
	Confidence  float64 // 0-1
	MatchedTerm string
	Source      string // "graded", "explicit", "pattern", "mapping", "none"
}

type patternSet struct {
	condition domain.Condition
	patterns  []*regexp.Regexp
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(`(?i)`+e))
	}
	return out
}

// Explicit condition terms, checked best grade first. The first set with a
// match wins, so "lightly used" resolves LP before the looser MP "used".
var explicitSets = []patternSet{
	{domain.ConditionNM, compileAll(
		`\b(NM|N/M|N\.M\.?)\b`,
		`\bnear\s*mint\b`,
		`\bmint\s*condition\b`,
		`\bpack\s*fresh\b`,
		`\bfactory\s*fresh\b`,
	)},
	{domain.ConditionLP, compileAll(
		`\b(LP|L/P|L\.P\.?)\b`,
		`\blightly\s*played\b`,
		`\blight(ly)?\s*used\b`,
		`\bexcellent\b`,
		`\bexc\b`,
	)},
	{domain.ConditionMP, compileAll(
		`\b(MP|M/P|M\.P\.?)\b`,
		`\bmoderately\s*played\b`,
		`\bmod(erate)?\s*play\b`,
		`\bgood\s*condition\b`,
		`\bused\b`,
	)},
	{domain.ConditionHP, compileAll(
		`\b(HP|H/P|H\.P\.?)\b`,
		`\bheavily\s*played\b`,
		`\bheavy\s*play\b`,
		`\bwell\s*loved\b`,
		`\bwell\s*played\b`,
	)},
	{domain.ConditionDMG, compileAll(
		`\b(DMG|DAMAGED)\b`,
		`\bdamaged\b`,
		`\bpoor\s*condition\b`,
		`\bjunk\b`,
	)},
}

// Damage indicators, checked all together; the most severe match wins.
var damageSets = []struct {
	condition  domain.Condition
	confidence float64
	patterns   []*regexp.Regexp
}{
	{domain.ConditionLP, 0.7, compileAll(
		`\bminor\s*wear\b`,
		`\blight\s*whitening\b`,
		`\bsmall\s*scratch\b`,
		`\bedge\s*wear\b`,
	)},
	{domain.ConditionMP, 0.7, compileAll(
		`\bwhitening\b`,
		`\bscratched?\b`,
		`\bcorner\s*wear\b`,
		`\bsurface\s*wear\b`,
		`\bscuffed?\b`,
	)},
	{domain.ConditionHP, 0.75, compileAll(
		`\bcreased?\b`,
		`\bbent\b`,
		`\bdent(ed)?\b`,
		`\bheavy\s*wear\b`,
		`\bfaded\b`,
	)},
	{domain.ConditionDMG, 0.8, compileAll(
		`\btorn\b`,
		`\btear\b`,
		`\bwater\s*damage\b`,
		`\bmold\b`,
		`\bmissing\s*(corner|piece)\b`,
		`\bhole\b`,
	)},
}

var gradedPatterns = compileAll(
	`\b(PSA|CGC|BGS|SGC)\s*(\d+(?:\.\d)?)\b`,
	`\bgraded\s*(\d+(?:\.\d)?)\b`,
	`\b(\d+(?:\.\d)?)\s*grade\b`,
)

// gradeBand maps a numeric slab grade to a raw-card condition band.
func gradeBand(grade float64) (domain.Condition, bool) {
	switch {
	case grade > 10:
		return domain.ConditionUnknown, false
	case grade >= 9:
		return domain.ConditionNM, true
	case grade >= 8:
		return domain.ConditionLP, true
	case grade >= 6:
		return domain.ConditionMP, true
	case grade >= 4:
		return domain.ConditionHP, true
	case grade >= 0:
		return domain.ConditionDMG, true
	default:
		return domain.ConditionUnknown, false
	}
}

// Marketplace condition-field strings and common shorthand.
var rawMappings = map[string]domain.Condition{
	"nm": domain.ConditionNM, "near mint": domain.ConditionNM,
	"mint": domain.ConditionNM, "m": domain.ConditionNM,
	"pack fresh": domain.ConditionNM,
	"lp":         domain.ConditionLP, "lightly played": domain.ConditionLP,
	"excellent": domain.ConditionLP, "exc": domain.ConditionLP,
	"mp": domain.ConditionMP, "moderately played": domain.ConditionMP,
	"good": domain.ConditionMP, "gd": domain.ConditionMP,
	"hp": domain.ConditionHP, "heavily played": domain.ConditionHP,
	"played": domain.ConditionHP,
	"dmg":    domain.ConditionDMG, "damaged": domain.ConditionDMG,
	"poor": domain.ConditionDMG,
}

// Classifier extracts card conditions from listing text. The zero value is
// not usable; construct with New.
type Classifier struct{}

// New creates a Classifier.
func New() *Classifier { return &Classifier{} }

// Classify determines the condition from title and description. Strategies
// run in reliability order: graded-slab detection, explicit condition terms,
// then damage indicators. When nothing matches the result is
// ConditionUnknown; callers must not substitute a grade for it.
func (c *Classifier) Classify(title, description string) Match {
	text := strings.TrimSpace(title + " " + description)

	if m, ok := c.checkGraded(text); ok {
		return m
	}
	if m, ok := c.checkExplicit(text); ok {
		return m
	}
	if m, ok := c.checkDamage(text); ok {
		return m
	}
	return Match{Condition: domain.ConditionUnknown, Source: "none"}
}

// Normalize resolves a marketplace condition-field string. Unlike Classify
// it sees structured data, so it consults the shorthand table before
// falling back to full text classification.
func (c *Classifier) Normalize(raw string) domain.Condition {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return domain.ConditionUnknown
	}
	if cond, ok := rawMappings[strings.ToLower(trimmed)]; ok {
		return cond
	}
	if cond := domain.Condition(strings.ToUpper(trimmed)); cond.IsValid() {
		return cond
	}
	return c.Classify(trimmed, "").Condition
}

func (c *Classifier) checkGraded(text string) (Match, bool) {
	for _, p := range gradedPatterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		gradeStr := m[len(m)-1]
		if gradeStr == "" && len(m) > 2 {
			gradeStr = m[len(m)-2]
		}
		grade, err := strconv.ParseFloat(gradeStr, 64)
		if err != nil {
			continue
		}
		if cond, ok := gradeBand(grade); ok {
			return Match{Condition: cond, Confidence: 0.95, MatchedTerm: m[0], Source: "graded"}, true
		}
	}
	return Match{}, false
}

func (c *Classifier) checkExplicit(text string) (Match, bool) {
	for _, set := range explicitSets {
		for _, p := range set.patterns {
			if m := p.FindString(text); m != "" {
				return Match{Condition: set.condition, Confidence: 0.9, MatchedTerm: m, Source: "explicit"}, true
			}
		}
	}
	return Match{}, false
}

func (c *Classifier) checkDamage(text string) (Match, bool) {
	var found Match
	var ok bool
	for _, set := range damageSets {
		for _, p := range set.patterns {
			if m := p.FindString(text); m != "" {
				// Later sets are more severe; keep the worst hit.
				found = Match{Condition: set.condition, Confidence: set.confidence, MatchedTerm: m, Source: "pattern"}
				ok = true
				break
			}
		}
	}
	return found, ok
}
