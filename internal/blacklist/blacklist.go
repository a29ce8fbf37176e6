// Package blacklist rejects listings that can never be deals: proxies and
// fakes, low-value bulk noise, and digital items. Rejection is terminal;
// a rejected listing is counted and dropped, never recorded.
package blacklist

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Category labels why a listing was rejected.
type Category string

const (
	CategoryProxyFake Category = "proxy_fake"
	CategoryLowValue  Category = "low_value_noise"
	CategoryDigital   Category = "digital_item"
	CategoryCustom    Category = "custom_rule"
)

// Verdict is the outcome of checking a listing against the rule table.
type Verdict struct {
	Allowed    bool
	Matched    []string
	Category   Category
	Confidence float64
}

// Rules is the data form of the blacklist, loadable from YAML. Keywords
// containing a space are matched as substrings; single words match on word
// boundaries so "code" never hits "barcode". ExactTitles match the whole
// title after trimming and lowercasing.
type Rules struct {
	ProxyFake   []string `yaml:"proxy_fake"`
	LowValue    []string `yaml:"low_value"`
	Digital     []string `yaml:"digital"`
	Custom      []string `yaml:"custom"`
	ExactTitles []string `yaml:"exact_titles"`
}

// DefaultRules is the built-in rule set.
func DefaultRules() Rules {
	return Rules{
		ProxyFake: []string{
			"proxy", "replica", "reprint", "handmade", "tribute",
			"non-official", "unofficial", "custom", "orica", "fake",
			"bootleg", "chinese fake", "not real", "fan made", "fan-made",
		},
		LowValue: []string{
			"mystery bundle", "unsearched", "energy cards", "code cards",
			"bulk lot", "common lot", "junk lot", "damaged lot",
			"play set", "starter deck", "theme deck", "energy lot",
			"trainer lot", "common bundle", "uncommon bundle",
		},
		Digital: []string{
			"digital card", "tcg online code", "ptcgo", "tcg live",
			"online code", "redemption code", "code card", "digital code",
			"ptcgl", "pokemon tcg live", "tcgo code",
		},
	}
}

// Merge returns a copy of r with extra's entries appended per category.
func (r Rules) Merge(extra Rules) Rules {
	out := Rules{
		ProxyFake:   append(append([]string{}, r.ProxyFake...), extra.ProxyFake...),
		LowValue:    append(append([]string{}, r.LowValue...), extra.LowValue...),
		Digital:     append(append([]string{}, r.Digital...), extra.Digital...),
		Custom:      append(append([]string{}, r.Custom...), extra.Custom...),
		ExactTitles: append(append([]string{}, r.ExactTitles...), extra.ExactTitles...),
	}
	return out
}

// LoadRulesFile parses a YAML rule file.
func LoadRulesFile(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules file: %w", err)
	}
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("parse rules file: %w", err)
	}
	return r, nil
}

type keywordMatcher struct {
	keyword  string
	phrase   bool           // substring match
	boundary *regexp.Regexp // word-boundary match when not a phrase
}

func newKeywordMatcher(keyword string) keywordMatcher {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if strings.Contains(kw, " ") {
		return keywordMatcher{keyword: kw, phrase: true}
	}
	return keywordMatcher{
		keyword:  kw,
		boundary: regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`),
	}
}

func (m keywordMatcher) matches(lowerText string) bool {
	if m.phrase {
		return strings.Contains(lowerText, m.keyword)
	}
	return m.boundary.MatchString(lowerText)
}

// Structural patterns that indicate non-genuine product regardless of the
// keyword table.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bnot\s+(?:real|genuine|authentic)\b`),
	regexp.MustCompile(`(?i)\bcustom\s+(?:made|art|print)\b`),
	regexp.MustCompile(`(?i)\bfan\s*-?\s*art\b`),
	regexp.MustCompile(`(?i)\breproduction\b`),
	regexp.MustCompile(`(?i)\b(?:home|self)\s*-?\s*printed?\b`),
}

type ruleTable struct {
	categories  []categoryMatchers
	exactTitles map[string]struct{}
}

type categoryMatchers struct {
	category Category
	matchers []keywordMatcher
}

func compile(r Rules) *ruleTable {
	build := func(cat Category, keywords []string) categoryMatchers {
		ms := make([]keywordMatcher, 0, len(keywords))
		for _, kw := range keywords {
			if strings.TrimSpace(kw) == "" {
				continue
			}
			ms = append(ms, newKeywordMatcher(kw))
		}
		return categoryMatchers{category: cat, matchers: ms}
	}

	exact := make(map[string]struct{}, len(r.ExactTitles))
	for _, t := range r.ExactTitles {
		exact[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}

	// Category order is severity order; the first category with a match
	// names the verdict.
	return &ruleTable{
		categories: []categoryMatchers{
			build(CategoryProxyFake, r.ProxyFake),
			build(CategoryDigital, r.Digital),
			build(CategoryLowValue, r.LowValue),
			build(CategoryCustom, r.Custom),
		},
		exactTitles: exact,
	}
}

// Filter checks listings against a swappable rule table. Safe for
// concurrent use; Reload replaces the table atomically.
type Filter struct {
	table atomic.Pointer[ruleTable]
}

// New creates a Filter from the given rules.
func New(rules Rules) *Filter {
	f := &Filter{}
	f.table.Store(compile(rules))
	return f
}

// NewDefault creates a Filter with the built-in rule set.
func NewDefault() *Filter {
	return New(DefaultRules())
}

// Reload replaces the rule table. In-flight Check calls finish against the
// table they started with.
func (f *Filter) Reload(rules Rules) {
	f.table.Store(compile(rules))
}

// Check evaluates a listing. The returned verdict carries every matched
// term, the most severe matching category, and a confidence that grows
// with the match count.
func (f *Filter) Check(title, description string) Verdict {
	table := f.table.Load()
	lowerTitle := strings.ToLower(strings.TrimSpace(title))
	lowerText := strings.ToLower(title + " " + description)

	if _, ok := table.exactTitles[lowerTitle]; ok {
		return Verdict{
			Allowed:    false,
			Matched:    []string{title},
			Category:   CategoryCustom,
			Confidence: 1.0,
		}
	}

	var matched []string
	var category Category
	proxyHit := false
	for _, cm := range table.categories {
		for _, m := range cm.matchers {
			if m.matches(lowerText) {
				matched = append(matched, m.keyword)
				if category == "" {
					category = cm.category
				}
				if cm.category == CategoryProxyFake {
					proxyHit = true
				}
			}
		}
	}

	for _, p := range suspiciousPatterns {
		if m := p.FindString(lowerText); m != "" {
			matched = append(matched, m)
			if category == "" {
				category = CategoryCustom
			}
		}
	}

	if len(matched) == 0 {
		return Verdict{Allowed: true, Confidence: 1.0}
	}

	confidence := 0.5 + float64(len(matched))*0.15
	if proxyHit {
		confidence += 0.2
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return Verdict{
		Allowed:    false,
		Matched:    matched,
		Category:   category,
		Confidence: confidence,
	}
}

// Allowed reports whether the listing passes the filter.
func (f *Filter) Allowed(title, description string) bool {
	return f.Check(title, description).Allowed
}

// Stats reports the size of the active rule table.
func (f *Filter) Stats() map[string]int {
	table := f.table.Load()
	out := make(map[string]int, len(table.categories)+2)
	for _, cm := range table.categories {
		out[string(cm.category)] = len(cm.matchers)
	}
	out["exact_titles"] = len(table.exactTitles)
	out["patterns"] = len(suspiciousPatterns)
	return out
}
