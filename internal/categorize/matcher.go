// Package categorize assigns categories to transaction descriptions from an
// ordered set of pattern rules.
package categorize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Match types understood by the matcher.
const (
	MatchContains = "contains"
	MatchExact    = "exact"
	MatchPrefix   = "prefix"
	MatchRegex    = "regex"
)

// MatchTypes lists the valid match types.
var MatchTypes = []string{MatchContains, MatchExact, MatchPrefix, MatchRegex}

// ValidMatchType reports whether t is a known match type.
func ValidMatchType(t string) bool {
	for _, v := range MatchTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Rule maps a description pattern to a category.
type Rule struct {
	ID           int64
	CategoryID   int64
	CategoryName string
	Pattern      string
	MatchType    string
	Priority     int
	Enabled      bool
}

// RuleError describes a rule that could not be evaluated.
type RuleError struct {
	RuleID  int64  `json:"rule_id"`
	Pattern string `json:"pattern"`
	Err     string `json:"error"`
}

func (e RuleError) Error() string {
	return fmt.Sprintf("rule %d (%q): %s", e.RuleID, e.Pattern, e.Err)
}

// Result is the outcome of categorizing one description.
type Result struct {
	CategoryID   int64 // 0 when the fallback applies
	CategoryName string
	RuleID       int64 // 0 when nothing matched
	Matched      bool
	// Skipped lists malformed rules that ranked ahead of the outcome.
	Skipped []RuleError
}

type compiledRule struct {
	Rule
	pattern string
	re      *regexp.Regexp
	err     *RuleError
}

// Matcher evaluates a fixed rule set. It is safe for concurrent use.
type Matcher struct {
	rules    []compiledRule
	fallback string
	errs     []RuleError
}

// NewMatcher orders the enabled rules by priority (highest first, ties by id)
// and compiles regex patterns once. Rules that fail to compile are kept in
// place so callers can see which descriptions they might have affected.
func NewMatcher(rules []Rule, fallback string) *Matcher {
	m := &Matcher{fallback: fallback}
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		cr := compiledRule{Rule: r, pattern: strings.ToLower(strings.TrimSpace(r.Pattern))}
		switch r.MatchType {
		case MatchRegex:
			re, err := regexp.Compile("(?i)" + r.Pattern)
			if err != nil {
				cr.err = &RuleError{RuleID: r.ID, Pattern: r.Pattern, Err: err.Error()}
			}
			cr.re = re
		case MatchContains, MatchExact, MatchPrefix, "":
			if cr.pattern == "" {
				cr.err = &RuleError{RuleID: r.ID, Pattern: r.Pattern, Err: "empty pattern"}
			}
		default:
			cr.err = &RuleError{RuleID: r.ID, Pattern: r.Pattern, Err: "unknown match type " + r.MatchType}
		}
		m.rules = append(m.rules, cr)
	}
	sort.SliceStable(m.rules, func(i, j int) bool {
		if m.rules[i].Priority != m.rules[j].Priority {
			return m.rules[i].Priority > m.rules[j].Priority
		}
		return m.rules[i].ID < m.rules[j].ID
	})
	for _, r := range m.rules {
		if r.err != nil {
			m.errs = append(m.errs, *r.err)
		}
	}
	return m
}

// Errors returns the rules that were skipped as malformed, in evaluation order.
func (m *Matcher) Errors() []RuleError {
	return append([]RuleError(nil), m.errs...)
}

// Fallback returns the name used when no rule matches.
func (m *Matcher) Fallback() string { return m.fallback }

// Categorize returns the first matching rule's category or the fallback.
func (m *Matcher) Categorize(description string) Result {
	desc := strings.ToLower(strings.TrimSpace(description))
	var skipped []RuleError
	for _, r := range m.rules {
		if r.err != nil {
			skipped = append(skipped, *r.err)
			continue
		}
		if !r.matches(description, desc) {
			continue
		}
		return Result{
			CategoryID:   r.CategoryID,
			CategoryName: r.CategoryName,
			RuleID:       r.ID,
			Matched:      true,
			Skipped:      skipped,
		}
	}
	return Result{CategoryName: m.fallback, Skipped: skipped}
}

func (r compiledRule) matches(raw, lower string) bool {
	switch r.MatchType {
	case MatchExact:
		return lower == r.pattern
	case MatchPrefix:
		return strings.HasPrefix(lower, r.pattern)
	case MatchRegex:
		return r.re.MatchString(raw)
	default:
		return strings.Contains(lower, r.pattern)
	}
}

// Categorize is a one-shot helper returning only the category name.
func Categorize(description string, rules []Rule, fallback string) string {
	return NewMatcher(rules, fallback).Categorize(description).CategoryName
}

// ValidatePattern checks that pattern can be evaluated under matchType.
func ValidatePattern(pattern, matchType string) error {
	if !ValidMatchType(matchType) {
		return fmt.Errorf("unknown match type %q", matchType)
	}
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("pattern is empty")
	}
	if matchType == MatchRegex {
		if _, err := regexp.Compile("(?i)" + pattern); err != nil {
			return err
		}
	}
	return nil
}
