// Package patterns holds the ordered regular-expression tables used to pull
// narrow, high-precision facts out of clause text.
//
// Every table is plain data: an ordered list of rules, each a matcher, an
// optional list of excluders, a confidence and a value builder. Tables are
// evaluated first-match-wins, so rule order is significant.
package patterns

import (
	"regexp"
	"strings"
)

// Rule is one row of a pattern table.
type Rule[T any] struct {
	// Name identifies the rule in provenance records.
	Name string

	Pattern *regexp.Regexp

	// Exclude skips this rule when any excluder matches the clause.
	Exclude []*regexp.Regexp

	Confidence float64

	// Build turns the submatches of Pattern into a value.
	// Returning false lets evaluation continue with the next rule.
	Build func(groups []string) (T, bool)
}

// Table is an ordered list of rules for one field.
type Table[T any] struct {
	Field string

	// Exclude disables the whole table for a clause.
	Exclude []*regexp.Regexp

	Rules []Rule[T]
}

// Match is the result of a successful table lookup.
type Match[T any] struct {
	Value      T
	Rule       string
	Span       string
	Confidence float64
}

// First evaluates the table against text and returns the first rule that fires.
func (t *Table[T]) First(text string) (Match[T], bool) {
	var zero Match[T]
	if anyMatch(t.Exclude, text) {
		return zero, false
	}
	for _, r := range t.Rules {
		if anyMatch(r.Exclude, text) {
			continue
		}
		groups := r.Pattern.FindStringSubmatch(text)
		if groups == nil {
			continue
		}
		v, ok := r.Build(groups)
		if !ok {
			continue
		}
		return Match[T]{
			Value:      v,
			Rule:       r.Name,
			Span:       strings.TrimSpace(groups[0]),
			Confidence: r.Confidence,
		}, true
	}
	return zero, false
}

// Excluded reports whether the table-level excluders reject text.
func (t *Table[T]) Excluded(text string) bool {
	return anyMatch(t.Exclude, text)
}

func anyMatch(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// always builds a constant value regardless of submatches.
func always[T any](v T) func([]string) (T, bool) {
	return func([]string) (T, bool) { return v, true }
}
