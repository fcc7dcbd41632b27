// Package filter implements metadata post-filtering for search results.
//
// A Spec maps a metadata key to one or more candidate values. An item matches
// when, for every key, at least one candidate occurs as a case-insensitive
// substring of the item's stringified field. Dates and years use the same
// rule, so filtering "2019-03-01" by "2019" matches.
package filter

import (
	"net/url"
	"sort"
	"strings"

	"github.com/54b3r/osdr-rag-go/internal/index"
)

// Fielder exposes metadata fields as strings. index.Metadata satisfies it.
type Fielder interface {
	Field(key string) string
}

// Spec is a canonical filter: key → candidates. Candidates are lowercased
// but otherwise kept verbatim, so surrounding spaces take part in the
// substring match. Blank candidates and keys without candidates are never
// present.
type Spec map[string][]string

// Parse canonicalizes a decoded JSON filter object. Scalars become a single
// candidate, lists become OR-candidates, and blank values are dropped.
func Parse(raw map[string]any) Spec {
	spec := Spec{}
	for key, v := range raw {
		spec.add(key, values(v)...)
	}
	return spec
}

// FromQuery builds a Spec from URL query parameters, skipping the given
// reserved keys (e.g. "limit"). Repeated parameters become OR-candidates;
// a value is never split, so "authors=Smith, J" is one candidate.
func FromQuery(q url.Values, reserved ...string) Spec {
	skip := make(map[string]bool, len(reserved))
	for _, r := range reserved {
		skip[r] = true
	}
	spec := Spec{}
	for key, vals := range q {
		if skip[key] {
			continue
		}
		for _, v := range vals {
			spec.add(key, v)
		}
	}
	return spec
}

// FromPairs builds a Spec from "key=value" strings as given on the command
// line. Repeating a key adds an OR-candidate; values are never split.
// Pairs without '=' are ignored.
func FromPairs(pairs []string) Spec {
	spec := Spec{}
	for _, p := range pairs {
		key, val, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		spec.add(key, val)
	}
	return spec
}

// add appends the non-blank candidates to key.
func (s Spec) add(key string, candidates ...string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	for _, c := range candidates {
		if strings.TrimSpace(c) == "" {
			continue
		}
		s[key] = append(s[key], strings.ToLower(c))
	}
}

// values flattens a decoded JSON value into candidate strings.
func values(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, values(e)...)
		}
		return out
	case []string:
		return t
	default:
		return []string{index.Stringify(t)}
	}
}

// Empty reports whether the spec constrains nothing.
func (s Spec) Empty() bool { return len(s) == 0 }

// Keys returns the constrained keys in sorted order.
func (s Spec) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Matches reports whether m satisfies every key of the spec. An empty spec
// matches everything; a missing field compares as "".
func (s Spec) Matches(m Fielder) bool {
	for key, candidates := range s {
		if !anyContained(strings.ToLower(m.Field(key)), candidates) {
			return false
		}
	}
	return true
}

// anyContained reports whether any candidate is a substring of value.
func anyContained(value string, candidates []string) bool {
	for _, c := range candidates {
		if strings.Contains(value, c) {
			return true
		}
	}
	return false
}

// Metadata adapts the spec to index.Store.List.
func (s Spec) Metadata() func(index.Metadata) bool {
	if s.Empty() {
		return nil
	}
	return func(m index.Metadata) bool { return s.Matches(m) }
}
