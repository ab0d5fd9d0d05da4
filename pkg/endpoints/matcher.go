package endpoints

import (
	"sort"
	"strings"

	"github.com/platinummonkey/gatekeeper/pkg/apperrors"
)

const wildcard = "**"

func segments(p string) []string {
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

func isVariable(seg string) bool {
	return len(seg) > 2 && seg[0] == '{' && seg[len(seg)-1] == '}'
}

// ValidatePattern checks that a URL pattern starts with '/', has no empty
// segments, uses {name} for variables and only ends in '**'
func ValidatePattern(pattern string) error {
	if !strings.HasPrefix(pattern, "/") {
		return apperrors.InvalidInput("pattern %q must start with /", pattern)
	}
	if pattern == "/" {
		return nil
	}

	segs := segments(pattern)
	for i, seg := range segs {
		switch {
		case seg == "":
			return apperrors.InvalidInput("pattern %q has an empty segment", pattern)
		case seg == wildcard:
			if i != len(segs)-1 {
				return apperrors.InvalidInput("pattern %q: ** is only allowed as the last segment", pattern)
			}
		case isVariable(seg):
			if strings.ContainsAny(seg[1:len(seg)-1], "{}/*") {
				return apperrors.InvalidInput("pattern %q has a malformed variable %q", pattern, seg)
			}
		case strings.ContainsAny(seg, "{}*"):
			return apperrors.InvalidInput("pattern %q has a malformed segment %q", pattern, seg)
		}
	}
	return nil
}

// MatchPattern reports whether path satisfies pattern. {name} matches one
// non-empty segment and a trailing ** matches any suffix, including none.
func MatchPattern(pattern, path string) bool {
	ps := segments(pattern)
	xs := segments(path)

	if n := len(ps); n > 0 && ps[n-1] == wildcard {
		prefix := ps[:n-1]
		if len(xs) < len(prefix) {
			return false
		}
		return matchSegments(prefix, xs[:len(prefix)])
	}

	if len(ps) != len(xs) {
		return false
	}
	return matchSegments(ps, xs)
}

func matchSegments(ps, xs []string) bool {
	for i, seg := range ps {
		if isVariable(seg) {
			if xs[i] == "" {
				return false
			}
			continue
		}
		if seg != xs[i] {
			return false
		}
	}
	return true
}

// StaticPrefix returns the literal part of a pattern before its first
// variable or wildcard, without a trailing slash. Every path the pattern
// matches starts with it.
func StaticPrefix(pattern string) string {
	var literals []string
	for _, seg := range segments(pattern) {
		if seg == wildcard || isVariable(seg) {
			break
		}
		literals = append(literals, seg)
	}
	return "/" + strings.Join(literals, "/")
}

type specificity struct {
	wildcards int
	variables int
	literals  int
	length    int
}

func specificityOf(pattern string) specificity {
	var s specificity
	for _, seg := range segments(pattern) {
		switch {
		case seg == wildcard:
			s.wildcards++
		case isVariable(seg):
			s.variables++
		default:
			s.literals++
		}
	}
	s.length = len(pattern)
	return s
}

// moreSpecific orders a before b: fewer wildcards, fewer variables, more
// literals, longer pattern, then pattern text
func moreSpecific(a, b string) bool {
	sa, sb := specificityOf(a), specificityOf(b)
	switch {
	case sa.wildcards != sb.wildcards:
		return sa.wildcards < sb.wildcards
	case sa.variables != sb.variables:
		return sa.variables < sb.variables
	case sa.literals != sb.literals:
		return sa.literals > sb.literals
	case sa.length != sb.length:
		return sa.length > sb.length
	default:
		return a < b
	}
}

// SortBySpecificity orders endpoints most specific first
func SortBySpecificity(eps []Endpoint) {
	sort.SliceStable(eps, func(i, j int) bool {
		return moreSpecific(eps[i].PathPattern, eps[j].PathPattern)
	})
}

// FirstMatch returns the most specific endpoint matching path, or nil
func FirstMatch(candidates []Endpoint, path string) *Endpoint {
	SortBySpecificity(candidates)
	for i := range candidates {
		if MatchPattern(candidates[i].PathPattern, path) {
			ep := candidates[i]
			return &ep
		}
	}
	return nil
}
