package query

import (
	"strings"

	"github.com/starford/backlinks/internal/pageid"
)

// Polarity says whether a Filter keeps or drops matching pages.
type Polarity int

const (
	Include Polarity = iota
	Exclude
)

// Filter restricts backlinks by the namespace of the linking page.
type Filter struct {
	Prefix   pageid.ID
	Polarity Polarity
}

// ParseFilter parses "[!]namespace". A leading "!" selects Exclude. It returns
// nil when s names no namespace.
func ParseFilter(s string) *Filter {
	s = strings.TrimSpace(s)
	pol := Include
	if strings.HasPrefix(s, "!") {
		pol = Exclude
		s = s[1:]
	}
	prefix := pageid.Clean(s)
	if prefix == "" {
		return nil
	}
	return &Filter{Prefix: prefix, Polarity: pol}
}

// Match reports whether id survives the filter. A nil filter matches all.
func (f *Filter) Match(id pageid.ID) bool {
	if f == nil {
		return true
	}
	in := pageid.HasNamespacePrefix(id, f.Prefix)
	if f.Polarity == Exclude {
		return !in
	}
	return in
}

// Apply returns the ids that survive the filter, preserving order.
// It does not modify ids and never returns nil.
func (f *Filter) Apply(ids []pageid.ID) []pageid.ID {
	out := make([]pageid.ID, 0, len(ids))
	for _, id := range ids {
		if f.Match(id) {
			out = append(out, id)
		}
	}
	return out
}

// String renders the filter back in block syntax.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	if f.Polarity == Exclude {
		return "!" + f.Prefix.String()
	}
	return f.Prefix.String()
}
