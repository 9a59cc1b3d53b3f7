// Package query answers backlink lookups for a target page, optionally
// narrowed by the namespace of the linking pages.
package query

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/starford/backlinks/internal/index"
	"github.com/starford/backlinks/internal/pageid"
)

const (
	blockOpen  = "{{backlinks>"
	blockClose = "}}"
)

// Request is one backlink lookup.
type Request struct {
	// Context is the page the lookup is made from. It resolves "." and
	// relative targets.
	Context pageid.ID
	// Target is the page reference as written, e.g. ".", "..:intro", "wiki:syntax".
	Target string
	Filter *Filter
}

// Reader is the part of the link index the service reads.
type Reader interface {
	Backlinks(ctx context.Context, target pageid.ID) ([]pageid.ID, error)
}

var _ Reader = (index.LinkIndex)(nil)

// Service resolves requests against the link index.
type Service struct {
	store Reader
	group singleflight.Group
}

// NewService creates a query service over store.
func NewService(store Reader) *Service {
	return &Service{store: store}
}

// Resolve returns the absolute target id of r, or "" when it names no page.
func Resolve(r Request) pageid.ID {
	return pageid.ResolveTarget(r.Target, r.Context)
}

// Query returns the pages linking to the request's target, ordered by id and
// filtered by namespace. An unresolvable target yields an empty result, not an
// error. The returned slice is never nil on success and is owned by the caller.
func (s *Service) Query(ctx context.Context, r Request) ([]pageid.ID, error) {
	target := Resolve(r)
	if target == "" {
		return []pageid.ID{}, nil
	}

	v, err, _ := s.group.Do(string(target), func() (any, error) {
		return s.store.Backlinks(ctx, target)
	})
	if err != nil {
		return nil, fmt.Errorf("query: backlinks of %s: %w", target, err)
	}
	return r.Filter.Apply(v.([]pageid.ID)), nil
}

// Invalidate detaches in-flight lookups of targets, so queries issued after a
// commit read the index again instead of joining a read that began before it.
// Callers invoke it after every committed change, before reporting success.
func (s *Service) Invalidate(targets ...pageid.ID) {
	for _, t := range targets {
		s.group.Forget(string(t))
	}
}

// ParseBlock splits a backlinks block into its target reference and filter.
// It accepts the bare body ("wiki:start#!wiki:hidden") as well as the full
// tag ("{{backlinks>.#ns}}"). The filter is split off before the target is
// resolved, so "#" never reaches id normalisation.
func ParseBlock(s string) (target string, filter *Filter) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, blockOpen); ok {
		s = strings.TrimSuffix(rest, blockClose)
	}
	target, rawFilter, _ := strings.Cut(s, "#")
	return strings.TrimSpace(target), ParseFilter(rawFilter)
}
