// Package parser extracts outbound page links and the display title from wiki markup.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/starford/backlinks/internal/pageid"
)

// ErrUnparseable is returned for content that is not wiki text at all.
var ErrUnparseable = errors.New("parser: unparseable content")

var (
	linkRe    = regexp.MustCompile(`\[\[(.+?)\]\]`)
	headingRe = regexp.MustCompile(`(?m)^[ \t]*={2,}[ \t]*(.+?)[ \t]*={2,}[ \t]*$`)

	// Regions the renderer prints verbatim; links inside them are not links.
	verbatimRe = regexp.MustCompile(`(?s)<nowiki>.*?</nowiki>|%%.*?%%|<code\b[^>]*>.*?</code>|<file\b[^>]*>.*?</file>|<html>.*?</html>`)

	schemeRe    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)
	emailRe     = regexp.MustCompile(`^<?[^\s@<>]+@[^\s@<>]+\.[^\s@<>]+>?$`)
	interwikiRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+>`)
)

// Result holds what the index needs from one revision of a page.
type Result struct {
	// Links are the resolved targets, sorted, without duplicates and without
	// the page itself.
	Links []pageid.ID
	Title string
}

// Parse extracts links and title from the raw content of page id.
// Relative references are resolved against id.
func Parse(id pageid.ID, data []byte) (*Result, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: invalid UTF-8", ErrUnparseable)
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return nil, fmt.Errorf("%w: binary content", ErrUnparseable)
	}

	text := verbatimRe.ReplaceAllString(string(data), "")
	return &Result{
		Links: extractLinks(id, text),
		Title: deriveTitle(text),
	}, nil
}

// extractLinks returns the deduplicated page targets referenced by text.
// Self references are dropped so a page is never its own backlink.
func extractLinks(self pageid.ID, text string) []pageid.ID {
	matches := linkRe.FindAllStringSubmatch(text, -1)
	seen := make(map[pageid.ID]struct{}, len(matches))
	out := []pageid.ID{}
	for _, m := range matches {
		// [[target|label]] -> target
		ref, _, _ := strings.Cut(m[1], "|")
		ref = strings.TrimSpace(ref)
		if !isPageRef(ref) {
			continue
		}
		target := pageid.ResolveLink(ref, self)
		if target == "" || target == self {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	slices.Sort(out)
	return out
}

// isPageRef filters out link forms that never name a wiki page.
func isPageRef(ref string) bool {
	switch {
	case ref == "":
		return false
	case strings.HasPrefix(ref, `\\`):
		return false
	case schemeRe.MatchString(ref):
		return false
	case strings.HasPrefix(strings.ToLower(ref), "mailto:"):
		return false
	case emailRe.MatchString(ref):
		return false
	case interwikiRe.MatchString(ref):
		return false
	}
	return true
}

// deriveTitle returns the text of the first heading, or "".
func deriveTitle(text string) string {
	if m := headingRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
