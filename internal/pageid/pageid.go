// Package pageid normalises wiki page identifiers and resolves relative references.
//
// A page id is a lower-case path of namespaces separated by ':' with the page
// name as the last segment, e.g. "wiki:syntax". The root namespace is "".
package pageid

import (
	"regexp"
	"strings"
	"unicode"
)

// StartPage is the page a link ending in a namespace separator points to.
const StartPage = "start"

// Sep separates namespaces in a page id.
const Sep = ":"

var (
	sepRunRe        = regexp.MustCompile(`[:._-]*:[:._-]*`)
	underscoreRunRe = regexp.MustCompile(`__+`)
)

// ID is a normalised, absolute page identifier. The zero value means "no page".
type ID string

// String returns the id as a plain string.
func (id ID) String() string { return string(id) }

// Namespace returns everything before the last separator, or "" for root pages.
func (id ID) Namespace() ID {
	if i := strings.LastIndex(string(id), Sep); i >= 0 {
		return id[:i]
	}
	return ""
}

// Name returns the last segment of the id.
func (id ID) Name() string {
	if i := strings.LastIndex(string(id), Sep); i >= 0 {
		return string(id[i+1:])
	}
	return string(id)
}

// Valid reports whether id is non-empty and already in normal form.
func (id ID) Valid() bool {
	return id != "" && Clean(string(id)) == id
}

// Clean normalises raw into a page id. It never fails; input that contains
// nothing usable yields "". Clean is idempotent.
func Clean(raw string) ID {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == ';':
			return ':'
		case unicode.IsSpace(r):
			return '_'
		case r == ':' || r == '_' || r == '.' || r == '-':
			return r
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return r
		}
		return -1
	}, s)
	s = sepRunRe.ReplaceAllString(s, Sep)
	s = underscoreRunRe.ReplaceAllString(s, "_")
	return ID(strings.Trim(s, ":._-"))
}

// ResolveLink resolves a wiki link reference found on page from.
//
//	:a:b      absolute
//	.:b  .b   sibling of from
//	..:b      one namespace up (repeatable)
//	~b        below from itself
//	b         sibling of from (no namespace given)
//	a:b       absolute
//	a:        start page of namespace a
//
// Section anchors and query strings are ignored. The result is "" when the
// reference does not name a page.
func ResolveLink(ref string, from ID) ID {
	ref = normaliseSeps(stripFragment(ref))
	if ref == "" {
		return ""
	}
	ns := from.Namespace()

	switch {
	case strings.HasPrefix(ref, Sep):
		return absolute(ref)
	case strings.HasPrefix(ref, "~"):
		if from == "" {
			return ""
		}
		return absolute(string(from) + Sep + ref[1:])
	case strings.HasPrefix(ref, "."):
		return walkDots(ref, ns)
	case !strings.Contains(ref, Sep):
		return absolute(join(ns, ref))
	}
	return absolute(ref)
}

// ResolveTarget resolves the page argument of a backlinks block rendered in the
// context of page from. "." is from itself; references carrying a relative
// marker (".:", "..:", "~") are resolved against from's namespace; anything
// else is taken as an absolute id.
func ResolveTarget(ref string, from ID) ID {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return ""
	case ref == ".":
		return from
	case strings.Contains(ref, "."+Sep) || strings.HasPrefix(ref, "~"):
		return ResolveLink(ref, from)
	}
	return absolute(normaliseSeps(stripFragment(ref)))
}

// HasNamespacePrefix reports whether id lives in namespace prefix or below it.
// The comparison is case-insensitive and respects segment boundaries, so
// "ns1" matches "ns1:x" and "ns1:sub:y" but not "ns10:x". An empty prefix
// matches every id.
func HasNamespacePrefix(id, prefix ID) bool {
	p := strings.ToLower(strings.Trim(string(prefix), Sep))
	if p == "" {
		return true
	}
	ns := strings.ToLower(string(id.Namespace()))
	return ns == p || strings.HasPrefix(ns, p+Sep)
}

func walkDots(ref string, ns ID) ID {
	var out []string
	if ns != "" {
		out = strings.Split(string(ns), Sep)
	}
	parts := strings.Split(ref, Sep)
	i := 0
walk:
	for ; i < len(parts); i++ {
		switch parts[i] {
		case ".":
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			break walk
		}
	}
	rest := parts[i:]
	if len(rest) == 0 {
		rest = []string{""}
	}
	joined := strings.Join(append(out, rest...), Sep)
	if strings.Trim(joined, Sep) == "" {
		return StartPage
	}
	return absolute(joined)
}

// absolute cleans an absolute reference, expanding a trailing separator to
// the namespace start page.
func absolute(ref string) ID {
	ref = strings.TrimSpace(ref)
	if strings.HasSuffix(ref, Sep) {
		ref += StartPage
	}
	return Clean(ref)
}

func join(ns ID, name string) string {
	if ns == "" {
		return name
	}
	return string(ns) + Sep + name
}

func stripFragment(ref string) string {
	if i := strings.IndexAny(ref, "#?"); i >= 0 {
		ref = ref[:i]
	}
	return strings.TrimSpace(ref)
}

func normaliseSeps(ref string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == ';' {
			return ':'
		}
		return r
	}, ref)
}
