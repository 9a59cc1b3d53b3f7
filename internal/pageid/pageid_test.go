package pageid

import "testing"

func TestClean(t *testing.T) {
	cases := map[string]ID{
		"Wiki:Syntax":          "wiki:syntax",
		"  spaced name ":       "spaced_name",
		"a/b;c":                "a:b:c",
		":leading:colon":       "leading:colon",
		"trailing:":            "trailing",
		"a::b":                 "a:b",
		"a_:_b":                "a:b",
		"a___b":                "a_b",
		"a:..:b":               "a:b",
		"../../etc/passwd":     "etc:passwd",
		"Ümlaut:Seite":         "ümlaut:seite",
		"what?!":               "what",
		"":                     "",
		"::":                   "",
		"%%":                   "",
		"ns1:x":                "ns1:x",
		"Dots.In.Name":         "dots.in.name",
		"-dash-":               "dash",
		"tab\tand\nnewline":    "tab_and_newline",
		"mixed/Sep;And:Colons": "mixed:sep:and:colons",
	}
	for in, want := range cases {
		if got := Clean(in); got != want {
			t.Errorf("Clean(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClean_Idempotent(t *testing.T) {
	inputs := []string{
		"Wiki:Syntax", "a_ _:b", "._.:x:._.", "A__B__:__C", "İstanbul:Straße",
		" / ; : ", "ns:.:x", "x-_-:y", "über___:..:ünter", "a..b",
	}
	for _, in := range inputs {
		once := Clean(in)
		twice := Clean(string(once))
		if once != twice {
			t.Errorf("Clean not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNamespaceAndName(t *testing.T) {
	cases := []struct {
		id   ID
		ns   ID
		name string
	}{
		{"a:b:c", "a:b", "c"},
		{"page", "", "page"},
		{"ns:page", "ns", "page"},
	}
	for _, c := range cases {
		if got := c.id.Namespace(); got != c.ns {
			t.Errorf("%q.Namespace() = %q, want %q", c.id, got, c.ns)
		}
		if got := c.id.Name(); got != c.name {
			t.Errorf("%q.Name() = %q, want %q", c.id, got, c.name)
		}
	}
}

func TestValid(t *testing.T) {
	if !ID("a:b").Valid() {
		t.Error("a:b should be valid")
	}
	if ID("A:b").Valid() {
		t.Error("upper case id should not be valid")
	}
	if ID("").Valid() {
		t.Error("empty id should not be valid")
	}
}

func TestResolveLink(t *testing.T) {
	from := ID("docs:guide:intro")
	cases := map[string]ID{
		"other":             "docs:guide:other",
		"Other Page":        "docs:guide:other_page",
		":top":              "top",
		"wiki:syntax":       "wiki:syntax",
		".:sibling":         "docs:guide:sibling",
		".sibling":          "docs:guide:sibling",
		"..:up":             "docs:up",
		"..:..:root":        "root",
		"..:..:..:..:root":  "root",
		"~child":            "docs:guide:intro:child",
		"ns:":               "ns:start",
		".:":                "docs:guide:start",
		".":                 "docs:guide:start",
		"page#section":      "docs:guide:page",
		"page?do=edit":      "docs:guide:page",
		"#section":          "",
		"":                  "",
		"   ":               "",
		"a/b":               "a:b",
		"wiki:Syntax#links": "wiki:syntax",
	}
	for ref, want := range cases {
		if got := ResolveLink(ref, from); got != want {
			t.Errorf("ResolveLink(%q) = %q, want %q", ref, got, want)
		}
	}
}

func TestResolveLink_RootPage(t *testing.T) {
	from := ID("home")
	cases := map[string]ID{
		"other": "other",
		".:x":   "x",
		"..:x":  "x",
		".:":    "start",
		"~sub":  "home:sub",
	}
	for ref, want := range cases {
		if got := ResolveLink(ref, from); got != want {
			t.Errorf("ResolveLink(%q) = %q, want %q", ref, got, want)
		}
	}
}

func TestResolveTarget(t *testing.T) {
	from := ID("team:notes:today")
	cases := map[string]ID{
		".":           "team:notes:today",
		"":            "",
		"other":       "other",
		"Wiki:Syntax": "wiki:syntax",
		".:sibling":   "team:notes:sibling",
		"..:up":       "team:up",
		"~sub":        "team:notes:today:sub",
		"ns:":         "ns:start",
	}
	for ref, want := range cases {
		if got := ResolveTarget(ref, from); got != want {
			t.Errorf("ResolveTarget(%q) = %q, want %q", ref, got, want)
		}
	}
}

func TestResolveTarget_NoContext(t *testing.T) {
	if got := ResolveTarget(".", ""); got != "" {
		t.Errorf("ResolveTarget(.) without context = %q, want empty", got)
	}
}

func TestHasNamespacePrefix(t *testing.T) {
	cases := []struct {
		id     ID
		prefix ID
		want   bool
	}{
		{"ns1:x", "ns1", true},
		{"ns1:sub:y", "ns1", true},
		{"ns1:sub:y", "ns1:sub", true},
		{"ns10:x", "ns1", false},
		{"ns2:y", "ns1", false},
		{"ns1", "ns1", false},
		{"ns1:x", "NS1", true},
		{"ns1:x", ":ns1:", true},
		{"anything", "", true},
	}
	for _, c := range cases {
		if got := HasNamespacePrefix(c.id, c.prefix); got != c.want {
			t.Errorf("HasNamespacePrefix(%q, %q) = %v, want %v", c.id, c.prefix, got, c.want)
		}
	}
}
