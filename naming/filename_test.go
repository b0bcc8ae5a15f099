package naming

import "testing"

func TestFilenamePrefersExistingName(t *testing.T) {
	if got := Filename("vm@2-existing", "https://example.com/a.js"); got != "vm@2-existing" {
		t.Fatalf("expected existing name to win, got %q", got)
	}
}

func TestFilenameSynthesizesFromURI(t *testing.T) {
	const uri = "https://example.com/a.js"
	got := Filename("", uri)
	if got != "vm@2-"+uri {
		t.Fatalf("got %q", got)
	}
}

func TestIsScriptFile(t *testing.T) {
	cases := map[string]bool{
		"vm-x":          true,
		"vm@2-x":        true,
		"vm@10-x":       true,
		"Violentmonkey": false,
		"vm@-x":         false,
		"vm@x-y":        false,
		"random":        false,
	}
	for name, want := range cases {
		if got := IsScriptFile(name); got != want {
			t.Errorf("IsScriptFile(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestURIRoundTripV2(t *testing.T) {
	uris := []string{
		"https://example.com/a.js",
		"https://example.com/a-b-c.js",
		"file:///home/user/script.user.js",
	}
	for _, uri := range uris {
		name := Filename("", uri)
		got, ok := URI(name)
		if !ok {
			t.Fatalf("URI(%q) not ok", name)
		}
		if got != uri {
			t.Errorf("round-trip mismatch: got %q want %q", got, uri)
		}
	}
}

func TestURILegacyPercentDecoded(t *testing.T) {
	name := Prefix + "https%3A%2F%2Fexample.com%2Fa.js"
	got, ok := URI(name)
	if !ok {
		t.Fatalf("not ok")
	}
	if got != "https://example.com/a.js" {
		t.Errorf("got %q", got)
	}
}

func TestURILegacyFallsBackOnBadEscape(t *testing.T) {
	name := Prefix + "bad%escape"
	got, ok := URI(name)
	if !ok {
		t.Fatalf("not ok")
	}
	if got != "bad%escape" {
		t.Errorf("expected raw fallback, got %q", got)
	}
}

func TestURIRejectsMetaFileName(t *testing.T) {
	if _, ok := URI("Violentmonkey"); ok {
		t.Fatalf("meta file name must not parse as a script")
	}
}
