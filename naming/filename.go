// Package naming implements the remote-object filename convention (§4.1,
// §6.1): the mapping between a script's URI and the name the provider
// stores it under.
package naming

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	// Prefix is the legacy, read-only prefix: "vm-<percent-encoded-uri>".
	Prefix = "vm-"
	// versionTag starts the canonical versioned prefix "vm@<version>-".
	versionTag = "vm@"

	// CurrentVersion is the version written into new filenames.
	CurrentVersion = 2
)

// Filename returns the remote object name for a script. The caller supplies
// the URI already encoded the way it wants it to appear on the wire (the
// package never re-encodes); when both name and uri are known, the existing
// name wins so that renaming a script locally does not orphan its remote
// counterpart under a stale name.
func Filename(name, uri string) string {
	if name != "" {
		return name
	}
	return versionTag + strconv.Itoa(CurrentVersion) + "-" + uri
}

// IsScriptFile reports whether name follows either the legacy "vm-" prefix
// or the versioned "vm@<digits>-" prefix. The fixed meta-file name (e.g.
// "Violentmonkey") matches neither and must never be treated as a script.
func IsScriptFile(name string) bool {
	if strings.HasPrefix(name, Prefix) {
		return true
	}
	if !strings.HasPrefix(name, versionTag) {
		return false
	}
	rest := name[len(versionTag):]
	dash := strings.IndexByte(rest, '-')
	if dash < 0 {
		return false
	}
	digits := rest[:dash]
	if digits == "" {
		return false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return false
		}
	}
	return true
}

// URI parses the script's logical URI back out of a remote object name.
// Unrecognized names (not matching IsScriptFile) return ok=false.
func URI(name string) (uri string, ok bool) {
	dash := strings.IndexByte(name, '-')
	if dash < 0 {
		return "", false
	}
	prefix, rest := name[:dash], name[dash+1:]

	if prefix == "vm" {
		// Legacy: percent-decode, falling back to the raw remainder if the
		// decode fails (foreign or already-plain names still round-trip).
		if !IsScriptFile(name) {
			return "", false
		}
		decoded, err := url.QueryUnescape(rest)
		if err != nil {
			return rest, true
		}
		return decoded, true
	}

	if !strings.HasPrefix(prefix, "vm@") {
		return "", false
	}
	version := prefix[len("vm@"):]
	if version == "" {
		return "", false
	}
	for i := 0; i < len(version); i++ {
		if version[i] < '0' || version[i] > '9' {
			return "", false
		}
	}
	if version == strconv.Itoa(2) {
		// v2 payload names are already in final form: unchanged remainder.
		return rest, true
	}
	// Unknown future version: treat the same as legacy and best-effort decode.
	decoded, err := url.QueryUnescape(rest)
	if err != nil {
		return rest, true
	}
	return decoded, true
}
