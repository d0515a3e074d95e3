package reference

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Placeholder replaces id-like path segments when keys are normalized.
const Placeholder = "{id}"

// NormalizeKey collapses numeric, UUID and long hex path segments of raw to
// {id}. Query and fragment are kept. Strings that do not parse as URLs are
// returned unchanged.
func NormalizeKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return raw
	}

	segments := strings.Split(u.Path, "/")
	changed := false
	for i, seg := range segments {
		if isIDSegment(seg) {
			segments[i] = Placeholder
			changed = true
		}
	}
	if !changed {
		return raw
	}

	u.Path = strings.Join(segments, "/")
	u.RawPath = ""
	// Keep the braces readable in the key.
	return strings.ReplaceAll(u.String(), "%7Bid%7D", Placeholder)
}

func isIDSegment(seg string) bool {
	if seg == "" {
		return false
	}
	if isDigits(seg) {
		return true
	}
	if len(seg) == 36 {
		if _, err := uuid.Parse(seg); err == nil {
			return true
		}
	}
	return len(seg) >= 16 && isHex(seg)
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
