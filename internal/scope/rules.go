package scope

import (
	"regexp"
	"strings"
)

// DefaultAPISegment is the reserved path marker that identifies API calls.
const DefaultAPISegment = "/api/"

// SafeExcludePatterns keeps a read-only crawl away from links whose GET has
// side effects on the session or account.
var SafeExcludePatterns = []string{
	`(?i)[?&/](logout|signout|log-out|sign-out)`,
	`(?i)/delete-account`,
	`(?i)/unsubscribe`,
	`(?i)/reset-password`,
}

// IsAPIURL reports whether rawURL contains the reserved API segment.
func IsAPIURL(rawURL, segment string) bool {
	if segment == "" {
		segment = DefaultAPISegment
	}
	return strings.Contains(rawURL, segment)
}

// APIURLPattern matches absolute URLs embedded in markup that contain segment.
func APIURLPattern(segment string) *regexp.Regexp {
	if segment == "" {
		segment = DefaultAPISegment
	}
	return regexp.MustCompile(`https?://[^\s"']+` + regexp.QuoteMeta(segment) + `[^\s"']+`)
}
