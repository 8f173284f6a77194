// Package privacy removes credentials, hosts and user paths from text before
// it leaves the process in logs or telemetry.
package privacy

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
)

var (
	// URLs with the schemes brokers and the API use.
	urlPattern = regexp.MustCompile(`\b(?:https?|tcp|ssl|tls|mqtts?|wss?)://\S+`)

	// Absolute paths with at least two segments, e.g. /home/user/leaf.jpg.
	pathPattern = regexp.MustCompile(`(?:^|[\s"'=(])((?:/[^\s/"')]+){2,})`)
)

// ScrubMessage replaces URLs with an opaque token and absolute paths with
// their base name.
func ScrubMessage(message string) string {
	message = urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	return pathPattern.ReplaceAllStringFunc(message, func(m string) string {
		sub := pathPattern.FindStringSubmatchIndex(m)
		return m[:sub[2]] + ".../" + filepath.Base(m[sub[2]:sub[3]])
	})
}

// AnonymizeURL returns a stable token for a URL. URLs with the same scheme,
// host and port map to the same token; credentials and paths do not affect it.
func AnonymizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}
	hash := sha256.Sum256([]byte(u.Scheme + "://" + u.Hostname() + ":" + u.Port()))
	return fmt.Sprintf("url-%x", hash[:12])
}

// SanitizeBrokerURL strips credentials, path and query from a broker URL so
// it can be logged.
func SanitizeBrokerURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "invalid-url"
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
}
