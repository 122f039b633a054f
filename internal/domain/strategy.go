package domain

import (
	"net/url"
	"strings"
)

// StrategyKind identifies a delivery strategy
type StrategyKind string

const (
	StrategyDirectStream       StrategyKind = "direct_stream"
	StrategyServerJob          StrategyKind = "server_job"
	StrategyUnsupported        StrategyKind = "unsupported"
	StrategyExternalExtraction StrategyKind = "external_extraction" // Credentialed, out-of-process
)

// ValidateStrategyKind checks if a strategy kind is valid
func ValidateStrategyKind(kind StrategyKind) bool {
	switch kind {
	case StrategyDirectStream, StrategyServerJob, StrategyUnsupported, StrategyExternalExtraction:
		return true
	default:
		return false
	}
}

// Strategy is a computed delivery decision; it is never persisted as such
type Strategy struct {
	Kind     StrategyKind
	URL      string // DirectStream only
	Reason   string
	Platform string
}

// DirectStream creates a direct client-side transfer strategy
func DirectStream(url string) Strategy {
	return Strategy{Kind: StrategyDirectStream, URL: url}
}

// ServerJob creates a server-side job strategy
func ServerJob(reason string) Strategy {
	return Strategy{Kind: StrategyServerJob, Reason: reason}
}

// Unsupported creates a strategy that fails without network calls
func Unsupported(reason string) Strategy {
	return Strategy{Kind: StrategyUnsupported, Reason: reason}
}

// ExternalExtraction creates a strategy for session-bound sources
func ExternalExtraction(platform string) Strategy {
	return Strategy{Kind: StrategyExternalExtraction, Platform: platform, Reason: "credentialed extraction required"}
}

// PlatformRule force-routes every URL whose host contains one of Hosts
type PlatformRule struct {
	Name     string       `mapstructure:"name"`
	Hosts    []string     `mapstructure:"hosts"`
	Strategy StrategyKind `mapstructure:"strategy"`
	Reason   string       `mapstructure:"reason"`
}

// Matches reports whether the rule applies to the given host (case-insensitive substring)
func (r PlatformRule) Matches(host string) bool {
	host = strings.ToLower(host)
	for _, h := range r.Hosts {
		if h != "" && strings.Contains(host, strings.ToLower(h)) {
			return true
		}
	}
	return false
}

// DefaultPlatformRules is the built-in routing table
func DefaultPlatformRules() []PlatformRule {
	return []PlatformRule{
		{
			Name:     "youtube",
			Hosts:    []string{"youtube.com", "youtu.be"},
			Strategy: StrategyExternalExtraction,
			Reason:   "session-bound stream URLs",
		},
		{
			Name:     "facebook",
			Hosts:    []string{"facebook.com", "fb.com", "fb.watch"},
			Strategy: StrategyServerJob,
			Reason:   "DASH segments require server-side merging",
		},
		{
			Name:     "instagram",
			Hosts:    []string{"instagram.com", "instagr.am"},
			Strategy: StrategyServerJob,
			Reason:   "DASH segments require server-side merging",
		},
		{
			Name:     "tiktok",
			Hosts:    []string{"tiktok.com", "tiktokcdn"},
			Strategy: StrategyServerJob,
			Reason:   "CDN CORS policy blocks direct transfer",
		},
	}
}

// DefaultAdaptiveMarkers identify segmented playlists in a candidate URL
var DefaultAdaptiveMarkers = []string{"/playlist", ".m3u8", "/hls", ".mpd"}

// IsAdaptiveURL reports whether a URL points at a segmented/adaptive manifest
func IsAdaptiveURL(rawURL string, markers []string) bool {
	lower := strings.ToLower(rawURL)
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		lower = strings.ToLower(u.Path)
	}
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// HostOf returns the domain-bearing portion of a URL
func HostOf(rawURL string) string {
	if u, err := url.Parse(strings.TrimSpace(rawURL)); err == nil && u.Host != "" {
		return strings.ToLower(u.Hostname())
	}
	s := strings.TrimSpace(rawURL)
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(s)
}

// ValidateSourceURL checks that a source URL is a non-empty absolute http(s) URL
func ValidateSourceURL(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return NewError(ErrValidation, "validate url", "source URL is empty", nil)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return NewError(ErrValidation, "validate url", "source URL is not parseable", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return NewError(ErrValidation, "validate url", "source URL must be an absolute http(s) URL", nil)
	}
	return nil
}
