package savecode

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultAllowedSchemes are the origin URL schemes accepted when none are configured.
var DefaultAllowedSchemes = []string{"http", "https", "svn"}

// NormalizeOriginURL validates raw and returns its canonical form.
func NormalizeOriginURL(raw string, allowedSchemes []string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty url", ErrInvalidOriginURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOriginURL, err)
	}
	if len(allowedSchemes) == 0 {
		allowedSchemes = DefaultAllowedSchemes
	}
	scheme := strings.ToLower(u.Scheme)
	if !containsFold(allowedSchemes, scheme) {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidOriginURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidOriginURL)
	}
	if u.User != nil {
		return "", fmt.Errorf("%w: credentials are not allowed in origin urls", ErrInvalidOriginURL)
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	return u.String(), nil
}

// MatchesPrefix reports whether originURL starts with any of the prefixes.
func MatchesPrefix(originURL string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(originURL, prefix) {
			return true
		}
	}
	return false
}

// Admit decides the admission status of an origin URL against the prefix lists.
func Admit(originURL string, privileged bool, authorized, unauthorized []string) RequestStatus {
	switch {
	case MatchesPrefix(originURL, unauthorized):
		return RequestRejected
	case privileged, MatchesPrefix(originURL, authorized):
		return RequestAccepted
	default:
		return RequestPending
	}
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}
