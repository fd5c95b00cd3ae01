package util

import (
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// NormaliseDomain removes http/https prefix and www. from domain
func NormaliseDomain(domain string) string {
	// Remove http:// or https:// prefix if present
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimPrefix(domain, "https://")

	// Remove www. prefix if present
	domain = strings.TrimPrefix(domain, "www.")

	// Remove trailing slash if present
	domain = strings.TrimSuffix(domain, "/")

	return domain
}

// NormaliseURL ensures a URL has proper https:// scheme and validates format
func NormaliseURL(rawURL string) string {
	// Clean up the URL by trimming spaces
	rawURL = strings.TrimSpace(rawURL)

	// Skip empty URLs
	if rawURL == "" {
		return ""
	}

	// Convert http:// to https://
	if strings.HasPrefix(rawURL, "http://") {
		rawURL = strings.Replace(rawURL, "http://", "https://", 1)
	}

	// Add https:// prefix if missing
	if !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}

	// Validate URL format
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		log.Debug().Str("url", rawURL).Err(err).Msg("Invalid URL format")
		return ""
	}

	// Ensure no duplicate schemes (like https://http://example.com)
	hostPart := parsedURL.Host
	if strings.Contains(hostPart, "://") {
		log.Debug().Str("url", rawURL).Msg("URL contains embedded scheme in host part, fixing")
		// Extract the domain part after the embedded scheme
		parts := strings.SplitN(hostPart, "://", 2)
		if len(parts) == 2 {
			parsedURL.Host = parts[1]
			rawURL = parsedURL.String()
		}
	}

	return rawURL
}

// normaliseHostPort removes default ports (80 for HTTP, 443 for HTTPS) from host.
func normaliseHostPort(host, scheme string) string {
	if scheme == "http" && strings.HasSuffix(host, ":80") {
		return strings.TrimSuffix(host, ":80")
	}
	if scheme == "https" && strings.HasSuffix(host, ":443") {
		return strings.TrimSuffix(host, ":443")
	}
	return host
}

// ResultTarget returns the destination of a search result link. Search
// engines often wrap results in a redirect (/url?q=<dest>); the wrapped
// destination is returned in that case.
func ResultTarget(href string) string {
	parsed, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	if parsed.Path == "/url" {
		q := parsed.Query()
		for _, key := range []string{"q", "url"} {
			if dest := q.Get(key); strings.HasPrefix(dest, "http") {
				return dest
			}
		}
	}
	return parsed.String()
}

// MatchesTarget reports whether a result link points at target. A bare
// domain target matches that host and its subdomains; a target containing
// a path matches as a fragment of the normalised result URL.
func MatchesTarget(href, target string) bool {
	target = strings.ToLower(NormaliseDomain(strings.TrimSpace(target)))
	if target == "" || href == "" {
		return false
	}

	parsed, err := url.Parse(ResultTarget(href))
	if err != nil || parsed.Host == "" {
		return false
	}

	host := strings.ToLower(normaliseHostPort(parsed.Host, parsed.Scheme))
	host = strings.TrimPrefix(host, "www.")

	if !strings.Contains(target, "/") {
		return host == target || strings.HasSuffix(host, "."+target)
	}

	full := strings.TrimSuffix(host+parsed.EscapedPath(), "/")
	return strings.Contains(full, target)
}
