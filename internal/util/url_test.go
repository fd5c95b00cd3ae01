package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormaliseDomain(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "with_https",
			input:    "https://example.com",
			expected: "example.com",
		},
		{
			name:     "with_http",
			input:    "http://example.com",
			expected: "example.com",
		},
		{
			name:     "with_www",
			input:    "www.example.com",
			expected: "example.com",
		},
		{
			name:     "with_https_and_www",
			input:    "https://www.example.com",
			expected: "example.com",
		},
		{
			name:     "with_trailing_slash",
			input:    "example.com/",
			expected: "example.com",
		},
		{
			name:     "with_all_prefixes",
			input:    "https://www.example.com/",
			expected: "example.com",
		},
		{
			name:     "subdomain",
			input:    "https://api.example.com",
			expected: "api.example.com",
		},
		{
			name:     "plain_domain",
			input:    "example.com",
			expected: "example.com",
		},
		{
			name:     "with_port",
			input:    "https://example.com:8080",
			expected: "example.com:8080",
		},
		{
			name:     "ip_address",
			input:    "http://192.168.1.1",
			expected: "192.168.1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormaliseDomain(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestNormaliseURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain_domain",
			input:    "example.com",
			expected: "https://example.com",
		},
		{
			name:     "with_www",
			input:    "www.example.com",
			expected: "https://www.example.com",
		},
		{
			name:     "http_to_https",
			input:    "http://example.com",
			expected: "https://example.com",
		},
		{
			name:     "already_https",
			input:    "https://example.com",
			expected: "https://example.com",
		},
		{
			name:     "with_path",
			input:    "example.com/path",
			expected: "https://example.com/path",
		},
		{
			name:     "with_query",
			input:    "example.com/path?q=test",
			expected: "https://example.com/path?q=test",
		},
		{
			name:     "with_fragment",
			input:    "example.com#section",
			expected: "https://example.com#section",
		},
		{
			name:     "empty_string",
			input:    "",
			expected: "",
		},
		{
			name:     "whitespace_only",
			input:    "   ",
			expected: "",
		},
		{
			name:     "with_spaces",
			input:    "  example.com  ",
			expected: "https://example.com",
		},
		{
			name:     "with_port",
			input:    "example.com:8080",
			expected: "https://example.com:8080",
		},
		{
			name:     "subdomain",
			input:    "api.example.com",
			expected: "https://api.example.com",
		},
		{
			name:     "double_scheme_invalid",
			input:    "https://http://example.com",
			expected: "https://http://example.com", // Current behavior doesn't fix this
		},
		{
			name:     "ip_address",
			input:    "192.168.1.1",
			expected: "https://192.168.1.1",
		},
		{
			name:     "invalid_url",
			input:    "://invalid",
			expected: "https://://invalid", // Scheme gets added but remains invalid
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormaliseURL(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestResultTarget(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "direct_link",
			input:    "https://www.example.com/services",
			expected: "https://www.example.com/services",
		},
		{
			name:     "google_redirect_q",
			input:    "/url?q=https://example.com/page&sa=U&ved=2ah",
			expected: "https://example.com/page",
		},
		{
			name:     "google_redirect_url",
			input:    "https://www.google.com/url?url=https://example.com/&rct=j",
			expected: "https://example.com/",
		},
		{
			name:     "redirect_without_destination",
			input:    "/url?sa=U",
			expected: "/url?sa=U",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ResultTarget(tt.input))
		})
	}
}

func TestMatchesTarget(t *testing.T) {
	tests := []struct {
		name     string
		href     string
		target   string
		expected bool
	}{
		{"exact_domain", "https://example.com/", "example.com", true},
		{"www_result", "https://www.example.com/about", "example.com", true},
		{"target_with_scheme", "https://example.com/", "https://www.Example.com/", true},
		{"subdomain", "https://shop.example.com/", "example.com", true},
		{"lookalike_domain", "https://notexample.com/", "example.com", false},
		{"other_domain", "https://example.org/", "example.com", false},
		{"wrapped_redirect", "/url?q=https://www.example.com/contact&sa=U", "example.com", true},
		{"path_fragment_match", "https://example.com/services/plumbing", "example.com/services", true},
		{"path_fragment_miss", "https://example.com/blog", "example.com/services", false},
		{"default_port", "https://example.com:443/", "example.com", true},
		{"empty_target", "https://example.com/", "", false},
		{"relative_href", "/search?q=x", "example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MatchesTarget(tt.href, tt.target))
		})
	}
}

func BenchmarkNormaliseDomain(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = NormaliseDomain("https://www.example.com/")
	}
}

func BenchmarkNormaliseURL(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = NormaliseURL("http://www.example.com/path?q=test")
	}
}

func BenchmarkMatchesTarget(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = MatchesTarget("/url?q=https://www.example.com/contact&sa=U", "example.com")
	}
}
