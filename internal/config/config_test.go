package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.SearchTerms = []string{"marketing services"}
	cfg.Proxy.CustomerID = "acme"
	cfg.Proxy.Secret = "s3cret"
	return cfg
}

func mapLookup(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestValidateAcceptsDefaultsWithCredentials(t *testing.T) {
	cfg, err := New(validConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{"marketing services"}, cfg.SearchTerms)
}

func TestValidateRejectsInvalidFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		problem string
	}{
		{"empty pool", func(c *Config) { c.SearchTerms = []string{"  "} }, "search term pool is empty"},
		{"inverted search count", func(c *Config) { c.SearchCount = IntRange{Min: 5, Max: 2} }, "search count range 5-2 is invalid"},
		{"click probability above one", func(c *Config) { c.ClickProbability = 1.5 }, "click probability 1.5 outside [0,1]"},
		{"negative variation", func(c *Config) { c.VariationFactor = -0.1 }, "behaviour variation factor -0.1 outside [0,1]"},
		{"inverted typing delay", func(c *Config) {
			c.TypingDelay = DurationRange{Min: time.Second, Max: time.Millisecond}
		}, "typing delay range 1s-1ms is invalid"},
		{"missing proxy secret", func(c *Config) { c.Proxy.Secret = "" }, "proxy secret is required"},
		{"missing customer", func(c *Config) { c.Proxy.CustomerID = "" }, "proxy customer id is required"},
		{"inverted session id range", func(c *Config) {
			c.Proxy.SessionIDRange = IntRange{Min: 10, Max: 1}
		}, "proxy session id range 10-1 is invalid"},
		{"zero navigation attempts", func(c *Config) { c.Navigation.MaxAttempts = 0 }, "navigation attempts must be at least 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			_, err := New(cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve.Problems, tt.problem)
		})
	}
}

func TestNewCopiesTermSlice(t *testing.T) {
	in := validConfig()
	cfg, err := New(in)
	require.NoError(t, err)

	in.SearchTerms[0] = "mutated"
	assert.Equal(t, "marketing services", cfg.SearchTerms[0])
}

func TestOverridesReturnCopies(t *testing.T) {
	base := validConfig()
	fixed := base.WithSearchCount(3).WithHeadless(true).WithTargetSite("example.com")

	assert.Equal(t, IntRange{Min: 3, Max: 3}, fixed.SearchCount)
	assert.True(t, fixed.Headless)
	assert.Equal(t, "example.com", fixed.TargetSite)

	assert.Equal(t, IntRange{Min: 5, Max: 20}, base.SearchCount)
	assert.False(t, base.Headless)
	assert.Empty(t, base.TargetSite)
}

func TestFromEnv(t *testing.T) {
	cfg, err := FromEnv(mapLookup(map[string]string{
		"SEARCH_TERMS":              "plumber, emergency plumber ,",
		"SUFFIX":                    "sydney",
		"TARGET_WEBSITE":            "example.com",
		"SEARCH_RANGE_MIN":          "3",
		"SEARCH_RANGE_MAX":          "4",
		"CLICK_PROBABILITY":         "1",
		"MIN_TYPING_DELAY":          "0.05",
		"MAX_TYPING_DELAY":          "150ms",
		"BEHAVIOR_VARIATION_FACTOR": "0.2",
		"PROXY_CUSTOMER":            "acme",
		"PROXY_PASSWORD":            "s3cret",
		"PROXY_COUNTRY":             "GB",
		"FINGERPRINT_COUNTRY":       "gb",
		"HEADLESS":                  "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"plumber", "emergency plumber"}, cfg.SearchTerms)
	assert.Equal(t, "sydney", cfg.Suffix)
	assert.Equal(t, IntRange{Min: 3, Max: 4}, cfg.SearchCount)
	assert.Equal(t, 1.0, cfg.ClickProbability)
	assert.Equal(t, 50*time.Millisecond, cfg.TypingDelay.Min)
	assert.Equal(t, 150*time.Millisecond, cfg.TypingDelay.Max)
	assert.Equal(t, "gb", cfg.Proxy.Country)
	assert.Equal(t, "GB", cfg.Country)
	assert.True(t, cfg.Headless)
}

func TestFromEnvReportsParseProblems(t *testing.T) {
	_, err := FromEnv(mapLookup(map[string]string{
		"SEARCH_TERMS":      "plumber",
		"PROXY_CUSTOMER":    "acme",
		"PROXY_PASSWORD":    "s3cret",
		"SEARCH_RANGE_MIN":  "three",
		"CLICK_PROBABILITY": "2",
	}))
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Problems, `SEARCH_RANGE_MIN="three" is not an integer`)
	assert.Contains(t, ve.Problems, "click probability 2 outside [0,1]")
}

func TestFromEnvReadsSearchListFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terms.txt")
	require.NoError(t, os.WriteFile(path, []byte("roof repair\n\n gutter cleaning \n"), 0o644))

	cfg, err := FromEnv(mapLookup(map[string]string{
		"SEARCH_TERMS":     "plumber",
		"SEARCH_LIST_PATH": path,
		"PROXY_CUSTOMER":   "acme",
		"PROXY_PASSWORD":   "s3cret",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"plumber", "roof repair", "gutter cleaning"}, cfg.SearchTerms)
}

func TestNewNormalisesSearchEngineURL(t *testing.T) {
	in := validConfig()
	in.SearchEngineURL = "www.bing.com"

	cfg, err := New(in)
	require.NoError(t, err)
	assert.Equal(t, "https://www.bing.com", cfg.SearchEngineURL)
}
