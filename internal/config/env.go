package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// LookupFunc resolves an environment key. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// DefaultEnvFiles are searched when no env file is named
var DefaultEnvFiles = []string{".env.local", ".env"}

// Load reads .env files (missing files are ignored), then builds and
// validates a Config from the process environment.
func Load(files ...string) (Config, error) {
	LoadFiles(files...)
	return FromEnv(os.LookupEnv)
}

// LoadFiles exports the keys of the given .env files, or of
// DefaultEnvFiles when none are named. Missing files are skipped.
func LoadFiles(files ...string) {
	if len(files) == 0 {
		files = DefaultEnvFiles
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			// godotenv.Load never overrides variables that are already set
			if err := godotenv.Load(f); err != nil {
				log.Warn().Err(err).Str("file", f).Msg("Failed to load env file")
			}
		}
	}
}

// FromEnv builds a Config from lookup on top of Defaults and validates it.
func FromEnv(lookup LookupFunc) (Config, error) {
	r := envReader{lookup: lookup}
	cfg := Defaults()

	if v, ok := r.str("SEARCH_TERMS"); ok {
		cfg.SearchTerms = splitTerms(v)
	}
	if path, ok := r.str("SEARCH_LIST_PATH"); ok {
		terms, err := readTermsFile(path)
		if err != nil {
			r.problem("search list %s: %v", path, err)
		} else {
			cfg.SearchTerms = append(cfg.SearchTerms, terms...)
		}
	}
	cfg.ExpandVariations = r.boolean("EXPAND_VARIATIONS", cfg.ExpandVariations)
	cfg.Suffix = r.strDefault("SUFFIX", cfg.Suffix)
	cfg.TargetSite = r.strDefault("TARGET_WEBSITE", cfg.TargetSite)
	cfg.SearchEngineURL = r.strDefault("SEARCH_ENGINE_URL", cfg.SearchEngineURL)
	cfg.Country = strings.ToUpper(r.strDefault("FINGERPRINT_COUNTRY", cfg.Country))

	cfg.SearchCount.Min = r.integer("SEARCH_RANGE_MIN", cfg.SearchCount.Min)
	cfg.SearchCount.Max = r.integer("SEARCH_RANGE_MAX", cfg.SearchCount.Max)
	cfg.ClickProbability = r.float("CLICK_PROBABILITY", cfg.ClickProbability)

	cfg.TypingDelay.Min = r.seconds("MIN_TYPING_DELAY", cfg.TypingDelay.Min)
	cfg.TypingDelay.Max = r.seconds("MAX_TYPING_DELAY", cfg.TypingDelay.Max)
	cfg.ActionDelay.Min = r.seconds("MIN_ACTION_DELAY", cfg.ActionDelay.Min)
	cfg.ActionDelay.Max = r.seconds("MAX_ACTION_DELAY", cfg.ActionDelay.Max)
	cfg.SearchInterval.Min = r.seconds("MIN_SEARCH_INTERVAL", cfg.SearchInterval.Min)
	cfg.SearchInterval.Max = r.seconds("MAX_SEARCH_INTERVAL", cfg.SearchInterval.Max)
	cfg.SessionInterval.Min = r.seconds("MIN_SESSION_DELAY", cfg.SessionInterval.Min)
	cfg.SessionInterval.Max = r.seconds("MAX_SESSION_DELAY", cfg.SessionInterval.Max)
	cfg.VariationFactor = r.float("BEHAVIOR_VARIATION_FACTOR", cfg.VariationFactor)

	cfg.Proxy.Scheme = r.strDefault("PROXY_SCHEME", cfg.Proxy.Scheme)
	cfg.Proxy.Host = r.strDefault("PROXY_HOST", cfg.Proxy.Host)
	cfg.Proxy.Port = r.integer("PROXY_PORT", cfg.Proxy.Port)
	cfg.Proxy.CustomerID = r.strDefault("PROXY_CUSTOMER", cfg.Proxy.CustomerID)
	cfg.Proxy.Country = strings.ToLower(r.strDefault("PROXY_COUNTRY", cfg.Proxy.Country))
	cfg.Proxy.Secret = r.strDefault("PROXY_PASSWORD", cfg.Proxy.Secret)
	cfg.Proxy.SessionIDRange.Min = r.integer("PROXY_SESSION_ID_MIN", cfg.Proxy.SessionIDRange.Min)
	cfg.Proxy.SessionIDRange.Max = r.integer("PROXY_SESSION_ID_MAX", cfg.Proxy.SessionIDRange.Max)
	cfg.Proxy.ValidityMinutes = r.integer("PROXY_SESSION_MINUTES", cfg.Proxy.ValidityMinutes)

	cfg.CaptchaAPIKey = r.strDefault("CAPTCHA_API_KEY", cfg.CaptchaAPIKey)
	cfg.CaptchaPoll.MaxAttempts = r.integer("CAPTCHA_POLL_ATTEMPTS", cfg.CaptchaPoll.MaxAttempts)
	cfg.CaptchaPoll.Interval = r.seconds("CAPTCHA_POLL_INTERVAL", cfg.CaptchaPoll.Interval)
	cfg.CaptchaPoll.InitialWait = r.seconds("CAPTCHA_INITIAL_WAIT", cfg.CaptchaPoll.InitialWait)
	cfg.MaxChallengesPerSession = r.integer("MAX_CHALLENGES_PER_SESSION", cfg.MaxChallengesPerSession)

	cfg.Navigation.MaxAttempts = r.integer("NAVIGATION_MAX_ATTEMPTS", cfg.Navigation.MaxAttempts)
	cfg.Navigation.InitialInterval = r.seconds("NAVIGATION_RETRY_INTERVAL", cfg.Navigation.InitialInterval)

	cfg.Headless = r.boolean("HEADLESS", cfg.Headless)
	cfg.Screenshots = r.boolean("TAKE_SCREENSHOTS", cfg.Screenshots)
	cfg.ScreenshotDir = r.strDefault("SCREENSHOTS_PATH", cfg.ScreenshotDir)

	validated, err := New(cfg)
	if len(r.problems) > 0 {
		var ve *ValidationError
		if errors.As(err, &ve) {
			ve.Problems = append(r.problems, ve.Problems...)
			return Config{}, ve
		}
		return Config{}, &ValidationError{Problems: r.problems}
	}
	return validated, err
}

type envReader struct {
	lookup   LookupFunc
	problems []string
}

func (r *envReader) problem(format string, args ...any) {
	r.problems = append(r.problems, fmt.Sprintf(format, args...))
}

func (r *envReader) str(key string) (string, bool) {
	v, ok := r.lookup(key)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (r *envReader) strDefault(key, def string) string {
	if v, ok := r.str(key); ok {
		return v
	}
	return def
}

func (r *envReader) integer(key string, def int) int {
	v, ok := r.str(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.problem("%s=%q is not an integer", key, v)
		return def
	}
	return n
}

func (r *envReader) float(key string, def float64) float64 {
	v, ok := r.str(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.problem("%s=%q is not a number", key, v)
		return def
	}
	return f
}

// seconds accepts fractional seconds ("0.05") or a Go duration ("50ms")
func (r *envReader) seconds(key string, def time.Duration) time.Duration {
	v, ok := r.str(key)
	if !ok {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.problem("%s=%q is not a duration", key, v)
		return def
	}
	return d
}

func (r *envReader) boolean(key string, def bool) bool {
	v, ok := r.str(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.problem("%s=%q is not a boolean", key, v)
		return def
	}
	return b
}

func splitTerms(raw string) []string {
	var terms []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

func readTermsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var terms []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			terms = append(terms, line)
		}
	}
	return terms, scanner.Err()
}
