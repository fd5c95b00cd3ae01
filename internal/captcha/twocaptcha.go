package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://2captcha.com"
	defaultTimeout = 30 * time.Second
	notReady       = "CAPCHA_NOT_READY"
)

// ErrMissingAPIKey is returned when the client has no credential
var ErrMissingAPIKey = errors.New("2captcha: missing API key")

// APIError is an ERROR_* code returned by the service
type APIError struct {
	StatusCode int
	Code       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("2captcha: API error %d: %s", e.StatusCode, e.Code)
}

// TwoCaptchaOption configures a TwoCaptcha client
type TwoCaptchaOption func(*TwoCaptcha)

// WithBaseURL points the client at another host, e.g. an httptest server
func WithBaseURL(base string) TwoCaptchaOption {
	return func(c *TwoCaptcha) {
		c.baseURL = strings.TrimRight(base, "/")
	}
}

// WithHTTPClient replaces the instrumented default client
func WithHTTPClient(client *http.Client) TwoCaptchaOption {
	return func(c *TwoCaptcha) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRateLimit caps requests per second against the service
func WithRateLimit(perSecond float64, burst int) TwoCaptchaOption {
	return func(c *TwoCaptcha) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// TwoCaptcha is a Solver backed by the 2captcha in.php/res.php API.
type TwoCaptcha struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewTwoCaptcha creates a client for apiKey.
func NewTwoCaptcha(apiKey string, opts ...TwoCaptchaOption) *TwoCaptcha {
	c := &TwoCaptcha{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Limit(2), 2),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiResponse struct {
	Status  int             `json:"status"`
	Request json.RawMessage `json:"request"`
}

// value returns the request field whether it was sent as a string or a number
func (r apiResponse) value() string {
	var s string
	if err := json.Unmarshal(r.Request, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(r.Request))
}

// Submit posts a reCAPTCHA v2 job and returns its id.
func (c *TwoCaptcha) Submit(ctx context.Context, task Task) (string, error) {
	form := url.Values{
		"method":    {"userrecaptcha"},
		"googlekey": {task.SiteKey},
		"pageurl":   {task.PageURL},
	}
	if task.DataS != "" {
		form.Set("data-s", task.DataS)
	}
	if task.Proxy != "" {
		form.Set("proxy", task.Proxy)
		form.Set("proxytype", strings.ToUpper(task.ProxyType))
	}

	resp, err := c.call(ctx, http.MethodPost, "/in.php", form)
	if err != nil {
		return "", err
	}
	if resp.Status != 1 {
		return "", &APIError{StatusCode: http.StatusOK, Code: resp.value()}
	}
	return resp.value(), nil
}

// Poll asks whether jobID has a token yet.
func (c *TwoCaptcha) Poll(ctx context.Context, jobID string) (string, bool, error) {
	resp, err := c.call(ctx, http.MethodGet, "/res.php", url.Values{
		"action": {"get"},
		"id":     {jobID},
	})
	if err != nil {
		return "", false, err
	}

	v := resp.value()
	if resp.Status == 1 {
		return v, true, nil
	}
	if v == notReady {
		return "", false, nil
	}
	return "", false, &APIError{StatusCode: http.StatusOK, Code: v}
}

// Balance returns the account balance in USD.
func (c *TwoCaptcha) Balance(ctx context.Context) (float64, error) {
	resp, err := c.call(ctx, http.MethodGet, "/res.php", url.Values{"action": {"getbalance"}})
	if err != nil {
		return 0, err
	}
	v := resp.value()
	if resp.Status != 1 {
		return 0, &APIError{StatusCode: http.StatusOK, Code: v}
	}
	balance, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("2captcha: unexpected balance %q: %w", v, err)
	}
	return balance, nil
}

func (c *TwoCaptcha) call(ctx context.Context, method, path string, params url.Values) (apiResponse, error) {
	var out apiResponse
	if c.apiKey == "" {
		return out, ErrMissingAPIKey
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return out, fmt.Errorf("2captcha: rate limiter: %w", err)
	}

	params.Set("key", c.apiKey)
	params.Set("json", "1")

	var (
		req *http.Request
		err error
	)
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+params.Encode(), nil)
	}
	if err != nil {
		return out, fmt.Errorf("2captcha: failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("2captcha: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return out, fmt.Errorf("2captcha: failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, &APIError{StatusCode: resp.StatusCode, Code: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("2captcha: failed to decode response: %w", err)
	}
	return out, nil
}
