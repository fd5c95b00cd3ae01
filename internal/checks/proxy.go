package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

// probeResponse covers the IP echo services the probe is pointed at
type probeResponse struct {
	IP     string `json:"ip"`
	Origin string `json:"origin"`
}

// Proxy fetches the probe URL through a freshly drawn proxy identity
func (c *Checker) Proxy(ctx context.Context) Result {
	res := Result{Name: Proxy}

	fps := c.fingerprints()
	identity := fps.NewProxyIdentity(c.Config.Proxy)
	fp := fps.NewFingerprint(c.Config.Country)

	probeURL := c.ProbeURL
	if probeURL == "" {
		probeURL = defaultProbeURL
	}

	collector := colly.NewCollector(
		colly.UserAgent(fp.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(c.timeout())
	if err := collector.SetProxy(identity.String()); err != nil {
		res.Err = fmt.Errorf("invalid proxy identity %s: %w", identity.Redacted(), err)
		return c.logged(res)
	}

	var (
		status int
		body   []byte
		reqErr error
	)
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json,text/plain;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", fp.AcceptLanguage())
	})
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	collector.OnError(func(r *colly.Response, err error) {
		reqErr = err
		if r != nil {
			status = r.StatusCode
		}
	})

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(probeURL)
	}()

	var visitErr error
	select {
	case visitErr = <-done:
	case <-ctx.Done():
		res.Duration = time.Since(start)
		res.Err = fmt.Errorf("probe via %s cancelled: %w", identity.Redacted(), ctx.Err())
		return c.logged(res)
	}
	res.Duration = time.Since(start)

	switch {
	case status == http.StatusProxyAuthRequired:
		res.Err = fmt.Errorf("proxy rejected credentials for %s", identity.Redacted())
	case visitErr != nil:
		res.Err = fmt.Errorf("probe via %s failed: %w", identity.Redacted(), visitErr)
	case reqErr != nil:
		res.Err = fmt.Errorf("probe via %s failed (status %d): %w", identity.Redacted(), status, reqErr)
	default:
		res.OK = true
		res.Detail = fmt.Sprintf("session %d exit %s", identity.SessionID, exitAddress(body))
	}
	return c.logged(res)
}

// exitAddress pulls the public IP out of an IP echo response
func exitAddress(body []byte) string {
	var resp probeResponse
	if err := json.Unmarshal(body, &resp); err == nil {
		if resp.IP != "" {
			return resp.IP
		}
		if resp.Origin != "" {
			return resp.Origin
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 64 {
		text = text[:64]
	}
	if text == "" {
		return "unknown"
	}
	return text
}
