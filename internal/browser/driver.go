// Package browser drives a real Chrome instance through the DevTools
// protocol and implements the session action surface on top of it.
package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Harvey-AU/searchpilot/internal/captcha"
	"github.com/Harvey-AU/searchpilot/internal/session"
	"github.com/Harvey-AU/searchpilot/internal/timing"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

const searchBoxSelector = `textarea[name="q"], input[name="q"], input[type="search"]`

// Options configures the Chrome driver
type Options struct {
	Bin               string        // Chrome binary; empty lets rod find or download one
	ScreenshotDir     string        // Where CaptureScreenshot writes PNGs
	NavigationTimeout time.Duration // Per-navigation ceiling
	ElementTimeout    time.Duration // How long to wait for the search box or a result link
}

// DefaultOptions returns sensible defaults
func DefaultOptions() Options {
	return Options{
		ScreenshotDir:     "./data/screenshots",
		NavigationTimeout: 30 * time.Second,
		ElementTimeout:    15 * time.Second,
	}
}

// Driver is one Chrome process presenting one session identity
type Driver struct {
	opts     Options
	id       session.Identity
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page

	mu        sync.Mutex
	shotCount int
	closed    bool
}

// NewFactory returns a session.BrowserFactory launching a fresh Driver per
// session.
func NewFactory(opts Options) session.BrowserFactory {
	return func(ctx context.Context, id session.Identity) (session.Browser, error) {
		return Launch(ctx, opts, id)
	}
}

// Launch starts Chrome behind the identity's proxy and prepares an
// incognito page carrying its fingerprint.
func Launch(ctx context.Context, opts Options, id session.Identity) (*Driver, error) {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = DefaultOptions().NavigationTimeout
	}
	if opts.ElementTimeout <= 0 {
		opts.ElementTimeout = DefaultOptions().ElementTimeout
	}

	fp := id.Fingerprint
	l := launcher.New().
		Context(ctx).
		Headless(id.Headless).
		Proxy(id.Proxy.URL()).
		Set(flags.Flag("window-size"), fmt.Sprintf("%d,%d", fp.Viewport.Width, fp.Viewport.Height)).
		Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	if len(fp.Locales) > 0 {
		l = l.Set(flags.Flag("lang"), fp.Locales[0])
	}
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	d := &Driver{opts: opts, id: id, launcher: l}

	d.browser = rod.New().ControlURL(controlURL).Context(ctx)
	if err := d.browser.Connect(); err != nil {
		d.kill()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	// Chrome caches proxy credentials after the first challenge
	waitAuth := d.browser.HandleAuth(id.Proxy.Username(), id.Proxy.Secret)
	go func() {
		if err := waitAuth(); err != nil && ctx.Err() == nil {
			log.Debug().Err(err).Str("session_id", id.SessionID).Msg("Proxy auth handler exited")
		}
	}()

	if err := d.preparePage(); err != nil {
		_ = d.Close()
		return nil, err
	}

	log.Debug().
		Str("session_id", id.SessionID).
		Str("proxy", id.Proxy.Redacted()).
		Str("country", fp.Country).
		Bool("headless", id.Headless).
		Msg("Browser launched")

	return d, nil
}

func (d *Driver) preparePage() error {
	incognito, err := d.browser.Incognito()
	if err != nil {
		return fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return fmt.Errorf("create page: %w", err)
	}
	d.page = page

	fp := d.id.Fingerprint

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      fp.UserAgent,
		AcceptLanguage: fp.AcceptLanguage(),
		Platform:       fp.Platform,
	}); err != nil {
		return fmt.Errorf("set user agent: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             fp.Viewport.Width,
		Height:            fp.Viewport.Height,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}

	if fp.Timezone != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: fp.Timezone}).Call(page); err != nil {
			log.Warn().Err(err).Str("timezone", fp.Timezone).Msg("Failed to override timezone")
		}
	}
	if len(fp.Locales) > 0 {
		if err := (proto.EmulationSetLocaleOverride{Locale: fp.Locales[0]}).Call(page); err != nil {
			log.Warn().Err(err).Str("locale", fp.Locales[0]).Msg("Failed to override locale")
		}
	}

	script, err := stealthScript(fp)
	if err != nil {
		return err
	}
	if _, err := page.EvalOnNewDocument(script); err != nil {
		return fmt.Errorf("install stealth script: %w", err)
	}
	return nil
}

// Open navigates to url and waits for the page to load
func (d *Driver) Open(ctx context.Context, url string) error {
	page := d.page.Context(ctx).Timeout(d.opts.NavigationTimeout)
	if err := page.Navigate(url); err != nil {
		return navigationError(url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return navigationError(url, err)
	}
	return nil
}

// TypeText focuses the search box and enters text one character at a time
func (d *Driver) TypeText(ctx context.Context, text string, perChar func() time.Duration) error {
	page := d.page.Context(ctx)

	box, err := page.Timeout(d.opts.ElementTimeout).Element(searchBoxSelector)
	if err != nil {
		return session.DriverFailure("find search box", err)
	}
	box = box.CancelTimeout()

	if err := box.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return session.DriverFailure("focus search box", err)
	}
	if err := box.SelectAllText(); err == nil {
		_ = page.Keyboard.Type(input.Backspace)
	}

	for _, r := range text {
		if err := timing.Sleep(ctx, perChar()); err != nil {
			return err
		}
		if err := page.InsertText(string(r)); err != nil {
			return session.DriverFailure("type", err)
		}
	}

	wait := page.Timeout(d.opts.NavigationTimeout).WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := box.Type(input.Enter); err != nil {
		return session.DriverFailure("submit query", err)
	}
	wait()
	return ctx.Err()
}

// ScanResults scrolls through the results page and reports what it holds
func (d *Driver) ScanResults(ctx context.Context, target string) (session.ScanReport, error) {
	page := d.page.Context(ctx)

	for range 3 {
		if err := page.Mouse.Scroll(0, 400, 4); err != nil {
			break
		}
	}

	doc, pageURL, err := d.document(ctx)
	if err != nil {
		return session.ScanReport{}, err
	}
	return scanDocument(doc, pageURL, target), nil
}

// HoverAndClick moves onto the result linking to targetURL and follows it
func (d *Driver) HoverAndClick(ctx context.Context, targetURL string) error {
	page := d.page.Context(ctx)

	links, err := page.Elements("a[href]")
	if err != nil {
		return session.DriverFailure("list links", err)
	}

	var link *rod.Element
	for _, el := range links {
		href, err := el.Attribute("href")
		if err == nil && href != nil && *href == targetURL {
			link = el
			break
		}
	}
	if link == nil {
		return session.DriverFailure("find result", fmt.Errorf("no link to %s", targetURL))
	}

	if err := link.ScrollIntoView(); err != nil {
		return session.DriverFailure("scroll to result", err)
	}
	if err := link.Hover(); err != nil {
		return session.DriverFailure("hover result", err)
	}

	wait := page.Timeout(d.opts.NavigationTimeout).WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := link.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return session.DriverFailure("click result", err)
	}
	wait()
	return nil
}

// Scroll wheels the page by a random distance of roughly one screen
func (d *Driver) Scroll(ctx context.Context, up bool) error {
	dy := float64(300 + rand.IntN(400))
	if up {
		dy = -dy
	}
	if err := d.page.Context(ctx).Mouse.Scroll(0, dy, 4+rand.IntN(4)); err != nil {
		return session.DriverFailure("scroll", err)
	}
	return nil
}

// CaptureScreenshot writes a PNG of the viewport to the screenshot directory
func (d *Driver) CaptureScreenshot(ctx context.Context, label string) (string, error) {
	data, err := d.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return "", session.DriverFailure("screenshot", err)
	}

	if err := os.MkdirAll(d.opts.ScreenshotDir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot directory: %w", err)
	}

	d.mu.Lock()
	d.shotCount++
	n := d.shotCount
	d.mu.Unlock()

	name := fmt.Sprintf("%s-%02d-%s.png", d.id.SessionID, n, sanitiseLabel(label))
	path := filepath.Join(d.opts.ScreenshotDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

const submitTokenJS = `(token) => {
	let field = document.getElementById('g-recaptcha-response');
	if (!field) {
		field = document.createElement('textarea');
		field.id = 'g-recaptcha-response';
		field.name = 'g-recaptcha-response';
		field.style.display = 'none';
		(document.forms[0] || document.body).appendChild(field);
	}
	field.value = token;
	field.innerHTML = token;

	const holder = document.querySelector('.g-recaptcha[data-callback]');
	const callback = holder && holder.getAttribute('data-callback');
	if (callback && typeof window[callback] === 'function') {
		window[callback](token);
		return 'callback';
	}

	const form = field.closest('form') || document.querySelector('form#captcha-form');
	if (form) {
		form.submit();
		return 'form';
	}
	return 'none';
}`

// SubmitChallengeToken injects a solved reCAPTCHA token and submits it
func (d *Driver) SubmitChallengeToken(ctx context.Context, token string) error {
	page := d.page.Context(ctx).Timeout(d.opts.NavigationTimeout)

	wait := page.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	res, err := page.Eval(submitTokenJS, token)
	if err != nil {
		return session.DriverFailure("inject token", err)
	}

	switch res.Value.Str() {
	case "form", "callback":
		wait()
	default:
		return session.DriverFailure("inject token", errors.New("no form or callback to submit the token"))
	}
	return nil
}

// DetectChallenge classifies the current page
func (d *Driver) DetectChallenge(ctx context.Context) (captcha.Challenge, error) {
	doc, pageURL, err := d.document(ctx)
	if err != nil {
		return captcha.Challenge{}, err
	}
	return captcha.ClassifyDocument(doc, pageURL), nil
}

// Close tears down the page, the browser and the Chrome process. It is
// safe to call more than once.
func (d *Driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	var errs []error
	if d.page != nil {
		if err := d.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
	}
	if d.browser != nil {
		if err := d.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	d.kill()
	return errors.Join(errs...)
}

func (d *Driver) kill() {
	if d.launcher != nil {
		d.launcher.Kill()
		d.launcher.Cleanup()
	}
}

func (d *Driver) document(ctx context.Context) (*goquery.Document, string, error) {
	page := d.page.Context(ctx)

	html, err := page.HTML()
	if err != nil {
		return nil, "", session.DriverFailure("read page", err)
	}
	info, err := page.Info()
	if err != nil {
		return nil, "", session.DriverFailure("page info", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, "", session.DriverFailure("parse page", err)
	}
	return doc, info.URL, nil
}

var proxyFailure = regexp.MustCompile(`ERR_(PROXY|TUNNEL)_`)

// navigationError classifies a failed navigation. Proxy and tunnel errors
// mark the proxy credentials as the likely cause.
func navigationError(url string, err error) error {
	var navErr *rod.NavigationError
	proxyAuth := errors.As(err, &navErr) && proxyFailure.MatchString(navErr.Reason)
	return &session.NavigationError{URL: url, ProxyAuth: proxyAuth, Err: err}
}

var unsafeLabel = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func sanitiseLabel(label string) string {
	label = unsafeLabel.ReplaceAllString(strings.TrimSpace(label), "_")
	if label == "" {
		return "page"
	}
	return label
}
