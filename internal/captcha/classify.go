package captcha

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

var blockPhrases = []string{
	"unusual traffic from your computer network",
	"our systems have detected unusual traffic",
	"verify you are a human",
	"please verify you are a human",
}

// resultsLayoutSelector matches the organic results container of the
// supported engines. Block phrases are not checked on such pages since a
// snippet may quote them.
const resultsLayoutSelector = "#search, #rso, #b_results, [data-testid=result], .result__a"

// Classify inspects a rendered page and reports any challenge on it.
func Classify(html, pageURL string) Challenge {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		log.Warn().Err(err).Str("url", pageURL).Msg("Failed to parse page for challenge markers")
		return Challenge{PageURL: pageURL}
	}
	return ClassifyDocument(doc, pageURL)
}

// ClassifyDocument is Classify on an already parsed document.
func ClassifyDocument(doc *goquery.Document, pageURL string) Challenge {
	ch := Challenge{PageURL: pageURL}

	if sel := doc.Find(".h-captcha, iframe[src*='hcaptcha.com']"); sel.Length() > 0 {
		ch.Present, ch.Type = true, HCaptcha
		ch.SiteKey = siteKeyFrom(doc.Find(".h-captcha[data-sitekey]"), sel)
		return ch
	}
	if scriptSrcContains(doc, "hcaptcha.com") {
		ch.Present, ch.Type = true, HCaptcha
		return ch
	}

	if sel := doc.Find(".cf-turnstile, iframe[src*='challenges.cloudflare.com']"); sel.Length() > 0 {
		ch.Present, ch.Type = true, Turnstile
		ch.SiteKey = siteKeyFrom(doc.Find(".cf-turnstile[data-sitekey]"), sel)
		return ch
	}
	if scriptSrcContains(doc, "challenges.cloudflare.com/turnstile") {
		ch.Present, ch.Type = true, Turnstile
		return ch
	}

	v2 := doc.Find(".g-recaptcha, #recaptcha, iframe[src*='recaptcha/api2/anchor'], iframe[src*='recaptcha/enterprise/anchor'], textarea[name='g-recaptcha-response']")
	if v2.Length() > 0 {
		ch.Present, ch.Type = true, RecaptchaV2
		keyed := doc.Find(".g-recaptcha[data-sitekey], #recaptcha[data-sitekey], [data-sitekey]")
		ch.SiteKey = siteKeyFrom(keyed, doc.Find("iframe[src*='recaptcha']"))
		ch.DataS, _ = keyed.First().Attr("data-s")
		return ch
	}

	if key := recaptchaRenderKey(doc); key != "" {
		ch.Present, ch.Type, ch.SiteKey = true, RecaptchaV3, key
		return ch
	}

	if isBlockPage(doc, pageURL) {
		ch.Present, ch.Type = true, Unknown
		ch.SiteKey, _ = doc.Find("[data-sitekey]").First().Attr("data-sitekey")
	}
	return ch
}

// siteKeyFrom prefers a data-sitekey attribute and falls back to the k
// (or sitekey) query parameter of a widget iframe.
func siteKeyFrom(keyed, frames *goquery.Selection) string {
	if key, ok := keyed.First().Attr("data-sitekey"); ok && key != "" {
		return key
	}

	var key string
	frames.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, ok := s.Attr("src")
		if !ok {
			return true
		}
		u, err := url.Parse(src)
		if err != nil {
			return true
		}
		q := u.Query()
		key = q.Get("k")
		if key == "" {
			key = q.Get("sitekey")
		}
		return key == ""
	})
	return key
}

func scriptSrcContains(doc *goquery.Document, fragment string) bool {
	found := false
	doc.Find("script[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		found = strings.Contains(src, fragment)
		return !found
	})
	return found
}

// recaptchaRenderKey returns the site key of an invisible v3 integration
// (api.js?render=<key>).
func recaptchaRenderKey(doc *goquery.Document) string {
	var key string
	doc.Find("script[src*='recaptcha/api.js'], script[src*='recaptcha/enterprise.js']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		u, err := url.Parse(src)
		if err != nil {
			return true
		}
		if r := u.Query().Get("render"); r != "" && r != "explicit" && r != "onload" {
			key = r
			return false
		}
		return true
	})
	return key
}

func isBlockPage(doc *goquery.Document, pageURL string) bool {
	if u, err := url.Parse(pageURL); err == nil && strings.HasPrefix(u.Path, "/sorry/") {
		return true
	}
	if doc.Find("form#captcha-form").Length() > 0 {
		return true
	}
	if doc.Find(resultsLayoutSelector).Length() > 0 {
		return false
	}
	text := strings.ToLower(doc.Find("body").Text())
	for _, phrase := range blockPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}
