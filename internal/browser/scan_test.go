package browser

import (
	"strings"
	"testing"

	"github.com/Harvey-AU/searchpilot/internal/captcha"
	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const googleResults = `<html><body><div id="search">
<div class="g"><a href="https://www.yelp.com/search?find_desc=plumber"><h3>Best Plumbers near me</h3></a></div>
<div class="g"><a href="/url?q=https://acmeplumbing.example.com/services&amp;sa=U"><h3>Acme Plumbing Services</h3></a></div>
<div class="g"><a href="https://www.angi.com/plumbers"><h3>Angi Plumbers</h3></a></div>
<div class="g"><a href="https://www.angi.com/plumbers"><h3>Angi Plumbers</h3></a></div>
<a href="/search?q=plumber&amp;start=10">Next</a>
</div></body></html>`

const bingResults = `<html><body><ol id="b_results">
<li class="b_algo"><h2><a href="https://www.homeadvisor.com/c.Plumbing.html">HomeAdvisor Plumbing</a></h2></li>
<li class="b_algo"><h2><a href="https://acmeplumbing.example.com/">Acme Plumbing</a></h2></li>
</ol></body></html>`

func parse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestScanDocumentGoogleLayout(t *testing.T) {
	report := scanDocument(parse(t, googleResults), "https://www.google.com/search?q=plumber", "example.com")

	assert.False(t, report.Challenge.Present)
	require.Len(t, report.Results, 3, "duplicates and navigation links are skipped")

	assert.Equal(t, 1, report.Results[0].Position)
	assert.Equal(t, "Best Plumbers near me", report.Results[0].Title)
	assert.Equal(t, 2, report.Results[1].Position)
	assert.Equal(t, "Acme Plumbing Services", report.Results[1].Title)

	assert.True(t, report.TargetMatchFound)
	assert.Equal(t, "/url?q=https://acmeplumbing.example.com/services&sa=U", report.TargetURL,
		"the raw href is kept so the link can be found again")
}

func TestScanDocumentBingLayout(t *testing.T) {
	report := scanDocument(parse(t, bingResults), "https://www.bing.com/search?q=plumber", "acmeplumbing.example.com")

	require.Len(t, report.Results, 2)
	assert.Equal(t, "HomeAdvisor Plumbing", report.Results[0].Title)
	assert.True(t, report.TargetMatchFound)
	assert.Equal(t, "https://acmeplumbing.example.com/", report.TargetURL)
}

func TestScanDocumentNoMatch(t *testing.T) {
	report := scanDocument(parse(t, googleResults), "https://www.google.com/search?q=plumber", "nowhere.test")

	assert.Len(t, report.Results, 3)
	assert.False(t, report.TargetMatchFound)
	assert.Empty(t, report.TargetURL)
}

func TestScanDocumentPathTarget(t *testing.T) {
	report := scanDocument(parse(t, googleResults), "https://www.google.com/search?q=plumber", "angi.com/plumbers")

	assert.True(t, report.TargetMatchFound)
	assert.Equal(t, "https://www.angi.com/plumbers", report.TargetURL)
}

func TestScanDocumentChallengePage(t *testing.T) {
	html := `<html><body><form id="captcha-form" action="index">
<div class="g-recaptcha" data-sitekey="6LfwuyUT" data-s="tok"></div>
</form></body></html>`

	report := scanDocument(parse(t, html), "https://www.google.com/sorry/index", "example.com")

	assert.True(t, report.Challenge.Present)
	assert.Equal(t, captcha.RecaptchaV2, report.Challenge.Type)
	assert.Equal(t, "6LfwuyUT", report.Challenge.SiteKey)
	assert.Empty(t, report.Results)
	assert.False(t, report.TargetMatchFound)
}

func TestScanDocumentEmptyPage(t *testing.T) {
	report := scanDocument(parse(t, `<html><body><p>No results</p></body></html>`), "https://www.google.com/search?q=x", "example.com")

	assert.False(t, report.Challenge.Present)
	assert.Empty(t, report.Results)
	assert.False(t, report.TargetMatchFound)
}
