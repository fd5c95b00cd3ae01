package browser

import (
	"strings"

	"github.com/Harvey-AU/searchpilot/internal/captcha"
	"github.com/Harvey-AU/searchpilot/internal/session"
	"github.com/Harvey-AU/searchpilot/internal/util"
	"github.com/PuerkitoBio/goquery"
)

// resultLayout describes where one search engine puts its organic results
type resultLayout struct {
	name  string
	link  string // selector for the result anchor
	title string // selector for the title, relative to the anchor; empty uses the anchor text
}

var resultLayouts = []resultLayout{
	{name: "google", link: "#search a:has(h3)", title: "h3"},
	{name: "bing", link: "#b_results li.b_algo h2 a"},
	{name: "duckduckgo", link: "a[data-testid=result-title-a]"},
	{name: "duckduckgo_html", link: "a.result__a"},
}

// scanDocument extracts organic results, the challenge state and the first
// result matching target from a results page.
func scanDocument(doc *goquery.Document, pageURL, target string) session.ScanReport {
	report := session.ScanReport{
		Challenge: captcha.ClassifyDocument(doc, pageURL),
	}
	if report.Challenge.Present {
		return report
	}

	report.Results = extractResults(doc)
	for _, r := range report.Results {
		if util.MatchesTarget(r.URL, target) {
			report.TargetMatchFound = true
			report.TargetURL = r.URL
			break
		}
	}
	return report
}

func extractResults(doc *goquery.Document) []session.Result {
	for _, layout := range resultLayouts {
		var results []session.Result
		seen := make(map[string]bool)

		doc.Find(layout.link).Each(func(_ int, a *goquery.Selection) {
			href, ok := a.Attr("href")
			if !ok {
				return
			}
			dest := util.ResultTarget(href)
			if !strings.HasPrefix(dest, "http://") && !strings.HasPrefix(dest, "https://") {
				return
			}
			if seen[href] {
				return
			}
			seen[href] = true

			title := a.Text()
			if layout.title != "" {
				title = a.Find(layout.title).First().Text()
			}

			results = append(results, session.Result{
				Position: len(results) + 1,
				Title:    strings.TrimSpace(title),
				URL:      href,
			})
		})

		if len(results) > 0 {
			return results
		}
	}
	return nil
}
