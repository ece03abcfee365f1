// Package content sanitizes raw HTML and extracts the main article body.
package content

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extractor produces best-effort main-content text from raw HTML. A nil
// result with no error means nothing usable was found.
type Extractor interface {
	Extract(html, sourceURL string) (string, error)
}

// mainContentSelectors are tried in order against the sanitized document.
var mainContentSelectors = []string{
	"article",
	`[role="main"]`,
	".content",
	"#content",
	".post",
	".entry",
	".article-body",
	".post-content",
	"main",
	".main-content",
	"#main",
}

const minContentChars = 100

// Sanitize strips script, style, and other dangerous or non-content
// constructs from raw HTML before extraction.
func Sanitize(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, iframe, object, embed, noscript, nav, footer, header, aside").Remove()
	out, err := doc.Html()
	if err != nil {
		return "", err
	}
	return out, nil
}

// SelectorExtractor walks a list of common main-content selectors and falls
// back to the document body.
type SelectorExtractor struct{}

// NewExtractor returns the default selector-based extractor.
func NewExtractor() *SelectorExtractor {
	return &SelectorExtractor{}
}

// Extract returns the HTML of the first selector whose visible text clears a
// minimum length, then the body as a last resort. Empty string means no
// usable content.
func (e *SelectorExtractor) Extract(html, sourceURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, nav, footer, header, aside, iframe").Remove()

	for _, sel := range mainContentSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if len(strings.TrimSpace(node.Text())) > minContentChars {
			out, err := goquery.OuterHtml(node)
			if err != nil {
				return "", err
			}
			return out, nil
		}
	}

	body := doc.Find("body").First()
	if body.Length() > 0 && strings.TrimSpace(body.Text()) != "" {
		out, err := goquery.OuterHtml(body)
		if err != nil {
			return "", err
		}
		return out, nil
	}
	return "", nil
}

// VisibleTextLen returns the length of the rendered text of an HTML
// fragment, used to decide whether feed-embedded content is substantial
// enough to keep.
func VisibleTextLen(html string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0
	}
	return len(strings.TrimSpace(doc.Text()))
}
