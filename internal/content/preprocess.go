package content

import (
	"regexp"
	"strings"
)

var (
	markdownImageRe = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	htmlImageRe     = regexp.MustCompile(`(?i)<img[^>]*>`)
	markdownLinkRe  = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	bareURLRe       = regexp.MustCompile(`https?://\S+`)
	htmlTagRe       = regexp.MustCompile(`<[^>]+>`)
	blankLinesRe    = regexp.MustCompile(`\n{3,}`)
	spacesRe        = regexp.MustCompile(` {2,}`)
)

// Preprocess cleans text before it is sent to the summarization endpoint:
// images and URLs add tokens without adding meaning.
func Preprocess(text string) string {
	text = markdownImageRe.ReplaceAllString(text, "$1")
	text = htmlImageRe.ReplaceAllString(text, "")
	text = markdownLinkRe.ReplaceAllString(text, "$1")
	text = bareURLRe.ReplaceAllString(text, "")
	text = htmlTagRe.ReplaceAllString(text, "")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	text = spacesRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
