package feed

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"
)

// Subscription is one feed from a subscription list.
type Subscription struct {
	Title   string
	URL     string
	HTMLURL string
}

type opmlDoc struct {
	Body opmlBody `xml:"body"`
}

type opmlBody struct {
	Outlines []opmlOutline `xml:"outline"`
}

type opmlOutline struct {
	Text     string        `xml:"text,attr"`
	Title    string        `xml:"title,attr"`
	XMLURL   string        `xml:"xmlUrl,attr"`
	HTMLURL  string        `xml:"htmlUrl,attr"`
	Outlines []opmlOutline `xml:"outline"`
}

// ParseOPML reads a subscription list, flattening nested folders.
func ParseOPML(path string) ([]Subscription, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read subscription list: %w", err)
	}
	return ParseOPMLBytes(raw)
}

// ParseOPMLBytes parses a subscription document from memory.
func ParseOPMLBytes(raw []byte) ([]Subscription, error) {
	var doc opmlDoc
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse subscription list: %w", err)
	}
	var feeds []Subscription
	collectOutlines(doc.Body.Outlines, &feeds)
	return feeds, nil
}

func collectOutlines(outlines []opmlOutline, feeds *[]Subscription) {
	for _, o := range outlines {
		url := o.XMLURL
		if url == "" {
			url = o.HTMLURL
		}
		if url != "" {
			title := o.Text
			if title == "" {
				title = o.Title
			}
			if strings.TrimSpace(title) == "" {
				title = "Unknown"
			}
			*feeds = append(*feeds, Subscription{
				Title:   title,
				URL:     url,
				HTMLURL: o.HTMLURL,
			})
		}
		collectOutlines(o.Outlines, feeds)
	}
}

// WriteOPML renders subscriptions back to an OPML document, used by the
// failed-feeds report.
func WriteOPML(path, title string, sections map[string][]Subscription, order []string) error {
	var sb strings.Builder
	sb.WriteString(xml.Header)
	sb.WriteString("<opml version=\"1.1\">\n")
	fmt.Fprintf(&sb, "  <head><title>%s</title></head>\n", xmlEscape(title))
	sb.WriteString("  <body>\n")
	for _, section := range order {
		subs := sections[section]
		if len(subs) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "    <!-- %s -->\n", section)
		for _, s := range subs {
			fmt.Fprintf(&sb,
				`    <outline text="%s" title="%s" type="rss" xmlUrl="%s" htmlUrl="%s"/>`+"\n",
				xmlEscape(s.Title), xmlEscape(s.Title), xmlEscape(s.URL), xmlEscape(s.HTMLURL))
		}
	}
	sb.WriteString("  </body>\n</opml>\n")
	return os.WriteFile(path, []byte(sb.String()), 0644)
}

func xmlEscape(s string) string {
	var sb strings.Builder
	xml.EscapeText(&sb, []byte(s))
	return sb.String()
}
