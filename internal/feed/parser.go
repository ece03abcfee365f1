// Package feed parses feed documents and subscription lists into the plain
// entry types the downloader consumes.
package feed

import (
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"
)

// Entry is one item of a parsed feed.
type Entry struct {
	Title     string
	Link      string
	Published string
	Content   string
}

// Parser turns raw feed bytes into entries. gofeed handles RSS, Atom, and
// JSON Feed behind one interface.
type Parser struct {
	parser *gofeed.Parser
}

// NewParser creates a feed parser.
func NewParser() *Parser {
	return &Parser{parser: gofeed.NewParser()}
}

// Parse extracts entries from a raw feed document. Item content prefers the
// full content element and falls back to the description/summary.
func (p *Parser) Parse(raw string) ([]Entry, error) {
	parsed, err := p.parser.ParseString(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	entries := make([]Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = "Unknown"
		}
		published := item.Published
		if published == "" {
			published = item.Updated
		}
		content := item.Content
		if content == "" {
			content = item.Description
		}
		entries = append(entries, Entry{
			Title:     title,
			Link:      strings.TrimSpace(item.Link),
			Published: published,
			Content:   content,
		})
	}
	return entries, nil
}
