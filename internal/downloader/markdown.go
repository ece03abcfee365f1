package downloader

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// FrontMatter is the metadata block at the top of an article file.
type FrontMatter struct {
	Title         string
	Source        string
	FeedURL       string
	URL           string
	Published     string
	Downloaded    string
	ContentSource string
	Summary       string
	// Extra preserves keys this version does not know about, so
	// rewriting a file never loses fields added by other tools.
	Extra map[string]string
}

var (
	unsafeDirChars  = regexp.MustCompile(`[<>:"/\\|?*]`)
	whitespaceRun   = regexp.MustCompile(`\s+`)
	unsafeFileChars = regexp.MustCompile(`[^\w\s-]`)
	dashRun         = regexp.MustCompile(`[-\s]+`)
	frontMatterRe   = regexp.MustCompile(`(?s)^---\n(.*?)\n---\n`)
	frontMatterKV   = regexp.MustCompile(`^(\w[\w_]*)\s*:\s*(.*)$`)
)

// yamlEscape renders a value as a double-quoted YAML scalar.
func yamlEscape(v string) string {
	if v == "" {
		return `""`
	}
	r := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
		"\t", `\t`,
	)
	return `"` + r.Replace(v) + `"`
}

func yamlUnescape(v string) string {
	r := strings.NewReplacer(
		`\t`, "\t",
		`\r`, "\r",
		`\n`, "\n",
		`\"`, `"`,
		`\\`, `\`,
	)
	return r.Replace(v)
}

// SafeDirname maps a source name to a filesystem-safe directory name.
func SafeDirname(name string) string {
	name = strings.TrimSpace(unsafeDirChars.ReplaceAllString(name, ""))
	name = whitespaceRun.ReplaceAllString(name, "-")
	if len(name) > 80 {
		name = name[:80]
	}
	if name == "" {
		return "unknown"
	}
	return name
}

// datePrefix returns YYYY-MM-DD from a free-form published string, or
// today when it cannot be parsed.
func datePrefix(published string, now func() time.Time) string {
	if published != "" {
		if t, ok := parseFlexibleDate(published); ok {
			return t.Format("2006-01-02")
		}
	}
	return now().UTC().Format("2006-01-02")
}

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	time.RFC822Z,
	time.RFC822,
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
}

func parseFlexibleDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ArticleFilename builds "YYYY-MM-DD_slug_hash8.md" from the article
// metadata. The URL hash keeps distinct articles with the same title
// from colliding.
func ArticleFilename(title, url, published string, now func() time.Time) string {
	slug := unsafeFileChars.ReplaceAllString(title, "")
	slug = dashRun.ReplaceAllString(strings.TrimSpace(slug), "-")
	if len(slug) > 50 {
		slug = slug[:50]
	}
	sum := sha256.Sum256([]byte(url))
	return fmt.Sprintf("%s_%s_%s.md", datePrefix(published, now), slug, hex.EncodeToString(sum[:4]))
}

// knownKeys is the front matter field order for rendered files.
var knownKeys = []string{
	"title", "source", "feed_url", "url", "published",
	"downloaded", "content_source", "summary",
}

// Render serializes the front matter block followed by the body.
func (fm *FrontMatter) Render(body string) string {
	var sb strings.Builder
	sb.WriteString("---\n")
	write := func(key, val string) {
		fmt.Fprintf(&sb, "%s: %s\n", key, yamlEscape(val))
	}
	write("title", fm.Title)
	write("source", fm.Source)
	write("feed_url", fm.FeedURL)
	write("url", fm.URL)
	published := fm.Published
	if published == "" {
		published = "Unknown"
	}
	write("published", published)
	write("downloaded", fm.Downloaded)
	write("content_source", fm.ContentSource)
	if fm.Summary != "" {
		write("summary", fm.Summary)
	}
	if len(fm.Extra) > 0 {
		keys := make([]string, 0, len(fm.Extra))
		for k := range fm.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			write(k, fm.Extra[k])
		}
	}
	sb.WriteString("---\n\n")
	sb.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		sb.WriteString("\n")
	}
	return sb.String()
}

// ParseFrontMatter splits an article file into its metadata and body.
// Files without a front matter block return a nil FrontMatter and the
// unchanged text.
func ParseFrontMatter(text string) (*FrontMatter, string) {
	m := frontMatterRe.FindStringSubmatch(text)
	if m == nil {
		return nil, text
	}
	body := strings.TrimPrefix(text[len(m[0]):], "\n")

	fm := &FrontMatter{Extra: make(map[string]string)}
	for _, line := range strings.Split(m[1], "\n") {
		kv := frontMatterKV.FindStringSubmatch(line)
		if kv == nil {
			continue
		}
		val := kv[2]
		if len(val) >= 2 && strings.HasPrefix(val, `"`) && strings.HasSuffix(val, `"`) {
			val = yamlUnescape(val[1 : len(val)-1])
		}
		switch kv[1] {
		case "title":
			fm.Title = val
		case "source":
			fm.Source = val
		case "feed_url":
			fm.FeedURL = val
		case "url":
			fm.URL = val
		case "published":
			fm.Published = val
		case "downloaded":
			fm.Downloaded = val
		case "content_source":
			fm.ContentSource = val
		case "summary":
			fm.Summary = val
		default:
			fm.Extra[kv[1]] = val
		}
	}
	return fm, body
}
