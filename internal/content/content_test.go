package content

import (
	"strings"
	"testing"
)

func TestSanitizeStripsScripts(t *testing.T) {
	t.Parallel()

	html := `<html><body><script>alert(1)</script><style>p{}</style><p>keep me</p></body></html>`
	out, err := Sanitize(html)
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if strings.Contains(out, "alert(1)") || strings.Contains(out, "<style>") {
		t.Fatalf("dangerous constructs survived: %s", out)
	}
	if !strings.Contains(out, "keep me") {
		t.Fatalf("content lost: %s", out)
	}
}

func TestExtractPrefersArticleElement(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("Substantial article text. ", 10)
	html := `<html><body><div class="sidebar">short</div><article>` + long + `</article></body></html>`

	out, err := NewExtractor().Extract(html, "https://example.com/post")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(out, "Substantial article text.") {
		t.Fatalf("article content missing: %s", out)
	}
	if strings.Contains(out, "sidebar") {
		t.Fatalf("extraction should be scoped to the article element: %s", out)
	}
}

func TestExtractFallsBackToBody(t *testing.T) {
	t.Parallel()

	html := `<html><body><p>just a short page</p></body></html>`
	out, err := NewExtractor().Extract(html, "https://example.com/")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(out, "just a short page") {
		t.Fatalf("body fallback failed: %s", out)
	}
}

func TestExtractEmptyDocument(t *testing.T) {
	t.Parallel()

	out, err := NewExtractor().Extract("<html><body>   </body></html>", "https://example.com/")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if out != "" {
		t.Fatalf("expected no usable content, got %q", out)
	}
}

func TestVisibleTextLen(t *testing.T) {
	t.Parallel()

	if n := VisibleTextLen("<p>hello world</p>"); n != len("hello world") {
		t.Fatalf("len = %d", n)
	}
	if n := VisibleTextLen("<p>  </p>"); n != 0 {
		t.Fatalf("whitespace-only should be 0, got %d", n)
	}
}

func TestPreprocess(t *testing.T) {
	t.Parallel()

	in := "![logo](https://example.com/logo.png)\n" +
		"Read [the docs](https://example.com/docs) first.\n" +
		"<img src=\"x.png\"> Visit https://example.com/page now.\n" +
		"<b>bold</b> text\n\n\n\nmore   spaces"
	out := Preprocess(in)

	for _, banned := range []string{"![", "](", "<img", "https://", "<b>", "\n\n\n", "   "} {
		if strings.Contains(out, banned) {
			t.Errorf("preprocessed output still contains %q: %q", banned, out)
		}
	}
	for _, kept := range []string{"logo", "the docs", "bold", "more spaces"} {
		if !strings.Contains(out, kept) {
			t.Errorf("preprocessed output lost %q: %q", kept, out)
		}
	}
}
