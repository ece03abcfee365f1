package importfeeds

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/AaronShark/RSSTools/internal/feed"
)

const sampleCSV = `url,title,site
https://example.com/feed.xml,Example Blog,https://example.com
https://other.org/rss,,https://other.org
ftp://bad.example/feed,Bad Scheme,
,Empty URL,
`

func TestImportFeedsCreatesOPML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "feeds.csv")
	if err := os.WriteFile(csvPath, []byte(sampleCSV), 0644); err != nil {
		t.Fatal(err)
	}
	opmlPath := filepath.Join(dir, "subscriptions.opml")

	added, err := NewImporter(opmlPath).ImportFeeds(csvPath)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if added != 2 {
		t.Fatalf("added = %d, want 2", added)
	}

	subs, err := feed.ParseOPML(opmlPath)
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("subscriptions = %d, want 2", len(subs))
	}
	if subs[0].Title != "Example Blog" || subs[0].URL != "https://example.com/feed.xml" {
		t.Errorf("first subscription = %+v", subs[0])
	}
	// Untitled rows fall back to the URL.
	if subs[1].Title != "https://other.org/rss" {
		t.Errorf("second subscription title = %q", subs[1].Title)
	}
}

func TestImportFeedsMergesWithoutDuplicates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "feeds.csv")
	if err := os.WriteFile(csvPath, []byte(sampleCSV), 0644); err != nil {
		t.Fatal(err)
	}
	opmlPath := filepath.Join(dir, "subscriptions.opml")
	imp := NewImporter(opmlPath)

	if _, err := imp.ImportFeeds(csvPath); err != nil {
		t.Fatalf("first import: %v", err)
	}
	added, err := imp.ImportFeeds(csvPath)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if added != 0 {
		t.Fatalf("second import added = %d, want 0", added)
	}

	subs, err := feed.ParseOPML(opmlPath)
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("subscriptions = %d, want 2", len(subs))
	}
}

func TestImportFeedsFromURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleCSV))
	}))
	defer srv.Close()

	opmlPath := filepath.Join(t.TempDir(), "subscriptions.opml")
	added, err := NewImporter(opmlPath).ImportFeeds(srv.URL + "/feeds.csv")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if added != 2 {
		t.Fatalf("added = %d, want 2", added)
	}
}

func TestImportFeedsMissingURLColumn(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "feeds.csv")
	if err := os.WriteFile(csvPath, []byte("title,site\na,b\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewImporter(filepath.Join(dir, "out.opml")).ImportFeeds(csvPath); err == nil {
		t.Fatal("expected error for missing url column")
	}
}
