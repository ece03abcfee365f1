package importfeeds

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/AaronShark/RSSTools/internal/feed"
)

// Importer merges feed lists in CSV form into the OPML subscriptions file.
// Feeds already subscribed are left untouched, so imports are repeatable.
type Importer struct {
	opmlPath string
}

// NewImporter creates a new feed importer writing to opmlPath.
func NewImporter(opmlPath string) *Importer {
	return &Importer{opmlPath: opmlPath}
}

// ImportFeeds reads a CSV feed list from a local path or an http(s) URL and
// merges it into the subscriptions file. It returns the number of feeds
// added.
func (i *Importer) ImportFeeds(source string) (int, error) {
	log.Info().Str("source", source).Str("opml", i.opmlPath).Msg("Starting feed import")

	csvData, cleanup, err := i.getCSVData(source)
	if err != nil {
		return 0, fmt.Errorf("failed to get CSV data: %w", err)
	}
	defer cleanup()

	added, err := i.parseAndMergeFeeds(csvData)
	if err != nil {
		return 0, fmt.Errorf("failed to import feeds: %w", err)
	}

	log.Info().Int("added", added).Msg("Import completed successfully")
	return added, nil
}

func (i *Importer) getCSVData(source string) (io.Reader, func(), error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		log.Info().Str("url", source).Msg("Downloading CSV feed list")
		return i.downloadCSV(source)
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, nil, fmt.Errorf("CSV file not found: %s", source)
	}
	log.Info().Str("path", source).Msg("Using local CSV file")
	return f, func() { f.Close() }, nil
}

func (i *Importer) downloadCSV(url string) (io.Reader, func(), error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, nil, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("failed to download file: HTTP status %d", resp.StatusCode)
	}

	tempFile, err := os.CreateTemp("", "feeds-*.csv")
	if err != nil {
		resp.Body.Close()
		return nil, nil, err
	}

	bytesWritten, err := io.Copy(tempFile, resp.Body)
	resp.Body.Close()
	if err != nil {
		tempFile.Close()
		os.Remove(tempFile.Name())
		return nil, nil, err
	}

	log.Debug().
		Int64("bytes", bytesWritten).
		Str("path", tempFile.Name()).
		Msg("Downloaded CSV file to temporary location")

	if _, err := tempFile.Seek(0, 0); err != nil {
		tempFile.Close()
		os.Remove(tempFile.Name())
		return nil, nil, err
	}

	cleanup := func() {
		tempFile.Close()
		os.Remove(tempFile.Name())
	}
	return tempFile, cleanup, nil
}

func (i *Importer) parseAndMergeFeeds(csvData io.Reader) (int, error) {
	log.Debug().Msg("Starting to parse and merge feeds")

	reader := csv.NewReader(csvData)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return 0, err
	}

	log.Debug().Strs("header", header).Msg("CSV header read")

	urlIdx := findColumnIndex(header, "url")
	if urlIdx < 0 {
		return 0, fmt.Errorf("required column 'url' not found in CSV header")
	}
	titleIdx := findColumnIndex(header, "title")
	siteIdx := findColumnIndex(header, "site")

	existing, err := feed.ParseOPML(i.opmlPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("failed to read subscriptions: %w", err)
		}
		existing = nil
	}
	known := make(map[string]bool, len(existing))
	for _, sub := range existing {
		known[sub.URL] = true
	}

	lineCount := 1 // Header was already read
	added := 0
	var importErrors []string

	subs := existing
	for {
		lineCount++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Err(err).Int("line", lineCount).Msg("Error reading CSV line")
			importErrors = append(importErrors, fmt.Sprintf("line %d: %v", lineCount, err))
			continue
		}

		if len(record) == 0 || (len(record) == 1 && record[0] == "") {
			log.Debug().Int("line", lineCount).Msg("Skipping empty row")
			continue
		}

		url := safeGetValue(record, urlIdx)
		if url == "" {
			log.Warn().Int("line", lineCount).Msg("Skipping row with empty URL")
			importErrors = append(importErrors, fmt.Sprintf("line %d: empty URL", lineCount))
			continue
		}
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			log.Warn().Int("line", lineCount).Str("url", url).Msg("Skipping row with non-http URL")
			importErrors = append(importErrors, fmt.Sprintf("line %d: non-http URL: %s", lineCount, url))
			continue
		}
		if known[url] {
			log.Debug().Int("line", lineCount).Str("url", url).Msg("Already subscribed")
			continue
		}

		sub := feed.Subscription{
			URL:     url,
			Title:   safeGetValue(record, titleIdx),
			HTMLURL: safeGetValue(record, siteIdx),
		}
		if sub.Title == "" {
			sub.Title = url
		}

		subs = append(subs, sub)
		known[url] = true
		added++
		log.Debug().Int("line", lineCount).Str("url", url).Msg("Feed queued for import")
	}

	if added > 0 {
		err = feed.WriteOPML(i.opmlPath, "RSSKB Subscriptions",
			map[string][]feed.Subscription{"Subscriptions": subs},
			[]string{"Subscriptions"})
		if err != nil {
			return 0, fmt.Errorf("failed to write subscriptions: %w", err)
		}
	}

	log.Info().
		Int("total", lineCount-1).
		Int("added", added).
		Int("errors", len(importErrors)).
		Msg("Import summary")

	fmt.Printf("Imported %d feeds successfully\n", added)
	if len(importErrors) > 0 {
		fmt.Printf("Encountered %d errors:\n", len(importErrors))
		for _, e := range importErrors {
			fmt.Printf("  - %s\n", e)
		}
	}

	return added, nil
}

func findColumnIndex(header []string, columnName string) int {
	for i, col := range header {
		if strings.EqualFold(col, columnName) {
			return i
		}
	}
	return -1
}

// safeGetValue returns the value at index, or an empty string when the index
// is out of bounds.
func safeGetValue(record []string, index int) string {
	if index >= 0 && index < len(record) {
		return strings.TrimSpace(record[index])
	}
	return ""
}
