package models

// FailureRecord tracks repeated fetch or extraction failures for a feed or
// article URL. Retries increments on every failure after the first.
type FailureRecord struct {
	URL       string `db:"url"`
	Error     string `db:"error"`
	Timestamp string `db:"timestamp"` // RFC 3339 UTC
	Retries   int    `db:"retries"`
}

// SummaryFailure records the last summarization error for an article. There
// is no retry counter; re-running the summarize stage clears it.
type SummaryFailure struct {
	URL      string `db:"url"`
	Title    string `db:"title"`
	Filepath string `db:"filepath"`
	Error    string `db:"error"`
}

// ETagEntry stores conditional-fetch validators captured from a feed response.
type ETagEntry struct {
	URL          string `db:"url"`
	ETag         string `db:"etag"`
	LastModified string `db:"last_modified"`
	Timestamp    string `db:"timestamp"`
}
