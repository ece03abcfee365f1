package migrations

// All lists every schema migration in order. The FTS5 index over articles is
// maintained by triggers, so it can never diverge from the row store: every
// insert, update, and delete touches both inside the same transaction.
var All = []Migration{
	{Version: 1, Up: schemaV1},
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS articles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT UNIQUE NOT NULL,
    title TEXT NOT NULL,
    source_name TEXT NOT NULL,
    feed_url TEXT,
    published TEXT,
    downloaded TEXT,
    filepath TEXT,
    content_source TEXT,
    summary TEXT,
    body TEXT,
    category TEXT,
    score_relevance INTEGER,
    score_quality INTEGER,
    score_timeliness INTEGER,
    keywords TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE VIRTUAL TABLE IF NOT EXISTS articles_fts USING fts5(
    title, summary, body, keywords,
    content='articles',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS articles_ai AFTER INSERT ON articles BEGIN
    INSERT INTO articles_fts(rowid, title, summary, body, keywords)
    VALUES (new.id, new.title, new.summary, new.body, new.keywords);
END;

CREATE TRIGGER IF NOT EXISTS articles_ad AFTER DELETE ON articles BEGIN
    INSERT INTO articles_fts(articles_fts, rowid, title, summary, body, keywords)
    VALUES ('delete', old.id, old.title, old.summary, old.body, old.keywords);
END;

CREATE TRIGGER IF NOT EXISTS articles_au AFTER UPDATE ON articles BEGIN
    INSERT INTO articles_fts(articles_fts, rowid, title, summary, body, keywords)
    VALUES ('delete', old.id, old.title, old.summary, old.body, old.keywords);
    INSERT INTO articles_fts(rowid, title, summary, body, keywords)
    VALUES (new.id, new.title, new.summary, new.body, new.keywords);
END;

CREATE TABLE IF NOT EXISTS feed_failures (
    url TEXT PRIMARY KEY,
    error TEXT NOT NULL DEFAULT '',
    timestamp TEXT NOT NULL DEFAULT '',
    retries INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS article_failures (
    url TEXT PRIMARY KEY,
    error TEXT NOT NULL DEFAULT '',
    timestamp TEXT NOT NULL DEFAULT '',
    retries INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS summary_failures (
    url TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    filepath TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS feed_etags (
    url TEXT PRIMARY KEY,
    etag TEXT NOT NULL DEFAULT '',
    last_modified TEXT NOT NULL DEFAULT '',
    timestamp TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published);
CREATE INDEX IF NOT EXISTS idx_articles_source ON articles(source_name);
CREATE INDEX IF NOT EXISTS idx_articles_category ON articles(category);
`
