package store

import "fmt"

// schemaSQL returns the DDL for all tables. vectorDim controls the vec0
// virtual table dimension.
func schemaSQL(vectorDim int) string {
	return fmt.Sprintf(`
-- Document registry with hash-based change detection. A file read with two
-- supplier layouts is two documents.
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    path TEXT NOT NULL,
    supplier TEXT NOT NULL,
    revision TEXT NOT NULL,
    filename TEXT NOT NULL,
    format TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    layout_hash TEXT,
    source TEXT,
    pages INTEGER DEFAULT 0,
    status TEXT DEFAULT 'pending',
    run_id TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(path, supplier, revision)
);

-- Extracted line items, in document line order
CREATE TABLE IF NOT EXISTS records (
    id INTEGER PRIMARY KEY,
    document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    code TEXT NOT NULL,
    description TEXT NOT NULL,
    unit_value REAL NOT NULL,
    supplier TEXT NOT NULL
);

-- Lines that produced no record
CREATE TABLE IF NOT EXISTS rejections (
    id INTEGER PRIMARY KEY,
    document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    page INTEGER NOT NULL,
    line_no INTEGER NOT NULL,
    reason TEXT NOT NULL,
    line TEXT NOT NULL,
    detail TEXT
);

-- Batch runs
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    documents INTEGER NOT NULL DEFAULT 0,
    records INTEGER NOT NULL DEFAULT 0,
    failures INTEGER NOT NULL DEFAULT 0,
    output TEXT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME
);

-- Description vectors via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_records USING vec0(
    record_id INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);

-- Full-text search over codes and descriptions
CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(
    code,
    description,
    content='records',
    content_rowid='id',
    tokenize='unicode61 remove_diacritics 2'
);

CREATE TRIGGER IF NOT EXISTS records_ai AFTER INSERT ON records BEGIN
    INSERT INTO records_fts(rowid, code, description) VALUES (new.id, new.code, new.description);
END;
CREATE TRIGGER IF NOT EXISTS records_ad AFTER DELETE ON records BEGIN
    INSERT INTO records_fts(records_fts, rowid, code, description) VALUES ('delete', old.id, old.code, old.description);
END;
CREATE TRIGGER IF NOT EXISTS records_au AFTER UPDATE ON records BEGIN
    INSERT INTO records_fts(records_fts, rowid, code, description) VALUES ('delete', old.id, old.code, old.description);
    INSERT INTO records_fts(rowid, code, description) VALUES (new.id, new.code, new.description);
END;

CREATE INDEX IF NOT EXISTS idx_records_document ON records(document_id);
CREATE INDEX IF NOT EXISTS idx_rejections_document ON rejections(document_id);
CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash);
`, vectorDim)
}
