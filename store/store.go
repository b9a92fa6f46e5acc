package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Document represents a row in the documents table.
type Document struct {
	ID          int64  `json:"id"`
	Path        string `json:"path"`
	Supplier    string `json:"supplier"`
	Revision    string `json:"revision"`
	Filename    string `json:"filename"`
	Format      string `json:"format"`
	ContentHash string `json:"content_hash"`
	LayoutHash  string `json:"layout_hash,omitempty"` // layout and cleaner rules used for extraction
	Source      string `json:"source,omitempty"`
	Pages       int    `json:"pages"`
	Status      string `json:"status"`
	RunID       string `json:"run_id,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Record represents a row in the records table.
type Record struct {
	ID          int64   `json:"id"`
	DocumentID  int64   `json:"document_id"`
	Position    int     `json:"position"`
	Code        string  `json:"code"`
	Description string  `json:"description"`
	UnitValue   float64 `json:"unit_value"`
	Supplier    string  `json:"supplier_tag"`
}

// Rejection represents a row in the rejections table.
type Rejection struct {
	ID         int64  `json:"id"`
	DocumentID int64  `json:"document_id"`
	Position   int    `json:"position"`
	Page       int    `json:"page"`
	LineNo     int    `json:"line_no"`
	Reason     string `json:"reason"`
	Line       string `json:"line"`
	Detail     string `json:"detail,omitempty"`
}

// Run represents a row in the runs table.
type Run struct {
	ID         string    `json:"id"`
	Documents  int       `json:"documents"`
	Records    int       `json:"records"`
	Failures   int       `json:"failures"`
	Output     string    `json:"output,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RecordMatch is a record returned by a search, with its document and score.
type RecordMatch struct {
	Record
	Filename string  `json:"filename"`
	Path     string  `json:"path"`
	Score    float64 `json:"score"`
}

// Store wraps the SQLite database for all goquote persistence.
type Store struct {
	db        *sql.DB
	vectorDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including sqlite-vec and FTS5 virtual tables.
func New(dbPath string, vectorDim int) (*Store, error) {
	if vectorDim <= 0 {
		vectorDim = DefaultVectorDim
	}

	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(vectorDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, vectorDim: vectorDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// VectorDim returns the configured description vector dimension.
func (s *Store) VectorDim() int {
	return s.vectorDim
}

// --- Document operations ---

const documentColumns = `id, path, supplier, revision, filename, format, content_hash,
	layout_hash, source, pages, status, run_id, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	d := &Document{}
	var layoutHash, source, runID sql.NullString
	if err := row.Scan(&d.ID, &d.Path, &d.Supplier, &d.Revision, &d.Filename,
		&d.Format, &d.ContentHash, &layoutHash, &source, &d.Pages, &d.Status, &runID,
		&d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.LayoutHash = layoutHash.String
	d.Source = source.String
	d.RunID = runID.String
	return d, nil
}

// UpsertDocument inserts or updates a document record. Returns the document ID.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (path, supplier, revision, filename, format, content_hash,
			layout_hash, source, pages, status, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path, supplier, revision) DO UPDATE SET
			filename = excluded.filename,
			format = excluded.format,
			content_hash = excluded.content_hash,
			layout_hash = excluded.layout_hash,
			source = excluded.source,
			pages = excluded.pages,
			status = excluded.status,
			run_id = excluded.run_id,
			updated_at = CURRENT_TIMESTAMP
	`, doc.Path, doc.Supplier, doc.Revision, doc.Filename, doc.Format, doc.ContentHash,
		doc.LayoutHash, doc.Source, doc.Pages, doc.Status, doc.RunID)
	if err != nil {
		return 0, err
	}

	// LastInsertId is not reliable after the UPDATE branch, so read the row back.
	existing, err := s.GetDocumentByKey(ctx, doc.Path, doc.Supplier, doc.Revision)
	if err != nil {
		return 0, err
	}
	return existing.ID, nil
}

// GetDocumentByKey retrieves the document read from path with one supplier
// layout revision.
func (s *Store) GetDocumentByKey(ctx context.Context, path, supplier, revision string) (*Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE path = ? AND supplier = ? AND revision = ?",
		path, supplier, revision))
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ?", id))
}

// ListDocuments returns all documents, most recently updated first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents ORDER BY updated_at DESC, id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus updates just the status field.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		status, id)
	return err
}

// DeleteDocument removes a document with its records, rejections and
// description vectors.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := deleteResults(ctx, tx, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// deleteResults removes the extraction output of a document. vec0 tables do
// not take part in foreign key cascades, so vectors go first.
func deleteResults(ctx context.Context, tx *sql.Tx, docID int64) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM vec_records WHERE record_id IN (
			SELECT id FROM records WHERE document_id = ?
		)`, docID); err != nil {
		return err
	}
	// Delete records (triggers will clean up FTS)
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM records WHERE document_id = ?", docID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM rejections WHERE document_id = ?", docID); err != nil {
		return err
	}
	return nil
}

// --- Record operations ---

// ReplaceResults swaps the records and rejections of a document for new
// ones in a single transaction. Positions are assigned from slice order and
// every record with a non-empty description gets a description vector.
func (s *Store) ReplaceResults(ctx context.Context, docID int64, records []Record, rejections []Rejection) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := deleteResults(ctx, tx, docID); err != nil {
			return err
		}

		recStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO records (document_id, position, code, description, unit_value, supplier)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer recStmt.Close()

		vecStmt, err := tx.PrepareContext(ctx,
			"INSERT OR REPLACE INTO vec_records (record_id, embedding) VALUES (?, ?)")
		if err != nil {
			return err
		}
		defer vecStmt.Close()

		for i, r := range records {
			res, err := recStmt.ExecContext(ctx, docID, i, r.Code, r.Description, r.UnitValue, r.Supplier)
			if err != nil {
				return fmt.Errorf("inserting record %d: %w", i, err)
			}
			v := DescriptionVector(r.Description, s.vectorDim)
			if v == nil {
				continue
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			if _, err := vecStmt.ExecContext(ctx, id, serializeFloat32(v)); err != nil {
				return fmt.Errorf("inserting record vector %d: %w", i, err)
			}
		}

		rejStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO rejections (document_id, position, page, line_no, reason, line, detail)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer rejStmt.Close()

		for i, r := range rejections {
			if _, err := rejStmt.ExecContext(ctx, docID, i, r.Page, r.LineNo, r.Reason, r.Line, r.Detail); err != nil {
				return fmt.Errorf("inserting rejection %d: %w", i, err)
			}
		}
		return nil
	})
}

const recordColumns = "r.id, r.document_id, r.position, r.code, r.description, r.unit_value, r.supplier"

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Position, &r.Code,
			&r.Description, &r.UnitValue, &r.Supplier); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRecordsByDocument returns the records of one document in line order.
func (s *Store) GetRecordsByDocument(ctx context.Context, docID int64) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM records r WHERE r.document_id = ? ORDER BY r.position", docID)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// ListRecords returns every stored record, optionally for one supplier,
// grouped by document in the order the documents were first stored.
func (s *Store) ListRecords(ctx context.Context, supplier string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM records r
		WHERE ? = '' OR r.supplier = ?
		ORDER BY r.document_id, r.position
	`, supplier, supplier)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// GetRejectionsByDocument returns the rejected lines of one document in order.
func (s *Store) GetRejectionsByDocument(ctx context.Context, docID int64) ([]Rejection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, position, page, line_no, reason, line, detail
		FROM rejections WHERE document_id = ? ORDER BY position
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rejection
	for rows.Next() {
		var r Rejection
		var detail sql.NullString
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Position, &r.Page, &r.LineNo,
			&r.Reason, &r.Line, &detail); err != nil {
			return nil, err
		}
		r.Detail = detail.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Search ---

// SearchRecords runs a full-text query over codes and descriptions. Every
// word of query must match; accents and case are ignored.
func (s *Store) SearchRecords(ctx context.Context, query string, limit int) ([]RecordMatch, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`, f.rank, d.filename, d.path
		FROM records_fts f
		JOIN records r ON r.id = f.rowid
		JOIN documents d ON d.id = r.document_id
		WHERE records_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RecordMatch
	for rows.Next() {
		var m RecordMatch
		var rank float64
		if err := rows.Scan(&m.ID, &m.DocumentID, &m.Position, &m.Code, &m.Description,
			&m.UnitValue, &m.Supplier, &rank, &m.Filename, &m.Path); err != nil {
			return nil, err
		}
		// FTS5 rank is negative (lower = better), convert to positive score
		m.Score = -rank
		results = append(results, m)
	}
	return results, rows.Err()
}

// SimilarRecords returns the k records whose descriptions are closest to
// text, across all suppliers.
func (s *Store) SimilarRecords(ctx context.Context, text string, k int) ([]RecordMatch, error) {
	v := DescriptionVector(text, s.vectorDim)
	if v == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`, v.distance, d.filename, d.path
		FROM vec_records v
		JOIN records r ON r.id = v.record_id
		JOIN documents d ON d.id = r.document_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(v), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RecordMatch
	for rows.Next() {
		var m RecordMatch
		var distance float64
		if err := rows.Scan(&m.ID, &m.DocumentID, &m.Position, &m.Code, &m.Description,
			&m.UnitValue, &m.Supplier, &distance, &m.Filename, &m.Path); err != nil {
			return nil, err
		}
		// Convert distance to similarity score (1 - distance for cosine)
		m.Score = 1.0 - distance
		results = append(results, m)
	}
	return results, rows.Err()
}

// ftsQuery turns free text into an FTS5 query of quoted terms so user input
// cannot inject query syntax.
func ftsQuery(q string) string {
	terms := strings.FieldsFunc(q, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	for i, t := range terms {
		terms[i] = `"` + t + `"`
	}
	return strings.Join(terms, " ")
}

// --- Runs ---

// InsertRun records a finished batch run.
func (s *Store) InsertRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, documents, records, failures, output, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Documents, r.Records, r.Failures, r.Output, r.StartedAt.UTC(), r.FinishedAt.UTC())
	return err
}

// ListRuns returns batch runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, documents, records, failures, output, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var output sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Documents, &r.Records, &r.Failures, &output,
			&r.StartedAt, &finished); err != nil {
			return nil, err
		}
		r.Output = output.String
		r.FinishedAt = finished.Time
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Stats ---

// DBStats holds row counts for diagnostics.
type DBStats struct {
	Documents  int `json:"documents"`
	Records    int `json:"records"`
	Rejections int `json:"rejections"`
	Vectors    int `json:"vectors"`
	Runs       int `json:"runs"`
}

// DBStats returns row counts of the main tables.
func (s *Store) DBStats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM documents", &stats.Documents},
		{"SELECT COUNT(*) FROM records", &stats.Records},
		{"SELECT COUNT(*) FROM rejections", &stats.Rejections},
		{"SELECT COUNT(*) FROM vec_records", &stats.Vectors},
		{"SELECT COUNT(*) FROM runs", &stats.Runs},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
