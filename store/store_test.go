//go:build cgo

package store

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 64)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ---------------------------------------------------------------------------
// Schema / construction
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.VectorDim() != 64 {
		t.Fatalf("expected vector dim 64, got %d", s.VectorDim())
	}
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}

	var version int
	if err := s.DB().QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("reading schema version: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("schema version = %d, want %d", version, len(migrations))
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "dir", "test.db")
	s, err := New(dbPath, 0)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	defer s.Close()
	if s.VectorDim() != DefaultVectorDim {
		t.Errorf("vector dim = %d, want default %d", s.VectorDim(), DefaultVectorDim)
	}
}

func TestReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := New(dbPath, 64)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertDocument(ctx, sampleDoc("/q/a.pdf", "fornecedor1")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = New(dbPath, 64)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer s.Close()
	docs, err := s.ListDocuments(ctx)
	if err != nil || len(docs) != 1 {
		t.Fatalf("docs = %v, err = %v", docs, err)
	}
}

// ---------------------------------------------------------------------------
// Documents
// ---------------------------------------------------------------------------

func sampleDoc(path, supplier string) Document {
	return Document{
		Path:        path,
		Supplier:    supplier,
		Revision:    "v1",
		Filename:    filepath.Base(path),
		Format:      "pdf",
		ContentHash: "abc123",
		Status:      "ready",
	}
}

func TestUpsertAndGetDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := sampleDoc("/q/a.pdf", "fornecedor1")
	doc.Source = "/tmp/a.cleaned.txt"
	doc.RunID = "run-1"
	id, err := s.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("upserting document: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero document id")
	}

	got, err := s.GetDocument(ctx, id)
	if err != nil {
		t.Fatalf("getting document by id: %v", err)
	}
	if got.Path != doc.Path || got.Supplier != "fornecedor1" || got.Revision != "v1" {
		t.Errorf("got %+v", got)
	}
	if got.Source != doc.Source || got.RunID != "run-1" {
		t.Errorf("source/run: got %q %q", got.Source, got.RunID)
	}
	if got.CreatedAt == "" {
		t.Error("expected created_at to be set")
	}

	if got.LayoutHash != "" {
		t.Errorf("layout hash = %q, want empty", got.LayoutHash)
	}

	// Same key updates in place
	doc.ContentHash = "def456"
	doc.LayoutHash = "f00d"
	id2, err := s.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("re-upserting: %v", err)
	}
	if id2 != id {
		t.Errorf("re-upsert id = %d, want %d", id2, id)
	}
	got, _ = s.GetDocumentByKey(ctx, doc.Path, doc.Supplier, doc.Revision)
	if got.ContentHash != "def456" || got.LayoutHash != "f00d" {
		t.Errorf("content/layout hash = %q/%q, want def456/f00d", got.ContentHash, got.LayoutHash)
	}

	// Another revision of the same file is another document
	doc.Revision = "v2"
	id3, err := s.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatal(err)
	}
	if id3 == id {
		t.Error("expected a new document for another revision")
	}
}

func TestGetDocumentByKeyNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetDocumentByKey(context.Background(), "/nonexistent", "fornecedor1", "v1")
	if err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestUpdateDocumentStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.UpsertDocument(ctx, sampleDoc("/q/a.pdf", "fornecedor1"))

	if err := s.UpdateDocumentStatus(ctx, id, "error"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetDocument(ctx, id)
	if got.Status != "error" {
		t.Errorf("status = %q, want error", got.Status)
	}
}

// ---------------------------------------------------------------------------
// Records and rejections
// ---------------------------------------------------------------------------

func seed(t *testing.T, s *Store) (int64, int64) {
	t.Helper()
	ctx := context.Background()

	a, err := s.UpsertDocument(ctx, sampleDoc("/q/a.pdf", "fornecedor1"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceResults(ctx, a, []Record{
		{Code: "ABC-123", Description: "PARAFUSO SEXTAVADO M8", UnitValue: 1234.56, Supplier: "fornecedor1"},
		{Code: "ABC-124", Description: "PORCA SEXTAVADA M8", UnitValue: 0.35, Supplier: "fornecedor1"},
	}, []Rejection{
		{Page: 1, LineNo: 3, Reason: "no anchor", Line: "VALIDADE 10 DIAS", Detail: "ncm"},
	}); err != nil {
		t.Fatalf("replacing results: %v", err)
	}

	b, err := s.UpsertDocument(ctx, sampleDoc("/q/b.pdf", "fornecedor3"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceResults(ctx, b, []Record{
		{Code: "4512378", Description: "FITA ISOLANTE 20M", UnitValue: 12.5, Supplier: "fornecedor3"},
		{Code: "4512379", Description: "Parafuso sextavado M10 inox", UnitValue: 2.1, Supplier: "fornecedor3"},
		{Code: "4512380", Description: "", UnitValue: 1, Supplier: "fornecedor3"},
	}, nil); err != nil {
		t.Fatalf("replacing results: %v", err)
	}
	return a, b
}

func TestReplaceResultsOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, b := seed(t, s)

	recs, err := s.GetRecordsByDocument(ctx, b)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("records = %d, want 3", len(recs))
	}
	for i, r := range recs {
		if r.Position != i || r.DocumentID != b {
			t.Errorf("record %d: position %d document %d", i, r.Position, r.DocumentID)
		}
	}
	if recs[0].Code != "4512378" || recs[0].UnitValue != 12.5 {
		t.Errorf("first record = %+v", recs[0])
	}

	rejs, err := s.GetRejectionsByDocument(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if len(rejs) != 1 || rejs[0].Reason != "no anchor" || rejs[0].LineNo != 3 || rejs[0].Detail != "ncm" {
		t.Errorf("rejections = %+v", rejs)
	}

	all, err := s.ListRecords(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 || all[0].Code != "ABC-123" || all[4].Code != "4512380" {
		t.Errorf("ListRecords = %+v", all)
	}
	only, _ := s.ListRecords(ctx, "fornecedor1")
	if len(only) != 2 {
		t.Errorf("ListRecords(fornecedor1) = %d, want 2", len(only))
	}

	stats, err := s.DBStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// the record with an empty description has no vector
	if stats.Records != 5 || stats.Vectors != 4 || stats.Rejections != 1 || stats.Documents != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestReplaceResultsReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, _ := seed(t, s)

	if err := s.ReplaceResults(ctx, a, []Record{
		{Code: "NEW-1", Description: "ARRUELA LISA", UnitValue: 0.1, Supplier: "fornecedor1"},
	}, nil); err != nil {
		t.Fatal(err)
	}

	recs, _ := s.GetRecordsByDocument(ctx, a)
	if len(recs) != 1 || recs[0].Code != "NEW-1" {
		t.Errorf("records = %+v", recs)
	}
	rejs, _ := s.GetRejectionsByDocument(ctx, a)
	if len(rejs) != 0 {
		t.Errorf("rejections = %+v, want none", rejs)
	}
	if got, _ := s.SearchRecords(ctx, "porca", 10); len(got) != 0 {
		t.Errorf("replaced record still searchable: %+v", got)
	}
	stats, _ := s.DBStats(ctx)
	if stats.Vectors != 3 {
		t.Errorf("vectors = %d, want 3", stats.Vectors)
	}
}

func TestDeleteDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, _ := seed(t, s)

	if err := s.DeleteDocument(ctx, a); err != nil {
		t.Fatalf("deleting: %v", err)
	}
	if _, err := s.GetDocument(ctx, a); err != sql.ErrNoRows {
		t.Errorf("expected document gone, got %v", err)
	}
	stats, _ := s.DBStats(ctx)
	if stats.Records != 3 || stats.Vectors != 2 || stats.Rejections != 0 {
		t.Errorf("stats after delete = %+v", stats)
	}

	if err := s.DeleteDocument(ctx, 9999); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("deleting missing document: got %v, want sql.ErrNoRows", err)
	}
}

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

func TestSearchRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s)

	results, err := s.SearchRecords(ctx, "parafuso sextavado", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v, want 2", results)
	}
	for _, r := range results {
		if r.Filename == "" || r.Score == 0 {
			t.Errorf("result missing document or score: %+v", r)
		}
	}

	// accents and case are ignored
	results, err = s.SearchRecords(ctx, "FITA isolânte", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Code != "4512378" {
		t.Errorf("accent-folded search = %+v", results)
	}

	// codes are searchable too
	results, _ = s.SearchRecords(ctx, "ABC-124", 10)
	if len(results) != 1 || results[0].Supplier != "fornecedor1" {
		t.Errorf("code search = %+v", results)
	}
}

func TestSearchRecordsNoMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s)

	results, err := s.SearchRecords(ctx, "zzzyyyxxx", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}

	// query syntax characters are not passed through
	if _, err := s.SearchRecords(ctx, `"parafuso" OR (`, 10); err != nil {
		t.Errorf("search with syntax characters: %v", err)
	}
	if results, _ := s.SearchRecords(ctx, "  ", 10); results != nil {
		t.Errorf("blank query returned %v", results)
	}
}

func TestFTSQuery(t *testing.T) {
	tests := map[string]string{
		"parafuso sextavado": `"parafuso" "sextavado"`,
		`a "b" OR (c)`:       `"a" "b" "OR" "c"`,
		"ABC-123":            `"ABC-123"`,
		"":                   "",
	}
	for in, want := range tests {
		if got := ftsQuery(in); got != want {
			t.Errorf("ftsQuery(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSimilarRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s)

	results, err := s.SimilarRecords(ctx, "parafuso sextavado m8", 2)
	if err != nil {
		t.Fatalf("similar: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v, want 2", results)
	}
	if results[0].Code != "ABC-123" {
		t.Errorf("closest = %+v, want ABC-123", results[0])
	}
	if results[0].Score < results[1].Score {
		t.Errorf("results not ordered by score: %v then %v", results[0].Score, results[1].Score)
	}
	// the other supplier's screw is the next nearest
	if results[1].Code != "4512379" {
		t.Errorf("second = %+v, want 4512379", results[1])
	}

	if got, _ := s.SimilarRecords(ctx, "---", 2); got != nil {
		t.Errorf("query without words returned %v", got)
	}
}

// ---------------------------------------------------------------------------
// Description vectors
// ---------------------------------------------------------------------------

func TestDescriptionVector(t *testing.T) {
	v := DescriptionVector("Frigideira Antiaderente", 32)
	if len(v) != 32 {
		t.Fatalf("len = %d, want 32", len(v))
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("vector not unit length: %v", sum)
	}

	folded := DescriptionVector("FRIGIDEIRA ANTIADERÊNTE", 32)
	for i := range v {
		if math.Abs(float64(v[i]-folded[i])) > 1e-6 {
			t.Fatalf("case/accent variants differ at %d", i)
		}
	}

	if DescriptionVector("  -- ", 32) != nil {
		t.Error("expected nil vector for text without words")
	}
	if len(DescriptionVector("x", 0)) != DefaultVectorDim {
		t.Error("expected default dimension for dim 0")
	}
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

func TestRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b"} {
		if err := s.InsertRun(ctx, Run{
			ID: id, Documents: 2, Records: 10 + i, Failures: i,
			Output:    "/out/orcamentos.xlsx",
			StartedAt: start.Add(time.Duration(i) * time.Hour), FinishedAt: start.Add(time.Duration(i)*time.Hour + time.Minute),
		}); err != nil {
			t.Fatalf("inserting run: %v", err)
		}
	}

	runs, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("listing runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-b" || runs[0].Records != 11 || runs[0].Failures != 1 {
		t.Errorf("runs = %+v", runs)
	}
	if runs[1].Output != "/out/orcamentos.xlsx" {
		t.Errorf("output = %q", runs[1].Output)
	}
	if !runs[1].StartedAt.Equal(start) {
		t.Errorf("started_at = %v, want %v", runs[1].StartedAt, start)
	}
}
