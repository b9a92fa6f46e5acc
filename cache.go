package goquote

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/brunobiangulo/goquote/cleaner"
	"github.com/brunobiangulo/goquote/dispatch"
	"github.com/brunobiangulo/goquote/extract"
	"github.com/brunobiangulo/goquote/parser"
	"github.com/brunobiangulo/goquote/store"
)

const (
	statusDone = "done"
)

// storeCache backs dispatch runs with the document registry: a document
// whose content hash and layout fingerprint match the stored ones is
// reloaded instead of re-extracted.
type storeCache struct {
	store      *store.Store
	extractors *extract.Registry
	cleaner    cleaner.Config
	runID      string
	force      bool
	hashes     map[string]string
}

func newStoreCache(s *store.Store, extractors *extract.Registry, cl cleaner.Config, runID string, force bool) *storeCache {
	return &storeCache{
		store:      s,
		extractors: extractors,
		cleaner:    cl,
		runID:      runID,
		force:      force,
		hashes:     make(map[string]string),
	}
}

func (c *storeCache) revision(job dispatch.Job) string {
	if job.Revision != "" {
		return job.Revision
	}
	return c.extractors.Default(job.Supplier)
}

// fingerprint hashes the layout job resolves to, plus the cleaner rules
// when the layout cleans its text first.
func (c *storeCache) fingerprint(job dispatch.Job) (string, error) {
	ex, err := c.extractors.Get(job.Supplier, job.Revision)
	if err != nil {
		return "", err
	}
	layout := ex.Layout()
	h := sha256.New()
	data, err := json.Marshal(layout)
	if err != nil {
		return "", err
	}
	h.Write(data)
	if layout.Clean {
		data, err = json.Marshal(c.cleaner)
		if err != nil {
			return "", err
		}
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *storeCache) hash(path string) (string, error) {
	if h, ok := c.hashes[path]; ok {
		return h, nil
	}
	h, err := fileHash(path)
	if err != nil {
		return "", err
	}
	c.hashes[path] = h
	return h, nil
}

// Lookup returns the stored results of job when the document is unchanged.
func (c *storeCache) Lookup(ctx context.Context, job dispatch.Job) (*dispatch.Result, bool, error) {
	if c.force {
		return nil, false, nil
	}
	hash, err := c.hash(job.Path)
	if err != nil {
		// unreadable files fall through to the dispatcher, which reports them
		return nil, false, nil
	}
	fp, err := c.fingerprint(job)
	if err != nil {
		return nil, false, nil
	}

	doc, err := c.store.GetDocumentByKey(ctx, job.Path, string(job.Supplier), c.revision(job))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if doc.ContentHash != hash || doc.LayoutHash != fp || doc.Status != statusDone {
		return nil, false, nil
	}

	recs, err := c.store.GetRecordsByDocument(ctx, doc.ID)
	if err != nil {
		return nil, false, fmt.Errorf("loading records: %w", err)
	}
	rejs, err := c.store.GetRejectionsByDocument(ctx, doc.ID)
	if err != nil {
		return nil, false, fmt.Errorf("loading rejections: %w", err)
	}

	res := &dispatch.Result{
		Job:      job,
		Revision: doc.Revision,
		Source:   doc.Source,
		Pages:    doc.Pages,
	}
	for _, r := range recs {
		res.Records = append(res.Records, toRecord(r))
	}
	for _, r := range rejs {
		res.Rejections = append(res.Rejections, dispatch.LineRejection{
			Page:   r.Page,
			LineNo: r.LineNo,
			Rejection: extract.Rejection{
				Reason: extract.Reason(r.Reason),
				Line:   r.Line,
				Detail: r.Detail,
			},
		})
	}
	return res, true, nil
}

// Save stores the document and replaces its records and rejections.
func (c *storeCache) Save(ctx context.Context, res *dispatch.Result) error {
	path := res.Job.Path
	hash, err := c.hash(path)
	if err != nil {
		return fmt.Errorf("hashing file: %w", err)
	}
	fp, err := c.fingerprint(res.Job)
	if err != nil {
		return fmt.Errorf("fingerprinting layout: %w", err)
	}

	docID, err := c.store.UpsertDocument(ctx, store.Document{
		Path:        path,
		Supplier:    string(res.Job.Supplier),
		Revision:    res.Revision,
		Filename:    filepath.Base(path),
		Format:      parser.FormatOf(path),
		ContentHash: hash,
		LayoutHash:  fp,
		Source:      res.Source,
		Pages:       res.Pages,
		Status:      "processing",
		RunID:       c.runID,
	})
	if err != nil {
		return fmt.Errorf("upserting document: %w", err)
	}

	recs := make([]store.Record, len(res.Records))
	for i, r := range res.Records {
		recs[i] = store.Record{
			Code:        r.Code,
			Description: r.Description,
			UnitValue:   r.UnitValue,
			Supplier:    string(r.Supplier),
		}
	}
	rejs := make([]store.Rejection, len(res.Rejections))
	for i, r := range res.Rejections {
		rejs[i] = store.Rejection{
			Page:   r.Page,
			LineNo: r.LineNo,
			Reason: string(r.Reason),
			Line:   r.Line,
			Detail: r.Detail,
		}
	}

	if err := c.store.ReplaceResults(ctx, docID, recs, rejs); err != nil {
		c.store.UpdateDocumentStatus(ctx, docID, "error")
		return fmt.Errorf("storing results: %w", err)
	}
	return c.store.UpdateDocumentStatus(ctx, docID, statusDone)
}

func toRecord(r store.Record) extract.Record {
	return extract.Record{
		Code:        r.Code,
		Description: r.Description,
		UnitValue:   r.UnitValue,
		Supplier:    extract.Tag(r.Supplier),
	}
}

// fileHash computes the SHA-256 hash of a file.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
