// Package dispatch runs supplier documents through their field extractor:
// document, pages, lines, then one record or rejection per line.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/goquote/cleaner"
	"github.com/brunobiangulo/goquote/extract"
	"github.com/brunobiangulo/goquote/parser"
)

var (
	ErrUnknownSupplier = errors.New("unknown supplier")
	ErrDocumentOpen    = errors.New("document could not be opened")
)

// Job names one document and the supplier layout to read it with.
// An empty Revision selects the supplier's default revision.
type Job struct {
	Path     string      `json:"path"`
	Supplier extract.Tag `json:"supplier"`
	Revision string      `json:"revision,omitempty"`
}

// LineRejection is a rejected line with its position in the document read.
type LineRejection struct {
	Page   int `json:"page"`
	LineNo int `json:"line_no"`
	extract.Rejection
}

// Result is the outcome of one document.
type Result struct {
	Job        Job              `json:"job"`
	Revision   string           `json:"revision"`
	Source     string           `json:"source"` // file actually read; the cleaned copy for cleaned layouts
	Pages      int              `json:"pages"`
	Records    []extract.Record `json:"records"`
	Rejections []LineRejection  `json:"rejections"`
	Cached     bool             `json:"cached,omitempty"`
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers extracts the lines of one document with up to n goroutines.
// Output order does not depend on n.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) { d.workers = n }
}

// WithCleaner replaces the cleaner and the directory cleaned copies go to.
func WithCleaner(c *cleaner.Cleaner, store cleaner.FileStore) Option {
	return func(d *Dispatcher) {
		d.cleaner = c
		d.cleaned = store
	}
}

// Dispatcher resolves a job's extractor, reads the document and applies the
// extractor to every line in page order.
type Dispatcher struct {
	extractors *extract.Registry
	parsers    *parser.Registry
	cleaner    *cleaner.Cleaner
	cleaned    cleaner.FileStore
	workers    int
}

// New creates a Dispatcher. Without WithCleaner, cleaned copies are written
// under the system temp dir with the default cleaning rules.
func New(extractors *extract.Registry, parsers *parser.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		extractors: extractors,
		parsers:    parsers,
		workers:    1,
	}
	for _, o := range opts {
		o(d)
	}
	if d.cleaner == nil {
		c, err := cleaner.New(cleaner.DefaultConfig())
		if err != nil {
			panic(fmt.Sprintf("dispatch: default cleaner: %v", err))
		}
		d.cleaner = c
	}
	if d.cleaned.Dir == "" {
		d.cleaned.Dir = filepath.Join(os.TempDir(), "goquote", "cleaned")
	}
	return d
}

type lineRef struct {
	page   int
	lineNo int
	text   string
}

type outcome struct {
	record    extract.Record
	rejection *extract.Rejection
}

// Process extracts every line of one document. Line failures are collected
// as rejections; only an unknown supplier or an unreadable document fails
// the call, and then no records are returned.
func (d *Dispatcher) Process(ctx context.Context, job Job) (*Result, error) {
	ex, revision, err := d.resolve(job)
	if err != nil {
		return nil, err
	}

	filename := filepath.Base(job.Path)
	slog.Info("dispatch: reading document", "file", filename,
		"supplier", job.Supplier, "revision", revision)
	start := time.Now()

	doc, err := d.parsers.Parse(ctx, job.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDocumentOpen, job.Path, err)
	}

	source := job.Path
	if ex.Layout().Clean {
		lines := d.cleaner.Clean(doc.Texts())
		path, err := d.cleaned.Write(job.Path, lines)
		if err != nil {
			return nil, fmt.Errorf("storing cleaned text for %s: %w", job.Path, err)
		}
		slog.Info("dispatch: document cleaned", "file", filename,
			"lines", len(lines), "cleaned", path)

		doc, err = d.parsers.Parse(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDocumentOpen, path, err)
		}
		source = path
	}

	var refs []lineRef
	for _, page := range doc.Pages {
		for _, line := range page.Lines() {
			refs = append(refs, lineRef{page: page.Number, lineNo: line.No, text: line.Text})
		}
	}

	outcomes, err := d.extractLines(ctx, ex, refs)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Job:      job,
		Revision: revision,
		Source:   source,
		Pages:    len(doc.Pages),
	}
	for i, o := range outcomes {
		if o.rejection != nil {
			ref := refs[i]
			res.Rejections = append(res.Rejections, LineRejection{
				Page: ref.page, LineNo: ref.lineNo, Rejection: *o.rejection,
			})
			slog.Warn("extract: line rejected",
				"supplier", job.Supplier, "file", filename,
				"page", ref.page, "line_no", ref.lineNo,
				"reason", o.rejection.Reason, "detail", o.rejection.Detail,
				"line", o.rejection.Line)
			continue
		}
		res.Records = append(res.Records, o.record)
	}

	slog.Info("dispatch: document done", "file", filename,
		"supplier", job.Supplier, "records", len(res.Records),
		"rejections", len(res.Rejections),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return res, nil
}

func (d *Dispatcher) resolve(job Job) (*extract.Extractor, string, error) {
	if !d.extractors.Known(job.Supplier) {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownSupplier, job.Supplier)
	}
	ex, err := d.extractors.Get(job.Supplier, job.Revision)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnknownSupplier, err)
	}
	revision := job.Revision
	if revision == "" {
		revision = d.extractors.Default(job.Supplier)
	}
	return ex, revision, nil
}

// extractLines applies ex to each line. Outcomes are stored by index, so
// the parallel path returns them in input order.
func (d *Dispatcher) extractLines(ctx context.Context, ex *extract.Extractor, refs []lineRef) ([]outcome, error) {
	outcomes := make([]outcome, len(refs))

	if d.workers <= 1 {
		for i, ref := range refs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			o, err := extractLine(ex, ref.text)
			if err != nil {
				return nil, err
			}
			outcomes[i] = o
		}
		return outcomes, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, ref := range refs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			o, err := extractLine(ex, ref.text)
			if err != nil {
				return err
			}
			outcomes[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func extractLine(ex *extract.Extractor, line string) (outcome, error) {
	rec, err := ex.Extract(line)
	if err == nil {
		return outcome{record: rec}, nil
	}
	var rej *extract.Rejection
	if errors.As(err, &rej) {
		return outcome{rejection: rej}, nil
	}
	return outcome{}, fmt.Errorf("extracting line: %w", err)
}
