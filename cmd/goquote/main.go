// Command goquote extracts supplier quotation line items into one table.
//
// Batch from a config file:
//
//	go run -tags sqlite_fts5 ./cmd/goquote --config ./quotes/batch.json
//
// Ad hoc documents:
//
//	go run -tags sqlite_fts5 ./cmd/goquote \
//	  --doc fornecedor1=./quotes/a.pdf \
//	  --doc fornecedor3/v2=./quotes/b.pdf \
//	  --output ./orcamentos_unificados.xlsx
//
// Queries over stored records:
//
//	go run -tags sqlite_fts5 ./cmd/goquote --search "parafuso m8"
//	go run -tags sqlite_fts5 ./cmd/goquote --similar "fita isolante 20m" --k 5
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"

	"github.com/brunobiangulo/goquote"
	"github.com/brunobiangulo/goquote/store"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

// stringSlice implements flag.Value for multi-value string flags.
type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ", ") }
func (s *stringSlice) Set(val string) error {
	*s = append(*s, val)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var docs stringSlice

	var (
		configPath = flag.String("config", "", "Path to config file (JSON)")
		dbPath     = flag.String("db", "", "Path to SQLite database (overrides config)")
		output     = flag.String("output", "", "Export destination, .xlsx or .csv (overrides config)")
		noExport   = flag.Bool("no-export", false, "Skip writing the consolidated table")
		workers    = flag.Int("workers", 0, "Goroutines per document (overrides config)")
		force      = flag.Bool("force", false, "Re-extract documents even if unchanged")
		keepGoing  = flag.Bool("continue", false, "Record failing documents and keep going")
		search     = flag.String("search", "", "Full-text search over stored records")
		similar    = flag.String("similar", "", "Find stored records with a similar description")
		k          = flag.Int("k", 10, "Maximum results for --search and --similar")
		exportOnly = flag.Bool("export-stored", false, "Export all stored records to --output and exit")
		supplier   = flag.String("supplier", "", "Restrict --export-stored to one supplier")
		layouts    = flag.Bool("layouts", false, "List registered supplier layouts and exit")
		runs       = flag.Bool("runs", false, "List past batch runs and exit")
		asJSON     = flag.Bool("json", false, "Print results as JSON")
		verbose    = flag.Bool("v", false, "Debug logging")
	)
	flag.Var(&docs, "doc", "Document as supplier[/revision]=path (repeatable, appended to the config batch)")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("loading .env", "error", err)
	}

	cfg := goquote.DefaultConfig()
	baseDir := ""
	if *configPath != "" {
		var err error
		cfg, err = goquote.LoadConfig(*configPath)
		if err != nil {
			slog.Error("loading config", "path", *configPath, "error", err)
			return exitConfig
		}
		baseDir = filepath.Dir(*configPath)
	}
	if err := cfg.ApplyEnv(); err != nil {
		slog.Error("reading environment", "error", err)
		return exitConfig
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *output != "" {
		cfg.Output = *output
	}
	if *noExport {
		cfg.Output = ""
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	cfg.Force = cfg.Force || *force
	cfg.ContinueOnError = cfg.ContinueOnError || *keepGoing

	entries := cfg.ResolveBatch(baseDir)
	for _, d := range docs {
		e, err := parseDoc(d)
		if err != nil {
			slog.Error("parsing --doc", "value", d, "error", err)
			return exitConfig
		}
		entries = append(entries, e)
	}

	eng, err := goquote.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		return exitConfig
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := os.Stdout
	switch {
	case *layouts:
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SUPPLIER\tREVISION")
		for _, key := range eng.Layouts() {
			fmt.Fprintf(w, "%s\t%s\n", key.Tag, key.Revision)
		}
		w.Flush()
		return exitOK

	case *runs:
		list, err := eng.Runs(ctx, *k)
		if err != nil {
			slog.Error("listing runs", "error", err)
			return exitFailed
		}
		if *asJSON {
			return printJSON(out, list)
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tSTARTED\tDOCUMENTS\tRECORDS\tFAILURES\tOUTPUT")
		for _, r := range list {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n", r.ID,
				r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Documents, r.Records, r.Failures, r.Output)
		}
		w.Flush()
		return exitOK

	case *search != "":
		matches, err := eng.Search(ctx, *search, *k)
		if err != nil {
			slog.Error("searching records", "error", err)
			return exitFailed
		}
		return printMatches(out, matches, *asJSON)

	case *similar != "":
		matches, err := eng.Similar(ctx, *similar, *k)
		if err != nil {
			slog.Error("finding similar records", "error", err)
			return exitFailed
		}
		return printMatches(out, matches, *asJSON)

	case *exportOnly:
		n, err := eng.Export(ctx, cfg.Output, *supplier)
		if err != nil {
			slog.Error("exporting records", "error", err)
			return exitFailed
		}
		fmt.Fprintf(out, "%d records written to %s\n", n, cfg.Output)
		return exitOK
	}

	if len(entries) == 0 {
		slog.Error("nothing to do: give --config with a batch or --doc entries")
		flag.Usage()
		return exitConfig
	}

	res, err := eng.RunBatch(ctx, entries)
	if err != nil {
		slog.Error("batch failed", "error", err)
		return exitFailed
	}

	if *asJSON {
		return printJSON(out, res)
	}
	printSummary(out, res)
	return exitOK
}

// parseDoc reads a --doc value: "supplier=path" or "supplier/revision=path".
func parseDoc(s string) (goquote.BatchEntry, error) {
	key, path, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(path) == "" {
		return goquote.BatchEntry{}, fmt.Errorf("want supplier[/revision]=path, got %q", s)
	}
	tag, rev, _ := strings.Cut(strings.TrimSpace(key), "/")
	if tag == "" {
		return goquote.BatchEntry{}, fmt.Errorf("missing supplier in %q", s)
	}
	return goquote.BatchEntry{Path: strings.TrimSpace(path), Supplier: tag, Revision: rev}, nil
}

func printSummary(w io.Writer, res *goquote.RunResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOCUMENT\tSUPPLIER\tREVISION\tRECORDS\tREJECTED\t")
	for _, r := range res.Results {
		cached := ""
		if r.Cached {
			cached = "unchanged"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", filepath.Base(r.Job.Path),
			r.Job.Supplier, r.Revision, len(r.Records), len(r.Rejections), cached)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(tw, "%s\t%s\t%s\t-\t-\t%s\n", filepath.Base(f.Job.Path), f.Job.Supplier, f.Job.Revision, f.Err)
	}
	tw.Flush()

	fmt.Fprintln(w)
	for _, c := range res.Counts {
		fmt.Fprintf(w, "%s: %d records\n", c.Supplier, c.Records)
	}
	if res.Output != "" {
		fmt.Fprintf(w, "%d records written to %s\n", res.Records, res.Output)
	}
}

func printMatches(w io.Writer, matches []store.RecordMatch, asJSON bool) int {
	if asJSON {
		return printJSON(w, matches)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tDESCRIPTION\tUNIT VALUE\tSUPPLIER\tDOCUMENT\tSCORE")
	for _, m := range matches {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s\t%.3f\n",
			m.Code, m.Description, m.UnitValue, m.Supplier, m.Filename, m.Score)
	}
	tw.Flush()
	return exitOK
}

func printJSON(w io.Writer, v any) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Error("encoding output", "error", err)
		return exitFailed
	}
	return exitOK
}
