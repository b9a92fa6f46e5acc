// Command eval scores goquote's extraction against hand-checked datasets.
//
//	go run -tags sqlite_fts5 ./cmd/eval --dataset ./evals/quotes.json
//
// With custom layouts and a stricter pass mark:
//
//	go run -tags sqlite_fts5 ./cmd/eval \
//	  --dataset ./evals/quotes.json \
//	  --config ./quotes/batch.json \
//	  --threshold 1.0
//
// Each run writes eval.log, metadata.json and report.json into
// evals/runs/<timestamp>/.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/brunobiangulo/goquote"
	"github.com/brunobiangulo/goquote/eval"
)

func main() {
	var (
		datasetPath = flag.String("dataset", "", "Path to dataset JSON file (required)")
		configPath  = flag.String("config", "", "Path to goquote config file (layouts, defaults, cleaner)")
		dbPath      = flag.String("db", "", "Path to SQLite database (default: inside run directory)")
		outputFile  = flag.String("output", "", "Path to write JSON report (default: inside run directory)")
		threshold   = flag.Float64("threshold", eval.DefaultThreshold, "Minimum F1 for a passing case")
		workers     = flag.Int("workers", 0, "Goroutines per document (overrides config)")
	)
	flag.Parse()

	if *datasetPath == "" {
		log.Fatal("--dataset flag is required")
	}

	runDir := createRunDir()
	fmt.Fprintf(os.Stderr, "Run directory: %s\n", runDir)
	logFile := setupLogTee(runDir)
	defer logFile.Close()

	ds, err := eval.LoadDataset(*datasetPath)
	if err != nil {
		log.Fatalf("loading dataset: %v", err)
	}

	cfg := goquote.DefaultConfig()
	if *configPath != "" {
		cfg, err = goquote.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Fatalf("reading environment: %v", err)
	}
	cfg.DBPath = *dbPath
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(runDir, "goquote.db")
	}
	cfg.CleanedDir = filepath.Join(runDir, "cleaned")
	if *workers > 0 {
		cfg.Workers = *workers
	}

	meta := map[string]interface{}{
		"dataset":   *datasetPath,
		"cases":     len(ds.Cases),
		"config":    *configPath,
		"db":        cfg.DBPath,
		"threshold": *threshold,
		"workers":   cfg.Workers,
		"git":       gitCommit(),
		"go":        runtime.Version(),
		"started":   time.Now().Format(time.RFC3339),
	}
	writeJSON(filepath.Join(runDir, "metadata.json"), meta)

	eng, err := goquote.New(cfg)
	if err != nil {
		log.Fatalf("creating engine: %v", err)
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	evaluator := eval.NewEvaluator(eng)
	evaluator.SetThreshold(*threshold)

	slog.Info("eval: starting", "dataset", ds.Name, "cases", len(ds.Cases))
	report, err := evaluator.Run(ctx, ds)
	if err != nil {
		log.Fatalf("running evaluation: %v", err)
	}

	fmt.Println(eval.FormatReport(report))

	out := *outputFile
	if out == "" {
		out = filepath.Join(runDir, "report.json")
	}
	writeJSON(out, report)
	fmt.Fprintf(os.Stderr, "Report written to %s\n", out)

	if report.Failed > 0 {
		os.Exit(1)
	}
}

func createRunDir() string {
	ts := time.Now().Format("2006-01-02_15-04-05")
	dir := filepath.Join("evals", "runs", ts)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Fatalf("creating run directory: %v", err)
	}
	return dir
}

// setupLogTee configures slog to write to both stderr and eval.log in the run dir.
func setupLogTee(runDir string) *os.File {
	f, err := os.Create(filepath.Join(runDir, "eval.log"))
	if err != nil {
		log.Fatalf("creating log file: %v", err)
	}
	w := io.MultiWriter(os.Stderr, f)
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})))
	return f
}

// gitCommit returns the current git HEAD short hash, or "unknown".
func gitCommit() string {
	out, err := exec.Command("git", "rev-parse", "--short", "HEAD").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}

// writeJSON marshals v to indented JSON and writes it to path.
func writeJSON(path string, v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("marshaling JSON for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Fatalf("writing %s: %v", path, err)
	}
}
