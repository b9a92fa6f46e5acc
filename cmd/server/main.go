package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/brunobiangulo/goquote"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("loading .env", "error", err)
	}

	cfg := goquote.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = goquote.LoadConfig(*configPath)
		if err != nil {
			slog.Error("loading config", "error", err)
			os.Exit(1)
		}
	}

	// Override from environment variables.
	if err := cfg.ApplyEnv(); err != nil {
		slog.Error("reading environment", "error", err)
		os.Exit(1)
	}

	apiKey := os.Getenv("GOQUOTE_API_KEY")
	corsOrigins := os.Getenv("GOQUOTE_CORS_ORIGINS")
	uploadDir := os.Getenv("GOQUOTE_UPLOAD_DIR")
	if uploadDir == "" {
		uploadDir = filepath.Join(os.TempDir(), "goquote", "uploads")
	}
	exportDir := os.Getenv("GOQUOTE_EXPORT_DIR")
	if exportDir == "" {
		exportDir = filepath.Join(os.TempDir(), "goquote", "exports")
	}

	engine, err := goquote.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	handler := newServer(newHandler(engine, uploadDir, exportDir), apiKey, corsOrigins)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // batches and exports can be long
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// newServer registers the routes and wraps them in the middleware chain.
func newServer(h *handler, apiKey, corsOrigins string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /batch", h.handleBatch)
	mux.HandleFunc("POST /process", h.handleProcess)
	mux.HandleFunc("GET /records", h.handleRecords)
	mux.HandleFunc("GET /records/search", h.handleSearch)
	mux.HandleFunc("GET /records/similar", h.handleSimilar)
	mux.HandleFunc("GET /export", h.handleExport)
	mux.HandleFunc("DELETE /documents/{id}", h.handleDeleteDocument)
	mux.HandleFunc("GET /documents", h.handleListDocuments)
	mux.HandleFunc("GET /runs", h.handleRuns)
	mux.HandleFunc("GET /layouts", h.handleLayouts)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)
	return handler
}
