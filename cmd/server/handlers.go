package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/brunobiangulo/goquote"
	"github.com/brunobiangulo/goquote/dispatch"
	"github.com/brunobiangulo/goquote/export"
)

const maxBatchBody = 1 << 20

type handler struct {
	engine    goquote.Engine
	uploadDir string
	exportDir string
}

func newHandler(e goquote.Engine, uploadDir, exportDir string) *handler {
	return &handler{engine: e, uploadDir: uploadDir, exportDir: exportDir}
}

// exportPath keeps a client-named output inside the export directory.
func (h *handler) exportPath(output string) (string, error) {
	name := filepath.Base(filepath.Clean(output))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return "", errors.New("output must name a file")
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".csv":
	default:
		return "", errors.New("output must be a .xlsx or .csv file")
	}
	return filepath.Join(h.exportDir, name), nil
}

// POST /process
// Accepts a multipart upload (file, supplier, revision) or JSON with a path.
func (h *handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	// Try multipart upload first
	if err := r.ParseMultipartForm(100 << 20); err == nil { // 100MB max
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()

			supplier := strings.TrimSpace(r.FormValue("supplier"))
			if supplier == "" {
				writeError(w, http.StatusBadRequest, "supplier is required")
				return
			}

			// Sanitise filename to prevent path traversal.
			safeName := filepath.Base(header.Filename)
			if err := os.MkdirAll(h.uploadDir, 0755); err != nil {
				writeError(w, http.StatusInternalServerError, "failed to process file")
				slog.Error("creating upload dir", "error", err)
				return
			}
			tmpPath := filepath.Join(h.uploadDir, safeName)
			dst, err := os.Create(tmpPath)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to process file")
				slog.Error("creating upload file", "error", err)
				return
			}
			if _, err := io.Copy(dst, file); err != nil {
				dst.Close()
				writeError(w, http.StatusInternalServerError, "failed to save file")
				slog.Error("saving uploaded file", "error", err)
				return
			}
			dst.Close()

			var opts []goquote.RunOption
			if r.FormValue("force") == "true" {
				opts = append(opts, goquote.WithForce())
			}
			h.process(ctx, w, goquote.BatchEntry{
				Path:     tmpPath,
				Supplier: supplier,
				Revision: r.FormValue("revision"),
			}, opts)
			return
		}
	}

	// Try JSON body with path
	var req struct {
		goquote.BatchEntry
		Force bool `json:"force,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'path' and 'supplier'")
		return
	}
	if req.Path == "" || req.Supplier == "" {
		writeError(w, http.StatusBadRequest, "path and supplier are required")
		return
	}

	// Validate that path is a real file (prevents directory traversal probing).
	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(absPath)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, "path must be an existing file")
		return
	}
	req.Path = absPath

	var opts []goquote.RunOption
	if req.Force {
		opts = append(opts, goquote.WithForce())
	}
	h.process(ctx, w, req.BatchEntry, opts)
}

func (h *handler) process(ctx context.Context, w http.ResponseWriter, entry goquote.BatchEntry, opts []goquote.RunOption) {
	res, err := h.engine.Process(ctx, entry, opts...)
	if err != nil {
		writeError(w, statusFor(err), "processing failed: "+err.Error())
		slog.Error("process error", "path", entry.Path, "supplier", entry.Supplier, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /batch
// The body is a config document; batch, output, force and
// continue_on_error are honoured. output names a file in the export
// directory; any directory part is dropped.
func (h *handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBatchBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body failed")
		return
	}
	if err := goquote.ValidateConfigJSON(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Batch           []goquote.BatchEntry `json:"batch"`
		Output          string               `json:"output"`
		Force           bool                 `json:"force"`
		ContinueOnError bool                 `json:"continue_on_error"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Batch) == 0 {
		writeError(w, http.StatusBadRequest, "batch is required")
		return
	}

	output := ""
	if req.Output != "" {
		output, err = h.exportPath(req.Output)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	opts := []goquote.RunOption{goquote.WithOutput(output)}
	if req.Force {
		opts = append(opts, goquote.WithForce())
	}
	if req.ContinueOnError {
		opts = append(opts, goquote.WithContinueOnError())
	}

	res, err := h.engine.RunBatch(ctx, req.Batch, opts...)
	if err != nil {
		writeError(w, statusFor(err), "batch failed: "+err.Error())
		slog.Error("batch error", "documents", len(req.Batch), "error", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /records?supplier=
func (h *handler) handleRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := h.engine.Records(r.Context(), r.URL.Query().Get("supplier"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list records")
		slog.Error("list records error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": recs,
	})
}

// GET /records/search?q=&limit=
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	matches, err := h.engine.Search(r.Context(), q, intParam(r, "limit", 20, 200))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		slog.Error("search error", "q", q, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"matches": matches,
	})
}

// GET /records/similar?q=&k=
func (h *handler) handleSimilar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	matches, err := h.engine.Similar(r.Context(), q, intParam(r, "k", 10, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "similar lookup failed")
		slog.Error("similar error", "q", q, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"matches": matches,
	})
}

// GET /export?format=xlsx|csv&supplier=
func (h *handler) handleExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "xlsx"
	}
	var contentType string
	switch format {
	case "xlsx":
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "csv":
		contentType = "text/csv; charset=utf-8"
	default:
		writeError(w, http.StatusBadRequest, "format must be xlsx or csv")
		return
	}

	name := strings.TrimSuffix(export.DefaultFilename, filepath.Ext(export.DefaultFilename)) + "." + format
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if err := h.engine.WriteTable(r.Context(), w, format, r.URL.Query().Get("supplier")); err != nil {
		// headers may already be sent; log only
		slog.Error("export error", "format", format, "error", err)
	}
}

// DELETE /documents/{id}
func (h *handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	idStr := r.PathValue("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	if err := h.engine.DeleteDocument(r.Context(), id); err != nil {
		if errors.Is(err, goquote.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "delete failed")
		slog.Error("delete error", "document_id", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.ListDocuments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		slog.Error("list documents error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
	})
}

// GET /runs?limit=
func (h *handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.engine.Runs(r.Context(), intParam(r, "limit", 50, 500))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		slog.Error("list runs error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs": runs,
	})
}

// GET /layouts
func (h *handler) handleLayouts(w http.ResponseWriter, r *http.Request) {
	keys := h.engine.Layouts()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"layouts": out,
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"stats":  stats,
	})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrUnknownSupplier), errors.Is(err, goquote.ErrEmptyBatch):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrDocumentOpen):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// intParam reads a positive integer query parameter, falling back to def
// when absent or out of (0, max].
func intParam(r *http.Request, name string, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n <= 0 || n > max {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
