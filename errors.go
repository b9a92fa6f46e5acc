package goquote

import "errors"

var (
	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("goquote: document not found")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("goquote: invalid configuration")

	// ErrEmptyBatch is returned when a run is started with no documents.
	ErrEmptyBatch = errors.New("goquote: batch has no documents")

	// ErrExportFailed is returned when the consolidated table cannot be written.
	ErrExportFailed = errors.New("goquote: export failed")
)
