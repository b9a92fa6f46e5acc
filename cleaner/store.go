package cleaner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps cleaned documents as "<dir>/<base>-<id>.cleaned.txt", one
// line per cleaned line, where id is derived from the document's absolute
// path so same-named files from different folders do not collide. The files
// are meant to be read back through the text parser.
type FileStore struct {
	Dir string
}

// Path returns where the cleaned copy of docPath lives.
func (s FileStore) Path(docPath string) string {
	if abs, err := filepath.Abs(docPath); err == nil {
		docPath = abs
	}
	sum := sha256.Sum256([]byte(docPath))
	base := filepath.Base(docPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(s.Dir, base+"-"+hex.EncodeToString(sum[:4])+".cleaned.txt")
}

// Write stores lines for docPath, replacing any earlier copy, and returns the
// path written. The file is written under a temporary name and renamed into
// place, so readers never see a partial copy.
func (s FileStore) Write(docPath string, lines []string) (string, error) {
	path := s.Path(docPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating cleaned dir: %w", err)
	}
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".cleaned-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating cleaned file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing cleaned file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("writing cleaned file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("replacing cleaned file: %w", err)
	}
	return path, nil
}
