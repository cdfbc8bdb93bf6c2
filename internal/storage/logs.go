package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// LogStorage manages saving step logs to files
type LogStorage struct {
	BaseDir string
}

// NewLogStorage creates a new log storage handler
func NewLogStorage(baseDir string) *LogStorage {
	return &LogStorage{BaseDir: baseDir}
}

// SaveLog saves the output of one step as <base>/<run>/<job>/<NN>_<step>.log.
// The write is atomic, so a reader never sees a partial log.
func (ls *LogStorage) SaveLog(runID, job string, index int, step, output string) (string, error) {
	dir := filepath.Join(ls.BaseDir, sanitize(runID), sanitize(job))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	filename := fmt.Sprintf("%02d_%s.log", index, sanitize(step))
	filePath := filepath.Join(dir, filename)

	if err := renameio.WriteFile(filePath, []byte(output), 0o644); err != nil {
		return "", err
	}
	return filePath, nil
}

// ReadLog returns a stored log.
func (ls *LogStorage) ReadLog(path string) (string, error) {
	clean := filepath.Clean(path)
	base := filepath.Clean(ls.BaseDir)
	if rel, err := filepath.Rel(base, clean); err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("log %s is outside %s", path, ls.BaseDir)
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// sanitize keeps names safe for use as path elements
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		case r == ' ' || r == '/':
			b.WriteRune('_')
		}
	}
	clean := strings.Trim(b.String(), ".")
	if clean == "" {
		return "step"
	}
	if len(clean) > 64 {
		clean = clean[:64]
	}
	return clean
}
