package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sink persists the bytes of a completed transfer
type Sink interface {
	Save(filename string, data []byte) (string, error)
}

// DirSink writes completed files into a directory
type DirSink struct {
	Dir string
}

// Save writes data under a sanitised filename and returns the final path.
// The file only appears once fully written.
func (s DirSink) Save(filename string, data []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create download dir: %w", err)
	}

	name := safeName(filename)
	path := uniquePath(filepath.Join(s.Dir, name))

	tmp, err := os.CreateTemp(s.Dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to move file into place: %w", err)
	}

	return path, nil
}

// safeName strips directories so a remote peer cannot write outside Dir
func safeName(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "received.bin"
	}
	return name
}

func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
