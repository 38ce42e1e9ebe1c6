package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fleur-q/pkg/digest"
)

// Repository keeps the files attached to nodes, one folder per node UUID.
type Repository struct {
	BaseDir string
}

// NewRepository creates a repository rooted at baseDir.
func NewRepository(baseDir string) *Repository {
	return &Repository{BaseDir: baseDir}
}

// Save writes content as name under the node folder and returns its sha256.
func (r *Repository) Save(uuid, name string, content []byte) (string, error) {
	dir, err := r.nodeDir(uuid)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, sanitize(name)), content, 0o644); err != nil {
		return "", err
	}
	return digest.Bytes(content), nil
}

// Open reads a file previously saved for the node.
func (r *Repository) Open(uuid, name string) ([]byte, error) {
	dir, err := r.nodeDir(uuid)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(dir, sanitize(name)))
}

// List returns the file names stored for the node.
func (r *Repository) List(uuid string) ([]string, error) {
	dir, err := r.nodeDir(uuid)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (r *Repository) nodeDir(uuid string) (string, error) {
	clean := sanitize(uuid)
	if len(uuid) < 2 || clean != uuid {
		return "", fmt.Errorf("invalid node uuid %q", uuid)
	}
	return filepath.Join(r.BaseDir, clean[:2], clean), nil
}

// sanitize keeps letters, digits, '-', '_' and '.', dropping any path
// component so names cannot escape the node folder.
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range filepath.Base(name) {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		}
	}
	clean := strings.Trim(b.String(), ".")
	if clean == "" {
		return "file"
	}
	return clean
}
