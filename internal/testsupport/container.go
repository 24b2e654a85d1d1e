package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"sfwriter/internal/storage"
)

// MustOpenReader opens a finished container for inspection and registers cleanup.
func MustOpenReader(t testing.TB, path string) *storage.Reader {
	t.Helper()

	r, err := storage.OpenReader(path)
	if err != nil {
		t.Fatalf("storage.OpenReader: %v", err)
	}
	t.Cleanup(func() {
		_ = r.Close()
	})
	return r
}

// WritePlaceholder creates path, and its parent directories, with a few bytes
// so callers can exercise the existing-output checks.
func WritePlaceholder(t testing.TB, path string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte("placeholder"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
