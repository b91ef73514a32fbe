package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
)

// WriteFile creates name (and its parents) under root in fs with the given
// content and modification time.
func WriteFile(t *testing.T, fs afero.Fs, root, name string, content []byte, modTime time.Time) string {
	t.Helper()

	path := filepath.Join(root, filepath.FromSlash(name))
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create dir for %s: %v", name, err)
	}
	if err := afero.WriteFile(fs, path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if !modTime.IsZero() {
		if err := fs.Chtimes(path, modTime, modTime); err != nil {
			t.Fatalf("chtimes %s: %v", name, err)
		}
	}
	return path
}

// Bytes returns n bytes of repeating printable content.
func Bytes(n int) []byte {
	const alphabet = "body { color: #333; margin: 0 auto; }\n"
	out := make([]byte, n)
	for i := range out {
		out[i] = alphabet[i%len(alphabet)]
	}
	return out
}
