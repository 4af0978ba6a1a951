package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"ventpipe/internal/config"
)

// WriteUpload places raw audio in the upload area under key, the way the
// intake service hands uploads to the pipeline.
func WriteUpload(t testing.TB, cfg *config.Config, key string, data []byte) string {
	t.Helper()

	path := filepath.Join(cfg.Paths.UploadDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// AudioBytes returns size bytes of a repeating pattern. A size <= 0 yields a
// single byte.
func AudioBytes(size int) []byte {
	if size <= 0 {
		size = 1
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(0x42 + i%7)
	}
	return buf
}
