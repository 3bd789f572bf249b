//go:build linux

package overlay

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSanitizeReplacesColon(t *testing.T) {
	if got := sanitize("sha256:abc"); got != "sha256_abc" {
		t.Errorf("sanitize = %q, want sha256_abc", got)
	}
}

func TestTranslateTreeCopiesRegularContent(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "bin", "app"), []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "translated")
	if err := translateTree(src, dst); err != nil {
		t.Fatalf("translateTree: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dst, "bin", "app"))
	if err != nil {
		t.Fatalf("read translated file: %v", err)
	}
	if string(data) != "hi" {
		t.Errorf("translated content = %q, want hi", data)
	}
}

func TestTranslateTreeConvertsWhiteoutMarker(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("creating a char-device whiteout requires CAP_MKNOD")
	}

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, ".wh.removed"), []byte{}, 0644); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "translated")
	if err := translateTree(src, dst); err != nil {
		t.Fatalf("translateTree: %v", err)
	}

	info, err := os.Lstat(filepath.Join(dst, "removed"))
	if err != nil {
		t.Fatalf("expected a whiteout entry named 'removed': %v", err)
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		t.Errorf("expected 'removed' to be a char device whiteout, mode=%v", info.Mode())
	}
}
