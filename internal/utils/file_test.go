package utils

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestIsImageFile(t *testing.T) {
	for _, name := range []string{"scan.png", "SCAN.JPG", "a/b/c.webp"} {
		if !IsImageFile(name) {
			t.Errorf("%s should be an image file", name)
		}
	}
	for _, name := range []string{"report.pdf", "noext", "scan.dcm"} {
		if IsImageFile(name) {
			t.Errorf("%s should not be an image file", name)
		}
	}
}

func TestDetectMIMEType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000000000")
	if got := DetectMIMEType("whatever.bin", png); got != "image/png" {
		t.Errorf("Expected image/png from content, got %s", got)
	}
	if got := DetectMIMEType("scan.jpg", nil); got != "image/jpeg" {
		t.Errorf("Expected image/jpeg from extension, got %s", got)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.txt")

	err := WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		_, err := w.Write([]byte("hello"))
		return err
	})
	if err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil || string(data) != "hello" {
		t.Fatalf("Unexpected contents %q (%v)", data, err)
	}
}

func TestWriteFileAtomicFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	boom := errors.New("boom")

	err := WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected empty directory, found %d entries", len(entries))
	}
	if FileExists(path) {
		t.Error("Target file must not exist after failure")
	}
}
