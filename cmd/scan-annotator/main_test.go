package main

import (
	"testing"
)

func TestCheckInput(t *testing.T) {
	valid := []string{
		"scan.png",
		"dir/scan.JPG",
		"scan.webp",
		"https://example.com/scan",
		"data:image/png;base64,AAAA",
	}
	for _, in := range valid {
		if err := checkInput("analyze", in); err != nil {
			t.Errorf("checkInput(%q) unexpected error: %v", in, err)
		}
	}

	invalid := []string{"", "notes.txt", "report.pdf", "scan"}
	for _, in := range invalid {
		if err := checkInput("analyze", in); err == nil {
			t.Errorf("checkInput(%q) expected an error", in)
		}
	}
}

func TestShorten(t *testing.T) {
	if got := shorten("abcdef", 10); got != "abcdef" {
		t.Errorf("Expected unchanged, got %q", got)
	}
	if got := shorten("abcdefghijkl", 8); got != "abcde..." {
		t.Errorf("Expected abcde..., got %q", got)
	}
}
