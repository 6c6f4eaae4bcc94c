package main

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
)

func withProgressCapture(fn func()) string {
	var buf bytes.Buffer
	saved := progressOut
	progressOut = &buf
	defer func() { progressOut = saved }()
	fn()
	return buf.String()
}

func TestShortURL(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"https://example.com/article", "example.com/article"},
		{"https://example.com/", "example.com"},
		{"https://example.com/very/deep/path/to/article", "example.com/very/deep/path/to/article"},
		{"not a url %%%", "not a url %%%"},
		{"data:image/png;base64,iVBORw0KGgo=", "data:image/png;base64"},
		{"blob:1234", "blob:1234"},
	}
	for _, tt := range tests {
		got := shortURL(tt.input)
		if got != tt.want {
			t.Errorf("shortURL(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestShortURL_Truncation(t *testing.T) {
	result := shortURL("https://example.com/" + strings.Repeat("x", 100))
	if len(result) > 60 {
		t.Errorf("shortURL should truncate to 60 chars, got %d", len(result))
	}
	if !strings.HasSuffix(result, "...") {
		t.Error("truncated shortURL should end with ...")
	}
}

func TestReportClip(t *testing.T) {
	out := withProgressCapture(func() {
		reportClip(0, 2, "https://example.com/a", "clips/A/A.md", nil)
		reportClip(1, 2, "https://example.com/b", "", errors.New("HTTP 404"))
	})
	want := "[1/2] ✓ example.com/a -> clips/A/A.md\n[2/2] ✗ example.com/b: HTTP 404\n"
	if out != want {
		t.Errorf("got:\n%s\nwant:\n%s", out, want)
	}
}

func TestPprintf_Concurrent(t *testing.T) {
	out := withProgressCapture(func() {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				pprintf("line %02d\n", i)
			}(i)
		}
		wg.Wait()
	})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 20 {
		t.Fatalf("expected 20 lines, got %d", len(lines))
	}
	for _, l := range lines {
		if !strings.HasPrefix(l, "line ") || len(l) != 7 {
			t.Errorf("interleaved line %q", l)
		}
	}
}
