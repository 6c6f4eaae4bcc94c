package main

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// testFetcher returns a fetcher allowed to reach httptest servers.
func testFetcher(cfg fetchConfig) *httpFetcher {
	cfg.allowPrivate = true
	if cfg.timeout == 0 {
		cfg.timeout = 5 * time.Second
	}
	return newHTTPFetcher(cfg, quietLogger())
}

func TestFetchPage_Success(t *testing.T) {
	expected := "<html><body>Hello</body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(expected))
	}))
	defer srv.Close()

	body, u, err := testFetcher(fetchConfig{}).FetchPage(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != expected {
		t.Errorf("got %q, want %q", string(body), expected)
	}
	if u.Host == "" {
		t.Error("expected parsed URL with host")
	}
}

func TestFetchPage_FollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new/post", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new/post", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("moved"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, u, err := testFetcher(fetchConfig{}).FetchPage(context.Background(), srv.URL+"/old")
	if err != nil {
		t.Fatal(err)
	}
	if u.Path != "/new/post" {
		t.Errorf("final URL = %s, want the redirect target", u)
	}
}

func TestFetchPage_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	}))
	defer srv.Close()

	_, _, err := testFetcher(fetchConfig{}).FetchPage(context.Background(), srv.URL)
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("expected ErrFetch, got: %v", err)
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("expected 404 in error, got: %v", err)
	}
}

func TestFetchPage_BrowserHeaders(t *testing.T) {
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := testFetcher(fetchConfig{userAgent: "my-custom-agent/2.0"})
	if _, _, err := f.FetchPage(context.Background(), srv.URL); err != nil {
		t.Fatal(err)
	}

	required := map[string]string{
		"User-Agent":     "my-custom-agent/2.0",
		"Sec-Fetch-Dest": "document",
		"Sec-Fetch-Mode": "navigate",
		"Sec-Fetch-Site": "none",
		"Accept":         "text/html",
	}
	for header, wantSubstr := range required {
		got := headers.Get(header)
		if got == "" {
			t.Errorf("missing header %s", header)
		} else if !strings.Contains(got, wantSubstr) {
			t.Errorf("%s = %q, want substring %q", header, got, wantSubstr)
		}
	}
}

func TestFetchPage_InvalidURL(t *testing.T) {
	f := testFetcher(fetchConfig{})
	for _, raw := range []string{"://bad-url", "ftp://example.com/file", "javascript:alert(1)"} {
		if _, _, err := f.FetchPage(context.Background(), raw); !errors.Is(err, ErrFetch) {
			t.Errorf("%q: expected ErrFetch, got %v", raw, err)
		}
	}
}

func TestFetchPage_SizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("x"), 200))
	}))
	defer srv.Close()

	_, _, err := testFetcher(fetchConfig{maxBytes: 100}).FetchPage(context.Background(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "exceeds maximum allowed size") {
		t.Errorf("expected size error, got: %v", err)
	}

	body, _, err := testFetcher(fetchConfig{maxBytes: 0}).FetchPage(context.Background(), srv.URL)
	if err != nil || len(body) != 200 {
		t.Errorf("unlimited fetch: %d bytes, err %v", len(body), err)
	}
}

func TestFetch_ImageMediaType(t *testing.T) {
	png := makePNG(4, 4, color.NRGBA{255, 0, 0, 255})
	var dest string
	mux := http.NewServeMux()
	mux.HandleFunc("/typed", func(w http.ResponseWriter, r *http.Request) {
		dest = r.Header.Get("Sec-Fetch-Dest")
		w.Header().Set("Content-Type", "image/webp; charset=binary")
		w.Write([]byte("RIFF"))
	})
	mux.HandleFunc("/generic", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(png)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := testFetcher(fetchConfig{})
	_, mt, err := f.Fetch(context.Background(), srv.URL+"/typed")
	if err != nil {
		t.Fatal(err)
	}
	if mt != "image/webp" {
		t.Errorf("typed media type = %q", mt)
	}
	if dest != "image" {
		t.Errorf("Sec-Fetch-Dest = %q, want image", dest)
	}

	data, mt, err := f.Fetch(context.Background(), srv.URL+"/generic")
	if err != nil {
		t.Fatal(err)
	}
	if mt != "image/png" || !bytes.Equal(data, png) {
		t.Errorf("sniffed media type = %q", mt)
	}
}

func TestFetch_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	f := testFetcher(fetchConfig{imageRate: 0.01})
	if _, _, err := f.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, _, err := f.Fetch(ctx, srv.URL); err == nil {
		t.Error("second fetch should wait past the deadline and fail")
	}
}

func TestHasPort(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"example.com:443", true},
		{"example.com:80", true},
		{"[::1]:8080", true},
		{"example.com", false},
		{"localhost", false},
	}
	for _, tt := range tests {
		got := hasPort(tt.host)
		if got != tt.want {
			t.Errorf("hasPort(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestReadLimited(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		limit   int64
		wantErr bool
	}{
		{"under limit", 100, 200, false},
		{"exactly at limit", 200, 200, false},
		{"exceeds limit", 201, 200, true},
		{"zero means unlimited", 10000, 0, false},
		{"negative means unlimited", 5000, -1, false},
		{"empty reader", 0, 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readLimited(bytes.NewReader(bytes.Repeat([]byte("a"), tt.size)), tt.limit)
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), "exceeds maximum allowed size") {
					t.Errorf("expected size error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.size {
				t.Errorf("got %d bytes, want %d", len(got), tt.size)
			}
		})
	}
}

type closeCounter struct{ closed int }

func (c *closeCounter) Close() error {
	c.closed++
	return nil
}

func TestConnBody_ClosesConnection(t *testing.T) {
	conn := &closeCounter{}
	body := &connBody{ReadCloser: io.NopCloser(strings.NewReader("payload")), conn: conn}

	data, err := readLimited(body, 0)
	if err != nil || string(data) != "payload" {
		t.Fatalf("read %q, %v", data, err)
	}
	if conn.closed != 0 {
		t.Fatal("connection closed before the body")
	}
	if err := body.Close(); err != nil {
		t.Fatal(err)
	}
	if conn.closed != 1 {
		t.Errorf("connection closed %d times, want 1", conn.closed)
	}
}
