// Progress lines for multi-URL runs. They go to stdout only when the clips
// are written to disk, so stdout stays clean when it carries Markdown.
package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
)

// progressOut is the writer for progress lines; io.Discard unless enabled.
var progressOut io.Writer = io.Discard

// progressMu serialises writes so concurrent clips don't interleave lines.
var progressMu sync.Mutex

func pprintf(format string, args ...any) {
	progressMu.Lock()
	defer progressMu.Unlock()
	fmt.Fprintf(progressOut, format, args...)
}

// reportClip prints one result line: "[2/5] ✓ example.com/post -> path".
func reportClip(i, n int, rawURL, dest string, err error) {
	if err != nil {
		pprintf("[%d/%d] ✗ %s: %v\n", i+1, n, shortURL(rawURL), err)
		return
	}
	pprintf("[%d/%d] ✓ %s -> %s\n", i+1, n, shortURL(rawURL), dest)
}

// shortURL returns a compact display form of a URL: host + trimmed path,
// no scheme. Truncated to 60 characters with "..." if needed.
func shortURL(rawURL string) string {
	if strings.HasPrefix(rawURL, "data:") {
		if i := strings.IndexByte(rawURL, ','); i >= 0 {
			return rawURL[:i]
		}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	display := u.Host + u.Path
	display = strings.TrimSuffix(display, "/")
	if display == "" {
		display = rawURL
	}
	if len(display) > 60 {
		display = display[:57] + "..."
	}
	return display
}
