package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/adammathes/markclip/internal/imgopt"
	"github.com/gabriel-vasile/mimetype"
	utls "github.com/refraction-networking/utls"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

const defaultUA = "Mozilla/5.0 (X11; Linux x86_64; rv:133.0) Gecko/20100101 Firefox/133.0"

// defaultMaxResponse caps any single response body; 0 means unlimited.
const defaultMaxResponse int64 = 128 * 1024 * 1024

type fetchConfig struct {
	timeout   time.Duration
	userAgent string
	// proxy routes every request through an HTTP proxy using standard TLS,
	// since uTLS cannot negotiate CONNECT tunnels.
	proxy        string
	maxBytes     int64
	allowPrivate bool
	// imageRate limits image requests per second; 0 disables the limit.
	imageRate float64
}

// httpFetcher downloads pages and images with browser-like TLS and headers.
// It implements clip.Fetcher for the image materializer.
type httpFetcher struct {
	cfg     fetchConfig
	browser *http.Client
	plain   *http.Client
	limiter *rate.Limiter
	log     logrus.FieldLogger
}

func newHTTPFetcher(cfg fetchConfig, log logrus.FieldLogger) *httpFetcher {
	if cfg.timeout <= 0 {
		cfg.timeout = 30 * time.Second
	}
	if cfg.userAgent == "" {
		cfg.userAgent = defaultUA
	}
	limit := rate.Inf
	if cfg.imageRate > 0 {
		limit = rate.Limit(cfg.imageRate)
	}
	return &httpFetcher{
		cfg:     cfg,
		browser: newBrowserClient(cfg.timeout, cfg.allowPrivate),
		plain:   newPlainClient(cfg.proxy, cfg.timeout, cfg.allowPrivate),
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}
}

// newPlainClient creates a client using standard TLS, optionally through
// proxyAddr.
func newPlainClient(proxyAddr string, timeout time.Duration, allowPrivate bool) *http.Client {
	transport := &http.Transport{
		DialContext: safeDialContext(&net.Dialer{Timeout: timeout}, allowPrivate),
	}
	if proxyAddr != "" {
		if proxyURL, err := url.Parse(proxyAddr); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

func (f *httpFetcher) client(u *url.URL) *http.Client {
	if f.cfg.proxy == "" && u.Scheme == "https" {
		return f.browser
	}
	return f.plain
}

// readLimited reads up to limit bytes from r, failing if the body is longer.
// A limit of 0 or less reads without bound.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response body exceeds maximum allowed size (%s)", imgopt.HumanSize(limit))
	}
	return data, nil
}

// get issues a GET with browser headers for the given fetch destination
// ("document" or "image") and returns the body and the final URL.
func (f *httpFetcher) get(ctx context.Context, rawURL, dest, accept string) ([]byte, *http.Response, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: invalid URL %q: %v", ErrFetch, rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, nil, fmt.Errorf("%w: unsupported scheme in %q", ErrFetch, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", f.cfg.userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Sec-Fetch-Dest", dest)
	if dest == "document" {
		req.Header.Set("Sec-Fetch-Mode", "navigate")
		req.Header.Set("Sec-Fetch-Site", "none")
	} else {
		req.Header.Set("Sec-Fetch-Mode", "no-cors")
		req.Header.Set("Sec-Fetch-Site", "cross-site")
	}

	resp, err := f.client(parsed).Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, fmt.Errorf("%w: HTTP %d for %s", ErrFetch, resp.StatusCode, rawURL)
	}
	body, err := readLimited(resp.Body, f.cfg.maxBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading response: %w", ErrFetch, err)
	}
	return body, resp, nil
}

// FetchPage downloads an HTML page and returns it with the URL it was
// finally served from, after redirects.
func (f *httpFetcher) FetchPage(ctx context.Context, rawURL string) ([]byte, *url.URL, error) {
	body, resp, err := f.get(ctx, rawURL, "document",
		"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if err != nil {
		return nil, nil, err
	}
	f.log.WithFields(logrus.Fields{
		"url":  rawURL,
		"size": imgopt.HumanSize(int64(len(body))),
	}).Info("fetched page")
	return body, resp.Request.URL, nil
}

// Fetch downloads one image. The media type comes from Content-Type unless
// the server sends something generic, in which case the bytes are sniffed.
func (f *httpFetcher) Fetch(ctx context.Context, src string) ([]byte, string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}
	body, resp, err := f.get(ctx, src, "image",
		"image/avif,image/webp,image/png,image/svg+xml,image/*;q=0.8,*/*;q=0.5")
	if err != nil {
		return nil, "", err
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "" || mediaType == "application/octet-stream" || !strings.Contains(mediaType, "/") {
		mediaType = mimetype.Detect(body).String()
		if i := strings.IndexByte(mediaType, ';'); i >= 0 {
			mediaType = mediaType[:i]
		}
	}
	f.log.WithFields(logrus.Fields{
		"src":  src,
		"type": mediaType,
		"size": imgopt.HumanSize(int64(len(body))),
	}).Debug("fetched image")
	return body, mediaType, nil
}

// utlsConn wraps a utls.UConn and satisfies net.Conn + the
// ConnectionState interface that net/http2 needs.
type utlsConn struct {
	*utls.UConn
}

func (c *utlsConn) ConnectionState() tls.ConnectionState {
	cs := c.UConn.ConnectionState()
	return tls.ConnectionState{
		Version:                    cs.Version,
		HandshakeComplete:          cs.HandshakeComplete,
		CipherSuite:                cs.CipherSuite,
		NegotiatedProtocol:         cs.NegotiatedProtocol,
		NegotiatedProtocolIsMutual: cs.NegotiatedProtocolIsMutual,
		ServerName:                 cs.ServerName,
		PeerCertificates:           cs.PeerCertificates,
		VerifiedChains:             cs.VerifiedChains,
		OCSPResponse:               cs.OCSPResponse,
		TLSUnique:                  cs.TLSUnique,
	}
}

// browserTransport dials TLS with a Firefox ClientHello and routes the
// connection to HTTP/1.1 or HTTP/2 depending on ALPN.
type browserTransport struct {
	dial func(context.Context, string, string) (net.Conn, error)
	h1   *http.Transport
	h2   *http2.Transport
}

// newBrowserClient creates an HTTP client that mimics a real browser's
// TLS fingerprint using utls.
func newBrowserClient(timeout time.Duration, allowPrivate bool) *http.Client {
	dial := safeDialContext(&net.Dialer{Timeout: timeout}, allowPrivate)
	return &http.Client{
		Timeout: timeout,
		Transport: &browserTransport{
			dial: dial,
			h1:   &http.Transport{DialContext: dial},
			h2:   &http2.Transport{},
		},
	}
}

func (bt *browserTransport) dialUTLS(ctx context.Context, addr string) (net.Conn, string, error) {
	conn, err := bt.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, "", err
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloFirefox_120)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, "", err
	}
	return &utlsConn{tlsConn}, tlsConn.ConnectionState().NegotiatedProtocol, nil
}

func (bt *browserTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return bt.h1.RoundTrip(req)
	}

	addr := req.URL.Host
	if !hasPort(addr) {
		addr += ":443"
	}
	conn, alpn, err := bt.dialUTLS(req.Context(), addr)
	if err != nil {
		return nil, err
	}

	if alpn == "h2" {
		h2conn, err := bt.h2.NewClientConn(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		resp, err := h2conn.RoundTrip(req)
		if err != nil {
			h2conn.Close()
			return nil, err
		}
		resp.Body = &connBody{ReadCloser: resp.Body, conn: h2conn}
		return resp, nil
	}

	// One-shot transport that reuses the handshaken connection.
	oneShot := &http.Transport{
		DialTLSContext: func(context.Context, string, string) (net.Conn, error) {
			return conn, nil
		},
		DisableKeepAlives: true,
	}
	return oneShot.RoundTrip(req)
}

// connBody closes the connection a response was read from together with
// its body, so per-request HTTP/2 connections don't outlive the fetch.
type connBody struct {
	io.ReadCloser
	conn io.Closer
}

func (b *connBody) Close() error {
	err := b.ReadCloser.Close()
	if cerr := b.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

func hasPort(host string) bool {
	_, _, err := net.SplitHostPort(host)
	return err == nil
}
