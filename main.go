// markclip: Clip web pages into Markdown files with their images.
//
// Print one page as Markdown:
//
//	markclip [options] <URL>
//
// Save pages (and their images) under a directory, or as zip archives:
//
//	markclip [options] -o clips/ [--zip] <URL|file.txt> [<URL|file.txt>...]
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/adammathes/markclip/internal/clip"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"
)

// stdout receives Markdown, links and previews.
var stdout io.Writer = os.Stdout

// blobTTL bounds how long materialized images wait for the save stage.
const blobTTL = 10 * time.Minute

// cliConfig holds parsed command-line options.
type cliConfig struct {
	output     string
	configPath string
	selection  string
	preview    bool
	link       bool
	obsidian   bool
	zip        bool
	// downloadImages overrides the options file when the flag was given.
	downloadImages *bool
	fetch          fetchConfig
	concurrency    int
	silent         bool
	verbose        bool
	args           []string
}

// printsMarkdown reports modes that write their result to stdout instead
// of saving files.
func (c cliConfig) printsMarkdown() bool {
	return c.link || c.preview || c.obsidian || c.output == ""
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// parseFlags reads the command line. Environment variables (optionally
// from .env) provide defaults for the config path, user agent and proxy.
func parseFlags(args []string) (cliConfig, error) {
	var cfg cliConfig
	var download bool

	fs := flag.NewFlagSet("markclip", flag.ContinueOnError)
	fs.StringVarP(&cfg.output, "output", "o", "", "Save clips under this directory (default: print Markdown to stdout)")
	fs.StringVarP(&cfg.configPath, "config", "c", envOr("MARKCLIP_CONFIG", ""), "YAML options file ($MARKCLIP_CONFIG)")
	fs.StringVar(&cfg.selection, "selection", "", "HTML file with the selection to clip instead of the whole article")
	fs.BoolVar(&cfg.preview, "preview", false, "Print Markdown without image links and list the images that would be saved")
	fs.BoolVar(&cfg.link, "link", false, "Print a Markdown link to each page")
	fs.BoolVar(&cfg.obsidian, "obsidian", false, "Print an obsidian://new URI for each page (needs obsidianVault)")
	fs.BoolVar(&cfg.zip, "zip", false, "Save each clip as a zip archive")
	fs.BoolVar(&download, "download-images", false, "Download images next to the Markdown (overrides the options file)")
	fs.DurationVar(&cfg.fetch.timeout, "timeout", 30*time.Second, "HTTP fetch timeout")
	fs.StringVar(&cfg.fetch.userAgent, "user-agent", envOr("MARKCLIP_USER_AGENT", defaultUA), "HTTP User-Agent header ($MARKCLIP_USER_AGENT)")
	fs.StringVar(&cfg.fetch.proxy, "proxy", envOr("MARKCLIP_PROXY", ""), "HTTP proxy URL; disables browser TLS fingerprinting ($MARKCLIP_PROXY)")
	fs.Int64Var(&cfg.fetch.maxBytes, "max-response-size", defaultMaxResponse, "Maximum bytes read from one response; 0 for unlimited")
	fs.BoolVar(&cfg.fetch.allowPrivate, "allow-private", false, "Allow fetching from private and loopback addresses")
	fs.Float64Var(&cfg.fetch.imageRate, "image-rate", 0, "Maximum image requests per second; 0 for unlimited")
	fs.IntVarP(&cfg.concurrency, "concurrency", "j", 5, "Pages clipped in parallel")
	fs.BoolVarP(&cfg.silent, "silent", "s", false, "Suppress all output except errors")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "Log every fetch and image")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: markclip [options] <URL>\n")
		fmt.Fprintf(os.Stderr, "       markclip [options] -o DIR <URL|file.txt> [...]\n\n")
		fmt.Fprintf(os.Stderr, "Clip web pages into Markdown files with their images.\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if fs.Changed("download-images") {
		cfg.downloadImages = &download
	}
	cfg.args = fs.Args()
	if len(cfg.args) == 0 {
		return cfg, errors.New("at least one URL or .txt file is required")
	}
	modes := 0
	for _, on := range []bool{cfg.preview, cfg.link, cfg.obsidian} {
		if on {
			modes++
		}
	}
	if modes > 1 {
		return cfg, errors.New("--preview, --link and --obsidian are mutually exclusive")
	}
	if cfg.concurrency < 1 {
		cfg.concurrency = 1
	}
	return cfg, nil
}

// readURLFile reads a file containing one URL per line, skipping blanks and comments.
func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

// collectURLs expands .txt arguments into the URLs they list.
func collectURLs(args []string) ([]string, error) {
	var urls []string
	for _, arg := range args {
		if !strings.HasSuffix(arg, ".txt") {
			urls = append(urls, arg)
			continue
		}
		fileURLs, err := readURLFile(arg)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", arg, err)
		}
		urls = append(urls, fileURLs...)
	}
	if len(urls) == 0 {
		return nil, errors.New("no URLs provided")
	}
	return urls, nil
}

func newLogger(silent, verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	log.SetLevel(logrus.InfoLevel)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	if silent {
		log.SetOutput(io.Discard)
	}
	return log
}

// app is one configured run: options, fetcher and conversion pipeline.
type app struct {
	cfg       cliConfig
	opts      clip.Options
	fetcher   *httpFetcher
	mat       *clip.Materializer
	pipeline  *clip.Pipeline
	selection string
	log       logrus.FieldLogger
}

func newApp(cfg cliConfig, log logrus.FieldLogger) (*app, error) {
	opts, err := loadOptions(cfg.configPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, opts: opts, log: log}
	if cfg.selection != "" {
		data, err := os.ReadFile(cfg.selection)
		if err != nil {
			return nil, fmt.Errorf("reading selection: %w", err)
		}
		a.selection = string(data)
	}

	a.fetcher = newHTTPFetcher(cfg.fetch, log)
	a.mat = clip.NewMaterializer(a.fetcher, clip.NewBlobStore(blobTTL), log)
	a.pipeline = clip.NewPipeline(clip.StaticOptions(opts), clip.NewConverter(log), a.mat, log)
	return a, nil
}

// clipURL fetches and converts one page. The result is Markdown (or a link
// or URI) for printing modes, and the saved path otherwise.
func (a *app) clipURL(ctx context.Context, rawURL string) (string, error) {
	page, pageURL, err := a.fetcher.FetchPage(ctx, rawURL)
	if err != nil {
		return "", err
	}
	art, err := extractArticle(page, pageURL)
	if err != nil {
		return "", err
	}
	if a.selection != "" {
		if err := applySelection(art, a.selection); err != nil {
			return "", err
		}
	}
	a.log.WithFields(logrus.Fields{"url": shortURL(rawURL), "title": art.PageTitle}).Debug("extracted article")

	switch {
	case a.cfg.link:
		title, err := a.pipeline.FormatTitle(ctx, art)
		if err != nil {
			return "", err
		}
		return a.pipeline.Link(ctx, title, pageURL.String())

	case a.cfg.preview:
		res, err := a.pipeline.Convert(ctx, art, clip.Request{
			DownloadImages:  a.cfg.downloadImages,
			SkipMaterialize: true,
		})
		if err != nil {
			return "", err
		}
		res.Images.Each(func(src, name string) {
			a.log.WithFields(logrus.Fields{"src": shortURL(src), "file": name}).Info("image")
		})
		return res.Markdown, nil

	case a.cfg.obsidian:
		return a.obsidianURI(ctx, art)

	case a.cfg.output == "":
		// Only base64 embedding is useful without a place to put files.
		eff, err := a.pipeline.Effective(ctx, art, a.cfg.downloadImages)
		if err != nil {
			return "", err
		}
		embed := eff.ImageStyle == clip.StyleBase64
		res, err := a.pipeline.Convert(ctx, art, clip.Request{
			DownloadImages:    a.cfg.downloadImages,
			IncludeImageLinks: true,
			SkipMaterialize:   !embed,
		})
		if err != nil {
			return "", err
		}
		if !embed && res.Images.Len() > 0 {
			a.log.WithField("images", res.Images.Len()).Warn("images are only saved with --output")
		}
		return res.Markdown, nil
	}
	return a.save(ctx, art)
}

func (a *app) save(ctx context.Context, art *clip.Article) (string, error) {
	res, err := a.pipeline.Convert(ctx, art, clip.Request{
		DownloadImages:    a.cfg.downloadImages,
		IncludeImageLinks: true,
	})
	if err != nil {
		return "", err
	}
	title, err := a.pipeline.FormatTitle(ctx, art)
	if err != nil {
		return "", err
	}
	folder, err := a.pipeline.FormatClipsFolder(ctx, art)
	if err != nil {
		return "", err
	}
	target := saveTarget{
		root:        a.cfg.output,
		folder:      folder,
		title:       title,
		zip:         a.cfg.zip || a.opts.SaveAs == clip.SaveZip,
		concurrency: a.opts.ImageConcurrency,
	}
	return saveClip(ctx, target, res, a.mat.Open, a.log)
}

// obsidianURI builds an obsidian://new link that creates the clip as a note
// in the configured vault.
func (a *app) obsidianURI(ctx context.Context, art *clip.Article) (string, error) {
	if a.opts.ObsidianVault == "" {
		return "", fmt.Errorf("%w: --obsidian needs obsidianVault", ErrInvalidOptions)
	}
	noDownload := false
	res, err := a.pipeline.Convert(ctx, art, clip.Request{
		DownloadImages:    &noDownload,
		IncludeImageLinks: true,
	})
	if err != nil {
		return "", err
	}
	title, err := a.pipeline.FormatTitle(ctx, art)
	if err != nil {
		return "", err
	}
	folder, err := a.pipeline.FormatObsidianFolder(ctx, art)
	if err != nil {
		return "", err
	}
	q := url.Values{
		"vault":   {a.opts.ObsidianVault},
		"file":    {folder + title},
		"content": {res.Markdown},
	}
	return "obsidian://new?" + strings.ReplaceAll(q.Encode(), "+", "%20"), nil
}

// run executes the main application logic, returning any error.
func run(ctx context.Context, cfg cliConfig) error {
	log := newLogger(cfg.silent, cfg.verbose)
	if !cfg.printsMarkdown() && !cfg.silent {
		progressOut = os.Stdout
	}

	urls, err := collectURLs(cfg.args)
	if err != nil {
		return err
	}
	if cfg.selection != "" && len(urls) > 1 {
		return errors.New("--selection applies to a single URL")
	}
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}

	// Parallelize with a bounded semaphore; results keep argument order.
	outputs := make([]string, len(urls))
	errs := make([]error, len(urls))
	var wg sync.WaitGroup
	sem := make(chan struct{}, cfg.concurrency)
	for i, rawURL := range urls {
		wg.Add(1)
		go func(i int, rawURL string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outputs[i], errs[i] = a.clipURL(ctx, rawURL)
			if !cfg.printsMarkdown() {
				reportClip(i, len(urls), rawURL, outputs[i], errs[i])
			}
		}(i, rawURL)
	}
	wg.Wait()

	if len(urls) == 1 && errs[0] != nil {
		return errs[0]
	}
	var printed []string
	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			log.WithFields(logrus.Fields{"url": urls[i], "err": err}).Warn("skipping")
			continue
		}
		if cfg.printsMarkdown() {
			printed = append(printed, outputs[i])
		} else {
			log.WithField("path", outputs[i]).Info("saved")
		}
	}
	if failed == len(urls) {
		return fmt.Errorf("no pages clipped (%d failed)", failed)
	}

	if len(printed) > 0 {
		sep := "\n\n---\n\n"
		if cfg.link || cfg.obsidian {
			sep = "\n"
		}
		if _, err := io.WriteString(stdout, strings.Join(printed, sep)+"\n"); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
	}
	return nil
}

func main() {
	_ = godotenv.Load()

	cfg, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if cfg.verbose {
		_, _ = maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		}))
	} else {
		_, _ = maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {}))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
