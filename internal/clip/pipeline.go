package clip

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// OptionsLoader returns the current configuration snapshot.
type OptionsLoader func(ctx context.Context) (Options, error)

// StaticOptions returns a loader that always yields o.
func StaticOptions(o Options) OptionsLoader {
	return func(context.Context) (Options, error) { return o, nil }
}

// Request selects how one article is converted.
type Request struct {
	// DownloadImages overrides Options.DownloadImages when non-nil.
	DownloadImages *bool
	// IncludeImageLinks writes image links into the Markdown. The manifest
	// is filled either way.
	IncludeImageLinks bool
	// SkipMaterialize leaves the manifest keyed by source URL.
	SkipMaterialize bool
}

// Pipeline runs a full conversion: options, templates, conversion, manifest
// filtering and image materialization.
type Pipeline struct {
	load         OptionsLoader
	converter    *Converter
	materializer *Materializer
	log          logrus.FieldLogger
	now          func() time.Time
}

// NewPipeline wires a pipeline. materializer may be nil when images are never
// pre-downloaded.
func NewPipeline(load OptionsLoader, conv *Converter, mat *Materializer, log logrus.FieldLogger) *Pipeline {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if conv == nil {
		conv = NewConverter(log)
	}
	return &Pipeline{load: load, converter: conv, materializer: mat, log: log, now: time.Now}
}

// SetClock replaces the time source used by templates.
func (p *Pipeline) SetClock(now func() time.Time) { p.now = now }

// Effective loads the options and resolves them for one request.
func (p *Pipeline) Effective(ctx context.Context, a *Article, downloadImages *bool) (Effective, error) {
	opts, err := p.load(ctx)
	if err != nil {
		return Effective{}, fmt.Errorf("load options: %w", err)
	}
	eff := Resolve(opts, downloadImages)
	eff.ImagePath = imagePath(opts.ImagePrefix, a, opts.DisallowedChars, p.now())
	return eff, nil
}

// imagePath expands the image prefix template and sanitizes each segment.
func imagePath(prefix string, a *Article, disallowed string, now time.Time) string {
	expanded := Expand(prefix, a, disallowed, now)
	parts := strings.Split(expanded, "/")
	for i, part := range parts {
		parts[i] = SanitizeName(part, disallowed, 0)
	}
	return strings.Join(parts, "/")
}

// Convert turns an article into Markdown plus the manifest of images to save.
func (p *Pipeline) Convert(ctx context.Context, a *Article, req Request) (*Result, error) {
	eff, err := p.Effective(ctx, a, req.DownloadImages)
	if err != nil {
		return nil, err
	}

	var front, back string
	if eff.IncludeTemplate {
		now := p.now()
		front = ExpandMatter(eff.Frontmatter, a, eff.DisallowedChars, now)
		back = ExpandMatter(eff.Backmatter, a, eff.DisallowedChars, now)
	}

	res, err := p.converter.Convert(ctx, a, eff, req.IncludeImageLinks)
	if err != nil {
		return nil, err
	}
	if eff.DownloadImages && req.IncludeImageLinks {
		res.Images = ReferencedImages(res.Markdown, res.Images, eff)
	}

	if eff.DownloadImages && eff.DownloadMode == ModeDownloadsAPI && !req.SkipMaterialize &&
		p.materializer != nil && res.Images.Len() > 0 {
		md, images, err := p.materializer.Materialize(ctx, res.Images, res.Markdown, eff)
		if err != nil {
			return nil, fmt.Errorf("materialize images: %w", err)
		}
		res.Markdown, res.Images = md, images
	}

	p.log.WithFields(logrus.Fields{
		"title":  a.Title,
		"images": res.Images.Len(),
	}).Debug("article converted")
	res.Markdown = front + res.Markdown + back
	return res, nil
}

// FormatTitle expands the title template into a file name.
func (p *Pipeline) FormatTitle(ctx context.Context, a *Article) (string, error) {
	opts, err := p.load(ctx)
	if err != nil {
		return "", fmt.Errorf("load options: %w", err)
	}
	title := Expand(opts.Title, a, opts.DisallowedChars+"/", p.now())
	return SanitizeName(title, "", opts.MaxTitleLength), nil
}

// FormatClipsFolder expands the clips folder template. It is empty unless
// files are written through the downloads mode.
func (p *Pipeline) FormatClipsFolder(ctx context.Context, a *Article) (string, error) {
	opts, err := p.load(ctx)
	if err != nil {
		return "", fmt.Errorf("load options: %w", err)
	}
	if opts.DownloadMode != ModeDownloadsAPI {
		return "", nil
	}
	return folderPath(Expand(opts.MdClipsFolder, a, opts.DisallowedChars, p.now())), nil
}

// FormatObsidianFolder expands the vault folder template for wikilink styles.
func (p *Pipeline) FormatObsidianFolder(ctx context.Context, a *Article) (string, error) {
	opts, err := p.load(ctx)
	if err != nil {
		return "", fmt.Errorf("load options: %w", err)
	}
	if !Obsidian(Resolve(opts, nil).ImageStyle) && !Obsidian(opts.ImageStyleWith) {
		return "", nil
	}
	return folderPath(Expand(opts.ObsidianFolder, a, opts.DisallowedChars, p.now())), nil
}

func folderPath(s string) string {
	s = strings.TrimSpace(s)
	if s != "" && !strings.HasSuffix(s, "/") {
		s += "/"
	}
	return s
}

// Link renders a Markdown link to a page with the configured link style.
func (p *Pipeline) Link(ctx context.Context, title, href string) (string, error) {
	no := false
	eff, err := p.Effective(ctx, &Article{}, &no)
	if err != nil {
		return "", err
	}
	a := &Article{
		Content: `<a href="` + html.EscapeString(href) + `">` + html.EscapeString(title) + `</a>`,
		Title:   title,
		BaseURI: href,
	}
	res, err := p.converter.Convert(ctx, a, eff, false)
	if err != nil {
		return "", err
	}
	return res.Markdown, nil
}
