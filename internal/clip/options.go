package clip

import (
	"errors"
	"fmt"
	"strings"
)

// Image styles.
const (
	StyleMarkdown         = "markdown"
	StyleObsidian         = "obsidian"
	StyleObsidianNoFolder = "obsidian-nofolder"
	StyleBase64           = "base64"
	StyleOriginalSource   = "originalSource"
	StyleNoImage          = "noImage"
)

// Link styles.
const (
	LinkInlined     = "inlined"
	LinkInlinedCaps = "inlinedCaps"
	LinkReferenced  = "referenced"
	LinkStrip       = "stripLinks"
)

// Image reference styles.
const (
	RefInlined    = "inlined"
	RefReferenced = "referenced"
)

// Download modes.
const (
	ModeDownloadsAPI = "downloadsApi"
	ModeContentLink  = "contentLink"
)

// Packaging of a saved clip.
const (
	SaveFolder = "folder"
	SaveZip    = "zip"
)

// ErrInvalidOptions is returned by Validate for out-of-range settings.
var ErrInvalidOptions = errors.New("invalid options")

// Options is the user configuration snapshot. It is loaded once per operation
// and never modified by the conversion core.
type Options struct {
	Title           string `yaml:"title"`
	Frontmatter     string `yaml:"frontmatter"`
	Backmatter      string `yaml:"backmatter"`
	IncludeTemplate bool   `yaml:"includeTemplate"`
	MaxTitleLength  int    `yaml:"maxTitleLength"`
	DisallowedChars string `yaml:"disallowedChars"`

	MdClipsFolder  string `yaml:"mdClipsFolder"`
	ObsidianFolder string `yaml:"obsidianFolder"`
	ObsidianVault  string `yaml:"obsidianVault"`
	DownloadMode   string `yaml:"downloadMode"`
	SaveAs         string `yaml:"saveAs"`

	DownloadImages    bool   `yaml:"downloadImages"`
	ImagePrefix       string `yaml:"imagePrefix"`
	ImageStyle        string `yaml:"imageStyle"`
	ImageStyleWith    string `yaml:"imageStyleWith"`
	ImageStyleWithout string `yaml:"imageStyleWithout"`
	ImageRefStyle     string `yaml:"imageRefStyle"`
	ImageConcurrency  int    `yaml:"imageConcurrency"`
	ImageMaxWidth     int    `yaml:"imageMaxWidth"`
	ImageQuality      int    `yaml:"imageQuality"`
	ImageGrayscale    bool   `yaml:"imageGrayscale"`

	LinkStyle        string `yaml:"linkStyle"`
	TurndownEscape   bool   `yaml:"turndownEscape"`
	HeadingStyle     string `yaml:"headingStyle"`
	HR               string `yaml:"hr"`
	BulletListMarker string `yaml:"bulletListMarker"`
	Fence            string `yaml:"fence"`
	EmDelimiter      string `yaml:"emDelimiter"`
	StrongDelimiter  string `yaml:"strongDelimiter"`
}

// DefaultFrontmatter is the front-matter template used when none is configured.
const DefaultFrontmatter = `---
created: {date:YYYY-MM-DDTHH:mm:ss} (UTC {date:Z})
tags: [{keywords:, }]
source: {baseURI}
---

# {pageTitle}

> ## Excerpt
> {excerpt}

---`

// DefaultOptions returns the stock configuration.
func DefaultOptions() Options {
	return Options{
		Title:             "{pageTitle}",
		Frontmatter:       DefaultFrontmatter,
		MaxTitleLength:    150,
		DisallowedChars:   "[]#^",
		DownloadMode:      ModeDownloadsAPI,
		SaveAs:            SaveFolder,
		ImagePrefix:       "images/",
		ImageStyleWith:    StyleMarkdown,
		ImageStyleWithout: StyleOriginalSource,
		ImageRefStyle:     RefInlined,
		ImageConcurrency:  5,
		ImageQuality:      80,
		LinkStyle:         LinkInlined,
		TurndownEscape:    true,
		HeadingStyle:      "atx",
		HR:                "___",
		BulletListMarker:  "-",
		Fence:             "```",
		EmDelimiter:       "_",
		StrongDelimiter:   "**",
	}
}

func oneOf(field, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %q (want one of %s)", ErrInvalidOptions, field, v, strings.Join(allowed, ", "))
}

func validRule(s string) bool {
	if len(s) < 3 {
		return false
	}
	c := s[0]
	if c != '*' && c != '-' && c != '_' {
		return false
	}
	return strings.Count(s, string(c)) == len(s)
}

// Validate reports the first setting that the converter cannot honor.
func (o Options) Validate() error {
	styles := []string{"", StyleMarkdown, StyleObsidian, StyleObsidianNoFolder, StyleBase64, StyleOriginalSource, StyleNoImage}
	checks := []error{
		oneOf("imageStyle", o.ImageStyle, styles...),
		oneOf("imageStyleWith", o.ImageStyleWith, styles...),
		oneOf("imageStyleWithout", o.ImageStyleWithout, styles...),
		oneOf("imageRefStyle", o.ImageRefStyle, RefInlined, RefReferenced),
		oneOf("linkStyle", o.LinkStyle, LinkInlined, LinkInlinedCaps, LinkReferenced, LinkStrip),
		oneOf("downloadMode", o.DownloadMode, ModeDownloadsAPI, ModeContentLink),
		oneOf("saveAs", o.SaveAs, SaveFolder, SaveZip),
		oneOf("headingStyle", o.HeadingStyle, "atx", "setext"),
		oneOf("bulletListMarker", o.BulletListMarker, "-", "+", "*"),
		oneOf("fence", o.Fence, "```", "~~~"),
		oneOf("emDelimiter", o.EmDelimiter, "_", "*"),
		oneOf("strongDelimiter", o.StrongDelimiter, "**", "__"),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	if !validRule(o.HR) {
		return fmt.Errorf("%w: hr %q", ErrInvalidOptions, o.HR)
	}
	if o.MaxTitleLength < 0 {
		return fmt.Errorf("%w: maxTitleLength %d", ErrInvalidOptions, o.MaxTitleLength)
	}
	if o.ImageConcurrency < 0 || o.ImageMaxWidth < 0 {
		return fmt.Errorf("%w: negative image limits", ErrInvalidOptions)
	}
	if o.ImageQuality < 0 || o.ImageQuality > 100 {
		return fmt.Errorf("%w: imageQuality %d", ErrInvalidOptions, o.ImageQuality)
	}
	return nil
}

// Effective is an Options snapshot with the per-operation values derived from
// it: the resolved image style and the expanded image path prefix.
type Effective struct {
	Options
	// ImagePath is ImagePrefix after template expansion, sanitized per segment.
	ImagePath string
}

// Resolve derives the effective settings for one conversion. A non-nil
// downloadImages overrides the configured value. The paired styles apply only
// when no explicit style is set, and image links are suppressed entirely when
// images are not being downloaded.
func Resolve(o Options, downloadImages *bool) Effective {
	eff := Effective{Options: o}
	if downloadImages != nil {
		eff.DownloadImages = *downloadImages
	}
	if eff.ImageStyle == "" && eff.ImageStyleWith != "" && eff.ImageStyleWithout != "" {
		if eff.DownloadImages {
			eff.ImageStyle = eff.ImageStyleWith
		} else {
			eff.ImageStyle = eff.ImageStyleWithout
		}
	}
	if eff.ImageStyle == "" {
		eff.ImageStyle = StyleMarkdown
	}
	if !eff.DownloadImages {
		eff.ImageStyle = StyleNoImage
	}
	if eff.ImageConcurrency < 1 {
		eff.ImageConcurrency = 5
	}
	return eff
}

// Obsidian reports whether the style emits wikilink embeds.
func Obsidian(style string) bool {
	return style == StyleObsidian || style == StyleObsidianNoFolder
}

// rewritesSource reports whether downloaded images are referenced by their
// local path rather than the remote URL.
func rewritesSource(style string) bool {
	return style != StyleOriginalSource && style != StyleBase64
}
