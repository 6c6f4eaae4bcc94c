package clip

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/strikethrough"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
)

// Result is the output of one conversion pass.
type Result struct {
	Markdown string
	Images   *ImageList
}

// Rule renders one kind of element. Rules are tried in order and the first
// whose tag list and Match accept the element wins; elements no rule accepts
// are handled by the commonmark plugins.
type Rule struct {
	Name   string
	Inline []string
	Block  []string
	// Raw rules work from the node itself and receive no converted content.
	Raw    bool
	Match  func(c *ConversionContext, n *html.Node) bool
	Render func(c *ConversionContext, n *html.Node, content string) string
}

func (r Rule) handles(tag string) bool {
	for _, t := range r.Inline {
		if t == tag {
			return true
		}
	}
	for _, t := range r.Block {
		if t == tag {
			return true
		}
	}
	return false
}

// refList collects reference definitions in the order they are created.
type refList struct {
	prefix string
	lines  []string
}

// add stores a definition for target and returns its label.
func (r *refList) add(target string) string {
	label := r.prefix + strconv.Itoa(len(r.lines)+1)
	r.lines = append(r.lines, "["+label+"]: "+target)
	return label
}

// ConversionContext is the state of a single conversion pass. It is created
// by Convert and discarded when the pass ends.
type ConversionContext struct {
	Article           *Article
	Options           Effective
	Images            *ImageList
	IncludeImageLinks bool

	base    *url.URL
	links   refList
	figures refList
	render  converter.Context
	log     logrus.FieldLogger
}

// RenderChildren converts the children of n with the full rule set.
func (c *ConversionContext) RenderChildren(n *html.Node) string {
	var buf bytes.Buffer
	c.render.RenderChildNodes(c.render, &buf, n)
	return buf.String()
}

// AddLinkRef records a link reference definition and returns its label.
func (c *ConversionContext) AddLinkRef(target string) string {
	return c.links.add(target)
}

// AddImageRef records an image reference definition and returns its label.
func (c *ConversionContext) AddImageRef(target string) string {
	return c.figures.add(target)
}

// absolute resolves raw against the article's base URI. Values that do not
// parse are returned unchanged.
func (c *ConversionContext) absolute(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "data:") || c.base == nil {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() {
		return raw
	}
	return c.base.ResolveReference(u).String()
}

func (c *ConversionContext) dispatch(rules []Rule, ctx converter.Context, w converter.Writer, n *html.Node) converter.RenderStatus {
	for _, r := range rules {
		if !r.handles(n.Data) || !r.Match(c, n) {
			continue
		}
		prev := c.render
		c.render = ctx
		var content string
		if !r.Raw {
			content = c.RenderChildren(n)
		}
		out := r.Render(c, n, content)
		c.render = prev
		w.WriteString(out)
		return converter.RenderSuccess
	}
	return converter.RenderTryNext
}

// Converter turns article HTML into Markdown using an ordered rule set.
type Converter struct {
	rules []Rule
	log   logrus.FieldLogger
}

// NewConverter returns a converter with the built-in rules. Extra rules are
// tried before the built-in ones.
func NewConverter(log logrus.FieldLogger, extra ...Rule) *Converter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	rules := append(append([]Rule(nil), extra...), builtinRules()...)
	return &Converter{rules: rules, log: log}
}

// Convert runs one conversion pass over the article content. Image links are
// only written when includeImageLinks is set, but the manifest is filled
// whenever images are being downloaded.
func (c *Converter) Convert(ctx context.Context, a *Article, eff Effective, includeImageLinks bool) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cc := &ConversionContext{
		Article:           a,
		Options:           eff,
		Images:            NewImageList(),
		IncludeImageLinks: includeImageLinks,
		links:             refList{},
		figures:           refList{prefix: "fig"},
		log:               c.log,
	}
	if u, err := url.Parse(a.BaseURI); err == nil && u.IsAbs() {
		cc.base = u
	}

	conv := c.newBaseConverter(cc)
	var (
		md  string
		err error
	)
	if cc.base != nil {
		md, err = conv.ConvertString(a.Content, converter.WithDomain(a.BaseURI))
	} else {
		md, err = conv.ConvertString(a.Content)
	}
	if err != nil {
		return nil, fmt.Errorf("markdown conversion: %w", err)
	}

	md = appendReferences(strings.TrimSpace(md), cc.figures.lines, cc.links.lines)
	return &Result{Markdown: cleanMarkdown(md), Images: cc.Images}, nil
}

func (c *Converter) newBaseConverter(cc *ConversionContext) *converter.Converter {
	o := withFormattingDefaults(cc.Options.Options)
	heading := commonmark.HeadingStyleATX
	if o.HeadingStyle == "setext" {
		heading = commonmark.HeadingStyleSetext
	}
	escape := converter.EscapeModeSmart
	if !o.TurndownEscape {
		escape = converter.EscapeModeDisabled
	}
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(
				commonmark.WithHeadingStyle(heading),
				commonmark.WithHorizontalRule(o.HR),
				commonmark.WithBulletListMarker(o.BulletListMarker),
				commonmark.WithCodeBlockFence(o.Fence),
				commonmark.WithEmDelimiter(o.EmDelimiter),
				commonmark.WithStrongDelimiter(o.StrongDelimiter),
			),
			table.NewTablePlugin(),
			strikethrough.NewStrikethroughPlugin(),
		),
		converter.WithEscapeMode(escape),
	)

	handler := func(ctx converter.Context, w converter.Writer, n *html.Node) converter.RenderStatus {
		return cc.dispatch(c.rules, ctx, w, n)
	}
	seen := make(map[string]bool)
	for _, r := range c.rules {
		for _, tag := range r.Inline {
			if !seen[tag] {
				seen[tag] = true
				conv.Register.RendererFor(tag, converter.TagTypeInline, handler, converter.PriorityEarly)
			}
		}
		for _, tag := range r.Block {
			if !seen[tag] {
				seen[tag] = true
				conv.Register.RendererFor(tag, converter.TagTypeBlock, handler, converter.PriorityEarly)
			}
		}
	}
	return conv
}

// withFormattingDefaults fills blank Markdown formatting settings so a
// partially populated Options still converts.
func withFormattingDefaults(o Options) Options {
	d := DefaultOptions()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&o.HeadingStyle, d.HeadingStyle)
	fill(&o.HR, d.HR)
	fill(&o.BulletListMarker, d.BulletListMarker)
	fill(&o.Fence, d.Fence)
	fill(&o.EmDelimiter, d.EmDelimiter)
	fill(&o.StrongDelimiter, d.StrongDelimiter)
	fill(&o.LinkStyle, d.LinkStyle)
	fill(&o.ImageRefStyle, d.ImageRefStyle)
	return o
}

// appendReferences adds the image then link definition blocks after md.
func appendReferences(md string, blocks ...[]string) string {
	for _, lines := range blocks {
		if len(lines) == 0 {
			continue
		}
		md += "\n\n" + strings.Join(lines, "\n") + "\n\n"
	}
	return md
}

var (
	imageBoilerplate = regexp.MustCompile(`(?m)^[ \t]*Press enter or click to view image in full size[ \t]*$`)
	controlChars     = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F-\x{9F}]`)
	blankLines       = regexp.MustCompile(`\n{3,}`)
)

// cleanMarkdown removes image viewer boilerplate and control characters and
// folds runs of blank lines.
func cleanMarkdown(md string) string {
	md = imageBoilerplate.ReplaceAllString(md, "")
	md = controlChars.ReplaceAllString(md, "")
	md = blankLines.ReplaceAllString(md, "\n\n")
	return strings.TrimSpace(md)
}
