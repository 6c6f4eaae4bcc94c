package clip

import (
	"path"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/dom"
	"golang.org/x/net/html"
)

var (
	languageClass = regexp.MustCompile(`(?:^|\s)language-(\S+)`)
	codeLangID    = regexp.MustCompile(`^code-lang-(.+)$`)
	attrNewlines  = regexp.MustCompile(`(\n+\s*)+`)
)

func builtinRules() []Rule {
	return []Rule{
		{
			Name:   "math",
			Inline: []string{"span", "i"},
			Block:  []string{"p", "div"},
			Raw:    true,
			Match: func(c *ConversionContext, n *html.Node) bool {
				_, ok := c.Article.Math[dom.GetAttributeOr(n, "id", "")]
				return ok
			},
			Render: renderMath,
		},
		{
			Name:   "image",
			Inline: []string{"img"},
			Raw:    true,
			Match: func(_ *ConversionContext, n *html.Node) bool {
				return strings.TrimSpace(dom.GetAttributeOr(n, "src", "")) != ""
			},
			Render: renderImage,
		},
		{
			Name:   "link",
			Inline: []string{"a"},
			Match: func(_ *ConversionContext, n *html.Node) bool {
				return strings.TrimSpace(dom.GetAttributeOr(n, "href", "")) != ""
			},
			Render: renderLink,
		},
		{
			Name:  "fencedCodeBlock",
			Block: []string{"pre"},
			Raw:   true,
			Match: func(_ *ConversionContext, n *html.Node) bool {
				return firstContentChild(n) != nil && firstContentChild(n).Data == "code"
			},
			Render: func(c *ConversionContext, n *html.Node, _ string) string {
				code := firstContentChild(n)
				lang := codeLanguage(code)
				if lang == "" {
					lang = codeLanguage(n)
				}
				return fencedBlock(c, lang, nodeText(code))
			},
		},
		{
			Name:  "preformatted",
			Block: []string{"pre"},
			Raw:   true,
			Match: func(_ *ConversionContext, n *html.Node) bool {
				return !containsElement(n, "img")
			},
			Render: func(c *ConversionContext, n *html.Node, _ string) string {
				return fencedBlock(c, codeLanguage(n), nodeText(n))
			},
		},
		{
			Name:   "inlineCode",
			Inline: []string{"code"},
			Raw:    true,
			Match: func(_ *ConversionContext, n *html.Node) bool {
				return n.PrevSibling == nil && n.NextSibling == nil &&
					(n.Parent == nil || n.Parent.Data != "pre")
			},
			Render: func(_ *ConversionContext, n *html.Node, _ string) string {
				return codeSpan(nodeText(n))
			},
		},
		{
			Name:   "strikethrough",
			Inline: []string{"s", "del", "strike"},
			Match:  always,
			Render: func(_ *ConversionContext, _ *html.Node, content string) string {
				return "~~" + content + "~~"
			},
		},
		{
			Name:   "highlight",
			Inline: []string{"mark"},
			Match:  always,
			Render: func(_ *ConversionContext, _ *html.Node, content string) string {
				return "==" + content + "=="
			},
		},
		{
			Name:   "footnote",
			Inline: []string{"sup"},
			Match: func(_ *ConversionContext, n *html.Node) bool {
				return dom.GetAttributeOr(n, "class", "") == "footnote"
			},
			Render: func(_ *ConversionContext, _ *html.Node, content string) string {
				return "[^" + content + "]"
			},
		},
		{
			Name:   "keepHTML",
			Inline: []string{"sub", "sup", "u", "ins", "small", "big"},
			Raw:    true,
			Match:  always,
			Render: func(_ *ConversionContext, n *html.Node, _ string) string {
				var b strings.Builder
				if err := html.Render(&b, n); err != nil {
					return nodeText(n)
				}
				return b.String()
			},
		},
		{
			Name:  "table",
			Block: []string{"table"},
			Raw:   true,
			Match: func(_ *ConversionContext, n *html.Node) bool {
				return len(tableRows(n)) > 0
			},
			Render: renderTable,
		},
	}
}

func always(*ConversionContext, *html.Node) bool { return true }

func renderMath(c *ConversionContext, n *html.Node, _ string) string {
	m := c.Article.Math[dom.GetAttributeOr(n, "id", "")]
	tex := strings.ReplaceAll(strings.TrimSpace(m.TeX), "\u00a0", "")
	if m.Inline {
		return "$" + strings.ReplaceAll(tex, "\n", " ") + "$"
	}
	return "\n\n$$\n" + tex + "\n$$\n\n"
}

func renderImage(c *ConversionContext, n *html.Node, _ string) string {
	o := c.Options
	src := c.absolute(dom.GetAttributeOr(n, "src", ""))

	if o.DownloadImages {
		original := c.absolute(ResolveOriginalURL(n))
		if original == "" {
			original = src
		}
		name := c.Images.Register(original, ImageFilename(original, o.ImagePath, o.DisallowedChars))
		if rewritesSource(o.ImageStyle) {
			src = localImagePath(name, o.ImageStyle)
		} else {
			src = original
		}
	}

	if !c.IncludeImageLinks || o.ImageStyle == StyleNoImage || src == "" {
		return ""
	}
	if Obsidian(o.ImageStyle) {
		return "![[" + src + "]]"
	}
	alt := cleanAttribute(dom.GetAttributeOr(n, "alt", ""))
	title := titlePart(dom.GetAttributeOr(n, "title", ""))
	if o.ImageRefStyle == RefReferenced {
		return "![" + alt + "][" + c.AddImageRef(src+title) + "]"
	}
	return "![" + alt + "](" + src + title + ")"
}

// localImagePath is how the Markdown refers to a downloaded image.
func localImagePath(name, style string) string {
	switch style {
	case StyleObsidianNoFolder:
		return path.Base(name)
	case StyleObsidian:
		return name
	}
	return encodeURI(name)
}

func renderLink(c *ConversionContext, n *html.Node, content string) string {
	href := c.absolute(dom.GetAttributeOr(n, "href", ""))
	title := titlePart(dom.GetAttributeOr(n, "title", ""))

	lead, text, trail := splitSpace(content)
	switch c.Options.LinkStyle {
	case LinkInlined:
		return lead + "[" + text + "](" + href + title + ")" + trail
	case LinkInlinedCaps:
		return lead + "[" + strings.ToUpper(text) + "](" + href + title + ")" + trail
	case LinkReferenced:
		return lead + "[" + text + "][" + c.AddLinkRef(href+title) + "]" + trail
	}
	return content
}

// splitSpace separates surrounding whitespace so it stays outside brackets.
func splitSpace(s string) (lead, text, trail string) {
	text = strings.TrimSpace(s)
	if text == "" {
		return "", "", ""
	}
	i := strings.Index(s, text)
	return s[:i], text, s[i+len(text):]
}

func cleanAttribute(s string) string {
	return attrNewlines.ReplaceAllString(s, "\n")
}

func titlePart(title string) string {
	title = cleanAttribute(title)
	if title == "" {
		return ""
	}
	return ` "` + strings.ReplaceAll(title, `"`, `\"`) + `"`
}

func fencedBlock(c *ConversionContext, lang, code string) string {
	code = strings.TrimSuffix(code, "\n")
	fence := c.Options.Fence
	if fence == "" {
		fence = "```"
	}
	fence = longerFence(fence, code)
	return "\n\n" + fence + lang + "\n" + code + "\n" + fence + "\n\n"
}

// longerFence grows fence until no line of code could close it early.
func longerFence(fence, code string) string {
	ch := fence[:1]
	longest := 0
	run := 0
	for _, r := range code {
		if string(r) == ch {
			run++
			if run > longest {
				longest = run
			}
			continue
		}
		run = 0
	}
	for len(fence) <= longest {
		fence += ch
	}
	return fence
}

func codeSpan(text string) string {
	delim := "`"
	for strings.Contains(text, delim) {
		delim += "`"
	}
	if strings.HasPrefix(text, "`") || strings.HasSuffix(text, "`") {
		return delim + " " + text + " " + delim
	}
	return delim + text + delim
}

// codeLanguage reads a language hint from a language-X class or from a
// code-lang-X id set during extraction.
func codeLanguage(n *html.Node) string {
	if n == nil {
		return ""
	}
	if m := languageClass.FindStringSubmatch(dom.GetAttributeOr(n, "class", "")); m != nil {
		return m[1]
	}
	if m := codeLangID.FindStringSubmatch(dom.GetAttributeOr(n, "id", "")); m != nil {
		return m[1]
	}
	return ""
}

// firstContentChild returns the first child element, skipping blank text.
func firstContentChild(n *html.Node) *html.Node {
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		switch ch.Type {
		case html.ElementNode:
			return ch
		case html.TextNode:
			if strings.TrimSpace(ch.Data) != "" {
				return nil
			}
		}
	}
	return nil
}

func containsElement(n *html.Node, tag string) bool {
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		if ch.Type == html.ElementNode && (ch.Data == tag || containsElement(ch, tag)) {
			return true
		}
	}
	return false
}

// nodeText is the text content of n with <br> elements read as newlines.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && (n.Data == "br" || n.Data == "br-keep"):
			b.WriteByte('\n')
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return b.String()
}

// tableRows returns the rows that belong to table itself, not to tables
// nested inside its cells.
func tableRows(table *html.Node) []*html.Node {
	var rows []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			if ch.Type != html.ElementNode {
				continue
			}
			switch ch.Data {
			case "tr":
				rows = append(rows, ch)
			case "thead", "tbody", "tfoot":
				walk(ch)
			}
		}
	}
	walk(table)
	return rows
}

func rowCells(row *html.Node) []*html.Node {
	var cells []*html.Node
	for ch := row.FirstChild; ch != nil; ch = ch.NextSibling {
		if ch.Type == html.ElementNode && (ch.Data == "td" || ch.Data == "th") {
			cells = append(cells, ch)
		}
	}
	return cells
}

func renderTable(c *ConversionContext, n *html.Node, _ string) string {
	var header []string
	var body [][]string
	width := 0

	rows := tableRows(n)
	headerAt := -1
	for i, row := range rows {
		if row.Parent != nil && row.Parent.Data == "thead" {
			headerAt = i
			break
		}
	}
	if headerAt < 0 && len(rows) > 0 && allHeaderCells(rows[0]) {
		headerAt = 0
	}

	for i, row := range rows {
		var cells []string
		for _, cell := range rowCells(row) {
			cells = append(cells, tableCell(c.RenderChildren(cell)))
		}
		if len(cells) > width {
			width = len(cells)
		}
		if i == headerAt {
			header = cells
			continue
		}
		body = append(body, cells)
	}

	var lines []string
	if header != nil {
		lines = append(lines, tableLine(header, width))
		sep := make([]string, width)
		for i := range sep {
			sep[i] = "---"
		}
		lines = append(lines, tableLine(sep, width))
	}
	for _, cells := range body {
		lines = append(lines, tableLine(cells, width))
	}
	return "\n\n" + strings.Join(lines, "\n") + "\n\n"
}

func allHeaderCells(row *html.Node) bool {
	cells := rowCells(row)
	for _, cell := range cells {
		if cell.Data != "th" {
			return false
		}
	}
	return len(cells) > 0
}

func tableCell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func tableLine(cells []string, width int) string {
	for len(cells) < width {
		cells = append(cells, "")
	}
	return "| " + strings.Join(cells, " | ") + " |"
}

// encodeURI percent-encodes s except for the characters a URI may contain
// unescaped, so a local path can be used as a link target.
func encodeURI(s string) string {
	const keep = ";,/?:@&=+$-_.!~*'()#"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case 'a' <= ch && ch <= 'z', 'A' <= ch && ch <= 'Z', '0' <= ch && ch <= '9',
			strings.IndexByte(keep, ch) >= 0:
			b.WriteByte(ch)
		default:
			b.WriteString("%")
			b.WriteString(strings.ToUpper(hex2(ch)))
		}
	}
	return b.String()
}

func hex2(b byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[b>>4], digits[b&0x0f]})
}
