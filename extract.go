package main

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	readability "codeberg.org/readeck/go-readability"
	"github.com/PuerkitoBio/goquery"
	"github.com/adammathes/markclip/internal/clip"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

var (
	titleSplitRe     = regexp.MustCompile(`\s+[-|\x{2013}\x{2014}]\s+`)
	highlightClassRe = regexp.MustCompile(`highlight-(?:text|source)-([a-z0-9]+)`)
	languageClassRe  = regexp.MustCompile(`language-([a-z0-9]+)`)
)

// extractArticle runs the page through math and code preparation, then
// go-readability, and collects the metadata templates can refer to.
func extractArticle(page []byte, pageURL *url.URL) (*clip.Article, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrExtraction, pageURL, err)
	}

	base := pageURL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if u, err := pageURL.Parse(strings.TrimSpace(href)); err == nil {
			base = u
		}
	}

	a := &clip.Article{BaseURI: base.String()}
	a.Math = prepareDocument(doc.Selection)
	pageTitle := betterTitle(doc)

	prepared, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("%w: render %s: %v", ErrExtraction, pageURL, err)
	}
	article, err := readability.FromReader(strings.NewReader(prepared), base)
	if err != nil {
		return nil, fmt.Errorf("%w: readability: %v", ErrExtraction, err)
	}
	if strings.TrimSpace(article.Content) == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoContent, pageURL)
	}

	a.Content = article.Content
	a.Title = strings.TrimSpace(article.Title)
	if a.Title == "" {
		a.Title = pageTitle
	}
	a.PageTitle = pageTitle
	a.Byline = article.Byline
	a.Excerpt = article.Excerpt
	a.SiteName = article.SiteName

	doc.Find("meta[content]").Each(func(_ int, s *goquery.Selection) {
		key := s.AttrOr("name", "")
		if key == "" {
			key = s.AttrOr("property", "")
		}
		if content := s.AttrOr("content", ""); content != "" {
			a.SetMeta(key, content)
		}
	})
	if kw, ok := a.Meta["keywords"]; ok {
		a.SetKeywords(kw)
	}
	return a, nil
}

// prepareDocument rewrites math and code markup into forms that survive
// readability, which drops scripts and class attributes. Math elements get a
// generated id recorded in the returned map.
func prepareDocument(root *goquery.Selection) map[string]clip.MathInfo {
	math := make(map[string]clip.MathInfo)
	newID := func(tex string, inline bool) string {
		id := uuid.NewString()
		math[id] = clip.MathInfo{TeX: tex, Inline: inline}
		return id
	}

	// MathJax 2 keeps the source in script elements next to its rendering.
	root.Find(".MathJax_Preview, .MathJax, .MathJax_Display, .MathJax_CHTML").Remove()
	root.Find(`script[type^="math/tex"]`).Each(func(_ int, s *goquery.Selection) {
		tex := s.Text()
		inline := !strings.Contains(s.AttrOr("type", ""), "mode=display")
		tag := "span"
		if !inline {
			tag = "div"
		}
		s.ReplaceWithNodes(mathElement(tag, newID(tex, inline), tex))
	})

	// MathJax 3 nodes annotated by the page script with their source.
	root.Find("[markdownload-latex]").Each(func(_ int, s *goquery.Selection) {
		tex := s.AttrOr("markdownload-latex", "")
		inline := s.AttrOr("display", "") != "true"
		tag := "i"
		if !inline {
			tag = "p"
		}
		s.ReplaceWithNodes(mathElement(tag, newID(tex, inline), tex))
	})

	root.Find(".katex-html").Remove()
	root.Find(".katex-mathml").Each(func(_ int, s *goquery.Selection) {
		tex := strings.TrimSpace(s.Find("annotation").First().Text())
		if tex == "" {
			return
		}
		inline := s.ParentsFiltered(".katex-display").Length() == 0
		s.SetAttr("id", newID(tex, inline))
	})

	root.Find(`[class*="highlight-text"], [class*="highlight-source"]`).Each(func(_ int, s *goquery.Selection) {
		m := highlightClassRe.FindStringSubmatch(s.AttrOr("class", ""))
		if m == nil {
			return
		}
		if first := s.Children().First(); goquery.NodeName(first) == "pre" {
			first.SetAttr("id", "code-lang-"+m[1])
		}
	})
	root.Find(`[class*="language-"]`).Each(func(_ int, s *goquery.Selection) {
		if m := languageClassRe.FindStringSubmatch(s.AttrOr("class", "")); m != nil {
			s.SetAttr("id", "code-lang-"+m[1])
		}
	})
	root.Find(".codehilite > pre").Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s.Children().First()) != "code" && !strings.Contains(s.AttrOr("class", ""), "language") {
			s.SetAttr("id", "code-lang-text")
		}
	})
	root.Find("pre br").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithNodes(&html.Node{Type: html.TextNode, Data: "\n"})
	})

	root.Find("h1, h2, h3, h4, h5, h6").RemoveAttr("class")
	return math
}

func mathElement(tag, id, tex string) *html.Node {
	el := &html.Node{Type: html.ElementNode, Data: tag, Attr: []html.Attribute{{Key: "id", Val: id}}}
	el.AppendChild(&html.Node{Type: html.TextNode, Data: tex})
	return el
}

// betterTitle picks the page title from social metadata, then the <title>
// element without its site suffix, then the first <h1>.
func betterTitle(doc *goquery.Document) string {
	for _, sel := range []string{`meta[property="og:title"]`, `meta[name="twitter:title"]`} {
		t := strings.TrimSpace(doc.Find(sel).First().AttrOr("content", ""))
		if n := len([]rune(t)); n >= 5 && n <= 200 {
			return t
		}
	}
	if t := cleanTitle(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if t := strings.Join(strings.Fields(doc.Find("h1").First().Text()), " "); t != "" {
		return t
	}
	return "Untitled"
}

// cleanTitle removes common site name suffixes like "Article - Site Name".
func cleanTitle(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	return strings.TrimSpace(titleSplitRe.Split(title, 2)[0])
}

var selectionPolicy = newSelectionPolicy()

func newSelectionPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowDataURIImages()
	p.AllowAttrs("id").Globally()
	p.AllowAttrs("srcset", "data-src", "data-srcset", "data-original", "data-lazy-src").OnElements("img")
	p.AllowElements("span", "div", "mark", "sup", "sub", "u", "ins", "small", "big", "s", "strike", "figure", "figcaption")
	return p
}

// applySelection replaces the article body with a user selection. The
// fragment gets the same math and code preparation as a full page, then is
// sanitized.
func applySelection(a *clip.Article, fragment string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fmt.Errorf("%w: selection: %v", ErrExtraction, err)
	}
	math := prepareDocument(doc.Selection)
	body, err := doc.Find("body").Html()
	if err != nil {
		return fmt.Errorf("%w: selection: %v", ErrExtraction, err)
	}
	content := selectionPolicy.Sanitize(body)
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: empty selection", ErrNoContent)
	}
	if a.Math == nil {
		a.Math = make(map[string]clip.MathInfo)
	}
	for id, m := range math {
		a.Math[id] = m
	}
	a.Content = content
	return nil
}
