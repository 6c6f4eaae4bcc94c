// Package clip turns a simplified article DOM into Markdown plus a manifest
// of images to download alongside it.
package clip

import (
	"net/url"
	"strings"
)

// MathInfo is a formula recorded during extraction, keyed by element id.
type MathInfo struct {
	TeX    string
	Inline bool
}

// Article is the extracted page handed to the converter.
type Article struct {
	Content   string
	Title     string
	PageTitle string
	BaseURI   string
	Byline    string
	Excerpt   string
	SiteName  string
	Keywords  []string
	Meta      map[string]string
	Math      map[string]MathInfo
}

// SetMeta records a metadata value unless the key is already present.
func (a *Article) SetMeta(key, value string) {
	if key == "" {
		return
	}
	if a.Meta == nil {
		a.Meta = make(map[string]string)
	}
	if _, ok := a.Meta[key]; ok {
		return
	}
	a.Meta[key] = value
}

// Fields returns the values visible to templates. Fixed fields come first,
// then the parts of BaseURI, then metadata; earlier sources win.
func (a *Article) Fields() map[string]string {
	f := map[string]string{
		"title":     a.Title,
		"pageTitle": a.PageTitle,
		"baseURI":   a.BaseURI,
		"byline":    a.Byline,
		"excerpt":   a.Excerpt,
		"siteName":  a.SiteName,
	}
	set := func(k, v string) {
		if _, ok := f[k]; !ok {
			f[k] = v
		}
	}
	if u, err := url.Parse(a.BaseURI); err == nil && u.Scheme != "" {
		if u.Fragment != "" {
			set("hash", "#"+u.Fragment)
		} else {
			set("hash", "")
		}
		set("host", u.Host)
		set("origin", u.Scheme+"://"+u.Host)
		set("hostname", u.Hostname())
		set("pathname", u.EscapedPath())
		set("port", u.Port())
		set("protocol", u.Scheme+":")
		if u.RawQuery != "" {
			set("search", "?"+u.RawQuery)
		} else {
			set("search", "")
		}
	}
	for k, v := range a.Meta {
		if k == "keywords" || k == "content" {
			continue
		}
		set(k, v)
	}
	return f
}

// splitKeywords splits a comma separated keyword list, dropping blanks.
func splitKeywords(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// SetKeywords replaces the keyword list with the entries of a comma separated string.
func (a *Article) SetKeywords(s string) {
	a.Keywords = splitKeywords(s)
}
