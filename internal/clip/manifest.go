package clip

import (
	"path"
	"regexp"
	"strings"
)

var (
	figureDefinition = regexp.MustCompile(`(?m)^\[fig\d+\]:\s*(\S+)`)
	wikiEmbed        = regexp.MustCompile(`!\[\[([^\]]+)\]\]`)
)

// imageTargets lists the image link targets written in md.
func imageTargets(md string) []string {
	out := inlineTargets(md)
	for _, re := range []*regexp.Regexp{figureDefinition, wikiEmbed} {
		for _, m := range re.FindAllStringSubmatch(md, -1) {
			out = append(out, strings.TrimSpace(m[1]))
		}
	}
	return out
}

// inlineTargets returns the destinations of ![alt](dest "title") images.
// A destination may contain balanced parentheses and backslash escapes, or be
// wrapped in <...>.
func inlineTargets(md string) []string {
	var out []string
	for i := 0; i < len(md); {
		j := strings.Index(md[i:], "![")
		if j < 0 {
			break
		}
		alt := i + j + 2
		k := strings.IndexByte(md[alt:], ']')
		if k < 0 {
			break
		}
		open := alt + k + 1
		if open >= len(md) || md[open] != '(' {
			i = alt
			continue
		}
		dest, end := linkDestination(md, open+1)
		if dest != "" {
			out = append(out, dest)
		}
		i = end
	}
	return out
}

// linkDestination reads a link destination starting at md[i] and returns it
// together with the offset where scanning should resume.
func linkDestination(md string, i int) (string, int) {
	for i < len(md) && md[i] == ' ' {
		i++
	}
	if i < len(md) && md[i] == '<' {
		end := strings.IndexAny(md[i+1:], ">\n")
		if end < 0 || md[i+1+end] != '>' {
			return "", i + 1
		}
		return md[i+1 : i+1+end], i + end + 2
	}
	start, depth := i, 0
	for ; i < len(md); i++ {
		switch md[i] {
		case '\\':
			i++
		case '(':
			depth++
		case ')':
			if depth == 0 {
				return md[start:i], i + 1
			}
			depth--
		case ' ', '\t', '\n':
			if depth == 0 {
				return md[start:i], i
			}
			return "", i
		}
	}
	return "", i
}

func remoteTarget(t string) bool {
	return strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://") || strings.HasPrefix(t, "data:")
}

// ReferencedImages returns the entries of list that md actually links to.
// Local names match exactly or as a suffix of a link target after separator
// normalization; styles that keep remote URLs match on the source instead.
func ReferencedImages(md string, list *ImageList, eff Effective) *ImageList {
	targets := imageTargets(md)
	if !rewritesSource(eff.ImageStyle) {
		set := make(map[string]bool, len(targets))
		for _, t := range targets {
			set[t] = true
		}
		return list.Filter(func(src, _ string) bool { return set[src] })
	}

	var local []string
	for _, t := range targets {
		if !remoteTarget(t) {
			local = append(local, t)
		}
	}
	return list.Filter(func(_, name string) bool {
		norm := strings.TrimPrefix(strings.ReplaceAll(name, `\`, "/"), "/")
		forms := []string{norm, encodeURI(norm)}
		if eff.ImageStyle == StyleObsidianNoFolder {
			forms = append(forms, path.Base(norm))
		}
		for _, t := range local {
			for _, f := range forms {
				if t == f || strings.HasSuffix(t, "/"+f) {
					return true
				}
			}
		}
		return false
	})
}
