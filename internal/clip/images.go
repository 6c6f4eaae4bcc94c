package clip

import (
	"net/url"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/JohannesKaufmann/dom"
	"golang.org/x/net/html"
)

// UnknownExt is appended to image names whose extension cannot be derived
// from the URL. The materializer replaces it once the media type is known.
const UnknownExt = ".idunno"

var (
	lazySrcAttrs    = []string{"data-src", "data-lazy-src", "data-original"}
	lazySrcsetAttrs = []string{"srcset", "data-srcset"}

	// Hosts serving images through a resize proxy, and the path segment
	// carrying the resize parameters.
	resizeProxyHosts   = []string{"medium.com"}
	resizeProxySegment = regexp.MustCompile(`/v\d+/resize:[^/]+/`)

	leadingDigits = regexp.MustCompile(`^\s*(\d+)`)
)

// ResolveOriginalURL picks the highest quality source for an img element:
// a lazy-load attribute, then the widest srcset candidate, then src with any
// resize-proxy segment removed.
func ResolveOriginalURL(img *html.Node) string {
	for _, attr := range lazySrcAttrs {
		if v := strings.TrimSpace(dom.GetAttributeOr(img, attr, "")); v != "" {
			return v
		}
	}
	for _, attr := range lazySrcsetAttrs {
		if v := widestSrcsetURL(dom.GetAttributeOr(img, attr, "")); v != "" {
			return v
		}
	}
	src := strings.TrimSpace(dom.GetAttributeOr(img, "src", ""))
	for _, host := range resizeProxyHosts {
		if strings.Contains(src, host) {
			return resizeProxySegment.ReplaceAllString(src, "/")
		}
	}
	return src
}

type srcsetCandidate struct {
	url   string
	width int
}

// widestSrcsetURL returns the candidate with the largest width descriptor.
// Descriptors that are not numbers count as zero; ties keep document order.
func widestSrcsetURL(srcset string) string {
	var cands []srcsetCandidate
	for _, part := range strings.Split(srcset, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		c := srcsetCandidate{url: fields[0]}
		if len(fields) > 1 {
			if m := leadingDigits.FindStringSubmatch(fields[1]); m != nil {
				c.width, _ = strconv.Atoi(m[1])
			}
		}
		cands = append(cands, c)
	}
	if len(cands) == 0 {
		return ""
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].width > cands[j].width })
	return cands[0].url
}

// ImageFilename derives the local file name for an image source: the last
// path segment without query or fragment, sanitized, with UnknownExt when no
// extension is present, under prefix.
func ImageFilename(src, prefix, disallowed string) string {
	var name string
	if strings.HasPrefix(src, "data:") {
		name = "image." + dataURLSubtype(src)
	} else {
		s := src
		if i := strings.IndexAny(s, "?#"); i >= 0 {
			s = s[:i]
		}
		if i := strings.LastIndexByte(s, '/'); i >= 0 {
			s = s[i+1:]
		}
		if u, err := url.PathUnescape(s); err == nil {
			s = u
		}
		name = strings.Map(func(r rune) rune {
			if strings.ContainsRune(illegalNameChars, r) {
				return '_'
			}
			return r
		}, s)
		name = SanitizeName(name, disallowed, 0)
		if name == "" {
			name = "image"
		}
	}
	if ext := path.Ext(name); ext == "" || ext == name {
		name += UnknownExt
	}
	return prefix + name
}

// dataURLSubtype returns the media subtype of a base64 data URL, e.g. "png".
func dataURLSubtype(src string) string {
	head, _, ok := strings.Cut(src, ";base64,")
	if !ok {
		head, _, _ = strings.Cut(src, ",")
	}
	mediaType := strings.TrimPrefix(head, "data:")
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	_, sub, _ := strings.Cut(mediaType, "/")
	if i := strings.IndexByte(sub, '+'); i >= 0 {
		sub = sub[:i]
	}
	if sub == "" {
		return strings.TrimPrefix(UnknownExt, ".")
	}
	return sub
}

// ImageList is the ordered manifest of image source to local file name.
// Keys and values are both unique.
type ImageList struct {
	keys   []string
	names  map[string]string
	owners map[string]string
	// candidates remembers the name each source was first registered with,
	// so registering it again returns the same file.
	candidates map[string]string
}

func NewImageList() *ImageList {
	return &ImageList{
		names:      make(map[string]string),
		owners:     make(map[string]string),
		candidates: make(map[string]string),
	}
}

// Len returns the number of entries.
func (l *ImageList) Len() int { return len(l.keys) }

// Keys returns the sources in insertion order.
func (l *ImageList) Keys() []string {
	return append([]string(nil), l.keys...)
}

// Get returns the local name registered for src.
func (l *ImageList) Get(src string) (string, bool) {
	v, ok := l.names[src]
	return v, ok
}

// Each calls fn for every entry in insertion order.
func (l *ImageList) Each(fn func(src, name string)) {
	for _, k := range l.keys {
		fn(k, l.names[k])
	}
}

// Register records src under filename, or under a disambiguated variant when
// another source already owns that name, and returns the name used.
func (l *ImageList) Register(src, filename string) string {
	if prev, ok := l.candidates[src]; ok && prev == filename {
		return l.names[src]
	}
	name := uniqueName(filename, func(n string) bool {
		owner, ok := l.owners[n]
		return ok && owner != src
	})
	l.candidates[src] = filename
	l.set(src, name)
	return name
}

// Set records src under name as given. The caller guarantees uniqueness.
func (l *ImageList) Set(src, name string) {
	l.set(src, name)
}

func (l *ImageList) set(src, name string) {
	if old, ok := l.names[src]; ok {
		delete(l.owners, old)
	} else {
		l.keys = append(l.keys, src)
	}
	l.names[src] = name
	l.owners[name] = src
}

// Filter returns a new list with the entries for which keep reports true.
func (l *ImageList) Filter(keep func(src, name string) bool) *ImageList {
	out := NewImageList()
	l.Each(func(src, name string) {
		if keep(src, name) {
			out.set(src, name)
			if c, ok := l.candidates[src]; ok {
				out.candidates[src] = c
			}
		}
	})
	return out
}

// uniqueName inserts a counter before the extension until taken reports the
// name free: img.png, img.1.png, img.2.png.
func uniqueName(filename string, taken func(string) bool) string {
	if !taken(filename) {
		return filename
	}
	parts := strings.Split(filename, ".")
	if len(parts) == 1 {
		parts = append(parts, "")
		for i := 1; ; i++ {
			parts[1] = strconv.Itoa(i)
			if n := strings.Join(parts, "."); !taken(n) {
				return n
			}
		}
	}
	for i := 1; ; i++ {
		if i == 1 {
			last := parts[len(parts)-1]
			parts = append(parts[:len(parts)-1], strconv.Itoa(i), last)
		} else {
			parts[len(parts)-2] = strconv.Itoa(i)
		}
		if n := strings.Join(parts, "."); !taken(n) {
			return n
		}
	}
}
