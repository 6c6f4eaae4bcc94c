package clip

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

var (
	templateToken = regexp.MustCompile(`\{([^{}]*)\}`)
	dashRun       = regexp.MustCompile(`-{2,}`)
)

// Expand substitutes the {...} tokens of template with values taken from the
// article and the clock. When disallowed is non-empty every field value is
// sanitized with it before substitution. Unknown tokens are removed. Values
// are never rescanned, so braces inside them survive.
func Expand(template string, a *Article, disallowed string, now time.Time) string {
	return expand(template, a, func(v string) string { return fieldValue(v, disallowed) }, now)
}

// ExpandMatter expands a front or back matter template. Field values only
// lose the disallowed characters; URLs and punctuation are kept.
func ExpandMatter(template string, a *Article, disallowed string, now time.Time) string {
	return expand(template, a, func(v string) string { return stripChars(v, disallowed) }, now)
}

func expand(template string, a *Article, clean func(string) string, now time.Time) string {
	if template == "" {
		return ""
	}
	fields := a.Fields()
	return templateToken.ReplaceAllStringFunc(template, func(tok string) string {
		return expandToken(tok[1:len(tok)-1], a, fields, clean, now)
	})
}

func expandToken(inner string, a *Article, fields map[string]string, clean func(string) string, now time.Time) string {
	if v, ok := fields[inner]; ok {
		return clean(v)
	}
	if i := strings.LastIndexByte(inner, ':'); i > 0 {
		if v, ok := fields[inner[:i]]; ok {
			if fn, ok := caseTransforms[inner[i+1:]]; ok {
				return fn(clean(v))
			}
		}
	}

	switch inner {
	case "date":
		return now.UTC().Format("2006-01-02")
	case "datetime":
		return now.UTC().Format("2006-01-02 15:04:05")
	case "timestamp":
		return strconv.FormatInt(now.UnixMilli(), 10)
	case "keywords":
		return strings.Join(a.Keywords, "")
	}
	if format, ok := strings.CutPrefix(inner, "date:"); ok {
		s, err := formatDate(now, format)
		if err != nil {
			return format
		}
		return s
	}
	if sep, ok := strings.CutPrefix(inner, "keywords:"); ok {
		return strings.Join(a.Keywords, decodeSeparator(sep))
	}
	return ""
}

func fieldValue(v, disallowed string) string {
	if disallowed == "" {
		return v
	}
	return SanitizeName(v, disallowed, 0)
}

func stripChars(v, chars string) string {
	if chars == "" {
		return v
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(chars, r) {
			return -1
		}
		return r
	}, v)
}

// decodeSeparator reads sep as the body of a JSON string so escapes such as
// \n work. Malformed input is used literally.
func decodeSeparator(sep string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+sep+`"`), &out); err != nil {
		return sep
	}
	return out
}

var caseTransforms = map[string]func(string) string{
	"lower": strings.ToLower,
	"upper": strings.ToUpper,
	"kebab": func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, " ", "-"))
	},
	"mixed-kebab": func(s string) string {
		return strings.ReplaceAll(s, " ", "-")
	},
	"snake": func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, " ", "_"))
	},
	"mixed_snake": func(s string) string {
		return strings.ReplaceAll(s, " ", "_")
	},
	"obsidian-cal": func(s string) string {
		return dashRun.ReplaceAllString(strings.ReplaceAll(s, " ", "-"), "-")
	},
	"camel": func(s string) string {
		return withFirst(joinWords(s), unicode.ToLower)
	},
	"pascal": func(s string) string {
		return withFirst(joinWords(s), unicode.ToUpper)
	},
}

// joinWords drops each space and upper-cases the character after it. A space
// followed by another space drops both.
func joinWords(s string) string {
	r := []rune(s)
	var b strings.Builder
	for i := 0; i < len(r); i++ {
		if r[i] == ' ' && i+1 < len(r) && r[i+1] != '\n' {
			if !unicode.IsSpace(r[i+1]) {
				b.WriteRune(unicode.ToUpper(r[i+1]))
			}
			i++
			continue
		}
		b.WriteRune(r[i])
	}
	return b.String()
}

func withFirst(s string, fn func(rune) rune) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(fn(r)) + s[size:]
}
