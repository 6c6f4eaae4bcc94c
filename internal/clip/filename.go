package clip

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const illegalNameChars = `/?<>\:*|"`

// SanitizeName makes raw safe to use as a file or folder name. It removes
// reserved characters and every character in disallowed, folds whitespace and
// optionally truncates at a word boundary to at most maxLength characters.
// An empty name is returned as is.
func SanitizeName(raw, disallowed string, maxLength int) string {
	if raw == "" {
		return raw
	}
	name := strings.Map(func(r rune) rune {
		switch {
		case strings.ContainsRune(illegalNameChars, r):
			return -1
		case unicode.IsSpace(r):
			return ' '
		}
		return r
	}, raw)
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(disallowed, r) {
			return -1
		}
		return r
	}, name)
	name = strings.Join(strings.Fields(name), " ")

	if maxLength > 0 && utf8.RuneCountInString(name) > maxLength {
		name = truncateName(name, maxLength)
	}
	return name
}

// truncateName cuts at the last space within limit when that keeps more than
// 70% of it, and hard cuts otherwise.
func truncateName(name string, limit int) string {
	runes := []rune(name)
	cut := limit
	for i := limit; i > 0; i-- {
		if i < len(runes) && runes[i] == ' ' {
			if float64(i) > float64(limit)*0.7 {
				cut = i
			}
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace)
}
