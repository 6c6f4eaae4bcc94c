package clip

import (
	"strings"
	"testing"
	"time"
)

var testNow = time.Date(2024, time.March, 5, 14, 7, 9, 0, time.UTC)

func testArticle() *Article {
	a := &Article{
		Title:     "Hello World",
		PageTitle: "Hello World | Example",
		BaseURI:   "https://example.com:8443/blog/post?x=1#top",
		Byline:    "Jane Doe",
		Excerpt:   "A short summary",
		SiteName:  "Example",
		Keywords:  []string{"go", "markdown", "clip"},
	}
	a.SetMeta("og:title", "OG Title")
	a.SetMeta("author", "Meta Author")
	return a
}

func TestExpand_Fields(t *testing.T) {
	a := testArticle()
	tests := []struct {
		tmpl string
		want string
	}{
		{"{title}", "Hello World"},
		{"{pageTitle}", "Hello World | Example"},
		{"{byline} / {siteName}", "Jane Doe / Example"},
		{"{og:title}", "OG Title"},
		{"{author}", "Meta Author"},
		{"{host}", "example.com:8443"},
		{"{hostname}", "example.com"},
		{"{origin}", "https://example.com:8443"},
		{"{pathname}", "/blog/post"},
		{"{port}", "8443"},
		{"{protocol}", "https:"},
		{"{search}", "?x=1"},
		{"{hash}", "#top"},
		{"{content}", ""},
		{"{nope}", ""},
		{"a {nope:upper} b", "a  b"},
	}
	for _, tt := range tests {
		if got := Expand(tt.tmpl, a, "", testNow); got != tt.want {
			t.Errorf("Expand(%q) = %q, want %q", tt.tmpl, got, tt.want)
		}
	}
}

func TestExpand_CaseTransforms(t *testing.T) {
	a := &Article{Title: "My Great  Post"}
	tests := []struct {
		mod  string
		want string
	}{
		{"lower", "my great  post"},
		{"upper", "MY GREAT  POST"},
		{"kebab", "my-great--post"},
		{"mixed-kebab", "My-Great--Post"},
		{"snake", "my_great__post"},
		{"mixed_snake", "My_Great__Post"},
		{"obsidian-cal", "My-Great-Post"},
		{"camel", "myGreatPost"},
		{"pascal", "MyGreatPost"},
	}
	for _, tt := range tests {
		got := Expand("{title:"+tt.mod+"}", a, "", testNow)
		if got != tt.want {
			t.Errorf("{title:%s} = %q, want %q", tt.mod, got, tt.want)
		}
	}
}

func TestExpand_CamelSingleSpaces(t *testing.T) {
	a := &Article{Title: "hello big world"}
	if got := Expand("{title:camel}", a, "", testNow); got != "helloBigWorld" {
		t.Errorf("camel = %q", got)
	}
	if got := Expand("{title:pascal}", a, "", testNow); got != "HelloBigWorld" {
		t.Errorf("pascal = %q", got)
	}
}

func TestExpand_Dates(t *testing.T) {
	a := testArticle()
	tests := []struct {
		tmpl string
		want string
	}{
		{"{date}", "2024-03-05"},
		{"{datetime}", "2024-03-05 14:07:09"},
		{"{timestamp}", "1709647629000"},
		{"{date:YYYY-MM-DD}", "2024-03-05"},
		{"{date:YYYY-MM-DDTHH:mm:ss}", "2024-03-05T14:07:09"},
		{"{date:D MMMM YY}", "5 March 24"},
		{"{date:ddd, MMM Do}", "Tue, Mar 5th"},
		{"{date:h:mm A}", "2:07 PM"},
		{"{date:[Week] W, Q}", "Week 10, 1"},
		{"{date:Z}", "+00:00"},
		{"{date:[unclosed}", "[unclosed"},
	}
	for _, tt := range tests {
		if got := Expand(tt.tmpl, a, "", testNow); got != tt.want {
			t.Errorf("Expand(%q) = %q, want %q", tt.tmpl, got, tt.want)
		}
	}
}

func TestExpand_DateZones(t *testing.T) {
	now := time.Date(2024, 3, 5, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))
	got := Expand("{date} {datetime} | {date:YYYY-MM-DD HH:mm Z}", testArticle(), "", now)
	want := "2024-03-06 2024-03-06 04:30:00 | 2024-03-05 23:30 -05:00"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExpandMatter_StripsOnlyDisallowed(t *testing.T) {
	a := &Article{PageTitle: "C# [draft]: notes", BaseURI: "https://example.com/a?b=1"}
	got := ExpandMatter("# {pageTitle}\nsource: {baseURI}", a, "[]#^", testNow)
	want := "# C draft: notes\nsource: https://example.com/a?b=1"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExpand_Keywords(t *testing.T) {
	a := testArticle()
	tests := []struct {
		tmpl string
		want string
	}{
		{"{keywords}", "gomarkdownclip"},
		{"{keywords:, }", "go, markdown, clip"},
		{`{keywords:\n- }`, "go\n- markdown\n- clip"},
		{`{keywords:\q}`, `go\qmarkdown\qclip`},
	}
	for _, tt := range tests {
		if got := Expand(tt.tmpl, a, "", testNow); got != tt.want {
			t.Errorf("Expand(%q) = %q, want %q", tt.tmpl, got, tt.want)
		}
	}
}

func TestExpand_SinglePass(t *testing.T) {
	a := &Article{Title: "{byline} and {title}", Byline: "should not appear"}
	got := Expand("{title}", a, "", testNow)
	if got != "{byline} and {title}" {
		t.Errorf("values were rescanned: %q", got)
	}
}

func TestExpand_Disallowed(t *testing.T) {
	a := &Article{Title: "Notes: [draft] #3/4"}
	got := Expand("{title}", a, "[]#^/", testNow)
	if got != "Notes draft 34" {
		t.Errorf("got %q", got)
	}
	// A template without tokens is returned untouched.
	if got := Expand("static/folder", a, "[]#^/", testNow); got != "static/folder" {
		t.Errorf("literal text changed: %q", got)
	}
}

// Values free of braces and disallowed characters survive a round trip.
func TestExpand_RoundTrip(t *testing.T) {
	for _, v := range []string{"plain", "with spaces", "ünïcödé", "a-b_c.d"} {
		a := &Article{Title: v}
		if got := Expand("{title}", a, "[]#^", testNow); got != v {
			t.Errorf("round trip %q -> %q", v, got)
		}
	}
}

func TestFormatDate_Tokens(t *testing.T) {
	ts := time.Date(2021, time.January, 2, 0, 5, 6, 789_000_000, time.UTC)
	got, err := formatDate(ts, "YYYY|YY|MMMM|MMM|MM|M|DDDD|DDD|DD|D|dddd|ddd|dd|d|HH|H|hh|h|mm|m|ss|s|SSS|A|a")
	if err != nil {
		t.Fatal(err)
	}
	want := "2021|21|January|Jan|01|1|002|2|02|2|Saturday|Sat|Sa|6|00|0|12|12|05|5|06|6|789|AM|am"
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}

func TestOrdinal(t *testing.T) {
	for n, want := range map[int]string{1: "1st", 2: "2nd", 3: "3rd", 4: "4th", 11: "11th", 12: "12th", 13: "13th", 21: "21st", 22: "22nd", 101: "101st", 111: "111th"} {
		if got := ordinal(n); got != want {
			t.Errorf("ordinal(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestArticleFields_Precedence(t *testing.T) {
	a := &Article{Title: "Real", BaseURI: "https://example.com/"}
	a.SetMeta("title", "From meta")
	a.SetMeta("host", "meta-host")
	a.SetMeta("description", "first")
	a.SetMeta("description", "second")
	f := a.Fields()
	if f["title"] != "Real" {
		t.Errorf("title = %q", f["title"])
	}
	if f["host"] != "example.com" {
		t.Errorf("host = %q", f["host"])
	}
	if f["description"] != "first" {
		t.Errorf("description = %q, want first writer", f["description"])
	}
	if _, ok := f["content"]; ok {
		t.Error("content must not be a template field")
	}
}

func TestSetKeywords(t *testing.T) {
	a := &Article{}
	a.SetKeywords(" go , , markdown,clip ")
	if strings.Join(a.Keywords, "|") != "go|markdown|clip" {
		t.Errorf("keywords = %q", a.Keywords)
	}
}
