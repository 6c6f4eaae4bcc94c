package main

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adammathes/markclip/internal/clip"
)

func fakeOpener(files map[string]string) imageOpener {
	return func(_ context.Context, src string) ([]byte, string, error) {
		data, ok := files[src]
		if !ok {
			return nil, "", errors.New("gone")
		}
		return []byte(data), "image/png", nil
	}
}

func testResult(md string, pairs ...string) *clip.Result {
	list := clip.NewImageList()
	for i := 0; i+1 < len(pairs); i += 2 {
		list.Set(pairs[i], pairs[i+1])
	}
	return &clip.Result{Markdown: md, Images: list}
}

func TestRelPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"images/a.png", "images/a.png", true},
		{"./images//a.png", "images/a.png", true},
		{`images\win.png`, "images/win.png", true},
		{"a/../b.png", "b.png", true},
		{"../escape.png", "", false},
		{"images/../../escape.png", "", false},
		{"/etc/passwd", "", false},
		{"..", "", false},
		{".", "", false},
	}
	for _, tt := range tests {
		got, ok := relPath(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("relPath(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSaveClip_Folder(t *testing.T) {
	dir := t.TempDir()
	res := testResult("![a](images/a.png) ![b](images/sub/b.png)",
		"blob:1", "images/a.png",
		"blob:2", "images/sub/b.png",
		"blob:3", "images/missing.png",
		"blob:4", "../outside.png",
	)
	open := fakeOpener(map[string]string{"blob:1": "AAA", "blob:2": "BBB", "blob:4": "EVIL"})

	path, err := saveClip(context.Background(), saveTarget{root: dir, folder: "clips/2024/", title: "My Post"}, res, open, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	clipDir := filepath.Join(dir, "clips", "2024", "My Post")
	if path != filepath.Join(clipDir, "My Post.md") {
		t.Errorf("path = %s", path)
	}
	for name, want := range map[string]string{
		"My Post.md":                            res.Markdown,
		filepath.Join("images", "a.png"):        "AAA",
		filepath.Join("images", "sub", "b.png"): "BBB",
	} {
		got, err := os.ReadFile(filepath.Join(clipDir, name))
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
	if _, err := os.Stat(filepath.Join(clipDir, "images", "missing.png")); !os.IsNotExist(err) {
		t.Error("failed image should be skipped")
	}
	if _, err := os.Stat(filepath.Join(dir, "clips", "2024", "outside.png")); !os.IsNotExist(err) {
		t.Error("image outside the clip folder must not be written")
	}
}

func TestSaveClip_Zip(t *testing.T) {
	dir := t.TempDir()
	res := testResult("# Zipped", "blob:1", "img/x.png")
	path, err := saveClip(context.Background(), saveTarget{root: dir, title: "Zipped.md", zip: true}, res,
		fakeOpener(map[string]string{"blob:1": "XYZ"}), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, "Zipped.zip") {
		t.Errorf("path = %s", path)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	if strings.Join(names, ",") != "Zipped.md,img/x.png" {
		t.Errorf("entries = %v", names)
	}
}

func TestSaveClip_Rejects(t *testing.T) {
	dir := t.TempDir()
	res := testResult("x")
	if _, err := saveClip(context.Background(), saveTarget{root: dir, folder: "../up/", title: "T"}, res, fakeOpener(nil), quietLogger()); err == nil {
		t.Error("expected error for a folder outside the output directory")
	}
	if _, err := saveClip(context.Background(), saveTarget{root: dir, title: ".."}, res, fakeOpener(nil), quietLogger()); err == nil {
		t.Error("expected error for a name that escapes")
	}
}

func TestSaveClip_EmptyTitle(t *testing.T) {
	dir := t.TempDir()
	path, err := saveClip(context.Background(), saveTarget{root: dir}, testResult("x"), fakeOpener(nil), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "Untitled.md" {
		t.Errorf("path = %s", path)
	}
}

func TestSaveClip_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := testResult("x", "blob:1", "a.png")
	if _, err := saveClip(ctx, saveTarget{root: t.TempDir(), title: "T"}, res, fakeOpener(nil), quietLogger()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
