package main

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adammathes/markclip/internal/clip"
	"github.com/sirupsen/logrus"
)

// imageOpener returns the bytes for a manifest entry. The materializer's
// Open serves both blob references and source URLs.
type imageOpener func(ctx context.Context, src string) ([]byte, string, error)

// saveTarget says where one clip goes. folder is the expanded clips folder
// ("" or ending in '/'); title is the formatted file name.
type saveTarget struct {
	root        string
	folder      string
	title       string
	zip         bool
	concurrency int
}

type savedImage struct {
	name string
	data []byte
}

// relPath cleans a slash separated relative path and reports whether it
// stays inside its root.
func relPath(p string) (string, bool) {
	p = path.Clean(strings.ReplaceAll(p, `\`, "/"))
	if p == "." || p == ".." || strings.HasPrefix(p, "../") || path.IsAbs(p) {
		return "", false
	}
	return p, true
}

// saveClip writes the Markdown and its images, either as a folder
// <root>/<folder>/<title>/<title>.md with images beside it, or as a zip
// archive <root>/<folder>/<title>.zip with the same contents. It returns
// the path written. Images that cannot be loaded are skipped with a warning.
func saveClip(ctx context.Context, t saveTarget, res *clip.Result, open imageOpener, log logrus.FieldLogger) (string, error) {
	name := strings.TrimSuffix(t.title, ".md")
	if name == "" {
		name = "Untitled"
	}
	if _, ok := relPath(name); !ok || strings.Contains(name, "/") {
		return "", fmt.Errorf("invalid clip name %q", t.title)
	}
	dir := t.root
	if t.folder != "" {
		folder, ok := relPath(t.folder)
		if !ok {
			return "", fmt.Errorf("clips folder %q escapes the output directory", t.folder)
		}
		dir = filepath.Join(dir, filepath.FromSlash(folder))
	}

	images := loadImages(ctx, res.Images, open, t.concurrency, log)
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if t.zip {
		target := filepath.Join(dir, name+".zip")
		return target, writeZip(target, name, res.Markdown, images)
	}

	dir = filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	mdPath := filepath.Join(dir, name+".md")
	if err := os.WriteFile(mdPath, []byte(res.Markdown), 0644); err != nil {
		return "", fmt.Errorf("writing markdown: %w", err)
	}
	for _, img := range images {
		p := filepath.Join(dir, filepath.FromSlash(img.name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return "", fmt.Errorf("creating %s: %w", filepath.Dir(p), err)
		}
		if err := os.WriteFile(p, img.data, 0644); err != nil {
			return "", fmt.Errorf("writing image %s: %w", img.name, err)
		}
	}
	return mdPath, nil
}

// loadImages opens every manifest entry with bounded concurrency and
// returns the successes in manifest order.
func loadImages(ctx context.Context, list *clip.ImageList, open imageOpener, concurrency int, log logrus.FieldLogger) []savedImage {
	if list == nil || list.Len() == 0 {
		return nil
	}
	if concurrency <= 0 {
		concurrency = 5
	}
	keys := list.Keys()
	results := make([]*savedImage, len(keys))
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	for i, src := range keys {
		name, _ := list.Get(src)
		rel, ok := relPath(name)
		if !ok {
			log.WithField("file", name).Warn("skipping image outside the clip folder")
			continue
		}
		wg.Add(1)
		go func(i int, src, rel string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			data, _, err := open(ctx, src)
			if err != nil {
				log.WithFields(logrus.Fields{"src": shortURL(src), "file": rel, "err": err}).Warn("image not saved")
				return
			}
			results[i] = &savedImage{name: rel, data: data}
		}(i, src, rel)
	}
	wg.Wait()

	var out []savedImage
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func writeZip(target, name, markdown string, images []savedImage) (err error) {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(target), err)
	}
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating zip: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing zip: %w", cerr)
		}
	}()

	zw := zip.NewWriter(f)
	add := func(entry string, data []byte) error {
		w, err := zw.Create(entry)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}
	if err := add(name+".md", []byte(markdown)); err != nil {
		return fmt.Errorf("writing zip: %w", err)
	}
	for _, img := range images {
		if err := add(img.name, img.data); err != nil {
			return fmt.Errorf("writing zip entry %s: %w", img.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("writing zip: %w", err)
	}
	return nil
}
