package clip

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/adammathes/markclip/internal/imgopt"
	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
	"github.com/vincent-petithory/dataurl"
)

// Fetcher downloads a remote image and reports its declared media type.
type Fetcher interface {
	Fetch(ctx context.Context, src string) (data []byte, mediaType string, err error)
}

// Materializer downloads the images of a manifest ahead of saving, fixes up
// names whose extension was unknown and keeps the bytes in a BlobStore.
type Materializer struct {
	fetcher Fetcher
	store   *BlobStore
	log     logrus.FieldLogger
}

func NewMaterializer(f Fetcher, store *BlobStore, log logrus.FieldLogger) *Materializer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Materializer{fetcher: f, store: store, log: log}
}

type fetchedImage struct {
	data      []byte
	mediaType string
	changed   bool
	err       error
}

// Materialize fetches every image in list concurrently and returns the
// rewritten Markdown with a manifest keyed by blob references. Images that
// fail to download are logged and left out. The base64 style inlines the
// image into the Markdown instead of keeping it in the manifest.
func (m *Materializer) Materialize(ctx context.Context, list *ImageList, md string, eff Effective) (string, *ImageList, error) {
	keys := list.Keys()
	results := make([]fetchedImage, len(keys))

	limit := eff.ImageConcurrency
	if limit < 1 {
		limit = 1
	}
	var wg sync.WaitGroup
	sem := make(chan struct{}, limit)
	for i, src := range keys {
		wg.Add(1)
		go func(i int, src string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i].err = ctx.Err()
				return
			}
			defer func() { <-sem }()
			results[i] = m.fetch(ctx, src, eff)
		}(i, src)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return md, nil, err
	}

	// Names that stay the same are reserved before any renamed entry picks
	// a new one.
	names := make([]string, len(keys))
	taken := make(map[string]bool)
	for i, src := range keys {
		if results[i].err != nil {
			continue
		}
		old, _ := list.Get(src)
		names[i] = m.correctedName(old, results[i])
		if names[i] == old {
			taken[old] = true
		}
	}

	out := NewImageList()
	for i, src := range keys {
		r := results[i]
		old, _ := list.Get(src)
		if r.err != nil {
			m.log.WithFields(logrus.Fields{"src": src, "file": old, "err": r.err}).Warn("image download failed")
			continue
		}
		if eff.ImageStyle == StyleBase64 {
			md = strings.ReplaceAll(md, src, dataURI(r.data, r.mediaType))
			continue
		}
		name := names[i]
		if name != old {
			name = uniqueName(name, func(n string) bool { return taken[n] })
			taken[name] = true
			md = renameImage(md, old, name, eff.ImageStyle)
		}
		out.Set(m.store.Put(r.data, r.mediaType), name)
	}
	return md, out, nil
}

func (m *Materializer) fetch(ctx context.Context, src string, eff Effective) fetchedImage {
	data, mediaType, err := m.load(ctx, src)
	if err != nil {
		return fetchedImage{err: err}
	}
	img := fetchedImage{data: data, mediaType: mediaType}
	if eff.ImageMaxWidth <= 0 && !eff.ImageGrayscale {
		return img
	}
	res, err := imgopt.Optimize(data, mediaType, imgopt.Options{
		MaxWidth:  eff.ImageMaxWidth,
		Quality:   eff.ImageQuality,
		Grayscale: eff.ImageGrayscale,
	})
	switch {
	case errors.Is(err, imgopt.ErrUnsupported):
	case err != nil:
		m.log.WithFields(logrus.Fields{"src": src, "err": err}).Debug("image left unoptimized")
	case res.Changed:
		m.log.WithFields(logrus.Fields{
			"src":  src,
			"from": imgopt.HumanSize(int64(len(data))),
			"to":   imgopt.HumanSize(int64(len(res.Data))),
		}).Debug("image downscaled")
		img.data, img.mediaType, img.changed = res.Data, res.MediaType, true
	}
	return img
}

// load returns the bytes behind src. Data URLs are decoded in place.
func (m *Materializer) load(ctx context.Context, src string) ([]byte, string, error) {
	if strings.HasPrefix(src, "data:") {
		du, err := dataurl.DecodeString(src)
		if err != nil {
			return nil, "", fmt.Errorf("decode data url: %w", err)
		}
		return du.Data, du.MediaType.ContentType(), nil
	}
	if m.fetcher == nil {
		return nil, "", errors.New("no image fetcher configured")
	}
	return m.fetcher.Fetch(ctx, src)
}

// Open returns the bytes for a manifest key: a blob reference issued by
// Materialize or a source URL that still has to be fetched.
func (m *Materializer) Open(ctx context.Context, src string) ([]byte, string, error) {
	if IsBlobRef(src) {
		if m.store == nil {
			return nil, "", fmt.Errorf("%s: no blob store", src)
		}
		b, ok := m.store.Get(src)
		if !ok {
			return nil, "", fmt.Errorf("%s: blob expired", src)
		}
		return b.Data, b.MediaType, nil
	}
	return m.load(ctx, src)
}

// correctedName swaps the placeholder extension, or the extension of a
// re-encoded image, for the one matching its media type.
func (m *Materializer) correctedName(name string, img fetchedImage) string {
	if !strings.HasSuffix(name, UnknownExt) && !img.changed {
		return name
	}
	ext := extensionFor(img.mediaType, img.data)
	if ext == "" || sameExt(path.Ext(name), ext) {
		return name
	}
	return strings.TrimSuffix(name, path.Ext(name)) + ext
}

func sameExt(a, b string) bool {
	norm := func(e string) string {
		e = strings.ToLower(e)
		if e == ".jpeg" {
			return ".jpg"
		}
		return e
	}
	return norm(a) == norm(b)
}

// extensionFor maps a media type to a file extension, sniffing the content
// when the declared type is unknown.
func extensionFor(mediaType string, data []byte) string {
	if mediaType != "" {
		if mt := mimetype.Lookup(mediaType); mt != nil && mt.Extension() != "" {
			return mt.Extension()
		}
	}
	if len(data) > 0 {
		return mimetype.Detect(data).Extension()
	}
	return ""
}

func dataURI(data []byte, mediaType string) string {
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = mimetype.Detect(data).String()
	}
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	return dataurl.New(data, mediaType).String()
}

// renameImage rewrites the links to an image whose file name changed.
func renameImage(md, oldName, newName, style string) string {
	switch style {
	case StyleObsidian:
		return strings.ReplaceAll(md, "[["+oldName+"]]", "[["+newName+"]]")
	case StyleObsidianNoFolder:
		return strings.ReplaceAll(md, "[["+path.Base(oldName)+"]]", "[["+path.Base(newName)+"]]")
	}
	oldRef, newRef := encodeURI(oldName), encodeURI(newName)
	md = strings.ReplaceAll(md, "]("+oldRef, "]("+newRef)
	return strings.ReplaceAll(md, "]: "+oldRef, "]: "+newRef)
}
