// Package imgopt downscales raster images fetched for a clip.
package imgopt

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrUnsupported is returned for formats that are passed through untouched.
var ErrUnsupported = errors.New("unsupported image format")

// Options controls Optimize. A zero MaxWidth disables resizing.
type Options struct {
	MaxWidth  int
	Quality   int
	Grayscale bool
}

// Result is the optimized image. Changed is false when Data is the input.
type Result struct {
	Data      []byte
	MediaType string
	Changed   bool
	Width     int
	Height    int
}

// HumanSize formats a byte count with a binary unit suffix.
func HumanSize(n int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	f := float64(n)
	for _, u := range units {
		if math.Abs(f) < 1024 {
			return fmt.Sprintf("%.1f%s", f, u)
		}
		f /= 1024
	}
	return fmt.Sprintf("%.1f%s", f, units[len(units)-1])
}

// resize downscales an image using BiLinear resampling.
func resize(src image.Image, dstW, dstH int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}

func toGrayscale(src image.Image) *image.Gray {
	b := src.Bounds()
	gray := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(src.At(x, y)))
		}
	}
	return gray
}

// flattenAlpha composites src onto a white background.
func flattenAlpha(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(b)
	draw.Draw(dst, b, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, b, src, b.Min, draw.Over)
	return dst
}

func isAnimatedGIF(data []byte) bool {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return false
	}
	return len(g.Image) > 1
}

// passThrough reports formats that are never re-encoded.
func passThrough(mediaType string, data []byte) bool {
	switch {
	case strings.Contains(mediaType, "svg"), strings.Contains(mediaType, "avif"):
		return true
	case strings.Contains(mediaType, "gif"):
		return isAnimatedGIF(data)
	}
	return false
}

// Optimize downscales data to opts.MaxWidth (never upscaling) and optionally
// converts it to grayscale. PNG and GIF input is written as PNG so
// transparency survives; everything else becomes JPEG. When nothing needs to
// change the input is returned as is.
func Optimize(data []byte, mediaType string, opts Options) (Result, error) {
	unchanged := Result{Data: data, MediaType: mediaType}
	if passThrough(mediaType, data) {
		return unchanged, ErrUnsupported
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return unchanged, fmt.Errorf("decode %s: %w", mediaType, err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	unchanged.Width, unchanged.Height = w, h
	if (opts.MaxWidth <= 0 || w <= opts.MaxWidth) && !opts.Grayscale {
		return unchanged, nil
	}

	if opts.MaxWidth > 0 && w > opts.MaxWidth {
		ratio := float64(opts.MaxWidth) / float64(w)
		w = opts.MaxWidth
		h = int(math.Round(float64(h) * ratio))
		if h < 1 {
			h = 1
		}
		img = resize(img, w, h)
	}

	keepAlpha := format == "png" || format == "gif"
	if !keepAlpha {
		img = flattenAlpha(img)
	}
	if opts.Grayscale {
		img = toGrayscale(img)
	}

	var buf bytes.Buffer
	out := Result{Changed: true, Width: w, Height: h}
	if keepAlpha {
		err = png.Encode(&buf, img)
		out.MediaType = "image/png"
	} else {
		quality := opts.Quality
		if quality <= 0 {
			quality = 80
		}
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
		out.MediaType = "image/jpeg"
	}
	if err != nil {
		return unchanged, fmt.Errorf("encode %s: %w", out.MediaType, err)
	}
	out.Data = buf.Bytes()
	return out, nil
}
