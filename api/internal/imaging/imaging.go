// Package imaging normalizes uploads before they are sent to a model:
// decode, bound the size, downscale, re-encode as JPEG.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	_ "image/gif"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxSide   = 768
	DefaultMaxPixels = 50_000_000
	jpegQuality      = 90
)

var (
	ErrEmpty             = errors.New("image is empty")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrTooLarge          = errors.New("image dimensions too large")
)

type Options struct {
	// MaxSide bounds the longer side of the output. 0 keeps the original size.
	MaxSide int
	// MaxPixels rejects images whose header declares more pixels.
	MaxPixels int
}

func DefaultOptions() Options {
	return Options{MaxSide: DefaultMaxSide, MaxPixels: DefaultMaxPixels}
}

// Prepared is the normalized image.
type Prepared struct {
	Data   []byte
	MIME   string
	Format string // source format reported by the decoder
	Width  int
	Height int
}

// Prepare decodes jpeg/png/gif/webp, fits it into MaxSide×MaxSide keeping the
// aspect ratio and returns a JPEG.
func Prepare(data []byte, opt Options) (Prepared, error) {
	if len(data) == 0 {
		return Prepared{}, ErrEmpty
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Prepared{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if opt.MaxPixels > 0 && cfg.Width*cfg.Height > opt.MaxPixels {
		return Prepared{}, fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}

	img, err := decode(data)
	if err != nil {
		return Prepared{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	b := img.Bounds()
	w, h := Fit(b.Dx(), b.Dy(), opt.MaxSide)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// JPEG has no alpha
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return Prepared{}, err
	}
	return Prepared{Data: out.Bytes(), MIME: "image/jpeg", Format: format, Width: w, Height: h}, nil
}

// Fit scales w×h down so the longer side is at most maxSide. Never upscales.
func Fit(w, h, maxSide int) (int, int) {
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return w, h
	}
	if w >= h {
		nh := (h*maxSide + w/2) / w
		if nh < 1 {
			nh = 1
		}
		return maxSide, nh
	}
	nw := (w*maxSide + h/2) / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxSide
}

func decode(b []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(b))
	if err == nil {
		return img, nil
	}
	// some phones write trailing garbage that the generic path rejects
	if len(b) >= 2 && b[0] == 0xFF && b[1] == 0xD8 {
		return jpeg.Decode(bytes.NewReader(b))
	}
	if len(b) >= 8 && bytes.HasPrefix(b, []byte{0x89, 'P', 'N', 'G'}) {
		return png.Decode(bytes.NewReader(b))
	}
	return nil, err
}
