package renditions

import (
	"bytes"
	"fmt"
	"image"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/aspr-photos/intake/internal/telemetry"
)

// Fit controls how a source is sized into a variant's box.
type Fit int

const (
	// FitInside scales the image down until it fits the box, keeping its
	// aspect ratio.
	FitInside Fit = iota
	// FitCover fills the box exactly, center-cropping the overflow.
	FitCover
)

// Variant describes one derived image. A zero Height means unbounded.
type Variant struct {
	Name    string
	Width   int
	Height  int
	Fit     Fit
	Quality int
}

// Variant names, as stored in photo_renditions.variant_type.
const (
	VariantThumbSmall  = "thumb_sm"
	VariantThumbMedium = "thumb_md"
	VariantWeb         = "web"
)

// Variants is every rendition generated for a photo.
var Variants = []Variant{
	{Name: VariantThumbSmall, Width: 200, Height: 150, Fit: FitCover, Quality: 75},
	{Name: VariantThumbMedium, Width: 400, Height: 300, Fit: FitInside, Quality: 80},
	{Name: VariantWeb, Width: 1200, Fit: FitInside, Quality: 85},
}

// IsVariant reports whether name is a generated variant.
func IsVariant(name string) bool {
	for _, v := range Variants {
		if v.Name == name {
			return true
		}
	}
	return false
}

const (
	webpContentType = "image/webp"
	editedQuality   = 90
)

// Output is an encoded rendition.
type Output struct {
	Variant string
	Data    []byte
	Width   int
	Height  int
}

// Render resizes src for v and encodes it as WebP. Images are never enlarged.
func Render(src image.Image, v Variant) (*Output, error) {
	start := time.Now()
	defer func() {
		telemetry.RenditionDuration.WithLabelValues(v.Name).Observe(time.Since(start).Seconds())
	}()

	var dst image.Image
	switch v.Fit {
	case FitCover:
		dst = cover(src, v.Width, v.Height)
	default:
		dst = inside(src, v.Width, v.Height)
	}

	data, err := encodeWebP(dst, v.Quality)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", v.Name, err)
	}
	b := dst.Bounds()
	return &Output{Variant: v.Name, Data: data, Width: b.Dx(), Height: b.Dy()}, nil
}

func inside(src image.Image, maxW, maxH int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxW && (maxH == 0 || h <= maxH) {
		return src
	}
	if maxH == 0 {
		return imaging.Resize(src, maxW, 0, imaging.Lanczos)
	}
	return imaging.Fit(src, maxW, maxH, imaging.Lanczos)
}

// cover fills a w x h box. A source smaller than the box in either dimension
// is only cropped to the box's aspect ratio, not scaled up.
func cover(src image.Image, w, h int) image.Image {
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()
	if sw >= w && sh >= h {
		return imaging.Fill(src, w, h, imaging.Center, imaging.Lanczos)
	}

	cw, ch := sw, sh
	if sw*h > sh*w {
		cw = max(1, sh*w/h)
	} else {
		ch = max(1, sw*h/w)
	}
	return imaging.CropCenter(src, cw, ch)
}

func encodeWebP(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decode reads any registered image format, applying the EXIF orientation so
// renditions display upright.
func decode(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}
