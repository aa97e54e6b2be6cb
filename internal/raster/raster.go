// Package raster holds the image plumbing used while stitching: the source of
// viewport captures, cut and scale strategies, and the crop/paste/trim helpers.
package raster

import (
	"context"
	"image"
	"image/color"
	"math"

	"github.com/nfnt/resize"
	xdraw "golang.org/x/image/draw"

	"github.com/GriffinCanCode/pagestitch/internal/geometry"
)

// ImageProvider supplies a raw bitmap of the current viewport.
type ImageProvider interface {
	Image(ctx context.Context) (image.Image, error)
}

// ImageProviderFunc adapts a function to ImageProvider.
type ImageProviderFunc func(ctx context.Context) (image.Image, error)

// Image calls f.
func (f ImageProviderFunc) Image(ctx context.Context) (image.Image, error) { return f(ctx) }

// NewCanvas allocates a transparent RGBA image of the given size.
func NewCanvas(size geometry.Size) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, max(size.Width, 0), max(size.Height, 0)))
}

// Crop copies the part of img inside r into a new image anchored at (0, 0).
// r is expressed relative to img's top-left corner and is clipped to img.
func Crop(img image.Image, r image.Rectangle) *image.RGBA {
	b := img.Bounds()
	src := r.Add(b.Min).Intersect(b)
	dst := image.NewRGBA(image.Rect(0, 0, src.Dx(), src.Dy()))
	xdraw.Copy(dst, image.Point{}, img, src, xdraw.Src, nil)
	return dst
}

// Paste copies src into dst with src's top-left landing at at. Pixels that
// fall outside dst are dropped.
func Paste(dst *image.RGBA, src image.Image, at image.Point) {
	xdraw.Copy(dst, at, src, src.Bounds(), xdraw.Src, nil)
}

// Trim returns the top-left part of img no larger than size.
func Trim(img *image.RGBA, size geometry.Size) *image.RGBA {
	b := img.Bounds()
	w, h := min(size.Width, b.Dx()), min(size.Height, b.Dy())
	if w == b.Dx() && h == b.Dy() {
		return img
	}
	return img.SubImage(image.Rect(b.Min.X, b.Min.Y, b.Min.X+w, b.Min.Y+h)).(*image.RGBA)
}

// Scale resizes img by ratio. A ratio of 1 returns img untouched.
func Scale(img image.Image, ratio float64) image.Image {
	if ratio == 1 || ratio <= 0 {
		return img
	}
	b := img.Bounds()
	w := uint(math.Round(float64(b.Dx()) * ratio))
	h := uint(math.Round(float64(b.Dy()) * ratio))
	if w == 0 || h == 0 {
		return image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
	}
	return resize.Resize(w, h, img, resize.Bilinear)
}

// Rotate turns img by degrees, which must be a multiple of 90. Positive
// values rotate clockwise.
func Rotate(img image.Image, degrees int) image.Image {
	turns := ((degrees/90)%4 + 4) % 4
	if turns == 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var dst *image.RGBA
	if turns == 2 {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.At(b.Min.X+x, b.Min.Y+y)
			switch turns {
			case 1:
				dst.Set(h-1-y, x, c)
			case 2:
				dst.Set(w-1-x, h-1-y, c)
			case 3:
				dst.Set(y, w-1-x, c)
			}
		}
	}
	return dst
}

// Fill paints r inside img with c. Used to blank regions excluded from comparison.
func Fill(img *image.RGBA, r image.Rectangle, c color.Color) {
	xdraw.Draw(img, r.Intersect(img.Bounds()), image.NewUniform(c), image.Point{}, xdraw.Src)
}

// ToRGBA returns img as an *image.RGBA anchored at (0, 0), copying only when needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	return Crop(img, image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy()))
}
