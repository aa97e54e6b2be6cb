package raster

import (
	"context"
	"image"
	"math"

	"github.com/GriffinCanCode/pagestitch/internal/geometry"
)

// CutProvider trims fixed artifact bars (status bars, browser chrome) off a
// raw capture. Cuts are applied to device pixels, before any scaling.
type CutProvider interface {
	Cut(img image.Image) image.Image
	// Scale returns a provider whose cut amounts are multiplied by ratio.
	Scale(ratio float64) CutProvider
}

// NullCut leaves images untouched.
type NullCut struct{}

func (NullCut) Cut(img image.Image) image.Image { return img }
func (NullCut) Scale(float64) CutProvider       { return NullCut{} }

// FixedCut removes a constant number of pixels from each edge.
type FixedCut struct {
	Header, Footer, Left, Right int
}

// Cut crops the configured margins. Margins that meet or overlap yield an
// empty image.
func (c FixedCut) Cut(img image.Image) image.Image {
	b := img.Bounds()
	if c.Left+c.Right >= b.Dx() || c.Header+c.Footer >= b.Dy() {
		return image.NewRGBA(image.Rectangle{})
	}
	// image.Rect would canonicalize an inverted rectangle, so build it directly
	return Crop(img, image.Rectangle{
		Min: image.Pt(c.Left, c.Header),
		Max: image.Pt(b.Dx()-c.Right, b.Dy()-c.Footer),
	})
}

// Scale converts logical cut amounts to device pixels.
func (c FixedCut) Scale(ratio float64) CutProvider {
	round := func(v int) int { return int(math.Round(float64(v) * ratio)) }
	return FixedCut{Header: round(c.Header), Footer: round(c.Footer), Left: round(c.Left), Right: round(c.Right)}
}

// IsZero reports whether the cut removes nothing.
func (c FixedCut) IsZero() bool { return c == FixedCut{} }

// ScaleProvider reports the ratio that maps device pixels to logical pixels.
type ScaleProvider interface {
	ScaleRatio() float64
}

// FixedScale is a constant scale ratio.
type FixedScale float64

// ScaleRatio returns the ratio, treating non-positive values as 1.
func (s FixedScale) ScaleRatio() float64 {
	if s <= 0 {
		return 1
	}
	return float64(s)
}

// PixelRatio is the inverse of the scale ratio: device pixels per logical pixel.
func PixelRatio(s ScaleProvider) float64 { return 1 / s.ScaleRatio() }

// ScaleFactory picks a scale provider once the first capture's width is known.
type ScaleFactory func(imageWidth int) ScaleProvider

// FixedScaleFactory always returns 1/devicePixelRatio.
func FixedScaleFactory(devicePixelRatio float64) ScaleFactory {
	return func(int) ScaleProvider {
		if devicePixelRatio <= 0 {
			return FixedScale(1)
		}
		return FixedScale(1 / devicePixelRatio)
	}
}

// ContextScaleFactory derives the ratio from how much wider the capture is than
// the logical viewport. When the capture is already logical size, no scaling
// happens; when the viewport is unknown, the device pixel ratio is used.
func ContextScaleFactory(viewport geometry.Size, devicePixelRatio float64) ScaleFactory {
	fallback := FixedScaleFactory(devicePixelRatio)
	return func(imageWidth int) ScaleProvider {
		if viewport.Width <= 0 || imageWidth <= 0 {
			return fallback(imageWidth)
		}
		if imageWidth <= viewport.Width {
			return FixedScale(1)
		}
		return FixedScale(float64(viewport.Width) / float64(imageWidth))
	}
}

// OrientationFunc returns the clockwise rotation, in degrees, needed to bring
// a capture upright.
type OrientationFunc func(ctx context.Context, img image.Image) (int, error)

type rotated struct {
	src    ImageProvider
	orient OrientationFunc
}

// Rotated wraps src so every capture is normalized by orient. Orientation
// failures leave the capture as-is.
func Rotated(src ImageProvider, orient OrientationFunc) ImageProvider {
	return &rotated{src: src, orient: orient}
}

func (r *rotated) Image(ctx context.Context) (image.Image, error) {
	img, err := r.src.Image(ctx)
	if err != nil {
		return nil, err
	}
	degrees, err := r.orient(ctx, img)
	if err != nil || degrees == 0 {
		return img, nil
	}
	return Rotate(img, degrees), nil
}
