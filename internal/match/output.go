package match

import (
	"context"
	"image"

	apperrors "github.com/GriffinCanCode/pagestitch/internal/errors"
	"github.com/GriffinCanCode/pagestitch/internal/geometry"
	"github.com/GriffinCanCode/pagestitch/internal/raster"
)

// Stitcher produces a full-page capture. capture.FullPage implements it.
type Stitcher interface {
	Stitch(ctx context.Context, region geometry.Rect[geometry.Context], overlap int) (image.Image, error)
}

// TitleFunc returns the current window title. Errors are not fatal.
type TitleFunc func(ctx context.Context) (string, error)

// StitchedOutput captures the whole page on every attempt.
type StitchedOutput struct {
	Stitcher Stitcher
	Overlap  int
	Title    TitleFunc
}

func (s StitchedOutput) AppOutput(ctx context.Context, region geometry.Rect[geometry.Context], _ image.Image) (AppOutput, error) {
	img, err := s.Stitcher.Stitch(ctx, region, s.Overlap)
	if err != nil {
		return AppOutput{}, err
	}
	return AppOutput{Screenshot: img, Title: title(ctx, s.Title)}, nil
}

// ViewportOutput captures only what is visible, scaled to logical pixels.
type ViewportOutput struct {
	Images     raster.ImageProvider
	PixelRatio float64
	Title      TitleFunc
}

func (v ViewportOutput) AppOutput(ctx context.Context, region geometry.Rect[geometry.Context], _ image.Image) (AppOutput, error) {
	raw, err := v.Images.Image(ctx)
	if err != nil {
		return AppOutput{}, apperrors.Wrap(err, apperrors.DriverOperation, "capture viewport")
	}
	img := raw
	if v.PixelRatio > 0 && v.PixelRatio != 1 {
		img = raster.Scale(raw, 1/v.PixelRatio)
	}
	if !region.IsEmpty() {
		b := img.Bounds()
		bounds := geometry.Rect[geometry.Context]{Width: b.Dx(), Height: b.Dy()}
		clipped := region.Intersect(bounds)
		if clipped.IsEmpty() {
			return AppOutput{}, apperrors.Newf(apperrors.InvalidArgument, "region %s is outside the viewport %s", region, bounds)
		}
		img = raster.Crop(img, clipped.Image())
	}
	return AppOutput{Screenshot: img, Title: title(ctx, v.Title)}, nil
}

func title(ctx context.Context, fn TitleFunc) string {
	if fn == nil {
		return ""
	}
	t, err := fn(ctx)
	if err != nil {
		return ""
	}
	return t
}
