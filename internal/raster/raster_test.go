package raster

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/GriffinCanCode/pagestitch/internal/geometry"
)

// rowImage paints each row with a color derived from its y coordinate so
// tests can tell which rows survived a transformation.
func rowImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(y), G: uint8(x), B: 0, A: 255})
		}
	}
	return img
}

func TestCropCopiesRegion(t *testing.T) {
	img := rowImage(10, 10)
	got := Crop(img, image.Rect(2, 3, 6, 8))

	if got.Bounds() != image.Rect(0, 0, 4, 5) {
		t.Fatalf("bounds = %v", got.Bounds())
	}
	if c := got.RGBAAt(0, 0); c.R != 3 || c.G != 2 {
		t.Errorf("top-left pixel = %+v, want row 3 col 2", c)
	}
}

func TestCropClipsToImage(t *testing.T) {
	got := Crop(rowImage(10, 10), image.Rect(5, 5, 50, 50))
	if got.Bounds().Dx() != 5 || got.Bounds().Dy() != 5 {
		t.Errorf("bounds = %v, want 5x5", got.Bounds())
	}
}

func TestPasteAndTrim(t *testing.T) {
	canvas := NewCanvas(geometry.Size{Width: 10, Height: 30})
	Paste(canvas, rowImage(10, 10), image.Pt(0, 10))

	if c := canvas.RGBAAt(0, 10); c.A != 255 || c.R != 0 {
		t.Errorf("pasted pixel = %+v", c)
	}
	if c := canvas.RGBAAt(0, 0); c.A != 0 {
		t.Errorf("untouched pixel should be transparent, got %+v", c)
	}

	trimmed := Trim(canvas, geometry.Size{Width: 10, Height: 20})
	if trimmed.Bounds().Dy() != 20 {
		t.Errorf("trimmed height = %d, want 20", trimmed.Bounds().Dy())
	}
	if same := Trim(canvas, geometry.Size{Width: 100, Height: 100}); same != canvas {
		t.Error("trim larger than image should return the image itself")
	}
}

func TestScale(t *testing.T) {
	img := rowImage(100, 200)

	if Scale(img, 1) != image.Image(img) {
		t.Error("ratio 1 should return input")
	}
	half := Scale(img, 0.5)
	if b := half.Bounds(); b.Dx() != 50 || b.Dy() != 100 {
		t.Errorf("scaled bounds = %v, want 50x100", b)
	}
}

func TestFixedCutBeforeScale(t *testing.T) {
	// 10 logical pixels of header at a device pixel ratio of 2 removes 20
	// device rows from the raw capture; the logical output then loses 10 rows.
	raw := rowImage(100, 200)
	pixelRatio := 2.0

	cut := FixedCut{Header: 10}.Scale(pixelRatio)
	cropped := cut.Cut(raw)

	if got := raw.Bounds().Dy() - cropped.Bounds().Dy(); got != 20 {
		t.Fatalf("device rows removed = %d, want 20", got)
	}
	if c := cropped.At(0, 0).(color.RGBA); c.R != 20 {
		t.Errorf("first surviving row = %d, want 20", c.R)
	}

	scaled := Scale(cropped, 1/pixelRatio)
	if scaled.Bounds().Dy() != 90 {
		t.Errorf("scaled height = %d, want 90", scaled.Bounds().Dy())
	}
}

func TestFixedCutAllEdges(t *testing.T) {
	got := FixedCut{Header: 1, Footer: 2, Left: 3, Right: 4}.Cut(rowImage(20, 20))
	if b := got.Bounds(); b.Dx() != 13 || b.Dy() != 17 {
		t.Errorf("bounds = %v, want 13x17", b)
	}

	for _, c := range []FixedCut{
		{Header: 30},
		{Header: 10, Footer: 10},
		{Header: 15, Footer: 15},
		{Left: 12, Right: 12},
		{Right: 25},
	} {
		if b := c.Cut(rowImage(20, 20)).Bounds(); !b.Empty() {
			t.Errorf("%+v: overlapping margins should produce an empty image, got %v", c, b)
		}
	}
}

func TestNullCut(t *testing.T) {
	img := rowImage(5, 5)
	if (NullCut{}).Scale(3).Cut(img) != image.Image(img) {
		t.Error("NullCut should be identity")
	}
}

func TestScaleFactories(t *testing.T) {
	tests := []struct {
		name    string
		factory ScaleFactory
		width   int
		want    float64
	}{
		{"fixed dpr 2", FixedScaleFactory(2), 800, 0.5},
		{"fixed unknown dpr", FixedScaleFactory(0), 800, 1},
		{"context retina", ContextScaleFactory(geometry.Size{Width: 400, Height: 800}, 2), 800, 0.5},
		{"context logical", ContextScaleFactory(geometry.Size{Width: 400, Height: 800}, 2), 400, 1},
		{"context unknown viewport", ContextScaleFactory(geometry.Size{}, 3), 1200, 1.0 / 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.factory(tt.width).ScaleRatio(); got != tt.want {
				t.Errorf("ScaleRatio() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRotate(t *testing.T) {
	img := rowImage(4, 2)

	cw := Rotate(img, 90)
	if b := cw.Bounds(); b.Dx() != 2 || b.Dy() != 4 {
		t.Fatalf("rotated bounds = %v", b)
	}
	// Top-left of the source ends up at the top-right after a clockwise turn.
	if c := cw.At(1, 0).(color.RGBA); c.R != 0 || c.G != 0 {
		t.Errorf("pixel = %+v, want source (0,0)", c)
	}

	ccw := Rotate(img, -90)
	// Top-left of the source ends up at the bottom-left after a counter-clockwise turn.
	if c := ccw.At(0, 3).(color.RGBA); c.R != 0 || c.G != 0 {
		t.Errorf("pixel = %+v, want source (0,0)", c)
	}

	if Rotate(img, 360) != image.Image(img) {
		t.Error("full turn should be identity")
	}
}

func TestRotatedProvider(t *testing.T) {
	src := ImageProviderFunc(func(context.Context) (image.Image, error) { return rowImage(4, 2), nil })

	p := Rotated(src, func(context.Context, image.Image) (int, error) { return 90, nil })
	img, err := p.Image(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 2 {
		t.Errorf("expected rotated image, got %v", img.Bounds())
	}

	p = Rotated(src, func(context.Context, image.Image) (int, error) { return 0, errors.New("no orientation") })
	img, _ = p.Image(context.Background())
	if img.Bounds().Dx() != 4 {
		t.Errorf("orientation failure should leave image as-is, got %v", img.Bounds())
	}
}

func TestFill(t *testing.T) {
	img := rowImage(10, 10)
	Fill(img, image.Rect(0, 0, 5, 5), color.Black)
	if c := img.RGBAAt(4, 4); c.R != 0 || c.G != 0 || c.A != 255 {
		t.Errorf("filled pixel = %+v", c)
	}
	if c := img.RGBAAt(6, 6); c.R != 6 {
		t.Errorf("pixel outside fill changed: %+v", c)
	}
}
