package compare

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/corona10/goimagehash"

	apperrors "github.com/GriffinCanCode/pagestitch/internal/errors"
	"github.com/GriffinCanCode/pagestitch/internal/match"
	"github.com/GriffinCanCode/pagestitch/internal/raster"
	"github.com/GriffinCanCode/pagestitch/internal/trace"
)

// Matcher decides whether actual matches baseline. Both images are already
// masked with the request's ignore regions.
type Matcher func(actual, baseline image.Image) (match.Result, error)

// Baseline compares captures against a Store. The first capture for a key
// becomes its baseline.
type Baseline struct {
	store Store
	name  string
	match Matcher
}

// NewPerceptual matches when the perceptual hashes of capture and baseline
// are at most maxDistance bits apart.
func NewPerceptual(store Store, maxDistance int) *Baseline {
	return &Baseline{store: store, name: "phash", match: perceptual(maxDistance)}
}

// NewPixel matches when every pixel is within tolerance on each channel, or
// when at most maxDiffPercent of the pixels differ.
func NewPixel(store Store, tolerance int, maxDiffPercent float64) *Baseline {
	return &Baseline{store: store, name: "pixel", match: pixel(tolerance, maxDiffPercent)}
}

func (b *Baseline) Compare(ctx context.Context, req match.CompareRequest) (match.Result, error) {
	log := trace.Logger(ctx)
	if req.Screenshot == nil {
		return match.Result{}, apperrors.New(apperrors.InvalidArgument, "no screenshot to compare")
	}

	base, err := b.store.Load(ctx, req.Tag)
	if apperrors.IsCode(err, apperrors.BaselineMissing) {
		if err := b.store.Save(ctx, req.Tag, req.Screenshot); err != nil {
			return match.Result{}, err
		}
		log.Info("stored new baseline", "tag", req.Tag, "comparator", b.name)
		return match.Result{AsExpected: true, NewBaseline: true, Message: "new baseline"}, nil
	}
	if err != nil {
		return match.Result{}, err
	}

	ab, bb := req.Screenshot.Bounds(), base.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return match.Result{
			AsExpected: false,
			Difference: 1,
			Message:    fmt.Sprintf("size %dx%d differs from baseline %dx%d", ab.Dx(), ab.Dy(), bb.Dx(), bb.Dy()),
		}, nil
	}

	actual, expected := req.Screenshot, base
	if len(req.Settings.IgnoreRegions) > 0 {
		actual, expected = mask(actual, req.Settings), mask(expected, req.Settings)
	}
	res, err := b.match(actual, expected)
	if err != nil {
		return match.Result{}, apperrors.Wrap(err, apperrors.ComparatorFailed, b.name)
	}
	log.Debug("compared against baseline", "tag", req.Tag, "comparator", b.name, "as_expected", res.AsExpected, "difference", res.Difference)
	return res, nil
}

// mask blanks ignored regions on a copy of img.
func mask(img image.Image, s match.ImageSettings) image.Image {
	b := img.Bounds()
	out := raster.Crop(img, image.Rect(0, 0, b.Dx(), b.Dy()))
	for _, r := range s.IgnoreRegions {
		raster.Fill(out, r.Image(), color.Black)
	}
	return out
}

func perceptual(maxDistance int) Matcher {
	return func(actual, baseline image.Image) (match.Result, error) {
		ah, err := goimagehash.PerceptionHash(actual)
		if err != nil {
			return match.Result{}, err
		}
		bh, err := goimagehash.PerceptionHash(baseline)
		if err != nil {
			return match.Result{}, err
		}
		dist, err := ah.Distance(bh)
		if err != nil {
			return match.Result{}, err
		}
		return match.Result{
			AsExpected: dist <= maxDistance,
			Difference: float64(dist),
			Message:    fmt.Sprintf("hamming distance %d", dist),
		}, nil
	}
}

func pixel(tolerance int, maxDiffPercent float64) Matcher {
	return func(actual, baseline image.Image) (match.Result, error) {
		ab, bb := actual.Bounds(), baseline.Bounds()
		total := ab.Dx() * ab.Dy()
		if total == 0 {
			return match.Result{AsExpected: true}, nil
		}
		different := 0
		for y := 0; y < ab.Dy(); y++ {
			for x := 0; x < ab.Dx(); x++ {
				if channelDiff(actual.At(ab.Min.X+x, ab.Min.Y+y), baseline.At(bb.Min.X+x, bb.Min.Y+y)) > tolerance {
					different++
				}
			}
		}
		pct := float64(different) * 100 / float64(total)
		return match.Result{
			AsExpected: different == 0 || (maxDiffPercent > 0 && pct <= maxDiffPercent),
			Difference: pct,
			Message:    fmt.Sprintf("%d of %d pixels differ", different, total),
		}, nil
	}
}

// channelDiff is the largest 8-bit difference across the four channels.
func channelDiff(a, b color.Color) int {
	ar, ag, ab, aa := a.RGBA()
	br, bg, bb, ba := b.RGBA()
	d := func(x, y uint32) int {
		v := int(x>>8) - int(y>>8)
		if v < 0 {
			return -v
		}
		return v
	}
	return max(d(ar, br), d(ag, bg), d(ab, bb), d(aa, ba))
}
