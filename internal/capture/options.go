package capture

import (
	"context"
	"time"

	"github.com/GriffinCanCode/pagestitch/internal/geometry"
	"github.com/GriffinCanCode/pagestitch/internal/raster"
)

const (
	// MinPartHeight is the smallest tile step, used when the overlap eats
	// the whole viewport.
	MinPartHeight = 10
	// DefaultOriginRetries is how many times the origin move is attempted.
	DefaultOriginRetries = 3
	// DefaultWait lets scrollbars and animations settle after each move.
	DefaultWait = 100 * time.Millisecond
)

// RegionCompensation adjusts a region already converted to screenshot space,
// for browsers whose captures are offset from the layout they report.
type RegionCompensation func(r geometry.Rect[geometry.Screenshot], pixelRatio float64) geometry.Rect[geometry.Screenshot]

// NoCompensation returns the region unchanged.
func NoCompensation(r geometry.Rect[geometry.Screenshot], _ float64) geometry.Rect[geometry.Screenshot] {
	return r
}

// Tile describes one part after it was pasted into the stitched image.
type Tile struct {
	Index    int
	Position geometry.Location
	Size     geometry.Size
}

// Option configures a FullPage.
type Option func(*FullPage)

// WithWait sets the settle delay after every position change.
func WithWait(d time.Duration) Option {
	return func(f *FullPage) { f.wait = d }
}

// WithCut sets the fixed cut, in logical pixels. It is scaled to device
// pixels once the first capture's pixel ratio is known.
func WithCut(c raster.CutProvider) Option {
	return func(f *FullPage) {
		if c != nil {
			f.cut = c
		}
	}
}

// WithScaleFactory sets how the device-to-logical ratio is chosen.
func WithScaleFactory(sf raster.ScaleFactory) Option {
	return func(f *FullPage) {
		if sf != nil {
			f.scaleFactory = sf
		}
	}
}

// WithCompensation sets the region position compensation.
func WithCompensation(c RegionCompensation) Option {
	return func(f *FullPage) {
		if c != nil {
			f.compensate = c
		}
	}
}

// WithDebug saves every intermediate image through d.
func WithDebug(d *DebugSaver) Option {
	return func(f *FullPage) { f.debug = d }
}

// WithTileHook calls fn after each tile is pasted.
func WithTileHook(fn func(context.Context, Tile)) Option {
	return func(f *FullPage) { f.onTile = fn }
}

// WithSleep replaces the settle delay implementation. Tests use it to avoid
// real sleeps.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(f *FullPage) {
		if fn != nil {
			f.sleep = fn
		}
	}
}

// WithOriginRetries sets how many origin moves are attempted.
func WithOriginRetries(n int) Option {
	return func(f *FullPage) {
		if n > 0 {
			f.originRetries = n
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
