// Package capture stitches viewport captures into one image of the whole
// scrollable content.
//
// A capture moves the surface to its origin, grabs the first tile, then keeps
// advancing and pasting tiles until the resolved position stops changing.
// Every raw tile is cut, then cropped to the requested region, then scaled to
// logical pixels, in that order: cut and crop amounts are device pixels.
package capture

import (
	"context"
	"image"
	"time"

	apperrors "github.com/GriffinCanCode/pagestitch/internal/errors"
	"github.com/GriffinCanCode/pagestitch/internal/geometry"
	"github.com/GriffinCanCode/pagestitch/internal/position"
	"github.com/GriffinCanCode/pagestitch/internal/raster"
	"github.com/GriffinCanCode/pagestitch/internal/trace"
)

// FullPage is the stitching algorithm bound to one image source and one
// position provider. It is not safe for concurrent captures; callers run at
// most one capture per session at a time.
type FullPage struct {
	images    raster.ImageProvider
	positions position.Provider
	scroller  position.Scroller

	wait          time.Duration
	cut           raster.CutProvider
	scaleFactory  raster.ScaleFactory
	compensate    RegionCompensation
	debug         *DebugSaver
	onTile        func(context.Context, Tile)
	sleep         func(context.Context, time.Duration) error
	originRetries int
}

// NewWeb returns a stitcher for web content. Tiles are visited by setting
// absolute positions on p.
func NewWeb(images raster.ImageProvider, p position.Provider, opts ...Option) *FullPage {
	return newFullPage(images, p, nil, opts)
}

// NewMobile returns a stitcher for a native scrollable view. Tiles are
// visited with relative swipes and cropped to the view's on-screen region.
func NewMobile(images raster.ImageProvider, s position.Scroller, opts ...Option) *FullPage {
	return newFullPage(images, s, s, opts)
}

func newFullPage(images raster.ImageProvider, p position.Provider, s position.Scroller, opts []Option) *FullPage {
	f := &FullPage{
		images:        images,
		positions:     p,
		scroller:      s,
		wait:          DefaultWait,
		cut:           raster.NullCut{},
		scaleFactory:  raster.FixedScaleFactory(1),
		compensate:    NoCompensation,
		sleep:         sleepContext,
		originRetries: DefaultOriginRetries,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// run holds the state of a single Stitch call.
type run struct {
	*FullPage
	cut          raster.CutProvider
	scale        raster.ScaleProvider
	pixelRatio   float64
	regionInShot geometry.Rect[geometry.Screenshot]
	canvas       *image.RGBA
	reached      geometry.Size
	tiles        int
}

// Stitch captures region of the viewport across the whole scrollable content.
// An empty region captures the full viewport. overlap is the number of
// logical pixels each tile repeats from the previous one, so fixed headers
// and footers are not duplicated.
func (f *FullPage) Stitch(ctx context.Context, region geometry.Rect[geometry.Context], overlap int) (image.Image, error) {
	ctx, span := trace.StartSpan(ctx, "capture.stitch")
	defer span.End()
	log := trace.Logger(ctx)
	log.Debug("stitching", "region", region, "overlap", overlap)

	original, err := f.positions.State(ctx)
	if err != nil {
		return nil, err
	}
	if err := f.moveToOrigin(ctx, original); err != nil {
		return nil, err
	}

	raw, err := f.images.Image(ctx)
	if err != nil {
		f.restore(ctx, original)
		return nil, apperrors.Wrap(err, apperrors.DriverOperation, "capture first tile")
	}
	f.debug.Save(ctx, raw, "original")

	r := &run{FullPage: f}
	r.scale = f.scaleFactory(raw.Bounds().Dx())
	r.pixelRatio = raster.PixelRatio(r.scale)
	r.cut = f.cut.Scale(r.pixelRatio)

	img := r.cut.Cut(raw)
	f.debug.Save(ctx, img, "original-cut")
	if !region.IsEmpty() {
		r.regionInShot = f.regionInScreenshot(ctx, region, img, r.pixelRatio)
	}
	first := r.cropAndScale(ctx, img, geometry.Origin)
	firstSize := geometry.SizeOf(first.Bounds())

	entire := f.entireSize(ctx, firstSize)
	if firstSize.Covers(entire) {
		log.Debug("first tile covers entire content", "size", firstSize, "entire", entire)
		f.restore(ctx, original)
		return first, nil
	}

	r.canvas = raster.NewCanvas(entire.Max(firstSize))
	log.Debug("created stitched canvas", "size", geometry.SizeOf(r.canvas.Bounds()), "entire", entire)
	r.paste(ctx, first, geometry.Origin)

	if f.scroller != nil {
		err = r.mobileTail(ctx)
	} else {
		err = r.webTail(ctx, overlap, firstSize, entire)
	}
	f.restore(ctx, original)
	if err != nil {
		return nil, err
	}

	out := raster.Trim(r.canvas, r.reached)
	span.SetAttr("tiles", r.tiles)
	log.Debug("stitching done", "tiles", r.tiles, "entire", entire, "actual", r.reached)
	f.debug.Save(ctx, out, "stitched")
	return out, nil
}

// moveToOrigin drives the surface to (0, 0). Stitching from any other anchor
// would misplace every tile, so failure restores the original state and aborts.
func (f *FullPage) moveToOrigin(ctx context.Context, original position.Memento) error {
	log := trace.Logger(ctx)
	var pos geometry.Location
	for attempt := 1; attempt <= f.originRetries; attempt++ {
		if err := f.positions.SetPosition(ctx, geometry.Origin); err != nil {
			f.restore(ctx, original)
			return err
		}
		if err := f.sleep(ctx, f.wait); err != nil {
			f.restore(ctx, original)
			return apperrors.Wrap(err, apperrors.Cancelled, "move to origin")
		}
		var err error
		if pos, err = f.positions.CurrentPosition(ctx); err != nil {
			f.restore(ctx, original)
			return err
		}
		if pos.IsZero() {
			return nil
		}
		log.Debug("origin not reached yet", "attempt", attempt, "position", pos)
	}
	f.restore(ctx, original)
	return apperrors.Newf(apperrors.OriginUnreachable, "could not move to the top-left corner, stuck at %s", pos).
		WithMetadata("position", pos.String())
}

// restore puts the surface back where the capture found it. It runs even when
// ctx was cancelled mid-capture.
func (f *FullPage) restore(ctx context.Context, m position.Memento) {
	ctx = context.WithoutCancel(ctx)
	if err := f.positions.RestoreState(ctx, m); err != nil {
		trace.Logger(ctx).Warn("failed to restore position", "memento", m, "error", err)
	}
}

func (f *FullPage) entireSize(ctx context.Context, fallback geometry.Size) geometry.Size {
	log := trace.Logger(ctx)
	size, err := f.positions.EntireSize(ctx)
	if err != nil {
		log.Warn("failed to read entire size, using first tile size", "error", err, "size", fallback)
		return fallback
	}
	if size.IsEmpty() {
		log.Debug("no entire size reported, using first tile size", "size", fallback)
		return fallback
	}
	return size
}

// regionInScreenshot maps region to device pixels of the cut capture.
// The mapping is redone once when the result does not match the requested
// logical size, which happens when layout shifted under the capture.
func (f *FullPage) regionInScreenshot(ctx context.Context, region geometry.Rect[geometry.Context], img image.Image, pixelRatio float64) geometry.Rect[geometry.Screenshot] {
	bounds := geometry.Rect[geometry.Screenshot]{Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}
	compute := func() geometry.Rect[geometry.Screenshot] {
		r := geometry.ContextToScreenshot(region, pixelRatio)
		return f.compensate(r, pixelRatio).Intersect(bounds)
	}
	r := compute()
	if geometry.ScreenshotToContext(r, pixelRatio).Size() != region.Size() {
		trace.Logger(ctx).Debug("region size mismatch, recomputing", "region", region, "in_screenshot", r)
		r = compute()
	}
	return r
}

// process runs a raw tail capture through cut, crop and scale.
func (r *run) process(ctx context.Context, raw image.Image, at geometry.Location) image.Image {
	img := r.cut.Cut(raw)
	return r.cropAndScale(ctx, img, at)
}

func (r *run) cropAndScale(ctx context.Context, img image.Image, at geometry.Location) image.Image {
	if !r.regionInShot.IsEmpty() {
		img = raster.Crop(img, r.regionInShot.Image())
		r.debug.SavePart(ctx, img, at, r.regionInShot.Size(), "cropped")
	}
	if r.scale.ScaleRatio() != 1 {
		img = raster.Scale(img, r.scale.ScaleRatio())
		r.debug.SavePart(ctx, img, at, geometry.SizeOf(img.Bounds()), "scaled")
	}
	return img
}

func (r *run) paste(ctx context.Context, part image.Image, at geometry.Location) {
	raster.Paste(r.canvas, part, at.Point())
	size := geometry.SizeOf(part.Bounds())
	r.reached = r.reached.Max(geometry.Size{Width: at.X + size.Width, Height: at.Y + size.Height})
	tile := Tile{Index: r.tiles, Position: at, Size: size}
	r.tiles++
	trace.Logger(ctx).Debug("stitched tile", "index", tile.Index, "position", at, "size", size)
	if r.onTile != nil {
		r.onTile(ctx, tile)
	}
}

// grab waits for the surface to settle and captures a tile.
func (r *run) grab(ctx context.Context, at geometry.Location) (image.Image, error) {
	if err := r.sleep(ctx, r.wait); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Cancelled, "stitch interrupted")
	}
	raw, err := r.images.Image(ctx)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.DriverOperation, "capture tile at %s", at)
	}
	r.debug.Save(ctx, raw, "original-scrolled-"+at.ForFilename())
	return r.process(ctx, raw, at), nil
}

// moveTo sets the position and reports where the surface actually ended up,
// which can fall short of target near the end of the content.
func (r *run) moveTo(ctx context.Context, target geometry.Location) (geometry.Location, error) {
	if err := ctx.Err(); err != nil {
		return geometry.Origin, apperrors.Wrap(err, apperrors.Cancelled, "stitch interrupted")
	}
	if err := r.positions.SetPosition(ctx, target); err != nil {
		return geometry.Origin, err
	}
	if err := r.sleep(ctx, r.wait); err != nil {
		return geometry.Origin, apperrors.Wrap(err, apperrors.Cancelled, "stitch interrupted")
	}
	return r.positions.CurrentPosition(ctx)
}

func (r *run) captureAt(ctx context.Context, pos geometry.Location) error {
	raw, err := r.images.Image(ctx)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.DriverOperation, "capture tile at %s", pos)
	}
	r.debug.Save(ctx, raw, "original-scrolled-"+pos.ForFilename())
	r.paste(ctx, r.process(ctx, raw, pos), pos)
	return nil
}

// webTail walks the content in rows of partHeight, and in columns when the
// content is wider than a tile. A row or column ends as soon as a move leaves
// the resolved position unchanged; the declared size is only an estimate.
func (r *run) webTail(ctx context.Context, overlap int, first, entire geometry.Size) error {
	part := geometry.Size{Width: first.Width, Height: max(first.Height-overlap, MinPartHeight)}
	trace.Logger(ctx).Debug("capturing tail parts", "entire", entire, "part", part)

	if err := r.stitchRow(ctx, geometry.Origin, part.Width, entire.Width); err != nil {
		return err
	}
	prev := geometry.Origin
	for y := part.Height; y < entire.Height; y += part.Height {
		pos, err := r.moveTo(ctx, geometry.Location{X: 0, Y: y})
		if err != nil {
			return err
		}
		if pos == prev {
			trace.Logger(ctx).Debug("position unchanged, end of content", "position", pos, "target_y", y)
			break
		}
		prev = pos
		if err := r.captureAt(ctx, pos); err != nil {
			return err
		}
		if err := r.stitchRow(ctx, pos, part.Width, entire.Width); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) stitchRow(ctx context.Context, start geometry.Location, partWidth, entireWidth int) error {
	if partWidth <= 0 {
		return nil
	}
	prev := start
	for x := partWidth; x < entireWidth; x += partWidth {
		pos, err := r.moveTo(ctx, geometry.Location{X: x, Y: start.Y})
		if err != nil {
			return err
		}
		if pos == prev {
			break
		}
		prev = pos
		if err := r.captureAt(ctx, pos); err != nil {
			return err
		}
	}
	return nil
}

// mobileTail swipes down one view at a time. Only the scrollable view changes
// between swipes, so each tile is cropped to the view, shrunk by one pixel at
// its top so no pixel of a header above it leaks in, and pasted at the view's
// screen position plus the resolved scroll offset.
func (r *run) mobileTail(ctx context.Context) error {
	log := trace.Logger(ctx)

	view, err := r.scroller.ScrollableViewRegion(ctx)
	if err != nil {
		return err
	}
	if view.IsEmpty() {
		log.Debug("no scrollable view region, nothing to stitch")
		return nil
	}
	view = geometry.Rect[geometry.Context]{Left: view.Left, Top: view.Top + 1, Width: view.Width, Height: view.Height - 1}
	r.regionInShot = geometry.ContextToScreenshot(view, r.pixelRatio)
	log.Debug("capturing tail parts", "view", view, "in_screenshot", r.regionInShot)

	last := geometry.Origin
	for {
		if err := ctx.Err(); err != nil {
			return apperrors.Wrap(err, apperrors.Cancelled, "stitch interrupted")
		}
		pos, err := r.scroller.ScrollDown(ctx)
		if err != nil {
			return err
		}
		if pos == last {
			log.Debug("scroll had no effect, end of content", "position", pos)
			return nil
		}
		last = pos

		at := geometry.ContextToContent(view, pos).Location()
		part, err := r.grab(ctx, at)
		if err != nil {
			return err
		}
		r.paste(ctx, part, at)
	}
}
