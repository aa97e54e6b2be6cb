package position

import (
	"context"
	"errors"

	"github.com/GriffinCanCode/pagestitch/internal/driver"
	apperrors "github.com/GriffinCanCode/pagestitch/internal/errors"
	"github.com/GriffinCanCode/pagestitch/internal/geometry"
	"github.com/GriffinCanCode/pagestitch/internal/trace"
)

// maxDirectionalScrolls bounds SetPosition's gesture loop.
const maxDirectionalScrolls = 50

// Mobile drives a native scrollable view with directional swipes. The
// position is derived from where the view's first visible child has moved
// to, so it is only as accurate as the platform's element rectangles.
type Mobile struct {
	driver driver.MobileDriver
	cache  SurfaceCache
}

// NewMobile returns a gesture-driven provider.
func NewMobile(d driver.MobileDriver) *Mobile {
	return &Mobile{driver: d}
}

func noView(err error) bool {
	return errors.Is(err, driver.ErrNoScrollableView) || errors.Is(err, driver.ErrNoSuchElement)
}

func (m *Mobile) view(ctx context.Context) (driver.ElementID, error) {
	id, err := m.driver.ScrollableView(ctx)
	if err != nil {
		return "", err
	}
	if m.cache.Track(id) {
		trace.Logger(ctx).Debug("tracking new scrollable view", "view", id)
	}
	return id, nil
}

func (m *Mobile) firstVisibleChild(ctx context.Context, view driver.ElementID) (driver.ElementID, error) {
	if id, ok := m.cache.FirstChild(); ok {
		return id, nil
	}
	trace.Logger(ctx).Debug("first visible child not cached, looking it up")
	id, err := m.driver.FirstVisibleChild(ctx, view)
	if err != nil {
		return "", err
	}
	m.cache.setFirstChild(id)
	return id, nil
}

// viewGeometry returns the view's rectangle and the vertical scroll gap.
func (m *Mobile) viewGeometry(ctx context.Context) (geometry.Rect[geometry.Context], int, error) {
	view, err := m.view(ctx)
	if err != nil {
		return geometry.Rect[geometry.Context]{}, 0, err
	}
	vr, err := m.driver.ElementRect(ctx, view)
	if err != nil {
		return geometry.Rect[geometry.Context]{}, 0, err
	}
	gap, ok := m.cache.ScrollGap()
	if !ok {
		child, err := m.firstVisibleChild(ctx, view)
		if err != nil {
			return geometry.Rect[geometry.Context]{}, 0, err
		}
		cr, err := m.driver.ElementRect(ctx, child)
		if err != nil {
			return geometry.Rect[geometry.Context]{}, 0, err
		}
		gap = cr.Top - vr.Top
		m.cache.setScrollGap(gap)
	}
	return vr, gap, nil
}

// ScrollableViewRegion is the view's rectangle with the vertical scroll gap
// removed from its top. A screen without a scrollable view yields an empty region.
func (m *Mobile) ScrollableViewRegion(ctx context.Context) (geometry.Rect[geometry.Context], error) {
	vr, gap, err := m.viewGeometry(ctx)
	if noView(err) {
		trace.Logger(ctx).Warn("no scrollable view, using empty region")
		return geometry.Rect[geometry.Context]{}, nil
	}
	if err != nil {
		return geometry.Rect[geometry.Context]{}, apperrors.Wrap(err, apperrors.DriverOperation, "scrollable view region")
	}
	return geometry.Rect[geometry.Context]{Left: vr.Left, Top: vr.Top + gap, Width: vr.Width, Height: vr.Height - gap}, nil
}

func (m *Mobile) CurrentPosition(ctx context.Context) (geometry.Location, error) {
	vr, gap, err := m.viewGeometry(ctx)
	if noView(err) {
		return geometry.Origin, nil
	}
	if err != nil {
		return geometry.Origin, apperrors.Wrap(err, apperrors.DriverOperation, "current position")
	}
	child, err := m.firstVisibleChild(ctx, m.cache.surface)
	if err != nil {
		return geometry.Origin, apperrors.Wrap(err, apperrors.DriverOperation, "first visible child")
	}
	cr, err := m.driver.ElementRect(ctx, child)
	if err != nil {
		return geometry.Origin, apperrors.Wrap(err, apperrors.DriverOperation, "first visible child rect")
	}
	anchor := geometry.Location{X: vr.Left, Y: vr.Top + gap}
	return anchor.Sub(cr.Location()), nil
}

// SetPosition swipes toward loc one view-height at a time, vertical axis
// first, and stops as soon as a swipe has no effect. Native views cannot be
// placed at an exact offset, so overshoot is possible and not reported.
func (m *Mobile) SetPosition(ctx context.Context, loc geometry.Location) error {
	log := trace.Logger(ctx)
	log.Warn("native views cannot reliably scroll to an absolute location", "to", loc)

	view, err := m.view(ctx)
	if noView(err) {
		return nil
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.DriverOperation, "set position")
	}
	cur, err := m.CurrentPosition(ctx)
	if err != nil {
		return err
	}

	axes := []struct {
		get      func(geometry.Location) int
		forward  driver.Direction
		backward driver.Direction
	}{
		{func(l geometry.Location) int { return l.Y }, driver.Down, driver.Up},
		{func(l geometry.Location) int { return l.X }, driver.Right, driver.Left},
	}
	for _, axis := range axes {
		want := axis.get(loc)
		for i := 0; i < maxDirectionalScrolls && axis.get(cur) != want; i++ {
			dir := axis.forward
			if axis.get(cur) > want {
				dir = axis.backward
			}
			if err := m.driver.Scroll(ctx, view, dir, 1); err != nil {
				return apperrors.Wrapf(err, apperrors.DriverOperation, "scroll %s", dir)
			}
			last := cur
			if cur, err = m.CurrentPosition(ctx); err != nil {
				return err
			}
			log.Debug("scrolled", "direction", dir, "position", cur)
			if axis.get(cur) == axis.get(last) {
				break
			}
			if (dir == axis.forward) != (axis.get(cur) < want) {
				break
			}
		}
	}
	return nil
}

// EntireSize is the screen-relative extent of the view's content: the view's
// bottom edge pushed down by its hidden overflow.
func (m *Mobile) EntireSize(ctx context.Context) (geometry.Size, error) {
	return m.entireSize(ctx)
}

func (m *Mobile) entireSize(ctx context.Context) (geometry.Size, error) {
	vr, _, err := m.viewGeometry(ctx)
	if noView(err) {
		return geometry.Size{}, nil
	}
	if err != nil {
		return geometry.Size{}, apperrors.Wrap(err, apperrors.DriverOperation, "entire size")
	}
	cs, err := m.contentSize(ctx)
	if err != nil {
		trace.Logger(ctx).Warn("could not read contentSize", "error", err)
		return geometry.Size{}, nil
	}
	return geometry.Size{Width: vr.Right(), Height: vr.Bottom() + cs.ScrollableOffset}, nil
}

func (m *Mobile) contentSize(ctx context.Context) (ContentSize, error) {
	view, err := m.view(ctx)
	if err != nil {
		return ContentSize{}, err
	}
	raw, err := m.driver.Attribute(ctx, view, "contentSize")
	if err != nil {
		return ContentSize{}, err
	}
	return ParseContentSize(raw)
}

func (m *Mobile) State(ctx context.Context) (Memento, error) {
	loc, err := m.CurrentPosition(ctx)
	if err != nil {
		return Memento{}, err
	}
	return Memento{position: loc}, nil
}

// RestoreState is a no-op: swipes cannot reliably return to a saved offset.
func (m *Mobile) RestoreState(ctx context.Context, _ Memento) error {
	trace.Logger(ctx).Warn("native scroll position cannot be restored reliably")
	return nil
}

// distanceRatio converts one view-height of travel, less the row the stitcher
// drops at the view's top, into the swipe distance the driver expects,
// relative to the full viewport.
func (m *Mobile) distanceRatio(ctx context.Context) float64 {
	if r := m.cache.DistanceRatio(); r > 0 {
		return r
	}
	ratio := 1.0
	region, err := m.ScrollableViewRegion(ctx)
	viewport, verr := m.driver.ViewportSize(ctx)
	dpr, derr := m.driver.PixelRatio(ctx)
	if err == nil && verr == nil && derr == nil && viewport.Height > 0 && region.Height > 1 {
		if dpr <= 0 {
			dpr = 1
		}
		ratio = float64(region.Height-1) * dpr / float64(viewport.Height)
	}
	trace.Logger(ctx).Debug("scroll distance ratio", "ratio", ratio, "viewport", viewport, "region", region)
	m.cache.setDistanceRatio(ratio)
	return ratio
}

func (m *Mobile) ScrollDown(ctx context.Context) (geometry.Location, error) {
	view, err := m.view(ctx)
	if noView(err) {
		return geometry.Origin, nil
	}
	if err != nil {
		return geometry.Origin, apperrors.Wrap(err, apperrors.DriverOperation, "scroll down")
	}
	if err := m.driver.Scroll(ctx, view, driver.Down, m.distanceRatio(ctx)); err != nil {
		return geometry.Origin, apperrors.Wrap(err, apperrors.DriverOperation, "scroll down")
	}
	return m.CurrentPosition(ctx)
}
