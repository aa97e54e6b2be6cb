package position

import (
	"context"

	"github.com/GriffinCanCode/pagestitch/internal/driver"
	apperrors "github.com/GriffinCanCode/pagestitch/internal/errors"
	"github.com/GriffinCanCode/pagestitch/internal/geometry"
	"github.com/GriffinCanCode/pagestitch/internal/trace"
)

// Android tracks the scroll offset itself because Android views do not
// report one. Tracking starts at the origin; each downward drag is resolved
// through the Estimator from the session's lastScrollData. The only absolute
// move supported is back to the origin, by scrolling back to the first child
// seen there.
type Android struct {
	*Mobile
	pos       geometry.Location
	estimator Estimator
}

// NewAndroid returns a provider for Android scrollable views.
func NewAndroid(d driver.MobileDriver) *Android {
	a := &Android{Mobile: NewMobile(d)}
	a.estimator = Estimator{Overflow: a.overflow}
	return a
}

// overflow re-reads the view's hidden overflow.
func (a *Android) overflow(ctx context.Context) (int, error) {
	cs, err := a.contentSize(ctx)
	if err != nil {
		return 0, err
	}
	return cs.ScrollableOffset, nil
}

func (a *Android) CurrentPosition(context.Context) (geometry.Location, error) {
	return a.pos, nil
}

func (a *Android) SetPosition(ctx context.Context, loc geometry.Location) error {
	log := trace.Logger(ctx)
	if loc == a.pos {
		log.Debug("already at the desired position")
		return nil
	}
	if !loc.IsZero() {
		log.Warn("android views can only be scrolled back to the origin", "to", loc, "current", a.pos)
		return nil
	}

	view, err := a.view(ctx)
	if noView(err) {
		log.Debug("no scrollable view, resetting tracked position")
		a.resetTracking()
		return nil
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.DriverOperation, "set position")
	}
	child, cached := a.cache.FirstChild()
	if !cached {
		log.Warn("first visible child was never seen, origin may not be reachable")
		if child, err = a.firstVisibleChild(ctx, view); err != nil {
			return apperrors.Wrap(err, apperrors.DriverOperation, "first visible child")
		}
	}
	log.Debug("scrolling back to first visible child", "child", child)
	if err := a.driver.ScrollBackTo(ctx, view, child); err != nil {
		return apperrors.Wrap(err, apperrors.DriverOperation, "scroll back to first child")
	}
	a.resetTracking()
	return nil
}

func (a *Android) resetTracking() {
	a.pos = geometry.Origin
	a.cache.Reset()
}

func (a *Android) State(context.Context) (Memento, error) {
	return Memento{position: a.pos}, nil
}

func (a *Android) RestoreState(ctx context.Context, m Memento) error {
	return a.SetPosition(ctx, m.position)
}

// ScrollDown drags from just above the bottom of the view to its top, inset
// by the platform's touch padding, then resolves the new offset.
func (a *Android) ScrollDown(ctx context.Context) (geometry.Location, error) {
	log := trace.Logger(ctx)

	view, err := a.view(ctx)
	if noView(err) {
		return a.pos, nil
	}
	if err != nil {
		return a.pos, apperrors.Wrap(err, apperrors.DriverOperation, "scroll down")
	}
	vr, err := a.driver.ElementRect(ctx, view)
	if err != nil {
		return a.pos, apperrors.Wrap(err, apperrors.DriverOperation, "scrollable view rect")
	}
	padding := 0
	if cs, err := a.contentSize(ctx); err == nil {
		padding = cs.TouchPadding
	} else {
		log.Debug("contentSize unavailable, dragging without touch padding", "error", err)
	}

	x := vr.Left + vr.Width/2
	from := geometry.Location{X: x, Y: vr.Bottom() - padding - 1}
	to := geometry.Location{X: x, Y: vr.Top + padding}
	if err := a.driver.Drag(ctx, from, to); err != nil {
		return a.pos, apperrors.Wrap(err, apperrors.DriverOperation, "drag")
	}

	raw, err := a.driver.SessionDetail(ctx, "lastScrollData")
	if err != nil {
		log.Warn("could not read lastScrollData", "error", err)
		raw = nil
	}
	a.pos = a.estimator.Resolve(ctx, a.pos, raw)
	log.Debug("scrolled down", "position", a.pos)
	return a.pos, nil
}
