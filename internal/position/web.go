package position

import (
	"context"
	"fmt"

	"github.com/GriffinCanCode/pagestitch/internal/driver"
	apperrors "github.com/GriffinCanCode/pagestitch/internal/errors"
	"github.com/GriffinCanCode/pagestitch/internal/geometry"
	"github.com/GriffinCanCode/pagestitch/internal/trace"
)

const (
	currentScrollScript = `var doc = document.documentElement;
var x = window.scrollX, y = window.scrollY;
if (x === undefined || y === undefined) { x = doc.scrollLeft; y = doc.scrollTop; }
return [x, y];`

	setScrollScript = `window.scrollTo(arguments[0], arguments[1]);`

	entireSizeScript = `var doc = document.documentElement, body = document.body;
var w = Math.max(doc.clientWidth, doc.scrollWidth, body ? body.scrollWidth : 0);
var h = Math.max(doc.clientHeight, doc.scrollHeight, body ? body.scrollHeight : 0);
return [w, h];`

	getTransformScript = `return document.documentElement.style.transform || '';`

	setTransformScript = `var s = document.documentElement.style;
s.transform = arguments[0];
s.webkitTransform = arguments[0];`
)

func entireSize(ctx context.Context, exec driver.ScriptExecutor) (geometry.Size, error) {
	v, err := exec.ExecuteScript(ctx, entireSizeScript)
	if err != nil {
		return geometry.Size{}, apperrors.Wrap(err, apperrors.DriverOperation, "read entire size")
	}
	wh, err := driver.ToInts(v, 2)
	if err != nil {
		return geometry.Size{}, apperrors.Wrap(err, apperrors.DriverOperation, "parse entire size")
	}
	return geometry.Size{Width: wh[0], Height: wh[1]}, nil
}

// Scroll moves a web page with the browser's own scroll offset.
type Scroll struct {
	exec driver.ScriptExecutor
}

// NewScroll returns a page-scroll provider.
func NewScroll(exec driver.ScriptExecutor) *Scroll {
	return &Scroll{exec: exec}
}

func (s *Scroll) CurrentPosition(ctx context.Context) (geometry.Location, error) {
	v, err := s.exec.ExecuteScript(ctx, currentScrollScript)
	if err != nil {
		return geometry.Origin, apperrors.Wrap(err, apperrors.DriverOperation, "read scroll position")
	}
	xy, err := driver.ToInts(v, 2)
	if err != nil {
		return geometry.Origin, apperrors.Wrap(err, apperrors.DriverOperation, "parse scroll position")
	}
	return geometry.Location{X: xy[0], Y: xy[1]}, nil
}

func (s *Scroll) SetPosition(ctx context.Context, loc geometry.Location) error {
	trace.Logger(ctx).Debug("scrolling", "to", loc)
	if _, err := s.exec.ExecuteScript(ctx, setScrollScript, loc.X, loc.Y); err != nil {
		return apperrors.Wrapf(err, apperrors.DriverOperation, "scroll to %s", loc)
	}
	return nil
}

func (s *Scroll) EntireSize(ctx context.Context) (geometry.Size, error) {
	return entireSize(ctx, s.exec)
}

func (s *Scroll) State(ctx context.Context) (Memento, error) {
	loc, err := s.CurrentPosition(ctx)
	if err != nil {
		return Memento{}, err
	}
	return Memento{position: loc}, nil
}

func (s *Scroll) RestoreState(ctx context.Context, m Memento) error {
	return s.SetPosition(ctx, m.position)
}

// CSSTranslate moves a web page by translating the root element. The page's
// real scroll offset is never touched, so the current position is the last
// translation applied.
type CSSTranslate struct {
	exec driver.ScriptExecutor
	last geometry.Location
}

// NewCSSTranslate returns a CSS-translate provider.
func NewCSSTranslate(exec driver.ScriptExecutor) *CSSTranslate {
	return &CSSTranslate{exec: exec}
}

func translate(loc geometry.Location) string {
	return fmt.Sprintf("translate(%dpx, %dpx)", -loc.X, -loc.Y)
}

func (c *CSSTranslate) CurrentPosition(context.Context) (geometry.Location, error) {
	return c.last, nil
}

func (c *CSSTranslate) SetPosition(ctx context.Context, loc geometry.Location) error {
	trace.Logger(ctx).Debug("translating", "to", loc)
	if _, err := c.exec.ExecuteScript(ctx, setTransformScript, translate(loc)); err != nil {
		return apperrors.Wrapf(err, apperrors.DriverOperation, "translate to %s", loc)
	}
	c.last = loc
	return nil
}

func (c *CSSTranslate) EntireSize(ctx context.Context) (geometry.Size, error) {
	return entireSize(ctx, c.exec)
}

func (c *CSSTranslate) State(ctx context.Context) (Memento, error) {
	v, err := c.exec.ExecuteScript(ctx, getTransformScript)
	if err != nil {
		return Memento{}, apperrors.Wrap(err, apperrors.DriverOperation, "read transform")
	}
	transform, _ := v.(string)
	return Memento{position: c.last, transform: transform}, nil
}

func (c *CSSTranslate) RestoreState(ctx context.Context, m Memento) error {
	if _, err := c.exec.ExecuteScript(ctx, setTransformScript, m.transform); err != nil {
		return apperrors.Wrap(err, apperrors.DriverOperation, "restore transform")
	}
	c.last = m.position
	return nil
}
