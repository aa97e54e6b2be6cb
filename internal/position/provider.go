// Package position reads and drives the scroll offset of the surface being
// captured. A session picks exactly one Provider variant up front: page
// scrolling or CSS translation for web content, gesture-driven providers for
// native mobile views.
package position

import (
	"context"
	"fmt"
	"strings"

	"github.com/GriffinCanCode/pagestitch/internal/geometry"
)

// Provider gets and sets the logical offset of the visible window within the
// scrollable content. Implementations report zero position and zero size when
// there is nothing to scroll; static content is a valid state.
type Provider interface {
	CurrentPosition(ctx context.Context) (geometry.Location, error)
	// SetPosition is best effort. Gesture-driven providers may be unable to
	// reach arbitrary offsets and log a warning instead of failing.
	SetPosition(ctx context.Context, loc geometry.Location) error
	EntireSize(ctx context.Context) (geometry.Size, error)
	State(ctx context.Context) (Memento, error)
	RestoreState(ctx context.Context, m Memento) error
}

// Scroller is a Provider for native views that can only be moved with
// relative gestures.
type Scroller interface {
	Provider
	// ScrollDown performs one downward gesture and returns the resolved
	// position relative to the scrollable view. An unchanged position means
	// the end of the content was reached.
	ScrollDown(ctx context.Context) (geometry.Location, error)
	// ScrollableViewRegion is the on-screen region of the scrollable view.
	ScrollableViewRegion(ctx context.Context) (geometry.Rect[geometry.Context], error)
}

// Memento is an opaque snapshot of a provider's position state.
type Memento struct {
	position  geometry.Location
	transform string
}

// Position is the offset captured by the snapshot.
func (m Memento) Position() geometry.Location { return m.position }

func (m Memento) String() string { return "memento" + m.position.String() }

// StitchMode selects the web provider variant.
type StitchMode int

const (
	// ModeScroll moves the page with window.scrollTo.
	ModeScroll StitchMode = iota
	// ModeCSS moves the page with a CSS translate on the root element, which
	// keeps native scrollbars out of the captures.
	ModeCSS
)

func (m StitchMode) String() string {
	if m == ModeCSS {
		return "css"
	}
	return "scroll"
}

// ParseStitchMode parses "scroll" or "css".
func ParseStitchMode(s string) (StitchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "scroll":
		return ModeScroll, nil
	case "css":
		return ModeCSS, nil
	}
	return ModeScroll, fmt.Errorf("unknown stitch mode %q", s)
}

// Null is a Provider for content that cannot scroll.
type Null struct{}

func (Null) CurrentPosition(context.Context) (geometry.Location, error) { return geometry.Origin, nil }
func (Null) SetPosition(context.Context, geometry.Location) error       { return nil }
func (Null) EntireSize(context.Context) (geometry.Size, error)          { return geometry.Size{}, nil }
func (Null) State(context.Context) (Memento, error)                     { return Memento{}, nil }
func (Null) RestoreState(context.Context, Memento) error                { return nil }
