// Package driver declares the narrow automation surface the capture engine
// consumes: script execution for web pages and gesture/element primitives for
// native mobile views. Concrete implementations live in cdp, sim and screen.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/GriffinCanCode/pagestitch/internal/geometry"
)

var (
	// ErrNoScrollableView is returned when the screen has no scrollable surface.
	// Callers treat it as static content, not a failure.
	ErrNoScrollableView = errors.New("driver: no scrollable view")
	// ErrNoSuchElement is returned when an element id no longer resolves.
	ErrNoSuchElement = errors.New("driver: no such element")
)

// ScriptExecutor runs JavaScript in the page under test. Scripts read their
// parameters from `arguments` and hand back a value with `return`.
type ScriptExecutor interface {
	ExecuteScript(ctx context.Context, script string, args ...any) (any, error)
}

// ElementID identifies a native element within one driver session.
type ElementID string

// Direction of a scroll gesture.
type Direction string

const (
	Up    Direction = "up"
	Down  Direction = "down"
	Left  Direction = "left"
	Right Direction = "right"
)

// MobileDriver is the subset of a native automation session the mobile
// position providers need. Element rectangles are in logical pixels relative
// to the screen; ViewportSize is in device pixels.
type MobileDriver interface {
	ScrollableView(ctx context.Context) (ElementID, error)
	FirstVisibleChild(ctx context.Context, view ElementID) (ElementID, error)
	ElementRect(ctx context.Context, el ElementID) (geometry.Rect[geometry.Context], error)
	Attribute(ctx context.Context, el ElementID, name string) (string, error)

	// Scroll performs a directional swipe inside view covering distance times
	// the view's height.
	Scroll(ctx context.Context, view ElementID, dir Direction, distance float64) error
	// Drag presses at from, moves to to and releases.
	Drag(ctx context.Context, from, to geometry.Location) error
	// ScrollBackTo scrolls view until child, an element seen earlier, is visible again.
	ScrollBackTo(ctx context.Context, view, child ElementID) error

	// SessionDetail returns a session-scoped value such as "lastScrollData",
	// or nil when the platform did not report one.
	SessionDetail(ctx context.Context, key string) (any, error)
	ViewportSize(ctx context.Context) (geometry.Size, error)
	PixelRatio(ctx context.Context) (float64, error)
	Landscape(ctx context.Context) (bool, error)
}

// Platform is the kind of surface under test.
type Platform int

const (
	Web Platform = iota
	IOS
	Android
)

func (p Platform) String() string {
	switch p {
	case IOS:
		return "ios"
	case Android:
		return "android"
	default:
		return "web"
	}
}

// ParsePlatform parses "web", "ios" or "android" (case-insensitive).
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "web":
		return Web, nil
	case "ios":
		return IOS, nil
	case "android":
		return Android, nil
	}
	return Web, fmt.Errorf("unknown platform %q", s)
}

// Mobile reports whether p is a native mobile platform.
func (p Platform) Mobile() bool { return p == IOS || p == Android }
