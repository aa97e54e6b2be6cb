// Package geometry defines locations, sizes and regions tagged with the
// coordinate space they live in.
//
// Three spaces exist:
//   - Content: logical pixels relative to the top-left of the scrollable content.
//   - Context: logical pixels relative to the top-left of the visible viewport.
//   - Screenshot: device pixels of a raw capture, exactly as the driver returned it.
//
// Only ContextToScreenshot and ScreenshotToContext apply a pixel ratio, so a
// region can be scaled at most once on its way into an image.
package geometry

import (
	"fmt"
	"image"
	"math"
)

// Location is an integer (x, y) offset.
type Location struct {
	X, Y int
}

// Origin is the top-left corner of any space.
var Origin = Location{}

// IsZero reports whether l is the origin.
func (l Location) IsZero() bool { return l.X == 0 && l.Y == 0 }

// Offset returns l moved by (dx, dy).
func (l Location) Offset(dx, dy int) Location { return Location{X: l.X + dx, Y: l.Y + dy} }

// Add returns l + o.
func (l Location) Add(o Location) Location { return l.Offset(o.X, o.Y) }

// Sub returns l - o.
func (l Location) Sub(o Location) Location { return l.Offset(-o.X, -o.Y) }

// Scale multiplies both coordinates by ratio, rounding to the nearest pixel.
func (l Location) Scale(ratio float64) Location {
	return Location{X: scaleInt(l.X, ratio), Y: scaleInt(l.Y, ratio)}
}

// Point converts to an image.Point.
func (l Location) Point() image.Point { return image.Pt(l.X, l.Y) }

func (l Location) String() string { return fmt.Sprintf("(%d, %d)", l.X, l.Y) }

// ForFilename renders l as "x_y".
func (l Location) ForFilename() string { return fmt.Sprintf("%d_%d", l.X, l.Y) }

// Size is a width/height pair.
type Size struct {
	Width, Height int
}

// IsEmpty reports whether either dimension is non-positive.
func (s Size) IsEmpty() bool { return s.Width <= 0 || s.Height <= 0 }

// Scale multiplies both dimensions by ratio, rounding to the nearest pixel.
func (s Size) Scale(ratio float64) Size {
	return Size{Width: scaleInt(s.Width, ratio), Height: scaleInt(s.Height, ratio)}
}

// Covers reports whether s is at least as large as o in both dimensions.
func (s Size) Covers(o Size) bool { return s.Width >= o.Width && s.Height >= o.Height }

// Max returns the per-dimension maximum of s and o.
func (s Size) Max(o Size) Size {
	return Size{Width: max(s.Width, o.Width), Height: max(s.Height, o.Height)}
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// SizeOf returns the size of an image.Rectangle.
func SizeOf(r image.Rectangle) Size { return Size{Width: r.Dx(), Height: r.Dy()} }

func scaleInt(v int, ratio float64) int {
	return int(math.Round(float64(v) * ratio))
}
