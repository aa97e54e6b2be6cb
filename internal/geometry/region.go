package geometry

import (
	"fmt"
	"image"
)

// Space tags a Rect with the coordinate space it is expressed in.
type Space interface {
	spaceName() string
}

// Content is the space of the whole scrollable content, in logical pixels.
type Content struct{}

// Context is the space of the visible viewport, in logical pixels.
type Context struct{}

// Screenshot is the space of a raw captured image, in device pixels.
type Screenshot struct{}

func (Content) spaceName() string    { return "content" }
func (Context) spaceName() string    { return "context" }
func (Screenshot) spaceName() string { return "screenshot" }

// Rect is an axis-aligned region in space S.
type Rect[S Space] struct {
	Left, Top, Width, Height int
}

// NewRect builds a region from a location and a size.
func NewRect[S Space](loc Location, size Size) Rect[S] {
	return Rect[S]{Left: loc.X, Top: loc.Y, Width: size.Width, Height: size.Height}
}

// Location returns the top-left corner.
func (r Rect[S]) Location() Location { return Location{X: r.Left, Y: r.Top} }

// Size returns the region's dimensions.
func (r Rect[S]) Size() Size { return Size{Width: r.Width, Height: r.Height} }

// Right is the exclusive right edge.
func (r Rect[S]) Right() int { return r.Left + r.Width }

// Bottom is the exclusive bottom edge.
func (r Rect[S]) Bottom() int { return r.Top + r.Height }

// IsEmpty reports whether the region covers no pixels.
func (r Rect[S]) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

// Offset moves the region without changing its space.
func (r Rect[S]) Offset(dx, dy int) Rect[S] {
	r.Left += dx
	r.Top += dy
	return r
}

// Intersect returns the overlap of r and o, or an empty region.
func (r Rect[S]) Intersect(o Rect[S]) Rect[S] {
	left, top := max(r.Left, o.Left), max(r.Top, o.Top)
	right, bottom := min(r.Right(), o.Right()), min(r.Bottom(), o.Bottom())
	if right <= left || bottom <= top {
		return Rect[S]{}
	}
	return Rect[S]{Left: left, Top: top, Width: right - left, Height: bottom - top}
}

// Contains reports whether l lies inside r.
func (r Rect[S]) Contains(l Location) bool {
	return l.X >= r.Left && l.X < r.Right() && l.Y >= r.Top && l.Y < r.Bottom()
}

// Image converts to an image.Rectangle.
func (r Rect[S]) Image() image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Right(), r.Bottom())
}

func (r Rect[S]) String() string {
	var s S
	return fmt.Sprintf("%s(%d, %d %dx%d)", s.spaceName(), r.Left, r.Top, r.Width, r.Height)
}

// FromImage wraps an image.Rectangle as a region in space S.
func FromImage[S Space](b image.Rectangle) Rect[S] {
	return Rect[S]{Left: b.Min.X, Top: b.Min.Y, Width: b.Dx(), Height: b.Dy()}
}

// ContentToContext expresses a content region relative to the viewport
// currently scrolled to scroll.
func ContentToContext(r Rect[Content], scroll Location) Rect[Context] {
	return Rect[Context]{Left: r.Left - scroll.X, Top: r.Top - scroll.Y, Width: r.Width, Height: r.Height}
}

// ContextToContent is the inverse of ContentToContext.
func ContextToContent(r Rect[Context], scroll Location) Rect[Content] {
	return Rect[Content]{Left: r.Left + scroll.X, Top: r.Top + scroll.Y, Width: r.Width, Height: r.Height}
}

// ContextToScreenshot scales a logical viewport region into device pixels.
func ContextToScreenshot(r Rect[Context], pixelRatio float64) Rect[Screenshot] {
	loc, size := r.Location().Scale(pixelRatio), r.Size().Scale(pixelRatio)
	return Rect[Screenshot]{Left: loc.X, Top: loc.Y, Width: size.Width, Height: size.Height}
}

// ScreenshotToContext scales device pixels back into logical viewport pixels.
func ScreenshotToContext(r Rect[Screenshot], pixelRatio float64) Rect[Context] {
	if pixelRatio == 0 {
		pixelRatio = 1
	}
	inv := 1 / pixelRatio
	loc, size := r.Location().Scale(inv), r.Size().Scale(inv)
	return Rect[Context]{Left: loc.X, Top: loc.Y, Width: size.Width, Height: size.Height}
}
