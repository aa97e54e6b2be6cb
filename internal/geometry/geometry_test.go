package geometry

import (
	"image"
	"testing"
)

func TestRectIntersect(t *testing.T) {
	tests := []struct {
		name string
		a, b Rect[Content]
		want Rect[Content]
	}{
		{"overlap", Rect[Content]{0, 0, 100, 100}, Rect[Content]{50, 50, 100, 100}, Rect[Content]{50, 50, 50, 50}},
		{"contained", Rect[Content]{0, 0, 100, 100}, Rect[Content]{10, 20, 30, 40}, Rect[Content]{10, 20, 30, 40}},
		{"disjoint", Rect[Content]{0, 0, 10, 10}, Rect[Content]{20, 20, 10, 10}, Rect[Content]{}},
		{"touching", Rect[Content]{0, 0, 10, 10}, Rect[Content]{10, 0, 10, 10}, Rect[Content]{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Intersect(tt.b); got != tt.want {
				t.Errorf("Intersect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestContextScreenshotRoundTrip(t *testing.T) {
	r := Rect[Context]{Left: 10, Top: 20, Width: 300, Height: 150}

	shot := ContextToScreenshot(r, 2)
	if shot != (Rect[Screenshot]{Left: 20, Top: 40, Width: 600, Height: 300}) {
		t.Fatalf("ContextToScreenshot() = %v", shot)
	}

	back := ScreenshotToContext(shot, 2)
	if back != r {
		t.Errorf("ScreenshotToContext() = %v, want %v", back, r)
	}
}

func TestContentContextConversion(t *testing.T) {
	r := Rect[Content]{Left: 0, Top: 900, Width: 100, Height: 50}
	scroll := Location{X: 0, Y: 800}

	ctx := ContentToContext(r, scroll)
	if ctx.Top != 100 {
		t.Errorf("context top = %d, want 100", ctx.Top)
	}
	if got := ContextToContent(ctx, scroll); got != r {
		t.Errorf("ContextToContent() = %v, want %v", got, r)
	}
}

func TestScreenshotToContextZeroRatio(t *testing.T) {
	r := Rect[Screenshot]{Left: 1, Top: 2, Width: 3, Height: 4}
	if got := ScreenshotToContext(r, 0); got != (Rect[Context]{1, 2, 3, 4}) {
		t.Errorf("zero ratio should behave as 1, got %v", got)
	}
}

func TestRectString(t *testing.T) {
	r := Rect[Screenshot]{Left: 1, Top: 2, Width: 3, Height: 4}
	if got := r.String(); got != "screenshot(1, 2 3x4)" {
		t.Errorf("String() = %q", got)
	}
}

func TestFromImage(t *testing.T) {
	r := FromImage[Content](image.Rect(5, 6, 15, 26))
	if r.Size() != (Size{Width: 10, Height: 20}) || r.Location() != (Location{X: 5, Y: 6}) {
		t.Errorf("FromImage() = %v", r)
	}
}

func TestLocationHelpers(t *testing.T) {
	l := Location{X: 3, Y: 4}
	if !Origin.IsZero() || l.IsZero() {
		t.Error("IsZero mismatch")
	}
	if got := l.Add(Location{X: 1, Y: 1}).Sub(Location{X: 2, Y: 2}); got != (Location{X: 2, Y: 3}) {
		t.Errorf("Add/Sub = %v", got)
	}
	if got := l.Scale(1.5); got != (Location{X: 5, Y: 6}) {
		t.Errorf("Scale(1.5) = %v", got)
	}
}

func TestSizeHelpers(t *testing.T) {
	a, b := Size{Width: 100, Height: 50}, Size{Width: 80, Height: 70}
	if a.Covers(b) {
		t.Error("a should not cover b")
	}
	if got := a.Max(b); got != (Size{Width: 100, Height: 70}) {
		t.Errorf("Max() = %v", got)
	}
	if !(Size{Width: 0, Height: 10}).IsEmpty() {
		t.Error("zero width should be empty")
	}
}
