package sim

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/GriffinCanCode/pagestitch/internal/driver"
	apperrors "github.com/GriffinCanCode/pagestitch/internal/errors"
	"github.com/GriffinCanCode/pagestitch/internal/geometry"
	"github.com/GriffinCanCode/pagestitch/internal/raster"
)

const (
	viewID  driver.ElementID = "scroll-view"
	childID driver.ElementID = "first-child"
)

// DeviceConfig describes a simulated phone screen with one scrollable view.
type DeviceConfig struct {
	Platform driver.Platform
	// Screen is the logical screen size as the user sees it. A Landscape
	// device is wider than tall and captures in portrait sensor orientation.
	Screen     geometry.Size
	PixelRatio float64
	// View is the scrollable view's rectangle on screen. An empty View
	// simulates a screen without anything to scroll.
	View geometry.Rect[geometry.Context]
	// Gap is the distance from the view's top to its first child.
	Gap int
	// Content is what scrolls inside the view, in logical pixels.
	Content image.Image
	// TouchPadding is reported in contentSize and keeps drags off the edges.
	TouchPadding int
	// ItemCount switches Android telemetry to index-only reports over
	// ItemCount uniform rows.
	ItemCount int
	Landscape bool
}

// Device is a simulated phone. It implements driver.MobileDriver and
// raster.ImageProvider.
type Device struct {
	mu      sync.Mutex
	cfg     DeviceConfig
	offset  int
	lastRaw map[string]any
}

// NewDevice returns a device scrolled to the top.
func NewDevice(cfg DeviceConfig) *Device {
	if cfg.PixelRatio <= 0 {
		cfg.PixelRatio = 1
	}
	return &Device{cfg: cfg}
}

func (d *Device) contentHeight() int {
	if d.cfg.Content == nil {
		return 0
	}
	return d.cfg.Content.Bounds().Dy()
}

// overflow is how far the content can scroll.
func (d *Device) overflow() int {
	return max(0, d.cfg.Gap+d.contentHeight()-d.cfg.View.Height)
}

func (d *Device) scrollBy(delta int) {
	d.offset = min(max(0, d.offset+delta), d.overflow())
}

// Offset returns the current scroll offset.
func (d *Device) Offset() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.offset
}

func (d *Device) ScrollableView(context.Context) (driver.ElementID, error) {
	if d.cfg.View.IsEmpty() {
		return "", driver.ErrNoScrollableView
	}
	return viewID, nil
}

func (d *Device) FirstVisibleChild(_ context.Context, view driver.ElementID) (driver.ElementID, error) {
	if view != viewID {
		return "", driver.ErrNoSuchElement
	}
	return childID, nil
}

func (d *Device) ElementRect(_ context.Context, el driver.ElementID) (geometry.Rect[geometry.Context], error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.cfg.View
	switch el {
	case viewID:
		return v, nil
	case childID:
		return geometry.Rect[geometry.Context]{Left: v.Left, Top: v.Top + d.cfg.Gap - d.offset, Width: v.Width, Height: d.contentHeight()}, nil
	}
	return geometry.Rect[geometry.Context]{}, driver.ErrNoSuchElement
}

func (d *Device) Attribute(_ context.Context, el driver.ElementID, name string) (string, error) {
	if el != viewID || name != "contentSize" {
		return "", nil
	}
	v := d.cfg.View
	raw, err := json.Marshal(map[string]int{
		"left":             v.Left,
		"top":              v.Top,
		"width":            v.Width,
		"height":           v.Height,
		"scrollableOffset": d.overflow(),
		"touchPadding":     d.cfg.TouchPadding,
	})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Scroll moves the view by distance viewport heights.
func (d *Device) Scroll(_ context.Context, view driver.ElementID, dir driver.Direction, distance float64) error {
	if view != viewID {
		return driver.ErrNoSuchElement
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delta := int(math.Round(distance * float64(d.cfg.Screen.Height)))
	switch dir {
	case driver.Down:
		d.scrollBy(delta)
	case driver.Up:
		d.scrollBy(-delta)
	}
	return nil
}

// Drag pulls the content by the vertical distance between from and to.
func (d *Device) Drag(_ context.Context, from, to geometry.Location) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scrollBy(from.Y - to.Y)
	d.lastRaw = d.telemetry()
	return nil
}

func (d *Device) telemetry() map[string]any {
	if d.cfg.ItemCount <= 0 {
		return map[string]any{"scrollX": 0, "scrollY": d.offset, "toIndex": 0, "itemCount": 0}
	}
	perRow := max(1, d.overflow()/d.cfg.ItemCount)
	return map[string]any{"scrollX": -1, "scrollY": -1, "toIndex": d.offset / perRow, "itemCount": d.cfg.ItemCount}
}

func (d *Device) ScrollBackTo(_ context.Context, view, child driver.ElementID) error {
	if view != viewID || child != childID {
		return driver.ErrNoSuchElement
	}
	d.mu.Lock()
	d.offset = 0
	d.lastRaw = nil
	d.mu.Unlock()
	return nil
}

func (d *Device) SessionDetail(_ context.Context, key string) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if key != "lastScrollData" || d.lastRaw == nil {
		return nil, nil
	}
	return d.lastRaw, nil
}

func (d *Device) ViewportSize(context.Context) (geometry.Size, error) {
	return d.cfg.Screen.Scale(d.cfg.PixelRatio), nil
}

func (d *Device) PixelRatio(context.Context) (float64, error) {
	return d.cfg.PixelRatio, nil
}

func (d *Device) Landscape(context.Context) (bool, error) {
	return d.cfg.Landscape, nil
}

// Image renders the screen in device pixels: a grey status area around the
// view and the content scrolled inside it. In landscape the capture comes
// back in sensor orientation, the way real devices report it.
func (d *Device) Image(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Cancelled, "screenshot")
	}
	d.mu.Lock()
	offset := d.offset
	d.mu.Unlock()

	screen := raster.NewCanvas(d.cfg.Screen)
	raster.Fill(screen, screen.Bounds(), color.Gray{Y: 128})
	v := d.cfg.View
	if !v.IsEmpty() && d.cfg.Content != nil {
		view := raster.NewCanvas(v.Size())
		raster.Fill(view, view.Bounds(), color.White)
		cb := d.cfg.Content.Bounds()
		// content row r is drawn at view row Gap + r - offset
		top := offset - d.cfg.Gap
		src := image.Rect(0, max(0, top), cb.Dx(), min(cb.Dy(), top+v.Height))
		if !src.Empty() {
			raster.Paste(view, raster.Crop(d.cfg.Content, src), image.Pt(0, src.Min.Y-top))
		}
		raster.Paste(screen, view, v.Location().Point())
	}

	var img image.Image = raster.Scale(screen, d.cfg.PixelRatio)
	if d.cfg.Landscape {
		img = raster.Rotate(img, -d.uprightRotation())
	}
	return img, nil
}

// uprightRotation is the clockwise turn that brings a landscape capture from
// this platform upright.
func (d *Device) uprightRotation() int {
	if d.cfg.Platform == driver.IOS {
		return -90
	}
	return 90
}
