package sim

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/pagestitch/internal/driver"
	apperrors "github.com/GriffinCanCode/pagestitch/internal/errors"
	"github.com/GriffinCanCode/pagestitch/internal/geometry"
	"github.com/GriffinCanCode/pagestitch/internal/raster"
)

// prelude models the parts of the DOM the position scripts touch: the window
// scroll offsets, scrollTo with clamping, the root element's scroll sizes and
// its inline style.
const prelude = `
var window = this;
var __pw = __config.pageWidth, __ph = __config.pageHeight;
var __vw = __config.viewportWidth, __vh = __config.viewportHeight;
window.innerWidth = __vw;
window.innerHeight = __vh;
window.devicePixelRatio = __config.pixelRatio;
window.scrollX = 0;
window.scrollY = 0;
var document = {
  title: __config.title,
  documentElement: {
    clientWidth: __vw, clientHeight: __vh,
    scrollWidth: __pw, scrollHeight: __ph,
    scrollLeft: 0, scrollTop: 0,
    style: { transform: '', webkitTransform: '' }
  },
  body: { scrollWidth: __pw, scrollHeight: __ph }
};
window.document = document;
window.scrollTo = function (x, y) {
  var mx = Math.max(0, __pw - __vw), my = Math.max(0, __ph - __vh);
  x = Math.min(Math.max(0, Math.floor(Number(x) || 0)), mx);
  y = Math.min(Math.max(0, Math.floor(Number(y) || 0)), my);
  window.scrollX = x;
  window.scrollY = y;
  document.documentElement.scrollLeft = x;
  document.documentElement.scrollTop = y;
};
`

// BrowserConfig describes a simulated tab.
type BrowserConfig struct {
	// Page is the whole document in logical pixels.
	Page       image.Image
	Viewport   geometry.Size
	PixelRatio float64
	Title      string
}

// Browser runs page scripts in a JavaScript VM and screenshots the part of
// Page the VM's scroll and transform state puts in the viewport. It
// implements driver.ScriptExecutor and raster.ImageProvider.
type Browser struct {
	mu  sync.Mutex
	vm  *goja.Runtime
	cfg BrowserConfig
}

// NewBrowser starts a simulated tab scrolled to the origin.
func NewBrowser(cfg BrowserConfig) (*Browser, error) {
	if cfg.Page == nil {
		return nil, apperrors.New(apperrors.InvalidArgument, "simulated browser needs a page")
	}
	if cfg.PixelRatio <= 0 {
		cfg.PixelRatio = 1
	}
	b := cfg.Page.Bounds()
	vm := goja.New()
	if err := vm.Set("__config", map[string]any{
		"pageWidth":      b.Dx(),
		"pageHeight":     b.Dy(),
		"viewportWidth":  cfg.Viewport.Width,
		"viewportHeight": cfg.Viewport.Height,
		"pixelRatio":     cfg.PixelRatio,
		"title":          cfg.Title,
	}); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal, "configure simulated browser")
	}
	if _, err := vm.RunString(prelude); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal, "load simulated DOM")
	}
	return &Browser{vm: vm, cfg: cfg}, nil
}

// ExecuteScript runs script as a function body with args bound to arguments.
func (b *Browser) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Cancelled, "execute script")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.run(script, args...)
}

func (b *Browser) run(script string, args ...any) (any, error) {
	if err := b.vm.Set("__args", b.vm.NewArray(args...)); err != nil {
		return nil, apperrors.Wrap(err, apperrors.DriverOperation, "bind script arguments")
	}
	v, err := b.vm.RunString("(function(){" + script + "}).apply(null, __args)")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.DriverOperation, "script threw")
	}
	return v.Export(), nil
}

// viewportOrigin is where the viewport's top-left corner sits on the page:
// the scroll offset minus any translation of the root element.
func (b *Browser) viewportOrigin() (geometry.Location, error) {
	v, err := b.run(`return [window.scrollX, window.scrollY, document.documentElement.style.transform || ''];`)
	if err != nil {
		return geometry.Origin, err
	}
	vals, ok := v.([]any)
	if !ok || len(vals) != 3 {
		return geometry.Origin, apperrors.Newf(apperrors.Internal, "unexpected DOM state %v", v)
	}
	xy, err := driver.ToInts(vals[:2], 2)
	if err != nil {
		return geometry.Origin, apperrors.Wrap(err, apperrors.Internal, "read scroll offsets")
	}
	var tx, ty int
	if s, _ := vals[2].(string); s != "" {
		if _, err := fmt.Sscanf(s, "translate(%dpx, %dpx)", &tx, &ty); err != nil {
			return geometry.Origin, apperrors.Wrapf(err, apperrors.DriverOperation, "unsupported transform %q", s)
		}
	}
	return geometry.Location{X: xy[0] - tx, Y: xy[1] - ty}, nil
}

// Image renders the viewport in device pixels. Areas past the page's edges
// are white.
func (b *Browser) Image(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Cancelled, "screenshot")
	}
	b.mu.Lock()
	origin, err := b.viewportOrigin()
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	screen := raster.NewCanvas(b.cfg.Viewport)
	raster.Fill(screen, screen.Bounds(), color.White)
	view := geometry.NewRect[geometry.Content](origin, b.cfg.Viewport)
	pb := b.cfg.Page.Bounds()
	visible := view.Intersect(geometry.Rect[geometry.Content]{Width: pb.Dx(), Height: pb.Dy()})
	if !visible.IsEmpty() {
		part := raster.Crop(b.cfg.Page, visible.Image())
		raster.Paste(screen, part, geometry.ContentToContext(visible, origin).Location().Point())
	}
	return raster.Scale(screen, b.cfg.PixelRatio), nil
}

// Title returns the page title.
func (b *Browser) Title(context.Context) (string, error) {
	return b.cfg.Title, nil
}

// PixelRatio returns the simulated devicePixelRatio.
func (b *Browser) PixelRatio() float64 { return b.cfg.PixelRatio }

// ViewportSize returns the logical viewport.
func (b *Browser) ViewportSize() geometry.Size { return b.cfg.Viewport }
