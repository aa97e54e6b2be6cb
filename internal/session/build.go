package session

import (
	"context"
	"image"

	"github.com/GriffinCanCode/pagestitch/internal/capture"
	"github.com/GriffinCanCode/pagestitch/internal/cdp"
	"github.com/GriffinCanCode/pagestitch/internal/compare"
	"github.com/GriffinCanCode/pagestitch/internal/config"
	"github.com/GriffinCanCode/pagestitch/internal/driver"
	apperrors "github.com/GriffinCanCode/pagestitch/internal/errors"
	"github.com/GriffinCanCode/pagestitch/internal/geometry"
	"github.com/GriffinCanCode/pagestitch/internal/match"
	"github.com/GriffinCanCode/pagestitch/internal/position"
	"github.com/GriffinCanCode/pagestitch/internal/raster"
	"github.com/GriffinCanCode/pagestitch/internal/remote"
	"github.com/GriffinCanCode/pagestitch/internal/resilience"
	"github.com/GriffinCanCode/pagestitch/internal/screen"
	"github.com/GriffinCanCode/pagestitch/internal/sim"
	"github.com/GriffinCanCode/pagestitch/internal/trace"
)

// Simulated surfaces.
var (
	SimViewport   = geometry.Size{Width: 800, Height: 600}
	SimScreen     = geometry.Size{Width: 390, Height: 844}
	SimStatusBar  = 100
	SimBandHeight = 120
)

// driverSurface is what a driver contributes before the stitcher is built.
type driverSurface struct {
	images     raster.ImageProvider
	provider   position.Provider
	scroller   position.Scroller
	title      match.TitleFunc
	viewport   geometry.Size
	pixelRatio float64
	close      func() error
}

// FromConfig connects to the configured driver and comparator and returns a
// ready session.
func FromConfig(ctx context.Context, cfg *config.Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := trace.Logger(ctx)

	platform, err := driver.ParsePlatform(cfg.Platform)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ConfigInvalid, "platform")
	}
	mode, err := position.ParseStitchMode(cfg.StitchMode)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ConfigInvalid, "stitch mode")
	}

	ds, err := openDriver(ctx, cfg, platform, mode)
	if err != nil {
		return nil, err
	}
	var s *Session
	cmp, closeCmp, err := NewComparator(cfg, remote.WithStateHook(func(from, to resilience.State) {
		if s != nil {
			s.ComparatorStateChanged(from, to)
		}
	}))
	if err != nil {
		if ds.close != nil {
			_ = ds.close()
		}
		return nil, err
	}

	dpr := ds.pixelRatio
	if cfg.DevicePixelRatio > 0 {
		dpr = cfg.DevicePixelRatio
	}
	s = New(Surface{
		Images:     ds.images,
		Title:      ds.title,
		PixelRatio: dpr,
		Overlap:    cfg.StitchOverlap,
		Close:      ds.close,
	}, cmp, cfg.MatchTimeout)
	if closeCmp != nil {
		s.closers = append(s.closers, closeCmp)
	}

	opts := []capture.Option{
		capture.WithWait(cfg.WaitBeforeScreenshots),
		capture.WithScaleFactory(raster.ContextScaleFactory(ds.viewport, dpr)),
		capture.WithDebug(capture.NewDebugSaver(cfg.DebugScreenshotsDir)),
		capture.WithTileHook(s.TileHook),
	}
	if cut := (raster.FixedCut{Header: cfg.CutHeader, Footer: cfg.CutFooter, Left: cfg.CutLeft, Right: cfg.CutRight}); !cut.IsZero() {
		opts = append(opts, capture.WithCut(cut))
	}
	switch {
	case ds.scroller != nil:
		s.surface.Stitcher = capture.NewMobile(ds.images, ds.scroller, opts...)
	case ds.provider != nil:
		s.surface.Stitcher = capture.NewWeb(ds.images, ds.provider, opts...)
	}

	log.Info("session ready", "driver", cfg.Driver, "platform", platform, "stitch_mode", mode,
		"viewport", ds.viewport, "pixel_ratio", dpr, "comparator", cfg.Comparator)
	return s, nil
}

func openDriver(ctx context.Context, cfg *config.Config, platform driver.Platform, mode position.StitchMode) (driverSurface, error) {
	switch cfg.Driver {
	case "cdp":
		if platform.Mobile() {
			return driverSurface{}, apperrors.Newf(apperrors.ConfigInvalid, "DRIVER=cdp cannot drive %s", platform)
		}
		return openCDP(ctx, cfg.CDPURL, mode)
	case "sim":
		return openSim(cfg, platform, mode)
	case "desktop":
		c := screen.New()
		return driverSurface{
			images:   c,
			provider: position.Null{},
			close:    func() error { c.Close(); return nil },
		}, nil
	}
	return driverSurface{}, apperrors.Newf(apperrors.ConfigInvalid, "unknown driver %q", cfg.Driver)
}

func openCDP(ctx context.Context, url string, mode position.StitchMode) (driverSurface, error) {
	c, err := cdp.Dial(ctx, url)
	if err != nil {
		return driverSurface{}, err
	}
	vp, err := c.Viewport(ctx)
	if err != nil {
		_ = c.Close()
		return driverSurface{}, err
	}
	return driverSurface{
		images:     c,
		provider:   webProvider(c, mode),
		title:      c.Title,
		viewport:   vp.Size,
		pixelRatio: vp.PixelRatio,
		close:      c.Close,
	}, nil
}

func webProvider(exec driver.ScriptExecutor, mode position.StitchMode) position.Provider {
	if mode == position.ModeCSS {
		return position.NewCSSTranslate(exec)
	}
	return position.NewScroll(exec)
}

func openSim(cfg *config.Config, platform driver.Platform, mode position.StitchMode) (driverSurface, error) {
	dpr := cfg.DevicePixelRatio
	if dpr <= 0 {
		dpr = 1
	}
	if !platform.Mobile() {
		page := sim.RenderPage(geometry.Size{Width: SimViewport.Width, Height: cfg.SimPageHeight}, SimBandHeight)
		b, err := sim.NewBrowser(sim.BrowserConfig{Page: page, Viewport: SimViewport, PixelRatio: dpr, Title: "simulated page"})
		if err != nil {
			return driverSurface{}, err
		}
		return driverSurface{
			images:     b,
			provider:   webProvider(b, mode),
			title:      b.Title,
			viewport:   b.ViewportSize(),
			pixelRatio: b.PixelRatio(),
		}, nil
	}

	content := sim.RenderPage(geometry.Size{Width: SimScreen.Width, Height: cfg.SimPageHeight}, SimBandHeight)
	d := sim.NewDevice(sim.DeviceConfig{
		Platform:   platform,
		Screen:     SimScreen,
		PixelRatio: dpr,
		View:       geometry.Rect[geometry.Context]{Top: SimStatusBar, Width: SimScreen.Width, Height: SimScreen.Height - SimStatusBar},
		Content:    content,
	})
	var images raster.ImageProvider = d
	if cfg.RotateLandscape {
		images = raster.Rotated(d, LandscapeOrientation(platform, d))
	}
	var scroller position.Scroller = position.NewMobile(d)
	if platform == driver.Android {
		scroller = position.NewAndroid(d)
	}
	return driverSurface{
		images:     images,
		scroller:   scroller,
		viewport:   SimScreen,
		pixelRatio: dpr,
	}, nil
}

// landscapeReporter is the part of a mobile driver that knows the orientation.
type landscapeReporter interface {
	Landscape(ctx context.Context) (bool, error)
}

// LandscapeOrientation turns portrait captures from a landscape device
// upright: clockwise on Android, counter-clockwise on iOS.
func LandscapeOrientation(platform driver.Platform, d landscapeReporter) raster.OrientationFunc {
	return func(ctx context.Context, img image.Image) (int, error) {
		landscape, err := d.Landscape(ctx)
		if err != nil || !landscape {
			return 0, err
		}
		b := img.Bounds()
		if b.Dx() >= b.Dy() {
			return 0, nil
		}
		if platform == driver.IOS {
			return -90, nil
		}
		return 90, nil
	}
}

// NewComparator builds the configured comparator and a closer for it, which
// is nil for local comparators. opts only apply to a remote comparator.
func NewComparator(cfg *config.Config, opts ...remote.Option) (match.Comparator, func() error, error) {
	if cfg.Comparator == "remote" {
		c, err := remote.Dial(cfg.ComparatorAddr, opts...)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	}
	return LocalComparator(cfg), nil, nil
}

// LocalComparator compares against baselines in BaselineDir. It is what
// COMPARATOR_LISTEN serves, so COMPARATOR=remote falls back to phash here.
func LocalComparator(cfg *config.Config) match.Comparator {
	store := compare.NewDirStore(cfg.BaselineDir)
	if cfg.Comparator == "pixel" {
		return compare.NewPixel(store, cfg.PixelTolerance, 0)
	}
	return compare.NewPerceptual(store, cfg.MaxHashDistance)
}
