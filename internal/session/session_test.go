package session

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/GriffinCanCode/pagestitch/internal/config"
	"github.com/GriffinCanCode/pagestitch/internal/driver"
	apperrors "github.com/GriffinCanCode/pagestitch/internal/errors"
	"github.com/GriffinCanCode/pagestitch/internal/geometry"
	"github.com/GriffinCanCode/pagestitch/internal/match"
	"github.com/GriffinCanCode/pagestitch/internal/raster"
	"github.com/GriffinCanCode/pagestitch/internal/resilience"
	"github.com/GriffinCanCode/pagestitch/internal/sim"
)

func simConfig(t *testing.T, platform string) *config.Config {
	t.Helper()
	return &config.Config{
		LogLevel:        "info",
		Driver:          "sim",
		StitchMode:      "scroll",
		Platform:        platform,
		StitchOverlap:   50,
		MatchTimeout:    2 * time.Second,
		Comparator:      "phash",
		BaselineDir:     t.TempDir(),
		MaxHashDistance: 0,
		SimPageHeight:   1500,
		RotateLandscape: true,
	}
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func countType(events []Event, typ string) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestFromConfigSimWeb(t *testing.T) {
	ctx := context.Background()
	s, err := FromConfig(ctx, simConfig(t, "web"))
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	defer s.Close()

	req := CheckRequest{Tag: "home", FullPage: true}
	res, err := s.Check(ctx, req)
	if err != nil {
		t.Fatalf("first Check: %v", err)
	}
	if !res.AsExpected || !res.NewBaseline {
		t.Errorf("first check = %+v, want a new baseline", res)
	}
	if got := geometry.SizeOf(s.LastScreenshot().Bounds()); got != (geometry.Size{Width: 800, Height: 1500}) {
		t.Errorf("stitched screenshot = %v, want 800x1500", got)
	}

	res, err = s.Check(ctx, req)
	if err != nil {
		t.Fatalf("second Check: %v", err)
	}
	if !res.AsExpected || res.NewBaseline {
		t.Errorf("second check = %+v, want a plain match", res)
	}

	events := drain(s.Events())
	if countType(events, EventCheckStart) != 2 || countType(events, EventResult) != 2 {
		t.Errorf("events = %+v", events)
	}
	// 600px viewport, 550px steps, last step clamped: three tiles per stitch
	if n := countType(events, EventTile); n != 6 {
		t.Errorf("tile events = %d, want 6", n)
	}
	if n := len(s.Results()); n != 2 {
		t.Errorf("results = %d, want 2", n)
	}
}

func TestFromConfigSimViewport(t *testing.T) {
	ctx := context.Background()
	s, err := FromConfig(ctx, simConfig(t, "web"))
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	defer s.Close()

	region := geometry.Rect[geometry.Context]{Left: 10, Top: 20, Width: 100, Height: 50}
	if _, err := s.Check(ctx, CheckRequest{Tag: "header", Region: region}); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got := geometry.SizeOf(s.LastScreenshot().Bounds()); got != region.Size() {
		t.Errorf("screenshot = %v, want %v", got, region.Size())
	}
	if s.LastScreenshotBounds() != region {
		t.Errorf("bounds = %v, want %v", s.LastScreenshotBounds(), region)
	}
}

func TestFromConfigSimMobile(t *testing.T) {
	for _, platform := range []string{"ios", "android"} {
		t.Run(platform, func(t *testing.T) {
			s, err := FromConfig(context.Background(), simConfig(t, platform))
			if err != nil {
				t.Fatalf("FromConfig: %v", err)
			}
			defer s.Close()
			if _, err := s.Check(context.Background(), CheckRequest{Tag: "list", FullPage: true}); err != nil {
				t.Fatalf("Check: %v", err)
			}
			// status bar plus the whole content
			want := geometry.Size{Width: SimScreen.Width, Height: SimStatusBar + 1500}
			if got := geometry.SizeOf(s.LastScreenshot().Bounds()); got != want {
				t.Errorf("stitched = %v, want %v", got, want)
			}
		})
	}
}

func TestFromConfigRejectsInvalid(t *testing.T) {
	cfg := simConfig(t, "web")
	cfg.Driver = "cdp"
	cfg.Platform = "ios"
	if _, err := FromConfig(context.Background(), cfg); !apperrors.IsCode(err, apperrors.ConfigInvalid) {
		t.Errorf("cdp on ios: err = %v, want CONFIG_INVALID", err)
	}

	cfg = simConfig(t, "web")
	cfg.StitchMode = "zoom"
	if _, err := FromConfig(context.Background(), cfg); !apperrors.IsCode(err, apperrors.ConfigInvalid) {
		t.Errorf("bad mode: err = %v, want CONFIG_INVALID", err)
	}
}

// blockingComparator holds every comparison until release is closed.
type blockingComparator struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingComparator) Compare(ctx context.Context, _ match.CompareRequest) (match.Result, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
		return match.Result{AsExpected: true}, nil
	case <-ctx.Done():
		return match.Result{}, ctx.Err()
	}
}

func testSurface(t *testing.T) Surface {
	t.Helper()
	b, err := sim.NewBrowser(sim.BrowserConfig{
		Page:     sim.RenderPage(geometry.Size{Width: 100, Height: 300}, 30),
		Viewport: geometry.Size{Width: 100, Height: 100},
	})
	if err != nil {
		t.Fatal(err)
	}
	return Surface{Images: b, Title: b.Title, PixelRatio: 1}
}

func TestCheckBusy(t *testing.T) {
	cmp := &blockingComparator{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := New(testSurface(t), cmp, time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := s.Check(context.Background(), CheckRequest{Tag: "slow"})
		done <- err
	}()
	<-cmp.started

	if _, err := s.Check(context.Background(), CheckRequest{Tag: "second"}); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent Check err = %v, want ErrBusy", err)
	}

	close(cmp.release)
	if err := <-done; err != nil {
		t.Fatalf("first Check: %v", err)
	}
	if _, err := s.Check(context.Background(), CheckRequest{Tag: "third"}); err != nil {
		t.Errorf("Check after release: %v", err)
	}
}

type failingComparator struct{}

func (failingComparator) Compare(context.Context, match.CompareRequest) (match.Result, error) {
	return match.Result{}, apperrors.New(apperrors.ComparatorFailed, "backend down")
}

func TestCheckErrorIsReported(t *testing.T) {
	s := New(testSurface(t), failingComparator{}, time.Second)
	_, err := s.Check(context.Background(), CheckRequest{Tag: "broken"})
	if !apperrors.IsCode(err, apperrors.ComparatorFailed) {
		t.Fatalf("err = %v, want COMPARATOR_FAILED", err)
	}
	results := s.Results()
	if len(results) != 1 || results[0].Type != EventError || results[0].Tag != "broken" {
		t.Errorf("results = %+v", results)
	}
}

func TestComparatorStateIsStreamed(t *testing.T) {
	s := New(testSurface(t), failingComparator{}, time.Second)
	s.ComparatorStateChanged(resilience.Closed, resilience.Open)

	events := drain(s.Events())
	if len(events) != 1 || events[0].Type != EventComparator || events[0].State != "open" {
		t.Errorf("events = %+v", events)
	}
	if len(s.Results()) != 0 {
		t.Errorf("state change was kept as a result")
	}
}

func TestFullPageWithoutStitcherFallsBack(t *testing.T) {
	cmp := &blockingComparator{started: make(chan struct{}, 1), release: make(chan struct{})}
	close(cmp.release)
	s := New(testSurface(t), cmp, time.Second)
	if _, err := s.Check(context.Background(), CheckRequest{Tag: "x", FullPage: true}); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got := geometry.SizeOf(s.LastScreenshot().Bounds()); got != (geometry.Size{Width: 100, Height: 100}) {
		t.Errorf("screenshot = %v, want the viewport", got)
	}
}

type fixedLandscape bool

func (f fixedLandscape) Landscape(context.Context) (bool, error) { return bool(f), nil }

func TestLandscapeOrientation(t *testing.T) {
	portrait := image.NewRGBA(image.Rect(0, 0, 10, 40))
	wide := image.NewRGBA(image.Rect(0, 0, 40, 10))

	tests := []struct {
		platform  driver.Platform
		landscape bool
		img       image.Image
		want      int
	}{
		{driver.Android, true, portrait, 90},
		{driver.IOS, true, portrait, -90},
		{driver.Android, true, wide, 0},
		{driver.IOS, false, portrait, 0},
	}
	for _, tt := range tests {
		got, err := LandscapeOrientation(tt.platform, fixedLandscape(tt.landscape))(context.Background(), tt.img)
		if err != nil || got != tt.want {
			t.Errorf("%s landscape=%v %v: got %d, %v; want %d", tt.platform, tt.landscape, tt.img.Bounds(), got, err, tt.want)
		}
	}
}

func TestLandscapeDeviceCapturesUpright(t *testing.T) {
	for _, platform := range []driver.Platform{driver.Android, driver.IOS} {
		d := sim.NewDevice(sim.DeviceConfig{Platform: platform, Screen: geometry.Size{Width: 40, Height: 10}, Landscape: true})
		img, err := raster.Rotated(d, LandscapeOrientation(platform, d)).Image(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if got := geometry.SizeOf(img.Bounds()); got != (geometry.Size{Width: 40, Height: 10}) {
			t.Errorf("%s: upright capture = %v, want 40x10", platform, got)
		}
	}
}
