// Package session binds one surface under test (a browser tab, a device or
// the desktop) to the stitcher, the comparator and the match loop. The
// position provider variant is chosen once, when the session is built.
package session

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/pagestitch/internal/capture"
	"github.com/GriffinCanCode/pagestitch/internal/geometry"
	"github.com/GriffinCanCode/pagestitch/internal/match"
	"github.com/GriffinCanCode/pagestitch/internal/raster"
	"github.com/GriffinCanCode/pagestitch/internal/resilience"
	"github.com/GriffinCanCode/pagestitch/internal/syncx"
	"github.com/GriffinCanCode/pagestitch/internal/trace"
)

// ErrBusy is returned when a check is already running on the session.
var ErrBusy = errors.New("session: a check is already running")

// Event buffering.
const (
	EventBuffer = 256
	MaxResults  = 50
)

// Surface is everything a session needs from its driver.
type Surface struct {
	Images raster.ImageProvider
	// Stitcher captures the full content; nil means viewport-only checks.
	Stitcher   *capture.FullPage
	Title      match.TitleFunc
	PixelRatio float64
	Overlap    int
	// Close releases the driver connection. May be nil.
	Close func() error
}

// CheckRequest is one check of the surface against its baseline.
type CheckRequest struct {
	Tag    string
	Region geometry.Rect[geometry.Context]
	// Timeout bounds retries; negative selects the session default.
	Timeout          time.Duration
	IgnoreMismatch   bool
	RunOnceOnTimeout bool
	// FullPage stitches the whole scrollable content instead of the viewport.
	FullPage      bool
	Triggers      []match.Trigger
	MatchLevel    string
	IgnoreRegions []geometry.Rect[geometry.Context]
}

// Session runs checks one at a time against a single surface.
type Session struct {
	surface    Surface
	comparator match.Comparator
	task       *match.Task
	events     *EventLog
	gate       syncx.Gate
	closers    []func() error
}

type checkKey struct{}

// checkInfo travels with the context of a running check.
type checkInfo struct {
	tag      string
	fullPage bool
	attempts atomic.Int32
}

func infoFrom(ctx context.Context) *checkInfo {
	if ci, ok := ctx.Value(checkKey{}).(*checkInfo); ok {
		return ci
	}
	return &checkInfo{}
}

// New builds a session over surface. The stitcher's tile events are reported
// only when it was built with the session's TileHook.
func New(surface Surface, cmp match.Comparator, defaultTimeout time.Duration, opts ...match.Option) *Session {
	s := &Session{
		surface:    surface,
		comparator: cmp,
		events:     NewEventLog(MaxResults, EventBuffer),
	}
	s.task = match.NewTask(outputs{s}, reporting{s}, defaultTimeout, opts...)
	if surface.Close != nil {
		s.closers = append(s.closers, surface.Close)
	}
	return s
}

// TileHook reports stitched tiles as progress events. Pass it to
// capture.WithTileHook when building the surface's stitcher.
func (s *Session) TileHook(ctx context.Context, t capture.Tile) {
	s.emit(ctx, Event{Type: EventTile, Tile: &TileInfo{
		Index: t.Index, X: t.Position.X, Y: t.Position.Y, Width: t.Size.Width, Height: t.Size.Height,
	}})
}

// ComparatorStateChanged reports a remote comparator's breaker moving
// between states.
func (s *Session) ComparatorStateChanged(_, to resilience.State) {
	s.events.Emit(Event{Type: EventComparator, State: to.String()})
}

func (s *Session) emit(ctx context.Context, e Event) {
	if e.Tag == "" {
		e.Tag = infoFrom(ctx).tag
	}
	if tc, ok := trace.FromContext(ctx); ok {
		e.TraceID = tc.TraceID
	}
	s.events.Emit(e)
}

// Check captures and compares until the baseline matches or the timeout
// expires. It returns ErrBusy when another check holds the session.
func (s *Session) Check(ctx context.Context, req CheckRequest) (match.Result, error) {
	release, ok := s.gate.Enter()
	if !ok {
		return match.Result{}, ErrBusy
	}
	defer release()

	ctx, span := trace.StartSpan(ctx, "session.check")
	defer span.End()
	span.SetAttr("tag", req.Tag)
	log := trace.Logger(ctx)

	fullPage := req.FullPage && s.surface.Stitcher != nil
	if req.FullPage && !fullPage {
		log.Warn("surface cannot stitch, checking the viewport only", "tag", req.Tag)
	}
	ctx = context.WithValue(ctx, checkKey{}, &checkInfo{tag: req.Tag, fullPage: fullPage})
	s.emit(ctx, Event{Type: EventCheckStart})

	var settings match.Settings
	settings.MatchLevel = req.MatchLevel
	if len(req.IgnoreRegions) > 0 {
		regions := req.IgnoreRegions
		settings.Ignore = []match.RegionFunc{func(context.Context, image.Image) ([]geometry.Rect[geometry.Context], error) {
			return regions, nil
		}}
	}

	start := time.Now()
	res, err := s.task.MatchWindow(ctx, match.Request{
		Triggers:         s.task.RelevantTriggers(req.Triggers),
		Region:           req.Region,
		Tag:              req.Tag,
		RunOnceOnTimeout: req.RunOnceOnTimeout,
		IgnoreMismatch:   req.IgnoreMismatch,
		Settings:         settings,
		RetryTimeout:     req.Timeout,
	})
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		log.Error("check failed", "tag", req.Tag, "error", err)
		s.emit(ctx, Event{Type: EventError, Error: err.Error(), DurationMS: elapsed})
		return match.Result{}, err
	}
	log.Info("check done", "tag", req.Tag, "as_expected", res.AsExpected, "new_baseline", res.NewBaseline, "duration_ms", elapsed)
	s.emit(ctx, Event{Type: EventResult, Result: &res, DurationMS: elapsed})
	return res, nil
}

// LastScreenshot is the last non-advisory capture, or nil.
func (s *Session) LastScreenshot() image.Image { return s.task.LastScreenshot() }

// LastScreenshotBounds is the area the last non-advisory check covered.
func (s *Session) LastScreenshotBounds() geometry.Rect[geometry.Context] {
	return s.task.LastScreenshotBounds()
}

// Events returns the progress event stream.
func (s *Session) Events() <-chan Event { return s.events.Events() }

// Results returns the most recent check outcomes.
func (s *Session) Results() []Event { return s.events.Results() }

// Comparator returns the comparator checks are sent to.
func (s *Session) Comparator() match.Comparator { return s.comparator }

// Close releases the driver and comparator connections.
func (s *Session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// outputs picks the stitched or viewport capture per check.
type outputs struct{ s *Session }

func (o outputs) AppOutput(ctx context.Context, region geometry.Rect[geometry.Context], last image.Image) (match.AppOutput, error) {
	sf := o.s.surface
	if infoFrom(ctx).fullPage {
		return match.StitchedOutput{Stitcher: sf.Stitcher, Overlap: sf.Overlap, Title: sf.Title}.AppOutput(ctx, region, last)
	}
	return match.ViewportOutput{Images: sf.Images, PixelRatio: sf.PixelRatio, Title: sf.Title}.AppOutput(ctx, region, last)
}

// reporting forwards to the comparator and reports every attempt.
type reporting struct{ s *Session }

func (r reporting) Compare(ctx context.Context, req match.CompareRequest) (match.Result, error) {
	res, err := r.s.comparator.Compare(ctx, req)
	if err == nil {
		n := infoFrom(ctx).attempts.Add(1)
		r.s.emit(ctx, Event{Type: EventAttempt, Attempt: int(n), Result: &res})
	}
	return res, err
}
