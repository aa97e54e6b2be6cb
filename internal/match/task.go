// Package match repeatedly captures the application and submits it to a
// comparator until it matches the baseline or a timeout elapses.
package match

import (
	"context"
	"image"
	"math"
	"time"

	apperrors "github.com/GriffinCanCode/pagestitch/internal/errors"
	"github.com/GriffinCanCode/pagestitch/internal/geometry"
	"github.com/GriffinCanCode/pagestitch/internal/syncx"
	"github.com/GriffinCanCode/pagestitch/internal/trace"
)

// DefaultInterval is the pause between polling attempts. It does not depend
// on the overall timeout.
const DefaultInterval = 500 * time.Millisecond

type lastState struct {
	screenshot image.Image
	bounds     geometry.Rect[geometry.Context]
}

// Task runs checks for one session. Checks must not overlap; the last
// screenshot bookkeeping is guarded so readers on other goroutines see a
// consistent pair.
type Task struct {
	output         AppOutputProvider
	comparator     Comparator
	defaultTimeout time.Duration
	interval       time.Duration
	now            func() time.Time
	sleep          func(context.Context, time.Duration) error

	last *syncx.RWGuard[lastState]
}

// Option configures a Task.
type Option func(*Task)

// WithInterval overrides the polling interval.
func WithInterval(d time.Duration) Option {
	return func(t *Task) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithClock replaces the time source and sleep, for tests.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(t *Task) {
		if now != nil {
			t.now = now
		}
		if sleep != nil {
			t.sleep = sleep
		}
	}
}

// NewTask returns a Task. defaultTimeout is used when a request asks for a
// negative timeout.
func NewTask(output AppOutputProvider, comparator Comparator, defaultTimeout time.Duration, opts ...Option) *Task {
	t := &Task{
		output:         output,
		comparator:     comparator,
		defaultTimeout: max(defaultTimeout, 0),
		interval:       DefaultInterval,
		now:            time.Now,
		sleep:          sleepContext,
		last:           syncx.NewGuard(lastState{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// attempt is the outcome of one capture and compare.
type attempt struct {
	screenshot image.Image
	result     Result
}

// MatchWindow captures and compares until the comparator accepts the capture
// or req.RetryTimeout elapses. When polling ends without a match, one final
// attempt is made so a screen that settled late is not discarded.
func (t *Task) MatchWindow(ctx context.Context, req Request) (Result, error) {
	ctx, span := trace.StartSpan(ctx, "match.window")
	defer span.End()
	log := trace.Logger(ctx)

	timeout := req.RetryTimeout
	if timeout < 0 {
		timeout = t.defaultTimeout
	}
	log.Debug("matching window", "tag", req.Tag, "timeout", timeout, "run_once", req.RunOnceOnTimeout, "ignore_mismatch", req.IgnoreMismatch)

	start := t.now()
	var (
		a   attempt
		err error
	)
	if timeout == 0 || req.RunOnceOnTimeout {
		if req.RunOnceOnTimeout {
			if err := t.sleep(ctx, timeout); err != nil {
				return Result{}, apperrors.Wrap(err, apperrors.Cancelled, "waiting before single check")
			}
		}
		a, err = t.try(ctx, req, req.IgnoreMismatch)
	} else {
		a, err = t.poll(ctx, req, timeout)
	}
	if err != nil {
		return Result{}, err
	}

	span.SetAttr("as_expected", a.result.AsExpected)
	log.Debug("match completed", "tag", req.Tag, "as_expected", a.result.AsExpected, "elapsed", t.now().Sub(start))

	if req.IgnoreMismatch {
		return a.result, nil
	}
	t.record(a.screenshot, req.Region)
	return a.result, nil
}

func (t *Task) poll(ctx context.Context, req Request, timeout time.Duration) (attempt, error) {
	var (
		a        attempt
		attempts int
	)
	start := t.now()
	for t.now().Sub(start) < timeout {
		if err := t.sleep(ctx, t.interval); err != nil {
			return attempt{}, apperrors.Wrap(err, apperrors.Cancelled, "match polling interrupted")
		}
		var err error
		if a, err = t.try(ctx, req, true); err != nil {
			return attempt{}, err
		}
		attempts++
		if a.result.AsExpected {
			return a, nil
		}
	}
	trace.Logger(ctx).Debug("match timed out", "attempts", attempts, "timeout", timeout)

	if req.IgnoreMismatch {
		return a, nil
	}
	return t.try(ctx, req, false)
}

func (t *Task) try(ctx context.Context, req Request, ignoreMismatch bool) (attempt, error) {
	out, err := t.output.AppOutput(ctx, req.Region, t.LastScreenshot())
	if err != nil {
		return attempt{}, err
	}

	settings := ImageSettings{MatchLevel: req.Settings.MatchLevel}
	for _, fn := range req.Settings.Ignore {
		regions, err := fn(ctx, out.Screenshot)
		if err != nil {
			return attempt{}, apperrors.Wrap(err, apperrors.InvalidArgument, "resolve ignore regions")
		}
		settings.IgnoreRegions = append(settings.IgnoreRegions, regions...)
	}

	res, err := t.comparator.Compare(ctx, CompareRequest{
		Screenshot:     out.Screenshot,
		Title:          out.Title,
		Triggers:       req.Triggers,
		Tag:            req.Tag,
		IgnoreMismatch: ignoreMismatch,
		Settings:       settings,
	})
	if err != nil {
		return attempt{}, err
	}
	return attempt{screenshot: out.Screenshot, result: res}, nil
}

// record keeps the accepted screenshot and the bounds triggers are checked
// against: the requested region, else the screenshot's size, else unbounded.
func (t *Task) record(screenshot image.Image, region geometry.Rect[geometry.Context]) {
	t.last.Write(func(s *lastState) {
		if screenshot != nil {
			s.screenshot = screenshot
		}
		switch {
		case !region.IsEmpty():
			s.bounds = region
		case s.screenshot != nil:
			b := s.screenshot.Bounds()
			s.bounds = geometry.Rect[geometry.Context]{Width: b.Dx(), Height: b.Dy()}
		default:
			s.bounds = geometry.Rect[geometry.Context]{Width: math.MaxInt, Height: math.MaxInt}
		}
	})
}

// LastScreenshot is the screenshot of the last non-advisory check, or nil.
func (t *Task) LastScreenshot() image.Image {
	return t.last.Get().screenshot
}

// LastScreenshotBounds is the area the last non-advisory check covered.
func (t *Task) LastScreenshotBounds() geometry.Rect[geometry.Context] {
	return t.last.Get().bounds
}

// RelevantTriggers drops triggers whose location falls outside the last
// screenshot's bounds; they describe input the baseline cannot show.
func (t *Task) RelevantTriggers(triggers []Trigger) []Trigger {
	bounds := t.LastScreenshotBounds()
	if bounds.IsEmpty() {
		return triggers
	}
	var out []Trigger
	for _, tr := range triggers {
		if tr.Kind == TextTrigger || bounds.Contains(tr.Location) {
			out = append(out, tr)
		}
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
