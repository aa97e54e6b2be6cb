package position

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/GriffinCanCode/pagestitch/internal/driver"
	"github.com/GriffinCanCode/pagestitch/internal/geometry"
	"github.com/GriffinCanCode/pagestitch/internal/trace"
)

// ScrollTelemetry is what a mobile platform reports about its last scroll
// gesture. ScrollX and ScrollY are -1 for list and grid views, which report
// item indexes instead of offsets.
type ScrollTelemetry struct {
	ScrollX    int `json:"scrollX"`
	ScrollY    int `json:"scrollY"`
	MaxScrollX int `json:"maxScrollX"`
	MaxScrollY int `json:"maxScrollY"`
	FromIndex  int `json:"fromIndex"`
	ToIndex    int `json:"toIndex"`
	ItemCount  int `json:"itemCount"`
}

// HasOffsets reports whether the telemetry carries real scroll offsets.
func (t ScrollTelemetry) HasOffsets() bool { return t.ScrollX >= 0 && t.ScrollY >= 0 }

var requiredTelemetry = []string{"scrollX", "scrollY", "toIndex", "itemCount"}

// ParseTelemetry decodes a "lastScrollData" session value. It accepts a
// decoded object or its JSON text. A nil value yields ok == false.
func ParseTelemetry(v any) (t ScrollTelemetry, ok bool, err error) {
	var fields map[string]any
	switch raw := v.(type) {
	case nil:
		return t, false, nil
	case map[string]any:
		fields = raw
	case string:
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return t, false, fmt.Errorf("decode telemetry: %w", err)
		}
	case []byte:
		if err := json.Unmarshal(raw, &fields); err != nil {
			return t, false, fmt.Errorf("decode telemetry: %w", err)
		}
	default:
		return t, false, fmt.Errorf("unexpected telemetry type %T", v)
	}
	if fields == nil {
		return t, false, nil
	}
	for _, k := range requiredTelemetry {
		if _, present := fields[k]; !present {
			return t, false, fmt.Errorf("telemetry missing %q", k)
		}
	}

	targets := map[string]*int{
		"scrollX": &t.ScrollX, "scrollY": &t.ScrollY,
		"maxScrollX": &t.MaxScrollX, "maxScrollY": &t.MaxScrollY,
		"fromIndex": &t.FromIndex, "toIndex": &t.ToIndex, "itemCount": &t.ItemCount,
	}
	for k, dst := range targets {
		raw, present := fields[k]
		if !present {
			continue
		}
		n, err := driver.ToInt(raw)
		if err != nil {
			return ScrollTelemetry{}, false, fmt.Errorf("telemetry %q: %w", k, err)
		}
		*dst = n
	}
	return t, true, nil
}

// ContentSize is the geometry a native scrollable view reports through its
// "contentSize" attribute. ScrollableOffset is the hidden overflow below the
// visible part of the view.
type ContentSize struct {
	Height           int `json:"height"`
	Width            int `json:"width"`
	Top              int `json:"top"`
	Left             int `json:"left"`
	ScrollableOffset int `json:"scrollableOffset"`
	TouchPadding     int `json:"touchPadding"`
}

// ParseContentSize decodes the contentSize attribute.
func ParseContentSize(s string) (ContentSize, error) {
	var cs ContentSize
	if s == "" {
		return cs, fmt.Errorf("empty contentSize")
	}
	if err := json.Unmarshal([]byte(s), &cs); err != nil {
		return cs, fmt.Errorf("decode contentSize: %w", err)
	}
	return cs, nil
}

// Estimator resolves where a view ended up after a scroll gesture when the
// platform cannot be trusted to say so. Rules, in order:
//
//  1. Telemetry with non-negative scrollX/scrollY is used as is.
//  2. Missing or unparseable telemetry means the gesture had no effect; the
//     prior position is returned. This cannot tell "already at the end" from
//     "the platform failed to report" and does not try to.
//  3. Index-only telemetry estimates y as floor(overflow/itemCount)*toIndex,
//     assuming rows of uniform height, with x pinned to 0.
type Estimator struct {
	// Overflow returns the view's current hidden overflow. It is called on
	// every index-based estimate so the value is never stale.
	Overflow func(ctx context.Context) (int, error)
}

// Resolve applies the rules to the telemetry reported after a gesture.
func (e Estimator) Resolve(ctx context.Context, prior geometry.Location, raw any) geometry.Location {
	log := trace.Logger(ctx)

	t, ok, err := ParseTelemetry(raw)
	if err != nil {
		log.Warn("unreadable scroll telemetry, assuming no movement", "error", err)
		return prior
	}
	if !ok {
		log.Debug("no scroll telemetry, assuming no movement")
		return prior
	}
	if t.HasOffsets() {
		return geometry.Location{X: t.ScrollX, Y: t.ScrollY}
	}
	if t.ItemCount <= 0 || e.Overflow == nil {
		log.Warn("index telemetry without item count, assuming no movement", "item_count", t.ItemCount)
		return prior
	}
	overflow, err := e.Overflow(ctx)
	if err != nil {
		log.Warn("content overflow unavailable, assuming no movement", "error", err)
		return prior
	}
	y := (overflow / t.ItemCount) * t.ToIndex
	log.Debug("estimated position from item index",
		"overflow", overflow, "item_count", t.ItemCount, "to_index", t.ToIndex, "y", y)
	return geometry.Location{X: 0, Y: y}
}
