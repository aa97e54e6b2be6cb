package match

import (
	"context"
	"image"
	"time"

	"github.com/GriffinCanCode/pagestitch/internal/geometry"
)

// TriggerKind is the kind of user input that preceded a check.
type TriggerKind string

const (
	MouseTrigger TriggerKind = "mouse"
	TextTrigger  TriggerKind = "text"
)

// Trigger is a recorded user input sent along with a check so the comparator
// can tell the screens apart when replaying a session.
type Trigger struct {
	Kind     TriggerKind                     `json:"kind"`
	Action   string                          `json:"action,omitempty"`
	Control  geometry.Rect[geometry.Context] `json:"control"`
	Location geometry.Location               `json:"location"`
	Text     string                          `json:"text,omitempty"`
}

// RegionFunc computes regions for one captured screenshot. Regions that
// depend on layout must be recomputed on every attempt.
type RegionFunc func(ctx context.Context, screenshot image.Image) ([]geometry.Rect[geometry.Context], error)

// Settings tunes a single comparison.
type Settings struct {
	// MatchLevel is passed through to the comparator ("strict", "layout", ...).
	MatchLevel string
	Ignore     []RegionFunc
}

// ImageSettings are Settings resolved against a concrete screenshot.
type ImageSettings struct {
	MatchLevel    string                            `json:"match_level,omitempty"`
	IgnoreRegions []geometry.Rect[geometry.Context] `json:"ignore_regions,omitempty"`
}

// CompareRequest is one submission to the comparator.
type CompareRequest struct {
	Screenshot     image.Image
	Title          string
	Triggers       []Trigger
	Tag            string
	IgnoreMismatch bool
	Settings       ImageSettings
}

// Result is the comparator's verdict. A timeout without a match is reported
// as AsExpected == false, not as an error.
type Result struct {
	AsExpected bool    `json:"as_expected"`
	Difference float64 `json:"difference"`
	Message    string  `json:"message,omitempty"`
	// NewBaseline is set when no baseline existed and this capture became one.
	NewBaseline bool `json:"new_baseline,omitempty"`
}

// Comparator matches a screenshot against a stored baseline.
type Comparator interface {
	Compare(ctx context.Context, req CompareRequest) (Result, error)
}

// AppOutput is one capture of the application under test.
type AppOutput struct {
	Screenshot image.Image
	Title      string
}

// AppOutputProvider captures the application, restricted to region when it is
// not empty. last is the previously accepted screenshot, nil on the first check.
type AppOutputProvider interface {
	AppOutput(ctx context.Context, region geometry.Rect[geometry.Context], last image.Image) (AppOutput, error)
}

// Request describes one MatchWindow call.
type Request struct {
	Triggers []Trigger
	Region   geometry.Rect[geometry.Context]
	Tag      string
	// RunOnceOnTimeout waits out the whole timeout and then checks once.
	RunOnceOnTimeout bool
	// IgnoreMismatch makes the check advisory: no final attempt after the
	// timeout and no update of the last screenshot.
	IgnoreMismatch bool
	Settings       Settings
	// RetryTimeout bounds polling. Zero checks exactly once; a negative value
	// selects the task default.
	RetryTimeout time.Duration
}
