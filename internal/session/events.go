package session

import (
	"time"

	"github.com/GriffinCanCode/pagestitch/internal/match"
	"github.com/GriffinCanCode/pagestitch/internal/syncx"
)

// Event types.
const (
	EventCheckStart = "check_start"
	EventTile       = "tile"
	EventAttempt    = "attempt"
	EventResult     = "result"
	EventError      = "error"
	EventComparator = "comparator_state"
)

// Event reports progress of a check to websocket clients.
type Event struct {
	Type       string        `json:"type"`
	Time       time.Time     `json:"time"`
	Tag        string        `json:"tag,omitempty"`
	TraceID    string        `json:"trace_id,omitempty"`
	Tile       *TileInfo     `json:"tile,omitempty"`
	Attempt    int           `json:"attempt,omitempty"`
	Result     *match.Result `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	State      string        `json:"state,omitempty"`
	DurationMS int64         `json:"duration_ms,omitempty"`
}

// TileInfo describes one stitched tile.
type TileInfo struct {
	Index  int `json:"index"`
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// EventLog fans events out to one consumer channel and keeps the most recent
// check outcomes for the results endpoint.
type EventLog struct {
	results *syncx.RWGuard[[]Event]
	maxSize int
	ch      chan Event
	now     func() time.Time
}

// NewEventLog keeps up to maxResults outcomes and buffers buffer events.
func NewEventLog(maxResults, buffer int) *EventLog {
	return &EventLog{
		results: syncx.NewGuard(make([]Event, 0, maxResults)),
		maxSize: maxResults,
		ch:      make(chan Event, buffer),
		now:     time.Now,
	}
}

// Emit records e and offers it to the consumer without blocking. Events are
// dropped when nobody keeps up.
func (l *EventLog) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = l.now()
	}
	if e.Type == EventResult || e.Type == EventError {
		l.results.Write(func(r *[]Event) {
			*r = append(*r, e)
			if len(*r) > l.maxSize {
				*r = (*r)[len(*r)-l.maxSize:]
			}
		})
	}
	select {
	case l.ch <- e:
	default:
	}
}

// Events returns the channel progress events are delivered on.
func (l *EventLog) Events() <-chan Event {
	return l.ch
}

// Results returns a copy of the recent outcomes, oldest first.
func (l *EventLog) Results() []Event {
	return syncx.Read(l.results, func(r []Event) []Event {
		out := make([]Event, len(r))
		copy(out, r)
		return out
	})
}
