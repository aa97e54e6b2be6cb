package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/pagestitch/internal/config"
	apperrors "github.com/GriffinCanCode/pagestitch/internal/errors"
	"github.com/GriffinCanCode/pagestitch/internal/geometry"
	"github.com/GriffinCanCode/pagestitch/internal/match"
	"github.com/GriffinCanCode/pagestitch/internal/session"
)

// mockChecker for testing.
type mockChecker struct {
	mu       sync.Mutex
	requests []session.CheckRequest
	result   match.Result
	err      error
	shot     image.Image
	bounds   geometry.Rect[geometry.Context]
	results  []session.Event
	events   chan session.Event
}

func newMockChecker() *mockChecker {
	return &mockChecker{
		result: match.Result{AsExpected: true, Difference: 0.5},
		events: make(chan session.Event, 10),
	}
}

func (m *mockChecker) Check(_ context.Context, req session.CheckRequest) (match.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	return m.result, m.err
}

func (m *mockChecker) lastRequest(t *testing.T) session.CheckRequest {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		t.Fatal("no check reached the session")
	}
	return m.requests[len(m.requests)-1]
}

func (m *mockChecker) LastScreenshot() image.Image                          { return m.shot }
func (m *mockChecker) LastScreenshotBounds() geometry.Rect[geometry.Context] { return m.bounds }
func (m *mockChecker) Events() <-chan session.Event                         { return m.events }
func (m *mockChecker) Results() []session.Event                             { return m.results }

func newTestServer(t *testing.T, m *mockChecker, cfg *config.Config) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, m, cfg).Handler()
}

func TestCORSMiddleware(t *testing.T) {
	handler := newTestServer(t, newMockChecker(), nil)

	// Test OPTIONS request
	req := httptest.NewRequest("OPTIONS", "/api/check", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}
	if v := rec.Header().Get("Access-Control-Allow-Methods"); v != "GET, POST, OPTIONS" {
		t.Errorf("CORS methods = %q, want %q", v, "GET, POST, OPTIONS")
	}
}

func TestCORSRestrictedOrigins(t *testing.T) {
	cfg := &config.Config{AllowedOrigins: []string{"http://localhost:5173"}}
	handler := newTestServer(t, newMockChecker(), cfg)

	tests := []struct {
		origin string
		want   string
	}{
		{"http://localhost:5173", "http://localhost:5173"},
		{"http://evil.example", ""},
		{"", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/api/bounds", http.NoBody)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if v := rec.Header().Get("Access-Control-Allow-Origin"); v != tt.want {
			t.Errorf("origin %q: allow = %q, want %q", tt.origin, v, tt.want)
		}
	}
}

func postCheck(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/check", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCheckDefaults(t *testing.T) {
	m := newMockChecker()
	handler := newTestServer(t, m, nil)

	rec := postCheck(t, handler, `{"tag": "home"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var res match.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res != m.result {
		t.Errorf("result = %+v, want %+v", res, m.result)
	}

	got := m.lastRequest(t)
	if got.Tag != "home" || !got.FullPage || got.Timeout != -1 || !got.Region.IsEmpty() {
		t.Errorf("request = %+v, want full page with the default timeout", got)
	}
}

func TestCheckFields(t *testing.T) {
	m := newMockChecker()
	handler := newTestServer(t, m, nil)

	body := `{
		"tag": "cart",
		"region": {"left": 1, "top": 2, "width": 30, "height": 40},
		"timeout_ms": 0,
		"ignore_mismatch": true,
		"run_once": true,
		"full_page": false,
		"match_level": "layout",
		"ignore_regions": [{"left": 5, "top": 6, "width": 7, "height": 8}],
		"triggers": [{"kind": "mouse", "action": "click", "control": {"left": 0, "top": 0, "width": 10, "height": 10}, "x": 3, "y": 4}]
	}`
	if rec := postCheck(t, handler, body); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	got := m.lastRequest(t)
	if got.Region != (geometry.Rect[geometry.Context]{Left: 1, Top: 2, Width: 30, Height: 40}) {
		t.Errorf("region = %+v", got.Region)
	}
	if got.Timeout != 0 || !got.IgnoreMismatch || !got.RunOnceOnTimeout || got.FullPage {
		t.Errorf("flags = %+v", got)
	}
	if got.MatchLevel != "layout" || len(got.IgnoreRegions) != 1 || got.IgnoreRegions[0].Width != 7 {
		t.Errorf("settings = %q %+v", got.MatchLevel, got.IgnoreRegions)
	}
	if len(got.Triggers) != 1 {
		t.Fatalf("triggers = %+v", got.Triggers)
	}
	tr := got.Triggers[0]
	if tr.Kind != match.MouseTrigger || tr.Action != "click" || tr.Location != (geometry.Location{X: 3, Y: 4}) || tr.Control.Width != 10 {
		t.Errorf("trigger = %+v", tr)
	}
}

func TestCheckBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"tag": `},
		{"missing tag", `{}`},
		{"negative region", `{"tag": "x", "region": {"width": -1, "height": 5}}`},
		{"unknown trigger", `{"tag": "x", "triggers": [{"kind": "voice"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockChecker()
			rec := postCheck(t, newTestServer(t, m, nil), tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if len(m.requests) != 0 {
				t.Errorf("bad request reached the session")
			}
		})
	}
}

func TestErrorBody(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{session.ErrBusy, http.StatusConflict, "BUSY"},
		{apperrors.New(apperrors.ConfigInvalid, "x"), http.StatusBadRequest, "CONFIG_INVALID"},
		{apperrors.New(apperrors.BaselineMissing, "x"), http.StatusNotFound, "BASELINE_MISSING"},
		{apperrors.New(apperrors.Unavailable, "x"), http.StatusServiceUnavailable, "UNAVAILABLE"},
		{apperrors.New(apperrors.Timeout, "x"), http.StatusGatewayTimeout, "TIMEOUT"},
		{apperrors.New(apperrors.OriginUnreachable, "x"), http.StatusBadGateway, "ORIGIN_UNREACHABLE"},
		{fmt.Errorf("wrapped: %w", apperrors.New(apperrors.InvalidArgument, "x")), http.StatusBadRequest, "INVALID_ARGUMENT"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		status, body := errorBody(tt.err)
		if status != tt.status || body.Code != tt.code {
			t.Errorf("errorBody(%v) = %d %s, want %d %s", tt.err, status, body.Code, tt.status, tt.code)
		}
	}
}

func TestCheckBusy(t *testing.T) {
	m := newMockChecker()
	m.err = session.ErrBusy
	rec := postCheck(t, newTestServer(t, m, nil), `{"tag": "home"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	var body map[string]ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"].Code != "BUSY" {
		t.Errorf("error body = %+v", body)
	}
}

func TestScreenshot(t *testing.T) {
	m := newMockChecker()
	handler := newTestServer(t, m, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/screenshot", http.NoBody))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status without screenshot = %d, want 404", rec.Code)
	}

	m.shot = image.NewRGBA(image.Rect(0, 0, 12, 7))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/screenshot", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 12 || b.Dy() != 7 {
		t.Errorf("bounds = %v", b)
	}
}

func TestBoundsAndResults(t *testing.T) {
	m := newMockChecker()
	m.bounds = geometry.Rect[geometry.Context]{Left: 0, Top: 10, Width: 800, Height: 1500}
	handler := newTestServer(t, m, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/bounds", http.NoBody))
	var r Rect
	if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil {
		t.Fatalf("decode bounds: %v", err)
	}
	if r != (Rect{Left: 0, Top: 10, Width: 800, Height: 1500}) {
		t.Errorf("bounds = %+v", r)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/results", http.NoBody))
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("empty results = %s, want []", got)
	}

	m.results = []session.Event{{Type: session.EventResult, Tag: "home"}}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/results", http.NoBody))
	var events []session.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(events) != 1 || events[0].Tag != "home" {
		t.Errorf("results = %+v", events)
	}
}

func TestRateLimiter(t *testing.T) {
	var rl rateLimiter
	for i := 0; i < 3; i++ {
		if !rl.allow(3, time.Minute) {
			t.Fatalf("message %d rejected", i)
		}
	}
	if rl.allow(3, time.Minute) {
		t.Error("fourth message allowed")
	}
	if !rl.allow(3, 0) {
		t.Error("zero window should forget old messages")
	}
}

func TestCheckRateLimitedPerIP(t *testing.T) {
	handler := newTestServer(t, newMockChecker(), nil)

	post := func(addr string) int {
		req := httptest.NewRequest("POST", "/api/check", strings.NewReader(`{"tag": "home"}`))
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	for i := 0; i < IPRateLimitMessages; i++ {
		if code := post("192.0.2.1:1000"); code != http.StatusOK {
			t.Fatalf("check %d status = %d", i, code)
		}
	}
	if code := post("192.0.2.1:2000"); code != http.StatusTooManyRequests {
		t.Errorf("over-limit status = %d, want 429", code)
	}
	if code := post("192.0.2.2:1000"); code != http.StatusOK {
		t.Errorf("other IP status = %d, want 200", code)
	}
}

func dialWS(t *testing.T, handler http.Handler) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func TestWebSocketCheck(t *testing.T) {
	m := newMockChecker()
	conn, ctx := dialWS(t, newTestServer(t, m, nil))

	msg := CheckMessage{Type: "check", TraceID: "abc123", Check: CheckRequest{Tag: "ws"}}
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var reply CheckResultMessage
	if err := wsjson.Read(ctx, conn, &reply); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if reply.Type != "check_result" || reply.Tag != "ws" || reply.TraceID != "abc123" {
		t.Errorf("reply = %+v", reply)
	}
	if reply.Result == nil || !reply.Result.AsExpected {
		t.Errorf("result = %+v", reply.Result)
	}
	if got := m.lastRequest(t); got.Tag != "ws" {
		t.Errorf("request = %+v", got)
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	m := newMockChecker()
	conn, ctx := dialWS(t, newTestServer(t, m, nil))

	// The connection registers after the upgrade; keep emitting until one arrives.
	go func() {
		for i := 0; i < 50; i++ {
			select {
			case m.events <- session.Event{Type: session.EventTile, Tag: "home"}:
			case <-ctx.Done():
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()

	var evt session.Event
	if err := wsjson.Read(ctx, conn, &evt); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if evt.Type != session.EventTile || evt.Tag != "home" {
		t.Errorf("event = %+v", evt)
	}
}
