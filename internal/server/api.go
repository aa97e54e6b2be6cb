package server

import (
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"time"

	apperrors "github.com/GriffinCanCode/pagestitch/internal/errors"
	"github.com/GriffinCanCode/pagestitch/internal/geometry"
	"github.com/GriffinCanCode/pagestitch/internal/match"
	"github.com/GriffinCanCode/pagestitch/internal/session"
	"github.com/GriffinCanCode/pagestitch/internal/trace"
)

// Rect is the wire form of a logical region.
type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Rect) context() geometry.Rect[geometry.Context] {
	return geometry.Rect[geometry.Context]{Left: r.Left, Top: r.Top, Width: r.Width, Height: r.Height}
}

func rectOf(r geometry.Rect[geometry.Context]) Rect {
	return Rect{Left: r.Left, Top: r.Top, Width: r.Width, Height: r.Height}
}

// Trigger is the wire form of match.Trigger.
type Trigger struct {
	Kind    string `json:"kind"`
	Action  string `json:"action,omitempty"`
	Control Rect   `json:"control"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Text    string `json:"text,omitempty"`
}

// CheckRequest is the body of POST /api/check. TimeoutMS and FullPage
// default to the session timeout and true when absent.
type CheckRequest struct {
	Tag            string    `json:"tag"`
	Region         *Rect     `json:"region,omitempty"`
	TimeoutMS      *int      `json:"timeout_ms,omitempty"`
	IgnoreMismatch bool      `json:"ignore_mismatch"`
	RunOnce        bool      `json:"run_once"`
	FullPage       *bool     `json:"full_page,omitempty"`
	MatchLevel     string    `json:"match_level,omitempty"`
	IgnoreRegions  []Rect    `json:"ignore_regions,omitempty"`
	Triggers       []Trigger `json:"triggers,omitempty"`
}

func (c CheckRequest) toSession() (session.CheckRequest, error) {
	if c.Tag == "" {
		return session.CheckRequest{}, apperrors.New(apperrors.InvalidArgument, "tag is required")
	}
	req := session.CheckRequest{
		Tag:              c.Tag,
		Timeout:          -1,
		IgnoreMismatch:   c.IgnoreMismatch,
		RunOnceOnTimeout: c.RunOnce,
		FullPage:         c.FullPage == nil || *c.FullPage,
		MatchLevel:       c.MatchLevel,
	}
	if c.Region != nil {
		if c.Region.Width < 0 || c.Region.Height < 0 {
			return session.CheckRequest{}, apperrors.New(apperrors.InvalidArgument, "region size must not be negative")
		}
		req.Region = c.Region.context()
	}
	if c.TimeoutMS != nil {
		req.Timeout = time.Duration(*c.TimeoutMS) * time.Millisecond
	}
	for _, r := range c.IgnoreRegions {
		req.IgnoreRegions = append(req.IgnoreRegions, r.context())
	}
	for _, t := range c.Triggers {
		kind := match.TriggerKind(t.Kind)
		if kind != match.MouseTrigger && kind != match.TextTrigger {
			return session.CheckRequest{}, apperrors.Newf(apperrors.InvalidArgument, "unknown trigger kind %q", t.Kind)
		}
		req.Triggers = append(req.Triggers, match.Trigger{
			Kind:     kind,
			Action:   t.Action,
			Control:  t.Control.context(),
			Location: geometry.Location{X: t.X, Y: t.Y},
			Text:     t.Text,
		})
	}
	return req, nil
}

// ErrorBody is the JSON error payload.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorBody maps err to an HTTP status and payload.
func errorBody(err error) (int, ErrorBody) {
	if errors.Is(err, session.ErrBusy) {
		return http.StatusConflict, ErrorBody{Code: "BUSY", Message: err.Error()}
	}
	var ae *apperrors.AppError
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError, ErrorBody{Code: apperrors.Internal.String(), Message: err.Error()}
	}
	status := http.StatusInternalServerError
	switch ae.Code {
	case apperrors.InvalidArgument, apperrors.ConfigInvalid:
		status = http.StatusBadRequest
	case apperrors.NotFound, apperrors.BaselineMissing:
		status = http.StatusNotFound
	case apperrors.Unavailable:
		status = http.StatusServiceUnavailable
	case apperrors.Timeout:
		status = http.StatusGatewayTimeout
	case apperrors.Cancelled:
		status = http.StatusRequestTimeout
	case apperrors.OriginUnreachable, apperrors.DriverOperation, apperrors.ComparatorFailed:
		status = http.StatusBadGateway
	}
	return status, ErrorBody{Code: ae.Code.String(), Message: ae.Error()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, body := errorBody(err)
	writeJSON(w, status, map[string]ErrorBody{"error": body})
}

func (s *Server) check(ctx context.Context, req CheckRequest) (match.Result, error) {
	sr, err := req.toSession()
	if err != nil {
		return match.Result{}, err
	}
	return s.checker.Check(ctx, sr)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	ctx, span := trace.StartSpan(r.Context(), "handle_check")
	defer span.End()
	log := trace.Logger(ctx)

	if !s.allowIP(r) {
		log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusTooManyRequests, map[string]ErrorBody{"error": {Code: "RATE_LIMITED", Message: "rate limit exceeded"}})
		return
	}

	var req CheckRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxCheckBody)).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.InvalidArgument, "decode check request"))
		return
	}
	res, err := s.check(ctx, req)
	if err != nil {
		span.SetAttr("error", err.Error())
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	img := s.checker.LastScreenshot()
	if img == nil {
		writeError(w, apperrors.New(apperrors.NotFound, "no screenshot accepted yet"))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		trace.Logger(r.Context()).Warn("failed to encode screenshot", "error", err)
	}
}

func (s *Server) handleBounds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rectOf(s.checker.LastScreenshotBounds()))
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	results := s.checker.Results()
	if results == nil {
		results = []session.Event{}
	}
	writeJSON(w, http.StatusOK, results)
}
