// Package server provides HTTP and WebSocket handlers
package server

import (
	"context"
	"encoding/json"
	"image"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/pagestitch/internal/config"
	"github.com/GriffinCanCode/pagestitch/internal/geometry"
	"github.com/GriffinCanCode/pagestitch/internal/match"
	"github.com/GriffinCanCode/pagestitch/internal/session"
	"github.com/GriffinCanCode/pagestitch/internal/syncx"
	"github.com/GriffinCanCode/pagestitch/internal/trace"
)

// Checker is the session surface the handlers need.
type Checker interface {
	Check(ctx context.Context, req session.CheckRequest) (match.Result, error)
	LastScreenshot() image.Image
	LastScreenshotBounds() geometry.Rect[geometry.Context]
	Events() <-chan session.Event
	Results() []session.Event
}

// Message types.
type Message struct {
	Type string `json:"type"`
}

// CheckMessage asks for a check over the websocket.
type CheckMessage struct {
	Type    string       `json:"type"`
	TraceID string       `json:"trace_id,omitempty"`
	Check   CheckRequest `json:"check"`
}

type CheckResultMessage struct {
	Type    string        `json:"type"`
	Tag     string        `json:"tag"`
	Result  *match.Result `json:"result,omitempty"`
	Error   *ErrorBody    `json:"error,omitempty"`
	TraceID string        `json:"trace_id,omitempty"`
}

type RateLimitedMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	lastSeen   time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow(limit int, window time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.lastSeen = now
	cutoff := now.Add(-window)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= limit {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

func (r *rateLimiter) idleSince(t time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeen.Before(t)
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	checker Checker
	origins []string

	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter

	ipLimits *syncx.RWGuard[map[string]*rateLimiter]
}

// New creates a new server and starts forwarding session events to
// websocket clients until ctx is done.
func New(ctx context.Context, checker Checker, cfg *config.Config) *Server {
	origins := []string{"*"}
	if cfg != nil && len(cfg.AllowedOrigins) > 0 {
		origins = cfg.AllowedOrigins
	}
	s := &Server{
		checker:    checker,
		origins:    origins,
		conns:      make(map[*websocket.Conn]struct{}),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
		ipLimits:   syncx.NewGuard(make(map[string]*rateLimiter)),
	}

	go s.broadcastEvents(ctx)
	go s.cleanupIPLimits(ctx)

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("POST /api/check", s.handleCheck)
	mux.HandleFunc("GET /api/screenshot", s.handleScreenshot)
	mux.HandleFunc("GET /api/bounds", s.handleBounds)
	mux.HandleFunc("GET /api/results", s.handleResults)

	// Apply middleware: trace -> CORS
	return s.corsMiddleware(trace.Middleware(mux))
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowAll := len(s.origins) == 1 && s.origins[0] == "*"
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && s.originAllowed(origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// allowIP applies the global per-IP limit.
func (s *Server) allowIP(r *http.Request) bool {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	rl := syncx.Update(s.ipLimits, func(m *map[string]*rateLimiter) *rateLimiter {
		rl, ok := (*m)[ip]
		if !ok {
			rl = &rateLimiter{}
			(*m)[ip] = rl
		}
		return rl
	})
	return rl.allow(IPRateLimitMessages, IPRateLimitWindow)
}

func (s *Server) cleanupIPLimits(ctx context.Context) {
	ticker := time.NewTicker(IPRateLimitCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-IPRateLimitEntryTTL)
			s.ipLimits.Write(func(m *map[string]*rateLimiter) {
				for ip, rl := range *m {
					if rl.idleSince(cutoff) {
						delete(*m, ip)
					}
				}
			})
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
	}()

	// Get trace context from HTTP upgrade request
	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		// Check rate limit
		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		if !rl.allow(RateLimitMessages, RateLimitWindow) {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(baseCtx, conn, RateLimitedMessage{
				Type:    "error",
				Message: "rate limit exceeded",
			})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "check":
			var cm CheckMessage
			if err := json.Unmarshal(msg, &cm); err != nil {
				continue
			}
			// Continue the caller's trace when it sent one
			ctx := baseCtx
			if tc, ok := trace.ExtractFromJSON(msg); ok {
				ctx = trace.WithContext(ctx, trace.NewChild(tc))
			} else {
				ctx, _ = trace.EnsureContext(ctx)
			}
			s.handleCheckMessage(ctx, conn, cm.Check)
		}
	}
}

func (s *Server) handleCheckMessage(ctx context.Context, conn *websocket.Conn, req CheckRequest) {
	ctx, span := trace.StartSpan(ctx, "handle_check_message")
	defer span.End()

	reply := CheckResultMessage{Type: "check_result", Tag: req.Tag}
	if tc, ok := trace.FromContext(ctx); ok {
		reply.TraceID = tc.TraceID
	}
	res, err := s.check(ctx, req)
	if err != nil {
		span.SetAttr("error", err.Error())
		_, body := errorBody(err)
		reply.Error = &body
	} else {
		reply.Result = &res
	}
	_ = wsjson.Write(ctx, conn, reply)
}

func (s *Server) broadcastEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-s.checker.Events():
			s.mu.RLock()
			for conn := range s.conns {
				go func(c *websocket.Conn) {
					_ = wsjson.Write(context.Background(), c, evt)
				}(conn)
			}
			s.mu.RUnlock()
		}
	}
}
