package trace

import (
	"encoding/json"
	"net/http"
)

// Middleware extracts or creates trace context for HTTP requests and echoes
// the trace ID in the response so callers can find the check in the logs.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := extractFromHeaders(r)
		w.Header().Set(TraceIDKey, tc.TraceID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}

// extractFromHeaders prefers the x- headers and falls back to traceparent.
func extractFromHeaders(r *http.Request) Context {
	return FromMap(map[string]string{
		TraceIDKey:     r.Header.Get(TraceIDKey),
		SpanIDKey:      r.Header.Get(SpanIDKey),
		TraceparentKey: r.Header.Get(TraceparentKey),
	})
}

// ExtractFromJSON reads trace_id from a websocket message. It reports
// whether the message carried one.
func ExtractFromJSON(data []byte) (Context, bool) {
	var msg struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.TraceID == "" {
		return New(), false
	}
	return Context{
		TraceID: msg.TraceID,
		SpanID:  generateSpanID(),
	}, true
}
