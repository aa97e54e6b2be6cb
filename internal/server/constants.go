// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection websocket limits
	RateLimitMessages = 10          // Max check messages per connection per window
	RateLimitWindow   = time.Second // Sliding window duration

	// Global IP-based rate limiting for the REST check endpoint
	IPRateLimitMessages        = 30               // Max checks per IP per window
	IPRateLimitWindow          = time.Second      // Sliding window duration
	IPRateLimitCleanupInterval = 5 * time.Minute  // How often to purge stale IP entries
	IPRateLimitEntryTTL        = 10 * time.Minute // TTL for inactive IP entries

	// MaxCheckBody bounds a check request body
	MaxCheckBody = 1 << 20
)
