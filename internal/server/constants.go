// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection control message rate limiting
	RateLimitMessages = 10
	RateLimitWindow   = time.Second

	// Broadcast writes to a slow client are abandoned after this long
	WriteTimeout = 5 * time.Second

	// Display frames waiting for broadcast; extra frames are dropped
	DisplayBuffer = 4

	// Lookback for GET /api/transcript when no window is given
	DefaultTranscriptWindow = time.Minute
)
