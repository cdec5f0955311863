package ratelimiter

import (
	"time"
)

// Default messages per time window the server expects from a frontend user.
// Browsers report geolocation roughly once a second, with bursts on reconnect.
const (
	defaultMaxMessages = 20
	defaultWindow      = time.Second
)

// RateLimiter counts messages in fixed windows.
type RateLimiter struct {
	// Messages allowed per window
	MaxMessages int
	// Length of the window
	Window time.Duration
	// Track the number of messages received in the current time window
	MessageCount int
	// Defines the start of the current time window
	LastReset time.Time

	now func() time.Time
}

// Creates a rate limiter, non-positive values fall back to the defaults
func New(maxMessages int, window time.Duration) *RateLimiter {
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}
	if window <= 0 {
		window = defaultWindow
	}

	rl := &RateLimiter{
		MaxMessages: maxMessages,
		Window:      window,
		now:         time.Now,
	}
	rl.LastReset = rl.now()
	return rl
}

// Returns if the user is under the rate limit and allowed to send messages to the server
func (rl *RateLimiter) AllowMessage() bool {
	now := rl.now()

	// Reset rate limiter every window
	if now.Sub(rl.LastReset) > rl.Window {
		rl.MessageCount = 0
		rl.LastReset = now
	}

	if rl.MessageCount >= rl.MaxMessages {
		return false
	}

	// User did not go over rate limit
	rl.MessageCount += 1
	return true
}
