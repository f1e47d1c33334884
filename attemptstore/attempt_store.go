// Package attemptstore counts failed password attempts per peer host inside
// an expiry window. The server consults it to throttle and, when a lockout
// threshold is configured, to refuse hosts that keep guessing.
package attemptstore

import (
	"context"
	"time"
)

// DefaultWindow is how long a host's failures are remembered after the last one.
const DefaultWindow = 10 * time.Minute

// Store is a concurrency safe failure counter keyed by peer host.
type Store interface {
	// Record adds one failure for key and restarts its expiry window.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - key: Peer host
	//
	// Returns:
	//   - The failure count including this one
	//   - An error if the backend is unavailable
	Record(ctx context.Context, key string) (int, error)

	// Count returns the current failure count for key, 0 when unknown or expired.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - key: Peer host
	//
	// Returns:
	//   - The failure count
	//   - An error if the backend is unavailable
	Count(ctx context.Context, key string) (int, error)

	// Reset forgets all failures for key, e.g. after a successful login.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - key: Peer host
	//
	// Returns:
	//   - An error if the backend is unavailable
	Reset(ctx context.Context, key string) error
}
