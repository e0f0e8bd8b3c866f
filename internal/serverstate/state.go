package serverstate

import (
	"sync/atomic"
)

// States reported by /healthz.
const (
	NotReady = "not_ready"
	Ready    = "ready"
	Draining = "draining"
)

var state atomic.Value
var draining atomic.Bool

func init() {
	state.Store(NotReady)
}

// SetState sets the server state string.
func SetState(s string) {
	state.Store(s)
}

// GetState returns the current server state.
func GetState() string {
	if v, ok := state.Load().(string); ok {
		return v
	}
	return "unknown"
}

// StartDrain marks the server as draining. New session-scoped requests are
// refused from then on.
func StartDrain() {
	draining.Store(true)
	SetState(Draining)
}

// IsDraining reports whether the server is draining.
func IsDraining() bool {
	return draining.Load()
}

// Reset returns the package to its initial state.
func Reset() {
	draining.Store(false)
	SetState(NotReady)
}
