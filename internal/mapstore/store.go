// Package mapstore is the shared key-value cache backing identifier mappings
// and session data. Values are strings; keys may carry a TTL.
package mapstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key is absent or expired.
	ErrNotFound = errors.New("mapstore: key not found")

	// ErrUnavailable wraps every failure to reach the backing store.
	ErrUnavailable = errors.New("mapstore: store unavailable")
)

// ClaimStatus is the outcome of a ClaimPair call.
type ClaimStatus int

const (
	// ClaimCreated means both keys were written by this call.
	ClaimCreated ClaimStatus = iota
	// ClaimExists means the forward key was already present. Claim.Value
	// holds its stored value.
	ClaimExists
	// ClaimCollision means the reverse key already maps to a different
	// value. Nothing was written; Claim.Value holds the conflicting value.
	ClaimCollision
)

func (s ClaimStatus) String() string {
	switch s {
	case ClaimCreated:
		return "created"
	case ClaimExists:
		return "exists"
	case ClaimCollision:
		return "collision"
	default:
		return "unknown"
	}
}

// Pair is a bidirectional entry: ForwardKey → ForwardValue and
// ReverseKey → ReverseValue. Pairs never expire.
type Pair struct {
	ForwardKey   string
	ForwardValue string
	ReverseKey   string
	ReverseValue string
}

// Claim reports what ClaimPair found or wrote.
type Claim struct {
	Status ClaimStatus
	Value  string
}

// Store defines how mappings are persisted. Implementations must make
// ClaimPair atomic with respect to every other caller of the same backing
// store, including other processes.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	// Set writes value under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// ClaimPair writes both directions of p unless the forward key exists
	// (ClaimExists) or the reverse key holds a different value
	// (ClaimCollision). A reverse key already holding p.ReverseValue is
	// not a collision.
	ClaimPair(ctx context.Context, p Pair) (Claim, error)
	Close() error
}
