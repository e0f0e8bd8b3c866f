package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrCredentialExpired means the upstream rejected the access token.
	// Nothing in this package retries or refreshes on its own.
	ErrCredentialExpired = errors.New("upstream: credential expired")

	// ErrUpstream matches every other upstream failure.
	ErrUpstream = errors.New("upstream: request failed")

	// ErrNoSession means the client's correlation ID had no registered
	// session when a call was made.
	ErrNoSession = errors.New("upstream: no session registered for client")
)

// UpstreamError describes a failed XRPC call. It matches ErrCredentialExpired
// or ErrUpstream under errors.Is, never both.
type UpstreamError struct {
	NSID    string
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("upstream %s: %v", e.NSID, e.Err)
	case e.Code != "":
		return fmt.Sprintf("upstream %s: %d %s: %s", e.NSID, e.Status, e.Code, e.Message)
	default:
		return fmt.Sprintf("upstream %s: status %d", e.NSID, e.Status)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrCredentialExpired:
		return e.Expired()
	case ErrUpstream:
		return !e.Expired()
	}
	return false
}

// Expired reports whether the failure was a rejected credential.
func (e *UpstreamError) Expired() bool {
	if e.Status == http.StatusUnauthorized {
		return true
	}
	switch e.Code {
	case "ExpiredToken", "InvalidToken":
		return true
	}
	return false
}
