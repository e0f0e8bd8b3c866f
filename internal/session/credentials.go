package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/gaspardpetit/skybridge/core/secret"
)

// ErrNoAccessToken is returned by Token when the holder has no access token.
var ErrNoAccessToken = errors.New("session: no access token")

// SessionData is one user's persisted session as produced by the auth layer.
type SessionData struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	AccountID    string    `json:"did"`
	Handle       string    `json:"handle"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserContext is the authenticated caller handed to handlers.
type UserContext struct {
	AccountID string
	Handle    string
	Session   SessionData
}

// CredentialHolder holds one user's tokens for the duration of a single
// operation. It is never persisted and never shared between operations.
type CredentialHolder struct {
	mu      sync.Mutex
	access  string
	refresh string
}

// NewCredentialHolder copies the tokens of data into a fresh holder.
func NewCredentialHolder(data SessionData) *CredentialHolder {
	return &CredentialHolder{access: data.AccessToken, refresh: data.RefreshToken}
}

// Token implements oauth2.TokenSource.
func (h *CredentialHolder) Token() (*oauth2.Token, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.access == "" {
		return nil, ErrNoAccessToken
	}
	return &oauth2.Token{AccessToken: h.access, RefreshToken: h.refresh, TokenType: "Bearer"}, nil
}

func (h *CredentialHolder) RefreshToken() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refresh
}

// UpdateTokens replaces the held tokens, e.g. after an upstream refresh.
// An empty refresh token keeps the current one.
func (h *CredentialHolder) UpdateTokens(access, refresh string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.access = access
	if refresh != "" {
		h.refresh = refresh
	}
}

func (h *CredentialHolder) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fmt.Sprintf("CredentialHolder{access=%s refresh=%s}", secret.Mask(h.access), secret.Mask(h.refresh))
}
