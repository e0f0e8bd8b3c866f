package session

import (
	"errors"
	"strings"
	"testing"
)

func TestCredentialHolder(t *testing.T) {
	h := NewCredentialHolder(SessionData{AccessToken: "access-token-123", RefreshToken: "refresh-token-456"})
	tok, err := h.Token()
	if err != nil || tok.AccessToken != "access-token-123" || tok.TokenType != "Bearer" {
		t.Fatalf("Token = %+v, %v", tok, err)
	}

	h.UpdateTokens("access-2", "")
	if tok, _ := h.Token(); tok.AccessToken != "access-2" {
		t.Fatalf("access token not updated")
	}
	if h.RefreshToken() != "refresh-token-456" {
		t.Fatalf("empty refresh update must keep the old refresh token")
	}

	s := h.String()
	for _, leak := range []string{"access-2", "refresh-token-456"} {
		if strings.Contains(s, leak) {
			t.Fatalf("String leaks %q: %s", leak, s)
		}
	}
}

func TestCredentialHolderWithoutAccessToken(t *testing.T) {
	h := NewCredentialHolder(SessionData{})
	if _, err := h.Token(); !errors.Is(err, ErrNoAccessToken) {
		t.Fatalf("err = %v; want ErrNoAccessToken", err)
	}
}

func TestHoldersAreIndependent(t *testing.T) {
	data := userA()
	h1 := NewCredentialHolder(data)
	h2 := NewCredentialHolder(data)
	h1.UpdateTokens("BAD", "BAD")
	if tok, _ := h2.Token(); tok.AccessToken != "A1" || h2.RefreshToken() != "RA" {
		t.Fatalf("update to one holder visible in another")
	}
}
