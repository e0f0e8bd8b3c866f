package upstream

import "context"

// SessionTokens is the body of com.atproto.server.refreshSession.
type SessionTokens struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	DID        string `json:"did"`
	Handle     string `json:"handle"`
}

// RefreshSession exchanges the session's refresh token for a new token pair
// and stores it in the session's credentials.
func (c *Client) RefreshSession(ctx context.Context) (*SessionTokens, error) {
	s, err := c.Session()
	if err != nil {
		return nil, err
	}
	refresh := s.Credentials.RefreshToken()
	if refresh == "" {
		return nil, &UpstreamError{NSID: "com.atproto.server.refreshSession", Code: "InvalidToken", Message: "no refresh token"}
	}
	var out SessionTokens
	if err := c.post(ctx, "com.atproto.server.refreshSession", refresh, nil, &out); err != nil {
		return nil, err
	}
	s.Credentials.UpdateTokens(out.AccessJwt, out.RefreshJwt)
	return &out, nil
}
