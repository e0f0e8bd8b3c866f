package upstream

import (
	"context"
	"net/url"
)

// Profile is the subset of app.bsky.actor.defs#profileViewDetailed the
// bridge reads.
type Profile struct {
	DID            string `json:"did"`
	Handle         string `json:"handle"`
	DisplayName    string `json:"displayName,omitempty"`
	Description    string `json:"description,omitempty"`
	Avatar         string `json:"avatar,omitempty"`
	Banner         string `json:"banner,omitempty"`
	FollowersCount int64  `json:"followersCount"`
	FollowsCount   int64  `json:"followsCount"`
	PostsCount     int64  `json:"postsCount"`
	CreatedAt      string `json:"createdAt,omitempty"`
}

// GetProfile fetches the profile of actor, a DID or handle.
func (c *Client) GetProfile(ctx context.Context, actor string) (*Profile, error) {
	var p Profile
	if err := c.query(ctx, "app.bsky.actor.getProfile", url.Values{"actor": {actor}}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ResolveHandle resolves a handle to its DID.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	var out struct {
		DID string `json:"did"`
	}
	if err := c.query(ctx, "com.atproto.identity.resolveHandle", url.Values{"handle": {handle}}, &out); err != nil {
		return "", err
	}
	return out.DID, nil
}
