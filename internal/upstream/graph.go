package upstream

import "context"

const followCollection = "app.bsky.graph.follow"

// Follow creates a follow record for subject, a DID.
func (c *Client) Follow(ctx context.Context, subject string) (*RecordRef, error) {
	return c.CreateRecord(ctx, followCollection, map[string]any{
		"$type":     followCollection,
		"subject":   subject,
		"createdAt": timestamp(),
	})
}

// Unfollow deletes the follow record identified by ref.
func (c *Client) Unfollow(ctx context.Context, ref RecordRef) error {
	return c.DeleteRecord(ctx, followCollection, ref.RKey())
}
