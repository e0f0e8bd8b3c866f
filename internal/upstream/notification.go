package upstream

import (
	"context"
	"net/url"
	"strconv"
)

// ProfileView is the short actor form embedded in other views.
type ProfileView struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// Notification is one entry of app.bsky.notification.listNotifications.
type Notification struct {
	URI           string      `json:"uri"`
	CID           string      `json:"cid"`
	Author        ProfileView `json:"author"`
	Reason        string      `json:"reason"`
	ReasonSubject string      `json:"reasonSubject,omitempty"`
	IsRead        bool        `json:"isRead"`
	IndexedAt     string      `json:"indexedAt"`
}

// NotificationPage is one page of notifications.
type NotificationPage struct {
	Notifications []Notification `json:"notifications"`
	Cursor        string         `json:"cursor,omitempty"`
}

// ListNotifications fetches a page of the session owner's notifications.
// A limit of zero leaves the server default.
func (c *Client) ListNotifications(ctx context.Context, limit int, cursor string) (*NotificationPage, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	var page NotificationPage
	if err := c.query(ctx, "app.bsky.notification.listNotifications", params, &page); err != nil {
		return nil, err
	}
	return &page, nil
}
