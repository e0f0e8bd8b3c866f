package upstream

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RecordRef identifies a written record.
type RecordRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// RKey returns the record key, the last path segment of the URI.
func (r RecordRef) RKey() string {
	if i := strings.LastIndexByte(r.URI, '/'); i >= 0 {
		return r.URI[i+1:]
	}
	return ""
}

// CreateRecord writes record into collection of the session's own repo.
func (c *Client) CreateRecord(ctx context.Context, collection string, record any) (*RecordRef, error) {
	s, err := c.Session()
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"repo":       s.AccountID,
		"collection": collection,
		"record":     record,
	}
	var ref RecordRef
	if err := c.procedure(ctx, "com.atproto.repo.createRecord", body, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

// DeleteRecord removes collection/rkey from the session's own repo.
func (c *Client) DeleteRecord(ctx context.Context, collection, rkey string) error {
	if rkey == "" {
		return fmt.Errorf("upstream: empty record key for %s", collection)
	}
	s, err := c.Session()
	if err != nil {
		return err
	}
	body := map[string]any{
		"repo":       s.AccountID,
		"collection": collection,
		"rkey":       rkey,
	}
	return c.procedure(ctx, "com.atproto.repo.deleteRecord", body, nil)
}

func timestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}
