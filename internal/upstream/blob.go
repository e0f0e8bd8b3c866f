package upstream

import (
	"context"
	"io"
	"net/http"
)

// Blob is the reference returned by com.atproto.repo.uploadBlob.
type Blob struct {
	Type string `json:"$type"`
	Ref  struct {
		Link string `json:"$link"`
	} `json:"ref"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// UploadBlob streams r to the session owner's repo.
func (c *Client) UploadBlob(ctx context.Context, contentType string, r io.Reader) (*Blob, error) {
	const nsid = "com.atproto.repo.uploadBlob"
	_, token, err := c.accessToken()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(nsid), r)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	var out struct {
		Blob Blob `json:"blob"`
	}
	if err := c.do(req, nsid, token, &out); err != nil {
		return nil, err
	}
	return &out.Blob, nil
}
