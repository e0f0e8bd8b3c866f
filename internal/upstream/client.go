// Package upstream is a small XRPC client for the backing protocol.
//
// A Client carries no credentials of its own. Each call resolves the active
// session for the client's correlation ID through a SessionResolver, the
// process-wide table populated by the session package, and authenticates
// with whatever tokens that session holds at the time of the call.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/gaspardpetit/skybridge/core/logx"
)

// DefaultHost is used when Config.Host is empty.
const DefaultHost = "https://bsky.social"

// Credentials is the token holder of one session.
type Credentials interface {
	oauth2.TokenSource
	RefreshToken() string
	UpdateTokens(access, refresh string)
}

// Session is what a resolver hands back for a correlation ID.
type Session struct {
	AccountID   string
	Handle      string
	Credentials Credentials
}

// SessionResolver looks up the session bound to a correlation ID.
type SessionResolver interface {
	ResolveSession(correlationID string) (*Session, bool)
}

// Config binds a Client to a host and a correlation ID.
type Config struct {
	Host          string
	CorrelationID string
	Resolver      SessionResolver
	HTTPClient    *http.Client
}

// Client issues XRPC calls on behalf of the session registered under its
// correlation ID.
type Client struct {
	host   string
	cfg    Config
	client *http.Client
}

// New constructs a Client. It does not touch the resolver.
func New(cfg Config) *Client {
	host := strings.TrimRight(cfg.Host, "/")
	if host == "" {
		host = DefaultHost
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{host: host, cfg: cfg, client: hc}
}

// CorrelationID returns the ID the client resolves its session by.
func (c *Client) CorrelationID() string { return c.cfg.CorrelationID }

// Session returns the session currently registered for the client.
func (c *Client) Session() (*Session, error) {
	if c.cfg.Resolver == nil {
		return nil, ErrNoSession
	}
	s, ok := c.cfg.Resolver.ResolveSession(c.cfg.CorrelationID)
	if !ok || s == nil || s.Credentials == nil {
		return nil, ErrNoSession
	}
	return s, nil
}

func (c *Client) accessToken() (*Session, string, error) {
	s, err := c.Session()
	if err != nil {
		return nil, "", err
	}
	tok, err := s.Credentials.Token()
	if err != nil {
		return nil, "", err
	}
	return s, tok.AccessToken, nil
}

// query performs an XRPC query (GET).
func (c *Client) query(ctx context.Context, nsid string, params url.Values, out any) error {
	_, token, err := c.accessToken()
	if err != nil {
		return err
	}
	u := c.endpoint(nsid)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, nsid, token, out)
}

// procedure performs an XRPC procedure (POST) with a JSON body.
func (c *Client) procedure(ctx context.Context, nsid string, body any, out any) error {
	_, token, err := c.accessToken()
	if err != nil {
		return err
	}
	return c.post(ctx, nsid, token, body, out)
}

func (c *Client) post(ctx context.Context, nsid, token string, body any, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(nsid), r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, nsid, token, out)
}

func (c *Client) endpoint(nsid string) string {
	return c.host + "/xrpc/" + nsid
}

type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(req *http.Request, nsid, token string, out any) error {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	logx.Log.Debug().Str("correlation_id", c.cfg.CorrelationID).Str("nsid", nsid).Str("method", req.Method).Msg("upstream call")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			err = ctxErr
		}
		return &UpstreamError{NSID: nsid, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ue := &UpstreamError{NSID: nsid, Status: resp.StatusCode}
		var xe xrpcError
		if b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); len(b) > 0 && json.Unmarshal(b, &xe) == nil {
			ue.Code = xe.Error
			ue.Message = xe.Message
		}
		return ue
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &UpstreamError{NSID: nsid, Status: resp.StatusCode, Err: err}
	}
	return nil
}
