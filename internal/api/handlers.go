package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/gaspardpetit/skybridge/core/logx"
	"github.com/gaspardpetit/skybridge/internal/idmap"
	"github.com/gaspardpetit/skybridge/internal/serverstate"
	"github.com/gaspardpetit/skybridge/internal/session"
	"github.com/gaspardpetit/skybridge/internal/upstream"
)

const (
	defaultNotificationLimit = 20
	maxNotificationLimit     = 100
	maxMediaBytes            = 8 << 20
	maxBodyBytes             = 8 << 10
	maxKeyBytes              = 2048
)

// Handlers serves the bridge's HTTP surface.
type Handlers struct {
	IDs      *idmap.Service
	Sessions *session.Store
	Factory  *session.Factory
	Timeout  time.Duration
}

// Account is the flat-ID view of an upstream profile.
type Account struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Acct           string `json:"acct"`
	DisplayName    string `json:"display_name"`
	Note           string `json:"note"`
	Avatar         string `json:"avatar"`
	Header         string `json:"header"`
	FollowersCount int64  `json:"followers_count"`
	FollowingCount int64  `json:"following_count"`
	StatusesCount  int64  `json:"statuses_count"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// Notification is the flat-ID view of an upstream notification.
type Notification struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	CreatedAt string  `json:"created_at"`
	Account   Account `json:"account"`
}

// Relationship reports the caller's relation to an account.
type Relationship struct {
	ID        string `json:"id"`
	Following bool   `json:"following"`
}

// Attachment is an uploaded media blob.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

type idView struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Kind string `json:"kind,omitempty"`
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

func (h *Handlers) upstreamContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.Timeout > 0 {
		return context.WithTimeout(ctx, h.Timeout)
	}
	return context.WithCancel(ctx)
}

// Healthz reports readiness.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	state := serverstate.GetState()
	code := http.StatusOK
	if state != serverstate.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": state})
}

// GetID reverse-maps a flat ID to its native key.
func (h *Handlers) GetID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: id", errBadRequest))
		return
	}
	e, err := h.IDs.Resolve(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, idView{ID: formatID(e.ID), Key: e.Key})
}

// LookupID returns the flat ID already assigned to the native key in the
// "key" query parameter. It never assigns one.
func (h *Handlers) LookupID(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if err := checkKey(key); err != nil {
		writeError(w, r, err)
		return
	}
	id, found, err := h.IDs.Lookup(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !found {
		writeError(w, r, fmt.Errorf("%w: %s", idmap.ErrMappingNotFound, key))
		return
	}
	writeJSON(w, http.StatusOK, idView{ID: formatID(id), Key: key})
}

// CreateID returns the flat ID for a native key, assigning one if needed.
func (h *Handlers) CreateID(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key  string `json:"key"`
		Kind string `json:"kind"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := checkKey(req.Key); err != nil {
		writeError(w, r, err)
		return
	}
	kind, err := idmap.ParseKind(req.Kind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := h.IDs.GetOrCreateID(r.Context(), req.Key, kind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, idView{ID: formatID(id), Key: req.Key, Kind: kind.String()})
}

// VerifyCredentials returns the caller's own account.
func (h *Handlers) VerifyCredentials(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFromContext(r.Context())
	ctx, cancel := h.upstreamContext(r.Context())
	defer cancel()
	p, err := session.WithUserSession(ctx, h.Factory, u.Session, func(ctx context.Context, c *upstream.Client) (*upstream.Profile, error) {
		return c.GetProfile(ctx, u.AccountID)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	acct, err := h.account(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// GetAccount returns the account behind a flat ID.
func (h *Handlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFromContext(r.Context())
	did, err := h.resolveAccount(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := h.upstreamContext(r.Context())
	defer cancel()
	p, err := session.WithUserSession(ctx, h.Factory, u.Session, func(ctx context.Context, c *upstream.Client) (*upstream.Profile, error) {
		return c.GetProfile(ctx, did)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	acct, err := h.account(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// Follow makes the caller follow the account behind a flat ID.
func (h *Handlers) Follow(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFromContext(r.Context())
	did, err := h.resolveAccount(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := h.upstreamContext(r.Context())
	defer cancel()
	ref, err := session.WithUserSession(ctx, h.Factory, u.Session, func(ctx context.Context, c *upstream.Client) (*upstream.RecordRef, error) {
		return c.Follow(ctx, did)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.rememberFollow(r, u.AccountID, did, ref)
	writeJSON(w, http.StatusOK, Relationship{ID: chi.URLParam(r, "id"), Following: true})
}

type followed struct {
	did string
	ref *upstream.RecordRef
}

// FollowByHandle follows the account named by "uri", a handle or a DID,
// resolving the handle and creating the follow in one upstream session.
func (h *Handlers) FollowByHandle(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFromContext(r.Context())
	var req struct {
		URI string `json:"uri"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	actor := strings.TrimPrefix(strings.TrimSpace(req.URI), "@")
	if actor == "" {
		writeError(w, r, fmt.Errorf("%w: uri", errBadRequest))
		return
	}
	if err := checkKey(actor); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := h.upstreamContext(r.Context())
	defer cancel()
	res, err := session.WithUserSession(ctx, h.Factory, u.Session, func(ctx context.Context, c *upstream.Client) (followed, error) {
		did := actor
		if !idmap.IsAccountKey(did) {
			var err error
			if did, err = c.ResolveHandle(ctx, actor); err != nil {
				return followed{}, err
			}
			if !idmap.IsAccountKey(did) {
				return followed{}, fmt.Errorf("%w: handle %s resolved to %q", upstream.ErrUpstream, actor, did)
			}
		}
		ref, err := c.Follow(ctx, did)
		return followed{did: did, ref: ref}, err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.rememberFollow(r, u.AccountID, res.did, res.ref)
	id, err := h.IDs.GetOrCreateID(r.Context(), res.did, idmap.KindAccount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Relationship{ID: formatID(id), Following: true})
}

// Unfollow deletes the caller's follow of the account behind a flat ID.
// Unfollowing an account with no known follow record succeeds without an
// upstream call.
func (h *Handlers) Unfollow(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFromContext(r.Context())
	did, err := h.resolveAccount(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	uri, found, err := h.Sessions.FollowRecord(r.Context(), u.AccountID, did)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if found {
		ctx, cancel := h.upstreamContext(r.Context())
		defer cancel()
		if _, err := session.WithUserSession(ctx, h.Factory, u.Session, func(ctx context.Context, c *upstream.Client) (struct{}, error) {
			return struct{}{}, c.Unfollow(ctx, upstream.RecordRef{URI: uri})
		}); err != nil {
			writeError(w, r, err)
			return
		}
		if err := h.Sessions.DeleteFollow(r.Context(), u.AccountID, did); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, Relationship{ID: chi.URLParam(r, "id"), Following: false})
}

// rememberFollow saves the follow record for a later Unfollow. The follow
// already exists upstream, so a failed save is logged and not returned.
func (h *Handlers) rememberFollow(r *http.Request, accountID, subject string, ref *upstream.RecordRef) {
	if ref == nil || ref.URI == "" {
		return
	}
	if err := h.Sessions.SaveFollow(r.Context(), accountID, subject, ref.URI); err != nil {
		logx.Log.Warn().Err(err).Str("request_id", chiMiddleware.GetReqID(r.Context())).Str("subject", subject).Msg("follow record not saved")
	}
}

// Notifications lists the caller's notifications with flat IDs. The next
// page cursor is returned in a Link header.
func (h *Handlers) Notifications(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFromContext(r.Context())
	limit := defaultNotificationLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, fmt.Errorf("%w: limit", errBadRequest))
			return
		}
		limit = min(n, maxNotificationLimit)
	}
	cursor := r.URL.Query().Get("cursor")

	ctx, cancel := h.upstreamContext(r.Context())
	defer cancel()
	page, err := session.WithUserSession(ctx, h.Factory, u.Session, func(ctx context.Context, c *upstream.Client) (*upstream.NotificationPage, error) {
		return c.ListNotifications(ctx, limit, cursor)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]Notification, 0, len(page.Notifications))
	for _, n := range page.Notifications {
		id, err := h.IDs.GetOrCreateID(r.Context(), n.URI, idmap.KindResource)
		if err != nil {
			writeError(w, r, err)
			return
		}
		author, err := h.IDs.GetOrCreateID(r.Context(), n.Author.DID, idmap.KindAccount)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out = append(out, Notification{
			ID:        formatID(id),
			Type:      notificationType(n.Reason),
			CreatedAt: n.IndexedAt,
			Account: Account{
				ID:          formatID(author),
				Username:    n.Author.Handle,
				Acct:        n.Author.Handle,
				DisplayName: n.Author.DisplayName,
				Avatar:      n.Author.Avatar,
			},
		})
	}
	if page.Cursor != "" {
		next := url.Values{"cursor": {page.Cursor}, "limit": {strconv.Itoa(limit)}}
		w.Header().Set("Link", fmt.Sprintf(`<%s?%s>; rel="next"`, r.URL.Path, next.Encode()))
	}
	writeJSON(w, http.StatusOK, out)
}

// UploadMedia stores the multipart "file" field as a blob in the caller's
// repo and returns it under a resource ID.
func (h *Handlers) UploadMedia(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxMediaBytes)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: file: %v", errBadRequest, err))
		return
	}
	defer func() { _ = file.Close() }()
	contentType := hdr.Header.Get("Content-Type")

	ctx, cancel := h.upstreamContext(r.Context())
	defer cancel()
	blob, err := session.WithUserSession(ctx, h.Factory, u.Session, func(ctx context.Context, c *upstream.Client) (*upstream.Blob, error) {
		return c.UploadBlob(ctx, contentType, file)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := h.IDs.GetOrCreateID(r.Context(), blobKey(u.AccountID, blob.Ref.Link), idmap.KindResource)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Attachment{ID: formatID(id), Type: mediaType(blob.MimeType), MimeType: blob.MimeType, Size: blob.Size})
}

// RefreshSession renews the caller's upstream tokens.
func (h *Handlers) RefreshSession(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFromContext(r.Context())
	ctx, cancel := h.upstreamContext(r.Context())
	defer cancel()
	next, err := session.Refresh(ctx, h.Factory, h.Sessions, u.Session)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": next.AccountID, "refreshed_at": next.CreatedAt})
}

// RevokeToken forgets the app token the request was made with. The stored
// upstream session is kept for the caller's other tokens.
func (h *Handlers) RevokeToken(w http.ResponseWriter, r *http.Request) {
	token, _ := bearerToken(r)
	if err := h.Sessions.RevokeToken(r.Context(), token); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) resolveAccount(r *http.Request) (string, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: id", errBadRequest)
	}
	e, err := h.IDs.Resolve(r.Context(), id)
	if err != nil {
		return "", err
	}
	if !idmap.IsAccountKey(e.Key) {
		return "", fmt.Errorf("%w: %d is not an account", idmap.ErrMappingNotFound, id)
	}
	return e.Key, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func checkKey(key string) error {
	if len(key) > maxKeyBytes {
		return fmt.Errorf("%w: key longer than %d bytes", errBadRequest, maxKeyBytes)
	}
	return nil
}

func (h *Handlers) account(ctx context.Context, p *upstream.Profile) (Account, error) {
	id, err := h.IDs.GetOrCreateID(ctx, p.DID, idmap.KindAccount)
	if err != nil {
		return Account{}, err
	}
	return Account{
		ID:             formatID(id),
		Username:       p.Handle,
		Acct:           p.Handle,
		DisplayName:    p.DisplayName,
		Note:           p.Description,
		Avatar:         p.Avatar,
		Header:         p.Banner,
		FollowersCount: p.FollowersCount,
		FollowingCount: p.FollowsCount,
		StatusesCount:  p.PostsCount,
		CreatedAt:      p.CreatedAt,
	}, nil
}

func blobKey(did, cid string) string {
	return "at://" + did + "/blob/" + cid
}

func notificationType(reason string) string {
	switch reason {
	case "like":
		return "favourite"
	case "repost":
		return "reblog"
	case "reply", "mention", "quote":
		return "mention"
	default:
		return reason
	}
}

func mediaType(mime string) string {
	for _, t := range []string{"image", "video", "audio"} {
		if strings.HasPrefix(mime, t+"/") {
			return t
		}
	}
	return "unknown"
}
