package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gaspardpetit/skybridge/internal/idmap"
	"github.com/gaspardpetit/skybridge/internal/mapstore"
	"github.com/gaspardpetit/skybridge/internal/session"
)

// fakePDS is a minimal upstream that records what it was asked to do.
type fakePDS struct {
	mu       sync.Mutex
	follows  []map[string]any
	deleted  []map[string]any
	bearers  []string
	uploaded []byte
}

func (f *fakePDS) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	json200 := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	auth := func(w http.ResponseWriter, r *http.Request) bool {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		f.mu.Lock()
		f.bearers = append(f.bearers, tok)
		f.mu.Unlock()
		if tok == "EXPIRED" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"ExpiredToken","message":"Token has expired"}`))
			return false
		}
		return true
	}
	mux.HandleFunc("/xrpc/app.bsky.actor.getProfile", func(w http.ResponseWriter, r *http.Request) {
		if !auth(w, r) {
			return
		}
		actor := r.URL.Query().Get("actor")
		if actor == "did:plc:broken" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"InternalServerError"}`))
			return
		}
		name := strings.TrimPrefix(actor, "did:plc:")
		json200(w, map[string]any{
			"did": actor, "handle": name + ".test", "displayName": strings.ToUpper(name),
			"followersCount": 3, "followsCount": 4, "postsCount": 5,
		})
	})
	mux.HandleFunc("/xrpc/com.atproto.repo.createRecord", func(w http.ResponseWriter, r *http.Request) {
		if !auth(w, r) {
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode createRecord: %v", err)
		}
		f.mu.Lock()
		f.follows = append(f.follows, body)
		f.mu.Unlock()
		json200(w, map[string]string{"uri": "at://" + body["repo"].(string) + "/app.bsky.graph.follow/3kfollow", "cid": "bafyfollow"})
	})
	mux.HandleFunc("/xrpc/com.atproto.repo.deleteRecord", func(w http.ResponseWriter, r *http.Request) {
		if !auth(w, r) {
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode deleteRecord: %v", err)
		}
		f.mu.Lock()
		f.deleted = append(f.deleted, body)
		f.mu.Unlock()
		json200(w, map[string]any{})
	})
	mux.HandleFunc("/xrpc/com.atproto.identity.resolveHandle", func(w http.ResponseWriter, r *http.Request) {
		if !auth(w, r) {
			return
		}
		handle := r.URL.Query().Get("handle")
		if !strings.HasSuffix(handle, ".test") || handle == "ghost.test" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"InvalidRequest","message":"Unable to resolve handle"}`))
			return
		}
		json200(w, map[string]string{"did": "did:plc:" + strings.TrimSuffix(handle, ".test")})
	})
	mux.HandleFunc("/xrpc/app.bsky.notification.listNotifications", func(w http.ResponseWriter, r *http.Request) {
		if !auth(w, r) {
			return
		}
		json200(w, map[string]any{
			"cursor": "c2",
			"notifications": []map[string]any{
				{"uri": "at://did:plc:bob/app.bsky.feed.like/1", "cid": "x1", "reason": "like", "isRead": false, "indexedAt": "2026-01-01T00:00:00Z",
					"author": map[string]string{"did": "did:plc:bob", "handle": "bob.test"}},
				{"uri": "at://did:plc:carol/app.bsky.graph.follow/2", "cid": "x2", "reason": "follow", "isRead": true, "indexedAt": "2026-01-01T00:01:00Z",
					"author": map[string]string{"did": "did:plc:carol", "handle": "carol.test"}},
			},
		})
	})
	mux.HandleFunc("/xrpc/com.atproto.repo.uploadBlob", func(w http.ResponseWriter, r *http.Request) {
		if !auth(w, r) {
			return
		}
		b, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.uploaded = b
		f.mu.Unlock()
		json200(w, map[string]any{"blob": map[string]any{
			"$type": "blob", "ref": map[string]string{"$link": "bafyblob"},
			"mimeType": r.Header.Get("Content-Type"), "size": len(b),
		}})
	})
	mux.HandleFunc("/xrpc/com.atproto.server.refreshSession", func(w http.ResponseWriter, r *http.Request) {
		if !auth(w, r) {
			return
		}
		json200(w, map[string]string{"accessJwt": "alice-access-2", "refreshJwt": "alice-refresh-2", "did": "did:plc:alice", "handle": "alice.test"})
	})
	return mux
}

type testEnv struct {
	handlers *Handlers
	router   http.Handler
	pds      *fakePDS
	registry *session.Registry
}

const aliceToken = "app-token-alice"

func newTestEnv(t *testing.T, kv mapstore.Store) *testEnv {
	t.Helper()
	pds := &fakePDS{}
	upstreamSrv := httptest.NewServer(pds.handler(t))
	t.Cleanup(upstreamSrv.Close)

	if kv == nil {
		kv = mapstore.NewMemoryStore()
	}
	ids, err := idmap.New(kv, idmap.Options{NodeID: 1})
	if err != nil {
		t.Fatalf("idmap.New: %v", err)
	}
	reg := session.NewRegistry()
	h := &Handlers{
		IDs:      ids,
		Sessions: session.NewStore(kv, "", time.Hour),
		Factory:  session.NewFactory(upstreamSrv.URL, session.WithRegistry(reg)),
		Timeout:  5 * time.Second,
	}
	return &testEnv{handlers: h, router: testRouter(h), pds: pds, registry: reg}
}

// seedUser stores a session and binds an app token to it.
func (e *testEnv) seedUser(t *testing.T, token string, data session.SessionData) {
	t.Helper()
	ctx := context.Background()
	if err := e.handlers.Sessions.Save(ctx, data); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := e.handlers.Sessions.BindToken(ctx, token, data.AccountID); err != nil {
		t.Fatalf("BindToken: %v", err)
	}
}

func alice() session.SessionData {
	return session.SessionData{AccountID: "did:plc:alice", Handle: "alice.test", AccessToken: "alice-access", RefreshToken: "alice-refresh"}
}

func testRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()
	for _, m := range MiddlewareChain() {
		r.Use(m)
	}
	h.Mount(r)
	return r
}

func (e *testEnv) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rr)["error"]
}
