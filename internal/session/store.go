package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/gaspardpetit/skybridge/internal/mapstore"
)

// DefaultTTL is how long a session stays loadable after its last save.
const DefaultTTL = 7 * 24 * time.Hour

// ErrSessionNotFound means no session is stored for the account or token.
var ErrSessionNotFound = errors.New("session: not found")

// Store persists SessionData and the app-token index on a mapping store.
type Store struct {
	kv     mapstore.Store
	prefix string
	ttl    time.Duration
}

// NewStore returns a Store. A zero ttl selects DefaultTTL.
func NewStore(kv mapstore.Store, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "{skybridge}"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: kv, prefix: prefix, ttl: ttl}
}

func (s *Store) sessionKey(accountID string) string {
	return s.prefix + ":session:" + accountID
}

// tokenKey stores only a digest of the app token.
func (s *Store) tokenKey(token string) string {
	sum := blake3.Sum256([]byte(token))
	return s.prefix + ":apptoken:" + hex.EncodeToString(sum[:])
}

// Load returns the session stored for accountID.
func (s *Store) Load(ctx context.Context, accountID string) (SessionData, error) {
	v, err := s.kv.Get(ctx, s.sessionKey(accountID))
	if errors.Is(err, mapstore.ErrNotFound) {
		return SessionData{}, fmt.Errorf("%w: %s", ErrSessionNotFound, accountID)
	}
	if err != nil {
		return SessionData{}, err
	}
	var data SessionData
	if err := json.Unmarshal([]byte(v), &data); err != nil {
		return SessionData{}, fmt.Errorf("session: decode %s: %w", accountID, err)
	}
	return data, nil
}

// Save stores data under its account, resetting the TTL.
func (s *Store) Save(ctx context.Context, data SessionData) error {
	if data.AccountID == "" {
		return errors.New("session: missing account id")
	}
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, s.sessionKey(data.AccountID), string(b), s.ttl)
}

// Delete removes the session stored for accountID.
func (s *Store) Delete(ctx context.Context, accountID string) error {
	return s.kv.Delete(ctx, s.sessionKey(accountID))
}

// BindToken maps an app token issued to a client onto accountID.
func (s *Store) BindToken(ctx context.Context, token, accountID string) error {
	if token == "" || accountID == "" {
		return errors.New("session: empty token or account id")
	}
	return s.kv.Set(ctx, s.tokenKey(token), accountID, s.ttl)
}

// RevokeToken forgets an app token.
func (s *Store) RevokeToken(ctx context.Context, token string) error {
	return s.kv.Delete(ctx, s.tokenKey(token))
}

// ResolveToken returns the user an app token belongs to.
func (s *Store) ResolveToken(ctx context.Context, token string) (UserContext, error) {
	if token == "" {
		return UserContext{}, ErrSessionNotFound
	}
	accountID, err := s.kv.Get(ctx, s.tokenKey(token))
	if errors.Is(err, mapstore.ErrNotFound) {
		return UserContext{}, ErrSessionNotFound
	}
	if err != nil {
		return UserContext{}, err
	}
	data, err := s.Load(ctx, accountID)
	if err != nil {
		return UserContext{}, err
	}
	return UserContext{AccountID: data.AccountID, Handle: data.Handle, Session: data}, nil
}
