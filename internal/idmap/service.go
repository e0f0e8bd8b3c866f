// Package idmap translates between the backing protocol's native
// identifiers and the flat 64-bit IDs legacy clients expect.
//
// Account identifiers get deterministic IDs derived from a BLAKE3
// fingerprint; resource addresses get time-ordered snowflake IDs. Either way
// the first persisted mapping for a key is final: both directions are
// written by one atomic store call and never expire.
package idmap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gaspardpetit/skybridge/core/logx"
	"github.com/gaspardpetit/skybridge/internal/mapstore"
	"github.com/gaspardpetit/skybridge/internal/metrics"
)

// Kind selects the ID generation strategy for a native key.
type Kind int

const (
	// KindAccount is an account identifier such as did:plc:alice.
	KindAccount Kind = iota + 1
	// KindResource is a resource address such as at://did:plc:alice/app.bsky.feed.post/3k.
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindAccount:
		return "account"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// ParseKind parses "account" or "resource".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "account":
		return KindAccount, nil
	case "resource":
		return KindResource, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// IsAccountKey reports whether key names an account rather than a resource.
func IsAccountKey(key string) bool {
	return strings.HasPrefix(key, "did:")
}

// Entry is one persisted mapping.
type Entry struct {
	ID  int64
	Key string
}

const (
	DefaultKeyPrefix   = "{skybridge}"
	DefaultMaxAttempts = 16
	// NodeAuto derives the snowflake node from hostname and pid.
	NodeAuto = -1
)

// Options tune a Service. Zero values select defaults.
type Options struct {
	// KeyPrefix namespaces store keys. The default carries a Redis hash
	// tag so forward and reverse keys share a cluster slot.
	KeyPrefix string
	// NodeID is the snowflake node for resource IDs, or NodeAuto.
	NodeID int64
	// MaxAttempts bounds candidate generation per key.
	MaxAttempts int
	// LocalCacheTTL enables an in-process read cache when positive.
	LocalCacheTTL time.Duration
	// LocalCacheMB caps the read cache; zero leaves it unbounded.
	LocalCacheMB int
}

// Service is the identifier mapping service. It is safe for concurrent use
// and any number of Services may share one store.
type Service struct {
	store       mapstore.Store
	gen         *Generator
	cache       *localCache
	group       singleflight.Group
	prefix      string
	maxAttempts int
	fingerprint func(key string, attempt int) int64
}

// New constructs a Service over store.
func New(store mapstore.Store, opts Options) (*Service, error) {
	if store == nil {
		return nil, errors.New("idmap: nil store")
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	node := opts.NodeID
	if node == NodeAuto {
		host, _ := os.Hostname()
		node = deriveNodeID(host + ":" + strconv.Itoa(os.Getpid()))
	}
	gen, err := NewGenerator(node)
	if err != nil {
		return nil, err
	}
	s := &Service{
		store:       store,
		gen:         gen,
		prefix:      opts.KeyPrefix,
		maxAttempts: opts.MaxAttempts,
		fingerprint: Fingerprint,
	}
	if opts.LocalCacheTTL > 0 {
		if s.cache, err = newLocalCache(opts.LocalCacheTTL, opts.LocalCacheMB); err != nil {
			return nil, fmt.Errorf("idmap: local cache: %w", err)
		}
	}
	logx.Log.Debug().Int64("node", node).Bool("local_cache", s.cache != nil).Msg("id mapping service ready")
	return s, nil
}

func (s *Service) forwardKey(key string) string {
	return s.prefix + ":fwd:" + key
}

func (s *Service) reverseKey(id int64) string {
	return s.prefix + ":rev:" + strconv.FormatInt(id, 10)
}

// GetOrCreateID returns the ID mapped to key, assigning and persisting one
// if none exists. Concurrent callers for the same key, in this process or
// any other sharing the store, all receive the same ID.
func (s *Service) GetOrCreateID(ctx context.Context, key string, kind Kind) (int64, error) {
	if key == "" {
		return 0, ErrInvalidKey
	}
	if kind != KindAccount && kind != KindResource {
		return 0, ErrInvalidKind
	}
	if id, ok := s.cache.id(key); ok {
		return id, nil
	}
	// The shared call must not fail just because the first waiter gave up.
	ch := s.group.DoChan(key, func() (any, error) {
		return s.getOrCreate(context.WithoutCancel(ctx), key, kind)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int64), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (s *Service) getOrCreate(ctx context.Context, key string, kind Kind) (int64, error) {
	fwd := s.forwardKey(key)
	id, found, err := s.readForward(ctx, fwd)
	if err != nil {
		return 0, err
	}
	if found {
		s.cache.put(key, id)
		return id, nil
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		candidate := s.candidate(key, kind, attempt)
		if candidate <= 0 {
			metrics.RecordIDCollision(kind.String())
			continue
		}
		claim, err := s.store.ClaimPair(ctx, mapstore.Pair{
			ForwardKey:   fwd,
			ForwardValue: strconv.FormatInt(candidate, 10),
			ReverseKey:   s.reverseKey(candidate),
			ReverseValue: key,
		})
		if err != nil {
			return 0, err
		}
		switch claim.Status {
		case mapstore.ClaimCreated:
			metrics.RecordIDAssigned(kind.String())
			logx.Log.Debug().Str("key", key).Str("kind", kind.String()).Int64("id", candidate).Int("attempt", attempt).Msg("assigned id")
			s.cache.put(key, candidate)
			return candidate, nil
		case mapstore.ClaimExists:
			id, err := parseID(claim.Value)
			if err != nil {
				return 0, fmt.Errorf("%w: %s: %v", ErrCorruptEntry, fwd, err)
			}
			s.cache.put(key, id)
			return id, nil
		case mapstore.ClaimCollision:
			metrics.RecordIDCollision(kind.String())
			logx.Log.Warn().Str("key", key).Str("kind", kind.String()).Int64("candidate", candidate).Str("owner", claim.Value).Int("attempt", attempt).Msg("id collision; retrying")
		}
	}
	return 0, fmt.Errorf("%w: %s after %d attempts", ErrCollisionExhausted, key, s.maxAttempts)
}

// candidate returns the attempt-th candidate for key. Account candidates
// are a pure function of (key, attempt) so independent callers agree.
func (s *Service) candidate(key string, kind Kind, attempt int) int64 {
	if kind == KindAccount {
		return s.fingerprint(key, attempt)
	}
	return s.gen.Next()
}

// Lookup returns the ID already mapped to key without assigning one.
func (s *Service) Lookup(ctx context.Context, key string) (int64, bool, error) {
	if key == "" {
		return 0, false, ErrInvalidKey
	}
	if id, ok := s.cache.id(key); ok {
		return id, true, nil
	}
	id, found, err := s.readForward(ctx, s.forwardKey(key))
	if err != nil || !found {
		return 0, false, err
	}
	s.cache.put(key, id)
	return id, true, nil
}

// ReverseLookup returns the native key that id was assigned to. An ID that
// was never assigned, or whose entry is gone, reports found == false with a
// nil error.
func (s *Service) ReverseLookup(ctx context.Context, id int64) (string, bool, error) {
	if id <= 0 {
		metrics.RecordReverseLookup(false)
		return "", false, nil
	}
	if key, ok := s.cache.key(id); ok {
		metrics.RecordReverseLookup(true)
		return key, true, nil
	}
	key, err := s.store.Get(ctx, s.reverseKey(id))
	if errors.Is(err, mapstore.ErrNotFound) {
		metrics.RecordReverseLookup(false)
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	metrics.RecordReverseLookup(true)
	s.cache.put(key, id)
	return key, true, nil
}

// Resolve is ReverseLookup for callers that prefer an error: a missing
// mapping is reported as ErrMappingNotFound.
func (s *Service) Resolve(ctx context.Context, id int64) (Entry, error) {
	key, found, err := s.ReverseLookup(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if !found {
		return Entry{}, fmt.Errorf("%w: %d", ErrMappingNotFound, id)
	}
	return Entry{ID: id, Key: key}, nil
}

func (s *Service) readForward(ctx context.Context, fwd string) (int64, bool, error) {
	v, err := s.store.Get(ctx, fwd)
	if errors.Is(err, mapstore.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := parseID(v)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s: %v", ErrCorruptEntry, fwd, err)
	}
	return id, true, nil
}

func parseID(v string) (int64, error) {
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("non-positive id %d", id)
	}
	return id, nil
}
