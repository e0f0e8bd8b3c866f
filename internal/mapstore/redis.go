package mapstore

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// claimScript returns {0, fwdval} when it wrote both keys, {1, existing}
// when the forward key exists and {2, other} on a reverse collision.
var claimScript = redis.NewScript(`
local fwd = redis.call('GET', KEYS[1])
if fwd then
  return {1, fwd}
end
local rev = redis.call('GET', KEYS[2])
if rev and rev ~= ARGV[2] then
  return {2, rev}
end
redis.call('SET', KEYS[2], ARGV[2])
redis.call('SET', KEYS[1], ARGV[1])
return {0, ARGV[1]}
`)

// redisStore implements Store backed by a Redis instance.
type redisStore struct {
	client redis.UniversalClient
}

// NewRedisStore connects to the given Redis URL and returns a Store.
func NewRedisStore(ctx context.Context, addr string) (Store, error) {
	opts, err := parseRedisURL(addr)
	if err != nil {
		return nil, err
	}
	c := redis.NewUniversalClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrUnavailable, err)
	}
	return &redisStore{client: c}, nil
}

// parseRedisURL parses addr into UniversalOptions supporting single, cluster,
// and sentinel Redis deployments. If no scheme is present, addr is treated as
// a plain host:port string.
func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}

	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}

	opts := &redis.UniversalOptions{Addrs: strings.Split(u.Host, ",")}
	if u.User != nil {
		opts.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}

	q := u.Query()
	secure := false
	switch u.Scheme {
	case "redis", "rediss":
		db := strings.TrimPrefix(u.Path, "/")
		if db == "" {
			db = q.Get("db")
		}
		if opts.DB, err = parseDB(db); err != nil {
			return nil, err
		}
		secure = u.Scheme == "rediss"
	case "redis-sentinel", "rediss-sentinel":
		opts.MasterName = strings.TrimPrefix(u.Path, "/")
		if opts.DB, err = parseDB(q.Get("db")); err != nil {
			return nil, err
		}
		opts.SentinelUsername = q.Get("sentinel_username")
		opts.SentinelPassword = q.Get("sentinel_password")
		secure = u.Scheme == "rediss-sentinel"
	default:
		return nil, fmt.Errorf("redis: invalid URL scheme: %s", u.Scheme)
	}
	if secure {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}

func parseDB(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	db, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("redis: invalid db: %v", err)
	}
	return db, nil
}

func (r *redisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %w", ErrUnavailable, key, err)
	}
	return v, nil
}

func (r *redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

func (r *redisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: delete %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

func (r *redisStore) ClaimPair(ctx context.Context, p Pair) (Claim, error) {
	res, err := claimScript.Run(ctx, r.client,
		[]string{p.ForwardKey, p.ReverseKey},
		p.ForwardValue, p.ReverseValue,
	).Slice()
	if err != nil {
		return Claim{}, fmt.Errorf("%w: claim %s: %w", ErrUnavailable, p.ForwardKey, err)
	}
	if len(res) != 2 {
		return Claim{}, fmt.Errorf("%w: claim %s: unexpected reply %v", ErrUnavailable, p.ForwardKey, res)
	}
	code, _ := res[0].(int64)
	value, _ := res[1].(string)
	switch code {
	case 0:
		return Claim{Status: ClaimCreated, Value: value}, nil
	case 1:
		return Claim{Status: ClaimExists, Value: value}, nil
	case 2:
		return Claim{Status: ClaimCollision, Value: value}, nil
	default:
		return Claim{}, fmt.Errorf("%w: claim %s: unexpected status %d", ErrUnavailable, p.ForwardKey, code)
	}
}

func (r *redisStore) Close() error {
	return r.client.Close()
}
