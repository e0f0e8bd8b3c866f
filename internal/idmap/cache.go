package idmap

import (
	"strconv"
	"time"

	"github.com/allegro/bigcache"
)

// localCache holds mappings already read from or written to the store.
// Mappings never change once assigned, so a hit is always correct.
type localCache struct {
	c *bigcache.BigCache
}

func newLocalCache(ttl time.Duration, maxMB int) (*localCache, error) {
	cfg := bigcache.DefaultConfig(ttl)
	cfg.Verbose = false
	if maxMB > 0 {
		cfg.HardMaxCacheSize = maxMB
	}
	c, err := bigcache.NewBigCache(cfg)
	if err != nil {
		return nil, err
	}
	return &localCache{c: c}, nil
}

func (l *localCache) id(key string) (int64, bool) {
	if l == nil {
		return 0, false
	}
	b, err := l.c.Get("f:" + key)
	if err != nil {
		return 0, false
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (l *localCache) key(id int64) (string, bool) {
	if l == nil {
		return "", false
	}
	b, err := l.c.Get("r:" + strconv.FormatInt(id, 10))
	if err != nil {
		return "", false
	}
	return string(b), true
}

func (l *localCache) put(key string, id int64) {
	if l == nil {
		return
	}
	s := strconv.FormatInt(id, 10)
	_ = l.c.Set("f:"+key, []byte(s))
	_ = l.c.Set("r:"+s, []byte(key))
}
