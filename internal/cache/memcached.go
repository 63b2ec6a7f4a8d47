package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/cespare/xxhash/v2"
)

const keyPrefix = "cityweather:"

// maxRelativeExp is the largest expiration memcached treats as relative seconds.
const maxRelativeExp = 30 * 24 * 60 * 60

// MemcachedStore implements Store using memcached. Entries expire from memcached
// after their TTL plus the stale retention window, so stale values stay
// available for stale-while-revalidate.
type MemcachedStore struct {
	client         *memcache.Client
	staleRetention time.Duration
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// use package defaults if zero.
func NewMemcachedStore(addrs string, timeout time.Duration, maxIdleConns int, staleRetention time.Duration) (*MemcachedStore, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedStore{client: client, staleRetention: staleRetention}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// key hashes k because search keys carry arbitrary user text, and memcached
// rejects keys with spaces or control characters or longer than 250 bytes.
func (s *MemcachedStore) key(k string) string {
	return keyPrefix + strconv.FormatUint(xxhash.Sum64String(k), 16)
}

// expiration returns the memcached expiration in seconds for entry; 0 never expires.
func (s *MemcachedStore) expiration(entry Entry) int32 {
	if entry.TTL <= 0 {
		return 0
	}
	exp := int64((entry.TTL + s.staleRetention).Seconds())
	if exp < 1 {
		exp = 1
	}
	if exp > maxRelativeExp {
		exp = maxRelativeExp
	}
	return int32(exp)
}

// Get implements Store.Get. A hash collision with another key reads as a miss.
func (s *MemcachedStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	if ctx.Err() != nil {
		return Entry{}, false, ctx.Err()
	}
	item, err := s.client.Get(s.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(item.Value, &e); err != nil {
		return Entry{}, false, err
	}
	if e.Key != key {
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (s *MemcachedStore) Set(ctx context.Context, key string, entry Entry) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	entry.Key = key
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.Set(&memcache.Item{
		Key:        s.key(key),
		Value:      raw,
		Expiration: s.expiration(entry),
	})
}

func (s *MemcachedStore) Delete(ctx context.Context, key string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	err := s.client.Delete(s.key(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

// Ping checks if memcached is reachable. Used for health checks.
func (s *MemcachedStore) Ping() error {
	return s.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (s *MemcachedStore) Close() error {
	return s.client.Close()
}
