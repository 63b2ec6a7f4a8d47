package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather/internal/observability"
)

// ErrClosed is returned by GetOrFetch after Close.
var ErrClosed = errors.New("response cache closed")

// FetchFunc produces the encoded value for a key. The context it receives is
// owned by the cache, not by any single caller.
type FetchFunc func(ctx context.Context) ([]byte, error)

type Config struct {
	// FetchTimeout bounds every upstream fetch started by the cache.
	FetchTimeout time.Duration
	Logger       *zap.Logger
	Now          func() time.Time
}

// ResponseCache memoizes fetch results by Key with stale-while-revalidate and
// at most one in-flight fetch per key.
type ResponseCache struct {
	store        Store
	fetchTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	inFlight map[string]*inFlightFetch
	closed   bool
	wg       sync.WaitGroup
}

func NewResponseCache(store Store, cfg Config) *ResponseCache {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ResponseCache{
		store:        store,
		fetchTimeout: cfg.FetchTimeout,
		logger:       cfg.Logger,
		now:          cfg.Now,
		baseCtx:      ctx,
		cancel:       cancel,
		inFlight:     make(map[string]*inFlightFetch),
	}
}

// GetOrFetch returns the value cached under key.
//
// A fresh entry is returned as is. A stale entry is returned immediately and a
// background refresh replaces it on success; refresh errors are logged and the
// stale value stays. On a miss the caller waits for fetch (shared with any
// concurrent callers for the same key); a failed fetch stores nothing.
func (c *ResponseCache) GetOrFetch(ctx context.Context, key Key, ttl time.Duration, fetch FetchFunc) ([]byte, error) {
	k := key.String()
	kind := string(key.Kind)

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	entry, ok, err := c.store.Get(ctx, k)
	if err != nil {
		observability.CacheStoreErrorsTotal.WithLabelValues("get").Inc()
		c.logger.Warn("cache store get failed", zap.String("key", k), zap.Error(err))
		ok = false
	}

	if ok {
		if entry.Fresh(c.now()) {
			observability.CacheLookupsTotal.WithLabelValues(kind, "hit").Inc()
			c.logger.Debug("cache hit", zap.String("key", k))
			return entry.Value, nil
		}
		observability.CacheLookupsTotal.WithLabelValues(kind, "stale").Inc()
		c.logger.Debug("cache stale, refreshing", zap.String("key", k))
		c.refresh(key, ttl, fetch)
		return entry.Value, nil
	}

	f, started, settled, found := c.joinMiss(ctx, key, ttl, fetch)
	if found {
		observability.CacheLookupsTotal.WithLabelValues(kind, "hit").Inc()
		c.logger.Debug("cache filled while reading, using stored value", zap.String("key", k))
		return settled.Value, nil
	}
	observability.CacheLookupsTotal.WithLabelValues(kind, "miss").Inc()
	if f == nil {
		return nil, ErrClosed
	}
	if !started {
		observability.CacheCoalescedTotal.WithLabelValues(kind).Inc()
		c.logger.Debug("cache fetch coalesced", zap.String("key", k))
	}
	return f.wait(ctx)
}

// refresh starts a background fetch for key unless one is already in flight.
func (c *ResponseCache) refresh(key Key, ttl time.Duration, fetch FetchFunc) {
	c.join(key, ttl, fetch, true)
}

// join attaches to the in-flight fetch for key, starting one if there is none.
// It returns nil once the cache is closed.
func (c *ResponseCache) join(key Key, ttl time.Duration, fetch FetchFunc, refresh bool) (*inFlightFetch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joinLocked(key, ttl, fetch, refresh)
}

// joinMiss is join for a caller that read a miss outside c.mu. A fetch for key
// may have stored its result and deregistered since that read, so before
// starting a new fetch the store is read again under c.mu; run writes the store
// while holding c.mu, which makes this second read authoritative. found reports
// that a fresh entry appeared in the meantime.
func (c *ResponseCache) joinMiss(ctx context.Context, key Key, ttl time.Duration, fetch FetchFunc) (f *inFlightFetch, started bool, entry Entry, found bool) {
	k := key.String()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false, Entry{}, false
	}
	if _, ok := c.inFlight[k]; !ok {
		e, ok, err := c.store.Get(ctx, k)
		if err != nil {
			observability.CacheStoreErrorsTotal.WithLabelValues("get").Inc()
		} else if ok && e.Fresh(c.now()) {
			return nil, false, e, true
		}
	}
	f, started = c.joinLocked(key, ttl, fetch, false)
	return f, started, Entry{}, false
}

// joinLocked is join with c.mu held.
func (c *ResponseCache) joinLocked(key Key, ttl time.Duration, fetch FetchFunc, refresh bool) (*inFlightFetch, bool) {
	k := key.String()
	if c.closed {
		return nil, false
	}
	if f, ok := c.inFlight[k]; ok {
		if !refresh {
			f.joined++
		}
		return f, false
	}

	f := newInFlightFetch(refresh)
	c.inFlight[k] = f
	c.wg.Add(1)
	go c.run(key, ttl, fetch, f)
	return f, true
}

func (c *ResponseCache) run(key Key, ttl time.Duration, fetch FetchFunc, f *inFlightFetch) {
	defer c.wg.Done()
	k := key.String()
	kind := string(key.Kind)

	ctx, cancel := context.WithTimeout(c.baseCtx, c.fetchTimeout)
	defer cancel()

	val, err := fetch(ctx)
	inserted := c.now()

	status := "success"
	if err != nil {
		status = "error"
	}
	if f.refresh {
		observability.CacheRefreshesTotal.WithLabelValues(kind, status).Inc()
		if err != nil {
			c.logger.Warn("background refresh failed, keeping stale value", zap.String("key", k), zap.Error(err))
		}
	} else {
		observability.CacheFetchesTotal.WithLabelValues(kind, status).Inc()
	}

	// Store while still registered so a concurrent miss cannot start a second
	// fetch between the store write and deregistration. A fetch that was
	// invalidated mid-flight is not stored.
	c.mu.Lock()
	if c.inFlight[k] == f {
		if err == nil {
			entry := Entry{Key: k, Value: val, InsertedAt: inserted, TTL: ttl}
			if setErr := c.store.Set(c.baseCtx, k, entry); setErr != nil {
				observability.CacheStoreErrorsTotal.WithLabelValues("set").Inc()
				c.logger.Warn("cache store set failed", zap.String("key", k), zap.Error(setErr))
			}
		}
		delete(c.inFlight, k)
	}
	c.mu.Unlock()

	f.val, f.err = val, err
	close(f.done)
}

// Invalidate removes key. The next GetOrFetch for key fetches afresh, even if a
// fetch for it was in flight when Invalidate was called.
func (c *ResponseCache) Invalidate(ctx context.Context, key Key) error {
	k := key.String()

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, k)
	if err := c.store.Delete(ctx, k); err != nil {
		observability.CacheStoreErrorsTotal.WithLabelValues("delete").Inc()
		return fmt.Errorf("invalidate %s: %w", k, err)
	}
	return nil
}

// Wait blocks until every fetch and background refresh started so far has completed.
func (c *ResponseCache) Wait() {
	c.wg.Wait()
}

// Close cancels outstanding fetches and waits for them to finish.
// GetOrFetch returns ErrClosed afterwards.
func (c *ResponseCache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// GetOrFetch is the typed form of ResponseCache.GetOrFetch. Values are stored as JSON.
func GetOrFetch[T any](ctx context.Context, c *ResponseCache, key Key, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var out T
	raw, err := c.GetOrFetch(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode cached %s: %w", key.Kind, err)
	}
	return out, nil
}
