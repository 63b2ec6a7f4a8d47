package cache

import (
	"context"
)

// inFlightFetch is a single upstream fetch that any number of callers may wait on.
// done is closed once val and err are final.
type inFlightFetch struct {
	done    chan struct{}
	val     []byte
	err     error
	refresh bool
	joined  int // callers attached after the fetch started; guarded by ResponseCache.mu
}

func newInFlightFetch(refresh bool) *inFlightFetch {
	return &inFlightFetch{done: make(chan struct{}), refresh: refresh}
}

// wait blocks until the fetch completes or ctx is done. Giving up on ctx does
// not cancel the fetch; other waiters still receive its result.
func (f *inFlightFetch) wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
