package favorites

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather/internal/models"
	"github.com/kjstillabower/city-weather/internal/observability"
)

// ItemError reports the failure to resolve one favorite.
type ItemError struct {
	ID  string
	Err error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("favorite %s: %v", e.ID, e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}

// Resolution holds the snapshots that resolved, in set order, and one error per
// identifier that did not.
type Resolution struct {
	Snapshots []models.ForecastSnapshot
	Errors    []ItemError
}

// Resolve fetches a forecast for every identifier in set concurrently. One
// failure never aborts the others; failed identifiers are omitted from
// Snapshots and listed in Errors. Both keep set order.
func (s *Store) Resolve(ctx context.Context, set Set) Resolution {
	type result struct {
		snap models.ForecastSnapshot
		err  error
	}
	results := make([]result, len(set))

	var wg sync.WaitGroup
	for i, id := range set {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			snap, err := s.source.Forecast(ctx, id)
			results[i] = result{snap: snap, err: err}
		}(i, id)
	}
	wg.Wait()

	var res Resolution
	for i, r := range results {
		if r.err != nil {
			observability.FavoritesResolveErrorsTotal.Inc()
			s.logger.Warn("favorite forecast unavailable", zap.String("id", set[i]), zap.Error(r.err))
			res.Errors = append(res.Errors, ItemError{ID: set[i], Err: r.err})
			continue
		}
		res.Snapshots = append(res.Snapshots, r.snap)
	}
	return res
}

// ToggleResult describes the outcome of ToggleResolved.
type ToggleResult struct {
	Set   Set
	Added bool
	// Snapshot is set when an added favorite's forecast was fetched.
	Snapshot *models.ForecastSnapshot
	// FetchErr is the forecast error for an added favorite, if any.
	FetchErr error
	// RolledBack is true when the policy removed the favorite again after FetchErr.
	RolledBack bool
}

// ToggleResolved toggles id and, when it was added, fetches its forecast so it
// is cached for display. A fetch failure is handled per the store's Policy;
// the returned error is reserved for validation and persistence failures.
func (s *Store) ToggleResolved(ctx context.Context, id string) (ToggleResult, error) {
	set, added, err := s.toggle(ctx, id)
	if err != nil {
		return ToggleResult{}, err
	}
	res := ToggleResult{Set: set, Added: added}
	if !added {
		return res, nil
	}

	id = set[len(set)-1]
	snap, fetchErr := s.source.Forecast(ctx, id)
	if fetchErr == nil {
		res.Snapshot = &snap
		return res, nil
	}
	res.FetchErr = fetchErr

	if s.policy != PolicyRollback {
		s.logger.Warn("favorite added without forecast", zap.String("id", id), zap.Error(fetchErr))
		return res, nil
	}

	s.logger.Warn("rolling back favorite after forecast failure", zap.String("id", id), zap.Error(fetchErr))
	rolled, err := s.removeIfPresent(ctx, id)
	if err != nil {
		return res, err
	}
	res.Set = rolled
	res.RolledBack = true
	return res, nil
}

// removeIfPresent removes id unless a concurrent toggle already did.
func (s *Store) removeIfPresent(ctx context.Context, id string) (Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.set.index(id)
	if i < 0 {
		return s.set.clone(), nil
	}
	next := s.set.clone()
	next = append(next[:i], next[i+1:]...)
	if err := s.persist(ctx, next); err != nil {
		return s.set.clone(), err
	}
	s.set = next
	observability.FavoritesTogglesTotal.WithLabelValues("rolled_back").Inc()
	return next.clone(), nil
}
