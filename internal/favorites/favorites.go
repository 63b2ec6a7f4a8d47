// Package favorites keeps the user's ordered set of favorite city identifiers,
// persisted in full after every change, and resolves them to forecasts.
package favorites

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather/internal/models"
	"github.com/kjstillabower/city-weather/internal/observability"
	"github.com/kjstillabower/city-weather/internal/storage"
	"github.com/kjstillabower/city-weather/internal/validation"
)

// ErrCorruptFavorites is returned by Load when the persisted value is not a JSON
// array of strings. The store is left empty.
var ErrCorruptFavorites = errors.New("persisted favorites are corrupt")

// Policy decides what ToggleResolved does when the forecast for a newly added
// favorite cannot be fetched.
type Policy string

const (
	// PolicyKeep leaves the identifier in the set without data.
	PolicyKeep Policy = "keep"
	// PolicyRollback removes the identifier again and persists the removal.
	PolicyRollback Policy = "rollback"
)

// ParsePolicy accepts "keep" and "rollback"; empty means keep.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyKeep:
		return PolicyKeep, nil
	case PolicyRollback:
		return PolicyRollback, nil
	}
	return "", fmt.Errorf("unknown favorites policy %q", s)
}

// Set is an ordered list of unique city identifiers; order is insertion order.
type Set []string

func (s Set) Contains(id string) bool {
	return s.index(id) >= 0
}

func (s Set) index(id string) int {
	for i, v := range s {
		if v == id {
			return i
		}
	}
	return -1
}

func (s Set) clone() Set {
	return append(Set(nil), s...)
}

// ForecastSource resolves a city identifier to a forecast, normally through the response cache.
type ForecastSource interface {
	Forecast(ctx context.Context, cityID string) (models.ForecastSnapshot, error)
}

// Store owns the favorites set and its persistence.
type Store struct {
	kv     storage.KV
	source ForecastSource
	policy Policy
	logger *zap.Logger

	mu  sync.Mutex
	set Set
}

func New(kv storage.KV, source ForecastSource, policy Policy, logger *zap.Logger) *Store {
	if policy == "" {
		policy = PolicyKeep
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{kv: kv, source: source, policy: policy, logger: logger}
}

// Load reads the persisted set, replacing the in-memory one. A missing value is an
// empty set. Duplicates in the persisted array are dropped, keeping first occurrence.
func (s *Store) Load(ctx context.Context) (Set, error) {
	raw, ok, err := s.kv.Get(ctx, storage.KeyFavorites)
	if err != nil {
		return nil, fmt.Errorf("load favorites: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.set = Set{}
	if !ok || strings.TrimSpace(raw) == "" {
		return s.set.clone(), nil
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		s.logger.Warn("persisted favorites are corrupt, starting empty", zap.Error(err))
		return s.set.clone(), fmt.Errorf("%w: %v", ErrCorruptFavorites, err)
	}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || s.set.Contains(id) {
			continue
		}
		s.set = append(s.set, id)
	}
	return s.set.clone(), nil
}

// Current returns a copy of the in-memory set.
func (s *Store) Current() Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.clone()
}

func (s *Store) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.Contains(strings.TrimSpace(id))
}

// Toggle removes id if present, appends it otherwise, and persists the whole
// set before returning it. Overlapping toggles are serialized. If the write
// fails the in-memory set is left unchanged.
func (s *Store) Toggle(ctx context.Context, id string) (Set, error) {
	set, _, err := s.toggle(ctx, id)
	return set, err
}

func (s *Store) toggle(ctx context.Context, id string) (Set, bool, error) {
	id, err := validation.ValidateIdentifier(id)
	if err != nil {
		return nil, false, fmt.Errorf("toggle favorite: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.set.clone()
	added := false
	if i := next.index(id); i >= 0 {
		next = append(next[:i], next[i+1:]...)
	} else {
		next = append(next, id)
		added = true
	}

	if err := s.persist(ctx, next); err != nil {
		return s.set.clone(), false, err
	}
	s.set = next

	action := "removed"
	if added {
		action = "added"
	}
	observability.FavoritesTogglesTotal.WithLabelValues(action).Inc()
	s.logger.Info("favorite toggled", zap.String("id", id), zap.String("action", action), zap.Int("count", len(next)))
	return next.clone(), added, nil
}

// persist writes set in full. Callers hold s.mu.
func (s *Store) persist(ctx context.Context, set Set) error {
	ids := []string(set)
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode favorites: %w", err)
	}
	if err := s.kv.Set(ctx, storage.KeyFavorites, string(raw)); err != nil {
		s.logger.Error("persist favorites failed", zap.Error(err))
		return fmt.Errorf("persist favorites: %w", err)
	}
	return nil
}
