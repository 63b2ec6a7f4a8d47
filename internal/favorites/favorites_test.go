package favorites

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/city-weather/internal/models"
	"github.com/kjstillabower/city-weather/internal/storage"
	"github.com/kjstillabower/city-weather/internal/validation"
)

type mockSource struct {
	mu     sync.Mutex
	fail   map[string]error
	delays map[string]time.Duration
	calls  []string
}

func (m *mockSource) Forecast(ctx context.Context, id string) (models.ForecastSnapshot, error) {
	m.mu.Lock()
	m.calls = append(m.calls, id)
	delay := m.delays[id]
	err := m.fail[id]
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return models.ForecastSnapshot{}, err
	}
	return models.ForecastSnapshot{CityID: id, Location: models.Location{Name: id}}, nil
}

type failingKV struct {
	storage.KV
	setErr error
}

func (f *failingKV) Set(ctx context.Context, key, value string) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.KV.Set(ctx, key, value)
}

func persisted(t *testing.T, kv storage.KV) string {
	t.Helper()
	v, _, err := kv.Get(context.Background(), storage.KeyFavorites)
	if err != nil {
		t.Fatalf("Get(favorites) error = %v", err)
	}
	return v
}

func equalSet(a Set, b ...string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStore_Load(t *testing.T) {
	tests := []struct {
		name    string
		stored  *string
		want    []string
		wantErr error
	}{
		{name: "nothing persisted", want: []string{}},
		{name: "round trip", stored: ptr(`["paris","rome"]`), want: []string{"paris", "rome"}},
		{name: "empty array", stored: ptr(`[]`), want: []string{}},
		{name: "duplicates dropped", stored: ptr(`["rome","paris","rome"]`), want: []string{"rome", "paris"}},
		{name: "corrupt", stored: ptr(`{"rome":true}`), want: []string{}, wantErr: ErrCorruptFavorites},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := storage.NewMemoryKV()
			if tt.stored != nil {
				_ = kv.Set(context.Background(), storage.KeyFavorites, *tt.stored)
			}
			s := New(kv, &mockSource{}, PolicyKeep, nil)

			got, err := s.Load(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Load() error = %v, want %v", err, tt.wantErr)
			}
			if !equalSet(got, tt.want...) {
				t.Errorf("Load() = %v, want %v", got, tt.want)
			}
			if !equalSet(s.Current(), tt.want...) {
				t.Errorf("Current() = %v, want %v", s.Current(), tt.want)
			}
		})
	}
}

func ptr(s string) *string { return &s }

func TestStore_Toggle_AddThenRemove(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	s := New(kv, &mockSource{}, PolicyKeep, nil)
	if _, err := s.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	set, err := s.Toggle(ctx, "paris")
	if err != nil || !equalSet(set, "paris") {
		t.Fatalf("Toggle(paris) = %v, %v", set, err)
	}
	set, _ = s.Toggle(ctx, "rome")
	if !equalSet(set, "paris", "rome") {
		t.Fatalf("Toggle(rome) = %v", set)
	}
	if got := persisted(t, kv); got != `["paris","rome"]` {
		t.Errorf("persisted = %s", got)
	}
	if !s.Contains("rome") {
		t.Error("Contains(rome) = false")
	}

	set, _ = s.Toggle(ctx, "paris")
	if !equalSet(set, "rome") {
		t.Errorf("Toggle(paris) again = %v, want [rome]", set)
	}
	if got := persisted(t, kv); got != `["rome"]` {
		t.Errorf("persisted = %s, want [\"rome\"]", got)
	}
}

// TestStore_Toggle_Idempotence verifies that toggling the same identifier twice
// restores both the set and the persisted content.
func TestStore_Toggle_Idempotence(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	original := `["paris","rome"]`
	_ = kv.Set(ctx, storage.KeyFavorites, original)
	s := New(kv, &mockSource{}, PolicyKeep, nil)
	before, _ := s.Load(ctx)

	for _, id := range []string{"oslo", "paris"} {
		if _, err := s.Toggle(ctx, id); err != nil {
			t.Fatalf("Toggle(%s) error = %v", id, err)
		}
		after, err := s.Toggle(ctx, id)
		if err != nil {
			t.Fatalf("Toggle(%s) error = %v", id, err)
		}
		if id == "oslo" && !equalSet(after, before...) {
			t.Errorf("after double toggle of %s: %v, want %v", id, after, before)
		}
	}
	// Removing then re-adding moves paris to the end.
	if got := persisted(t, kv); got != `["rome","paris"]` {
		t.Errorf("persisted = %s", got)
	}

	s2 := New(kv, &mockSource{}, PolicyKeep, nil)
	_ = kv.Set(ctx, storage.KeyFavorites, original)
	_, _ = s2.Load(ctx)
	_, _ = s2.Toggle(ctx, "oslo")
	_, _ = s2.Toggle(ctx, "oslo")
	if got := persisted(t, kv); got != original {
		t.Errorf("persisted after double toggle = %s, want %s", got, original)
	}
}

func TestStore_Toggle_InvalidID(t *testing.T) {
	s := New(storage.NewMemoryKV(), &mockSource{}, PolicyKeep, nil)
	if _, err := s.Toggle(context.Background(), "  "); !errors.Is(err, validation.ErrIdentifierEmpty) {
		t.Errorf("Toggle() error = %v, want ErrIdentifierEmpty", err)
	}
}

func TestStore_Toggle_PersistFailureLeavesSetUnchanged(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{KV: storage.NewMemoryKV()}
	s := New(kv, &mockSource{}, PolicyKeep, nil)
	_, _ = s.Toggle(ctx, "paris")

	kv.setErr = errors.New("disk full")
	set, err := s.Toggle(ctx, "rome")
	if err == nil {
		t.Fatal("Toggle() error = nil, want persistence error")
	}
	if !equalSet(set, "paris") || !equalSet(s.Current(), "paris") {
		t.Errorf("set after failed persist = %v / %v, want [paris]", set, s.Current())
	}
}

// TestStore_Toggle_Concurrent verifies overlapping toggles lose no updates.
func TestStore_Toggle_Concurrent(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	s := New(kv, &mockSource{}, PolicyKeep, nil)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Toggle(ctx, fmt.Sprintf("city-%d", i)); err != nil {
				t.Errorf("Toggle() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := len(s.Current()); got != n {
		t.Errorf("len(Current()) = %d, want %d", got, n)
	}
	reloaded := New(kv, &mockSource{}, PolicyKeep, nil)
	set, err := reloaded.Load(ctx)
	if err != nil || len(set) != n {
		t.Errorf("reloaded set has %d entries (err %v), want %d", len(set), err, n)
	}
}

// TestStore_Resolve_PartialFailure verifies that a failing identifier is reported
// and omitted while the others keep set order, whatever order fetches finish in.
func TestStore_Resolve_PartialFailure(t *testing.T) {
	src := &mockSource{
		fail:   map[string]error{"berlin": errors.New("upstream down")},
		delays: map[string]time.Duration{"paris": 30 * time.Millisecond},
	}
	s := New(storage.NewMemoryKV(), src, PolicyKeep, nil)

	res := s.Resolve(context.Background(), Set{"paris", "berlin", "rome"})

	if len(res.Snapshots) != 2 || res.Snapshots[0].CityID != "paris" || res.Snapshots[1].CityID != "rome" {
		t.Errorf("Snapshots = %+v, want paris then rome", res.Snapshots)
	}
	if len(res.Errors) != 1 || res.Errors[0].ID != "berlin" {
		t.Fatalf("Errors = %+v, want one error for berlin", res.Errors)
	}
	if res.Errors[0].Error() != "favorite berlin: upstream down" {
		t.Errorf("Error() = %q", res.Errors[0].Error())
	}
}

func TestStore_Resolve_Parallel(t *testing.T) {
	src := &mockSource{delays: map[string]time.Duration{
		"a": 100 * time.Millisecond,
		"b": 100 * time.Millisecond,
		"c": 100 * time.Millisecond,
	}}
	s := New(storage.NewMemoryKV(), src, PolicyKeep, nil)

	start := time.Now()
	res := s.Resolve(context.Background(), Set{"a", "b", "c"})
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("Resolve() took %v, want fetches to overlap", elapsed)
	}
	if len(res.Snapshots) != 3 {
		t.Errorf("len(Snapshots) = %d, want 3", len(res.Snapshots))
	}
}

func TestStore_Resolve_Empty(t *testing.T) {
	s := New(storage.NewMemoryKV(), &mockSource{}, PolicyKeep, nil)
	res := s.Resolve(context.Background(), nil)
	if len(res.Snapshots) != 0 || len(res.Errors) != 0 {
		t.Errorf("Resolve(nil) = %+v", res)
	}
}

func TestStore_ToggleResolved(t *testing.T) {
	fetchErr := errors.New("no forecast")
	tests := []struct {
		name           string
		policy         Policy
		fail           bool
		wantSet        []string
		wantPersisted  string
		wantRolledBack bool
		wantSnapshot   bool
	}{
		{name: "fetch succeeds", policy: PolicyKeep, wantSet: []string{"rome"}, wantPersisted: `["rome"]`, wantSnapshot: true},
		{name: "keep on failure", policy: PolicyKeep, fail: true, wantSet: []string{"rome"}, wantPersisted: `["rome"]`},
		{name: "rollback on failure", policy: PolicyRollback, fail: true, wantSet: []string{}, wantPersisted: `[]`, wantRolledBack: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &mockSource{fail: map[string]error{}}
			if tt.fail {
				src.fail["rome"] = fetchErr
			}
			kv := storage.NewMemoryKV()
			s := New(kv, src, tt.policy, nil)

			res, err := s.ToggleResolved(context.Background(), "rome")
			if err != nil {
				t.Fatalf("ToggleResolved() error = %v", err)
			}
			if !res.Added {
				t.Error("Added = false, want true")
			}
			if !equalSet(res.Set, tt.wantSet...) {
				t.Errorf("Set = %v, want %v", res.Set, tt.wantSet)
			}
			if got := persisted(t, kv); got != tt.wantPersisted {
				t.Errorf("persisted = %s, want %s", got, tt.wantPersisted)
			}
			if res.RolledBack != tt.wantRolledBack {
				t.Errorf("RolledBack = %v, want %v", res.RolledBack, tt.wantRolledBack)
			}
			if (res.Snapshot != nil) != tt.wantSnapshot {
				t.Errorf("Snapshot = %v, want present=%v", res.Snapshot, tt.wantSnapshot)
			}
			if tt.fail && !errors.Is(res.FetchErr, fetchErr) {
				t.Errorf("FetchErr = %v, want %v", res.FetchErr, fetchErr)
			}
		})
	}
}

func TestStore_ToggleResolved_RemovalDoesNotFetch(t *testing.T) {
	src := &mockSource{}
	kv := storage.NewMemoryKV()
	_ = kv.Set(context.Background(), storage.KeyFavorites, `["rome"]`)
	s := New(kv, src, PolicyKeep, nil)
	_, _ = s.Load(context.Background())

	res, err := s.ToggleResolved(context.Background(), "rome")
	if err != nil {
		t.Fatalf("ToggleResolved() error = %v", err)
	}
	if res.Added || len(res.Set) != 0 {
		t.Errorf("result = %+v, want removal", res)
	}
	if len(src.calls) != 0 {
		t.Errorf("forecast calls = %v, want none", src.calls)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{in: "", want: PolicyKeep},
		{in: "keep", want: PolicyKeep},
		{in: " Rollback ", want: PolicyRollback},
		{in: "discard", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePolicy(%q) = %q, %v", tt.in, got, err)
		}
	}
}
