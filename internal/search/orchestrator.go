// Package search turns a stream of query edits into debounced city searches
// and fans out forecast fetches for the results.
package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather/internal/models"
	"github.com/kjstillabower/city-weather/internal/observability"
	"github.com/kjstillabower/city-weather/internal/storage"
	"github.com/kjstillabower/city-weather/internal/validation"
)

const (
	DefaultMinQueryLength = 2
	DefaultMaxQueryLength = 100
	DefaultDebounce       = 300 * time.Millisecond
	DefaultMaxResults     = 5
	DefaultQuery          = "Italy"
)

// Source is the cache-backed upstream used by the orchestrator.
type Source interface {
	SearchCities(ctx context.Context, query string) ([]models.CityCandidate, error)
	Forecast(ctx context.Context, cityID string) (models.ForecastSnapshot, error)
}

type Config struct {
	MinQueryLength int
	MaxQueryLength int
	Debounce       time.Duration
	MaxResults     int
	// RetainResultsOnError keeps the previous results visible when a search fails.
	RetainResultsOnError bool
	// DefaultQuery is restored when no last search is persisted.
	DefaultQuery string
}

func (c Config) withDefaults() Config {
	if c.MinQueryLength <= 0 {
		c.MinQueryLength = DefaultMinQueryLength
	}
	if c.MaxQueryLength <= 0 {
		c.MaxQueryLength = DefaultMaxQueryLength
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.MaxResults <= 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.DefaultQuery == "" {
		c.DefaultQuery = DefaultQuery
	}
	return c
}

// View is a snapshot of the orchestrator's visible state.
type View struct {
	Query   string
	State   State
	Results []models.CityCandidate
	// Forecasts holds the forecasts resolved so far, in Results order.
	Forecasts []models.ForecastSnapshot
	// ForecastErrors maps city identifier to its forecast failure.
	ForecastErrors map[string]error
	// Pending counts forecast fetches still outstanding.
	Pending int
	Err     error
	// Empty is true when a settled search returned no cities.
	Empty bool
}

// Orchestrator owns the debounce timer and query state. It is safe for
// concurrent use; every method may be called from any goroutine.
type Orchestrator struct {
	src    Source
	kv     storage.KV
	cfg    Config
	logger *zap.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu        sync.Mutex
	seq       uint64
	timer     *time.Timer
	cancel    context.CancelFunc
	query     string
	state     State
	results   []models.CityCandidate
	forecasts map[string]models.ForecastSnapshot
	fcErrs    map[string]error
	pending   int
	err       error
	idle      chan struct{}
	idleDone  bool
	closed    bool
	wg        sync.WaitGroup

	changes chan struct{}

	persistMu  sync.Mutex
	persistSeq uint64
}

func New(src Source, kv storage.KV, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Orchestrator{
		src:        src,
		kv:         kv,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		baseCtx:    ctx,
		baseCancel: cancel,
		state:      Idle,
		forecasts:  make(map[string]models.ForecastSnapshot),
		fcErrs:     make(map[string]error),
		idle:       idle,
		idleDone:   true,
		changes:    make(chan struct{}, 1),
	}
}

// SetQuery records a query edit. Queries below the minimum length clear the
// results at once; anything else restarts the debounce timer, and only the
// last edit within the quiet period is searched. Every qualifying query is
// persisted as the last search before SetQuery returns.
func (o *Orchestrator) SetQuery(ctx context.Context, raw string) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.seq++
	seq := o.seq
	o.supersedeLocked()
	o.query = raw

	q, err := validation.ValidateQuery(raw, o.cfg.MinQueryLength, o.cfg.MaxQueryLength)
	switch {
	case validation.BelowMinimum(err):
		o.clearLocked()
		o.setStateLocked(Idle)
		o.mu.Unlock()
		return
	case err != nil:
		if !o.cfg.RetainResultsOnError {
			o.clearLocked()
		}
		o.err = fmt.Errorf("search %q: %w", raw, err)
		o.setStateLocked(Errored)
		o.mu.Unlock()
		return
	}

	o.err = nil
	o.setStateLocked(Debouncing)
	o.timer = time.AfterFunc(o.cfg.Debounce, func() { o.fire(seq, q) })
	o.mu.Unlock()

	o.persist(ctx, seq, q)
}

// supersedeLocked stops the debounce timer and cancels the in-flight request
// of the previous query. Callers hold o.mu.
func (o *Orchestrator) supersedeLocked() {
	if o.timer != nil {
		if o.timer.Stop() && o.state == Debouncing {
			observability.SearchDebounceRestartsTotal.Inc()
		}
		o.timer = nil
	}
	if o.cancel != nil {
		if o.state == Fetching {
			observability.SearchSupersededTotal.Inc()
		}
		o.cancel()
		o.cancel = nil
	}
	// Outstanding forecast fetches belong to the previous query.
	o.pending = 0
	if o.idleDone {
		o.idle = make(chan struct{})
		o.idleDone = false
	}
}

func (o *Orchestrator) clearLocked() {
	o.results = nil
	o.forecasts = make(map[string]models.ForecastSnapshot)
	o.fcErrs = make(map[string]error)
	o.pending = 0
	o.err = nil
}

// setStateLocked transitions and notifies. Callers hold o.mu.
func (o *Orchestrator) setStateLocked(s State) {
	o.state = s
	if s.terminal() && o.pending == 0 && !o.idleDone {
		close(o.idle)
		o.idleDone = true
	}
	o.notify()
}

func (o *Orchestrator) notify() {
	select {
	case o.changes <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) persist(ctx context.Context, seq uint64, q string) {
	if o.kv == nil {
		return
	}
	o.persistMu.Lock()
	defer o.persistMu.Unlock()
	if seq < o.persistSeq {
		return
	}
	o.persistSeq = seq
	if err := o.kv.Set(ctx, storage.KeySearch, q); err != nil {
		o.logger.Warn("persist last search failed", zap.String("query", q), zap.Error(err))
	}
}

// fire runs when the debounce timer for seq expires.
func (o *Orchestrator) fire(seq uint64, q string) {
	o.mu.Lock()
	if o.closed || seq != o.seq {
		o.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(o.baseCtx)
	o.cancel = cancel
	o.timer = nil
	o.setStateLocked(Fetching)
	o.wg.Add(1)
	o.mu.Unlock()
	defer o.wg.Done()

	observability.SearchRequestsTotal.Inc()
	results, err := o.src.SearchCities(ctx, q)

	o.mu.Lock()
	if seq != o.seq {
		o.mu.Unlock()
		o.logger.Debug("discarding superseded search result", zap.String("query", q))
		return
	}
	if err != nil {
		if !o.cfg.RetainResultsOnError {
			o.clearLocked()
		}
		o.err = err
		o.cancel = nil
		o.setStateLocked(Errored)
		o.mu.Unlock()
		cancel()
		o.logger.Debug("search failed", zap.String("query", q), zap.Error(err))
		return
	}

	if len(results) > o.cfg.MaxResults {
		results = results[:o.cfg.MaxResults]
	}
	o.clearLocked()
	o.results = results
	o.pending = len(results)
	o.setStateLocked(Settled)
	o.mu.Unlock()

	if len(results) == 0 {
		cancel()
		return
	}

	var fan sync.WaitGroup
	for _, c := range results {
		fan.Add(1)
		o.wg.Add(1)
		go func(id string) {
			defer o.wg.Done()
			defer fan.Done()
			o.fetchForecast(ctx, seq, id)
		}(c.ID)
	}
	fan.Wait()
	cancel()
}

func (o *Orchestrator) fetchForecast(ctx context.Context, seq uint64, id string) {
	snap, err := o.src.Forecast(ctx, id)

	o.mu.Lock()
	defer o.mu.Unlock()
	if seq != o.seq {
		return
	}
	if err != nil {
		o.fcErrs[id] = err
		o.logger.Debug("forecast for search result failed", zap.String("id", id), zap.Error(err))
	} else {
		o.forecasts[id] = snap
	}
	o.pending--
	o.setStateLocked(o.state)
}

// View returns a copy of the current visible state.
func (o *Orchestrator) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()

	v := View{
		Query:          o.query,
		State:          o.state,
		Results:        append([]models.CityCandidate(nil), o.results...),
		ForecastErrors: make(map[string]error, len(o.fcErrs)),
		Pending:        o.pending,
		Err:            o.err,
		Empty:          o.state == Settled && len(o.results) == 0,
	}
	for _, c := range o.results {
		if snap, ok := o.forecasts[c.ID]; ok {
			v.Forecasts = append(v.Forecasts, snap)
		}
	}
	for id, err := range o.fcErrs {
		v.ForecastErrors[id] = err
	}
	return v
}

// Changes delivers a signal after state changes. Signals coalesce: a reader
// that falls behind sees one signal, then reads the latest View.
func (o *Orchestrator) Changes() <-chan struct{} {
	return o.changes
}

// Await blocks until the current query has settled (including its forecast
// fan-out), errored, or gone idle, and returns the resulting view.
func (o *Orchestrator) Await(ctx context.Context) (View, error) {
	for {
		o.mu.Lock()
		ch, seq := o.idle, o.seq
		o.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return o.View(), ctx.Err()
		}

		o.mu.Lock()
		same := seq == o.seq && o.idleDone
		o.mu.Unlock()
		if same {
			return o.View(), nil
		}
	}
}

// Restore re-applies the persisted last search, or the default query when
// there is none, and returns the query applied.
func (o *Orchestrator) Restore(ctx context.Context) (string, error) {
	q := o.cfg.DefaultQuery
	if o.kv != nil {
		v, ok, err := o.kv.Get(ctx, storage.KeySearch)
		if err != nil {
			return "", fmt.Errorf("restore last search: %w", err)
		}
		if ok && v != "" {
			q = v
		}
	}
	o.SetQuery(ctx, q)
	return q, nil
}

// Close stops the timer, cancels in-flight requests and waits for them.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.mu.Unlock()

	o.baseCancel()
	o.wg.Wait()
}
