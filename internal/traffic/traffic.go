package traffic

import (
	"sync"
	"time"
)

// DefaultRetention bounds how far back outcomes are kept. Windows longer than
// this see at most DefaultRetention worth of history.
const DefaultRetention = 5 * time.Minute

// Tracker keeps sliding windows of upstream call outcomes. It satisfies
// client.OutcomeRecorder and backs the ops health check.
type Tracker struct {
	mu        sync.Mutex
	retention time.Duration
	now       func() time.Time

	successes []time.Time
	failures  []time.Time
	denials   []time.Time
}

// Stats summarizes outcomes inside one window.
type Stats struct {
	Window    time.Duration
	Successes int
	Errors    int
	Denied    int
}

// Total counts successes and errors; denials are excluded because a 429 says
// nothing about upstream health.
func (s Stats) Total() int {
	return s.Successes + s.Errors
}

// ErrorPct is Errors/Total as a percentage, 0 when nothing was recorded.
func (s Stats) ErrorPct() float64 {
	if s.Total() == 0 {
		return 0
	}
	return float64(s.Errors) * 100 / float64(s.Total())
}

func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Tracker{retention: retention, now: time.Now}
}

func (t *Tracker) RecordSuccess() { t.record(&t.successes) }

func (t *Tracker) RecordError() { t.record(&t.failures) }

// RecordDenied records an upstream rate-limit response.
func (t *Tracker) RecordDenied() { t.record(&t.denials) }

func (t *Tracker) record(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// Stats returns outcome counts recorded within the last window.
func (t *Tracker) Stats(window time.Duration) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	return Stats{
		Window:    window,
		Successes: countSince(t.successes, cutoff),
		Errors:    countSince(t.failures, cutoff),
		Denied:    countSince(t.denials, cutoff),
	}
}

// Degraded reports whether the window holds at least minSamples outcomes and
// the error percentage is above thresholdPct.
func (t *Tracker) Degraded(window time.Duration, thresholdPct float64, minSamples int) bool {
	s := t.Stats(window)
	if s.Total() == 0 || s.Total() < minSamples {
		return false
	}
	return s.ErrorPct() > thresholdPct
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successes, t.failures, t.denials = nil, nil, nil
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than the retention. Slices are in
// append order, so the expired prefix is contiguous.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.retention)
	for _, slice := range []*[]time.Time{&t.successes, &t.failures, &t.denials} {
		times := *slice
		i := 0
		for i < len(times) && times[i].Before(cutoff) {
			i++
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
}
