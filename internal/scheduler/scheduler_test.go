package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_RunsImmediatelyAndRepeats(t *testing.T) {
	var runs int32
	s := New(50*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&runs, 1)
	}, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&runs) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := atomic.LoadInt32(&runs); n < 2 {
		t.Errorf("runs = %d, want at least 2", n)
	}
}

func TestScheduler_StopCancelsJobContext(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	s := New(time.Hour, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	}, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start")
	}
	go s.Stop()
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("job context not cancelled by Stop")
	}
}

func TestScheduler_NoJob(t *testing.T) {
	if err := New(time.Minute, nil, nil).Start(); err == nil {
		t.Error("Start() without job error = nil, want error")
	}
}
