// Package flusher retries trip writes that failed while a trip was being
// tracked.
package flusher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
)

// Target is something with an unsaved state that can be written again.
type Target interface {
	Key() string
	Flush(ctx context.Context) error
}

type Source interface {
	PendingFlush() []Target
}

type SourceFunc func() []Target

func (f SourceFunc) PendingFlush() []Target { return f() }

type failure struct {
	count   int
	retryAt time.Time
}

type Flusher struct {
	src     Source
	backoff *Backoff
	now     func() time.Time
	log     *logrus.Entry

	interval    time.Duration
	concurrency int
	timeout     time.Duration

	triggerCh chan struct{}

	mu       sync.Mutex
	failures map[string]failure

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalFlushed        atomic.Int64
	totalErrors         atomic.Int64
	pending             atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(src Source) *Flusher {
	return &Flusher{
		src:               src,
		backoff:           NewBackoff(DefaultBackoffConfig()),
		now:               time.Now,
		log:               logrus.WithField("component", "flusher"),
		interval:          2 * time.Second,
		concurrency:       4,
		timeout:           10 * time.Second,
		triggerCh:         make(chan struct{}, 1),
		failures:          map[string]failure{},
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (f *Flusher) WithSettings(interval time.Duration, concurrency int, timeout time.Duration) *Flusher {
	if interval > 0 {
		f.interval = interval
	}
	if concurrency > 0 {
		f.concurrency = concurrency
	}
	if timeout > 0 {
		f.timeout = timeout
	}
	return f
}

func (f *Flusher) WithBackoff(cfg BackoffConfig) *Flusher {
	f.backoff = NewBackoff(cfg)
	return f
}

func (f *Flusher) WithClock(now func() time.Time) *Flusher {
	if now != nil {
		f.now = now
	}
	return f
}

// Trigger asks for a cycle now (non-blocking). Targets still backing off
// are not retried early.
func (f *Flusher) Trigger() {
	f.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case f.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastCycleAt   *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	Pending       int64      `json:"pending"`
	BackingOff    int        `json:"backingOff"`
	TotalFlushed  int64      `json:"totalFlushed"`
	TotalErrors   int64      `json:"totalErrors"`
	InFlight      int64      `json:"inFlight"`
	LastError     string     `json:"lastError,omitempty"`
}

func (f *Flusher) Stats() Stats {
	st := Stats{
		StartedAt:    time.Unix(0, f.startedAtUnixNano).UTC(),
		Pending:      f.pending.Load(),
		TotalFlushed: f.totalFlushed.Load(),
		TotalErrors:  f.totalErrors.Load(),
		InFlight:     f.inFlight.Load(),
	}
	if n := f.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := f.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	f.mu.Lock()
	st.BackingOff = len(f.failures)
	f.mu.Unlock()
	f.lastErrorMu.Lock()
	st.LastError = f.lastError
	f.lastErrorMu.Unlock()
	return st
}

func (f *Flusher) Run(ctx context.Context) error {
	t := time.NewTicker(f.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			f.runOnce(ctx)
		case <-f.triggerCh:
			f.runOnce(ctx)
		}
	}
}

func (f *Flusher) runOnce(ctx context.Context) {
	now := f.now()
	f.lastCycleUnixNano.Store(now.UTC().UnixNano())

	targets := f.src.PendingFlush()
	f.pending.Store(int64(len(targets)))

	due := make([]Target, 0, len(targets))
	f.mu.Lock()
	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		key := t.Key()
		seen[key] = struct{}{}
		if fl, ok := f.failures[key]; ok && now.Before(fl.retryAt) {
			continue
		}
		due = append(due, t)
	}
	// Targets that left the source were saved by a later write.
	for key := range f.failures {
		if _, ok := seen[key]; !ok {
			delete(f.failures, key)
		}
	}
	f.mu.Unlock()

	p := pool.New().WithMaxGoroutines(f.concurrency)
	for _, t := range due {
		f.inFlight.Add(1)
		p.Go(func() {
			defer f.inFlight.Add(-1)
			f.flushOne(ctx, t)
		})
	}
	p.Wait()
}

func (f *Flusher) flushOne(ctx context.Context, t Target) {
	key := t.Key()
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	err := t.Flush(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, key)
		f.totalFlushed.Add(1)
		return
	}

	fl := f.failures[key]
	fl.count++
	fl.retryAt = f.now().Add(f.backoff.Delay(fl.count))
	f.failures[key] = fl

	f.totalErrors.Add(1)
	f.lastErrorMu.Lock()
	f.lastError = err.Error()
	f.lastErrorMu.Unlock()
	f.log.WithError(err).WithFields(logrus.Fields{
		"key":      key,
		"failures": fl.count,
		"retry_at": fl.retryAt,
	}).Warn("flush failed")
}
