// Package device holds the location device adapters used by the tracker:
// driver-pushed devices, GPX-style route replays and the scripted fake used
// in tests. This file has the watch fan-out they share.
package device

import (
	"context"
	"sync"

	"github.com/BearBump/FleetTrack/internal/sampler"
)

const streamBuffer = 64

type stream struct {
	mode   sampler.Mode
	ctx    context.Context
	in     chan sampler.Fix
	closed chan struct{}
	once   sync.Once
}

func (s *stream) shut() {
	s.once.Do(func() { close(s.closed) })
}

// Streams fans fixes out to watchers. Each watch channel is closed when its
// context is done or when the mode is shut with CloseMode.
type Streams struct {
	mu   sync.Mutex
	subs map[*stream]struct{}
}

func NewStreams() *Streams {
	return &Streams{subs: make(map[*stream]struct{})}
}

func (s *Streams) Add(ctx context.Context, mode sampler.Mode) <-chan sampler.Fix {
	st := &stream{
		mode:   mode,
		ctx:    ctx,
		in:     make(chan sampler.Fix, streamBuffer),
		closed: make(chan struct{}),
	}
	out := make(chan sampler.Fix)

	s.mu.Lock()
	s.subs[st] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.subs, st)
			s.mu.Unlock()
			close(out)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-st.closed:
				return
			case f := <-st.in:
				select {
				case out <- f:
				case <-ctx.Done():
					return
				case <-st.closed:
					return
				}
			}
		}
	}()
	return out
}

func (s *Streams) targets(mode sampler.Mode) []*stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*stream, 0, len(s.subs))
	for st := range s.subs {
		if st.mode == mode {
			out = append(out, st)
		}
	}
	return out
}

// Emit queues f on every open watcher of mode. It blocks only while a
// watcher buffer is full and that watcher is still alive.
func (s *Streams) Emit(mode sampler.Mode, f sampler.Fix) {
	for _, st := range s.targets(mode) {
		select {
		case st.in <- f:
		case <-st.ctx.Done():
		case <-st.closed:
		}
	}
}

func (s *Streams) CloseMode(mode sampler.Mode) {
	for _, st := range s.targets(mode) {
		st.shut()
	}
}

func (s *Streams) Count(mode sampler.Mode) int {
	return len(s.targets(mode))
}
