// Package sampler mediates access to a device location subsystem: it keeps
// the permission state, takes one-shot fixes and turns raw watch streams
// into gated, cancellable sample subscriptions.
package sampler

import (
	"context"
	"sync"
	"time"

	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrLocationUnavailable = errors.New("location unavailable")
)

const DefaultFixTimeout = 15 * time.Second

type WatchOptions struct {
	Accuracy          Accuracy
	MinInterval       time.Duration
	MinDistanceMeters float64
	// Background also consumes the background stream when background
	// permission has been granted.
	Background bool
}

// Update is delivered to a subscription handler. An Update with Err is
// terminal and is the last one delivered.
type Update struct {
	Sample models.LocationSample
	Err    error
}

type Sampler struct {
	dev        Device
	fixTimeout time.Duration

	mu    sync.Mutex
	perms Permissions

	log *logrus.Entry
}

func New(dev Device) *Sampler {
	return &Sampler{
		dev:        dev,
		fixTimeout: DefaultFixTimeout,
		log:        logrus.WithField("component", "sampler"),
	}
}

func (s *Sampler) WithFixTimeout(d time.Duration) *Sampler {
	if d > 0 {
		s.fixTimeout = d
	}
	return s
}

func (s *Sampler) WithLogger(l *logrus.Entry) *Sampler {
	if l != nil {
		s.log = l
	}
	return s
}

func (s *Sampler) cached() Permissions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perms
}

func (s *Sampler) remember(p Permissions) {
	s.mu.Lock()
	s.perms = p
	s.mu.Unlock()
}

func (s *Sampler) revokeForeground() {
	s.mu.Lock()
	s.perms = Permissions{}
	s.mu.Unlock()
}

// CheckPermissions never fails; when the device cannot be queried the last
// known state is returned.
func (s *Sampler) CheckPermissions(ctx context.Context) Permissions {
	p, err := s.dev.Permissions(ctx)
	if err != nil {
		s.log.WithError(err).Warn("permission query failed, using cached state")
		return s.cached()
	}
	s.remember(p)
	return p
}

// RequestPermissions asks for foreground access and, for ScopeBackground,
// for background access once foreground has been granted.
func (s *Sampler) RequestPermissions(ctx context.Context, scope Scope) (Permissions, error) {
	fg, err := s.dev.RequestForeground(ctx)
	if err != nil {
		return s.cached(), errors.Wrap(err, "request foreground permission")
	}
	p := Permissions{Foreground: fg}
	if !fg {
		s.remember(p)
		return p, nil
	}

	if scope == ScopeBackground {
		bg, err := s.dev.RequestBackground(ctx)
		if err != nil {
			s.remember(p)
			return p, errors.Wrap(err, "request background permission")
		}
		p.Background = bg
	} else {
		p.Background = s.cached().Background
	}
	s.remember(p)
	return p, nil
}

// CurrentSample takes a single fix. It does not retry: callers decide
// whether an unavailable fix is worth asking for again.
func (s *Sampler) CurrentSample(ctx context.Context, accuracy Accuracy) (models.LocationSample, error) {
	if !s.CheckPermissions(ctx).Foreground {
		return models.LocationSample{}, ErrPermissionDenied
	}

	fixCtx, cancel := context.WithTimeout(ctx, s.fixTimeout)
	defer cancel()

	sample, err := s.dev.CurrentFix(fixCtx, accuracy)
	switch {
	case err == nil:
	case errors.Is(err, ErrPermissionDenied):
		s.revokeForeground()
		return models.LocationSample{}, err
	case ctx.Err() != nil:
		return models.LocationSample{}, ctx.Err()
	case fixCtx.Err() != nil:
		return models.LocationSample{}, errors.Wrapf(ErrLocationUnavailable, "no fix within %s", s.fixTimeout)
	case errors.Is(err, ErrLocationUnavailable):
		return models.LocationSample{}, err
	default:
		return models.LocationSample{}, errors.Wrap(ErrLocationUnavailable, err.Error())
	}

	if err := sample.Validate(); err != nil {
		return models.LocationSample{}, errors.Wrap(ErrLocationUnavailable, err.Error())
	}
	return sample, nil
}

// StartWatching delivers gated samples to fn until the subscription is
// stopped, ctx is done, or the stream fails. A failure (including permission
// loss) is delivered once as a terminal Update. Calls to fn never overlap.
func (s *Sampler) StartWatching(ctx context.Context, opts WatchOptions, fn func(Update)) (*Subscription, error) {
	perms := s.CheckPermissions(ctx)
	if !perms.Foreground {
		return nil, ErrPermissionDenied
	}

	ctx, cancel := context.WithCancel(ctx)
	fg, err := s.dev.Watch(ctx, ModeForeground, opts.Accuracy)
	if err != nil {
		cancel()
		if errors.Is(err, ErrPermissionDenied) {
			s.revokeForeground()
			return nil, err
		}
		return nil, errors.Wrap(err, "start foreground watch")
	}

	var bg <-chan Fix
	if opts.Background && perms.Background {
		bg, err = s.dev.Watch(ctx, ModeBackground, opts.Accuracy)
		if err != nil {
			s.log.WithError(err).Warn("background watch unavailable, continuing in foreground only")
			bg = nil
		}
	}

	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	g := &gate{minInterval: opts.MinInterval, minDistance: opts.MinDistanceMeters}
	go s.run(ctx, sub, g, fg, bg, fn)
	return sub, nil
}

// StopWatching is the same as sub.Stop. It accepts nil.
func (s *Sampler) StopWatching(sub *Subscription) {
	sub.Stop()
}

func (s *Sampler) run(ctx context.Context, sub *Subscription, g *gate, fg, bg <-chan Fix, fn func(Update)) {
	defer close(sub.done)
	defer sub.cancel()

	terminal := func(err error) {
		if errors.Is(err, ErrPermissionDenied) {
			s.revokeForeground()
		}
		s.log.WithError(err).Warn("location stream ended")
		if ctx.Err() == nil {
			fn(Update{Err: err})
		}
	}

	for {
		var (
			fix Fix
			ok  bool
		)
		select {
		case <-ctx.Done():
			return
		case fix, ok = <-fg:
			if !ok {
				if ctx.Err() == nil {
					terminal(errors.Wrap(ErrLocationUnavailable, "foreground stream closed"))
				}
				return
			}
		case fix, ok = <-bg:
			if !ok {
				bg = nil
				s.log.Warn("background stream closed")
				continue
			}
		}

		if fix.Err != nil {
			terminal(fix.Err)
			return
		}
		if err := fix.Sample.Validate(); err != nil {
			s.log.WithError(err).Warn("dropping invalid sample")
			continue
		}
		if !g.allow(fix.Sample) {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		fn(Update{Sample: fix.Sample})
	}
}

// Subscription is the handle of a running watch.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop ends the subscription. It is safe to call more than once and on nil.
func (s *Subscription) Stop() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Done is closed once no more updates will be delivered.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}
