package flusher

import "time"

type BackoffConfig struct {
	Step1 time.Duration // default: 1 second
	Step2 time.Duration // default: 5 seconds
	Step3 time.Duration // default: 15 seconds
	Step4 time.Duration // default: 30 seconds
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Step1: 1 * time.Second,
		Step2: 5 * time.Second,
		Step3: 15 * time.Second,
		Step4: 30 * time.Second,
	}
}

type Backoff struct {
	cfg BackoffConfig
}

func NewBackoff(cfg BackoffConfig) *Backoff {
	def := DefaultBackoffConfig()
	if cfg.Step1 <= 0 {
		cfg.Step1 = def.Step1
	}
	if cfg.Step2 <= 0 {
		cfg.Step2 = def.Step2
	}
	if cfg.Step3 <= 0 {
		cfg.Step3 = def.Step3
	}
	if cfg.Step4 <= 0 {
		cfg.Step4 = def.Step4
	}
	return &Backoff{cfg: cfg}
}

// Delay is the wait before the next attempt after failCount consecutive
// failures.
func (b *Backoff) Delay(failCount int) time.Duration {
	switch {
	case failCount <= 1:
		return b.cfg.Step1
	case failCount == 2:
		return b.cfg.Step2
	case failCount == 3:
		return b.cfg.Step3
	default:
		return b.cfg.Step4
	}
}
