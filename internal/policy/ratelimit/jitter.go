package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/JakeFAU/apkfetch/internal/metrics"
)

// Stage names the pipeline step a request belongs to.
type Stage string

// Pipeline stages with distinct delay bounds.
const (
	StageSearch       Stage = "search"
	StageDownloadPage Stage = "download_page"
	StageBinary       Stage = "binary"
)

// Bounds is a half-open delay window [Min, Max).
type Bounds struct {
	Min time.Duration
	Max time.Duration
}

// Jitter returns a uniformly random duration in [b.Min, b.Max).
// When Max <= Min the result is exactly Min.
func (b Bounds) Jitter(int64N func(int64) int64) time.Duration {
	if b.Min < 0 {
		b.Min = 0
	}
	span := b.Max - b.Min
	if span <= 0 {
		return b.Min
	}
	return b.Min + time.Duration(int64N(int64(span)))
}

// Pacer inserts a randomized delay before each outbound request and then
// waits on the optional host limiter.
type Pacer struct {
	bounds  map[Stage]Bounds
	limiter *Limiter
	int64N  func(int64) int64
	sleep   func(context.Context, time.Duration) error
}

// NewPacer builds a Pacer. limiter may be nil.
func NewPacer(bounds map[Stage]Bounds, limiter *Limiter) *Pacer {
	cp := make(map[Stage]Bounds, len(bounds))
	for k, v := range bounds {
		cp[k] = v
	}
	return &Pacer{
		bounds:  cp,
		limiter: limiter,
		int64N:  rand.Int64N,
		sleep:   sleepContext,
	}
}

// Pace blocks for the stage's jittered delay. It returns only when the
// context ends early.
func (p *Pacer) Pace(ctx context.Context, stage Stage, rawURL string) error {
	d := p.bounds[stage].Jitter(p.int64N)
	if err := p.sleep(ctx, d); err != nil {
		return err
	}
	metrics.ObserveRateLimitDelay(string(stage), d)
	if p.limiter != nil {
		return p.limiter.Wait(ctx, rawURL)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("delay interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
