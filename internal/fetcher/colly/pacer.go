package collyfetcher

import (
	"context"
	"time"

	"github.com/orbitfeed/orbitfeed/internal/metrics"
)

// Pacer sleeps a randomized courtesy delay between requests to the same site.
type Pacer struct {
	min time.Duration
	max time.Duration
}

// NewPacer builds a Pacer with the given delay bounds.
func NewPacer(min, max time.Duration) *Pacer {
	if max < min {
		max = min
	}
	return &Pacer{min: min, max: max}
}

// Pace blocks for a random duration in [min, max], or until the context ends.
func (p *Pacer) Pace(ctx context.Context, site string) {
	if p == nil || p.max <= 0 {
		return
	}
	delay := p.min
	if span := p.max - p.min; span > 0 {
		delay += randomJitter(span)
	}
	metrics.ObservePaceDelay(site, delay)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
