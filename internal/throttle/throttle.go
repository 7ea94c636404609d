// Package throttle adapts the pace of spreadsheet API calls to observed
// latency. A token-bucket limiter sets the floor rate; on top of that an
// exponentially-smoothed latency average decides whether to insert a
// cooldown sleep before the next call. Feedback control, not a fixed
// rate limit.
package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/edwardbensa/storiedbc-db/internal/logging"
)

const (
	// alpha is the smoothing factor for the latency moving average.
	alpha = 0.3
	// highLatency is the smoothed-latency threshold that triggers a cooldown.
	highLatency = 1500 * time.Millisecond
	// maxCooldown caps a single cooldown sleep.
	maxCooldown = 10 * time.Second
)

// Throttle paces calls to a latency-sensitive upstream.
type Throttle struct {
	limiter *rate.Limiter

	mu         sync.Mutex
	avgLatency time.Duration
}

// New creates a throttle with the given floor rate in calls per second.
func New(callsPerSecond float64) *Throttle {
	if callsPerSecond <= 0 {
		callsPerSecond = 1
	}
	return &Throttle{
		limiter: rate.NewLimiter(rate.Limit(callsPerSecond), 1),
	}
}

// Wait blocks until the floor limiter admits the next call.
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// Observe folds a call's latency into the moving average and sleeps when
// the upstream looks saturated.
func (t *Throttle) Observe(ctx context.Context, latency time.Duration) {
	t.mu.Lock()
	t.avgLatency = time.Duration(alpha*float64(latency) + (1-alpha)*float64(t.avgLatency))
	avg := t.avgLatency
	t.mu.Unlock()

	if avg <= highLatency {
		logging.Debug("Latency normal", "avg", avg)
		return
	}

	cooldown := 2 * avg
	if cooldown > maxCooldown {
		cooldown = maxCooldown
	}
	logging.Info("High API latency, cooling down", "avg", avg, "sleep", cooldown)

	select {
	case <-ctx.Done():
	case <-time.After(cooldown):
	}
}

// AvgLatency returns the current smoothed latency.
func (t *Throttle) AvgLatency() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.avgLatency
}
