// Package backpressure implements the adaptive admission control
// described in spec §4.8: a pending-operation/error-rate tracker that
// throttles new requests via requestPermission/releasePermission once
// pending outstanding work crosses a threshold. DB.Add requests
// permission from it before every insert, adapted from the
// teacher's own token-bucket rate limiting in pkg/server/tcp.go
// (there applied per client connection; here applied per adapter).
package backpressure

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Config controls admission thresholds and the underlying token bucket.
type Config struct {
	// MaxPending is the number of outstanding weighted operations
	// above which new requests are throttled.
	MaxPending int64
	// RatePerSecond and Burst configure the token-bucket limiter used
	// once pending exceeds MaxPending.
	RatePerSecond float64
	Burst         int
	// ErrorRateThreshold (0-1): when the recent error rate exceeds
	// this, Controller throttles even below MaxPending.
	ErrorRateThreshold float64
}

func (c *Config) applyDefaults() {
	if c.MaxPending <= 0 {
		c.MaxPending = 64
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 100
	}
	if c.Burst <= 0 {
		c.Burst = 20
	}
	if c.ErrorRateThreshold <= 0 {
		c.ErrorRateThreshold = 0.5
	}
}

// Controller tracks pending outstanding operations and a rolling error
// rate, throttling admission when either crosses its configured
// threshold.
type Controller struct {
	config  Config
	limiter *rate.Limiter

	pending int64

	mu         sync.Mutex
	inflight   map[string]int64 // id -> weight, for double-release protection
	total      int64
	failed     int64
}

// New creates a Controller.
func New(config Config) *Controller {
	config.applyDefaults()
	return &Controller{
		config:   config,
		limiter:  rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst),
		inflight: make(map[string]int64),
	}
}

// errorRate returns the fraction of completed operations (since the
// last reset-worthy window) that failed.
func (c *Controller) errorRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.total == 0 {
		return 0
	}
	return float64(c.failed) / float64(c.total)
}

// RequestPermission blocks (respecting ctx) until id with weight may
// proceed: immediately if pending is under MaxPending and the recent
// error rate is under threshold, otherwise it waits on the token
// bucket limiter.
func (c *Controller) RequestPermission(ctx context.Context, id string, weight int64) error {
	if weight <= 0 {
		weight = 1
	}

	pending := atomic.AddInt64(&c.pending, weight)
	overloaded := pending > c.config.MaxPending || c.errorRate() > c.config.ErrorRateThreshold

	c.mu.Lock()
	c.inflight[id] += weight
	c.mu.Unlock()

	if !overloaded {
		return nil
	}
	if err := c.limiter.WaitN(ctx, int(weight)); err != nil {
		c.ReleasePermission(id, false)
		return err
	}
	return nil
}

// ReleasePermission returns weight previously admitted for id and
// records whether the operation succeeded, feeding the rolling error
// rate used by future admission decisions.
func (c *Controller) ReleasePermission(id string, success bool) {
	c.mu.Lock()
	weight := c.inflight[id]
	if weight > 0 {
		delete(c.inflight, id)
	} else {
		weight = 1
	}
	c.total++
	if !success {
		c.failed++
	}
	// Decay the error-rate window so a historical burst of failures
	// doesn't permanently wedge admission once storage recovers.
	if c.total > 1000 {
		c.total /= 2
		c.failed /= 2
	}
	c.mu.Unlock()

	atomic.AddInt64(&c.pending, -weight)
}

// Pending returns the current outstanding weighted operation count.
func (c *Controller) Pending() int64 {
	return atomic.LoadInt64(&c.pending)
}
