// Package abr implements the adaptive bitrate controller: an AIMD control law
// driven by loss and RTT feedback, read lock-free by encoders.
package abr

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/mediacore/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Report is one network feedback sample.
type Report struct {
	LossFraction float64
	RTT          time.Duration
	At           time.Time
}

// Controller owns the target bitrate. Observe is the single writer; Target may
// be called from any goroutine.
type Controller struct {
	cfg config.ABR

	target   atomic.Int64
	lastSeen atomic.Int64 // unix nanos of the last report

	// writer-side state, guarded by mu so concurrent RTCP readers serialize
	mu          sync.Mutex
	lossyStreak int
	cleanStreak int

	subMu sync.RWMutex
	subs  []func(int)

	now    func() time.Time
	logger zerolog.Logger
}

func NewController(cfg config.ABR) *Controller {
	if cfg.MinBitrate <= 0 {
		cfg.MinBitrate = 1
	}
	if cfg.MaxBitrate < cfg.MinBitrate {
		cfg.MaxBitrate = cfg.MinBitrate
	}
	if cfg.DecreaseFactor <= 0 || cfg.DecreaseFactor >= 1 {
		cfg.DecreaseFactor = 0.85
	}
	if cfg.DecreaseAfter < 1 {
		cfg.DecreaseAfter = 1
	}
	if cfg.IncreaseAfter < 1 {
		cfg.IncreaseAfter = 1
	}
	if cfg.IncreaseStep < 1 {
		cfg.IncreaseStep = 1
	}

	c := &Controller{
		cfg:    cfg,
		now:    time.Now,
		logger: log.With().Str("module", "abr").Logger(),
	}
	c.target.Store(int64(c.clamp(cfg.StartBitrate)))
	return c
}

// Target returns the current advisory bitrate in bits per second. It never
// blocks and always lies within [MinBitrate, MaxBitrate].
func (c *Controller) Target() int { return int(c.target.Load()) }

// Bounds returns the configured limits.
func (c *Controller) Bounds() (minBps, maxBps int) { return c.cfg.MinBitrate, c.cfg.MaxBitrate }

// Stale reports whether no feedback arrived within StaleAfter.
func (c *Controller) Stale() bool {
	if c.cfg.StaleAfter <= 0 {
		return false
	}
	last := c.lastSeen.Load()
	if last == 0 {
		return true
	}
	return c.now().Sub(time.Unix(0, last)) > c.cfg.StaleAfter
}

// OnChange registers fn to be called with every new target.
func (c *Controller) OnChange(fn func(int)) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subs = append(c.subs, fn)
}

// Observe applies one feedback report and returns the resulting target.
func (c *Controller) Observe(r Report) int {
	if r.At.IsZero() {
		r.At = c.now()
	}
	c.lastSeen.Store(r.At.UnixNano())

	c.mu.Lock()
	cur := int(c.target.Load())
	next := cur
	switch {
	case r.LossFraction > c.cfg.LossThreshold:
		c.cleanStreak = 0
		c.lossyStreak++
		if c.lossyStreak >= c.cfg.DecreaseAfter {
			next = c.clamp(int(math.Floor(float64(cur) * c.cfg.DecreaseFactor)))
		}
	case r.LossFraction == 0 && !c.congested(r.RTT):
		c.lossyStreak = 0
		c.cleanStreak++
		if c.cleanStreak >= c.cfg.IncreaseAfter {
			next = c.clamp(cur + c.cfg.IncreaseStep)
			c.cleanStreak = 0
		}
	default:
		// some loss under threshold, or high RTT: hold
		c.lossyStreak = 0
		c.cleanStreak = 0
	}
	c.target.Store(int64(next))
	c.mu.Unlock()

	if next != cur {
		c.logger.Debug().
			Int("from", cur).
			Int("to", next).
			Float64("loss", r.LossFraction).
			Dur("rtt", r.RTT).
			Msg("target bitrate changed")
		c.notify(next)
	}
	return next
}

func (c *Controller) congested(rtt time.Duration) bool {
	return c.cfg.RTTThreshold > 0 && rtt > c.cfg.RTTThreshold
}

func (c *Controller) clamp(bps int) int {
	if bps < c.cfg.MinBitrate {
		return c.cfg.MinBitrate
	}
	if bps > c.cfg.MaxBitrate {
		return c.cfg.MaxBitrate
	}
	return bps
}

func (c *Controller) notify(bps int) {
	c.subMu.RLock()
	subs := c.subs
	c.subMu.RUnlock()
	for _, fn := range subs {
		fn(bps)
	}
}
