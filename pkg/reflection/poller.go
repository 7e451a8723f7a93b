package reflection

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Poller runs reflection on a timer: a cursor pass every tick and a full
// sweep every SweepEvery ticks. Kick requests an extra pass right away;
// bursts of kicks are coalesced and rate limited.
type Poller struct {
	r          *Reflector
	interval   time.Duration
	sweepEvery int
	limiter    *rate.Limiter
	kick       chan struct{}
	logger     logrus.FieldLogger
}

// PollerConfig holds the Poller's knobs.
type PollerConfig struct {
	Interval   time.Duration
	SweepEvery int
	KickRate   rate.Limit
	KickBurst  int
}

// NewPoller returns a Poller driving r.
func NewPoller(r *Reflector, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.KickBurst <= 0 {
		cfg.KickBurst = 1
	}
	if cfg.KickRate <= 0 {
		cfg.KickRate = rate.Every(time.Second)
	}
	return &Poller{
		r:          r,
		interval:   cfg.Interval,
		sweepEvery: cfg.SweepEvery,
		limiter:    rate.NewLimiter(cfg.KickRate, cfg.KickBurst),
		kick:       make(chan struct{}, 1),
		logger:     r.logger,
	}
}

// Kick asks for a pass as soon as the rate limit allows. It never blocks.
func (p *Poller) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled. It returns nil on cancellation.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.WithFields(logrus.Fields{"interval": p.interval, "sweep_every": p.sweepEvery}).Info("reflection poller started")
	ticks := 0
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("reflection poller stopped")
			return nil
		case <-ticker.C:
			ticks++
			p.runPass(p.sweepEvery > 0 && ticks%p.sweepEvery == 0)
		case <-p.kick:
			if err := p.limiter.Wait(ctx); err != nil {
				return nil
			}
			p.runPass(false)
		}
	}
}

func (p *Poller) runPass(sweep bool) {
	if _, err := p.r.ProcessReflections(); err != nil {
		p.logger.WithError(err).Warn("reflection pass failed")
	}
	if !sweep {
		return
	}
	if _, err := p.r.Sweep(); err != nil {
		p.logger.WithError(err).Warn("reflection sweep failed")
	}
}
