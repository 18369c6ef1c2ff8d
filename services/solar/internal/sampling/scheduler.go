// Package sampling decides when the next power-monitor read is due.
package sampling

import (
	"time"

	"solarrelay-go/types"
	"solarrelay-go/x/mathx"
	"solarrelay-go/x/timex"
)

// Params are the cadence settings. Zero fields take defaults.
type Params struct {
	Slow   time.Duration // base period, default 10 s
	Fast   time.Duration // period near a threshold, default 2 s
	Margin float64       // volts either side of a threshold, default 0.2
	Grace  time.Duration // no sampling right after boot, default 5 s
}

func (p Params) withDefaults() Params {
	if p.Slow <= 0 {
		p.Slow = 10 * time.Second
	}
	if p.Fast <= 0 {
		p.Fast = 2 * time.Second
	}
	if p.Fast > p.Slow {
		p.Fast = p.Slow
	}
	if p.Margin <= 0 {
		p.Margin = 0.2
	}
	if p.Grace < 0 {
		p.Grace = 0
	} else if p.Grace == 0 {
		p.Grace = 5 * time.Second
	}
	return p
}

type Scheduler struct {
	p      Params
	bootAt time.Time
	cfg    types.Config

	last  timex.Stamp // last due tick, successful or not
	lastV float64
	haveV bool
}

func New(p Params, bootAt time.Time, cfg types.Config) *Scheduler {
	return &Scheduler{p: p.withDefaults(), bootAt: bootAt, cfg: cfg}
}

// SetConfig updates the thresholds the fast band is centred on.
func (s *Scheduler) SetConfig(cfg types.Config) { s.cfg = cfg }

// Observe records the voltage of the last valid sample.
func (s *Scheduler) Observe(voltageV float64) {
	s.lastV, s.haveV = voltageV, true
}

// Interval is the current adaptive period.
func (s *Scheduler) Interval() time.Duration {
	if s.haveV && (mathx.Near(s.lastV, s.cfg.VLowCutoff, s.p.Margin) ||
		mathx.Near(s.lastV, s.cfg.VHighOn, s.p.Margin)) {
		return s.p.Fast
	}
	return s.p.Slow
}

// Due reports whether a read should happen now. A true result consumes the
// tick: the next one is due an Interval later whether or not the read
// succeeds, which is also what rate-limits retries of an absent peripheral.
func (s *Scheduler) Due(now time.Time) bool {
	if now.Sub(s.bootAt) < s.p.Grace {
		return false
	}
	if s.last.IsSet() && s.last.Since(now) < s.Interval() {
		return false
	}
	s.last = timex.At(now)
	return true
}

// NextDue returns when Due will next return true, for sleeping the loop.
func (s *Scheduler) NextDue() time.Time {
	graceEnd := s.bootAt.Add(s.p.Grace)
	at, ok := s.last.Get()
	if !ok {
		return graceEnd
	}
	next := at.Add(s.Interval())
	if next.Before(graceEnd) {
		return graceEnd
	}
	return next
}
