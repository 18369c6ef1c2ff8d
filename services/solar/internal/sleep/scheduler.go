// Package sleep decides when the controller may suspend overnight and for
// how long.
//
// The night window runs from the dusk hour until the configured wake time.
// A relay that stays off inside the window for the full dwell makes the
// scheduler return a wake delay; anything else resets the dwell timer.
package sleep

import (
	"time"

	"solarrelay-go/types"
	"solarrelay-go/x/timex"
)

const (
	DefaultDuskHour = 19
	DefaultDwell    = 30 * time.Minute
)

type Params struct {
	DuskHour int           // first hour of the night window, default 19
	Dwell    time.Duration // continuous off time before sleeping, default 30 min
}

func (p Params) withDefaults() Params {
	if p.DuskHour <= 0 || p.DuskHour > 23 {
		p.DuskHour = DefaultDuskHour
	}
	if p.Dwell <= 0 {
		p.Dwell = DefaultDwell
	}
	return p
}

// Decision is the outcome of one evaluation. The zero value means "stay up".
type Decision struct {
	Enter     bool
	WakeAt    time.Time
	WakeAfter time.Duration // whole seconds, > 0 when Enter

	// TimerStarted is set on the evaluation that starts the dwell timer.
	TimerStarted bool
}

type Scheduler struct {
	p Params
	// offSince runs on the monotonic clock; offWall is the same instant in
	// local time for display.
	offSince timex.Stamp
	offWall  timex.Stamp
}

func New(p Params) *Scheduler { return &Scheduler{p: p.withDefaults()} }

func (s *Scheduler) Params() Params { return s.p }

// OffSince returns the local time the dwell timer started, nil when not
// running.
func (s *Scheduler) OffSince() *time.Time { return s.offWall.Ptr() }

// Evaluate runs one check. wall is local time and selects the window and
// wake target; mono measures the dwell so clock corrections cannot shorten
// it. Without a synchronised clock no decision is made and the timer is
// left alone.
func (s *Scheduler) Evaluate(wall, mono time.Time, synced, relayOn bool, cfg types.Config) Decision {
	if !synced {
		return Decision{}
	}
	if relayOn || !InNightWindow(wall, s.p.DuskHour, cfg) {
		s.Reset()
		return Decision{}
	}
	if s.offSince.SetIfUnset(mono) {
		s.offWall = timex.At(wall)
		return Decision{TimerStarted: true}
	}
	if s.offSince.Since(mono) < s.p.Dwell {
		return Decision{}
	}
	wake := WakeTarget(wall, s.p.DuskHour, cfg)
	after := wake.Sub(wall).Truncate(time.Second)
	if after <= 0 {
		return Decision{}
	}
	return Decision{Enter: true, WakeAt: wake, WakeAfter: after}
}

// Reset clears the dwell timer.
func (s *Scheduler) Reset() {
	s.offSince.Clear()
	s.offWall.Clear()
}

// InNightWindow reports hour >= dusk or time-of-day before the wake time.
func InNightWindow(now time.Time, duskHour int, cfg types.Config) bool {
	if now.Hour() >= duskHour {
		return true
	}
	return minuteOfDay(now.Hour(), now.Minute()) < minuteOfDay(cfg.WakeHour, cfg.WakeMinute)
}

// WakeTarget is the wake time tomorrow when now is at or after dusk, and
// today otherwise.
func WakeTarget(now time.Time, duskHour int, cfg types.Config) time.Time {
	y, m, d := now.Date()
	if now.Hour() >= duskHour {
		d++
	}
	return time.Date(y, m, d, cfg.WakeHour, cfg.WakeMinute, 0, 0, now.Location())
}

func minuteOfDay(h, m int) int { return h*60 + m }
