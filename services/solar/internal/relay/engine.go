// Package relay is the hysteresis + debounce state machine that maps
// samples to a committed relay level.
//
// Turning ON requires voltage AND current at or above their thresholds
// (real generation capacity). Turning OFF requires voltage alone at or
// below the cutoff; it is a battery-protection trip and is never gated on
// load current. Between the two the committed level is held.
package relay

import (
	"time"

	"solarrelay-go/types"
	"solarrelay-go/x/timex"
)

// Command is the result of one evaluation. Changed is set only on the
// evaluation that commits a new level.
type Command struct {
	On      bool
	Changed bool
}

// Engine starts with the relay committed OFF.
type Engine struct {
	committed bool
	desired   bool
	// set iff desired != committed
	pending timex.Stamp
}

func New() *Engine { return &Engine{} }

// Decide returns the instantaneous target for s. In the hysteresis band
// it returns committed.
func Decide(s types.Sample, cfg types.Config, committed bool) bool {
	switch {
	case s.VoltageV >= cfg.VHighOn && s.CurrentMA >= cfg.COnThresholdMA:
		return true
	case s.VoltageV <= cfg.VLowCutoff:
		return false
	default:
		return committed
	}
}

// Evaluate applies the decision rule and debounce. A new level is committed
// only after desired has differed from committed continuously for
// cfg.DebounceDelay(); any reversion in between cancels the window.
func (e *Engine) Evaluate(s types.Sample, cfg types.Config, now time.Time) Command {
	e.desired = Decide(s, cfg, e.committed)
	if e.desired == e.committed {
		e.pending.Clear()
		return Command{On: e.committed}
	}
	e.pending.SetIfUnset(now)
	if e.pending.Since(now) < cfg.DebounceDelay() {
		return Command{On: e.committed}
	}
	return e.commit(e.desired)
}

// Prime performs one non-debounced decision from a single fresh sample.
// Used once after time synchronisation so the first commit after boot does
// not wait a full debounce window.
func (e *Engine) Prime(s types.Sample, cfg types.Config) Command {
	e.desired = Decide(s, cfg, e.committed)
	return e.commit(e.desired)
}

// Override forces the committed level, bypassing hysteresis and debounce.
// Desired follows so the next evaluation does not immediately re-decide
// against the operator.
func (e *Engine) Override(on bool) Command {
	e.desired = on
	return e.commit(on)
}

// ForceOff commits OFF without debounce; used before suspending.
func (e *Engine) ForceOff() Command { return e.Override(false) }

func (e *Engine) Committed() bool { return e.committed }

func (e *Engine) State() types.RelayState {
	return types.RelayState{
		Committed:     e.committed,
		Desired:       e.desired,
		DebounceSince: e.pending.Ptr(),
	}
}

func (e *Engine) commit(on bool) Command {
	changed := e.committed != on
	e.committed = on
	e.desired = on
	e.pending.Clear()
	return Command{On: on, Changed: changed}
}
