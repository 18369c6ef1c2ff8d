// Package telemetry keeps peak readings and integrated energy.
package telemetry

import (
	"solarrelay-go/types"
	"solarrelay-go/x/mathx"
	"solarrelay-go/x/timex"
)

// Accumulator integrates energy as a left Riemann sum: each interval is
// charged at the power read at its start. Gaps longer than the sampling
// period therefore under- or over-count around load changes.
type Accumulator struct {
	st types.TelemetryState

	prevAt      timex.Stamp
	prevPowerMW float64
}

func New() *Accumulator { return &Accumulator{} }

// Record folds one valid sample in.
func (a *Accumulator) Record(s types.Sample) {
	a.st.PeakVoltageV = mathx.Max(a.st.PeakVoltageV, s.VoltageV)
	a.st.PeakCurrentMA = mathx.Max(a.st.PeakCurrentMA, s.CurrentMA)
	a.st.PeakPowerMW = mathx.Max(a.st.PeakPowerMW, s.PowerMW)

	if at, ok := a.prevAt.Get(); ok {
		if dt := s.TakenAt.Sub(at); dt > 0 {
			a.st.EnergyWh += mathx.Max(a.prevPowerMW, 0) / 1000 * dt.Hours()
		}
	}
	a.prevAt = timex.At(s.TakenAt)
	a.prevPowerMW = s.PowerMW
}

// Reset zeroes peaks and energy. The next sample starts a new integration.
func (a *Accumulator) Reset() {
	a.st = types.TelemetryState{}
	a.prevAt.Clear()
	a.prevPowerMW = 0
}

func (a *Accumulator) State() types.TelemetryState { return a.st }
