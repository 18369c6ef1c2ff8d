package telemetry

import (
	"math"
	"testing"
	"time"

	"solarrelay-go/types"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func sample(v, ma, mw float64, at time.Time) types.Sample {
	return types.Sample{VoltageV: v, CurrentMA: ma, PowerMW: mw, TakenAt: at}
}

func TestLeftRiemannEnergy(t *testing.T) {
	a := New()
	a.Record(sample(13, 7700, 100_000, t0))
	a.Record(sample(13, 15400, 200_000, t0.Add(time.Hour)))
	if got := a.State().EnergyWh; math.Abs(got-100) > 1e-9 {
		t.Fatalf("energy=%v Wh, want 100 (left sum)", got)
	}
}

func TestFirstSampleAddsNoEnergy(t *testing.T) {
	a := New()
	a.Record(sample(13, 100, 5000, t0))
	if a.State().EnergyWh != 0 {
		t.Fatal("energy from a single sample")
	}
}

func TestIrregularIntervals(t *testing.T) {
	a := New()
	// 1 W for 30 min, 4 W for 15 min, then 0 W for two hours.
	a.Record(sample(13, 0, 1000, t0))
	a.Record(sample(13, 0, 4000, t0.Add(30*time.Minute)))
	a.Record(sample(13, 0, 0, t0.Add(45*time.Minute)))
	a.Record(sample(13, 0, 9000, t0.Add(2*time.Hour+45*time.Minute)))
	if got := a.State().EnergyWh; math.Abs(got-1.5) > 1e-9 {
		t.Fatalf("energy=%v", got)
	}
}

func TestNonIncreasingTimeIgnored(t *testing.T) {
	a := New()
	a.Record(sample(13, 0, 1000, t0))
	a.Record(sample(13, 0, 1000, t0.Add(-time.Minute)))
	if a.State().EnergyWh != 0 {
		t.Fatal("energy from backwards step")
	}
}

func TestPeaksMonotonicUntilReset(t *testing.T) {
	a := New()
	readings := []types.Sample{
		sample(12.8, 120, 1500, t0),
		sample(13.4, 90, 1200, t0.Add(time.Second)),
		sample(12.2, 300, 3600, t0.Add(2*time.Second)),
		sample(11.9, 10, 100, t0.Add(3*time.Second)),
	}
	var prev types.TelemetryState
	for i, s := range readings {
		a.Record(s)
		st := a.State()
		if st.PeakVoltageV < prev.PeakVoltageV || st.PeakCurrentMA < prev.PeakCurrentMA ||
			st.PeakPowerMW < prev.PeakPowerMW || st.EnergyWh < prev.EnergyWh {
			t.Fatalf("step %d decreased: %+v -> %+v", i, prev, st)
		}
		prev = st
	}
	if prev.PeakVoltageV != 13.4 || prev.PeakCurrentMA != 300 || prev.PeakPowerMW != 3600 {
		t.Fatalf("peaks %+v", prev)
	}

	a.Reset()
	if a.State() != (types.TelemetryState{}) {
		t.Fatalf("after reset %+v", a.State())
	}
	// Reset also drops the integration anchor.
	a.Record(sample(12.5, 50, 600, t0.Add(time.Hour)))
	if a.State().EnergyWh != 0 {
		t.Fatal("energy carried across reset")
	}
}
