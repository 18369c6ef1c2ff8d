package dashboard

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"solarrelay-go/types"
)

type metrics struct {
	transitions *prometheus.CounterVec
}

// newMetrics registers gauges that read the cached snapshot at scrape time.
func newMetrics(reg *prometheus.Registry, snap func() (types.Snapshot, bool)) *metrics {
	gauge := func(name, help string, read func(types.Snapshot) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "solar",
			Name:      name,
			Help:      help,
		}, func() float64 {
			s, ok := snap()
			if !ok {
				return 0
			}
			return read(s)
		})
	}
	sample := func(read func(types.Sample) float64) func(types.Snapshot) float64 {
		return func(s types.Snapshot) float64 {
			if s.Sample == nil {
				return 0
			}
			return read(*s.Sample)
		}
	}

	m := &metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "solar",
			Name:      "relay_transitions_total",
			Help:      "Committed relay transitions by source.",
		}, []string{"source"}),
	}
	reg.MustRegister(
		m.transitions,
		gauge("voltage_volts", "Last bus voltage.", sample(func(x types.Sample) float64 { return x.VoltageV })),
		gauge("current_milliamps", "Last current.", sample(func(x types.Sample) float64 { return x.CurrentMA })),
		gauge("power_milliwatts", "Last power.", sample(func(x types.Sample) float64 { return x.PowerMW })),
		gauge("energy_watt_hours", "Energy since boot or reset.", func(s types.Snapshot) float64 { return s.Telemetry.EnergyWh }),
		gauge("peak_voltage_volts", "Peak voltage.", func(s types.Snapshot) float64 { return s.Telemetry.PeakVoltageV }),
		gauge("peak_current_milliamps", "Peak current.", func(s types.Snapshot) float64 { return s.Telemetry.PeakCurrentMA }),
		gauge("peak_power_milliwatts", "Peak power.", func(s types.Snapshot) float64 { return s.Telemetry.PeakPowerMW }),
		gauge("relay_on", "1 while the relay is committed on.", func(s types.Snapshot) float64 { return b2f(s.Relay.Committed) }),
		gauge("time_synced", "1 while wall time is trusted.", func(s types.Snapshot) float64 { return b2f(s.Synced) }),
		gauge("peripheral_up", "1 while the power monitor answers.", func(s types.Snapshot) float64 { return b2f(s.Peripheral == types.LinkUp) }),
	)
	return m
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
