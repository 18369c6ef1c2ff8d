// Package heartbeat logs a one-line controller summary at a fixed period so
// a serial console shows the unit is alive between relay events.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"solarrelay-go/bus"
	"solarrelay-go/services/solar"
	"solarrelay-go/types"
)

var topicConfigHeartbeat = bus.T("config", "heartbeat")

// DefaultInterval applies until config/heartbeat carries a
// types.HeartbeatConfig.
const DefaultInterval = 60 * time.Second

type Service struct {
	Interval time.Duration
	Log      *slog.Logger

	last *types.Snapshot
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	stateSub := conn.Subscribe(solar.TopicState)
	defer conn.Unsubscribe(cfgSub)
	defer conn.Unsubscribe(stateSub)

	tick := time.NewTicker(s.Interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Log.Debug("heartbeat stopping")
			return
		case <-tick.C:
			s.beat()
		case m := <-stateSub.Channel():
			if snap, err := types.Decode[types.Snapshot](m.Payload); err == nil {
				s.last = &snap
			}
		case m := <-cfgSub.Channel():
			if iv, ok := interval(m.Payload); ok {
				tick.Reset(iv)
				s.Log.Info("heartbeat interval set", "interval", iv)
			}
		}
	}
}

func (s *Service) beat() {
	if s.last == nil {
		s.Log.Info("heartbeat", "state", "waiting")
		return
	}
	attrs := []any{
		"relay", s.last.Relay.Committed,
		"energy_wh", s.last.Telemetry.EnergyWh,
		"peripheral", s.last.Peripheral,
		"synced", s.last.Synced,
	}
	if smp := s.last.Sample; smp != nil {
		attrs = append(attrs, "v", smp.VoltageV, "ma", smp.CurrentMA)
	}
	s.Log.Info("heartbeat", attrs...)
}

func interval(payload any) (time.Duration, bool) {
	c, err := types.Decode[types.HeartbeatConfig](payload)
	if err != nil || c.IntervalS <= 0 {
		return 0, false
	}
	return time.Duration(c.IntervalS * float64(time.Second)), true
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) {
	if s.Interval <= 0 {
		s.Interval = DefaultInterval
	}
	if s.Log == nil {
		s.Log = slog.Default()
	}
	s.Log = s.Log.With("svc", "heartbeat")
	go s.serviceLoop(ctx, conn)
}
