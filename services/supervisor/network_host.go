//go:build !rp2040 && !rp2350

package supervisor

import (
	"context"
	"log/slog"

	"solarrelay-go/bus"
	"solarrelay-go/services/bridge"
	"solarrelay-go/services/clock"
	"solarrelay-go/services/config"
	"solarrelay-go/services/dashboard"
)

// networkTime is NTP with the HTTP Date source as fallback. Nil when
// neither is configured.
func networkTime(d config.DeviceSettings) clock.NetworkTime {
	var ntp, date clock.NetworkTime
	if d.NTPServer != "" {
		ntp = clock.NTPTime(d.NTPServer)
	}
	if d.TimeURL != "" {
		date = clock.HTTPTime(nil, d.TimeURL)
	}
	return clock.Fallback(ntp, date)
}

// startNetwork runs the MQTT bridge and, with a listen address, the
// dashboard. Both stop with ctx.
func startNetwork(ctx context.Context, b *bus.Bus, s config.Settings, log *slog.Logger, spawn func(func())) {
	spawn(func() { bridge.Start(ctx, b.NewConnection("bridge"), log) })
	if s.Dashboard.Listen == "" {
		return
	}
	dash := dashboard.New(b.NewConnection("dashboard"), dashboard.Options{
		Listen:        s.Dashboard.Listen,
		JWTSecret:     s.Dashboard.JWTSecret,
		AdminPassword: s.Dashboard.AdminPassword,
		RatePerSec:    s.Dashboard.RatePerSec,
		Burst:         s.Dashboard.Burst,
		Logger:        log,
	})
	spawn(func() {
		if err := dash.Run(ctx); err != nil {
			log.Error("dashboard stopped", "err", err)
		}
	})
}
