//go:build rp2040 || rp2350

package supervisor

import (
	"context"
	"log/slog"

	"solarrelay-go/bus"
	"solarrelay-go/services/clock"
	"solarrelay-go/services/config"
)

// The pico has no network interface: time comes from the RTC alone and
// there is no dashboard or broker link.

func networkTime(config.DeviceSettings) clock.NetworkTime { return nil }

func startNetwork(context.Context, *bus.Bus, config.Settings, *slog.Logger, func(func())) {}
