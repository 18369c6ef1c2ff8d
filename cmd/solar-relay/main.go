// Command solar-relay runs the controller on a host against the simulated
// board, with the dashboard and optional MQTT bridge.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"solarrelay-go/services/config"
	"solarrelay-go/services/supervisor"
)

func main() {
	settings, err := config.LoadSettings("host", config.SettingsPath())
	if err != nil {
		slog.Error("settings", "err", err)
		os.Exit(1)
	}
	log := slog.New(settings.Log.Handler(os.Stdout))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := supervisor.Run(ctx, supervisor.Options{Settings: settings, Logger: log}); err != nil {
		log.Error("supervisor", "err", err)
		os.Exit(1)
	}
}
