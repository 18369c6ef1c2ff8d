//go:build rp2040 || rp2350

// Command pico-solar is the firmware image. A suspend ends in a reset, so
// supervisor.Run only returns on a bootstrap failure.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"solarrelay-go/services/config"
	"solarrelay-go/services/supervisor"
)

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)

	settings, err := config.LoadSettings("pico", "")
	if err != nil {
		println("[main] settings:", err.Error())
		return
	}
	log := slog.New(settings.Log.Handler(os.Stdout))

	for {
		if err := supervisor.Run(context.Background(), supervisor.Options{Settings: settings, Logger: log}); err != nil {
			println("[main] supervisor:", err.Error())
		}
		time.Sleep(5 * time.Second)
	}
}
