// Package supervisor owns the boot cycle. Each boot builds a fresh bus and
// fresh services, runs the controller until it decides to suspend, then
// tears everything down and suspends the board. Nothing but the
// preferences file survives from one boot to the next.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"tinygo.org/x/drivers/ds3231"

	"solarrelay-go/bus"
	"solarrelay-go/drivers/powermon"
	"solarrelay-go/platform"
	"solarrelay-go/services/clock"
	"solarrelay-go/services/config"
	"solarrelay-go/services/heartbeat"
	"solarrelay-go/services/solar"
)

type Options struct {
	Settings config.Settings
	Logger   *slog.Logger
	// Open selects the board. Default platform.Open.
	Open func(simulated bool, now func() time.Time) (*platform.Board, error)
	// NetworkTime overrides the time source derived from Device settings.
	NetworkTime clock.NetworkTime
	// MaxBoots stops after that many boots. Zero runs until ctx ends.
	MaxBoots int
	// OnBoot is called with each boot ID before services start.
	OnBoot func(bootID string)
}

// Run loops boot cycles until ctx ends or MaxBoots is reached.
func Run(ctx context.Context, opts Options) error {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Open == nil {
		opts.Open = platform.Open
	}
	log := opts.Logger.With("svc", "supervisor")

	board, err := opts.Open(opts.Settings.Device.Simulated, time.Now)
	if err != nil {
		return err
	}
	log.Info("board ready", "board", board.Name)

	for n := 1; opts.MaxBoots == 0 || n <= opts.MaxBoots; n++ {
		wake, err := boot(ctx, opts, board)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		case err != nil:
			return err
		}
		log.Info("suspending", "wake_after", wake, "boot", n)
		if err := board.Suspend(ctx, wake); err != nil {
			return nil
		}
	}
	return nil
}

// boot runs one power cycle and returns the controller's wake delay.
func boot(ctx context.Context, opts Options, board *platform.Board) (time.Duration, error) {
	s := opts.Settings
	bootID := uuid.NewString()
	log := opts.Logger.With("boot", bootID)
	if opts.OnBoot != nil {
		opts.OnBoot(bootID)
	}

	prefs, err := config.OpenPrefs(s.Store.Path)
	if err != nil {
		return 0, err
	}

	b := bus.NewBus(32)
	bctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	netTime := opts.NetworkTime
	if netTime == nil {
		netTime = networkTime(s.Device)
	}
	rtc := ds3231.New(board.I2C)
	clk := clock.New(&rtc, netTime, clock.Options{
		Location: s.Device.Location(),
		Logger:   log,
	})

	mon := powermon.New(board.I2C, powermon.Config{Settle: s.Sampling.Settle})
	ctl := solar.New(b.NewConnection("solar"), mon, board.Relay, clk, solar.Options{
		BootID: bootID,
		Sampling: solar.SamplingParams{
			Slow:   s.Sampling.Slow,
			Fast:   s.Sampling.Fast,
			Margin: s.Sampling.MarginV,
			Grace:  s.Sampling.Grace,
		},
		Sleep: solar.SleepParams{
			DuskHour: s.Sleep.DuskHour,
			Dwell:    s.Sleep.Dwell,
		},
		SleepCheck:    s.Sleep.Check,
		RequireOnline: s.Sleep.RequireOnline,
		Config:        config.LoadThresholds(prefs),
		Logger:        log,
	})

	// The controller is subscribed; collaborators may publish from here on.
	config.NewConfigService(prefs, s, log).Start(bctx, b.NewConnection("config"))
	spawn(func() { clk.Run(bctx, b.NewConnection("clock")) })
	(&heartbeat.Service{Log: log}).Start(bctx, b.NewConnection("heartbeat"))
	startNetwork(bctx, b, s, log, spawn)

	log.Info("boot", "board", board.Name)
	return ctl.Run(bctx)
}
