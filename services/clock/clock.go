// Package clock is the controller's wall-clock source. It keeps an offset
// from the monotonic system clock, seeded from a DS3231 RTC and corrected
// by network time when available.
//
// Time counts as synchronised once it came from a valid RTC or the network.
// The RTC holds UTC.
package clock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"solarrelay-go/bus"
	"solarrelay-go/errcode"
	"solarrelay-go/services/solar"
	"solarrelay-go/x/timex"
)

// RTC is the subset of ds3231.Device used here.
type RTC interface {
	IsTimeValid() bool
	ReadTime() (time.Time, error)
	SetTime(time.Time) error
	ReadTemperature() (int32, error)
}

// NetworkTime returns trusted UTC time or an error within a bounded time.
type NetworkTime func(ctx context.Context) (time.Time, error)

const (
	// TempOffsetC corrects the RTC die temperature for self-heating.
	TempOffsetC = -2.0
	// Times before this are an unset RTC, not real readings.
	minTrustedYear = 2021
)

type Options struct {
	Location *time.Location
	// RTCSeedEvery re-seeds from the RTC while no network sync. Default 60 s.
	RTCSeedEvery time.Duration
	// NetRetry is the network attempt period until the first success,
	// NetRefresh after it. Defaults 30 s and 1 h.
	NetRetry   time.Duration
	NetRefresh time.Duration
	NetTimeout time.Duration // default 5 s
	Tick       time.Duration // default 1 s
	Logger     *slog.Logger
	// System is the monotonic base. Default time.Now.
	System func() time.Time
}

type Clock struct {
	rtc  RTC
	net  NetworkTime
	opts Options
	log  *slog.Logger

	mu        sync.Mutex
	offset    time.Duration
	seeded    bool
	netSynced bool
	tempC     float64
	haveTemp  bool

	lastSeed timex.Stamp
	lastNet  timex.Stamp
}

// New builds the clock. rtc and net may be nil.
func New(rtc RTC, net NetworkTime, opts Options) *Clock {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.RTCSeedEvery <= 0 {
		opts.RTCSeedEvery = time.Minute
	}
	if opts.NetRetry <= 0 {
		opts.NetRetry = 30 * time.Second
	}
	if opts.NetRefresh <= 0 {
		opts.NetRefresh = time.Hour
	}
	if opts.NetTimeout <= 0 {
		opts.NetTimeout = 5 * time.Second
	}
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.System == nil {
		opts.System = time.Now
	}
	return &Clock{rtc: rtc, net: net, opts: opts, log: opts.Logger.With("svc", "clock")}
}

// Now returns local wall time and whether it is trustworthy.
func (c *Clock) Now() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.opts.System().Add(c.offset).In(c.opts.Location)
	return t, c.seeded || c.netSynced
}

// TemperatureC is the last RTC die temperature with the calibration offset.
func (c *Clock) TemperatureC() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tempC, c.haveTemp
}

// NetworkSynced reports whether network time has been applied.
func (c *Clock) NetworkSynced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.netSynced
}

// Init probes the RTC and seeds from it. It returns the event-log line.
func (c *Clock) Init() string {
	if c.rtc == nil {
		return "RTC Not Found"
	}
	if _, err := c.rtc.ReadTime(); err != nil {
		c.log.Warn("rtc unavailable", "err", errcode.Wrap(errcode.PeripheralUnavailable, "clock.init", err))
		c.rtc = nil
		return "RTC Not Found"
	}
	c.seedFromRTC(c.opts.System())
	c.readTemp()
	return "RTC Init OK"
}

// Run polls until ctx is cancelled, posting event-log lines on conn.
func (c *Clock) Run(ctx context.Context, conn *bus.Connection) {
	conn.Publish(conn.NewMessage(solar.TopicLogAdd, c.Init(), false))
	tick := time.NewTicker(c.opts.Tick)
	defer tick.Stop()
	c.poll(ctx, conn, c.opts.System())
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			c.poll(ctx, conn, c.opts.System())
		}
	}
}

// poll does whatever is due at now.
func (c *Clock) poll(ctx context.Context, conn *bus.Connection, now time.Time) {
	if c.rtc != nil && !c.NetworkSynced() && c.lastSeed.Since(now) >= c.opts.RTCSeedEvery {
		c.seedFromRTC(now)
		c.readTemp()
	}
	if c.net == nil {
		return
	}
	period := c.opts.NetRetry
	if c.NetworkSynced() {
		period = c.opts.NetRefresh
	}
	if c.lastNet.IsSet() && c.lastNet.Since(now) < period {
		return
	}
	c.lastNet = timex.At(now)

	nctx, cancel := context.WithTimeout(ctx, c.opts.NetTimeout)
	t, err := c.net(nctx)
	cancel()
	if err != nil {
		c.log.Debug("network time failed", "err", err)
		return
	}
	first := c.applyNetwork(now, t)
	if c.rtc != nil {
		if err := c.rtc.SetTime(t.UTC()); err != nil {
			c.log.Warn("rtc write-back failed", "err", err)
		}
	}
	if first && conn != nil {
		conn.Publish(conn.NewMessage(solar.TopicLogAdd, "NTP Synced", false))
	}
}

func (c *Clock) applyNetwork(now, t time.Time) (first bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = t.Sub(now)
	first = !c.netSynced
	c.netSynced = true
	c.log.Info("network time applied", "utc", t.UTC())
	return first
}

func (c *Clock) seedFromRTC(now time.Time) {
	c.lastSeed = timex.At(now)
	t, err := c.rtc.ReadTime()
	if err != nil {
		c.log.Debug("rtc read failed", "err", err)
		return
	}
	if !c.rtc.IsTimeValid() || t.Year() < minTrustedYear {
		c.log.Debug("rtc time not trusted", "rtc", t)
		return
	}
	c.mu.Lock()
	c.offset = t.Sub(now)
	c.seeded = true
	c.mu.Unlock()
}

func (c *Clock) readTemp() {
	mc, err := c.rtc.ReadTemperature()
	if err != nil {
		return
	}
	c.mu.Lock()
	c.tempC = float64(mc)/1000 + TempOffsetC
	c.haveTemp = true
	c.mu.Unlock()
}

// Fallback tries each source in order and returns the first success.
// Nil sources are skipped.
func Fallback(sources ...NetworkTime) NetworkTime {
	var live []NetworkTime
	for _, src := range sources {
		if src != nil {
			live = append(live, src)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	}
	return func(ctx context.Context) (time.Time, error) {
		var errs []error
		for _, src := range live {
			t, err := src(ctx)
			if err == nil {
				return t, nil
			}
			errs = append(errs, err)
		}
		return time.Time{}, errcode.Wrap(errcode.TimeNotSynchronized, "clock.network", errors.Join(errs...))
	}
}
