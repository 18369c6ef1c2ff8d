// Package solar is the resident relay controller. One goroutine owns the
// decision engine, schedulers, telemetry and event log; collaborators reach
// it only through the bus.
package solar

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"solarrelay-go/bus"
	"solarrelay-go/errcode"
	"solarrelay-go/services/solar/internal/eventlog"
	"solarrelay-go/services/solar/internal/relay"
	"solarrelay-go/services/solar/internal/sampling"
	"solarrelay-go/services/solar/internal/sleep"
	"solarrelay-go/services/solar/internal/telemetry"
	"solarrelay-go/types"
	"solarrelay-go/x/timex"
)

// PowerMonitor is the duty-cycled sensor. Measure must run the whole
// activate, settle, read, power-down sequence.
type PowerMonitor interface {
	Present() bool
	Probe() error
	Measure() (types.Sample, error)
	PowerDown() error
}

// RelayOutput drives the physical relay line.
type RelayOutput interface {
	Set(on bool) error
}

// Clock returns local wall time and whether it is trustworthy.
type Clock interface {
	Now() (time.Time, bool)
}

// Thermometer is optionally implemented by a Clock backed by an RTC with a
// die temperature sensor.
type Thermometer interface {
	TemperatureC() (float64, bool)
}

// Scheduler parameters, re-exported for callers outside this tree.
type (
	SamplingParams = sampling.Params
	SleepParams    = sleep.Params
)

// Options configure the controller. Zero values take defaults.
type Options struct {
	BootID   string
	Sampling SamplingParams
	Sleep    SleepParams
	// SleepCheck rate-limits sleep evaluation. Default 10 s.
	SleepCheck time.Duration
	// RequireOnline evaluates sleep only while some net/link/<who> is up.
	RequireOnline bool
	// Tick is the loop poll period. Default 100 ms.
	Tick time.Duration
	// SuspendSettle is the pause after forcing the relay off. Default 200 ms.
	SuspendSettle time.Duration
	LogCapacity   int
	// Initial thresholds until config/solar arrives.
	Config types.Config

	Logger *slog.Logger
	// Mono is the monotonic clock for sampling and debounce. Default time.Now.
	Mono  func() time.Time
	Pause func(time.Duration)
}

type Service struct {
	conn *bus.Connection
	mon  PowerMonitor
	out  RelayOutput
	clk  Clock
	opts Options
	log  *slog.Logger

	cfgSub, ctrlSub, inhSub, linkSub, noteSub *bus.Subscription

	cfg       types.Config
	cfgLoaded bool
	engine    *relay.Engine
	sched     *sampling.Scheduler
	sleeper   *sleep.Scheduler
	telem     *telemetry.Accumulator
	events    *eventlog.Log

	sample     *types.Sample
	peripheral types.Link
	primed     bool
	online     bool
	links      map[string]bool
	inhibitors map[string]bool
	lastSleep  timex.Stamp
}

// New builds the controller and subscribes at once so nothing published
// after New returns is missed.
func New(conn *bus.Connection, mon PowerMonitor, out RelayOutput, clk Clock, opts Options) *Service {
	if opts.SleepCheck <= 0 {
		opts.SleepCheck = 10 * time.Second
	}
	if opts.Tick <= 0 {
		opts.Tick = 100 * time.Millisecond
	}
	if opts.SuspendSettle <= 0 {
		opts.SuspendSettle = 200 * time.Millisecond
	}
	if opts.Config == (types.Config{}) {
		opts.Config = types.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Mono == nil {
		opts.Mono = time.Now
	}
	if opts.Pause == nil {
		opts.Pause = time.Sleep
	}
	s := &Service{
		conn:       conn,
		mon:        mon,
		out:        out,
		clk:        clk,
		opts:       opts,
		log:        opts.Logger.With("svc", "solar"),
		cfg:        opts.Config,
		engine:     relay.New(),
		sched:      sampling.New(opts.Sampling, opts.Mono(), opts.Config),
		sleeper:    sleep.New(opts.Sleep),
		telem:      telemetry.New(),
		events:     eventlog.New(opts.LogCapacity),
		peripheral: types.LinkDown,
		links:      map[string]bool{},
		inhibitors: map[string]bool{},
	}
	s.cfgSub = conn.Subscribe(TopicConfig)
	s.ctrlSub = conn.Subscribe(TopicControl.Append("+"))
	s.inhSub = conn.Subscribe(TopicInhibit.Append("+"))
	s.linkSub = conn.Subscribe(TopicNetwork.Append("+"))
	s.noteSub = conn.Subscribe(TopicLogAdd)
	return s
}

// Run drives the relay to its safe level and loops until ctx ends or the
// sleep scheduler decides to suspend. On suspend it returns the wake delay;
// the caller is expected to power off and cold-start after it.
func (s *Service) Run(ctx context.Context) (time.Duration, error) {
	defer s.conn.Disconnect()

	if err := s.out.Set(false); err != nil {
		s.log.Error("relay output", "err", err)
	}
	s.pub(TopicPower, types.PowerState{Level: types.PowerRunning}, true)
	if err := s.mon.Probe(); err != nil {
		s.log.Warn("power monitor not found", "err", err)
	} else {
		s.setPeripheral(types.LinkUp)
	}
	s.publishState()

	tick := time.NewTicker(s.opts.Tick)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.mon.PowerDown()
			return 0, ctx.Err()
		case m, ok := <-s.cfgSub.Channel():
			if ok {
				s.applyConfig(m)
			}
		case m, ok := <-s.ctrlSub.Channel():
			if ok {
				s.handleControl(m)
			}
		case m, ok := <-s.inhSub.Channel():
			if ok {
				s.handleInhibit(m)
			}
		case m, ok := <-s.linkSub.Channel():
			if ok {
				s.handleLink(m)
			}
		case m, ok := <-s.noteSub.Channel():
			if ok {
				if msg, _ := m.Payload.(string); msg != "" {
					s.note(msg)
				}
			}
		case <-tick.C:
			now := s.opts.Mono()
			s.step(now)
			if d, ok := s.checkSleep(now); ok {
				s.suspend(d)
				return d.WakeAfter, nil
			}
		}
	}
}

// step is one control-loop tick: gate, read, account, decide.
func (s *Service) step(now time.Time) {
	if !s.sched.Due(now) {
		return
	}
	if !s.mon.Present() {
		if err := s.mon.Probe(); err != nil {
			s.log.Debug("power monitor absent", "err", err)
			s.setPeripheral(types.LinkDown)
			return
		}
		s.log.Info("power monitor found")
	}

	smp, err := s.mon.Measure()
	if err != nil {
		switch errcode.Of(err) {
		case errcode.InvalidSample:
			s.log.Debug("sample discarded", "err", err)
			s.setPeripheral(types.LinkDegraded)
		default:
			s.log.Warn("measure failed", "err", err)
			s.setPeripheral(types.LinkDown)
		}
		s.publishState()
		return
	}
	s.setPeripheral(types.LinkUp)
	s.sample = &smp
	s.sched.Observe(smp.VoltageV)
	s.telem.Record(smp)

	var cmd relay.Command
	source := types.SourceAuto
	if _, synced := s.clk.Now(); synced && !s.primed {
		s.primed = true
		source = types.SourceStartup
		cmd = s.engine.Prime(smp, s.cfg)
	} else {
		cmd = s.engine.Evaluate(smp, s.cfg, now)
	}
	if cmd.Changed {
		s.drive(cmd.On, source, "Relay -> "+onOff(cmd.On))
	}
	s.publishState()
}

// checkSleep is rate-limited to one evaluation per SleepCheck. now is
// monotonic; the dwell is measured on it.
func (s *Service) checkSleep(now time.Time) (sleep.Decision, bool) {
	if s.engine.Committed() {
		s.sleeper.Reset()
	}
	if s.lastSleep.IsSet() && s.lastSleep.Since(now) < s.opts.SleepCheck {
		return sleep.Decision{}, false
	}
	s.lastSleep = timex.At(now)
	if s.opts.RequireOnline && !s.online {
		return sleep.Decision{}, false
	}

	wall, synced := s.clk.Now()
	d := s.sleeper.Evaluate(wall, now, synced, s.engine.Committed(), s.cfg)
	if d.TimerStarted {
		s.note(fmt.Sprintf("Night mode: Timer start (%s)", shortDuration(s.sleeper.Params().Dwell)))
		s.publishState()
	}
	if !d.Enter {
		return d, false
	}
	if held := s.heldBy(); len(held) > 0 || len(s.ctrlSub.Channel()) > 0 {
		s.log.Info("sleep deferred", "inhibitors", held, "pending_commands", len(s.ctrlSub.Channel()))
		return d, false
	}
	return d, true
}

// suspend is terminal for this run.
func (s *Service) suspend(d sleep.Decision) {
	s.note(fmt.Sprintf("Sleep: Wake %02d:%02d", s.cfg.WakeHour, s.cfg.WakeMinute))
	s.log.Info("entering deep sleep", "wake_at", d.WakeAt, "wake_after", d.WakeAfter)

	if err := s.mon.PowerDown(); err != nil {
		s.log.Debug("power down before sleep", "err", err)
	}
	if cmd := s.engine.ForceOff(); cmd.Changed {
		s.publishRelayEvent(false, types.SourceSleep)
	}
	if err := s.out.Set(false); err != nil {
		s.log.Error("relay output", "err", err)
	}
	s.opts.Pause(s.opts.SuspendSettle)

	s.publishState()
	s.pub(TopicPower, types.PowerState{
		Level:      types.PowerSuspending,
		WakeAfterS: int64(d.WakeAfter / time.Second),
	}, true)
}

// ---- Bus handlers ----

func (s *Service) applyConfig(m *bus.Message) {
	c, err := types.Decode[types.Config](m.Payload)
	if err != nil {
		s.log.Warn("config decode failed", "err", err)
		return
	}
	s.cfg = c
	s.sched.SetConfig(c)
	if s.cfgLoaded {
		s.note("Settings updated")
	} else {
		s.note("Settings Loaded")
	}
	s.cfgLoaded = true
	s.log.Info("config applied",
		"v_low", c.VLowCutoff, "v_high", c.VHighOn, "c_high", c.COnThresholdMA,
		"wake", fmt.Sprintf("%02d:%02d", c.WakeHour, c.WakeMinute), "debounce_s", c.DebounceSec)
	s.publishState()
}

func (s *Service) handleControl(m *bus.Message) {
	verb, _ := m.Topic.At(m.Topic.Len() - 1).(string)
	switch verb {
	case "override":
		o, err := types.Decode[types.RelayOverride](m.Payload)
		if err != nil {
			s.replyErr(m, errcode.InvalidPayload)
			return
		}
		cmd := s.engine.Override(o.On)
		// The operator's level stands until the next debounced decision.
		s.primed = true
		if cmd.On {
			s.sleeper.Reset()
		}
		if err := s.out.Set(cmd.On); err != nil {
			s.log.Error("relay output", "err", err)
		}
		if cmd.Changed {
			s.publishRelayEvent(cmd.On, types.SourceManual)
		}
		s.note("Manual -> " + onOff(cmd.On))
		s.publishState()
		s.replyOK(m)
	case "reset_stats":
		s.telem.Reset()
		s.note("Peaks Reset")
		s.publishState()
		s.replyOK(m)
	case "snapshot":
		snap := s.snapshot()
		snap.Log = s.events.Entries()
		s.conn.Reply(m, snap, false)
	default:
		s.replyErr(m, errcode.Unsupported)
	}
}

func (s *Service) handleInhibit(m *bus.Message) {
	who, _ := m.Topic.At(m.Topic.Len() - 1).(string)
	on, _ := types.Decode[bool](m.Payload)
	if on {
		s.inhibitors[who] = true
	} else {
		delete(s.inhibitors, who)
	}
}

func (s *Service) handleLink(m *bus.Message) {
	who, _ := m.Topic.At(m.Topic.Len() - 1).(string)
	l, _ := types.Decode[types.Link](m.Payload)
	if l == types.LinkUp {
		s.links[who] = true
	} else {
		delete(s.links, who)
	}
	up := len(s.links) > 0
	if up == s.online {
		return
	}
	s.online = up
	if up {
		s.note("Network Connected")
	} else {
		s.note("Network Connection Lost")
	}
}

// ---- Output ----

func (s *Service) drive(on bool, source, msg string) {
	if on {
		s.sleeper.Reset()
	}
	if err := s.out.Set(on); err != nil {
		s.log.Error("relay output", "err", err)
	}
	s.log.Info("relay committed", "on", on, "source", source)
	s.note(msg)
	s.publishRelayEvent(on, source)
}

func (s *Service) publishRelayEvent(on bool, source string) {
	at, _ := s.clk.Now()
	s.pub(TopicRelayEvent, types.RelayEvent{On: on, Source: source, At: at}, false)
}

// note appends to the event log and republishes it.
func (s *Service) note(msg string) {
	at, synced := s.clk.Now()
	s.events.Append(at, synced, msg)
	s.pub(TopicLog, s.events.Entries(), true)
}

func (s *Service) setPeripheral(l types.Link) {
	if s.peripheral == l {
		return
	}
	s.peripheral = l
	s.log.Info("power monitor", "link", l)
}

func (s *Service) snapshot() types.Snapshot {
	snap := types.Snapshot{
		BootID:        s.opts.BootID,
		Relay:         s.engine.State(),
		Telemetry:     s.telem.State(),
		Config:        s.cfg,
		Peripheral:    s.peripheral,
		NightOffSince: s.sleeper.OffSince(),
	}
	if s.sample != nil {
		smp := *s.sample
		snap.Sample = &smp
	}
	if at, synced := s.clk.Now(); synced {
		snap.Synced = true
		snap.LocalTime = &at
	}
	if th, ok := s.clk.(Thermometer); ok {
		if c, ok := th.TemperatureC(); ok {
			snap.RTCTempC = &c
		}
	}
	return snap
}

func (s *Service) publishState() { s.pub(TopicState, s.snapshot(), true) }

func (s *Service) pub(t bus.Topic, payload any, retained bool) {
	s.conn.Publish(s.conn.NewMessage(t, payload, retained))
}

func (s *Service) replyOK(req *bus.Message) { s.conn.Reply(req, types.OKReply(), false) }

func (s *Service) replyErr(req *bus.Message, c errcode.Code) {
	s.conn.Reply(req, types.ErrorReply(string(c)), false)
}

func (s *Service) heldBy() []string {
	out := make([]string, 0, len(s.inhibitors))
	for who := range s.inhibitors {
		out = append(out, who)
	}
	sort.Strings(out)
	return out
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// shortDuration renders 30m0s as 30m.
func shortDuration(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return d.String()
	}
}
