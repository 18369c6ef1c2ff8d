package config

import (
	"context"
	"encoding/json"
	"log/slog"

	"solarrelay-go/bus"
	"solarrelay-go/errcode"
	"solarrelay-go/services/solar"
	"solarrelay-go/types"
)

// -----------------------------------------------------------------------------
// String constants
// -----------------------------------------------------------------------------

const (
	serviceName = "config"
	// Namespace holds the controller thresholds in the preferences store.
	Namespace = "solar_relay"
)

var (
	// TopicSet is the request verb for applying new thresholds.
	TopicSet       = solar.TopicConfig.Append("set")
	topicBridge    = bus.T("config", "bridge")
	topicHeartbeat = bus.T("config", "heartbeat")
)

// -----------------------------------------------------------------------------
// Thresholds
// -----------------------------------------------------------------------------

// LoadThresholds reads the controller config, defaulting missing keys.
func LoadThresholds(p *Prefs) types.Config {
	d := types.DefaultConfig()
	debounce := p.Int(Namespace, "debounce_s", int(d.DebounceSec))
	if debounce < 0 {
		debounce = int(d.DebounceSec)
	}
	return types.Config{
		VLowCutoff:     p.Float(Namespace, "v_low", d.VLowCutoff),
		VHighOn:        p.Float(Namespace, "v_high", d.VHighOn),
		COnThresholdMA: p.Float(Namespace, "c_high", d.COnThresholdMA),
		WakeHour:       p.Int(Namespace, "wake_h", d.WakeHour),
		WakeMinute:     p.Int(Namespace, "wake_m", d.WakeMinute),
		DebounceSec:    uint32(debounce),
	}
}

// SaveThresholds stages and persists c.
func SaveThresholds(p *Prefs, c types.Config) error {
	p.Put(Namespace, map[string]any{
		"v_low":      c.VLowCutoff,
		"v_high":     c.VHighOn,
		"c_high":     c.COnThresholdMA,
		"wake_h":     c.WakeHour,
		"wake_m":     c.WakeMinute,
		"debounce_s": int(c.DebounceSec),
	})
	return p.Save()
}

// Validate enforces what the controller assumes but does not check.
func Validate(c types.Config) error {
	bad := func(msg string) error {
		return &errcode.E{C: errcode.InvalidParams, Op: "config.validate", Msg: msg}
	}
	switch {
	case c.VLowCutoff <= 0 || c.VHighOn <= 0:
		return bad("thresholds must be positive")
	case c.VLowCutoff >= c.VHighOn:
		return bad("v_low must be below v_high")
	case c.COnThresholdMA < 0:
		return bad("c_high must not be negative")
	case c.WakeHour < 0 || c.WakeHour > 23:
		return bad("wake_h out of range")
	case c.WakeMinute < 0 || c.WakeMinute > 59:
		return bad("wake_m out of range")
	}
	return nil
}

// Merge overlays the fields present in payload onto cur, so a form that
// only posts v_low keeps the other keys.
func Merge(cur types.Config, payload any) (types.Config, error) {
	var b []byte
	switch v := payload.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		var err error
		if b, err = json.Marshal(v); err != nil {
			return cur, err
		}
	}
	out := cur
	if err := json.Unmarshal(b, &out); err != nil {
		return cur, err
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name     string
	prefs    *Prefs
	settings Settings
	log      *slog.Logger
	current  types.Config
}

func NewConfigService(prefs *Prefs, settings Settings, log *slog.Logger) *ConfigService {
	if log == nil {
		log = slog.Default()
	}
	return &ConfigService{
		Name:     serviceName,
		prefs:    prefs,
		settings: settings,
		log:      log.With("svc", serviceName),
	}
}

// publishConfig publishes the retained per-service configs.
func (s *ConfigService) publishConfig(conn *bus.Connection) {
	s.current = LoadThresholds(s.prefs)
	conn.Publish(conn.NewMessage(solar.TopicConfig, s.current, true))
	conn.Publish(conn.NewMessage(topicBridge, s.settings.MQTT, true))
	if iv := s.settings.Heartbeat.Interval; iv > 0 {
		conn.Publish(conn.NewMessage(topicHeartbeat, types.HeartbeatConfig{IntervalS: iv.Seconds()}, true))
	}
	s.log.Info("settings loaded", "namespace", Namespace)
}

// Start publishes the stored configuration and serves apply requests until
// ctx is cancelled. The set subscription exists when Start returns.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	setSub := conn.Subscribe(TopicSet)
	s.publishConfig(conn)
	go func() {
		defer conn.Unsubscribe(setSub)
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-setSub.Channel():
				if !ok {
					return
				}
				s.apply(conn, m)
			}
		}
	}()
}

// apply validates, persists and republishes. Sleep is held off while the
// store is being written.
func (s *ConfigService) apply(conn *bus.Connection, m *bus.Message) {
	next, err := Merge(s.current, m.Payload)
	if err != nil {
		conn.Reply(m, types.ErrorReply(string(errcode.InvalidPayload)), false)
		return
	}
	if err := Validate(next); err != nil {
		s.log.Warn("config rejected", "err", err)
		conn.Reply(m, types.ErrorReply(string(errcode.Of(err))), false)
		return
	}

	inhibit := solar.InhibitTopic(serviceName)
	conn.Publish(conn.NewMessage(inhibit, true, true))
	defer conn.Publish(conn.NewMessage(inhibit, nil, true))

	if err := SaveThresholds(s.prefs, next); err != nil {
		s.log.Error("config persist failed", "err", err)
		conn.Reply(m, types.ErrorReply(string(errcode.Error)), false)
		return
	}
	s.current = next
	conn.Publish(conn.NewMessage(solar.TopicConfig, next, true))
	s.log.Info("settings updated", "v_low", next.VLowCutoff, "v_high", next.VHighOn, "c_high", next.COnThresholdMA)
	conn.Reply(m, types.OKReply(), false)
}
