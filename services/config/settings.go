package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings are process-level options. They are read once at boot; the
// controller thresholds live in Prefs instead.
type Settings struct {
	Device    DeviceSettings    `yaml:"device"`
	Sampling  SamplingSettings  `yaml:"sampling"`
	Sleep     SleepSettings     `yaml:"sleep"`
	Dashboard DashboardSettings `yaml:"dashboard"`
	MQTT      MQTTSettings      `yaml:"mqtt"`
	Heartbeat HeartbeatSettings `yaml:"heartbeat"`
	Log       LogSettings       `yaml:"log"`
	Store     StoreSettings     `yaml:"store"`
}

type DeviceSettings struct {
	Timezone string `yaml:"timezone"`
	// Simulated selects the host board model instead of real peripherals.
	Simulated bool `yaml:"simulated"`
	// NTPServer is the network time source; empty disables NTP.
	NTPServer string `yaml:"ntp_server"`
	// TimeURL is an HTTP Date fallback used when NTP fails.
	TimeURL string `yaml:"time_url"`
}

type SamplingSettings struct {
	Slow    time.Duration `yaml:"slow"`
	Fast    time.Duration `yaml:"fast"`
	MarginV float64       `yaml:"margin_v"`
	Grace   time.Duration `yaml:"grace"`
	Settle  time.Duration `yaml:"settle"`
}

type SleepSettings struct {
	DuskHour      int           `yaml:"dusk_hour"`
	Dwell         time.Duration `yaml:"dwell"`
	Check         time.Duration `yaml:"check"`
	RequireOnline bool          `yaml:"require_online"`
}

type DashboardSettings struct {
	Listen        string  `yaml:"listen"`
	JWTSecret     string  `yaml:"jwt_secret"`
	AdminPassword string  `yaml:"admin_password"`
	RatePerSec    float64 `yaml:"rate_per_sec"`
	Burst         int     `yaml:"burst"`
}

// MQTTSettings is published verbatim on config/bridge.
type MQTTSettings struct {
	Broker   string `yaml:"broker" json:"broker"`
	ClientID string `yaml:"client_id" json:"client_id"`
	Username string `yaml:"username" json:"username,omitempty"`
	Password string `yaml:"password" json:"password,omitempty"`
	Prefix   string `yaml:"prefix" json:"prefix"`
	QoS      byte   `yaml:"qos" json:"qos"`
}

// HeartbeatSettings is published on config/heartbeat. Zero keeps the
// service default.
type HeartbeatSettings struct {
	Interval time.Duration `yaml:"interval"`
}

type LogSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

type StoreSettings struct {
	Path string `yaml:"path"`
}

// EmbeddedSettingsLookup resolves the built-in defaults for a board.
var EmbeddedSettingsLookup = func(board string) ([]byte, bool) {
	b, ok := embeddedSettings[board]
	return b, ok
}

// LoadSettings layers: embedded defaults for board, then the YAML file at
// path (a missing file is fine), then SOLARRELAY_* environment variables.
func LoadSettings(board, path string) (Settings, error) {
	var s Settings
	raw, ok := EmbeddedSettingsLookup(board)
	if !ok {
		return s, fmt.Errorf("no embedded settings for board %q", board)
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("embedded settings: %w", err)
	}
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return s, err
		default:
			if err := yaml.Unmarshal(b, &s); err != nil {
				return s, fmt.Errorf("%s: %w", path, err)
			}
		}
	}
	if err := s.applyEnv(os.LookupEnv); err != nil {
		return s, err
	}
	return s, nil
}

// SettingsPath is SOLARRELAY_SETTINGS or ./solarrelay.yaml.
func SettingsPath() string {
	if p, ok := os.LookupEnv("SOLARRELAY_SETTINGS"); ok {
		return p
	}
	return "solarrelay.yaml"
}

func (s *Settings) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"SOLARRELAY_TZ":             &s.Device.Timezone,
		"SOLARRELAY_NTP_SERVER":     &s.Device.NTPServer,
		"SOLARRELAY_TIME_URL":       &s.Device.TimeURL,
		"SOLARRELAY_LISTEN":         &s.Dashboard.Listen,
		"SOLARRELAY_JWT_SECRET":     &s.Dashboard.JWTSecret,
		"SOLARRELAY_ADMIN_PASSWORD": &s.Dashboard.AdminPassword,
		"SOLARRELAY_MQTT_BROKER":    &s.MQTT.Broker,
		"SOLARRELAY_LOG_LEVEL":      &s.Log.Level,
		"SOLARRELAY_STORE":          &s.Store.Path,
	}
	for k, dst := range str {
		if v, ok := lookup(k); ok {
			*dst = v
		}
	}
	if v, ok := lookup("SOLARRELAY_SIMULATED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SOLARRELAY_SIMULATED: %w", err)
		}
		s.Device.Simulated = b
	}
	return nil
}

// Handler builds the process log handler. Unknown levels fall back to info.
func (l LogSettings) Handler(w io.Writer) slog.Handler {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(l.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Location resolves the configured timezone, falling back to UTC.
func (d DeviceSettings) Location() *time.Location {
	if d.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
