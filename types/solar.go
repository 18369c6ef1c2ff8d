package types

import (
	"time"
)

// Sample is one accepted power-monitor reading. TakenAt carries the
// monotonic reading of the instant the conversion was read.
type Sample struct {
	VoltageV  float64   `json:"voltage_v"`
	CurrentMA float64   `json:"current_ma"`
	PowerMW   float64   `json:"power_mw"`
	TakenAt   time.Time `json:"taken_at"`
}

// Config holds the persisted controller thresholds. Keys match the
// settings store (namespace "solar_relay").
type Config struct {
	VLowCutoff     float64 `json:"v_low" yaml:"v_low"`
	VHighOn        float64 `json:"v_high" yaml:"v_high"`
	COnThresholdMA float64 `json:"c_high" yaml:"c_high"`
	WakeHour       int     `json:"wake_h" yaml:"wake_h"`
	WakeMinute     int     `json:"wake_m" yaml:"wake_m"`
	DebounceSec    uint32  `json:"debounce_s" yaml:"debounce_s"`
}

// Store defaults for missing keys.
const (
	DefaultVLow        = 12.1
	DefaultVHigh       = 13.2
	DefaultCHighMA     = 150.0
	DefaultWakeHour    = 8
	DefaultWakeMinute  = 0
	DefaultDebounceSec = 60
)

func DefaultConfig() Config {
	return Config{
		VLowCutoff:     DefaultVLow,
		VHighOn:        DefaultVHigh,
		COnThresholdMA: DefaultCHighMA,
		WakeHour:       DefaultWakeHour,
		WakeMinute:     DefaultWakeMinute,
		DebounceSec:    DefaultDebounceSec,
	}
}

func (c Config) DebounceDelay() time.Duration {
	return time.Duration(c.DebounceSec) * time.Second
}

// RelayState is the decision engine view of the relay.
type RelayState struct {
	Committed     bool       `json:"committed"`
	Desired       bool       `json:"desired"`
	DebounceSince *time.Time `json:"debounce_since,omitempty"`
}

// TelemetryState holds peaks and integrated energy since boot or the last reset.
type TelemetryState struct {
	PeakVoltageV  float64 `json:"peak_voltage_v"`
	PeakCurrentMA float64 `json:"peak_current_ma"`
	PeakPowerMW   float64 `json:"peak_power_mw"`
	EnergyWh      float64 `json:"energy_wh"`
}

// LogEntry is one dashboard history line. At is nil when the clock was
// not synchronised at append time.
type LogEntry struct {
	At      *time.Time `json:"at,omitempty"`
	Message string     `json:"message"`
}

const UnsyncedMarker = "[No Time] "

func (e LogEntry) String() string {
	if e.At == nil {
		return UnsyncedMarker + e.Message
	}
	return "[" + e.At.Format("15:04:05") + "] " + e.Message
}

// Relay transition sources.
const (
	SourceAuto    = "auto"
	SourceManual  = "manual"
	SourceStartup = "startup"
	SourceSleep   = "sleep"
)

// RelayEvent is published (not retained) on every committed change.
type RelayEvent struct {
	On     bool      `json:"on"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

// Snapshot is the retained public state of the controller.
type Snapshot struct {
	BootID        string         `json:"boot_id"`
	Sample        *Sample        `json:"sample,omitempty"`
	Relay         RelayState     `json:"relay"`
	Telemetry     TelemetryState `json:"telemetry"`
	Config        Config         `json:"config"`
	Peripheral    Link           `json:"peripheral"`
	Synced        bool           `json:"synced"`
	LocalTime     *time.Time     `json:"local_time,omitempty"`
	RTCTempC      *float64       `json:"rtc_temp_c,omitempty"`
	NightOffSince *time.Time     `json:"night_off_since,omitempty"`
	Log           []LogEntry     `json:"log,omitempty"`
}

// ---- Controls ----

type RelayOverride struct {
	On bool `json:"on"`
}

// ---- Power state (retained on solar/power) ----

const (
	PowerRunning    = "running"
	PowerSuspending = "suspending"
)

type PowerState struct {
	Level      string `json:"level"`
	WakeAfterS int64  `json:"wake_after_s,omitempty"`
}
