// config/config_test.go
package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solarrelay-go/bus"
	"solarrelay-go/errcode"
	"solarrelay-go/services/solar"
	"solarrelay-go/types"
)

func TestLoadThresholds_DefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("solar_relay:\n  v_low: 11.8\n  wake_h: 7\n"), 0o644))

	p, err := OpenPrefs(path)
	require.NoError(t, err)
	c := LoadThresholds(p)

	assert.Equal(t, 11.8, c.VLowCutoff)
	assert.Equal(t, 7, c.WakeHour)
	assert.Equal(t, types.DefaultVHigh, c.VHighOn)
	assert.Equal(t, types.DefaultCHighMA, c.COnThresholdMA)
	assert.Equal(t, uint32(types.DefaultDebounceSec), c.DebounceSec)
}

func TestPrefs_SaveRoundTripsThroughFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prefs.yaml")
	p, err := OpenPrefs(path)
	require.NoError(t, err)

	want := types.DefaultConfig()
	want.VHighOn = 13
	want.DebounceSec = 30
	require.NoError(t, SaveThresholds(p, want))

	again, err := OpenPrefs(path)
	require.NoError(t, err)
	assert.Equal(t, want, LoadThresholds(again))
}

func TestPrefs_MissingFileIsEmpty(t *testing.T) {
	p, err := OpenPrefs(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, types.DefaultConfig(), LoadThresholds(p))
}

func TestValidate(t *testing.T) {
	ok := types.DefaultConfig()
	require.NoError(t, Validate(ok))

	cases := map[string]func(*types.Config){
		"inverted":      func(c *types.Config) { c.VLowCutoff, c.VHighOn = 13.5, 12.0 },
		"equal":         func(c *types.Config) { c.VLowCutoff = c.VHighOn },
		"negative_c":    func(c *types.Config) { c.COnThresholdMA = -1 },
		"wake_h_range":  func(c *types.Config) { c.WakeHour = 24 },
		"wake_m_range":  func(c *types.Config) { c.WakeMinute = 60 },
		"zero_voltage":  func(c *types.Config) { c.VLowCutoff = 0 },
		"negative_hour": func(c *types.Config) { c.WakeHour = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := ok
			mutate(&c)
			err := Validate(c)
			require.Error(t, err)
			assert.True(t, errcode.Is(err, errcode.InvalidParams))
		})
	}
}

func TestMerge_PartialUpdate(t *testing.T) {
	cur := types.DefaultConfig()
	next, err := Merge(cur, map[string]any{"v_low": 11.9})
	require.NoError(t, err)
	assert.Equal(t, 11.9, next.VLowCutoff)
	assert.Equal(t, cur.VHighOn, next.VHighOn)

	_, err = Merge(cur, `{"debounce_s": -5}`)
	assert.Error(t, err)
}

func TestConfigService_PublishesAndApplies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	prefs, err := OpenPrefs(path)
	require.NoError(t, err)

	b := bus.NewBus(16)
	conn := b.NewConnection("test-config")
	svc := NewConfigService(prefs, Settings{
		MQTT:      MQTTSettings{Broker: "tcp://x:1883"},
		Heartbeat: HeartbeatSettings{Interval: 30 * time.Second},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx, conn)

	client := b.NewConnection("client")
	cfgSub := client.Subscribe(solar.TopicConfig)
	inhSub := client.Subscribe(solar.InhibitTopic("config"))

	// Retained config is delivered on subscribe.
	first := next(t, cfgSub)
	assert.Equal(t, types.DefaultConfig(), first.Payload)

	bridgeCfg, ok := b.Retained(topicBridge)
	require.True(t, ok)
	assert.Equal(t, "tcp://x:1883", bridgeCfg.Payload.(MQTTSettings).Broker)

	hbCfg, ok := b.Retained(topicHeartbeat)
	require.True(t, ok)
	assert.Equal(t, types.HeartbeatConfig{IntervalS: 30}, hbCfg.Payload)

	rctx, rcancel := context.WithTimeout(context.Background(), time.Second)
	defer rcancel()
	reply, err := client.Request(rctx, TopicSet, map[string]any{"v_high": 13.6, "wake_m": 15})
	require.NoError(t, err)
	assert.Equal(t, types.OKReply(), reply.Payload)

	applied := next(t, cfgSub).Payload.(types.Config)
	assert.Equal(t, 13.6, applied.VHighOn)
	assert.Equal(t, 15, applied.WakeMinute)
	assert.Equal(t, types.DefaultVLow, applied.VLowCutoff)

	// Sleep was held during the write and released after.
	assert.Equal(t, true, next(t, inhSub).Payload)
	assert.Nil(t, next(t, inhSub).Payload)
	_, held := b.Retained(solar.InhibitTopic("config"))
	assert.False(t, held)

	// Persisted.
	again, err := OpenPrefs(path)
	require.NoError(t, err)
	assert.Equal(t, 13.6, LoadThresholds(again).VHighOn)

	// Rejected values leave the published config alone.
	reply, err = client.Request(rctx, TopicSet, map[string]any{"v_low": 14.0})
	require.NoError(t, err)
	assert.Equal(t, types.ErrorReply(string(errcode.InvalidParams)), reply.Payload)
	msg, _ := b.Retained(solar.TopicConfig)
	assert.Equal(t, 13.6, msg.Payload.(types.Config).VHighOn)
}

func TestLoadSettings_Layers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solarrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sleep:\n  dwell: 45m\ndashboard:\n  listen: \":9090\"\n"), 0o644))
	t.Setenv("SOLARRELAY_MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("SOLARRELAY_SIMULATED", "false")

	s, err := LoadSettings("host", path)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, s.Sleep.Dwell)
	assert.Equal(t, 19, s.Sleep.DuskHour)
	assert.Equal(t, 10*time.Second, s.Sleep.Check)
	assert.Equal(t, ":9090", s.Dashboard.Listen)
	assert.Equal(t, "tcp://broker:1883", s.MQTT.Broker)
	assert.False(t, s.Device.Simulated)
	assert.Equal(t, 60*time.Millisecond, s.Sampling.Settle)
	assert.Equal(t, "pool.ntp.org", s.Device.NTPServer)
	assert.Equal(t, time.Minute, s.Heartbeat.Interval)
}

func TestLoadSettings_UnknownBoard(t *testing.T) {
	_, err := LoadSettings("stm32", "")
	assert.Error(t, err)
}

func TestLoadSettings_BadEnv(t *testing.T) {
	t.Setenv("SOLARRELAY_SIMULATED", "maybe")
	_, err := LoadSettings("pico", "")
	assert.Error(t, err)
}

func next(t *testing.T, sub *bus.Subscription) *bus.Message {
	t.Helper()
	select {
	case m := <-sub.Channel():
		return m
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func TestLogSettings_Handler(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(LogSettings{Level: "warn", Format: "json"}.Handler(&buf))
	log.Info("dropped")
	log.Warn("kept", "k", 1)
	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"msg":"kept"`)

	buf.Reset()
	log = slog.New(LogSettings{Level: "nonsense"}.Handler(&buf))
	log.Debug("hidden")
	log.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}
