package sampling

import (
	"testing"
	"time"

	"solarrelay-go/types"
)

var boot = time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)

func countDue(s *Scheduler, from time.Time, span, step time.Duration) int {
	n := 0
	for d := time.Duration(0); d < span; d += step {
		if s.Due(from.Add(d)) {
			n++
		}
	}
	return n
}

func TestGracePeriod(t *testing.T) {
	s := New(Params{}, boot, types.DefaultConfig())
	if s.Due(boot) || s.Due(boot.Add(4*time.Second)) {
		t.Fatal("due inside grace period")
	}
	if !s.Due(boot.Add(5 * time.Second)) {
		t.Fatal("not due at end of grace")
	}
	if got := New(Params{}, boot, types.DefaultConfig()).NextDue(); !got.Equal(boot.Add(5 * time.Second)) {
		t.Fatalf("NextDue before first sample = %v", got)
	}
}

func TestFastNearThresholds(t *testing.T) {
	cfg := types.DefaultConfig() // 12.1 / 13.2
	start := boot.Add(time.Minute)
	step := 100 * time.Millisecond

	mid := New(Params{}, boot, cfg)
	mid.Observe(12.65)
	nMid := countDue(mid, start, time.Minute, step)

	for _, v := range []float64{12.1, 12.25, 11.95, 13.2, 13.05, 13.35} {
		near := New(Params{}, boot, cfg)
		near.Observe(v)
		if n := countDue(near, start, time.Minute, step); n <= nMid {
			t.Errorf("v=%.2f: %d samples/min, mid-band %d", v, n, nMid)
		}
		if near.Interval() != 2*time.Second {
			t.Errorf("v=%.2f: interval %v", v, near.Interval())
		}
	}
	if mid.Interval() != 10*time.Second {
		t.Fatalf("mid-band interval %v", mid.Interval())
	}
}

func TestRelaxesBackToSlow(t *testing.T) {
	s := New(Params{}, boot, types.DefaultConfig())
	s.Observe(13.1)
	if s.Interval() != 2*time.Second {
		t.Fatal("expected fast near v_high")
	}
	s.Observe(12.7)
	if s.Interval() != 10*time.Second {
		t.Fatal("expected slow mid-band")
	}
}

func TestDueConsumesTick(t *testing.T) {
	s := New(Params{Slow: 10 * time.Second, Grace: time.Second}, boot, types.DefaultConfig())
	now := boot.Add(2 * time.Second)
	if !s.Due(now) {
		t.Fatal("first tick not due")
	}
	if s.Due(now) {
		t.Fatal("tick not consumed")
	}
	if s.Due(now.Add(9 * time.Second)) {
		t.Fatal("due early")
	}
	if got := s.NextDue(); !got.Equal(now.Add(10 * time.Second)) {
		t.Fatalf("NextDue=%v", got)
	}
	if !s.Due(now.Add(10 * time.Second)) {
		t.Fatal("not due after slow period")
	}
}

func TestConfigChangeMovesFastBand(t *testing.T) {
	s := New(Params{}, boot, types.DefaultConfig())
	s.Observe(12.6)
	if s.Interval() != 10*time.Second {
		t.Fatal("expected slow")
	}
	c := types.DefaultConfig()
	c.VLowCutoff = 12.5
	s.SetConfig(c)
	if s.Interval() != 2*time.Second {
		t.Fatal("expected fast after threshold moved")
	}
}
