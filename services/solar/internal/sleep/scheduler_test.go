package sleep

import (
	"testing"
	"time"

	"solarrelay-go/types"
)

func wake730() types.Config {
	c := types.DefaultConfig()
	c.WakeHour, c.WakeMinute = 7, 30
	return c
}

func at(h, m int) time.Time {
	return time.Date(2025, 3, 10, h, m, 0, 0, time.UTC)
}

// dwellThenEvaluate starts the timer at start and evaluates again after the dwell.
func dwellThenEvaluate(t *testing.T, s *Scheduler, start time.Time, cfg types.Config) Decision {
	t.Helper()
	if d := s.Evaluate(start, start, true, false, cfg); !d.TimerStarted || d.Enter {
		t.Fatalf("first observation: %+v", d)
	}
	end := start.Add(s.Params().Dwell)
	return s.Evaluate(end, end, true, false, cfg)
}

func TestEveningWakesNextDay(t *testing.T) {
	s := New(Params{})
	start := at(20, 0)
	d := dwellThenEvaluate(t, s, start, wake730())
	now := start.Add(30 * time.Minute) // 20:30
	if !d.Enter {
		t.Fatalf("no sleep at 20:30: %+v", d)
	}
	want := time.Date(2025, 3, 11, 7, 30, 0, 0, time.UTC)
	if !d.WakeAt.Equal(want) {
		t.Fatalf("wake at %v, want %v", d.WakeAt, want)
	}
	if d.WakeAfter != want.Sub(now) || d.WakeAfter != 11*time.Hour {
		t.Fatalf("wake after %v", d.WakeAfter)
	}
}

func TestEarlyMorningWakesToday(t *testing.T) {
	s := New(Params{})
	d := dwellThenEvaluate(t, s, at(2, 30), wake730())
	if !d.Enter {
		t.Fatalf("no sleep at 03:00: %+v", d)
	}
	want := at(7, 30)
	if !d.WakeAt.Equal(want) {
		t.Fatalf("wake at %v, want %v", d.WakeAt, want)
	}
	if d.WakeAfter != 4*time.Hour+30*time.Minute {
		t.Fatalf("wake after %v", d.WakeAfter)
	}
}

func TestWholeSeconds(t *testing.T) {
	s := New(Params{Dwell: time.Minute})
	start := at(21, 0).Add(400 * time.Millisecond)
	d := dwellThenEvaluate(t, s, start, wake730())
	if !d.Enter || d.WakeAfter%time.Second != 0 {
		t.Fatalf("%+v", d)
	}
}

func TestNoDecisionUnsynced(t *testing.T) {
	s := New(Params{Dwell: time.Minute})
	if d := s.Evaluate(at(22, 0), at(22, 0), false, false, wake730()); d != (Decision{}) {
		t.Fatalf("%+v", d)
	}
	if s.OffSince() != nil {
		t.Fatal("timer started without sync")
	}
}

func TestRelayOnResetsTimer(t *testing.T) {
	s := New(Params{})
	cfg := wake730()
	s.Evaluate(at(20, 0), at(20, 0), true, false, cfg)
	if s.OffSince() == nil {
		t.Fatal("timer not started")
	}
	s.Evaluate(at(20, 20), at(20, 20), true, true, cfg)
	if s.OffSince() != nil {
		t.Fatal("timer survived relay on")
	}
	// Restarted timer needs a fresh full dwell.
	if d := s.Evaluate(at(20, 25), at(20, 25), true, false, cfg); !d.TimerStarted {
		t.Fatalf("%+v", d)
	}
	if d := s.Evaluate(at(20, 50), at(20, 50), true, false, cfg); d.Enter {
		t.Fatal("slept before dwell")
	}
	if d := s.Evaluate(at(20, 55), at(20, 55), true, false, cfg); !d.Enter {
		t.Fatal("no sleep after dwell")
	}
}

func TestOutsideWindow(t *testing.T) {
	cfg := wake730()
	for _, tc := range []struct {
		h, m  int
		night bool
	}{
		{19, 0, true},
		{23, 59, true},
		{0, 0, true},
		{7, 29, true},
		{7, 30, false},
		{12, 0, false},
		{18, 59, false},
	} {
		if got := InNightWindow(at(tc.h, tc.m), DefaultDuskHour, cfg); got != tc.night {
			t.Errorf("%02d:%02d night=%v, want %v", tc.h, tc.m, got, tc.night)
		}
	}

	s := New(Params{Dwell: time.Minute})
	s.Evaluate(at(7, 0), at(7, 0), true, false, cfg)
	s.Evaluate(at(7, 35), at(7, 35), true, false, cfg)
	if s.OffSince() != nil {
		t.Fatal("timer survived end of window")
	}
}

func TestWakeTargetEdges(t *testing.T) {
	cfg := types.DefaultConfig()
	cfg.WakeHour, cfg.WakeMinute = 0, 0
	s := New(Params{Dwell: time.Minute})
	// 19:00 with wake 00:00: target is tomorrow 00:00, still positive.
	if d := dwellThenEvaluate(t, s, at(19, 0), cfg); !d.Enter || d.WakeAfter != 5*time.Hour-time.Minute {
		t.Fatalf("%+v", d)
	}
	cfg.WakeHour = 3
	s = New(Params{DuskHour: 2, Dwell: time.Minute})
	// 02:00 is past dusk, so tomorrow 03:00.
	if d := dwellThenEvaluate(t, s, at(2, 0), cfg); !d.Enter || d.WakeAfter != 25*time.Hour-time.Minute {
		t.Fatalf("%+v", d)
	}
}

func TestDwellUsesMonotonicTime(t *testing.T) {
	s := New(Params{Dwell: time.Minute})
	cfg := wake730()
	mono := time.Unix(1000, 0)
	if d := s.Evaluate(at(20, 0), mono, true, false, cfg); !d.TimerStarted {
		t.Fatalf("%+v", d)
	}
	// The wall clock jumps 45 min forward after an RTC reseed; only 11 s
	// really passed.
	if d := s.Evaluate(at(20, 45), mono.Add(11*time.Second), true, false, cfg); d.Enter {
		t.Fatalf("wall clock jump satisfied the dwell: %+v", d)
	}
	d := s.Evaluate(at(20, 46), mono.Add(time.Minute), true, false, cfg)
	if !d.Enter {
		t.Fatalf("no sleep after a real dwell: %+v", d)
	}
	if !d.WakeAt.Equal(time.Date(2025, 3, 11, 7, 30, 0, 0, time.UTC)) {
		t.Fatalf("wake target from wall time: %v", d.WakeAt)
	}
	if got := s.OffSince(); got == nil || !got.Equal(at(20, 0)) {
		t.Fatalf("off since %v, want local 20:00", got)
	}
}

func TestResetClearsTimer(t *testing.T) {
	s := New(Params{Dwell: time.Minute})
	cfg := wake730()
	s.Evaluate(at(20, 0), at(20, 0), true, false, cfg)
	s.Reset()
	if s.OffSince() != nil {
		t.Fatal("timer survived reset")
	}
	if d := s.Evaluate(at(20, 5), at(20, 5), true, false, cfg); !d.TimerStarted {
		t.Fatalf("reset did not require a fresh dwell: %+v", d)
	}
}
