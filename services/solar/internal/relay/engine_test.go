package relay

import (
	"testing"
	"time"

	"solarrelay-go/types"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func cfg() types.Config {
	c := types.DefaultConfig() // 12.1 / 13.2 V, 150 mA, 60 s
	return c
}

func sample(v, ma float64) types.Sample {
	return types.Sample{VoltageV: v, CurrentMA: ma, PowerMW: v * ma}
}

func TestDecide(t *testing.T) {
	c := cfg()
	cases := []struct {
		name      string
		v, ma     float64
		committed bool
		want      bool
	}{
		{"on needs voltage and current", 13.3, 200, false, true},
		{"on at exact thresholds", 13.2, 150, false, true},
		{"high voltage low current holds off", 13.5, 100, false, false},
		{"high voltage low current holds on", 13.5, 100, true, true},
		{"band holds off", 12.6, 500, false, false},
		{"band holds on", 12.6, 0, true, true},
		{"cutoff ignores current", 12.1, 900, true, false},
		{"below cutoff", 11.0, 0, true, false},
	}
	for _, tc := range cases {
		if got := Decide(sample(tc.v, tc.ma), c, tc.committed); got != tc.want {
			t.Errorf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestCommitsOnceAfterDebounce(t *testing.T) {
	e := New()
	c := cfg()
	high := sample(13.4, 300)

	commits := 0
	var committedAt time.Time
	for i := 0; i <= 120; i += 2 {
		now := t0.Add(time.Duration(i) * time.Second)
		cmd := e.Evaluate(high, c, now)
		if cmd.Changed {
			commits++
			committedAt = now
		}
	}
	if commits != 1 {
		t.Fatalf("commits=%d, want exactly 1", commits)
	}
	if d := committedAt.Sub(t0); d < c.DebounceDelay() {
		t.Fatalf("committed after %v, before debounce %v", d, c.DebounceDelay())
	}
	if !e.Committed() {
		t.Fatal("expected committed ON")
	}
	if st := e.State(); st.DebounceSince != nil || !st.Desired {
		t.Fatalf("state after commit: %+v", st)
	}
}

func TestShortExcursionCancelsTimer(t *testing.T) {
	e := New()
	c := cfg()

	e.Evaluate(sample(13.4, 300), c, t0)
	if st := e.State(); st.DebounceSince == nil || !st.Desired {
		t.Fatalf("expected pending debounce, got %+v", st)
	}
	e.Evaluate(sample(13.4, 300), c, t0.Add(30*time.Second))

	// Back into the band: desired reverts to committed.
	cmd := e.Evaluate(sample(12.8, 300), c, t0.Add(40*time.Second))
	if cmd.Changed || cmd.On {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if st := e.State(); st.DebounceSince != nil || st.Desired {
		t.Fatalf("timer leaked: %+v", st)
	}

	// A new excursion starts a fresh window; it does not accumulate.
	e.Evaluate(sample(13.4, 300), c, t0.Add(50*time.Second))
	if cmd := e.Evaluate(sample(13.4, 300), c, t0.Add(100*time.Second)); cmd.Changed {
		t.Fatal("window accumulated across excursions")
	}
	if cmd := e.Evaluate(sample(13.4, 300), c, t0.Add(110*time.Second)); !cmd.Changed || !cmd.On {
		t.Fatalf("expected commit at 60s of the second excursion, got %+v", cmd)
	}
}

func TestCutoffDebouncedToo(t *testing.T) {
	e := New()
	c := cfg()
	e.Override(true)

	e.Evaluate(sample(11.9, 0), c, t0)
	if cmd := e.Evaluate(sample(11.9, 0), c, t0.Add(59*time.Second)); cmd.Changed {
		t.Fatal("committed before debounce")
	}
	if cmd := e.Evaluate(sample(11.9, 0), c, t0.Add(60*time.Second)); !cmd.Changed || cmd.On {
		t.Fatalf("expected OFF commit, got %+v", cmd)
	}
}

func TestOverrideBypassesDebounce(t *testing.T) {
	e := New()
	c := cfg()

	// Pending OFF->ON window in progress.
	e.Evaluate(sample(13.4, 300), c, t0)
	cmd := e.Override(true)
	if !cmd.Changed || !cmd.On || !e.Committed() {
		t.Fatalf("override: %+v", cmd)
	}
	if st := e.State(); st.DebounceSince != nil || !st.Desired {
		t.Fatalf("override left %+v", st)
	}

	// A low sample in the band right after must not re-decide.
	if cmd := e.Evaluate(sample(12.5, 0), c, t0.Add(time.Second)); cmd.Changed || !cmd.On {
		t.Fatalf("engine re-decided against operator: %+v", cmd)
	}

	// Forcing the same level reports no change.
	if cmd := e.Override(true); cmd.Changed {
		t.Fatal("no-op override reported a change")
	}
}

func TestOverrideLowWhileSunny(t *testing.T) {
	e := New()
	c := cfg()
	e.Override(true)
	cmd := e.Override(false)
	if !cmd.Changed || cmd.On {
		t.Fatalf("got %+v", cmd)
	}
	// Sustained ON conditions still need the full window afterwards.
	e.Evaluate(sample(13.4, 300), c, t0)
	if cmd := e.Evaluate(sample(13.4, 300), c, t0.Add(10*time.Second)); cmd.Changed {
		t.Fatal("committed without debounce after override")
	}
}

func TestPrimeCommitsImmediately(t *testing.T) {
	e := New()
	c := cfg()
	if cmd := e.Prime(sample(13.4, 300), c); !cmd.Changed || !cmd.On {
		t.Fatalf("prime: %+v", cmd)
	}
	// In-band prime holds.
	e2 := New()
	if cmd := e2.Prime(sample(12.5, 300), c); cmd.Changed || cmd.On {
		t.Fatalf("prime in band: %+v", cmd)
	}
}

func TestZeroDebounceCommitsOnFirstSample(t *testing.T) {
	e := New()
	c := cfg()
	c.DebounceSec = 0
	if cmd := e.Evaluate(sample(13.4, 300), c, t0); !cmd.Changed {
		t.Fatal("expected immediate commit")
	}
}

func TestInvertedThresholdsDoNotOscillate(t *testing.T) {
	// v_low above v_high: not validated by the engine.
	e := New()
	c := cfg()
	c.VLowCutoff, c.VHighOn = 13.5, 12.0
	c.DebounceSec = 0

	s := sample(12.8, 300) // satisfies both ON and OFF conditions
	first := e.Evaluate(s, c, t0)
	for i := 1; i < 50; i++ {
		cmd := e.Evaluate(s, c, t0.Add(time.Duration(i)*time.Second))
		if cmd.Changed {
			t.Fatalf("oscillated at step %d", i)
		}
		if cmd.On != first.On {
			t.Fatal("level flipped on identical input")
		}
	}
	if !first.On {
		t.Fatal("ON condition is evaluated first")
	}
}
