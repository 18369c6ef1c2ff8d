package timex

import "time"

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// Stamp is an optional instant. The zero Stamp is unset; an instant equal
// to the zero time.Time is still a valid set value.
type Stamp struct {
	at  time.Time
	set bool
}

// At returns a set Stamp holding t.
func At(t time.Time) Stamp { return Stamp{at: t, set: true} }

func (s Stamp) IsSet() bool { return s.set }

// Get returns the instant and whether it is set.
func (s Stamp) Get() (time.Time, bool) { return s.at, s.set }

// Since returns now-at, or 0 when unset.
func (s Stamp) Since(now time.Time) time.Duration {
	if !s.set {
		return 0
	}
	return now.Sub(s.at)
}

// SetIfUnset starts the stamp at now unless already running.
// It reports whether the stamp was started by this call.
func (s *Stamp) SetIfUnset(now time.Time) bool {
	if s.set {
		return false
	}
	s.at, s.set = now, true
	return true
}

func (s *Stamp) Clear() { *s = Stamp{} }

// Ptr returns a copy of the instant for JSON payloads, nil when unset.
func (s Stamp) Ptr() *time.Time {
	if !s.set {
		return nil
	}
	t := s.at
	return &t
}
