// Package eventlog keeps the most recent human-readable controller events.
package eventlog

import (
	"time"

	"solarrelay-go/types"
)

const DefaultCapacity = 15

// Log is a fixed-capacity ring; the oldest entry is evicted on overflow.
type Log struct {
	buf   []types.LogEntry
	head  int // index of the oldest entry
	count int
}

func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{buf: make([]types.LogEntry, capacity)}
}

// Append adds msg. The entry is stamped with at only when synced.
func (l *Log) Append(at time.Time, synced bool, msg string) types.LogEntry {
	e := types.LogEntry{Message: msg}
	if synced {
		t := at
		e.At = &t
	}
	if l.count < len(l.buf) {
		l.buf[(l.head+l.count)%len(l.buf)] = e
		l.count++
	} else {
		l.buf[l.head] = e
		l.head = (l.head + 1) % len(l.buf)
	}
	return e
}

// Entries returns a copy, oldest first.
func (l *Log) Entries() []types.LogEntry {
	out := make([]types.LogEntry, l.count)
	for i := range out {
		out[i] = l.buf[(l.head+i)%len(l.buf)]
	}
	return out
}

func (l *Log) Len() int { return l.count }
