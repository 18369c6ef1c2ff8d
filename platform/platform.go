// Package platform binds the controller to a board: the I2C bus the power
// monitor and RTC sit on, the relay line, and the suspend primitive.
package platform

import (
	"context"
	"sync"
	"time"

	"tinygo.org/x/drivers"
)

// Pin is a digital output line.
type Pin interface {
	Set(high bool)
}

// Board is what the supervisor needs from the hardware.
type Board struct {
	Name string
	I2C  drivers.I2C
	// Sim is non-nil on the simulated board.
	Sim   *SimBus
	Relay *Relay
	// Suspend powers down for d. On hardware it does not return; the next
	// boot is a cold start. On the host it returns when d has elapsed or
	// ctx ends.
	Suspend func(ctx context.Context, d time.Duration) error
}

// Relay drives the relay line. It satisfies solar.RelayOutput.
type Relay struct {
	mu  sync.Mutex
	pin Pin
	on  bool
}

func NewRelay(p Pin) *Relay {
	r := &Relay{pin: p}
	p.Set(false)
	return r
}

func (r *Relay) Set(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pin.Set(on)
	r.on = on
	return nil
}

// On reports the last level driven.
func (r *Relay) On() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

// FakePin records levels for host runs and tests.
type FakePin struct {
	mu     sync.Mutex
	level  bool
	writes int
}

func (p *FakePin) Set(high bool) {
	p.mu.Lock()
	p.level = high
	p.writes++
	p.mu.Unlock()
}

func (p *FakePin) Level() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *FakePin) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}
