//go:build rp2040 || rp2350

package platform

import (
	"context"
	"device/arm"
	"machine"
	"time"
)

// RelayPin is GP5, I2C0 on its default pins.
const RelayPin = machine.GP5

type rp2Pin struct{ p machine.Pin }

func (r rp2Pin) Set(high bool) { r.p.Set(high) }

// Open configures i2c0 at 100 kHz and the relay line driven low.
func Open(_ bool, _ func() time.Time) (*Board, error) {
	bus := machine.I2C0
	if err := bus.Configure(machine.I2CConfig{
		Frequency: 100 * machine.KHz,
		SDA:       machine.I2C0_SDA_PIN,
		SCL:       machine.I2C0_SCL_PIN,
	}); err != nil {
		return nil, err
	}
	RelayPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return &Board{
		Name:    "pico",
		I2C:     bus,
		Relay:   NewRelay(rp2Pin{p: RelayPin}),
		Suspend: suspend,
	}, nil
}

// suspend holds the relay low through the wait, then resets so the next
// run starts from a cold boot.
func suspend(_ context.Context, d time.Duration) error {
	RelayPin.Low()
	time.Sleep(d)
	arm.SystemReset()
	return nil
}
