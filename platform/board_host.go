//go:build !rp2040 && !rp2350

package platform

import (
	"context"
	"time"

	"solarrelay-go/errcode"
)

// Open returns the simulated board; the host has no real I2C bus.
func Open(simulated bool, now func() time.Time) (*Board, error) {
	if !simulated {
		return nil, &errcode.E{C: errcode.Unsupported, Op: "platform.open", Msg: "host builds only run the simulated board"}
	}
	sim := NewSimBus(now, DayCurve)
	return &Board{
		Name:    "host-sim",
		I2C:     sim,
		Sim:     sim,
		Relay:   NewRelay(&FakePin{}),
		Suspend: sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
