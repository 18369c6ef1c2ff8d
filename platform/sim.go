package platform

import (
	"errors"
	"math"
	"sync"
	"time"

	"tinygo.org/x/drivers/ds3231"
	"tinygo.org/x/drivers/ina219"

	"solarrelay-go/x/mathx"
)

// ErrNACK is returned for an address nothing on the simulated bus answers.
var ErrNACK = errors.New("i2c: nack")

// Reading is what the simulated panel and battery present to the monitor.
type Reading struct {
	VoltageV  float64
	CurrentMA float64
}

// Curve models the panel over a day.
type Curve func(t time.Time) Reading

// DayCurve is a half-sine between 06:00 and 18:00 local time. The battery
// rests at 12.0 V overnight and peaks near 13.9 V at noon.
func DayCurve(t time.Time) Reading {
	h := float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600
	irr := 0.0
	if mathx.Between(h, 6.0, 18.0) {
		irr = math.Sin(math.Pi * (h - 6) / 12)
	}
	return Reading{
		VoltageV:  mathx.Lerp(12.0, 13.9, irr),
		CurrentMA: mathx.Lerp(5.0, 1500.0, irr),
	}
}

// SimBus is a drivers.I2C carrying an INA219 and a DS3231 register model.
type SimBus struct {
	mu       sync.Mutex
	now      func() time.Time
	curve    Curve
	detached map[uint16]bool
	txCount  map[uint16]int

	ina map[uint8]uint16

	rtcBase  time.Time
	rtcSetAt time.Time
	rtcRegs  [0x13]byte
}

// NewSimBus builds the bus. now drives both the curve and the RTC; the RTC
// starts with the oscillator-stop flag set, as after battery loss.
func NewSimBus(now func() time.Time, curve Curve) *SimBus {
	if now == nil {
		now = time.Now
	}
	if curve == nil {
		curve = DayCurve
	}
	b := &SimBus{
		now:      now,
		curve:    curve,
		detached: map[uint16]bool{},
		txCount:  map[uint16]int{},
		ina:      map[uint8]uint16{},
	}
	b.rtcRegs[ds3231.REG_STATUS] = 1 << ds3231.OSF
	// 27.25 C die temperature.
	b.rtcRegs[ds3231.REG_TEMP] = 27
	b.rtcRegs[ds3231.REG_TEMP+1] = 0x40
	b.rtcBase = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	b.rtcSetAt = now()
	return b
}

// Detach makes addr stop answering; Attach restores it.
func (b *SimBus) Detach(addr uint16) { b.mu.Lock(); b.detached[addr] = true; b.mu.Unlock() }
func (b *SimBus) Attach(addr uint16) { b.mu.Lock(); delete(b.detached, addr); b.mu.Unlock() }

// Transactions counts Tx calls to addr.
func (b *SimBus) Transactions(addr uint16) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.txCount[addr]
}

// SeedRTC sets the RTC as if it had been set and kept running.
func (b *SimBus) SeedRTC(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rtcBase, b.rtcSetAt = t.UTC(), b.now()
	b.rtcRegs[ds3231.REG_STATUS] &^= 1 << ds3231.OSF
}

// INAConfig returns the last configuration word written to the monitor.
func (b *SimBus) INAConfig() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ina[ina219.RegConfig]
}

func (b *SimBus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.txCount[addr]++
	if b.detached[addr] || len(w) == 0 {
		return ErrNACK
	}
	switch addr {
	case ina219.Address:
		return b.inaTx(w, r)
	case ds3231.Address:
		return b.rtcTx(w, r)
	}
	return ErrNACK
}

// ---- INA219 ----

func (b *SimBus) inaTx(w, r []byte) error {
	reg := w[0]
	if len(w) >= 3 {
		b.ina[reg] = uint16(w[1])<<8 | uint16(w[2])
	}
	if len(r) == 0 {
		return nil
	}
	var v uint16
	switch reg {
	case ina219.RegConfig, ina219.RegCalibration:
		v = b.ina[reg]
	default:
		v = b.conversion(reg)
	}
	r[0] = byte(v >> 8)
	if len(r) > 1 {
		r[1] = byte(v)
	}
	return nil
}

// conversion encodes the curve at now with the 32 V / 2 A scaling.
func (b *SimBus) conversion(reg uint8) uint16 {
	x := b.curve(b.now())
	mW := x.VoltageV * x.CurrentMA
	switch reg {
	case ina219.RegBusVoltage:
		mV := uint16(math.Round(x.VoltageV * 1000))
		return (mV/4)<<3 | 1<<1
	case ina219.RegShuntVoltage:
		// 0.1 ohm shunt, 10 uV per LSB.
		return uint16(int16(math.Round(x.CurrentMA)))
	case ina219.RegCurrent:
		return uint16(int16(math.Round(x.CurrentMA * 10)))
	case ina219.RegPower:
		return uint16(int16(math.Round(mW / 2)))
	}
	return 0
}

// ---- DS3231 ----

func (b *SimBus) rtcTx(w, r []byte) error {
	reg := int(w[0])
	if data := w[1:]; len(data) > 0 {
		if reg == ds3231.REG_TIMEDATE && len(data) >= 7 {
			b.rtcBase, b.rtcSetAt = decodeRTC(data), b.now()
			data = data[7:]
			reg += 7
		}
		for i, v := range data {
			if reg+i < len(b.rtcRegs) {
				b.rtcRegs[reg+i] = v
			}
		}
	}
	if len(r) == 0 {
		return nil
	}
	b.renderRTC()
	for i := range r {
		if reg+i >= len(b.rtcRegs) {
			return ErrNACK
		}
		r[i] = b.rtcRegs[reg+i]
	}
	return nil
}

func (b *SimBus) renderRTC() {
	t := b.rtcBase.Add(b.now().Sub(b.rtcSetAt))
	year := t.Year() - 2000
	century := byte(0)
	if year >= 100 {
		year -= 100
		century = 1 << 7
	}
	b.rtcRegs[0] = toBCD(t.Second())
	b.rtcRegs[1] = toBCD(t.Minute())
	b.rtcRegs[2] = toBCD(t.Hour())
	b.rtcRegs[3] = toBCD(int(t.Weekday()))
	b.rtcRegs[4] = toBCD(t.Day())
	b.rtcRegs[5] = toBCD(int(t.Month())) | century
	b.rtcRegs[6] = toBCD(year)
}

func decodeRTC(d []byte) time.Time {
	year := fromBCD(d[6]) + 2000
	if d[5]&(1<<7) != 0 {
		year += 100
	}
	return time.Date(year, time.Month(fromBCD(d[5]&0x7F)), fromBCD(d[4]),
		fromBCD(d[2]&0x3F), fromBCD(d[1]), fromBCD(d[0]&0x7F), 0, time.UTC)
}

func toBCD(v int) byte   { return byte(v/10)<<4 | byte(v%10) }
func fromBCD(v byte) int { return int(v>>4)*10 + int(v&0x0F) }
