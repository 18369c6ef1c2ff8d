// Package powermon drives an INA219 bus/shunt monitor as a duty-cycled
// peripheral. Each measurement is one exclusive sequence:
//
//	d.Activate()    // config register <- 0x399F (continuous shunt+bus)
//	sleep(settle)   // conversion settles
//	d.read()        // bus mV, current mA, power mW
//	d.PowerDown()   // config register <- 0x3998 (mode bits cleared)
//
// Between sequences the chip sits in power-down so it does not draw
// standby current from the battery it is protecting.
package powermon

import (
	"errors"
	"sync"
	"time"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/ina219"

	"solarrelay-go/errcode"
	"solarrelay-go/types"
)

// Address is the fixed bus address of the monitor.
const Address = ina219.Address

// Configuration register words. PowerDownConfig differs only in the three
// mode bits.
const (
	modeMask        uint16 = 0x0007
	ActiveConfig    uint16 = 0x399F
	PowerDownConfig uint16 = ActiveConfig &^ modeMask
)

// MinPlausibleVolts rejects readings from a floating or disconnected bus.
const MinPlausibleVolts = 1.0

// profile is the 32 V / 2 A range with the matching calibration; its
// register value is ActiveConfig.
var profile = ina219.Config{
	BusVoltageRange: ina219.Range32V,
	PGA:             ina219.PGA8,
	BusADC:          ina219.ADC12,
	ShuntADC:        ina219.SADC12,
	Mode:            ina219.ModeContShuntBus,
	Calibration:     ina219.Calibration32V2A,
	CurrentDivider:  10.0,
	PowerMultiplier: 2.0,
}

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Address defaults to 0x40 if zero.
	Address uint16
	// Settle is the wait between Activate and reading. Default 60 ms.
	Settle time.Duration
	// Sleep and Now are injectable for tests. Defaults time.Sleep/time.Now.
	Sleep func(time.Duration)
	Now   func() time.Time
}

// Device is the typed driver. It is safe for concurrent use; sequences are
// serialised so the configuration register is never interleaved.
type Device struct {
	mu      sync.Mutex
	dev     ina219.Device
	cfg     Config
	present bool
}

// New creates the driver. It does not touch the bus; call Probe.
func New(bus drivers.I2C, cfgs ...Config) *Device {
	var c Config
	if len(cfgs) > 0 {
		c = cfgs[0]
	}
	if c.Address == 0 {
		c.Address = Address
	}
	if c.Settle <= 0 {
		c.Settle = 60 * time.Millisecond
	}
	if c.Sleep == nil {
		c.Sleep = time.Sleep
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	d := &Device{cfg: c, dev: ina219.New(bus)}
	d.dev.Address = c.Address
	d.dev.SetConfig(profile)
	return d
}

// Present reports whether the last probe or register write succeeded.
func (d *Device) Present() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.present
}

// Probe writes configuration and calibration, verifies them, and leaves the
// chip powered down. A failed probe marks the device absent.
func (d *Device) Probe() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.dev.Configure(); err != nil {
		d.present = false
		return errcode.Wrap(errcode.PeripheralUnavailable, "powermon.probe", err)
	}
	d.present = true
	return d.writeConfig(PowerDownConfig)
}

// Activate puts the chip into continuous conversion.
func (d *Device) Activate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeConfig(ActiveConfig)
}

// PowerDown stops conversions.
func (d *Device) PowerDown() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeConfig(PowerDownConfig)
}

// Measure runs one activate -> settle -> read -> power-down sequence.
// Errors carry PeripheralUnavailable or InvalidSample codes.
func (d *Device) Measure() (types.Sample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.writeConfig(ActiveConfig); err != nil {
		return types.Sample{}, err
	}
	d.cfg.Sleep(d.cfg.Settle)

	busMV, _, currentMA, powerMW, rerr := d.dev.Measurements()
	at := d.cfg.Now()
	// Power down even when the read failed.
	perr := d.writeConfig(PowerDownConfig)

	if rerr != nil {
		var ovf ina219.ErrOverflow
		if errors.As(rerr, &ovf) {
			return types.Sample{}, &errcode.E{C: errcode.InvalidSample, Op: "powermon.measure", Err: rerr}
		}
		d.present = false
		return types.Sample{}, errcode.Wrap(errcode.PeripheralUnavailable, "powermon.measure", rerr)
	}
	if perr != nil {
		return types.Sample{}, perr
	}

	s := types.Sample{
		VoltageV:  float64(busMV) / 1000,
		CurrentMA: float64(currentMA),
		PowerMW:   float64(powerMW),
		TakenAt:   at,
	}
	if s.VoltageV < MinPlausibleVolts {
		return types.Sample{}, &errcode.E{C: errcode.InvalidSample, Op: "powermon.measure", Msg: "bus voltage below plausibility floor"}
	}
	return s, nil
}

// writeConfig is the single two-byte register write per state transition.
// Caller holds d.mu.
func (d *Device) writeConfig(v uint16) error {
	if !d.present {
		return errcode.PeripheralUnavailable
	}
	if err := d.dev.WriteRegister(ina219.RegConfig, v); err != nil {
		d.present = false
		return errcode.Wrap(errcode.PeripheralUnavailable, "powermon.config", err)
	}
	return nil
}
