package powermon

import (
	"errors"
	"testing"
	"time"

	"tinygo.org/x/drivers/ina219"
	"tinygo.org/x/drivers/tester"

	"solarrelay-go/errcode"
)

func regsFor(busMV, currentMA, powerMW float64) map[uint8]uint16 {
	return map[uint8]uint16{
		ina219.RegConfig:       0,
		ina219.RegCalibration:  0,
		ina219.RegShuntVoltage: 0,
		ina219.RegBusVoltage:   uint16(int(busMV)/4) << 3,
		ina219.RegCurrent:      uint16(currentMA * 10),
		ina219.RegPower:        uint16(powerMW / 2),
	}
}

func newFake(t *testing.T, regs map[uint8]uint16) (*tester.I2CDevice16, *Device, *[]time.Duration) {
	t.Helper()
	bus := tester.NewI2CBus(t)
	fake := tester.NewI2CDevice16(t, Address)
	fake.Registers = regs
	bus.AddDevice(fake)

	var slept []time.Duration
	d := New(bus, Config{
		Sleep: func(d time.Duration) { slept = append(slept, d) },
		Now:   func() time.Time { return time.Unix(1000, 0) },
	})
	return fake, d, &slept
}

func TestRegisterWords(t *testing.T) {
	if ActiveConfig != 0x399F {
		t.Fatalf("ActiveConfig=%#x", ActiveConfig)
	}
	if PowerDownConfig != 0x3998 {
		t.Fatalf("PowerDownConfig=%#x", PowerDownConfig)
	}
	if got := profile.RegisterValue(); got != ActiveConfig {
		t.Fatalf("profile register value %#x, want %#x", got, ActiveConfig)
	}
}

func TestProbeLeavesChipPoweredDown(t *testing.T) {
	fake, d, _ := newFake(t, regsFor(12500, 150, 1874))
	if err := d.Probe(); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !d.Present() {
		t.Fatal("expected present after probe")
	}
	if got := fake.Registers[ina219.RegConfig]; got != PowerDownConfig {
		t.Fatalf("config after probe = %#x, want %#x", got, PowerDownConfig)
	}
	if got := fake.Registers[ina219.RegCalibration]; got != uint16(ina219.Calibration32V2A) {
		t.Fatalf("calibration = %d", got)
	}
}

func TestMeasureSequence(t *testing.T) {
	fake, d, slept := newFake(t, regsFor(12500, 150, 1874))
	if err := d.Probe(); err != nil {
		t.Fatal(err)
	}
	s, err := d.Measure()
	if err != nil {
		t.Fatalf("measure: %v", err)
	}
	if s.VoltageV != 12.5 {
		t.Errorf("voltage=%v", s.VoltageV)
	}
	if s.CurrentMA != 150 {
		t.Errorf("current=%v", s.CurrentMA)
	}
	if s.PowerMW != 1874 {
		t.Errorf("power=%v", s.PowerMW)
	}
	if !s.TakenAt.Equal(time.Unix(1000, 0)) {
		t.Errorf("taken at %v", s.TakenAt)
	}
	if len(*slept) != 1 || (*slept)[0] != 60*time.Millisecond {
		t.Errorf("settle waits %v", *slept)
	}
	if got := fake.Registers[ina219.RegConfig]; got != PowerDownConfig {
		t.Fatalf("chip left in %#x after measure", got)
	}
}

func TestMeasureRejectsFloatingBus(t *testing.T) {
	fake, d, _ := newFake(t, regsFor(400, 0, 0))
	if err := d.Probe(); err != nil {
		t.Fatal(err)
	}
	_, err := d.Measure()
	if !errcode.Is(err, errcode.InvalidSample) {
		t.Fatalf("err=%v, want invalid_sample", err)
	}
	if !d.Present() {
		t.Fatal("an implausible reading must not mark the chip absent")
	}
	if got := fake.Registers[ina219.RegConfig]; got != PowerDownConfig {
		t.Fatalf("chip left in %#x", got)
	}
}

func TestBusFailureMarksAbsentUntilReprobe(t *testing.T) {
	fake, d, _ := newFake(t, regsFor(12500, 150, 1874))
	if err := d.Probe(); err != nil {
		t.Fatal(err)
	}

	fake.Err = errors.New("nack")
	if _, err := d.Measure(); !errcode.Is(err, errcode.PeripheralUnavailable) {
		t.Fatalf("err=%v", err)
	}
	if d.Present() {
		t.Fatal("expected absent after bus failure")
	}
	if err := d.Activate(); !errcode.Is(err, errcode.PeripheralUnavailable) {
		t.Fatalf("activate on absent chip: %v", err)
	}

	fake.Err = nil
	if err := d.Probe(); err != nil {
		t.Fatalf("reprobe: %v", err)
	}
	if _, err := d.Measure(); err != nil {
		t.Fatalf("measure after reprobe: %v", err)
	}
}

func TestProbeFailure(t *testing.T) {
	fake, d, _ := newFake(t, regsFor(12500, 150, 1874))
	fake.Err = errors.New("nack")
	if err := d.Probe(); !errcode.Is(err, errcode.PeripheralUnavailable) {
		t.Fatalf("err=%v", err)
	}
	if d.Present() {
		t.Fatal("present after failed probe")
	}
}
