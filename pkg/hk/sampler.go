// Package hk samples and calibrates the instrument housekeeping channels.
package hk

import (
	"fmt"
	"log"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/itohio/stratolpc/pkg/clock"
	"github.com/itohio/stratolpc/pkg/config"
	"github.com/itohio/stratolpc/pkg/lpc"
)

// WindowSamples is the number of reads spread over the averaging window.
const WindowSamples = 32

// Logf is the package logger. Tests may replace it.
var Logf = log.Printf

// Inputs are the board reads the sampler needs.
type Inputs interface {
	ReadAnalog(ch lpc.Analog) (uint16, error)
	ReadTemp(s lpc.Sensor) (float64, error)
	ReadFlow() (uint16, error)
}

// Readings are the most recent housekeeping values in physical units.
type Readings struct {
	IPump1    float64 // mA
	IPump2    float64 // mA
	IHeater1  float64 // mA
	IDetector float64 // mA
	VDetector float64 // V
	VPHA      float64 // V
	VTeensy   float64 // V
	VBattery  float64 // V
	Flow      float64 // L/min
	TPump1    float64 // °C
	TPump2    float64 // °C
	TLaser    float64 // °C
	TInlet    float64 // °C
}

// PumpTemp returns the temperature of pump 0 or 1.
func (r Readings) PumpTemp(pump int) float64 {
	if pump == 0 {
		return r.TPump1
	}
	return r.TPump2
}

// OverTemp reports which pumps are above limit (°C).
func (r Readings) OverTemp(limit float64) [config.NumPumps]bool {
	return [config.NumPumps]bool{r.TPump1 > limit, r.TPump2 > limit}
}

// Row encodes r for telemetry.
func (r Readings) Row(elapsed time.Duration) Row {
	var row Row
	row[ChElapsed] = toUint16(elapsed.Seconds())
	row[ChIPump1] = toUint16(r.IPump1)
	row[ChIPump2] = toUint16(r.IPump2)
	row[ChIHeater1] = toUint16(r.IHeater1)
	row[ChIDetector] = toUint16(r.IDetector)
	row[ChVDetector] = toUint16(r.VDetector * 1000)
	row[ChVPHA] = toUint16(r.VPHA * 1000)
	row[ChVTeensy] = toUint16(r.VTeensy * 1000)
	row[ChVBattery] = toUint16(r.VBattery * 1000)
	row[ChFlow] = toUint16(r.Flow * 1000)
	row[ChTPump1] = kelvin100(r.TPump1)
	row[ChTPump2] = kelvin100(r.TPump2)
	row[ChTLaser] = kelvin100(r.TLaser)
	row[ChTInlet] = kelvin100(r.TInlet)
	return row
}

// Sampler reads the board, calibrates the values and fills a Record.
type Sampler struct {
	in     Inputs
	clk    clock.Clock
	cfg    config.HousekeepingConfig
	rec    *Record
	latest Readings

	window [3][]float64
}

// NewSampler creates a sampler writing into rec.
func NewSampler(in Inputs, clk clock.Clock, cfg config.HousekeepingConfig, rec *Record) *Sampler {
	s := &Sampler{in: in, clk: clk, cfg: cfg, rec: rec}
	for i := range s.window {
		s.window[i] = make([]float64, 0, WindowSamples)
	}
	return s
}

// Latest returns the values of the last successful read.
func (s *Sampler) Latest() Readings {
	return s.latest
}

// Record returns the record the sampler fills.
func (s *Sampler) Record() *Record {
	return s.rec
}

// Sample reads every channel and writes the row for slot.
func (s *Sampler) Sample(slot int, elapsed time.Duration) (Readings, error) {
	if slot < 0 || slot >= s.rec.Cap() {
		return s.latest, fmt.Errorf("slot %d of %d: %w", slot, s.rec.Cap(), ErrRecordFull)
	}
	r, err := s.Read()
	if err != nil {
		return r, err
	}
	return r, s.rec.Set(slot, r.Row(elapsed))
}

// Read takes a full set of readings without recording them.
func (s *Sampler) Read() (Readings, error) {
	var r Readings

	if err := s.averageCurrents(&r); err != nil {
		return s.latest, err
	}

	analog := []struct {
		ch  lpc.Analog
		dst *float64
		cal func(uint16) float64
	}{
		{lpc.IHeater1, &r.IHeater1, s.current},
		{lpc.VDetector, &r.VDetector, s.voltage(s.cfg.DetectorVoltageDiv)},
		{lpc.VPHA, &r.VPHA, s.voltage(s.cfg.PHAVoltageDiv)},
		{lpc.VTeensy, &r.VTeensy, s.voltage(s.cfg.TeensyVoltageDiv)},
		{lpc.VBattery, &r.VBattery, s.voltage(s.cfg.BatteryVoltageDiv)},
	}
	for _, a := range analog {
		v, err := s.in.ReadAnalog(a.ch)
		if err != nil {
			return s.latest, fmt.Errorf("hk: read %v: %w", a.ch, err)
		}
		*a.dst = a.cal(v)
	}

	raw, err := s.in.ReadFlow()
	if err != nil {
		Logf("hk: flow sensor: %v, using %.3f L/min", err, s.cfg.DefaultFlow)
		r.Flow = s.cfg.DefaultFlow
	} else {
		r.Flow = flow(raw, s.cfg.FlowScale)
	}

	temps := []struct {
		s   lpc.Sensor
		dst *float64
	}{
		{lpc.TempPump1, &r.TPump1},
		{lpc.TempPump2, &r.TPump2},
		{lpc.TempLaser, &r.TLaser},
		{lpc.TempInlet, &r.TInlet},
	}
	for _, t := range temps {
		v, err := s.in.ReadTemp(t.s)
		if err != nil {
			return s.latest, fmt.Errorf("hk: read temperature %d: %w", int(t.s), err)
		}
		*t.dst = v
	}

	s.latest = r
	return r, nil
}

// averageCurrents averages the pump and detector currents over the window so
// the PWM ripple of the pump drive cancels out.
func (s *Sampler) averageCurrents(r *Readings) error {
	chans := [3]lpc.Analog{lpc.IPump1, lpc.IPump2, lpc.IDetector}
	for i := range s.window {
		s.window[i] = s.window[i][:0]
	}

	step := s.cfg.AverageWindow / WindowSamples
	for n := 0; n < WindowSamples; n++ {
		for i, ch := range chans {
			v, err := s.in.ReadAnalog(ch)
			if err != nil {
				return fmt.Errorf("hk: read %v: %w", ch, err)
			}
			s.window[i] = append(s.window[i], float64(v))
		}
		if step > 0 {
			s.clk.Sleep(step)
		}
	}

	r.IPump1 = stat.Mean(s.window[0], nil) / lpc.ADCMax * s.cfg.PumpCurrentScale
	r.IPump2 = stat.Mean(s.window[1], nil) / lpc.ADCMax * s.cfg.PumpCurrentScale
	r.IDetector = stat.Mean(s.window[2], nil) / s.cfg.CurrentDivisor
	return nil
}
