package hk

import (
	"math"

	"github.com/itohio/stratolpc/pkg/lpc"
)

// flowCounts is the full-scale count of the mass-flow sensor.
const flowCounts = 16383

func (s *Sampler) current(adc uint16) float64 {
	return float64(adc) / s.cfg.CurrentDivisor
}

func (s *Sampler) voltage(div float64) func(uint16) float64 {
	return func(adc uint16) float64 {
		return adcToVoltage(adc, s.cfg.VRef) * div
	}
}

// adcToVoltage converts a 12-bit ADC reading to voltage.
func adcToVoltage(adc uint16, vref float64) float64 {
	return float64(adc) / lpc.ADCMax * vref
}

// flow converts a raw mass-flow count to L/min. The sensor reports 10% to
// 90% of full scale over 0 to 20 L/min of its calibration gas.
func flow(raw uint16, scale float64) float64 {
	return 20 * (float64(raw)/flowCounts - 0.1) / 0.8 * scale
}

// kelvin100 encodes a °C temperature as K x100.
func kelvin100(c float64) uint16 {
	return toUint16(math.Round((c + 273.15) * 100))
}

// toUint16 truncates v into the telemetry field range.
func toUint16(v float64) uint16 {
	switch {
	case math.IsNaN(v), v <= 0:
		return 0
	case v >= math.MaxUint16:
		return math.MaxUint16
	default:
		return uint16(v)
	}
}
