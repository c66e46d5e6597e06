package sonde

import (
	"math"
	"sync"
)

// Mock is a simulated RS41 on a slowly ascending balloon.
type Mock struct {
	mu    sync.Mutex
	frame uint32

	// Err, if set, is returned by Read.
	Err error
	// ModuleError is reported in every sample.
	ModuleError uint16
}

// Read returns the next simulated measurement.
func (m *Mock) Read() (Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return Data{}, m.Err
	}
	m.frame++
	t := float64(m.frame)
	return Data{
		Valid:        true,
		Frame:        m.frame,
		AirTemp:      15 - t*0.01,
		Humidity:     40 + 5*math.Sin(t/60),
		HSensorTemp:  16 - t*0.01,
		Pressure:     1013.25 * math.Exp(-t/6000),
		InternalTemp: 25,
		Error:        m.ModuleError,
		PCBSupply:    3.3,
		LSM303Temp:   24,
		MagXY:        math.Mod(t, 360),
		AccelZ:       -1000,
	}, nil
}
