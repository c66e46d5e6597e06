package lpc

import (
	"fmt"
	"sync"
)

const (
	mockVRef       = 3.3
	mockBatteryDiv = 6.772
	mockEMFDiv     = 18.0
	mockAmbient    = 20.0
)

// Mock simulates the instrument board for tests and bench-less runs.
type Mock struct {
	mu     sync.Mutex
	closed bool

	analog [NumAnalog]uint16
	temps  [NumSensors]float64
	flow   uint16
	lines  [NumLines]bool
	duty   [2]int

	// DutyLog records every SetPump call in order.
	DutyLog []PumpWrite
	// ReadError, if set, is returned by every read.
	ReadError error
	// HeaterRate is the laser warming per temperature read with heater1 on.
	HeaterRate float64
}

// PumpWrite is one recorded SetPump call.
type PumpWrite struct {
	Pump int
	Duty int
}

// NewMock creates a board idling at nominal flight values.
func NewMock() *Mock {
	m := &Mock{HeaterRate: 0.5}
	m.analog[IPump1] = 41
	m.analog[IPump2] = 41
	m.analog[IHeater1] = 0
	m.analog[IDetector] = 42
	m.analog[VDetector] = 2484
	m.analog[VPHA] = 2047
	m.analog[VTeensy] = 2047
	m.analog[VBattery] = 2748
	m.temps[TempPump1] = 25
	m.temps[TempPump2] = 25
	m.temps[TempLaser] = mockAmbient
	m.temps[TempInlet] = 15
	m.flow = 1885
	return m
}

// SetAnalog overrides the raw count of ch.
func (m *Mock) SetAnalog(ch Analog, v uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analog[ch] = v
}

// SetTemp overrides the temperature of s.
func (m *Mock) SetTemp(s Sensor, c float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.temps[s] = c
}

// SetFlow overrides the raw flow count.
func (m *Mock) SetFlow(v uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flow = v
}

// ReadAnalog returns the count of ch. Back-EMF channels follow the pump duty.
func (m *Mock) ReadAnalog(ch Analog) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(); err != nil {
		return 0, err
	}
	if ch < 0 || ch >= NumAnalog {
		return 0, fmt.Errorf("lpc: read %v: no such channel", ch)
	}
	if ch == EMFPump1 || ch == EMFPump2 {
		return m.emf(int(ch - EMFPump1)), nil
	}
	return m.analog[ch], nil
}

// emf models a pump whose back-EMF rises linearly with duty. A pump driven
// at 0 still spins down slowly, so the last non-zero duty is used.
func (m *Mock) emf(pump int) uint16 {
	vbat := float64(m.analog[VBattery]) / ADCMax * mockVRef * mockBatteryDiv
	duty := m.lastDuty(pump)
	emf := float64(duty) / 255 * vbat
	emf = min(max(emf, 0), vbat)
	count := (vbat - emf) / mockEMFDiv * ADCMax
	return uint16(min(max(count, 0), ADCMax))
}

func (m *Mock) lastDuty(pump int) int {
	for i := len(m.DutyLog) - 1; i >= 0; i-- {
		if w := m.DutyLog[i]; w.Pump == pump && w.Duty != 0 {
			return w.Duty
		}
	}
	return 0
}

// ReadTemp returns the temperature of s. The laser warms while heater1 is on
// and relaxes towards ambient otherwise.
func (m *Mock) ReadTemp(s Sensor) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(); err != nil {
		return 0, err
	}
	if s < 0 || s >= NumSensors {
		return 0, fmt.Errorf("lpc: read sensor %d: no such sensor", int(s))
	}
	if s == TempLaser {
		if m.lines[Heater1] {
			m.temps[s] += m.HeaterRate
		} else if m.temps[s] > mockAmbient {
			m.temps[s] = max(m.temps[s]-m.HeaterRate/2, mockAmbient)
		}
	}
	return m.temps[s], nil
}

// ReadFlow returns the raw flow count.
func (m *Mock) ReadFlow() (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(); err != nil {
		return 0, err
	}
	if !m.lines[MFSPower] {
		return 0, fmt.Errorf("lpc: flow sensor unpowered")
	}
	return m.flow, nil
}

// SetLine drives a digital output.
func (m *Mock) SetLine(l Line, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrNotConnected
	}
	if l < 0 || l >= NumLines {
		return fmt.Errorf("lpc: set %v: no such line", l)
	}
	m.lines[l] = on
	return nil
}

// SetPump records the duty of pump.
func (m *Mock) SetPump(pump int, duty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrNotConnected
	}
	if pump < 0 || pump > 1 {
		return fmt.Errorf("lpc: set pump %d: no such pump", pump)
	}
	m.duty[pump] = duty
	m.DutyLog = append(m.DutyLog, PumpWrite{Pump: pump, Duty: duty})
	return nil
}

// Line reports the state of a digital output.
func (m *Mock) Line(l Line) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lines[l]
}

// Duty returns the last duty applied to pump.
func (m *Mock) Duty(pump int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duty[pump]
}

// Close marks the board closed. Further use returns ErrNotConnected.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Mock) check() error {
	if m.closed {
		return ErrNotConnected
	}
	return m.ReadError
}
