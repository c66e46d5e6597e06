package lpc

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/goburrow/modbus"

	"github.com/itohio/stratolpc/pkg/config"
)

// MaxDuty is the largest PWM value the bench analog module accepts.
const MaxDuty = 255

// registerClient is the subset of modbus.Client used by Bench.
type registerClient interface {
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
}

// outputs drives the digital lines.
type outputs interface {
	Set(l Line, on bool) error
	Close() error
}

// Bench is the bench rig: digital lines on a GPIO chip and analog I/O on a
// Modbus RTU module.
type Bench struct {
	mu      sync.Mutex
	cfg     config.BenchConfig
	handler *modbus.RTUClientHandler
	regs    registerClient
	out     outputs
}

// NewBench opens the GPIO lines and connects to the analog module.
func NewBench(cfg config.BenchConfig) (*Bench, error) {
	out, err := openOutputs(cfg.Chip, cfg.Lines)
	if err != nil {
		return nil, err
	}

	h := modbus.NewRTUClientHandler(cfg.ModbusPort)
	h.BaudRate = cfg.ModbusBaud
	h.DataBits = 8
	h.Parity = "N"
	h.StopBits = 1
	h.SlaveId = cfg.SlaveID
	h.Timeout = cfg.Timeout

	if err := h.Connect(); err != nil {
		out.Close()
		return nil, fmt.Errorf("connect modbus %s: %w", cfg.ModbusPort, err)
	}

	b := newBench(cfg, modbus.NewClient(h), out)
	b.handler = h
	return b, nil
}

func newBench(cfg config.BenchConfig, regs registerClient, out outputs) *Bench {
	return &Bench{cfg: cfg, regs: regs, out: out}
}

func (b *Bench) readRegister(addr uint16) (uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.regs.ReadInputRegisters(addr, 1)
	if err != nil {
		return 0, fmt.Errorf("read input register %d: %w", addr, err)
	}
	if len(data) < 2 {
		return 0, fmt.Errorf("read input register %d: short response (%d bytes)", addr, len(data))
	}
	return binary.BigEndian.Uint16(data), nil
}

// ReadAnalog reads the input register of ch.
func (b *Bench) ReadAnalog(ch Analog) (uint16, error) {
	if ch < 0 || ch >= NumAnalog {
		return 0, fmt.Errorf("lpc: read %v: no such channel", ch)
	}
	return b.readRegister(b.cfg.AnalogBase + uint16(ch))
}

// ReadTemp reads an RTD register holding signed °C x100.
func (b *Bench) ReadTemp(s Sensor) (float64, error) {
	if s < 0 || s >= NumSensors {
		return 0, fmt.Errorf("lpc: read sensor %d: no such sensor", int(s))
	}
	v, err := b.readRegister(b.cfg.TempBase + uint16(s))
	if err != nil {
		return 0, err
	}
	return float64(int16(v)) / 100, nil
}

// ReadFlow reads the raw mass-flow count.
func (b *Bench) ReadFlow() (uint16, error) {
	return b.readRegister(b.cfg.FlowReg)
}

// SetLine drives a GPIO output.
func (b *Bench) SetLine(l Line, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.out.Set(l, on)
}

// SetPump writes the PWM holding register of pump, truncating duty to
// [0, MaxDuty].
func (b *Bench) SetPump(pump int, duty int) error {
	if pump < 0 || pump > 1 {
		return fmt.Errorf("lpc: set pump %d: no such pump", pump)
	}
	duty = min(max(duty, 0), MaxDuty)

	b.mu.Lock()
	defer b.mu.Unlock()

	addr := b.cfg.PWMBase + uint16(pump)
	if _, err := b.regs.WriteSingleRegister(addr, uint16(duty)); err != nil {
		return fmt.Errorf("write pwm register %d: %w", addr, err)
	}
	return nil
}

// Close releases the lines and the Modbus link.
func (b *Bench) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	if err := b.out.Close(); err != nil {
		firstErr = err
	}
	if b.handler != nil {
		if err := b.handler.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
