package lpc

import (
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/itohio/stratolpc/pkg/config"
)

// DefaultReadTimeout bounds a single read so frame polling can check its
// deadline between reads.
const DefaultReadTimeout = 10 * time.Millisecond

// Port describes an available serial port.
type Port struct {
	Name        string
	Description string
}

// Ports returns the serial ports present on the system.
func Ports() ([]Port, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(names))
	for _, name := range names {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// OpenPHA opens the PHA serial link. The returned port satisfies pha.Port.
func OpenPHA(cfg config.PHAConfig) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
	}

	if err := port.SetReadTimeout(DefaultReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", cfg.Port, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		Logf("lpc: reset input buffer on %s: %v", cfg.Port, err)
	}

	return port, nil
}
