//go:build linux

package lpc

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// gpioOutputs drives the bench lines through the GPIO character device.
type gpioOutputs struct {
	chip  *gpiocdev.Chip
	lines [NumLines]*gpiocdev.Line
}

func openOutputs(chipName string, offsets map[string]int) (outputs, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	g := &gpioOutputs{chip: chip}
	for l := Line(0); l < NumLines; l++ {
		offset, ok := offsets[l.String()]
		if !ok {
			continue
		}
		line, err := chip.RequestLine(offset, gpiocdev.AsOutput(0))
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("request %v pin %d: %w", l, offset, err)
		}
		g.lines[l] = line
	}
	return g, nil
}

func (g *gpioOutputs) Set(l Line, on bool) error {
	if l < 0 || l >= NumLines {
		return fmt.Errorf("lpc: set %v: no such line", l)
	}
	line := g.lines[l]
	if line == nil {
		return fmt.Errorf("lpc: set %v: line not configured", l)
	}
	v := 0
	if on {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("set %v: %w", l, err)
	}
	return nil
}

func (g *gpioOutputs) Close() error {
	for i, line := range g.lines {
		if line != nil {
			line.Close()
			g.lines[i] = nil
		}
	}
	return g.chip.Close()
}
