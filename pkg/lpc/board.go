// Package lpc binds the measurement engine to instrument hardware.
package lpc

import (
	"errors"
	"fmt"
	"log"
)

// Logf is the package logger. Tests may replace it.
var Logf = log.Printf

// ErrNotConnected is returned by boards used before Connect or after Close.
var ErrNotConnected = errors.New("lpc: not connected")

// ADCMax is the full-scale count of the analog inputs.
const ADCMax = 4095

// Analog is an analog input channel.
type Analog int

const (
	IPump1 Analog = iota
	IPump2
	IHeater1
	IDetector
	VDetector
	VPHA
	VTeensy
	VBattery
	EMFPump1
	EMFPump2
	NumAnalog
)

var analogNames = [NumAnalog]string{
	"i_pump1", "i_pump2", "i_heater1", "i_detector",
	"v_detector", "v_pha", "v_teensy", "v_battery",
	"emf_pump1", "emf_pump2",
}

func (a Analog) String() string {
	if a < 0 || a >= NumAnalog {
		return fmt.Sprintf("analog(%d)", int(a))
	}
	return analogNames[a]
}

// Sensor is a temperature sensor.
type Sensor int

const (
	TempPump1 Sensor = iota
	TempPump2
	TempLaser
	TempInlet
	NumSensors
)

// Line is a digital output.
type Line int

const (
	PHAPower Line = iota
	MFSPower
	Heater1
	Heater2
	NumLines
)

var lineNames = [NumLines]string{"pha_power", "mfs_power", "heater1", "heater2"}

func (l Line) String() string {
	if l < 0 || l >= NumLines {
		return fmt.Sprintf("line(%d)", int(l))
	}
	return lineNames[l]
}

// EMF returns the back-EMF sense channel of pump 0 or 1.
func EMF(pump int) Analog {
	return EMFPump1 + Analog(pump)
}

// Board is the instrument hardware as seen by the engine.
type Board interface {
	// ReadAnalog returns the raw 12-bit count of ch.
	ReadAnalog(ch Analog) (uint16, error)
	// ReadTemp returns the temperature of s in °C.
	ReadTemp(s Sensor) (float64, error)
	// ReadFlow returns the raw mass-flow sensor count.
	ReadFlow() (uint16, error)
	SetLine(l Line, on bool) error
	// SetPump applies a PWM duty to pump 0 or 1. Values outside the drive
	// range are truncated by the board.
	SetPump(pump int, duty int) error
	Close() error
}

var (
	_ Board = (*Mock)(nil)
	_ Board = (*Bench)(nil)
)
