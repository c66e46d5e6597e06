// Package sonde samples the RS41 radiosonde sensor module and relays its
// readings as TM records and CSV logs.
package sonde

import (
	"fmt"
	"log"
	"math"
	"strconv"
	"time"

	"github.com/itohio/stratolpc/pkg/clock"
	"github.com/itohio/stratolpc/pkg/storage"
	"github.com/itohio/stratolpc/pkg/telemetry"
)

// Logf is the package logger. Tests may replace it.
var Logf = log.Printf

// DefaultReportSamples is the number of samples per TM record and CSV file.
const DefaultReportSamples = 300

// Header is the CSV header row.
var Header = []string{
	"Time", "valid", "frame_count", "air_temp_degC", "humdity_percent",
	"hsensor_temp_degC", "pres_mb", "internal_temp_degC", "module_status",
	"module_error", "pcb_supply_V", "lsm303_temp_degC", "pcb_heater_on",
	"mag_hdgXY_deg", "mag_hdgXZ_deg", "mag_hdgYZ_deg",
	"accelX_mG", "accelY_mG", "accelZ_mG",
}

// Data is one decoded RS41 measurement.
type Data struct {
	Valid        bool
	Frame        uint32
	AirTemp      float64 // °C
	Humidity     float64 // %
	HSensorTemp  float64 // °C
	Pressure     float64 // mb
	InternalTemp float64 // °C
	Status       uint16
	Error        uint16
	PCBSupply    float64 // V
	LSM303Temp   float64 // °C
	HeaterOn     bool
	MagXY        float64 // deg
	MagXZ        float64
	MagYZ        float64
	AccelX       float64 // mG
	AccelY       float64
	AccelZ       float64
}

// Sonde reads the sensor module.
type Sonde interface {
	Read() (Data, error)
}

// Sample is the compressed TM form of a measurement.
type Sample struct {
	Valid    uint8
	Frame    uint32
	TDry     uint16 // (°C + 100) x100
	Humidity uint16 // % x100
	Pres     uint16 // mb x50
	Error    uint16
}

// Compress converts d to its TM form.
func Compress(d Data) Sample {
	s := Sample{
		Frame:    d.Frame,
		TDry:     toUint16((d.AirTemp + 100) * 100),
		Humidity: toUint16(d.Humidity * 100),
		Pres:     toUint16(d.Pressure * 50),
		Error:    d.Error,
	}
	if d.Valid {
		s.Valid = 1
	}
	return s
}

// Row formats d as a CSV row stamped with now.
func Row(now time.Time, d Data) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
	b := func(v bool) string {
		if v {
			return "1"
		}
		return "0"
	}
	return []string{
		storage.TimeString(now),
		b(d.Valid),
		strconv.FormatUint(uint64(d.Frame), 10),
		f(d.AirTemp),
		f(d.Humidity),
		f(d.HSensorTemp),
		f(d.Pressure),
		f(d.InternalTemp),
		strconv.Itoa(int(d.Status)),
		strconv.Itoa(int(d.Error)),
		f(d.PCBSupply),
		f(d.LSM303Temp),
		b(d.HeaterOn),
		f(d.MagXY),
		f(d.MagXZ),
		f(d.MagYZ),
		f(d.AccelX),
		f(d.AccelY),
		f(d.AccelZ),
	}
}

// Sampler collects one sample per Step and sends a TM record once enough
// have accumulated.
type Sampler struct {
	sonde   Sonde
	tx      telemetry.Transport
	csv     *storage.CSVLog
	clk     clock.Clock
	report  int
	samples []Sample
	start   time.Time
}

// NewSampler creates a sampler. csv may be nil to disable local storage.
func NewSampler(sonde Sonde, tx telemetry.Transport, csv *storage.CSVLog, clk clock.Clock, report int) *Sampler {
	if report <= 0 {
		report = DefaultReportSamples
	}
	return &Sampler{
		sonde:   sonde,
		tx:      tx,
		csv:     csv,
		clk:     clk,
		report:  report,
		samples: make([]Sample, 0, report),
	}
}

// Pending returns the number of samples waiting for the next record.
func (s *Sampler) Pending() int {
	return len(s.samples)
}

// Step takes one measurement. The CSV row is only written when timeValid,
// since file names and rows are stamped with the time base.
func (s *Sampler) Step(timeValid bool) error {
	now := s.clk.Now()
	if len(s.samples) == 0 && s.start.IsZero() {
		s.start = now
	}

	d, err := s.sonde.Read()
	if err != nil {
		return fmt.Errorf("sonde: read: %w", err)
	}
	s.samples = append(s.samples, Compress(d))

	var sendErr error
	if len(s.samples) >= s.report {
		sendErr = s.send()
		Logf("sonde: transmit %d RS41 samples", len(s.samples))
		s.samples = s.samples[:0]
		s.start = now
	}

	if timeValid && s.csv != nil {
		if err := s.csv.Write(now, Row(now, d)); err != nil {
			Logf("sonde: %v", err)
		}
	}
	return sendErr
}

// Discard drops collected samples and the open CSV file.
func (s *Sampler) Discard() {
	s.samples = s.samples[:0]
	s.start = time.Time{}
	if s.csv != nil {
		s.csv.Reset()
	}
}

func (s *Sampler) send() error {
	errFree, allValid := true, true
	for _, smp := range s.samples {
		errFree = errFree && smp.Error == 0
		allValid = allValid && smp.Valid != 0
	}

	if errFree {
		s.tx.SetHealthFlag(1, telemetry.Fine)
		s.tx.SetHealthDetail(1, "")
	} else {
		s.tx.SetHealthFlag(1, telemetry.Warn)
		s.tx.SetHealthDetail(1, "RS41 error flag")
	}
	if allValid {
		s.tx.SetHealthFlag(2, telemetry.Fine)
	} else {
		s.tx.SetHealthFlag(2, telemetry.Warn)
	}
	// Decoders tell sonde records from LPC records by this detail.
	s.tx.SetHealthDetail(2, "RS41")

	s.tx.AppendUint32(uint32(s.start.Unix()))
	s.tx.AppendUint16(uint16(len(s.samples)))
	for _, smp := range s.samples {
		s.tx.AppendUint8(smp.Valid)
		s.tx.AppendUint32(smp.Frame)
		s.tx.AppendUint16(smp.TDry)
		s.tx.AppendUint16(smp.Humidity)
		s.tx.AppendUint16(smp.Pres)
		s.tx.AppendUint16(smp.Error)
	}
	return s.tx.Send()
}

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
