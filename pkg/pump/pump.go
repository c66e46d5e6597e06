// Package pump regulates the sample pumps on their back-EMF.
package pump

import (
	"fmt"
	"log"

	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/stat"

	"github.com/itohio/stratolpc/pkg/clock"
	"github.com/itohio/stratolpc/pkg/config"
	"github.com/itohio/stratolpc/pkg/lpc"
)

// Logf is the package logger. Tests may replace it.
var Logf = log.Printf

// Drive is the board access the regulator needs.
type Drive interface {
	SetPump(pump int, duty int) error
	ReadAnalog(ch lpc.Analog) (uint16, error)
}

// State is the control state of one pump. Duty persists between adjustments.
type State struct {
	BackEMF  float32 // V
	Setpoint float32 // V
	Error    float32 // V
	Gain     float32
	Duty     int
	Disabled bool
}

// NextDuty applies one proportional correction. The result is not clamped.
func NextDuty(duty int, emf, setpoint, gain float32) int {
	return int(math32.Trunc(float32(duty) - (emf-setpoint)*gain))
}

// Regulator holds the duty of both pumps and corrects it on every Adjust.
type Regulator struct {
	drive   Drive
	clk     clock.Clock
	cfg     config.PumpConfig
	pumps   [config.NumPumps]State
	samples []float64
}

// NewRegulator creates a regulator at the configured initial duty.
func NewRegulator(drive Drive, clk clock.Clock, cfg config.PumpConfig) *Regulator {
	r := &Regulator{
		drive:   drive,
		clk:     clk,
		cfg:     cfg,
		samples: make([]float64, 0, cfg.Samples),
	}
	r.Reset()
	return r
}

// Reset re-enables both pumps at the initial duty without driving them.
func (r *Regulator) Reset() {
	for i := range r.pumps {
		sp := float32(0)
		if i < len(r.cfg.Setpoints) {
			sp = float32(r.cfg.Setpoints[i])
		}
		r.pumps[i] = State{
			Setpoint: sp,
			Gain:     float32(r.cfg.Gain),
			Duty:     r.cfg.InitialDuty,
		}
	}
}

// State returns the state of pump.
func (r *Regulator) State(pump int) State {
	return r.pumps[pump]
}

// Start drives the enabled pumps at their current duty, one after another.
func (r *Regulator) Start() error {
	for i := range r.pumps {
		if r.pumps[i].Disabled {
			continue
		}
		if i > 0 && r.cfg.StartGap > 0 {
			r.clk.Sleep(r.cfg.StartGap)
		}
		if err := r.drive.SetPump(i, r.pumps[i].Duty); err != nil {
			return fmt.Errorf("start pump %d: %w", i+1, err)
		}
	}
	return nil
}

// Stop drives both pumps to 0. Duty is kept for the next Start.
func (r *Regulator) Stop() error {
	var firstErr error
	for i := range r.pumps {
		if err := r.drive.SetPump(i, 0); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop pump %d: %w", i+1, err)
		}
	}
	return firstErr
}

// Enable readmits every disabled pump to regulation. Duties are kept.
func (r *Regulator) Enable() {
	for i := range r.pumps {
		r.pumps[i].Disabled = false
	}
}

// Disable cuts pump and excludes it from regulation until Enable or Reset.
func (r *Regulator) Disable(pump int) error {
	if r.pumps[pump].Disabled {
		return nil
	}
	r.pumps[pump].Disabled = true
	if err := r.drive.SetPump(pump, 0); err != nil {
		return fmt.Errorf("disable pump %d: %w", pump+1, err)
	}
	return nil
}

// Adjust runs one correction on every enabled pump. Each pump is switched
// off, allowed to settle, its back-EMF averaged and the corrected duty
// applied. vbat is the battery voltage the EMF is measured against.
func (r *Regulator) Adjust(vbat float32) error {
	var firstErr error
	first := true
	for i := range r.pumps {
		if r.pumps[i].Disabled {
			continue
		}
		if !first && r.cfg.InterPump > 0 {
			r.clk.Sleep(r.cfg.InterPump)
		}
		first = false

		if err := r.adjust(i, vbat); err != nil {
			Logf("pump: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Regulator) adjust(i int, vbat float32) error {
	p := &r.pumps[i]

	if err := r.drive.SetPump(i, 0); err != nil {
		return fmt.Errorf("pump %d off: %w", i+1, err)
	}
	if r.cfg.Settle > 0 {
		r.clk.Sleep(r.cfg.Settle)
	}

	mean, err := r.sense(i)
	if err != nil {
		// Leave the pump running at its previous duty.
		if serr := r.drive.SetPump(i, p.Duty); serr != nil {
			Logf("pump: restore pump %d: %v", i+1, serr)
		}
		return err
	}

	emf := vbat - mean/lpc.ADCMax*float32(r.cfg.Divider)
	if math32.IsNaN(emf) || math32.IsInf(emf, 0) {
		if serr := r.drive.SetPump(i, p.Duty); serr != nil {
			Logf("pump: restore pump %d: %v", i+1, serr)
		}
		return fmt.Errorf("pump %d: invalid back-EMF %v", i+1, emf)
	}

	p.BackEMF = emf
	p.Error = emf - p.Setpoint
	p.Duty = NextDuty(p.Duty, emf, p.Setpoint, p.Gain)

	if err := r.drive.SetPump(i, p.Duty); err != nil {
		return fmt.Errorf("pump %d duty %d: %w", i+1, p.Duty, err)
	}
	return nil
}

// sense averages the back-EMF channel of pump.
func (r *Regulator) sense(pump int) (float32, error) {
	n := max(r.cfg.Samples, 1)
	r.samples = r.samples[:0]
	for k := 0; k < n; k++ {
		v, err := r.drive.ReadAnalog(lpc.EMF(pump))
		if err != nil {
			return 0, fmt.Errorf("pump %d back-EMF: %w", pump+1, err)
		}
		r.samples = append(r.samples, float64(v))
	}
	return float32(stat.Mean(r.samples, nil)), nil
}
