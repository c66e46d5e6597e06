package pump

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/itohio/stratolpc/pkg/clock"
	"github.com/itohio/stratolpc/pkg/config"
	"github.com/itohio/stratolpc/pkg/lpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type write struct {
	pump, duty int
}

type fakeDrive struct {
	emf     [2]uint16
	writes  []write
	reads   int
	readErr error
	// setErr fails every non-zero duty write.
	setErr error
}

func (f *fakeDrive) SetPump(pump int, duty int) error {
	f.writes = append(f.writes, write{pump, duty})
	if duty != 0 {
		return f.setErr
	}
	return nil
}

func (f *fakeDrive) ReadAnalog(ch lpc.Analog) (uint16, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	f.reads++
	return f.emf[ch-lpc.EMFPump1], nil
}

func testConfig() config.PumpConfig {
	cfg := config.Default().Pumps
	cfg.Setpoints = []float64{8, 8}
	return cfg
}

func TestNextDuty(t *testing.T) {
	tests := []struct {
		name     string
		duty     int
		emf, sp  float32
		gain     float32
		expected int
	}{
		{"on setpoint", 128, 8, 8, 30, 128},
		{"too fast", 128, 10, 8, 30, 68},
		{"too slow", 128, 7.5, 8, 30, 143},
		{"unclamped high", 128, -8, 8, 30, 608},
		{"unclamped negative", 10, 20, 8, 30, -350},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NextDuty(tt.duty, tt.emf, tt.sp, tt.gain))
		})
	}
}

func TestRegulator_AdjustSequence(t *testing.T) {
	drive := &fakeDrive{emf: [2]uint16{0, lpc.ADCMax}}
	clk := clock.NewMock(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	r := NewRegulator(drive, clk, testConfig())

	require.NoError(t, r.Adjust(10))

	// Off, corrected duty, per pump in order
	assert.Equal(t, []write{{0, 0}, {0, 68}, {1, 0}, {1, 608}}, drive.writes)
	assert.Equal(t, 64, drive.reads)
	assert.Equal(t, []time.Duration{
		500 * time.Microsecond,
		10 * time.Millisecond,
		500 * time.Microsecond,
	}, clk.Sleeps())

	s := r.State(0)
	assert.Equal(t, float32(10), s.BackEMF)
	assert.Equal(t, float32(2), s.Error)
	assert.Equal(t, 68, s.Duty)
	assert.Equal(t, float32(-8), r.State(1).BackEMF)
}

func TestRegulator_DutyPersists(t *testing.T) {
	drive := &fakeDrive{emf: [2]uint16{0, 0}}
	clk := clock.NewMock(time.Now())
	r := NewRegulator(drive, clk, testConfig())

	require.NoError(t, r.Adjust(9))
	assert.Equal(t, 98, r.State(0).Duty)
	require.NoError(t, r.Adjust(9))
	assert.Equal(t, 68, r.State(0).Duty)
}

func TestRegulator_DisabledPumpSkipped(t *testing.T) {
	drive := &fakeDrive{emf: [2]uint16{0, 0}}
	clk := clock.NewMock(time.Now())
	r := NewRegulator(drive, clk, testConfig())

	require.NoError(t, r.Disable(0))
	require.NoError(t, r.Disable(0))
	require.NoError(t, r.Adjust(10))

	assert.Equal(t, []write{{0, 0}, {1, 0}, {1, 68}}, drive.writes)
	assert.Equal(t, 128, r.State(0).Duty)
	assert.True(t, r.State(0).Disabled)

	r.Enable()
	assert.False(t, r.State(0).Disabled)
	assert.Equal(t, 128, r.State(0).Duty)
}

func TestRegulator_ReadErrorRestoresDuty(t *testing.T) {
	Logf = func(string, ...interface{}) {}
	drive := &fakeDrive{readErr: errors.New("adc timeout")}
	clk := clock.NewMock(time.Now())
	r := NewRegulator(drive, clk, testConfig())

	err := r.Adjust(10)
	assert.ErrorIs(t, err, drive.readErr)
	assert.Equal(t, []write{{0, 0}, {0, 128}, {1, 0}, {1, 128}}, drive.writes)
	assert.Equal(t, 128, r.State(1).Duty)
}

func TestRegulator_InvalidBackEMFLogsRestoreError(t *testing.T) {
	var logs []string
	Logf = func(format string, args ...interface{}) {
		logs = append(logs, fmt.Sprintf(format, args...))
	}
	t.Cleanup(func() { Logf = func(string, ...interface{}) {} })

	drive := &fakeDrive{emf: [2]uint16{100, 100}, setErr: errors.New("bus busy")}
	r := NewRegulator(drive, clock.NewMock(time.Now()), testConfig())

	err := r.Adjust(float32(math.Inf(1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid back-EMF")
	assert.Equal(t, 128, r.State(0).Duty)
	assert.Contains(t, logs, "pump: restore pump 1: bus busy")
	assert.Contains(t, logs, "pump: restore pump 2: bus busy")
}

func TestRegulator_StartStop(t *testing.T) {
	drive := &fakeDrive{}
	clk := clock.NewMock(time.Now())
	r := NewRegulator(drive, clk, testConfig())

	require.NoError(t, r.Start())
	assert.Equal(t, []write{{0, 128}, {1, 128}}, drive.writes)
	assert.Equal(t, []time.Duration{200 * time.Millisecond}, clk.Sleeps())

	drive.writes = nil
	require.NoError(t, r.Stop())
	assert.Equal(t, []write{{0, 0}, {1, 0}}, drive.writes)
	assert.Equal(t, 128, r.State(0).Duty)
}
