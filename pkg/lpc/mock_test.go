package lpc

import (
	"testing"

	"github.com/itohio/stratolpc/pkg/pha"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMock_LinesAndPumps(t *testing.T) {
	m := NewMock()

	require.NoError(t, m.SetLine(PHAPower, true))
	assert.True(t, m.Line(PHAPower))
	assert.False(t, m.Line(MFSPower))

	require.NoError(t, m.SetPump(0, 128))
	require.NoError(t, m.SetPump(1, 0))
	assert.Equal(t, 128, m.Duty(0))
	assert.Equal(t, []PumpWrite{{Pump: 0, Duty: 128}, {Pump: 1, Duty: 0}}, m.DutyLog)

	assert.Error(t, m.SetPump(2, 10))
	assert.Error(t, m.SetLine(NumLines, true))
}

func TestMock_BackEMFFollowsDuty(t *testing.T) {
	m := NewMock()

	idle, err := m.ReadAnalog(EMFPump1)
	require.NoError(t, err)

	require.NoError(t, m.SetPump(0, 200))
	// Drive off for sensing keeps the spinning pump's EMF
	require.NoError(t, m.SetPump(0, 0))
	running, err := m.ReadAnalog(EMFPump1)
	require.NoError(t, err)

	// Higher EMF means a smaller vbat - emf count
	assert.Less(t, running, idle)

	other, err := m.ReadAnalog(EMFPump2)
	require.NoError(t, err)
	assert.Equal(t, idle, other)
}

func TestMock_LaserHeater(t *testing.T) {
	m := NewMock()
	m.SetTemp(TempLaser, -40)

	require.NoError(t, m.SetLine(Heater1, true))
	first, err := m.ReadTemp(TempLaser)
	require.NoError(t, err)
	second, err := m.ReadTemp(TempLaser)
	require.NoError(t, err)
	assert.Greater(t, second, first)
}

func TestMock_FlowNeedsPower(t *testing.T) {
	m := NewMock()
	_, err := m.ReadFlow()
	assert.Error(t, err)

	require.NoError(t, m.SetLine(MFSPower, true))
	v, err := m.ReadFlow()
	require.NoError(t, err)
	assert.NotZero(t, v)
}

func TestMock_Closed(t *testing.T) {
	m := NewMock()
	require.NoError(t, m.Close())

	_, err := m.ReadAnalog(VBattery)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, m.SetLine(PHAPower, true), ErrNotConnected)
	assert.ErrorIs(t, m.SetPump(0, 1), ErrNotConnected)
}

func TestMockPHA_GatedByPower(t *testing.T) {
	m := NewMock()
	p := NewMockPHA(m, 1)

	buf := make([]byte, 64)
	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMockPHA_FramesParse(t *testing.T) {
	m := NewMock()
	require.NoError(t, m.SetLine(PHAPower, true))

	port := NewMockPHA(m, 7)
	r := pha.NewReader(port, nil, 0, 0)

	var f pha.Frame
	for i := 0; i < 3; i++ {
		status, line := r.Poll()
		require.Equal(t, pha.FrameReady, status)
		require.NoError(t, pha.Parser{}.Parse(line, &f))
		assert.Equal(t, int64(i+1)*1000, f.Timestamp)
		for ch := 0; ch < pha.Channels; ch++ {
			assert.GreaterOrEqual(t, f.HG[ch], 0)
			assert.GreaterOrEqual(t, f.LG[ch], 0)
		}
	}
}

func TestAnalogString(t *testing.T) {
	assert.Equal(t, "v_battery", VBattery.String())
	assert.Equal(t, "emf_pump2", EMF(1).String())
	assert.Equal(t, "heater1", Heater1.String())
}
