package lpc

import (
	"errors"
	"testing"

	"github.com/itohio/stratolpc/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegisters struct {
	input   map[uint16]uint16
	written map[uint16]uint16
	err     error
}

func (f *fakeRegisters) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	v := f.input[address]
	return []byte{byte(v >> 8), byte(v)}, nil
}

func (f *fakeRegisters) WriteSingleRegister(address, value uint16) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.written[address] = value
	return []byte{byte(value >> 8), byte(value)}, nil
}

type fakeOutputs struct {
	state  [NumLines]bool
	closed bool
}

func (f *fakeOutputs) Set(l Line, on bool) error {
	f.state[l] = on
	return nil
}

func (f *fakeOutputs) Close() error {
	f.closed = true
	return nil
}

func newTestBench() (*Bench, *fakeRegisters, *fakeOutputs) {
	cfg := config.Default().Bench
	regs := &fakeRegisters{input: map[uint16]uint16{}, written: map[uint16]uint16{}}
	out := &fakeOutputs{}
	return newBench(cfg, regs, out), regs, out
}

func TestBench_ReadAnalog(t *testing.T) {
	b, regs, _ := newTestBench()
	regs.input[uint16(VBattery)] = 2748

	v, err := b.ReadAnalog(VBattery)
	require.NoError(t, err)
	assert.Equal(t, uint16(2748), v)

	_, err = b.ReadAnalog(NumAnalog)
	assert.Error(t, err)
}

func TestBench_ReadTempSigned(t *testing.T) {
	b, regs, _ := newTestBench()
	neg := int16(-3050)
	regs.input[16+uint16(TempLaser)] = uint16(neg)
	regs.input[16+uint16(TempPump1)] = 2512

	laser, err := b.ReadTemp(TempLaser)
	require.NoError(t, err)
	assert.InDelta(t, -30.5, laser, 1e-9)

	pump, err := b.ReadTemp(TempPump1)
	require.NoError(t, err)
	assert.InDelta(t, 25.12, pump, 1e-9)
}

func TestBench_SetPumpTruncates(t *testing.T) {
	b, regs, _ := newTestBench()

	require.NoError(t, b.SetPump(0, 300))
	require.NoError(t, b.SetPump(1, -20))
	assert.Equal(t, uint16(MaxDuty), regs.written[0])
	assert.Equal(t, uint16(0), regs.written[1])

	assert.Error(t, b.SetPump(3, 1))
}

func TestBench_LinesAndClose(t *testing.T) {
	b, _, out := newTestBench()

	require.NoError(t, b.SetLine(MFSPower, true))
	assert.True(t, out.state[MFSPower])

	require.NoError(t, b.Close())
	assert.True(t, out.closed)
}

func TestBench_ReadError(t *testing.T) {
	b, regs, _ := newTestBench()
	regs.err = errors.New("crc mismatch")

	_, err := b.ReadFlow()
	assert.ErrorIs(t, err, regs.err)
}
