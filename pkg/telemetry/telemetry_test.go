package telemetry

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/itohio/stratolpc/pkg/bins"
	"github.com/itohio/stratolpc/pkg/clock"
	"github.com/itohio/stratolpc/pkg/config"
	"github.com/itohio/stratolpc/pkg/hk"
	"github.com/itohio/stratolpc/pkg/pha"
	"github.com/itohio/stratolpc/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nominal = hk.Readings{TPump1: 25, TPump2: 26.5, TLaser: -30, VBattery: 15.2, VTeensy: 3.3}

func quiet() {
	Logf = func(string, ...interface{}) {}
}

func TestHealth(t *testing.T) {
	p := NewPackager(&Buffer{}, bins.NewAccumulator(1, 1), hk.NewRecord(1), config.Default().Limits, nil)

	tests := []struct {
		name   string
		mutate func(r *hk.Readings)
		flags  [Fields]Health
	}{
		{"nominal", func(r *hk.Readings) {}, [Fields]Health{Fine, Fine}},
		{"pump limit inclusive", func(r *hk.Readings) { r.TPump1 = 60 }, [Fields]Health{Fine, Fine}},
		{"pump hot", func(r *hk.Readings) { r.TPump2 = 60.01 }, [Fields]Health{Warn, Fine}},
		{"laser cold", func(r *hk.Readings) { r.TLaser = -30.5 }, [Fields]Health{Warn, Fine}},
		{"laser hot", func(r *hk.Readings) { r.TLaser = 51 }, [Fields]Health{Warn, Fine}},
		{"battery low", func(r *hk.Readings) { r.VBattery = 13.9 }, [Fields]Health{Fine, Warn}},
		{"battery high", func(r *hk.Readings) { r.VBattery = 18.2 }, [Fields]Health{Fine, Warn}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := nominal
			tt.mutate(&r)
			assert.Equal(t, tt.flags, p.Health(r).Flags)
		})
	}

	h := p.Health(nominal)
	assert.Equal(t, "25.00,26.50,-30.00", h.Details[0])
	assert.Equal(t, "15.20,3.30", h.Details[1])
}

func filledTables(t *testing.T, slots int) (*bins.Accumulator, *hk.Record) {
	set := bins.BinSet{HG: []int{0, 2, 4}, LG: []int{0, 3}}
	acc := bins.NewAccumulator(set.NumBins(), slots)
	b, err := bins.NewBinner(set, acc, 1)
	require.NoError(t, err)

	f := &pha.Frame{}
	for i := range f.HG {
		f.HG[i] = i
		f.LG[i] = 10
	}
	for slot := 0; slot < slots; slot++ {
		require.NoError(t, b.Fill(f, slot))
	}

	rec := hk.NewRecord(slots)
	for slot := 0; slot < slots; slot++ {
		var row hk.Row
		row[hk.ChElapsed] = uint16(slot)
		row[hk.ChTLaser] = 24315
		require.NoError(t, rec.Set(slot, row))
	}
	return acc, rec
}

func expectedSlot(slot uint16) []byte {
	var out []byte
	// HG [0,2) = 0+1, [2,4) = 2+3, LG [0,3) = 30
	for _, v := range []uint16{1, 5, 30} {
		out = binary.BigEndian.AppendUint16(out, v)
	}
	row := make([]uint16, hk.Channels)
	row[hk.ChElapsed] = slot
	row[hk.ChTLaser] = 24315
	for _, v := range row {
		out = binary.BigEndian.AppendUint16(out, v)
	}
	return out
}

func TestPackage_PayloadAndZeroing(t *testing.T) {
	quiet()
	acc, rec := filledTables(t, 2)
	tx := &Buffer{}
	p := NewPackager(tx, acc, rec, config.Default().Limits, nil)

	require.NoError(t, p.Package(2, nominal, time.Now()))

	want := append(expectedSlot(0), expectedSlot(1)...)
	if diff := cmp.Diff(want, tx.Payload()); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, Header{
		Flags:   [Fields]Health{Fine, Fine},
		Details: [Fields]string{"25.00,26.50,-30.00", "15.20,3.30"},
	}, tx.Sent())

	// Both tables are zeroed, a second record carries only zeros
	require.NoError(t, p.Package(2, nominal, time.Now()))
	assert.Len(t, tx.Payload(), len(want))
	if diff := cmp.Diff(make([]byte, len(want)), tx.Payload()); diff != "" {
		t.Errorf("second payload not zero (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, tx.Count())
}

func TestPackage_ClampsSlots(t *testing.T) {
	quiet()
	acc, rec := filledTables(t, 1)
	tx := &Buffer{}
	p := NewPackager(tx, acc, rec, config.Default().Limits, nil)

	require.NoError(t, p.Package(5, nominal, time.Now()))
	assert.Equal(t, expectedSlot(0), tx.Payload())
}

func TestPackage_Mirror(t *testing.T) {
	quiet()
	acc, rec := filledTables(t, 1)
	fs := storage.NewMemory()
	tx := &Buffer{}
	now := time.Date(2026, 8, 1, 6, 30, 0, 0, time.UTC)
	p := NewPackager(tx, acc, rec, config.Default().Limits, NewMirror(fs, "LPC"))

	r := nominal
	r.VBattery = 12
	require.NoError(t, p.Package(1, r, now))

	require.Equal(t, []string{"LPC_20260801063000.ready_tm"}, fs.Files())
	payload := expectedSlot(0)
	want := "<TM>\n" +
		"\t<Msg>0</Msg>\n" +
		"\t<Inst>LPC</Inst>\n" +
		"\t<StateFlag1>FINE</StateFlag1>\n" +
		"\t<StateMess1>25.00,26.50,-30.00</StateMess1>\n" +
		"\t<StateFlag2>WARN</StateFlag2>\n" +
		"\t<StateMess2>12.00,3.30</StateMess2>\n" +
		"\t<Length>38</Length>\n" +
		"</TM>\n" +
		"<CRC>00000</CRC>\n" +
		"START" + string(payload) + "\x00\x00END"
	assert.Equal(t, 38, len(payload))
	if diff := cmp.Diff(want, string(fs.Bytes("LPC_20260801063000.ready_tm"))); diff != "" {
		t.Errorf("mirror mismatch (-want +got):\n%s", diff)
	}
}

func TestPackage_MirrorUnavailable(t *testing.T) {
	quiet()
	acc, rec := filledTables(t, 1)
	fs := storage.NewMemory()
	fs.Fail = true
	tx := &Buffer{}
	p := NewPackager(tx, acc, rec, config.Default().Limits, NewMirror(fs, "LPC"))

	require.NoError(t, p.Package(1, nominal, time.Now()))
	assert.Equal(t, expectedSlot(0), tx.Payload())
	assert.Zero(t, acc.At(0, 0))
}

// closeFailFS is a FileSystem whose writers fail on Close.
type closeFailFS struct {
	*storage.Memory
}

func (fs closeFailFS) Create(name string) (io.WriteCloser, error) {
	w, err := fs.Memory.Create(name)
	return closeFailer{w}, err
}

type closeFailer struct {
	io.WriteCloser
}

func (closeFailer) Close() error {
	return errors.New("disk full")
}

func TestMirror_CloseError(t *testing.T) {
	m := NewMirror(closeFailFS{storage.NewMemory()}, "LPC")
	name, err := m.Write(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), Header{}, []byte{1})
	assert.Equal(t, "LPC_20260501000000.ready_tm", name)
	assert.ErrorContains(t, err, "disk full")
}

func TestPackage_MirrorCloseErrorLogged(t *testing.T) {
	var logs []string
	Logf = func(format string, args ...interface{}) {
		logs = append(logs, fmt.Sprintf(format, args...))
	}
	t.Cleanup(quiet)

	acc, rec := filledTables(t, 1)
	tx := &Buffer{}
	p := NewPackager(tx, acc, rec, config.Default().Limits, NewMirror(closeFailFS{storage.NewMemory()}, "LPC"))

	require.NoError(t, p.Package(1, nominal, time.Now()))
	assert.Equal(t, expectedSlot(0), tx.Payload())
	require.NotEmpty(t, logs)
	for _, l := range logs {
		assert.NotContains(t, l, "written")
	}
	assert.Contains(t, logs[len(logs)-1], "disk full")
}

type failingTransport struct {
	Buffer
}

func (f *failingTransport) Send() error {
	_ = f.Buffer.Send()
	return errors.New("link down")
}

func TestPackage_SendFailureStillZeroes(t *testing.T) {
	quiet()
	acc, rec := filledTables(t, 1)
	p := NewPackager(&failingTransport{}, acc, rec, config.Default().Limits, nil)

	assert.Error(t, p.Package(1, nominal, time.Now()))
	assert.Zero(t, acc.At(2, 0))
	assert.Equal(t, hk.Row{}, rec.Row(0))
}

func TestBuffer(t *testing.T) {
	quiet()
	b := &Buffer{}
	b.AppendUint8(0x01)
	b.AppendUint16(0x0203)
	b.AppendUint32(0x04050607)
	b.SetHealthFlag(2, Warn)
	b.SetHealthFlag(3, Warn)
	assert.Equal(t, 7, b.Len())
	assert.Empty(t, b.Payload())

	require.NoError(t, b.Send())
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7}, b.Payload())
	assert.Equal(t, Warn, b.Sent().Flags[1])
	assert.Zero(t, b.Len())
}

func TestMQTTTransport(t *testing.T) {
	pub := &FakePublisher{}
	clk := clock.NewMock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	tx := NewMQTTTransport(pub, "lpc/tm", "LPC", clk)

	tx.SetHealthFlag(1, Fine)
	tx.SetHealthDetail(2, "RS41")
	tx.AppendUint16(0xBEEF)
	require.NoError(t, tx.Send())

	require.Len(t, pub.Payloads, 1)
	assert.Equal(t, "lpc/tm", pub.Topics[0])

	var env Envelope
	require.NoError(t, json.Unmarshal(pub.Payloads[0], &env))
	assert.Equal(t, "LPC", env.Instrument)
	assert.Equal(t, "2026-08-01T00:00:00Z", env.Timestamp)
	assert.Equal(t, []string{"FINE", "FINE"}, env.Flags)
	assert.Equal(t, []string{"", "RS41"}, env.Details)
	assert.Equal(t, 2, env.Length)
	assert.Equal(t, []byte{0xBE, 0xEF}, env.Payload)
	assert.NotEmpty(t, env.ID)

	pub.PublishError = errors.New("broker gone")
	tx.AppendUint16(1)
	assert.ErrorIs(t, tx.Send(), pub.PublishError)
	assert.Zero(t, tx.Len())
	assert.Equal(t, []byte{0, 1}, tx.Payload())
}
