package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileName(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	ts := time.Date(2026, 7, 4, 14, 5, 9, 0, loc)

	assert.Equal(t, "20260704120509", TimeString(ts))
	assert.Equal(t, "LPC_20260704120509.ready_tm", FileName("LPC", "ready_tm", ts))
	assert.Equal(t, "RS41_20260704120509.csv", FileName("RS41", "csv", ts))
}

func TestDir_CreateAndAppend(t *testing.T) {
	dir := Dir(filepath.Join(t.TempDir(), "data"))

	f, err := dir.Create("a.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("one\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = dir.Append("a.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("two\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(filepath.Join(string(dir), "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	f, err := m.Append("x")
	require.NoError(t, err)
	_, err = f.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = f.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)

	assert.Equal(t, []string{"x"}, m.Files())
	assert.Equal(t, "abc", string(m.Bytes("x")))

	m.Fail = true
	_, err = m.Create("y")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCSVLog_Rollover(t *testing.T) {
	Logf = func(string, ...interface{}) {}
	m := NewMemory()
	log := NewCSVLog(m, "RS41", []string{"Time", "valid"}, 2)

	t0 := time.Date(2026, 7, 4, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ts := t0.Add(time.Duration(i) * time.Second)
		require.NoError(t, log.Write(ts, []string{TimeString(ts), "1"}))
	}

	require.Equal(t, []string{"RS41_20260704000000.csv", "RS41_20260704000002.csv"}, m.Files())
	assert.Equal(t,
		"Time,valid\n20260704000000,1\n20260704000001,1\n",
		string(m.Bytes("RS41_20260704000000.csv")))
	assert.Equal(t,
		"Time,valid\n20260704000002,1\n",
		string(m.Bytes("RS41_20260704000002.csv")))
	assert.Equal(t, "RS41_20260704000002.csv", log.Name())
}

func TestCSVLog_UnavailableStorage(t *testing.T) {
	Logf = func(string, ...interface{}) {}
	m := NewMemory()
	m.Fail = true
	log := NewCSVLog(m, "RS41", []string{"Time"}, 10)

	err := log.Write(time.Now(), []string{"x"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Empty(t, m.Files())

	log.Reset()
	assert.Empty(t, log.Name())
}

// flakyFS wraps Memory, failing the first createFails Create calls and
// returning closeErr from every Close.
type flakyFS struct {
	*Memory
	createFails int
	closeErr    error
}

func (f *flakyFS) Create(name string) (io.WriteCloser, error) {
	if f.createFails > 0 {
		f.createFails--
		return nil, ErrUnavailable
	}
	w, err := f.Memory.Create(name)
	if err != nil {
		return nil, err
	}
	return closeFailer{w, f.closeErr}, nil
}

func (f *flakyFS) Append(name string) (io.WriteCloser, error) {
	w, err := f.Memory.Append(name)
	if err != nil {
		return nil, err
	}
	return closeFailer{w, f.closeErr}, nil
}

type closeFailer struct {
	io.WriteCloser
	err error
}

func (c closeFailer) Close() error {
	if err := c.WriteCloser.Close(); err != nil {
		return err
	}
	return c.err
}

func TestCSVLog_CreateFailsOnce(t *testing.T) {
	Logf = func(string, ...interface{}) {}
	fs := &flakyFS{Memory: NewMemory(), createFails: 1}
	log := NewCSVLog(fs, "RS41", []string{"Time", "valid"}, 10)

	t0 := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	require.ErrorIs(t, log.Write(t0, []string{"a", "1"}), ErrUnavailable)
	assert.Empty(t, log.Name())
	assert.Empty(t, fs.Files())

	require.NoError(t, log.Write(t0, []string{"b", "1"}))
	assert.Equal(t, "RS41_20260501000000.csv", log.Name())
	assert.Equal(t, "Time,valid\nb,1\n", string(fs.Bytes("RS41_20260501000000.csv")))
}

func TestCSVLog_CloseError(t *testing.T) {
	Logf = func(string, ...interface{}) {}
	errClose := errors.New("close failed")
	fs := &flakyFS{Memory: NewMemory(), closeErr: errClose}
	log := NewCSVLog(fs, "RS41", []string{"Time"}, 10)

	err := log.Write(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), []string{"a"})
	assert.ErrorIs(t, err, errClose)
	assert.Empty(t, log.Name())
}
