// Package storage names and writes the instrument's local data files.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// TimeLayout is the UTC timestamp embedded in file names.
const TimeLayout = "20060102150405"

// TimeString formats t as YYYYMMDDHHMMSS in UTC.
func TimeString(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// FileName returns <prefix>_<YYYYMMDDHHMMSS>.<ext>.
func FileName(prefix, ext string, t time.Time) string {
	return prefix + "_" + TimeString(t) + "." + ext
}

// FileSystem opens files for writing.
type FileSystem interface {
	// Create truncates or creates name.
	Create(name string) (io.WriteCloser, error)
	// Append opens name for appending, creating it if missing.
	Append(name string) (io.WriteCloser, error)
}

// Dir is a FileSystem rooted at a directory on disk.
type Dir string

// Create creates name below the directory, creating the directory if needed.
func (d Dir) Create(name string) (io.WriteCloser, error) {
	return d.open(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY)
}

// Append opens name below the directory for appending.
func (d Dir) Append(name string) (io.WriteCloser, error) {
	return d.open(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY)
}

func (d Dir) open(name string, flag int) (io.WriteCloser, error) {
	if err := os.MkdirAll(string(d), 0755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", string(d), err)
	}
	f, err := os.OpenFile(filepath.Join(string(d), name), flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// ErrUnavailable is returned by Memory when Fail is set.
var ErrUnavailable = errors.New("storage: unavailable")

// Memory is an in-memory FileSystem for tests and dry runs.
type Memory struct {
	mu    sync.Mutex
	files map[string]*bytes.Buffer

	// Fail makes every open return ErrUnavailable.
	Fail bool
}

// NewMemory creates an empty in-memory file system.
func NewMemory() *Memory {
	return &Memory{files: make(map[string]*bytes.Buffer)}
}

// Create replaces name with an empty file.
func (m *Memory) Create(name string) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return nil, fmt.Errorf("open %s: %w", name, ErrUnavailable)
	}
	buf := &bytes.Buffer{}
	m.files[name] = buf
	return &memFile{fs: m, buf: buf}, nil
}

// Append opens name for appending.
func (m *Memory) Append(name string) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return nil, fmt.Errorf("open %s: %w", name, ErrUnavailable)
	}
	buf, ok := m.files[name]
	if !ok {
		buf = &bytes.Buffer{}
		m.files[name] = buf
	}
	return &memFile{fs: m, buf: buf}, nil
}

// Files returns the stored file names in order.
func (m *Memory) Files() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bytes returns a copy of the content of name.
func (m *Memory) Bytes(name string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.files[name]
	if !ok {
		return nil
	}
	return bytes.Clone(buf.Bytes())
}

type memFile struct {
	fs     *Memory
	buf    *bytes.Buffer
	closed bool
}

func (f *memFile) Write(p []byte) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if f.closed {
		return 0, os.ErrClosed
	}
	return f.buf.Write(p)
}

func (f *memFile) Close() error {
	f.closed = true
	return nil
}
