// Package pha reads and decodes the pulse-height-analyser frame stream.
package pha

import (
	"bytes"
	"io"
	"log"
	"time"

	"github.com/itohio/stratolpc/pkg/clock"
)

const (
	// DefaultBufferSize is the frame byte budget.
	DefaultBufferSize = 4096
	// DefaultTimeout is the frame deadline measured from the start of a poll.
	DefaultTimeout = time.Second
)

// Logf is the package logger. Tests may replace it.
var Logf = log.Printf

// Port is the byte source behind a Reader. go.bug.st/serial ports satisfy it.
type Port interface {
	io.Reader
	ResetInputBuffer() error
}

// Status is the outcome of a Reader poll.
type Status int

const (
	NoData Status = iota
	FrameReady
	Timeout
)

func (s Status) String() string {
	switch s {
	case NoData:
		return "no_data"
	case FrameReady:
		return "frame_ready"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Reader accumulates newline-terminated frames from a Port under a deadline.
type Reader struct {
	port    Port
	clk     clock.Clock
	timeout time.Duration

	buf []byte
	n   int
	tmp []byte
}

// NewReader creates a frame reader. A nil clock selects wall time; zero
// timeout or size select the defaults.
func NewReader(port Port, clk clock.Clock, timeout time.Duration, size int) *Reader {
	if clk == nil {
		clk = clock.Real{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Reader{
		port:    port,
		clk:     clk,
		timeout: timeout,
		buf:     make([]byte, size),
		tmp:     make([]byte, size),
	}
}

// Poll reads until a terminator, the byte budget or the deadline.
//
// It returns NoData when the first read yields nothing and no partial frame
// is carried. On FrameReady the returned line excludes the terminator and is
// valid until the next call; bytes that followed the terminator are kept for
// the next poll. On Timeout the partial frame is discarded and the port's
// input buffer is flushed.
func (r *Reader) Poll() (Status, []byte) {
	if line, ok := r.takeLine(); ok {
		return FrameReady, line
	}

	deadline := r.clk.Now().Add(r.timeout)
	first := true
	for {
		if r.n >= len(r.buf) {
			Logf("pha: frame exceeded %d bytes without terminator", len(r.buf))
			r.flush()
			return Timeout, nil
		}

		got, err := r.port.Read(r.buf[r.n:])
		if err != nil && err != io.EOF {
			Logf("pha: read: %v", err)
		}
		r.n += got

		if first && got == 0 && r.n == 0 {
			return NoData, nil
		}
		first = false

		if line, ok := r.takeLine(); ok {
			return FrameReady, line
		}

		if !r.clk.Now().Before(deadline) {
			r.flush()
			return Timeout, nil
		}
	}
}

// Discard drops any carried partial frame.
func (r *Reader) Discard() {
	r.n = 0
}

// Flush discards carried bytes and the port's pending input.
func (r *Reader) Flush() {
	r.flush()
}

// Buffered returns the number of carried bytes.
func (r *Reader) Buffered() int {
	return r.n
}

func (r *Reader) flush() {
	r.n = 0
	if err := r.port.ResetInputBuffer(); err != nil {
		Logf("pha: reset input buffer: %v", err)
	}
}

// takeLine extracts a terminated line from the buffer, shifting the rest down.
func (r *Reader) takeLine() ([]byte, bool) {
	i := bytes.IndexByte(r.buf[:r.n], '\n')
	if i < 0 {
		return nil, false
	}
	line := r.tmp[:i]
	copy(line, r.buf[:i])
	rest := copy(r.buf, r.buf[i+1:r.n])
	r.n = rest
	line = bytes.TrimSuffix(line, []byte{'\r'})
	return line, true
}
