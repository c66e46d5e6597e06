package pha

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

const (
	// Channels is the number of channels per gain.
	Channels = 255
	// HeaderFields precede the channel values in a frame.
	HeaderFields = 4
	// Missing marks a channel that was not filled by the last parse.
	Missing = -999
)

// ErrMissingField is returned when a frame ends before all fields were read.
var ErrMissingField = errors.New("pha: missing field")

// Frame is one decoded PHA record.
type Frame struct {
	Timestamp    int64
	LaserCurrent float64
	Threshold    int
	PulseCount   int64
	HG           [Channels]int
	LG           [Channels]int
}

// Reset sets both channel arrays to Missing.
func (f *Frame) Reset() {
	for i := range f.HG {
		f.HG[i] = Missing
		f.LG[i] = Missing
	}
}

// Parser decodes comma-delimited PHA frames.
type Parser struct{}

// Parse decodes line into f. On error both channel arrays are left at
// Missing and the header fields must not be trusted.
//
// Empty fields are skipped, so ",," counts as one delimiter. Channel values
// arrive highest channel first: the first HG field is stored at index 254.
func (Parser) Parse(line []byte, f *Frame) error {
	if err := decode(line, f); err != nil {
		f.Reset()
		return err
	}
	return nil
}

func decode(line []byte, f *Frame) error {
	tok := tokenizer{rest: line}

	header := [HeaderFields][]byte{}
	for i := range header {
		t, ok := tok.next()
		if !ok {
			return fmt.Errorf("header field %d: %w", i, ErrMissingField)
		}
		header[i] = t
	}
	f.Timestamp = atoi(header[0])
	f.LaserCurrent = atof(header[1])
	f.Threshold = int(atoi(header[2]))
	f.PulseCount = atoi(header[3])

	for i := Channels - 1; i >= 0; i-- {
		t, ok := tok.next()
		if !ok {
			return fmt.Errorf("high gain channel %d: %w", i, ErrMissingField)
		}
		f.HG[i] = int(atoi(t))
	}
	for i := Channels - 1; i >= 0; i-- {
		t, ok := tok.next()
		if !ok {
			return fmt.Errorf("low gain channel %d: %w", i, ErrMissingField)
		}
		f.LG[i] = int(atoi(t))
	}
	return nil
}

// AppendText appends f in wire order without the terminator.
func (f *Frame) AppendText(dst []byte) []byte {
	dst = strconv.AppendInt(dst, f.Timestamp, 10)
	dst = append(dst, ',')
	dst = strconv.AppendFloat(dst, f.LaserCurrent, 'f', 2, 64)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, int64(f.Threshold), 10)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, f.PulseCount, 10)
	for i := Channels - 1; i >= 0; i-- {
		dst = append(dst, ',')
		dst = strconv.AppendInt(dst, int64(f.HG[i]), 10)
	}
	for i := Channels - 1; i >= 0; i-- {
		dst = append(dst, ',')
		dst = strconv.AppendInt(dst, int64(f.LG[i]), 10)
	}
	return dst
}

type tokenizer struct {
	rest []byte
}

// next returns the next non-empty comma-delimited token.
func (t *tokenizer) next() ([]byte, bool) {
	for len(t.rest) > 0 {
		i := bytes.IndexByte(t.rest, ',')
		var tok []byte
		if i < 0 {
			tok, t.rest = t.rest, nil
		} else {
			tok, t.rest = t.rest[:i], t.rest[i+1:]
		}
		if len(tok) > 0 {
			return tok, true
		}
	}
	return nil, false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\v' || c == '\f'
}

// atoi parses the leading decimal integer of b, ignoring leading whitespace.
// Text without a numeric prefix yields 0.
func atoi(b []byte) int64 {
	i := 0
	for i < len(b) && isSpace(b[i]) {
		i++
	}
	neg := false
	if i < len(b) && (b[i] == '+' || b[i] == '-') {
		neg = b[i] == '-'
		i++
	}
	var v int64
	for ; i < len(b) && b[i] >= '0' && b[i] <= '9'; i++ {
		v = v*10 + int64(b[i]-'0')
	}
	if neg {
		return -v
	}
	return v
}

// atof parses the leading decimal real of b. Text without a numeric prefix
// yields 0.
func atof(b []byte) float64 {
	i := 0
	for i < len(b) && isSpace(b[i]) {
		i++
	}
	start := i
	if i < len(b) && (b[i] == '+' || b[i] == '-') {
		i++
	}
	digits := 0
	for ; i < len(b) && b[i] >= '0' && b[i] <= '9'; i++ {
		digits++
	}
	if i < len(b) && b[i] == '.' {
		i++
		for ; i < len(b) && b[i] >= '0' && b[i] <= '9'; i++ {
			digits++
		}
	}
	if digits == 0 {
		return 0
	}
	end := i
	if i < len(b) && (b[i] == 'e' || b[i] == 'E') {
		j := i + 1
		if j < len(b) && (b[j] == '+' || b[j] == '-') {
			j++
		}
		k := j
		for ; k < len(b) && b[k] >= '0' && b[k] <= '9'; k++ {
		}
		if k > j {
			end = k
		}
	}
	// Out of range values come back as ±Inf or 0 alongside the error.
	v, _ := strconv.ParseFloat(string(b[start:end]), 64)
	return v
}
