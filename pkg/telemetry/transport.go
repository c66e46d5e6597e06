// Package telemetry assembles and ships the instrument's TM records.
package telemetry

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log"
)

// Logf is the package logger. Tests may replace it.
var Logf = log.Printf

// Fields is the number of health fields in a TM header.
const Fields = 2

// Health is the state flag of a header field.
type Health int

const (
	Fine Health = iota
	Warn
)

func (h Health) String() string {
	if h == Fine {
		return "FINE"
	}
	return "WARN"
}

// Transport accumulates one TM record and sends it.
type Transport interface {
	SetHealthFlag(field int, h Health)
	SetHealthDetail(field int, text string)
	AppendUint8(v uint8)
	AppendUint16(v uint16)
	AppendUint32(v uint32)
	// Send flushes the accumulated record as one packet.
	Send() error
	// Payload returns the binary segment of the last sent record.
	Payload() []byte
}

// Header is the text part of a TM record.
type Header struct {
	Flags   [Fields]Health
	Details [Fields]string
}

// Buffer is an in-memory Transport. Values are appended big-endian.
type Buffer struct {
	header  Header
	payload bytes.Buffer

	sent     []byte
	sentHdr  Header
	sentRecs int
}

var _ Transport = (*Buffer)(nil)

// SetHealthFlag sets the flag of field 1 or 2. Other fields are ignored.
func (b *Buffer) SetHealthFlag(field int, h Health) {
	if field < 1 || field > Fields {
		Logf("telemetry: health flag %d out of range", field)
		return
	}
	b.header.Flags[field-1] = h
}

// SetHealthDetail sets the detail text of field 1 or 2.
func (b *Buffer) SetHealthDetail(field int, text string) {
	if field < 1 || field > Fields {
		Logf("telemetry: health detail %d out of range", field)
		return
	}
	b.header.Details[field-1] = text
}

func (b *Buffer) AppendUint8(v uint8) {
	b.payload.WriteByte(v)
}

func (b *Buffer) AppendUint16(v uint16) {
	b.payload.Write(binary.BigEndian.AppendUint16(nil, v))
}

func (b *Buffer) AppendUint32(v uint32) {
	b.payload.Write(binary.BigEndian.AppendUint32(nil, v))
}

// Len returns the number of accumulated payload bytes.
func (b *Buffer) Len() int {
	return b.payload.Len()
}

// Send moves the accumulated record to the sent slot and starts a new one.
func (b *Buffer) Send() error {
	b.sent = append(b.sent[:0], b.payload.Bytes()...)
	b.sentHdr = b.header
	b.sentRecs++
	b.payload.Reset()
	b.header = Header{}
	return nil
}

// Payload returns the binary segment of the last sent record.
func (b *Buffer) Payload() []byte {
	return b.sent
}

// Sent returns the header of the last sent record.
func (b *Buffer) Sent() Header {
	return b.sentHdr
}

// Count returns the number of records sent.
func (b *Buffer) Count() int {
	return b.sentRecs
}

func (h Header) String() string {
	return fmt.Sprintf("%v(%s) %v(%s)", h.Flags[0], h.Details[0], h.Flags[1], h.Details[1])
}
