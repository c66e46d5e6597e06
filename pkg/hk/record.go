package hk

import (
	"errors"
	"fmt"
)

// Channels is the number of values in a housekeeping row.
const Channels = 16

// Row channel layout.
const (
	ChElapsed = iota
	ChIPump1
	ChIPump2
	ChIHeater1
	ChIDetector
	ChVDetector
	ChVPHA
	ChVTeensy
	ChVBattery
	ChFlow
	chReserved10
	ChTPump1
	ChTPump2
	ChTLaser
	chReserved14
	ChTInlet
)

// ErrRecordFull is returned when a row is written past the record capacity.
var ErrRecordFull = errors.New("hk: record full")

// Row is one calibrated housekeeping sample.
type Row [Channels]uint16

// Record is a fixed-capacity table of rows indexed by slot.
type Record struct {
	rows []Row
}

// NewRecord allocates a record holding capacity rows.
func NewRecord(capacity int) *Record {
	return &Record{rows: make([]Row, capacity)}
}

// Cap returns the row capacity.
func (r *Record) Cap() int {
	return len(r.rows)
}

// Set stores row at slot. Out of range slots return ErrRecordFull and leave
// the record untouched.
func (r *Record) Set(slot int, row Row) error {
	if slot < 0 || slot >= len(r.rows) {
		return fmt.Errorf("slot %d of %d: %w", slot, len(r.rows), ErrRecordFull)
	}
	r.rows[slot] = row
	return nil
}

// Row returns the row at slot, or a zero row when out of range.
func (r *Record) Row(slot int) Row {
	if slot < 0 || slot >= len(r.rows) {
		return Row{}
	}
	return r.rows[slot]
}

// Reset zeroes every row.
func (r *Record) Reset() {
	clear(r.rows)
}
