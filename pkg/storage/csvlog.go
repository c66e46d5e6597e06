package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"time"
)

// Logf is the package logger. Tests may replace it.
var Logf = log.Printf

// CSVLog appends rows to timestamp-named CSV files, starting a new file with
// a header row after every rollover rows.
type CSVLog struct {
	fs       FileSystem
	prefix   string
	header   []string
	rollover int

	name string
	rows int
}

// NewCSVLog creates a log writing <prefix>_<ts>.csv files.
func NewCSVLog(fs FileSystem, prefix string, header []string, rollover int) *CSVLog {
	return &CSVLog{fs: fs, prefix: prefix, header: header, rollover: rollover}
}

// Name returns the current file name, empty before the first row.
func (l *CSVLog) Name() string {
	return l.name
}

// Write appends one row, starting a new file when none is open or the
// current one holds rollover rows.
func (l *CSVLog) Write(now time.Time, row []string) error {
	if l.name == "" || (l.rollover > 0 && l.rows >= l.rollover) {
		if err := l.start(now); err != nil {
			return err
		}
	}
	l.rows++

	f, err := l.fs.Append(l.name)
	if err != nil {
		return fmt.Errorf("csv %s: %w", l.name, err)
	}
	if err := writeRow(f, row); err != nil {
		return fmt.Errorf("csv %s: %w", l.name, err)
	}
	return nil
}

// Reset forgets the current file so the next row starts a new one.
func (l *CSVLog) Reset() {
	l.name = ""
	l.rows = 0
}

// start creates a new file with the header row. The current name is only
// replaced once the header is stored.
func (l *CSVLog) start(now time.Time) error {
	name := FileName(l.prefix, "csv", now)

	f, err := l.fs.Create(name)
	if err != nil {
		Logf("error: unable to open %s, rows will not be stored: %v", name, err)
		return fmt.Errorf("csv %s: %w", name, err)
	}
	if err := writeRow(f, l.header); err != nil {
		return fmt.Errorf("csv %s header: %w", name, err)
	}

	Logf("csv will be logged to %s", name)
	l.name = name
	l.rows = 0
	return nil
}

// writeRow writes one record and closes w, reporting the first error.
func writeRow(w io.WriteCloser, row []string) error {
	cw := csv.NewWriter(w)
	err := cw.Write(row)
	if err == nil {
		cw.Flush()
		err = cw.Error()
	}
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return err
}
