// Package bins reduces PHA channel arrays into co-added histogram bins.
package bins

import (
	"errors"
	"fmt"

	"github.com/itohio/stratolpc/pkg/pha"
)

var (
	// ErrSlotRange is returned when a frame maps outside the accumulator.
	ErrSlotRange = errors.New("bins: slot out of range")
	// ErrBoundaries is returned for an invalid boundary list.
	ErrBoundaries = errors.New("bins: invalid boundaries")
)

// MaxBoundary is the largest admissible boundary value.
const MaxBoundary = pha.Channels

// BinSet holds the high and low gain channel boundaries. Bin i covers the
// channels [b[i], b[i+1]).
type BinSet struct {
	HG []int
	LG []int
}

// NumHG returns the number of high gain bins.
func (s BinSet) NumHG() int { return max(len(s.HG)-1, 0) }

// NumLG returns the number of low gain bins.
func (s BinSet) NumLG() int { return max(len(s.LG)-1, 0) }

// NumBins returns the total bin count, high gain first.
func (s BinSet) NumBins() int { return s.NumHG() + s.NumLG() }

// Validate checks that both boundary lists are strictly increasing within
// [0, MaxBoundary].
func (s BinSet) Validate() error {
	if err := validate(s.HG); err != nil {
		return fmt.Errorf("high gain: %w", err)
	}
	if err := validate(s.LG); err != nil {
		return fmt.Errorf("low gain: %w", err)
	}
	return nil
}

func validate(b []int) error {
	if len(b) < 2 {
		return fmt.Errorf("%w: need at least 2, got %d", ErrBoundaries, len(b))
	}
	if b[0] < 0 {
		return fmt.Errorf("%w: first boundary %d < 0", ErrBoundaries, b[0])
	}
	if b[len(b)-1] > MaxBoundary {
		return fmt.Errorf("%w: last boundary %d > %d", ErrBoundaries, b[len(b)-1], MaxBoundary)
	}
	for i := 1; i < len(b); i++ {
		if b[i] <= b[i-1] {
			return fmt.Errorf("%w: boundary %d (%d) not above %d", ErrBoundaries, i, b[i], b[i-1])
		}
	}
	return nil
}

// Accumulator holds per-slot bin sums indexed [bin][slot].
type Accumulator struct {
	data  [][]uint16
	slots int
}

// NewAccumulator allocates a zeroed accumulator.
func NewAccumulator(bins, slots int) *Accumulator {
	a := &Accumulator{data: make([][]uint16, bins), slots: slots}
	for i := range a.data {
		a.data[i] = make([]uint16, slots)
	}
	return a
}

// Bins returns the bin dimension.
func (a *Accumulator) Bins() int { return len(a.data) }

// Slots returns the slot dimension.
func (a *Accumulator) Slots() int { return a.slots }

// At returns the sum of bin in slot. Out of range reads return 0.
func (a *Accumulator) At(bin, slot int) uint16 {
	if bin < 0 || bin >= len(a.data) || slot < 0 || slot >= a.slots {
		return 0
	}
	return a.data[bin][slot]
}

// Reset zeroes every cell.
func (a *Accumulator) Reset() {
	for _, row := range a.data {
		clear(row)
	}
}

// Binner fills an Accumulator from parsed frames.
type Binner struct {
	set            BinSet
	acc            *Accumulator
	samplesPerSlot int
}

// NewBinner validates set and returns a binner writing into acc.
func NewBinner(set BinSet, acc *Accumulator, samplesPerSlot int) (*Binner, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if samplesPerSlot <= 0 {
		return nil, fmt.Errorf("bins: samples per slot must be > 0, got %d", samplesPerSlot)
	}
	if acc.Bins() < set.NumBins() {
		return nil, fmt.Errorf("bins: accumulator holds %d bins, need %d", acc.Bins(), set.NumBins())
	}
	return &Binner{set: set, acc: acc, samplesPerSlot: samplesPerSlot}, nil
}

// Slot returns the accumulator slot of frameIndex.
func (b *Binner) Slot(frameIndex int) int {
	return frameIndex / b.samplesPerSlot
}

// Fill sums each bin span of f and co-adds it into the slot of frameIndex.
// High gain bins occupy [0, NumHG), low gain bins follow.
func (b *Binner) Fill(f *pha.Frame, frameIndex int) error {
	slot := b.Slot(frameIndex)
	if frameIndex < 0 || slot >= b.acc.Slots() {
		return fmt.Errorf("frame %d slot %d of %d: %w", frameIndex, slot, b.acc.Slots(), ErrSlotRange)
	}

	nHG := b.set.NumHG()
	for i := 0; i < nHG; i++ {
		b.acc.data[i][slot] += uint16(span(f.HG[:], b.set.HG[i], b.set.HG[i+1]))
	}
	for i := 0; i < b.set.NumLG(); i++ {
		b.acc.data[nHG+i][slot] += uint16(span(f.LG[:], b.set.LG[i], b.set.LG[i+1]))
	}
	return nil
}

func span(ch []int, lo, hi int) int {
	sum := 0
	for _, v := range ch[lo:hi] {
		sum += v
	}
	return sum
}
