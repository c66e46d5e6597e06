package lpc

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/itohio/stratolpc/pkg/pha"
)

// MockPHA generates well-formed PHA frames while the board powers the PHA.
type MockPHA struct {
	mu      sync.Mutex
	board   *Mock
	rng     *rand.Rand
	frame   pha.Frame
	pending []byte
	count   int64

	// Rate scales the simulated particle concentration.
	Rate float64
}

// NewMockPHA creates a frame source gated by board's PHAPower line.
func NewMockPHA(board *Mock, seed uint64) *MockPHA {
	return &MockPHA{
		board: board,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		Rate:  1,
	}
}

// Read returns the next bytes of the current frame, generating one when
// none is pending. It returns 0 while the PHA is unpowered.
func (p *MockPHA) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pending) == 0 {
		if !p.board.Line(PHAPower) {
			return 0, nil
		}
		p.generate()
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// ResetInputBuffer drops the pending frame.
func (p *MockPHA) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = nil
	return nil
}

// Close is a no-op.
func (p *MockPHA) Close() error {
	return nil
}

// generate fills pending with one frame. Counts fall off with channel
// number like a typical aerosol size distribution.
func (p *MockPHA) generate() {
	p.count++
	f := &p.frame
	f.Timestamp = p.count * 1000
	f.LaserCurrent = 40 + p.rng.NormFloat64()*0.2
	f.Threshold = 12

	var total int64
	for i := 0; i < pha.Channels; i++ {
		lambda := p.Rate * 200 * math.Exp(-float64(i)/18)
		f.HG[i] = p.counts(lambda)
		f.LG[i] = p.counts(lambda / 8)
		total += int64(f.HG[i])
	}
	f.PulseCount = total

	p.pending = append(f.AppendText(p.pending[:0]), '\n')
}

// counts draws an approximately Poisson distributed count.
func (p *MockPHA) counts(lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	v := lambda + p.rng.NormFloat64()*math.Sqrt(lambda)
	if v < 0 {
		return 0
	}
	return int(v + 0.5)
}
