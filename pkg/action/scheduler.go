package action

import (
	"sort"
	"time"

	"github.com/itohio/stratolpc/pkg/clock"
)

type entry struct {
	action Action
	fireAt time.Time
}

// Scheduler raises actions into a Store at or after their requested time.
// Each scheduled entry fires exactly once.
type Scheduler struct {
	clk     clock.Clock
	store   *Store
	entries []entry
}

// NewScheduler creates a scheduler that raises into store.
func NewScheduler(clk clock.Clock, store *Store) *Scheduler {
	return &Scheduler{clk: clk, store: store}
}

// At schedules a to fire at t.
func (s *Scheduler) At(a Action, t time.Time) error {
	if !a.Valid() {
		return ErrUnknownAction
	}
	s.entries = append(s.entries, entry{action: a, fireAt: t})
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].fireAt.Before(s.entries[j].fireAt)
	})
	return nil
}

// After schedules a to fire d from now.
func (s *Scheduler) After(a Action, d time.Duration) error {
	return s.At(a, s.clk.Now().Add(d))
}

// Cancel removes every pending entry for a.
func (s *Scheduler) Cancel(a Action) {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.action != a {
			kept = append(kept, e)
		}
	}
	s.entries = kept
}

// Next returns the fire time of the earliest entry for a.
func (s *Scheduler) Next(a Action) (time.Time, bool) {
	for _, e := range s.entries {
		if e.action == a {
			return e.fireAt, true
		}
	}
	return time.Time{}, false
}

// Len returns the number of pending entries.
func (s *Scheduler) Len() int {
	return len(s.entries)
}

// Run raises every entry due at now and removes it.
func (s *Scheduler) Run(now time.Time) {
	n := 0
	for n < len(s.entries) && !s.entries[n].fireAt.After(now) {
		e := s.entries[n]
		if err := s.store.Raise(e.action); err != nil {
			Logf("scheduler: %v", err)
		}
		n++
	}
	if n > 0 {
		s.entries = append(s.entries[:0], s.entries[n:]...)
	}
}
