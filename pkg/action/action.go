// Package action holds the scheduled-event flags consumed by the flight
// controller and a reference scheduler that raises them.
package action

import (
	"errors"
	"fmt"
	"log"
)

// ErrUnknownAction is returned when an action id is outside the known set.
var ErrUnknownAction = errors.New("action: unknown action")

// DefaultStaleTicks is the number of ticks a raised flag survives unconsumed.
const DefaultStaleTicks = 2

// Logf is the package logger. Tests may replace it.
var Logf = log.Printf

// Action identifies a schedulable event.
type Action uint8

const (
	StartWarmUp Action = iota + 1
	StartFlush
	StartMeasurement
	SondeSample
)

// Actions lists every schedulable action. The flag table is sized from it.
var Actions = []Action{
	StartWarmUp,
	StartFlush,
	StartMeasurement,
	SondeSample,
}

var actionNames = map[Action]string{
	StartWarmUp:      "start_warmup",
	StartFlush:       "start_flush",
	StartMeasurement: "start_measurement",
	SondeSample:      "sonde_sample",
}

// String returns the action name.
func (a Action) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	_, ok := actionNames[a]
	return ok
}

type flag struct {
	pending bool
	age     int
}

// Store is a table of debounced, auto-expiring action flags.
// Not safe for concurrent use; the controller owns it.
type Store struct {
	staleTicks int
	index      map[Action]int
	flags      []flag
}

// NewStore creates a store whose flags expire after staleTicks ticks.
func NewStore(staleTicks int) *Store {
	if staleTicks <= 0 {
		staleTicks = DefaultStaleTicks
	}
	s := &Store{
		staleTicks: staleTicks,
		index:      make(map[Action]int, len(Actions)),
		flags:      make([]flag, len(Actions)),
	}
	for i, a := range Actions {
		s.index[a] = i
	}
	return s
}

// Raise marks a as pending and resets its age.
func (s *Store) Raise(a Action) error {
	i, ok := s.index[a]
	if !ok {
		return fmt.Errorf("raise %v: %w", a, ErrUnknownAction)
	}
	s.flags[i] = flag{pending: true}
	return nil
}

// Consume clears a and returns true if it was pending.
// Each raise is delivered at most once.
func (s *Store) Consume(a Action) bool {
	i, ok := s.index[a]
	if !ok {
		Logf("action: consume of unknown action %v", a)
		return false
	}
	if !s.flags[i].pending {
		return false
	}
	s.flags[i] = flag{}
	return true
}

// Pending reports whether a is pending without consuming it.
func (s *Store) Pending(a Action) bool {
	i, ok := s.index[a]
	return ok && s.flags[i].pending
}

// Tick ages pending flags and drops those that reach the stale threshold.
func (s *Store) Tick() {
	for i := range s.flags {
		if !s.flags[i].pending {
			continue
		}
		s.flags[i].age++
		if s.flags[i].age >= s.staleTicks {
			s.flags[i] = flag{}
		}
	}
}

// Clear drops every pending flag.
func (s *Store) Clear() {
	for i := range s.flags {
		s.flags[i] = flag{}
	}
}
