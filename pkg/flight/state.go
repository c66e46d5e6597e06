package flight

import (
	"fmt"
	"time"
)

// State is the controller mode.
type State int

const (
	Entry State = iota
	WaitForTimeBase
	Idle
	WarmUp
	Flush
	Measure
	Report
	Error
	Shutdown
	Exit
)

var stateNames = [...]string{
	Entry:           "entry",
	WaitForTimeBase: "wait_for_time_base",
	Idle:            "idle",
	WarmUp:          "warmup",
	Flush:           "flush",
	Measure:         "measure",
	Report:          "report",
	Error:           "error",
	Shutdown:        "shutdown",
	Exit:            "exit",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// TimeBase reports whether the wall clock has been synchronised.
type TimeBase interface {
	TimeValid() bool
}

// TimeValidFunc adapts a function to TimeBase.
type TimeValidFunc func() bool

// TimeValid calls f.
func (f TimeValidFunc) TimeValid() bool { return f() }

// cycle holds the counters of one measurement cycle.
type cycle struct {
	start        time.Time // warm-up start, the base of the next cycle
	measureStart time.Time
	frame        int
	errors       int
}
