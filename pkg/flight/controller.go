// Package flight sequences the LPC measurement cycle: warm-up, flush,
// measurement and report. The Controller is driven by one Tick per control
// period from a single goroutine and owns every per-cycle buffer.
package flight

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/itohio/stratolpc/pkg/action"
	"github.com/itohio/stratolpc/pkg/bins"
	"github.com/itohio/stratolpc/pkg/clock"
	"github.com/itohio/stratolpc/pkg/config"
	"github.com/itohio/stratolpc/pkg/hk"
	"github.com/itohio/stratolpc/pkg/lpc"
	"github.com/itohio/stratolpc/pkg/pha"
	"github.com/itohio/stratolpc/pkg/pump"
	"github.com/itohio/stratolpc/pkg/sonde"
	"github.com/itohio/stratolpc/pkg/storage"
	"github.com/itohio/stratolpc/pkg/telemetry"
)

// Logf is the package logger. Tests may replace it.
var Logf = log.Printf

// InvalidLaserTemp is the reading at or below which the laser sensor is
// considered disconnected.
const InvalidLaserTemp = -200.0

// Deps are the collaborators of a Controller.
type Deps struct {
	Board     lpc.Board
	PHA       pha.Port
	Transport telemetry.Transport
	TimeBase  TimeBase

	// Clock defaults to wall time.
	Clock clock.Clock
	// Storage receives the TM mirror and sonde CSV files. Nil disables both.
	Storage storage.FileSystem
	// Sonde enables RS41 sampling when set and cfg.Sonde.Enabled.
	Sonde sonde.Sonde
}

// Controller is the flight-cycle state machine.
type Controller struct {
	cfg   *config.Config
	clk   clock.Clock
	tb    TimeBase
	board lpc.Board

	store *action.Store
	sched *action.Scheduler

	reader *pha.Reader
	parser pha.Parser
	frame  pha.Frame

	acc     *bins.Accumulator
	binner  *bins.Binner
	hk      *hk.Sampler
	pumps   *pump.Regulator
	packer  *telemetry.Packager
	sampler *sonde.Sampler

	state  State
	cycle  cycle
	heater bool
	safe   bool
}

// New wires a controller from cfg and d.
func New(cfg *config.Config, d Deps) (*Controller, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("flight: %w", err)
	}
	if d.Board == nil || d.PHA == nil || d.Transport == nil || d.TimeBase == nil {
		return nil, errors.New("flight: board, pha, transport and time base are required")
	}
	clk := d.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	set := bins.BinSet{HG: cfg.Bins.HighGain, LG: cfg.Bins.LowGain}
	acc := bins.NewAccumulator(set.NumBins(), slots(cfg.Cycle.SampleCount, cfg.Cycle.SamplesPerSlot))
	binner, err := bins.NewBinner(set, acc, cfg.Cycle.SamplesPerSlot)
	if err != nil {
		return nil, fmt.Errorf("flight: %w", err)
	}

	rec := hk.NewRecord(cfg.Housekeeping.MaxRows)
	var mirror *telemetry.Mirror
	if d.Storage != nil {
		mirror = telemetry.NewMirror(d.Storage, cfg.Telemetry.Instrument)
	}

	store := action.NewStore(cfg.Cycle.StaleTicks)
	c := &Controller{
		cfg:    cfg,
		clk:    clk,
		tb:     d.TimeBase,
		board:  d.Board,
		store:  store,
		sched:  action.NewScheduler(clk, store),
		reader: pha.NewReader(d.PHA, clk, cfg.PHA.Timeout, cfg.PHA.BufferSize),
		acc:    acc,
		binner: binner,
		hk:     hk.NewSampler(d.Board, clk, cfg.Housekeeping, rec),
		pumps:  pump.NewRegulator(d.Board, clk, cfg.Pumps),
		packer: telemetry.NewPackager(d.Transport, acc, rec, cfg.Limits, mirror),
		state:  Entry,
	}

	if cfg.Sonde.Enabled && d.Sonde != nil {
		var csv *storage.CSVLog
		if d.Storage != nil {
			csv = storage.NewCSVLog(d.Storage, "RS41", sonde.Header, cfg.Sonde.ReportSamples)
		}
		c.sampler = sonde.NewSampler(d.Sonde, d.Transport, csv, clk, cfg.Sonde.ReportSamples)
	}
	return c, nil
}

// State returns the current mode.
func (c *Controller) State() State {
	return c.state
}

// Frame returns the frame index of the running cycle.
func (c *Controller) Frame() int {
	return c.cycle.frame
}

// Errors returns the consecutive frame error count of the running cycle.
func (c *Controller) Errors() int {
	return c.cycle.errors
}

// Pump returns the regulation state of pump.
func (c *Controller) Pump(p int) pump.State {
	return c.pumps.State(p)
}

// Scheduler exposes the action scheduler so external telecommands can
// queue actions.
func (c *Controller) Scheduler() *action.Scheduler {
	return c.sched
}

// Tick runs one control period and returns the resulting mode.
func (c *Controller) Tick() State {
	now := c.clk.Now()
	c.sched.Run(now)
	c.sampleSonde()

	switch c.state {
	case Entry:
		Logf("flight: entering LPC flight mode")
		c.store.Clear()
		c.setState(WaitForTimeBase)
	case WaitForTimeBase:
		c.waitForTimeBase(now)
	case Idle:
		if c.store.Consume(action.StartWarmUp) {
			c.startWarmUp(now)
		}
	case WarmUp:
		c.warmUp()
	case Flush:
		if c.store.Consume(action.StartMeasurement) {
			c.startMeasurement(now)
		}
	case Measure:
		c.measure()
	case Report:
		c.report(now)
	case Error, Shutdown, Exit:
		c.safeShutdown()
	default:
		Logf("error: flight: unknown state %v, resetting", c.state)
		c.setState(Entry)
	}

	c.store.Tick()
	return c.state
}

// Shutdown forces the actuators off and parks the controller.
func (c *Controller) Shutdown() {
	c.setState(Shutdown)
	c.safeShutdown()
}

// Exit shuts the actuators off and discards in-flight sampling state.
func (c *Controller) Exit() {
	c.setState(Exit)
	c.safeShutdown()
	c.discard()
	if c.sampler != nil {
		c.sampler.Discard()
	}
}

// Reset returns the controller to Entry with fresh cycle state. It is the
// way out of Error.
func (c *Controller) Reset() {
	c.safeShutdown()
	c.discard()
	c.acc.Reset()
	c.hk.Record().Reset()
	c.pumps.Reset()
	c.setState(Entry)
}

func (c *Controller) setState(s State) {
	if s != c.state {
		Logf("flight: %v -> %v", c.state, s)
	}
	c.state = s
}

func (c *Controller) discard() {
	c.cycle = cycle{}
	c.reader.Discard()
	c.store.Clear()
	for _, a := range []action.Action{action.StartWarmUp, action.StartFlush, action.StartMeasurement} {
		c.sched.Cancel(a)
	}
}

func (c *Controller) waitForTimeBase(now time.Time) {
	if !c.tb.TimeValid() {
		return
	}
	var first time.Time
	if c.cfg.Cycle.ImmediateStart {
		first = now.Add(c.cfg.Cycle.ImmediateDelay)
	} else {
		first = now.UTC().Truncate(time.Hour).Add(time.Hour)
	}
	c.schedule(action.StartWarmUp, first)
	Logf("flight: time base valid, first cycle at %s", first.UTC().Format(time.RFC3339))
	c.setState(Idle)
}

func (c *Controller) startWarmUp(now time.Time) {
	c.cycle = cycle{start: now}

	if reason := c.unsafe(); reason != "" {
		Logf("warn: flight: %s, skipping cycle", reason)
		c.schedule(action.StartWarmUp, now.Add(c.cfg.Cycle.Period))
		return
	}

	c.safe = false
	c.pumps.Enable()
	c.setLine(lpc.PHAPower, true)
	c.setLine(lpc.MFSPower, true)
	if t, err := c.board.ReadTemp(lpc.TempLaser); err == nil {
		c.laserHeater(t)
	}
	c.schedule(action.StartFlush, now.Add(c.cfg.Cycle.WarmUp))
	c.setState(WarmUp)
}

// unsafe describes why a cycle must not start, or returns "".
func (c *Controller) unsafe() string {
	t, err := c.board.ReadTemp(lpc.TempLaser)
	if err != nil {
		return fmt.Sprintf("laser temperature: %v", err)
	}
	if t <= InvalidLaserTemp {
		return fmt.Sprintf("laser temperature %.2f invalid", t)
	}
	for p, s := range []lpc.Sensor{lpc.TempPump1, lpc.TempPump2} {
		t, err := c.board.ReadTemp(s)
		if err != nil {
			return fmt.Sprintf("pump %d temperature: %v", p+1, err)
		}
		if t > c.cfg.Pumps.ShutdownC {
			return fmt.Sprintf("pump %d temperature %.2f above %.2f", p+1, t, c.cfg.Pumps.ShutdownC)
		}
	}
	return ""
}

func (c *Controller) warmUp() {
	if !c.store.Consume(action.StartFlush) {
		if t, err := c.board.ReadTemp(lpc.TempLaser); err == nil {
			c.laserHeater(t)
		}
		return
	}

	c.heaterOff()
	if err := c.pumps.Start(); err != nil {
		Logf("error: flight: %v", err)
	}
	if c.cfg.PHA.Settle > 0 {
		c.clk.Sleep(c.cfg.PHA.Settle)
	}
	c.schedule(action.StartMeasurement, c.clk.Now().Add(c.cfg.Cycle.Flush))
	c.setState(Flush)
}

// laserHeater is a bang-bang step around the laser setpoint.
func (c *Controller) laserHeater(t float64) {
	sp := c.cfg.Laser.Setpoint
	switch {
	case t < sp && !c.heater:
		c.heater = true
		c.setLine(lpc.Heater1, true)
	case t > sp+c.cfg.Laser.Deadband && c.heater:
		c.heaterOff()
	}
}

func (c *Controller) heaterOff() {
	c.heater = false
	c.setLine(lpc.Heater1, false)
}

func (c *Controller) startMeasurement(now time.Time) {
	c.cycle.frame = 0
	c.cycle.errors = 0
	c.cycle.measureStart = now
	c.reader.Flush()
	Logf("flight: measuring %d frames", c.cfg.Cycle.SampleCount)
	c.setState(Measure)
}

func (c *Controller) measure() {
	status, line := c.reader.Poll()
	switch status {
	case pha.NoData:
	case pha.Timeout:
		c.frameError(errors.New("frame timeout"))
	case pha.FrameReady:
		if err := c.process(line); err != nil {
			c.frameError(err)
		} else {
			c.cycle.frame++
			c.cycle.errors = 0
		}
	}

	switch {
	case c.cycle.frame >= c.cfg.Cycle.SampleCount:
		c.setState(Report)
	case c.cycle.errors >= c.cfg.Cycle.ErrorBudget:
		Logf("error: flight: %d consecutive frame errors", c.cycle.errors)
		c.safeShutdown()
		c.setState(Error)
	}
}

// process parses and bins one frame, then samples housekeeping at the
// start of each slot and regulates the pumps.
func (c *Controller) process(line []byte) error {
	if err := c.parser.Parse(line, &c.frame); err != nil {
		return err
	}
	if err := c.binner.Fill(&c.frame, c.cycle.frame); err != nil {
		return err
	}

	if c.cycle.frame%c.cfg.Cycle.SamplesPerSlot == 0 {
		c.housekeeping(c.binner.Slot(c.cycle.frame))
	}

	if err := c.pumps.Adjust(float32(c.hk.Latest().VBattery)); err != nil {
		Logf("warn: flight: %v", err)
	}
	return nil
}

func (c *Controller) housekeeping(slot int) {
	r, err := c.hk.Sample(slot, c.clk.Since(c.cycle.measureStart))
	if err != nil {
		Logf("error: flight: housekeeping slot %d: %v", slot, err)
	}
	for p, hot := range r.OverTemp(c.cfg.Pumps.ShutdownC) {
		if hot && !c.pumps.State(p).Disabled {
			Logf("warn: flight: pump %d at %.2f C, disabling", p+1, r.PumpTemp(p))
			if err := c.pumps.Disable(p); err != nil {
				Logf("error: flight: %v", err)
			}
		}
	}
}

func (c *Controller) frameError(err error) {
	c.cycle.errors++
	Logf("warn: flight: frame %d: %v (%d/%d)", c.cycle.frame, err, c.cycle.errors, c.cfg.Cycle.ErrorBudget)
}

func (c *Controller) report(now time.Time) {
	c.safeShutdown()
	n := slots(c.cycle.frame, c.cfg.Cycle.SamplesPerSlot)
	if err := c.packer.Package(n, c.hk.Latest(), now); err != nil {
		Logf("error: flight: %v", err)
	}
	c.schedule(action.StartWarmUp, c.cycle.start.Add(c.cfg.Cycle.Period))
	c.setState(Idle)
}

// safeShutdown turns every actuator off. Repeated calls are no-ops until
// something is powered again.
func (c *Controller) safeShutdown() {
	if c.safe {
		return
	}
	if err := c.pumps.Stop(); err != nil {
		Logf("error: flight: %v", err)
	}
	c.heater = false
	for _, l := range []lpc.Line{lpc.Heater1, lpc.Heater2, lpc.PHAPower, lpc.MFSPower} {
		c.setLine(l, false)
	}
	c.safe = true
}

func (c *Controller) setLine(l lpc.Line, on bool) {
	if err := c.board.SetLine(l, on); err != nil {
		Logf("error: flight: set %v: %v", l, err)
	}
}

func (c *Controller) schedule(a action.Action, t time.Time) {
	if err := c.sched.At(a, t); err != nil {
		Logf("error: flight: schedule %v: %v", a, err)
	}
}

// sampleSonde keeps one SondeSample queued and steps the sonde sampler
// whenever it fires.
func (c *Controller) sampleSonde() {
	if c.sampler == nil || c.state == Entry || c.state == Exit {
		return
	}
	if c.store.Consume(action.SondeSample) {
		if err := c.sampler.Step(c.tb.TimeValid()); err != nil {
			Logf("warn: flight: %v", err)
		}
	}
	if _, ok := c.sched.Next(action.SondeSample); !ok {
		c.schedule(action.SondeSample, c.clk.Now().Add(c.cfg.Sonde.Period))
	}
}

func slots(frames, perSlot int) int {
	return (frames + perSlot - 1) / perSlot
}
