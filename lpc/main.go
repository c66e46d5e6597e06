// Command lpc runs the LPC flight-cycle engine against the bench rig or a
// simulated instrument.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itohio/stratolpc/pkg/clock"
	"github.com/itohio/stratolpc/pkg/config"
	"github.com/itohio/stratolpc/pkg/flight"
	"github.com/itohio/stratolpc/pkg/lpc"
	"github.com/itohio/stratolpc/pkg/sonde"
	"github.com/itohio/stratolpc/pkg/storage"
	"github.com/itohio/stratolpc/pkg/telemetry"
)

// timeEpoch is the earliest wall time accepted as a synchronised clock. An
// unset RTC boots far before it.
var timeEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func main() {
	var (
		configFlag    = flag.String("config", "config.yaml", "Configuration file path")
		portFlag      = flag.String("p", "", "PHA serial port override (e.g., /dev/ttyS1)")
		mockFlag      = flag.Bool("mock", false, "Use a simulated instrument instead of the bench rig")
		tickFlag      = flag.Duration("tick", 0, "Control period (0 = config)")
		immediateFlag = flag.Bool("immediate", false, "Start the first cycle after cycle.immediate_delay instead of on the hour")
		dirFlag       = flag.String("dir", "", "Data directory override")
		brokerFlag    = flag.String("broker", "", "MQTT broker override (e.g., tcp://localhost:1883)")
		portsFlag     = flag.Bool("ports", false, "List serial ports and exit")
	)
	flag.Parse()

	if *portsFlag {
		if err := listPorts(); err != nil {
			log.Fatalf("fatal: %v", err)
		}
		return
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.PHA.Port = *portFlag
	}
	if *tickFlag > 0 {
		cfg.Cycle.Tick = *tickFlag
	}
	if *immediateFlag {
		cfg.Cycle.ImmediateStart = true
	}
	if *dirFlag != "" {
		cfg.Storage.Dir = *dirFlag
	}
	if *brokerFlag != "" {
		cfg.Telemetry.Broker = *brokerFlag
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := run(cfg, *mockFlag); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func listPorts() error {
	ports, err := lpc.Ports()
	if err != nil {
		return err
	}
	for _, p := range ports {
		fmt.Printf("%s\t%s\n", p.Name, p.Description)
	}
	return nil
}

func run(cfg *config.Config, mock bool) error {
	deps := flight.Deps{
		Clock:    clock.Real{},
		Storage:  storage.Dir(cfg.Storage.Dir),
		TimeBase: flight.TimeValidFunc(func() bool { return time.Now().After(timeEpoch) }),
	}

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				log.Printf("close: %v", err)
			}
		}
	}()

	if mock {
		board := lpc.NewMock()
		port := lpc.NewMockPHA(board, uint64(time.Now().UnixNano()))
		deps.Board, deps.PHA, deps.Sonde = board, port, &sonde.Mock{}
		closers = append(closers, board, port)
		log.Printf("using simulated instrument")
	} else {
		board, err := lpc.NewBench(cfg.Bench)
		if err != nil {
			return fmt.Errorf("open bench: %w", err)
		}
		closers = append(closers, board)

		port, err := lpc.OpenPHA(cfg.PHA)
		if err != nil {
			return fmt.Errorf("open pha: %w", err)
		}
		closers = append(closers, port)
		deps.Board, deps.PHA = board, port
		log.Printf("PHA on %s at %d baud", cfg.PHA.Port, cfg.PHA.BaudRate)
	}

	if cfg.Telemetry.Broker != "" {
		pub, err := telemetry.NewRealPublisher(cfg.Telemetry.Broker, cfg.Telemetry.ClientID)
		if err != nil {
			return fmt.Errorf("connect mqtt: %w", err)
		}
		closers = append(closers, pub)
		deps.Transport = telemetry.NewMQTTTransport(pub, cfg.Telemetry.Topic, cfg.Telemetry.Instrument, deps.Clock)
		log.Printf("relaying TM to %s topic %s", cfg.Telemetry.Broker, cfg.Telemetry.Topic)
	} else {
		deps.Transport = &telemetry.Buffer{}
	}

	ctl, err := flight.New(cfg, deps)
	if err != nil {
		return err
	}

	log.Printf("started: tick=%v period=%v samples=%d data=%s", cfg.Cycle.Tick, cfg.Cycle.Period, cfg.Cycle.SampleCount, cfg.Storage.Dir)

	ticker := time.NewTicker(cfg.Cycle.Tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(ctl, ticker.C, sigCh)
}

// engine is the part of the controller driven by the loop.
type engine interface {
	Tick() flight.State
	Exit()
}

func runLoop(ctl engine, tick <-chan time.Time, sig <-chan os.Signal) error {
	var last flight.State
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			ctl.Exit()
			return nil

		case <-tick:
			state := ctl.Tick()
			if state == flight.Error && last != flight.Error {
				log.Printf("error: cycle aborted, waiting for reset")
			}
			last = state
		}
	}
}
