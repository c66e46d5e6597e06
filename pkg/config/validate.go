package config

import (
	"fmt"
)

// NumPumps is the number of regulated pumps on the instrument.
const NumPumps = 2

// Validate checks configuration correctness.
// It performs declarative validation only and does not mutate the config.
func Validate(cfg *Config) error {
	// ------------------------------------------------------------
	// CYCLE
	// ------------------------------------------------------------

	c := cfg.Cycle
	if c.SampleCount <= 0 {
		return fmt.Errorf("cycle: sample_count must be > 0, got %d", c.SampleCount)
	}
	if c.SamplesPerSlot <= 0 {
		return fmt.Errorf("cycle: samples_per_slot must be > 0, got %d", c.SamplesPerSlot)
	}
	slots := (c.SampleCount + c.SamplesPerSlot - 1) / c.SamplesPerSlot
	if slots > cfg.Housekeeping.MaxRows {
		return fmt.Errorf(
			"cycle: %d frames at %d per slot need %d slots, housekeeping max_rows is %d",
			c.SampleCount,
			c.SamplesPerSlot,
			slots,
			cfg.Housekeeping.MaxRows,
		)
	}
	if c.ErrorBudget <= 0 {
		return fmt.Errorf("cycle: error_budget must be > 0, got %d", c.ErrorBudget)
	}
	if c.StaleTicks <= 0 {
		return fmt.Errorf("cycle: stale_ticks must be > 0, got %d", c.StaleTicks)
	}
	if c.Period <= 0 {
		return fmt.Errorf("cycle: period must be > 0, got %v", c.Period)
	}
	if c.WarmUp < 0 || c.Flush < 0 {
		return fmt.Errorf("cycle: warmup and flush must not be negative")
	}
	if c.Tick <= 0 {
		return fmt.Errorf("cycle: tick must be > 0, got %v", c.Tick)
	}

	// ------------------------------------------------------------
	// BINS (ordering is checked by the binner)
	// ------------------------------------------------------------

	if len(cfg.Bins.HighGain) < 2 {
		return fmt.Errorf("bins: high_gain needs at least 2 boundaries, got %d", len(cfg.Bins.HighGain))
	}
	if len(cfg.Bins.LowGain) < 2 {
		return fmt.Errorf("bins: low_gain needs at least 2 boundaries, got %d", len(cfg.Bins.LowGain))
	}

	// ------------------------------------------------------------
	// PUMPS
	// ------------------------------------------------------------

	if len(cfg.Pumps.Setpoints) != NumPumps {
		return fmt.Errorf("pumps: expected %d setpoints, got %d", NumPumps, len(cfg.Pumps.Setpoints))
	}
	if cfg.Pumps.Samples <= 0 {
		return fmt.Errorf("pumps: samples must be > 0, got %d", cfg.Pumps.Samples)
	}

	// ------------------------------------------------------------
	// PHA
	// ------------------------------------------------------------

	if cfg.PHA.BufferSize <= 0 {
		return fmt.Errorf("pha: buffer_size must be > 0, got %d", cfg.PHA.BufferSize)
	}
	if cfg.PHA.Timeout <= 0 {
		return fmt.Errorf("pha: timeout must be > 0, got %v", cfg.PHA.Timeout)
	}

	// ------------------------------------------------------------
	// SONDE
	// ------------------------------------------------------------

	if cfg.Sonde.Enabled && cfg.Sonde.ReportSamples <= 0 {
		return fmt.Errorf("sonde: report_samples must be > 0, got %d", cfg.Sonde.ReportSamples)
	}

	// ------------------------------------------------------------
	// TELEMETRY
	// ------------------------------------------------------------

	for i := 0; i < len(cfg.Telemetry.Instrument); i++ {
		if cfg.Telemetry.Instrument[i] > 0x7F {
			return fmt.Errorf("telemetry: instrument must contain ASCII characters only")
		}
	}

	return nil
}
