package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the instrument configuration.
type Config struct {
	PHA          PHAConfig          `yaml:"pha"`
	Cycle        CycleConfig        `yaml:"cycle"`
	Bins         BinsConfig         `yaml:"bins"`
	Pumps        PumpConfig         `yaml:"pumps"`
	Laser        LaserConfig        `yaml:"laser"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
	Limits       LimitsConfig       `yaml:"limits"`
	Storage      StorageConfig      `yaml:"storage"`
	Sonde        SondeConfig        `yaml:"sonde"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Bench        BenchConfig        `yaml:"bench"`
}

// PHAConfig contains the pulse-height-analyser serial link configuration.
type PHAConfig struct {
	Port       string        `yaml:"port"`
	BaudRate   int           `yaml:"baud_rate"`
	Timeout    time.Duration `yaml:"timeout"`     // Frame deadline from the first byte poll
	BufferSize int           `yaml:"buffer_size"` // Frame byte budget
	Settle     time.Duration `yaml:"settle"`      // Line settle delay after opening
}

// CycleConfig contains measurement cycle parameters.
type CycleConfig struct {
	SampleCount    int           `yaml:"sample_count"`     // PHA frames per cycle
	SamplesPerSlot int           `yaml:"samples_per_slot"` // Frames co-added per slot
	Period         time.Duration `yaml:"period"`           // Start-to-start cycle period
	WarmUp         time.Duration `yaml:"warmup"`
	Flush          time.Duration `yaml:"flush"`
	ErrorBudget    int           `yaml:"error_budget"` // Consecutive frame errors before Error
	StaleTicks     int           `yaml:"stale_ticks"`  // Ticks before an unconsumed action drops
	Tick           time.Duration `yaml:"tick"`
	ImmediateStart bool          `yaml:"immediate_start"` // Start after ImmediateDelay instead of the next hour
	ImmediateDelay time.Duration `yaml:"immediate_delay"`
}

// BinsConfig contains channel bin boundaries.
type BinsConfig struct {
	HighGain []int `yaml:"high_gain"`
	LowGain  []int `yaml:"low_gain"`
}

// PumpConfig contains back-EMF regulation parameters.
type PumpConfig struct {
	Setpoints   []float64     `yaml:"setpoints"`    // Back-EMF setpoint per pump (V)
	Gain        float64       `yaml:"gain"`         // Proportional gain (duty counts per volt)
	InitialDuty int           `yaml:"initial_duty"` // Duty applied at pump start
	StartGap    time.Duration `yaml:"start_gap"`    // Delay between sequential pump starts
	Settle      time.Duration `yaml:"settle"`       // Drive-off settle before sensing
	InterPump   time.Duration `yaml:"inter_pump"`   // Delay between pump corrections
	Samples     int           `yaml:"samples"`      // Back-EMF samples to average
	Divider     float64       `yaml:"divider"`      // Back-EMF sense divider ratio
	ShutdownC   float64       `yaml:"shutdown_c"`   // Pump over-temperature cut (°C)
}

// LaserConfig contains laser heater control parameters.
type LaserConfig struct {
	Setpoint float64 `yaml:"setpoint"` // Target laser temperature (°C)
	Deadband float64 `yaml:"deadband"`
}

// HousekeepingConfig contains analog conversion coefficients.
type HousekeepingConfig struct {
	AverageWindow      time.Duration `yaml:"average_window"`
	MaxRows            int           `yaml:"max_rows"`
	VRef               float64       `yaml:"vref"`
	PumpCurrentScale   float64       `yaml:"pump_current_scale"`   // mA at ADC full scale
	CurrentDivisor     float64       `yaml:"current_divisor"`      // counts per mA, heater and detector
	DetectorVoltageDiv float64       `yaml:"detector_voltage_div"` // divider ratio
	PHAVoltageDiv      float64       `yaml:"pha_voltage_div"`
	TeensyVoltageDiv   float64       `yaml:"teensy_voltage_div"`
	BatteryVoltageDiv  float64       `yaml:"battery_voltage_div"`
	FlowScale          float64       `yaml:"flow_scale"`
	DefaultFlow        float64       `yaml:"default_flow"` // L/min used when the flow sensor fails
}

// LimitsConfig contains the health ranges reported in telemetry.
type LimitsConfig struct {
	PumpTempMin  float64 `yaml:"pump_temp_min"`
	PumpTempMax  float64 `yaml:"pump_temp_max"`
	LaserTempMin float64 `yaml:"laser_temp_min"`
	LaserTempMax float64 `yaml:"laser_temp_max"`
	BatteryMin   float64 `yaml:"battery_min"`
	BatteryMax   float64 `yaml:"battery_max"`
}

// StorageConfig contains local storage configuration.
type StorageConfig struct {
	Dir string `yaml:"dir"`
}

// SondeConfig contains radiosonde sampling configuration.
type SondeConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Period        time.Duration `yaml:"period"`
	ReportSamples int           `yaml:"report_samples"` // Samples per TM and per CSV file
}

// TelemetryConfig contains the downlink relay configuration.
type TelemetryConfig struct {
	Instrument string `yaml:"instrument"`
	Broker     string `yaml:"broker"` // Empty disables MQTT relay
	Topic      string `yaml:"topic"`
	ClientID   string `yaml:"client_id"`
}

// BenchConfig contains bench-rig hardware bindings.
type BenchConfig struct {
	Chip       string         `yaml:"chip"`
	Lines      map[string]int `yaml:"lines"` // line name -> gpio offset
	ModbusPort string         `yaml:"modbus_port"`
	ModbusBaud int            `yaml:"modbus_baud"`
	SlaveID    uint8          `yaml:"slave_id"`
	Timeout    time.Duration  `yaml:"timeout"`
	AnalogBase uint16         `yaml:"analog_base"` // First input register of the analog block
	TempBase   uint16         `yaml:"temp_base"`   // First input register of RTD temperatures (°C x100, signed)
	FlowReg    uint16         `yaml:"flow_reg"`    // Input register holding raw flow counts
	PWMBase    uint16         `yaml:"pwm_base"`    // First holding register of pump PWM outputs
}

// Default returns the flight configuration of the instrument.
func Default() *Config {
	return &Config{
		PHA: PHAConfig{
			Port:       "/dev/ttyS1",
			BaudRate:   500000,
			Timeout:    time.Second,
			BufferSize: 4096,
			Settle:     500 * time.Millisecond,
		},
		Cycle: CycleConfig{
			SampleCount:    80,
			SamplesPerSlot: 1,
			Period:         10 * time.Minute,
			WarmUp:         10 * time.Second,
			Flush:          10 * time.Second,
			ErrorBudget:    100,
			StaleTicks:     2,
			Tick:           100 * time.Millisecond,
			ImmediateStart: false,
			ImmediateDelay: 10 * time.Second,
		},
		Bins: BinsConfig{
			HighGain: []int{0, 6, 13, 19, 25, 31, 37, 48, 59, 69, 78, 87, 95, 102, 109, 120, 129},
			LowGain:  []int{26, 32, 36, 40, 44, 48, 57, 65, 73, 81, 111, 143, 187, 210, 230, 245, 255},
		},
		Pumps: PumpConfig{
			Setpoints:   []float64{7.8, 7.8},
			Gain:        30,
			InitialDuty: 128,
			StartGap:    200 * time.Millisecond,
			Settle:      500 * time.Microsecond,
			InterPump:   10 * time.Millisecond,
			Samples:     32,
			Divider:     18,
			ShutdownC:   75,
		},
		Laser: LaserConfig{
			Setpoint: -30,
			Deadband: 0.5,
		},
		Housekeeping: HousekeepingConfig{
			AverageWindow:      10 * time.Millisecond,
			MaxRows:            300,
			VRef:               3.3,
			PumpCurrentScale:   30000,
			CurrentDivisor:     1.058,
			DetectorVoltageDiv: 5.993,
			PHAVoltageDiv:      2.0,
			TeensyVoltageDiv:   2.0,
			BatteryVoltageDiv:  6.772,
			FlowScale:          2.66,
			DefaultFlow:        20.0 / 30.0,
		},
		Limits: LimitsConfig{
			PumpTempMin:  -30,
			PumpTempMax:  60,
			LaserTempMin: -30,
			LaserTempMax: 50,
			BatteryMin:   14,
			BatteryMax:   18,
		},
		Storage: StorageConfig{
			Dir: "data",
		},
		Sonde: SondeConfig{
			Enabled:       true,
			Period:        time.Second,
			ReportSamples: 300,
		},
		Telemetry: TelemetryConfig{
			Instrument: "LPC",
			Broker:     "",
			Topic:      "lpc/tm",
			ClientID:   "stratolpc",
		},
		Bench: BenchConfig{
			Chip: "gpiochip0",
			Lines: map[string]int{
				"pha_power": 17,
				"mfs_power": 27,
				"heater1":   22,
				"heater2":   23,
			},
			ModbusPort: "/dev/ttyUSB0",
			ModbusBaud: 19200,
			SlaveID:    1,
			Timeout:    200 * time.Millisecond,
			AnalogBase: 0,
			TempBase:   16,
			FlowReg:    24,
			PWMBase:    0,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults fills zero values left by a partial YAML file.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.PHA.Port == "" {
		c.PHA.Port = def.PHA.Port
	}
	if c.PHA.BaudRate == 0 {
		c.PHA.BaudRate = def.PHA.BaudRate
	}
	if c.PHA.Timeout == 0 {
		c.PHA.Timeout = def.PHA.Timeout
	}
	if c.PHA.BufferSize == 0 {
		c.PHA.BufferSize = def.PHA.BufferSize
	}

	if c.Cycle.SampleCount == 0 {
		c.Cycle.SampleCount = def.Cycle.SampleCount
	}
	if c.Cycle.SamplesPerSlot == 0 {
		c.Cycle.SamplesPerSlot = def.Cycle.SamplesPerSlot
	}
	if c.Cycle.Period == 0 {
		c.Cycle.Period = def.Cycle.Period
	}
	if c.Cycle.ErrorBudget == 0 {
		c.Cycle.ErrorBudget = def.Cycle.ErrorBudget
	}
	if c.Cycle.StaleTicks == 0 {
		c.Cycle.StaleTicks = def.Cycle.StaleTicks
	}
	if c.Cycle.Tick == 0 {
		c.Cycle.Tick = def.Cycle.Tick
	}
	if c.Cycle.ImmediateDelay == 0 {
		c.Cycle.ImmediateDelay = def.Cycle.ImmediateDelay
	}

	if len(c.Bins.HighGain) == 0 {
		c.Bins.HighGain = def.Bins.HighGain
	}
	if len(c.Bins.LowGain) == 0 {
		c.Bins.LowGain = def.Bins.LowGain
	}

	if len(c.Pumps.Setpoints) == 0 {
		c.Pumps.Setpoints = def.Pumps.Setpoints
	}
	if c.Pumps.Gain == 0 {
		c.Pumps.Gain = def.Pumps.Gain
	}
	if c.Pumps.InitialDuty == 0 {
		c.Pumps.InitialDuty = def.Pumps.InitialDuty
	}
	if c.Pumps.Samples == 0 {
		c.Pumps.Samples = def.Pumps.Samples
	}
	if c.Pumps.Divider == 0 {
		c.Pumps.Divider = def.Pumps.Divider
	}
	if c.Pumps.ShutdownC == 0 {
		c.Pumps.ShutdownC = def.Pumps.ShutdownC
	}

	if c.Housekeeping.AverageWindow == 0 {
		c.Housekeeping.AverageWindow = def.Housekeeping.AverageWindow
	}
	if c.Housekeeping.MaxRows == 0 {
		c.Housekeeping.MaxRows = def.Housekeeping.MaxRows
	}
	if c.Housekeeping.VRef == 0 {
		c.Housekeeping.VRef = def.Housekeeping.VRef
	}
	if c.Housekeeping.PumpCurrentScale == 0 {
		c.Housekeeping.PumpCurrentScale = def.Housekeeping.PumpCurrentScale
	}
	if c.Housekeeping.CurrentDivisor == 0 {
		c.Housekeeping.CurrentDivisor = def.Housekeeping.CurrentDivisor
	}
	if c.Housekeeping.DetectorVoltageDiv == 0 {
		c.Housekeeping.DetectorVoltageDiv = def.Housekeeping.DetectorVoltageDiv
	}
	if c.Housekeeping.PHAVoltageDiv == 0 {
		c.Housekeeping.PHAVoltageDiv = def.Housekeeping.PHAVoltageDiv
	}
	if c.Housekeeping.TeensyVoltageDiv == 0 {
		c.Housekeeping.TeensyVoltageDiv = def.Housekeeping.TeensyVoltageDiv
	}
	if c.Housekeeping.BatteryVoltageDiv == 0 {
		c.Housekeeping.BatteryVoltageDiv = def.Housekeeping.BatteryVoltageDiv
	}
	if c.Housekeeping.FlowScale == 0 {
		c.Housekeeping.FlowScale = def.Housekeeping.FlowScale
	}
	if c.Housekeeping.DefaultFlow == 0 {
		c.Housekeeping.DefaultFlow = def.Housekeeping.DefaultFlow
	}

	if c.Storage.Dir == "" {
		c.Storage.Dir = def.Storage.Dir
	}

	if c.Sonde.Period == 0 {
		c.Sonde.Period = def.Sonde.Period
	}
	if c.Sonde.ReportSamples == 0 {
		c.Sonde.ReportSamples = def.Sonde.ReportSamples
	}

	if c.Telemetry.Instrument == "" {
		c.Telemetry.Instrument = def.Telemetry.Instrument
	}
	if c.Telemetry.Topic == "" {
		c.Telemetry.Topic = def.Telemetry.Topic
	}
	if c.Telemetry.ClientID == "" {
		c.Telemetry.ClientID = def.Telemetry.ClientID
	}

	if c.Bench.Chip == "" {
		c.Bench.Chip = def.Bench.Chip
	}
	if len(c.Bench.Lines) == 0 {
		c.Bench.Lines = def.Bench.Lines
	}
	if c.Bench.ModbusBaud == 0 {
		c.Bench.ModbusBaud = def.Bench.ModbusBaud
	}
	if c.Bench.Timeout == 0 {
		c.Bench.Timeout = def.Bench.Timeout
	}
}
