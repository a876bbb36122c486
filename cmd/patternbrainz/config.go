package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the patternbrainz daemon.
//
// Defaults and validation live here so the rest of the code can assume a
// well-formed config. Validation rejects bad values; it never clamps them.
type Config struct {
	Patterns  PatternsConfig    `yaml:"patterns"`
	Speed     SpeedConfig       `yaml:"speed"`
	Stream    StreamConfig      `yaml:"stream"`
	Dispatch  DispatchConfig    `yaml:"dispatch"`
	Buildup   BuildupFileConfig `yaml:"buildup"`
	Chaos     ChaosFileConfig   `yaml:"chaos"`
	Joystick  JoystickConfig    `yaml:"joystick"`
	Transport TransportConfig   `yaml:"transport"`
	Device    DeviceRangeConfig `yaml:"device"`
	Status    StatusConfig      `yaml:"status"`
	IPC       IPCConfig         `yaml:"ipc"`
	HTTP      HTTPConfig        `yaml:"http"`
	Logging   LoggingConfig     `yaml:"logging"`
}

type PatternsConfig struct {
	Dir            string `yaml:"dir"`
	Category       string `yaml:"category"` // empty: first category found
	ClimaxCategory string `yaml:"climax_category"`
}

type SpeedConfig struct {
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	Neutral float64 `yaml:"neutral"`
	Initial float64 `yaml:"initial"`
}

type StreamConfig struct {
	BaseDurationMS      int     `yaml:"base_duration_ms"`
	MinDurationMS       int     `yaml:"min_duration_ms"`
	MaxDurationMS       int     `yaml:"max_duration_ms"`
	HorizonTargetMS     int     `yaml:"horizon_target_ms"`
	RefillRatio         float64 `yaml:"refill_ratio"`
	MaxPatternsPerBuild int     `yaml:"max_patterns_per_build"`
	HistorySize         int     `yaml:"history_size"`
}

type DispatchConfig struct {
	FloorMS          int `yaml:"floor_ms"`
	ManualIntervalMS int `yaml:"manual_interval_ms"`
	ManualDurationMS int `yaml:"manual_duration_ms"`
}

// BuildupFileConfig holds the defaults used when a build-up request leaves fields out.
type BuildupFileConfig struct {
	DurationSec float64 `yaml:"duration_s"`
	Cycles      int     `yaml:"cycles"`
	StartSpeed  float64 `yaml:"start_speed"`
	EndSpeed    float64 `yaml:"end_speed"`
}

type RangeFileConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

type ChaosFileConfig struct {
	ExtremeChance float64         `yaml:"extreme_chance"`
	ExtremeLow    RangeFileConfig `yaml:"extreme_low"`
	ExtremeHigh   RangeFileConfig `yaml:"extreme_high"`
	Central       RangeFileConfig `yaml:"central"`

	// Intervals in seconds.
	SpeedEverySec    RangeFileConfig `yaml:"speed_every_s"`
	CategoryEverySec RangeFileConfig `yaml:"category_every_s"`
	SkipEverySec     RangeFileConfig `yaml:"skip_every_s"`

	FirstSpeedAfterSec    float64 `yaml:"first_speed_after_s"`
	FirstCategoryAfterSec float64 `yaml:"first_category_after_s"`
	FirstSkipAfterSec     float64 `yaml:"first_skip_after_s"`

	Step    float64 `yaml:"step"`
	Epsilon float64 `yaml:"epsilon"`
}

// DeviceRangeConfig limits device travel, in percent of full stroke.
type DeviceRangeConfig struct {
	RangeMin int `yaml:"range_min"`
	RangeMax int `yaml:"range_max"`
}

type StatusConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	IntervalMS int    `yaml:"interval_ms"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen"` // empty disables the state server
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	chaos := DefaultChaosConfig()
	secs := func(d time.Duration) float64 { return d.Seconds() }
	return Config{
		Patterns: PatternsConfig{
			Dir:            "./patterns",
			ClimaxCategory: defaultClimaxCategory,
		},
		Speed: SpeedConfig{
			Min:     defaultMinSpeed,
			Max:     defaultMaxSpeed,
			Neutral: defaultNeutralSpeed,
			Initial: defaultManualSpeed,
		},
		Stream: StreamConfig{
			BaseDurationMS:      defaultBaseDurationMS,
			MinDurationMS:       defaultMinDurationMS,
			MaxDurationMS:       defaultMaxDurationMS,
			HorizonTargetMS:     defaultHorizonTargetMS,
			RefillRatio:         defaultRefillRatio,
			MaxPatternsPerBuild: defaultMaxPatternsPerBuild,
			HistorySize:         defaultHistorySize,
		},
		Dispatch: DispatchConfig{
			FloorMS:          defaultDispatchFloorMS,
			ManualIntervalMS: defaultManualIntervalMS,
			ManualDurationMS: defaultManualDurationMS,
		},
		Buildup: BuildupFileConfig{
			DurationSec: defaultBuildupDurationSec,
			Cycles:      defaultBuildupCycles,
			StartSpeed:  defaultMinSpeed,
			EndSpeed:    defaultMaxSpeed,
		},
		Chaos: ChaosFileConfig{
			ExtremeChance:         chaos.ExtremeChance,
			ExtremeLow:            RangeFileConfig{chaos.ExtremeLow.Lo, chaos.ExtremeLow.Hi},
			ExtremeHigh:           RangeFileConfig{chaos.ExtremeHigh.Lo, chaos.ExtremeHigh.Hi},
			Central:               RangeFileConfig{chaos.Central.Lo, chaos.Central.Hi},
			SpeedEverySec:         RangeFileConfig{secs(chaos.SpeedEvery.Min), secs(chaos.SpeedEvery.Max)},
			CategoryEverySec:      RangeFileConfig{secs(chaos.CategoryEvery.Min), secs(chaos.CategoryEvery.Max)},
			SkipEverySec:          RangeFileConfig{secs(chaos.SkipEvery.Min), secs(chaos.SkipEvery.Max)},
			FirstSpeedAfterSec:    secs(chaos.FirstSpeedAfter),
			FirstCategoryAfterSec: secs(chaos.FirstCategoryAfter),
			FirstSkipAfterSec:     secs(chaos.FirstSkipAfter),
			Step:                  chaos.Step,
			Epsilon:               chaos.Epsilon,
		},
		Joystick: DefaultJoystickConfig(),
		Transport: TransportConfig{
			Kind:         "http",
			URL:          defaultTransportURL,
			TimeoutMS:    defaultTransportTimeoutMS,
			StatusPollMS: defaultStatusPollMS,
		},
		Device: DeviceRangeConfig{
			RangeMin: 0,
			RangeMax: 100,
		},
		Status: StatusConfig{
			Enabled:    true,
			Path:       defaultStatusPath,
			IntervalMS: defaultStatusIntervalMS,
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/patternbrainz.sock",
		},
		HTTP: HTTPConfig{
			Listen: "127.0.0.1:3002",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads a YAML config file over DefaultConfig.
// Unknown fields and trailing documents are rejected.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}
	return cfg, nil
}

// FlagOverrides carries explicitly-set CLI flags. A nil pointer means "not set".
type FlagOverrides struct {
	PatternsDir *string
	Category    *string

	TransportKind *string
	TransportURL  *string
	RequireDevice *bool

	JoystickEnabled *bool
	JoystickDevice  *string

	StatusPath *string
	IPCSocket  *string
	HTTPListen *string

	LogLevel *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.PatternsDir != nil {
		cfg.Patterns.Dir = *o.PatternsDir
	}
	if o.Category != nil {
		cfg.Patterns.Category = *o.Category
	}
	if o.TransportKind != nil {
		cfg.Transport.Kind = *o.TransportKind
	}
	if o.TransportURL != nil {
		cfg.Transport.URL = *o.TransportURL
	}
	if o.RequireDevice != nil {
		cfg.Transport.RequireDevice = *o.RequireDevice
	}
	if o.JoystickEnabled != nil {
		cfg.Joystick.Enabled = *o.JoystickEnabled
	}
	if o.JoystickDevice != nil {
		cfg.Joystick.Device = *o.JoystickDevice
	}
	if o.StatusPath != nil {
		cfg.Status.Path = *o.StatusPath
	}
	if o.IPCSocket != nil {
		cfg.IPC.SocketPath = *o.IPCSocket
	}
	if o.HTTPListen != nil {
		cfg.HTTP.Listen = *o.HTTPListen
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults, file and overrides are applied.
func (c *Config) Validate() error {
	if c.Patterns.Dir == "" {
		return errors.New("patterns.dir must not be empty")
	}
	if c.Patterns.ClimaxCategory == "" {
		return errors.New("patterns.climax_category must not be empty")
	}

	limits := c.SpeedLimits()
	if err := limits.Validate(); err != nil {
		return err
	}
	if c.Speed.Neutral <= c.Speed.Min || c.Speed.Neutral >= c.Speed.Max {
		return errors.New("speed.neutral must lie strictly between speed.min and speed.max")
	}
	if !limits.Contains(c.Speed.Initial) {
		return fmt.Errorf("speed.initial must be between %.2f and %.2f", limits.Min, limits.Max)
	}

	if c.Stream.BaseDurationMS < 1 || c.Stream.BaseDurationMS > 10000 {
		return errors.New("stream.base_duration_ms must be between 1 and 10000")
	}
	if err := c.SchedulerConfig().Validate(); err != nil {
		return err
	}

	if c.Dispatch.FloorMS < 0 {
		return errors.New("dispatch.floor_ms must be >= 0")
	}
	if c.Dispatch.ManualIntervalMS <= 0 {
		return errors.New("dispatch.manual_interval_ms must be > 0")
	}

	if err := c.BuildupDefaults().Validate(limits); err != nil {
		return fmt.Errorf("buildup: %w", err)
	}
	if err := c.ChaosConfig().Validate(limits); err != nil {
		return err
	}
	if err := c.Joystick.Validate(); err != nil {
		return err
	}
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	if c.Device.RangeMin < 0 || c.Device.RangeMax > 100 || c.Device.RangeMin >= c.Device.RangeMax {
		return errors.New("device range must satisfy 0 <= range_min < range_max <= 100")
	}

	if c.Status.Enabled {
		if c.Status.Path == "" {
			return errors.New("status.path must not be empty when status is enabled")
		}
		if c.Status.IntervalMS < minStatusIntervalMS {
			return fmt.Errorf("status.interval_ms must be >= %d", minStatusIntervalMS)
		}
	}
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// SpeedLimits converts the speed section.
func (c *Config) SpeedLimits() SpeedLimits {
	return SpeedLimits{Min: c.Speed.Min, Max: c.Speed.Max, Neutral: c.Speed.Neutral}
}

func msDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

func secDuration(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

// SchedulerConfig converts the stream and dispatch sections.
func (c *Config) SchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BaseDuration:        msDuration(c.Stream.BaseDurationMS),
		MinDuration:         msDuration(c.Stream.MinDurationMS),
		MaxDuration:         msDuration(c.Stream.MaxDurationMS),
		HorizonTarget:       msDuration(c.Stream.HorizonTargetMS),
		RefillRatio:         c.Stream.RefillRatio,
		MaxPatternsPerBuild: c.Stream.MaxPatternsPerBuild,
		HistorySize:         c.Stream.HistorySize,
		ManualDuration:      msDuration(c.Dispatch.ManualDurationMS),
	}
}

// BuildupDefaults converts the buildup section.
func (c *Config) BuildupDefaults() BuildupConfig {
	return BuildupConfig{
		Duration:   secDuration(c.Buildup.DurationSec),
		Cycles:     c.Buildup.Cycles,
		StartSpeed: c.Buildup.StartSpeed,
		EndSpeed:   c.Buildup.EndSpeed,
	}
}

// ChaosConfig converts the chaos section.
func (c *Config) ChaosConfig() ChaosConfig {
	ch := c.Chaos
	interval := func(r RangeFileConfig) Interval {
		return Interval{Min: secDuration(r.Min), Max: secDuration(r.Max)}
	}
	return ChaosConfig{
		ExtremeChance:      ch.ExtremeChance,
		ExtremeLow:         SpeedRange{Lo: ch.ExtremeLow.Min, Hi: ch.ExtremeLow.Max},
		ExtremeHigh:        SpeedRange{Lo: ch.ExtremeHigh.Min, Hi: ch.ExtremeHigh.Max},
		Central:            SpeedRange{Lo: ch.Central.Min, Hi: ch.Central.Max},
		SpeedEvery:         interval(ch.SpeedEverySec),
		CategoryEvery:      interval(ch.CategoryEverySec),
		SkipEvery:          interval(ch.SkipEverySec),
		FirstSpeedAfter:    secDuration(ch.FirstSpeedAfterSec),
		FirstCategoryAfter: secDuration(ch.FirstCategoryAfterSec),
		FirstSkipAfter:     secDuration(ch.FirstSkipAfterSec),
		Step:               ch.Step,
		Epsilon:            ch.Epsilon,
	}
}

// EngineConfig assembles the engine's view of the configuration.
func (c *Config) EngineConfig() EngineConfig {
	return EngineConfig{
		Limits:          c.SpeedLimits(),
		Scheduler:       c.SchedulerConfig(),
		Chaos:           c.ChaosConfig(),
		BuildupDefaults: c.BuildupDefaults(),
		ManualSpeed:     c.Speed.Initial,
		ManualInterval:  msDuration(c.Dispatch.ManualIntervalMS),
		RequireDevice:   c.Transport.RequireDevice,
		RangeMin:        c.Device.RangeMin,
		RangeMax:        c.Device.RangeMax,
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
