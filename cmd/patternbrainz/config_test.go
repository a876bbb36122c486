package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v", err)
	}
}

func TestDefaultConfigMatchesEngineDefaults(t *testing.T) {
	cfg := DefaultConfig()
	got := cfg.EngineConfig()
	want := DefaultEngineConfig()

	if got.Limits != want.Limits {
		t.Fatalf("limits = %+v, want %+v", got.Limits, want.Limits)
	}
	if got.Scheduler != want.Scheduler {
		t.Fatalf("scheduler = %+v, want %+v", got.Scheduler, want.Scheduler)
	}
	if got.Chaos != want.Chaos {
		t.Fatalf("chaos = %+v, want %+v", got.Chaos, want.Chaos)
	}
	if got.BuildupDefaults != want.BuildupDefaults {
		t.Fatalf("buildup = %+v, want %+v", got.BuildupDefaults, want.BuildupDefaults)
	}
	if got.ManualInterval != 8*time.Millisecond {
		t.Fatalf("manual interval = %v, want 8ms", got.ManualInterval)
	}
}

func TestParseConfig_OverridesDefaults(t *testing.T) {
	cfg, err := parseConfig([]byte(`
patterns:
  dir: /srv/patterns
  category: slow
speed:
  initial: 1.2
stream:
  base_duration_ms: 150
chaos:
  speed_every_s: {min: 1, max: 2}
joystick:
  enabled: true
  speed_axis: {index: 2, mode: half_positive}
transport:
  kind: ws
  url: ws://127.0.0.1:9000/ws
device:
  range_min: 10
  range_max: 90
logging:
  level: debug
`))
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Patterns.Dir != "/srv/patterns" || cfg.Patterns.Category != "slow" {
		t.Fatalf("patterns = %+v", cfg.Patterns)
	}
	// Untouched fields keep their defaults.
	if cfg.Patterns.ClimaxCategory != defaultClimaxCategory {
		t.Fatalf("climax category = %q", cfg.Patterns.ClimaxCategory)
	}
	if cfg.Speed.Min != defaultMinSpeed || cfg.Speed.Initial != 1.2 {
		t.Fatalf("speed = %+v", cfg.Speed)
	}
	if got := cfg.SchedulerConfig().BaseDuration; got != 150*time.Millisecond {
		t.Fatalf("base duration = %v", got)
	}
	if got := cfg.ChaosConfig().SpeedEvery; got.Min != time.Second || got.Max != 2*time.Second {
		t.Fatalf("chaos speed interval = %+v", got)
	}
	if cfg.Joystick.SpeedAxis.Index != 2 || cfg.Joystick.SpeedAxis.Mode != AxisHalfPositive {
		t.Fatalf("speed axis = %+v", cfg.Joystick.SpeedAxis)
	}
	if ec := cfg.EngineConfig(); ec.RangeMin != 10 || ec.RangeMax != 90 {
		t.Fatalf("range = %d..%d", ec.RangeMin, ec.RangeMax)
	}
}

func TestParseConfig_RejectsUnknownFields(t *testing.T) {
	_, err := parseConfig([]byte("speed:\n  turbo: 3\n"))
	if err == nil {
		t.Fatalf("unknown field accepted")
	}
}

func TestParseConfig_SingleDocumentWithSeparator(t *testing.T) {
	cfg, err := parseConfig([]byte("---\nlogging:\n  level: warn\n"))
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("logging.level = %q", cfg.Logging.Level)
	}
}

func TestParseConfig_RejectsTrailingDocument(t *testing.T) {
	for _, doc := range []string{
		"logging:\n  level: info\n---\nlogging:\n  level: debug\n",
		"logging:\n  level: info\n---\nanything: 1\n",
	} {
		_, err := parseConfig([]byte(doc))
		if err == nil || !strings.Contains(err.Error(), "trailing document") {
			t.Fatalf("err = %v, want trailing document error", err)
		}
	}
}

func TestConfigValidate_Rejects(t *testing.T) {
	cases := map[string]func(*Config){
		"neutral outside range":    func(c *Config) { c.Speed.Neutral = 2 },
		"initial outside range":    func(c *Config) { c.Speed.Initial = 0.05 },
		"base duration too large":  func(c *Config) { c.Stream.BaseDurationMS = 20000 },
		"base outside clamp":       func(c *Config) { c.Stream.BaseDurationMS = 50 },
		"refill ratio":             func(c *Config) { c.Stream.RefillRatio = 1.5 },
		"buildup cycles":           func(c *Config) { c.Buildup.Cycles = 0 },
		"chaos range":              func(c *Config) { c.Chaos.ExtremeHigh.Max = 4 },
		"transport kind":           func(c *Config) { c.Transport.Kind = "carrier-pigeon" },
		"inverted device range":    func(c *Config) { c.Device.RangeMin, c.Device.RangeMax = 60, 40 },
		"device range over 100":    func(c *Config) { c.Device.RangeMax = 101 },
		"log level":                func(c *Config) { c.Logging.Level = "chatty" },
		"empty socket":             func(c *Config) { c.IPC.SocketPath = "" },
		"status interval":          func(c *Config) { c.Status.IntervalMS = 0 },
		"status interval below 50": func(c *Config) { c.Status.IntervalMS = 49 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("Validate() = nil, want error")
			}
		})
	}
}

func TestFlagOverridesApply(t *testing.T) {
	cfg := DefaultConfig()
	dir := "/tmp/p"
	kind := "ws"
	req := true
	FlagOverrides{PatternsDir: &dir, TransportKind: &kind, RequireDevice: &req}.Apply(&cfg)

	if cfg.Patterns.Dir != dir || cfg.Transport.Kind != kind || !cfg.Transport.RequireDevice {
		t.Fatalf("overrides not applied: %+v %+v", cfg.Patterns, cfg.Transport)
	}
	if cfg.IPC.SocketPath != DefaultConfig().IPC.SocketPath {
		t.Fatalf("unset override changed ipc socket")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("http:\n  listen: ''\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.HTTP.Listen != "" {
		t.Fatalf("http.listen = %q, want empty", cfg.HTTP.Listen)
	}
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("missing file accepted")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/patterns"); got != filepath.Join(home, "patterns") {
		t.Fatalf("ExpandPath(~/patterns) = %q", got)
	}
	if got := ExpandPath("/abs"); got != "/abs" {
		t.Fatalf("ExpandPath(/abs) = %q", got)
	}
}
