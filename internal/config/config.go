// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"rfidphase/internal/tag"
)

// App captures process-wide runtime settings such as name, metrics, and logging.
type App struct {
	Name        string `yaml:"name,omitempty"`
	Env         string `yaml:"env,omitempty"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
	LogLevel    string `yaml:"log_level,omitempty"`
	LogFile     string `yaml:"log_file,omitempty"`
}

// Reader describes how decoded tag reads are obtained from the reader gateway.
type Reader struct {
	Provider          string   `yaml:"provider,omitempty"`
	GatewayURL        string   `yaml:"gateway_url,omitempty"`
	StreamURL         string   `yaml:"stream_url,omitempty"`
	CycleTimeoutMs    int      `yaml:"cycle_timeout_ms,omitempty"`
	PerAntennaRecords *bool    `yaml:"per_antenna_records,omitempty"`
	Stub              StubRead `yaml:"stub,omitempty"`
}

// StubRead tunes the synthetic provider.
type StubRead struct {
	Tags          []string `yaml:"tags,omitempty"`
	Antennas      []int    `yaml:"antennas,omitempty"`
	ReadsPerCycle int      `yaml:"reads_per_cycle,omitempty"`
	IntervalMs    int      `yaml:"interval_ms,omitempty"`
	Seed          int64    `yaml:"seed,omitempty"`
}

// Phase configures the per-cycle phase difference sampler.
type Phase struct {
	TargetEPC  string `yaml:"target_epc,omitempty"`
	AntennaA   int    `yaml:"antenna_a,omitempty"`
	AntennaB   int    `yaml:"antenna_b,omitempty"`
	Cycles     int    `yaml:"cycles,omitempty"` // 0 runs until interrupted
	RecordPath string `yaml:"record_path,omitempty"`
}

// Filter configures the background read filter session.
type Filter struct {
	TargetEPC string `yaml:"target_epc,omitempty"`
	CountMode string `yaml:"count_mode,omitempty"`
	WindowMs  int    `yaml:"window_ms,omitempty"`
	QueueSize int    `yaml:"queue_size,omitempty"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App    App    `yaml:"app,omitempty"`
	Reader Reader `yaml:"reader,omitempty"`
	Phase  Phase  `yaml:"phase,omitempty"`
	Filter Filter `yaml:"filter,omitempty"`
}

const (
	DefaultTargetEPC      = "300833B2DDD9014000000000"
	defaultCycleTimeoutMs = 800
	defaultWindowMs       = 5000
	defaultQueueSize      = 1024
)

// Load reads a YAML file from disk, applies environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	config, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	ApplyEnv(config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadRaw decodes the file as written, without environment overrides or
// defaults. Edit it and pass it to Save to keep the file minimal.
func LoadRaw(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyEnv overlays RFIDPHASE_* variables, loading a local .env file first when present.
func ApplyEnv(cfg *Config) {
	_ = godotenv.Load() // best-effort

	cfg.App.LogLevel = getEnv("RFIDPHASE_LOG_LEVEL", cfg.App.LogLevel)
	cfg.App.LogFile = getEnv("RFIDPHASE_LOG_FILE", cfg.App.LogFile)
	cfg.App.MetricsAddr = getEnv("RFIDPHASE_METRICS_ADDR", cfg.App.MetricsAddr)
	cfg.Reader.Provider = getEnv("RFIDPHASE_READER_PROVIDER", cfg.Reader.Provider)
	cfg.Reader.GatewayURL = getEnv("RFIDPHASE_GATEWAY_URL", cfg.Reader.GatewayURL)
	cfg.Reader.StreamURL = getEnv("RFIDPHASE_STREAM_URL", cfg.Reader.StreamURL)
	cfg.Phase.TargetEPC = getEnv("RFIDPHASE_PHASE_TARGET", cfg.Phase.TargetEPC)
	cfg.Filter.TargetEPC = getEnv("RFIDPHASE_FILTER_TARGET", cfg.Filter.TargetEPC)
	cfg.Filter.CountMode = getEnv("RFIDPHASE_COUNT_MODE", cfg.Filter.CountMode)
	if v, err := strconv.Atoi(os.Getenv("RFIDPHASE_CYCLE_TIMEOUT_MS")); err == nil {
		cfg.Reader.CycleTimeoutMs = v
	}
	if v, err := strconv.Atoi(os.Getenv("RFIDPHASE_WINDOW_MS")); err == nil {
		cfg.Filter.WindowMs = v
	}
}

// Validate fills defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Reader.Provider == "" {
		c.Reader.Provider = "stub"
	}
	if c.Reader.CycleTimeoutMs == 0 {
		c.Reader.CycleTimeoutMs = defaultCycleTimeoutMs
	}
	if c.Reader.CycleTimeoutMs < 0 {
		return fmt.Errorf("reader.cycle_timeout_ms must be positive")
	}
	if c.Reader.PerAntennaRecords == nil {
		enabled := true
		c.Reader.PerAntennaRecords = &enabled
	}
	if c.Phase.TargetEPC == "" {
		c.Phase.TargetEPC = DefaultTargetEPC
	}
	target, err := normalizeEPC(c.Phase.TargetEPC)
	if err != nil {
		return fmt.Errorf("phase.target_epc: %w", err)
	}
	c.Phase.TargetEPC = target
	if c.Phase.AntennaA == 0 {
		c.Phase.AntennaA = 1
	}
	if c.Phase.AntennaB == 0 {
		c.Phase.AntennaB = 2
	}
	if c.Phase.AntennaA < 0 || c.Phase.AntennaB < 0 || c.Phase.AntennaA == c.Phase.AntennaB {
		return fmt.Errorf("phase antennas must be two distinct positive ports, got %d/%d", c.Phase.AntennaA, c.Phase.AntennaB)
	}
	if c.Phase.Cycles < 0 {
		return fmt.Errorf("phase.cycles must not be negative")
	}
	if c.Filter.TargetEPC == "" {
		c.Filter.TargetEPC = c.Phase.TargetEPC
	}
	if c.Filter.TargetEPC, err = normalizeEPC(c.Filter.TargetEPC); err != nil {
		return fmt.Errorf("filter.target_epc: %w", err)
	}
	if c.Filter.WindowMs == 0 {
		c.Filter.WindowMs = defaultWindowMs
	}
	if c.Filter.WindowMs < 0 {
		return fmt.Errorf("filter.window_ms must be positive")
	}
	if c.Filter.QueueSize <= 0 {
		c.Filter.QueueSize = defaultQueueSize
	}
	switch strings.ToLower(c.Filter.CountMode) {
	case "", "matches_only", "matches", "both", "count_both":
	default:
		return fmt.Errorf("unknown filter.count_mode %q", c.Filter.CountMode)
	}
	if strings.EqualFold(c.Reader.Provider, "websocket") && c.Reader.StreamURL == "" {
		return fmt.Errorf("reader.stream_url is required for the websocket provider")
	}
	return nil
}

// normalizeEPC returns the uppercase hex form the reader reports identifiers in.
func normalizeEPC(s string) (string, error) {
	epc, err := tag.ParseEPC(s)
	if err != nil {
		return "", err
	}
	return epc.Hex(), nil
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
