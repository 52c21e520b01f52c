package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full run configuration. It is passed explicitly to every
// component; nothing reads global state.
type Config struct {
	Security  SecurityConfig  `yaml:"security"`
	Erase     EraseConfig     `yaml:"erase"`
	Verify    VerifyConfig    `yaml:"verify"`
	Tools     ToolsConfig     `yaml:"tools"`
	Logging   LoggingConfig   `yaml:"logging"`
	Reporting ReportingConfig `yaml:"reporting"`
}

type SecurityConfig struct {
	RequireRoot         bool     `yaml:"require_root"`
	RequireConfirmation bool     `yaml:"require_confirmation"`
	LockDevice          bool     `yaml:"lock_device"`
	PlaceholderPatterns []string `yaml:"placeholder_patterns" validate:"dive,required"`
}

type EraseConfig struct {
	MaxAttempts  int    `yaml:"max_attempts" validate:"min=1,max=50"`
	RetryInitial string `yaml:"retry_initial" validate:"required"`
	RetryMax     string `yaml:"retry_max" validate:"required"`

	SanitizePoll    string `yaml:"sanitize_poll" validate:"required"`
	SanitizeTimeout string `yaml:"sanitize_timeout" validate:"required"`

	EnableDiscard      bool    `yaml:"enable_discard"`
	OverwritePasses    int     `yaml:"overwrite_passes" validate:"min=0,max=35"`
	NativeRandomPasses int     `yaml:"native_random_passes" validate:"min=0,max=35"`
	BoundaryZeroMiB    int64   `yaml:"boundary_zero_mib" validate:"min=1,max=65536"`
	ChunkSize          int64   `yaml:"chunk_size" validate:"min=4096,max=268435456"`
	MaxSpeedMBps       float64 `yaml:"max_speed_mbps" validate:"min=0,max=100000"`

	// ATAPassword is never persisted. It comes from a flag or the
	// environment, otherwise a random one is generated per run.
	ATAPassword string `yaml:"-" validate:"omitempty,max=32,printascii"`
}

type VerifyConfig struct {
	Samples int    `yaml:"samples" validate:"min=1,max=1000000"`
	Seed    uint64 `yaml:"seed"`
}

type ToolsConfig struct {
	NVMe           string `yaml:"nvme" validate:"required"`
	Hdparm         string `yaml:"hdparm" validate:"required"`
	Shred          string `yaml:"shred" validate:"required"`
	CommandTimeout string `yaml:"command_timeout" validate:"required"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=DEBUG INFO WARN ERROR"`
	File  string `yaml:"file"`
}

type ReportingConfig struct {
	OutputDir string `yaml:"output_dir" validate:"required"`
	Format    string `yaml:"format" validate:"oneof=json yaml"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Security: SecurityConfig{
			RequireRoot:         true,
			RequireConfirmation: true,
			LockDevice:          true,
			PlaceholderPatterns: []string{
				`^/dev/sdX\d*$`,
				`^/dev/nvmeX`,
				`^/dev/hdX\d*$`,
				`<[^>]*>`,
				`(?i)change[-_]?me|replace[-_]?me|your[-_]?(disk|device|drive)`,
			},
		},
		Erase: EraseConfig{
			MaxAttempts:        10,
			RetryInitial:       "2s",
			RetryMax:           "30s",
			SanitizePoll:       "5s",
			SanitizeTimeout:    "4h",
			EnableDiscard:      true,
			OverwritePasses:    3,
			NativeRandomPasses: 0,
			BoundaryZeroMiB:    100,
			ChunkSize:          4 * 1024 * 1024, // 4MB
			MaxSpeedMBps:       0,               // unlimited
		},
		Verify: VerifyConfig{
			Samples: 256,
		},
		Tools: ToolsConfig{
			NVMe:           "nvme",
			Hdparm:         "hdparm",
			Shred:          "shred",
			CommandTimeout: "12h",
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
		Reporting: ReportingConfig{
			OutputDir: ".",
			Format:    "json",
		},
	}
}

// Load reads a YAML file on top of the defaults. An empty path or a missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and that every duration parses.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	durations := map[string]string{
		"erase.retry_initial":    cfg.Erase.RetryInitial,
		"erase.retry_max":        cfg.Erase.RetryMax,
		"erase.sanitize_poll":    cfg.Erase.SanitizePoll,
		"erase.sanitize_timeout": cfg.Erase.SanitizeTimeout,
		"tools.command_timeout":  cfg.Tools.CommandTimeout,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %q", key, value)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, value)
		}
	}

	if cfg.RetryInitial() > cfg.RetryMax() {
		return fmt.Errorf("erase.retry_initial (%s) exceeds erase.retry_max (%s)", cfg.Erase.RetryInitial, cfg.Erase.RetryMax)
	}

	return nil
}

// Save writes the configuration as YAML.
func Save(cfg *Config, path string) error {
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("cannot save invalid config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func (cfg *Config) RetryInitial() time.Duration {
	return mustDuration(cfg.Erase.RetryInitial, 2*time.Second)
}

func (cfg *Config) RetryMax() time.Duration {
	return mustDuration(cfg.Erase.RetryMax, 30*time.Second)
}

func (cfg *Config) SanitizePoll() time.Duration {
	return mustDuration(cfg.Erase.SanitizePoll, 5*time.Second)
}

func (cfg *Config) SanitizeTimeout() time.Duration {
	return mustDuration(cfg.Erase.SanitizeTimeout, 4*time.Hour)
}

func (cfg *Config) CommandTimeout() time.Duration {
	return mustDuration(cfg.Tools.CommandTimeout, 12*time.Hour)
}

// BoundaryZeroBytes is the size of each region zeroed at the start and end
// of the device.
func (cfg *Config) BoundaryZeroBytes() int64 {
	return cfg.Erase.BoundaryZeroMiB * 1024 * 1024
}

func mustDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
