package app

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shirou/gopsutil/v3/cpu"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "SWEEPGRID_"

var configValidate = validator.New()

// SlurmConfig wraps every command in an srun allocation when Enabled.
type SlurmConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Time      string `yaml:"time"`
	CPUs      int    `yaml:"cpus" validate:"gte=1"`
	Partition string `yaml:"partition"`
	MemoryMB  int    `yaml:"memory_mb" validate:"gte=0"`
}

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	LogFormat string `yaml:"log_format" validate:"oneof=text json"`
	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`

	Store     string `yaml:"store" validate:"oneof=memory badger postgres"`
	StorePath string `yaml:"store_path" validate:"required_if=Store badger"`
	DSN       string `yaml:"dsn" validate:"required_if=Store postgres"`

	Prefix    string `yaml:"prefix"`
	Separator string `yaml:"separator"`
	Threads   int    `yaml:"parallel_threads" validate:"min=1"`

	LaunchInterval time.Duration `yaml:"launch_interval" validate:"gte=0"`
	PollInterval   time.Duration `yaml:"poll_interval" validate:"gt=0"`

	HealthcheckPort int    `yaml:"healthcheck_port" validate:"gte=0,lte=65535"`
	MonitorURL      string `yaml:"monitor_url" validate:"omitempty,url"`

	Slurm SlurmConfig `yaml:"slurm"`
}

// DefaultConfig returns the settings used when nothing overrides them.
func DefaultConfig() Config {
	return Config{
		LogFormat:      "text",
		LogLevel:       "info",
		Store:          "badger",
		StorePath:      ".sweepgrid",
		Prefix:         "--",
		Separator:      " ",
		Threads:        cpuCount(),
		LaunchInterval: 100 * time.Millisecond,
		PollInterval:   time.Second,
		Slurm:          SlurmConfig{Time: "01:00:00", CPUs: 1},
	}
}

func cpuCount() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// NewConfig validates cfg and returns a copy of it.
func NewConfig(cfg Config) (*Config, error) {
	if err := configValidate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, fmt.Errorf("invalid configuration: %s fails %q", fe.Namespace(), fe.Tag())
		}
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// LoadFile overlays the YAML document at path onto cfg. Keys absent from the
// file keep their current value.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays SWEEPGRID_* variables onto cfg. lookup is os.LookupEnv
// outside of tests.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
		return nil
	}

	str("LOG_FORMAT", &cfg.LogFormat)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("STORE", &cfg.Store)
	str("STORE_PATH", &cfg.StorePath)
	str("DSN", &cfg.DSN)
	str("PREFIX", &cfg.Prefix)
	str("SEPARATOR", &cfg.Separator)
	str("MONITOR_URL", &cfg.MonitorURL)
	str("SLURM_TIME", &cfg.Slurm.Time)
	str("SLURM_PARTITION", &cfg.Slurm.Partition)
	if v, ok := lookup(EnvPrefix + "SLURM"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sSLURM: %w", EnvPrefix, err)
		}
		cfg.Slurm.Enabled = b
	}

	return errors.Join(
		num("PARALLEL_THREADS", &cfg.Threads),
		num("HEALTHCHECK_PORT", &cfg.HealthcheckPort),
		num("SLURM_CPUS", &cfg.Slurm.CPUs),
		num("SLURM_MEMORY_MB", &cfg.Slurm.MemoryMB),
		dur("LAUNCH_INTERVAL", &cfg.LaunchInterval),
		dur("POLL_INTERVAL", &cfg.PollInterval),
	)
}
