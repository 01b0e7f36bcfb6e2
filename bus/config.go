package bus

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"
)

// Config is the bus's tunable configuration: queue sizing, default
// backpressure behaviour, and the fairness knob. Field tags follow the
// convention used across this codebase: toml/yaml for file-based config,
// env for override via environment variable.
type Config struct {
	// DefaultQueueDepth is the per-priority-band capacity new subscriptions
	// get when SubscribeEx does not specify one.
	DefaultQueueDepth int `toml:"default_queue_depth" yaml:"defaultQueueDepth" env:"IMC_DEFAULT_QUEUE_DEPTH"`

	// MaxQueueDepth caps whatever SubscribeEx requests, per priority band.
	MaxQueueDepth int `toml:"max_queue_depth" yaml:"maxQueueDepth" env:"IMC_MAX_QUEUE_DEPTH"`

	// DefaultBackpressure names the policy used when Subscribe (not
	// SubscribeEx) is called: one of "drop_newest", "drop_oldest",
	// "block", "fail".
	DefaultBackpressure string `toml:"default_backpressure" yaml:"defaultBackpressure" env:"IMC_DEFAULT_BACKPRESSURE"`

	// BlockTimeout is the default wait for the BLOCK policy when a
	// subscription does not set its own.
	BlockTimeout time.Duration `toml:"block_timeout" yaml:"blockTimeout" env:"IMC_BLOCK_TIMEOUT"`

	// FairnessInterval overrides pqueue.FairnessInterval for buses created
	// with this config; zero means use the package default.
	FairnessInterval int `toml:"fairness_interval" yaml:"fairnessInterval" env:"IMC_FAIRNESS_INTERVAL"`

	// PumpBudget is a configured default a caller can pass to Pump;
	// Pump(0, ...) itself remains unlimited.
	PumpBudget int `toml:"pump_budget" yaml:"pumpBudget" env:"IMC_PUMP_BUDGET"`
}

// DefaultConfig returns the default configuration to pass to New.
func DefaultConfig() Config {
	return Config{
		DefaultQueueDepth:   256,
		MaxQueueDepth:       65536,
		DefaultBackpressure: "drop_newest",
		BlockTimeout:        5 * time.Second,
		FairnessInterval:    0,
		PumpBudget:          0,
	}
}

// backpressureFromName maps a config string to the Backpressure enum,
// falling back to DropNewest for an unrecognised value.
func backpressureFromName(name string) Backpressure {
	switch strings.ToLower(name) {
	case "drop_oldest":
		return DropOldest
	case "block":
		return Block
	case "fail":
		return Fail
	default:
		return DropNewest
	}
}

// LoadConfig reads a Config from a TOML or YAML file (selected by
// extension), then applies any IMC_* environment variable overrides on top
// using golobby/cast for type coercion.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("imc: reading config %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("imc: decoding toml config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("imc: decoding yaml config: %w", err)
		}
	default:
		return cfg, fmt.Errorf("imc: unsupported config extension %q", ext)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides mutates cfg in place from IMC_* environment variables.
// Integer fields are parsed with golobby/cast, the block timeout with
// time.ParseDuration (or as a plain millisecond count), and the
// backpressure name is taken as-is. Values that fail to parse are skipped.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("IMC_DEFAULT_QUEUE_DEPTH"); ok {
		if raw, err := cast.FromString(v, cast.Int); err == nil {
			cfg.DefaultQueueDepth = raw.(int)
		}
	}
	if v, ok := os.LookupEnv("IMC_MAX_QUEUE_DEPTH"); ok {
		if raw, err := cast.FromString(v, cast.Int); err == nil {
			cfg.MaxQueueDepth = raw.(int)
		}
	}
	if v, ok := os.LookupEnv("IMC_DEFAULT_BACKPRESSURE"); ok {
		cfg.DefaultBackpressure = v
	}
	if v, ok := os.LookupEnv("IMC_BLOCK_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.BlockTimeout = d
		} else if n, err := strconv.Atoi(v); err == nil {
			cfg.BlockTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v, ok := os.LookupEnv("IMC_FAIRNESS_INTERVAL"); ok {
		if raw, err := cast.FromString(v, cast.Int); err == nil {
			cfg.FairnessInterval = raw.(int)
		}
	}
	if v, ok := os.LookupEnv("IMC_PUMP_BUDGET"); ok {
		if raw, err := cast.FromString(v, cast.Int); err == nil {
			cfg.PumpBudget = raw.(int)
		}
	}
}
