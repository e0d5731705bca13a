package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	CurrentVersion = 1
	DefaultPath    = "~/.stackrun/stackrun.yaml"
	DefaultLogDir  = "~/.stackrun/logs/"

	// EnvPrefix prefixes environment overrides, e.g. STACKRUN_POLLING_INTERVAL.
	EnvPrefix = "STACKRUN"
)

// Config is the top-level configuration. Every field is optional.
type Config struct {
	Version int           `mapstructure:"version"`
	AWS     AWSConfig     `mapstructure:"aws"`
	Stack   StackConfig   `mapstructure:"stack"`
	Polling PollingConfig `mapstructure:"polling"`
	Logging LogConfig     `mapstructure:"logging"`
}

// AWSConfig selects the account and region.
type AWSConfig struct {
	Region  string `mapstructure:"region"`
	Profile string `mapstructure:"profile"`
}

// StackConfig defines stack creation settings.
type StackConfig struct {
	Tags          map[string]string `mapstructure:"tags"`
	CreateTimeout time.Duration     `mapstructure:"create_timeout"`
	DeleteTimeout time.Duration     `mapstructure:"delete_timeout"`
}

// PollingConfig defines how cluster and step state is polled. A zero
// ready or step timeout waits indefinitely.
type PollingConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	ReadyTimeout     time.Duration `mapstructure:"ready_timeout"`
	StepTimeout      time.Duration `mapstructure:"step_timeout"`
	TerminateTimeout time.Duration `mapstructure:"terminate_timeout"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level     string `mapstructure:"level"`     // debug, info, warn, error
	Directory string `mapstructure:"directory"` // default ~/.stackrun/logs/
}

var defaults = map[string]any{
	"aws.region":                "",
	"aws.profile":               "",
	"stack.create_timeout":      60 * time.Minute,
	"stack.delete_timeout":      30 * time.Minute,
	"polling.interval":          30 * time.Second,
	"polling.ready_timeout":     time.Duration(0),
	"polling.step_timeout":      time.Duration(0),
	"polling.terminate_timeout": 30 * time.Minute,
	"logging.level":             "info",
	"logging.directory":         DefaultLogDir,
}

// Load reads the config file at path, applies STACKRUN_* environment
// overrides and fills in defaults. A missing file at the default path is
// not an error; a missing file at an explicit path is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = ExpandHome(DefaultPath)
	}

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fromFile := true
	if _, err := os.Stat(path); err != nil {
		if explicit || !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		fromFile = false
	}

	if fromFile {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg := &Config{}
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hooks); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if !fromFile {
		cfg.Version = CurrentVersion
	}
	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentVersion)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that decode cleanly but make no sense.
func (c *Config) Validate() error {
	var problems []string
	if c.Polling.Interval <= 0 {
		problems = append(problems, "polling.interval must be positive")
	}
	for name, d := range map[string]time.Duration{
		"polling.ready_timeout":     c.Polling.ReadyTimeout,
		"polling.step_timeout":      c.Polling.StepTimeout,
		"polling.terminate_timeout": c.Polling.TerminateTimeout,
		"stack.create_timeout":      c.Stack.CreateTimeout,
		"stack.delete_timeout":      c.Stack.DeleteTimeout,
	} {
		if d < 0 {
			problems = append(problems, name+" must not be negative")
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Directory = ExpandHome(c.Logging.Directory)
	if c.Logging.Directory == "" {
		c.Logging.Directory = ExpandHome(DefaultLogDir)
	}
	if c.Stack.Tags == nil {
		c.Stack.Tags = map[string]string{}
	}
}

// ExpandHome expands ~ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
