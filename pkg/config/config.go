package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can use "30s"/"2h" forms.
type Duration time.Duration

// UnmarshalYAML accepts either a duration string or integer nanoseconds.
// The integer decode runs first: yaml decodes an integer scalar into a
// string without complaint, which would shadow the nanosecond form.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var ns int64
	if err := value.Decode(&ns); err == nil {
		*d = Duration(ns)
		return nil
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the top-level Paddock configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	Provider  ProviderConfig  `yaml:"provider"`
	Sweeps    SweepsConfig    `yaml:"sweeps"`
	Retention RetentionConfig `yaml:"retention"`
	Notify    NotifyConfig    `yaml:"notify"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type StorageConfig struct {
	DataDir    string `yaml:"data_dir"`
	ScratchDir string `yaml:"scratch_dir"`
}

type AuthConfig struct {
	// AdminUsers bypass every permission check.
	AdminUsers []string `yaml:"admin_users"`
}

type ProviderConfig struct {
	// Endpoint is the base URL of the provisioning bridge that fronts
	// the concrete cloud provider API.
	Endpoint string `yaml:"endpoint"`

	// CallTimeout bounds every gateway call so a stuck provider cannot
	// stall an entire tick.
	CallTimeout Duration `yaml:"call_timeout"`
}

type SweepsConfig struct {
	TickInterval       Duration `yaml:"tick_interval"`
	ExpirationInterval Duration `yaml:"expiration_interval"`
	RetentionInterval  Duration `yaml:"retention_interval"`
	TempFileInterval   Duration `yaml:"temp_file_interval"`
	TempFileMaxAge     Duration `yaml:"temp_file_max_age"`
	StaleActionAfter   Duration `yaml:"stale_action_after"`
}

type RetentionConfig struct {
	// Limits maps log kind to maximum retained entries. Zero or missing
	// falls back to DefaultLogLimit.
	Limits            map[string]int `yaml:"limits"`
	MaxDeletePerSweep int            `yaml:"max_delete_per_sweep"`
}

type NotifyConfig struct {
	BatchSize    int      `yaml:"batch_size"`
	DedupWindow  Duration `yaml:"dedup_window"`
	SendTimeout  Duration `yaml:"send_timeout"`
	SMTPHost     string   `yaml:"smtp_host"`
	SMTPPort     int      `yaml:"smtp_port"`
	SMTPFrom     string   `yaml:"smtp_from"`
	SMTPUser     string   `yaml:"smtp_user"`
	SMTPPassword string   `yaml:"smtp_password"`
}

type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultLogLimit applies when a retention limit is zero or unset.
const DefaultLogLimit = 999

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Storage: StorageConfig{
			DataDir:    "/var/lib/paddock",
			ScratchDir: "/var/lib/paddock/tmp",
		},
		Provider: ProviderConfig{CallTimeout: Duration(20 * time.Second)},
		Sweeps: SweepsConfig{
			TickInterval:       Duration(time.Minute),
			ExpirationInterval: Duration(time.Minute),
			RetentionInterval:  Duration(5 * time.Minute),
			TempFileInterval:   Duration(10 * time.Minute),
			TempFileMaxAge:     Duration(10 * time.Minute),
			StaleActionAfter:   Duration(2 * time.Hour),
		},
		Retention: RetentionConfig{
			Limits:            map[string]int{},
			MaxDeletePerSweep: 100,
		},
		Notify: NotifyConfig{
			BatchSize:   10,
			DedupWindow: Duration(2 * time.Minute),
			SendTimeout: Duration(15 * time.Second),
			SMTPPort:    25,
		},
		Metrics: MetricsConfig{ListenAddr: ":9310"},
	}
}

// Load reads the configuration file, layering it over Default.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the reconciler cannot run with.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	if c.Sweeps.TickInterval.Std() < time.Second {
		return fmt.Errorf("sweeps.tick_interval must be at least 1s")
	}
	if c.Notify.BatchSize <= 0 {
		return fmt.Errorf("notify.batch_size must be positive")
	}
	if c.Retention.MaxDeletePerSweep <= 0 {
		return fmt.Errorf("retention.max_delete_per_sweep must be positive")
	}
	return nil
}

// LogLimit returns the retention limit for a log kind.
func (c *Config) LogLimit(kind string) int {
	if limit, ok := c.Retention.Limits[kind]; ok && limit > 0 {
		return limit
	}
	return DefaultLogLimit
}
