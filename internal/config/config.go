package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	Runner        RunnerConfig        `toml:"runner"`
	Render        RenderConfig        `toml:"render"`
	Store         StoreConfig         `toml:"store"`
	Notifications NotificationsConfig `toml:"notifications"`
	Publish       PublishConfig       `toml:"publish"`
	Progress      ProgressConfig      `toml:"progress"`
	Secrets       SecretsConfig       `toml:"secrets"`
}

// RunnerConfig controls notebook execution and progress polling
type RunnerConfig struct {
	Command      []string `toml:"command"`
	Kernel       string   `toml:"kernel"`
	ExtraArgs    []string `toml:"extra_args"`
	Timeout      string   `toml:"timeout"`       // Go duration, empty for no deadline
	PollInterval string   `toml:"poll_interval"` // Go duration
	TailLines    int      `toml:"tail_lines"`
	EchoOutput   bool     `toml:"echo_output"`
}

// RenderConfig controls the post-processing conversion
type RenderConfig struct {
	Enabled   bool     `toml:"enabled"`
	Command   []string `toml:"command"`
	Format    string   `toml:"format"`
	ExtraArgs []string `toml:"extra_args"`
}

// StoreConfig locates the run history database
type StoreConfig struct {
	DatabasePath string `toml:"database_path"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	SlackWebhook string `toml:"slack_webhook"`
}

// PublishConfig holds object storage settings for uploading results
type PublishConfig struct {
	Endpoint  string `toml:"endpoint"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Region    string `toml:"region"`
	UseSSL    bool   `toml:"use_ssl"`
}

// ProgressConfig configures the live progress server
type ProgressConfig struct {
	Listen string `toml:"listen"`
}

// SecretsConfig configures decryption of sealed secrets material
type SecretsConfig struct {
	AgeIdentity string `toml:"age_identity"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Runner: RunnerConfig{
			Command:      []string{"python3", "-m", "papermill"},
			PollInterval: "15s",
			TailLines:    15,
		},
		Render: RenderConfig{
			Enabled: true,
			Command: []string{"jupyter", "nbconvert"},
			Format:  "html",
		},
		Store: StoreConfig{
			DatabasePath: filepath.Join(home, ".nb-runner", "runs.db"),
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.Store.DatabasePath = ExpandPath(cfg.Store.DatabasePath)
	cfg.Secrets.AgeIdentity = ExpandPath(cfg.Secrets.AgeIdentity)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks durations and required fields
func (c *Config) Validate() error {
	if len(c.Runner.Command) == 0 {
		return fmt.Errorf("runner.command must not be empty")
	}
	if _, err := c.Runner.TimeoutDuration(); err != nil {
		return fmt.Errorf("runner.timeout: %w", err)
	}
	if _, err := c.Runner.PollIntervalDuration(); err != nil {
		return fmt.Errorf("runner.poll_interval: %w", err)
	}
	if c.Runner.TailLines < 0 {
		return fmt.Errorf("runner.tail_lines must not be negative")
	}
	if c.Render.Enabled && len(c.Render.Command) == 0 {
		return fmt.Errorf("render.command must not be empty")
	}
	if c.Publish.Endpoint != "" && c.Publish.Bucket == "" {
		return fmt.Errorf("publish.bucket is required when publish.endpoint is set")
	}
	return nil
}

// TimeoutDuration parses the run deadline. Zero means none.
func (r RunnerConfig) TimeoutDuration() (time.Duration, error) {
	if r.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(r.Timeout)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return d, nil
}

// PollIntervalDuration parses the watcher interval
func (r RunnerConfig) PollIntervalDuration() (time.Duration, error) {
	if r.PollInterval == "" {
		return 15 * time.Second, nil
	}
	d, err := time.ParseDuration(r.PollInterval)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return d, nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "nb-runner", "config.toml")
}
