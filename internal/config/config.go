// internal/config/config.go
//
// This package handles configuration and the sarafan home directory.
// The client keeps its config.yaml and logs/ under $SARAFAN_HOME, which
// defaults to <user config dir>/sarafan.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// HomeEnv overrides the directory holding config.yaml and logs/.
	HomeEnv = "SARAFAN_HOME"

	// DefaultBackendURL matches the backend the web client shipped with.
	DefaultBackendURL = "http://localhost:9231/"
	// DefaultRestartDelay throttles watcher restarts after a crash.
	DefaultRestartDelay = 250 * time.Millisecond
	// DefaultQueueCapacity bounds each watcher's intent queue.
	DefaultQueueCapacity = 64
	// DefaultBridgeHost is the loopback interface used by the intent bridge.
	DefaultBridgeHost = "127.0.0.1"
	// DefaultBridgePort is the default TCP port for the intent bridge.
	DefaultBridgePort = 9232

	defaultLogFile = "logs/sarafan.log"
)

const defaultConfigYAML = `# sarafan client configuration
version: 1

backend:
  # Base URL of the sarafan node serving /api/*.
  url: http://localhost:9231/
  # Per-request timeout. Leave empty to wait until the backend answers.
  timeout: ""

workflows:
  # Publish immediately after a post is estimated instead of waiting for
  # an explicit confirmation.
  auto_publish: false
  # Delay before a crashed watcher is relaunched.
  restart_delay: 250ms

intents:
  queue_capacity: 64

# Local HTTP bridge for out-of-process views.
bridge:
  enabled: false
  host: 127.0.0.1
  port: 9232

logging:
  file: logs/sarafan.log
  level: info
`

// BackendConfig describes the remote sarafan node.
type BackendConfig struct {
	URL     string `yaml:"url"`
	Timeout string `yaml:"timeout,omitempty"`
}

// WorkflowConfig captures orchestrator preferences.
type WorkflowConfig struct {
	AutoPublish  bool   `yaml:"auto_publish"`
	RestartDelay string `yaml:"restart_delay,omitempty"`
}

// IntentConfig tunes intent routing.
type IntentConfig struct {
	QueueCapacity int `yaml:"queue_capacity,omitempty"`
}

// BridgeConfig controls the local intent bridge server.
type BridgeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

// LoggingConfig controls the logbook.
type LoggingConfig struct {
	File  string `yaml:"file,omitempty"`
	Level string `yaml:"level,omitempty"`
}

// FileConfig models config.yaml.
type FileConfig struct {
	Version   int            `yaml:"version"`
	Backend   BackendConfig  `yaml:"backend"`
	Workflows WorkflowConfig `yaml:"workflows"`
	Intents   IntentConfig   `yaml:"intents"`
	Bridge    BridgeConfig   `yaml:"bridge"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// Config holds the runtime configuration for the client.
type Config struct {
	// HomeDir holds config.yaml and the logs directory.
	HomeDir string

	File FileConfig

	backendTimeout time.Duration
	restartDelay   time.Duration
}

// DefaultHome resolves the home directory from $SARAFAN_HOME or the user
// config directory.
func DefaultHome() (string, error) {
	if home := strings.TrimSpace(os.Getenv(HomeEnv)); home != "" {
		return filepath.Clean(home), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "sarafan"), nil
}

// InitDir creates the home directory layout and a default config.yaml when
// none exists yet.
//
// Structure created:
// <home>/
// ├── config.yaml
// └── logs/
func InitDir(homeDir string) error {
	if err := os.MkdirAll(filepath.Join(homeDir, "logs"), 0o755); err != nil {
		return fmt.Errorf("config: ensure home dir: %w", err)
	}
	return ensureConfigFile(filepath.Join(homeDir, "config.yaml"))
}

// Load reads config.yaml from homeDir (missing files fall back to defaults)
// and applies environment overrides.
func Load(homeDir string) (*Config, error) {
	cfg := &Config{
		HomeDir: homeDir,
		File:    defaultFileConfig(),
	}
	if err := cfg.loadFile(); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the on-disk location of config.yaml.
func (c *Config) Path() string {
	return filepath.Join(c.HomeDir, "config.yaml")
}

// LogPath returns the absolute path of the logbook file.
func (c *Config) LogPath() string {
	return resolvePath(c.HomeDir, c.File.Logging.File)
}

// LogLevel returns the configured minimum log level.
func (c *Config) LogLevel() string {
	return c.File.Logging.Level
}

// BackendURL returns the normalized backend base URL (always ends in '/').
func (c *Config) BackendURL() string {
	return c.File.Backend.URL
}

// BackendTimeout returns the per-request timeout; zero means none.
func (c *Config) BackendTimeout() time.Duration {
	return c.backendTimeout
}

// AutoPublish reports whether estimated posts are published without an
// explicit confirmation.
func (c *Config) AutoPublish() bool {
	return c.File.Workflows.AutoPublish
}

// RestartDelay returns the watcher restart delay.
func (c *Config) RestartDelay() time.Duration {
	return c.restartDelay
}

// QueueCapacity returns the per-watcher intent queue size.
func (c *Config) QueueCapacity() int {
	return c.File.Intents.QueueCapacity
}

// BridgeEnabled reports whether the local intent bridge should start.
func (c *Config) BridgeEnabled() bool {
	return c.File.Bridge.Enabled
}

// BridgeAddress returns the bridge bind address in host:port form.
func (c *Config) BridgeAddress() string {
	return net.JoinHostPort(c.File.Bridge.Host, strconv.Itoa(c.File.Bridge.Port))
}

// SetAutoPublish updates the auto-publish preference and persists it back to
// config.yaml.
func (c *Config) SetAutoPublish(enabled bool) error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.File.Workflows.AutoPublish = enabled
	return c.save()
}

func (c *Config) loadFile() error {
	path := c.Path()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	parsed := defaultFileConfig()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.File = parsed
	return nil
}

func (c *Config) applyEnvOverrides() {
	if value := strings.TrimSpace(os.Getenv("SARAFAN_BACKEND_URL")); value != "" {
		c.File.Backend.URL = value
	}
	if value := strings.TrimSpace(os.Getenv("SARAFAN_AUTO_PUBLISH")); value != "" {
		if enabled, err := strconv.ParseBool(value); err == nil {
			c.File.Workflows.AutoPublish = enabled
		}
	}
	if value := strings.TrimSpace(os.Getenv("SARAFAN_BRIDGE_ENABLED")); value != "" {
		if enabled, err := strconv.ParseBool(value); err == nil {
			c.File.Bridge.Enabled = enabled
		}
	}
	if value := strings.TrimSpace(os.Getenv("SARAFAN_BRIDGE_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && isValidPort(parsed) {
			c.File.Bridge.Port = parsed
		}
	}
}

func (c *Config) finalize() error {
	c.File.applyDefaults()
	c.File.normalize()
	if err := c.File.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	timeout, err := parseDuration(c.File.Backend.Timeout)
	if err != nil {
		return fmt.Errorf("config: backend.timeout: %w", err)
	}
	delay, err := parseDuration(c.File.Workflows.RestartDelay)
	if err != nil {
		return fmt.Errorf("config: workflows.restart_delay: %w", err)
	}
	c.backendTimeout = timeout
	c.restartDelay = delay
	return nil
}

func (c *Config) save() error {
	if err := c.finalize(); err != nil {
		return err
	}
	if err := os.MkdirAll(c.HomeDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure home dir: %w", err)
	}
	data, err := yaml.Marshal(c.File)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.Path(), data, 0o644); err != nil {
		return fmt.Errorf("config: write config: %w", err)
	}
	return nil
}

func defaultFileConfig() FileConfig {
	return FileConfig{
		Version: 1,
		Backend: BackendConfig{URL: DefaultBackendURL},
		Workflows: WorkflowConfig{
			RestartDelay: DefaultRestartDelay.String(),
		},
		Intents: IntentConfig{QueueCapacity: DefaultQueueCapacity},
		Bridge: BridgeConfig{
			Host: DefaultBridgeHost,
			Port: DefaultBridgePort,
		},
		Logging: LoggingConfig{File: defaultLogFile, Level: "info"},
	}
}

func (fc *FileConfig) applyDefaults() {
	if fc.Version == 0 {
		fc.Version = 1
	}
	if strings.TrimSpace(fc.Backend.URL) == "" {
		fc.Backend.URL = DefaultBackendURL
	}
	if strings.TrimSpace(fc.Workflows.RestartDelay) == "" {
		fc.Workflows.RestartDelay = DefaultRestartDelay.String()
	}
	if fc.Intents.QueueCapacity <= 0 {
		fc.Intents.QueueCapacity = DefaultQueueCapacity
	}
	if strings.TrimSpace(fc.Bridge.Host) == "" {
		fc.Bridge.Host = DefaultBridgeHost
	}
	if fc.Bridge.Port == 0 {
		fc.Bridge.Port = DefaultBridgePort
	}
	if strings.TrimSpace(fc.Logging.File) == "" {
		fc.Logging.File = defaultLogFile
	}
	if strings.TrimSpace(fc.Logging.Level) == "" {
		fc.Logging.Level = "info"
	}
}

func (fc *FileConfig) normalize() {
	fc.Backend.URL = strings.TrimSpace(fc.Backend.URL)
	if !strings.HasSuffix(fc.Backend.URL, "/") {
		fc.Backend.URL += "/"
	}
	fc.Backend.Timeout = strings.TrimSpace(fc.Backend.Timeout)
	fc.Workflows.RestartDelay = strings.TrimSpace(fc.Workflows.RestartDelay)
	fc.Bridge.Host = strings.TrimSpace(fc.Bridge.Host)
	fc.Logging.File = strings.TrimSpace(fc.Logging.File)
	fc.Logging.Level = strings.ToLower(strings.TrimSpace(fc.Logging.Level))
}

func (fc *FileConfig) validate() error {
	if fc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	parsed, err := url.Parse(fc.Backend.URL)
	if err != nil {
		return fmt.Errorf("backend.url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("backend.url must use http or https")
	}
	if parsed.Host == "" {
		return fmt.Errorf("backend.url must include a host")
	}
	if !isValidPort(fc.Bridge.Port) {
		return fmt.Errorf("bridge.port must be between 1 and 65535")
	}
	switch fc.Logging.Level {
	case "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be info, warn or error")
	}
	return nil
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" || value == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return d, nil
}

func isValidPort(port int) bool {
	return port > 0 && port <= 65535
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}
