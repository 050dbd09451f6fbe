// Package settings manages ofslicerd's persistent configuration.
package settings

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default values applied when a setting is unset.
const (
	DefaultListenAddr      = ":8080"
	DefaultRedisAddr       = "127.0.0.1:6379"
	DefaultLogLevel        = "info"
	DefaultLearnIdleTimeoutSeconds = 600
)

// Settings holds ofslicerd's persistent configuration: the HTTP
// config listener, the Redis transport address, logging, and the
// idle timeout applied to newly learned MAC addresses.
type Settings struct {
	ListenAddr              string `yaml:"listen_addr,omitempty"`
	RedisAddr               string `yaml:"redis_addr,omitempty"`
	LogLevel                string `yaml:"log_level,omitempty"`
	LogJSON                 bool   `yaml:"log_json,omitempty"`
	LearnIdleTimeoutSeconds int    `yaml:"learn_idle_timeout_seconds,omitempty"`
}

// DefaultSettingsPath returns ~/.ofslicer/settings.yaml, falling back
// to a temp-directory path if the home directory cannot be resolved.
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "ofslicer_settings.yaml")
	}
	return filepath.Join(home, ".ofslicer", "settings.yaml")
}

// Load reads settings from the default location.
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path. A missing file is not
// an error — it yields empty settings, which GetX methods then fall
// back from.
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes settings to the default location.
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path, creating its parent
// directory if needed.
func (s *Settings) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// GetListenAddr returns the configured HTTP listen address, falling
// back to DefaultListenAddr.
func (s *Settings) GetListenAddr() string {
	if s.ListenAddr != "" {
		return s.ListenAddr
	}
	return DefaultListenAddr
}

// GetRedisAddr returns the configured Redis transport address,
// falling back to DefaultRedisAddr.
func (s *Settings) GetRedisAddr() string {
	if s.RedisAddr != "" {
		return s.RedisAddr
	}
	return DefaultRedisAddr
}

// GetLogLevel returns the configured log level, falling back to
// DefaultLogLevel.
func (s *Settings) GetLogLevel() string {
	if s.LogLevel != "" {
		return s.LogLevel
	}
	return DefaultLogLevel
}

// GetLearnIdleTimeoutSeconds returns the idle timeout applied to
// newly learned MAC addresses, falling back to
// DefaultLearnIdleTimeoutSeconds.
func (s *Settings) GetLearnIdleTimeoutSeconds() int {
	if s.LearnIdleTimeoutSeconds > 0 {
		return s.LearnIdleTimeoutSeconds
	}
	return DefaultLearnIdleTimeoutSeconds
}

// Clear resets all settings to their zero values.
func (s *Settings) Clear() {
	*s = Settings{}
}
