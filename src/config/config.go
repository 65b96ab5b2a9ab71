package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"unity-references/src/internal/common"
	"unity-references/src/internal/constants"
	"unity-references/src/internal/installer"
)

// Defaults
const (
	DefaultStartTimeout    = constants.ProcessStartTimeout
	DefaultShutdownTimeout = constants.ProcessShutdownTimeout
	DefaultRequestTimeout  = constants.DefaultRequestTimeout
	DefaultLogLevel        = "info"

	configFileName = "config.yaml"
	stateFileName  = "state.db"
	logsDirName    = "logs"
)

// Config contains the host configuration
type Config struct {
	// CustomServerPath disables automatic updates when set.
	CustomServerPath string       `yaml:"custom_server_path,omitempty"`
	DataDir          string       `yaml:"data_dir,omitempty"`
	LogLevel         string       `yaml:"log_level,omitempty"`
	WatchProjects    bool         `yaml:"watch_projects"`
	Feed             FeedConfig   `yaml:"feed"`
	Server           ServerConfig `yaml:"server"`
}

// FeedConfig selects the release feed. URL wins over Owner/Repo.
type FeedConfig struct {
	URL   string `yaml:"url,omitempty"`
	Owner string `yaml:"owner,omitempty"`
	Repo  string `yaml:"repo,omitempty"`
}

// ServerConfig contains reference server timeouts
type ServerConfig struct {
	StartTimeout    time.Duration `yaml:"start_timeout,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
	RequestTimeout  time.Duration `yaml:"request_timeout,omitempty"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := GetDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads path, or the default path when path is empty. A missing
// file yields the defaults. Environment overrides are applied last.
func LoadOrDefault(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = GetDefaultConfigPath()
	}

	var config *Config
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !explicit {
		config = GetDefaultConfig()
	} else {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		config = loaded
	}

	config.applyEnv()
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateDefaultConfig generates a default configuration file
func GenerateDefaultConfig(path string) error {
	return SaveConfig(GetDefaultConfig(), path)
}

func validateConfig(config *Config) error {
	if _, ok := common.ParseLogLevel(config.LogLevel); !ok {
		return fmt.Errorf("unknown log_level %q", config.LogLevel)
	}

	timeouts := map[string]time.Duration{
		"server.start_timeout":    config.Server.StartTimeout,
		"server.shutdown_timeout": config.Server.ShutdownTimeout,
		"server.request_timeout":  config.Server.RequestTimeout,
	}
	for name, d := range timeouts {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	if (config.Feed.Owner == "") != (config.Feed.Repo == "") {
		return fmt.Errorf("feed.owner and feed.repo must be set together")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Server.StartTimeout == 0 {
		c.Server.StartTimeout = DefaultStartTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = DefaultRequestTimeout
	}
}

func (c *Config) applyEnv() {
	if v, ok := common.LookupEnv(common.EnvServerPath); ok {
		c.CustomServerPath = v
	}
	if v, ok := common.LookupEnv(common.EnvDataDir); ok {
		c.DataDir = v
	}
	if v, ok := common.LookupEnv(common.EnvDebug); ok && strings.EqualFold(v, "true") {
		c.LogLevel = "debug"
	}
}

// GetDefaultConfigPath returns the default configuration file path
func GetDefaultConfigPath() string {
	return filepath.Join(common.DefaultDataDir(), configFileName)
}

// GetDefaultConfig returns the configuration used when no file exists
func GetDefaultConfig() *Config {
	return &Config{
		LogLevel:      DefaultLogLevel,
		WatchProjects: true,
		Server: ServerConfig{
			StartTimeout:    DefaultStartTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
			RequestTimeout:  DefaultRequestTimeout,
		},
	}
}

// ResolvedDataDir returns the expanded data directory.
func (c *Config) ResolvedDataDir() (string, error) {
	if strings.TrimSpace(c.DataDir) == "" {
		return common.DefaultDataDir(), nil
	}
	return common.ExpandPath(c.DataDir)
}

// ServerPath returns the custom server path, expanded, or "" when unset.
func (c *Config) ServerPath() (string, error) {
	if strings.TrimSpace(c.CustomServerPath) == "" {
		return "", nil
	}
	return common.ExpandPath(strings.TrimSpace(c.CustomServerPath))
}

// FeedURL returns the release list endpoint.
func (c *Config) FeedURL() string {
	switch {
	case c.Feed.URL != "":
		return c.Feed.URL
	case c.Feed.Owner != "":
		return fmt.Sprintf("https://api.github.com/repos/%s/%s/releases", c.Feed.Owner, c.Feed.Repo)
	default:
		return installer.DefaultFeedURL
	}
}

// Paths are the locations derived from the data directory.
type Paths struct {
	DataDir    string
	InstallDir string
	Executable string
	StateFile  string
	LogDir     string
}

// ResolvePaths derives every on-disk location from the data directory.
func (c *Config) ResolvePaths() (Paths, error) {
	dataDir, err := c.ResolvedDataDir()
	if err != nil {
		return Paths{}, err
	}
	return Paths{
		DataDir:    dataDir,
		InstallDir: common.ServerInstallDir(dataDir),
		Executable: common.DefaultServerExecutable(dataDir),
		StateFile:  filepath.Join(dataDir, stateFileName),
		LogDir:     filepath.Join(dataDir, logsDirName),
	}, nil
}
