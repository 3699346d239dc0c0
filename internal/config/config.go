package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// AppName names the config, data, and cache directories.
	AppName = "chatindex"

	// ConfigFileName is the user configuration file inside the config directory.
	ConfigFileName = "config.yaml"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "CHATINDEX_"
)

// Defaults.
const (
	DefaultRetention        = 3 * 31 * 24 * time.Hour
	DefaultRealTimeInterval = 60 * time.Second
	DefaultMinDiskSpace     = 300_000_000
	DefaultMergeEvery       = 10
	DefaultSweepSchedule    = "@every 1m"
	DefaultGuardianInterval = 5 * time.Minute
	DefaultLogLevel         = "info"
	DefaultLogMaxSizeMB     = 10
	DefaultLogMaxFiles      = 5
)

// Config represents the complete chatindex configuration.
type Config struct {
	Version  int            `yaml:"version" json:"version"`
	Paths    PathsConfig    `yaml:"paths" json:"paths"`
	Indexing IndexingConfig `yaml:"indexing" json:"indexing"`
	Guardian GuardianConfig `yaml:"guardian" json:"guardian"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

// PathsConfig locates the working index folders and the persisted user data.
type PathsConfig struct {
	// DataDir holds the plaintext index folders while a session is open.
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// UserDataDir holds encrypted archives, user settings, and guardian state.
	UserDataDir string `yaml:"user_data_dir" json:"user_data_dir"`
}

// IndexingConfig tunes the coordinator and collector.
type IndexingConfig struct {
	Retention        time.Duration `yaml:"retention" json:"retention"`
	RealTimeInterval time.Duration `yaml:"realtime_interval" json:"realtime_interval"`
	MinDiskSpace     uint64        `yaml:"min_disk_space" json:"min_disk_space"`
	MergeEvery       int           `yaml:"merge_every" json:"merge_every"`
	// ValidatorPath is an optional external index validator executable.
	ValidatorPath string `yaml:"validator_path" json:"validator_path"`
}

// GuardianConfig configures stale-session cleanup.
type GuardianConfig struct {
	SweepSchedule string        `yaml:"sweep_schedule" json:"sweep_schedule"`
	Interval      time.Duration `yaml:"interval" json:"interval"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig returns a configuration with all defaults applied.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir:     defaultDataDir(),
			UserDataDir: defaultUserDataDir(),
		},
		Indexing: IndexingConfig{
			Retention:        DefaultRetention,
			RealTimeInterval: DefaultRealTimeInterval,
			MinDiskSpace:     DefaultMinDiskSpace,
			MergeEvery:       DefaultMergeEvery,
		},
		Guardian: GuardianConfig{
			SweepSchedule: DefaultSweepSchedule,
			Interval:      DefaultGuardianInterval,
		},
		Log: LogConfig{
			Level:     DefaultLogLevel,
			MaxSizeMB: DefaultLogMaxSizeMB,
			MaxFiles:  DefaultLogMaxFiles,
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, AppName)
	}
	return filepath.Join(os.TempDir(), AppName)
}

func defaultUserDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "."+AppName)
	}
	return filepath.Join(home, ".local", "share", AppName)
}

// GetUserConfigPath returns the path to the user configuration file:
//   - $XDG_CONFIG_HOME/chatindex/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/chatindex/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName, ConfigFileName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", AppName, ConfigFileName)
	}
	return filepath.Join(home, ".config", AppName, ConfigFileName)
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load loads configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. The config file at path, or the user config file when path is empty
//  3. Environment variables (CHATINDEX_*)
//
// An explicit path must exist; a missing user config file is fine.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		path = GetUserConfigPath()
		if !fileExists(path) {
			path = ""
		}
	}
	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML parses a YAML file and merges its non-zero values into c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Paths.DataDir != "" {
		c.Paths.DataDir = expandHome(other.Paths.DataDir)
	}
	if other.Paths.UserDataDir != "" {
		c.Paths.UserDataDir = expandHome(other.Paths.UserDataDir)
	}

	if other.Indexing.Retention != 0 {
		c.Indexing.Retention = other.Indexing.Retention
	}
	if other.Indexing.RealTimeInterval != 0 {
		c.Indexing.RealTimeInterval = other.Indexing.RealTimeInterval
	}
	if other.Indexing.MinDiskSpace != 0 {
		c.Indexing.MinDiskSpace = other.Indexing.MinDiskSpace
	}
	if other.Indexing.MergeEvery != 0 {
		c.Indexing.MergeEvery = other.Indexing.MergeEvery
	}
	if other.Indexing.ValidatorPath != "" {
		c.Indexing.ValidatorPath = expandHome(other.Indexing.ValidatorPath)
	}

	if other.Guardian.SweepSchedule != "" {
		c.Guardian.SweepSchedule = other.Guardian.SweepSchedule
	}
	if other.Guardian.Interval != 0 {
		c.Guardian.Interval = other.Guardian.Interval
	}

	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.File != "" {
		c.Log.File = expandHome(other.Log.File)
	}
	if other.Log.MaxSizeMB != 0 {
		c.Log.MaxSizeMB = other.Log.MaxSizeMB
	}
	if other.Log.MaxFiles != 0 {
		c.Log.MaxFiles = other.Log.MaxFiles
	}
}

// applyEnvOverrides applies CHATINDEX_* environment variable overrides.
// Empty variables are ignored; malformed ones are an error.
func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"DATA_DIR":       &c.Paths.DataDir,
		"USER_DATA_DIR":  &c.Paths.UserDataDir,
		"VALIDATOR_PATH": &c.Indexing.ValidatorPath,
		"SWEEP_SCHEDULE": &c.Guardian.SweepSchedule,
		"LOG_LEVEL":      &c.Log.Level,
		"LOG_FILE":       &c.Log.File,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = expandHome(v)
		}
	}

	durations := map[string]*time.Duration{
		"RETENTION":         &c.Indexing.Retention,
		"REALTIME_INTERVAL": &c.Indexing.RealTimeInterval,
		"GUARDIAN_INTERVAL": &c.Guardian.Interval,
	}
	for key, dst := range durations {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = d
		}
	}

	ints := map[string]*int{
		"MERGE_EVERY":     &c.Indexing.MergeEvery,
		"LOG_MAX_SIZE_MB": &c.Log.MaxSizeMB,
		"LOG_MAX_FILES":   &c.Log.MaxFiles,
	}
	for key, dst := range ints {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv(EnvPrefix + "MIN_DISK_SPACE"); v != "" {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%sMIN_DISK_SPACE: %w", EnvPrefix, err)
		}
		c.Indexing.MinDiskSpace = n
	}
	return nil
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Paths.DataDir == "" {
		return fmt.Errorf("paths.data_dir must be set")
	}
	if c.Paths.UserDataDir == "" {
		return fmt.Errorf("paths.user_data_dir must be set")
	}
	if c.Indexing.Retention <= 0 {
		return fmt.Errorf("indexing.retention must be positive, got %s", c.Indexing.Retention)
	}
	if c.Indexing.RealTimeInterval < 100*time.Millisecond {
		return fmt.Errorf("indexing.realtime_interval must be at least 100ms, got %s", c.Indexing.RealTimeInterval)
	}
	if c.Indexing.MergeEvery < 1 {
		return fmt.Errorf("indexing.merge_every must be at least 1, got %d", c.Indexing.MergeEvery)
	}
	if c.Guardian.Interval < time.Minute {
		return fmt.Errorf("guardian.interval must be at least 1m, got %s", c.Guardian.Interval)
	}
	if strings.TrimSpace(c.Guardian.SweepSchedule) == "" {
		return fmt.Errorf("guardian.sweep_schedule must be set")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("log.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Log.Level)
	}
	if c.Log.MaxSizeMB < 1 {
		return fmt.Errorf("log.max_size_mb must be at least 1, got %d", c.Log.MaxSizeMB)
	}
	if c.Log.MaxFiles < 0 {
		return fmt.Errorf("log.max_files must be non-negative, got %d", c.Log.MaxFiles)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GuardianStateDir is where session PID files and cleanup scripts live.
func (c *Config) GuardianStateDir() string {
	return filepath.Join(c.Paths.UserDataDir, "sessions")
}

// UsersFilePath is the per-user search settings file.
func (c *Config) UsersFilePath() string {
	return filepath.Join(c.Paths.UserDataDir, UsersFileName)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
