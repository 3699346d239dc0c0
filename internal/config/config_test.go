package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points every XDG lookup at a fresh temp tree.
func isolate(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(root, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(root, "data"))
	for _, key := range []string{
		"DATA_DIR", "USER_DATA_DIR", "VALIDATOR_PATH", "SWEEP_SCHEDULE",
		"LOG_LEVEL", "LOG_FILE", "RETENTION", "REALTIME_INTERVAL",
		"GUARDIAN_INTERVAL", "MERGE_EVERY", "LOG_MAX_SIZE_MB", "LOG_MAX_FILES",
		"MIN_DISK_SPACE",
	} {
		t.Setenv(EnvPrefix+key, "")
	}
	return root
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// =============================================================================
// Defaults
// =============================================================================

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: an isolated environment
	root := isolate(t)

	// When: building defaults
	cfg := NewConfig()

	// Then: every section is populated
	require.NotNil(t, cfg)
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, filepath.Join(root, "data", AppName), cfg.Paths.UserDataDir)
	assert.NotEmpty(t, cfg.Paths.DataDir)
	assert.Equal(t, 3*31*24*time.Hour, cfg.Indexing.Retention)
	assert.Equal(t, 60*time.Second, cfg.Indexing.RealTimeInterval)
	assert.Equal(t, uint64(300_000_000), cfg.Indexing.MinDiskSpace)
	assert.Equal(t, DefaultMergeEvery, cfg.Indexing.MergeEvery)
	assert.Empty(t, cfg.Indexing.ValidatorPath)
	assert.Equal(t, "@every 1m", cfg.Guardian.SweepSchedule)
	assert.Equal(t, 5*time.Minute, cfg.Guardian.Interval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Log.File)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_DerivedPaths(t *testing.T) {
	cfg := NewConfig()
	cfg.Paths.UserDataDir = "/u"

	assert.Equal(t, filepath.Join("/u", "sessions"), cfg.GuardianStateDir())
	assert.Equal(t, filepath.Join("/u", UsersFileName), cfg.UsersFilePath())
}

// =============================================================================
// Loading
// =============================================================================

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, NewConfig(), cfg)
}

func TestLoad_UserConfigOverridesDefaults(t *testing.T) {
	// Given: a user config file
	isolate(t)
	writeConfig(t, GetUserConfigPath(), `
paths:
  data_dir: /var/tmp/ci
indexing:
  retention: 720h
  realtime_interval: 5s
  merge_every: 3
log:
  level: debug
  max_files: 2
`)

	// When: loading
	cfg, err := Load("")

	// Then: file values win, everything else stays default
	require.NoError(t, err)
	assert.Equal(t, "/var/tmp/ci", cfg.Paths.DataDir)
	assert.Equal(t, 720*time.Hour, cfg.Indexing.Retention)
	assert.Equal(t, 5*time.Second, cfg.Indexing.RealTimeInterval)
	assert.Equal(t, 3, cfg.Indexing.MergeEvery)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 2, cfg.Log.MaxFiles)
	assert.Equal(t, DefaultLogMaxSizeMB, cfg.Log.MaxSizeMB)
	assert.Equal(t, DefaultSweepSchedule, cfg.Guardian.SweepSchedule)
}

func TestLoad_ExplicitPathReplacesUserConfig(t *testing.T) {
	isolate(t)
	writeConfig(t, GetUserConfigPath(), "log:\n  level: debug\n")
	explicit := filepath.Join(t.TempDir(), "other.yaml")
	writeConfig(t, explicit, "log:\n  level: warn\n")

	cfg, err := Load(explicit)

	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_ExplicitPathMissing_ReturnsError(t *testing.T) {
	isolate(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

	assert.Error(t, err)
}

func TestLoad_TildeExpands(t *testing.T) {
	isolate(t)
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	writeConfig(t, GetUserConfigPath(), "paths:\n  user_data_dir: ~/chat\n")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "chat"), cfg.Paths.UserDataDir)
}

func TestLoad_InvalidFiles_ReturnError(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed yaml", "indexing: [unclosed"},
		{"wrong type", "indexing:\n  merge_every: lots\n"},
		{"bad duration", "indexing:\n  retention: forever\n"},
		{"bad level", "log:\n  level: chatty\n"},
		{"short interval", "indexing:\n  realtime_interval: 1ms\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			writeConfig(t, GetUserConfigPath(), tt.body)

			_, err := Load("")

			assert.Error(t, err)
		})
	}
}

// =============================================================================
// Environment overrides
// =============================================================================

func TestLoad_EnvVarsOverrideFile(t *testing.T) {
	// Given: a file and env overrides for the same keys
	isolate(t)
	writeConfig(t, GetUserConfigPath(), "log:\n  level: debug\nindexing:\n  merge_every: 3\n")
	t.Setenv("CHATINDEX_LOG_LEVEL", "error")
	t.Setenv("CHATINDEX_MERGE_EVERY", "7")
	t.Setenv("CHATINDEX_RETENTION", "48h")
	t.Setenv("CHATINDEX_MIN_DISK_SPACE", "1024")
	t.Setenv("CHATINDEX_DATA_DIR", "/tmp/env-data")
	t.Setenv("CHATINDEX_SWEEP_SCHEDULE", "@hourly")

	// When: loading
	cfg, err := Load("")

	// Then: env wins
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, 7, cfg.Indexing.MergeEvery)
	assert.Equal(t, 48*time.Hour, cfg.Indexing.Retention)
	assert.Equal(t, uint64(1024), cfg.Indexing.MinDiskSpace)
	assert.Equal(t, "/tmp/env-data", cfg.Paths.DataDir)
	assert.Equal(t, "@hourly", cfg.Guardian.SweepSchedule)
}

func TestLoad_EnvVarEmptyString_DoesNotOverride(t *testing.T) {
	isolate(t)
	t.Setenv("CHATINDEX_LOG_LEVEL", "")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
}

func TestLoad_MalformedEnvVar_ReturnsError(t *testing.T) {
	tests := map[string]string{
		"CHATINDEX_RETENTION":      "soon",
		"CHATINDEX_MERGE_EVERY":    "x",
		"CHATINDEX_MIN_DISK_SPACE": "-1",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			isolate(t)
			t.Setenv(key, value)

			_, err := Load("")

			assert.ErrorContains(t, err, key)
		})
	}
}

// =============================================================================
// Paths and writing
// =============================================================================

func TestGetUserConfigPath_RespectsXDGConfigHome(t *testing.T) {
	root := isolate(t)

	assert.Equal(t, filepath.Join(root, "config", AppName, ConfigFileName), GetUserConfigPath())
	assert.Equal(t, filepath.Join(root, "config", AppName), GetUserConfigDir())
}

func TestGetUserConfigPath_DefaultsToHomeConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".config", AppName, ConfigFileName), GetUserConfigPath())
}

func TestWriteYAML_RoundTrips(t *testing.T) {
	// Given: a customized config written to the user config path
	isolate(t)
	cfg := NewConfig()
	cfg.Indexing.Retention = 240 * time.Hour
	cfg.Log.File = "/tmp/chatindex.log"
	require.False(t, UserConfigExists())
	require.NoError(t, cfg.WriteYAML(GetUserConfigPath()))

	// When: loading it back
	assert.True(t, UserConfigExists())
	loaded, err := Load("")

	// Then: the values survive
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.Paths.DataDir = "" }},
		{"empty user data dir", func(c *Config) { c.Paths.UserDataDir = "" }},
		{"zero retention", func(c *Config) { c.Indexing.Retention = 0 }},
		{"zero merge", func(c *Config) { c.Indexing.MergeEvery = 0 }},
		{"short guardian interval", func(c *Config) { c.Guardian.Interval = time.Second }},
		{"blank schedule", func(c *Config) { c.Guardian.SweepSchedule = " " }},
		{"tiny log size", func(c *Config) { c.Log.MaxSizeMB = 0 }},
		{"negative log files", func(c *Config) { c.Log.MaxFiles = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
