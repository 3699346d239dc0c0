package cmd

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/Aman-CERP/chatindex/internal/errors"
	"github.com/Aman-CERP/chatindex/internal/query"
	"github.com/Aman-CERP/chatindex/pkg/version"
)

// isolate points every chatindex location at temporary directories and
// returns the data directory. The data directory lives under /tmp so the
// socket path stays short.
func isolate(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dataDir, err := os.MkdirTemp("/tmp", "cix")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dataDir) })

	t.Setenv("HOME", root)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(root, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(root, "state"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(root, "data"))
	t.Setenv("CHATINDEX_DATA_DIR", dataDir)
	t.Setenv("CHATINDEX_USER_DATA_DIR", filepath.Join(root, "userdata"))
	t.Setenv("CHATINDEX_LOG_FILE", filepath.Join(root, "chatindex.log"))
	t.Setenv("CHATINDEX_MIN_DISK_SPACE", "1")
	t.Setenv("CHATINDEX_REALTIME_INTERVAL", "100ms")
	t.Setenv(KeyEnvVar, "")
	return dataDir
}

// run executes the root command with args and returns stdout and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRootCmd_ShowsHelp(t *testing.T) {
	isolate(t)

	out, _, err := run(t, "--help")

	require.NoError(t, err)
	for _, sub := range []string{"serve", "search", "push", "backfill", "suspend", "sweep", "check", "logs"} {
		assert.Contains(t, out, sub)
	}
}

func TestRootCmd_RejectsUnknownFormat(t *testing.T) {
	isolate(t)

	_, _, err := run(t, "latest", "--format", "xml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestRootCmd_InvalidConfigFails(t *testing.T) {
	isolate(t)
	t.Setenv("CHATINDEX_MERGE_EVERY", "many")

	_, _, err := run(t, "config", "show")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHATINDEX_MERGE_EVERY")
}

func TestVersionCmd(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, out string)
	}{
		{"default", nil, func(t *testing.T, out string) {
			assert.Contains(t, out, "chatindex "+version.Version)
			assert.Contains(t, out, "commit")
		}},
		{"short", []string{"--short"}, func(t *testing.T, out string) {
			assert.Equal(t, version.Version, strings.TrimSpace(out))
		}},
		{"json", []string{"--json"}, func(t *testing.T, out string) {
			var info map[string]string
			require.NoError(t, json.Unmarshal([]byte(out), &info))
			assert.Equal(t, version.Version, info["version"])
			assert.Equal(t, version.IndexFormat, info["index_format"])
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newVersionCmd()
			buf := &bytes.Buffer{}
			cmd.SetOut(buf)
			cmd.SetArgs(tt.args)
			require.NoError(t, cmd.Execute())
			tt.check(t, buf.String())
		})
	}
}

func TestKeygenCmd(t *testing.T) {
	isolate(t)

	// When: printing a key
	out, _, err := run(t, "keygen")

	// Then: it decodes to a 32-byte key
	require.NoError(t, err)
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Len(t, key, 32)

	// When: writing a key file
	path := filepath.Join(t.TempDir(), "u1.key")
	_, _, err = run(t, "keygen", "--out", path)
	require.NoError(t, err)

	// Then: it is owner-only and readable as a key
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	_, err = readKey(path)
	assert.NoError(t, err)
}

func TestReadKey(t *testing.T) {
	t.Setenv(KeyEnvVar, "")
	_, err := readKey("")
	assert.True(t, ierrors.HasCode(err, ierrors.ErrCodeInvalidKey))

	t.Setenv(KeyEnvVar, base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 32)))
	key, err := readKey("")
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{1}, 32), key)

	t.Setenv(KeyEnvVar, "short")
	_, err = readKey("")
	assert.True(t, ierrors.HasCode(err, ierrors.ErrCodeInvalidKey))

	_, err = readKey(filepath.Join(t.TempDir(), "missing.key"))
	assert.True(t, ierrors.HasCode(err, ierrors.ErrCodeInvalidKey))
}

func TestParseDateFlag(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"1700000000000", "1700000000000", false},
		{"2026-01-02", "1767312000000", false},
		{"2026-01-02T00:00:00Z", "1767312000000", false},
		{"yesterday", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseDateFlag("from", tt.input)
			if tt.wantErr {
				assert.True(t, ierrors.HasCode(err, ierrors.ErrCodeInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeleteParams(t *testing.T) {
	_, err := deleteParams("s1", "", "")
	assert.Error(t, err)

	p, err := deleteParams("", "", "1700000000000")
	require.NoError(t, err)
	assert.Equal(t, query.MinimumDate, p.MinDate)
	assert.Equal(t, "1700000000000", p.MaxDate)

	p, err = deleteParams("s1", "1700000000000", "")
	require.NoError(t, err)
	assert.Equal(t, "s1", p.SenderID)
	assert.Equal(t, query.MaximumDate, p.MaxDate)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "3.0 MiB", formatBytes(3*1024*1024))
}

func TestConfigCmd_InitShowPath(t *testing.T) {
	isolate(t)

	// When: creating the user config
	_, _, err := run(t, "config", "init", "--format", "text")
	require.NoError(t, err)

	// Then: the path command points at it and it exists
	out, _, err := run(t, "config", "path")
	require.NoError(t, err)
	assert.FileExists(t, strings.TrimSpace(out))

	// And: a second init without --force leaves it alone
	out, _, err = run(t, "config", "init", "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	// And: show reports the env overrides as JSON
	out, _, err = run(t, "config", "show", "--format", "json")
	require.NoError(t, err)
	var shown map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	indexing := shown["indexing"].(map[string]any)
	assert.EqualValues(t, 1, indexing["min_disk_space"])
}

func TestConfigCmd_User(t *testing.T) {
	isolate(t)

	out, _, err := run(t, "config", "user", "u1", "--language", "fr", "--format", "json")
	require.NoError(t, err)

	var settings map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &settings))
	assert.Equal(t, "fr", settings["language"])
	assert.Equal(t, version.IndexFormat, settings["indexVersion"])

	out, _, err = run(t, "config", "user", "u1", "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "Language:       fr")
	assert.Contains(t, out, "Last backfill:  never")
}

func TestStatusCmd_Offline(t *testing.T) {
	isolate(t)

	out, _, err := run(t, "status", "--format", "json")

	require.NoError(t, err)
	var st offlineStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.False(t, st.Running)
	assert.Empty(t, st.Archives)
}

func TestClientCmds_NoDaemon(t *testing.T) {
	isolate(t)

	for _, args := range [][]string{{"search", "x"}, {"latest"}, {"suspend"}, {"merge"}} {
		_, _, err := run(t, args...)
		assert.True(t, ierrors.HasCode(err, ierrors.ErrCodeNotReady), "%v", args)
	}
}

func TestCheckCmd(t *testing.T) {
	isolate(t)

	out, _, err := run(t, "check", "--format", "json")

	require.NoError(t, err)
	var report struct {
		Status  string `json:"status"`
		Results []struct {
			Name string `json:"name"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.NotEqual(t, "failed", report.Status)
	assert.Len(t, report.Results, 2)
}

func TestSweepCmd_NothingToClean(t *testing.T) {
	isolate(t)

	out, _, err := run(t, "sweep", "--format", "text")

	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to clean")
}

func TestLogsCmd(t *testing.T) {
	isolate(t)
	logPath := os.Getenv("CHATINDEX_LOG_FILE")
	require.NoError(t, os.WriteFile(logPath, []byte(
		`{"time":"2026-10-01T10:00:00Z","level":"INFO","msg":"session_opened","user":"u1"}`+"\n"+
			`{"time":"2026-10-01T10:00:01Z","level":"WARN","msg":"search_failed","user":"u2"}`+"\n"), 0o644))

	out, _, err := run(t, "logs", "--user", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "session_opened")
	assert.NotContains(t, out, "search_failed")
}

func TestRootCmd_WritesProfiles(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	heap := filepath.Join(dir, "heap.prof")
	cpu := filepath.Join(dir, "cpu.prof")

	_, _, err := run(t, "config", "path", "--profile-mem", heap, "--profile-cpu", cpu)

	require.NoError(t, err)
	assert.FileExists(t, heap)
	assert.FileExists(t, cpu)
}
