package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/chatindex/internal/config"
	"github.com/Aman-CERP/chatindex/internal/daemon"
	"github.com/Aman-CERP/chatindex/internal/engine"
	"github.com/Aman-CERP/chatindex/internal/index"
	"github.com/Aman-CERP/chatindex/internal/message"
)

func writeMessages(t *testing.T, dir, name string, msgs ...message.Record) string {
	t.Helper()
	data, err := message.EncodeBatch(msgs)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func chatMessage(id, sender, text string, at time.Time) message.Record {
	return message.Record{
		MessageID:     id,
		ThreadID:      "t1",
		IngestionDate: strconv.FormatInt(at.UnixMilli(), 10),
		SenderID:      sender,
		ChatType:      "direct",
		IsPublic:      "false",
		SendingApp:    "chat",
		Text:          text,
	}
}

func TestServe_EndToEnd(t *testing.T) {
	// Given: an isolated environment and a key
	dataDir := isolate(t)
	t.Setenv(KeyEnvVar, base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32)))
	inputs := t.TempDir()
	now := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() {
		cmd := NewRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"serve", "--user", "u1", "--no-guardian", "--format", "text"})
		served <- cmd.ExecuteContext(ctx)
	}()

	client := daemon.NewClient(daemon.DefaultConfig(dataDir))
	require.Eventually(t, client.IsRunning, 10*time.Second, 50*time.Millisecond, "serve never listened")

	// When: a real-time message is pushed
	live := writeMessages(t, inputs, "live.json", chatMessage("m1", "alice", "lunch at noon", now))
	out, _, err := run(t, "push", live, "--format", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"pushed":1}`, out)

	// Then: it becomes searchable after a collector tick
	assert.Eventually(t, func() bool {
		out, _, err := run(t, "search", "lunch", "--format", "json")
		if err != nil {
			return false
		}
		var res engine.Result
		return json.Unmarshal([]byte(out), &res) == nil && res.Total == 1
	}, 10*time.Second, 100*time.Millisecond)

	// When: history is backfilled from a file
	older := now.Add(-time.Hour)
	history := writeMessages(t, inputs, "history.json",
		chatMessage("h1", "bob", "quarterly report draft", older),
		chatMessage("h2", "bob", "report final", older.Add(time.Minute)))
	out, _, err = run(t, "backfill", history, "--format", "json")
	require.NoError(t, err)
	var result index.RunnerResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 1, result.Batches)
	assert.Equal(t, 2, result.Messages)

	// Then: the latest ingestion date is the newest backfilled message
	out, _, err = run(t, "latest", "--format", "json")
	require.NoError(t, err)
	assert.JSONEq(t, fmt.Sprintf(`{"latest":%q}`, strconv.FormatInt(older.Add(time.Minute).UnixMilli(), 10)), out)

	// And: the sender filter narrows the search
	out, _, err = run(t, "search", "report", "--sender", "bob", "--format", "json")
	require.NoError(t, err)
	var res engine.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.EqualValues(t, 2, res.Total)

	out, _, err = run(t, "status", "--format", "json")
	require.NoError(t, err)
	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "u1", st["user"])

	// When: the session is suspended
	out, _, err = run(t, "suspend", "--format", "json")
	require.NoError(t, err)
	var sealed map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &sealed))

	// Then: serve returns and only the archive remains
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("serve did not stop after suspend")
	}
	assert.FileExists(t, sealed["archive"])
	assert.NoDirExists(t, filepath.Join(dataDir, index.MainFolderName("u1")))
	assert.NoDirExists(t, filepath.Join(dataDir, index.RealTimeFolderName))
	assert.NoDirExists(t, filepath.Join(dataDir, index.BatchFolderName))
	assert.False(t, client.IsRunning())

	// And: the archive is listed while nothing is served
	out, _, err = run(t, "status", "--format", "json")
	require.NoError(t, err)
	var offline offlineStatus
	require.NoError(t, json.Unmarshal([]byte(out), &offline))
	assert.Equal(t, []string{sealed["archive"]}, offline.Archives)

	// And: the backfill was recorded in the user's settings
	cfg, err := config.Load("")
	require.NoError(t, err)
	settings, _, err := config.NewUserStore(cfg.UsersFilePath()).Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotNil(t, settings.LastIndexedAt)
}

func TestServe_RequiresKey(t *testing.T) {
	isolate(t)

	_, _, err := run(t, "serve", "--user", "u1", "--no-guardian")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no archive key")
}
