package vault

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/chatindex/internal/engine"
	ierrors "github.com/Aman-CERP/chatindex/internal/errors"
	"github.com/Aman-CERP/chatindex/internal/message"
	"github.com/Aman-CERP/chatindex/internal/query"
)

func newKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func writeTree(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "store", "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index_meta.json"), []byte(`{"storage":"scorch"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "store", "nested", "segment.zap"), make([]byte, 64*1024), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0o755))
}

func TestGate_EncryptDecrypt_RoundTripsTree(t *testing.T) {
	// Given: a working folder with nested files
	base := t.TempDir()
	dir := filepath.Join(base, "data", "search_index_u1_v1")
	writeTree(t, dir)
	g := NewGate(base)
	key := newKey(t)

	// When: encrypting
	archive, err := g.Encrypt(context.Background(), dir, key)
	require.NoError(t, err)

	// Then: only the archive remains
	assert.Equal(t, filepath.Join(base, "search_index_u1_v1.enc"), archive)
	assert.FileExists(t, archive)
	assert.NoDirExists(t, dir)
	assert.NoFileExists(t, archive+".tmp")
	assert.True(t, g.HasArchive(dir))

	// When: decrypting with the same key
	out, err := g.Decrypt(context.Background(), archive, dir, key)
	require.NoError(t, err)

	// Then: the tree is back byte for byte and the archive is kept
	assert.Equal(t, dir, out)
	meta, err := os.ReadFile(filepath.Join(dir, "index_meta.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"storage":"scorch"}`, string(meta))
	info, err := os.Stat(filepath.Join(dir, "store", "nested", "segment.zap"))
	require.NoError(t, err)
	assert.Equal(t, int64(64*1024), info.Size())
	assert.DirExists(t, filepath.Join(dir, "empty"))
	assert.FileExists(t, archive)
}

func TestGate_Decrypt_WrongKeyLeavesNothing(t *testing.T) {
	// Given: an archive sealed with one key
	base := t.TempDir()
	dir := filepath.Join(base, "idx")
	writeTree(t, dir)
	g := NewGate(base)
	archive, err := g.Encrypt(context.Background(), dir, newKey(t))
	require.NoError(t, err)

	// When: decrypting with another
	_, err = g.Decrypt(context.Background(), archive, dir, newKey(t))

	// Then: it is reported as a corrupt file and no plaintext is left
	require.Error(t, err)
	assert.True(t, ierrors.HasCode(err, ierrors.ErrCodeFileCorrupt))
	assert.NoDirExists(t, dir)
	assert.NoDirExists(t, dir+".partial")
}

func TestGate_Decrypt_MissingArchive(t *testing.T) {
	g := NewGate(t.TempDir())
	_, err := g.Decrypt(context.Background(), filepath.Join(t.TempDir(), "none.enc"), filepath.Join(t.TempDir(), "idx"), newKey(t))
	assert.ErrorIs(t, err, ErrNoArchive)
}

func TestGate_Restore(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "idx")
	g := NewGate(base)
	key := newKey(t)
	ctx := context.Background()

	// Given: no archive, restore reports first run without error
	ok, err := g.Restore(ctx, dir, key)
	require.NoError(t, err)
	assert.False(t, ok)

	// Given: a good archive, restore brings the folder back
	writeTree(t, dir)
	_, err = g.Encrypt(ctx, dir, key)
	require.NoError(t, err)
	ok, err = g.Restore(ctx, dir, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.DirExists(t, dir)

	// Given: a damaged archive, restore reports the error without leaving plaintext
	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(g.ArchivePath(dir), []byte("not an archive"), 0o600))
	ok, err = g.Restore(ctx, dir, key)
	assert.Error(t, err)
	assert.False(t, ok)
	assert.NoDirExists(t, dir)
}

func TestGate_Encrypt_Errors(t *testing.T) {
	g := NewGate(t.TempDir())

	_, err := g.Encrypt(context.Background(), filepath.Join(t.TempDir(), "missing"), newKey(t))
	assert.True(t, ierrors.HasCode(err, ierrors.ErrCodeFileNotFound))

	_, err = g.Encrypt(context.Background(), t.TempDir(), []byte("short"))
	assert.True(t, ierrors.HasCode(err, ierrors.ErrCodeInvalidKey))
}

func TestGate_RoundTripPreservesSearchResults(t *testing.T) {
	// Given: a real index with a few messages
	base := t.TempDir()
	dir := filepath.Join(base, "data", "search_index_u1_v1")
	ctx := context.Background()
	now := time.Now()
	msgs := []message.Record{
		{MessageID: "m1", ThreadID: "t1", IngestionDate: strconv.FormatInt(now.UnixMilli(), 10), SenderID: "s1", Text: "quarterly numbers attached"},
		{MessageID: "m2", ThreadID: "t1", IngestionDate: strconv.FormatInt(now.Add(-time.Hour).UnixMilli(), 10), SenderID: "s2", Text: "numbers look good"},
	}

	searchOnce := func() []string {
		e, err := engine.NewBleve(engine.DefaultBleveConfig())
		require.NoError(t, err)
		defer func() { _ = e.Close() }()
		c := query.Compile(query.Request{Text: "numbers", SortOrder: "1"}, now, query.DefaultRetention)
		res, err := e.Search(ctx, engine.SearchRequest{MainPath: dir, Query: c.Expr, StartDate: c.StartDate, EndDate: c.EndDate, Limit: c.Limit, SortOrder: c.SortOrder})
		require.NoError(t, err)
		ids := make([]string, len(res.Messages))
		for i, m := range res.Messages {
			ids[i] = m.MessageID
		}
		return ids
	}

	e, err := engine.NewBleve(engine.DefaultBleveConfig())
	require.NoError(t, err)
	require.NoError(t, e.IndexRealTime(ctx, dir, msgs))
	require.NoError(t, e.Close())
	before := searchOnce()
	require.Equal(t, []string{"m1", "m2"}, before)

	// When: the folder goes through encrypt and decrypt
	g := NewGate(base)
	key := newKey(t)
	archive, err := g.Encrypt(ctx, dir, key)
	require.NoError(t, err)
	_, err = g.Decrypt(ctx, archive, dir, key)
	require.NoError(t, err)

	// Then: searching returns the same results
	assert.Equal(t, before, searchOnce())
}

func TestParseKey(t *testing.T) {
	raw := make([]byte, KeySize)
	for i := range raw {
		raw[i] = byte('a' + i%26)
	}

	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"base64", base64.StdEncoding.EncodeToString(raw), false},
		{"base64 with whitespace", " " + base64.StdEncoding.EncodeToString(raw) + "\n", false},
		{"url base64", base64.RawURLEncoding.EncodeToString(raw), false},
		{"raw bytes", string(raw), false},
		{"empty", "", true},
		{"too short", base64.StdEncoding.EncodeToString(raw[:16]), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ParseKey(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, ierrors.HasCode(err, ierrors.ErrCodeInvalidKey))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, raw, key)
		})
	}
}
