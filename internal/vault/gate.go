// Package vault moves a user's index between its encrypted archive and
// its working folder. Archives are a tar stream, compressed with LZ4 and
// sealed with AES-256-GCM in the DARE format.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/minio/sio"
	"github.com/pierrec/lz4/v4"

	ierrors "github.com/Aman-CERP/chatindex/internal/errors"
)

// ArchiveExt is appended to the working folder name to form the archive name.
const ArchiveExt = ".enc"

// PartialSuffix names the folder Decrypt unpacks into before it replaces
// the working folder. It holds plaintext while it exists.
const PartialSuffix = ".partial"

// ErrNoArchive is returned by Decrypt when there is nothing to restore.
var ErrNoArchive = errors.New("no encrypted index archive")

// Gate encrypts and decrypts index folders. Archives live in ArchiveDir.
type Gate struct {
	archiveDir string
}

// NewGate creates a gate writing archives into archiveDir.
func NewGate(archiveDir string) *Gate {
	return &Gate{archiveDir: archiveDir}
}

// ArchivePath returns where the archive for dir is kept.
func (g *Gate) ArchivePath(dir string) string {
	return filepath.Join(g.archiveDir, filepath.Base(filepath.Clean(dir))+ArchiveExt)
}

// HasArchive reports whether an archive exists for dir.
func (g *Gate) HasArchive(dir string) bool {
	info, err := os.Stat(g.ArchivePath(dir))
	return err == nil && info.Mode().IsRegular()
}

func sioConfig(key []byte) sio.Config {
	return sio.Config{
		Key:          key,
		MinVersion:   sio.Version20,
		CipherSuites: []byte{sio.AES_256_GCM},
	}
}

// Encrypt seals dir into its archive and removes the working folder. The
// previous archive is replaced only once the new one is fully written.
func (g *Gate) Encrypt(ctx context.Context, dir string, key []byte) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", ierrors.MissingFolderError(dir)
	}
	if err := os.MkdirAll(g.archiveDir, 0o700); err != nil {
		return "", ierrors.New(ierrors.ErrCodeFilePermission, "failed to create archive folder", err).
			WithDetail("path", g.archiveDir)
	}

	archive := g.ArchivePath(dir)
	tmp := archive + ".tmp"
	if err := g.seal(ctx, dir, tmp, key); err != nil {
		_ = os.Remove(tmp)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", ierrors.New(ierrors.ErrCodeCrypto, "failed to encrypt index", err).
			WithDetail("path", dir)
	}
	if err := os.Rename(tmp, archive); err != nil {
		_ = os.Remove(tmp)
		return "", ierrors.New(ierrors.ErrCodeFilePermission, "failed to move archive into place", err).
			WithDetail("path", archive)
	}

	if err := os.RemoveAll(dir); err != nil {
		return archive, ierrors.New(ierrors.ErrCodeFilePermission, "archive written but working folder not removed", err).
			WithDetail("path", dir)
	}

	slog.Info("index_encrypted",
		slog.String("archive", archive),
		slog.String("folder", dir))
	return archive, nil
}

func (g *Gate) seal(ctx context.Context, dir, out string, key []byte) error {
	f, err := os.OpenFile(out, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := sio.EncryptWriter(writerOnly{f}, sioConfig(key))
	if err != nil {
		return err
	}
	zw := lz4.NewWriter(enc)

	if err := writeTar(ctx, dir, zw); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return f.Close()
}

// Decrypt restores archive into dir, replacing whatever dir held. The
// archive is left in place. On failure no partial folder remains.
func (g *Gate) Decrypt(ctx context.Context, archive, dir string, key []byte) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	if _, err := os.Stat(archive); errors.Is(err, os.ErrNotExist) {
		return "", ErrNoArchive
	}

	partial := filepath.Clean(dir) + PartialSuffix
	if err := os.RemoveAll(partial); err != nil {
		return "", ierrors.Wrap(ierrors.ErrCodeFilePermission, err)
	}
	if err := os.MkdirAll(partial, 0o700); err != nil {
		return "", ierrors.Wrap(ierrors.ErrCodeFilePermission, err)
	}

	if err := unseal(ctx, archive, partial, key); err != nil {
		_ = os.RemoveAll(partial)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", ierrors.New(ierrors.ErrCodeFileCorrupt, "failed to decrypt index archive", err).
			WithDetail("archive", archive)
	}

	if err := os.RemoveAll(dir); err != nil {
		_ = os.RemoveAll(partial)
		return "", ierrors.Wrap(ierrors.ErrCodeFilePermission, err)
	}
	if err := os.Rename(partial, dir); err != nil {
		_ = os.RemoveAll(partial)
		return "", ierrors.Wrap(ierrors.ErrCodeFilePermission, err)
	}

	slog.Info("index_decrypted",
		slog.String("archive", archive),
		slog.String("folder", dir))
	return dir, nil
}

func unseal(ctx context.Context, archive, dest string, key []byte) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := sio.DecryptReader(f, sioConfig(key))
	if err != nil {
		return err
	}
	return extractTar(ctx, lz4.NewReader(dec), dest)
}

// Restore decrypts the archive for dir if there is one. It reports false
// when there was no archive or it could not be opened; the caller then
// continues with whatever dir holds, which may be nothing.
func (g *Gate) Restore(ctx context.Context, dir string, key []byte) (bool, error) {
	_, err := g.Decrypt(ctx, g.ArchivePath(dir), dir, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNoArchive):
		slog.Debug("index_archive_missing", slog.String("folder", dir))
		return false, nil
	default:
		slog.Warn("index_archive_unreadable",
			slog.String("folder", dir),
			slog.String("error", err.Error()))
		return false, err
	}
}

// writerOnly hides Close so the encrypting writer leaves the file open.
type writerOnly struct {
	w io.Writer
}

func (w writerOnly) Write(p []byte) (int, error) {
	return w.w.Write(p)
}
