package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/chatindex/internal/daemon"
	ierrors "github.com/Aman-CERP/chatindex/internal/errors"
	"github.com/Aman-CERP/chatindex/internal/guardian"
	"github.com/Aman-CERP/chatindex/internal/session"
	"github.com/Aman-CERP/chatindex/internal/vault"
)

// suspendTimeout bounds the shutdown suspend after a signal.
const suspendTimeout = 2 * time.Minute

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		user    string
		keyFile string
		inbox   string
		noGuard bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Open a user's session and serve it on a local socket",
		Long: `Open the session for --user: restore the encrypted archive if there is
one, initialize the index, and start the real-time collector. Other
chatindex commands reach the session through a Unix socket in the data
directory.

The archive key is read from --key-file, or from the ` + KeyEnvVar + `
environment variable, as base64 of 32 random bytes ('chatindex keygen').

On SIGINT or SIGTERM, or after 'chatindex suspend', the index is sealed
back into its archive and every plaintext folder is removed. If the
process dies instead, the cleanup task registered with the OS purges
the folders.`,
		Example: `  # Serve u1's index and watch an inbox for real-time messages
  CHATINDEX_KEY=$(cat ~/.u1.key) chatindex serve --user u1 --inbox ~/chat/inbox`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := readKey(keyFile)
			if err != nil {
				return err
			}
			return runServe(cmd, opts, serveOptions{user: user, key: key, inbox: inbox, noGuardian: noGuard})
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "User whose index to open (required)")
	cmd.Flags().StringVar(&keyFile, "key-file", "", "File holding the archive key")
	cmd.Flags().StringVar(&inbox, "inbox", "", "Directory watched for real-time message files")
	cmd.Flags().BoolVar(&noGuard, "no-guardian", false, "Do not register crash cleanup with the OS")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

type serveOptions struct {
	user       string
	key        []byte
	inbox      string
	noGuardian bool
}

func runServe(cmd *cobra.Command, opts *rootOptions, so serveOptions) error {
	ctx := cmd.Context()
	cfg := opts.cfg
	w, err := opts.writer(cmd)
	if err != nil {
		return err
	}

	var g *guardian.Guardian
	if !so.noGuardian {
		g, err = guardian.New(guardian.Config{
			StateDir: cfg.GuardianStateDir(),
			Interval: cfg.Guardian.Interval,
		})
		if err != nil {
			return err
		}
	}

	manager, err := session.NewManager(session.ManagerConfig{Config: cfg, Guardian: g})
	if err != nil {
		return err
	}

	dcfg := opts.daemonConfig()
	dcfg.InboxDir = so.inbox
	if err := dcfg.EnsureDir(); err != nil {
		return err
	}
	if daemon.NewClient(dcfg).IsRunning() {
		return ierrors.New(ierrors.ErrCodeInvalidInput, "a session is already being served", nil).
			WithDetail("socket", dcfg.SocketPath).
			WithSuggestion("run 'chatindex suspend' first")
	}

	sess, err := manager.Open(ctx, so.user, so.key)
	if err != nil {
		return err
	}

	srv, err := daemon.NewServer(dcfg, sess)
	if err != nil {
		suspendQuietly(sess)
		return err
	}

	st := sess.Status()
	w.Successf("Session open for %s", so.user)
	switch {
	case st.Restored:
		w.Status("", "Index restored from archive")
	case st.NewUser:
		w.Status("", "New user, empty index")
	}
	w.Statusf("", "Listening on %s", dcfg.SocketPath)
	if so.inbox != "" {
		w.Statusf("", "Watching %s", so.inbox)
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, groupCtx := errgroup.WithContext(serveCtx)
	group.Go(func() error {
		defer cancel()
		err := srv.ListenAndServe(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if so.inbox != "" {
		group.Go(func() error {
			return daemon.NewInbox(so.inbox, sess).Run(groupCtx)
		})
	}
	runErr := group.Wait()

	if srv.Suspended() {
		w.Success("Session suspended")
		return runErr
	}

	archive, err := suspend(sess)
	if err != nil {
		return errors.Join(runErr, err)
	}
	w.Successf("Session suspended, index sealed in %s", archive)
	return runErr
}

// suspend seals the session with a fresh context so a cancelled command
// context still archives the index.
func suspend(sess *session.Session) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), suspendTimeout)
	defer cancel()
	archive, err := sess.Suspend(ctx)
	if errors.Is(err, session.ErrSuspended) {
		return archive, nil
	}
	return archive, err
}

func suspendQuietly(sess *session.Session) {
	if _, err := suspend(sess); err != nil {
		slog.Warn("suspend_failed", slog.String("error", err.Error()))
	}
}

// readKey loads the archive key from path, or from the environment.
func readKey(path string) ([]byte, error) {
	raw := os.Getenv(KeyEnvVar)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, ierrors.New(ierrors.ErrCodeInvalidKey, "failed to read key file", err).
				WithDetail("path", path)
		}
		raw = strings.TrimSpace(string(data))
	}
	if raw == "" {
		return nil, ierrors.New(ierrors.ErrCodeInvalidKey, "no archive key supplied", nil).
			WithSuggestion(fmt.Sprintf("pass --key-file or set %s", KeyEnvVar))
	}
	return vault.ParseKey(raw)
}
