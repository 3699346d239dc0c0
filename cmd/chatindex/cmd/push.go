package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	ierrors "github.com/Aman-CERP/chatindex/internal/errors"
	"github.com/Aman-CERP/chatindex/internal/message"
)

func newPushCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push FILE|-",
		Short: "Push real-time messages to the open session",
		Long: `Push a JSON array of messages to the served session's real-time
collector. Messages are indexed into the real-time index on the next
collector tick and are searchable until the next merge or suspend.`,
		Example: `  chatindex push new.json
  produce-messages | chatindex push -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := opts.writer(cmd)
			if err != nil {
				return err
			}
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			msgs, err := message.DecodeBatch(data)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if err := opts.client().Push(ctx, msgs); err != nil {
				return err
			}
			return w.Result(map[string]int{"pushed": len(msgs)}, func() {
				w.Successf("Pushed %d messages", len(msgs))
			})
		},
	}
}

// readInput reads path, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeFileNotFound, fmt.Sprintf("failed to read %s", path), err)
	}
	return data, nil
}
