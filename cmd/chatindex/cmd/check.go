package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/chatindex/internal/index"
	"github.com/Aman-CERP/chatindex/internal/preflight"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var (
		user    string
		details bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check disk space, permissions, and index folders",
		Long: `Run the checks an index write depends on: free space in the data
directory against indexing.min_disk_space and write permission there.
With --user, each of that user's plaintext index folders that exists is
also run through the external validator when indexing.validator_path is
set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := opts.writer(cmd)
			if err != nil {
				return err
			}
			cfg := opts.cfg

			checkOpts := []preflight.Option{
				preflight.WithOutput(cmd.OutOrStdout()),
				preflight.WithVerbose(details),
				preflight.WithMinDiskSpace(cfg.Indexing.MinDiskSpace),
			}
			if cfg.Indexing.ValidatorPath != "" {
				checkOpts = append(checkOpts, preflight.WithValidator(preflight.NewValidator(cfg.Indexing.ValidatorPath)))
			}
			checker := preflight.New(checkOpts...)

			if err := os.MkdirAll(cfg.Paths.DataDir, 0o700); err != nil {
				return err
			}
			var folders []string
			if user != "" {
				for _, name := range []string{index.MainFolderName(user), index.RealTimeFolderName, index.BatchFolderName} {
					path := filepath.Join(cfg.Paths.DataDir, name)
					if info, err := os.Stat(path); err == nil && info.IsDir() {
						folders = append(folders, path)
					}
				}
			}

			results := checker.RunAll(cmd.Context(), cfg.Paths.DataDir, folders...)
			if w.JSONMode() {
				if err := w.JSON(map[string]any{
					"status":  checker.SummaryStatus(results),
					"results": results,
				}); err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
			}
			if checker.HasCriticalFailures(results) {
				return fmt.Errorf("system check failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "Also validate this user's index folders")
	cmd.Flags().BoolVar(&details, "details", false, "Show check details")

	return cmd
}
