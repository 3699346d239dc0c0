package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/chatindex/configs"
	"github.com/Aman-CERP/chatindex/internal/config"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration and per-user settings",
		Long: `Manage the user configuration file and the per-user search settings.

Configuration precedence (lowest to highest):
  1. Built-in defaults
  2. User config ($XDG_CONFIG_HOME/chatindex/config.yaml), or --config
  3. Environment variables (` + config.EnvPrefix + `*)`,
		Example: `  chatindex config init
  chatindex config show
  chatindex config user u1`,
	}

	cmd.AddCommand(newConfigInitCmd(opts))
	cmd.AddCommand(newConfigShowCmd(opts))
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigUserCmd(opts))

	return cmd
}

func newConfigInitCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the user configuration file from the template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := opts.writer(cmd)
			if err != nil {
				return err
			}
			configPath := config.GetUserConfigPath()
			if config.UserConfigExists() && !force {
				w.Warning("User configuration already exists")
				w.Statusf("", "Location: %s", configPath)
				w.Status("", "Use --force to overwrite it with the template")
				return nil
			}

			if err := os.MkdirAll(config.GetUserConfigDir(), 0o755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := os.WriteFile(configPath, []byte(configs.UserConfigTemplate), 0o644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			return w.Result(map[string]string{"path": configPath}, func() {
				w.Success("Created user configuration")
				w.Statusf("", "Location: %s", configPath)
				w.Status("", "Edit it, then run 'chatindex config show' to verify")
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration")
	return cmd
}

func newConfigShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := opts.writer(cmd)
			if err != nil {
				return err
			}
			if w.JSONMode() {
				return w.JSON(opts.cfg)
			}
			data, err := yaml.Marshal(opts.cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}

func newConfigUserCmd(opts *rootOptions) *cobra.Command {
	var language string

	cmd := &cobra.Command{
		Use:   "user USER",
		Short: "Show or update a user's search settings",
		Long: `Show a user's entry in the search settings file, creating an empty entry
for a user seen for the first time. With --language, update the stored
search language.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := opts.writer(cmd)
			if err != nil {
				return err
			}
			store := config.NewUserStore(opts.cfg.UsersFilePath())
			ctx := cmd.Context()

			settings, created, err := store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("language") {
				settings.Language = language
				if settings, err = store.Update(ctx, args[0], settings); err != nil {
					return err
				}
			}

			return w.Result(settings, func() {
				if created {
					w.Statusf("", "New user %s", args[0])
				}
				renderUserSettings(cmd, settings)
			})
		},
	}

	cmd.Flags().StringVar(&language, "language", "", "Search language to store")
	return cmd
}

func renderUserSettings(cmd *cobra.Command, s config.UserSettings) {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Rotation ID:    %d\n", s.RotationID)
	_, _ = fmt.Fprintf(out, "Version:        %d\n", s.Version)
	_, _ = fmt.Fprintf(out, "Index version:  %s\n", s.IndexVersion)
	if s.Language != "" {
		_, _ = fmt.Fprintf(out, "Language:       %s\n", s.Language)
	}
	if s.LastIndexedAt != nil {
		_, _ = fmt.Fprintf(out, "Last backfill:  %s\n", s.LastIndexedAt.Format(time.RFC3339))
	} else {
		_, _ = fmt.Fprintln(out, "Last backfill:  never")
	}
}
