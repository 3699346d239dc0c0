package guardian

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"howett.net/plist"
)

// launchAgent is the subset of launchd.plist(5) the guardian writes.
type launchAgent struct {
	Label             string   `plist:"Label"`
	ProgramArguments  []string `plist:"ProgramArguments"`
	RunAtLoad         bool     `plist:"RunAtLoad"`
	StartInterval     int      `plist:"StartInterval,omitempty"`
	StandardErrorPath string   `plist:"StandardErrorPath,omitempty"`
}

type launchdRegistrar struct {
	home   string
	runner Runner
}

func (r *launchdRegistrar) plistPath(name string) string {
	return filepath.Join(r.home, "Library", "LaunchAgents", name+".plist")
}

// Register writes a per-user LaunchAgent and loads it.
func (r *launchdRegistrar) Register(ctx context.Context, task Task) error {
	agent := launchAgent{
		Label:            task.Name,
		ProgramArguments: []string{"/bin/sh", task.Script},
		RunAtLoad:        true,
		StartInterval:    int(task.Interval.Seconds()),
	}
	data, err := plist.MarshalIndent(agent, plist.XMLFormat, "\t")
	if err != nil {
		return fmt.Errorf("failed to encode launch agent: %w", err)
	}

	path := r.plistPath(task.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create LaunchAgents directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write launch agent: %w", err)
	}

	// Unload first so a changed interval takes effect.
	_, _ = r.runner.Run(ctx, "launchctl", "unload", path)
	if _, err := r.runner.Run(ctx, "launchctl", "load", "-w", path); err != nil {
		slog.Warn("launch_agent_load_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
	return nil
}

// Unregister unloads and deletes the LaunchAgent.
func (r *launchdRegistrar) Unregister(ctx context.Context, name string) error {
	path := r.plistPath(name)
	_, _ = r.runner.Run(ctx, "launchctl", "unload", "-w", path)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove launch agent: %w", err)
	}
	return nil
}
