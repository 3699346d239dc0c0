package guardian

import (
	"context"
	"fmt"
	"strconv"
)

type schtasksRegistrar struct {
	runner Runner
}

// Register creates (or replaces) a scheduled task that runs the sweep
// script every interval, starting at logon.
func (r *schtasksRegistrar) Register(ctx context.Context, task Task) error {
	minutes := int(task.Interval.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	_, err := r.runner.Run(ctx, "schtasks",
		"/Create", "/F",
		"/TN", task.Name,
		"/SC", "MINUTE",
		"/MO", strconv.Itoa(minutes),
		"/TR", fmt.Sprintf(`cmd /c "%s"`, task.Script),
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduled task: %w", err)
	}
	return nil
}

// Unregister deletes the scheduled task.
func (r *schtasksRegistrar) Unregister(ctx context.Context, name string) error {
	if _, err := r.runner.Run(ctx, "schtasks", "/Delete", "/F", "/TN", name); err != nil {
		return fmt.Errorf("failed to delete scheduled task: %w", err)
	}
	return nil
}
