package guardian

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the in-process sweep every minute.
const DefaultSchedule = "@every 1m"

// Watch sweeps on schedule until ctx is done. It blocks.
func (g *Guardian) Watch(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	_, err := c.AddFunc(schedule, func() {
		res, err := g.Sweep(ctx)
		if err != nil {
			slog.Warn("guardian_sweep_failed", slog.String("error", err.Error()))
		}
		if res != nil && len(res.Cleaned) > 0 {
			slog.Info("guardian_sweep_cleaned", slog.Int("sessions", len(res.Cleaned)))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	c.Start()
	slog.Debug("guardian_watch_started", slog.String("schedule", schedule))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// ValidateSchedule reports whether schedule parses.
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return nil
}
