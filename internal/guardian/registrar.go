package guardian

import (
	"context"
	"time"
)

// TaskName identifies the OS task across platforms.
const TaskName = "com.chatindex.guardian"

// Task is the recurring OS job that runs the sweep script.
type Task struct {
	Name     string
	Script   string
	Interval time.Duration
}

// Registrar installs and removes the OS task.
type Registrar interface {
	Register(ctx context.Context, task Task) error
	Unregister(ctx context.Context, name string) error
}

// registrarFor picks the platform registrar.
func registrarFor(goos, home string, runner Runner) Registrar {
	switch goos {
	case "darwin":
		return &launchdRegistrar{home: home, runner: runner}
	case "windows":
		return &schtasksRegistrar{runner: runner}
	default:
		return &autostartRegistrar{home: home}
	}
}
