package guardian

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// autostartRegistrar installs an XDG autostart entry, so the sweep runs
// at every login. Periodic sweeps while logged in come from Watch.
type autostartRegistrar struct {
	home string
}

func (r *autostartRegistrar) desktopPath(name string) string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(r.home, ".config")
	}
	return filepath.Join(base, "autostart", name+".desktop")
}

// Register writes the .desktop entry.
func (r *autostartRegistrar) Register(_ context.Context, task Task) error {
	var b strings.Builder
	b.WriteString("[Desktop Entry]\n")
	b.WriteString("Type=Application\n")
	b.WriteString("Name=chatindex guardian\n")
	b.WriteString("Comment=Removes search index data left by crashed sessions\n")
	fmt.Fprintf(&b, "Exec=/bin/sh %s\n", shellQuote(task.Script))
	b.WriteString("NoDisplay=true\n")
	b.WriteString("X-GNOME-Autostart-enabled=true\n")

	path := r.desktopPath(task.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create autostart directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write autostart entry: %w", err)
	}
	return nil
}

// Unregister removes the .desktop entry.
func (r *autostartRegistrar) Unregister(_ context.Context, name string) error {
	if err := os.Remove(r.desktopPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove autostart entry: %w", err)
	}
	return nil
}
