package guardian

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Script flavours.
const (
	ShellScript = "sh"
	BatchScript = "cmd"
)

// scriptKind returns the script flavour for goos.
func scriptKind(goos string) string {
	if goos == "windows" {
		return BatchScript
	}
	return ShellScript
}

// shellQuote quotes s for POSIX sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// cleanupScript renders the per-PID cleanup script. It removes folders
// and the session files only when pid is no longer running.
func cleanupScript(kind string, pid int, folders []string, pidFile, self string) string {
	var b strings.Builder
	if kind == BatchScript {
		fmt.Fprintf(&b, "@echo off\r\n")
		fmt.Fprintf(&b, "rem chatindex cleanup for pid %d\r\n", pid)
		fmt.Fprintf(&b, "tasklist /FI \"PID eq %d\" 2>NUL | find \"%d\" >NUL\r\n", pid, pid)
		fmt.Fprintf(&b, "if not errorlevel 1 exit /b 0\r\n")
		for _, f := range folders {
			fmt.Fprintf(&b, "if exist \"%s\" rmdir /S /Q \"%s\"\r\n", f, f)
		}
		fmt.Fprintf(&b, "if exist \"%s\" del /F /Q \"%s\"\r\n", pidFile, pidFile)
		fmt.Fprintf(&b, "(goto) 2>nul & del /F /Q \"%s\"\r\n", self)
		return b.String()
	}

	fmt.Fprintf(&b, "#!/bin/sh\n")
	fmt.Fprintf(&b, "# chatindex cleanup for pid %d\n", pid)
	fmt.Fprintf(&b, "if kill -0 %d 2>/dev/null; then\n  exit 0\nfi\n", pid)
	for _, f := range folders {
		fmt.Fprintf(&b, "rm -rf %s\n", shellQuote(f))
	}
	fmt.Fprintf(&b, "rm -f %s %s\n", shellQuote(pidFile), shellQuote(self))
	return b.String()
}

// sweepScript renders the script the OS task runs: every cleanup script
// in dir, in turn.
func sweepScript(kind, dir string) string {
	if kind == BatchScript {
		return fmt.Sprintf("@echo off\r\nfor %%%%f in (\"%s\\cleanup-*.cmd\") do call \"%%%%f\"\r\n", dir)
	}
	return fmt.Sprintf("#!/bin/sh\nfor f in %s/cleanup-*.sh; do\n  [ -f \"$f\" ] && /bin/sh \"$f\"\ndone\nexit 0\n", shellQuote(dir))
}

// scriptName returns the file name of the cleanup script for pid.
func scriptName(kind string, pid int) string {
	return fmt.Sprintf("cleanup-%d.%s", pid, kind)
}

func writeScript(path, body string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0o700); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
