package preflight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultValidatorTimeout bounds one validator run.
const DefaultValidatorTimeout = 30 * time.Second

// validatorOK is the status the validator prints for a healthy folder.
const validatorOK = "OK"

// ValidationReport is the validator's verdict on one folder.
type ValidationReport struct {
	Folder  string `json:"folder"`
	Status  string `json:"status"`
	Skipped bool   `json:"skipped,omitempty"`
}

// OK reports whether the folder passed or validation was skipped.
func (r ValidationReport) OK() bool {
	return r.Skipped || r.Status == validatorOK
}

// Validator runs the external index validator executable. The executable
// takes a folder path as its only argument and prints {"status":"OK"}
// when the folder is healthy.
type Validator struct {
	Path    string
	Timeout time.Duration
}

// NewValidator returns a validator for the executable at path. An empty
// path disables validation.
func NewValidator(path string) *Validator {
	return &Validator{Path: path, Timeout: DefaultValidatorTimeout}
}

// Available reports whether the executable exists.
func (v *Validator) Available() bool {
	if v == nil || v.Path == "" {
		return false
	}
	info, err := os.Stat(v.Path)
	return err == nil && !info.IsDir()
}

// Validate runs the executable over folder. A missing executable is not
// an error: the report is marked skipped.
func (v *Validator) Validate(ctx context.Context, folder string) (ValidationReport, error) {
	report := ValidationReport{Folder: folder}
	if !v.Available() {
		slog.Debug("index_validator_skipped",
			slog.String("folder", folder),
			slog.String("validator", v.pathOrEmpty()))
		report.Skipped = true
		return report, nil
	}

	timeout := v.Timeout
	if timeout <= 0 {
		timeout = DefaultValidatorTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, v.Path, folder).Output()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, exec.ErrNotFound) {
			report.Skipped = true
			return report, nil
		}
		return report, fmt.Errorf("index validator failed on %s: %w", folder, err)
	}

	var parsed struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(out))), &parsed); err != nil {
		return report, fmt.Errorf("index validator output is not JSON: %w", err)
	}
	report.Status = parsed.Status
	return report, nil
}

func (v *Validator) pathOrEmpty() string {
	if v == nil {
		return ""
	}
	return v.Path
}

// CheckIndexFolder reports the validator's verdict on folder.
func (c *Checker) CheckIndexFolder(ctx context.Context, folder string) CheckResult {
	result := CheckResult{
		Name:     "index_validator",
		Required: false,
	}

	report, err := c.validator.Validate(ctx, folder)
	switch {
	case err != nil:
		result.Status = StatusWarn
		result.Message = err.Error()
	case report.Skipped:
		result.Status = StatusPass
		result.Message = "validator not installed, skipped"
	case report.OK():
		result.Status = StatusPass
		result.Message = "OK"
	default:
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("validator reported %q", report.Status)
		result.Details = folder
	}
	return result
}
