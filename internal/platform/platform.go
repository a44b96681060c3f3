// Package platform holds what every device backend shares: the capability
// errors and the way external helper binaries are run.
package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var (
	// ErrUnavailable means the platform lacks the capability altogether.
	ErrUnavailable = errors.New("capability unavailable")
	// ErrPermissionDenied means the capability exists but access was withheld.
	ErrPermissionDenied = errors.New("permission denied")
)

// Runner runs an external helper and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Exec is the Runner backed by os/exec. A missing binary is reported as
// ErrUnavailable so callers can degrade instead of failing.
func Exec(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%s: %w", name, ErrUnavailable)
	}

	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%s: %w (%s)", name, err, msg)
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}

	return out, nil
}
