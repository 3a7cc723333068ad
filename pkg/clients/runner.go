// Package clients wraps every external tool the provisioner drives —
// command execution, svn exports, rsync mirrors, and the platform package
// managers — behind narrow interfaces so the sequential workflow can be
// tested without touching the host.
package clients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Runner executes external commands.
type Runner interface {
	// Run executes a command and returns its combined output, exit code,
	// and an error when the command could not run or exited non-zero.
	Run(ctx context.Context, name string, args ...string) (string, int, error)
}

// LookPath reports whether a tool resolves to an existing executable file.
type LookPath func(name string) (string, error)

// ExecRunner executes commands with os/exec on the host.
type ExecRunner struct{}

// Run executes a command and returns combined output and exit code.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	output := out.String()
	if err == nil {
		return output, 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return output, exitErr.ExitCode(), fmt.Errorf("%s failed: %w", name, err)
	}
	return output, -1, fmt.Errorf("%s failed: %w", name, err)
}
