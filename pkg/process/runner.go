// Package process runs external tools with argument vectors, timeouts and
// captured output. It never invokes a shell.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a request that does not set its own timeout.
const DefaultTimeout = 2 * time.Minute

// WaitDelay is how long Run waits for output pipes to close after the
// process was killed. Grandchildren that inherited the pipes cannot hold
// Run past timeout+WaitDelay.
const WaitDelay = 2 * time.Second

// Request describes a single process invocation.
type Request struct {
	// Command is the executable name or path
	Command string

	// Args are passed to the executable verbatim
	Args []string

	// Dir is the working directory
	Dir string

	// Env is merged over the inherited environment
	Env map[string]string

	// Timeout bounds the run; zero uses the runner default
	Timeout time.Duration
}

// Result is the captured outcome of a run.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Output returns stderr if present, otherwise stdout, trimmed.
func (r Result) Output() string {
	if s := strings.TrimSpace(string(r.Stderr)); s != "" {
		return s
	}
	return strings.TrimSpace(string(r.Stdout))
}

// Runner executes processes on the host.
type Runner struct {
	logger         zerolog.Logger
	defaultTimeout time.Duration
}

// NewRunner creates a host runner. A zero timeout selects DefaultTimeout.
func NewRunner(logger zerolog.Logger, defaultTimeout time.Duration) *Runner {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Runner{
		logger:         logger.With().Str("component", "process-runner").Logger(),
		defaultTimeout: defaultTimeout,
	}
}

// LookPath reports whether an executable is available on PATH.
func (r *Runner) LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Run executes req and waits for it. A non-zero exit status is returned as
// an *ExitError together with the captured result.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	if req.Command == "" {
		return Result{}, ErrEmptyCommand
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, req.Command, req.Args...)
	if req.Dir != "" {
		cmd.Dir = req.Dir
	}
	cmd.Env = buildEnvironment(os.Environ(), req.Env)
	cmd.WaitDelay = WaitDelay
	configureProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: duration,
	}

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		result.ExitCode = -1
		r.logger.Warn().
			Str("command", req.Command).
			Dur("timeout", timeout).
			Msg("Process timed out")
		return result, fmt.Errorf("%w: %s after %s", ErrTimeout, req.Command, timeout)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			r.logger.Debug().
				Str("command", req.Command).
				Strs("args", req.Args).
				Int("exit_code", result.ExitCode).
				Dur("duration", duration).
				Msg("Process exited with failure")
			return result, &ExitError{
				Command: req.Command,
				Code:    result.ExitCode,
				Output:  result.Output(),
			}
		}
		if errors.Is(err, exec.ErrNotFound) {
			return result, fmt.Errorf("%w: %s", ErrNotFound, req.Command)
		}
		return result, fmt.Errorf("failed to run %s: %w", req.Command, err)
	}

	r.logger.Debug().
		Str("command", req.Command).
		Strs("args", req.Args).
		Dur("duration", duration).
		Msg("Process completed")

	return result, nil
}

// buildEnvironment overlays extra on base. Keys from extra replace
// existing entries; the result is deterministic.
func buildEnvironment(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}

	result := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := extra[key]; overridden {
			continue
		}
		result = append(result, kv)
	}

	keys := make([]string, 0, len(extra))
	for key := range extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		result = append(result, key+"="+extra[key])
	}
	return result
}
