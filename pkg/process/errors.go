package process

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a process exceeds its timeout
	ErrTimeout = errors.New("process timed out")

	// ErrNotFound is returned when the executable is not on PATH
	ErrNotFound = errors.New("executable not found")

	// ErrEmptyCommand is returned when a request has no command
	ErrEmptyCommand = errors.New("command cannot be empty")
)

// ExitError is returned when a process exits with a non-zero status.
type ExitError struct {
	Command string
	Code    int
	Output  string
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Command, e.Code, e.Output)
}
