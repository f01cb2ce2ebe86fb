package command

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no command is registered under a name
	ErrNotFound = errors.New("command not found")

	// ErrEmptyName is returned when registering a command without a name
	ErrEmptyName = errors.New("command name cannot be empty")

	// ErrNoExecute is returned when registering a command without an implementation
	ErrNoExecute = errors.New("command has no execute function")

	// ErrEmptyOwner is returned when registering a command without an owner
	ErrEmptyOwner = errors.New("command owner cannot be empty")
)

// ConflictError reports a command name already held by another owner.
type ConflictError struct {
	Name      string
	Owner     string
	Requested string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("command %q is already registered by %s (requested by %s)", e.Name, e.Owner, e.Requested)
}
