package plugin

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotDiscovered is returned when loading a name absent from the
	// discovered set. It signals a host bug rather than a plugin failure.
	ErrNotDiscovered = errors.New("plugin not discovered")

	// ErrPluginMisconfigured is returned when a plugin activates but does not
	// register a command its manifest declares
	ErrPluginMisconfigured = errors.New("plugin misconfigured")

	// ErrNoModuleHost is returned when no host can run an entry point
	ErrNoModuleHost = errors.New("no module host for entry point")
)

// ErrorKind classifies installer and loader failures
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindIncompatible ErrorKind = "incompatible"
	KindConflict     ErrorKind = "conflict"
	KindSecurity     ErrorKind = "security"
	KindActivation   ErrorKind = "activation"
	KindResource     ErrorKind = "resource"
)

// Error is the typed failure returned by the installer and loader. Fields
// beyond Kind are filled when they apply so callers can format them.
type Error struct {
	Kind ErrorKind
	Op   string // pipeline step, e.g. "validate-manifest", "clone"
	Name string // plugin name, when known
	Path string // offending path, when relevant

	Reason string

	// Version bounds for KindIncompatible
	Required string
	Actual   string

	// Output is captured tool output for KindResource
	Output string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(" error")
	if e.Name != "" {
		fmt.Fprintf(&b, " [%s]", e.Name)
	}
	if e.Op != "" {
		fmt.Fprintf(&b, " during %s", e.Op)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *Error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.Kind == kind
}

// KindOf returns the kind of err, or "" when err is not an *Error
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ""
}

func validationError(op, reason string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Reason: reason, Err: err}
}

func securityError(op, reason, path string) *Error {
	return &Error{Kind: KindSecurity, Op: op, Reason: reason, Path: path}
}

func resourceError(op, reason string, output string, err error) *Error {
	return &Error{Kind: KindResource, Op: op, Reason: reason, Output: output, Err: err}
}

func activationError(name, op string, err error) *Error {
	return &Error{Kind: KindActivation, Name: name, Op: op, Err: err}
}

// withName fills the plugin name on err when it is an *Error without one
func withName(err error, name string) error {
	var perr *Error
	if errors.As(err, &perr) && perr.Name == "" {
		perr.Name = name
	}
	return err
}
