package command

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// CoreOwner is the owner recorded for commands built into the host.
const CoreOwner = "core"

// ExecuteFunc runs a command with its arguments, writing user-facing output to out.
type ExecuteFunc func(ctx context.Context, args []string, out io.Writer) error

// Command is a single entry in the registry.
type Command struct {
	Name        string
	Description string
	Usage       string
	Execute     ExecuteFunc
	Owner       string

	// Lazy marks a placeholder that activates its plugin on first use.
	Lazy bool
}

// Conflict is the result of probing a command name.
type Conflict struct {
	Exists bool
	Owner  string
}

// Registry maps command names to their implementation and owner.
type Registry struct {
	commands map[string]*Command
	mu       sync.RWMutex
}

// NewRegistry creates an empty command registry
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]*Command),
	}
}

// Register stores cmd under owner. A name held by a different owner is a
// conflict; the same owner may overwrite its own entry.
func (r *Registry) Register(cmd Command, owner string) error {
	if cmd.Name == "" {
		return ErrEmptyName
	}
	if cmd.Execute == nil {
		return fmt.Errorf("%w: %s", ErrNoExecute, cmd.Name)
	}
	if owner == "" {
		return fmt.Errorf("%w: %s", ErrEmptyOwner, cmd.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.commands[cmd.Name]; exists && existing.Owner != owner {
		return &ConflictError{
			Name:      cmd.Name,
			Owner:     existing.Owner,
			Requested: owner,
		}
	}

	cmd.Owner = owner
	r.commands[cmd.Name] = &cmd
	return nil
}

// CheckConflict reports whether name is taken and by whom.
func (r *Registry) CheckConflict(name string) Conflict {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cmd, exists := r.commands[name]; exists {
		return Conflict{Exists: true, Owner: cmd.Owner}
	}
	return Conflict{}
}

// UnregisterByOwner removes every command owned by owner and returns the
// removed names in sorted order.
func (r *Registry) UnregisterByOwner(owner string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for name, cmd := range r.commands {
		if cmd.Owner == owner {
			delete(r.commands, name)
			removed = append(removed, name)
		}
	}

	sort.Strings(removed)
	return removed
}

// Get retrieves a command by name
func (r *Registry) Get(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmd, exists := r.commands[name]
	if !exists {
		return Command{}, false
	}
	return *cmd, true
}

// List returns all commands sorted by name
func (r *Registry) List() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmds := make([]Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, *cmd)
	}

	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// ListByOwner returns the commands owned by owner sorted by name
func (r *Registry) ListByOwner(owner string) []Command {
	var owned []Command
	for _, cmd := range r.List() {
		if cmd.Owner == owner {
			owned = append(owned, cmd)
		}
	}
	return owned
}

// Execute looks up name and runs it.
func (r *Registry) Execute(ctx context.Context, name string, args []string, out io.Writer) error {
	cmd, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return cmd.Execute(ctx, args, out)
}
