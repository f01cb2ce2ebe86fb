package plugin

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/zammy/zammy/pkg/command"
)

// PluginInstance is a loaded module whose hooks the loader drives
type PluginInstance interface {
	// Activate is called once, when the plugin is first needed
	Activate(ctx context.Context, api PluginAPI) error

	// Deactivate is called on unload; instances without a hook return nil
	Deactivate(ctx context.Context) error

	// Close releases the runtime behind the instance
	Close() error
}

// ModuleHost turns an entry point on disk into a PluginInstance
type ModuleHost interface {
	LoadModule(ctx context.Context, entry string, manifest PluginManifest) (PluginInstance, error)
}

// PluginAPI is the surface a plugin sees during activation
type PluginAPI interface {
	// RegisterCommand adds or replaces a command owned by this plugin
	RegisterCommand(ctx context.Context, definition CommandDefinition) error

	// PluginName returns the plugin's manifest name
	PluginName() string

	// Logger returns a logger scoped to the plugin
	Logger() zerolog.Logger
}

// CommandDefinition is what a plugin registers
type CommandDefinition struct {
	Name        string
	Description string
	Usage       string
	Execute     command.ExecuteFunc
}
