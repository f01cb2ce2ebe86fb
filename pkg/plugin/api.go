package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zammy/zammy/pkg/command"
)

// PluginAPIImpl implements PluginAPI on top of the command registry
type PluginAPIImpl struct {
	pluginName string
	commands   *command.Registry
	logger     zerolog.Logger
	registered []string
	mu         sync.Mutex
}

// NewPluginAPI creates the API handed to one plugin's activate hook
func NewPluginAPI(pluginName string, commands *command.Registry, logger zerolog.Logger) *PluginAPIImpl {
	return &PluginAPIImpl{
		pluginName: pluginName,
		commands:   commands,
		logger:     logger.With().Str("plugin", pluginName).Logger(),
	}
}

func (api *PluginAPIImpl) RegisterCommand(ctx context.Context, definition CommandDefinition) error {
	if definition.Name == "" {
		return fmt.Errorf("command name cannot be empty")
	}
	if definition.Execute == nil {
		return fmt.Errorf("command %s has no execute function", definition.Name)
	}

	usage := definition.Usage
	if usage == "" {
		usage = definition.Name
	}

	err := api.commands.Register(command.Command{
		Name:        definition.Name,
		Description: definition.Description,
		Usage:       usage,
		Execute:     definition.Execute,
	}, api.pluginName)
	if err != nil {
		var conflict *command.ConflictError
		if errors.As(err, &conflict) {
			return &Error{Kind: KindConflict, Op: "register-command", Name: api.pluginName, Err: err}
		}
		return err
	}

	api.mu.Lock()
	api.registered = append(api.registered, definition.Name)
	api.mu.Unlock()

	api.logger.Debug().Str("command", definition.Name).Msg("Registered command")
	return nil
}

func (api *PluginAPIImpl) PluginName() string {
	return api.pluginName
}

func (api *PluginAPIImpl) Logger() zerolog.Logger {
	return api.logger
}

// Registered returns the command names registered through this API
func (api *PluginAPIImpl) Registered() []string {
	api.mu.Lock()
	defer api.mu.Unlock()
	return append([]string(nil), api.registered...)
}
