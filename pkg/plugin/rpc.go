package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/rpc"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"
	"github.com/rs/zerolog"
)

// Handshake is used to verify that the plugin and host are compatible
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "ZAMMY_PLUGIN",
	MagicCookieValue: "zammy-plugin-system-v1",
}

// dispenseName is the key plugins are served and dispensed under
const dispenseName = "commands"

// PluginMap is the map of plugins we can dispense
var PluginMap = map[string]goplugin.Plugin{
	dispenseName: &CommandRPCPlugin{},
}

// CommandSpec describes a command an out-of-process plugin provides
type CommandSpec struct {
	Name        string
	Description string
	Usage       string
}

// Provider is implemented by plugin executables. Activate returns the
// commands to register; Execute runs one of them and returns its output.
type Provider interface {
	Activate(ctx context.Context) ([]CommandSpec, error)
	Deactivate(ctx context.Context) error
	Execute(ctx context.Context, name string, args []string) (string, error)
}

// Serve runs a Provider as a plugin process. Plugin executables call it from
// main and never return.
func Serve(impl Provider) {
	goplugin.Serve(&goplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]goplugin.Plugin{
			dispenseName: &CommandRPCPlugin{Impl: impl},
		},
	})
}

// CommandRPCPlugin is the implementation of goplugin.Plugin for net/rpc
type CommandRPCPlugin struct {
	Impl Provider
}

func (p *CommandRPCPlugin) Server(*goplugin.MuxBroker) (interface{}, error) {
	return &CommandRPCServer{Impl: p.Impl}, nil
}

func (p *CommandRPCPlugin) Client(b *goplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &CommandRPCClient{client: c}, nil
}

// LifecycleArgs are the arguments for the Activate and Deactivate RPC calls.
// gob cannot encode a struct without exported fields.
type LifecycleArgs struct {
	Plugin string
}

// ActivateResp is the response for the Activate RPC call
type ActivateResp struct {
	Commands []CommandSpec
	Err      string
}

// ExecuteArgs are the arguments for the Execute RPC call
type ExecuteArgs struct {
	Name string
	Args []string
}

// ExecuteResp is the response for the Execute RPC call
type ExecuteResp struct {
	Output string
	Err    string
}

// ErrorResp carries an error across the wire as text
type ErrorResp struct {
	Err string
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func stringErr(s string) error {
	if s == "" {
		return nil
	}
	return errors.New(s)
}

// CommandRPCServer is the RPC server that CommandRPCClient talks to
type CommandRPCServer struct {
	Impl Provider
}

func (s *CommandRPCServer) Activate(args LifecycleArgs, resp *ActivateResp) error {
	commands, err := s.Impl.Activate(context.Background())
	resp.Commands = commands
	resp.Err = errString(err)
	return nil
}

func (s *CommandRPCServer) Deactivate(args LifecycleArgs, resp *ErrorResp) error {
	resp.Err = errString(s.Impl.Deactivate(context.Background()))
	return nil
}

func (s *CommandRPCServer) Execute(args ExecuteArgs, resp *ExecuteResp) error {
	output, err := s.Impl.Execute(context.Background(), args.Name, args.Args)
	resp.Output = output
	resp.Err = errString(err)
	return nil
}

// CommandRPCClient is the RPC client that talks to CommandRPCServer
type CommandRPCClient struct {
	client *rpc.Client
	plugin string
}

func (c *CommandRPCClient) Activate(ctx context.Context) ([]CommandSpec, error) {
	var resp ActivateResp
	if err := c.client.Call("Plugin.Activate", LifecycleArgs{Plugin: c.plugin}, &resp); err != nil {
		return nil, err
	}
	return resp.Commands, stringErr(resp.Err)
}

func (c *CommandRPCClient) Deactivate(ctx context.Context) error {
	var resp ErrorResp
	if err := c.client.Call("Plugin.Deactivate", LifecycleArgs{Plugin: c.plugin}, &resp); err != nil {
		return err
	}
	return stringErr(resp.Err)
}

func (c *CommandRPCClient) Execute(ctx context.Context, name string, args []string) (string, error) {
	var resp ExecuteResp
	if err := c.client.Call("Plugin.Execute", ExecuteArgs{Name: name, Args: args}, &resp); err != nil {
		return "", err
	}
	return resp.Output, stringErr(resp.Err)
}

// RPCHost runs plugin executables as subprocesses speaking net/rpc
type RPCHost struct {
	logger       zerolog.Logger
	startTimeout time.Duration
}

// NewRPCHost creates a subprocess module host
func NewRPCHost(logger zerolog.Logger, startTimeout time.Duration) *RPCHost {
	return &RPCHost{
		logger:       logger.With().Str("component", "rpc-host").Logger(),
		startTimeout: startTimeout,
	}
}

// LoadModule implements ModuleHost
func (h *RPCHost) LoadModule(ctx context.Context, entry string, manifest PluginManifest) (PluginInstance, error) {
	cmd := exec.Command(entry)
	cmd.Dir = filepath.Dir(entry)

	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          PluginMap,
		Cmd:              cmd,
		AllowedProtocols: []goplugin.Protocol{goplugin.ProtocolNetRPC},
		StartTimeout:     h.startTimeout,
		Logger: hclog.New(&hclog.LoggerOptions{
			Name:   "plugin." + manifest.Name,
			Level:  hclog.Warn,
			Output: os.Stderr,
		}),
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to connect to plugin: %w", err)
	}

	raw, err := rpcClient.Dispense(dispenseName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to dispense plugin: %w", err)
	}

	provider, ok := raw.(Provider)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("unexpected plugin type %T", raw)
	}
	if rc, ok := provider.(*CommandRPCClient); ok {
		rc.plugin = manifest.Name
	}

	h.logger.Debug().Str("plugin", manifest.Name).Str("entry", entry).Msg("Started plugin process")
	return newRPCInstance(provider, client.Kill), nil
}

// rpcInstance adapts a Provider to PluginInstance
type rpcInstance struct {
	provider Provider
	kill     func()
}

func newRPCInstance(provider Provider, kill func()) *rpcInstance {
	return &rpcInstance{provider: provider, kill: kill}
}

func (i *rpcInstance) Activate(ctx context.Context, api PluginAPI) error {
	specs, err := i.provider.Activate(ctx)
	if err != nil {
		return err
	}

	for _, spec := range specs {
		name := spec.Name
		err := api.RegisterCommand(ctx, CommandDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			Usage:       spec.Usage,
			Execute: func(ctx context.Context, args []string, out io.Writer) error {
				output, err := i.provider.Execute(ctx, name, args)
				if output != "" {
					if !strings.HasSuffix(output, "\n") {
						output += "\n"
					}
					if _, werr := io.WriteString(out, output); werr != nil {
						return werr
					}
				}
				return err
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (i *rpcInstance) Deactivate(ctx context.Context) error {
	return i.provider.Deactivate(ctx)
}

func (i *rpcInstance) Close() error {
	if i.kill != nil {
		i.kill()
	}
	return nil
}
