// Command zammy-hello is a minimal out-of-process plugin. Build it into a
// plugin directory whose zammy-plugin.json has "main": "zammy-hello" and
// "commands": ["hello"].
package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/zammy/zammy/pkg/plugin"
)

type hello struct{}

func (hello) Activate(ctx context.Context) ([]plugin.CommandSpec, error) {
	return []plugin.CommandSpec{{
		Name:        "hello",
		Description: "Say hello from a plugin process",
		Usage:       "hello [name...]",
	}}, nil
}

func (hello) Deactivate(ctx context.Context) error { return nil }

func (hello) Execute(ctx context.Context, name string, args []string) (string, error) {
	if name != "hello" {
		return "", fmt.Errorf("unknown command %q", name)
	}
	who := "world"
	if len(args) > 0 {
		who = strings.Join(args, " ")
	}
	return "hello, " + who, nil
}

func main() {
	plugin.Serve(hello{})
}
