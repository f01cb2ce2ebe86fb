package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// ErrInstanceClosed is returned when calling into a closed plugin instance
var ErrInstanceClosed = errors.New("plugin instance closed")

// LuaHost runs plugins whose entry point is a Lua chunk. The chunk must
// return a table with an activate(api) function and may provide
// deactivate().
type LuaHost struct {
	logger zerolog.Logger
}

// NewLuaHost creates a Lua module host
func NewLuaHost(logger zerolog.Logger) *LuaHost {
	return &LuaHost{
		logger: logger.With().Str("component", "lua-host").Logger(),
	}
}

// LoadModule implements ModuleHost
func (h *LuaHost) LoadModule(ctx context.Context, entry string, manifest PluginManifest) (PluginInstance, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	if err := openSafeLibraries(L); err != nil {
		L.Close()
		return nil, err
	}

	inst := &luaInstance{
		L:      L,
		name:   manifest.Name,
		logger: h.logger.With().Str("plugin", manifest.Name).Logger(),
	}

	results, err := inst.protect(ctx, func() error { return L.DoFile(entry) })
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to load %s: %w", entry, err)
	}

	var module lua.LValue = lua.LNil
	if len(results) > 0 {
		module = results[0]
	}

	tbl, ok := module.(*lua.LTable)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("entry point must return a table, got %s", module.Type())
	}
	if tbl.RawGetString("activate").Type() != lua.LTFunction {
		L.Close()
		return nil, fmt.Errorf("entry point does not export an activate function")
	}

	inst.module = tbl
	h.logger.Debug().Str("plugin", manifest.Name).Str("entry", entry).Msg("Loaded Lua module")
	return inst, nil
}

// openSafeLibraries opens base, table, string and math. io, os, debug and
// package are left out, and the base functions that reach the filesystem
// are removed.
func openSafeLibraries(L *lua.LState) error {
	libs := []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}

	for _, lib := range libs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return fmt.Errorf("failed to open lua library %s: %w", lib.name, err)
		}
	}

	for _, name := range []string{"dofile", "loadfile", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	return nil
}

// luaInstance owns one Lua state. LState is not goroutine safe, so every
// call into it holds mu.
type luaInstance struct {
	L      *lua.LState
	module *lua.LTable
	name   string
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

func (i *luaInstance) Activate(ctx context.Context, api PluginAPI) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return ErrInstanceClosed
	}

	_, err := i.callFunction(ctx, i.module.RawGetString("activate"), i.newAPITable(ctx, api))
	return err
}

func (i *luaInstance) Deactivate(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return ErrInstanceClosed
	}

	fn := i.module.RawGetString("deactivate")
	if fn.Type() != lua.LTFunction {
		return nil
	}
	_, err := i.callFunction(ctx, fn)
	return err
}

func (i *luaInstance) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}
	i.L.Close()
	i.closed = true
	return nil
}

// newAPITable builds the table passed to activate. Functions accept both
// api.fn(x) and api:fn(x) call styles by reading their last argument.
func (i *luaInstance) newAPITable(ctx context.Context, api PluginAPI) *lua.LTable {
	L := i.L
	tbl := L.NewTable()
	L.SetField(tbl, "name", lua.LString(api.PluginName()))

	L.SetField(tbl, "registerCommand", L.NewFunction(func(L *lua.LState) int {
		opts := L.CheckTable(L.GetTop())

		fn, ok := opts.RawGetString("execute").(*lua.LFunction)
		if !ok {
			L.ArgError(L.GetTop(), "execute must be a function")
			return 0
		}

		err := api.RegisterCommand(ctx, CommandDefinition{
			Name:        lua.LVAsString(opts.RawGetString("name")),
			Description: lua.LVAsString(opts.RawGetString("description")),
			Usage:       lua.LVAsString(opts.RawGetString("usage")),
			Execute:     i.commandFunc(fn),
		})
		if err != nil {
			L.RaiseError("%s", err.Error())
		}
		return 0
	}))

	L.SetField(tbl, "log", L.NewFunction(func(L *lua.LState) int {
		logger := api.Logger()
		logger.Info().Msg(L.CheckString(L.GetTop()))
		return 0
	}))

	return tbl
}

// commandFunc adapts a Lua function(args) returning an optional string
func (i *luaInstance) commandFunc(fn *lua.LFunction) func(context.Context, []string, io.Writer) error {
	return func(ctx context.Context, args []string, out io.Writer) error {
		i.mu.Lock()
		defer i.mu.Unlock()

		if i.closed {
			return ErrInstanceClosed
		}

		argv := i.L.NewTable()
		for _, arg := range args {
			argv.Append(lua.LString(arg))
		}

		results, err := i.callFunction(ctx, fn, argv)
		if err != nil {
			return err
		}

		if len(results) == 0 || results[0] == lua.LNil {
			return nil
		}
		text := lua.LVAsString(results[0])
		if text == "" {
			return nil
		}
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		_, err = io.WriteString(out, text)
		return err
	}
}

func (i *luaInstance) callFunction(ctx context.Context, fn lua.LValue, args ...lua.LValue) ([]lua.LValue, error) {
	return i.protect(ctx, func() error {
		return i.L.CallByParam(lua.P{Fn: fn, NRet: lua.MultRet, Protect: true}, args...)
	})
}

// protect runs fn with the context attached and panic recovery, returning
// whatever values fn left on the stack.
func (i *luaInstance) protect(ctx context.Context, fn func() error) (results []lua.LValue, err error) {
	L := i.L
	if ctx != nil {
		L.SetContext(ctx)
		defer L.RemoveContext()
	}

	top := L.GetTop()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
			L.SetTop(top)
		}
	}()

	if err := fn(); err != nil {
		L.SetTop(top)
		return nil, err
	}

	n := L.GetTop() - top
	for k := 1; k <= n; k++ {
		results = append(results, L.Get(top+k))
	}
	L.Pop(n)
	return results, nil
}
