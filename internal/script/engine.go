// Package script evaluates the Lua manifest and adapts its command table to
// the dispatcher.
//
// The manifest source must evaluate to a table:
//
//	return {
//	  listeners = { function(msg) ... end },
//	  commands = {
//	    greetings = {
//	      { command = "!hello", help = "says hello", handler = function(msg, args) ... end },
//	      { command = "!give", args = "<user> <amount>", help = "...", elevated = true, handler = ... },
//	      listeners = { ... },
//	    },
//	  },
//	}
//
// An Engine owns a single Lua state and must only be used from one goroutine.
package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/keepmind9/shaken/internal/irc"
	"github.com/keepmind9/shaken/internal/logger"
	"github.com/keepmind9/shaken/internal/manifest"
	"github.com/keepmind9/shaken/pkg/constants"
)

var (
	ErrInvalidManifest = errors.New("invalid manifest")
	ErrEmptyManifest   = errors.New("manifest file is empty")
)

// Outbox accepts responses for the connection manager
type Outbox interface {
	Send(resp irc.Response) bool
}

// DocumentStore backs the `store` global
type DocumentStore interface {
	Load(key string) (any, bool, error)
	Save(key string, value any) error
}

// AliasStore backs the `aliases` global
type AliasStore interface {
	Lookup(command string) ([]string, error)
	Contains(query string) (bool, error)
	Resolve(alias string) (string, error)
	Add(command, alias string) (bool, error)
	Remove(alias string) (bool, error)
	Clear(command string) (bool, error)
}

type Config struct {
	ScriptsDir string
	DataDir    string
	// ChunkName names the manifest in Lua error locations
	ChunkName string
	Outbox    Outbox
	Reroute   chan<- irc.ChatMessage
	Store     DocumentStore
	Aliases   AliasStore
}

type Engine struct {
	L       *lua.LState
	cfg     Config
	help    *manifest.HelpIndex
	modules map[string]struct{}
}

// New creates a Lua state with the bot's globals installed
func New(cfg Config) (*Engine, error) {
	if cfg.ChunkName == "" {
		cfg.ChunkName = "init.lua"
	}

	e := &Engine{
		L:       lua.NewState(),
		cfg:     cfg,
		help:    manifest.NewHelpIndex(nil),
		modules: make(map[string]struct{}),
	}

	if err := e.setup(); err != nil {
		e.L.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) Close() {
	e.L.Close()
}

func (e *Engine) setup() error {
	L := e.L

	pkg, ok := L.GetGlobal("package").(*lua.LTable)
	if !ok {
		return fmt.Errorf("lua state has no package library")
	}
	if e.cfg.ScriptsDir != "" {
		L.SetField(pkg, "path", lua.LString(filepath.Join(e.cfg.ScriptsDir, "?.lua")))
	}

	require := L.GetGlobal("require")
	L.SetGlobal("require", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		e.modules[name] = struct{}{}
		L.Push(require)
		L.Push(lua.LString(name))
		L.Call(1, 1)
		return 1
	}))

	L.SetGlobal("DATA_DIR", lua.LString(e.cfg.DataDir))
	L.SetGlobal("Handled", e.handledModule())
	L.SetGlobal("log", e.logModule())
	L.SetGlobal("json", e.jsonModule())
	L.SetGlobal("bot", e.botModule())
	L.SetGlobal("store", e.storeModule())
	L.SetGlobal("aliases", e.aliasesModule())
	L.SetGlobal("help", e.helpModule())
	return nil
}

// SetHelp replaces the index served by the `help` global
func (e *Engine) SetHelp(h *manifest.HelpIndex) {
	e.help = h
}

// evictModules forgets modules loaded through require so a reload re-reads them
func (e *Engine) evictModules() {
	pkg, ok := e.L.GetGlobal("package").(*lua.LTable)
	if !ok {
		return
	}
	loaded, ok := e.L.GetField(pkg, "loaded").(*lua.LTable)
	if !ok {
		return
	}
	for name := range e.modules {
		loaded.RawSetString(name, lua.LNil)
	}
	e.modules = make(map[string]struct{})
}

// Load evaluates source and reads its command table. An error means the
// source could not be evaluated at all; row level faults are returned in
// the Source's Problems.
func (e *Engine) Load(source string) (manifest.Source, error) {
	e.evictModules()

	fn, err := e.L.Load(strings.NewReader(source), e.cfg.ChunkName)
	if err != nil {
		return manifest.Source{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := e.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
		return manifest.Source{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	ret := e.L.Get(-1)
	e.L.Pop(1)

	root, ok := ret.(*lua.LTable)
	if !ok {
		return manifest.Source{}, fmt.Errorf("%w: expected a table, got %s", ErrInvalidManifest, ret.Type())
	}
	return e.readSource(root), nil
}

func (e *Engine) readSource(root *lua.LTable) manifest.Source {
	var src manifest.Source

	if l, ok := root.RawGetString("listeners").(*lua.LTable); ok {
		e.readListeners(&src, "listeners", l)
	}

	commands, ok := root.RawGetString("commands").(*lua.LTable)
	if !ok {
		src.Problems = append(src.Problems, "missing commands table")
		return src
	}

	var modules []string
	commands.ForEach(func(k, v lua.LValue) {
		name, isString := k.(lua.LString)
		if _, isTable := v.(*lua.LTable); isString && isTable {
			modules = append(modules, string(name))
		}
	})
	if len(modules) == 0 {
		src.Problems = append(src.Problems, "empty commands table")
		return src
	}
	sort.Strings(modules)

	for _, module := range modules {
		table := commands.RawGetString(module).(*lua.LTable)

		if l, ok := table.RawGetString("listeners").(*lua.LTable); ok {
			e.readListeners(&src, module+".listeners", l)
		}

		for i := 1; i <= table.Len(); i++ {
			row, ok := table.RawGetInt(i).(*lua.LTable)
			if !ok {
				src.Problems = append(src.Problems, fmt.Sprintf("invalid row for `%s[%d]`", module, i))
				continue
			}
			if spec, ok := e.readRow(&src, module, i, row); ok {
				src.Commands = append(src.Commands, spec)
			}
		}
	}
	return src
}

func (e *Engine) readListeners(src *manifest.Source, where string, t *lua.LTable) {
	for i := 1; i <= t.Len(); i++ {
		fn, ok := t.RawGetInt(i).(*lua.LFunction)
		if !ok {
			src.Problems = append(src.Problems, fmt.Sprintf("listener `%s[%d]` is not a function", where, i))
			continue
		}
		src.Listeners = append(src.Listeners, &luaListener{e: e, fn: fn})
	}
}

func (e *Engine) readRow(src *manifest.Source, module string, index int, row *lua.LTable) (manifest.CommandSpec, bool) {
	missing := func(field string) {
		src.Problems = append(src.Problems, fmt.Sprintf("missing `%s` for `%s[%d]`", field, module, index))
	}

	spec := manifest.CommandSpec{Module: module, Index: index}
	ok := true

	if s, isString := row.RawGetString("command").(lua.LString); isString && s != "" {
		spec.Command = string(s)
	} else {
		missing("command")
		ok = false
	}

	switch v := row.RawGetString("args").(type) {
	case lua.LString:
		s := string(v)
		spec.Args = &s
	default:
		if v != lua.LNil {
			missing("args")
			ok = false
		}
	}

	if s, isString := row.RawGetString("help").(lua.LString); isString {
		spec.Help = string(s)
	} else {
		missing("help")
		ok = false
	}

	spec.Elevated = lua.LVAsBool(row.RawGetString("elevated"))

	if fn, isFunc := row.RawGetString("handler").(*lua.LFunction); isFunc {
		spec.Handler = &luaHandler{e: e, fn: fn}
	} else {
		missing("handler")
		ok = false
	}

	return spec, ok
}

// ReadManifest reads the manifest at path. An empty file usually means an
// editor is halfway through saving, so the read is retried until content
// appears or ctx ends.
func ReadManifest(ctx context.Context, path string) (string, error) {
	attempts := 0
	for {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read manifest: %w", err)
		}
		if strings.TrimSpace(string(data)) != "" {
			if attempts > 0 {
				logger.WithFields(logrus.Fields{
					"path":     path,
					"attempts": attempts,
				}).Debug("manifest-read-after-retry")
			}
			return string(data), nil
		}

		attempts++
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %s", ErrEmptyManifest, path)
		case <-time.After(constants.ManifestReadRetryDelay):
		}
	}
}
