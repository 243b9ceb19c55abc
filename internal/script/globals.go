package script

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/keepmind9/shaken/internal/irc"
	"github.com/keepmind9/shaken/internal/logger"
	"github.com/keepmind9/shaken/internal/manifest"
)

const handledTypeName = "Handled"

func (e *Engine) handled(h manifest.Handled) *lua.LUserData {
	ud := e.L.NewUserData()
	ud.Value = h
	e.L.SetMetatable(ud, e.L.GetTypeMetatable(handledTypeName))
	return ud
}

func (e *Engine) handledModule() *lua.LTable {
	L := e.L
	mt := L.NewTypeMetatable(handledTypeName)
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		L.Push(lua.LString(fmt.Sprint(ud.Value)))
		return 1
	}))
	L.SetField(mt, "__eq", L.NewFunction(func(L *lua.LState) int {
		a, b := L.CheckUserData(1), L.CheckUserData(2)
		L.Push(lua.LBool(a.Value == b.Value))
		return 1
	}))

	t := L.NewTable()
	t.RawSetString("sink", e.handled(manifest.Sink))
	t.RawSetString("bubble", e.handled(manifest.Bubble))
	return t
}

func (e *Engine) logModule() *lua.LTable {
	L := e.L
	t := L.NewTable()
	levels := map[string]logrus.Level{
		"trace": logrus.TraceLevel,
		"debug": logrus.DebugLevel,
		"info":  logrus.InfoLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
	}
	for name, level := range levels {
		t.RawSetString(name, L.NewFunction(func(L *lua.LState) int {
			start := argStart(L, t)
			var parts []string
			for i := start; i <= L.GetTop(); i++ {
				parts = append(parts, L.ToStringMeta(L.Get(i)).String())
			}
			logger.ForTarget("lua").Log(level, strings.Join(parts, " "))
			return 0
		}))
	}
	return t
}

func (e *Engine) jsonModule() *lua.LTable {
	L := e.L
	t := L.NewTable()
	t.RawSetString("encode", L.NewFunction(func(L *lua.LState) int {
		value, err := toGo(L.Get(1))
		if err != nil {
			L.RaiseError("cannot encode json: %v", err)
			return 0
		}
		data, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			L.RaiseError("cannot encode json: %v", err)
			return 0
		}
		L.Push(lua.LString(data))
		return 1
	}))
	t.RawSetString("decode", L.NewFunction(func(L *lua.LState) int {
		var v any
		if err := json.Unmarshal([]byte(L.CheckString(1)), &v); err != nil {
			L.RaiseError("cannot decode json: %v", err)
			return 0
		}
		L.Push(fromGo(L, v))
		return 1
	}))
	return t
}

func (e *Engine) botModule() *lua.LTable {
	L := e.L
	t := L.NewTable()

	message := func(L *lua.LState, start int) (irc.ChatMessage, string) {
		msg := messageFromTable(L.CheckTable(start))
		return msg, L.CheckString(start + 1)
	}
	respond := func(build func(msg irc.ChatMessage, text string) irc.Response) *lua.LFunction {
		return L.NewFunction(func(L *lua.LState) int {
			msg, text := message(L, argStart(L, t))
			L.Push(lua.LBool(e.send(build(msg, text))))
			return 1
		})
	}

	t.RawSetString("say", respond(func(msg irc.ChatMessage, text string) irc.Response {
		return irc.Say(msg.Channel, text)
	}))
	t.RawSetString("reply", respond(func(msg irc.ChatMessage, text string) irc.Response {
		return irc.Reply(msg.Channel, msg.MsgID, text)
	}))
	t.RawSetString("error", respond(func(msg irc.ChatMessage, text string) irc.Response {
		return irc.Error(msg.Channel, text)
	}))
	t.RawSetString("join", L.NewFunction(func(L *lua.LState) int {
		channel := L.CheckString(argStart(L, t))
		L.Push(lua.LBool(e.send(irc.Join(channel))))
		return 1
	}))
	t.RawSetString("reroute_command", L.NewFunction(func(L *lua.LState) int {
		msg, command := message(L, argStart(L, t))
		msg.Data = command
		L.Push(lua.LBool(e.reroute(msg)))
		return 1
	}))
	return t
}

func (e *Engine) reroute(msg irc.ChatMessage) bool {
	if e.cfg.Reroute == nil {
		return false
	}
	select {
	case e.cfg.Reroute <- msg:
		return true
	default:
		logger.WithFields(logrus.Fields{
			"channel": msg.Channel,
			"data":    msg.Data,
		}).Warn("reroute-queue-full-dropping")
		return false
	}
}

func (e *Engine) storeModule() *lua.LTable {
	L := e.L
	t := L.NewTable()
	t.RawSetString("load", L.NewFunction(func(L *lua.LState) int {
		if e.cfg.Store == nil {
			L.RaiseError("store is not configured")
			return 0
		}
		v, ok, err := e.cfg.Store.Load(L.CheckString(argStart(L, t)))
		if err != nil {
			L.RaiseError("cannot load: %v", err)
			return 0
		}
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(fromGo(L, v))
		return 1
	}))
	t.RawSetString("save", L.NewFunction(func(L *lua.LState) int {
		if e.cfg.Store == nil {
			L.RaiseError("store is not configured")
			return 0
		}
		start := argStart(L, t)
		key := L.CheckString(start)
		value, err := toGo(L.Get(start + 1))
		if err != nil {
			L.RaiseError("cannot save: %v", err)
			return 0
		}
		if err := e.cfg.Store.Save(key, value); err != nil {
			L.RaiseError("cannot save: %v", err)
		}
		return 0
	}))
	return t
}

func (e *Engine) aliasesModule() *lua.LTable {
	L := e.L
	t := L.NewTable()

	fn := func(body func(L *lua.LState, store AliasStore, start int) int) *lua.LFunction {
		return L.NewFunction(func(L *lua.LState) int {
			if e.cfg.Aliases == nil {
				L.RaiseError("aliases are not configured")
				return 0
			}
			return body(L, e.cfg.Aliases, argStart(L, t))
		})
	}
	fail := func(L *lua.LState, err error) int {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	boolResult := func(L *lua.LState, ok bool, err error) int {
		if err != nil {
			return fail(L, err)
		}
		L.Push(lua.LBool(ok))
		return 1
	}

	t.RawSetString("lookup", fn(func(L *lua.LState, s AliasStore, i int) int {
		command := L.CheckString(i)
		list := L.NewTable()
		names, err := s.Lookup(command)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"command": command,
				"error":   err,
			}).Warn("alias-lookup-failed")
		}
		for _, name := range names {
			list.Append(lua.LString(name))
		}
		L.Push(list)
		return 1
	}))
	t.RawSetString("contains", fn(func(L *lua.LState, s AliasStore, i int) int {
		ok, err := s.Contains(L.CheckString(i))
		return boolResult(L, ok, err)
	}))
	t.RawSetString("resolve", fn(func(L *lua.LState, s AliasStore, i int) int {
		command, err := s.Resolve(L.CheckString(i))
		if err != nil {
			return fail(L, err)
		}
		L.Push(lua.LString(command))
		return 1
	}))
	t.RawSetString("add", fn(func(L *lua.LState, s AliasStore, i int) int {
		ok, err := s.Add(L.CheckString(i), L.CheckString(i+1))
		return boolResult(L, ok, err)
	}))
	t.RawSetString("remove", fn(func(L *lua.LState, s AliasStore, i int) int {
		ok, err := s.Remove(L.CheckString(i))
		return boolResult(L, ok, err)
	}))
	t.RawSetString("clear", fn(func(L *lua.LState, s AliasStore, i int) int {
		ok, err := s.Clear(L.CheckString(i))
		return boolResult(L, ok, err)
	}))
	return t
}

func (e *Engine) helpModule() *lua.LTable {
	L := e.L
	t := L.NewTable()
	t.RawSetString("list", L.NewFunction(func(L *lua.LState) int {
		list := L.NewTable()
		for _, h := range e.help.List() {
			row := L.NewTable()
			row.RawSetString("command", lua.LString(h.Command))
			row.RawSetString("usage", lua.LString(h.Usage))
			row.RawSetString("description", lua.LString(h.Description))
			list.Append(row)
		}
		L.Push(list)
		return 1
	}))
	t.RawSetString("lookup", L.NewFunction(func(L *lua.LState) int {
		h, ok := e.help.Lookup(L.CheckString(argStart(L, t)))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		row := L.NewTable()
		row.RawSetString("usage", lua.LString(h.Usage))
		row.RawSetString("description", lua.LString(h.Description))
		L.Push(row)
		return 1
	}))
	return t
}

// errCyclicTable reports a table that contains itself
var errCyclicTable = errors.New("cyclic table")

// toGo converts a Lua value into the shapes encoding/json produces.
// Tables with only the keys 1..n become slices, everything else a map.
func toGo(v lua.LValue) (any, error) {
	return convert(v, map[*lua.LTable]struct{}{})
}

// convert tracks the tables on the current path; a table shared by two
// siblings is fine, one reachable from itself is not.
func convert(v lua.LValue, path map[*lua.LTable]struct{}) (any, error) {
	switch v := v.(type) {
	case lua.LBool:
		return bool(v), nil
	case lua.LNumber:
		return float64(v), nil
	case lua.LString:
		return string(v), nil
	case *lua.LTable:
		if _, seen := path[v]; seen {
			return nil, errCyclicTable
		}
		path[v] = struct{}{}
		defer delete(path, v)
		return tableToGo(v, path)
	case *lua.LUserData:
		if h, ok := v.Value.(manifest.Handled); ok {
			return h.String(), nil
		}
		return nil, nil
	default:
		return nil, nil
	}
}

func tableToGo(t *lua.LTable, path map[*lua.LTable]struct{}) (any, error) {
	n := t.Len()
	count := 0
	t.ForEach(func(lua.LValue, lua.LValue) { count++ })

	if n > 0 && n == count {
		list := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			item, err := convert(t.RawGetInt(i), path)
			if err != nil {
				return nil, err
			}
			list = append(list, item)
		}
		return list, nil
	}

	m := make(map[string]any, count)
	var err error
	t.ForEach(func(k, v lua.LValue) {
		if err != nil {
			return
		}
		var key string
		switch k := k.(type) {
		case lua.LString:
			key = string(k)
		case lua.LNumber:
			if f := float64(k); f == math.Trunc(f) {
				key = fmt.Sprintf("%d", int64(f))
			} else {
				key = k.String()
			}
		default:
			return
		}
		var item any
		if item, err = convert(v, path); err == nil {
			m[key] = item
		}
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func fromGo(L *lua.LState, v any) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case float64:
		return lua.LNumber(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case []any:
		t := L.NewTable()
		for _, item := range v {
			t.Append(fromGo(L, item))
		}
		return t
	case []string:
		t := L.NewTable()
		for _, item := range v {
			t.Append(lua.LString(item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.RawSetString(k, fromGo(L, v[k]))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(v))
	}
}
