package script

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/keepmind9/shaken/internal/irc"
	"github.com/keepmind9/shaken/internal/manifest"
	"github.com/keepmind9/shaken/internal/pattern"
)

// luaHandler calls handler(msg, args) for a command row
type luaHandler struct {
	e  *Engine
	fn *lua.LFunction
}

func (h *luaHandler) Handle(msg irc.ChatMessage, bindings pattern.Bindings) (manifest.Handled, error) {
	return h.e.call(h.fn, h.e.messageTable(msg), bindingsValue(h.e.L, bindings))
}

// luaListener calls listener(msg) for every chat line
type luaListener struct {
	e  *Engine
	fn *lua.LFunction
}

func (l *luaListener) Listen(msg irc.ChatMessage) (manifest.Handled, error) {
	return l.e.call(l.fn, l.e.messageTable(msg))
}

func (e *Engine) call(fn *lua.LFunction, args ...lua.LValue) (manifest.Handled, error) {
	top := e.L.GetTop()
	if err := e.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		e.L.SetTop(top)
		return manifest.Bubble, err
	}
	ret := e.L.Get(-1)
	e.L.Pop(1)
	return toHandled(ret), nil
}

// toHandled reads a handler's return value. Anything but Handled.sink bubbles.
func toHandled(v lua.LValue) manifest.Handled {
	if ud, ok := v.(*lua.LUserData); ok {
		if h, ok := ud.Value.(manifest.Handled); ok {
			return h
		}
	}
	return manifest.Bubble
}

func bindingsValue(L *lua.LState, b pattern.Bindings) lua.LValue {
	if b == nil {
		return lua.LNil
	}
	t := L.NewTable()
	for name, v := range b {
		if v.IsList() {
			list := L.NewTable()
			for _, item := range v.List() {
				list.Append(lua.LString(item))
			}
			t.RawSetString(name, list)
			continue
		}
		t.RawSetString(name, lua.LString(v.String()))
	}
	return t
}

// messageTable exposes a chat message to Lua, with reply, say and error
// methods bound to it.
func (e *Engine) messageTable(msg irc.ChatMessage) *lua.LTable {
	L := e.L
	t := L.NewTable()
	t.RawSetString("our_user", lua.LString(msg.OurUser))
	t.RawSetString("our_id", lua.LString(msg.OurID))
	t.RawSetString("channel", lua.LString(msg.Channel))
	t.RawSetString("channel_id", lua.LString(msg.ChannelID))
	t.RawSetString("msg_id", lua.LString(msg.MsgID))
	t.RawSetString("sender", lua.LString(msg.Sender))
	t.RawSetString("sender_id", lua.LString(msg.SenderID))
	t.RawSetString("data", lua.LString(msg.Data))
	t.RawSetString("elevated", lua.LBool(msg.Elevated))

	method := func(build func(text string) irc.Response) *lua.LFunction {
		return L.NewFunction(func(L *lua.LState) int {
			text := L.CheckString(argStart(L, t))
			L.Push(lua.LBool(e.send(build(text))))
			return 1
		})
	}
	t.RawSetString("reply", method(func(text string) irc.Response {
		return irc.Reply(msg.Channel, msg.MsgID, text)
	}))
	t.RawSetString("say", method(func(text string) irc.Response {
		return irc.Say(msg.Channel, text)
	}))
	t.RawSetString("error", method(func(text string) irc.Response {
		return irc.Error(msg.Channel, text)
	}))
	return t
}

// messageFromTable reads back a table built by messageTable
func messageFromTable(t *lua.LTable) irc.ChatMessage {
	str := func(key string) string {
		if s, ok := t.RawGetString(key).(lua.LString); ok {
			return string(s)
		}
		return ""
	}
	return irc.ChatMessage{
		OurUser:   str("our_user"),
		OurID:     str("our_id"),
		Channel:   str("channel"),
		ChannelID: str("channel_id"),
		MsgID:     str("msg_id"),
		Sender:    str("sender"),
		SenderID:  str("sender_id"),
		Data:      str("data"),
		Elevated:  lua.LVAsBool(t.RawGetString("elevated")),
	}
}

// argStart returns the index of the first real argument, skipping self when
// a function was called with method syntax.
func argStart(L *lua.LState, self *lua.LTable) int {
	if t, ok := L.Get(1).(*lua.LTable); ok && t == self {
		return 2
	}
	return 1
}

func (e *Engine) send(resp irc.Response) bool {
	if e.cfg.Outbox == nil {
		return false
	}
	return e.cfg.Outbox.Send(resp)
}
