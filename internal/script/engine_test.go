package script

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keepmind9/shaken/internal/irc"
	"github.com/keepmind9/shaken/internal/logger"
	"github.com/keepmind9/shaken/internal/manifest"
	"github.com/keepmind9/shaken/internal/pattern"
	"github.com/keepmind9/shaken/internal/store"
)

type fakeOutbox struct {
	sent []irc.Response
}

func (o *fakeOutbox) Send(resp irc.Response) bool {
	o.sent = append(o.sent, resp)
	return true
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func chat(data string) irc.ChatMessage {
	return irc.ChatMessage{
		OurUser:   "shaken_bot",
		OurID:     "1",
		Channel:   "museun",
		ChannelID: "2",
		MsgID:     "abc",
		Sender:    "alice",
		SenderID:  "3",
		Data:      data,
	}
}

const greetings = `
return {
  listeners = {
    function(msg) return Handled.bubble end,
  },
  commands = {
    zeta = {
      { command = "!zz", help = "last", handler = function(msg, args) end },
    },
    greetings = {
      { command = "!hello", help = "says hello", handler = function(msg, args)
          msg:reply("hello " .. msg.sender)
          return Handled.sink
        end },
      { command = "!give", args = "<user> <amount>", help = "gives", elevated = true,
        handler = function(msg, args)
          bot.say(msg, args.user .. " gets " .. args.amount)
        end },
      listeners = {
        function(msg) end,
      },
    },
  },
}
`

func TestLoad_ReadsCommandsInModuleOrder(t *testing.T) {
	e := newTestEngine(t, Config{})

	src, err := e.Load(greetings)
	require.NoError(t, err)
	assert.Empty(t, src.Problems)
	assert.Len(t, src.Listeners, 2)
	require.Len(t, src.Commands, 3)

	assert.Equal(t, "greetings", src.Commands[0].Module)
	assert.Equal(t, "!hello", src.Commands[0].Command)
	assert.Nil(t, src.Commands[0].Args)
	assert.Equal(t, "!give", src.Commands[1].Command)
	require.NotNil(t, src.Commands[1].Args)
	assert.Equal(t, "<user> <amount>", *src.Commands[1].Args)
	assert.True(t, src.Commands[1].Elevated)
	assert.Equal(t, "zeta", src.Commands[2].Module)
}

func TestLoad_ReportsFaultyRows(t *testing.T) {
	e := newTestEngine(t, Config{})

	src, err := e.Load(`
return {
  commands = {
    broken = {
      { help = "no command", handler = function() end },
      { command = "!nohandler", help = "x" },
      { command = "!args", args = 42, help = "x", handler = function() end },
      { command = "!nohelp", handler = function() end },
      "not a table",
      { command = "!ok", help = "fine", handler = function() end },
    },
  },
}`)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"missing `command` for `broken[1]`",
		"missing `handler` for `broken[2]`",
		"missing `args` for `broken[3]`",
		"missing `help` for `broken[4]`",
		"invalid row for `broken[5]`",
	}, src.Problems)
	require.Len(t, src.Commands, 1)
	assert.Equal(t, "!ok", src.Commands[0].Command)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		wantErr  bool
		problems []string
	}{
		{name: "syntax error", source: "return {", wantErr: true},
		{name: "runtime error", source: "error('boom')", wantErr: true},
		{name: "not a table", source: "return 42", wantErr: true},
		{name: "missing commands", source: "return {}", problems: []string{"missing commands table"}},
		{name: "empty commands", source: "return { commands = {} }", problems: []string{"empty commands table"}},
		{
			name:     "bad listener",
			source:   "return { listeners = { 1 }, commands = {} }",
			problems: []string{"listener `listeners[1]` is not a function", "empty commands table"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, Config{})
			src, err := e.Load(tt.source)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidManifest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.problems, src.Problems)
		})
	}
}

func TestHandlers_DispatchThroughManifest(t *testing.T) {
	out := &fakeOutbox{}
	e := newTestEngine(t, Config{Outbox: out})

	src, err := e.Load(greetings)
	require.NoError(t, err)
	m, report := manifest.Build(src)
	require.True(t, report.OK())

	r := &recordingReplier{}
	outcome := m.Dispatch(chat("!hello"), r)
	assert.True(t, outcome.Sunk)
	require.Len(t, out.sent, 1)
	assert.Equal(t, irc.Reply("museun", "abc", "hello alice"), out.sent[0])

	msg := chat("!give bob 10")
	msg.Elevated = true
	m.Dispatch(msg, r)
	require.Len(t, out.sent, 2)
	assert.Equal(t, irc.Say("museun", "bob gets 10"), out.sent[1])
}

type recordingReplier struct {
	replies []string
	errors  []string
}

func (r *recordingReplier) Reply(_ irc.ChatMessage, data string) { r.replies = append(r.replies, data) }
func (r *recordingReplier) Error(_ irc.ChatMessage, data string) { r.errors = append(r.errors, data) }

func TestHandler_ReturnValues(t *testing.T) {
	e := newTestEngine(t, Config{})

	tests := []struct {
		name string
		body string
		want manifest.Handled
	}{
		{"sink", "return Handled.sink", manifest.Sink},
		{"bubble", "return Handled.bubble", manifest.Bubble},
		{"nothing", "", manifest.Bubble},
		{"other value", "return true", manifest.Bubble},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := e.Load(`return { commands = { m = {
  { command = "!x", help = "", handler = function(msg, args) ` + tt.body + ` end },
} } }`)
			require.NoError(t, err)
			require.Len(t, src.Commands, 1)

			got, err := src.Commands[0].Handler.Handle(chat("!x"), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandler_ErrorAndBindings(t *testing.T) {
	e := newTestEngine(t, Config{})
	src, err := e.Load(`return { commands = { m = {
  { command = "!boom", help = "", handler = function(msg, args) error("nope") end },
  { command = "!echo", args = "<items...>", help = "", handler = function(msg, args)
      if #args.items ~= 2 then error("wrong count") end
      return Handled.sink
    end },
} } }`)
	require.NoError(t, err)
	require.Len(t, src.Commands, 2)

	_, err = src.Commands[0].Handler.Handle(chat("!boom"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")

	got, err := src.Commands[1].Handler.Handle(chat("!echo a b"), pattern.Bindings{
		"items": pattern.ListValue([]string{"a", "b"}),
	})
	require.NoError(t, err)
	assert.Equal(t, manifest.Sink, got)

	// the state stays usable after a failing call
	_, err = src.Commands[0].Handler.Handle(chat("!boom"), nil)
	require.Error(t, err)
	assert.Equal(t, 0, e.L.GetTop())
}

func TestBot_RerouteAndJoin(t *testing.T) {
	out := &fakeOutbox{}
	reroute := make(chan irc.ChatMessage, 1)
	e := newTestEngine(t, Config{Outbox: out, Reroute: reroute})

	src, err := e.Load(`return { commands = { m = {
  { command = "!go", help = "", handler = function(msg, args)
      bot.join("#elsewhere")
      bot.reroute_command(msg, "!hello")
      bot.error(msg, "bad")
    end },
} } }`)
	require.NoError(t, err)

	_, err = src.Commands[0].Handler.Handle(chat("!go"), nil)
	require.NoError(t, err)

	assert.Equal(t, []irc.Response{irc.Join("#elsewhere"), irc.Error("museun", "bad")}, out.sent)
	select {
	case msg := <-reroute:
		assert.Equal(t, "!hello", msg.Data)
		assert.Equal(t, "alice", msg.Sender)
		assert.Equal(t, "abc", msg.MsgID)
	default:
		t.Fatal("expected a rerouted message")
	}
}

func TestStoreAndJSON(t *testing.T) {
	docs, err := store.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	e := newTestEngine(t, Config{Store: docs})

	require.NoError(t, e.L.DoString(`
store.save("counter", { count = 3, names = { "a", "b" } })
local got = store.load("counter")
assert(got.count == 3)
assert(got.names[2] == "b")
assert(store.load("missing") == nil)
local decoded = json.decode(json.encode({ x = "y" }))
assert(decoded.x == "y")
`))

	v, ok, err := docs.Load("counter")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"count": float64(3), "names": []any{"a", "b"}}, v)
}

func TestHandler_CyclicTableFailsOnlyThatCommand(t *testing.T) {
	docs, err := store.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	out := &fakeOutbox{}
	e := newTestEngine(t, Config{Outbox: out, Store: docs})

	src, err := e.Load(`return { commands = { m = {
  { command = "!encode", help = "", handler = function(msg, args)
      local t = {} t.self = t
      return json.encode(t)
    end },
  { command = "!save", help = "", handler = function(msg, args)
      local t = { list = {} } t.list[1] = t
      store.save("loop", t)
    end },
  { command = "!hello", help = "", handler = function(msg, args)
      msg:reply("still here")
      return Handled.sink
    end },
} } }`)
	require.NoError(t, err)
	m, report := manifest.Build(src)
	require.True(t, report.OK())

	tests := []struct {
		command string
		want    string
	}{
		{"!encode", "cannot encode json"},
		{"!save", "cannot save"},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			r := &recordingReplier{}
			outcome := m.Dispatch(chat(tt.command), r)
			require.Len(t, outcome.Results, 1)
			assert.Equal(t, manifest.StatusFailed, outcome.Results[0].Status)
			require.Len(t, r.errors, 1)
			assert.Equal(t, tt.want, r.errors[0])
		})
	}

	_, ok, err := docs.Load("loop")
	require.NoError(t, err)
	assert.False(t, ok)

	outcome := m.Dispatch(chat("!hello"), &recordingReplier{})
	assert.True(t, outcome.Sunk)
	assert.Equal(t, []irc.Response{irc.Reply("museun", "abc", "still here")}, out.sent)
}

func TestToGo_SharedTablesAreNotCycles(t *testing.T) {
	e := newTestEngine(t, Config{})
	require.NoError(t, e.L.DoString(`
local shared = { "x" }
encoded = json.encode({ a = shared, b = shared })
`))

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(e.L.GetGlobal("encoded").String()), &got))
	assert.Equal(t, map[string]any{"a": []any{"x"}, "b": []any{"x"}}, got)
}

func TestLog_JoinsArgumentsWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, logger.InitLogger(logger.Config{Level: "info", Format: "json", Output: &buf}))
	t.Cleanup(func() { _ = logger.InitLogger(logger.Config{Level: "info", Output: io.Discard}) })

	e := newTestEngine(t, Config{})
	require.NoError(t, e.L.DoString(`log.info("dot", 1, true)`))

	var messages []any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["target"] == "lua" {
			messages = append(messages, entry["msg"])
		}
	}
	assert.Equal(t, []any{"dot 1 true"}, messages)
}

func TestStore_NotConfigured(t *testing.T) {
	e := newTestEngine(t, Config{})
	err := e.L.DoString(`store.load("x")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store is not configured")
}

func TestAliases(t *testing.T) {
	aliases, err := store.OpenAliases(filepath.Join(t.TempDir(), "aliases.db"))
	require.NoError(t, err)
	t.Cleanup(func() { aliases.Close() })
	e := newTestEngine(t, Config{Aliases: aliases})

	require.NoError(t, e.L.DoString(`
assert(aliases.add("!hello", "!hi") == true)
assert(aliases.add("!hello", "!hey") == true)
assert(aliases.add("!hello", "!hi") == false)
local list = aliases.lookup("!hello")
assert(#list == 2)
assert(aliases.contains("!hey"))
assert(aliases.resolve("!hi") == "!hello")
local missing, err = aliases.resolve("!nope")
assert(missing == nil and err ~= nil)
assert(aliases.remove("!hi") == true)
assert(aliases.clear("!hello") == true)
assert(#aliases.lookup("!hello") == 0)
`))
}

func TestHelp(t *testing.T) {
	e := newTestEngine(t, Config{})
	src, err := e.Load(greetings)
	require.NoError(t, err)
	m, _ := manifest.Build(src)
	e.SetHelp(m.Help())

	require.NoError(t, e.L.DoString(`
local list = help.list()
assert(#list == 3)
assert(list[1].command == "!hello")
local give = help.lookup("!give")
assert(give.usage == "!give <user> <amount>")
assert(give.description == "gives")
assert(help.lookup("!missing") == nil)
`))
}

func TestLog_AcceptsBothCallStyles(t *testing.T) {
	e := newTestEngine(t, Config{})
	require.NoError(t, e.L.DoString(`
log.info("dot", 1)
log:warn("colon")
log.debug(nil)
`))
}

func TestLoad_ReloadsRequiredModules(t *testing.T) {
	dir := t.TempDir()
	modulePath := filepath.Join(dir, "greeting.lua")
	require.NoError(t, os.WriteFile(modulePath, []byte(`return "v1"`), 0644))

	e := newTestEngine(t, Config{ScriptsDir: dir})
	source := `
local greeting = require("greeting")
return { commands = { m = {
  { command = "!" .. greeting, help = "", handler = function() end },
} } }`

	src, err := e.Load(source)
	require.NoError(t, err)
	require.Len(t, src.Commands, 1)
	assert.Equal(t, "!v1", src.Commands[0].Command)

	require.NoError(t, os.WriteFile(modulePath, []byte(`return "v2"`), 0644))
	src, err = e.Load(source)
	require.NoError(t, err)
	require.Len(t, src.Commands, 1)
	assert.Equal(t, "!v2", src.Commands[0].Command)
}

func TestDataDirGlobal(t *testing.T) {
	e := newTestEngine(t, Config{DataDir: "/var/lib/shaken"})
	require.NoError(t, e.L.DoString(`assert(DATA_DIR == "/var/lib/shaken")`))
}

func TestReadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "init.lua")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = os.WriteFile(path, []byte("return {}"), 0644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := ReadManifest(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "return {}", data)
}

func TestReadManifest_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadManifest(context.Background(), filepath.Join(dir, "missing.lua"))
	require.Error(t, err)

	empty := filepath.Join(dir, "empty.lua")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0644))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = ReadManifest(ctx, empty)
	require.ErrorIs(t, err, ErrEmptyManifest)
}
