package manifest

import (
	"github.com/keepmind9/shaken/internal/irc"
	"github.com/keepmind9/shaken/internal/pattern"
)

// Handled tells the dispatcher whether later stages should see a message
type Handled int

const (
	// Bubble lets dispatch continue
	Bubble Handled = iota
	// Sink stops dispatch for the current message
	Sink
)

func (h Handled) String() string {
	if h == Sink {
		return "sink"
	}
	return "bubble"
}

// Handler runs a command. Bindings is nil when the command had no template
// or its template was a plain literal.
type Handler interface {
	Handle(msg irc.ChatMessage, bindings pattern.Bindings) (Handled, error)
}

// Listener observes every chat message before commands are matched
type Listener interface {
	Listen(msg irc.ChatMessage) (Handled, error)
}

type HandlerFunc func(msg irc.ChatMessage, bindings pattern.Bindings) (Handled, error)

func (f HandlerFunc) Handle(msg irc.ChatMessage, bindings pattern.Bindings) (Handled, error) {
	return f(msg, bindings)
}

type ListenerFunc func(msg irc.ChatMessage) (Handled, error)

func (f ListenerFunc) Listen(msg irc.ChatMessage) (Handled, error) {
	return f(msg)
}
