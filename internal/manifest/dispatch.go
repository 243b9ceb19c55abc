package manifest

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/keepmind9/shaken/internal/irc"
	"github.com/keepmind9/shaken/internal/logger"
	"github.com/keepmind9/shaken/internal/pattern"
)

const (
	deniedMessage   = "you cannot do that command"
	fallbackFailure = "command failed"
)

var ErrHandlerPanic = errors.New("handler panicked")

// Status is what happened to one matched command
type Status int

const (
	StatusHandled Status = iota
	StatusUsage
	StatusDenied
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusHandled:
		return "ok"
	case StatusUsage:
		return "usage"
	case StatusDenied:
		return "denied"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result records one mapping whose prefix matched the message
type Result struct {
	Command string
	Status  Status
}

// Outcome summarises a Dispatch
type Outcome struct {
	// Sunk is set when a listener consumed the message
	Sunk           bool
	ListenerErrors int
	Results        []Result
}

// Dispatch runs listeners, then every matching command, in registration order
func (m *Manifest) Dispatch(msg irc.ChatMessage, r Replier) Outcome {
	var out Outcome

	log := logger.WithFields(logrus.Fields{
		"dispatch_id": uuid.NewString(),
		"channel":     msg.Channel,
		"sender":      msg.Sender,
	})
	log.WithField("data", msg.Data).Trace("dispatching-message")

	for i, l := range m.listeners {
		handled, err := callListener(l, msg)
		if err != nil {
			out.ListenerErrors++
			log.WithFields(logrus.Fields{
				"listener": i,
				"error":    err,
			}).Warn("listener-failed")
			continue
		}
		if handled == Sink {
			out.Sunk = true
			return out
		}
	}

	for _, mapping := range m.mappings {
		res, handled, ok := mapping.dispatch(msg, r, log)
		if !ok {
			continue
		}
		out.Results = append(out.Results, res)
		if handled == Sink {
			break
		}
	}
	return out
}

func (m Mapping) dispatch(msg irc.ChatMessage, r Replier, log *logrus.Entry) (Result, Handled, bool) {
	rest, ok := strings.CutPrefix(msg.Data, m.Command)
	if !ok {
		return Result{}, Bubble, false
	}
	rest = strings.TrimSpace(rest)
	res := Result{Command: m.Command}

	var bindings pattern.Bindings
	switch {
	case m.Pattern == nil && rest != "":
		r.Reply(msg, m.usageError())
		res.Status = StatusUsage
		return res, Bubble, true

	case m.Pattern != nil && m.Pattern.IsOptional() && rest == "":
		r.Reply(msg, m.usageError())
		res.Status = StatusUsage
		return res, Bubble, true

	case m.Pattern != nil:
		ex := m.Pattern.Extract(rest)
		switch ex.Outcome {
		case pattern.NoMatch:
			r.Reply(msg, m.usageError())
			res.Status = StatusUsage
			return res, Bubble, true
		case pattern.Bound:
			bindings = ex.Bindings
		}
	}

	if m.Elevated && !msg.Elevated {
		r.Reply(msg, deniedMessage)
		res.Status = StatusDenied
		return res, Bubble, true
	}

	handled, err := callHandler(m.Handler, msg, bindings)
	if err != nil {
		log.WithFields(logrus.Fields{
			"command": m.Command,
			"module":  m.Module,
			"error":   err,
		}).Warn("command-failed")
		r.Error(msg, userError(err))
		res.Status = StatusFailed
		return res, Bubble, true
	}

	res.Status = StatusHandled
	return res, handled, true
}

func callHandler(h Handler, msg irc.ChatMessage, bindings pattern.Bindings) (handled Handled, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			handled, err = Bubble, fmt.Errorf("%w: %v", ErrHandlerPanic, rec)
		}
	}()
	return h.Handle(msg, bindings)
}

func callListener(l Listener, msg irc.ChatMessage) (handled Handled, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			handled, err = Bubble, fmt.Errorf("%w: %v", ErrHandlerPanic, rec)
		}
	}()
	return l.Listen(msg)
}

var luaLocation = regexp.MustCompile(`\.lua:\d+`)

// userError reduces a handler error to the first segment of its first line
// that does not look like an interpreter location.
func userError(err error) string {
	first, _, _ := strings.Cut(err.Error(), "\n")
	for _, seg := range strings.Split(first, ": ") {
		seg = strings.TrimSpace(seg)
		if seg == "" || isInternal(seg) {
			continue
		}
		return seg
	}
	return fallbackFailure
}

func isInternal(seg string) bool {
	for _, marker := range []string{"runtime error", "./scripts", "src", "<string>"} {
		if strings.Contains(seg, marker) {
			return true
		}
	}
	return luaLocation.MatchString(seg)
}
