package manifest

import (
	"github.com/sirupsen/logrus"

	"github.com/keepmind9/shaken/internal/irc"
	"github.com/keepmind9/shaken/internal/logger"
	"github.com/keepmind9/shaken/internal/metrics"
)

// Replier is the part of the outbound queue the dispatcher needs
type Replier interface {
	Reply(msg irc.ChatMessage, data string)
	Error(msg irc.ChatMessage, data string)
}

// Responder queues responses for the connection manager without blocking.
// A full queue drops the response.
type Responder struct {
	out     chan<- irc.Response
	metrics *metrics.Metrics
}

func NewResponder(out chan<- irc.Response, m *metrics.Metrics) *Responder {
	return &Responder{out: out, metrics: m}
}

// Send queues resp and reports whether it was accepted
func (r *Responder) Send(resp irc.Response) bool {
	select {
	case r.out <- resp:
		return true
	default:
		logger.WithFields(logrus.Fields{
			"kind":    resp.Kind.String(),
			"channel": resp.Channel,
		}).Warn("response-queue-full-dropping")
		r.metrics.ResponseDropped()
		return false
	}
}

func (r *Responder) Say(msg irc.ChatMessage, data string) {
	r.Send(irc.Say(msg.Channel, data))
}

func (r *Responder) Reply(msg irc.ChatMessage, data string) {
	r.Send(irc.Reply(msg.Channel, msg.MsgID, data))
}

func (r *Responder) Error(msg irc.ChatMessage, data string) {
	r.Send(irc.Error(msg.Channel, data))
}

func (r *Responder) Join(channel string) {
	r.Send(irc.Join(channel))
}
