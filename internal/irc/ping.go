package irc

import (
	"strconv"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// PingTracker watches inbound traffic for a single connection. It answers
// server PINGs, probes a quiet connection with its own PING and reports a
// timeout when a probe went unanswered for another full window.
type PingTracker struct {
	window   time.Duration
	now      func() time.Time
	lastSeen time.Time
	lastPing time.Time
	pong     string
	hasPong  bool
}

func NewPingTracker(window time.Duration) *PingTracker {
	return newPingTracker(window, time.Now)
}

func newPingTracker(window time.Duration, now func() time.Time) *PingTracker {
	return &PingTracker{
		window:   window,
		now:      now,
		lastSeen: now(),
	}
}

// Update records an inbound frame
func (p *PingTracker) Update(msg twitch.Message) {
	p.lastSeen = p.now()
	if ping, ok := msg.(*twitch.PingMessage); ok {
		p.pong = ping.Message
		p.hasPong = true
	}
}

// ShouldPong returns the PONG frame owed for the last server PING, once
func (p *PingTracker) ShouldPong() (string, bool) {
	if !p.hasPong {
		return "", false
	}
	token := p.pong
	p.pong, p.hasPong = "", false
	if token == "" {
		token = "tmi.twitch.tv"
	}
	return pongFrame(token), true
}

// Probe returns a PING frame when the connection has been quiet for a window
// and no probe is already outstanding.
func (p *PingTracker) Probe() (string, bool) {
	now := p.now()
	if now.Sub(p.lastSeen) < p.window {
		return "", false
	}
	if p.lastPing.After(p.lastSeen) {
		return "", false
	}
	p.lastPing = now
	return pingFrame(strconv.FormatInt(now.Unix(), 10)), true
}

// TimedOut reports whether a probe went unanswered for a full window
func (p *PingTracker) TimedOut() bool {
	if !p.lastPing.After(p.lastSeen) {
		return false
	}
	return p.now().Sub(p.lastPing) >= p.window
}
