// Package irc maintains the chat connection: it registers with the server,
// turns inbound frames into lifecycle events, writes queued responses and
// reconnects after any transient fault.
package irc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/sirupsen/logrus"

	"github.com/keepmind9/shaken/internal/logger"
	"github.com/keepmind9/shaken/internal/metrics"
	"github.com/keepmind9/shaken/pkg/constants"
)

var (
	ErrRegistrationTimeout = errors.New("registration timed out")
	ErrLoginFailed         = errors.New("login authentication failed")
	ErrMissingUserID       = errors.New("global user state carried no user id")
	ErrServerReconnect     = errors.New("server asked us to reconnect")
	ErrKeepaliveTimeout    = errors.New("keepalive timed out")
	ErrDisconnectRequested = errors.New("disconnect requested")
)

// Config configures a Manager. Zero durations take the package defaults.
type Config struct {
	Name                string
	OAuthToken          string
	Address             string
	Backoff             time.Duration
	PingWindow          time.Duration
	RegistrationTimeout time.Duration
	WriteTimeout        time.Duration
	DialTimeout         time.Duration
	// Dial opens the socket; nil uses a net.Dialer bounded by DialTimeout
	Dial    func(ctx context.Context, network, address string) (net.Conn, error)
	Metrics *metrics.Metrics
}

func (c *Config) setDefaults() {
	if c.Address == "" {
		c.Address = constants.TwitchIRCAddress
	}
	if c.Backoff <= 0 {
		c.Backoff = constants.DefaultReconnectBackoff
	}
	if c.PingWindow <= 0 {
		c.PingWindow = constants.DefaultPingWindow
	}
	if c.RegistrationTimeout <= 0 {
		c.RegistrationTimeout = constants.DefaultRegistrationTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = constants.DefaultWriteTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = constants.DefaultDialTimeout
	}
	if c.Dial == nil {
		dialer := &net.Dialer{Timeout: c.DialTimeout}
		c.Dial = dialer.DialContext
	}
}

type next int

const (
	proceed next = iota
	restart
	stop
)

// Manager owns one logical chat connection across reconnects
type Manager struct {
	cfg       Config
	events    chan Event
	responses <-chan Response
}

func NewManager(cfg Config, responses <-chan Response) *Manager {
	cfg.setDefaults()
	return &Manager{
		cfg:       cfg,
		events:    make(chan Event, constants.EventChannelBufferSize),
		responses: responses,
	}
}

// Connect starts a Manager in its own goroutine and returns its event stream.
// The stream is closed once ctx is cancelled or responses is closed.
func Connect(ctx context.Context, cfg Config, responses <-chan Response) <-chan Event {
	m := NewManager(cfg, responses)
	go m.Run(ctx)
	return m.Events()
}

func (m *Manager) Events() <-chan Event {
	return m.events
}

// Run connects and reconnects until stopped, then closes the event stream
func (m *Manager) Run(ctx context.Context) {
	defer close(m.events)
	for {
		if m.session(ctx) == stop {
			logger.Info("irc-manager-stopped")
			return
		}
	}
}

func (m *Manager) session(ctx context.Context) next {
	if ctx.Err() != nil {
		return stop
	}

	logger.WithField("address", m.cfg.Address).Info("irc-connecting")
	nc, err := m.cfg.Dial(ctx, "tcp", m.cfg.Address)
	if err != nil {
		if ctx.Err() != nil {
			return stop
		}
		return m.reconnect(ctx, "dial", fmt.Errorf("cannot connect: %w", err))
	}

	c := newConn(nc, m.cfg.WriteTimeout)
	defer c.close()

	for _, f := range registerFrames(m.cfg.Name, m.cfg.OAuthToken) {
		if err := c.write(f); err != nil {
			return m.reconnect(ctx, "write", err)
		}
	}

	tracker := NewPingTracker(m.cfg.PingWindow)
	user, n := m.register(ctx, c, tracker)
	if n != proceed {
		return n
	}
	return m.ready(ctx, c, tracker, user)
}

// register reads until the server confirmed our identity
func (m *Manager) register(ctx context.Context, c *conn, tracker *PingTracker) (User, next) {
	user := User{Name: m.cfg.Name, Display: m.cfg.Name}

	timeout := time.NewTimer(m.cfg.RegistrationTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return user, stop

		case <-timeout.C:
			return user, m.reconnect(ctx, "registration-timeout", ErrRegistrationTimeout)

		case l := <-c.lines:
			if l.err != nil {
				return user, m.reconnect(ctx, readReason(l.err), l.err)
			}

			msg := m.receive(c, tracker, l.text)
			if msg == nil {
				return user, m.reconnect(ctx, "write", c.err)
			}

			switch msg := msg.(type) {
			case *twitch.RawMessage:
				if msg.RawType == "001" {
					if nick := welcomeNick(msg.Raw); nick != "" {
						user.Name = nick
					}
				}

			case *twitch.NoticeMessage:
				if isLoginFailure(msg.Message) {
					logger.WithField("notice", msg.Message).Error("irc-login-rejected")
					return user, m.reconnect(ctx, "login", ErrLoginFailed)
				}

			case *twitch.ReconnectMessage:
				return user, m.reconnect(ctx, "server-reconnect", ErrServerReconnect)

			case *twitch.GlobalUserStateMessage:
				user.Display = firstNonEmpty(msg.Tags["display-name"], user.Name)
				user.UserID = msg.Tags["user-id"]
				if user.UserID == "" {
					return user, m.reconnect(ctx, "registration", ErrMissingUserID)
				}
				return user, proceed
			}
		}
	}
}

func (m *Manager) ready(ctx context.Context, c *conn, tracker *PingTracker, user User) next {
	if !m.drain() {
		_ = c.write(quitFrame())
		return stop
	}

	logger.WithFields(logrus.Fields{
		"name":    user.Name,
		"display": user.Display,
		"user_id": user.UserID,
	}).Info("irc-connected")
	m.cfg.Metrics.ConnectionUp()

	if !m.emit(ctx, Event{Kind: EventConnected, User: user}) {
		return stop
	}

	interval := m.cfg.PingWindow / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("irc-sending-quit")
			_ = c.write(quitFrame())
			return stop

		case l := <-c.lines:
			if l.err != nil {
				return m.reconnect(ctx, readReason(l.err), l.err)
			}

			msg := m.receive(c, tracker, l.text)
			if msg == nil {
				return m.reconnect(ctx, "write", c.err)
			}

			switch msg := msg.(type) {
			case *twitch.ReconnectMessage:
				return m.reconnect(ctx, "server-reconnect", ErrServerReconnect)

			case *twitch.PrivateMessage:
				ev := Event{
					Kind:    EventMessage,
					Message: chatMessage(user, msg),
					Raw:     l.text,
				}
				if !m.emit(ctx, ev) {
					return stop
				}
			}

		case resp, ok := <-m.responses:
			if !ok {
				logger.Info("irc-responses-closed")
				_ = c.write(quitFrame())
				return stop
			}

			if resp.Kind == ResponseDisconnect {
				logger.Info("irc-sending-quit")
				_ = c.write(quitFrame())
				return m.reconnect(ctx, "requested", ErrDisconnectRequested)
			}

			if err := c.write(Encode(resp)); err != nil {
				return m.reconnect(ctx, "write", err)
			}
			m.cfg.Metrics.FrameSent(resp.Kind.String())

		case <-ticker.C:
			if tracker.TimedOut() {
				return m.reconnect(ctx, "keepalive", ErrKeepaliveTimeout)
			}
			if ping, ok := tracker.Probe(); ok {
				if err := c.write(ping); err != nil {
					return m.reconnect(ctx, "write", err)
				}
				m.cfg.Metrics.FrameSent("ping")
			}
		}
	}
}

// receive parses a line and answers any PING it carried. It returns nil when
// the answer could not be written.
func (m *Manager) receive(c *conn, tracker *PingTracker, line string) twitch.Message {
	msg := twitch.ParseMessage(line)
	m.cfg.Metrics.FrameReceived(command(line))

	tracker.Update(msg)
	if pong, ok := tracker.ShouldPong(); ok {
		if err := c.write(pong); err != nil {
			return nil
		}
		m.cfg.Metrics.FrameSent("pong")
	}
	return msg
}

// drain discards responses queued while we were not connected. It reports
// false when the response channel has been closed.
func (m *Manager) drain() bool {
	dropped := 0
	defer func() {
		if dropped > 0 {
			logger.WithField("count", dropped).Warn("irc-dropped-stale-responses")
		}
	}()

	for {
		select {
		case _, ok := <-m.responses:
			if !ok {
				return false
			}
			dropped++
		default:
			return true
		}
	}
}

func (m *Manager) reconnect(ctx context.Context, reason string, err error) next {
	logger.WithFields(logrus.Fields{
		"reason":  reason,
		"error":   err,
		"backoff": m.cfg.Backoff.String(),
	}).Warn("irc-disconnected-reconnecting")
	m.cfg.Metrics.ConnectionDown(reason)

	if !m.emit(ctx, Event{Kind: EventDisconnected}) {
		return stop
	}

	t := time.NewTimer(m.cfg.Backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return stop
	case <-t.C:
		return restart
	}
}

func (m *Manager) emit(ctx context.Context, ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func readReason(err error) string {
	if errors.Is(err, io.EOF) {
		return "eof"
	}
	return "read"
}

type line struct {
	text string
	err  error
}

// conn pairs a socket with its reader goroutine
type conn struct {
	nc           net.Conn
	w            *bufio.Writer
	writeTimeout time.Duration
	lines        chan line
	done         chan struct{}
	err          error
}

func newConn(nc net.Conn, writeTimeout time.Duration) *conn {
	c := &conn{
		nc:           nc,
		w:            bufio.NewWriter(nc),
		writeTimeout: writeTimeout,
		lines:        make(chan line),
		done:         make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *conn) readLoop() {
	scanner := bufio.NewScanner(c.nc)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)

	for scanner.Scan() {
		text := trimCR(scanner.Text())
		if text == "" {
			continue
		}
		select {
		case c.lines <- line{text: text}:
		case <-c.done:
			return
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case c.lines <- line{err: err}:
	case <-c.done:
	}
}

func (c *conn) write(frame string) error {
	if c.writeTimeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.w.WriteString(frame); err != nil {
		c.err = fmt.Errorf("cannot write: %w", err)
		return c.err
	}
	if err := c.w.Flush(); err != nil {
		c.err = fmt.Errorf("cannot flush: %w", err)
		return c.err
	}
	return nil
}

func (c *conn) close() {
	close(c.done)
	_ = c.nc.Close()
}
