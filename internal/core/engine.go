package core

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/keepmind9/shaken/internal/irc"
	"github.com/keepmind9/shaken/internal/logger"
	"github.com/keepmind9/shaken/internal/manifest"
	"github.com/keepmind9/shaken/internal/metrics"
	"github.com/keepmind9/shaken/internal/script"
	"github.com/keepmind9/shaken/pkg/constants"
)

// Loader turns manifest source into commands and listeners
type Loader interface {
	Load(source string) (manifest.Source, error)
	SetHelp(help *manifest.HelpIndex)
}

// Recorder stores chat lines for later
type Recorder interface {
	Enqueue(msg irc.ChatMessage) bool
}

// EngineConfig wires the engine to its collaborators. Only Loader, Responder
// and Events are required.
type EngineConfig struct {
	Channels     []string
	ManifestPath string
	Loader       Loader
	Responder    *manifest.Responder
	Events       <-chan irc.Event
	// Changes signals that the scripts changed on disk
	Changes <-chan struct{}
	// Reroute carries messages scripts want dispatched again
	Reroute <-chan irc.ChatMessage
	History Recorder
	Metrics *metrics.Metrics
}

// Engine is the host event loop. It handles one event at a time, so the
// manifest and the Lua state behind it are only touched from Run.
type Engine struct {
	config   EngineConfig
	manifest atomic.Pointer[manifest.Manifest]
	user     atomic.Pointer[irc.User]
}

// NewEngine creates a new Engine instance with an empty manifest
func NewEngine(config EngineConfig) *Engine {
	e := &Engine{config: config}
	e.manifest.Store(manifest.Empty())
	return e
}

// Manifest returns the manifest currently used for dispatch
func (e *Engine) Manifest() *manifest.Manifest {
	return e.manifest.Load()
}

// User returns the identity confirmed by the last connection, if any
func (e *Engine) User() (irc.User, bool) {
	u := e.user.Load()
	if u == nil {
		return irc.User{}, false
	}
	return *u, true
}

// Run loads the manifest and processes events until ctx ends or the
// connection manager stops.
func (e *Engine) Run(ctx context.Context) error {
	logger.Info("starting-shaken-engine")

	if err := e.Reload(ctx); err != nil {
		// keep running with an empty manifest; the next save will be picked up
		logger.WithField("error", err).Error("initial-manifest-load-failed")
	}

	events, changes, reroute := e.config.Events, e.config.Changes, e.config.Reroute
	for {
		select {
		case <-ctx.Done():
			logger.Info("event-loop-shutting-down")
			return nil

		case ev, ok := <-events:
			if !ok {
				logger.Info("connection-manager-stopped")
				return nil
			}
			e.handleEvent(ev)

		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if err := e.Reload(ctx); err != nil {
				logger.WithField("error", err).Error("manifest-reload-failed")
			}

		case msg, ok := <-reroute:
			if !ok {
				reroute = nil
				continue
			}
			logger.WithFields(logrus.Fields{
				"channel": msg.Channel,
				"data":    msg.Data,
			}).Debug("dispatching-rerouted-message")
			e.Dispatch(msg)
		}
	}
}

func (e *Engine) handleEvent(ev irc.Event) {
	switch ev.Kind {
	case irc.EventConnected:
		user := ev.User
		e.user.Store(&user)
		logger.WithFields(logrus.Fields{
			"user":     user.Name,
			"user_id":  user.UserID,
			"channels": e.config.Channels,
		}).Info("joining-channels")
		for _, ch := range e.config.Channels {
			e.config.Responder.Join(ch)
		}

	case irc.EventDisconnected:
		e.user.Store(nil)

	case irc.EventMessage:
		if e.config.History != nil {
			e.config.History.Enqueue(ev.Message)
		}
		e.Dispatch(ev.Message)
	}
}

// Dispatch runs a chat message through the current manifest
func (e *Engine) Dispatch(msg irc.ChatMessage) manifest.Outcome {
	outcome := e.manifest.Load().Dispatch(msg, e.config.Responder)

	m := e.config.Metrics
	for i := 0; i < outcome.ListenerErrors; i++ {
		m.ListenerFailed()
	}
	for _, r := range outcome.Results {
		m.Dispatched(r.Command, r.Status.String())
	}
	return outcome
}

// Reload reads and evaluates the manifest file. When the file cannot be
// read or evaluated the current manifest stays in place.
func (e *Engine) Reload(ctx context.Context) error {
	readCtx, cancel := context.WithTimeout(ctx, constants.ManifestReadTimeout)
	defer cancel()

	source, err := script.ReadManifest(readCtx, e.config.ManifestPath)
	if err != nil {
		e.config.Metrics.Reloaded("failed")
		return err
	}

	src, err := e.config.Loader.Load(source)
	if err != nil {
		e.config.Metrics.Reloaded("failed")
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	next, report := manifest.Build(src)
	e.manifest.Store(next)
	e.config.Loader.SetHelp(next.Help())
	report.Log()

	status := "ok"
	if !report.OK() {
		status = "partial"
	}
	e.config.Metrics.Reloaded(status)

	logger.WithFields(logrus.Fields{
		"path":   e.config.ManifestPath,
		"status": status,
	}).Info("manifest-reloaded")
	return nil
}
