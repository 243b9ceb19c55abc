package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/keepmind9/shaken/internal/history"
	"github.com/keepmind9/shaken/internal/irc"
	"github.com/keepmind9/shaken/internal/logger"
	"github.com/keepmind9/shaken/internal/manifest"
	"github.com/keepmind9/shaken/internal/metrics"
	"github.com/keepmind9/shaken/internal/script"
	"github.com/keepmind9/shaken/internal/store"
	"github.com/keepmind9/shaken/internal/watcher"
	"github.com/keepmind9/shaken/pkg/constants"
)

// shutdownGrace bounds waiting for the connection manager to say goodbye
const shutdownGrace = 5 * time.Second

// Run starts every component described by config and blocks until ctx ends
// or the connection manager stops.
func Run(ctx context.Context, config *Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m, err := startMetrics(ctx, config.Metrics)
	if err != nil {
		return err
	}

	docs, err := store.NewJSONStore(config.Paths.Data)
	if err != nil {
		return fmt.Errorf("failed to open data directory: %w", err)
	}
	aliases, err := store.OpenAliases(config.AliasesPath())
	if err != nil {
		return err
	}
	defer aliases.Close()

	responses := make(chan irc.Response, constants.ResponseChannelBufferSize)
	reroute := make(chan irc.ChatMessage, constants.RerouteChannelBufferSize)
	responder := manifest.NewResponder(responses, m)

	scripts, err := script.New(script.Config{
		ScriptsDir: config.Paths.Scripts,
		DataDir:    config.Paths.Data,
		ChunkName:  filepath.Base(config.ManifestPath()),
		Outbox:     responder,
		Reroute:    reroute,
		Store:      docs,
		Aliases:    aliases,
	})
	if err != nil {
		return err
	}
	defer scripts.Close()

	var recorder *history.Recorder
	if config.History.Enabled {
		pool, err := history.Open(ctx, config.History.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()

		recorder = history.New(ctx, pool, history.Config{
			MaxBatch:   config.History.MaxBatch,
			FlushEvery: config.History.FlushEvery,
			Buffer:     config.History.Buffer,
		}, m)
		defer func() { <-recorder.Done() }()
	}

	events := irc.Connect(ctx, irc.Config{
		Name:                config.Twitch.Name,
		OAuthToken:          config.Twitch.OAuthToken,
		Address:             config.Twitch.Address,
		Backoff:             config.Reconnect.Backoff,
		PingWindow:          config.Reconnect.PingWindow,
		RegistrationTimeout: config.Reconnect.RegistrationTimeout,
		Metrics:             m,
	}, responses)

	logger.WithFields(logrus.Fields{
		"name":     config.Twitch.Name,
		"token":    MaskSecret(config.Twitch.OAuthToken),
		"address":  config.Twitch.Address,
		"channels": config.Twitch.Channels,
		"scripts":  config.Paths.Scripts,
		"history":  config.History.Enabled,
	}).Info("shaken-starting")

	engineConfig := EngineConfig{
		Channels:     config.Twitch.Channels,
		ManifestPath: config.ManifestPath(),
		Loader:       scripts,
		Responder:    responder,
		Events:       events,
		Changes:      watcher.Watch(ctx, config.Paths.Scripts, watcher.Options{}),
		Reroute:      reroute,
		Metrics:      m,
	}
	if recorder != nil {
		engineConfig.History = recorder
	}

	err = NewEngine(engineConfig).Run(ctx)

	cancel()
	waitClosed(events, shutdownGrace)
	logger.Info("engine-stopped")
	return err
}

func startMetrics(ctx context.Context, config MetricsConfig) (*metrics.Metrics, error) {
	if !config.Enabled {
		return nil, nil
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	go func() {
		if err := metrics.Serve(ctx, config.Addr, reg); err != nil {
			logger.WithFields(logrus.Fields{
				"addr":  config.Addr,
				"error": err,
			}).Error("metrics-server-failed")
		}
	}()
	return m, nil
}

// waitClosed drains events until the manager closes the stream
func waitClosed(events <-chan irc.Event, grace time.Duration) {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-timer.C:
			logger.Warn("connection-manager-shutdown-timed-out")
			return
		}
	}
}

// Validate evaluates the manifest named by config without connecting to chat
func Validate(ctx context.Context, config *Config) (manifest.Report, error) {
	if _, err := os.Stat(config.Paths.Scripts); err != nil {
		return manifest.Report{}, fmt.Errorf("scripts directory: %w", err)
	}

	docs, err := store.NewJSONStore(config.Paths.Data)
	if err != nil {
		return manifest.Report{}, fmt.Errorf("failed to open data directory: %w", err)
	}

	scripts, err := script.New(script.Config{
		ScriptsDir: config.Paths.Scripts,
		DataDir:    config.Paths.Data,
		ChunkName:  filepath.Base(config.ManifestPath()),
		Store:      docs,
	})
	if err != nil {
		return manifest.Report{}, err
	}
	defer scripts.Close()

	readCtx, cancel := context.WithTimeout(ctx, constants.ManifestReadTimeout)
	defer cancel()
	source, err := script.ReadManifest(readCtx, config.ManifestPath())
	if err != nil {
		return manifest.Report{}, err
	}

	src, err := scripts.Load(source)
	if err != nil {
		return manifest.Report{}, err
	}
	_, report := manifest.Build(src)
	return report, nil
}
