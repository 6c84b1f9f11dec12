package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/normanking/cortexaffect/internal/affect"
	"github.com/normanking/cortexaffect/internal/avatar"
	"github.com/normanking/cortexaffect/internal/bus"
	"github.com/normanking/cortexaffect/internal/config"
	"github.com/normanking/cortexaffect/internal/logging"
	"github.com/normanking/cortexaffect/internal/sentiment"
	"github.com/normanking/cortexaffect/internal/server"
	"github.com/normanking/cortexaffect/internal/telemetry"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SERVE COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(cfg *config.Config) error {
	logger := log.Zerolog()

	transport, closeTransport, err := buildTransport(cfg.Telemetry)
	if err != nil {
		return err
	}
	defer closeTransport()

	hub := server.NewHub(logger)
	machine := avatar.NewMachine(hub, logger, avatar.WithAssets(cfg.Avatar.BasePath, assetMap(cfg.Avatar.Assets)))

	client := sentiment.NewClient(&sentiment.ClientConfig{
		URL:     cfg.Sentiment.URL,
		Timeout: cfg.Sentiment.Timeout,
	}, logger)
	fusion := avatar.NewFusion(machine, client, avatar.FusionConfig{
		MinConfidence: cfg.Sentiment.MinConfidence,
		Timeout:       cfg.Sentiment.Timeout,
	}, logger)

	emitter := telemetry.NewEmitter(telemetry.NewThrottler(), transport, logger,
		telemetry.WithSendTimeout(cfg.Telemetry.Timeout))

	eventBus := bus.NewEventBus()
	engine := affect.New(machine, fusion, emitter, eventBus, logger)
	defer engine.Close()

	eventBus.SubscribeAll(func(e bus.Event) {
		log.Debug("bus", string(e.Type), e.Data)
	})

	watchConfig(logger)
	engine.Start()

	srv := server.New(cfg.Server, engine, hub, log, version, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	log.Info("main", "CortexAffect started", map[string]interface{}{
		"addr":      cfg.Server.Addr,
		"telemetry": transport.Name(),
		"sentiment": cfg.Sentiment.URL,
		"log_file":  log.GetLogPath(),
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("main", "Shutting down", map[string]interface{}{"signal": sig.String()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildTransport returns the configured telemetry transport and a cleanup
// function.
func buildTransport(tc config.TelemetryConfig) (telemetry.Transport, func(), error) {
	switch tc.Sink {
	case "redis":
		rt, err := telemetry.NewRedisTransport(telemetry.RedisConfig{
			Addr:     tc.Redis.Addr,
			Password: tc.Redis.Password,
			DB:       tc.Redis.DB,
			Stream:   tc.Redis.Stream,
			MaxLen:   tc.Redis.MaxLen,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("telemetry: %w", err)
		}
		return rt, func() { rt.Close() }, nil
	case "none":
		return telemetry.NopTransport{}, func() {}, nil
	default:
		return telemetry.NewHTTPTransport(tc.URL, tc.Timeout), func() {}, nil
	}
}

func assetMap(in map[string]string) map[avatar.State]string {
	out := make(map[avatar.State]string, len(in))
	for k, v := range in {
		out[avatar.State(strings.ToUpper(k))] = v
	}
	return out
}

// watchConfig applies log level changes without a restart.
func watchConfig(logger zerolog.Logger) {
	err := config.Watch(getConfigPath(), func(c *config.Config) {
		if verbose {
			return
		}
		level := logging.ParseLevel(c.Logging.Level)
		log.SetLevel(level)
		logger.Info().Str("level", string(level)).Msg("Configuration reloaded")
	}, func(err error) {
		logger.Warn().Err(err).Msg("Ignoring invalid configuration change")
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Config hot reload disabled")
	}
}
