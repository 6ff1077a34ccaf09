package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/expflow/internal/api"
	"github.com/ajitpratap0/expflow/internal/config"
	"github.com/ajitpratap0/expflow/internal/engine"
	"github.com/ajitpratap0/expflow/internal/events"
	"github.com/ajitpratap0/expflow/internal/monitor"
	"github.com/ajitpratap0/expflow/internal/store"
	"github.com/ajitpratap0/expflow/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().
		Str("version", cfg.App.Version).
		Str("environment", cfg.App.Environment).
		Msg("Starting expflow API server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfg.ApplySecrets(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply Vault secrets")
	}

	// Event stream: NATS when configured, in-memory otherwise. The memory
	// sink always exists because the WebSocket endpoint relays from it.
	stream := events.NewMemorySink()
	var sink events.Sink = stream
	if cfg.NATS.Enabled {
		natsSink, err := events.NewNATSSink(events.NATSSinkConfig{
			URL:    cfg.NATS.URL,
			Prefix: cfg.NATS.SubjectPrefix,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer func() { _ = natsSink.Close() }()
		sink = events.Tee(stream, natsSink)
	}

	// Optional persistence
	var persister engine.Persister
	if cfg.Database.Enabled {
		st, err := store.New(ctx, cfg.Database.GetDSN())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer st.Close()
		persister = st
	}

	framework := engine.New(engine.Options{
		Sink:      sink,
		Persister: persister,
		Alpha:     cfg.Engine.Alpha,
		Draws:     cfg.Engine.BayesianDraws,
		Stages:    cfg.Engine.SequentialStages,
	})

	mon := monitor.New(framework, monitor.Options{
		Interval: cfg.Engine.MonitorInterval,
		Sink:     sink,
	})
	mon.Start(ctx)
	defer mon.Stop()

	if cfg.Monitoring.EnableMetrics {
		metricsServer := telemetry.NewServer(cfg.Monitoring.PrometheusPort, config.NewLogger("telemetry"))
		if err := metricsServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start metrics server")
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	server := api.NewServer(api.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		Framework: framework,
		Stream:    stream,
	})

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error().Err(err).Msg("Server error")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}

	log.Info().Msg("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to stop server gracefully")
		os.Exit(1)
	}
	log.Info().Msg("Server stopped successfully")
}
