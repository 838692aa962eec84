package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/snarg/caption-engine/internal/api"
	"github.com/snarg/caption-engine/internal/availability"
	"github.com/snarg/caption-engine/internal/config"
	"github.com/snarg/caption-engine/internal/metrics"
	"github.com/snarg/caption-engine/internal/mqttclient"
	"github.com/snarg/caption-engine/internal/transcribe"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(overrides *config.Overrides) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *overrides)
		},
	}
}

// serviceStats feeds the scrape-time gauges.
type serviceStats struct {
	*availability.Checker
	*transcribe.Pipeline
}

func runServe(parent context.Context, overrides config.Overrides) error {
	startTime := time.Now()
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := newLogger(cfg.LogLevel)
	log.Info().Str("version", version).Msg("caption-engine starting")

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker := newChecker(cfg)
	report := checker.Check()
	if err := report.Err(); err != nil {
		// Not fatal: /health reports it and /transcribe answers 503 until fixed.
		log.Warn().Err(err).Msg("transcription engine unavailable")
	} else {
		log.Info().
			Str("whisper", report.WhisperPath).
			Str("model", report.ModelPath).
			Bool("ffmpeg_found", report.FFmpegFound).
			Msg("transcription engine available")
	}

	// MQTT (optional)
	var publish transcribe.EventPublishFunc
	if cfg.MQTTEnabled() {
		mqttLog := log.With().Str("component", "mqtt").Logger()
		clientID := cfg.MQTTClientID + "-" + uuid.NewString()[:8]
		mqtt, err := mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    clientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			Log:         mqttLog,
		})
		if err != nil {
			return fmt.Errorf("connect to mqtt broker: %w", err)
		}
		defer mqtt.Close()
		publish = mqtt.PublishEvent
		log.Info().Str("topic", mqtt.Topic()).Msg("publishing transcription events")
	}

	pipeline := transcribe.NewPipeline(transcribe.PipelineOptions{
		Resolver:       checker,
		Engine:         transcribe.NewCLIEngine(),
		Converter:      transcribe.NewFFmpegConverter(cfg.FFmpegBin),
		Locator:        transcribe.SidecarLocator{},
		TempDir:        cfg.TempDir,
		ConvertTimeout: cfg.ConvertTimeout,
		EngineTimeout:  cfg.EngineTimeout,
		PublishEvent:   publish,
		Log:            log.With().Str("component", "transcribe").Logger(),
	})

	prometheus.MustRegister(metrics.NewCollector(serviceStats{checker, pipeline}))

	srv := api.NewServer(api.ServerOptions{
		Config:       cfg,
		Pipeline:     pipeline,
		Availability: checker,
		Stats:        pipeline,
		Version:      version,
		StartTime:    startTime,
		Log:          log.With().Str("component", "http").Logger(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	if cfg.ModelWatch {
		watcher := availability.NewWatcher(checker, log)
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil {
				// The service works without the watcher.
				log.Warn().Err(err).Msg("model watcher failed")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			log.Info().Msg("shutdown signal received")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown error")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("http server error")
		return err
	}

	log.Info().Msg("caption-engine stopped")
	return nil
}
