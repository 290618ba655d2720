package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/storyreel/internal/config"
	"github.com/snappy-loop/storyreel/internal/database"
	"github.com/snappy-loop/storyreel/internal/media"
	"github.com/snappy-loop/storyreel/internal/notifier"
	"github.com/snappy-loop/storyreel/internal/orchestrator"
	"github.com/snappy-loop/storyreel/internal/renderer"
	"github.com/snappy-loop/storyreel/migrations"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().Msg("starting orchestrator")

	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := migrations.Run(db.DB); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	settingsRepo := database.NewSettingsRepository(db)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rendererURL, err := settingsRepo.Get(ctx, "comfyui_url", cfg.RendererURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read renderer url setting")
	}

	applyTunables(ctx, settingsRepo, cfg)

	renderClient := renderer.New(rendererURL,
		renderer.WithTimeout(cfg.HTTPRequestTimeout),
	)

	pipeline := media.NewPipeline(cfg.FFmpegPath, cfg.DownloadTimeout)
	paths := media.NewPathResolver(cfg.OutputRoot)

	var notify notifier.Notifier
	if len(cfg.KafkaBrokers) > 0 {
		kn := notifier.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopicEvents)
		defer kn.Close()
		notify = kn
	} else {
		log.Warn().Msg("no kafka brokers configured, notifier degraded to no-op")
		notify = notifier.NewNoopNotifier()
	}

	deps := orchestrator.Deps{
		DB:           db,
		JobRepo:      database.NewJobRepository(db),
		SegmentRepo:  database.NewSegmentRepository(db),
		SettingsRepo: settingsRepo,
		UploadRepo:   database.NewUploadRepository(db),
		ActivityRepo: database.NewActivityRepository(db),
		Renderer:     renderClient,
		Pipeline:     pipeline,
		Paths:        paths,
		Notify:       notify,
		Config:       cfg,
	}
	orch := orchestrator.New(deps)

	log.Info().Msg("running startup reconciliation")
	reconciler := orchestrator.NewReconciler(orch)
	if err := reconciler.Run(ctx); err != nil {
		log.Error().Err(err).Msg("startup reconciliation encountered an error, continuing")
	}

	autoStart, err := settingsRepo.Get(ctx, "auto_start_queue", "true")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read auto_start_queue setting")
	}

	if autoStart == "true" {
		go orch.Run(ctx)
		log.Info().Msg("driver loop started")
	} else {
		log.Info().Msg("auto_start_queue is false, driver loop not started")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down orchestrator")
	orch.Stop()
	cancel()

	done := make(chan struct{})
	go func() {
		orch.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("orchestrator shutdown complete")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("orchestrator shutdown timeout, resume monitors abandoned")
	}

	log.Info().Msg("orchestrator exited")
}

// applyTunables overlays the settings-table tunables onto the
// environment-derived config. The environment only bootstraps what must
// exist before the Store is open; these keys are the authority after.
func applyTunables(ctx context.Context, settings *database.SettingsRepository, cfg *config.Config) {
	overlay := []struct {
		key  string
		dest *time.Duration
	}{
		{"driver_poll_interval_seconds", &cfg.DriverPollInterval},
		{"status_poll_interval_seconds", &cfg.StatusPollInterval},
		{"queue_idle_wait_seconds", &cfg.QueueIdleWait},
		{"segment_exec_timeout_seconds", &cfg.SegmentExecTimeout},
		{"renderer_reconnect_wait_seconds", &cfg.RendererReconnectWait},
	}
	for _, o := range overlay {
		raw, err := settings.Get(ctx, o.key, "")
		if err != nil {
			log.Warn().Err(err).Str("key", o.key).Msg("failed to read tunable, keeping default")
			continue
		}
		if raw == "" {
			continue
		}
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			log.Warn().Str("key", o.key).Str("value", raw).Msg("invalid tunable, keeping default")
			continue
		}
		*o.dest = time.Duration(secs) * time.Second
	}
}
