package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/KhaiMinhVo/rainvision-backend/internal/adapter/broadcast"
	"github.com/KhaiMinhVo/rainvision-backend/internal/adapter/feed"
	"github.com/KhaiMinhVo/rainvision-backend/internal/adapter/httpapi"
	"github.com/KhaiMinhVo/rainvision-backend/internal/adapter/imagestore"
	"github.com/KhaiMinhVo/rainvision-backend/internal/adapter/push"
	"github.com/KhaiMinhVo/rainvision-backend/internal/adapter/vision"
	"github.com/KhaiMinhVo/rainvision-backend/internal/config"
	"github.com/KhaiMinhVo/rainvision-backend/internal/notify"
	"github.com/KhaiMinhVo/rainvision-backend/internal/observability"
	"github.com/KhaiMinhVo/rainvision-backend/internal/scanner"
	"github.com/KhaiMinhVo/rainvision-backend/internal/store"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	st, err := store.Open(cfg.Database)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	// Image storage: cloud upload with a local disk fallback. The disk store
	// also backs the /images static route.
	disk, err := imagestore.NewDisk(cfg.ImageDir, logger)
	if err != nil {
		logger.Error("failed to create image directory", "error", err)
		os.Exit(1)
	}
	var primary imagestore.Store
	if cfg.ImageUploadURL != "" {
		primary = imagestore.NewCloud(cfg.ImageUploadURL, cfg.ImageUploadKey, cfg.FeedTimeout, logger)
		logger.Info("cloud image store enabled", "upload_url", cfg.ImageUploadURL)
	}
	images := imagestore.NewFallback(primary, disk, logger)

	// Classifier strategy.
	var classifier scanner.Classifier
	switch cfg.ClassifierMode {
	case config.ClassifierRemote:
		classifier = vision.NewRemoteClassifier(cfg.ModelURL, cfg.ModelTimeout, logger)
		logger.Info("remote classifier enabled", "model_url", cfg.ModelURL)
	default:
		classifier = vision.NewMockClassifier(0)
		logger.Warn("mock classifier enabled, verdicts are random")
	}

	// Notification delivery.
	var pusher notify.Pusher
	if cfg.FCMServerKey != "" {
		pusher = push.NewFCMClient(cfg.FCMServerKey, cfg.FeedTimeout, logger)
	}
	var emailer notify.Emailer
	if cfg.SMTPAddr != "" {
		emailer = push.NewSMTPEmailer(cfg.SMTPAddr, cfg.SMTPFrom, nil, logger)
	}
	dispatcher := notify.NewDispatcher(pusher, emailer, logger, metrics, clock, 256)

	// Real-time broadcast.
	var broadcaster scanner.Broadcaster
	var kafkaBroadcaster *broadcast.KafkaBroadcaster
	if cfg.BroadcastEnabled() {
		kafkaBroadcaster = broadcast.NewKafkaBroadcaster(cfg.KafkaBrokers, cfg.KafkaAlertTopic, logger)
		broadcaster = kafkaBroadcaster
		logger.Info("kafka broadcast enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaAlertTopic)
	} else {
		logger.Info("kafka broadcast disabled")
	}

	fetcher := feed.NewFetcher(cfg.FeedTimeout, cfg.FeedReferer, logger)
	pre := vision.NewPreprocessor(0, 0)

	runner := scanner.NewRunner(st, fetcher, pre, classifier, images, dispatcher, broadcaster,
		logger, metrics, clock, scanner.RunnerConfig{
			Concurrency:     cfg.MaxConcurrency,
			Cooldown:        cfg.AlertCooldown,
			ClearSampleRate: cfg.ClearSampleRate,
		})
	sweeper := scanner.NewSweeper(st, images, logger, metrics, clock, cfg.RetentionHorizon, cfg.SweepBatchSize)
	sched := scanner.NewScheduler(st, runner, sweeper, logger, metrics, clock, cfg.ScanInterval, cfg.OverlapRetry)

	srv := httpapi.NewServer(cfg.HTTPAddr, st, sched, disk.Dir(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := dispatcher.Run(ctx); err != nil {
			logger.Error("notification dispatcher error", "error", err)
		}
	}()

	go func() {
		if err := sched.Run(ctx); err != nil {
			logger.Error("scan scheduler error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if kafkaBroadcaster != nil {
		if err := kafkaBroadcaster.Close(); err != nil {
			logger.Error("kafka broadcaster close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
