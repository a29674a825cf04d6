package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	h "github.com/veranemoloko/model-downloader/internal/api/http"
	cfgpkg "github.com/veranemoloko/model-downloader/internal/config"
	"github.com/veranemoloko/model-downloader/internal/digest"
	"github.com/veranemoloko/model-downloader/internal/events"
	"github.com/veranemoloko/model-downloader/internal/keepalive"
	"github.com/veranemoloko/model-downloader/internal/metrics"
	"github.com/veranemoloko/model-downloader/internal/notify"
	repo "github.com/veranemoloko/model-downloader/internal/repository"
	svc "github.com/veranemoloko/model-downloader/internal/service"
	"github.com/veranemoloko/model-downloader/internal/storage"
	"github.com/veranemoloko/model-downloader/internal/validation"
	"github.com/veranemoloko/model-downloader/internal/worker"
)

func main() {
	cfg, err := cfgpkg.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfgpkg.SetupLogger(cfg)
	logger.Info("configuration loaded successfully", "wake_lock_mode", cfg.WakeLockMode, "download_dir", cfg.DownloadDir)

	// The host context doubles as the execution context of the background
	// task: once it is cancelled the controller releases its wake lock.
	hostCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var locker keepalive.Locker
	switch cfg.WakeLockMode {
	case cfgpkg.WakeLockSysfs:
		locker = keepalive.NewSysfsLocker(cfg.WakeLockPath, cfg.WakeUnlockPath)
	default:
		locker = keepalive.NewMemoryLocker()
	}

	board := notify.NewBoard()
	bridge := events.NewBridge(logger.With("component", "events"))
	bridge.Subscribe(metrics.ProgressObserver{})
	bridge.Subscribe(events.LogObserver{Logger: logger.With("component", "progress")})

	controller := svc.NewBackgroundController(hostCtx, locker, board, bridge, svc.ControllerConfig{
		WakeLockTag:     cfg.WakeLockTag,
		WakeLockTimeout: cfg.WakeLockTimeout,
		Notification: notify.Template{
			ID:    cfg.NotificationID,
			Title: cfg.NotificationTitle,
			Body:  cfg.NotificationBody,
		},
	}, logger.With("component", "controller"))

	verifier := digest.New(cfg.DigestAlgorithm,
		digest.WithChunkSize(cfg.DigestChunkSize),
		digest.WithLogger(logger.With("component", "digest")),
	)

	logger.Info("digest verifier configured", "algorithm", verifier.Algorithm(), "chunk_size", cfg.DigestChunkSize)

	fileStorage := storage.NewFileStorage(cfg.DownloadDir)
	if err := fileStorage.EnsureDir(); err != nil {
		logger.Error("failed to prepare download directory", "error", err)
		os.Exit(1)
	}

	downloadWorker := worker.NewDownloadWorker(fileStorage, &http.Client{Timeout: cfg.DownloadTimeout}, logger.With("component", "worker"))

	fetchService := svc.NewFetchService(repo.NewJobStorage(), fileStorage, downloadWorker, verifier, controller, svc.FetchConfig{
		MaxRetries:         cfg.MaxRetries,
		RetryDelay:         cfg.RetryDelay,
		StorageBufferRatio: cfg.StorageBufferRatio,
		SkipExisting:       cfg.SkipExisting,
		ProgressRate:       cfg.ProgressRate,
		QueueSize:          cfg.QueueSize,
	}, logger.With("component", "fetch"))

	router := h.NewRouter(h.Handlers{
		Task:   h.NewTaskHandler(controller, board, logger),
		Digest: h.NewDigestHandler(verifier, fileStorage.Dir(), logger),
		Models: h.NewModelHandler(fetchService, validation.New(cfg.AllowPrivateHosts), logger),
		Events: h.NewEventsHandler(bridge, logger),
	}, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.HTTPTimeout,
		WriteTimeout: cfg.HTTPTimeout,
		IdleTimeout:  cfg.HTTPTimeout,
	}

	go func() {
		logger.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-hostCtx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	} else {
		logger.Info("server stopped gracefully")
	}

	if err := fetchService.Shutdown(shutdownCtx); err != nil {
		logger.Error("fetch service shutdown failed", "error", err)
	}

	if err := controller.Stop(); err != nil {
		logger.Error("background task cleanup failed", "error", err)
	}
	bridge.Close()
}
