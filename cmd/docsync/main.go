package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docsync/internal/app"
	"docsync/internal/config"
	"docsync/internal/database"
	"docsync/internal/httpapi"
	"docsync/internal/util"
	"docsync/pkg/archive"
	"docsync/pkg/events"
	"docsync/pkg/locker"
	"docsync/pkg/metrics"
	"docsync/pkg/processor"
	"docsync/pkg/remote"
	"docsync/pkg/staging"
	"docsync/pkg/store"
	"docsync/pkg/worker"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	registry, err := store.NewGormStore(db.DB)
	if err != nil {
		log.Fatalf("failed to init document store: %v", err)
	}

	stagingManager, err := staging.NewManager(cfg.StagingDir)
	if err != nil {
		log.Fatalf("failed to init staging area: %v", err)
	}

	driveOpts := []remote.DriveOption{}
	if cfg.DriveEndpoint != "" {
		driveOpts = append(driveOpts, remote.WithEndpoint(cfg.DriveEndpoint))
	}
	source := remote.NewDriveSource(driveOpts...)

	proc, err := processor.New(processor.Config{
		Provider: cfg.ProcessorProvider,
		BaseURL:  cfg.ProcessorURL,
		APIKey:   cfg.ProcessorAPIKey,
		Timeout:  time.Duration(cfg.ProcessorTimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("failed to init processor: %v", err)
	}

	m := metrics.New("docsync")

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			log.Fatalf("failed to connect event broker: %v", err)
		}
		publisher = amqpPublisher
	}
	defer publisher.Close()

	var archiver *archive.MinioArchive
	if cfg.ArchiveEnabled {
		archiver, err = archive.NewMinioArchive(
			cfg.MinioEndpoint,
			cfg.MinioAccessKey,
			cfg.MinioSecretKey,
			cfg.MinioBucket,
			cfg.MinioUseSSL,
		)
		if err != nil {
			log.Fatalf("failed to init archive: %v", err)
		}
	}

	var runLock locker.RunLock
	if cfg.RedisAddr != "" {
		runLock = locker.NewRedisRunLock(cfg.RedisAddr, cfg.RedisPassword)
	}

	workerCfg := worker.Config{
		Store:     registry,
		Staging:   stagingManager,
		Processor: proc,
		Recorder:  m,
		Notifier:  publisher,
		PageLimit: cfg.WorkerPageLimit,
		Delay:     time.Duration(cfg.WorkerDelaySeconds) * time.Second,
	}
	if archiver != nil {
		workerCfg.Archiver = archiver
	}
	w, err := worker.New(workerCfg)
	if err != nil {
		log.Fatalf("failed to init worker: %v", err)
	}

	appCfg := app.Config{
		Store:             registry,
		Staging:           stagingManager,
		Source:            source,
		Worker:            w,
		Locker:            runLock,
		Events:            publisher,
		Observer:          m,
		DownloadBatchSize: cfg.DownloadBatchSize,
		DownloadPause:     time.Duration(cfg.DownloadPauseSeconds) * time.Second,
		SchedulerInterval: time.Duration(cfg.SchedulerIntervalSeconds) * time.Second,
		StagingMaxAgeDays: cfg.StagingMaxAgeDays,
	}
	if archiver != nil {
		appCfg.ArchiveRemover = archiver
	}
	appCore, err := app.New(appCfg)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := httpapi.New(httpapi.Config{
		App:                   appCore,
		Metrics:               m,
		AdminJWTPublicKeyPath: cfg.AdminJWTPublicKeyPath,
		AdminJWTAudience:      cfg.AdminJWTAudience,
		RedisAddr:             cfg.RedisAddr,
		RedisPassword:         cfg.RedisPassword,
		SyncRequestsPerMinute: cfg.SyncRequestsPerMinute,
		TrustedProxyCIDRs:     cfg.TrustedProxyCIDRs,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	if cfg.SchedulerAutoStart {
		appCore.StartScheduler()
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("docsync server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("docsync server stopping")
	appCore.StopScheduler()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "err", err)
	}
}
