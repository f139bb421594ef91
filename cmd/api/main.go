package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ethos/api/internal/app"
	"ethos/api/internal/archive"
	"ethos/api/internal/config"
	"ethos/api/internal/export"
	"ethos/api/internal/gitrepo"
	"ethos/api/internal/governance"
	"ethos/api/internal/lock"
	"ethos/api/internal/logging"
	"ethos/api/internal/moderation"
	"ethos/api/internal/search"
	"ethos/api/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("ethos api stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	ctx := context.Background()

	dialect, err := store.ParseDialect(cfg.DBDriver)
	if err != nil {
		return err
	}
	db, err := store.Open(ctx, dialect, cfg.DSN())
	if err != nil {
		return err
	}
	defer db.Close()

	var locker lock.Locker = lock.NewLocal()
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisLock, err := lock.NewRedis(cfg.RedisURL, lock.DefaultKey, cfg.LockTTL)
		if err != nil {
			return err
		}
		defer redisLock.Close()
		locker = redisLock
		logger.Info("using redis commit lock")
	}

	if strings.TrimSpace(cfg.GroqAPIKey) == "" {
		logger.Warn("no moderation API key configured; every edit will fail until one is set")
	}
	gate := moderation.NewChatReviewer(moderation.Config{
		APIKey:  cfg.GroqAPIKey,
		BaseURL: cfg.ModerationBaseURL,
		Model:   cfg.ModerationModel,
		Timeout: cfg.ModerationTimeout,
	})

	engine := governance.New(db, gate, locker, logger)

	seed, err := governance.LoadSeed(cfg.SeedFile)
	if err != nil {
		return err
	}
	if _, err := engine.Bootstrap(ctx, seed); err != nil {
		return err
	}

	var meili search.Backend
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		meili = meiliClient
	}
	searchService := search.NewService(meili, db, logger)
	defer searchService.Close()
	searchService.ReindexAll(ctx)
	engine.Subscribe(searchService)

	deps := app.Deps{
		Engine:   engine,
		DB:       db,
		Searcher: searchService,
		Logger:   logger,
	}

	if strings.TrimSpace(cfg.MirrorDir) != "" {
		mirror := gitrepo.New(cfg.MirrorDir, logger)
		if err := mirror.Ensure(); err != nil {
			return err
		}
		entries, err := engine.History(ctx)
		if err != nil {
			return err
		}
		written, err := mirror.Backfill(entries)
		if err != nil {
			return err
		}
		if written > 0 {
			logger.Info("git mirror backfilled", "commits", written)
		}
		engine.Subscribe(mirror)
		deps.Mirror = mirror
	}

	exporter := export.NewService(engine, cfg.ChromePath)
	deps.Exporter = exporter

	var objects archive.ObjectStore
	if strings.TrimSpace(cfg.ArchiveEndpoint) != "" {
		minioStore, err := archive.NewMinioStore(archive.MinioConfig{
			Endpoint:  cfg.ArchiveEndpoint,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			Bucket:    cfg.ArchiveBucket,
			Region:    cfg.ArchiveRegion,
			Secure:    cfg.ArchiveSecure,
		})
		if err != nil {
			return err
		}
		bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = minioStore.EnsureBucket(bucketCtx)
		cancel()
		if err != nil {
			return err
		}
		objects = minioStore
	}
	deps.Archiver = archive.NewService(objects, engine, exporter, cfg.ArchivePrefix)

	httpServer := app.NewHTTPServer(app.NewService(deps), cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ethos api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-sigCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
	return nil
}
