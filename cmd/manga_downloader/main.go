package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/italolelis/manga_downloader/internal/cleanup"
	"github.com/italolelis/manga_downloader/internal/config"
	"github.com/italolelis/manga_downloader/internal/download"
	"github.com/italolelis/manga_downloader/internal/downloader"
	"github.com/italolelis/manga_downloader/internal/engine"
	"github.com/italolelis/manga_downloader/internal/http/rest"
	"github.com/italolelis/manga_downloader/internal/logctx"
	"github.com/italolelis/manga_downloader/internal/module"
	"github.com/italolelis/manga_downloader/internal/module/mangadex"
	"github.com/italolelis/manga_downloader/internal/notifier"
	"github.com/italolelis/manga_downloader/internal/scheduler"
	"github.com/italolelis/manga_downloader/internal/semaphore"
	"github.com/italolelis/manga_downloader/internal/storage"
	"github.com/italolelis/manga_downloader/internal/storage/sqlite"
	"github.com/italolelis/manga_downloader/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	logger := slog.New(logctx.NewTraceHandler(handler))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("manga downloader starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	repo := sqlite.NewInstrumentedDownloadRepository(database, tel)

	// =========================================================================
	// Restore State
	option := download.NewOption()
	option.SetSanitizeReplacement(cfg.SanitizeReplacement)

	state := engine.NewState(module.NewRegistry(), option)

	restored, err := storage.LoadDownloads(ctx, repo, state.Registry(), storage.WithPollInterval(cfg.ModulePollInterval))
	if err != nil {
		return fmt.Errorf("failed to restore downloads: %w", err)
	}

	state.Restore(restored...)

	mirror := storage.NewMirror(repo)
	mirror.Attach(state)

	// =========================================================================
	// Register Modules
	if err := registerModules(ctx, state, cfg, tel); err != nil {
		return err
	}

	// =========================================================================
	// Start Engine
	e := buildEngine(state, cfg, tel)

	// =========================================================================
	// Start Notification
	var downloadNotifier *notifier.DownloadNotifier
	if cfg.DiscordWebhookURL != "" {
		downloadNotifier = notifier.NewDownloadNotifier(&notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL})
		downloadNotifier.Attach(state)
	}

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, e, cfg, tel)

	// The mirror outlives the engine so the last status changes of stopping
	// downloads are written.
	mirrorCtx, stopMirror := context.WithCancel(context.WithoutCancel(ctx))
	defer stopMirror()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer stopMirror()

		return e.Run(gctx)
	})

	g.Go(func() error {
		return mirror.Run(mirrorCtx)
	})

	if downloadNotifier != nil {
		g.Go(func() error {
			defer downloadNotifier.Close()

			return downloadNotifier.Run(gctx)
		})
	}

	g.Go(func() error {
		cleanup.Run(gctx, cfg.DownloadDir, cfg.CleanupInterval, cfg.KeepPartialFor, tel)

		return nil
	})

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	logger.Info("waiting for downloads...",
		"download_dir", cfg.DownloadDir,
		"download_limit", cfg.DownloadLimit,
		"restored", len(restored),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func registerModules(ctx context.Context, state *engine.State, cfg *config.Config, tel *telemetry.Telemetry) error {
	logger := logctx.LoggerFromContext(ctx)

	if cfg.MangaDex.Enabled {
		client := mangadex.New(
			mangadex.WithAPIURL(cfg.MangaDex.APIURL),
			mangadex.WithRate(cfg.MangaDex.Rate),
			mangadex.WithLanguages(cfg.MangaDex.Languages...),
		)

		if err := state.PushModule(module.Instrument(client, tel)); err != nil {
			return fmt.Errorf("failed to register module %s: %w", client.Name(), err)
		}
	}

	for _, m := range state.Registry().Modules() {
		logger.Info("module registered", "module_name", m.Name(), "domain", module.DomainOf(m.Domain()))
	}

	return nil
}

func buildEngine(state *engine.State, cfg *config.Config, tel *telemetry.Telemetry) *engine.Engine {
	schedOption := scheduler.NewOption()
	schedOption.SetDownloadLimit(cfg.DownloadLimit)

	sched := scheduler.New(state, schedOption,
		scheduler.WithDebounce(cfg.SchedulerDebounce),
		scheduler.WithTelemetry(tel),
	)

	imageOpts := []downloader.ImageOption{
		downloader.WithRetryLimit(cfg.RetryLimit),
		downloader.WithReadTimeout(cfg.ReadTimeout),
		downloader.WithTelemetry(tel),
	}

	if cfg.MaxConcurrentImages > 0 {
		imageOpts = append(imageOpts, downloader.WithGate(semaphore.NewPriority(int(cfg.MaxConcurrentImages))))
	}

	images := downloader.NewImageDownloader(imageOpts...)
	runner := downloader.NewTaskRunner(downloader.NewTaskDownloader(downloader.NewChapterDownloader(images)), tel)

	return engine.New(state, sched, runner, cfg.DownloadDir)
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, e *engine.Engine, cfg *config.Config, tel *telemetry.Telemetry) *http.Server {
	handler := rest.NewDownloadHandler(e, cfg.API.Username, cfg.API.Password)

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      rest.NewRouter(handler, tel),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
