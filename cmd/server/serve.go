package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/editsuite/orchestrator/internal/api"
	"github.com/editsuite/orchestrator/internal/archive"
	"github.com/editsuite/orchestrator/internal/config"
	"github.com/editsuite/orchestrator/internal/logging"
	"github.com/editsuite/orchestrator/internal/pyservice"
	"github.com/editsuite/orchestrator/internal/storage"
	"github.com/editsuite/orchestrator/internal/transcription"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	shutdownTimeout   = 10 * time.Second
	stagingMaxAge     = 24 * time.Hour
	stagingSweepEvery = time.Hour
)

func runServer(cmdCtx context.Context, opts config.Options, out io.Writer) error {
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(opts)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	hub := logging.NewStreamHub(cfg.Logs.BufferSize)
	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Development: cfg.IsDevelopment(),
	}, hub)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	var logArchive *archive.Archive
	if cfg.Archive.Path != "" {
		logArchive, err = archive.Open(cfg.Archive.Path, logger)
		if err != nil {
			logger.Warn("log archive disabled", zap.String("path", cfg.Archive.Path), zap.Error(err))
			logArchive = nil
		} else {
			hub.AddSink(logArchive)
			defer logArchive.Close()
		}
	}

	store, err := storage.NewLocalStore(cfg.Upload.StagingDir)
	if err != nil {
		return fmt.Errorf("init staging store: %w", err)
	}
	go sweepStaging(ctx, store, logger)

	chatbot := pyservice.NewClient("chatbot", cfg.Services.Chatbot, cfg.APITimeout(), logger)
	transcribe := pyservice.NewClient("transcribe", cfg.Services.Transcribe, cfg.APITimeout(), logger)
	transcriptionAPI := pyservice.NewClient("transcription-api", cfg.Services.TranscriptionAPI, cfg.APITimeout(), logger)

	bin, args := cfg.RuntimeArgs()
	runtime := transcription.NewRuntime(cfg.Services.TranscriptionAPI, bin, args, logger,
		transcription.WithWorkDir(cfg.Runtime.WorkDir),
		transcription.WithLockFile(cfg.Runtime.LockFile),
	)

	serviceOpts := []transcription.ServiceOption{transcription.WithUploadTimeout(cfg.UploadTimeout())}
	deps := &api.Dependencies{
		Config:     cfg,
		Version:    Version,
		Logger:     logger,
		Hub:        hub,
		Store:      store,
		Chatbot:    chatbot,
		Transcribe: transcribe,
	}
	if logArchive != nil {
		serviceOpts = append(serviceOpts, transcription.WithUploadRecorder(logArchive))
		deps.Archive = logArchive
	}
	deps.Transcription = transcription.NewService(runtime, transcriptionAPI, transcribe, logger, serviceOpts...)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	api.SetupMiddleware(e, cfg, logger)
	api.RegisterRoutes(e, api.NewHandlers(deps))

	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := e.StartServer(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	printBanner(out, cfg, e)
	logger.Info("Orchestrator started",
		zap.Int("port", cfg.Server.Port),
		zap.String("environment", cfg.Server.Environment),
		zap.String("version", Version))

	if cfg.Runtime.AutoStart {
		go func() {
			if err := runtime.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("Transcription API did not start; retry with POST /api/transcribe/start", zap.Error(err))
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-serveErr:
		logger.Error("HTTP server failed", zap.Error(runErr))
	}

	runtime.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	logger.Info("Orchestrator stopped")
	return runErr
}

func sweepStaging(ctx context.Context, store *storage.LocalStore, logger *zap.Logger) {
	ticker := time.NewTicker(stagingSweepEvery)
	defer ticker.Stop()
	for {
		if n := store.PurgeOlderThan(stagingMaxAge); n > 0 {
			logger.Info("Removed stale staged uploads", zap.Int("count", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func printBanner(out io.Writer, cfg *config.Config, e *echo.Echo) {
	if out == nil {
		out = os.Stdout
	}
	routes := api.Routes(e)
	sort.Strings(routes)

	fmt.Fprintf(out, "\n")
	fmt.Fprintf(out, "╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(out, "║           Editing Suite Orchestrator                      ║\n")
	fmt.Fprintf(out, "╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Fprintf(out, "║  Version:     %-44s║\n", Version)
	fmt.Fprintf(out, "║  Build Time:  %-44s║\n", BuildTime)
	fmt.Fprintf(out, "║  Environment: %-44s║\n", cfg.Server.Environment)
	fmt.Fprintf(out, "║  Listen:      http://localhost:%-27d║\n", cfg.Server.Port)
	fmt.Fprintf(out, "╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Fprintf(out, "\nEndpoints:\n")
	for _, r := range routes {
		fmt.Fprintf(out, "  %s\n", r)
	}
	fmt.Fprintf(out, "\n")
}
