package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"rasweb/internal/audit"
	"rasweb/internal/config"
	"rasweb/internal/controller"
	"rasweb/internal/dispatch"
	"rasweb/internal/images"
	"rasweb/internal/metrics"
	"rasweb/internal/pending"
	"rasweb/internal/server"
	"rasweb/internal/system"
	"rasweb/pkg/shell"
)

func main() {
	cfg, err := config.FromEnv()
	logger := server.Logger(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("bad configuration")
	}
	if err := run(cfg); err != nil {
		logger.Fatal().Err(err).Msg("rasweb exited")
	}
}

func run(cfg config.Config) error {
	logger := server.Logger(cfg)
	metrics.Init()

	runner := shell.Exec{Timeout: cfg.CommandTimeout}
	store := images.New(images.Options{
		Dir:               cfg.ImageDir,
		AllowedExtensions: cfg.AllowedExtensions,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		MaxCreateMB:       cfg.MaxCreateMB,
	}, *logger)
	ctl := controller.New(controller.Options{Binary: cfg.ControllerPath, ImageDir: cfg.ImageDir}, runner, store, *logger)
	svc := system.NewService(cfg.ServiceUnit, cfg.UseSudo, runner, *logger)
	host := system.NewHost(cfg.UseSudo, runner, *logger)

	deps := dispatch.Deps{
		Controller: ctl,
		Images:     store,
		Service:    svc,
		Host:       host,
		Pending:    pending.NewStore(cfg.ConfirmTTL),
		Logger:     *logger,
	}
	sdeps := server.Deps{Images: store, Host: host, Logger: logger}

	if cfg.AuditPath != "" {
		al, err := audit.Open(cfg.AuditPath, *logger)
		if err != nil {
			// the UI still works without history
			logger.Warn().Err(err).Str("path", cfg.AuditPath).Msg("audit log disabled")
		} else {
			defer al.Close()
			deps.Audit = al
			sdeps.Audit = al
		}
	}
	sdeps.Dispatcher = dispatch.New(deps)

	srv, err := server.New(cfg, sdeps)
	if err != nil {
		return err
	}
	hs := &http.Server{
		Addr:              cfg.Bind,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		logger.Info().Str("bind", cfg.Bind).Str("images", cfg.ImageDir).Str("version", metrics.Version).Msg("rasweb listening")
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	grp.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return hs.Shutdown(sctx)
	})
	return grp.Wait()
}
