package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/example/hijaiyah-api/internal/auth"
	"github.com/example/hijaiyah-api/internal/classifier"
	"github.com/example/hijaiyah-api/internal/config"
	"github.com/example/hijaiyah-api/internal/handlers"
	"github.com/example/hijaiyah-api/internal/logging"
	"github.com/example/hijaiyah-api/internal/storage"
	"github.com/example/hijaiyah-api/internal/usecase"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Usage:   "path to a YAML, JSON or TOML config file",
	EnvVars: []string{"HIJAIYAH_CONFIG"},
}

func main() {
	app := cli.NewApp()
	app.Name = "hijaiyah-api"
	app.Usage = "Hijaiyah handwriting prediction API"

	app.Flags = []cli.Flag{configFlag}
	app.Commands = []*cli.Command{
		serveCmd,
		fetchModelCmd,
	}
	app.DefaultCommand = serveCmd.Name

	app.RunAndExitOnError()
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the HTTP API",
	Flags: []cli.Flag{configFlag},
	Action: func(cctx *cli.Context) error {
		cfg, logger, err := setup(cctx)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		return run(cctx.Context, cfg, logger)
	},
}

var fetchModelCmd = &cli.Command{
	Name:  "fetch-model",
	Usage: "download the model artifact to model.path if it is missing",
	Flags: []cli.Flag{configFlag},
	Action: func(cctx *cli.Context) error {
		cfg, logger, err := setup(cctx)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		ctx, cancel := context.WithTimeout(cctx.Context, 5*time.Minute)
		defer cancel()

		closers := &closerStack{}
		defer closers.closeAll(logger)

		return ensureModel(ctx, cfg, logger, closers)
	},
}

func setup(cctx *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cctx.String(configFlag.Name))
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func run(parent context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(parent, time.Minute)
	defer cancel()

	closers := &closerStack{}
	defer closers.closeAll(logger)

	verifier, err := initVerifier(ctx, cfg, logger)
	if err != nil {
		return err
	}

	objects, err := initObjectStore(ctx, cfg, cfg.Storage.Bucket, closers)
	if err != nil {
		return err
	}

	if err := ensureModel(ctx, cfg, logger, closers); err != nil {
		return err
	}

	labels, err := classifier.LoadLabels(cfg.Model.LabelsPath)
	if err != nil {
		return err
	}
	model, err := initModel(ctx, cfg, len(labels), logger, closers)
	if err != nil {
		return err
	}
	cls, err := classifier.New(model, labels, cfg.Model.Threshold)
	if err != nil {
		return err
	}

	history, err := initHistoryStore(ctx, cfg, logger, closers)
	if err != nil {
		return err
	}

	cache, err := initCache(ctx, cfg.Redis, logger, closers)
	if err != nil {
		return err
	}

	uc := usecase.NewPredictionUseCase(
		cls,
		storage.NewArtifactStore(objects, logger),
		history,
		cache,
		logger,
		usecase.WithCallTimeout(cfg.HTTP.RequestTimeout),
		usecase.WithCacheTTL(cfg.History.CacheTTL),
		usecase.WithMaxImagePixels(cfg.HTTP.MaxImagePixels),
	)

	r := handlers.NewRouter(logger, cfg.HTTP.AllowedOrigins, cfg.HTTP.MaxUploadSize)
	handlers.RegisterRoutes(r, uc, auth.Middleware(verifier, logger), cfg.HTTP.MaxUploadSize)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("hijaiyah API listening",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("auth", cfg.Auth.Provider),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("history", cfg.History.Backend),
		zap.String("model", cfg.Model.Backend),
		zap.Int("labels", len(labels)))
	return serveHTTPServer(server, cfg.HTTP.ShutdownTimeout, logger)
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
