package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/barsight/internal/auth"
	"github.com/example/barsight/internal/events"
	"github.com/example/barsight/internal/handlers"
	"github.com/example/barsight/internal/scan"
	"github.com/example/barsight/internal/usecase"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the upload form, the operator API and the event stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	initCtx, cancel := context.WithTimeout(parent, 15*time.Second)
	defer cancel()

	db, repo, err := initDatabase(initCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB(db, logger)

	redisCtx, redisCancel := context.WithTimeout(initCtx, 5*time.Second)
	defer redisCancel()
	redisClient, err := initRedis(redisCtx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	det, err := initDetector(initCtx, cfg.Detector, logger)
	if err != nil {
		return err
	}
	defer det.Close()
	chain := buildChain(cfg.Decoder, logger)

	// runs started over the API outlive the request that started them
	runCtx, stopRuns := context.WithCancel(context.Background())
	defer stopRuns()

	hub := events.NewHub(64)
	pl, err := newPipeline(cfg, det, chain, repo, hub, logger)
	if err != nil {
		return err
	}
	defer pl.Wait()

	scanner := scan.NewScanner(det, chain, scanOptions(cfg.Decoder, false), logger)
	uc := usecase.NewScanUseCase(repo, usecase.NewRedisCache(redisClient), scanner, cfg.Redis.ResultTTL, logger)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	r.MaxMultipartMemory = cfg.Server.MaxUploadBytes

	handlers.RegisterRoutes(r, handlers.Dependencies{
		Scans:          uc,
		Pipeline:       pl,
		Runs:           repo,
		Events:         hub,
		Auth:           auth.RequireOperator(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience),
		RunContext:     runCtx,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("barsight listening", zap.String("addr", cfg.Server.Addr))
	err = serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger)
	stopRuns()
	return err
}

func requestLogger(zapLogger *zap.Logger) gin.HandlerFunc {
	httpLogger := zapLogger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		httpLogger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
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
