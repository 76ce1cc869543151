package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/barsight/internal/config"
	"github.com/example/barsight/internal/decoder"
	"github.com/example/barsight/internal/detector"
	"github.com/example/barsight/internal/detector/yolocv"
	"github.com/example/barsight/internal/events"
	"github.com/example/barsight/internal/grpcclient"
	"github.com/example/barsight/internal/pipeline"
	"github.com/example/barsight/internal/repository"
	"github.com/example/barsight/internal/scan"
)

func initDatabase(ctx context.Context, c *config.Config, zapLogger *zap.Logger) (*gorm.DB, *repository.Repository, error) {
	db, err := repository.Open(ctx, c.Database, c.Log.Level == "debug", zapLogger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	repo := repository.New(db, zapLogger)
	if err := repo.AutoMigrate(ctx); err != nil {
		return nil, nil, fmt.Errorf("auto migrate failed: %w", err)
	}
	return db, repo, nil
}

func initRedis(ctx context.Context, c config.RedisConfig, zapLogger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: c.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	zapLogger.Info("connected to redis", zap.String("addr", c.Addr))
	return client, nil
}

func detectorOptions(c config.DetectorConfig) detector.Options {
	return detector.Options{
		Confidence: c.Confidence,
		IoU:        c.IoU,
		ImageSize:  c.ImageSize,
		Classes:    c.Classes,
	}
}

func initDetector(ctx context.Context, c config.DetectorConfig, zapLogger *zap.Logger) (detector.Detector, error) {
	opts := detectorOptions(c)
	switch c.Backend {
	case config.BackendGRPC:
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return grpcclient.DialDetector(dialCtx, c.GRPCAddr, opts, c.Timeout, zapLogger)
	default:
		return yolocv.New(c.ModelPath, opts, zapLogger)
	}
}

// buildChain returns the decoders in configured order. A zbar decoder whose
// executable is missing is left out with a warning.
func buildChain(c config.DecoderConfig, zapLogger *zap.Logger) *decoder.Chain {
	var decoders []decoder.Decoder
	for _, name := range c.Order {
		switch name {
		case "zxing":
			decoders = append(decoders, decoder.NewZXing())
		case "zbar":
			z := decoder.NewZbar(c.ZbarPath)
			if !z.Available() {
				zapLogger.Warn("zbar executable not found, zbar fallback disabled", zap.String("path", c.ZbarPath))
				continue
			}
			decoders = append(decoders, z)
		}
	}
	chain := decoder.NewChain(zapLogger, decoders...)
	zapLogger.Info("decoder chain ready", zap.Strings("order", chain.Names()))
	return chain
}

func scanOptions(c config.DecoderConfig, firstOnly bool) scan.Options {
	return scan.Options{
		Padding:           c.Padding,
		ResizeFactor:      c.ResizeFactor,
		FullImageFallback: c.FullImageFallback,
		FirstOnly:         firstOnly,
	}
}

func initSource(c *config.Config, zapLogger *zap.Logger) (pipeline.Source, error) {
	if c.Pipeline.Source != config.SourceS3 {
		return pipeline.NewLocalSource(c.Pipeline.InputDir, zapLogger), nil
	}
	client, err := pipeline.NewS3Client(c.S3)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}
	return pipeline.NewS3Source(client, c.S3.Bucket, c.S3.Prefix, zapLogger), nil
}

// newPipeline builds the batch pipeline on top of an existing detector and
// chain. The batch scanner stops at the first decoded region per image.
func newPipeline(c *config.Config, det detector.Detector, chain *decoder.Chain, store pipeline.Store, pub events.Publisher, zapLogger *zap.Logger) (*pipeline.Pipeline, error) {
	source, err := initSource(c, zapLogger)
	if err != nil {
		return nil, err
	}
	if err := pipeline.EnsureDirs(c.Pipeline.RawDir, c.Pipeline.OutputDir); err != nil {
		return nil, fmt.Errorf("failed to prepare pipeline directories: %w", err)
	}
	scanner := scan.NewScanner(det, chain, scanOptions(c.Decoder, true), zapLogger)
	return pipeline.New(source, scanner, store, pub, pipeline.Options{
		RawDir:     c.Pipeline.RawDir,
		OutputDir:  c.Pipeline.OutputDir,
		ResultsCSV: c.Pipeline.ResultsCSV,
		Workers:    c.Pipeline.Workers,
		Retries:    c.Pipeline.Retries,
		RetryDelay: c.Pipeline.RetryDelay,
	}, zapLogger), nil
}

func closeDB(db *gorm.DB, zapLogger *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		zapLogger.Warn("failed to close database", zap.Error(err))
	}
}
