package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/barsight/internal/events"
	"github.com/example/barsight/internal/pipeline"
)

func newPipelineCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Batch extract, decode, load and evaluate",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the four pipeline stages once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(func(ctx context.Context, pl *pipeline.Pipeline) error {
				runID, err := pl.Run(ctx, "cli")
				if err != nil {
					return err
				}
				logger.Info("pipeline run complete", zap.String("run_id", runID))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Run the pipeline whenever new images land in the input directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(func(ctx context.Context, pl *pipeline.Pipeline) error {
				w := pipeline.NewWatcher(cfg.Pipeline.InputDir, cfg.Pipeline.WatchDebounce, pl, logger)
				if err := w.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	})

	return cmd
}

// withPipeline wires a pipeline for a CLI run and cancels it on SIGINT/SIGTERM.
func withPipeline(fn func(ctx context.Context, pl *pipeline.Pipeline) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, repo, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB(db, logger)

	det, err := initDetector(ctx, cfg.Detector, logger)
	if err != nil {
		return err
	}
	defer det.Close()

	pl, err := newPipeline(cfg, det, buildChain(cfg.Decoder, logger), repo, events.Nop{}, logger)
	if err != nil {
		return err
	}
	return fn(ctx, pl)
}
