package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/barsight/internal/scan"
	"github.com/example/barsight/internal/scan/annotate"
)

type scanFlags struct {
	format   string
	annotate string
}

func newScanCommand() *cobra.Command {
	var flags scanFlags
	cmd := &cobra.Command{
		Use:   "scan <image>",
		Short: "Detect and decode every code in one image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), args[0], flags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&flags.format, "format", "f", "csv", "output format: csv or json")
	cmd.Flags().StringVarP(&flags.annotate, "annotate", "o", "", "write an annotated PNG to this path")
	return cmd
}

func runScan(ctx context.Context, path string, flags scanFlags, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if flags.format != "csv" && flags.format != "json" {
		return fmt.Errorf("unknown format %q", flags.format)
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	det, err := initDetector(ctx, cfg.Detector, logger)
	if err != nil {
		return err
	}
	defer det.Close()

	scanner := scan.NewScanner(det, buildChain(cfg.Decoder, logger), scanOptions(cfg.Decoder, false), logger)
	outcome, err := scanner.Scan(ctx, img)
	if err != nil {
		return err
	}

	regions := outcome.Regions
	if fb := outcome.Fallback; fb != nil && fb.Decoded() {
		regions = append(regions, *fb)
	}

	if flags.annotate != "" {
		if err := writeAnnotated(flags.annotate, annotate.Draw(img, regions)); err != nil {
			return err
		}
		logger.Info("annotated image written", zap.String("path", flags.annotate))
	}

	logger.Debug("scan finished",
		zap.String("file", filepath.Base(path)),
		zap.Int("regions", len(outcome.Regions)),
		zap.String("status", outcome.Status()),
		zap.Duration("elapsed", outcome.Elapsed))

	if flags.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(outcome)
	}
	return scan.WriteCSV(out, regions)
}

func writeAnnotated(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := annotate.EncodePNG(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
