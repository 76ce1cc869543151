// Package yolocv runs a YOLOv8 ONNX export through the OpenCV dnn module.
package yolocv

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/example/barsight/internal/detector"
)

// Detector owns an OpenCV network. A gocv.Net is not safe for concurrent
// use, so Detect calls are serialized.
type Detector struct {
	mu     sync.Mutex
	net    gocv.Net
	opts   detector.Options
	logger *zap.Logger
	closed bool
}

// New loads the ONNX model at modelPath.
func New(modelPath string, opts detector.Options, logger *zap.Logger) (*Detector, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: %v", detector.ErrNoModel, err)
	}
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("%w: opencv could not read %s", detector.ErrNoModel, modelPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, err
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, err
	}

	logger.Info("yolo model loaded",
		zap.String("model", modelPath),
		zap.Int("image_size", opts.ImageSize),
		zap.Strings("classes", opts.Classes))

	return &Detector{net: net, opts: opts, logger: logger.Named("yolocv")}, nil
}

// Detect runs one forward pass over img.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]detector.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input, tf := detector.Letterbox(img, d.opts.ImageSize)
	blob, err := inputBlob(input, d.opts.ImageSize)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, detector.ErrNoModel
	}
	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	d.mu.Unlock()
	defer out.Close()

	dims := out.Size()
	if len(dims) != 3 || dims[1] != 4+len(d.opts.Classes) {
		return nil, fmt.Errorf("unexpected output shape %v for %d classes", dims, len(d.opts.Classes))
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	dets, err := detector.ParseYOLOv8(data, dims[2], tf, d.opts)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("detections", zap.Int("count", len(dets)))
	return dets, nil
}

// Close releases the network.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.net.Close()
}

// inputBlob turns a letterboxed image into the NCHW float blob the model
// expects: RGB channel order, values scaled to [0,1].
func inputBlob(input *image.NRGBA, size int) (gocv.Mat, error) {
	// ImageToMatRGB lays pixels out as BGR, OpenCV's native order
	mat, err := gocv.ImageToMatRGB(input)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("convert image: %w", err)
	}
	defer mat.Close()

	return gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(size, size),
		gocv.NewScalar(0, 0, 0, 0), true, false), nil
}
