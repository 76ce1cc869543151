package grpcclient

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/example/barsight/internal/detector"
	"github.com/example/barsight/internal/logging"
)

// DialDetector returns a detector backed by a remote YOLO inference sidecar.
func DialDetector(ctx context.Context, addr string, opts detector.Options, timeout time.Duration, logger *zap.Logger, dialOpts ...grpc.DialOption) (*RemoteDetector, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	options := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
		grpc.WithBlock(),
	}, dialOpts...)

	conn, err := grpc.DialContext(dialCtx, addr, options...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_detector", "", err)
		logger.Error("failed to dial detector", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	}
	return &RemoteDetector{conn: conn, opts: opts, timeout: timeout, logger: logger.Named("grpc_detector")}, nil
}

// RemoteDetector implements detector.Detector over gRPC.
type RemoteDetector struct {
	conn    *grpc.ClientConn
	opts    detector.Options
	timeout time.Duration
	logger  *zap.Logger
}

// Detect ships img as PNG and maps the returned boxes onto detections.
func (r *RemoteDetector) Detect(ctx context.Context, img image.Image) ([]detector.Detection, error) {
	requestID := uuid.NewString()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, logging.NewOperationError("grpcclient.encode_image", requestID, err)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	req := &DetectRequest{
		RequestID:  requestID,
		Image:      buf.Bytes(),
		Confidence: r.opts.Confidence,
		IoU:        r.opts.IoU,
		ImageSize:  r.opts.ImageSize,
	}
	var resp DetectResponse
	if err := r.conn.Invoke(ctx, DetectMethod, req, &resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.detect", requestID, err)
		r.logger.Error("detector call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	bounds := img.Bounds()
	dets := make([]detector.Detection, 0, len(resp.Boxes))
	for _, b := range resp.Boxes {
		if b.Confidence < r.opts.Confidence {
			continue
		}
		box := image.Rect(b.X1, b.Y1, b.X2, b.Y2).Intersect(bounds)
		if box.Empty() {
			continue
		}
		label := b.Label
		if label == "" {
			label = r.opts.Label(b.ClassID)
		}
		dets = append(dets, detector.Detection{
			Box:        box,
			Confidence: b.Confidence,
			ClassID:    b.ClassID,
			Label:      label,
		})
	}
	return dets, nil
}

// Close tears down the connection.
func (r *RemoteDetector) Close() error {
	return r.conn.Close()
}
