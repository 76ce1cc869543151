// Package detector locates barcode and QR-code regions in an image.
//
// The YOLO pre- and post-processing lives here in plain Go so that both the
// local OpenCV backend (package yolocv) and the remote sidecar client
// (package grpcclient) return identical Detection values.
package detector

import (
	"context"
	"errors"
	"image"
	"strconv"
)

// ErrNoModel is returned when a backend has no model to run.
var ErrNoModel = errors.New("detector: model not loaded")

// Detection is a single candidate region in source-image pixel coordinates.
type Detection struct {
	Box        image.Rectangle `json:"box"`
	Confidence float32         `json:"confidence"`
	ClassID    int             `json:"class_id"`
	Label      string          `json:"label"`
}

// Detector finds code regions in an image.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
	Close() error
}

// Options tune detection.
type Options struct {
	Confidence float32
	IoU        float32
	ImageSize  int
	Classes    []string
}

// DefaultOptions mirror the thresholds the model was trained and evaluated with.
func DefaultOptions() Options {
	return Options{
		Confidence: 0.4,
		IoU:        0.45,
		ImageSize:  960,
		Classes:    []string{"barcode", "qr"},
	}
}

// Label resolves a class id to its name, falling back to the numeric id.
func (o Options) Label(classID int) string {
	if classID >= 0 && classID < len(o.Classes) {
		return o.Classes[classID]
	}
	return "class_" + strconv.Itoa(classID)
}
