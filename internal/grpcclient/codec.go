package grpcclient

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is negotiated as the content-subtype (application/grpc+json).
const codecName = "json"

// jsonCodec lets the detector sidecar speak plain JSON messages over gRPC so
// that the Python side does not need generated stubs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// DetectMethod is the full method name served by the sidecar.
const DetectMethod = "/barsight.Detector/Detect"

// DetectRequest is the request message for DetectMethod.
type DetectRequest struct {
	RequestID  string  `json:"request_id"`
	Image      []byte  `json:"image"`
	Confidence float32 `json:"confidence"`
	IoU        float32 `json:"iou"`
	ImageSize  int     `json:"image_size"`
}

// DetectResponse is the response message for DetectMethod.
type DetectResponse struct {
	Boxes []Box `json:"boxes"`
}

// Box is one detection in source-image pixels.
type Box struct {
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
	Confidence float32 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	Label      string  `json:"label,omitempty"`
}
