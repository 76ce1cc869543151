// Package scan ties detection and decoding together for one image.
package scan

import (
	"context"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/example/barsight/internal/decoder"
	"github.com/example/barsight/internal/detector"
)

// Placeholders written for regions nothing could read.
const (
	UndecodedContent = "(undecoded)"
	UnknownType      = "UNKNOWN"
	// FullImageID marks the region produced by the whole-image fallback.
	FullImageID = "full_image"
)

// Region is one detected area and what the decoders made of it.
type Region struct {
	BBoxID     string          `json:"bbox_id"`
	Source     string          `json:"source"`
	Box        image.Rectangle `json:"box"`
	Confidence float32         `json:"confidence"`
	Content    string          `json:"content"`
	Type       string          `json:"type"`
	Decoder    string          `json:"decoder,omitempty"`
	Status     string          `json:"status"`
	Kind       string          `json:"kind"`
}

// Decoded reports whether a decoder read this region.
func (r Region) Decoded() bool {
	return decoder.IsSuccessStatus(r.Status)
}

// Outcome is everything learned from one image.
type Outcome struct {
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	Regions  []Region      `json:"regions"`
	Fallback *Region       `json:"fallback,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Primary returns the first decoded region, then the full-image fallback.
// When nothing decoded it returns nil.
func (o *Outcome) Primary() *Region {
	for i := range o.Regions {
		if o.Regions[i].Decoded() {
			return &o.Regions[i]
		}
	}
	if o.Fallback != nil && o.Fallback.Decoded() {
		return o.Fallback
	}
	return nil
}

// Status is the tag recorded for the image as a whole: the winning
// decoder's name when something decoded. Otherwise the full-image fallback's
// tag when the fallback ran, even if a region saw a decoder error; without a
// fallback, the first region tagged with a decoder error, else FAILED.
func (o *Outcome) Status() string {
	if p := o.Primary(); p != nil {
		return p.Status
	}
	if o.Fallback != nil {
		return o.Fallback.Status
	}
	for _, r := range o.Regions {
		if r.Status != decoder.StatusFailed {
			return r.Status
		}
	}
	return decoder.StatusFailed
}

// DecodedCount is the number of regions that decoded.
func (o *Outcome) DecodedCount() int {
	n := 0
	for _, r := range o.Regions {
		if r.Decoded() {
			n++
		}
	}
	return n
}

// Options control crop geometry.
type Options struct {
	Padding      int
	ResizeFactor float64
	// FullImageFallback runs the decoders over the whole image when no
	// detected region decoded.
	FullImageFallback bool
	// FirstOnly stops after the first decoded region.
	FirstOnly bool
}

// Scanner runs detection then decoding on every region.
type Scanner struct {
	detector detector.Detector
	chain    *decoder.Chain
	opts     Options
	logger   *zap.Logger
}

// NewScanner builds a Scanner.
func NewScanner(det detector.Detector, chain *decoder.Chain, opts Options, logger *zap.Logger) *Scanner {
	if opts.ResizeFactor <= 0 {
		opts.ResizeFactor = 1
	}
	return &Scanner{detector: det, chain: chain, opts: opts, logger: logger.Named("scanner")}
}

// Scan detects regions in img and decodes each.
func (s *Scanner) Scan(ctx context.Context, img image.Image) (*Outcome, error) {
	start := time.Now()
	b := img.Bounds()
	out := &Outcome{Width: b.Dx(), Height: b.Dy()}

	dets, err := s.detector.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	for i, det := range dets {
		crop := PadBox(det.Box, s.opts.Padding, b)
		if crop.Empty() {
			continue
		}

		region := Region{
			BBoxID:     fmt.Sprintf("bbox_%d", i+1),
			Source:     det.Label,
			Box:        det.Box,
			Confidence: det.Confidence,
		}
		res, err := s.chain.Decode(ctx, s.prepare(img, crop))
		if err != nil {
			return nil, err
		}
		fill(&region, res)
		out.Regions = append(out.Regions, region)

		if s.opts.FirstOnly && region.Decoded() {
			break
		}
	}

	if s.opts.FullImageFallback && out.Primary() == nil {
		res, err := s.chain.Decode(ctx, img)
		if err != nil {
			return nil, err
		}
		fb := Region{BBoxID: FullImageID, Source: FullImageID, Box: b}
		fill(&fb, res)
		out.Fallback = &fb
	}

	out.Elapsed = time.Since(start)
	s.logger.Debug("scan complete",
		zap.Int("regions", len(out.Regions)),
		zap.Int("decoded", out.DecodedCount()),
		zap.String("status", out.Status()),
		zap.Duration("elapsed", out.Elapsed))
	return out, nil
}

func (s *Scanner) prepare(img image.Image, crop image.Rectangle) image.Image {
	cropped := imaging.Crop(img, crop)
	if s.opts.ResizeFactor == 1 {
		return cropped
	}
	w := int(math.Round(float64(crop.Dx()) * s.opts.ResizeFactor))
	h := int(math.Round(float64(crop.Dy()) * s.opts.ResizeFactor))
	return imaging.Resize(cropped, w, h, imaging.Lanczos)
}

func fill(r *Region, res *decoder.Outcome) {
	r.Status = res.Status
	r.Kind = decoder.Kind(res.Result)
	if res.Decoded() {
		r.Content = res.Result.Text
		r.Type = res.Result.Format
		r.Decoder = res.Result.Decoder
		return
	}
	r.Content = UndecodedContent
	r.Type = UnknownType
}

// PadBox grows box by pad pixels on each side and clamps it to bounds.
func PadBox(box image.Rectangle, pad int, bounds image.Rectangle) image.Rectangle {
	return image.Rect(box.Min.X-pad, box.Min.Y-pad, box.Max.X+pad, box.Max.Y+pad).Intersect(bounds)
}
