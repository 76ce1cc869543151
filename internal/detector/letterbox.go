package detector

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// letterboxFill is the grey ultralytics pads with.
var letterboxFill = color.NRGBA{R: 114, G: 114, B: 114, A: 255}

// Transform records how a source image was mapped onto the model input.
type Transform struct {
	Scale   float64
	PadX    int
	PadY    int
	SrcSize image.Point
}

// Letterbox resizes img to fit a size×size square without distortion and
// pads the remainder with grey.
func Letterbox(img image.Image, size int) (*image.NRGBA, Transform) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	scale := math.Min(float64(size)/float64(w), float64(size)/float64(h))
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	resized := imaging.Resize(img, nw, nh, imaging.Linear)
	padX := (size - nw) / 2
	padY := (size - nh) / 2

	canvas := imaging.New(size, size, letterboxFill)
	canvas = imaging.Paste(canvas, resized, image.Pt(padX, padY))

	return canvas, Transform{Scale: scale, PadX: padX, PadY: padY, SrcSize: image.Pt(w, h)}
}

// Unletterbox maps a box given as centre/size in model-input pixels back to
// the source image, clamped to its bounds.
func (t Transform) Unletterbox(cx, cy, w, h float32) image.Rectangle {
	scale := t.Scale
	if scale == 0 {
		scale = 1
	}
	x1 := (float64(cx-w/2) - float64(t.PadX)) / scale
	y1 := (float64(cy-h/2) - float64(t.PadY)) / scale
	x2 := (float64(cx+w/2) - float64(t.PadX)) / scale
	y2 := (float64(cy+h/2) - float64(t.PadY)) / scale

	r := image.Rect(int(x1), int(y1), int(x2), int(y2))
	return r.Intersect(image.Rect(0, 0, t.SrcSize.X, t.SrcSize.Y))
}
