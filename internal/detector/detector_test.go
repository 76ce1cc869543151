package detector

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLetterboxKeepsAspectRatio(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 1920, 960))
	out, tf := Letterbox(src, 960)

	assert.Equal(t, image.Rect(0, 0, 960, 960), out.Bounds())
	assert.InDelta(t, 0.5, tf.Scale, 1e-9)
	assert.Equal(t, 0, tf.PadX)
	assert.Equal(t, 240, tf.PadY)
	assert.Equal(t, image.Pt(1920, 960), tf.SrcSize)

	// padding rows carry the fill colour
	assert.Equal(t, letterboxFill, out.NRGBAAt(10, 10))
	assert.Equal(t, color.NRGBA{}, out.NRGBAAt(10, 480))
}

func TestUnletterboxMapsBackAndClamps(t *testing.T) {
	tf := Transform{Scale: 0.5, PadX: 0, PadY: 240, SrcSize: image.Pt(1920, 960)}

	// a 100x50 box centred at (300, 400) in model space
	got := tf.Unletterbox(300, 400, 100, 50)
	assert.Equal(t, image.Rect(500, 270, 700, 370), got)

	// a box hanging off the left edge is clamped
	got = tf.Unletterbox(10, 480, 100, 100)
	assert.Equal(t, 0, got.Min.X)
}

// output builds a [4+nc, n] tensor from per-anchor rows.
func output(rows [][]float32) []float32 {
	n := len(rows)
	width := len(rows[0])
	out := make([]float32, width*n)
	for i, r := range rows {
		for f, v := range r {
			out[f*n+i] = v
		}
	}
	return out
}

func TestParseYOLOv8FiltersAndSuppresses(t *testing.T) {
	opts := DefaultOptions()
	tf := Transform{Scale: 1, SrcSize: image.Pt(960, 960)}

	data := output([][]float32{
		// cx, cy, w, h, barcode, qr
		{100, 100, 80, 40, 0.90, 0.05}, // kept
		{102, 101, 80, 40, 0.70, 0.10}, // overlaps the first, same class
		{500, 500, 60, 60, 0.10, 0.85}, // qr, kept
		{502, 500, 60, 60, 0.60, 0.20}, // overlaps qr but different class
		{800, 800, 50, 50, 0.20, 0.30}, // below threshold
	})

	dets, err := ParseYOLOv8(data, 5, tf, opts)
	require.NoError(t, err)
	require.Len(t, dets, 3)

	assert.Equal(t, "barcode", dets[0].Label)
	assert.InDelta(t, 0.90, dets[0].Confidence, 1e-6)
	assert.Equal(t, image.Rect(60, 80, 140, 120), dets[0].Box)

	assert.Equal(t, "qr", dets[1].Label)
	assert.Equal(t, 1, dets[1].ClassID)

	assert.Equal(t, "barcode", dets[2].Label)
	assert.InDelta(t, 0.60, dets[2].Confidence, 1e-6)
}

func TestParseYOLOv8RejectsShortOutput(t *testing.T) {
	_, err := ParseYOLOv8(make([]float32, 10), 5, Transform{Scale: 1}, DefaultOptions())
	assert.Error(t, err)
}

func TestLabelFallsBackToClassID(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, "qr", opts.Label(1))
	assert.Equal(t, "class_7", opts.Label(7))
}
