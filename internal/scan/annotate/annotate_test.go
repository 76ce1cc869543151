package annotate

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/barsight/internal/decoder"
	"github.com/example/barsight/internal/scan"
)

func TestTagAndColour(t *testing.T) {
	qr := scan.Region{Status: "zxing", Kind: decoder.KindQR, Content: "hello"}
	bar := scan.Region{Status: "zbar", Kind: decoder.KindBarcode, Content: "123"}
	none := scan.Region{Status: decoder.StatusFailed, Kind: decoder.KindUndecoded}

	assert.Equal(t, "QR | hello", Tag(qr))
	assert.Equal(t, "BARCODE | 123", Tag(bar))
	assert.Equal(t, "UNDECODED", Tag(none))

	assert.Equal(t, ColorQR, ColorFor(qr.Kind))
	assert.Equal(t, ColorBarcode, ColorFor(bar.Kind))
	assert.Equal(t, ColorUndecoded, ColorFor(none.Kind))
}

func TestDrawOutlinesRegions(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 200, 200))
	regions := []scan.Region{{
		Box:    image.Rect(50, 60, 150, 160),
		Status: "zxing",
		Kind:   decoder.KindQR,
	}}

	out := Draw(src, regions)
	require.Equal(t, src.Bounds(), out.Bounds())

	assert.Equal(t, ColorQR, out.RGBAAt(100, 60), "top edge")
	assert.Equal(t, ColorQR, out.RGBAAt(50, 100), "left edge")
	assert.Equal(t, uint8(0), out.RGBAAt(100, 110).G, "interior untouched")

	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, out))
	_, err := png.Decode(&buf)
	require.NoError(t, err)
}
