// Package annotate draws scan results onto the source image.
package annotate

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/example/barsight/internal/decoder"
	"github.com/example/barsight/internal/scan"
)

// Box colours: red for 1D barcodes, green for QR, yellow when unread.
var (
	ColorBarcode   = color.RGBA{R: 255, A: 255}
	ColorQR        = color.RGBA{G: 255, A: 255}
	ColorUndecoded = color.RGBA{R: 255, G: 255, A: 255}
)

// ColorFor picks the box colour for a region kind.
func ColorFor(kind string) color.RGBA {
	switch kind {
	case decoder.KindQR:
		return ColorQR
	case decoder.KindBarcode:
		return ColorBarcode
	default:
		return ColorUndecoded
	}
}

// Tag is the caption drawn above a region.
func Tag(r scan.Region) string {
	if !r.Decoded() {
		return decoder.KindUndecoded
	}
	return r.Kind + " | " + r.Content
}

// Draw returns a copy of img with every region outlined and captioned.
// Line thickness and text size grow with the image.
func Draw(img image.Image, regions []scan.Region) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)

	short := b.Dx()
	if b.Dy() < short {
		short = b.Dy()
	}
	thickness := short/600 + 2
	textScale := short / 400
	if textScale < 1 {
		textScale = 1
	}

	for _, r := range regions {
		c := ColorFor(r.Kind)
		box := r.Box.Sub(b.Min)
		rectangle(out, box, c, thickness)

		y := box.Min.Y - 10
		if y < 25 {
			y = 25
		}
		caption(out, Tag(r), image.Pt(box.Min.X, y), c, textScale)
	}
	return out
}

// EncodePNG writes the annotated image as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

func rectangle(dst draw.Image, r image.Rectangle, c color.Color, t int) {
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t),
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y),
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

// caption renders text with its baseline at pt, scaled up by an integer
// factor since basicfont is a fixed 7x13 bitmap face.
func caption(dst draw.Image, text string, pt image.Point, c color.Color, scale int) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	if width == 0 {
		return
	}
	height := face.Height

	layer := image.NewRGBA(image.Rect(0, 0, width, height))
	d := &font.Drawer{
		Dst:  layer,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(text)

	var scaled image.Image = layer
	if scale > 1 {
		scaled = imaging.Resize(layer, width*scale, height*scale, imaging.NearestNeighbor)
	}
	origin := image.Pt(pt.X, pt.Y-face.Ascent*scale)
	draw.Draw(dst, scaled.Bounds().Add(origin), scaled, image.Point{}, draw.Over)
}
