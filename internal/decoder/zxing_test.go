package decoder

import (
	"context"
	"errors"
	"image"
	"image/draw"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// quietZone copies a symbol onto a white canvas with a margin.
func quietZone(src image.Image, margin int) image.Image {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx()+2*margin, b.Dy()+2*margin))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, b.Add(image.Pt(margin, margin)), src, b.Min, draw.Src)
	return dst
}

func TestZXingDecodesQR(t *testing.T) {
	matrix, err := qrcode.NewQRCodeWriter().Encode("https://example.com/item/42", gozxing.BarcodeFormat_QR_CODE, 240, 240, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	res, err := NewZXing().Decode(context.Background(), quietZone(matrix, 20))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Text != "https://example.com/item/42" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if res.Format != "QR_CODE" || Kind(res) != KindQR {
		t.Fatalf("unexpected format %q", res.Format)
	}
}

func TestZXingDecodesCode128(t *testing.T) {
	matrix, err := oned.NewCode128Writer().Encode("SKU-0042", gozxing.BarcodeFormat_CODE_128, 400, 100, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	res, err := NewZXing().Decode(context.Background(), quietZone(matrix, 20))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Text != "SKU-0042" || Kind(res) != KindBarcode {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestZXingBlankImageIsNotFound(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 120, 120))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	_, err := NewZXing().Decode(context.Background(), img)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
