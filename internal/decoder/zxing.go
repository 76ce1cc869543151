package decoder

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// ZXing decodes with the gozxing port. QR is tried first since it is the
// most common symbol in the training set, then Data Matrix and the 1D
// symbologies.
type ZXing struct{}

// NewZXing returns a ZXing decoder.
func NewZXing() *ZXing { return &ZXing{} }

func (*ZXing) Name() string { return "zxing" }

func (*ZXing) Decode(ctx context.Context, img image.Image) (*Result, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("zxing: binarize: %w", err)
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	readers := []gozxing.Reader{
		qrcode.NewQRCodeReader(),
		datamatrix.NewDataMatrixReader(),
		oned.NewMultiFormatUPCEANReader(hints),
		oned.NewCode128Reader(),
		oned.NewCode39Reader(),
		oned.NewCode93Reader(),
		oned.NewITFReader(),
		oned.NewCodaBarReader(),
	}

	for _, r := range readers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := r.Decode(bmp, hints)
		if err == nil {
			return &Result{
				Text:    res.GetText(),
				Format:  res.GetBarcodeFormat().String(),
				Decoder: "zxing",
			}, nil
		}
		var rerr gozxing.ReaderException
		if !errors.As(err, &rerr) {
			return nil, fmt.Errorf("zxing: %w", err)
		}
	}
	return nil, ErrNotFound
}
