// Package decoder reads barcode and QR payloads from image crops.
package decoder

import (
	"context"
	"errors"
	"image"
	"strings"
	"unicode/utf8"
)

// ErrNotFound means the decoder ran cleanly but found no readable symbol.
var ErrNotFound = errors.New("decoder: no symbol found")

// Status tags recorded when nothing decodes.
const (
	StatusFailed = "FAILED"
	failedSuffix = "_FAILED"
)

// Code kinds shown to users.
const (
	KindQR        = "QR"
	KindBarcode   = "BARCODE"
	KindUndecoded = "UNDECODED"
)

// Result is a decoded payload.
type Result struct {
	Text    string `json:"text"`
	Format  string `json:"format"`
	Decoder string `json:"decoder"`
}

// Decoder reads at most one symbol from an image.
type Decoder interface {
	Name() string
	Decode(ctx context.Context, img image.Image) (*Result, error)
}

// NormalizeText makes decoder payloads printable: GS1 group separators
// become '|' and invalid UTF-8 is dropped.
func NormalizeText(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.ReplaceAll(s, "\x1d", "|")
}

// IsQR reports whether a format name from either decoder denotes a QR code.
func IsQR(format string) bool {
	return strings.Contains(strings.ToUpper(format), "QR")
}

// Kind classifies a result for display.
func Kind(r *Result) string {
	switch {
	case r == nil:
		return KindUndecoded
	case IsQR(r.Format):
		return KindQR
	default:
		return KindBarcode
	}
}

// FailedStatus is the tag recorded when decoder name errored and no other
// decoder produced a result.
func FailedStatus(name string) string {
	return name + failedSuffix
}

// IsSuccessStatus reports whether a recorded status names a decoder that
// produced a result.
func IsSuccessStatus(status string) bool {
	return status != "" && status != StatusFailed && !strings.HasSuffix(status, failedSuffix)
}
