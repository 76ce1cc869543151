package decoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

// zbarimg exits 4 when the image was processed but held no symbols.
const zbarNoSymbols = 4

var zbarSymbolLine = regexp.MustCompile(`^(QR-Code|SQ-Code|EAN-13|EAN-8|EAN-5|EAN-2|UPC-A|UPC-E|ISBN-10|ISBN-13|I2/5|CODE-39|CODE-93|CODE-128|Codabar|DataBar|DataBar-Exp|PDF417):(.*)$`)

// Zbar shells out to the zbarimg tool from the zbar suite.
type Zbar struct {
	path string
}

// NewZbar returns a zbar decoder running the binary at path.
func NewZbar(path string) *Zbar {
	if path == "" {
		path = "zbarimg"
	}
	return &Zbar{path: path}
}

func (*Zbar) Name() string { return "zbar" }

// Available reports whether the zbarimg binary can be found.
func (z *Zbar) Available() bool {
	_, err := exec.LookPath(z.path)
	return err == nil
}

func (z *Zbar) Decode(ctx context.Context, img image.Image) (*Result, error) {
	f, err := os.CreateTemp("", "barsight-*.png")
	if err != nil {
		return nil, fmt.Errorf("zbar: temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if err := png.Encode(f, img); err != nil {
		f.Close()
		return nil, fmt.Errorf("zbar: encode: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("zbar: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, z.path, "--quiet", f.Name())
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == zbarNoSymbols {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("zbar: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	res, ok := parseZbarOutput(stdout.String())
	if !ok {
		return nil, ErrNotFound
	}
	return res, nil
}

// parseZbarOutput returns the first symbol in zbarimg's "TYPE:payload"
// output. Payload lines without a type prefix belong to the preceding symbol.
func parseZbarOutput(out string) (*Result, bool) {
	var (
		res   *Result
		lines []string
	)
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if m := zbarSymbolLine.FindStringSubmatch(line); m != nil {
			if res != nil {
				break
			}
			res = &Result{Format: m[1], Decoder: "zbar"}
			lines = append(lines, m[2])
			continue
		}
		if res != nil {
			lines = append(lines, line)
		}
	}
	if res == nil {
		return nil, false
	}
	res.Text = strings.Join(lines, "\n")
	return res, true
}
