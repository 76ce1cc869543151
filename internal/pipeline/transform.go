package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/barsight/internal/decoder"
	"github.com/example/barsight/internal/scan"
)

// ResultHeader is the column set of the results CSV.
var ResultHeader = []string{"filename", "barcode_type", "decoded_content", "decoder_used"}

// placeholder written for failed rows.
const noValue = "-"

// Row is one image's line in the results CSV.
type Row struct {
	Filename       string
	BarcodeType    string
	DecodedContent string
	DecoderUsed    string
}

// Succeeded reports whether a decoder produced this row.
func (r Row) Succeeded() bool {
	return decoder.IsSuccessStatus(r.DecoderUsed)
}

// ImageScanner is the detect-and-decode step.
type ImageScanner interface {
	Scan(ctx context.Context, img image.Image) (*scan.Outcome, error)
}

// RowFromOutcome reduces an image's outcome to its results row: the first
// decoded region wins.
func RowFromOutcome(filename string, o *scan.Outcome) Row {
	if p := o.Primary(); p != nil {
		return Row{Filename: filename, BarcodeType: p.Type, DecodedContent: p.Content, DecoderUsed: p.Status}
	}
	return Row{Filename: filename, BarcodeType: noValue, DecodedContent: noValue, DecoderUsed: o.Status()}
}

type transformer struct {
	scanner ImageScanner
	rawDir  string
	workers int
	logger  *zap.Logger
}

// transform scans every image in rawDir and returns rows ordered by filename.
// Images that cannot be read are skipped.
func (t *transformer) transform(ctx context.Context) ([]Row, error) {
	entries, err := os.ReadDir(t.rawDir)
	if err != nil {
		return nil, fmt.Errorf("read raw dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && IsImageFile(e.Name()) {
			names = append(names, e.Name())
		}
	}

	var (
		mu   sync.Mutex
		rows = make([]Row, 0, len(names))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for _, name := range names {
		name := name
		g.Go(func() error {
			img, err := imaging.Open(filepath.Join(t.rawDir, name), imaging.AutoOrientation(true))
			if err != nil {
				t.logger.Warn("skipping unreadable image", zap.String("filename", name), zap.Error(err))
				return nil
			}
			outcome, err := t.scanner.Scan(gctx, img)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			row := RowFromOutcome(name, outcome)
			t.logger.Debug("image processed", zap.String("filename", name), zap.String("decoder_used", row.DecoderUsed))

			mu.Lock()
			rows = append(rows, row)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Filename < rows[j].Filename })
	return rows, nil
}

// WriteRows writes the results CSV.
func WriteRows(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ResultHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.Filename, r.BarcodeType, r.DecodedContent, r.DecoderUsed}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadRows parses a results CSV written by WriteRows.
func ReadRows(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("results csv is empty")
	}
	header := records[0]
	if len(header) != len(ResultHeader) {
		return nil, fmt.Errorf("results csv header %v, want %v", header, ResultHeader)
	}
	for i, col := range ResultHeader {
		if header[i] != col {
			return nil, fmt.Errorf("results csv header %v, want %v", header, ResultHeader)
		}
	}

	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		rows = append(rows, Row{Filename: rec[0], BarcodeType: rec[1], DecodedContent: rec[2], DecoderUsed: rec[3]})
	}
	return rows, nil
}

// writeFileAtomic writes via a temp file and rename.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readRowsFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadRows(f)
}
