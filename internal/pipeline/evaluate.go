package pipeline

import (
	"encoding/csv"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"time"
)

// TimestampLayout is how report timestamps are written.
const TimestampLayout = "2006-01-02 15:04:05"

// ReportHeader is the column set of the evaluation CSV.
var ReportHeader = []string{"total_images", "successful_decodes", "failed_decodes", "success_rate (%)", "timestamp"}

// Report summarizes how many images decoded.
type Report struct {
	TotalImages       int
	SuccessfulDecodes int
	FailedDecodes     int
	// SuccessRate is a percentage rounded to two decimals.
	SuccessRate float64
	Timestamp   time.Time
}

// Evaluate tallies rows. A row counts as successful only when a decoder
// produced it; decoder errors count as failures.
func Evaluate(rows []Row, now time.Time) Report {
	r := Report{TotalImages: len(rows), Timestamp: now}
	for _, row := range rows {
		if row.Succeeded() {
			r.SuccessfulDecodes++
		}
	}
	r.FailedDecodes = r.TotalImages - r.SuccessfulDecodes
	if r.TotalImages > 0 {
		rate := float64(r.SuccessfulDecodes) / float64(r.TotalImages) * 100
		r.SuccessRate = math.Round(rate*100) / 100
	}
	return r
}

// ReportPath is where the report for day t is written.
func ReportPath(outputDir string, t time.Time) string {
	return filepath.Join(outputDir, "final_report_"+t.Format("20060102")+".csv")
}

// WriteReport writes a one-row evaluation CSV.
func WriteReport(w io.Writer, r Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ReportHeader); err != nil {
		return err
	}
	if err := cw.Write([]string{
		strconv.Itoa(r.TotalImages),
		strconv.Itoa(r.SuccessfulDecodes),
		strconv.Itoa(r.FailedDecodes),
		strconv.FormatFloat(r.SuccessRate, 'f', -1, 64),
		r.Timestamp.Format(TimestampLayout),
	}); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}
