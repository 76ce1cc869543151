package pipeline

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateRoundsToTwoDecimals(t *testing.T) {
	rows := []Row{{DecoderUsed: "zxing"}, {DecoderUsed: "zbar"}, {DecoderUsed: "FAILED"}}
	r := Evaluate(rows, time.Time{})
	assert.Equal(t, 3, r.TotalImages)
	assert.Equal(t, 2, r.SuccessfulDecodes)
	assert.Equal(t, 1, r.FailedDecodes)
	assert.Equal(t, 66.67, r.SuccessRate)
}

func TestEvaluateCountsDecoderErrorsAsFailures(t *testing.T) {
	r := Evaluate([]Row{{DecoderUsed: "zxing_FAILED"}, {DecoderUsed: "zxing"}}, time.Time{})
	assert.Equal(t, 1, r.SuccessfulDecodes)
	assert.Equal(t, 50.0, r.SuccessRate)
}

func TestEvaluateEmpty(t *testing.T) {
	r := Evaluate(nil, time.Time{})
	assert.Zero(t, r.TotalImages)
	assert.Zero(t, r.SuccessRate)
}

func TestResultsCSVRoundTrip(t *testing.T) {
	rows := []Row{
		{Filename: "a.jpg", BarcodeType: "QR_CODE", DecodedContent: "line1\nline2, with comma", DecoderUsed: "zxing"},
		{Filename: "b.jpg", BarcodeType: "-", DecodedContent: "-", DecoderUsed: "FAILED"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteRows(&buf, rows))

	got, err := ReadRows(&buf)
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestReadRowsRejectsForeignHeader(t *testing.T) {
	_, err := ReadRows(strings.NewReader("file,type,content,decoder\n"))
	assert.Error(t, err)
}

func TestReportPath(t *testing.T) {
	got := ReportPath("/data/output", time.Date(2025, 1, 2, 23, 0, 0, 0, time.UTC))
	assert.Equal(t, "/data/output/final_report_20250102.csv", got)
}
