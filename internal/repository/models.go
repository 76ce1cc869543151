package repository

import "time"

// DecodedBarcode is one row of the batch pipeline's output: the winning
// decode for an image, or a FAILED marker.
type DecodedBarcode struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	RunID          string    `gorm:"column:run_id;size:64;index" json:"run_id"`
	Filename       string    `gorm:"column:filename;size:255" json:"filename"`
	BarcodeType    string    `gorm:"column:barcode_type;size:64" json:"barcode_type"`
	DecodedContent string    `gorm:"column:decoded_content;type:text" json:"decoded_content"`
	DecoderUsed    string    `gorm:"column:decoder_used;size:64" json:"decoder_used"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName overrides the default table name.
func (DecodedBarcode) TableName() string {
	return "decoded_barcodes"
}

// EvaluationReport is the success-rate summary for one pipeline run.
type EvaluationReport struct {
	ID                uint      `gorm:"primaryKey" json:"-"`
	RunID             string    `gorm:"column:run_id;size:64;index" json:"run_id"`
	TotalImages       int       `gorm:"column:total_images" json:"total_images"`
	SuccessfulDecodes int       `gorm:"column:successful_decodes" json:"successful_decodes"`
	FailedDecodes     int       `gorm:"column:failed_decodes" json:"failed_decodes"`
	SuccessRate       float64   `gorm:"column:success_rate" json:"success_rate"`
	ReportPath        string    `gorm:"column:report_path;size:512" json:"report_path"`
	CreatedAt         time.Time `gorm:"column:created_at" json:"timestamp"`
}

func (EvaluationReport) TableName() string {
	return "evaluation_reports"
}

// PipelineRun tracks one batch run across its stages.
type PipelineRun struct {
	ID         uint       `gorm:"primaryKey" json:"-"`
	RunID      string     `gorm:"column:run_id;uniqueIndex;size:64" json:"run_id"`
	Trigger    string     `gorm:"column:trigger_source;size:32" json:"trigger"`
	Status     string     `gorm:"column:status;size:32" json:"status"`
	Stage      string     `gorm:"column:stage;size:64" json:"stage"`
	Error      string     `gorm:"column:error;type:text" json:"error,omitempty"`
	StartedAt  time.Time  `gorm:"column:started_at" json:"started_at"`
	FinishedAt *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
}

func (PipelineRun) TableName() string {
	return "pipeline_runs"
}

// ScanLog is a persisted interactive scan.
type ScanLog struct {
	ID           uint      `gorm:"primaryKey"`
	RequestID    string    `gorm:"column:request_id;uniqueIndex;size:64"`
	UserID       string    `gorm:"column:user_id;size:64"`
	Filename     string    `gorm:"column:filename;size:255"`
	SHA1Hash     string    `gorm:"column:sha1_hash;size:40;index"`
	RegionCount  int       `gorm:"column:region_count"`
	DecodedCount int       `gorm:"column:decoded_count"`
	Status       string    `gorm:"column:status;size:64"`
	Details      string    `gorm:"column:details;type:text"`
	LatencyMs    int64     `gorm:"column:latency_ms"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (ScanLog) TableName() string {
	return "scan_logs"
}

// MetricsAggregation is the raw aggregate over scan logs.
type MetricsAggregation struct {
	TotalCount       int64
	SuccessCount     int64
	AverageRegions   float64
	AverageLatencyMs float64
}
