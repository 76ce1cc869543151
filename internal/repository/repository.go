// Package repository persists pipeline output, evaluation reports and
// interactive scans with gorm.
package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/barsight/internal/logging"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("repository: record not found")

// Repository provides persistence APIs for BarSight.
type Repository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// New creates a new repository instance.
func New(db *gorm.DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:             db,
		logger:         logger.Named("repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *Repository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&DecodedBarcode{}, &EvaluationReport{}, &PipelineRun{}, &ScanLog{})
}

// ReplaceDecoded swaps the contents of decoded_barcodes for rows in a single
// transaction, so readers never see a half-loaded table.
func (r *Repository) ReplaceDecoded(ctx context.Context, runID string, rows []DecodedBarcode) error {
	return r.executeWithRetry(ctx, "repository.replace_decoded", runID, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&DecodedBarcode{}).Error; err != nil {
				return err
			}
			if len(rows) == 0 {
				return nil
			}
			now := time.Now().UTC()
			batch := make([]DecodedBarcode, len(rows))
			for i, row := range rows {
				row.ID = 0
				row.RunID = runID
				if row.CreatedAt.IsZero() {
					row.CreatedAt = now
				}
				batch[i] = row
			}
			return tx.CreateInBatches(batch, 500).Error
		})
	})
}

// ListDecoded returns every loaded row ordered by filename.
func (r *Repository) ListDecoded(ctx context.Context) ([]DecodedBarcode, error) {
	var rows []DecodedBarcode
	err := r.executeWithRetry(ctx, "repository.list_decoded", "", func() error {
		return r.db.WithContext(ctx).Order("filename").Find(&rows).Error
	})
	return rows, err
}

// SaveReport persists an evaluation report.
func (r *Repository) SaveReport(ctx context.Context, report *EvaluationReport) error {
	return r.executeWithRetry(ctx, "repository.save_report", report.RunID, func() error {
		return r.db.WithContext(ctx).Create(report).Error
	})
}

// LatestReports returns up to limit reports, newest first.
func (r *Repository) LatestReports(ctx context.Context, limit int) ([]EvaluationReport, error) {
	var reports []EvaluationReport
	err := r.executeWithRetry(ctx, "repository.latest_reports", "", func() error {
		return r.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit).Find(&reports).Error
	})
	return reports, err
}

// SaveRun inserts or updates a pipeline run keyed by run id.
func (r *Repository) SaveRun(ctx context.Context, run *PipelineRun) error {
	return r.executeWithRetry(ctx, "repository.save_run", run.RunID, func() error {
		var existing PipelineRun
		err := r.db.WithContext(ctx).Where("run_id = ?", run.RunID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return r.db.WithContext(ctx).Create(run).Error
		case err != nil:
			return err
		}
		run.ID = existing.ID
		return r.db.WithContext(ctx).Save(run).Error
	})
}

// FindRun retrieves a pipeline run.
func (r *Repository) FindRun(ctx context.Context, runID string) (*PipelineRun, error) {
	var run PipelineRun
	err := r.executeWithRetry(ctx, "repository.find_run", runID, func() error {
		return mapNotFound(r.db.WithContext(ctx).First(&run, "run_id = ?", runID).Error)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// SaveScanLog persists an interactive scan.
func (r *Repository) SaveScanLog(ctx context.Context, log *ScanLog) error {
	return r.executeWithRetry(ctx, "repository.save_scan_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindScanLog retrieves a scan by request id.
func (r *Repository) FindScanLog(ctx context.Context, requestID string) (*ScanLog, error) {
	var log ScanLog
	err := r.executeWithRetry(ctx, "repository.find_scan_log", requestID, func() error {
		return mapNotFound(r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error)
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// FindScansByHash lists earlier scans of the same image bytes.
func (r *Repository) FindScansByHash(ctx context.Context, hash, excludeRequestID string) ([]*ScanLog, error) {
	var logs []*ScanLog
	err := r.executeWithRetry(ctx, "repository.find_scans_by_hash", excludeRequestID, func() error {
		return r.db.WithContext(ctx).
			Where("sha1_hash = ? AND request_id <> ?", hash, excludeRequestID).
			Order("created_at DESC").
			Find(&logs).Error
	})
	return logs, err
}

// AggregateMetrics summarizes scan logs.
func (r *Repository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&ScanLog{}).
			Select("COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN decoded_count > 0 THEN 1 ELSE 0 END), 0) AS success_count, " +
				"COALESCE(AVG(region_count), 0) AS average_regions, " +
				"COALESCE(AVG(latency_ms), 0) AS average_latency_ms").
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (r *Repository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, ErrNotFound) {
			return logging.NewOperationError(operation, requestID, err)
		}
		if !logging.IsTransient(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}
