package usecase

import (
	"context"

	"github.com/example/barsight/internal/repository"
)

// MetricsSummary represents aggregated scan insights.
type MetricsSummary struct {
	TotalScans       int64                        `json:"total_scans"`
	SuccessfulScans  int64                        `json:"successful_scans"`
	SuccessRate      float64                      `json:"success_rate"`
	AverageRegions   float64                      `json:"average_regions"`
	AverageLatencyMs float64                      `json:"average_latency_ms"`
	LatestReport     *repository.EvaluationReport `json:"latest_pipeline_report,omitempty"`
}

// GetMetricsSummary aggregates interactive scan metrics and attaches the
// most recent pipeline evaluation.
func (uc *ScanUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalScans:       aggregation.TotalCount,
		SuccessfulScans:  aggregation.SuccessCount,
		AverageRegions:   aggregation.AverageRegions,
		AverageLatencyMs: aggregation.AverageLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}

	reports, err := uc.repo.LatestReports(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(reports) > 0 {
		summary.LatestReport = &reports[0]
	}

	return summary, nil
}
