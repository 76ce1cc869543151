package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/barsight/internal/events"
	"github.com/example/barsight/internal/logging"
)

// Stage names, in execution order.
const (
	StageExtract   = "extract_images"
	StageTransform = "detect_and_decode"
	StageLoad      = "load_to_database"
	StageEvaluate  = "evaluate_decode"
)

// Stage is one step of a run.
type Stage struct {
	Name string
	Run  func(ctx context.Context, runID string) error
}

// runner executes stages in order, retrying each failed stage.
type runner struct {
	retries    int
	retryDelay time.Duration
	events     events.Publisher
	logger     *zap.Logger
	// onStage is told which stage is current, for run bookkeeping.
	onStage func(runID, stage string)
}

func (r *runner) run(ctx context.Context, runID string, stages []Stage) error {
	for _, st := range stages {
		if r.onStage != nil {
			r.onStage(runID, st.Name)
		}
		if err := r.runStage(ctx, runID, st); err != nil {
			return logging.NewOperationError("pipeline."+st.Name, runID, err)
		}
	}
	return nil
}

func (r *runner) runStage(ctx context.Context, runID string, st Stage) error {
	stageLogger := logging.WithRun(r.logger, runID, st.Name)
	attempts := r.retries + 1

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			stageLogger.Warn("retrying stage", zap.Int("attempt", attempt), zap.Duration("delay", r.retryDelay))
			r.events.Publish(events.Event{RunID: runID, Kind: events.KindStageRetry, Stage: st.Name, Attempt: attempt})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.retryDelay):
			}
		}

		r.events.Publish(events.Event{RunID: runID, Kind: events.KindStageStarted, Stage: st.Name, Attempt: attempt})
		start := time.Now()
		err = st.Run(ctx, runID)
		if err == nil {
			stageLogger.Info("stage complete", zap.Duration("elapsed", time.Since(start)))
			r.events.Publish(events.Event{RunID: runID, Kind: events.KindStageFinished, Stage: st.Name, Attempt: attempt})
			return nil
		}

		stageLogger.Error("stage failed", zap.Error(err), zap.Int("attempt", attempt))
		r.events.Publish(events.Event{RunID: runID, Kind: events.KindStageFailed, Stage: st.Name, Attempt: attempt, Message: err.Error()})
		if ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}
