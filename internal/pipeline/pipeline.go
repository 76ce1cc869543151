// Package pipeline runs the batch ETL: extract images, detect and decode,
// load the results into the database and evaluate the success rate.
package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/barsight/internal/events"
	"github.com/example/barsight/internal/logging"
	"github.com/example/barsight/internal/repository"
)

// ErrRunInProgress is returned when a run is requested while one is active.
var ErrRunInProgress = errors.New("pipeline: a run is already in progress")

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Store is the persistence the pipeline writes to.
type Store interface {
	ReplaceDecoded(ctx context.Context, runID string, rows []repository.DecodedBarcode) error
	SaveReport(ctx context.Context, report *repository.EvaluationReport) error
	SaveRun(ctx context.Context, run *repository.PipelineRun) error
}

// Options configure a Pipeline.
type Options struct {
	RawDir     string
	OutputDir  string
	ResultsCSV string
	Workers    int
	Retries    int
	RetryDelay time.Duration
}

// Pipeline wires the four stages together.
type Pipeline struct {
	source  Source
	scanner ImageScanner
	store   Store
	events  events.Publisher
	opts    Options
	logger  *zap.Logger
	now     func() time.Time

	running sync.Mutex
	mu      sync.Mutex
	runs    map[string]*repository.PipelineRun
	wg      sync.WaitGroup
}

// New builds a pipeline.
func New(source Source, scanner ImageScanner, store Store, pub events.Publisher, opts Options, logger *zap.Logger) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Pipeline{
		source:  source,
		scanner: scanner,
		store:   store,
		events:  pub,
		opts:    opts,
		logger:  logger.Named("pipeline"),
		now:     time.Now,
		runs:    make(map[string]*repository.PipelineRun),
	}
}

// Stages returns the run's stages in order.
func (p *Pipeline) Stages() []Stage {
	return []Stage{
		{Name: StageExtract, Run: p.extract},
		{Name: StageTransform, Run: p.transform},
		{Name: StageLoad, Run: p.load},
		{Name: StageEvaluate, Run: p.evaluate},
	}
}

// Run executes a full pipeline run synchronously and returns its id.
func (p *Pipeline) Run(ctx context.Context, trigger string) (string, error) {
	if !p.running.TryLock() {
		return "", ErrRunInProgress
	}
	defer p.running.Unlock()

	runID := uuid.NewString()
	return runID, p.execute(ctx, runID, trigger)
}

// Start launches a run in the background and returns its id at once.
func (p *Pipeline) Start(ctx context.Context, trigger string) (string, error) {
	if !p.running.TryLock() {
		return "", ErrRunInProgress
	}

	runID := uuid.NewString()
	p.track(&repository.PipelineRun{RunID: runID, Trigger: trigger, Status: StatusRunning, StartedAt: p.now().UTC()})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.running.Unlock()
		_ = p.execute(ctx, runID, trigger)
	}()
	return runID, nil
}

// Wait blocks until background runs finish.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Lookup returns the in-memory state of a run started by this process.
func (p *Pipeline) Lookup(runID string) (*repository.PipelineRun, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	run, ok := p.runs[runID]
	if !ok {
		return nil, false
	}
	cp := *run
	return &cp, true
}

func (p *Pipeline) track(run *repository.PipelineRun) {
	p.mu.Lock()
	p.runs[run.RunID] = run
	p.mu.Unlock()
}

func (p *Pipeline) update(runID string, fn func(*repository.PipelineRun)) repository.PipelineRun {
	p.mu.Lock()
	defer p.mu.Unlock()
	run, ok := p.runs[runID]
	if !ok {
		run = &repository.PipelineRun{RunID: runID}
		p.runs[runID] = run
	}
	fn(run)
	return *run
}

func (p *Pipeline) persist(ctx context.Context, run repository.PipelineRun) {
	if err := p.store.SaveRun(ctx, &run); err != nil {
		logging.WithRun(p.logger, run.RunID, run.Stage).Warn("failed to record run state", zap.Error(err))
	}
}

func (p *Pipeline) execute(ctx context.Context, runID, trigger string) error {
	runLogger := logging.WithRun(p.logger, runID, "")
	started := p.update(runID, func(r *repository.PipelineRun) {
		r.Trigger = trigger
		r.Status = StatusRunning
		if r.StartedAt.IsZero() {
			r.StartedAt = p.now().UTC()
		}
	})
	p.persist(ctx, started)
	runLogger.Info("starting barcode ETL pipeline", zap.String("trigger", trigger))
	p.events.Publish(events.Event{RunID: runID, Kind: events.KindRunStarted, Message: trigger})

	r := &runner{
		retries:    p.opts.Retries,
		retryDelay: p.opts.RetryDelay,
		events:     p.events,
		logger:     p.logger,
		onStage: func(runID, stage string) {
			p.persist(ctx, p.update(runID, func(r *repository.PipelineRun) { r.Stage = stage }))
		},
	}
	err := r.run(ctx, runID, p.Stages())

	finished := p.update(runID, func(r *repository.PipelineRun) {
		t := p.now().UTC()
		r.FinishedAt = &t
		if err != nil {
			r.Status = StatusFailed
			r.Error = err.Error()
			return
		}
		r.Status = StatusSucceeded
	})
	// the run context may already be cancelled; the final state must land
	p.persist(context.WithoutCancel(ctx), finished)

	if err != nil {
		runLogger.Error("pipeline failed", zap.Error(err))
		p.events.Publish(events.Event{RunID: runID, Kind: events.KindRunFailed, Message: err.Error()})
		return err
	}
	runLogger.Info("pipeline finished")
	p.events.Publish(events.Event{RunID: runID, Kind: events.KindRunFinished})
	return nil
}

func (p *Pipeline) extract(ctx context.Context, runID string) error {
	_, err := p.source.Extract(ctx, p.opts.RawDir)
	return err
}

func (p *Pipeline) transform(ctx context.Context, runID string) error {
	t := &transformer{
		scanner: p.scanner,
		rawDir:  p.opts.RawDir,
		workers: p.opts.Workers,
		logger:  logging.WithRun(p.logger, runID, StageTransform),
	}
	rows, err := t.transform(ctx)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(p.opts.ResultsCSV, func(w io.Writer) error { return WriteRows(w, rows) }); err != nil {
		return err
	}
	logging.WithRun(p.logger, runID, StageTransform).Info("results written",
		zap.String("path", p.opts.ResultsCSV), zap.Int("rows", len(rows)))
	return nil
}

func (p *Pipeline) load(ctx context.Context, runID string) error {
	rows, err := readRowsFile(p.opts.ResultsCSV)
	if err != nil {
		return err
	}
	records := make([]repository.DecodedBarcode, len(rows))
	for i, r := range rows {
		records[i] = repository.DecodedBarcode{
			Filename:       r.Filename,
			BarcodeType:    r.BarcodeType,
			DecodedContent: r.DecodedContent,
			DecoderUsed:    r.DecoderUsed,
		}
	}
	if err := p.store.ReplaceDecoded(ctx, runID, records); err != nil {
		return err
	}
	logging.WithRun(p.logger, runID, StageLoad).Info("loaded results into decoded_barcodes", zap.Int("rows", len(records)))
	return nil
}

func (p *Pipeline) evaluate(ctx context.Context, runID string) error {
	rows, err := readRowsFile(p.opts.ResultsCSV)
	if err != nil {
		return err
	}
	now := p.now()
	report := Evaluate(rows, now)
	path := ReportPath(p.opts.OutputDir, now)
	if err := writeFileAtomic(path, func(w io.Writer) error { return WriteReport(w, report) }); err != nil {
		return err
	}
	if err := p.store.SaveReport(ctx, &repository.EvaluationReport{
		RunID:             runID,
		TotalImages:       report.TotalImages,
		SuccessfulDecodes: report.SuccessfulDecodes,
		FailedDecodes:     report.FailedDecodes,
		SuccessRate:       report.SuccessRate,
		ReportPath:        path,
		CreatedAt:         now.UTC(),
	}); err != nil {
		return err
	}
	logging.WithRun(p.logger, runID, StageEvaluate).Info("evaluation saved",
		zap.String("path", path),
		zap.Int("total_images", report.TotalImages),
		zap.Float64("success_rate", report.SuccessRate))
	return nil
}

// EnsureDirs creates the pipeline's working directories.
func EnsureDirs(dirs ...string) error {
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}
