package usecase

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/barsight/internal/logging"
	"github.com/example/barsight/internal/repository"
	"github.com/example/barsight/internal/scan"
)

// ErrBadImage is returned for uploads that do not decode as an image.
var ErrBadImage = errors.New("unable to read image")

// ScanRepository defines the persistence operations needed by the use case.
type ScanRepository interface {
	SaveScanLog(ctx context.Context, log *repository.ScanLog) error
	FindScanLog(ctx context.Context, requestID string) (*repository.ScanLog, error)
	FindScansByHash(ctx context.Context, hash, excludeRequestID string) ([]*repository.ScanLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
	LatestReports(ctx context.Context, limit int) ([]repository.EvaluationReport, error)
}

// Scanner is the detect-and-decode step.
type Scanner interface {
	Scan(ctx context.Context, img image.Image) (*scan.Outcome, error)
}

// ScanResult is what an interactive scan returns and caches.
type ScanResult struct {
	RequestID string        `json:"request_id"`
	UserID    string        `json:"user_id,omitempty"`
	Filename  string        `json:"filename"`
	SHA1Hash  string        `json:"sha1_hash"`
	Status    string        `json:"status"`
	Outcome   *scan.Outcome `json:"outcome"`
	Cached    bool          `json:"cached"`
	CreatedAt time.Time     `json:"created_at"`

	// Image is the decoded upload, kept for annotation. Not cached.
	Image image.Image `json:"-"`
}

// Regions returns the detected regions, with the full-image fallback
// appended when it produced something.
func (r *ScanResult) Regions() []scan.Region {
	if r.Outcome == nil {
		return nil
	}
	regions := append([]scan.Region(nil), r.Outcome.Regions...)
	if fb := r.Outcome.Fallback; fb != nil && fb.Decoded() {
		regions = append(regions, *fb)
	}
	return regions
}

// ScanUseCase encapsulates the interactive single-image flow.
type ScanUseCase struct {
	repo           ScanRepository
	cache          Cache
	scanner        Scanner
	logger         *zap.Logger
	resultTTL      time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewScanUseCase constructs a new use case instance.
func NewScanUseCase(repo ScanRepository, cache Cache, scanner Scanner, resultTTL time.Duration, logger *zap.Logger) *ScanUseCase {
	if resultTTL <= 0 {
		resultTTL = 5 * time.Minute
	}
	return &ScanUseCase{
		repo:           repo,
		cache:          cache,
		scanner:        scanner,
		logger:         logger.Named("scan_usecase"),
		resultTTL:      resultTTL,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// ScanImage decodes the upload, runs detection and decoding, persists a log
// and caches the result. An identical image scanned within the TTL reuses
// the earlier outcome without running inference, but is still logged and
// cached as a scan of its own.
func (uc *ScanUseCase) ScanImage(ctx context.Context, userID, filename string, imageBytes []byte) (*ScanResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.scan_image", requestID)

	img, err := imaging.Decode(bytes.NewReader(imageBytes), imaging.AutoOrientation(true))
	if err != nil {
		opLogger.Warn("upload is not an image", zap.String("filename", filename), zap.Error(err))
		return nil, logging.NewOperationError("usecase.decode_image", requestID, fmt.Errorf("%w: %v", ErrBadImage, err))
	}

	sum := sha1.Sum(imageBytes)
	hashHex := hex.EncodeToString(sum[:])
	started := time.Now()

	var (
		outcome   *scan.Outcome
		latency   time.Duration
		cachedFor string
	)
	if prev, ok := uc.cachedByHash(ctx, requestID, hashHex); ok {
		opLogger.Info("reusing scan of identical image", zap.String("original_request_id", prev.RequestID))
		outcome = prev.Outcome
		cachedFor = prev.RequestID
		latency = time.Since(started)
	} else {
		if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
			return uc.cache.Set(ctx, resultKey(requestID), "processing", time.Minute)
		}); err != nil {
			opLogger.Error("failed to set processing flag", zap.Error(err))
			return nil, err
		}

		outcome, err = uc.scanner.Scan(ctx, img)
		if err != nil {
			wrapped := logging.NewOperationError("usecase.scan", requestID, err)
			opLogger.Error("scan failed", zap.Error(wrapped))
			return nil, wrapped
		}
		latency = outcome.Elapsed
	}

	result := &ScanResult{
		RequestID: requestID,
		UserID:    userID,
		Filename:  filename,
		SHA1Hash:  hashHex,
		Status:    outcome.Status(),
		Outcome:   outcome,
		Cached:    cachedFor != "",
		CreatedAt: time.Now().UTC(),
		Image:     img,
	}

	details := fmt.Sprintf("regions:%d decoded:%d status:%s hash:%s", len(outcome.Regions), outcome.DecodedCount(), result.Status, hashHex)
	if cachedFor != "" {
		details += " reused:" + cachedFor
	}
	log := &repository.ScanLog{
		RequestID:    requestID,
		UserID:       userID,
		Filename:     filename,
		SHA1Hash:     hashHex,
		RegionCount:  len(outcome.Regions),
		DecodedCount: outcome.DecodedCount(),
		Status:       result.Status,
		Details:      details,
		LatencyMs:    latency.Milliseconds(),
		CreatedAt:    result.CreatedAt,
	}
	if err := uc.repo.SaveScanLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_scan_log", requestID, err)
		opLogger.Error("failed to persist scan log", zap.Error(wrapped))
		return nil, wrapped
	}

	serialized, err := json.Marshal(result)
	if err != nil {
		opLogger.Error("failed to serialize scan result", zap.Error(err))
		return nil, err
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, resultKey(requestID), string(serialized), uc.resultTTL)
	}); err != nil {
		opLogger.Error("failed to cache scan result", zap.Error(err))
		return nil, err
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.hash", func() error {
		return uc.cache.Set(ctx, hashKey(hashHex), requestID, uc.resultTTL)
	}); err != nil {
		// the result is already stored; dedup is best effort
		opLogger.Warn("failed to index scan by hash", zap.Error(err))
	}

	opLogger.Info("scan stored",
		zap.String("filename", filename),
		zap.Int("regions", len(outcome.Regions)),
		zap.String("status", result.Status),
		zap.Bool("reused", result.Cached))
	return result, nil
}

func (uc *ScanUseCase) cachedByHash(ctx context.Context, requestID, hash string) (*ScanResult, bool) {
	prevID, err := uc.withRedisGet(ctx, requestID, "cache.get.hash", hashKey(hash))
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			logging.WithOperation(uc.logger, "usecase.scan_image", requestID).Warn("failed to read hash index", zap.Error(err))
		}
		return nil, false
	}
	res, err := uc.cachedResult(ctx, prevID)
	if err != nil || res.Outcome == nil {
		return nil, false
	}
	return res, true
}

// GetResult retrieves a cached scan. Only a summary survives in the
// database, so an expired result is rebuilt from the scan log without
// regions.
func (uc *ScanUseCase) GetResult(ctx context.Context, requestID string) (*ScanResult, error) {
	res, err := uc.cachedResult(ctx, requestID)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to read cache", zap.Error(err))
	}

	log, err := uc.repo.FindScanLog(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return &ScanResult{
		RequestID: log.RequestID,
		UserID:    log.UserID,
		Filename:  log.Filename,
		SHA1Hash:  log.SHA1Hash,
		Status:    log.Status,
		CreatedAt: log.CreatedAt,
	}, nil
}

func (uc *ScanUseCase) cachedResult(ctx context.Context, requestID string) (*ScanResult, error) {
	cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", resultKey(requestID))
	if err != nil {
		return nil, err
	}
	if cached == "processing" {
		return nil, ErrCacheMiss
	}
	var res ScanResult
	if err := json.Unmarshal([]byte(cached), &res); err != nil {
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to decode cached result", zap.Error(err))
		return nil, err
	}
	return &res, nil
}

// DuplicateReport lists earlier scans of the same image.
type DuplicateReport struct {
	Request    *repository.ScanLog
	Duplicates []*repository.ScanLog
}

// GetDuplicateReport builds a duplicate report for a scan.
func (uc *ScanUseCase) GetDuplicateReport(ctx context.Context, requestID string) (*DuplicateReport, error) {
	log, err := uc.repo.FindScanLog(ctx, requestID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindScansByHash(ctx, log.SHA1Hash, log.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{
		Request:    log,
		Duplicates: duplicates,
	}, nil
}

func (uc *ScanUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, ErrCacheMiss) {
			return err
		}
		if !logging.IsTransient(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *ScanUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}
