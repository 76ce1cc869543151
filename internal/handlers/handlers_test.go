package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/example/barsight/internal/auth"
	"github.com/example/barsight/internal/decoder"
	"github.com/example/barsight/internal/events"
	"github.com/example/barsight/internal/logging"
	"github.com/example/barsight/internal/pipeline"
	"github.com/example/barsight/internal/repository"
	"github.com/example/barsight/internal/scan"
	"github.com/example/barsight/internal/usecase"
)

const testJWTSecret = "test-secret"

type stubScans struct {
	result     *usecase.ScanResult
	scanErr    error
	getErr     error
	duplicates *usecase.DuplicateReport
	calls      int
}

func (s *stubScans) ScanImage(ctx context.Context, userID, filename string, imageBytes []byte) (*usecase.ScanResult, error) {
	s.calls++
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	res := *s.result
	res.Filename = filename
	return &res, nil
}

func (s *stubScans) GetResult(ctx context.Context, requestID string) (*usecase.ScanResult, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.result, nil
}

func (s *stubScans) GetDuplicateReport(ctx context.Context, requestID string) (*usecase.DuplicateReport, error) {
	if s.duplicates == nil {
		return nil, repository.ErrNotFound
	}
	return s.duplicates, nil
}

func (s *stubScans) GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error) {
	return &usecase.MetricsSummary{TotalScans: 4, SuccessfulScans: 3, SuccessRate: 75}, nil
}

type stubPipeline struct {
	startErr error
	runs     map[string]*repository.PipelineRun
	started  []string
}

func (p *stubPipeline) Start(ctx context.Context, trigger string) (string, error) {
	if p.startErr != nil {
		return "", p.startErr
	}
	p.started = append(p.started, trigger)
	return "run-1", nil
}

func (p *stubPipeline) Lookup(runID string) (*repository.PipelineRun, bool) {
	run, ok := p.runs[runID]
	return run, ok
}

type stubRuns struct {
	runs      map[string]*repository.PipelineRun
	lastLimit int
}

func (s *stubRuns) FindRun(ctx context.Context, runID string) (*repository.PipelineRun, error) {
	if run, ok := s.runs[runID]; ok {
		return run, nil
	}
	return nil, logging.NewOperationError("repository.find_run", runID, repository.ErrNotFound)
}

func (s *stubRuns) LatestReports(ctx context.Context, limit int) ([]repository.EvaluationReport, error) {
	s.lastLimit = limit
	return []repository.EvaluationReport{{RunID: "run-0", TotalImages: 2, SuccessfulDecodes: 1, SuccessRate: 50}}, nil
}

func sampleResult() *usecase.ScanResult {
	return &usecase.ScanResult{
		RequestID: "req-1",
		Status:    "zxing",
		CreatedAt: time.Date(2025, 11, 5, 9, 0, 0, 0, time.UTC),
		Image:     image.NewRGBA(image.Rect(0, 0, 120, 80)),
		Outcome: &scan.Outcome{
			Width:  120,
			Height: 80,
			Regions: []scan.Region{
				{BBoxID: "bbox_1", Source: "qr", Box: image.Rect(10, 10, 50, 50), Confidence: 0.91, Content: "hello, world", Type: "QR_CODE", Decoder: "zxing", Status: "zxing", Kind: decoder.KindQR},
				{BBoxID: "bbox_2", Source: "barcode", Box: image.Rect(60, 20, 110, 40), Confidence: 0.55, Content: scan.UndecodedContent, Type: scan.UnknownType, Status: decoder.StatusFailed, Kind: decoder.KindUndecoded},
			},
		},
	}
}

type fixture struct {
	router   *gin.Engine
	scans    *stubScans
	pipeline *stubPipeline
	runs     *stubRuns
	hub      *events.Hub
}

func newFixture() *fixture {
	gin.SetMode(gin.TestMode)

	f := &fixture{
		router:   gin.New(),
		scans:    &stubScans{result: sampleResult()},
		pipeline: &stubPipeline{runs: map[string]*repository.PipelineRun{}},
		runs:     &stubRuns{runs: map[string]*repository.PipelineRun{}},
		hub:      events.NewHub(8),
	}
	f.router.MaxMultipartMemory = MaxUploadSize
	RegisterRoutes(f.router, Dependencies{
		Scans:    f.scans,
		Pipeline: f.pipeline,
		Runs:     f.runs,
		Events:   f.hub,
		Auth:     auth.RequireOperator(testJWTSecret, ""),
	})
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func TestScanRejectsLargeUpload(t *testing.T) {
	f := newFixture()

	body, contentType := buildMultipartBody(t, "image/png", "big.png", bytes.Repeat([]byte("a"), MaxUploadSize+1))
	req := httptest.NewRequest(http.MethodPost, "/scan", body)
	req.Header.Set("Content-Type", contentType)

	resp := f.do(req)
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
	if f.scans.calls != 0 {
		t.Fatalf("oversized upload must not be scanned")
	}
}

func TestScanRejectsUnsupportedContentType(t *testing.T) {
	f := newFixture()

	body, contentType := buildMultipartBody(t, "text/plain", "upload", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/scan", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp := f.do(req)
	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestScanAcceptsOctetStreamWithImageExtension(t *testing.T) {
	f := newFixture()

	body, contentType := buildMultipartBody(t, "application/octet-stream", "label.JPG", pngBytes(t))
	req := httptest.NewRequest(http.MethodPost, "/scan", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	if resp := f.do(req); resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestScanReturnsJSON(t *testing.T) {
	f := newFixture()

	body, contentType := buildMultipartBody(t, "image/png", "label.png", pngBytes(t))
	req := httptest.NewRequest(http.MethodPost, "/scan", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp := f.do(req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var got scanResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if got.Filename != "label.png" || got.Status != "zxing" {
		t.Fatalf("unexpected response: %+v", got)
	}
	if len(got.Regions) != 2 {
		t.Fatalf("expected 2 regions, got %d", len(got.Regions))
	}
	if got.Regions[0].Content != "hello, world" || got.Regions[0].Box != [4]int{10, 10, 50, 50} {
		t.Fatalf("unexpected first region: %+v", got.Regions[0])
	}
	if got.Regions[1].Content != scan.UndecodedContent || got.Regions[1].Type != scan.UnknownType {
		t.Fatalf("undecoded region should carry placeholders: %+v", got.Regions[1])
	}
}

func TestScanRendersResultPage(t *testing.T) {
	f := newFixture()

	body, contentType := buildMultipartBody(t, "image/png", "label.png", pngBytes(t))
	req := httptest.NewRequest(http.MethodPost, "/scan", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/html")

	resp := f.do(req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	page := resp.Body.String()
	for _, want := range []string{"data:image/png;base64,", "bbox_1", "hello, world", "/scan/req-1/csv"} {
		if !strings.Contains(page, want) {
			t.Fatalf("result page missing %q", want)
		}
	}
}

func TestScanBadImage(t *testing.T) {
	f := newFixture()
	f.scans.scanErr = logging.NewOperationError("usecase.decode_image", "req-1", usecase.ErrBadImage)

	body, contentType := buildMultipartBody(t, "image/png", "broken.png", []byte("not a png"))
	req := httptest.NewRequest(http.MethodPost, "/scan", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	if resp := f.do(req); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestScanCSVDownload(t *testing.T) {
	f := newFixture()

	resp := f.do(httptest.NewRequest(http.MethodGet, "/scan/req-1/csv", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if cd := resp.Header().Get("Content-Disposition"); !strings.Contains(cd, "decoded_result.csv") {
		t.Fatalf("unexpected content disposition %q", cd)
	}
	want := "BBox ID,Source,Decoded Content,Type\n" +
		"bbox_1,qr,\"hello, world\",QR_CODE\n" +
		"bbox_2,barcode,(undecoded),UNKNOWN\n"
	if resp.Body.String() != want {
		t.Fatalf("unexpected csv:\n%s", resp.Body.String())
	}
}

func TestScanResultNotFound(t *testing.T) {
	f := newFixture()
	f.scans.getErr = logging.NewOperationError("repository.find_scan_log", "missing", repository.ErrNotFound)

	if resp := f.do(httptest.NewRequest(http.MethodGet, "/scan/missing", nil)); resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestPipelineAPIRequiresToken(t *testing.T) {
	f := newFixture()

	resp := f.do(httptest.NewRequest(http.MethodPost, "/api/pipeline/runs", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
	if len(f.pipeline.started) != 0 {
		t.Fatalf("unauthenticated request must not start a run")
	}
}

func TestStartPipelineRun(t *testing.T) {
	f := newFixture()

	req := httptest.NewRequest(http.MethodPost, "/api/pipeline/runs", nil)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "ops-1"))
	resp := f.do(req)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"run_id":"run-1"`) {
		t.Fatalf("response missing run id: %s", resp.Body.String())
	}
	if len(f.pipeline.started) != 1 || f.pipeline.started[0] != "api:ops-1" {
		t.Fatalf("unexpected triggers: %v", f.pipeline.started)
	}

	f.pipeline.startErr = pipeline.ErrRunInProgress
	req = httptest.NewRequest(http.MethodPost, "/api/pipeline/runs", nil)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "ops-1"))
	if resp := f.do(req); resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestGetRunFallsBackToStore(t *testing.T) {
	f := newFixture()
	f.pipeline.runs["live"] = &repository.PipelineRun{RunID: "live", Status: pipeline.StatusRunning}
	f.runs.runs["old"] = &repository.PipelineRun{RunID: "old", Status: pipeline.StatusSucceeded}
	token := buildTestToken(t, "ops-1")

	for id, want := range map[string]int{"live": http.StatusOK, "old": http.StatusOK, "nope": http.StatusNotFound} {
		req := httptest.NewRequest(http.MethodGet, "/api/pipeline/runs/"+id, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		if resp := f.do(req); resp.Code != want {
			t.Fatalf("run %s: expected status %d, got %d", id, want, resp.Code)
		}
	}
}

func TestReportsLimit(t *testing.T) {
	f := newFixture()
	token := buildTestToken(t, "ops-1")

	req := httptest.NewRequest(http.MethodGet, "/api/reports?limit=500", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if resp := f.do(req); resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if f.runs.lastLimit != maxReportLimit {
		t.Fatalf("expected limit capped at %d, got %d", maxReportLimit, f.runs.lastLimit)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/reports?limit=zero", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if resp := f.do(req); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture()

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "ops-1"))
	resp := f.do(req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"success_rate":75`) {
		t.Fatalf("unexpected metrics body: %s", resp.Body.String())
	}
}

func TestDuplicatesEndpoint(t *testing.T) {
	f := newFixture()
	token := buildTestToken(t, "ops-1")

	req := httptest.NewRequest(http.MethodGet, "/api/scans/req-2/duplicates", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if resp := f.do(req); resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}

	f.scans.duplicates = &usecase.DuplicateReport{
		Request: &repository.ScanLog{RequestID: "req-2", SHA1Hash: "abc123"},
		Duplicates: []*repository.ScanLog{
			{RequestID: "req-1", SHA1Hash: "abc123"},
			{RequestID: "req-0", SHA1Hash: "abc123"},
		},
	}
	req = httptest.NewRequest(http.MethodGet, "/api/scans/req-2/duplicates", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := f.do(req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var body struct {
		RequestID      string   `json:"request_id"`
		SHA1Hash       string   `json:"sha1_hash"`
		DuplicateCount int      `json:"duplicate_count"`
		Duplicates     []string `json:"duplicates"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body.RequestID != "req-2" || body.SHA1Hash != "abc123" || body.DuplicateCount != 2 {
		t.Fatalf("unexpected body %+v", body)
	}
	if len(body.Duplicates) != 2 || body.Duplicates[0] != "req-1" || body.Duplicates[1] != "req-0" {
		t.Fatalf("unexpected duplicate ids %v", body.Duplicates)
	}
}

func TestEventStream(t *testing.T) {
	f := newFixture()
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/events", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket never subscribed to the hub")
		}
		time.Sleep(10 * time.Millisecond)
	}

	f.hub.Publish(events.Event{RunID: "run-1", Kind: events.KindStageStarted, Stage: pipeline.StageExtract, Attempt: 1})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.RunID != "run-1" || got.Kind != events.KindStageStarted || got.Stage != pipeline.StageExtract {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func buildMultipartBody(t *testing.T, contentType, filename string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := auth.OperatorClaims{
		Role: auth.RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
