package handlers

import (
	"bytes"
	"encoding/base64"
	"errors"
	"html/template"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/barsight/internal/auth"
	"github.com/example/barsight/internal/repository"
	"github.com/example/barsight/internal/scan"
	"github.com/example/barsight/internal/scan/annotate"
	"github.com/example/barsight/internal/usecase"
)

// multipartSlack covers the multipart envelope around the image part.
const multipartSlack = 1 << 20

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
}

var allowedImageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

type regionView struct {
	BBoxID     string  `json:"bbox_id"`
	Source     string  `json:"source"`
	Content    string  `json:"decoded_content"`
	Type       string  `json:"type"`
	Kind       string  `json:"kind"`
	Decoder    string  `json:"decoder,omitempty"`
	Status     string  `json:"status"`
	Confidence float32 `json:"confidence"`
	Box        [4]int  `json:"box"`
}

type scanResponse struct {
	RequestID string       `json:"request_id"`
	Filename  string       `json:"filename"`
	Status    string       `json:"status"`
	Cached    bool         `json:"cached"`
	Width     int          `json:"width,omitempty"`
	Height    int          `json:"height,omitempty"`
	ElapsedMs int64        `json:"elapsed_ms"`
	Regions   []regionView `json:"regions"`
	CreatedAt string       `json:"created_at"`
}

func newScanResponse(res *usecase.ScanResult) scanResponse {
	out := scanResponse{
		RequestID: res.RequestID,
		Filename:  res.Filename,
		Status:    res.Status,
		Cached:    res.Cached,
		Regions:   []regionView{},
		CreatedAt: res.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if o := res.Outcome; o != nil {
		out.Width, out.Height = o.Width, o.Height
		out.ElapsedMs = o.Elapsed.Milliseconds()
	}
	for _, r := range res.Regions() {
		out.Regions = append(out.Regions, regionView{
			BBoxID:     r.BBoxID,
			Source:     r.Source,
			Content:    r.Content,
			Type:       r.Type,
			Kind:       r.Kind,
			Decoder:    r.Decoder,
			Status:     r.Status,
			Confidence: r.Confidence,
			Box:        [4]int{r.Box.Min.X, r.Box.Min.Y, r.Box.Max.X, r.Box.Max.Y},
		})
	}
	return out
}

func wantsJSON(c *gin.Context) bool {
	return c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON) == gin.MIMEJSON
}

func (s *server) uploadForm(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{"MaxMB": s.deps.MaxUploadBytes >> 20})
}

func (s *server) fail(c *gin.Context, status int, message string) {
	if wantsJSON(c) {
		c.JSON(status, gin.H{"error": message})
		return
	}
	c.HTML(status, "index.html", gin.H{"MaxMB": s.deps.MaxUploadBytes >> 20, "Error": message})
}

func (s *server) scanUpload(c *gin.Context) {
	limit := s.deps.MaxUploadBytes
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartSlack)

	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.fail(c, http.StatusRequestEntityTooLarge, "image exceeds upload limit")
			return
		}
		s.fail(c, http.StatusBadRequest, "image file is required")
		return
	}
	if file.Size > limit {
		s.fail(c, http.StatusRequestEntityTooLarge, "image exceeds upload limit")
		return
	}

	contentType := strings.ToLower(strings.TrimSpace(file.Header.Get("Content-Type")))
	if !allowedImageTypes[contentType] {
		ext := strings.ToLower(filepath.Ext(file.Filename))
		if (contentType != "" && contentType != "application/octet-stream") || !allowedImageExts[ext] {
			s.fail(c, http.StatusUnsupportedMediaType, "only jpg, jpeg and png images are accepted")
			return
		}
	}

	src, err := file.Open()
	if err != nil {
		s.fail(c, http.StatusBadRequest, "unable to open image")
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "failed to read image")
		return
	}

	userID, _ := auth.GetOperator(c.Request.Context())
	res, err := s.deps.Scans.ScanImage(c.Request.Context(), userID, filepath.Base(file.Filename), data)
	if err != nil {
		if errors.Is(err, usecase.ErrBadImage) {
			s.fail(c, http.StatusBadRequest, "unable to read image")
			return
		}
		s.logger.Error("scan failed", zap.Error(err))
		s.fail(c, http.StatusInternalServerError, "scan failed")
		return
	}

	if wantsJSON(c) {
		c.JSON(http.StatusOK, newScanResponse(res))
		return
	}

	view := gin.H{"Result": newScanResponse(res)}
	if res.Image != nil {
		var buf bytes.Buffer
		if err := annotate.EncodePNG(&buf, annotate.Draw(res.Image, res.Regions())); err != nil {
			s.logger.Warn("failed to annotate image", zap.String("request_id", res.RequestID), zap.Error(err))
		} else {
			view["Annotated"] = template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()))
		}
	}
	c.HTML(http.StatusOK, "result.html", view)
}

func (s *server) lookupScan(c *gin.Context) (*usecase.ScanResult, bool) {
	requestID := c.Param("id")
	res, err := s.deps.Scans.GetResult(c.Request.Context(), requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return nil, false
		}
		s.logger.Error("failed to load scan", zap.String("request_id", requestID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
		return nil, false
	}
	return res, true
}

func (s *server) scanResult(c *gin.Context) {
	if res, ok := s.lookupScan(c); ok {
		c.JSON(http.StatusOK, newScanResponse(res))
	}
}

func (s *server) scanCSV(c *gin.Context) {
	res, ok := s.lookupScan(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := scan.WriteCSV(&buf, res.Regions()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build csv"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="decoded_result.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
