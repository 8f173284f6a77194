package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cassavanet/cassavanet/internal/display"
	"github.com/cassavanet/cassavanet/internal/gallery"
	"github.com/cassavanet/cassavanet/internal/logger"
	"github.com/cassavanet/cassavanet/internal/preprocess"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// HandleError logs err with a correlation id and replies with message.
func (s *Server) HandleError(c echo.Context, err error, message string, code int) error {
	resp := ErrorResponse{
		Error:         message,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
	if err != nil {
		resp.Error = err.Error()
	}

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("path", c.Path()),
		logger.Int("code", code),
		logger.String("ip", c.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if code >= http.StatusInternalServerError {
		s.log.Error(message, fields...)
	} else {
		s.log.Warn(message, fields...)
	}
	return c.JSON(code, resp)
}

// classify handles POST /api/v1/classify with a multipart "image" field.
func (s *Server) classify(c echo.Context) error {
	fh, err := c.FormFile("image")
	if err != nil {
		return s.HandleError(c, err, gallery.MsgNoImage, http.StatusBadRequest)
	}
	if fh.Size > s.config.MaxUploadSize {
		return s.HandleError(c, fmt.Errorf("upload is %d bytes, limit is %d", fh.Size, s.config.MaxUploadSize),
			gallery.MsgProcessingError, http.StatusRequestEntityTooLarge)
	}
	if s.metrics != nil {
		s.metrics.HTTP.RecordUpload(fh.Size)
	}

	f, err := fh.Open()
	if err != nil {
		return s.HandleError(c, err, gallery.MsgProcessingError, http.StatusBadRequest)
	}
	defer f.Close()

	img, format, err := preprocess.Decode(f)
	if err != nil {
		return s.HandleError(c, err, gallery.MsgProcessingError, http.StatusBadRequest)
	}

	pred, err := s.classifier.Classify(img)
	if err != nil {
		return s.HandleError(c, err, "Inference failed", http.StatusInternalServerError)
	}

	rec := display.NewRecord(fh.Filename, pred, nil)
	rec.ID = uuid.NewString()
	s.results.SetDefault(rec.ID, rec)

	s.log.Debug("Upload classified",
		logger.String("id", rec.ID),
		logger.String("format", format),
		logger.Int("class", pred.Class),
		logger.Float32("confidence", pred.Confidence))

	return c.JSON(http.StatusOK, rec)
}

// getPrediction handles GET /api/v1/predictions/:id.
func (s *Server) getPrediction(c echo.Context) error {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return s.HandleError(c, err, "Invalid prediction id", http.StatusBadRequest)
	}
	v, ok := s.results.Get(id)
	if !ok {
		return s.HandleError(c, nil, "Prediction not found or expired", http.StatusNotFound)
	}
	return c.JSON(http.StatusOK, v)
}

// LabelEntry is one row of the label table.
type LabelEntry struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// getLabels handles GET /api/v1/labels.
func (s *Server) getLabels(c echo.Context) error {
	table := s.classifier.Labels()
	entries := make([]LabelEntry, 0, table.Len())
	for _, i := range table.Indices() {
		name, _ := table.Lookup(i)
		entries = append(entries, LabelEntry{Index: i, Name: name})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"count":  len(entries),
		"labels": entries,
	})
}

// healthCheck handles GET /api/v1/health.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	body := map[string]any{
		"status":         "healthy",
		"version":        s.config.Version,
		"build_date":     s.config.BuildDate,
		"uptime":         uptime.Round(time.Second).String(),
		"uptime_seconds": uptime.Seconds(),
		"labels":         s.classifier.Labels().Len(),
		"cached_results": s.results.ItemCount(),
		"timestamp":      time.Now().Format(time.RFC3339),
	}
	if s.modelInfo != nil {
		body["model"] = s.modelInfo
	}
	return c.JSON(http.StatusOK, body)
}

// about handles GET /api/v1/about.
func (s *Server) about(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	return display.About(c.Response(), s.classifier.Labels())
}
