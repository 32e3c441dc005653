package apihandlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"rustler/internal/app"
	"rustler/internal/clix"
	"rustler/internal/models"
	"rustler/internal/services"
)

// multipartOverhead is headroom for multipart framing on top of the file
// size limit.
const multipartOverhead = 1 << 20

type Ingester interface {
	Submit(ctx context.Context, params services.SubmitParams) (*models.FileRecord, error)
}

type StatusReader interface {
	GetStatus(ctx context.Context, fileID string) (*models.FileRecord, error)
	List(ctx context.Context, params services.ListParams) ([]*models.FileRecord, error)
}

type Reconciler interface {
	Sweep(ctx context.Context) (services.SweepResult, error)
}

type HealthChecker interface {
	Check(ctx context.Context, target string) (*services.HealthReport, error)
}

type APIHandler struct {
	Ingestion      Ingester
	Status         StatusReader
	Reconcile      Reconciler
	Health         HealthChecker
	MaxUploadBytes int64
}

func NewAPIHandler(a *app.App) *APIHandler {
	return &APIHandler{
		Ingestion:      a.IngestionService,
		Status:         a.StatusService,
		Reconcile:      a.ReconcileService,
		Health:         a.HealthService,
		MaxUploadBytes: a.Config.Ingest.MaxFileSize,
	}
}

// UploadFileHandler accepts a multipart upload in the "file" field.
func (h *APIHandler) UploadFileHandler(c *gin.Context) {
	if h.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes+multipartOverhead)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			PayloadTooLarge(c, fmt.Sprintf("upload exceeds the %d byte limit", h.MaxUploadBytes))
			return
		}
		BadRequest(c, "Missing multipart field 'file': "+err.Error())
		return
	}

	f, err := header.Open()
	if err != nil {
		BadRequest(c, "Cannot read uploaded file: "+err.Error())
		return
	}
	defer f.Close()

	var reader io.Reader = f
	if h.MaxUploadBytes > 0 {
		reader = io.LimitReader(f, h.MaxUploadBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		BadRequest(c, "Cannot read uploaded file: "+err.Error())
		return
	}

	rec, err := h.Ingestion.Submit(c.Request.Context(), services.SubmitParams{
		Data:         data,
		OriginalName: header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": rec})
}

func (h *APIHandler) GetFileHandler(c *gin.Context) {
	rec, err := h.Status.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rec})
}

func (h *APIHandler) ListFilesHandler(c *gin.Context) {
	params, err := parseListFilesParams(c)
	if err != nil {
		BadRequest(c, "Invalid query parameters: "+err.Error())
		return
	}

	items, err := h.Status.List(c.Request.Context(), params)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":   items,
		"count":  len(items),
		"limit":  params.Limit,
		"offset": params.Offset,
	})
}

// parseListFilesParams parses ?status=a,b&limit=&offset=.
func parseListFilesParams(c *gin.Context) (services.ListParams, error) {
	params := services.ListParams{Limit: services.DefaultListLimit}
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			return params, fmt.Errorf("invalid limit: %s", l)
		}
		params.Limit = min(parsed, services.MaxListLimit)
	}
	if o := c.Query("offset"); o != "" {
		parsed, err := strconv.Atoi(o)
		if err != nil || parsed < 0 {
			return params, fmt.Errorf("invalid offset: %s", o)
		}
		params.Offset = parsed
	}
	statuses, err := clix.ParseStatusList(c.Query("status"))
	if err != nil {
		return params, err
	}
	params.Statuses = statuses
	return params, nil
}

func (h *APIHandler) ReconcileHandler(c *gin.Context) {
	result, err := h.Reconcile.Sweep(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	log.WithField("requeued", result.Requeued).Info("Reconcile sweep triggered over API")
	c.JSON(http.StatusOK, gin.H{"data": result})
}

// HealthHandler reports 200 when every checked component is ok and 503
// otherwise. The report body is returned either way.
func (h *APIHandler) HealthHandler(c *gin.Context) {
	report, err := h.Health.Check(c.Request.Context(), c.Param("target"))
	if err != nil {
		RespondError(c, err)
		return
	}
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
