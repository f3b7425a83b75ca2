package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"docclassifier/internal/job"
)

const formFieldPDFs = "pdfs"

type processResponse struct {
	JobID string `json:"job_id"`
}

type jobResponse struct {
	JobID          string            `json:"job_id"`
	Status         job.Status        `json:"status"`
	ProgressPct    int               `json:"progress_pct"`
	Message        string            `json:"message"`
	Error          *string           `json:"error"`
	ProcessedPages int               `json:"processed_pages"`
	TotalPages     int               `json:"total_pages"`
	Downloads      map[string]string `json:"downloads"`
	LogTail        []string          `json:"log_tail"`
}

type jobSummary struct {
	JobID          string     `json:"job_id"`
	Status         job.Status `json:"status"`
	ProgressPct    int        `json:"progress_pct"`
	ProcessedPages int        `json:"processed_pages"`
	TotalPages     int        `json:"total_pages"`
	CreatedAt      string     `json:"created_at"`
}

// downloadKeys names each artifact in the downloads map of a job response.
var downloadKeys = map[job.ArtifactKind]string{
	job.ArtifactReceiptsUnstamped: "receipts_unstamped_zip",
	job.ArtifactReceiptsStamped:   "receipts_stamped_zip",
	job.ArtifactCreditNotes:       "credit_notes_zip",
	job.ArtifactAll:               "all_zip",
	job.ArtifactCSV:               "csv_log",
	job.ArtifactXLSX:              "xlsx_log",
}

type API struct {
	jobManager *job.Manager
}

func NewAPI(jobManager *job.Manager) *API {
	return &API{jobManager: jobManager}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", a.Health)
	api := router.Group("/api")
	{
		api.POST("/process", a.Process)
		api.GET("/jobs", a.ListJobs)
		api.GET("/job/:id", a.GetJob)
		api.POST("/job/:id/cancel", a.CancelJob)
		api.GET("/job/:id/download/:kind", a.Download)
	}
}

func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "classifier_ready": a.jobManager.Ready()})
}

// Process accepts a multipart upload and starts a job
func (a *API) Process(c *gin.Context) {
	id, status, err := a.submitForm(c)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, processResponse{JobID: id})
}

// GetJob returns the job status with the recent log lines
func (a *API) GetJob(c *gin.Context) {
	id := c.Param("id")
	snap, err := a.jobManager.Snapshot(id)
	if err != nil {
		log.Warn().Str("job_id", id).Msg("job not found on get")
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, toJobResponse(snap))
}

func (a *API) ListJobs(c *gin.Context) {
	snaps := a.jobManager.List()
	out := make([]jobSummary, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, jobSummary{
			JobID:          s.ID,
			Status:         s.Status,
			ProgressPct:    s.ProgressPct,
			ProcessedPages: s.ProcessedPages,
			TotalPages:     s.TotalPages,
			CreatedAt:      s.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out})
}

// CancelJob requests cooperative cancellation
func (a *API) CancelJob(c *gin.Context) {
	id := c.Param("id")
	if err := a.jobManager.Cancel(id); err != nil {
		log.Warn().Str("job_id", id).Msg("job not found on cancel")
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Download serves one artifact of a finished job
func (a *API) Download(c *gin.Context) {
	id := c.Param("id")
	kind := job.ArtifactKind(c.Param("kind"))
	path, name, err := a.jobManager.Artifact(id, kind)
	if err != nil {
		status := downloadStatus(err)
		log.Warn().Str("job_id", id).Str("kind", string(kind)).Err(err).Msg("download rejected")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("job_id", id).Str("path", path).Msg("serving download")
	c.FileAttachment(path, name)
}

func downloadStatus(err error) int {
	switch {
	case errors.Is(err, job.ErrNotReady):
		return http.StatusBadRequest
	case errors.Is(err, job.ErrJobNotFound),
		errors.Is(err, job.ErrUnknownArtifact),
		errors.Is(err, job.ErrArtifactMissing):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// submitForm reads the multipart form shared by the API and the UI and
// submits it. The returned status is meaningful only when err is set.
func (a *API) submitForm(c *gin.Context) (string, int, error) {
	settings, err := a.parseSettings(c)
	if err != nil {
		return "", http.StatusBadRequest, err
	}
	form, err := c.MultipartForm()
	if err != nil {
		return "", http.StatusBadRequest, errors.New("expected multipart form with pdfs")
	}
	headers := form.File[formFieldPDFs]
	if len(headers) == 0 {
		return "", http.StatusBadRequest, errors.New("no files uploaded")
	}

	uploads := make([]job.Upload, 0, len(headers))
	files := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			return "", http.StatusBadRequest, fmt.Errorf("read upload %s: %w", h.Filename, err)
		}
		files = append(files, f)
		uploads = append(uploads, job.Upload{Filename: h.Filename, Content: f})
	}

	id, err := a.jobManager.Submit(c.Request.Context(), uploads, settings)
	if err != nil {
		log.Error().Err(err).Msg("job submission failed")
		if errors.Is(err, job.ErrOracleUnavailable) {
			return "", http.StatusInternalServerError, errors.New("classifier not configured: set GROQ_API_KEY")
		}
		return "", http.StatusInternalServerError, err
	}
	log.Info().Str("job_id", id).Int("uploads", len(uploads)).Int("dpi", settings.DPI).Msg("job submitted")
	return id, 0, nil
}

func (a *API) parseSettings(c *gin.Context) (job.Settings, error) {
	settings := a.jobManager.Defaults()
	if raw := strings.TrimSpace(c.PostForm("dpi")); raw != "" {
		dpi, err := strconv.Atoi(raw)
		if err != nil || dpi <= 0 {
			return settings, fmt.Errorf("invalid dpi: %q", raw)
		}
		settings.DPI = dpi
	}
	if raw := strings.TrimSpace(c.PostForm("sleep_sec")); raw != "" {
		sec, err := strconv.ParseFloat(raw, 64)
		if err != nil || sec < 0 {
			return settings, fmt.Errorf("invalid sleep_sec: %q", raw)
		}
		settings.Delay = time.Duration(sec * float64(time.Second))
	}
	if model := strings.TrimSpace(c.PostForm("model")); model != "" {
		settings.Model = model
	}
	return settings, nil
}

func toJobResponse(snap job.Snapshot) jobResponse {
	resp := jobResponse{
		JobID:          snap.ID,
		Status:         snap.Status,
		ProgressPct:    snap.ProgressPct,
		Message:        snap.Message,
		ProcessedPages: snap.ProcessedPages,
		TotalPages:     snap.TotalPages,
		Downloads:      downloadLinks(snap),
		LogTail:        snap.LogTail,
	}
	if snap.Error != "" {
		msg := snap.Error
		resp.Error = &msg
	}
	if resp.LogTail == nil {
		resp.LogTail = []string{}
	}
	return resp
}

// downloadLinks lists the artifacts a finished job actually has. It is nil
// until the job is done so the field encodes as null.
func downloadLinks(snap job.Snapshot) map[string]string {
	if snap.Status != job.StatusDone || snap.Artifacts == nil {
		return nil
	}
	links := make(map[string]string)
	for _, kind := range job.ArtifactKinds {
		if snap.Artifacts.Path(kind) == "" {
			continue
		}
		links[downloadKeys[kind]] = downloadURL(snap.ID, kind)
	}
	return links
}

func downloadURL(id string, kind job.ArtifactKind) string {
	return "/api/job/" + id + "/download/" + string(kind)
}
