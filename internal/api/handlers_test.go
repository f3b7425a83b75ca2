package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"docclassifier/internal/job"
	"docclassifier/internal/oracle"
	"docclassifier/internal/render"
)

type onePageRenderer struct{}

func (onePageRenderer) PageCount(string) (int, error) { return 1, nil }

func (onePageRenderer) Render(_ context.Context, path string, _ int) ([]render.Page, error) {
	return []render.Page{{Number: 1, PNG: []byte(filepath.Base(path))}}, nil
}

// receiptClassifier treats files whose name starts with "r" as unstamped
// receipts and blocks while gate is open.
type receiptClassifier struct {
	gate chan struct{}
}

func (c receiptClassifier) Classify(ctx context.Context, image []byte, _ string) (oracle.Verdict, error) {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return oracle.Verdict{}, ctx.Err()
		}
	}
	return oracle.Verdict{IsReceipt: strings.HasPrefix(string(image), "r")}, nil
}

func setupRouter(t *testing.T, classifier oracle.Classifier) (*gin.Engine, *job.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	testRouter := gin.New()
	testManager := job.NewManager(job.Options{
		DataDir:    t.TempDir(),
		Renderer:   onePageRenderer{},
		Classifier: classifier,
	})
	apiHandler := NewAPI(testManager)
	apiHandler.RegisterRoutes(testRouter)
	apiHandler.RegisterUIRoutes(testRouter)
	return testRouter, testManager
}

func multipartBody(t *testing.T, fields map[string]string, files ...string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, name := range files {
		part, err := w.CreateFormFile(formFieldPDFs, name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = part.Write([]byte("%PDF-1.4 test"))
	}
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return body, w.FormDataContentType()
}

func doRequest(router *gin.Engine, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", contentType)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func submitJob(t *testing.T, router *gin.Engine, files ...string) string {
	t.Helper()
	body, ct := multipartBody(t, map[string]string{"dpi": "100", "sleep_sec": "0"}, files...)
	w := doRequest(router, http.MethodPost, "/api/process", body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var resp processResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.JobID == "" {
		t.Fatalf("bad process response: %s", w.Body.String())
	}
	return resp.JobID
}

func pollJob(t *testing.T, router *gin.Engine, id string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w := doRequest(router, http.MethodGet, "/api/job/"+id, nil, "")
		if w.Code != http.StatusOK {
			t.Fatalf("poll: expected 200, got %d", w.Code)
		}
		var resp map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		switch resp["status"] {
		case "done", "error", "cancelled":
			return resp
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return nil
}

func TestProcessPollAndDownload(t *testing.T) {
	router, _ := setupRouter(t, receiptClassifier{})
	id := submitJob(t, router, "r1.pdf", "c1.pdf")

	resp := pollJob(t, router, id)
	if resp["status"] != "done" || resp["progress_pct"].(float64) != 100 || resp["error"] != nil {
		t.Fatalf("unexpected job response: %v", resp)
	}
	for _, key := range []string{"job_id", "message", "processed_pages", "total_pages", "downloads", "log_tail"} {
		if _, ok := resp[key]; !ok {
			t.Fatalf("missing key %q in %v", key, resp)
		}
	}
	downloads := resp["downloads"].(map[string]any)
	for _, key := range []string{"receipts_unstamped_zip", "receipts_stamped_zip", "credit_notes_zip", "all_zip", "csv_log", "xlsx_log"} {
		if _, ok := downloads[key]; !ok {
			t.Fatalf("missing download %q in %v", key, downloads)
		}
	}

	w := doRequest(router, http.MethodGet, downloads["receipts_unstamped_zip"].(string), nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("download: expected 200, got %d", w.Code)
	}
	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	if err != nil {
		t.Fatalf("zip: %v", err)
	}
	if len(zr.File) != 1 || zr.File[0].Name != "r1/receipts/unstamped/page_1.png" {
		t.Fatalf("unexpected zip contents")
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "receipts_unstamped.zip") {
		t.Fatalf("unexpected content disposition %q", cd)
	}
	again := doRequest(router, http.MethodGet, downloads["receipts_unstamped_zip"].(string), nil, "")
	if again.Code != http.StatusOK || !bytes.Equal(again.Body.Bytes(), w.Body.Bytes()) {
		t.Fatalf("repeated download returned different content")
	}

	w = doRequest(router, http.MethodGet, "/api/job/"+id+"/download/csv", nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "c1.pdf,1,CREDIT_NOTE") {
		t.Fatalf("csv download: %d %s", w.Code, w.Body.String())
	}
}

func TestDownloadErrors(t *testing.T) {
	gate := make(chan struct{})
	router, _ := setupRouter(t, receiptClassifier{gate: gate})
	id := submitJob(t, router, "r1.pdf")

	w := doRequest(router, http.MethodGet, "/api/job/"+id+"/download/all", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 before completion, got %d", w.Code)
	}
	w = doRequest(router, http.MethodGet, "/api/job/"+id, nil, "")
	if !strings.Contains(w.Body.String(), `"downloads":null`) {
		t.Fatalf("running job must report null downloads: %s", w.Body.String())
	}
	close(gate)
	pollJob(t, router, id)

	cases := []struct {
		path string
		want int
	}{
		{"/api/job/" + id + "/download/bogus", http.StatusNotFound},
		{"/api/job/missing/download/all", http.StatusNotFound},
		{"/api/job/" + id + "/download/receipts_stamped", http.StatusOK},
		{"/api/job/" + id + "/download/all", http.StatusOK},
		{"/api/job/" + id + "/download/xlsx", http.StatusOK},
	}
	for _, tc := range cases {
		if w := doRequest(router, http.MethodGet, tc.path, nil, ""); w.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.path, tc.want, w.Code)
		}
	}
}

func TestCancelJob(t *testing.T) {
	gate := make(chan struct{})
	router, _ := setupRouter(t, receiptClassifier{gate: gate})
	id := submitJob(t, router, "r1.pdf", "r2.pdf")

	w := doRequest(router, http.MethodPost, "/api/job/"+id+"/cancel", nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
	close(gate)
	resp := pollJob(t, router, id)
	if resp["status"] != "cancelled" {
		t.Fatalf("expected cancelled, got %v", resp["status"])
	}
	if downloads, ok := resp["downloads"]; !ok || downloads != nil {
		t.Fatalf("cancelled job must report null downloads: %v", resp)
	}

	if w := doRequest(router, http.MethodPost, "/api/job/missing/cancel", nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestProcessValidation(t *testing.T) {
	router, _ := setupRouter(t, receiptClassifier{})

	body, ct := multipartBody(t, map[string]string{"dpi": "100"})
	if w := doRequest(router, http.MethodPost, "/api/process", body, ct); w.Code != http.StatusBadRequest {
		t.Fatalf("no files: expected 400, got %d", w.Code)
	}
	body, ct = multipartBody(t, map[string]string{"dpi": "high"}, "a.pdf")
	if w := doRequest(router, http.MethodPost, "/api/process", body, ct); w.Code != http.StatusBadRequest {
		t.Fatalf("bad dpi: expected 400, got %d", w.Code)
	}
	body, ct = multipartBody(t, map[string]string{"sleep_sec": "-1"}, "a.pdf")
	if w := doRequest(router, http.MethodPost, "/api/process", body, ct); w.Code != http.StatusBadRequest {
		t.Fatalf("bad sleep: expected 400, got %d", w.Code)
	}
	if w := doRequest(router, http.MethodGet, "/api/job/unknown", nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown job: expected 404, got %d", w.Code)
	}
}

func TestProcessWithoutClassifier(t *testing.T) {
	router, _ := setupRouter(t, nil)
	body, ct := multipartBody(t, nil, "a.pdf")
	w := doRequest(router, http.MethodPost, "/api/process", body, ct)
	if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), "GROQ_API_KEY") {
		t.Fatalf("expected 500 mentioning the key, got %d %s", w.Code, w.Body.String())
	}

	w = doRequest(router, http.MethodGet, "/health", nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"classifier_ready":false`) {
		t.Fatalf("health: %d %s", w.Code, w.Body.String())
	}
}

func TestJobWithoutPDFsReportsError(t *testing.T) {
	router, _ := setupRouter(t, receiptClassifier{})
	id := submitJob(t, router, "notes.txt")
	resp := pollJob(t, router, id)
	if resp["status"] != "error" || resp["error"] != job.ErrNoDocuments.Error() {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestListJobs(t *testing.T) {
	router, _ := setupRouter(t, receiptClassifier{})
	id := submitJob(t, router, "r1.pdf")
	pollJob(t, router, id)

	w := doRequest(router, http.MethodGet, "/api/jobs", nil, "")
	var resp struct {
		Jobs []jobSummary `json:"jobs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Jobs) != 1 || resp.Jobs[0].JobID != id || resp.Jobs[0].Status != job.StatusDone {
		t.Fatalf("unexpected jobs: %+v", resp.Jobs)
	}
}

func TestUIFlow(t *testing.T) {
	router, _ := setupRouter(t, receiptClassifier{})

	w := doRequest(router, http.MethodGet, "/", nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `name="pdfs"`) {
		t.Fatalf("home: %d", w.Code)
	}

	body, ct := multipartBody(t, map[string]string{"sleep_sec": "0"}, "r1.pdf")
	w = doRequest(router, http.MethodPost, "/ui/process", body, ct)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect, got %d", w.Code)
	}
	location := w.Header().Get("Location")
	id := strings.TrimPrefix(location, "/ui/jobs/")
	pollJob(t, router, id)

	w = doRequest(router, http.MethodGet, location, nil, "")
	page := w.Body.String()
	if w.Code != http.StatusOK || strings.Contains(page, `http-equiv="refresh"`) {
		t.Fatalf("finished job page should not refresh: %d", w.Code)
	}
	if !strings.Contains(page, fmt.Sprintf("/api/job/%s/download/receipts_unstamped", id)) {
		t.Fatalf("job page missing download link")
	}

	if w := doRequest(router, http.MethodGet, "/ui/jobs/nope", nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORS([]string{"http://localhost:3000"}))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("preflight: %d %v", w.Code, w.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected CORS header for disallowed origin")
	}
}
