package api

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docclassifier/internal/job"
)

const recentJobsOnHome = 10

var uiTemplates = template.Must(template.New("layout").Parse(`{{define "layout"}}
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  {{if .Refresh}}<meta http-equiv="refresh" content="2"/>{{end}}
  <title>Document classifier</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:880px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    header{margin-bottom:24px}
    h1{font-size:22px;margin:0 0 8px}
    a{color:#0b63e5;text-decoration:none}
    a:hover{text-decoration:underline}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .row{display:flex;gap:12px;flex-wrap:wrap;align-items:center}
    .btn{display:inline-block;background:#0b63e5;color:#fff;border:none;padding:10px 14px;border-radius:8px;cursor:pointer}
    .btn.secondary{background:#444}
    input[type=text],input[type=number]{padding:9px 10px;border:1px solid #dcdcdc;border-radius:8px}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,monospace}
    .list{margin:0;padding-left:18px}
    .status{display:inline-block;padding:4px 8px;border-radius:6px;background:#efefef;font-size:12px}
    .bar{height:10px;background:#eee;border-radius:5px;overflow:hidden}
    .bar div{height:100%;background:#0b63e5}
    pre{background:#111;color:#ddd;padding:12px;border-radius:8px;overflow:auto;font-size:12px;max-height:420px}
    footer{margin-top:24px;color:#666;font-size:12px}
  </style>
</head>
<body>
  <header>
    <h1><a href="/">Receipt and credit note classifier</a></h1>
    <div class="muted">Upload PDFs, each page is classified and filed</div>
  </header>
  {{if .Error}}
  <div class="card" style="border-color:#f2b8b5;background:#fff6f6">
    <strong style="color:#b3261e">Error:</strong> <span class="muted">{{.Error}}</span>
  </div>
  {{end}}
  {{if eq .Page "job"}}{{template "content-job" .}}{{else}}{{template "content-home" .}}{{end}}
  <footer>
    <div>API base: <span class="mono">/api</span></div>
  </footer>
</body>
</html>
{{end}}

{{define "home"}}{{template "layout" .}}{{end}}
{{define "job"}}{{template "layout" .}}{{end}}

{{define "content-home"}}
  <div class="card">
    <h2>New job</h2>
    {{if not .Ready}}<div class="muted">Classifier is not configured: set GROQ_API_KEY and restart.</div>{{end}}
    <form method="post" action="/ui/process" enctype="multipart/form-data">
      <p><input type="file" name="pdfs" accept="application/pdf,.pdf" multiple required /></p>
      <div class="row">
        <label>DPI <input type="number" name="dpi" value="{{.Defaults.DPI}}" min="1" /></label>
        <label>Delay (s) <input type="number" name="sleep_sec" value="{{.DelaySec}}" min="0" step="0.1" /></label>
      </div>
      <p><label>Model <input type="text" name="model" value="{{.Defaults.Model}}" size="48" /></label></p>
      <button class="btn" type="submit">Process</button>
    </form>
    <div class="muted">POST /api/process</div>
  </div>

  <div class="card">
    <h2>Recent jobs</h2>
    {{if .Jobs}}
    <ul class="list">
      {{range .Jobs}}
      <li><a class="mono" href="/ui/jobs/{{.ID}}">{{.ID}}</a> <span class="status">{{.Status}}</span> <span class="muted">{{.ProgressPct}}% · {{.ProcessedPages}}/{{.TotalPages}} pages</span></li>
      {{end}}
    </ul>
    {{else}}
    <div class="muted">No jobs yet</div>
    {{end}}
  </div>
{{end}}

{{define "content-job"}}
  <div class="card">
    <h2>Job <span class="mono">{{.Job.ID}}</span></h2>
    <div>Status: <span class="status">{{.Job.Status}}</span> <span class="muted">{{.Job.Message}}</span></div>
    <div class="bar" style="margin:12px 0"><div style="width:{{.Job.ProgressPct}}%"></div></div>
    <div class="muted">{{.Job.ProgressPct}}% · {{.Job.ProcessedPages}}/{{.Job.TotalPages}} pages</div>
    {{if .Job.Error}}<div style="color:#b3261e;margin-top:8px">{{.Job.Error}}</div>{{end}}
    {{if .Refresh}}
    <form method="post" action="/ui/jobs/{{.Job.ID}}/cancel" style="margin-top:12px">
      <button class="btn secondary" type="submit"{{if .Job.CancelRequested}} disabled{{end}}>{{if .Job.CancelRequested}}Cancelling…{{else}}Cancel{{end}}</button>
    </form>
    {{end}}
  </div>

  {{if .Links}}
  <div class="card">
    <h3>Downloads</h3>
    <ul class="list">
      {{range .Links}}<li><a href="{{.URL}}">{{.Label}}</a></li>{{end}}
    </ul>
  </div>
  {{end}}

  <div class="card">
    <h3>Log</h3>
    <pre>{{range .Job.LogTail}}{{.}}
{{end}}</pre>
    <div class="muted">GET /api/job/{{.Job.ID}}</div>
  </div>
{{end}}
`))

type uiLink struct {
	Label string
	URL   string
}

var downloadLabels = map[job.ArtifactKind]string{
	job.ArtifactReceiptsUnstamped: "Unstamped receipts (zip)",
	job.ArtifactReceiptsStamped:   "Stamped receipts (zip)",
	job.ArtifactCreditNotes:       "Credit notes (zip)",
	job.ArtifactAll:               "Everything (zip)",
	job.ArtifactCSV:               "Classification log (csv)",
	job.ArtifactXLSX:              "Classification log (xlsx)",
}

// RegisterUIRoutes registers minimal HTML UI without JS
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/", a.UIHome)
	router.POST("/ui/process", a.UIProcess)
	router.GET("/ui/jobs/:id", a.UIJob)
	router.POST("/ui/jobs/:id/cancel", a.UICancel)
}

// UIHome renders the upload form and the recent jobs
func (a *API) UIHome(c *gin.Context) {
	c.HTML(http.StatusOK, "home", a.homeData(""))
}

// UIProcess submits the upload form and redirects to the job page
func (a *API) UIProcess(c *gin.Context) {
	id, status, err := a.submitForm(c)
	if err != nil {
		c.HTML(status, "home", a.homeData(err.Error()))
		return
	}
	c.Redirect(http.StatusSeeOther, "/ui/jobs/"+id)
}

// UIJob renders a job page that refreshes itself until the job ends
func (a *API) UIJob(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	snap, err := a.jobManager.Snapshot(id)
	if err != nil {
		c.HTML(http.StatusNotFound, "home", a.homeData("job not found"))
		return
	}
	links := make([]uiLink, 0, len(job.ArtifactKinds))
	if snap.Status == job.StatusDone && snap.Artifacts != nil {
		for _, kind := range job.ArtifactKinds {
			if snap.Artifacts.Path(kind) != "" {
				links = append(links, uiLink{Label: downloadLabels[kind], URL: downloadURL(snap.ID, kind)})
			}
		}
	}
	c.HTML(http.StatusOK, "job", gin.H{
		"Page":    "job",
		"Job":     snap,
		"Links":   links,
		"Refresh": !snap.Status.Terminal(),
	})
}

// UICancel requests cancellation and redirects back to the job page
func (a *API) UICancel(c *gin.Context) {
	id := c.Param("id")
	if err := a.jobManager.Cancel(id); err != nil {
		c.HTML(http.StatusNotFound, "home", a.homeData("job not found"))
		return
	}
	c.Redirect(http.StatusSeeOther, "/ui/jobs/"+id)
}

func (a *API) homeData(errMsg string) gin.H {
	jobs := a.jobManager.List()
	if len(jobs) > recentJobsOnHome {
		jobs = jobs[:recentJobsOnHome]
	}
	defaults := a.jobManager.Defaults()
	return gin.H{
		"Page":     "home",
		"Error":    errMsg,
		"Ready":    a.jobManager.Ready(),
		"Defaults": defaults,
		"DelaySec": defaults.Delay.Seconds(),
		"Jobs":     jobs,
	}
}
