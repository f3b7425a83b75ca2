package job

import (
	"io"
	"time"

	"docclassifier/internal/archive"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError || s == StatusCancelled
}

// State is the lifecycle variant of a job. Artifacts only exist on Done.
type State interface {
	Status() Status
	isState()
}

type Queued struct{}

type Running struct{}

type Done struct {
	Artifacts Artifacts
}

type Failed struct {
	Err string
}

type Cancelled struct{}

func (Queued) Status() Status { return StatusQueued }
func (Running) Status() Status { return StatusRunning }
func (Done) Status() Status { return StatusDone }
func (Failed) Status() Status { return StatusError }
func (Cancelled) Status() Status { return StatusCancelled }

func (Queued) isState() {}
func (Running) isState() {}
func (Done) isState() {}
func (Failed) isState() {}
func (Cancelled) isState() {}

// canTransition enforces queued -> running -> {done|error|cancelled}. A job
// may also fail or be cancelled before its worker starts running it.
func canTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning || to == StatusError || to == StatusCancelled
	case StatusRunning:
		return to.Terminal()
	default:
		return false
	}
}

// ArtifactKind names a downloadable job artifact.
type ArtifactKind string

const (
	ArtifactAll               ArtifactKind = ArtifactKind(archive.KindAll)
	ArtifactReceiptsUnstamped ArtifactKind = ArtifactKind(archive.KindReceiptsUnstamped)
	ArtifactReceiptsStamped   ArtifactKind = ArtifactKind(archive.KindReceiptsStamped)
	ArtifactCreditNotes       ArtifactKind = ArtifactKind(archive.KindCreditNotes)
	ArtifactCSV               ArtifactKind = "csv"
	ArtifactXLSX              ArtifactKind = "xlsx"
)

// ArtifactKinds lists every kind in display order.
var ArtifactKinds = []ArtifactKind{
	ArtifactReceiptsUnstamped,
	ArtifactReceiptsStamped,
	ArtifactCreditNotes,
	ArtifactAll,
	ArtifactCSV,
	ArtifactXLSX,
}

// Artifacts are the files produced by a finished job. CSV and XLSX are
// empty when no page was classified.
type Artifacts struct {
	Zips map[archive.Kind]string `json:"zips"`
	CSV  string                  `json:"csv,omitempty"`
	XLSX string                  `json:"xlsx,omitempty"`
}

// Path returns the file backing kind, or "" when the job has none.
func (a Artifacts) Path(kind ArtifactKind) string {
	switch kind {
	case ArtifactCSV:
		return a.CSV
	case ArtifactXLSX:
		return a.XLSX
	default:
		return a.Zips[archive.Kind(kind)]
	}
}

func (a Artifacts) clone() Artifacts {
	zips := make(map[archive.Kind]string, len(a.Zips))
	for k, v := range a.Zips {
		zips[k] = v
	}
	return Artifacts{Zips: zips, CSV: a.CSV, XLSX: a.XLSX}
}

// Settings are the per-job processing parameters.
type Settings struct {
	DPI   int
	Delay time.Duration
	Model string
}

// Progress is the counters and message shown to pollers.
type Progress struct {
	Pct       int
	Message   string
	Processed int
	Total     int
}

func (p *Progress) recompute() {
	if p.Total > 0 {
		p.Pct = clampPct(float64(p.Processed) / float64(p.Total) * 100)
	}
}

func clampPct(x float64) int {
	if x < 0 {
		return 0
	}
	if x > 100 {
		return 100
	}
	return int(x)
}

// Job is the mutable record held by the Store.
type Job struct {
	ID              string
	CreatedAt       time.Time
	State           State
	Progress        Progress
	CancelRequested bool
	Log             *LogBuffer
	Settings        Settings

	Dir       string
	InputDir  string
	OutputDir string
}

// Snapshot is a consistent copy of a job taken under the store lock.
type Snapshot struct {
	ID              string     `json:"job_id"`
	Status          Status     `json:"status"`
	ProgressPct     int        `json:"progress_pct"`
	Message         string     `json:"message"`
	Error           string     `json:"error,omitempty"`
	ProcessedPages  int        `json:"processed_pages"`
	TotalPages      int        `json:"total_pages"`
	CancelRequested bool       `json:"cancel_requested"`
	CreatedAt       time.Time  `json:"created_at"`
	LogTail         []string   `json:"log_tail"`
	Artifacts       *Artifacts `json:"artifacts,omitempty"`
}

// Upload is one file received with a submission.
type Upload struct {
	Filename string
	Content  io.Reader
}
