package job

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	fileutil "docclassifier/internal/file"
	"docclassifier/internal/oracle"
	"docclassifier/internal/render"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	pollLogTail   = 40
	jobIDLength   = 12
	maxIDAttempts = 8
)

// Options configures a Manager.
type Options struct {
	DataDir           string
	MaxConcurrentJobs int // 0 means unbounded
	LogCapacity       int
	OracleTimeout     time.Duration
	Defaults          Settings
	Renderer          render.Renderer
	Classifier        oracle.Classifier // nil disables submissions
}

// Manager owns the job store and runs one background worker per job.
type Manager struct {
	store         *Store
	layout        layout
	renderer      render.Renderer
	classifier    oracle.Classifier
	defaults      Settings
	oracleTimeout time.Duration
	logCapacity   int
	semaphore     chan struct{}
	workersWG     sync.WaitGroup
	idSource      func() string

	mu      sync.RWMutex
	baseCtx context.Context
}

func NewManager(opts Options) *Manager {
	if opts.DataDir == "" {
		opts.DataDir = "data"
	}
	if opts.Defaults.DPI <= 0 {
		opts.Defaults.DPI = render.DefaultDPI
	}
	if opts.Defaults.Model == "" {
		opts.Defaults.Model = oracle.DefaultModel
	}
	m := &Manager{
		store:         NewStore(),
		layout:        layout{root: filepath.Join(opts.DataDir, "jobs")},
		renderer:      opts.Renderer,
		classifier:    opts.Classifier,
		defaults:      opts.Defaults,
		oracleTimeout: opts.OracleTimeout,
		logCapacity:   opts.LogCapacity,
		baseCtx:       context.Background(),
		idSource:      randomID,
	}
	if opts.MaxConcurrentJobs > 0 {
		m.semaphore = make(chan struct{}, opts.MaxConcurrentJobs)
	}
	return m
}

// Ready reports whether submissions are accepted.
func (m *Manager) Ready() bool { return m.classifier != nil && m.renderer != nil }

// Defaults returns the settings applied to blank submission fields.
func (m *Manager) Defaults() Settings { return m.defaults }

// Submit persists the PDF uploads into a fresh job directory and starts
// processing in the background. Non-PDF uploads are skipped. Uploads are
// fully consumed before Submit returns.
func (m *Manager) Submit(ctx context.Context, uploads []Upload, settings Settings) (string, error) {
	if !m.Ready() {
		return "", ErrOracleUnavailable
	}
	settings = m.withDefaults(settings)

	id, err := m.newJobID()
	if err != nil {
		return "", err
	}
	paths := m.layout.job(id)
	if err := fileutil.EnsureDirs(paths.input, paths.output); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}

	saved := make([]string, 0, len(uploads))
	for _, up := range uploads {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		name := filepath.Base(strings.TrimSpace(up.Filename))
		ext := filepath.Ext(name)
		if !strings.EqualFold(ext, ".pdf") || strings.TrimSuffix(name, ext) == "" {
			log.Debug().Str("job_id", id).Str("filename", up.Filename).Msg("skipping non-pdf upload")
			continue
		}
		if err := fileutil.CopyAtomic(filepath.Join(paths.input, name), up.Content); err != nil {
			return "", fmt.Errorf("save upload %s: %w", name, err)
		}
		saved = append(saved, name)
	}

	j := &Job{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		State:     Queued{},
		Progress:  Progress{Message: "Queued"},
		Log:       NewLogBuffer(m.logCapacity),
		Settings:  settings,
		Dir:       paths.dir,
		InputDir:  paths.input,
		OutputDir: paths.output,
	}
	if err := m.store.Create(j); err != nil {
		return "", err
	}
	m.logf(id, "Job %s created with %d PDF(s).", id, len(saved))

	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		m.run(id)
	}()
	return id, nil
}

// Snapshot returns the job with the poll-sized log tail.
func (m *Manager) Snapshot(id string) (Snapshot, error) {
	return m.store.Snapshot(id, pollLogTail)
}

func (m *Manager) List() []Snapshot {
	return m.store.List()
}

// Cancel requests cooperative cancellation. The flag is set even on a
// finished job, whose status stays as it is.
func (m *Manager) Cancel(id string) error {
	var status Status
	err := m.store.Update(id, func(j *Job) {
		status = j.State.Status()
		j.CancelRequested = true
	})
	if err != nil {
		return err
	}
	if !status.Terminal() {
		m.logf(id, "Cancel requested by user.")
	}
	return nil
}

// Artifact resolves a download of kind to a path on disk and the file name
// to serve it under.
func (m *Manager) Artifact(id string, kind ArtifactKind) (string, string, error) {
	var (
		done bool
		art  Artifacts
	)
	err := m.store.Update(id, func(j *Job) {
		if d, ok := j.State.(Done); ok {
			done = true
			art = d.Artifacts
		}
	})
	if err != nil {
		return "", "", err
	}
	if !done {
		return "", "", ErrNotReady
	}
	if !knownArtifact(kind) {
		return "", "", ErrUnknownArtifact
	}
	path := art.Path(kind)
	if path == "" || !fileutil.Exists(path) {
		return "", "", ErrArtifactMissing
	}
	return path, filepath.Base(path), nil
}

func knownArtifact(kind ArtifactKind) bool {
	for _, k := range ArtifactKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// SetBaseContext sets the context workers run under. Cancelling it stops
// every running job at its next boundary.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

func (m *Manager) baseContext() context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.baseCtx == nil {
		return context.Background()
	}
	return m.baseCtx
}

// WaitAll blocks until all workers finish or ctx is done.
// Returns true if all workers finished, false if timed out.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) withDefaults(s Settings) Settings {
	if s.DPI <= 0 {
		s.DPI = m.defaults.DPI
	}
	if s.Delay < 0 {
		s.Delay = 0
	}
	if strings.TrimSpace(s.Model) == "" {
		s.Model = m.defaults.Model
	}
	return s
}

func randomID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:jobIDLength]
}

// newJobID skips ids that are live in the store or left on disk by an
// earlier run.
func (m *Manager) newJobID() (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := m.idSource()
		if !m.store.Has(id) && !fileutil.DirExists(m.layout.job(id).dir) {
			return id, nil
		}
	}
	return "", ErrJobExists
}

// transition moves the job to next if the lifecycle allows it.
func transition(j *Job, next State) bool {
	if !canTransition(j.State.Status(), next.Status()) {
		return false
	}
	j.State = next
	return true
}

func (m *Manager) logf(id, format string, args ...any) {
	m.logAt(zerolog.InfoLevel, id, format, args...)
}

func (m *Manager) warnf(id, format string, args ...any) {
	m.logAt(zerolog.WarnLevel, id, format, args...)
}

// logAt appends the line to the job log and mirrors it to the process log.
func (m *Manager) logAt(level zerolog.Level, id, format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	_ = m.store.Update(id, func(j *Job) { j.Log.Append(line) })
	log.WithLevel(level).Str("job_id", id).Msg(line)
}

// writeManifest stores the terminal snapshot next to the job artifacts.
func (m *Manager) writeManifest(id string) {
	snap, err := m.store.Snapshot(id, 0)
	if err != nil {
		return
	}
	path := m.layout.job(id).manifest
	if err := fileutil.WriteJSONAtomic(path, snap); err != nil {
		log.Warn().Str("job_id", id).Err(err).Msg("write manifest failed")
	}
}
