package job

import (
	"sort"
	"sync"
)

// Store holds every job of the process in memory. A single lock guards the
// map and all fields of the records it contains.
type Store struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewStore() *Store {
	return &Store{jobs: make(map[string]*Job)}
}

func (s *Store) Create(j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[j.ID]; exists {
		return ErrJobExists
	}
	s.jobs[j.ID] = j
	return nil
}

func (s *Store) Has(id string) bool {
	s.mu.Lock()
	_, ok := s.jobs[id]
	s.mu.Unlock()
	return ok
}

// Update runs fn with exclusive access to the job record. fn must not block.
func (s *Store) Update(id string, fn func(j *Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	fn(j)
	return nil
}

// Snapshot copies the job with the last tail log lines. tail <= 0 copies
// the whole buffer.
func (s *Store) Snapshot(id string, tail int) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Snapshot{}, ErrJobNotFound
	}
	return snapshotLocked(j, tail), nil
}

// List returns snapshots of all jobs, newest first, without log lines.
func (s *Store) List() []Snapshot {
	s.mu.Lock()
	out := make([]Snapshot, 0, len(s.jobs))
	for _, j := range s.jobs {
		snap := snapshotLocked(j, 0)
		snap.LogTail = nil
		out = append(out, snap)
	}
	s.mu.Unlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out
}

// RequestCancel flags the job. The worker observes the flag at its next
// document or page boundary.
func (s *Store) RequestCancel(id string) error {
	return s.Update(id, func(j *Job) { j.CancelRequested = true })
}

func (s *Store) CancelRequested(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return ok && j.CancelRequested
}

func snapshotLocked(j *Job, tail int) Snapshot {
	snap := Snapshot{
		ID:              j.ID,
		Status:          j.State.Status(),
		ProgressPct:     j.Progress.Pct,
		Message:         j.Progress.Message,
		ProcessedPages:  j.Progress.Processed,
		TotalPages:      j.Progress.Total,
		CancelRequested: j.CancelRequested,
		CreatedAt:       j.CreatedAt,
	}
	if j.Log != nil {
		snap.LogTail = j.Log.Tail(tail)
	}
	switch st := j.State.(type) {
	case Failed:
		snap.Error = st.Err
	case Done:
		art := st.Artifacts.clone()
		snap.Artifacts = &art
	}
	return snap
}
