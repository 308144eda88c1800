package queue

import (
	"slices"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"go-book-download/internal/models"
)

// ArtifactChecker reports whether the ingest artifact of a job still exists.
type ArtifactChecker interface {
	ArtifactExists(id string, rec models.Record) bool
}

// ArtifactCheckerFunc adapts a function to ArtifactChecker.
type ArtifactCheckerFunc func(id string, rec models.Record) bool

func (f ArtifactCheckerFunc) ArtifactExists(id string, rec models.Record) bool { return f(id, rec) }

type job struct {
	status    models.QueueStatus
	updatedAt time.Time
	record    models.Record
}

// Manager tracks every requested title through its lifecycle.
// All tables are guarded by one mutex and no method blocks while holding it,
// apart from the artifact check made during Refresh.
type Manager struct {
	mu            sync.Mutex
	jobs          map[string]*job
	pending       []string
	queued        map[string]struct{}
	statusTimeout time.Duration
	artifacts     ArtifactChecker
	now           func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New returns an empty Manager. Done jobs older than statusTimeout are purged
// on refresh; checker decides when an available job has been ingested.
func New(statusTimeout time.Duration, checker ArtifactChecker, opts ...Option) *Manager {
	m := &Manager{
		jobs:          make(map[string]*job),
		queued:        make(map[string]struct{}),
		statusTimeout: statusTimeout,
		artifacts:     checker,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add inserts or replaces the job for id and makes it eligible for GetNext.
func (m *Manager) Add(id string, rec models.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobs[id] = &job{
		status:    models.StatusQueued,
		updatedAt: m.now(),
		record:    rec.Clone(),
	}
	if _, ok := m.queued[id]; !ok {
		m.queued[id] = struct{}{}
		m.pending = append(m.pending, id)
	}
	log.WithField("id", id).Debug("Job queued")
}

// GetNext pops the oldest pending id. It never blocks.
func (m *Manager) GetNext() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.pending) > 0 {
		id := m.pending[0]
		m.pending[0] = ""
		m.pending = m.pending[1:]
		if _, ok := m.queued[id]; !ok {
			continue
		}
		delete(m.queued, id)
		return id, true
	}
	return "", false
}

// UpdateStatus moves a job to status and refreshes its timestamp.
// Unknown ids and transitions against the lifecycle are ignored.
func (m *Manager) UpdateStatus(id string, status models.QueueStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return false
	}
	if !CanTransition(j.status, status) {
		log.WithFields(log.Fields{"id": id, "from": j.status, "to": status}).Debug("Ignoring status transition")
		return false
	}
	j.status = status
	j.updatedAt = m.now()
	return true
}

// Job returns a copy of the job tracked under id.
func (m *Manager) Job(id string) (models.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return models.Job{ID: id, Status: j.status, UpdatedAt: j.updatedAt, Record: j.record.Clone()}, true
}

// GetStatus refreshes the queue and returns a copy of every job grouped by status.
func (m *Manager) GetStatus() models.StatusSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshLocked()
	snap := models.NewStatusSnapshot()
	for id, j := range m.jobs {
		bucket, ok := snap[j.status]
		if !ok {
			bucket = make(map[string]models.Record)
			snap[j.status] = bucket
		}
		bucket[id] = j.record.Clone()
	}
	return snap
}

// Refresh promotes available jobs whose artifact is gone to done and purges
// done jobs older than the status timeout.
func (m *Manager) Refresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshLocked()
}

// refreshLocked does the work of Refresh. Caller holds mu.
func (m *Manager) refreshLocked() {
	now := m.now()
	var toDone, toRemove []string
	for id, j := range m.jobs {
		switch j.status {
		case models.StatusAvailable:
			if m.artifacts != nil && !m.artifacts.ArtifactExists(id, j.record) {
				toDone = append(toDone, id)
			}
		case models.StatusDone:
			if m.statusTimeout <= 0 || now.Sub(j.updatedAt) > m.statusTimeout {
				toRemove = append(toRemove, id)
			}
		}
	}

	for _, id := range toDone {
		j := m.jobs[id]
		j.status = models.StatusDone
		j.updatedAt = now
		log.WithField("id", id).Info("Artifact ingested, job done")
	}
	for _, id := range toRemove {
		m.remove(id)
		log.WithField("id", id).Debug("Evicted done job")
	}
}

// SetStatusTimeout changes the retention of done jobs for future refreshes.
func (m *Manager) SetStatusTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusTimeout = d
}

// Len returns the number of tracked jobs.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// remove drops id from every table. Caller holds mu.
func (m *Manager) remove(id string) {
	delete(m.jobs, id)
	if _, ok := m.queued[id]; ok {
		delete(m.queued, id)
		m.pending = slices.DeleteFunc(m.pending, func(p string) bool { return p == id })
	}
}

// CanTransition reports whether a job may move from one status to another.
// Repeating the current status is allowed and only refreshes the timestamp.
func CanTransition(from, to models.QueueStatus) bool {
	if !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	switch from {
	case models.StatusQueued:
		return true
	case models.StatusDownloading:
		return to == models.StatusAvailable || to == models.StatusError || to == models.StatusDone
	case models.StatusAvailable:
		return to == models.StatusDone
	default:
		return false
	}
}
