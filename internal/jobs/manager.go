// Package jobs owns long-running asynchronous work, decoupling caller
// lifetime from work lifetime. Records live in memory for the process
// lifetime, with optional append-only persistence so a restart can mark
// interrupted jobs instead of forgetting them.
package jobs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alexban14/ai.dok/internal/domain"
)

// WorkFunc is the job body. It must honor ctx cancellation at its work
// boundaries and report progress through update. The returned string
// becomes the record's result.
type WorkFunc func(ctx context.Context, update func(domain.Progress)) (string, error)

type job struct {
	rec    domain.JobRecord
	cancel context.CancelFunc
}

// Manager tracks asynchronous jobs with at-most-one running job per
// (op, collection) tuple.
type Manager struct {
	mu     sync.Mutex
	jobs   map[string]*job
	active map[string]string // op|collection -> job id

	persistPath string
	persistMu   sync.Mutex

	logger *zap.Logger
	clock  func() time.Time
}

// NewManager creates a job manager. persistPath may be empty to disable
// persistence; otherwise prior records are replayed and any job that was
// still in flight is marked failed("restart").
func NewManager(persistPath string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		jobs:        map[string]*job{},
		active:      map[string]string{},
		persistPath: persistPath,
		logger:      logger,
		clock:       time.Now,
	}
	if persistPath != "" {
		if err := m.replay(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Start enqueues and begins work, returning immediately. If a
// non-terminal job for the same (op, collection) exists, its id is
// returned instead of starting a second one.
func (m *Manager) Start(op, collection string, fn WorkFunc) (string, error) {
	key := op + "|" + collection

	m.mu.Lock()
	if id, ok := m.active[key]; ok {
		if j := m.jobs[id]; j != nil && !j.rec.Status.Terminal() {
			m.mu.Unlock()
			return id, nil
		}
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		rec: domain.JobRecord{
			JobID:      id,
			Op:         op,
			Collection: collection,
			Status:     domain.JobPending,
			CreatedAt:  m.clock().UTC(),
		},
		cancel: cancel,
	}
	m.jobs[id] = j
	m.active[key] = id
	m.mu.Unlock()

	m.persist(j.rec)

	go m.run(ctx, id, fn)
	return id, nil
}

func (m *Manager) run(ctx context.Context, id string, fn WorkFunc) {
	now := m.clock().UTC()
	m.transition(id, func(rec *domain.JobRecord) {
		rec.Status = domain.JobRunning
		rec.StartedAt = &now
	})

	result, err := fn(ctx, func(p domain.Progress) { m.updateProgress(id, p) })

	finished := m.clock().UTC()
	m.transition(id, func(rec *domain.JobRecord) {
		rec.FinishedAt = &finished
		switch {
		case err == nil:
			rec.Status = domain.JobCompleted
			rec.Result = result
		case errors.Is(err, domain.ErrCancelled) || errors.Is(err, context.Canceled):
			rec.Status = domain.JobCancelled
			rec.Error = "cancelled"
		default:
			rec.Status = domain.JobFailed
			rec.Error = fmt.Sprintf("%s: %v", domain.Kind(err), err)
		}
	})

	if err != nil {
		m.logger.Warn("Job finished with error", zap.String("job_id", id), zap.Error(err))
	}
}

// transition applies fn under the lock unless the record is already
// terminal (terminal states are sticky), then persists the snapshot.
func (m *Manager) transition(id string, fn func(*domain.JobRecord)) {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok || j.rec.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	fn(&j.rec)
	snapshot := cloneRecord(j.rec)
	m.mu.Unlock()

	m.persist(snapshot)
}

// updateProgress merges a progress report; Current never regresses.
func (m *Manager) updateProgress(id string, p domain.Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.rec.Status.Terminal() {
		return
	}
	if p.Current < j.rec.Progress.Current {
		p.Current = j.rec.Progress.Current
	}
	j.rec.Progress = p
}

// Status returns the latest snapshot. It never blocks on the worker.
func (m *Manager) Status(id string) (domain.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.JobRecord{}, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	return cloneRecord(j.rec), nil
}

// List returns snapshots of every known job.
func (m *Manager) List() []domain.JobRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.JobRecord, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, cloneRecord(j.rec))
	}
	return out
}

// Cancel cooperatively signals the worker. The record turns cancelled
// when the worker observes the signal at its next boundary.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	j, ok := m.jobs[id]
	terminal := ok && j.rec.Status.Terminal()
	m.mu.Unlock()

	if !ok || terminal {
		return false
	}
	j.cancel()
	return true
}

func cloneRecord(rec domain.JobRecord) domain.JobRecord {
	out := rec
	out.Progress.FailedItems = append([]domain.FailedItem(nil), rec.Progress.FailedItems...)
	return out
}

// persist appends a snapshot line; persistence failures are logged, never
// fatal.
func (m *Manager) persist(rec domain.JobRecord) {
	if m.persistPath == "" {
		return
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.persistPath), 0o755); err != nil {
		m.logger.Warn("Failed to create jobs dir", zap.Error(err))
		return
	}
	f, err := os.OpenFile(m.persistPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		m.logger.Warn("Failed to open jobs log", zap.Error(err))
		return
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		m.logger.Warn("Failed to marshal job record", zap.Error(err))
		return
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		m.logger.Warn("Failed to append job record", zap.Error(err))
	}
}

// replay loads the append-only log, keeping the last snapshot per job and
// marking any job that was still in flight as failed("restart").
func (m *Manager) replay() error {
	f, err := os.Open(m.persistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open jobs log: %w", err)
	}
	defer f.Close()

	latest := map[string]domain.JobRecord{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec domain.JobRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			// a torn trailing line from a crash is expected; skip it
			continue
		}
		latest[rec.JobID] = rec
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read jobs log: %w", err)
	}

	for id, rec := range latest {
		if !rec.Status.Terminal() {
			now := m.clock().UTC()
			rec.Status = domain.JobFailed
			rec.Error = "restart"
			rec.FinishedAt = &now
			m.persist(rec)
			m.logger.Info("Marked interrupted job as failed",
				zap.String("job_id", id), zap.String("op", rec.Op))
		}
		m.jobs[id] = &job{rec: rec, cancel: func() {}}
	}
	return nil
}
