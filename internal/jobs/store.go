package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Store persists job records.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Update(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// List returns jobs newest first.
	List(ctx context.Context) ([]*Job, error)
	// FailInterrupted marks every pending or running job failed and returns
	// how many it changed. Only a process that owns job execution may call it.
	FailInterrupted(ctx context.Context) (int, error)
	Close() error
}

// OpenStore picks the store for databaseURL: in-memory when empty, SQLite
// for "sqlite://path", "sqlite:path" or a bare file path. Any other scheme
// logs a warning and falls back to the in-memory store.
func OpenStore(ctx context.Context, databaseURL string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if databaseURL == "" {
		return NewMemoryStore(), nil
	}

	path := databaseURL
	for _, prefix := range []string{"sqlite://", "sqlite:", "file:"} {
		if strings.HasPrefix(path, prefix) {
			path = strings.TrimPrefix(path, prefix)
			break
		}
	}
	if scheme, _, ok := strings.Cut(path, "://"); ok {
		logger.Warn("Unsupported DATABASE_URL scheme, keeping job history in memory",
			"scheme", scheme, "supported", "sqlite")
		return NewMemoryStore(), nil
	}
	return OpenSQLiteStore(ctx, path, logger)
}

// MemoryStore keeps jobs for the life of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (s *MemoryStore) Create(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	s.order = append(s.order, job.ID)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.jobs[s.order[i]].Clone())
	}
	return out, nil
}

// FailInterrupted is a no-op: memory never outlives the process that ran
// the jobs.
func (s *MemoryStore) FailInterrupted(ctx context.Context) (int, error) { return 0, nil }

func (s *MemoryStore) Close() error { return nil }
