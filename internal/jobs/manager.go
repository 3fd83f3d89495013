package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bull/repo-runner/internal/repo"
)

// ErrShuttingDown is returned by Submit once Shutdown has started.
var ErrShuttingDown = errors.New("job manager is shutting down")

// ErrSlugConflict is returned by Submit when the URL derives the same slug
// as a different repository that is already queued or indexed.
var ErrSlugConflict = errors.New("repository slug is taken by another source")

// Runner executes one job. It may fill in the job's progress fields
// (resolved branch, commit, counters); the manager owns the state fields.
type Runner interface {
	Run(ctx context.Context, job *Job) error
}

// Observer is notified of job transitions.
type Observer interface {
	JobStarted(job *Job)
	JobFinished(job *Job)
}

// Request asks for one repository to be ingested.
type Request struct {
	URL    string
	Branch string
}

// Options bounds job execution.
type Options struct {
	// MaxConcurrent caps jobs running at once across all repositories.
	MaxConcurrent int
	// Timeout bounds a single job; zero means no limit.
	Timeout time.Duration
}

// Manager runs ingestion jobs in the background. Jobs for the same
// repository slug run one at a time; jobs for different slugs run
// concurrently up to Options.MaxConcurrent.
type Manager struct {
	store    Store
	runner   Runner
	observer Observer
	logger   *slog.Logger
	timeout  time.Duration
	sem      chan struct{}

	mu      sync.Mutex
	slugs   map[string]*slugLock
	closed  bool
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
	now     func() time.Time
}

type slugLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a Manager. observer may be nil.
func NewManager(store Store, runner Runner, observer Observer, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:    store,
		runner:   runner,
		observer: observer,
		logger:   logger,
		timeout:  opts.Timeout,
		sem:      make(chan struct{}, opts.MaxConcurrent),
		slugs:    make(map[string]*slugLock),
		baseCtx:  ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

// Submit validates req, records a pending job and starts it in the
// background. It returns as soon as the job is recorded.
func (m *Manager) Submit(ctx context.Context, req Request) (*Job, error) {
	req.URL = strings.TrimSpace(req.URL)
	req.Branch = strings.TrimSpace(req.Branch)

	slug, err := repo.Slug(req.URL)
	if err != nil {
		return nil, err
	}
	if err := m.checkOwner(ctx, slug, req.URL); err != nil {
		return nil, err
	}

	job := &Job{
		ID:        uuid.NewString(),
		Slug:      slug,
		URL:       req.URL,
		Branch:    req.Branch,
		State:     StatePending,
		CreatedAt: m.now().UTC(),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	m.wg.Add(1)
	m.mu.Unlock()

	if err := m.store.Create(ctx, job); err != nil {
		m.wg.Done()
		return nil, fmt.Errorf("record job: %w", err)
	}

	m.logger.Info("Job submitted", "job_id", job.ID, "repository", slug, "url", req.URL, "branch", req.Branch)
	go m.execute(job.Clone())
	return job, nil
}

// Get returns the job with id, or ErrJobNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*Job, error) {
	return m.store.Get(ctx, id)
}

// List returns all jobs, newest first.
func (m *Manager) List(ctx context.Context) ([]*Job, error) {
	return m.store.List(ctx)
}

// Latest returns the newest job for slug, or ErrJobNotFound.
func (m *Manager) Latest(ctx context.Context, slug string) (*Job, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, job := range all {
		if job.Slug == slug {
			return job, nil
		}
	}
	return nil, fmt.Errorf("%w: no job for repository %s", ErrJobNotFound, slug)
}

// checkOwner rejects url when the newest job for slug that did not fail was
// submitted for a different remote.
func (m *Manager) checkOwner(ctx context.Context, slug, url string) error {
	all, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	for _, job := range all {
		if job.Slug != slug || job.State == StateFailed {
			continue
		}
		if !repo.SameSource(job.URL, url) {
			return fmt.Errorf("%w: %q already holds %s", ErrSlugConflict, slug, job.URL)
		}
		return nil
	}
	return nil
}

// Shutdown stops accepting jobs, cancels running ones and waits for them to
// record their final state, or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs: %w", ctx.Err())
	}
}

func (m *Manager) execute(job *Job) {
	defer m.wg.Done()

	unlock := m.lockSlug(job.Slug)
	defer unlock()

	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-m.baseCtx.Done():
		m.finish(job, m.baseCtx.Err())
		return
	}

	ctx := m.baseCtx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	started := m.now().UTC()
	job.State = StateRunning
	job.StartedAt = &started
	m.save(job)
	if m.observer != nil {
		m.observer.JobStarted(job.Clone())
	}
	m.logger.Info("Job started", "job_id", job.ID, "repository", job.Slug)

	m.finish(job, m.run(ctx, job))
}

// run calls the runner on a private copy and converts panics to errors.
func (m *Manager) run(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Job panicked", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	work := job.Clone()
	err = m.runner.Run(ctx, work)

	job.ResolvedBranch = work.ResolvedBranch
	job.CommitSHA = work.CommitSHA
	job.WorkDir = work.WorkDir
	job.Documents = work.Documents
	job.Chunks = work.Chunks
	job.FailedDocs = work.FailedDocs
	job.Truncated = work.Truncated
	return err
}

func (m *Manager) finish(job *Job, err error) {
	finished := m.now().UTC()
	job.FinishedAt = &finished
	if err != nil {
		job.State = StateFailed
		job.Error = err.Error()
		m.logger.Error("Job failed", "job_id", job.ID, "repository", job.Slug, "error", err,
			"duration", job.Duration(finished))
	} else {
		job.State = StateSucceeded
		m.logger.Info("Job succeeded", "job_id", job.ID, "repository", job.Slug,
			"documents", job.Documents, "chunks", job.Chunks, "duration", job.Duration(finished))
	}
	m.save(job)
	if m.observer != nil {
		m.observer.JobFinished(job.Clone())
	}
}

// save persists job on a context that outlives cancellation, so the final
// state is recorded during shutdown too.
func (m *Manager) save(job *Job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(m.baseCtx), 10*time.Second)
	defer cancel()
	if err := m.store.Update(ctx, job); err != nil {
		m.logger.Error("Failed to persist job", "job_id", job.ID, "state", job.State, "error", err)
	}
}

func (m *Manager) lockSlug(slug string) func() {
	m.mu.Lock()
	l, ok := m.slugs[slug]
	if !ok {
		l = &slugLock{}
		m.slugs[slug] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.slugs, slug)
		}
		m.mu.Unlock()
	}
}
