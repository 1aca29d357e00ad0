package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/iago/imagegen-back/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// JobsRepository abstracts generation-job persistence. The job table is the
// single source of truth for queue ordering and in-flight accounting.
type JobsRepository interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	UpdateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)

	// NextQueued returns the queued job with the lowest position whose
	// NotBefore has passed, or ErrNotFound.
	NextQueued(ctx context.Context, now time.Time) (*domain.Job, error)
	// MaxActivePosition returns the highest position among queued and
	// processing jobs, zero when none are active.
	MaxActivePosition(ctx context.Context) (int, error)
	// ActiveJobForSubject returns the queued or processing job for a
	// subject, or ErrNotFound.
	ActiveJobForSubject(ctx context.Context, subjectRef string) (*domain.Job, error)

	ListByRequester(ctx context.Context, requesterID, tenantID string) ([]*domain.Job, error)
	CountByStatus(ctx context.Context) (domain.QueueStats, error)
	ListProcessingOlderThan(ctx context.Context, cutoff time.Time) ([]*domain.Job, error)
	DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	ListRecent(ctx context.Context, limit int) ([]*domain.Job, error)
}

// MemoryJobsRepository stores jobs in memory for local development and tests.
type MemoryJobsRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs: make(map[string]*domain.Job),
	}
}

func (r *MemoryJobsRepository) CreateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryJobsRepository) UpdateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryJobsRepository) NextQueued(_ context.Context, now time.Time) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *domain.Job
	for _, job := range r.jobs {
		if job.Status != domain.JobStatusQueued {
			continue
		}
		if !job.NotBefore.IsZero() && job.NotBefore.After(now) {
			continue
		}
		if best == nil || job.Position < best.Position {
			best = job
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return cloneJob(best), nil
}

func (r *MemoryJobsRepository) MaxActivePosition(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	max := 0
	for _, job := range r.jobs {
		if job.Status.Active() && job.Position > max {
			max = job.Position
		}
	}
	return max, nil
}

func (r *MemoryJobsRepository) ActiveJobForSubject(_ context.Context, subjectRef string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, job := range r.jobs {
		if job.SubjectRef == subjectRef && job.Status.Active() {
			return cloneJob(job), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryJobsRepository) ListByRequester(_ context.Context, requesterID, tenantID string) ([]*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]*domain.Job, 0)
	for _, job := range r.jobs {
		if job.RequesterID != requesterID {
			continue
		}
		if tenantID != "" && job.TenantID != tenantID {
			continue
		}
		items = append(items, cloneJob(job))
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

func (r *MemoryJobsRepository) CountByStatus(_ context.Context) (domain.QueueStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.QueueStats
	for _, job := range r.jobs {
		switch job.Status {
		case domain.JobStatusQueued:
			stats.Queued++
		case domain.JobStatusProcessing:
			stats.Processing++
		case domain.JobStatusCompleted:
			stats.Completed++
		case domain.JobStatusFailed:
			stats.Failed++
		case domain.JobStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

func (r *MemoryJobsRepository) ListProcessingOlderThan(_ context.Context, cutoff time.Time) ([]*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]*domain.Job, 0)
	for _, job := range r.jobs {
		if job.Status != domain.JobStatusProcessing {
			continue
		}
		if job.StartedAt == nil || job.StartedAt.After(cutoff) {
			continue
		}
		items = append(items, cloneJob(job))
	}
	return items, nil
}

func (r *MemoryJobsRepository) DeleteTerminalOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for id, job := range r.jobs {
		if job.Status.Terminal() && job.CreatedAt.Before(cutoff) {
			delete(r.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *MemoryJobsRepository) ListRecent(_ context.Context, limit int) ([]*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]*domain.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		items = append(items, cloneJob(job))
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func cloneJob(job *domain.Job) *domain.Job {
	if job == nil {
		return nil
	}
	clone := *job
	if job.StartedAt != nil {
		started := *job.StartedAt
		clone.StartedAt = &started
	}
	if job.CompletedAt != nil {
		completed := *job.CompletedAt
		clone.CompletedAt = &completed
	}
	return &clone
}
