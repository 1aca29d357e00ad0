// Package queue is the durable job queue: position-ordered dispatch under a
// concurrency cap, three independent retry ladders, and the periodic sweeps
// that recover from crashed or hung attempts. All retry decisions live here;
// an attempt only ever reports what happened.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/iago/imagegen-back/internal/domain"
	"github.com/iago/imagegen-back/internal/repository"
	"github.com/iago/imagegen-back/internal/settings"
)

var (
	// ErrSubjectBusy rejects a submission while the subject already has a
	// queued or processing job.
	ErrSubjectBusy = errors.New("subject already has an active job")
	// ErrTooLate rejects a cancel once the job reached a terminal status.
	ErrTooLate = errors.New("job already finished")
	// ErrGenerationDisabled is a permanent submission-time failure: the
	// tenant has no enabled provider settings.
	ErrGenerationDisabled = errors.New("image generation is not enabled for this tenant")
)

// ValidationError lists the attribution fields missing from a submission.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Missing, ", ")
}

// AttemptRunner executes one generation attempt for a job and reports the
// outcome. It must never retry internally.
type AttemptRunner interface {
	Run(ctx context.Context, job *domain.Job) domain.AttemptOutcome
}

type Config struct {
	// ConcurrencyCap bounds simultaneously in-flight attempts.
	ConcurrencyCap int
	// DispatchDelay paces successive dispatches within one loop pass.
	DispatchDelay time.Duration
	// IdleInterval is how often the loop rechecks when nothing woke it.
	IdleInterval time.Duration

	// StuckThreshold force-fails processing jobs older than this.
	StuckThreshold time.Duration
	SweepInterval  time.Duration

	// RetentionAge bounds how long terminal jobs are kept.
	RetentionAge      time.Duration
	RetentionInterval time.Duration

	// MaxRetries is the generic ladder ceiling, the smallest of the three.
	MaxRetries            int
	MaxConcurrencyRetries int
	MaxCongestionRetries  int

	// RetryBaseDelay seeds the generic ladder's exponential delay.
	RetryBaseDelay time.Duration
	// ConcurrencyRetryDelay is the flat long delay after the provider
	// reports its own concurrency cap.
	ConcurrencyRetryDelay time.Duration
	// CongestionRetryDelay is the longest delay of the three ladders.
	CongestionRetryDelay time.Duration

	// AvgAttemptDuration drives the advisory completion estimate.
	AvgAttemptDuration time.Duration

	Clock  clock.Clock
	Logger *log.Logger
}

func (c *Config) applyDefaults() {
	if c.ConcurrencyCap <= 0 {
		c.ConcurrencyCap = 3
	}
	if c.DispatchDelay <= 0 {
		c.DispatchDelay = 500 * time.Millisecond
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = 2 * time.Second
	}
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = 5 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.RetentionAge <= 0 {
		c.RetentionAge = 7 * 24 * time.Hour
	}
	if c.RetentionInterval <= 0 {
		c.RetentionInterval = time.Hour
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.MaxConcurrencyRetries <= 0 {
		c.MaxConcurrencyRetries = 4
	}
	if c.MaxCongestionRetries <= 0 {
		c.MaxCongestionRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 15 * time.Second
	}
	if c.ConcurrencyRetryDelay <= 0 {
		c.ConcurrencyRetryDelay = 90 * time.Second
	}
	if c.CongestionRetryDelay <= 0 {
		c.CongestionRetryDelay = 3 * time.Minute
	}
	if c.AvgAttemptDuration <= 0 {
		c.AvgAttemptDuration = 4 * time.Minute
	}
	if c.Clock == nil {
		c.Clock = clock.C
	}
}

// Service owns the job table's lifecycle transitions. The table is the
// single source of truth; the in-flight gauge is an optimization that the
// sweep reconciles against it.
type Service struct {
	repo     repository.JobsRepository
	runner   AttemptRunner
	resolver settings.Resolver
	config   Config
	clk      clock.Clock
	logger   *log.Logger

	wake chan struct{}

	mu       sync.Mutex
	inFlight int
}

func NewService(
	repo repository.JobsRepository,
	runner AttemptRunner,
	resolver settings.Resolver,
	config Config,
) *Service {
	config.applyDefaults()
	return &Service{
		repo:     repo,
		runner:   runner,
		resolver: resolver,
		config:   config,
		clk:      config.Clock,
		logger:   config.Logger,
		wake:     make(chan struct{}, 1),
	}
}

// Start launches the dispatch loop and both sweeps. They all stop when ctx
// is cancelled; in-flight attempts observe the same ctx.
func (s *Service) Start(ctx context.Context) {
	go s.dispatchLoop(ctx)
	go s.sweepLoop(ctx)
	go s.retentionLoop(ctx)
}

type SubmitInput struct {
	SubjectRef   string
	RequesterID  string
	TenantID     string
	ScopeID      string
	Description  string
	CustomPrompt string
}

type SubmitReceipt struct {
	JobID               string
	Position            int
	EstimatedCompletion time.Time
}

// Submit validates, snapshots provider settings, assigns the next queue
// position and persists the job as queued. The settings snapshot means
// later credential changes never affect a job already in the queue.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (*SubmitReceipt, error) {
	var missing []string
	if strings.TrimSpace(input.SubjectRef) == "" {
		missing = append(missing, "subject_ref")
	}
	if strings.TrimSpace(input.RequesterID) == "" {
		missing = append(missing, "requester_id")
	}
	if strings.TrimSpace(input.TenantID) == "" {
		missing = append(missing, "tenant_id")
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Missing: missing}
	}

	if _, err := s.repo.ActiveJobForSubject(ctx, input.SubjectRef); err == nil {
		return nil, ErrSubjectBusy
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("check active job: %w", err)
	}

	providerSettings, err := s.resolver.ResolveProviderSettings(ctx, input.TenantID, input.ScopeID)
	if err != nil {
		return nil, fmt.Errorf("resolve provider settings: %w", err)
	}
	if providerSettings == nil || !providerSettings.Enabled {
		return nil, ErrGenerationDisabled
	}

	maxPosition, err := s.repo.MaxActivePosition(ctx)
	if err != nil {
		return nil, fmt.Errorf("next position: %w", err)
	}

	now := s.clk.Now().UTC()
	job := &domain.Job{
		ID:               uuid.NewString(),
		SubjectRef:       input.SubjectRef,
		RequesterID:      input.RequesterID,
		TenantID:         input.TenantID,
		ScopeID:          input.ScopeID,
		Status:           domain.JobStatusQueued,
		Position:         maxPosition + 1,
		Description:      input.Description,
		CustomPrompt:     input.CustomPrompt,
		ProviderSettings: *providerSettings,
		CreatedAt:        now,
	}
	if err := s.persist(ctx, func() error { return s.repo.CreateJob(ctx, job) }); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	s.logf("job submitted job_id=%s subject=%s position=%d", job.ID, job.SubjectRef, job.Position)
	s.wakeLoop()

	return &SubmitReceipt{
		JobID:               job.ID,
		Position:            job.Position,
		EstimatedCompletion: s.estimate(now, job.Position),
	}, nil
}

// Cancel marks a queued or processing job cancelled. Only the original
// requester may cancel; anyone else sees not-found.
func (s *Service) Cancel(ctx context.Context, jobID, requesterID string) error {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.RequesterID != requesterID {
		return repository.ErrNotFound
	}
	if job.Status.Terminal() {
		return ErrTooLate
	}

	now := s.clk.Now().UTC()
	job.Status = domain.JobStatusCancelled
	job.CompletedAt = &now
	if err := s.persist(ctx, func() error { return s.repo.UpdateJob(ctx, job) }); err != nil {
		return fmt.Errorf("persist cancel: %w", err)
	}
	s.logf("job cancelled job_id=%s requester=%s", jobID, requesterID)
	return nil
}

type StatusReport struct {
	Jobs  []domain.JobView  `json:"jobs"`
	Stats domain.QueueStats `json:"queue_stats"`
}

// Status returns the caller's own jobs plus aggregate counts. Queued jobs
// carry an advisory completion estimate derived from their position.
func (s *Service) Status(ctx context.Context, requesterID, tenantID string) (*StatusReport, error) {
	jobs, err := s.repo.ListByRequester(ctx, requesterID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	stats, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}

	now := s.clk.Now().UTC()
	views := make([]domain.JobView, 0, len(jobs))
	for _, job := range jobs {
		view := domain.ViewOf(job)
		if job.Status == domain.JobStatusQueued {
			estimated := s.estimate(now, job.Position)
			view.EstimatedCompletion = &estimated
		}
		views = append(views, view)
	}
	return &StatusReport{Jobs: views, Stats: stats}, nil
}

// Job returns one job by id, scoped to its requester.
func (s *Service) Job(ctx context.Context, jobID, requesterID string) (*domain.Job, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.RequesterID != requesterID {
		return nil, repository.ErrNotFound
	}
	return job, nil
}

func (s *Service) Stats(ctx context.Context) (domain.QueueStats, error) {
	return s.repo.CountByStatus(ctx)
}

func (s *Service) Recent(ctx context.Context, limit int) ([]*domain.Job, error) {
	return s.repo.ListRecent(ctx, limit)
}

func (s *Service) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.IdleInterval)
	defer ticker.Stop()

	for {
		s.dispatchReady(ctx)
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// dispatchReady pops queued jobs in position order until the cap is reached
// or the queue is empty. Attempts run in their own goroutines so the loop
// keeps dispatching up to the cap.
func (s *Service) dispatchReady(ctx context.Context) {
	for ctx.Err() == nil {
		if !s.reserveSlot() {
			return
		}

		job, err := s.repo.NextQueued(ctx, s.clk.Now().UTC())
		if err != nil {
			s.releaseSlot()
			if !errors.Is(err, repository.ErrNotFound) && ctx.Err() == nil {
				s.logf("next queued: %v", err)
			}
			return
		}

		now := s.clk.Now().UTC()
		job.Status = domain.JobStatusProcessing
		job.StartedAt = &now
		if err := s.persist(ctx, func() error { return s.repo.UpdateJob(ctx, job) }); err != nil {
			s.releaseSlot()
			if ctx.Err() == nil {
				s.logf("mark processing job_id=%s: %v", job.ID, err)
			}
			return
		}

		s.logf("job dispatched job_id=%s position=%d", job.ID, job.Position)
		go s.runAttempt(ctx, job)

		if err := sleepCtx(ctx, s.config.DispatchDelay); err != nil {
			return
		}
	}
}

func (s *Service) runAttempt(ctx context.Context, job *domain.Job) {
	defer s.releaseSlot()

	outcome := s.runner.Run(ctx, job)
	if ctx.Err() != nil {
		// Shutdown mid-attempt: leave the row processing; the stuck
		// sweep force-fails it after restart.
		return
	}
	s.handleOutcome(ctx, job.ID, outcome)
	s.wakeLoop()
}

// handleOutcome reloads the job first: a cancel or sweep may have reached a
// terminal status while the attempt was running, and terminal states never
// change again.
func (s *Service) handleOutcome(ctx context.Context, jobID string, outcome domain.AttemptOutcome) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		s.logf("load job for outcome job_id=%s: %v", jobID, err)
		return
	}
	if job.Status.Terminal() {
		s.logf("outcome dropped, job already terminal job_id=%s status=%s", jobID, job.Status)
		return
	}

	now := s.clk.Now().UTC()
	switch outcome.Kind {
	case domain.OutcomeCompleted:
		job.Status = domain.JobStatusCompleted
		job.CompletedAt = &now
		job.ErrorMessage = ""
		job.ProgressPercent = 100
		job.AssetPath = outcome.AssetPath
		job.AssetRemoteURL = outcome.AssetRemoteURL
		job.AssetDegraded = outcome.AssetDegraded
		s.logf("job completed job_id=%s degraded=%t", jobID, outcome.AssetDegraded)

	case domain.OutcomePartial:
		// Still in flight on the provider side. Record progress and
		// refresh StartedAt so the sweep gives it a fresh window.
		if outcome.ProgressPercent > job.ProgressPercent {
			job.ProgressPercent = outcome.ProgressPercent
		}
		job.StartedAt = &now
		s.logf("job partial job_id=%s progress=%d%%", jobID, job.ProgressPercent)

	case domain.OutcomeFailed:
		s.applyFailure(ctx, job, outcome, now)

	default:
		s.logf("unknown outcome kind %q job_id=%s", outcome.Kind, jobID)
		return
	}

	if err := s.persist(ctx, func() error { return s.repo.UpdateJob(ctx, job) }); err != nil {
		s.logf("persist outcome job_id=%s: %v", jobID, err)
	}
}

// applyFailure picks the retry ladder for a classified failure. Each ladder
// owns its counter, ceiling and delay; crossing a ceiling or a non-retryable
// category ends the job with the specific classified reason.
func (s *Service) applyFailure(ctx context.Context, job *domain.Job, outcome domain.AttemptOutcome, now time.Time) {
	if !outcome.Retryable {
		s.failJob(job, outcome.ErrorMessage, now)
		return
	}

	switch outcome.Category {
	case domain.FailureConcurrencyLimit:
		if job.ConcurrencyRetryCount >= s.config.MaxConcurrencyRetries {
			s.failJob(job, outcome.ErrorMessage, now)
			return
		}
		job.ConcurrencyRetryCount++
		s.requeue(ctx, job, outcome.ErrorMessage, now, s.config.ConcurrencyRetryDelay)

	case domain.FailureProviderCongested:
		if job.CongestionRetryCount >= s.config.MaxCongestionRetries {
			s.failJob(job, outcome.ErrorMessage, now)
			return
		}
		job.CongestionRetryCount++
		s.requeue(ctx, job, outcome.ErrorMessage, now, s.config.CongestionRetryDelay)

	default:
		if job.RetryCount >= s.config.MaxRetries {
			s.failJob(job, outcome.ErrorMessage, now)
			return
		}
		job.RetryCount++
		s.requeue(ctx, job, outcome.ErrorMessage, now, s.genericRetryDelay(job.RetryCount))
	}
}

func (s *Service) failJob(job *domain.Job, reason string, now time.Time) {
	job.Status = domain.JobStatusFailed
	job.CompletedAt = &now
	job.ErrorMessage = reason
	s.logf("job failed job_id=%s reason=%q", job.ID, reason)
}

// requeue sends the job to the back of the queue with a not-before delay.
// The error message stays visible while it waits.
func (s *Service) requeue(ctx context.Context, job *domain.Job, reason string, now time.Time, delay time.Duration) {
	maxPosition, err := s.repo.MaxActivePosition(ctx)
	if err != nil {
		s.logf("requeue position job_id=%s: %v", job.ID, err)
		maxPosition = job.Position
	}

	job.Status = domain.JobStatusQueued
	job.Position = maxPosition + 1
	job.StartedAt = nil
	job.ErrorMessage = reason
	job.NotBefore = now.Add(delay)
	s.logf("job requeued job_id=%s position=%d delay=%s retries=%d/%d/%d",
		job.ID, job.Position, delay, job.RetryCount, job.ConcurrencyRetryCount, job.CongestionRetryCount)
}

// genericRetryDelay doubles per attempt from the configured base, without
// jitter so the ladder is predictable in tests.
func (s *Service) genericRetryDelay(attempt int) time.Duration {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.config.RetryBaseDelay
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxInterval = 10 * time.Minute
	policy.MaxElapsedTime = 0

	delay := policy.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = policy.NextBackOff()
	}
	return delay
}

// persist retries transient storage errors a few times before giving up.
// Not-found is permanent; everything else is worth a short retry.
func (s *Service) persist(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(func() error {
		err := op()
		if errors.Is(err, repository.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func (s *Service) estimate(now time.Time, position int) time.Time {
	rounds := (position + s.config.ConcurrencyCap - 1) / s.config.ConcurrencyCap
	if rounds < 1 {
		rounds = 1
	}
	return now.Add(time.Duration(rounds) * s.config.AvgAttemptDuration)
}

func (s *Service) reserveSlot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight >= s.config.ConcurrencyCap {
		return false
	}
	s.inFlight++
	return true
}

func (s *Service) releaseSlot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight > 0 {
		s.inFlight--
	}
}

// InFlight reports the gauge value; the sweep reconciles it with the table.
func (s *Service) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func (s *Service) wakeLoop() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
