package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/iago/imagegen-back/internal/domain"
)

func (s *Service) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce force-fails jobs stuck in processing past the threshold and
// reconciles the in-flight gauge against the table. This is the crash
// recovery path: it works even when the attempt that marked the job
// processing never returns.
func (s *Service) SweepOnce(ctx context.Context) {
	now := s.clk.Now().UTC()
	cutoff := now.Add(-s.config.StuckThreshold)

	stuck, err := s.repo.ListProcessingOlderThan(ctx, cutoff)
	if err != nil {
		s.logf("sweep list stuck: %v", err)
		return
	}
	for _, job := range stuck {
		job.Status = domain.JobStatusFailed
		completedAt := now
		job.CompletedAt = &completedAt
		job.ErrorMessage = fmt.Sprintf("generation timed out: processing for more than %s", s.config.StuckThreshold)
		if err := s.persist(ctx, func() error { return s.repo.UpdateJob(ctx, job) }); err != nil {
			s.logf("sweep fail job_id=%s: %v", job.ID, err)
			continue
		}
		s.logf("sweep force-failed job_id=%s started_at=%v", job.ID, job.StartedAt)
	}

	stats, err := s.repo.CountByStatus(ctx)
	if err != nil {
		s.logf("sweep count: %v", err)
		return
	}
	s.mu.Lock()
	if stats.Processing < s.inFlight {
		s.logf("sweep reconciled in-flight gauge %d -> %d", s.inFlight, stats.Processing)
		s.inFlight = stats.Processing
	}
	s.mu.Unlock()

	if len(stuck) > 0 {
		s.wakeLoop()
	}
}

func (s *Service) retentionLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.RetentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RetainOnce(ctx)
		}
	}
}

// RetainOnce deletes terminal jobs older than the retention age.
func (s *Service) RetainOnce(ctx context.Context) {
	cutoff := s.clk.Now().UTC().Add(-s.config.RetentionAge)
	deleted, err := s.repo.DeleteTerminalOlderThan(ctx, cutoff)
	if err != nil {
		s.logf("retention sweep: %v", err)
		return
	}
	if deleted > 0 {
		s.logf("retention sweep deleted %d terminal jobs", deleted)
	}
}
