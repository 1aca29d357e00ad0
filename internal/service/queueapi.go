// Package service exposes the queue to external callers: submit, status,
// cancel, and an administrative stats view with recent history.
package service

import (
	"context"
	"log"

	"github.com/iago/imagegen-back/internal/domain"
	"github.com/iago/imagegen-back/internal/queue"
)

const recentJobsWindow = 50

type QueueAPI struct {
	queue   *queue.Service
	history *History
	logger  *log.Logger
}

func NewQueueAPI(queueService *queue.Service, history *History, logger *log.Logger) *QueueAPI {
	if history == nil {
		history = NewHistory(HistoryConfig{})
	}
	return &QueueAPI{
		queue:   queueService,
		history: history,
		logger:  logger,
	}
}

func (a *QueueAPI) Submit(ctx context.Context, input queue.SubmitInput) (*queue.SubmitReceipt, error) {
	receipt, err := a.queue.Submit(ctx, input)
	if err != nil {
		return nil, err
	}
	a.history.Record(&domain.Job{
		ID:         receipt.JobID,
		SubjectRef: input.SubjectRef,
		Status:     domain.JobStatusQueued,
	})
	return receipt, nil
}

func (a *QueueAPI) Status(ctx context.Context, requesterID, tenantID string) (*queue.StatusReport, error) {
	return a.queue.Status(ctx, requesterID, tenantID)
}

func (a *QueueAPI) Job(ctx context.Context, jobID, requesterID string) (domain.JobView, error) {
	job, err := a.queue.Job(ctx, jobID, requesterID)
	if err != nil {
		return domain.JobView{}, err
	}
	return domain.ViewOf(job), nil
}

// InFlight reports how many generation attempts are currently running.
func (a *QueueAPI) InFlight() int {
	return a.queue.InFlight()
}

func (a *QueueAPI) Cancel(ctx context.Context, jobID, requesterID string) error {
	if err := a.queue.Cancel(ctx, jobID, requesterID); err != nil {
		return err
	}
	a.history.Record(&domain.Job{
		ID:     jobID,
		Status: domain.JobStatusCancelled,
	})
	return nil
}

// AdminStats is the observability snapshot: aggregate counts, the in-flight
// gauge, and recent job history that outlives the retention sweep.
type AdminStats struct {
	Counts   domain.QueueStats `json:"counts"`
	InFlight int               `json:"in_flight"`
	Recent   []HistoryEntry    `json:"recent"`
}

func (a *QueueAPI) Stats(ctx context.Context) (*AdminStats, error) {
	counts, err := a.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}

	// Fold the table's recent rows into the history so terminal states
	// reached since the last call are visible too.
	recent, err := a.queue.Recent(ctx, recentJobsWindow)
	if err != nil {
		if a.logger != nil {
			a.logger.Printf("list recent jobs: %v", err)
		}
	} else {
		for _, job := range recent {
			a.history.Record(job)
		}
	}

	return &AdminStats{
		Counts:   counts,
		InFlight: a.queue.InFlight(),
		Recent:   a.history.Recent(),
	}, nil
}
