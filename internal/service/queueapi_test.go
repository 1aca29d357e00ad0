package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/iago/imagegen-back/internal/domain"
	"github.com/iago/imagegen-back/internal/queue"
	"github.com/iago/imagegen-back/internal/repository"
	"github.com/iago/imagegen-back/internal/settings"
)

type noopRunner struct{}

func (noopRunner) Run(context.Context, *domain.Job) domain.AttemptOutcome {
	return domain.AttemptOutcome{Kind: domain.OutcomeCompleted, AssetPath: "a.jpg"}
}

func newTestAPI() (*QueueAPI, *repository.MemoryJobsRepository) {
	repo := repository.NewMemoryJobsRepository()
	resolver := settings.NewStaticResolver(&domain.ProviderSettings{
		ChannelRef: "channel-1",
		Enabled:    true,
	})
	queueService := queue.NewService(repo, noopRunner{}, resolver, queue.Config{})
	return NewQueueAPI(queueService, NewHistory(HistoryConfig{}), nil), repo
}

func TestQueueAPISubmitAndStats(t *testing.T) {
	api, _ := newTestAPI()
	ctx := context.Background()

	receipt, err := api.Submit(ctx, queue.SubmitInput{
		SubjectRef:  "r1",
		RequesterID: "u1",
		TenantID:    "t1",
		Description: "lemon tart",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	stats, err := api.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Counts.Queued != 1 {
		t.Fatalf("expected 1 queued, got %d", stats.Counts.Queued)
	}

	var found bool
	for _, entry := range stats.Recent {
		if entry.JobID == receipt.JobID {
			found = true
		}
	}
	if !found {
		t.Errorf("recent history should include job %s", receipt.JobID)
	}
}

func TestQueueAPICancelPropagatesErrors(t *testing.T) {
	api, _ := newTestAPI()
	ctx := context.Background()

	if err := api.Cancel(ctx, "missing", "u1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}

	receipt, err := api.Submit(ctx, queue.SubmitInput{
		SubjectRef: "r1", RequesterID: "u1", TenantID: "t1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := api.Cancel(ctx, receipt.JobID, "u1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	view, err := api.Job(ctx, receipt.JobID, "u1")
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if view.Status != domain.JobStatusCancelled {
		t.Fatalf("expected cancelled, got %s", view.Status)
	}
}

func TestQueueAPIJobScopedToRequester(t *testing.T) {
	api, _ := newTestAPI()
	ctx := context.Background()

	receipt, err := api.Submit(ctx, queue.SubmitInput{
		SubjectRef: "r1", RequesterID: "u1", TenantID: "t1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := api.Job(ctx, receipt.JobID, "someone-else"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("foreign requester must see not-found, got %v", err)
	}
}

func TestHistoryKeepsOneEntryPerJobStatus(t *testing.T) {
	history := NewHistory(HistoryConfig{})

	job := &domain.Job{ID: "j1", SubjectRef: "r1", Status: domain.JobStatusQueued}
	history.Record(job)
	history.Record(job)
	job.Status = domain.JobStatusCompleted
	history.Record(job)

	recent := history.Recent()
	if len(recent) != 2 {
		t.Fatalf("expected one entry per status, got %d", len(recent))
	}
}

func TestHistoryEvictsOldestWhenFull(t *testing.T) {
	history := NewHistory(HistoryConfig{MaxEntries: 3})

	for i := 0; i < 5; i++ {
		history.Record(&domain.Job{
			ID:     fmt.Sprintf("j%d", i),
			Status: domain.JobStatusCompleted,
		})
		time.Sleep(time.Millisecond)
	}

	recent := history.Recent()
	if len(recent) != 3 {
		t.Fatalf("expected 3 entries after eviction, got %d", len(recent))
	}
	for _, entry := range recent {
		if entry.JobID == "j0" || entry.JobID == "j1" {
			t.Errorf("oldest entries should be evicted, found %s", entry.JobID)
		}
	}
}

func TestHistoryExpiresEntries(t *testing.T) {
	history := NewHistory(HistoryConfig{TTL: time.Millisecond})
	history.Record(&domain.Job{ID: "j1", Status: domain.JobStatusCompleted})

	time.Sleep(5 * time.Millisecond)
	if recent := history.Recent(); len(recent) != 0 {
		t.Fatalf("expected expired entries pruned, got %d", len(recent))
	}
}
