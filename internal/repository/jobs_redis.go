package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/iago/imagegen-back/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	redisJobKeyPrefix  = "imgjob:"
	redisQueuedKey     = "imgjobs:queued"
	redisActiveKey     = "imgjobs:active"
	redisCreatedKey    = "imgjobs:created"
	redisStatusPrefix  = "imgjobs:status:"
	redisQueuedScanCap = 50
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisJobsRepository keeps the job table in Redis: one hash per job plus
// position and status indexes. Useful when the API runs without Postgres.
type RedisJobsRepository struct {
	client *redis.Client
}

func NewRedisJobsRepository(ctx context.Context, cfg RedisConfig) (*RedisJobsRepository, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisJobsRepository{client: client}, nil
}

func (r *RedisJobsRepository) Close() error {
	return r.client.Close()
}

func (r *RedisJobsRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	pipeline := r.client.Pipeline()
	pipeline.HSet(ctx, redisJobKeyPrefix+job.ID, jobFields(job))
	pipeline.ZAdd(ctx, redisCreatedKey, redis.Z{Score: float64(job.CreatedAt.UnixNano()), Member: job.ID})
	pipeline.SAdd(ctx, redisStatusPrefix+string(job.Status), job.ID)
	if job.Status.Active() {
		pipeline.ZAdd(ctx, redisActiveKey, redis.Z{Score: float64(job.Position), Member: job.ID})
	}
	if job.Status == domain.JobStatusQueued {
		pipeline.ZAdd(ctx, redisQueuedKey, redis.Z{Score: float64(job.Position), Member: job.ID})
	}
	if _, err := pipeline.Exec(ctx); err != nil {
		return fmt.Errorf("create job in redis: %w", err)
	}
	return nil
}

func (r *RedisJobsRepository) UpdateJob(ctx context.Context, job *domain.Job) error {
	exists, err := r.client.Exists(ctx, redisJobKeyPrefix+job.ID).Result()
	if err != nil {
		return fmt.Errorf("check job exists: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	pipeline := r.client.Pipeline()
	pipeline.HSet(ctx, redisJobKeyPrefix+job.ID, jobFields(job))
	for _, status := range []domain.JobStatus{
		domain.JobStatusQueued,
		domain.JobStatusProcessing,
		domain.JobStatusCompleted,
		domain.JobStatusFailed,
		domain.JobStatusCancelled,
	} {
		if status == job.Status {
			pipeline.SAdd(ctx, redisStatusPrefix+string(status), job.ID)
		} else {
			pipeline.SRem(ctx, redisStatusPrefix+string(status), job.ID)
		}
	}
	if job.Status.Active() {
		pipeline.ZAdd(ctx, redisActiveKey, redis.Z{Score: float64(job.Position), Member: job.ID})
	} else {
		pipeline.ZRem(ctx, redisActiveKey, job.ID)
	}
	if job.Status == domain.JobStatusQueued {
		pipeline.ZAdd(ctx, redisQueuedKey, redis.Z{Score: float64(job.Position), Member: job.ID})
	} else {
		pipeline.ZRem(ctx, redisQueuedKey, job.ID)
	}
	if _, err := pipeline.Exec(ctx); err != nil {
		return fmt.Errorf("update job in redis: %w", err)
	}
	return nil
}

func (r *RedisJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	values, err := r.client.HGetAll(ctx, redisJobKeyPrefix+jobID).Result()
	if err != nil {
		return nil, fmt.Errorf("load job hash: %w", err)
	}
	if len(values) == 0 {
		return nil, ErrNotFound
	}
	return parseJobFields(jobID, values)
}

func (r *RedisJobsRepository) NextQueued(ctx context.Context, now time.Time) (*domain.Job, error) {
	ids, err := r.client.ZRange(ctx, redisQueuedKey, 0, redisQueuedScanCap-1).Result()
	if err != nil {
		return nil, fmt.Errorf("range queued jobs: %w", err)
	}
	for _, id := range ids {
		job, err := r.GetJob(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Stale index entry; drop it and move on.
				_ = r.client.ZRem(ctx, redisQueuedKey, id).Err()
				continue
			}
			return nil, err
		}
		if job.Status != domain.JobStatusQueued {
			continue
		}
		if !job.NotBefore.IsZero() && job.NotBefore.After(now) {
			continue
		}
		return job, nil
	}
	return nil, ErrNotFound
}

func (r *RedisJobsRepository) MaxActivePosition(ctx context.Context) (int, error) {
	entries, err := r.client.ZRevRangeWithScores(ctx, redisActiveKey, 0, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("max active position: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}
	return int(entries[0].Score), nil
}

func (r *RedisJobsRepository) ActiveJobForSubject(ctx context.Context, subjectRef string) (*domain.Job, error) {
	ids, err := r.client.ZRange(ctx, redisActiveKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("range active jobs: %w", err)
	}
	for _, id := range ids {
		job, err := r.GetJob(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if job.SubjectRef == subjectRef && job.Status.Active() {
			return job, nil
		}
	}
	return nil, ErrNotFound
}

func (r *RedisJobsRepository) ListByRequester(ctx context.Context, requesterID, tenantID string) ([]*domain.Job, error) {
	ids, err := r.client.ZRevRange(ctx, redisCreatedKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("range jobs by created: %w", err)
	}
	items := make([]*domain.Job, 0)
	for _, id := range ids {
		job, err := r.GetJob(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if job.RequesterID != requesterID {
			continue
		}
		if tenantID != "" && job.TenantID != tenantID {
			continue
		}
		items = append(items, job)
	}
	return items, nil
}

func (r *RedisJobsRepository) CountByStatus(ctx context.Context) (domain.QueueStats, error) {
	var stats domain.QueueStats
	counts := map[domain.JobStatus]*int{
		domain.JobStatusQueued:     &stats.Queued,
		domain.JobStatusProcessing: &stats.Processing,
		domain.JobStatusCompleted:  &stats.Completed,
		domain.JobStatusFailed:     &stats.Failed,
		domain.JobStatusCancelled:  &stats.Cancelled,
	}
	for status, target := range counts {
		count, err := r.client.SCard(ctx, redisStatusPrefix+string(status)).Result()
		if err != nil {
			return domain.QueueStats{}, fmt.Errorf("count status %s: %w", status, err)
		}
		*target = int(count)
	}
	return stats, nil
}

func (r *RedisJobsRepository) ListProcessingOlderThan(ctx context.Context, cutoff time.Time) ([]*domain.Job, error) {
	ids, err := r.client.SMembers(ctx, redisStatusPrefix+string(domain.JobStatusProcessing)).Result()
	if err != nil {
		return nil, fmt.Errorf("list processing jobs: %w", err)
	}
	items := make([]*domain.Job, 0)
	for _, id := range ids {
		job, err := r.GetJob(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if job.StartedAt == nil || job.StartedAt.After(cutoff) {
			continue
		}
		items = append(items, job)
	}
	return items, nil
}

func (r *RedisJobsRepository) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := r.client.ZRangeByScore(ctx, redisCreatedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixNano(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("range old jobs: %w", err)
	}

	deleted := 0
	for _, id := range ids {
		job, err := r.GetJob(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				_ = r.client.ZRem(ctx, redisCreatedKey, id).Err()
				continue
			}
			return deleted, err
		}
		if !job.Status.Terminal() {
			continue
		}
		pipeline := r.client.Pipeline()
		pipeline.Del(ctx, redisJobKeyPrefix+id)
		pipeline.ZRem(ctx, redisCreatedKey, id)
		pipeline.ZRem(ctx, redisActiveKey, id)
		pipeline.ZRem(ctx, redisQueuedKey, id)
		pipeline.SRem(ctx, redisStatusPrefix+string(job.Status), id)
		if _, err := pipeline.Exec(ctx); err != nil {
			return deleted, fmt.Errorf("delete job %s: %w", id, err)
		}
		deleted++
	}
	return deleted, nil
}

func (r *RedisJobsRepository) ListRecent(ctx context.Context, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	ids, err := r.client.ZRevRange(ctx, redisCreatedKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("range recent jobs: %w", err)
	}
	items := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		job, err := r.GetJob(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		items = append(items, job)
	}
	return items, nil
}

func jobFields(job *domain.Job) map[string]any {
	return map[string]any{
		"subject_ref":             job.SubjectRef,
		"requester_id":            job.RequesterID,
		"tenant_id":               job.TenantID,
		"scope_id":                job.ScopeID,
		"status":                  string(job.Status),
		"position":                job.Position,
		"description":             job.Description,
		"custom_prompt":           job.CustomPrompt,
		"channel_ref":             job.ProviderSettings.ChannelRef,
		"credential":              job.ProviderSettings.Credential,
		"session_ref":             job.ProviderSettings.SessionRef,
		"settings_version":        job.ProviderSettings.Version,
		"settings_enabled":        strconv.FormatBool(job.ProviderSettings.Enabled),
		"created_at":              job.CreatedAt.Format(time.RFC3339Nano),
		"started_at":              formatOptionalTime(job.StartedAt),
		"completed_at":            formatOptionalTime(job.CompletedAt),
		"error_message":           job.ErrorMessage,
		"retry_count":             job.RetryCount,
		"concurrency_retry_count": job.ConcurrencyRetryCount,
		"congestion_retry_count":  job.CongestionRetryCount,
		"not_before":              formatTime(job.NotBefore),
		"progress_percent":        job.ProgressPercent,
		"asset_path":              job.AssetPath,
		"asset_remote_url":        job.AssetRemoteURL,
		"asset_degraded":          strconv.FormatBool(job.AssetDegraded),
	}
}

func parseJobFields(jobID string, values map[string]string) (*domain.Job, error) {
	job := &domain.Job{ID: jobID}
	job.SubjectRef = values["subject_ref"]
	job.RequesterID = values["requester_id"]
	job.TenantID = values["tenant_id"]
	job.ScopeID = values["scope_id"]
	job.Status = domain.JobStatus(values["status"])
	job.Description = values["description"]
	job.CustomPrompt = values["custom_prompt"]
	job.ProviderSettings.ChannelRef = values["channel_ref"]
	job.ProviderSettings.Credential = values["credential"]
	job.ProviderSettings.SessionRef = values["session_ref"]
	job.ErrorMessage = values["error_message"]
	job.AssetPath = values["asset_path"]
	job.AssetRemoteURL = values["asset_remote_url"]

	var err error
	if job.Position, err = parseIntField(values, "position"); err != nil {
		return nil, err
	}
	if job.ProviderSettings.Version, err = parseIntField(values, "settings_version"); err != nil {
		return nil, err
	}
	if job.RetryCount, err = parseIntField(values, "retry_count"); err != nil {
		return nil, err
	}
	if job.ConcurrencyRetryCount, err = parseIntField(values, "concurrency_retry_count"); err != nil {
		return nil, err
	}
	if job.CongestionRetryCount, err = parseIntField(values, "congestion_retry_count"); err != nil {
		return nil, err
	}
	if job.ProgressPercent, err = parseIntField(values, "progress_percent"); err != nil {
		return nil, err
	}
	job.ProviderSettings.Enabled = values["settings_enabled"] == "true"
	job.AssetDegraded = values["asset_degraded"] == "true"

	if job.CreatedAt, err = parseTimeField(values, "created_at"); err != nil {
		return nil, err
	}
	if job.NotBefore, err = parseTimeField(values, "not_before"); err != nil {
		return nil, err
	}
	if job.StartedAt, err = parseOptionalTimeField(values, "started_at"); err != nil {
		return nil, err
	}
	if job.CompletedAt, err = parseOptionalTimeField(values, "completed_at"); err != nil {
		return nil, err
	}
	return job, nil
}

func parseIntField(values map[string]string, key string) (int, error) {
	raw := values[key]
	if raw == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func parseTimeField(values map[string]string, key string) (time.Time, error) {
	raw := values[key]
	if raw == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func parseOptionalTimeField(values map[string]string, key string) (*time.Time, error) {
	parsed, err := parseTimeField(values, key)
	if err != nil {
		return nil, err
	}
	if parsed.IsZero() {
		return nil, nil
	}
	return &parsed, nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.Format(time.RFC3339Nano)
}

func formatOptionalTime(value *time.Time) string {
	if value == nil {
		return ""
	}
	return value.Format(time.RFC3339Nano)
}
