package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/iago/imagegen-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `
	id, subject_ref, requester_id, tenant_id, scope_id, status, position,
	description, custom_prompt, channel_ref, credential, session_ref,
	settings_version, settings_enabled, created_at, started_at, completed_at,
	error_message, retry_count, concurrency_retry_count,
	congestion_retry_count, not_before, progress_percent, asset_path,
	asset_remote_url, asset_degraded
`

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobsRepository(ctx context.Context, databaseURL string) (*PostgresJobsRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresJobsRepository{pool: pool}, nil
}

func (r *PostgresJobsRepository) Close() {
	r.pool.Close()
}

func (r *PostgresJobsRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO generation_jobs (`+jobColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)
	`, insertArgs(job)...)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) UpdateJob(ctx context.Context, job *domain.Job) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE generation_jobs
		SET status = $2,
			position = $3,
			started_at = $4,
			completed_at = $5,
			error_message = $6,
			retry_count = $7,
			concurrency_retry_count = $8,
			congestion_retry_count = $9,
			not_before = $10,
			progress_percent = $11,
			asset_path = $12,
			asset_remote_url = $13,
			asset_degraded = $14
		WHERE id = $1
	`,
		job.ID,
		string(job.Status),
		job.Position,
		job.StartedAt,
		job.CompletedAt,
		job.ErrorMessage,
		job.RetryCount,
		job.ConcurrencyRetryCount,
		job.CongestionRetryCount,
		nullableTime(job.NotBefore),
		job.ProgressPercent,
		job.AssetPath,
		job.AssetRemoteURL,
		job.AssetDegraded,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1`, jobID)
	return scanJob(row)
}

func (r *PostgresJobsRepository) NextQueued(ctx context.Context, now time.Time) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM generation_jobs
		WHERE status = 'queued' AND (not_before IS NULL OR not_before <= $1)
		ORDER BY position
		LIMIT 1
	`, now)
	return scanJob(row)
}

func (r *PostgresJobsRepository) MaxActivePosition(ctx context.Context) (int, error) {
	var max int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(position), 0)
		FROM generation_jobs
		WHERE status IN ('queued', 'processing')
	`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max active position: %w", err)
	}
	return max, nil
}

func (r *PostgresJobsRepository) ActiveJobForSubject(ctx context.Context, subjectRef string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM generation_jobs
		WHERE subject_ref = $1 AND status IN ('queued', 'processing')
		LIMIT 1
	`, subjectRef)
	return scanJob(row)
}

func (r *PostgresJobsRepository) ListByRequester(ctx context.Context, requesterID, tenantID string) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE requester_id = $1`
	args := []any{requesterID}
	if tenantID != "" {
		query += ` AND tenant_id = $2`
		args = append(args, tenantID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs by requester: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (r *PostgresJobsRepository) CountByStatus(ctx context.Context) (domain.QueueStats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM generation_jobs GROUP BY status
	`)
	if err != nil {
		return domain.QueueStats{}, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	var stats domain.QueueStats
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return domain.QueueStats{}, fmt.Errorf("scan status count: %w", err)
		}
		switch domain.JobStatus(status) {
		case domain.JobStatusQueued:
			stats.Queued = count
		case domain.JobStatusProcessing:
			stats.Processing = count
		case domain.JobStatusCompleted:
			stats.Completed = count
		case domain.JobStatusFailed:
			stats.Failed = count
		case domain.JobStatusCancelled:
			stats.Cancelled = count
		}
	}
	if rows.Err() != nil {
		return domain.QueueStats{}, fmt.Errorf("iterate status counts: %w", rows.Err())
	}
	return stats, nil
}

func (r *PostgresJobsRepository) ListProcessingOlderThan(ctx context.Context, cutoff time.Time) ([]*domain.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM generation_jobs
		WHERE status = 'processing' AND started_at IS NOT NULL AND started_at <= $1
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale processing jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (r *PostgresJobsRepository) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	command, err := r.pool.Exec(ctx, `
		DELETE FROM generation_jobs
		WHERE status IN ('completed', 'failed', 'cancelled') AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete terminal jobs: %w", err)
	}
	return int(command.RowsAffected()), nil
}

func (r *PostgresJobsRepository) ListRecent(ctx context.Context, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM generation_jobs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func insertArgs(job *domain.Job) []any {
	return []any{
		job.ID,
		job.SubjectRef,
		job.RequesterID,
		job.TenantID,
		job.ScopeID,
		string(job.Status),
		job.Position,
		job.Description,
		job.CustomPrompt,
		job.ProviderSettings.ChannelRef,
		job.ProviderSettings.Credential,
		job.ProviderSettings.SessionRef,
		job.ProviderSettings.Version,
		job.ProviderSettings.Enabled,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
		job.ErrorMessage,
		job.RetryCount,
		job.ConcurrencyRetryCount,
		job.CongestionRetryCount,
		nullableTime(job.NotBefore),
		job.ProgressPercent,
		job.AssetPath,
		job.AssetRemoteURL,
		job.AssetDegraded,
	}
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job       domain.Job
		status    string
		notBefore *time.Time
	)
	err := row.Scan(
		&job.ID,
		&job.SubjectRef,
		&job.RequesterID,
		&job.TenantID,
		&job.ScopeID,
		&status,
		&job.Position,
		&job.Description,
		&job.CustomPrompt,
		&job.ProviderSettings.ChannelRef,
		&job.ProviderSettings.Credential,
		&job.ProviderSettings.SessionRef,
		&job.ProviderSettings.Version,
		&job.ProviderSettings.Enabled,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.ErrorMessage,
		&job.RetryCount,
		&job.ConcurrencyRetryCount,
		&job.CongestionRetryCount,
		&notBefore,
		&job.ProgressPercent,
		&job.AssetPath,
		&job.AssetRemoteURL,
		&job.AssetDegraded,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.Status = domain.JobStatus(status)
	if notBefore != nil {
		job.NotBefore = *notBefore
	}
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]*domain.Job, error) {
	items := make([]*domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, job)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate jobs: %w", rows.Err())
	}
	return items, nil
}

func nullableTime(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	return &value
}
