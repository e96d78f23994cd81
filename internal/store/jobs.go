package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const jobColumns = `id, owner_id, source_lang, target_lang, file_key, file_name, content_type, status, last_error,
	total_chunks, processed_chunks, failed_chunks, health_retries,
	bundle_key, assembled_key, approved_key, head_html, paused_by, cancel_reason,
	created_at, updated_at, started_at, translated_at, approved_at, paused_at, cancelled_at, cleaned_at`

func (s *Store) UpsertJob(ctx context.Context, job *Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (`+jobColumns+`
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id=excluded.owner_id,
			source_lang=excluded.source_lang,
			target_lang=excluded.target_lang,
			file_key=excluded.file_key,
			file_name=excluded.file_name,
			content_type=excluded.content_type,
			status=excluded.status,
			last_error=excluded.last_error,
			total_chunks=excluded.total_chunks,
			processed_chunks=excluded.processed_chunks,
			failed_chunks=excluded.failed_chunks,
			health_retries=excluded.health_retries,
			bundle_key=excluded.bundle_key,
			assembled_key=excluded.assembled_key,
			approved_key=excluded.approved_key,
			head_html=excluded.head_html,
			paused_by=excluded.paused_by,
			cancel_reason=excluded.cancel_reason,
			updated_at=excluded.updated_at,
			started_at=excluded.started_at,
			translated_at=excluded.translated_at,
			approved_at=excluded.approved_at,
			paused_at=excluded.paused_at,
			cancelled_at=excluded.cancelled_at,
			cleaned_at=excluded.cleaned_at`,
		job.ID,
		job.OwnerID,
		job.SourceLang,
		job.TargetLang,
		job.FileKey,
		job.FileName,
		job.ContentType,
		string(job.Status),
		job.LastError,
		job.TotalChunks,
		job.ProcessedChunks,
		job.FailedChunks,
		job.HealthRetries,
		job.BundleKey,
		job.AssembledKey,
		job.ApprovedKey,
		job.HeadHTML,
		job.PausedBy,
		job.CancelReason,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
		nullableTime(job.StartedAt),
		nullableTime(job.TranslatedAt),
		nullableTime(job.ApprovedAt),
		nullableTime(job.PausedAt),
		nullableTime(job.CancelledAt),
		nullableTime(job.CleanedAt),
	)
	return err
}

// UpdateJobCounters refreshes the chunk progress columns without touching
// status or any other column, so it cannot clobber a control transition
// that landed after the caller loaded the job.
func (s *Store) UpdateJobCounters(ctx context.Context, jobID string, total, processed, failed int) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET total_chunks = ?, processed_chunks = ?, failed_chunks = ?, updated_at = ? WHERE id = ?`,
		total, processed, failed, time.Now().UTC(), jobID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("job %s not found", jobID)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return job, true, nil
}

func (s *Store) ListJobsByOwner(ctx context.Context, ownerID string) ([]*Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE owner_id = ? ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *Store) ListJobsByStatus(ctx context.Context, statuses ...JobStatus) ([]*Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]byte, 0, len(statuses)*3)
	args := make([]any, 0, len(statuses))
	for i, st := range statuses {
		if i > 0 {
			placeholders = append(placeholders, ", "...)
		}
		placeholders = append(placeholders, '?')
		args = append(args, string(st))
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status IN (`+string(placeholders)+`) ORDER BY created_at ASC`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var status string
	var startedAt, translatedAt, approvedAt, pausedAt, cancelledAt, cleanedAt sql.NullTime
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.SourceLang,
		&job.TargetLang,
		&job.FileKey,
		&job.FileName,
		&job.ContentType,
		&status,
		&job.LastError,
		&job.TotalChunks,
		&job.ProcessedChunks,
		&job.FailedChunks,
		&job.HealthRetries,
		&job.BundleKey,
		&job.AssembledKey,
		&job.ApprovedKey,
		&job.HeadHTML,
		&job.PausedBy,
		&job.CancelReason,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&translatedAt,
		&approvedAt,
		&pausedAt,
		&cancelledAt,
		&cleanedAt,
	); err != nil {
		return nil, err
	}
	job.Status = JobStatus(status)
	job.StartedAt = timePtr(startedAt)
	job.TranslatedAt = timePtr(translatedAt)
	job.ApprovedAt = timePtr(approvedAt)
	job.PausedAt = timePtr(pausedAt)
	job.CancelledAt = timePtr(cancelledAt)
	job.CleanedAt = timePtr(cleanedAt)
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	ret := make([]*Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
