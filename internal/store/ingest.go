package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertIngestJob persists a retrieval-subsystem ingestion job record.
func (s *Store) UpsertIngestJob(ctx context.Context, job *IngestJob) error {
	if job == nil {
		return fmt.Errorf("ingest job is nil")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO ingest_jobs (id, owner_id, source_key, status, error, retries, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			owner_id=excluded.owner_id,
			source_key=excluded.source_key,
			status=excluded.status,
			error=excluded.error,
			retries=excluded.retries,
			updated_at=excluded.updated_at`,
		job.ID,
		job.OwnerID,
		job.SourceKey,
		string(job.Status),
		job.Error,
		job.Retries,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
	)
	return err
}

func (s *Store) GetIngestJob(ctx context.Context, id string) (*IngestJob, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, owner_id, source_key, status, error, retries, created_at, updated_at
		 FROM ingest_jobs WHERE id = ?`,
		id,
	)
	job, err := scanIngestJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return job, true, nil
}

func (s *Store) ListIngestJobsByStatus(ctx context.Context, status JobStatus) ([]*IngestJob, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, owner_id, source_key, status, error, retries, created_at, updated_at
		 FROM ingest_jobs WHERE status = ? ORDER BY created_at ASC`,
		string(status),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*IngestJob, 0)
	for rows.Next() {
		job, err := scanIngestJob(rows)
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

func scanIngestJob(row rowScanner) (*IngestJob, error) {
	var job IngestJob
	var status string
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.SourceKey,
		&status,
		&job.Error,
		&job.Retries,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = JobStatus(status)
	return &job, nil
}

// TouchIngestJob bumps the activity timestamp and retry counter in one write.
func (s *Store) TouchIngestJob(ctx context.Context, id string, retries int) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE ingest_jobs SET retries = ?, updated_at = ? WHERE id = ?`,
		retries,
		time.Now().UTC(),
		id,
	)
	return err
}
