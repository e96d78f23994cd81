package store

import (
	"context"
	"encoding/json"
	"time"
)

// AppendJobLog adds one append-only log entry for a job.
func (s *Store) AppendJobLog(ctx context.Context, entry JobLogEntry) error {
	metadataJSON := []byte("{}")
	if len(entry.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return err
		}
	}
	createdAt := entry.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO job_logs (job_id, category, stage, event, status, message, actor, metadata_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.JobID,
		entry.Category,
		entry.Stage,
		entry.Event,
		entry.Status,
		entry.Message,
		entry.Actor,
		string(metadataJSON),
		createdAt,
	)
	return err
}

func (s *Store) ListJobLogs(ctx context.Context, jobID string) ([]JobLogEntry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, job_id, category, stage, event, status, message, actor, metadata_json, created_at
		 FROM job_logs WHERE job_id = ? ORDER BY created_at ASC, id ASC`,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]JobLogEntry, 0)
	for rows.Next() {
		var entry JobLogEntry
		var metadataJSON string
		if err := rows.Scan(
			&entry.ID,
			&entry.JobID,
			&entry.Category,
			&entry.Stage,
			&entry.Event,
			&entry.Status,
			&entry.Message,
			&entry.Actor,
			&metadataJSON,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		if metadataJSON != "" && metadataJSON != "{}" {
			if err := json.Unmarshal([]byte(metadataJSON), &entry.Metadata); err != nil {
				return nil, err
			}
		}
		ret = append(ret, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// PruneJobLogs removes log entries older than the retention cutoff.
func (s *Store) PruneJobLogs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_logs WHERE created_at <= ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
