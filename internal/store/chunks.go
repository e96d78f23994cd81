package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const chunkColumns = `job_id, chunk_order, chunk_id,
	source_html, source_html_key, source_text,
	machine_html, machine_html_key, reviewer_html, reviewer_html_key,
	status, error, machine_attempts, provider, model, last_updated_by,
	anchor_ids_json, updated_at`

// EnsureChunkSource creates or refreshes the source side of a chunk record.
// Translation progress on an existing record (status, machine output,
// provenance, attempt counter) is preserved, so re-parsing a document never
// erases completed translations.
func (s *Store) EnsureChunkSource(ctx context.Context, chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("chunk is nil")
	}
	anchorJSON, err := json.Marshal(chunk.AnchorIDs)
	if err != nil {
		return err
	}
	sourceInline, sourceKey, err := s.offloadField(chunk.JobID, chunk.Order, "source", chunk.SourceHTML)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO chunks (
			job_id, chunk_order, chunk_id, source_html, source_html_key, source_text,
			status, anchor_ids_json, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, chunk_order) DO UPDATE SET
			chunk_id=excluded.chunk_id,
			source_html=excluded.source_html,
			source_html_key=excluded.source_html_key,
			source_text=excluded.source_text,
			anchor_ids_json=excluded.anchor_ids_json,
			updated_at=excluded.updated_at`,
		chunk.JobID,
		chunk.Order,
		chunk.ChunkID,
		sourceInline,
		sourceKey,
		chunk.SourceText,
		string(ChunkPending),
		string(anchorJSON),
		now,
	)
	return err
}

// UpdateChunkState patches individual fields of the chunk at (job, order).
// Nil patch fields are left unchanged.
func (s *Store) UpdateChunkState(ctx context.Context, jobID string, order int, patch ChunkPatch) error {
	set := make([]string, 0, 8)
	args := make([]any, 0, 8)

	if patch.Status != nil {
		set = append(set, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.Error != nil {
		set = append(set, "error = ?")
		args = append(args, *patch.Error)
	}
	if patch.MachineHTML != nil {
		inline, key, err := s.offloadField(jobID, order, "machine", *patch.MachineHTML)
		if err != nil {
			return err
		}
		set = append(set, "machine_html = ?", "machine_html_key = ?")
		args = append(args, inline, key)
	}
	if patch.ReviewerHTML != nil {
		inline, key, err := s.offloadField(jobID, order, "reviewer", *patch.ReviewerHTML)
		if err != nil {
			return err
		}
		set = append(set, "reviewer_html = ?", "reviewer_html_key = ?")
		args = append(args, inline, key)
	}
	if patch.MachineAttempts != nil {
		set = append(set, "machine_attempts = ?")
		args = append(args, *patch.MachineAttempts)
	}
	if patch.Provider != nil {
		set = append(set, "provider = ?")
		args = append(args, *patch.Provider)
	}
	if patch.Model != nil {
		set = append(set, "model = ?")
		args = append(args, *patch.Model)
	}
	if patch.LastUpdatedBy != nil {
		set = append(set, "last_updated_by = ?")
		args = append(args, *patch.LastUpdatedBy)
	}
	if len(set) == 0 {
		return nil
	}
	set = append(set, "updated_at = ?")
	args = append(args, time.Now().UTC(), jobID, order)

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE chunks SET `+strings.Join(set, ", ")+` WHERE job_id = ? AND chunk_order = ?`,
		args...,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("chunk %s/%d not found", jobID, order)
	}
	return nil
}

func (s *Store) GetChunk(ctx context.Context, jobID string, order int) (*Chunk, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE job_id = ? AND chunk_order = ?`,
		jobID,
		order,
	)
	chunk, err := s.scanChunk(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return chunk, true, nil
}

// ListChunks returns all chunks of a job in document order, with offloaded
// payloads merged back in.
func (s *Store) ListChunks(ctx context.Context, jobID string) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE job_id = ? ORDER BY chunk_order ASC`,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*Chunk, 0)
	for rows.Next() {
		chunk, err := s.scanChunk(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// ChunkProgress summarizes chunk completion for one job.
func (s *Store) ChunkProgress(ctx context.Context, jobID string) (Progress, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(MAX(updated_at), '')
		 FROM chunks WHERE job_id = ?`,
		string(ChunkCompleted),
		string(ChunkFailed),
		jobID,
	)
	var p Progress
	var latest sql.NullString
	if err := row.Scan(&p.Total, &p.Completed, &p.Failed, &latest); err != nil {
		return Progress{}, err
	}
	if latest.Valid && latest.String != "" {
		if t, err := parseStoredTime(latest.String); err == nil {
			p.LatestUpdate = t
		}
	}
	return p, nil
}

// DeleteChunks removes all chunk records of a job, including offloaded
// payload blobs. Used by cancellation cleanup.
func (s *Store) DeleteChunks(ctx context.Context, jobID string) error {
	if s.payloads != nil {
		rows, err := s.db.QueryContext(
			ctx,
			`SELECT source_html_key, machine_html_key, reviewer_html_key FROM chunks WHERE job_id = ?`,
			jobID,
		)
		if err != nil {
			return err
		}
		keys := make([]string, 0)
		for rows.Next() {
			var sourceKey, machineKey, reviewerKey string
			if err := rows.Scan(&sourceKey, &machineKey, &reviewerKey); err != nil {
				rows.Close()
				return err
			}
			for _, key := range []string{sourceKey, machineKey, reviewerKey} {
				if key != "" {
					keys = append(keys, key)
				}
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
		for _, key := range keys {
			if err := s.payloads.Delete(key); err != nil {
				return err
			}
		}
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE job_id = ?`, jobID)
	return err
}

func (s *Store) scanChunk(row rowScanner) (*Chunk, error) {
	var chunk Chunk
	var status string
	var sourceKey, machineKey, reviewerKey string
	var anchorJSON string
	if err := row.Scan(
		&chunk.JobID,
		&chunk.Order,
		&chunk.ChunkID,
		&chunk.SourceHTML,
		&sourceKey,
		&chunk.SourceText,
		&chunk.MachineHTML,
		&machineKey,
		&chunk.ReviewerHTML,
		&reviewerKey,
		&status,
		&chunk.Error,
		&chunk.MachineAttempts,
		&chunk.Provider,
		&chunk.Model,
		&chunk.LastUpdatedBy,
		&anchorJSON,
		&chunk.UpdatedAt,
	); err != nil {
		return nil, err
	}
	chunk.Status = ChunkStatus(status)
	if err := json.Unmarshal([]byte(anchorJSON), &chunk.AnchorIDs); err != nil {
		return nil, err
	}
	var err error
	if chunk.SourceHTML, err = s.loadField(chunk.SourceHTML, sourceKey); err != nil {
		return nil, err
	}
	if chunk.MachineHTML, err = s.loadField(chunk.MachineHTML, machineKey); err != nil {
		return nil, err
	}
	if chunk.ReviewerHTML, err = s.loadField(chunk.ReviewerHTML, reviewerKey); err != nil {
		return nil, err
	}
	return &chunk, nil
}

// offloadField stores value in the payload store when it exceeds the offload
// threshold, returning the inline value and/or the blob back-reference key.
func (s *Store) offloadField(jobID string, order int, field string, value string) (inline string, key string, err error) {
	if s.payloads == nil || s.offloadThreshold <= 0 || len(value) <= s.offloadThreshold {
		return value, "", nil
	}
	key = fmt.Sprintf("jobs/%s/chunks/%d/%s.html", jobID, order, field)
	if err := s.payloads.Put(key, []byte(value)); err != nil {
		return "", "", fmt.Errorf("offload chunk payload: %w", err)
	}
	return "", key, nil
}

func (s *Store) loadField(inline string, key string) (string, error) {
	if key == "" {
		return inline, nil
	}
	if s.payloads == nil {
		return "", fmt.Errorf("chunk payload offloaded to %s but no payload store configured", key)
	}
	data, ok, err := s.payloads.Get(key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("offloaded chunk payload %s missing", key)
	}
	return string(data), nil
}

func parseStoredTime(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", value)
}
