package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertAsset records an asset if no record with the same content hash exists
// for the job yet. Returns true when a new record was created. Asset records
// are immutable once stored.
func (s *Store) InsertAsset(ctx context.Context, asset *Asset) (bool, error) {
	if asset == nil {
		return false, fmt.Errorf("asset is nil")
	}
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO assets (
			job_id, hash, media_type, byte_size, width, height,
			alt_text, caption, keep_original, storage_key, source_url, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, hash) DO NOTHING`,
		asset.JobID,
		asset.Hash,
		asset.MediaType,
		asset.ByteSize,
		asset.Width,
		asset.Height,
		asset.AltText,
		asset.Caption,
		boolToInt(asset.KeepOriginal),
		asset.StorageKey,
		asset.SourceURL,
		time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) GetAsset(ctx context.Context, jobID, hash string) (*Asset, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT job_id, hash, media_type, byte_size, width, height,
			alt_text, caption, keep_original, storage_key, source_url, created_at
		 FROM assets WHERE job_id = ? AND hash = ?`,
		jobID,
		hash,
	)
	asset, err := scanAsset(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return asset, true, nil
}

func (s *Store) ListAssets(ctx context.Context, jobID string) ([]*Asset, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT job_id, hash, media_type, byte_size, width, height,
			alt_text, caption, keep_original, storage_key, source_url, created_at
		 FROM assets WHERE job_id = ? ORDER BY created_at ASC, hash ASC`,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*Asset, 0)
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// UpsertAnchor merges anchor metadata keyed by (job, anchor ID). Anchors are
// updated in place, never recreated, as their owning chunk's content changes.
func (s *Store) UpsertAnchor(ctx context.Context, anchor *Anchor) error {
	if anchor == nil {
		return fmt.Errorf("anchor is nil")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO anchors (
			job_id, anchor_id, chunk_id, doc_order, asset_hash,
			before_hash, after_hash, alignment, width_px, caption_ref, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, anchor_id) DO UPDATE SET
			chunk_id=excluded.chunk_id,
			doc_order=excluded.doc_order,
			asset_hash=excluded.asset_hash,
			before_hash=excluded.before_hash,
			after_hash=excluded.after_hash,
			alignment=excluded.alignment,
			width_px=excluded.width_px,
			caption_ref=CASE WHEN excluded.caption_ref = '' THEN anchors.caption_ref ELSE excluded.caption_ref END,
			updated_at=excluded.updated_at`,
		anchor.JobID,
		anchor.AnchorID,
		anchor.ChunkID,
		anchor.DocOrder,
		anchor.AssetHash,
		anchor.BeforeHash,
		anchor.AfterHash,
		anchor.Alignment,
		anchor.WidthPx,
		anchor.CaptionRef,
		time.Now().UTC(),
	)
	return err
}

// UpdateAnchorFingerprints replaces the neighboring-text hashes of one anchor
// without touching its placement metadata.
func (s *Store) UpdateAnchorFingerprints(ctx context.Context, jobID, anchorID, beforeHash, afterHash string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE anchors SET before_hash = ?, after_hash = ?, updated_at = ? WHERE job_id = ? AND anchor_id = ?`,
		beforeHash, afterHash, time.Now().UTC(), jobID, anchorID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("anchor %s not found for job %s", anchorID, jobID)
	}
	return nil
}

func (s *Store) ListAnchors(ctx context.Context, jobID string) ([]*Anchor, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT job_id, anchor_id, chunk_id, doc_order, asset_hash,
			before_hash, after_hash, alignment, width_px, caption_ref, updated_at
		 FROM anchors WHERE job_id = ? ORDER BY doc_order ASC`,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*Anchor, 0)
	for rows.Next() {
		var anchor Anchor
		if err := rows.Scan(
			&anchor.JobID,
			&anchor.AnchorID,
			&anchor.ChunkID,
			&anchor.DocOrder,
			&anchor.AssetHash,
			&anchor.BeforeHash,
			&anchor.AfterHash,
			&anchor.Alignment,
			&anchor.WidthPx,
			&anchor.CaptionRef,
			&anchor.UpdatedAt,
		); err != nil {
			return nil, err
		}
		ret = append(ret, &anchor)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// DeleteJobData removes chunks, assets, anchors, logs and pending signals of
// a job in one transaction. Offloaded chunk payloads are deleted first.
func (s *Store) DeleteJobData(ctx context.Context, jobID string) error {
	if err := s.DeleteChunks(ctx, jobID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM assets WHERE job_id = ?`, jobID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM anchors WHERE job_id = ?`, jobID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM job_logs WHERE job_id = ?`, jobID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM signals WHERE job_id = ?`, jobID); err != nil {
		return err
	}
	return tx.Commit()
}

func scanAsset(row rowScanner) (*Asset, error) {
	var asset Asset
	var keepOriginal int
	if err := row.Scan(
		&asset.JobID,
		&asset.Hash,
		&asset.MediaType,
		&asset.ByteSize,
		&asset.Width,
		&asset.Height,
		&asset.AltText,
		&asset.Caption,
		&keepOriginal,
		&asset.StorageKey,
		&asset.SourceURL,
		&asset.CreatedAt,
	); err != nil {
		return nil, err
	}
	asset.KeepOriginal = keepOriginal == 1
	return &asset, nil
}
