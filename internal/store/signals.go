package store

import (
	"context"
	"fmt"

	"github.com/lingodoc/lingodoc/internal/bus"
)

func (s *Store) LoadSignals(ctx context.Context) ([]*bus.Signal, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, job_id, kind, chunk_order, status, created_at, updated_at
		 FROM signals ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*bus.Signal, 0)
	for rows.Next() {
		var item bus.Signal
		var kind, status string
		if err := rows.Scan(
			&item.ID,
			&item.JobID,
			&kind,
			&item.ChunkOrder,
			&status,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		item.Kind = bus.Kind(kind)
		item.Status = bus.Status(status)
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *Store) UpsertSignal(ctx context.Context, signal *bus.Signal) error {
	if signal == nil {
		return fmt.Errorf("signal is nil")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO signals (id, job_id, kind, chunk_order, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			updated_at=excluded.updated_at`,
		signal.ID,
		signal.JobID,
		string(signal.Kind),
		signal.ChunkOrder,
		string(signal.Status),
		signal.CreatedAt.UTC(),
		signal.UpdatedAt.UTC(),
	)
	return err
}

func (s *Store) DeleteSignal(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM signals WHERE id = ?`, id)
	return err
}
