package bus

import (
	"context"
	"time"
)

// Kind identifies what a signal asks the pipeline to do.
type Kind string

const (
	// KindStart kicks off (or resumes) the parse/fan-out phase of a job.
	KindStart Kind = "start"
	// KindProcessChunk translates one chunk, identified by its order index.
	KindProcessChunk Kind = "process-chunk"
	// KindAssemble stitches completed chunks into the final artifacts.
	KindAssemble Kind = "assemble"
)

// Status is the delivery state of a signal.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
)

// Signal is one message on the bus. Delivery is at-least-once; handlers must
// be idempotent.
type Signal struct {
	ID    string `json:"id"`
	JobID string `json:"job_id"`
	Kind  Kind   `json:"kind"`
	// ChunkOrder is the chunk order index for process-chunk signals, -1
	// otherwise.
	ChunkOrder int    `json:"chunk_order"`
	Status     Status `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists in-flight signals so pending work survives a restart.
type Store interface {
	LoadSignals(ctx context.Context) ([]*Signal, error)
	UpsertSignal(ctx context.Context, signal *Signal) error
	DeleteSignal(ctx context.Context, id string) error
}
