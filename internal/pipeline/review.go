package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/lingodoc/lingodoc/internal/blob"
	"github.com/lingodoc/lingodoc/internal/notify"
	"github.com/lingodoc/lingodoc/internal/store"
)

// ChunkEdit is one reviewer correction, addressed by chunk order.
type ChunkEdit struct {
	Order int    `json:"order"`
	HTML  string `json:"html"`
}

// SaveReview stores reviewer corrections. Only jobs waiting for review
// accept edits; saving the same edit twice is a no-op at the data level.
func (o *Orchestrator) SaveReview(ctx context.Context, jobID string, edits []ChunkEdit, reviewer string) error {
	job, found, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return WrapError(err, ErrStorage, "load job")
	}
	if !found {
		return NewError(ErrJobNotFound, "job not found").WithContext("job_id", jobID)
	}
	if job.Status != store.JobReadyForReview {
		return NewError(ErrState, fmt.Sprintf("job in state %s does not accept review edits", job.Status))
	}

	for _, edit := range edits {
		chunk, chunkFound, err := o.store.GetChunk(ctx, jobID, edit.Order)
		if err != nil {
			return WrapError(err, ErrStorage, "load chunk").WithContext("order", edit.Order)
		}
		if !chunkFound {
			return NewError(ErrState, "edit addresses unknown chunk").WithContext("order", edit.Order)
		}
		err = o.store.UpdateChunkState(ctx, jobID, edit.Order, store.ChunkPatch{
			ReviewerHTML:  strPtr(edit.HTML),
			LastUpdatedBy: strPtr(reviewer),
		})
		if err != nil {
			return WrapError(err, ErrStorage, "store reviewer edit").WithContext("order", edit.Order)
		}
		o.refreshAnchorFingerprints(ctx, jobID, chunk, edit.HTML)
	}

	o.logEvent(ctx, jobID, "review", "review", "edits_saved", "ok",
		fmt.Sprintf("%d chunks edited", len(edits)), reviewer)
	return nil
}

// Approve finalizes review: the approved document is assembled with
// reviewer text preferred over machine text, stored as its own artifact, and
// the job moves to its terminal success state.
func (o *Orchestrator) Approve(ctx context.Context, jobID, reviewer string) (*store.Job, error) {
	job, found, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, WrapError(err, ErrStorage, "load job")
	}
	if !found {
		return nil, NewError(ErrJobNotFound, "job not found").WithContext("job_id", jobID)
	}
	if job.Status == store.JobApproved {
		return job, nil
	}
	if job.Status != store.JobReadyForReview {
		return nil, NewError(ErrState, fmt.Sprintf("job in state %s cannot be approved", job.Status))
	}

	chunks, err := o.store.ListChunks(ctx, jobID)
	if err != nil {
		return nil, WrapError(err, ErrStorage, "list chunks")
	}
	approved, err := o.assembleDocument(ctx, job, chunks, true)
	if err != nil {
		return nil, err
	}
	approvedKey := blob.ArtifactKey(jobID, "approved.html")
	if err := o.blobs.Put(approvedKey, []byte(approved)); err != nil {
		return nil, WrapError(err, ErrStorage, "store approved document")
	}

	now := time.Now()
	job.ApprovedKey = approvedKey
	job.ApprovedAt = &now
	job.Status = store.JobApproved
	job.UpdatedAt = now
	if err := o.store.UpsertJob(ctx, job); err != nil {
		return nil, WrapError(err, ErrStorage, "mark job approved")
	}

	o.logEvent(ctx, jobID, "lifecycle", "review", "job_approved", "ok", "", reviewer)
	o.sendNotification(ctx, job, notify.EventApproved, "translation approved by "+reviewer)
	return job, nil
}
