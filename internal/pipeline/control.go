package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/lingodoc/lingodoc/internal/bus"
	"github.com/lingodoc/lingodoc/internal/notify"
	"github.com/lingodoc/lingodoc/internal/store"
	"github.com/lingodoc/lingodoc/pkg/log"
)

// Pause asks a running job to stop at its next checkpoint. Pausing an
// already pausing or paused job is a no-op.
func (o *Orchestrator) Pause(ctx context.Context, jobID, actor string) (*store.Job, error) {
	job, found, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, WrapError(err, ErrStorage, "load job")
	}
	if !found {
		return nil, NewError(ErrJobNotFound, "job not found").WithContext("job_id", jobID)
	}

	switch job.Status {
	case store.JobPauseRequested, store.JobPaused:
		return job, nil
	case store.JobProcessing:
	default:
		return nil, NewError(ErrState, fmt.Sprintf("job in state %s cannot be paused", job.Status))
	}

	job.Status = store.JobPauseRequested
	job.PausedBy = actor
	job.UpdatedAt = time.Now()
	if err := o.store.UpsertJob(ctx, job); err != nil {
		return nil, WrapError(err, ErrStorage, "request pause")
	}
	o.logEvent(ctx, jobID, "lifecycle", "control", "pause_requested", "ok", "", actor)
	return job, nil
}

// Resume returns a paused job to processing and replays the start signal,
// which re-fans-out only the chunks that are not yet completed.
func (o *Orchestrator) Resume(ctx context.Context, jobID, actor string) (*store.Job, error) {
	job, found, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, WrapError(err, ErrStorage, "load job")
	}
	if !found {
		return nil, NewError(ErrJobNotFound, "job not found").WithContext("job_id", jobID)
	}

	switch job.Status {
	case store.JobProcessing:
		return job, nil
	case store.JobPaused, store.JobPauseRequested:
	default:
		return nil, NewError(ErrState, fmt.Sprintf("job in state %s cannot be resumed", job.Status))
	}

	job.Status = store.JobProcessing
	job.PausedBy = ""
	job.PausedAt = nil
	job.UpdatedAt = time.Now()
	if err := o.store.UpsertJob(ctx, job); err != nil {
		return nil, WrapError(err, ErrStorage, "resume job")
	}

	o.logEvent(ctx, jobID, "lifecycle", "control", "job_resumed", "ok", "", actor)
	o.bus.Publish(jobID, bus.KindStart, -1)
	return job, nil
}

// Cancel asks a job to stop permanently. Terminal jobs reject it; cancelling
// an already cancelling or cancelled job is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, jobID, reason string) (*store.Job, error) {
	job, found, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, WrapError(err, ErrStorage, "load job")
	}
	if !found {
		return nil, NewError(ErrJobNotFound, "job not found").WithContext("job_id", jobID)
	}

	switch job.Status {
	case store.JobCancelRequested, store.JobCancelled:
		return job, nil
	case store.JobApproved, store.JobFailed:
		return nil, NewError(ErrState, fmt.Sprintf("job in state %s cannot be cancelled", job.Status))
	}

	job.Status = store.JobCancelRequested
	job.CancelReason = reason
	job.UpdatedAt = time.Now()
	if err := o.store.UpsertJob(ctx, job); err != nil {
		return nil, WrapError(err, ErrStorage, "request cancel")
	}
	o.logEvent(ctx, jobID, "lifecycle", "control", "cancel_requested", "ok", reason, "")

	// Paused jobs have no in-flight signals to hit a checkpoint, so the
	// cancellation is finalized inline.
	if err := o.finalizeCancel(ctx, job); err != nil {
		log.Error("Failed to finalize cancellation of job %s inline: %v", jobID, err)
	}
	return job, nil
}

// FinalizeCancellation lets the health monitor settle a cancellation whose
// cleanup never completed.
func (o *Orchestrator) FinalizeCancellation(ctx context.Context, job *store.Job) error {
	return o.finalizeCancel(ctx, job)
}

// FailStalled marks a job the health monitor gave up on.
func (o *Orchestrator) FailStalled(ctx context.Context, job *store.Job, reason string) {
	o.failJob(ctx, job, NewError(ErrUnknown, "job stalled: "+reason))
}

// finalizePause settles a pause request: the job snapshot is already durable
// chunk by chunk, so pausing is just the status flip.
func (o *Orchestrator) finalizePause(ctx context.Context, job *store.Job) error {
	if job.Status != store.JobPauseRequested {
		return nil
	}
	now := time.Now()
	job.Status = store.JobPaused
	job.PausedAt = &now
	job.UpdatedAt = now

	progress, err := o.store.ChunkProgress(ctx, job.ID)
	if err == nil {
		job.ProcessedChunks = progress.Completed
		job.FailedChunks = progress.Failed
	}

	if err := o.store.UpsertJob(ctx, job); err != nil {
		return WrapError(err, ErrStorage, "finalize pause")
	}
	o.logEvent(ctx, job.ID, "lifecycle", "control", "job_paused", "ok",
		fmt.Sprintf("%d/%d chunks completed", job.ProcessedChunks, job.TotalChunks), job.PausedBy)
	o.sendNotification(ctx, job, notify.EventPaused, "")
	return nil
}

// finalizeCancel moves a cancel-requested job to cancelled and removes its
// intermediate data. CleanedAt guards the cleanup so replayed signals and
// health sweeps cannot run it twice.
func (o *Orchestrator) finalizeCancel(ctx context.Context, job *store.Job) error {
	if job.Status != store.JobCancelRequested && job.Status != store.JobCancelled {
		return nil
	}

	if job.Status == store.JobCancelRequested {
		now := time.Now()
		job.Status = store.JobCancelled
		job.CancelledAt = &now
		job.UpdatedAt = now
		if err := o.store.UpsertJob(ctx, job); err != nil {
			return WrapError(err, ErrStorage, "mark job cancelled")
		}
		o.sendNotification(ctx, job, notify.EventCancelled, job.CancelReason)
	}

	if job.CleanedAt != nil {
		return nil
	}
	if err := o.cleanupJobData(ctx, job); err != nil {
		return err
	}

	now := time.Now()
	job.CleanedAt = &now
	job.UpdatedAt = now
	if err := o.store.UpsertJob(ctx, job); err != nil {
		return WrapError(err, ErrStorage, "record cleanup")
	}
	log.Info("Cleaned up data of cancelled job %s", job.ID)
	return nil
}

// cleanupJobData removes chunks, assets, anchors, signals and artifacts of a
// cancelled job. The job row itself stays for auditability.
func (o *Orchestrator) cleanupJobData(ctx context.Context, job *store.Job) error {
	assets, err := o.store.ListAssets(ctx, job.ID)
	if err != nil {
		return WrapError(err, ErrStorage, "list assets for cleanup")
	}
	for _, asset := range assets {
		if asset.StorageKey == "" {
			continue
		}
		if err := o.blobs.Delete(asset.StorageKey); err != nil {
			log.Error("Failed to delete asset blob %s: %v", asset.StorageKey, err)
		}
	}
	for _, key := range []string{job.BundleKey, job.AssembledKey, job.ApprovedKey} {
		if key == "" {
			continue
		}
		if err := o.blobs.Delete(key); err != nil {
			log.Error("Failed to delete artifact %s: %v", key, err)
		}
	}

	if err := o.store.DeleteJobData(ctx, job.ID); err != nil {
		return WrapError(err, ErrStorage, "delete job data")
	}
	return nil
}
