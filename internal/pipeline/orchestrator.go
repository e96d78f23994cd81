// Package pipeline is the job orchestrator. It owns every job state
// transition and reacts to bus signals; nothing else writes job status.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lingodoc/lingodoc/internal/blob"
	"github.com/lingodoc/lingodoc/internal/bus"
	"github.com/lingodoc/lingodoc/internal/document"
	"github.com/lingodoc/lingodoc/internal/engine"
	"github.com/lingodoc/lingodoc/internal/notify"
	"github.com/lingodoc/lingodoc/internal/store"
	"github.com/lingodoc/lingodoc/pkg/log"
)

// Orchestrator drives jobs through parse, chunk fan-out, translation and
// assembly. All signal handlers are idempotent: redelivering any signal at
// any point reproduces the same terminal state.
type Orchestrator struct {
	store    *store.Store
	blobs    *blob.Store
	bus      *bus.Bus
	engine   engine.Translator
	parser   *document.Parser
	notifier notify.Notifier

	maxChunkAttempts int
}

func NewOrchestrator(
	st *store.Store,
	blobs *blob.Store,
	b *bus.Bus,
	eng engine.Translator,
	notifier notify.Notifier,
	maxChunkAttempts int,
) *Orchestrator {
	if maxChunkAttempts <= 0 {
		maxChunkAttempts = 3
	}
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Orchestrator{
		store:            st,
		blobs:            blobs,
		bus:              b,
		engine:           eng,
		parser:           document.NewParser(),
		notifier:         notifier,
		maxChunkAttempts: maxChunkAttempts,
	}
}

// CreateJobRequest is the intake for a new translation job. FileKey must
// already exist in the blob store.
type CreateJobRequest struct {
	OwnerID    string `json:"owner_id"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	FileKey    string `json:"file_key"`
	FileName   string `json:"file_name"`
	// ContentType is the media type declared at upload. Format detection
	// falls back to it when the file name has no usable extension.
	ContentType string `json:"content_type,omitempty"`
}

// CreateJob registers a job and signals the pipeline to start it.
func (o *Orchestrator) CreateJob(ctx context.Context, req CreateJobRequest) (*store.Job, error) {
	if req.TargetLang == "" {
		return nil, NewError(ErrState, "target language is required")
	}
	if req.FileKey == "" || req.FileName == "" {
		return nil, NewError(ErrState, "file key and file name are required")
	}
	exists, err := o.blobs.Has(req.FileKey)
	if err != nil {
		return nil, WrapError(err, ErrStorage, "check uploaded file")
	}
	if !exists {
		return nil, NewError(ErrUploadMissing, "uploaded file not found").WithContext("file_key", req.FileKey)
	}

	now := time.Now()
	job := &store.Job{
		ID:          uuid.NewString(),
		OwnerID:     req.OwnerID,
		SourceLang:  req.SourceLang,
		TargetLang:  req.TargetLang,
		FileKey:     req.FileKey,
		FileName:    req.FileName,
		ContentType: req.ContentType,
		Status:      store.JobProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.store.UpsertJob(ctx, job); err != nil {
		return nil, WrapError(err, ErrStorage, "persist job")
	}

	o.logEvent(ctx, job.ID, "lifecycle", "intake", "job_created", "ok", req.FileName, req.OwnerID)
	o.bus.Publish(job.ID, bus.KindStart, -1)
	return job, nil
}

// Handle is the bus handler. Returning nil acks the signal; an error requeues
// it, so handlers convert fatal conditions into job failure and return nil.
func (o *Orchestrator) Handle(ctx context.Context, signal *bus.Signal) error {
	switch signal.Kind {
	case bus.KindStart:
		return o.handleStart(ctx, signal.JobID)
	case bus.KindProcessChunk:
		return o.handleProcessChunk(ctx, signal.JobID, signal.ChunkOrder)
	case bus.KindAssemble:
		return o.handleAssemble(ctx, signal.JobID)
	default:
		log.Warn("Dropping signal %s with unknown kind %q", signal.ID, signal.Kind)
		return nil
	}
}

func (o *Orchestrator) handleStart(ctx context.Context, jobID string) error {
	job, proceed, err := o.checkpoint(ctx, jobID, "start")
	if err != nil || !proceed {
		return err
	}

	result, err := o.parseSource(job)
	if err != nil {
		if fatalForJob(err) {
			o.failJob(ctx, job, err)
			return nil
		}
		return err
	}

	now := time.Now()
	job.HeadHTML = result.HeadHTML
	job.TotalChunks = len(result.Chunks)
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.UpdatedAt = now
	if err := o.store.UpsertJob(ctx, job); err != nil {
		return WrapError(err, ErrStorage, "persist parsed job")
	}

	if err := o.persistAssets(ctx, job.ID, result); err != nil {
		return err
	}
	if err := o.persistChunks(ctx, job.ID, result.Chunks); err != nil {
		return err
	}

	o.logEvent(ctx, job.ID, "lifecycle", "parse", "document_parsed", "ok",
		fmt.Sprintf("%d chunks, %d assets", len(result.Chunks), len(result.Assets)), "")

	// Fan out. Completed chunks survive a restart, so only the rest are
	// queued again.
	chunks, err := o.store.ListChunks(ctx, job.ID)
	if err != nil {
		return WrapError(err, ErrStorage, "list chunks")
	}
	queued := 0
	for _, chunk := range chunks {
		if chunk.Status == store.ChunkCompleted {
			continue
		}
		o.bus.Publish(job.ID, bus.KindProcessChunk, chunk.Order)
		queued++
	}
	if queued == 0 {
		o.bus.Publish(job.ID, bus.KindAssemble, -1)
	}
	return nil
}

// parseSource loads and parses the uploaded file. Parse failures come back
// typed so the caller can distinguish fatal from retryable.
func (o *Orchestrator) parseSource(job *store.Job) (*document.Result, error) {
	raw, found, err := o.blobs.Get(job.FileKey)
	if err != nil {
		return nil, WrapError(err, ErrStorage, "read uploaded file")
	}
	if !found {
		return nil, NewError(ErrUploadMissing, "uploaded file disappeared").WithContext("file_key", job.FileKey)
	}

	result, err := o.parser.Parse(raw, job.ContentType, job.FileName)
	if err != nil {
		var unsupported *document.UnsupportedFormatError
		var empty *document.EmptyContentError
		switch {
		case errors.As(err, &unsupported):
			return nil, WrapError(err, ErrUnsupportedFormat, "unsupported document format")
		case errors.As(err, &empty):
			return nil, WrapError(err, ErrEmptyDocument, "document has no translatable content")
		default:
			return nil, WrapError(err, ErrParse, "parse document")
		}
	}
	return result, nil
}

func (o *Orchestrator) persistAssets(ctx context.Context, jobID string, result *document.Result) error {
	for _, asset := range result.Assets {
		key := ""
		if len(asset.Bytes) > 0 {
			key = blob.AssetKey(jobID, asset.Hash, asset.MediaType)
			if err := o.blobs.Put(key, asset.Bytes); err != nil {
				return WrapError(err, ErrStorage, "store asset bytes").WithContext("asset", asset.Hash)
			}
		}
		created, err := o.store.InsertAsset(ctx, &store.Asset{
			JobID:        jobID,
			Hash:         asset.Hash,
			MediaType:    asset.MediaType,
			ByteSize:     int64(len(asset.Bytes)),
			Width:        asset.Width,
			Height:       asset.Height,
			AltText:      asset.AltText,
			Caption:      asset.Caption,
			KeepOriginal: asset.KeepOriginal,
			StorageKey:   key,
			SourceURL:    asset.SourceURL,
			CreatedAt:    time.Now(),
		})
		if err != nil {
			return WrapError(err, ErrStorage, "persist asset").WithContext("asset", asset.Hash)
		}
		if !created {
			log.Debug("Asset %s already stored for job %s", asset.Hash, jobID)
		}
	}

	for _, anchor := range result.Anchors {
		err := o.store.UpsertAnchor(ctx, &store.Anchor{
			JobID:      jobID,
			AnchorID:   anchor.AnchorID,
			ChunkID:    anchor.ChunkID,
			DocOrder:   anchor.DocOrder,
			AssetHash:  anchor.AssetHash,
			BeforeHash: anchor.BeforeHash,
			AfterHash:  anchor.AfterHash,
			Alignment:  anchor.Alignment,
			WidthPx:    anchor.WidthPx,
			CaptionRef: anchor.Caption,
			UpdatedAt:  time.Now(),
		})
		if err != nil {
			return WrapError(err, ErrStorage, "persist anchor").WithContext("anchor", anchor.AnchorID)
		}
	}
	return nil
}

func (o *Orchestrator) persistChunks(ctx context.Context, jobID string, chunks []document.ParsedChunk) error {
	for _, chunk := range chunks {
		err := o.store.EnsureChunkSource(ctx, &store.Chunk{
			JobID:      jobID,
			Order:      chunk.Order,
			ChunkID:    chunk.ChunkID,
			SourceHTML: chunk.HTML,
			SourceText: chunk.Text,
			Status:     store.ChunkPending,
			AnchorIDs:  chunk.AnchorIDs,
			UpdatedAt:  time.Now(),
		})
		if err != nil {
			return WrapError(err, ErrStorage, "persist chunk").WithContext("order", chunk.Order)
		}
	}
	return nil
}

func (o *Orchestrator) handleProcessChunk(ctx context.Context, jobID string, order int) error {
	job, proceed, err := o.checkpoint(ctx, jobID, "translate")
	if err != nil || !proceed {
		return err
	}

	chunk, found, err := o.store.GetChunk(ctx, jobID, order)
	if err != nil {
		return WrapError(err, ErrStorage, "load chunk")
	}
	if !found {
		log.Warn("Chunk %d of job %s no longer exists, dropping signal", order, jobID)
		return nil
	}
	if chunk.Status == store.ChunkCompleted {
		return o.advanceIfDone(ctx, job)
	}
	if chunk.MachineAttempts >= o.maxChunkAttempts {
		return o.exhaustChunk(ctx, job, chunk)
	}

	attempts := chunk.MachineAttempts + 1
	if err := o.store.UpdateChunkState(ctx, jobID, order, store.ChunkPatch{
		Status:          chunkStatusPtr(store.ChunkProcessing),
		MachineAttempts: &attempts,
	}); err != nil {
		return WrapError(err, ErrStorage, "mark chunk processing")
	}

	result, terr := o.translateChunk(ctx, job, chunk)
	if terr != nil {
		return o.recordChunkFailure(ctx, job, chunk, attempts, terr)
	}

	empty := ""
	if err := o.store.UpdateChunkState(ctx, jobID, order, store.ChunkPatch{
		Status:        chunkStatusPtr(store.ChunkCompleted),
		Error:         &empty,
		MachineHTML:   &result.HTML,
		Provider:      &result.Provider,
		Model:         &result.Model,
		LastUpdatedBy: strPtr("machine"),
	}); err != nil {
		return WrapError(err, ErrStorage, "store chunk translation")
	}

	o.refreshAnchorFingerprints(ctx, job.ID, chunk, result.HTML)

	return o.advanceIfDone(ctx, job)
}

// refreshAnchorFingerprints recomputes the neighboring-text hashes of a
// chunk's anchors from its current content. Translation and reviewer edits
// shift the surrounding text, so the hashes are refreshed on every content
// change to keep anchors locatable.
func (o *Orchestrator) refreshAnchorFingerprints(ctx context.Context, jobID string, chunk *store.Chunk, content string) {
	if len(chunk.AnchorIDs) == 0 {
		return
	}
	prints, err := document.AnchorFingerprints(content)
	if err != nil {
		log.Error("Failed to fingerprint anchors of chunk %d in job %s: %v", chunk.Order, jobID, err)
		return
	}
	for _, id := range chunk.AnchorIDs {
		fp, ok := prints[id]
		if !ok {
			log.Warn("Anchor %s missing from chunk %d content in job %s", id, chunk.Order, jobID)
			continue
		}
		if err := o.store.UpdateAnchorFingerprints(ctx, jobID, id, fp.Before, fp.After); err != nil {
			log.Error("Failed to update fingerprints of anchor %s in job %s: %v", id, jobID, err)
		}
	}
}

// translateChunk runs the engine, retrying exactly once with a corrective
// hint when the output fails structural validation.
func (o *Orchestrator) translateChunk(ctx context.Context, job *store.Job, chunk *store.Chunk) (*engine.Result, error) {
	req := engine.Request{
		ChunkID:    chunk.ChunkID,
		HTML:       chunk.SourceHTML,
		SourceLang: job.SourceLang,
		TargetLang: job.TargetLang,
	}
	result, err := o.engine.TranslateChunk(ctx, req)
	if err == nil {
		return result, nil
	}

	var mismatch *engine.StructuralMismatchError
	if !errors.As(err, &mismatch) {
		return nil, err
	}

	log.Warn("Chunk %s of job %s failed structural validation, retrying with hint: %s",
		chunk.ChunkID, job.ID, mismatch.Detail)
	req.Hint = mismatch.Detail
	return o.engine.TranslateChunk(ctx, req)
}

// recordChunkFailure stores the error and either queues another attempt or,
// when attempts are exhausted, fails the whole job.
func (o *Orchestrator) recordChunkFailure(ctx context.Context, job *store.Job, chunk *store.Chunk, attempts int, terr error) error {
	msg := terr.Error()
	status := store.ChunkPending
	if attempts >= o.maxChunkAttempts {
		status = store.ChunkFailed
	}
	if err := o.store.UpdateChunkState(ctx, job.ID, chunk.Order, store.ChunkPatch{
		Status: &status,
		Error:  &msg,
	}); err != nil {
		return WrapError(err, ErrStorage, "record chunk failure")
	}

	o.logEvent(ctx, job.ID, "error", "translate", "chunk_failed", "error",
		fmt.Sprintf("chunk %d attempt %d: %s", chunk.Order, attempts, msg), "")

	if status == store.ChunkFailed {
		return o.exhaustChunk(ctx, job, chunk)
	}
	o.bus.Publish(job.ID, bus.KindProcessChunk, chunk.Order)
	_, err := o.refreshCounters(ctx, job)
	return err
}

// exhaustChunk fails the job once any chunk runs out of attempts. A document
// with a permanently untranslatable chunk cannot reach review.
func (o *Orchestrator) exhaustChunk(ctx context.Context, job *store.Job, chunk *store.Chunk) error {
	if chunk.Status != store.ChunkFailed {
		failed := store.ChunkFailed
		if err := o.store.UpdateChunkState(ctx, job.ID, chunk.Order, store.ChunkPatch{Status: &failed}); err != nil {
			return WrapError(err, ErrStorage, "mark chunk failed")
		}
	}
	o.failJob(ctx, job, NewError(ErrTranslation, "chunk translation attempts exhausted").
		WithContext("chunk_order", chunk.Order))
	return nil
}

// advanceIfDone recomputes counters and signals assembly once every chunk
// has completed.
func (o *Orchestrator) advanceIfDone(ctx context.Context, job *store.Job) error {
	progress, err := o.refreshCounters(ctx, job)
	if err != nil {
		return err
	}
	if progress.Total > 0 && progress.Completed == progress.Total {
		o.bus.Publish(job.ID, bus.KindAssemble, -1)
	}
	return nil
}

// refreshCounters writes only the progress columns. A pause or cancel request
// can land between a handler's checkpoint and this write, so the loaded job
// row must never be written back whole here.
func (o *Orchestrator) refreshCounters(ctx context.Context, job *store.Job) (*store.Progress, error) {
	progress, err := o.store.ChunkProgress(ctx, job.ID)
	if err != nil {
		return nil, WrapError(err, ErrStorage, "read chunk progress")
	}
	if err := o.store.UpdateJobCounters(ctx, job.ID, progress.Total, progress.Completed, progress.Failed); err != nil {
		return nil, WrapError(err, ErrStorage, "update job counters")
	}
	job.TotalChunks = progress.Total
	job.ProcessedChunks = progress.Completed
	job.FailedChunks = progress.Failed
	job.UpdatedAt = time.Now()
	return &progress, nil
}

// checkpoint loads the job and settles any pending pause or cancel request
// before a handler does real work. proceed is false when the handler should
// ack and stop.
func (o *Orchestrator) checkpoint(ctx context.Context, jobID, stage string) (*store.Job, bool, error) {
	job, found, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, false, WrapError(err, ErrStorage, "load job")
	}
	if !found {
		log.Warn("Job %s no longer exists, dropping %s signal", jobID, stage)
		return nil, false, nil
	}

	switch job.Status {
	case store.JobProcessing:
		return job, true, nil
	case store.JobPauseRequested:
		if err := o.finalizePause(ctx, job); err != nil {
			return nil, false, err
		}
		return job, false, nil
	case store.JobCancelRequested:
		if err := o.finalizeCancel(ctx, job); err != nil {
			return nil, false, err
		}
		return job, false, nil
	default:
		// Paused, cancelled, failed or already past translation. Stale
		// signals for those are acked silently.
		return job, false, nil
	}
}

func (o *Orchestrator) failJob(ctx context.Context, job *store.Job, cause error) {
	now := time.Now()
	job.Status = store.JobFailed
	job.LastError = truncateMessage(cause.Error(), maxStoredErrorLen)
	job.UpdatedAt = now
	if err := o.store.UpsertJob(ctx, job); err != nil {
		log.Error("Failed to persist failure of job %s: %v", job.ID, err)
		return
	}

	o.logEvent(ctx, job.ID, "lifecycle", "pipeline", "job_failed", "error", cause.Error(), "")
	o.sendNotification(ctx, job, notify.EventFailed, cause.Error())
}

func (o *Orchestrator) logEvent(ctx context.Context, jobID, category, stage, event, status, message, actor string) {
	err := o.store.AppendJobLog(ctx, store.JobLogEntry{
		JobID:     jobID,
		Category:  category,
		Stage:     stage,
		Event:     event,
		Status:    status,
		Message:   message,
		Actor:     actor,
		CreatedAt: time.Now(),
	})
	if err != nil {
		log.Error("Failed to append job log for %s: %v", jobID, err)
	}
}

func (o *Orchestrator) sendNotification(ctx context.Context, job *store.Job, event, detail string) {
	err := o.notifier.Notify(ctx, notify.Notification{
		Event:   event,
		JobID:   job.ID,
		OwnerID: job.OwnerID,
		Title:   job.FileName,
		Detail:  detail,
		SentAt:  time.Now(),
	})
	if err != nil {
		log.Error("Failed to deliver %s notification for job %s: %v", event, job.ID, err)
	}
}

// maxStoredErrorLen bounds the failure summary kept on the job row. The full
// cause is still appended to the job log.
const maxStoredErrorLen = 512

func truncateMessage(msg string, limit int) string {
	runes := []rune(msg)
	if len(runes) <= limit {
		return msg
	}
	return string(runes[:limit])
}

func chunkStatusPtr(s store.ChunkStatus) *store.ChunkStatus {
	return &s
}

func strPtr(s string) *string {
	return &s
}
