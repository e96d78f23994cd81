package health

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingodoc/lingodoc/internal/blob"
	"github.com/lingodoc/lingodoc/internal/bus"
	"github.com/lingodoc/lingodoc/internal/config"
	"github.com/lingodoc/lingodoc/internal/engine"
	"github.com/lingodoc/lingodoc/internal/notify"
	"github.com/lingodoc/lingodoc/internal/pipeline"
	"github.com/lingodoc/lingodoc/internal/store"
)

// noopTranslator satisfies the engine without doing work; sweep tests drive
// the store directly and never let a signal reach translation.
type noopTranslator struct{}

func (noopTranslator) Name() string { return "noop" }

func (noopTranslator) TranslateChunk(_ context.Context, req engine.Request) (*engine.Result, error) {
	return &engine.Result{HTML: req.HTML, Provider: "noop", Model: "noop"}, nil
}

type monitorEnv struct {
	store   *store.Store
	bus     *bus.Bus
	monitor *Monitor
}

func newMonitorEnv(t *testing.T, cfg config.HealthConfig, opts ...Option) *monitorEnv {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	blobs, err := blob.NewStore(t.TempDir())
	require.NoError(t, err)

	b := bus.New(1, st)
	orch := pipeline.NewOrchestrator(st, blobs, b, noopTranslator{}, notify.LogNotifier{}, 3)
	monitor := NewMonitor(st, b, orch, cron.New(), cfg, opts...)
	return &monitorEnv{store: st, bus: b, monitor: monitor}
}

func defaultHealthConfig() config.HealthConfig {
	return config.HealthConfig{
		CronExpr:        "@every 1m",
		StaleAfter:      10 * time.Minute,
		MaxJobRetries:   2,
		JobLogRetention: 24 * time.Hour,
	}
}

func staleJob(id string, age time.Duration) *store.Job {
	then := time.Now().Add(-age)
	return &store.Job{
		ID:         id,
		OwnerID:    "owner-1",
		TargetLang: "de",
		FileKey:    "uploads/u1/doc.html",
		FileName:   "doc.html",
		Status:     store.JobProcessing,
		CreatedAt:  then,
		UpdatedAt:  then,
	}
}

func TestSweep_RestartsChunklessStalledJob(t *testing.T) {
	env := newMonitorEnv(t, defaultHealthConfig())
	ctx := context.Background()

	require.NoError(t, env.store.UpsertJob(ctx, staleJob("job-1", time.Hour)))
	require.NoError(t, env.monitor.Sweep(ctx))

	job, found, err := env.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, store.JobProcessing, job.Status)
	assert.Equal(t, 1, job.HealthRetries)
	assert.True(t, env.bus.Pending("job-1", bus.KindStart, -1))
}

func TestSweep_LeavesFreshJobAlone(t *testing.T) {
	env := newMonitorEnv(t, defaultHealthConfig())
	ctx := context.Background()

	require.NoError(t, env.store.UpsertJob(ctx, staleJob("job-1", time.Minute)))
	require.NoError(t, env.monitor.Sweep(ctx))

	job, _, err := env.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Zero(t, job.HealthRetries)
	assert.False(t, env.bus.Pending("job-1", bus.KindStart, -1))
}

func TestSweep_FailsJobAfterRetryBudget(t *testing.T) {
	env := newMonitorEnv(t, defaultHealthConfig())
	ctx := context.Background()

	job := staleJob("job-1", time.Hour)
	job.HealthRetries = 2
	require.NoError(t, env.store.UpsertJob(ctx, job))
	require.NoError(t, env.monitor.Sweep(ctx))

	got, _, err := env.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, store.JobFailed, got.Status)
	assert.Contains(t, got.LastError, "stalled")
}

func TestSweep_RequeuesFailedChunks(t *testing.T) {
	env := newMonitorEnv(t, defaultHealthConfig())
	ctx := context.Background()

	require.NoError(t, env.store.UpsertJob(ctx, staleJob("job-1", time.Hour)))
	require.NoError(t, env.store.EnsureChunkSource(ctx, &store.Chunk{
		JobID: "job-1", Order: 0, ChunkID: "c-0", SourceHTML: "<p>x</p>",
	}))
	failed := store.ChunkFailed
	require.NoError(t, env.store.UpdateChunkState(ctx, "job-1", 0, store.ChunkPatch{Status: &failed}))

	require.NoError(t, env.monitor.Sweep(ctx))

	chunk, found, err := env.store.GetChunk(ctx, "job-1", 0)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, store.ChunkPending, chunk.Status)
	assert.True(t, env.bus.Pending("job-1", bus.KindProcessChunk, 0))

	// With the chunk already requeued the job is making progress again, so
	// the sweep must not also restart it.
	job, _, err := env.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Zero(t, job.HealthRetries)
}

func TestSweep_RequeuesStrandedPendingChunks(t *testing.T) {
	env := newMonitorEnv(t, defaultHealthConfig())
	ctx := context.Background()

	// A pending chunk without a queued signal never gets picked up again on
	// its own; the sweep must replay the signal.
	require.NoError(t, env.store.UpsertJob(ctx, staleJob("job-1", time.Hour)))
	require.NoError(t, env.store.EnsureChunkSource(ctx, &store.Chunk{
		JobID: "job-1", Order: 0, ChunkID: "c-0", SourceHTML: "<p>x</p>",
	}))
	require.False(t, env.bus.Pending("job-1", bus.KindProcessChunk, 0))

	require.NoError(t, env.monitor.Sweep(ctx))

	assert.True(t, env.bus.Pending("job-1", bus.KindProcessChunk, 0))

	chunk, found, err := env.store.GetChunk(ctx, "job-1", 0)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, store.ChunkPending, chunk.Status)

	// Replaying the signal already unblocks the job, so no restart.
	job, _, err := env.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Zero(t, job.HealthRetries)
}

func TestSweep_FinalizesAbandonedCancellation(t *testing.T) {
	env := newMonitorEnv(t, defaultHealthConfig())
	ctx := context.Background()

	job := staleJob("job-1", time.Hour)
	job.Status = store.JobCancelRequested
	require.NoError(t, env.store.UpsertJob(ctx, job))
	require.NoError(t, env.store.EnsureChunkSource(ctx, &store.Chunk{
		JobID: "job-1", Order: 0, ChunkID: "c-0", SourceHTML: "<p>x</p>",
	}))

	require.NoError(t, env.monitor.Sweep(ctx))

	got, _, err := env.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, store.JobCancelled, got.Status)
	require.NotNil(t, got.CleanedAt)

	chunks, err := env.store.ListChunks(ctx, "job-1")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSweep_IngestStalenessAndRetryBudget(t *testing.T) {
	env := newMonitorEnv(t, defaultHealthConfig())
	ctx := context.Background()

	then := time.Now().Add(-time.Hour)
	require.NoError(t, env.store.UpsertIngestJob(ctx, &store.IngestJob{
		ID: "ing-1", OwnerID: "owner-1", SourceKey: "uploads/u1/raw.pdf",
		Status: store.JobProcessing, CreatedAt: then, UpdatedAt: then,
	}))
	require.NoError(t, env.store.UpsertIngestJob(ctx, &store.IngestJob{
		ID: "ing-2", OwnerID: "owner-1", SourceKey: "uploads/u2/raw.pdf",
		Status: store.JobProcessing, Retries: 2, CreatedAt: then, UpdatedAt: then,
	}))

	require.NoError(t, env.monitor.Sweep(ctx))

	first, _, err := env.store.GetIngestJob(ctx, "ing-1")
	require.NoError(t, err)
	assert.Equal(t, store.JobProcessing, first.Status)
	assert.Equal(t, 1, first.Retries)

	second, _, err := env.store.GetIngestJob(ctx, "ing-2")
	require.NoError(t, err)
	assert.Equal(t, store.JobFailed, second.Status)
	assert.NotEmpty(t, second.Error)
}

type recordingIngestWorker struct {
	jobs []*store.IngestJob
}

func (w *recordingIngestWorker) ProcessIngestJob(_ context.Context, job *store.IngestJob) error {
	w.jobs = append(w.jobs, job)
	return nil
}

func TestSweep_ReprocessesStalledIngestJobs(t *testing.T) {
	worker := &recordingIngestWorker{}
	env := newMonitorEnv(t, defaultHealthConfig(), WithIngestWorker(worker))
	ctx := context.Background()

	then := time.Now().Add(-time.Hour)
	require.NoError(t, env.store.UpsertIngestJob(ctx, &store.IngestJob{
		ID: "ing-1", OwnerID: "owner-1", SourceKey: "uploads/u1/raw.pdf",
		Status: store.JobProcessing, CreatedAt: then, UpdatedAt: then,
	}))
	require.NoError(t, env.store.UpsertIngestJob(ctx, &store.IngestJob{
		ID: "ing-2", OwnerID: "owner-1", SourceKey: "uploads/u2/raw.pdf",
		Status: store.JobProcessing, Retries: 2, CreatedAt: then, UpdatedAt: then,
	}))

	require.NoError(t, env.monitor.Sweep(ctx))

	// Only the job with retry budget left is handed to the worker, with the
	// bumped counter.
	require.Len(t, worker.jobs, 1)
	assert.Equal(t, "ing-1", worker.jobs[0].ID)
	assert.Equal(t, 1, worker.jobs[0].Retries)
}

func TestSweep_PrunesOldJobLogs(t *testing.T) {
	env := newMonitorEnv(t, defaultHealthConfig())
	ctx := context.Background()

	require.NoError(t, env.store.AppendJobLog(ctx, store.JobLogEntry{
		JobID: "job-1", Category: "lifecycle", Stage: "intake",
		Event: "job_created", Status: "ok",
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}))
	require.NoError(t, env.store.AppendJobLog(ctx, store.JobLogEntry{
		JobID: "job-1", Category: "lifecycle", Stage: "assemble",
		Event: "job_assembled", Status: "ok",
		CreatedAt: time.Now(),
	}))

	require.NoError(t, env.monitor.Sweep(ctx))

	entries, err := env.store.ListJobLogs(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "job_assembled", entries[0].Event)
}
