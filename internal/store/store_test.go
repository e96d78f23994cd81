package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingodoc/lingodoc/internal/blob"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "test.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testJob(id string) *Job {
	now := time.Now()
	return &Job{
		ID:         id,
		OwnerID:    "owner-1",
		SourceLang: "en",
		TargetLang: "de",
		FileKey:    "uploads/u1/doc.html",
		FileName:   "doc.html",
		Status:     JobProcessing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestStore_JobRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	job := testJob("job-1")
	started := time.Now().Add(-time.Minute)
	job.StartedAt = &started
	require.NoError(t, st.UpsertJob(ctx, job))

	got, found, err := st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "owner-1", got.OwnerID)
	assert.Equal(t, JobProcessing, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.WithinDuration(t, started, *got.StartedAt, time.Second)
	assert.Nil(t, got.ApprovedAt)

	_, found, err = st.GetJob(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_JobContentTypeRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	job := testJob("job-1")
	job.ContentType = "text/html"
	require.NoError(t, st.UpsertJob(ctx, job))

	got, found, err := st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "text/html", got.ContentType)
}

func TestStore_UpdateJobCountersLeavesStatusAlone(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	job := testJob("job-1")
	job.Status = JobPauseRequested
	job.PausedBy = "ops"
	require.NoError(t, st.UpsertJob(ctx, job))

	require.NoError(t, st.UpdateJobCounters(ctx, "job-1", 4, 2, 1))

	got, _, err := st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobPauseRequested, got.Status)
	assert.Equal(t, "ops", got.PausedBy)
	assert.Equal(t, 4, got.TotalChunks)
	assert.Equal(t, 2, got.ProcessedChunks)
	assert.Equal(t, 1, got.FailedChunks)

	err = st.UpdateJobCounters(ctx, "missing", 1, 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestStore_ListJobs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := testJob("job-a")
	b := testJob("job-b")
	b.Status = JobFailed
	c := testJob("job-c")
	c.OwnerID = "owner-2"
	for _, job := range []*Job{a, b, c} {
		require.NoError(t, st.UpsertJob(ctx, job))
	}

	byOwner, err := st.ListJobsByOwner(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, byOwner, 2)

	failed, err := st.ListJobsByStatus(ctx, JobFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "job-b", failed[0].ID)

	both, err := st.ListJobsByStatus(ctx, JobProcessing, JobFailed)
	require.NoError(t, err)
	assert.Len(t, both, 3)
}

func TestStore_EnsureChunkSourcePreservesProgress(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertJob(ctx, testJob("job-1")))

	chunk := &Chunk{
		JobID:      "job-1",
		Order:      0,
		ChunkID:    "c-abc",
		SourceHTML: "<p>Hello</p>",
		SourceText: "Hello",
		AnchorIDs:  []string{"a-1"},
	}
	require.NoError(t, st.EnsureChunkSource(ctx, chunk))

	completed := ChunkCompleted
	machine := "<p>Hallo</p>"
	provider := "llm"
	require.NoError(t, st.UpdateChunkState(ctx, "job-1", 0, ChunkPatch{
		Status:      &completed,
		MachineHTML: &machine,
		Provider:    &provider,
	}))

	// Re-parsing the document re-ensures the same chunk: the source may be
	// refreshed but finished translation work must survive.
	require.NoError(t, st.EnsureChunkSource(ctx, chunk))

	got, found, err := st.GetChunk(ctx, "job-1", 0)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ChunkCompleted, got.Status)
	assert.Equal(t, "<p>Hallo</p>", got.MachineHTML)
	assert.Equal(t, "llm", got.Provider)
	assert.Equal(t, []string{"a-1"}, got.AnchorIDs)
}

func TestStore_UpdateChunkStateUnknownChunk(t *testing.T) {
	st := newTestStore(t)

	pending := ChunkPending
	err := st.UpdateChunkState(context.Background(), "job-x", 9, ChunkPatch{Status: &pending})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestStore_ChunkProgress(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := range 4 {
		require.NoError(t, st.EnsureChunkSource(ctx, &Chunk{
			JobID: "job-1", Order: i, ChunkID: "c", SourceHTML: "<p>x</p>",
		}))
	}
	completed := ChunkCompleted
	failed := ChunkFailed
	require.NoError(t, st.UpdateChunkState(ctx, "job-1", 0, ChunkPatch{Status: &completed}))
	require.NoError(t, st.UpdateChunkState(ctx, "job-1", 1, ChunkPatch{Status: &completed}))
	require.NoError(t, st.UpdateChunkState(ctx, "job-1", 2, ChunkPatch{Status: &failed}))

	progress, err := st.ChunkProgress(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 4, progress.Total)
	assert.Equal(t, 2, progress.Completed)
	assert.Equal(t, 1, progress.Failed)
}

func TestStore_PayloadOffload(t *testing.T) {
	blobs, err := blob.NewStore(t.TempDir())
	require.NoError(t, err)
	st := newTestStore(t, WithPayloadStore(blobs, 64))
	ctx := context.Background()

	big := "<p>" + strings.Repeat("padding ", 64) + "</p>"
	require.Greater(t, len(big), 64)
	require.NoError(t, st.EnsureChunkSource(ctx, &Chunk{
		JobID: "job-1", Order: 0, ChunkID: "c", SourceHTML: big, SourceText: "padding",
	}))

	// The payload left the metadata row and lives in the blob store.
	data, ok, err := blobs.Get("jobs/job-1/chunks/0/source.html")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, big, string(data))

	got, found, err := st.GetChunk(ctx, "job-1", 0)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, big, got.SourceHTML)

	require.NoError(t, st.DeleteChunks(ctx, "job-1"))
	_, ok, err = blobs.Get("jobs/job-1/chunks/0/source.html")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_AssetDedupe(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	asset := &Asset{
		JobID: "job-1", Hash: "abc123", MediaType: "image/png",
		ByteSize: 42, StorageKey: "jobs/job-1/assets/abc123.png", CreatedAt: time.Now(),
	}
	created, err := st.InsertAsset(ctx, asset)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = st.InsertAsset(ctx, asset)
	require.NoError(t, err)
	assert.False(t, created)

	assets, err := st.ListAssets(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, assets, 1)
}

func TestStore_AnchorMergePreservesCaption(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertAnchor(ctx, &Anchor{
		JobID: "job-1", AnchorID: "a-1", ChunkID: "c-1", DocOrder: 0,
		AssetHash: "abc", CaptionRef: "Figure 1", UpdatedAt: time.Now(),
	}))
	// A later upsert without a caption must not erase the stored one.
	require.NoError(t, st.UpsertAnchor(ctx, &Anchor{
		JobID: "job-1", AnchorID: "a-1", ChunkID: "c-2", DocOrder: 0,
		AssetHash: "abc", UpdatedAt: time.Now(),
	}))

	anchors, err := st.ListAnchors(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, anchors, 1)
	assert.Equal(t, "Figure 1", anchors[0].CaptionRef)
	assert.Equal(t, "c-2", anchors[0].ChunkID)
}

func TestStore_UpdateAnchorFingerprints(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertAnchor(ctx, &Anchor{
		JobID: "job-1", AnchorID: "a-1", ChunkID: "c-1", DocOrder: 0,
		AssetHash: "abc", BeforeHash: "old-before", AfterHash: "old-after",
		CaptionRef: "Figure 1", UpdatedAt: time.Now(),
	}))

	require.NoError(t, st.UpdateAnchorFingerprints(ctx, "job-1", "a-1", "new-before", "new-after"))

	anchors, err := st.ListAnchors(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, anchors, 1)
	assert.Equal(t, "new-before", anchors[0].BeforeHash)
	assert.Equal(t, "new-after", anchors[0].AfterHash)
	// Placement metadata is untouched.
	assert.Equal(t, "c-1", anchors[0].ChunkID)
	assert.Equal(t, "Figure 1", anchors[0].CaptionRef)

	err = st.UpdateAnchorFingerprints(ctx, "job-1", "a-missing", "b", "a")
	require.Error(t, err)
}

func TestStore_JobLogAppendAndPrune(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	old := JobLogEntry{
		JobID: "job-1", Category: "lifecycle", Stage: "parse",
		Event: "document_parsed", Status: "ok",
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}
	recent := old
	recent.Event = "job_assembled"
	recent.CreatedAt = time.Now()
	require.NoError(t, st.AppendJobLog(ctx, old))
	require.NoError(t, st.AppendJobLog(ctx, recent))

	entries, err := st.ListJobLogs(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	pruned, err := st.PruneJobLogs(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	entries, err = st.ListJobLogs(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "job_assembled", entries[0].Event)
}

func TestStore_DeleteJobData(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.EnsureChunkSource(ctx, &Chunk{
		JobID: "job-1", Order: 0, ChunkID: "c", SourceHTML: "<p>x</p>",
	}))
	_, err := st.InsertAsset(ctx, &Asset{
		JobID: "job-1", Hash: "h1", MediaType: "image/png", CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, st.UpsertAnchor(ctx, &Anchor{
		JobID: "job-1", AnchorID: "a-1", AssetHash: "h1", UpdatedAt: time.Now(),
	}))

	require.NoError(t, st.DeleteJobData(ctx, "job-1"))

	chunks, err := st.ListChunks(ctx, "job-1")
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assets, err := st.ListAssets(ctx, "job-1")
	require.NoError(t, err)
	assert.Empty(t, assets)
	anchors, err := st.ListAnchors(ctx, "job-1")
	require.NoError(t, err)
	assert.Empty(t, anchors)
}
