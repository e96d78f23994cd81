// Package health is the periodic self-healing sweep. It repairs jobs the
// event-driven pipeline lost track of: stalled translations, failed chunks
// with attempts left, and cancelled jobs whose cleanup never ran.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/lingodoc/lingodoc/internal/bus"
	"github.com/lingodoc/lingodoc/internal/config"
	"github.com/lingodoc/lingodoc/internal/pipeline"
	"github.com/lingodoc/lingodoc/internal/store"
	"github.com/lingodoc/lingodoc/pkg/log"
)

// IngestWorker re-runs a stalled ingest job after the sweep bumps its retry
// counter. Ingest jobs have no bus signal to replay, so the sweep invokes the
// worker directly.
type IngestWorker interface {
	ProcessIngestJob(ctx context.Context, job *store.IngestJob) error
}

// Monitor runs the sweep on a cron schedule. Overlapping triggers collapse
// into one running sweep.
type Monitor struct {
	store        *store.Store
	bus          *bus.Bus
	orchestrator *pipeline.Orchestrator
	ingest       IngestWorker

	cron     *cron.Cron
	cronExpr string

	staleAfter      time.Duration
	maxJobRetries   int
	jobLogRetention time.Duration
}

// Option configures optional monitor collaborators.
type Option func(*Monitor)

// WithIngestWorker installs the worker invoked for stalled ingest jobs.
func WithIngestWorker(worker IngestWorker) Option {
	return func(m *Monitor) { m.ingest = worker }
}

var singleflightGroup singleflight.Group

func NewMonitor(
	st *store.Store,
	b *bus.Bus,
	orch *pipeline.Orchestrator,
	cronEngine *cron.Cron,
	cfg config.HealthConfig,
	opts ...Option,
) *Monitor {
	m := &Monitor{
		store:           st,
		bus:             b,
		orchestrator:    orch,
		cron:            cronEngine,
		cronExpr:        cfg.CronExpr,
		staleAfter:      cfg.StaleAfter,
		maxJobRetries:   cfg.MaxJobRetries,
		jobLogRetention: cfg.JobLogRetention,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Schedule registers the sweep with the cron engine. The engine itself is
// started by the caller.
func (m *Monitor) Schedule(ctx context.Context) error {
	runFunc := func() {
		_, _, _ = singleflightGroup.Do("health-sweep", func() (any, error) {
			if err := m.Sweep(ctx); err != nil {
				log.Error("Health sweep failed: %v", err)
			}
			return nil, nil
		})
	}
	_, err := m.cron.AddFunc(m.cronExpr, runFunc)
	return err
}

// Sweep runs all repair passes once. Each pass is independent; one failing
// does not stop the others.
func (m *Monitor) Sweep(ctx context.Context) error {
	var firstErr error
	record := func(stage string, err error) {
		if err == nil {
			return
		}
		log.Error("Health sweep stage %s failed: %v", stage, err)
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", stage, err)
		}
	}

	record("processing", m.sweepProcessingJobs(ctx))
	record("cancelled", m.sweepCancelledJobs(ctx))
	record("ingest", m.sweepIngestJobs(ctx))
	record("joblogs", m.pruneJobLogs(ctx))
	return firstErr
}

// sweepProcessingJobs inspects every job that claims to be translating.
// Failed chunks with attempts left are requeued; jobs with no forward
// progress for longer than the staleness window are restarted from their
// durable state, up to the retry budget.
func (m *Monitor) sweepProcessingJobs(ctx context.Context) error {
	jobs, err := m.store.ListJobsByStatus(ctx, store.JobProcessing)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, job := range jobs {
		chunks, err := m.store.ListChunks(ctx, job.ID)
		if err != nil {
			log.Error("Health sweep: list chunks of job %s: %v", job.ID, err)
			continue
		}

		// A processing job with no chunks never finished its start phase.
		if len(chunks) == 0 {
			if now.Sub(job.UpdatedAt) >= m.staleAfter {
				m.restartJob(ctx, job, "no chunks after start")
			}
			continue
		}

		requeued := 0
		latest := job.UpdatedAt
		for _, chunk := range chunks {
			if chunk.UpdatedAt.After(latest) {
				latest = chunk.UpdatedAt
			}
			switch chunk.Status {
			case store.ChunkFailed:
				if !m.bus.Pending(job.ID, bus.KindProcessChunk, chunk.Order) {
					pending := store.ChunkPending
					err := m.store.UpdateChunkState(ctx, job.ID, chunk.Order, store.ChunkPatch{Status: &pending})
					if err != nil {
						log.Error("Health sweep: requeue chunk %d of job %s: %v", chunk.Order, job.ID, err)
						continue
					}
					m.bus.Publish(job.ID, bus.KindProcessChunk, chunk.Order)
					requeued++
				}
			case store.ChunkPending:
				// A pending chunk with no queued signal was stranded by a
				// crash between state write and publish. The signal is all
				// it needs.
				if !m.bus.Pending(job.ID, bus.KindProcessChunk, chunk.Order) {
					m.bus.Publish(job.ID, bus.KindProcessChunk, chunk.Order)
					requeued++
				}
			}
		}
		if requeued > 0 {
			log.Info("Health sweep requeued %d stranded chunks of job %s", requeued, job.ID)
			continue
		}

		if now.Sub(latest) >= m.staleAfter {
			m.restartJob(ctx, job, fmt.Sprintf("no progress for %s", now.Sub(latest).Truncate(time.Second)))
		}
	}
	return nil
}

// restartJob replays the start signal for a stalled job, or fails it when
// the retry budget is spent.
func (m *Monitor) restartJob(ctx context.Context, job *store.Job, reason string) {
	if job.HealthRetries >= m.maxJobRetries {
		log.Warn("Job %s exceeded %d health retries (%s), failing it", job.ID, m.maxJobRetries, reason)
		m.orchestrator.FailStalled(ctx, job, reason)
		return
	}

	job.HealthRetries++
	job.UpdatedAt = time.Now()
	if err := m.store.UpsertJob(ctx, job); err != nil {
		log.Error("Health sweep: bump retries of job %s: %v", job.ID, err)
		return
	}

	log.Info("Health sweep restarting stalled job %s (retry %d/%d): %s",
		job.ID, job.HealthRetries, m.maxJobRetries, reason)
	m.bus.Publish(job.ID, bus.KindStart, -1)
}

// sweepCancelledJobs finishes cleanup for jobs whose cancellation was
// requested or acknowledged but whose data removal never completed.
func (m *Monitor) sweepCancelledJobs(ctx context.Context) error {
	jobs, err := m.store.ListJobsByStatus(ctx, store.JobCancelRequested, store.JobCancelled)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if job.Status == store.JobCancelled && job.CleanedAt != nil {
			continue
		}
		if err := m.orchestrator.FinalizeCancellation(ctx, job); err != nil {
			log.Error("Health sweep: finalize cancellation of job %s: %v", job.ID, err)
		}
	}
	return nil
}

// sweepIngestJobs applies the same staleness policy to single-step ingest
// jobs, which have no chunk fan-out to observe.
func (m *Monitor) sweepIngestJobs(ctx context.Context) error {
	jobs, err := m.store.ListIngestJobsByStatus(ctx, store.JobProcessing)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, job := range jobs {
		if now.Sub(job.UpdatedAt) < m.staleAfter {
			continue
		}
		if job.Retries >= m.maxJobRetries {
			job.Status = store.JobFailed
			job.Error = "ingest stalled and retry budget spent"
			job.UpdatedAt = now
			if err := m.store.UpsertIngestJob(ctx, job); err != nil {
				log.Error("Health sweep: fail ingest job %s: %v", job.ID, err)
			}
			continue
		}
		if err := m.store.TouchIngestJob(ctx, job.ID, job.Retries+1); err != nil {
			log.Error("Health sweep: touch ingest job %s: %v", job.ID, err)
			continue
		}
		if m.ingest == nil {
			continue
		}
		job.Retries++
		job.UpdatedAt = now
		if err := m.ingest.ProcessIngestJob(ctx, job); err != nil {
			log.Error("Health sweep: reprocess ingest job %s: %v", job.ID, err)
		}
	}
	return nil
}

func (m *Monitor) pruneJobLogs(ctx context.Context) error {
	if m.jobLogRetention <= 0 {
		return nil
	}
	pruned, err := m.store.PruneJobLogs(ctx, time.Now().Add(-m.jobLogRetention))
	if err != nil {
		return err
	}
	if pruned > 0 {
		log.Info("Health sweep pruned %d job log entries", pruned)
	}
	return nil
}
