package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lingodoc/lingodoc/pkg/log"
)

// Handler processes one signal. A nil error deletes the signal; an error
// returns it to pending so another worker retries it.
type Handler func(ctx context.Context, signal *Signal) error

// Bus is the in-process signal dispatcher backing the pipeline. Signals are
// persisted before dispatch, so a crash between publish and handling only
// costs a redelivery, never the signal.
type Bus struct {
	workerCount int
	store       Store

	mu         sync.RWMutex
	signals    map[string]*Signal
	dedupe     map[string]string
	started    bool
	pendingIDs chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func New(workerCount int, store Store) *Bus {
	if workerCount <= 0 {
		workerCount = 1
	}
	b := &Bus{
		workerCount: workerCount,
		store:       store,
		signals:     make(map[string]*Signal),
		dedupe:      make(map[string]string),
		pendingIDs:  make(chan string, 1024),
		stopCh:      make(chan struct{}),
	}
	b.hydrateFromStore(context.Background())
	return b
}

// Publish persists and queues a signal. Signals are deduplicated while
// pending: publishing process-chunk for a chunk that already has an
// undelivered process-chunk signal is a no-op, which keeps republishing
// after health sweeps safe. A signal that is already running does not
// suppress the publish, so a handler can schedule a follow-up delivery
// for the signal it is currently processing.
func (b *Bus) Publish(jobID string, kind Kind, chunkOrder int) *Signal {
	now := time.Now()
	key := dedupeKey(jobID, kind, chunkOrder)

	b.mu.Lock()
	if id, ok := b.dedupe[key]; ok {
		if existing, exists := b.signals[id]; exists && existing.Status == StatusPending {
			snapshot := cloneSignal(existing)
			b.mu.Unlock()
			return snapshot
		}
		delete(b.dedupe, key)
	}

	signal := &Signal{
		ID:         uuid.NewString(),
		JobID:      jobID,
		Kind:       kind,
		ChunkOrder: chunkOrder,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	b.signals[signal.ID] = signal
	b.dedupe[key] = signal.ID
	started := b.started
	snapshot := cloneSignal(signal)
	b.mu.Unlock()

	b.persistSignal(snapshot)
	if started {
		b.enqueuePendingID(signal.ID)
	}
	return snapshot
}

// Pending reports whether a signal of the given kind is queued or running
// for the job.
func (b *Bus) Pending(jobID string, kind Kind, chunkOrder int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.dedupe[dedupeKey(jobID, kind, chunkOrder)]
	return ok
}

// Start launches the worker pool and queues every signal already pending,
// including those hydrated from the store after a restart.
func (b *Bus) Start(handler Handler) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true

	pending := make([]string, 0)
	for id, signal := range b.signals {
		if signal.Status == StatusPending {
			pending = append(pending, id)
		}
	}
	b.mu.Unlock()

	for _, id := range pending {
		b.enqueuePendingID(id)
	}

	for range b.workerCount {
		b.wg.Add(1)
		go b.worker(handler)
	}
}

func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.wg.Wait()
	})
}

func (b *Bus) worker(handler Handler) {
	defer b.wg.Done()

	for {
		select {
		case <-b.stopCh:
			return
		case id := <-b.pendingIDs:
			signal, ok := b.markRunning(id)
			if !ok {
				continue
			}

			if err := handler(context.Background(), signal); err != nil {
				log.Error("Signal %s (%s, job %s) failed: %v", signal.ID, signal.Kind, signal.JobID, err)
				b.requeue(id)
				continue
			}
			b.ack(id)
		}
	}
}

func (b *Bus) enqueuePendingID(id string) {
	select {
	case b.pendingIDs <- id:
	default:
		go func() { b.pendingIDs <- id }()
	}
}

func (b *Bus) markRunning(id string) (*Signal, bool) {
	b.mu.Lock()
	signal, ok := b.signals[id]
	if !ok || signal.Status != StatusPending {
		b.mu.Unlock()
		return nil, false
	}
	signal.Status = StatusRunning
	signal.UpdatedAt = time.Now()
	snapshot := cloneSignal(signal)
	b.mu.Unlock()

	b.persistSignal(snapshot)
	return snapshot, true
}

// ack removes a handled signal from memory and the store.
func (b *Bus) ack(id string) {
	b.mu.Lock()
	signal, ok := b.signals[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.signals, id)
	key := dedupeKey(signal.JobID, signal.Kind, signal.ChunkOrder)
	if mapped, exists := b.dedupe[key]; exists && mapped == id {
		delete(b.dedupe, key)
	}
	b.mu.Unlock()

	if b.store == nil {
		return
	}
	if err := b.store.DeleteSignal(context.Background(), id); err != nil {
		log.Error("Failed to delete signal %s from store: %v", id, err)
	}
}

// requeue returns a failed signal to pending for another attempt.
func (b *Bus) requeue(id string) {
	b.mu.Lock()
	signal, ok := b.signals[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	signal.Status = StatusPending
	signal.UpdatedAt = time.Now()
	snapshot := cloneSignal(signal)
	b.mu.Unlock()

	b.persistSignal(snapshot)
	b.enqueuePendingID(id)
}

func (b *Bus) hydrateFromStore(ctx context.Context) {
	if b.store == nil {
		return
	}
	loaded, err := b.store.LoadSignals(ctx)
	if err != nil {
		log.Error("Failed to load signals from store: %v", err)
		return
	}

	now := time.Now()
	toPersist := make([]*Signal, 0)
	b.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		signal := cloneSignal(raw)
		// A signal that was running when the process died was never acked,
		// so it goes back to pending.
		if signal.Status == StatusRunning {
			signal.Status = StatusPending
			signal.UpdatedAt = now
			toPersist = append(toPersist, cloneSignal(signal))
		}
		b.signals[signal.ID] = signal
		b.dedupe[dedupeKey(signal.JobID, signal.Kind, signal.ChunkOrder)] = signal.ID
	}
	b.mu.Unlock()

	for _, signal := range toPersist {
		b.persistSignal(signal)
	}
}

func (b *Bus) persistSignal(signal *Signal) {
	if b.store == nil || signal == nil {
		return
	}
	if err := b.store.UpsertSignal(context.Background(), signal); err != nil {
		log.Error("Failed to persist signal %s: %v", signal.ID, err)
	}
}

func dedupeKey(jobID string, kind Kind, chunkOrder int) string {
	return fmt.Sprintf("%s|%s|%d", jobID, kind, chunkOrder)
}

func cloneSignal(signal *Signal) *Signal {
	if signal == nil {
		return nil
	}
	tmp := *signal
	return &tmp
}
