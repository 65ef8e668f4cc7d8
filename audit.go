package identity

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// AuditLog records privileged administrative actions. Writes are
// append-only and best-effort: a persistence failure is logged at critical
// severity and counted, but never fails or rolls back the administrative
// action that triggered it. Reads are paginated with a server-side cap.
type AuditLog struct {
	cfg        AuditConfig
	store      AuditStore
	dispatcher *auditDispatcher
	metrics    *Metrics
}

// Record queues the entry for persistence. It never returns an error; the
// triggering action must not depend on audit durability. Timestamps and
// ids are filled in here so callers only describe the action.
func (l *AuditLog) Record(ctx context.Context, entry AuditEntry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	l.dispatcher.enqueue(ctx, entry)
}

// RecordSync persists the entry on the caller's goroutine. Same
// best-effort contract as Record; useful where the caller is about to
// exit and cannot wait for the dispatcher to drain.
func (l *AuditLog) RecordSync(ctx context.Context, entry AuditEntry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	l.dispatcher.persist(ctx, entry)
}

// ByTime returns entries created in [from, to), newest first.
func (l *AuditLog) ByTime(ctx context.Context, from, to time.Time, page Page) ([]AuditEntry, error) {
	return l.store.AuditEntriesByTime(ctx, from, to, l.capPage(page))
}

// ByActor returns entries recorded for one actor, newest first.
func (l *AuditLog) ByActor(ctx context.Context, actorID uuid.UUID, page Page) ([]AuditEntry, error) {
	return l.store.AuditEntriesByActor(ctx, actorID, l.capPage(page))
}

// ByTarget returns entries touching one target, newest first.
func (l *AuditLog) ByTarget(ctx context.Context, targetType, targetID string, page Page) ([]AuditEntry, error) {
	return l.store.AuditEntriesByTarget(ctx, targetType, targetID, l.capPage(page))
}

// capPage clamps the requested page size to the configured maximum. The
// cap applies no matter what the caller asked for.
func (l *AuditLog) capPage(page Page) Page {
	if page.Size <= 0 || page.Size > l.cfg.MaxPageSize {
		page.Size = l.cfg.MaxPageSize
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	return page
}

func (l *AuditLog) close() {
	l.dispatcher.close()
}

func (l *AuditLog) dropped() uint64 {
	return l.dispatcher.droppedCount()
}

// auditDispatcher moves audit writes off the request path. The queue is
// bounded; when it is full the event is persisted synchronously rather
// than dropped, because the log is a compliance artifact. Dropping only
// happens at shutdown races and is counted.
type auditDispatcher struct {
	store   AuditStore
	metrics *Metrics
	ch      chan AuditEntry
	done    chan struct{}
	wg      sync.WaitGroup
	dropCnt atomic.Uint64
	closed  atomic.Bool
	once    sync.Once
}

func newAuditDispatcher(cfg AuditConfig, store AuditStore, metrics *Metrics) *auditDispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	d := &auditDispatcher{
		store:   store,
		metrics: metrics,
		ch:      make(chan AuditEntry, cfg.BufferSize),
		done:    make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *auditDispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case entry := <-d.ch:
			d.persist(context.Background(), entry)
		case <-d.done:
			// Drain whatever is queued before exiting.
			for {
				select {
				case entry := <-d.ch:
					d.persist(context.Background(), entry)
				default:
					return
				}
			}
		}
	}
}

func (d *auditDispatcher) enqueue(ctx context.Context, entry AuditEntry) {
	if d.closed.Load() {
		d.dropCnt.Add(1)
		return
	}
	select {
	case d.ch <- entry:
	case <-d.done:
		d.dropCnt.Add(1)
	default:
		// Queue full: fall back to a synchronous write.
		d.persist(ctx, entry)
	}
}

// persist is the single point where an audit write can fail, and the one
// place in the core where an error is deliberately swallowed.
func (d *auditDispatcher) persist(ctx context.Context, entry AuditEntry) {
	if err := d.store.InsertAuditEntry(ctx, &entry); err != nil {
		d.metrics.Inc(MetricAuditWriteFailed)
		log.Printf("identity: CRITICAL: audit write failed for action %s: %v", entry.Action, err)
		return
	}
	d.metrics.Inc(MetricAuditRecorded)
}

func (d *auditDispatcher) close() {
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *auditDispatcher) droppedCount() uint64 {
	return d.dropCnt.Load()
}
