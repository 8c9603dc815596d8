// Package backup serializes hot-exit backup requests per document.
//
// Backups arrive on every edit. For each document at most one write is in
// flight and at most one request waits behind it; a newer request replaces the
// waiting one, so bursts collapse to the in-flight write plus the latest state.
package backup

import (
	"context"
	"log/slog"
	"sync"

	"github.com/starford/nbkeep/internal/hotexit"
)

// Writer performs a single write (rec != nil) or delete (rec == nil) of the
// backup stored under key. *hotexit.Store satisfies it.
type Writer interface {
	Write(ctx context.Context, key string, rec *hotexit.Record) error
}

type job struct {
	ctx context.Context
	key string
	rec *hotexit.Record
}

// queue exists for a document only while it is Writing.
type queue struct {
	pending *job
}

// Coordinator owns the per-document Idle/Writing state machines.
type Coordinator struct {
	w       Writer
	logger  *slog.Logger
	metrics *Metrics

	mu     sync.Mutex
	queues map[string]*queue
	drains sync.WaitGroup
}

// NewCoordinator creates a Coordinator writing through w. metrics may be nil.
func NewCoordinator(w Writer, logger *slog.Logger, metrics *Metrics) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Coordinator{
		w:       w,
		logger:  logger,
		metrics: metrics,
		queues:  make(map[string]*queue),
	}
}

// Submit requests a write (rec != nil) or delete (rec == nil) of key on
// behalf of document doc.
//
// If doc is idle, the caller performs the operation and receives its error;
// any request that queued up meanwhile is then drained in the background.
// If doc is already writing, the request replaces the pending one and Submit
// returns nil at once.
func (c *Coordinator) Submit(ctx context.Context, doc, key string, rec *hotexit.Record) error {
	j := &job{ctx: ctx, key: key, rec: rec}

	c.mu.Lock()
	if q, writing := c.queues[doc]; writing {
		if q.pending != nil {
			c.metrics.Superseded.Inc()
		}
		q.pending = j
		c.mu.Unlock()
		return nil
	}
	c.queues[doc] = &queue{}
	c.mu.Unlock()

	err := c.run(j)

	c.mu.Lock()
	if c.queues[doc].pending == nil {
		delete(c.queues, doc)
		c.mu.Unlock()
		return err
	}
	c.drains.Add(1)
	c.mu.Unlock()

	go c.drain(doc)
	return err
}

// drain runs pending jobs for doc until none remain, then returns doc to Idle.
func (c *Coordinator) drain(doc string) {
	defer c.drains.Done()
	for {
		c.mu.Lock()
		q := c.queues[doc]
		next := q.pending
		if next == nil {
			delete(c.queues, doc)
			c.mu.Unlock()
			return
		}
		q.pending = nil
		c.mu.Unlock()

		if err := c.run(next); err != nil {
			c.logger.Error("backup: follow-up write failed",
				slog.String("document", doc),
				slog.String("key", next.key),
				slog.String("error", err.Error()))
		}
	}
}

func (c *Coordinator) run(j *job) error {
	err := c.w.Write(j.ctx, j.key, j.rec)
	switch {
	case err != nil:
		c.metrics.Failures.Inc()
	case j.ctx.Err() != nil:
		// Cancelled requests do no I/O.
	case j.rec == nil:
		c.metrics.Deletes.Inc()
	default:
		c.metrics.Writes.Inc()
	}
	return err
}

// Busy reports whether doc has a write in flight.
func (c *Coordinator) Busy(doc string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.queues[doc]
	return ok
}

// Wait blocks until every background drain has finished.
func (c *Coordinator) Wait() {
	c.drains.Wait()
}
