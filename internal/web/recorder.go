package web

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mudweb/internal/storage/postgres"
)

// flushInterval bounds how long a buffered transcript line waits before
// being written even when the batch is not full.
const flushInterval = time.Second

// flushTimeout bounds one database write from the recorder.
const flushTimeout = 5 * time.Second

// Recorder drains transcript lines to storage without ever blocking the
// session pumps. Lines queue on a bounded channel; when the queue is
// full the oldest line is dropped so fresh output wins.
type Recorder struct {
	store  TranscriptStore
	logger *zap.Logger
	queue  chan postgres.TranscriptLine
	batch  int

	closeOnce sync.Once
	done      chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewRecorder starts a recorder draining into store.
//
// Precondition: store and logger must be non-nil; buffer >= batchSize >= 1.
// Postcondition: Returns a running recorder; callers must Close it.
func NewRecorder(store TranscriptStore, logger *zap.Logger, buffer, batchSize int) *Recorder {
	r := &Recorder{
		store:  store,
		logger: logger,
		queue:  make(chan postgres.TranscriptLine, buffer),
		batch:  batchSize,
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues a line for persistence. It never blocks: when the queue
// is full the oldest queued line is dropped to make room. Calls after
// Close are no-ops.
func (r *Recorder) Record(line postgres.TranscriptLine) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	for {
		select {
		case r.queue <- line:
			return
		default:
		}
		select {
		case dropped := <-r.queue:
			r.logger.Warn("transcript queue full, dropping oldest line",
				zap.String("session_id", dropped.SessionID.String()))
		default:
		}
	}
}

// run batches queued lines and writes them, flushing on a timer so a
// quiet session still reaches the database promptly.
func (r *Recorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]postgres.TranscriptLine, 0, r.batch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		if err := r.store.AppendBatch(ctx, batch); err != nil {
			r.logger.Error("writing transcript batch",
				zap.Error(err), zap.Int("lines", len(batch)))
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case line, ok := <-r.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, line)
			if len(batch) >= r.batch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Close flushes whatever is queued and stops the recorder. It blocks
// until the final write has finished.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.queue)
	})
	<-r.done
}
