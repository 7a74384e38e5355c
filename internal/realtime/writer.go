package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultWriterQueue   = 256
	defaultWriterTimeout = 5 * time.Second
)

type writeTask struct {
	name  string
	attrs []any
	run   func(ctx context.Context) error
}

// Writer runs persistence calls off the routing path. Tasks execute one at a
// time in submission order, so an online write for a user can never land
// after the offline write that followed it. Failures are logged and never
// retried.
type Writer struct {
	tasks   chan writeTask
	timeout time.Duration
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewWriter starts a Writer with a bounded queue.
func NewWriter(log *slog.Logger, queueSize int, timeout time.Duration) *Writer {
	if queueSize <= 0 {
		queueSize = defaultWriterQueue
	}
	if timeout <= 0 {
		timeout = defaultWriterTimeout
	}
	w := &Writer{
		tasks:   make(chan writeTask, queueSize),
		timeout: timeout,
		log:     log,
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue schedules fn without blocking. It returns false if the queue is
// full or the writer is closed; the write is then dropped.
func (w *Writer) Enqueue(name string, fn func(ctx context.Context) error, attrs ...any) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.log.Warn("Persistence writer closed; dropping write", append([]any{"op", name}, attrs...)...)
		return false
	}

	select {
	case w.tasks <- writeTask{name: name, attrs: attrs, run: fn}:
		return true
	default:
		w.log.Warn("Persistence queue full; dropping write", append([]any{"op", name}, attrs...)...)
		return false
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for task := range w.tasks {
		w.exec(task)
	}
}

func (w *Writer) exec(task writeTask) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if err := task.run(ctx); err != nil {
		w.log.Error("Persistence write failed", append([]any{"op", task.name, "error", err}, task.attrs...)...)
	}
}

// Close stops accepting tasks and waits for queued ones to finish or for ctx
// to expire.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.tasks)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
