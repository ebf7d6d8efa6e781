package transcript

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/phonebridge/internal/policy"
)

type RecorderOptions struct {
	QueueSize    int
	WriteTimeout time.Duration
	RedactPII    bool
	// OnDrop is called when an entry is discarded because the queue is full
	// or the write failed.
	OnDrop func(reason string)
}

// Recorder writes entries to a Sink in the background. Record never blocks
// the caller; a slow or failing sink only loses log lines.
type Recorder struct {
	sink    Sink
	log     *zap.Logger
	opts    RecorderOptions
	queue   chan Entry
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	closeMu sync.Once
}

func NewRecorder(sink Sink, log *zap.Logger, opts RecorderOptions) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Recorder{
		sink:  sink,
		log:   log,
		opts:  opts,
		queue: make(chan Entry, opts.QueueSize),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues entry and reports whether it was accepted.
func (r *Recorder) Record(entry Entry) bool {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if r.opts.RedactPII {
		entry.Text, _ = policy.RedactPII(entry.Text)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped("closed")
		return false
	}
	select {
	case r.queue <- entry:
		return true
	default:
		r.dropped("queue_full")
		return false
	}
}

// Clear removes the stored history for a phone number synchronously.
func (r *Recorder) Clear(ctx context.Context, phoneNumber string) error {
	return r.sink.Clear(ctx, phoneNumber)
}

func (r *Recorder) Recent(ctx context.Context, phoneNumber string, limit int) ([]Entry, error) {
	return r.sink.Recent(ctx, phoneNumber, limit)
}

func (r *Recorder) Mode() string { return r.sink.Mode() }

// Close stops accepting entries and waits for the queue to drain or ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeMu.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for entry := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.WriteTimeout)
		err := r.sink.Append(ctx, entry)
		cancel()
		if err != nil {
			r.log.Warn("transcript append failed",
				zap.Error(err),
				zap.String("phone", policy.MaskPhone(entry.PhoneNumber)),
				zap.String("source", string(entry.Source)),
			)
			r.dropped("write_failed")
		}
	}
}

func (r *Recorder) dropped(reason string) {
	if r.opts.OnDrop != nil {
		r.opts.OnDrop(reason)
	}
}
