package auditlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solatis/tripwire/internal/types"
	"github.com/sugawarayuuta/sonnet"
)

// Sink receives a copy of every entry, e.g. for a database archive.
type Sink interface {
	Archive(ctx context.Context, runID types.RunID, e Entry) error
}

// archiveBuffer bounds the number of entries queued for the sink.
const archiveBuffer = 256

type archiveItem struct {
	runID types.RunID
	entry Entry
}

// Recorder writes entries to the ring, mirrors them to slog and forwards
// them to an optional sink. Safe for concurrent use.
type Recorder struct {
	ring   *Ring
	logger *slog.Logger
	sink   Sink
	now    func() time.Time

	runID atomic.Value // types.RunID

	queueMu sync.RWMutex // guards queue against send-after-close
	queue   chan archiveItem
	dropped atomic.Int64
	wg      sync.WaitGroup
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithSink forwards entries to s from a background goroutine.
func WithSink(s Sink) RecorderOption {
	return func(r *Recorder) { r.sink = s }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a recorder over ring. A nil logger discards output.
func NewRecorder(ring *Ring, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Recorder{
		ring:   ring,
		logger: logger,
		now:    time.Now,
	}
	r.runID.Store(types.RunID(""))
	for _, opt := range opts {
		opt(r)
	}
	if r.sink != nil {
		r.queue = make(chan archiveItem, archiveBuffer)
		r.wg.Add(1)
		go r.drain(r.queue)
	}
	return r
}

// SetRun tags subsequent entries with runID.
func (r *Recorder) SetRun(runID types.RunID) {
	r.runID.Store(runID)
}

// Record appends an entry. payload may be nil; otherwise it is serialized
// to JSON, falling back to fmt formatting for unserializable values.
func (r *Recorder) Record(category Category, message string, payload any) {
	e := Entry{
		Category:  category,
		Message:   message,
		Payload:   serialize(payload),
		Timestamp: r.now().UTC(),
	}
	r.ring.Append(e)

	runID := r.runID.Load().(types.RunID)
	level := slog.LevelInfo
	if category == CategoryError {
		level = slog.LevelError
	}
	r.logger.LogAttrs(context.Background(), level, message,
		slog.String("category", string(category)),
		slog.String("run_id", string(runID)),
	)

	r.queueMu.RLock()
	if r.queue != nil {
		select {
		case r.queue <- archiveItem{runID: runID, entry: e}:
		default:
			r.dropped.Add(1)
		}
	}
	r.queueMu.RUnlock()
}

// Errorf records an ERROR entry carrying err as payload.
func (r *Recorder) Errorf(err error, format string, args ...any) {
	r.Record(CategoryError, fmt.Sprintf(format, args...), map[string]string{"error": err.Error()})
}

// Read returns ring contents, see Ring.Read.
func (r *Recorder) Read(categories ...Category) []Entry {
	return r.ring.Read(categories...)
}

// Dropped returns the number of entries the sink queue rejected.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close flushes queued entries to the sink and stops the worker.
func (r *Recorder) Close() {
	r.queueMu.Lock()
	q := r.queue
	r.queue = nil
	r.queueMu.Unlock()
	if q != nil {
		close(q)
		r.wg.Wait()
	}
}

func (r *Recorder) drain(queue <-chan archiveItem) {
	defer r.wg.Done()
	for item := range queue {
		if err := r.sink.Archive(context.Background(), item.runID, item.entry); err != nil {
			r.logger.Warn("archive entry failed", slog.String("error", err.Error()))
		}
	}
}

func serialize(payload any) string {
	switch p := payload.(type) {
	case nil:
		return ""
	case string:
		return p
	}
	bs, err := sonnet.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(bs)
}
