// Package blackbox ties the delta codec and the framing protocol into a
// recorder that streams snapshots to a sink and a reader that reconstructs them.
package blackbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"blackbox/pkg/delta"
	"blackbox/pkg/engine"
	"blackbox/pkg/protocol"
	"blackbox/pkg/snapshot"
)

// ErrSinkStalled is reported when the sink accepts no bytes and returns no error.
var ErrSinkStalled = errors.New("blackbox: sink accepted no bytes")

// Stats are cumulative Writer counters.
type Stats struct {
	Cycles        uint64
	FramesWritten uint64
	BytesWritten  uint64
	NoChange      uint64
	WriteFailures uint64
	Overwrites    uint64
}

// Writer records snapshots to a sink. Each cycle diffs the newest snapshot
// against the last one the sink accepted, frames the delta, and writes the
// frame. Producers hand snapshots over through a single-slot mailbox, so a slow
// sink costs samples rather than stalling the producer.
type Writer struct {
	sink    io.Writer
	log     *zap.SugaredLogger
	metrics *Metrics
	onError func(error)
	retries int

	mailbox *engine.Mailbox[snapshot.Snapshot]

	mu     sync.Mutex
	bufs   [2][snapshot.Size]byte
	cur    int
	delta  []byte
	frame  []byte
	resync bool

	cycles        atomic.Uint64
	framesWritten atomic.Uint64
	bytesWritten  atomic.Uint64
	noChange      atomic.Uint64
	writeFailures atomic.Uint64
	overwrites    atomic.Uint64
}

type WriterOption func(*Writer)

func WithLogger(log *zap.SugaredLogger) WriterOption {
	return func(w *Writer) {
		if log != nil {
			w.log = log
		}
	}
}

func WithMetrics(m *Metrics) WriterOption {
	return func(w *Writer) {
		if m != nil {
			w.metrics = m
		}
	}
}

// WithErrorHandler is called with every sink failure. The failure is not
// otherwise surfaced by Run.
func WithErrorHandler(fn func(error)) WriterOption {
	return func(w *Writer) {
		w.onError = fn
	}
}

// WithWriteRetries allows n extra attempts when the sink accepts no bytes
// without reporting an error. Errors from the sink are never retried.
func WithWriteRetries(n int) WriterOption {
	return func(w *Writer) {
		if n >= 0 {
			w.retries = n
		}
	}
}

// NewWriter creates a writer for sink. Both buffers start zeroed, which is also
// the initial state of a Reader.
func NewWriter(sink io.Writer, opts ...WriterOption) *Writer {
	w := &Writer{
		sink:    sink,
		log:     zap.NewNop().Sugar(),
		mailbox: engine.NewMailbox[snapshot.Snapshot](),
		delta:   make([]byte, delta.MaxEncodedLen(snapshot.Size)),
		frame:   make([]byte, protocol.MaxFrameSize+1),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.metrics == nil {
		w.metrics = NewMetrics()
	}
	return w
}

// Submit offers s to the writer. If the previous snapshot has not been consumed
// yet it is replaced.
func (w *Writer) Submit(s snapshot.Snapshot) {
	if w.mailbox.Put(s) {
		w.overwrites.Add(1)
		w.metrics.overwrites.Inc()
	}
}

// Run consumes submitted snapshots until ctx is done. Sink failures are logged,
// counted and passed to the error handler; they do not stop the loop.
func (w *Writer) Run(ctx context.Context) error {
	for {
		s, err := w.mailbox.Take(ctx)
		if err != nil {
			return nil
		}
		if _, err := w.Flush(s); err != nil && !errors.Is(err, errSink) {
			w.log.Errorw("capture cycle failed", "error", err)
		}
	}
}

var errSink = errors.New("blackbox: sink write failed")

// Flush runs one capture cycle for s synchronously and returns the number of
// framed bytes written. A snapshot identical to the previous one writes nothing.
// On a sink failure the rest of the frame is dropped, the buffers are not
// swapped, and the returned error wraps the sink's error. A sink that accepted
// every byte but still reported an error has delivered the frame: the buffers
// swap and the error is returned as well.
func (w *Writer) Flush(s snapshot.Snapshot) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.cycles.Add(1)
	cur := w.bufs[w.cur][:]
	prev := w.bufs[1-w.cur][:]
	if err := s.MarshalTo(cur); err != nil {
		return 0, err
	}

	n, err := delta.Encode(w.delta, prev, cur)
	if err != nil {
		return 0, fmt.Errorf("encode delta: %w", err)
	}
	if n == 0 {
		w.noChange.Add(1)
		w.metrics.noChange.Inc()
		return 0, nil
	}

	start := 0
	if w.resync {
		// Terminate whatever partial frame the sink saw last time.
		w.frame[0] = protocol.Delimiter
		start = 1
	}
	size, err := protocol.Pack(w.frame[start:], w.delta[:n])
	if err != nil {
		return 0, fmt.Errorf("frame delta: %w", err)
	}
	frame := w.frame[:start+size]

	written, err := w.send(frame)
	w.bytesWritten.Add(uint64(written))
	w.metrics.bytesWritten.Add(float64(written))
	delivered := written == len(frame)
	if err != nil {
		w.writeFailures.Add(1)
		w.metrics.writeFailures.Inc()
		err = fmt.Errorf("%w: %w (%d of %d bytes)", errSink, err, written, len(frame))
		if delivered {
			w.log.Warnw("sink reported an error after taking the whole frame", "error", err, "delta_bytes", n)
		} else {
			w.log.Warnw("frame abandoned", "error", err, "delta_bytes", n)
		}
		if w.onError != nil {
			w.onError(err)
		}
		if !delivered {
			w.resync = written > 0
			return written, err
		}
	}

	w.resync = false
	w.cur = 1 - w.cur
	w.framesWritten.Add(1)
	w.metrics.framesWritten.Inc()
	w.metrics.deltaSize.Observe(float64(n))
	return written, err
}

// Reset returns the writer to the all-zero initial state, so the next frame can
// be decoded by a fresh Reader. Call it when the sink starts a new stream.
func (w *Writer) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bufs = [2][snapshot.Size]byte{}
	w.cur = 0
	w.resync = false
}

// send writes frame, continuing after partial writes.
func (w *Writer) send(frame []byte) (int, error) {
	written := 0
	stalls := 0
	for written < len(frame) {
		n, err := w.sink.Write(frame[written:])
		if n > 0 {
			written += n
		}
		if err != nil {
			return written, err
		}
		if n <= 0 {
			if stalls >= w.retries {
				return written, ErrSinkStalled
			}
			stalls++
		}
	}
	return written, nil
}

// Stats returns the writer's counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Cycles:        w.cycles.Load(),
		FramesWritten: w.framesWritten.Load(),
		BytesWritten:  w.bytesWritten.Load(),
		NoChange:      w.noChange.Load(),
		WriteFailures: w.writeFailures.Load(),
		Overwrites:    w.overwrites.Load(),
	}
}
