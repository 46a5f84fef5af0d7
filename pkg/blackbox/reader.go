package blackbox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"blackbox/pkg/delta"
	"blackbox/pkg/engine"
	"blackbox/pkg/protocol"
	"blackbox/pkg/snapshot"
)

// ErrBadDelta is returned when a frame is intact but its payload does not decode
// as a delta of a snapshot.
var ErrBadDelta = errors.New("blackbox: bad delta")

// Reader reconstructs snapshots from a framed delta stream. It keeps the running
// snapshot that the next delta applies to; a frame that fails to parse or decode
// leaves it untouched. Once a frame has been rejected the running snapshot may be
// missing that frame's changes, so every later record is marked Degraded until
// Reset.
type Reader struct {
	log     *zap.SugaredLogger
	metrics *Metrics
	clock   clock.Clock

	state    [snapshot.Size]byte
	scratch  [snapshot.Size]byte
	seq      uint64
	degraded bool

	decoded      atomic.Uint64
	corrupt      atomic.Uint64
	degradedRecs atomic.Uint64
}

// ReaderStats are cumulative Reader counters. They may be read while another
// goroutine decodes. DegradedRecords counts records decoded after a rejected
// frame.
type ReaderStats struct {
	FramesDecoded   uint64
	CorruptFrames   uint64
	DegradedRecords uint64
}

type ReaderOption func(*Reader)

func WithReaderLogger(log *zap.SugaredLogger) ReaderOption {
	return func(r *Reader) {
		if log != nil {
			r.log = log
		}
	}
}

func WithReaderMetrics(m *Metrics) ReaderOption {
	return func(r *Reader) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithClock sets the clock used to timestamp records.
func WithClock(c clock.Clock) ReaderOption {
	return func(r *Reader) {
		if c != nil {
			r.clock = c
		}
	}
}

func NewReader(opts ...ReaderOption) *Reader {
	r := &Reader{
		log:   zap.NewNop().Sugar(),
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = NewMetrics()
	}
	return r
}

// Current returns the running snapshot.
func (r *Reader) Current() snapshot.Snapshot {
	s, _ := snapshot.FromBytes(r.state[:])
	return s
}

// Reset returns the reader to the all-zero initial state.
func (r *Reader) Reset() {
	r.state = [snapshot.Size]byte{}
	r.seq = 0
	r.degraded = false
}

// Degraded reports whether a frame has been rejected since the last Reset.
func (r *Reader) Degraded() bool {
	return r.degraded
}

func (r *Reader) Stats() ReaderStats {
	return ReaderStats{
		FramesDecoded:   r.decoded.Load(),
		CorruptFrames:   r.corrupt.Load(),
		DegradedRecords: r.degradedRecs.Load(),
	}
}

// Parse reads the first frame in buf and applies it to the running snapshot.
// consumed is valid on error too, so the caller can skip past a bad frame; it is
// 0 only when buf does not yet hold a complete frame.
func (r *Reader) Parse(buf []byte) (snapshot.Snapshot, int, error) {
	rec, consumed, err := r.next(buf)
	if err != nil {
		return snapshot.Snapshot{}, consumed, err
	}
	return rec.Snapshot, consumed, nil
}

// DecodeAll applies every frame in buf in order, calling fn with each
// reconstructed snapshot. It stops at the first invalid frame and returns the
// bytes consumed up to and including it.
func (r *Reader) DecodeAll(buf []byte, fn func(snapshot.Snapshot) error) (int, error) {
	total := 0
	for total < len(buf) {
		s, n, err := r.Parse(buf[total:])
		if n == 0 {
			return total, nil
		}
		total += n
		if err != nil {
			return total, err
		}
		if err := fn(s); err != nil {
			return total, err
		}
	}
	return total, nil
}

// DecodeRecord applies a single delimiter-terminated chunk, as delivered by a
// transport, and returns the resulting record.
func (r *Reader) DecodeRecord(chunk []byte) (engine.Record, error) {
	rec, _, err := r.next(chunk)
	return rec, err
}

// Stream reads frames from src until EOF, ctx is done, or fn fails. Invalid
// frames are logged and skipped; the stream resynchronises at the next
// delimiter and the records that follow carry Degraded. A trailing partial frame
// at EOF is dropped.
func (r *Reader) Stream(ctx context.Context, src io.Reader, fn func(engine.Record) error) error {
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, protocol.MaxFrameSize), protocol.ScanBufferSize)
	sc.Split(protocol.ScanFrames)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.DecodeRecord(sc.Bytes())
		if err != nil {
			r.log.Debugw("skipping frame", "error", err, "bytes", len(sc.Bytes()), "seq", r.seq)
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return sc.Err()
}

func (r *Reader) next(buf []byte) (engine.Record, int, error) {
	payload, consumed, err := protocol.Parse(buf)
	if err != nil {
		if consumed > 0 {
			r.reject()
		}
		return engine.Record{}, consumed, err
	}

	r.scratch = r.state
	n, err := delta.Decode(r.scratch[:], payload)
	if err == nil && n != len(payload) {
		err = fmt.Errorf("%d trailing bytes", len(payload)-n)
	}
	if err != nil {
		r.reject()
		return engine.Record{}, consumed, fmt.Errorf("%w: %w", ErrBadDelta, err)
	}
	r.state = r.scratch
	r.seq++
	r.decoded.Add(1)
	r.metrics.framesDecoded.Inc()
	if r.degraded {
		r.degradedRecs.Add(1)
	}

	s, _ := snapshot.FromBytes(r.state[:])
	return engine.Record{
		Seq:       r.seq,
		Timestamp: r.clock.Now(),
		Snapshot:  s,
		Delta:     payload,
		Degraded:  r.degraded,
	}, consumed, nil
}

func (r *Reader) reject() {
	r.degraded = true
	r.corrupt.Add(1)
	r.metrics.corruptFrames.Inc()
}
