package blackbox_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"blackbox/pkg/blackbox"
	"blackbox/pkg/engine"
	"blackbox/pkg/protocol"
	"blackbox/pkg/snapshot"
)

func flight(step int) snapshot.Snapshot {
	s := snapshot.Snapshot{
		Time:     uint32(step) * 1000,
		Attitude: [3]int16{int16(step * 3), int16(-step), 900},
		Motor:    [8]int16{1100, 1100, 1100, 1100},
		VBat:     1680,
		RSSI:     1000,
	}
	s.Motor[step%4] += int16(step)
	return s
}

type chunkedSink struct {
	bytes.Buffer
	max   int
	calls int
}

func (c *chunkedSink) Write(p []byte) (int, error) {
	c.calls++
	if len(p) > c.max {
		p = p[:c.max]
	}
	return c.Buffer.Write(p)
}

type flakySink struct {
	bytes.Buffer
	failOn int
	calls  int
}

func (f *flakySink) Write(p []byte) (int, error) {
	f.calls++
	if f.calls == f.failOn {
		f.Buffer.Write(p[:2])
		return 2, errors.New("boom")
	}
	return f.Buffer.Write(p)
}

// lateErrorSink takes every byte of the failOn'th write and still reports an
// error, as io.Writer allows.
type lateErrorSink struct {
	bytes.Buffer
	failOn int
	calls  int
}

func (l *lateErrorSink) Write(p []byte) (int, error) {
	l.calls++
	n, _ := l.Buffer.Write(p)
	if l.calls == l.failOn {
		return n, errors.New("late failure")
	}
	return n, nil
}

type stalledSink struct{ calls int }

func (s *stalledSink) Write([]byte) (int, error) {
	s.calls++
	return 0, nil
}

func TestWriterReaderRoundTrip(t *testing.T) {
	var sink bytes.Buffer
	w := blackbox.NewWriter(&sink, blackbox.WithLogger(zaptest.NewLogger(t).Sugar()))

	var want []snapshot.Snapshot
	for step := 1; step <= 50; step++ {
		s := flight(step)
		n, err := w.Flush(s)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, n, test.ShouldBeGreaterThan, 0)
		want = append(want, s)

		// Repeats produce no frame.
		n, err = w.Flush(s)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, n, test.ShouldEqual, 0)
	}

	stats := w.Stats()
	test.That(t, stats.Cycles, test.ShouldEqual, uint64(100))
	test.That(t, stats.FramesWritten, test.ShouldEqual, uint64(50))
	test.That(t, stats.NoChange, test.ShouldEqual, uint64(50))
	test.That(t, stats.BytesWritten, test.ShouldEqual, uint64(sink.Len()))

	r := blackbox.NewReader()
	var got []snapshot.Snapshot
	consumed, err := r.DecodeAll(sink.Bytes(), func(s snapshot.Snapshot) error {
		got = append(got, s)
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, consumed, test.ShouldEqual, sink.Len())
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("reconstructed snapshots differ (-want +got):\n%s", diff)
	}
}

func TestWriterLoopsOnPartialWrites(t *testing.T) {
	sink := &chunkedSink{max: 3}
	w := blackbox.NewWriter(sink)
	s := flight(7)
	n, err := w.Flush(s)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, sink.Len())
	test.That(t, sink.calls, test.ShouldBeGreaterThan, 1)

	got, consumed, err := blackbox.NewReader().Parse(sink.Bytes())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, consumed, test.ShouldEqual, sink.Len())
	test.That(t, got, test.ShouldResemble, s)
}

func TestWriterAbandonsFrameOnSinkFailure(t *testing.T) {
	sink := &flakySink{failOn: 2}
	var handled []error
	w := blackbox.NewWriter(sink, blackbox.WithErrorHandler(func(err error) {
		handled = append(handled, err)
	}))

	s1, s2, s3 := flight(1), flight(2), flight(3)
	_, err := w.Flush(s1)
	test.That(t, err, test.ShouldBeNil)
	n, err := w.Flush(s2)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, n, test.ShouldEqual, 2)
	_, err = w.Flush(s3)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, len(handled), test.ShouldEqual, 1)
	test.That(t, w.Stats().WriteFailures, test.ShouldEqual, uint64(1))
	test.That(t, w.Stats().FramesWritten, test.ShouldEqual, uint64(2))

	// s3 was diffed against s1, the last snapshot the sink accepted, so a
	// reader that skips the damaged frame still lands on s3.
	r := blackbox.NewReader()
	var got []snapshot.Snapshot
	err = r.Stream(context.Background(), bytes.NewReader(sink.Bytes()), func(rec engine.Record) error {
		got = append(got, rec.Snapshot)
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, []snapshot.Snapshot{s1, s3})
}

func TestWriterKeepsFrameTheSinkTookWhole(t *testing.T) {
	sink := &lateErrorSink{failOn: 2}
	var handled []error
	w := blackbox.NewWriter(sink, blackbox.WithErrorHandler(func(err error) {
		handled = append(handled, err)
	}))

	s1, s2, s3 := flight(1), flight(2), flight(3)
	_, err := w.Flush(s1)
	test.That(t, err, test.ShouldBeNil)
	n, err := w.Flush(s2)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, n, test.ShouldEqual, sink.Len()-len(frames(t, s1)[0]))
	_, err = w.Flush(s3)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, handled, test.ShouldHaveLength, 1)
	stats := w.Stats()
	test.That(t, stats.WriteFailures, test.ShouldEqual, uint64(1))
	test.That(t, stats.FramesWritten, test.ShouldEqual, uint64(3))

	// No resync delimiter was inserted and s3 was diffed against s2.
	var got []snapshot.Snapshot
	consumed, err := blackbox.NewReader().DecodeAll(sink.Bytes(), func(s snapshot.Snapshot) error {
		got = append(got, s)
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, consumed, test.ShouldEqual, sink.Len())
	test.That(t, got, test.ShouldResemble, []snapshot.Snapshot{s1, s2, s3})
}

func TestWriterGivesUpOnStalledSink(t *testing.T) {
	sink := &stalledSink{}
	w := blackbox.NewWriter(sink, blackbox.WithWriteRetries(2))
	_, err := w.Flush(flight(1))
	test.That(t, err, test.ShouldWrap, blackbox.ErrSinkStalled)
	test.That(t, sink.calls, test.ShouldEqual, 3)
}

func TestRunKeepsOnlyNewestSnapshot(t *testing.T) {
	var sink bytes.Buffer
	w := blackbox.NewWriter(&sink)

	w.Submit(flight(1))
	w.Submit(flight(2))
	w.Submit(flight(3))
	test.That(t, w.Stats().Overwrites, test.ShouldEqual, uint64(2))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for w.Stats().FramesWritten < 1 {
		if time.Now().After(deadline) {
			t.Fatal("writer did not flush")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	test.That(t, <-done, test.ShouldBeNil)
	test.That(t, w.Stats().FramesWritten, test.ShouldEqual, uint64(1))

	got, _, err := blackbox.NewReader().Parse(sink.Bytes())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, flight(3))
}

func frames(t *testing.T, snaps ...snapshot.Snapshot) [][]byte {
	t.Helper()
	var out [][]byte
	var sink bytes.Buffer
	w := blackbox.NewWriter(&sink)
	for _, s := range snaps {
		sink.Reset()
		_, err := w.Flush(s)
		test.That(t, err, test.ShouldBeNil)
		out = append(out, append([]byte(nil), sink.Bytes()...))
	}
	return out
}

func TestReaderKeepsStateOnCorruptFrame(t *testing.T) {
	f := frames(t, flight(1), flight(2))
	r := blackbox.NewReader()

	s1, _, err := r.Parse(f[0])
	test.That(t, err, test.ShouldBeNil)

	bad := append([]byte(nil), f[1]...)
	bad[0] ^= 0x40
	_, consumed, err := r.Parse(bad)
	test.That(t, err, test.ShouldWrap, protocol.ErrCorruptFrame)
	test.That(t, consumed, test.ShouldEqual, len(bad))
	test.That(t, r.Current(), test.ShouldResemble, s1)

	s2, _, err := r.Parse(f[1])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s2, test.ShouldResemble, flight(2))
}

func TestReaderRejectsBadDelta(t *testing.T) {
	f := frames(t, flight(1))
	r := blackbox.NewReader()
	_, _, err := r.Parse(f[0])
	test.That(t, err, test.ShouldBeNil)

	for _, payload := range [][]byte{{0x01, 0x00}, {0x04, 0x01}} {
		frame, err := protocol.AppendFrame(nil, payload)
		test.That(t, err, test.ShouldBeNil)
		_, _, err = r.Parse(frame)
		test.That(t, err, test.ShouldWrap, blackbox.ErrBadDelta)
		test.That(t, r.Current(), test.ShouldResemble, flight(1))
	}
}

func TestReaderNeedsDelimiter(t *testing.T) {
	f := frames(t, flight(1))
	_, consumed, err := blackbox.NewReader().Parse(f[0][:len(f[0])-1])
	test.That(t, err, test.ShouldWrap, protocol.ErrNoDelimiter)
	test.That(t, consumed, test.ShouldEqual, 0)
}

func TestDecodeAllStopsAtFirstInvalid(t *testing.T) {
	f := frames(t, flight(1), flight(2), flight(3))
	f[1][0] ^= 0x40
	stream := bytes.Join(f, nil)

	count := 0
	consumed, err := blackbox.NewReader().DecodeAll(stream, func(snapshot.Snapshot) error {
		count++
		return nil
	})
	test.That(t, err, test.ShouldWrap, protocol.ErrCorruptFrame)
	test.That(t, count, test.ShouldEqual, 1)
	test.That(t, consumed, test.ShouldEqual, len(f[0])+len(f[1]))
}

func TestStreamStampsRecords(t *testing.T) {
	f := frames(t, flight(1), flight(2))
	mock := clock.NewMock()
	mock.Add(time.Hour)
	r := blackbox.NewReader(blackbox.WithClock(mock))

	var recs []engine.Record
	err := r.Stream(context.Background(), bytes.NewReader(bytes.Join(f, nil)), func(rec engine.Record) error {
		recs = append(recs, rec)
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(recs), test.ShouldEqual, 2)
	test.That(t, recs[0].Seq, test.ShouldEqual, uint64(1))
	test.That(t, recs[1].Seq, test.ShouldEqual, uint64(2))
	test.That(t, recs[1].Timestamp.Equal(mock.Now()), test.ShouldBeTrue)
	test.That(t, recs[1].Snapshot, test.ShouldResemble, flight(2))
}

func TestStreamStopsOnCallbackError(t *testing.T) {
	f := frames(t, flight(1), flight(2))
	stop := errors.New("stop")
	err := blackbox.NewReader().Stream(context.Background(), bytes.NewReader(bytes.Join(f, nil)), func(engine.Record) error {
		return stop
	})
	test.That(t, err, test.ShouldBeError, stop)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	test.That(t, err, test.ShouldBeNil)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestMetricsAreExported(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := blackbox.NewMetrics(blackbox.WithRegistry(reg))

	var sink bytes.Buffer
	w := blackbox.NewWriter(&sink, blackbox.WithMetrics(m))
	_, _ = w.Flush(flight(1))
	_, _ = w.Flush(flight(1))
	_, _ = w.Flush(flight(2))

	r := blackbox.NewReader(blackbox.WithReaderMetrics(m))
	_, err := r.DecodeAll(sink.Bytes(), func(snapshot.Snapshot) error { return nil })
	test.That(t, err, test.ShouldBeNil)
	_, _, _ = r.Parse([]byte{0x01, protocol.Delimiter})

	test.That(t, counterValue(t, reg, "blackbox_frames_written_total"), test.ShouldEqual, 2.0)
	test.That(t, counterValue(t, reg, "blackbox_no_change_total"), test.ShouldEqual, 1.0)
	test.That(t, counterValue(t, reg, "blackbox_bytes_written_total"), test.ShouldEqual, float64(sink.Len()))
	test.That(t, counterValue(t, reg, "blackbox_frames_decoded_total"), test.ShouldEqual, 2.0)
	test.That(t, counterValue(t, reg, "blackbox_corrupt_frames_total"), test.ShouldEqual, 1.0)
}

func TestReaderStatsCountFrames(t *testing.T) {
	f := frames(t, flight(1), flight(2))
	r := blackbox.NewReader(blackbox.WithReaderLogger(zaptest.NewLogger(t).Sugar()))

	bad := append([]byte(nil), f[1]...)
	bad[0] ^= 0x40
	stream := bytes.Join([][]byte{f[0], bad, f[1]}, nil)

	count := 0
	err := r.Stream(context.Background(), bytes.NewReader(stream), func(engine.Record) error {
		count++
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, count, test.ShouldEqual, 2)
	test.That(t, r.Stats(), test.ShouldResemble, blackbox.ReaderStats{FramesDecoded: 2, CorruptFrames: 1, DegradedRecords: 1})
}

func TestStreamMarksRecordsAfterLostFrame(t *testing.T) {
	snaps := []snapshot.Snapshot{
		{Time: 1, VBat: 100},
		{Time: 2, VBat: 200},
		{Time: 3, VBat: 200},
	}
	f := frames(t, snaps...)
	f[1][0] ^= 0x01

	r := blackbox.NewReader()
	var recs []engine.Record
	err := r.Stream(context.Background(), bytes.NewReader(bytes.Join(f, nil)), func(rec engine.Record) error {
		recs = append(recs, rec)
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, recs, test.ShouldHaveLength, 2)

	test.That(t, recs[0].Snapshot, test.ShouldResemble, snaps[0])
	test.That(t, recs[0].Degraded, test.ShouldBeFalse)

	// The lost frame carried the battery change, so the rebuilt snapshot
	// has the new time but a stale voltage and says so.
	test.That(t, recs[1].Snapshot.Time, test.ShouldEqual, uint32(3))
	test.That(t, recs[1].Snapshot.VBat, test.ShouldEqual, uint16(100))
	test.That(t, recs[1].Degraded, test.ShouldBeTrue)
	test.That(t, r.Degraded(), test.ShouldBeTrue)
	test.That(t, r.Stats().DegradedRecords, test.ShouldEqual, uint64(1))

	r.Reset()
	test.That(t, r.Degraded(), test.ShouldBeFalse)
	rec, err := r.DecodeRecord(f[0])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rec.Degraded, test.ShouldBeFalse)
}

func TestResetStartsNewStream(t *testing.T) {
	var sink bytes.Buffer
	w := blackbox.NewWriter(&sink)
	_, err := w.Flush(flight(1))
	test.That(t, err, test.ShouldBeNil)
	_, err = w.Flush(flight(2))
	test.That(t, err, test.ShouldBeNil)

	w.Reset()
	start := sink.Len()
	_, err = w.Flush(flight(3))
	test.That(t, err, test.ShouldBeNil)

	// A reader that never saw the earlier frames decodes the new stream.
	got, _, err := blackbox.NewReader().Parse(sink.Bytes()[start:])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, flight(3))

	// Flushing the same snapshot again is still a no-change cycle.
	n, err := w.Flush(flight(3))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 0)
}
