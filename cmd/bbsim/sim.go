package main

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"blackbox/pkg/blackbox"
	"blackbox/pkg/config"
	"blackbox/pkg/snapshot"
	"blackbox/pkg/transport"
)

// producer samples the synthetic flight at a fixed rate. The ticker is created
// up front so a mock clock can be advanced as soon as the producer exists.
type producer struct {
	clock  clock.Clock
	ticker *clock.Ticker
	start  time.Time
}

func newProducer(clk clock.Clock, rateHz int) *producer {
	if rateHz <= 0 {
		rateHz = 50
	}
	return &producer{
		clock:  clk,
		ticker: clk.Ticker(time.Second / time.Duration(rateHz)),
		start:  clk.Now(),
	}
}

func (p *producer) Run(ctx context.Context, emit func(snapshot.Snapshot) error) error {
	defer p.ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-p.ticker.C:
			if err := emit(flightAt(now.Sub(p.start))); err != nil {
				return err
			}
		}
	}
}

// fanout hands every snapshot to each connected client's writer.
type fanout struct {
	mu      sync.Mutex
	writers map[*blackbox.Writer]struct{}
}

func newFanout() *fanout {
	return &fanout{writers: make(map[*blackbox.Writer]struct{})}
}

func (f *fanout) add(w *blackbox.Writer) {
	f.mu.Lock()
	f.writers[w] = struct{}{}
	f.mu.Unlock()
}

func (f *fanout) remove(w *blackbox.Writer) {
	f.mu.Lock()
	delete(f.writers, w)
	f.mu.Unlock()
}

func (f *fanout) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writers)
}

func (f *fanout) Submit(s snapshot.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for w := range f.writers {
		w.Submit(s)
	}
	return nil
}

type simulator struct {
	cfg     config.Config
	log     *zap.SugaredLogger
	metrics *blackbox.Metrics
	prod    *producer
	clients *fanout
}

func newSimulator(cfg config.Config, clk clock.Clock, log *zap.SugaredLogger) *simulator {
	return &simulator{
		cfg:     cfg,
		log:     log,
		metrics: blackbox.NewMetrics(),
		prod:    newProducer(clk, cfg.Recorder.RateHz),
		clients: newFanout(),
	}
}

func (s *simulator) writerOptions(log *zap.SugaredLogger, onError func(error)) []blackbox.WriterOption {
	return []blackbox.WriterOption{
		blackbox.WithLogger(log),
		blackbox.WithMetrics(s.metrics),
		blackbox.WithWriteRetries(s.cfg.Recorder.WriteRetries),
		blackbox.WithErrorHandler(onError),
	}
}

func (s *simulator) Run(ctx context.Context) error {
	switch s.cfg.Sink.Kind {
	case config.KindTCP:
		ln, err := net.Listen("tcp", s.cfg.Sink.Addr)
		if err != nil {
			return err
		}
		return s.serveTCP(ctx, ln)
	case config.KindSerial:
		return s.runSerial(ctx)
	case config.KindFile:
		return s.runFile(ctx)
	}
	return fmt.Errorf("unknown sink kind %q", s.cfg.Sink.Kind)
}

// serveTCP gives every reader that connects its own writer, so each stream
// starts from the zero snapshot.
func (s *simulator) serveTCP(ctx context.Context, ln net.Listener) error {
	s.log.Infow("serving recorder stream", "addr", ln.Addr().String(), "rate_hz", s.cfg.Recorder.RateHz)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	served := make(chan error, 1)
	go func() {
		served <- transport.Serve(ctx, ln, s.handleConn)
	}()

	err := s.prod.Run(ctx, s.clients.Submit)
	cancel()
	return multierr.Append(err, <-served)
}

func (s *simulator) handleConn(ctx context.Context, conn net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := s.log.With("peer", conn.RemoteAddr().String())
	// A failed write on a socket means the reader is gone.
	w := blackbox.NewWriter(conn, s.writerOptions(log, func(error) { cancel() })...)
	s.clients.add(w)
	defer s.clients.remove(w)

	log.Infow("reader connected")
	_ = w.Run(ctx)
	st := w.Stats()
	log.Infow("reader disconnected", "frames", st.FramesWritten, "bytes", st.BytesWritten, "overwrites", st.Overwrites)
}

func (s *simulator) runSerial(ctx context.Context) (err error) {
	port, err := transport.OpenSerial(s.cfg.Sink.Device, transport.SerialOptions{BaudRate: s.cfg.Sink.Baud})
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, port.Close()) }()
	s.log.Infow("recording to serial", "device", s.cfg.Sink.Device, "baud", s.cfg.Sink.Baud)

	w := blackbox.NewWriter(port, s.writerOptions(s.log, nil)...)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	err = s.prod.Run(ctx, func(snap snapshot.Snapshot) error {
		w.Submit(snap)
		return nil
	})
	<-done
	st := w.Stats()
	s.log.Infow("serial recording stopped", "frames", st.FramesWritten, "bytes", st.BytesWritten, "failures", st.WriteFailures)
	return err
}

// runFile writes synchronously and rotates between frames, starting each file
// with a fresh stream.
func (s *simulator) runFile(ctx context.Context) (err error) {
	sink, err := transport.NewFileSink(s.cfg.Sink.Path, transport.FileSinkOptions{
		MaxSizeMB:  s.cfg.Sink.MaxSizeMB,
		MaxBackups: s.cfg.Sink.MaxBackups,
	})
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, sink.Close()) }()
	s.log.Infow("recording to file", "path", s.cfg.Sink.Path, "max_size_mb", s.cfg.Sink.MaxSizeMB)

	w := blackbox.NewWriter(sink, s.writerOptions(s.log, nil)...)
	err = s.prod.Run(ctx, func(snap snapshot.Snapshot) error {
		if sink.ShouldRotate() {
			if err := sink.Rotate(); err != nil {
				return fmt.Errorf("rotate recording: %w", err)
			}
			w.Reset()
			s.log.Infow("recording rotated", "path", s.cfg.Sink.Path)
		}
		// Sink failures are counted and logged by the writer.
		_, _ = w.Flush(snap)
		return nil
	})
	st := w.Stats()
	s.log.Infow("file recording stopped", "frames", st.FramesWritten, "bytes", st.BytesWritten, "no_change", st.NoChange)
	return err
}
