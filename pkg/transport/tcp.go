// Package transport moves framed bytes between the recorder and the outside
// world.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"blackbox/pkg/protocol"
)

// Listener dials a TCP recorder stream and delivers each delimiter-terminated
// chunk on its output channel. Lost connections are redialed with a linear
// backoff.
type Listener struct {
	addr  string
	out   chan<- []byte
	dial  dialSettings
	retry backoff

	onError     func(error)
	markConnect bool
}

type dialSettings struct {
	timeout     time.Duration
	idleTimeout time.Duration
	bufSize     int
}

// backoff waits step, 2*step, ... capped at max.
type backoff struct {
	step    time.Duration
	max     time.Duration
	attempt int
}

func (b *backoff) next() time.Duration {
	b.attempt++
	return min(b.step*time.Duration(b.attempt), b.max)
}

func (b *backoff) reset() { b.attempt = 0 }

type Option func(*Listener)

func WithReconnectInterval(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.retry.step = d
		}
	}
}

func WithReconnectMax(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.retry.max = d
		}
	}
}

// WithBufferSize sets the socket read buffer. Chunks are still bounded by
// protocol.MaxFrameSize.
func WithBufferSize(n int) Option {
	return func(l *Listener) {
		if n > 0 {
			l.dial.bufSize = n
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.dial.timeout = d
		}
	}
}

// WithReadTimeout drops a connection that stays silent for d and redials.
func WithReadTimeout(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.dial.idleTimeout = d
		}
	}
}

func WithErrorHandler(fn func(error)) Option {
	return func(l *Listener) {
		l.onError = fn
	}
}

// WithConnectMarker makes the listener deliver an empty chunk each time a new
// connection is established. A stream restarts from the zero snapshot on every
// connection, so decoders reset their state when they see it.
func WithConnectMarker() Option {
	return func(l *Listener) {
		l.markConnect = true
	}
}

// StartListener starts dialing addr in the background. Chunks keep their
// trailing delimiter so they can be handed to protocol.Parse as they are.
func StartListener(ctx context.Context, addr string, out chan<- []byte, opts ...Option) *Listener {
	l := &Listener{
		addr: addr,
		out:  out,
		dial: dialSettings{
			timeout: 5 * time.Second,
			bufSize: 64 * 1024,
		},
		retry: backoff{step: time.Second, max: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.loop(ctx)
	return l
}

func (l *Listener) loop(ctx context.Context) {
	for ctx.Err() == nil {
		conn, err := net.DialTimeout("tcp", l.addr, l.dial.timeout)
		if err != nil {
			l.report(err)
			sleep(ctx, l.retry.next())
			continue
		}

		l.retry.reset()
		err = l.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		l.report(err)
		sleep(ctx, l.retry.next())
	}
}

// consume forwards the chunks of one connection until it ends. A clean close
// by the peer is reported as io.EOF.
func (l *Listener) consume(ctx context.Context, conn net.Conn) error {
	if l.markConnect && !l.emit(ctx, []byte{}) {
		return ctx.Err()
	}

	sc := bufio.NewScanner(bufio.NewReaderSize(conn, l.dial.bufSize))
	sc.Buffer(make([]byte, 0, 4096), protocol.ScanBufferSize)
	sc.Split(protocol.ScanFrames)
	for {
		if l.dial.idleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(l.dial.idleTimeout))
		}
		if !sc.Scan() {
			return connError(sc.Err(), l.dial.idleTimeout)
		}
		chunk := sc.Bytes()
		if !protocol.Terminated(chunk) {
			// Noise longer than any frame.
			continue
		}
		if !l.emit(ctx, append([]byte(nil), chunk...)) {
			return ctx.Err()
		}
	}
}

func (l *Listener) emit(ctx context.Context, chunk []byte) bool {
	select {
	case l.out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *Listener) report(err error) {
	if err != nil && l.onError != nil {
		l.onError(err)
	}
}

func connError(err error, idle time.Duration) error {
	switch {
	case err == nil:
		return fmt.Errorf("connection closed by peer: %w", io.EOF)
	case errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("no data for %s: %w", idle, err)
	default:
		return err
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
