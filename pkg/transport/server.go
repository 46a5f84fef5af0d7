package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// DialSink connects to a TCP peer that will receive framed bytes.
func DialSink(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", addr)
}

// Serve accepts connections on ln and runs handle for each one in its own
// goroutine. It closes ln when ctx is done and waits for every handler to
// return. Each connection is closed after its handler returns.
func Serve(ctx context.Context, ln net.Listener, handle func(context.Context, net.Conn)) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			connCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			// Unblock handler writes when the server shuts down.
			stopConn := context.AfterFunc(connCtx, func() { _ = conn.Close() })
			defer stopConn()
			handle(connCtx, conn)
			_ = conn.Close()
		}()
	}
}
