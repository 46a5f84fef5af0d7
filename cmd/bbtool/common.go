package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"blackbox/pkg/blackbox"
	"blackbox/pkg/config"
	"blackbox/pkg/engine"
	"blackbox/pkg/logger"
	"blackbox/pkg/transport"
)

func (o *globalOptions) load() (config.Config, error) {
	cfg, _, err := config.LoadOrDefault(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

func (o *globalOptions) logger(cfg config.Config) (*zap.SugaredLogger, error) {
	return logger.New("bbtool", cfg.Log)
}

// openOutput returns stdout for "" and "-", otherwise a new file at path.
func openOutput(path string, stdout io.Writer) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, f.Close, nil
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return transport.OpenFileSource(path)
}

// pumpSource decodes records from the configured source into fn until ctx is
// done. A file source returns at EOF.
func pumpSource(ctx context.Context, cfg config.Config, r *blackbox.Reader, log *zap.SugaredLogger, fn func(engine.Record) error) (err error) {
	src := cfg.Source
	switch src.Kind {
	case config.KindTCP:
		chunks := make(chan []byte, src.Buf)
		transport.StartListener(ctx, src.Addr, chunks,
			transport.WithReconnectInterval(cfg.ReconnectInterval()),
			transport.WithBufferSize(src.ReaderBuf),
			transport.WithConnectMarker(),
			transport.WithErrorHandler(func(err error) {
				log.Warnw("source connection", "addr", src.Addr, "error", err)
			}),
		)
		log.Infow("reading tcp source", "addr", src.Addr)
		for {
			select {
			case <-ctx.Done():
				return nil
			case chunk := <-chunks:
				if len(chunk) == 0 {
					r.Reset()
					log.Infow("source connected", "addr", src.Addr)
					continue
				}
				rec, err := r.DecodeRecord(chunk)
				if err != nil {
					log.Debugw("skipping frame", "error", err, "bytes", len(chunk))
					continue
				}
				if err := fn(rec); err != nil {
					return err
				}
			}
		}

	case config.KindSerial:
		port, err := transport.OpenSerial(src.Device, transport.SerialOptions{BaudRate: src.Baud})
		if err != nil {
			return err
		}
		// Closing the port is the only way to interrupt a blocked Read.
		stop := context.AfterFunc(ctx, func() { _ = port.Close() })
		defer func() {
			if stop() {
				err = multierr.Append(err, port.Close())
			}
		}()
		log.Infow("reading serial source", "device", src.Device, "baud", src.Baud)
		return ignoreCanceled(ctx, r.Stream(ctx, port, fn))

	case config.KindFile:
		f, err := openInput(src.Path)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, f.Close()) }()
		log.Infow("reading file source", "path", src.Path)
		return ignoreCanceled(ctx, r.Stream(ctx, f, fn))
	}
	return fmt.Errorf("unknown source kind %q", src.Kind)
}

func ignoreCanceled(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
