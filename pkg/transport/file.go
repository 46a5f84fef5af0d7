package transport

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

const megabyte = 1 << 20

// FileSinkOptions configures NewFileSink.
type FileSinkOptions struct {
	// MaxSizeMB is the size at which ShouldRotate reports true. Default 100.
	MaxSizeMB int
	// MaxBackups is how many rotated logs to keep. Zero keeps all of them.
	MaxBackups int
	Compress   bool
}

// FileSink is an append-only recording file that rotates by size, the way a
// flight controller fills its flash log. Every file must hold a complete
// stream, so rotation is left to the caller: check ShouldRotate between frames,
// then Rotate and restart the encoder.
type FileSink struct {
	log   *lumberjack.Logger
	size  int64
	limit int64
}

// NewFileSink starts a fresh file at path. An existing file is moved aside as a
// backup rather than appended to.
func NewFileSink(path string, opts FileSinkOptions) (*FileSink, error) {
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 100
	}
	f := &FileSink{
		log: &lumberjack.Logger{
			Filename: path,
			// One extra megabyte so lumberjack never rotates mid-stream on its own.
			MaxSize:    opts.MaxSizeMB + 1,
			MaxBackups: opts.MaxBackups,
			Compress:   opts.Compress,
		},
		limit: int64(opts.MaxSizeMB) * megabyte,
	}
	if err := f.log.Rotate(); err != nil {
		return nil, fmt.Errorf("open file sink %s: %w", path, err)
	}
	return f, nil
}

func (f *FileSink) Write(p []byte) (int, error) {
	n, err := f.log.Write(p)
	f.size += int64(n)
	return n, err
}

// Size is the number of bytes written to the current file.
func (f *FileSink) Size() int64 {
	return f.size
}

// ShouldRotate reports whether the current file has reached its size limit.
func (f *FileSink) ShouldRotate() bool {
	return f.size >= f.limit
}

// Rotate closes the current file and starts a new one.
func (f *FileSink) Rotate() error {
	if err := f.log.Rotate(); err != nil {
		return err
	}
	f.size = 0
	return nil
}

func (f *FileSink) Close() error {
	return f.log.Close()
}

// OpenFileSource opens a recorded stream for reading.
func OpenFileSource(path string) (io.ReadCloser, error) {
	return os.Open(path)
}
