package main

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"blackbox/pkg/blackbox"
	"blackbox/pkg/logger"
	"blackbox/pkg/protocol"
)

func decodeCmd(opts *globalOptions) *cobra.Command {
	var (
		output string
		skip   bool
	)

	cmd := &cobra.Command{
		Use:   "decode <recording>",
		Short: "Decode a recorded stream to JSONL",
		Long: `Decode reads a framed delta stream from a file ("-" for stdin) and writes
one JSON object per reconstructed snapshot.

Decoding stops at the first invalid frame: every later snapshot is built on a
delta the recording no longer has. With --skip-corrupt decoding resumes at the
next delimiter and the records after the gap are marked "degraded".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			log, err := opts.logger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if output == "" {
				output = cfg.Recorder.JSONL
			}
			out, closeOut, err := openOutput(output, opts.stdout)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, closeOut()) }()

			in, err := openInput(args[0])
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, in.Close()) }()

			jsonl := logger.NewJSONLWriter(out)
			r := blackbox.NewReader(blackbox.WithReaderLogger(log))
			if skip {
				err = r.Stream(cmd.Context(), in, jsonl.Write)
			} else {
				err = decodeUntilInvalid(cmd.Context(), r, in, jsonl)
			}
			stats := r.Stats()
			log.Infow("decode finished", "frames", stats.FramesDecoded, "corrupt", stats.CorruptFrames, "degraded", stats.DegradedRecords)
			return err
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "JSONL output path (default recorder.jsonl, else stdout)")
	cmd.Flags().BoolVar(&skip, "skip-corrupt", false, "skip invalid frames and mark the records after them as degraded")

	return cmd
}

func decodeUntilInvalid(ctx context.Context, r *blackbox.Reader, in io.Reader, out *logger.JSONLWriter) error {
	offset := 0
	tail := false
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, protocol.MaxFrameSize), protocol.ScanBufferSize)
	sc.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		advance, token, err := protocol.ScanFrames(data, atEOF)
		offset += advance
		tail = atEOF && advance == len(data)
		return advance, token, err
	})

	for frame := 1; sc.Scan(); frame++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := sc.Bytes()
		if !protocol.Terminated(chunk) {
			if tail {
				return fmt.Errorf("%d trailing bytes without a delimiter", len(chunk))
			}
			return fmt.Errorf("frame %d: %d bytes without a delimiter ending at byte %d", frame, len(chunk), offset)
		}
		rec, err := r.DecodeRecord(chunk)
		if err != nil {
			return fmt.Errorf("frame %d ending at byte %d: %w", frame, offset, err)
		}
		if err := out.Write(rec); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read recording: %w", err)
	}
	return nil
}
