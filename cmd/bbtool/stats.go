package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"blackbox/pkg/blackbox"
	"blackbox/pkg/engine"
	"blackbox/pkg/protocol"
	"blackbox/pkg/snapshot"
)

// sizeReport compares the delta stream against the compact record encoding.
type sizeReport struct {
	Frames       uint64
	Corrupt      uint64
	FileBytes    int64
	FramedBytes  int64
	DeltaBytes   int64
	CompactBytes int64
	MaxDelta     int
	MaxCompact   int
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func statsCmd(opts *globalOptions) *cobra.Command {
	var perFrame bool

	cmd := &cobra.Command{
		Use:   "stats <recording>",
		Short: "Report per-frame delta and compact record sizes",
		Args:  cobra.ExactArgs(1),
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

			in, err := openInput(args[0])
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, in.Close()) }()

			tw := tabwriter.NewWriter(opts.stdout, 0, 4, 2, ' ', 0)
			if perFrame {
				fmt.Fprintln(tw, "seq\tdelta\tframed\tcompact")
			}

			counter := &countingReader{r: in}
			r := blackbox.NewReader(blackbox.WithReaderLogger(log))
			var (
				report  sizeReport
				prev    snapshot.Snapshot
				compact [snapshot.MaxCompactSize]byte
			)
			err = r.Stream(cmd.Context(), counter, func(rec engine.Record) error {
				n, err := snapshot.EncodeCompact(compact[:], &prev, &rec.Snapshot)
				if err != nil {
					return err
				}
				prev = rec.Snapshot
				framed := protocol.EncodedLen(rec.Delta)

				report.DeltaBytes += int64(len(rec.Delta))
				report.FramedBytes += int64(framed)
				report.CompactBytes += int64(n)
				report.MaxDelta = max(report.MaxDelta, len(rec.Delta))
				report.MaxCompact = max(report.MaxCompact, n)
				if perFrame {
					fmt.Fprintf(tw, "%d\t%d\t%d\t%d\n", rec.Seq, len(rec.Delta), framed, n)
				}
				return nil
			})
			if err != nil {
				return err
			}
			st := r.Stats()
			report.Frames = st.FramesDecoded
			report.Corrupt = st.CorruptFrames
			report.FileBytes = counter.n

			if perFrame {
				fmt.Fprintln(tw)
			}
			writeReport(tw, report)
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&perFrame, "per-frame", false, "print one row per frame")

	return cmd
}

func writeReport(w io.Writer, r sizeReport) {
	raw := int64(r.Frames) * snapshot.Size
	fmt.Fprintf(w, "frames\t%d\n", r.Frames)
	fmt.Fprintf(w, "corrupt frames\t%d\n", r.Corrupt)
	fmt.Fprintf(w, "file bytes\t%d\n", r.FileBytes)
	fmt.Fprintf(w, "raw snapshot bytes\t%d\n", raw)
	fmt.Fprintf(w, "delta bytes\t%d\t%s\n", r.DeltaBytes, ratio(r.DeltaBytes, raw))
	fmt.Fprintf(w, "framed bytes\t%d\t%s\n", r.FramedBytes, ratio(r.FramedBytes, raw))
	fmt.Fprintf(w, "compact bytes\t%d\t%s\n", r.CompactBytes, ratio(r.CompactBytes, raw))
	if r.Frames > 0 {
		fmt.Fprintf(w, "mean delta\t%.1f\n", float64(r.DeltaBytes)/float64(r.Frames))
		fmt.Fprintf(w, "mean compact\t%.1f\n", float64(r.CompactBytes)/float64(r.Frames))
	}
	fmt.Fprintf(w, "max delta\t%d\n", r.MaxDelta)
	fmt.Fprintf(w, "max compact\t%d\n", r.MaxCompact)
}

func ratio(n, of int64) string {
	if of == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(n)/float64(of))
}
