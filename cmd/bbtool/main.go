// Command bbtool decodes, serves and inspects black-box recordings.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

type globalOptions struct {
	configPath string
	logLevel   string
	stdout     io.Writer
	stderr     io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "bbtool",
		Short: "Flight recorder black-box tooling",
		Long: `bbtool reads delta-encoded black-box streams.

It decodes recordings to JSONL, serves a live stream to Foxglove Studio and
Prometheus, shows it in the terminal, and reports how well it compresses. It
also publishes the snapshot layout as a C header for firmware.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "blackbox.toml", "configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level")

	root.AddCommand(
		decodeCmd(opts),
		serveCmd(opts),
		watchCmd(opts),
		statsCmd(opts),
		layoutCmd(opts),
		initCmd(opts),
	)
	return root
}
