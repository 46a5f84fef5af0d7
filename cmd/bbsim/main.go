// Command bbsim records a synthetic flight as a black-box stream.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"

	"blackbox/pkg/config"
	"blackbox/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	configPath string
	logLevel   string
	sink       string
	addr       string
	device     string
	baud       int
	path       string
	rate       int
	retries    int
	duration   time.Duration
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(clock.New())
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

func newRootCmd(clk clock.Clock) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "bbsim",
		Short: "Record a synthetic flight to a black-box sink",
		Long: `bbsim flies a simulated quad and records its state every cycle through the
delta recorder, into a TCP stream, a serial port or a rotating log file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			log, err := logger.New("bbsim", cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx := cmd.Context()
			if opts.duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = clk.WithTimeout(ctx, opts.duration)
				defer cancel()
			}
			return newSimulator(cfg, clk, log).Run(ctx)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", config.DefaultConfigPath, "configuration file")
	f.StringVar(&opts.logLevel, "log-level", "", "override log.level")
	f.StringVar(&opts.sink, "sink", "", "sink kind: tcp, serial or file")
	f.StringVar(&opts.addr, "addr", "", "tcp listen address")
	f.StringVar(&opts.device, "device", "", "serial device")
	f.IntVar(&opts.baud, "baud", 0, "serial baud rate")
	f.StringVar(&opts.path, "path", "", "recording file path")
	f.IntVar(&opts.rate, "rate", 0, "samples per second")
	f.IntVar(&opts.retries, "write-retries", -1, "extra attempts after a zero-byte write")
	f.DurationVar(&opts.duration, "duration", 0, "stop after this long (0 runs until interrupted)")

	return cmd
}

func (o *options) load() (config.Config, error) {
	cfg, _, err := config.LoadOrDefault(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.sink != "" {
		cfg.Sink.Kind = o.sink
	}
	if o.addr != "" {
		cfg.Sink.Addr = o.addr
	}
	if o.device != "" {
		cfg.Sink.Device = o.device
	}
	if o.baud > 0 {
		cfg.Sink.Baud = o.baud
	}
	if o.path != "" {
		cfg.Sink.Path = o.path
	}
	if o.rate > 0 {
		cfg.Recorder.RateHz = o.rate
	}
	if o.retries >= 0 {
		cfg.Recorder.WriteRetries = o.retries
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
