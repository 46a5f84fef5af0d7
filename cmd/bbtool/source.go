package main

import (
	"github.com/spf13/cobra"

	"blackbox/pkg/config"
)

// sourceFlags override the [source] section.
type sourceFlags struct {
	kind   string
	addr   string
	device string
	baud   int
	path   string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kind, "source", "", "source kind: tcp, serial or file")
	cmd.Flags().StringVar(&f.addr, "addr", "", "tcp source address")
	cmd.Flags().StringVar(&f.device, "device", "", "serial source device")
	cmd.Flags().IntVar(&f.baud, "baud", 0, "serial source baud rate")
	cmd.Flags().StringVar(&f.path, "path", "", "file source path")
}

func (f *sourceFlags) apply(cfg *config.Config) error {
	if f.kind != "" {
		cfg.Source.Kind = f.kind
	}
	if f.addr != "" {
		cfg.Source.Addr = f.addr
	}
	if f.device != "" {
		cfg.Source.Device = f.device
	}
	if f.baud > 0 {
		cfg.Source.Baud = f.baud
	}
	if f.path != "" {
		cfg.Source.Path = f.path
	}
	return cfg.Validate()
}
