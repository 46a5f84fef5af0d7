package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"blackbox/pkg/config"
	"blackbox/pkg/snapshot"
)

func initCmd(opts *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(opts.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", opts.configPath)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			cfg := config.Default()
			if err := cfg.Save(opts.configPath); err != nil {
				return err
			}
			fmt.Fprintf(opts.stdout, "wrote %s\n", opts.configPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	return cmd
}

func layoutCmd(opts *globalOptions) *cobra.Command {
	var header bool

	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Print the snapshot wire layout",
		Long: `Layout prints the field table of the fixed-size snapshot. With --c-header it
emits a packed C struct that firmware can fill and hand to the recorder.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if header {
				return writeCHeader(opts.stdout)
			}
			tw := tabwriter.NewWriter(opts.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "offset\tsize\ttype\tname")
			for _, f := range snapshot.Layout() {
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", f.Offset, f.Size, f.CType, f.Name)
			}
			fmt.Fprintf(tw, "\t%d\t\ttotal\n", snapshot.Size)
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&header, "c-header", false, "emit a C header instead of a table")

	return cmd
}

func writeCHeader(w io.Writer) error {
	var b strings.Builder
	b.WriteString("/* Generated by bbtool layout --c-header. Do not edit. */\n")
	b.WriteString("#ifndef BLACKBOX_SNAPSHOT_H\n#define BLACKBOX_SNAPSHOT_H\n\n#include <stdint.h>\n\n")
	fmt.Fprintf(&b, "#define BLACKBOX_SNAPSHOT_SIZE %d\n\n", snapshot.Size)
	b.WriteString("typedef struct __attribute__((packed)) {\n")
	for _, f := range snapshot.Layout() {
		fmt.Fprintf(&b, "    %-9s %s; /* offset %d */\n", f.CType, f.Name, f.Offset)
	}
	b.WriteString("} blackbox_snapshot_t;\n\n")
	b.WriteString("_Static_assert(sizeof(blackbox_snapshot_t) == BLACKBOX_SNAPSHOT_SIZE, \"snapshot layout\");\n\n")
	b.WriteString("#endif\n")
	_, err := io.WriteString(w, b.String())
	return err
}
