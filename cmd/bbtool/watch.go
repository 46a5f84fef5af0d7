package main

import (
	"context"
	"errors"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"blackbox/pkg/blackbox"
	"blackbox/pkg/engine"
	"blackbox/pkg/tui"
)

func watchCmd(opts *globalOptions) *cobra.Command {
	var src sourceFlags

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show the live snapshot in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := src.apply(&cfg); err != nil {
				return err
			}
			// The terminal belongs to the view; log nothing.
			return watch(cmd.Context(), cfg.Source.Kind, func(ctx context.Context, r *blackbox.Reader, fn func(engine.Record) error) error {
				return pumpSource(ctx, cfg, r, zap.NewNop().Sugar(), fn)
			}, cmd.InOrStdin(), opts.stdout)
		},
	}

	src.register(cmd)

	return cmd
}

type pumpFunc func(ctx context.Context, r *blackbox.Reader, fn func(engine.Record) error) error

func watch(ctx context.Context, title string, pump pumpFunc, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	reader := blackbox.NewReader()
	latest := engine.NewMailbox[engine.Record]()
	model := tui.New(latest.C(), tui.WithTitle("blackbox "+title), tui.WithStats(reader.Stats))
	prog := tea.NewProgram(model,
		tea.WithContext(gctx),
		tea.WithInput(in),
		tea.WithOutput(out),
		tea.WithAltScreen(),
	)

	g.Go(func() error {
		// Only the newest record matters to the view.
		return pump(gctx, reader, func(rec engine.Record) error {
			latest.Put(rec)
			return nil
		})
	})
	g.Go(func() error {
		defer cancel()
		if _, err := prog.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return err
		}
		return nil
	})
	return g.Wait()
}
