package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/fxd/internal/manager"
	"github.com/roach88/fxd/internal/metrics"
	"github.com/roach88/fxd/internal/server"
	"github.com/roach88/fxd/internal/signal"
	"github.com/roach88/fxd/internal/wal"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Log     string
	Cursors string
	Addr    string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve a log until interrupted",
		Long: `Open and recover the log, then keep it compacted and checkpointed
until SIGINT or SIGTERM.

With --addr (or server.addr) the process also serves HTTP: emitting and
listing signals, stats, health and Prometheus metrics.

Example:
  fxd run --log ./events.wal --cursors ./cursors.db
  fxd run --config ./fxd.yaml --addr 127.0.0.1:9400`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	addLogFlag(cmd, &opts.Log)
	cmd.Flags().StringVar(&opts.Cursors, "cursors", "", "cursor database (default from config)")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "HTTP listen address (default from config)")
	return cmd
}

func runServe(cmd *cobra.Command, opts *RunOptions) error {
	addr := opts.Addr
	if addr == "" {
		addr = opts.Config.Server.Addr
	}
	met := metrics.New()

	cursors, err := opts.openCursors(opts.Cursors)
	if err != nil {
		return err
	}
	mopts := []manager.Option{manager.WithLogOptions(wal.WithMetrics(met))}
	if cursors != nil {
		defer opts.closeQuietly("cursor database", cursors.Close)
		mopts = append(mopts, manager.WithHistory(cursors))
	}

	path := opts.logPath(opts.Log)
	m, err := opts.openManager(cmd.Context(), path, mopts...)
	if err != nil {
		return err
	}
	defer opts.closeQuietly("log", m.Close)

	bus := signal.New(m.Log(),
		signal.WithLogger(opts.Logger),
		signal.WithMetrics(met),
		signal.WithTailBuffer(opts.Config.Bus.TailBuffer))
	m.AddWatermark("bus", bus)
	if cursors != nil {
		m.AddWatermark("cursors", cursors)
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer ossignal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			opts.Logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Run(gctx) })
	if addr != "" {
		srv := server.New(m.Log(), bus,
			server.WithLogger(opts.Logger),
			server.WithMetrics(met.Handler()),
			server.WithShutdownTimeout(opts.Config.Server.ShutdownTimeout))
		g.Go(func() error { return srv.ListenAndServe(gctx, addr) })
	}

	opts.Logger.Info("fxd running", "log", path, "next_seq", m.NextSeq(), "addr", addr)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s (next seq %d).\n", path, m.NextSeq())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, ErrCodeIO, "fxd stopped", err)
	}
	opts.Logger.Info("fxd stopped gracefully")
	return nil
}
