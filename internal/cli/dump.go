package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fxd/internal/signal"
	"github.com/roach88/fxd/internal/value"
	"github.com/roach88/fxd/internal/wal"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Log   string
	From  uint64
	Kind  string
	Node  string
	Limit int
}

// DumpEntry is one signal in dump output.
type DumpEntry struct {
	Seq   uint64 `json:"seq"`
	Time  string `json:"time"`
	Kind  string `json:"kind"`
	Node  string `json:"node"`
	Value string `json:"value"`
}

// DumpResult is the output of the dump command.
type DumpResult struct {
	Signals []DumpEntry `json:"signals"`
}

// WriteText prints one tab-separated line per signal.
func (r DumpResult) WriteText(w io.Writer) error {
	for _, e := range r.Signals {
		if _, err := fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", e.Seq, e.Time, e.Kind, e.Node, e.Value); err != nil {
			return err
		}
	}
	return nil
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "List signals from a log",
		Long: `List the signals in a log in sequence order.

Each text line is: seq, timestamp, kind, node, value (tab separated).

Example:
  fxd dump --log ./events.wal
  fxd dump --log ./events.wal --from 1000 --kind value_changed --node root/a
  fxd dump --log ./events.wal --limit 20 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd, opts)
		},
	}
	addLogFlag(cmd, &opts.Log)
	cmd.Flags().Uint64Var(&opts.From, "from", 1, "first sequence to list")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only this kind (value_changed, child_added, child_removed, metadata_changed, custom:<tag>)")
	cmd.Flags().StringVar(&opts.Node, "node", "", "only this node")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "stop after this many signals (0 = all)")
	return cmd
}

func (o *DumpOptions) filter() (signal.Filter, error) {
	f := signal.MatchAll()
	if o.Kind != "" {
		k, err := signal.ParseKind(o.Kind)
		if err != nil {
			return f, WrapExitError(ExitCommandError, ErrCodeInput, "invalid --kind", err)
		}
		f = f.AndKind(k)
	}
	if o.Node != "" {
		f = f.AndNode(normalizeNode(o.Node))
	}
	return f, nil
}

func runDump(cmd *cobra.Command, opts *DumpOptions) error {
	filter, err := opts.filter()
	if err != nil {
		return err
	}
	m, err := opts.openManager(cmd.Context(), opts.logPath(opts.Log))
	if err != nil {
		return err
	}
	defer opts.closeQuietly("log", m.Close)

	res, err := dumpSignals(signal.New(m.Log(), signal.WithLogger(opts.Logger)), wal.Cursor(opts.From), filter, opts.Limit)
	if err != nil {
		return err
	}
	return opts.formatter(cmd).Success(res)
}

func dumpSignals(bus *signal.Bus, from wal.Cursor, filter signal.Filter, limit int) (DumpResult, error) {
	res := DumpResult{Signals: []DumpEntry{}}
	for sig, err := range bus.Replay(from, filter) {
		if err != nil {
			code := ErrCodeIO
			if wal.IsCorruption(err) || wal.IsSequenceError(err) {
				code = ErrCodeDamaged
			}
			return res, WrapExitError(ExitFailure, code, fmt.Sprintf("read failed after %d signals", len(res.Signals)), err)
		}
		res.Signals = append(res.Signals, DumpEntry{
			Seq:   sig.Seq,
			Time:  sig.Timestamp.Format(time.RFC3339Nano),
			Kind:  sig.Kind.String(),
			Node:  sig.NodeID,
			Value: value.Format(sig.Value),
		})
		if limit > 0 && len(res.Signals) >= limit {
			break
		}
	}
	return res, nil
}
