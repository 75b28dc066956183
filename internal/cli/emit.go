package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fxd/internal/literal"
	"github.com/roach88/fxd/internal/signal"
)

// EmitOptions holds flags for the emit command.
type EmitOptions struct {
	*RootOptions
	Log   string
	Kind  string
	Node  string
	Value string
}

// EmitResult is the output of the emit command.
type EmitResult struct {
	Seq  uint64 `json:"seq"`
	Kind string `json:"kind"`
	Node string `json:"node"`
}

func (r EmitResult) String() string {
	return fmt.Sprintf("%d", r.Seq)
}

// NewEmitCommand creates the emit command.
func NewEmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Append one signal to a log",
		Long: `Append a signal and print its sequence number.

The value is a CUE expression. Objects keep their field order, and
{"$ref": "path"} is a node reference.

Example:
  fxd emit --log ./events.wal --kind value_changed --node root/a --value 42
  fxd emit --log ./events.wal --kind custom:resize --node win --value '{w: 640, h: 480}'
  fxd emit --log ./events.wal --kind child_added --node root --value '{"$ref": "root/b"}'`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmit(cmd, opts)
		},
	}
	addLogFlag(cmd, &opts.Log)
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "signal kind (required)")
	cmd.Flags().StringVar(&opts.Node, "node", "", "source node ID (required)")
	cmd.Flags().StringVar(&opts.Value, "value", "null", "value as a CUE expression")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("node")
	return cmd
}

func runEmit(cmd *cobra.Command, opts *EmitOptions) error {
	kind, err := signal.ParseKind(opts.Kind)
	if err != nil {
		return WrapExitError(ExitCommandError, ErrCodeInput, "invalid --kind", err)
	}
	v, err := literal.Parse(opts.Value)
	if err != nil {
		return WrapExitError(ExitCommandError, ErrCodeInput, "invalid --value", err)
	}
	node := normalizeNode(opts.Node)

	m, err := opts.openManager(cmd.Context(), opts.logPath(opts.Log))
	if err != nil {
		return err
	}
	defer opts.closeQuietly("log", m.Close)

	bus := signal.New(m.Log(), signal.WithLogger(opts.Logger))
	seq, err := bus.Emit(cmd.Context(), kind, node, v)
	if err != nil {
		return WrapExitError(ExitFailure, ErrCodeIO, "emit failed", err)
	}
	opts.Logger.Debug("emitted", "seq", seq, "kind", kind.String(), "node", node)
	return opts.formatter(cmd).Success(EmitResult{Seq: seq, Kind: kind.String(), Node: node})
}
