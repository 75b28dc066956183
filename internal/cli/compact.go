package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fxd/internal/manager"
)

// CompactOptions holds flags for the compact command.
type CompactOptions struct {
	*RootOptions
	Log     string
	Cursors string
	Retain  int64
	Archive string
}

// CompactResult is the output of the compact command.
type CompactResult struct {
	KeepFrom       uint64 `json:"keep_from"`
	Limit          string `json:"limit"`
	RemovedRecords uint64 `json:"removed_records"`
	RemovedBytes   int64  `json:"removed_bytes"`
	RecordCount    uint64 `json:"record_count"`
}

func (r CompactResult) String() string {
	return fmt.Sprintf("kept from seq %d (limited by %s): removed %d records, %d bytes; %d remain",
		r.KeepFrom, r.Limit, r.RemovedRecords, r.RemovedBytes, r.RecordCount)
}

// NewCompactCommand creates the compact command.
func NewCompactCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompactOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Drop records no consumer still needs",
		Long: `Compact the log now, ignoring size thresholds.

Records are kept from the lowest committed cursor in the cursor database
or from the last --retain records, whichever is older. The compaction is
recorded in the cursor database.

Example:
  fxd compact --log ./events.wal --cursors ./cursors.db
  fxd compact --log ./events.wal --retain 10000 --archive ./archive`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompact(cmd, opts)
		},
	}
	addLogFlag(cmd, &opts.Log)
	cmd.Flags().StringVar(&opts.Cursors, "cursors", "", "cursor database (default from config)")
	cmd.Flags().Int64Var(&opts.Retain, "retain", -1, "always keep this many newest records (default from config)")
	cmd.Flags().StringVar(&opts.Archive, "archive", "", "archive removed records to this directory")
	return cmd
}

func runCompact(cmd *cobra.Command, opts *CompactOptions) error {
	if opts.Retain >= 0 {
		opts.Config.Compaction.RetainRecords = uint64(opts.Retain)
	}
	if opts.Archive != "" {
		opts.Config.Compaction.ArchiveDir = opts.Archive
	}

	cursors, err := opts.openCursors(opts.Cursors)
	if err != nil {
		return err
	}
	var mopts []manager.Option
	if cursors != nil {
		defer opts.closeQuietly("cursor database", cursors.Close)
		mopts = append(mopts, manager.WithHistory(cursors))
	}

	m, err := opts.openManager(cmd.Context(), opts.logPath(opts.Log), mopts...)
	if err != nil {
		return err
	}
	defer opts.closeQuietly("log", m.Close)
	if cursors != nil {
		m.AddWatermark("cursors", cursors)
	}

	plan, err := m.Plan(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, ErrCodeIO, "plan failed", err)
	}
	res, err := m.Compact(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, ErrCodeIO, "compaction failed", err)
	}
	return opts.formatter(cmd).Success(CompactResult{
		KeepFrom:       res.KeepFrom,
		Limit:          plan.Limit,
		RemovedRecords: res.RemovedRecords,
		RemovedBytes:   res.RemovedBytes,
		RecordCount:    m.Log().Stats().RecordCount,
	})
}
