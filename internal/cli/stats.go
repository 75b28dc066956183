package cli

import (
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/fxd/internal/wal"
)

// StatsOptions holds flags for the stats command.
type StatsOptions struct {
	*RootOptions
	Log string
}

// StatsResult is the output of the stats command.
type StatsResult struct {
	Path           string `json:"path"`
	State          string `json:"state"`
	RecordCount    uint64 `json:"record_count"`
	ByteSize       int64  `json:"byte_size"`
	FirstSeq       uint64 `json:"first_seq"`
	LastSeq        uint64 `json:"last_seq"`
	NextSeq        uint64 `json:"next_seq"`
	FromCheckpoint bool   `json:"from_checkpoint"`
	TruncatedBytes int64  `json:"truncated_bytes"`
}

// WriteText renders counts with thousands separators.
func (r StatsResult) WriteText(w io.Writer) error {
	p := message.NewPrinter(language.English)
	_, err := p.Fprintf(w,
		"log:        %s\nstate:      %s\nrecords:    %d\nbytes:      %d\nfirst seq:  %d\nlast seq:   %d\nnext seq:   %d\ntruncated:  %d bytes\n",
		r.Path, r.State, r.RecordCount, r.ByteSize, r.FirstSeq, r.LastSeq, r.NextSeq, r.TruncatedBytes)
	return err
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Recover a log and print its statistics",
		Long: `Open the log, run crash recovery, and print record and byte counts.

Recovery truncates a damaged tail, so stats on a log with a torn final
record reports the log as it will be used from now on.

Example:
  fxd stats --log ./events.wal
  fxd stats --log ./events.wal --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, opts)
		},
	}
	addLogFlag(cmd, &opts.Log)
	return cmd
}

func runStats(cmd *cobra.Command, opts *StatsOptions) error {
	path := opts.logPath(opts.Log)
	m, err := opts.openManager(cmd.Context(), path)
	if err != nil {
		return err
	}
	defer opts.closeQuietly("log", m.Close)

	return opts.formatter(cmd).Success(statsResult(path, m.Log().Stats(), m.Recovery()))
}

func statsResult(path string, st wal.Stats, rep wal.RecoveryReport) StatsResult {
	return StatsResult{
		Path:           path,
		State:          st.State.String(),
		RecordCount:    st.RecordCount,
		ByteSize:       st.ByteSize,
		FirstSeq:       st.FirstSeq,
		LastSeq:        st.LastSeq,
		NextSeq:        st.NextSeq,
		FromCheckpoint: rep.FromCheckpoint,
		TruncatedBytes: rep.TruncatedBytes,
	}
}
