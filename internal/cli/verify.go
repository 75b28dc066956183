package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/fxd/internal/wal"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Log string
}

// VerifyResult is the output of the verify command.
type VerifyResult struct {
	Path       string `json:"path"`
	Healthy    bool   `json:"healthy"`
	Records    uint64 `json:"records"`
	FirstSeq   uint64 `json:"first_seq"`
	LastSeq    uint64 `json:"last_seq"`
	ValidBytes int64  `json:"valid_bytes"`
	TailBytes  int64  `json:"tail_bytes"`
	Problem    string `json:"problem,omitempty"`
	Fatal      bool   `json:"fatal"`
}

func (r VerifyResult) WriteText(w io.Writer) error {
	status := "ok"
	if !r.Healthy {
		status = "damaged"
	}
	_, err := fmt.Fprintf(w, "%s: %s\nrecords: %d (seq %d..%d)\nvalid bytes: %d\ntail bytes: %d\n",
		r.Path, status, r.Records, r.FirstSeq, r.LastSeq, r.ValidBytes, r.TailBytes)
	if err == nil && r.Problem != "" {
		_, err = fmt.Fprintf(w, "problem: %s\n", r.Problem)
	}
	return err
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a log's integrity without modifying it",
		Long: `Scan every frame of a log and report where valid data ends.

Unlike stats, verify opens the file read-only and never truncates. It
exits with status 1 when the log has a damaged tail or header.

Example:
  fxd verify --log ./events.wal`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, opts)
		},
	}
	addLogFlag(cmd, &opts.Log)
	return cmd
}

func runVerify(cmd *cobra.Command, opts *VerifyOptions) error {
	path := opts.logPath(opts.Log)
	f, err := os.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, ErrCodeOpen, "failed to open log", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return WrapExitError(ExitCommandError, ErrCodeIO, "failed to stat log", err)
	}

	rep, err := wal.Verify(f, info.Size())
	if err != nil {
		return WrapExitError(ExitCommandError, ErrCodeIO, "verify failed", err)
	}
	res := VerifyResult{
		Path:       path,
		Healthy:    rep.Healthy(),
		Records:    rep.Records,
		FirstSeq:   rep.FirstSeq,
		LastSeq:    rep.LastSeq,
		ValidBytes: rep.ValidBytes,
		TailBytes:  rep.TailBytes,
		Problem:    rep.Problem,
		Fatal:      rep.Fatal,
	}
	if err := opts.formatter(cmd).Success(res); err != nil {
		return err
	}
	if !res.Healthy {
		return NewExitError(ExitFailure, ErrCodeDamaged, fmt.Sprintf("%s is damaged", path))
	}
	return nil
}
