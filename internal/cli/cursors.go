package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fxd/internal/store"
	"github.com/roach88/fxd/internal/wal"
)

// CursorsOptions holds flags shared by the cursors subcommands.
type CursorsOptions struct {
	*RootOptions
	Database string
}

// CursorEntry is one cursor in command output.
type CursorEntry struct {
	Name      string `json:"name"`
	Seq       uint64 `json:"seq"`
	UpdatedAt string `json:"updated_at"`
}

// CursorList is the output of cursors list.
type CursorList struct {
	Cursors []CursorEntry `json:"cursors"`
}

func (r CursorList) WriteText(w io.Writer) error {
	if len(r.Cursors) == 0 {
		_, err := fmt.Fprintln(w, "no cursors")
		return err
	}
	for _, c := range r.Cursors {
		if _, err := fmt.Fprintf(w, "%s\t%d\t%s\n", c.Name, c.Seq, c.UpdatedAt); err != nil {
			return err
		}
	}
	return nil
}

// CommitResult is the output of cursors commit.
type CommitResult struct {
	Name  string `json:"name"`
	Seq   uint64 `json:"seq"`
	Moved bool   `json:"moved"`
}

func (r CommitResult) String() string {
	if !r.Moved {
		return fmt.Sprintf("%s already at or past %d", r.Name, r.Seq)
	}
	return fmt.Sprintf("%s -> %d", r.Name, r.Seq)
}

// NewCursorsCommand creates the cursors command group.
func NewCursorsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CursorsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cursors",
		Short: "Manage durable consumer cursors",
		Long: `List, commit and delete the cursors of out-of-process consumers.

A cursor is the next sequence its consumer needs. Compaction never removes
records at or above the lowest cursor.

Example:
  fxd cursors list --db ./cursors.db
  fxd cursors commit ui 1200 --db ./cursors.db
  fxd cursors delete ui --db ./cursors.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "cursor database (default from config)")

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List cursors by name",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCursorsList(cmd, opts)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "get <name>",
		Short:         "Show one cursor",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCursorsGet(cmd, opts, args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "commit <name> <seq>",
		Short:         "Move a cursor forward",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCursorsCommit(cmd, opts, args[0], args[1])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "delete <name>",
		Short:         "Forget a consumer",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCursorsDelete(cmd, opts, args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "history [log]",
		Short:         "List recorded compactions, optionally for one log",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logName := ""
			if len(args) == 1 {
				logName = args[0]
			}
			return runCursorsHistory(cmd, opts, logName)
		},
	})
	return cmd
}

func (o *CursorsOptions) open() (*store.Store, error) {
	st, err := o.openCursors(o.Database)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, NewExitError(ExitCommandError, ErrCodeInput, "no cursor database: pass --db or set cursors.database")
	}
	return st, nil
}

func runCursorsList(cmd *cobra.Command, opts *CursorsOptions) error {
	st, err := opts.open()
	if err != nil {
		return err
	}
	defer opts.closeQuietly("cursor database", st.Close)

	cursors, err := st.ListCursors(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, ErrCodeIO, "list cursors", err)
	}
	res := CursorList{Cursors: make([]CursorEntry, 0, len(cursors))}
	for _, c := range cursors {
		res.Cursors = append(res.Cursors, cursorEntry(c))
	}
	return opts.formatter(cmd).Success(res)
}

func runCursorsGet(cmd *cobra.Command, opts *CursorsOptions, name string) error {
	st, err := opts.open()
	if err != nil {
		return err
	}
	defer opts.closeQuietly("cursor database", st.Close)

	c, err := st.GetCursor(cmd.Context(), name)
	if errors.Is(err, store.ErrCursorNotFound) {
		return WrapExitError(ExitFailure, ErrCodeCursor, "get cursor", err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, ErrCodeIO, "get cursor", err)
	}
	return opts.formatter(cmd).Success(CursorList{Cursors: []CursorEntry{cursorEntry(c)}})
}

func cursorEntry(c store.Cursor) CursorEntry {
	return CursorEntry{
		Name:      c.Name,
		Seq:       uint64(c.Seq),
		UpdatedAt: c.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func runCursorsCommit(cmd *cobra.Command, opts *CursorsOptions, name, seqArg string) error {
	seq, err := strconv.ParseUint(seqArg, 10, 64)
	if err != nil {
		return WrapExitError(ExitCommandError, ErrCodeInput, "invalid sequence", err)
	}
	st, err := opts.open()
	if err != nil {
		return err
	}
	defer opts.closeQuietly("cursor database", st.Close)

	moved, err := st.CommitCursor(cmd.Context(), name, wal.Cursor(seq))
	if err != nil {
		return WrapExitError(ExitFailure, ErrCodeIO, "commit cursor", err)
	}
	return opts.formatter(cmd).Success(CommitResult{Name: name, Seq: seq, Moved: moved})
}

func runCursorsDelete(cmd *cobra.Command, opts *CursorsOptions, name string) error {
	st, err := opts.open()
	if err != nil {
		return err
	}
	defer opts.closeQuietly("cursor database", st.Close)

	ok, err := st.DeleteCursor(cmd.Context(), name)
	if err != nil {
		return WrapExitError(ExitFailure, ErrCodeIO, "delete cursor", err)
	}
	if !ok {
		return NewExitError(ExitFailure, ErrCodeCursor, fmt.Sprintf("cursor %q not found", name))
	}
	return opts.formatter(cmd).Success(fmt.Sprintf("deleted %s", name))
}

// HistoryEntry is one recorded compaction.
type HistoryEntry struct {
	ID             int64  `json:"id"`
	Log            string `json:"log"`
	KeepFrom       uint64 `json:"keep_from"`
	RemovedRecords uint64 `json:"removed_records"`
	RemovedBytes   int64  `json:"removed_bytes"`
	Duration       string `json:"duration"`
	Archive        string `json:"archive,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// HistoryResult is the output of cursors history.
type HistoryResult struct {
	Compactions []HistoryEntry `json:"compactions"`
}

func (r HistoryResult) WriteText(w io.Writer) error {
	if len(r.Compactions) == 0 {
		_, err := fmt.Fprintln(w, "no compactions")
		return err
	}
	for _, c := range r.Compactions {
		if _, err := fmt.Fprintf(w, "%d\t%s\t%s\tkeep_from=%d\tremoved=%d\tbytes=%d\t%s\n",
			c.ID, c.CreatedAt, c.Log, c.KeepFrom, c.RemovedRecords, c.RemovedBytes, c.Archive); err != nil {
			return err
		}
	}
	return nil
}

func runCursorsHistory(cmd *cobra.Command, opts *CursorsOptions, logName string) error {
	st, err := opts.open()
	if err != nil {
		return err
	}
	defer opts.closeQuietly("cursor database", st.Close)

	list, err := st.ListCompactions(cmd.Context(), logName)
	if err != nil {
		return WrapExitError(ExitFailure, ErrCodeIO, "list compactions", err)
	}
	res := HistoryResult{Compactions: make([]HistoryEntry, 0, len(list))}
	for _, c := range list {
		res.Compactions = append(res.Compactions, HistoryEntry{
			ID:             c.ID,
			Log:            c.LogName,
			KeepFrom:       c.KeepFrom,
			RemovedRecords: c.RemovedRecords,
			RemovedBytes:   c.RemovedBytes,
			Duration:       c.Duration.String(),
			Archive:        c.Archive,
			CreatedAt:      c.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return opts.formatter(cmd).Success(res)
}
