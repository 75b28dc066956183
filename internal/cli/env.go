package cli

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/fxd/internal/manager"
	"github.com/roach88/fxd/internal/store"
	"github.com/roach88/fxd/internal/wal"
)

// addLogFlag registers --log, defaulting to the configured path.
func addLogFlag(cmd *cobra.Command, dst *string) {
	cmd.Flags().StringVar(dst, "log", "", "path to the log file (default from config)")
}

func (o *RootOptions) logPath(flag string) string {
	if flag != "" {
		return flag
	}
	return o.Config.Log.Path
}

func (o *RootOptions) walOptions() []wal.Option {
	sync, _ := wal.ParseSyncMode(o.Config.Log.Sync)
	return []wal.Option{
		wal.WithSync(sync),
		wal.WithMaxRecordBytes(o.Config.Log.MaxRecordBytes),
		wal.WithIndexInterval(o.Config.Log.IndexInterval),
	}
}

// openManager opens and recovers the log at path.
func (o *RootOptions) openManager(ctx context.Context, path string, opts ...manager.Option) (*manager.Manager, error) {
	opts = append([]manager.Option{
		manager.WithLogger(o.Logger),
		manager.WithLogOptions(o.walOptions()...),
	}, opts...)
	m, err := manager.Open(ctx, wal.NewFileStorage(path), o.Config.Compaction, opts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeOpen, "failed to open log", err)
	}
	o.Logger.Debug("log ready",
		"path", path,
		"recovered", m.Recovery().Recovered,
		"truncated_bytes", m.Recovery().TruncatedBytes)
	return m, nil
}

// openCursors opens the cursor database at path, or the configured one.
// It returns nil when neither is set.
func (o *RootOptions) openCursors(path string) (*store.Store, error) {
	if path == "" {
		path = o.Config.Cursors.Database
	}
	if path == "" {
		return nil, nil
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeOpen, "failed to open cursor database", err)
	}
	return st, nil
}

// closeQuietly logs a failed Close instead of returning it.
func (o *RootOptions) closeQuietly(what string, close func() error) {
	if err := close(); err != nil {
		o.Logger.Error("error closing "+what, "error", err)
	}
}

// normalizeNode puts node IDs typed at the terminal into NFC.
func normalizeNode(id string) string {
	return norm.NFC.String(id)
}
