package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fxd/internal/signal"
	"github.com/roach88/fxd/internal/testutil"
	"github.com/roach88/fxd/internal/value"
	"github.com/roach88/fxd/internal/wal"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return executeContext(context.Background(), t, args...)
}

func executeContext(ctx context.Context, t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func exitErrCode(err error) string {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ErrCode
	}
	return ""
}

func jsonData[T any](t *testing.T, out string) T {
	t.Helper()
	var resp struct {
		Status string `json:"status"`
		Data   T      `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

// writeFixtureLog writes five signals with timestamps from a
// DeterministicClock.
func writeFixtureLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.wal")
	log, err := wal.Open(wal.NewFileStorage(path))
	require.NoError(t, err)
	_, err = log.Recover(context.Background())
	require.NoError(t, err)

	bus := signal.New(log, signal.WithClock(testutil.NewDeterministicClock()))
	ctx := context.Background()
	emits := []struct {
		kind signal.Kind
		node string
		v    value.Value
	}{
		{signal.ValueChanged, "root/a", value.Int(42)},
		{signal.ChildAdded, "root", value.NodeRef("root/b")},
		{signal.Custom("resize"), "win", value.Obj(value.M("w", value.Int(640)), value.M("h", value.Int(480)))},
		{signal.MetadataChanged, "root/a", value.Obj(value.M("label", value.String("hello")), value.M("scale", value.Float(1.5)))},
		{signal.ChildRemoved, "root", value.NodeRef("root/b")},
	}
	for _, e := range emits {
		_, err := bus.Emit(ctx, e.kind, e.node, e.v)
		require.NoError(t, err)
	}
	require.NoError(t, log.Close())
	return path
}

func TestDump_TextGolden(t *testing.T) {
	path := writeFixtureLog(t)

	out, _, err := execute(t, "dump", "--log", path)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "dump_text", []byte(out))
}

func TestDump_Filters(t *testing.T) {
	path := writeFixtureLog(t)

	out, _, err := execute(t, "--format", "json", "dump", "--log", path, "--node", "root/a")
	require.NoError(t, err)
	res := jsonData[DumpResult](t, out)
	require.Len(t, res.Signals, 2)
	assert.Equal(t, "value_changed", res.Signals[0].Kind)
	assert.Equal(t, "metadata_changed", res.Signals[1].Kind)

	out, _, err = execute(t, "--format", "json", "dump", "--log", path, "--kind", "custom:resize")
	require.NoError(t, err)
	res = jsonData[DumpResult](t, out)
	require.Len(t, res.Signals, 1)
	assert.Equal(t, uint64(3), res.Signals[0].Seq)

	out, _, err = execute(t, "--format", "json", "dump", "--log", path, "--from", "2", "--limit", "2")
	require.NoError(t, err)
	res = jsonData[DumpResult](t, out)
	require.Len(t, res.Signals, 2)
	assert.Equal(t, uint64(2), res.Signals[0].Seq)
	assert.Equal(t, uint64(3), res.Signals[1].Seq)
}

func TestDump_InvalidKind(t *testing.T) {
	path := writeFixtureLog(t)
	_, _, err := execute(t, "dump", "--log", path, "--kind", "exploded")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, ErrCodeInput, exitErrCode(err))
}

func TestEmit_ThenDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.wal")

	out, _, err := execute(t, "emit", "--log", path, "--kind", "value_changed", "--node", "root/a", "--value", "42")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	out, _, err = execute(t, "emit", "--log", path, "--kind", "child_added", "--node", "root", "--value", `{"$ref": "root/b"}`)
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	out, _, err = execute(t, "--format", "json", "emit", "--log", path, "--kind", "custom:resize", "--node", "win", "--value", "{w: 640, h: 480}")
	require.NoError(t, err)
	assert.Equal(t, EmitResult{Seq: 3, Kind: "custom:resize", Node: "win"}, jsonData[EmitResult](t, out))

	out, _, err = execute(t, "--format", "json", "dump", "--log", path)
	require.NoError(t, err)
	res := jsonData[DumpResult](t, out)
	require.Len(t, res.Signals, 3)
	assert.Equal(t, "42", res.Signals[0].Value)
	assert.Equal(t, `@ref("root/b")`, res.Signals[1].Value)
	assert.Equal(t, `{"w":640,"h":480}`, res.Signals[2].Value)
}

func TestEmit_NormalizesNode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.wal")

	_, _, err := execute(t, "emit", "--log", path, "--kind", "value_changed", "--node", "cafe\u0301")
	require.NoError(t, err)

	out, _, err := execute(t, "--format", "json", "dump", "--log", path, "--node", "caf\u00e9")
	require.NoError(t, err)
	res := jsonData[DumpResult](t, out)
	require.Len(t, res.Signals, 1)
	assert.Equal(t, "caf\u00e9", res.Signals[0].Node)
}

func TestEmit_InputErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.wal")
	tests := []struct {
		name string
		args []string
	}{
		{"bad kind", []string{"--kind", "custom:", "--node", "a"}},
		{"bad value", []string{"--kind", "value_changed", "--node", "a", "--value", "{x: int}"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, append([]string{"emit", "--log", path}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Equal(t, ErrCodeInput, exitErrCode(err))
		})
	}
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "invalid input must not create the log")
}

func TestStats(t *testing.T) {
	path := writeFixtureLog(t)

	out, _, err := execute(t, "stats", "--log", path)
	require.NoError(t, err)
	assert.Contains(t, out, "state:      ready")
	assert.Contains(t, out, "records:    5")
	assert.Contains(t, out, "next seq:   6")

	out, _, err = execute(t, "--format", "json", "stats", "--log", path)
	require.NoError(t, err)
	res := jsonData[StatsResult](t, out)
	assert.Equal(t, uint64(5), res.RecordCount)
	assert.Equal(t, uint64(1), res.FirstSeq)
	assert.Equal(t, uint64(5), res.LastSeq)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, fi.Size(), res.ByteSize)
}

func TestVerify(t *testing.T) {
	path := writeFixtureLog(t)

	out, _, err := execute(t, "--format", "json", "verify", "--log", path)
	require.NoError(t, err)
	res := jsonData[VerifyResult](t, out)
	assert.True(t, res.Healthy)
	assert.Equal(t, uint64(5), res.Records)
	assert.Equal(t, int64(0), res.TailBytes)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte("torn"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	out, _, err = execute(t, "verify", "--log", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, ErrCodeDamaged, exitErrCode(err))
	assert.Contains(t, out, "damaged")
	assert.Contains(t, out, "tail bytes: 4")

	// Verify never repairs.
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, res.ValidBytes+4, fi.Size())
}

func TestVerify_MissingFile(t *testing.T) {
	_, _, err := execute(t, "verify", "--log", filepath.Join(t.TempDir(), "nope.wal"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, ErrCodeOpen, exitErrCode(err))
}

func TestCompact_Retain(t *testing.T) {
	path := writeFixtureLog(t)

	out, _, err := execute(t, "--format", "json", "compact", "--log", path, "--retain", "2")
	require.NoError(t, err)
	res := jsonData[CompactResult](t, out)
	assert.Equal(t, uint64(4), res.KeepFrom)
	assert.Equal(t, "retain", res.Limit)
	assert.Equal(t, uint64(3), res.RemovedRecords)
	assert.Equal(t, uint64(2), res.RecordCount)

	out, _, err = execute(t, "--format", "json", "dump", "--log", path)
	require.NoError(t, err)
	signals := jsonData[DumpResult](t, out).Signals
	require.Len(t, signals, 2)
	assert.Equal(t, uint64(4), signals[0].Seq)
}

func TestCompact_HonorsCursorsAndRecordsHistory(t *testing.T) {
	path := writeFixtureLog(t)
	db := filepath.Join(t.TempDir(), "cursors.db")
	archive := filepath.Join(t.TempDir(), "archive")

	_, _, err := execute(t, "cursors", "commit", "ui", "2", "--db", db)
	require.NoError(t, err)

	out, _, err := execute(t, "compact", "--log", path, "--cursors", db, "--retain", "0", "--archive", archive)
	require.NoError(t, err)
	assert.Contains(t, out, "kept from seq 2 (limited by cursors): removed 1 records")

	out, _, err = execute(t, "--format", "json", "cursors", "history", "--db", db)
	require.NoError(t, err)
	hist := jsonData[HistoryResult](t, out)
	require.Len(t, hist.Compactions, 1)
	assert.Equal(t, path, hist.Compactions[0].Log)
	assert.Equal(t, uint64(2), hist.Compactions[0].KeepFrom)
	assert.Equal(t, uint64(1), hist.Compactions[0].RemovedRecords)
	assert.Equal(t, wal.ArchiveName(1, 1), hist.Compactions[0].Archive)

	_, err = os.Stat(filepath.Join(archive, wal.ArchiveName(1, 1)))
	assert.NoError(t, err)
}

func TestCursors(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cursors.db")

	out, _, err := execute(t, "cursors", "list", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "no cursors\n", out)

	out, _, err = execute(t, "cursors", "commit", "ui", "5", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "ui -> 5\n", out)

	out, _, err = execute(t, "cursors", "commit", "ui", "3", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "ui already at or past 3\n", out)

	_, _, err = execute(t, "cursors", "commit", "persist", "9", "--db", db)
	require.NoError(t, err)

	out, _, err = execute(t, "--format", "json", "cursors", "list", "--db", db)
	require.NoError(t, err)
	list := jsonData[CursorList](t, out)
	require.Len(t, list.Cursors, 2)
	assert.Equal(t, "persist", list.Cursors[0].Name)
	assert.Equal(t, "ui", list.Cursors[1].Name)
	assert.Equal(t, uint64(5), list.Cursors[1].Seq)

	out, _, err = execute(t, "--format", "json", "cursors", "get", "ui", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), jsonData[CursorList](t, out).Cursors[0].Seq)

	_, _, err = execute(t, "cursors", "delete", "ui", "--db", db)
	require.NoError(t, err)

	_, _, err = execute(t, "cursors", "delete", "ui", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, ErrCodeCursor, exitErrCode(err))

	_, _, err = execute(t, "cursors", "get", "ui", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ErrCodeCursor, exitErrCode(err))
}

func TestCursors_Errors(t *testing.T) {
	_, _, err := execute(t, "cursors", "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	db := filepath.Join(t.TempDir(), "cursors.db")
	_, _, err = execute(t, "cursors", "commit", "ui", "soon", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ErrCodeInput, exitErrCode(err))
}

func TestRun_StopsOnCancel(t *testing.T) {
	path := writeFixtureLog(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	out, _, err := executeContext(ctx, t, "run", "--log", path, "--addr", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Contains(t, out, "Serving "+path+" (next seq 6).")
}

func TestRun_InvalidLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wal")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a log file header"), 0o644))

	_, _, err := execute(t, "run", "--log", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, ErrCodeOpen, exitErrCode(err))
}
