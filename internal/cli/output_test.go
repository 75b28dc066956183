package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(EmitResult{Seq: 7, Kind: "value_changed", Node: "a"})
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   EmitResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, uint64(7), resp.Data.Seq)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error(ErrCodeDamaged, "log is damaged", nil)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E101", resp.Error.Code)
	assert.Equal(t, "log is damaged", resp.Error.Message)
}

func TestOutputFormatter_JSONErrorWithDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	details := map[string]int64{"valid_bytes": 120}
	require.NoError(t, formatter.Error(ErrCodeDamaged, "torn tail", details))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	require.NoError(t, formatter.Success(EmitResult{Seq: 42}))
	assert.Equal(t, "42\n", buf.String())
}

type textResult struct{ lines []string }

func (r textResult) WriteText(w io.Writer) error {
	for _, l := range r.lines {
		if _, err := fmt.Fprintln(w, "*", l); err != nil {
			return err
		}
	}
	return nil
}

func TestOutputFormatter_TextUsesWriteText(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success(textResult{lines: []string{"a", "b"}}))
	assert.Equal(t, "* a\n* b\n", buf.String())
}

func TestOutputFormatter_TextErrorGoesToErrWriter(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:    "text",
		Writer:    out,
		ErrWriter: errOut,
	}

	require.NoError(t, formatter.Error(ErrCodeOpen, "failed to open log", nil))
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "Error [E003]")
	assert.Contains(t, errOut.String(), "failed to open log")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	require.NoError(t, formatter.Error(ErrCodeGeneric, "failed", map[string]string{"path": "x.wal"}))
	assert.Contains(t, buf.String(), "Error [E001]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_Report(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"exit error", NewExitError(ExitFailure, ErrCodeCursor, "cursor \"ui\" not found"), "E102"},
		{"wrapped exit error", fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, ErrCodeConfig, "bad", errors.New("x"))), "E002"},
		{"plain error", errors.New("boom"), "E001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: buf}
			require.NoError(t, formatter.Report(tt.err))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Equal(t, tt.err.Error(), resp.Error.Message)
		})
	}
}

func TestExitError(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapExitError(ExitFailure, ErrCodeIO, "emit failed", cause)

	assert.Equal(t, "emit failed: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "compaction failed", NewExitError(ExitFailure, ErrCodeIO, "compaction failed").Error())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, ErrCodeInput, "bad flag")))
	assert.Equal(t, ExitFailure, GetExitCode(fmt.Errorf("wrapped: %w", NewExitError(ExitFailure, ErrCodeDamaged, "damaged"))))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}
