package convert

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-subband-ingest/internal/model"
)

// writeTool drops an executable shell script acting as the conversion tool.
func writeTool(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "convert.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func TestCommandSuccess(t *testing.T) {
	out := filepath.Join(t.TempDir(), "group.ms")
	tool := writeTool(t, `echo "$@" > "$1"`)

	err := Command{Tool: tool}.Convert(context.Background(),
		[]string{"/in/a.hdf5", "/in/b.hdf5"}, out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "/in/a.hdf5 /in/b.hdf5",
		"members passed after the output path")
}

func TestCommandTempFailIsTransient(t *testing.T) {
	tool := writeTool(t, `echo "scratch full" >&2; exit 75`)

	err := Command{Tool: tool}.Convert(context.Background(), []string{"/in/a"}, "/out/x")
	require.Error(t, err)
	assert.True(t, model.RetryableConversion(err))
	assert.Contains(t, err.Error(), "scratch full")
}

func TestCommandHardExitIsFatal(t *testing.T) {
	tool := writeTool(t, `echo "corrupt subband" >&2; exit 2`)

	err := Command{Tool: tool}.Convert(context.Background(), []string{"/in/a"}, "/out/x")
	require.Error(t, err)
	assert.False(t, model.RetryableConversion(err))
	assert.Contains(t, err.Error(), "corrupt subband")
}

func TestCommandTimeoutIsTransient(t *testing.T) {
	tool := writeTool(t, `sleep 10`)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := Command{Tool: tool}.Convert(ctx, []string{"/in/a"}, "/out/x")
	require.Error(t, err)
	assert.True(t, model.RetryableConversion(err), "a timeout deserves another try")
}

func TestCommandMissingToolIsFatal(t *testing.T) {
	err := Command{Tool: "/no/such/tool"}.Convert(context.Background(), []string{"/in/a"}, "/out/x")
	require.Error(t, err)
	assert.False(t, model.RetryableConversion(err))
}
