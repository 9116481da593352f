package acquire_test

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/hbomb79/immich-relay/internal/acquire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipWithoutShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func Test_ExecTool_ReportsExitCodeAndStderr(t *testing.T) {
	skipWithoutShell(t)
	tool := acquire.NewExecTool("sh", "sh", time.Second*5)

	inv, err := tool.Invoke(context.Background(), []string{"-c", "echo 'ERROR: No video formats found!' >&2; exit 3"})
	require.NoError(t, err)
	assert.Equal(t, 3, inv.ExitCode)
	assert.Contains(t, inv.Stderr, "No video formats found")
}

func Test_ExecTool_Success(t *testing.T) {
	skipWithoutShell(t)
	tool := acquire.NewExecTool("sh", "sh", 0)

	inv, err := tool.Invoke(context.Background(), []string{"-c", "echo done"})
	require.NoError(t, err)
	assert.Equal(t, 0, inv.ExitCode)
	assert.Equal(t, "done\n", inv.Stdout)
}

func Test_ExecTool_Timeout(t *testing.T) {
	skipWithoutShell(t)
	tool := acquire.NewExecTool("sh", "sh", time.Millisecond*100)

	_, err := tool.Invoke(context.Background(), []string{"-c", "exec sleep 5"})
	assert.ErrorIs(t, err, acquire.ErrToolTimeout)
}

func Test_ExecTool_Unavailable(t *testing.T) {
	tool := acquire.NewExecTool("missing", "/definitely/not/a/real/binary", time.Second)

	_, err := tool.Invoke(context.Background(), []string{"--version"})
	assert.ErrorIs(t, err, acquire.ErrToolUnavailable)
}
