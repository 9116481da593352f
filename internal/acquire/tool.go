package acquire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/hbomb79/immich-relay/pkg/logger"
)

const waitDelay = 5 * time.Second

var (
	ErrToolUnavailable = errors.New("tool could not be started")
	ErrToolTimeout     = errors.New("tool exceeded its time limit")
)

type (
	// Invocation is the result of running an external tool to completion.
	Invocation struct {
		ExitCode int
		Stderr   string
		Stdout   string
	}

	// Tool is an external downloader. Invoke only returns an error if the
	// tool could not be run to completion (ErrToolUnavailable, ErrToolTimeout,
	// or context cancellation); a tool which runs and fails reports this
	// via a non-zero ExitCode and its Stderr output.
	Tool interface {
		Name() string
		Invoke(ctx context.Context, args []string) (Invocation, error)
	}

	// ExecTool runs a binary on the host machine as a subprocess.
	ExecTool struct {
		name    string
		binPath string
		timeout time.Duration
	}
)

// NewExecTool returns a tool which invokes the binary at binPath. A
// non-positive timeout disables the execution time limit.
func NewExecTool(name string, binPath string, timeout time.Duration) *ExecTool {
	return &ExecTool{name: name, binPath: binPath, timeout: timeout}
}

func (tool *ExecTool) Name() string { return tool.name }

func (tool *ExecTool) Invoke(parent context.Context, args []string) (Invocation, error) {
	ctx := parent
	if tool.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, tool.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, tool.binPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Downloaders spawn children (e.g. ffmpeg) which may keep the output
	// pipes open after the tool itself has been killed.
	cmd.WaitDelay = waitDelay

	log.Emit(logger.VERBOSE, "Running %s %v\n", tool.binPath, args)
	err := cmd.Run()
	inv := Invocation{Stderr: stderr.String(), Stdout: stdout.String()}

	// A killed process surfaces as an ExitError, so the context must be
	// inspected before the exit status.
	if ctxErr := ctx.Err(); ctxErr != nil {
		inv.ExitCode = -1
		if parent.Err() == nil && errors.Is(ctxErr, context.DeadlineExceeded) {
			return inv, fmt.Errorf("%s: %w (%s)", tool.name, ErrToolTimeout, tool.timeout)
		}

		return inv, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		inv.ExitCode = exitErr.ExitCode()
		return inv, nil
	} else if err != nil {
		return inv, fmt.Errorf("%s: %w: %s", tool.name, ErrToolUnavailable, err.Error())
	}

	return inv, nil
}

func (tool *ExecTool) String() string {
	return fmt.Sprintf("{tool name=%s | bin=%s | timeout=%s}", tool.name, tool.binPath, tool.timeout)
}
