package rish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Executor is the production Channel implementation. It invokes the rish
// binary once per command, feeding the command on stdin the way the
// Shizuku wrapper expects, with RISH_APPLICATION_ID set in the
// environment.
type Executor struct {
	// BinPath is the absolute path to the rish wrapper script.
	BinPath string
	// AppID is exported as RISH_APPLICATION_ID for the wrapper.
	AppID string
}

var _ Channel = (*Executor)(nil)

// NewExecutor returns an Executor for the given rish binary and
// application id.
func NewExecutor(binPath, appID string) *Executor {
	return &Executor{BinPath: binPath, AppID: appID}
}

// Exec runs one command through rish. The command string is written to
// the wrapper's stdin. A timeout of zero means no deadline.
func (e *Executor) Exec(ctx context.Context, command string, timeout time.Duration) (Result, error) {
	if _, err := os.Stat(e.BinPath); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrChannelUnavailable, e.BinPath)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.BinPath)
	cmd.Stdin = strings.NewReader(command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), "RISH_APPLICATION_ID="+e.AppID)

	err := cmd.Run()

	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if ctx.Err() == context.DeadlineExceeded {
		return res, fmt.Errorf("%w after %s: %s", ErrTimeout, timeout, truncateCommand(command))
	}
	if strings.Contains(res.Stderr, "Permission denied") {
		return res, fmt.Errorf("%w: check Shizuku authorization", ErrPermissionDenied)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	return res, nil
}

// truncateCommand keeps log lines bounded for long dd invocations.
func truncateCommand(cmd string) string {
	const max = 80
	if len(cmd) <= max {
		return cmd
	}
	return cmd[:max] + "..."
}
