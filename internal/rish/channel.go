package rish

import (
	"context"
	"errors"
	"time"
)

// Channel executes one shell command per call on the remote device and
// returns its exit status and captured output. There is no byte-stream
// transport underneath: every interaction with the device goes through
// discrete command invocations, so callers layer their own retry and
// encoding policies on top.
type Channel interface {
	// Exec runs a single command with the given timeout. A non-zero exit
	// status is reported through Result, not through the error return;
	// the error is reserved for channel-level failures (missing binary,
	// permission refusal, timeout).
	Exec(ctx context.Context, command string, timeout time.Duration) (Result, error)
}

// Result is the outcome of one command invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

var (
	// ErrChannelUnavailable indicates the rish binary itself is missing or
	// cannot be executed. This is never retried at any level.
	ErrChannelUnavailable = errors.New("rish channel unavailable")
	// ErrPermissionDenied indicates the Shizuku authorization was revoked
	// or never granted. Retrying cannot help.
	ErrPermissionDenied = errors.New("permission denied by remote shell")
	// ErrTimeout indicates the command did not complete within the
	// caller-supplied timeout. Treated as transient.
	ErrTimeout = errors.New("rish command timed out")
)

// IsPermanent reports whether err can never be cured by retrying.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrChannelUnavailable) || errors.Is(err, ErrPermissionDenied)
}
