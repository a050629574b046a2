package rish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// fakeRish writes a shell script that behaves like the rish wrapper:
// it reads a command from stdin and executes it.
func fakeRish(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "rish")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexec sh -s\n"), 0o755); err != nil {
		t.Fatalf("write fake rish: %v", err)
	}
	return path
}

func TestExecutor_MissingBinary(t *testing.T) {
	e := NewExecutor("/nonexistent/rish", "com.termux")
	_, err := e.Exec(context.Background(), "true", time.Second)
	if !errors.Is(err, ErrChannelUnavailable) {
		t.Fatalf("expected ErrChannelUnavailable, got %v", err)
	}
	if !IsPermanent(err) {
		t.Fatal("missing binary must be permanent")
	}
}

func TestExecutor_CapturesOutputAndStatus(t *testing.T) {
	e := NewExecutor(fakeRish(t), "com.termux")

	res, err := e.Exec(context.Background(), "printf hello; printf oops >&2", 5*time.Second)
	if err != nil {
		t.Fatalf("Exec error: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", res.ExitCode)
	}
	if res.Stdout != "hello" {
		t.Fatalf("stdout = %q, want %q", res.Stdout, "hello")
	}
	if res.Stderr != "oops" {
		t.Fatalf("stderr = %q, want %q", res.Stderr, "oops")
	}
}

func TestExecutor_NonZeroExitIsNotAnError(t *testing.T) {
	e := NewExecutor(fakeRish(t), "com.termux")

	res, err := e.Exec(context.Background(), "exit 3", 5*time.Second)
	if err != nil {
		t.Fatalf("Exec error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestExecutor_Timeout(t *testing.T) {
	e := NewExecutor(fakeRish(t), "com.termux")

	_, err := e.Exec(context.Background(), "sleep 5", 100*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if IsPermanent(err) {
		t.Fatal("timeout must be transient")
	}
}

func TestRetryingChannel_RetriesTransient(t *testing.T) {
	mock := NewMockChannel()
	failures := 2
	mock.Handle("echo", func(string) (Result, error) {
		if failures > 0 {
			failures--
			return Result{}, ErrTimeout
		}
		return Result{Stdout: "ok"}, nil
	})

	rc := NewRetryingChannel(mock, RetryPolicy{MaxRetries: 5, DelayBase: time.Millisecond, DelayMax: 4 * time.Millisecond}, nil)
	res, err := rc.Exec(context.Background(), "echo hi", time.Second)
	if err != nil {
		t.Fatalf("Exec error: %v", err)
	}
	if res.Stdout != "ok" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
	if got := mock.CallCount("echo"); got != 3 {
		t.Fatalf("call count = %d, want 3", got)
	}
}

func TestRetryingChannel_PermanentPassesThrough(t *testing.T) {
	mock := NewMockChannel()
	mock.Handle("", func(string) (Result, error) {
		return Result{}, ErrPermissionDenied
	})

	rc := NewRetryingChannel(mock, RetryPolicy{MaxRetries: 5, DelayBase: time.Millisecond, DelayMax: time.Millisecond}, nil)
	_, err := rc.Exec(context.Background(), "ls /", time.Second)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if got := mock.CallCount(""); got != 1 {
		t.Fatalf("call count = %d, want 1 (no retries)", got)
	}
}

func TestBackoffDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{10, 60 * time.Second},
	}
	for _, tc := range cases {
		if got := backoffDelay(2*time.Second, 60*time.Second, tc.attempt); got != tc.want {
			t.Errorf("backoffDelay(attempt=%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}
