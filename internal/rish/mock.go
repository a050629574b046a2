package rish

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockChannel is an in-memory Channel implementation for tests. Commands
// are dispatched to handlers registered by prefix, in registration
// order, and every invocation is recorded so tests can assert on the
// exact command sequence the code under test issued.
type MockChannel struct {
	mu       sync.Mutex
	handlers []mockHandler
	calls    []string
}

type mockHandler struct {
	prefix string
	fn     func(command string) (Result, error)
}

var _ Channel = (*MockChannel)(nil)

// NewMockChannel returns an empty mock. Exec on an unmatched command
// fails loudly so tests cannot silently swallow protocol drift.
func NewMockChannel() *MockChannel {
	return &MockChannel{}
}

// Handle registers fn for commands starting with prefix. Later
// registrations with the same prefix shadow earlier ones.
func (m *MockChannel) Handle(prefix string, fn func(command string) (Result, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append([]mockHandler{{prefix: prefix, fn: fn}}, m.handlers...)
}

// HandleResult registers a fixed result for commands starting with prefix.
func (m *MockChannel) HandleResult(prefix string, res Result) {
	m.Handle(prefix, func(string) (Result, error) { return res, nil })
}

// Exec dispatches the command to the first matching handler.
func (m *MockChannel) Exec(_ context.Context, command string, _ time.Duration) (Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, command)
	var fn func(string) (Result, error)
	for _, h := range m.handlers {
		if strings.HasPrefix(command, h.prefix) {
			fn = h.fn
			break
		}
	}
	m.mu.Unlock()
	if fn == nil {
		return Result{}, fmt.Errorf("mock channel: no handler for command %q", command)
	}
	return fn(command)
}

// Calls returns a copy of every command executed so far.
func (m *MockChannel) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many executed commands start with prefix.
func (m *MockChannel) CallCount(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}
