package terminal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/command"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shellctl"
)

// Request is a pending terminal launch. The terminal's launcher script
// completes it by asking for the target script.
type Request struct {
	ID      string
	Control *shellctl.Control
	Init    shellctl.TerminalInit
	// Clear clears the terminal before the session starts.
	Clear bool
	// Command runs in the session; nil opens an interactive shell.
	Command *command.Builder

	once   sync.Once
	done   chan struct{}
	target string
	err    error
}

// NewRequest creates a request with a fresh id.
func NewRequest(c *shellctl.Control, init shellctl.TerminalInit, b *command.Builder) *Request {
	return &Request{
		ID:      uuid.NewString(),
		Control: c,
		Init:    init,
		Command: b,
		done:    make(chan struct{}),
	}
}

func (r *Request) complete(target string, err error) {
	r.once.Do(func() {
		r.target = target
		r.err = err
		close(r.done)
	})
}

// Wait blocks until the request was completed, ctx is done or timeout
// passed.
func (r *Request) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.done:
		return r.target, r.err
	case <-timer.C:
		return "", errkind.Errorf(errkind.Timeout, "open terminal", "terminal did not connect within %s", timeout)
	case <-ctx.Done():
		return "", errkind.FromContext("open terminal", ctx.Err())
	}
}

// RequestTable holds pending requests by id.
type RequestTable struct {
	mu       sync.Mutex
	requests map[string]*Request
}

func NewRequestTable() *RequestTable {
	return &RequestTable{requests: make(map[string]*Request)}
}

func (t *RequestTable) Register(r *Request) {
	t.mu.Lock()
	t.requests[r.ID] = r
	t.mu.Unlock()
}

func (t *RequestTable) Get(id string) (*Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.requests[id]
	return r, ok
}

// Complete resolves the request id with a target script or an error.
func (t *RequestTable) Complete(id, target string, err error) error {
	r, ok := t.Get(id)
	if !ok {
		return errkind.NotFoundf("terminal request", "unknown request %s", id)
	}
	r.complete(target, err)
	return nil
}

func (t *RequestTable) Remove(id string) {
	t.mu.Lock()
	delete(t.requests, id)
	t.mu.Unlock()
}

// Len is the number of pending requests.
func (t *RequestTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}
