package appsocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/backoff"
	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
)

// ErrDaemonUnreachable is wrapped by requests that never reached a daemon.
var ErrDaemonUnreachable = errors.New("xpipe daemon is not reachable")

// ClientError is returned when the daemon rejected a request.
type ClientError struct {
	Kind    errkind.Kind
	Message string
}

func (e *ClientError) Error() string { return e.Message }

// ServerError is returned when the daemon failed to handle a request.
type ServerError struct {
	Kind    errkind.Kind
	Message string
}

func (e *ServerError) Error() string { return e.Message }

// Client sends requests to a daemon, one connection per request.
type Client struct {
	addr    string
	dialer  net.Dialer
	retry   backoff.RetryPolicy
	timeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetry retries dialing under policy p.
func WithRetry(p backoff.RetryPolicy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// WithRequestTimeout bounds each request. Zero means no limit.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

func NewClient(addr string, opts ...ClientOption) *Client {
	c := &Client{addr: addr}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request sends payload and an optional raw body as messageType and
// decodes the response payload into out, which may be nil.
func (c *Client) Request(ctx context.Context, messageType string, payload any, body []byte, out any) error {
	op := "xpipe " + messageType
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return errkind.Wrap(errkind.InternalError, op, err)
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return errkind.Wrap(errkind.TransportFailure, op, fmt.Errorf("%w at %s: %v", ErrDaemonUnreachable, c.addr, err))
	}
	defer func() { _ = conn.Close() }()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	id := uuid.NewString()
	req := envelope{
		Type:         TypeMessage,
		MessageType:  messageType,
		MessagePhase: PhaseRequest,
		RequestID:    id,
		Payload:      raw,
	}
	if err := writeFrame(conn, req, body); err != nil {
		return c.transportError(ctx, op, err)
	}
	resp, _, err := readFrame(conn)
	if err != nil {
		return c.transportError(ctx, op, err)
	}

	switch resp.Type {
	case TypeClientError:
		return errkind.Wrap(kindOr(resp.Kind, errkind.Unsupported), op, &ClientError{Kind: errkind.ParseKind(resp.Kind), Message: resp.Message})
	case TypeServerError:
		return errkind.Wrap(kindOr(resp.Kind, errkind.InternalError), op, &ServerError{Kind: errkind.ParseKind(resp.Kind), Message: resp.Message})
	case TypeMessage:
	default:
		return errkind.Errorf(errkind.TransportFailure, op, "unexpected envelope %q", resp.Type)
	}
	if resp.RequestID != id || resp.MessagePhase != PhaseResponse {
		return errkind.Errorf(errkind.TransportFailure, op, "response does not match request %s", id)
	}
	if out == nil || len(resp.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Payload, out); err != nil {
		return errkind.Wrap(errkind.TransportFailure, op, err)
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if c.retry == nil {
		return c.dialer.DialContext(ctx, "tcp", c.addr)
	}
	var conn net.Conn
	err := backoff.Retry(ctx, func(ctx context.Context) error {
		var err error
		conn, err = c.dialer.DialContext(ctx, "tcp", c.addr)
		return err
	}, c.retry, nil)
	return conn, err
}

func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return errkind.FromContext(op, ctx.Err())
	}
	return errkind.Wrap(errkind.TransportFailure, op, err)
}

func kindOr(name string, fallback errkind.Kind) errkind.Kind {
	if k := errkind.ParseKind(name); k != errkind.Unknown {
		return k
	}
	return fallback
}
