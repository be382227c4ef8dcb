package appsocket

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/backoff"
	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
)

func TestFrame(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		env  envelope
		body []byte
	}{
		{name: "NoBody", env: envelope{Type: TypeMessage, MessageType: "version", MessagePhase: PhaseRequest, RequestID: "1"}},
		{name: "Body", env: envelope{Type: TypeMessage, MessageType: "exec", Payload: []byte(`{"a":"x\ny"}`)}, body: []byte("line1\r\n\r\nline2")},
		{name: "EmptyBody", env: envelope{Type: TypeServerError, Message: "boom"}, body: []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			require.NoError(t, writeFrame(&buf, tt.env, tt.body))
			size := int(buf.Bytes()[0])<<24 | int(buf.Bytes()[1])<<16 | int(buf.Bytes()[2])<<8 | int(buf.Bytes()[3])
			assert.Equal(t, buf.Len()-4, size)

			env, body, err := readFrame(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.env.Type, env.Type)
			assert.Equal(t, tt.env.MessageType, env.MessageType)
			assert.Equal(t, tt.env.Message, env.Message)
			if tt.env.Payload != nil {
				assert.JSONEq(t, string(tt.env.Payload), string(env.Payload))
			}
			if len(tt.body) == 0 {
				assert.Empty(t, body)
			} else {
				assert.Equal(t, tt.body, body)
			}
		})
	}

	t.Run("Oversized", func(t *testing.T) {
		t.Parallel()
		_, _, err := readFrame(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}))
		assert.Error(t, err)
	})

	t.Run("Truncated", func(t *testing.T) {
		t.Parallel()
		_, _, err := readFrame(bytes.NewReader([]byte{0, 0, 0, 10, '{'}))
		assert.Error(t, err)
	})
}

func TestAddress(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "127.0.0.1:21721", Address("", 0))
	assert.Equal(t, "[::1]:9000", Address("::1", 9000))
}

func startServer(t *testing.T) *Server {
	t.Helper()
	srv := NewServer("127.0.0.1:0")
	srv.Handle("echo", func(_ context.Context, req *Request) (any, error) {
		var in struct {
			Text string `json:"text"`
		}
		if err := req.Decode(&in); err != nil {
			return nil, err
		}
		return map[string]string{"text": in.Text, "body": string(req.Body)}, nil
	})
	srv.Handle("missing", func(context.Context, *Request) (any, error) {
		return nil, errkind.NotFoundf("lookup", "no such connection")
	})
	srv.Handle("crash", func(context.Context, *Request) (any, error) {
		return nil, errors.New("nil map")
	})

	ctx, cancel := context.WithCancel(context.Background())
	listen := make(chan error, 1)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listen) }()
	require.NoError(t, <-listen)
	t.Cleanup(func() {
		_ = srv.Shutdown(ctx)
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrServerRequestedShutdown)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv
}

func TestServer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := startServer(t)
	client := NewClient(srv.Addr(), WithRequestTimeout(5*time.Second))

	t.Run("Message", func(t *testing.T) {
		t.Parallel()
		var out map[string]string
		err := client.Request(ctx, "echo", map[string]string{"text": "hi"}, []byte("raw\nbody"), &out)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"text": "hi", "body": "raw\nbody"}, out)
	})

	t.Run("UnknownType", func(t *testing.T) {
		t.Parallel()
		err := client.Request(ctx, "nope", nil, nil, nil)
		var ce *ClientError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, errkind.Unsupported, errkind.Of(err))
		assert.Contains(t, ce.Message, `unknown message type "nope"`)
	})

	t.Run("ExpectedFailure", func(t *testing.T) {
		t.Parallel()
		err := client.Request(ctx, "missing", nil, nil, nil)
		var ce *ClientError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, errkind.NotFound, ce.Kind)
		assert.Equal(t, errkind.NotFound, errkind.Of(err))
	})

	t.Run("InternalFailure", func(t *testing.T) {
		t.Parallel()
		err := client.Request(ctx, "crash", nil, nil, nil)
		var se *ServerError
		require.ErrorAs(t, err, &se)
		assert.Contains(t, se.Message, "nil map")
		assert.Equal(t, errkind.InternalError, errkind.Of(err))
	})

	t.Run("MalformedPayload", func(t *testing.T) {
		t.Parallel()
		err := client.Request(ctx, "echo", []int{1}, nil, nil)
		assert.Equal(t, errkind.Unsupported, errkind.Of(err))
	})
}

func TestServer_KeepAlive(t *testing.T) {
	t.Parallel()
	srv := startServer(t)

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	for _, id := range []string{"a", "b"} {
		require.NoError(t, writeFrame(conn, envelope{
			Type: TypeMessage, MessageType: "echo", MessagePhase: PhaseRequest,
			RequestID: id, Payload: []byte(`{"text":"` + id + `"}`),
		}, nil))
		resp, _, err := readFrame(conn)
		require.NoError(t, err)
		assert.Equal(t, TypeMessage, resp.Type)
		assert.Equal(t, PhaseResponse, resp.MessagePhase)
		assert.Equal(t, id, resp.RequestID)
	}

	require.NoError(t, writeFrame(conn, envelope{Type: TypeMessage, MessageType: "echo", MessagePhase: PhaseResponse}, nil))
	resp, _, err := readFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, TypeClientError, resp.Type)
}

func TestClient_NotRunning(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	client := NewClient(addr, WithRetry(backoff.NewConstantBackoffPolicy(time.Millisecond, 2)))
	err = client.Request(context.Background(), "version", nil, nil, nil)
	assert.Equal(t, errkind.TransportFailure, errkind.Of(err))
	assert.Contains(t, err.Error(), "not reachable")
	assert.ErrorIs(t, err, ErrDaemonUnreachable)
}
