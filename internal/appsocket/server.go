package appsocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger/tag"
	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
)

var ErrServerRequestedShutdown = errors.New("app socket is requested to shutdown")

// Request is one decoded request frame.
type Request struct {
	ID          string
	MessageType string
	Payload     json.RawMessage
	// Body is the raw data after the body separator, if any.
	Body []byte
}

// Decode unmarshals the payload into v. An empty payload leaves v as is.
func (r *Request) Decode(v any) error {
	if len(r.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return errkind.Errorf(errkind.Unsupported, r.MessageType, "malformed payload: %v", err)
	}
	return nil
}

// HandlerFunc answers a request with a JSON-encodable payload.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// Server accepts loopback connections and dispatches each request frame to
// the handler registered for its message type.
type Server struct {
	addr     string
	handlers map[string]HandlerFunc
	listener net.Listener
	quit     atomic.Bool
	mu       sync.Mutex
	active   map[net.Conn]struct{}
	conns    sync.WaitGroup
}

func NewServer(addr string) *Server {
	return &Server{
		addr:     addr,
		handlers: make(map[string]HandlerFunc),
		active:   make(map[net.Conn]struct{}),
	}
}

// Handle registers h for messageType. It must be called before Serve.
func (srv *Server) Handle(messageType string, h HandlerFunc) {
	srv.handlers[messageType] = h
}

// Addr is the bound address once Serve is listening.
func (srv *Server) Addr() string {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.listener != nil {
		return srv.listener.Addr().String()
	}
	return srv.addr
}

// Serve starts listening and serving requests. The listen result is sent on
// listen if it is not nil.
func (srv *Server) Serve(ctx context.Context, listen chan error) error {
	listener, err := net.Listen("tcp", srv.addr)
	if listen != nil {
		listen <- err
	}
	if err != nil {
		return errkind.Wrap(errkind.TransportFailure, "listen", err)
	}
	srv.mu.Lock()
	if srv.quit.Load() {
		srv.mu.Unlock()
		_ = listener.Close()
		return ErrServerRequestedShutdown
	}
	srv.listener = listener
	srv.mu.Unlock()
	logger.Info(ctx, "App socket is listening", tag.Addr(listener.Addr().String()))

	defer func() {
		_ = srv.Shutdown(ctx)
		srv.conns.Wait()
	}()
	for {
		conn, err := listener.Accept()
		if srv.quit.Load() {
			if conn != nil {
				_ = conn.Close()
			}
			return ErrServerRequestedShutdown
		}
		if err != nil {
			logger.Warn(ctx, "Accept failed", tag.Error(err))
			continue
		}
		if !srv.track(conn) {
			_ = conn.Close()
			return ErrServerRequestedShutdown
		}
		go func() {
			defer srv.untrack(conn)
			srv.serveConn(ctx, conn)
		}()
	}
}

func (srv *Server) track(conn net.Conn) bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.quit.Load() {
		return false
	}
	srv.active[conn] = struct{}{}
	srv.conns.Add(1)
	return true
}

func (srv *Server) untrack(conn net.Conn) {
	_ = conn.Close()
	srv.mu.Lock()
	delete(srv.active, conn)
	srv.mu.Unlock()
	srv.conns.Done()
}

func (srv *Server) serveConn(ctx context.Context, conn net.Conn) {
	for {
		env, body, err := readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !srv.quit.Load() {
				logger.Debug(ctx, "Read request failed", tag.Error(err))
				_ = writeFrame(conn, envelope{Type: TypeClientError, Message: err.Error()}, nil)
			}
			return
		}
		resp := srv.dispatch(ctx, env, body)
		if err := writeFrame(conn, resp, nil); err != nil {
			logger.Debug(ctx, "Write response failed", tag.Error(err))
			return
		}
	}
}

func (srv *Server) dispatch(ctx context.Context, env envelope, body []byte) envelope {
	if env.Type != TypeMessage || env.MessagePhase != PhaseRequest {
		return clientError(env.RequestID, errkind.Errorf(errkind.Unsupported, "dispatch",
			"expected a %s request, got %s/%s", TypeMessage, env.Type, env.MessagePhase))
	}
	h, ok := srv.handlers[env.MessageType]
	if !ok {
		return clientError(env.RequestID, errkind.Errorf(errkind.Unsupported, "dispatch",
			"unknown message type %q", env.MessageType))
	}

	ctx = logger.WithValues(ctx, tag.MessageType(env.MessageType), tag.RequestID(env.RequestID))
	result, err := h(ctx, &Request{
		ID:          env.RequestID,
		MessageType: env.MessageType,
		Payload:     env.Payload,
		Body:        body,
	})
	if err == nil {
		var payload []byte
		payload, err = json.Marshal(result)
		if err == nil {
			return envelope{
				Type:         TypeMessage,
				MessageType:  env.MessageType,
				MessagePhase: PhaseResponse,
				RequestID:    env.RequestID,
				Payload:      payload,
			}
		}
		err = errkind.Wrap(errkind.InternalError, "encode response", err)
	}

	if errkind.IsExpected(err) {
		logger.Info(ctx, "Request failed", tag.Error(err))
		return clientError(env.RequestID, err)
	}
	logger.Error(ctx, "Request failed", tag.Error(err))
	return envelope{
		Type:      TypeServerError,
		RequestID: env.RequestID,
		Message:   err.Error(),
		Kind:      errkind.Of(err).String(),
	}
}

func clientError(id string, err error) envelope {
	return envelope{
		Type:      TypeClientError,
		RequestID: id,
		Message:   err.Error(),
		Kind:      errkind.Of(err).String(),
	}
}

// Shutdown stops accepting connections and closes open ones.
func (srv *Server) Shutdown(ctx context.Context) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.quit.Swap(true) || srv.listener == nil {
		return nil
	}
	for conn := range srv.active {
		_ = conn.Close()
	}
	err := srv.listener.Close()
	if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, os.ErrClosed) {
		logger.Error(ctx, "Close listener", tag.Error(err))
		return fmt.Errorf("close listener: %w", err)
	}
	return nil
}
