package shellctl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
)

// errStreamClosed is returned once the session's output stream ended.
var errStreamClosed = errors.New("session output closed")

// streamBuffer decouples draining a pipe from consuming it, so a session
// never blocks on a full pipe while no command is reading.
type streamBuffer struct {
	mu     sync.Mutex
	buf    []byte
	err    error
	notify chan struct{}
}

func newStreamBuffer() *streamBuffer {
	return &streamBuffer{notify: make(chan struct{})}
}

func (b *streamBuffer) write(p []byte) {
	b.mu.Lock()
	b.buf = append(b.buf, p...)
	close(b.notify)
	b.notify = make(chan struct{})
	b.mu.Unlock()
}

func (b *streamBuffer) closeWithError(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
		close(b.notify)
		b.notify = make(chan struct{})
	}
	b.mu.Unlock()
}

// next returns everything buffered, blocking until there is data, the
// stream ended or ctx is done. A done ctx wins over buffered data.
func (b *streamBuffer) next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b.mu.Lock()
		if len(b.buf) > 0 {
			out := b.buf
			b.buf = nil
			b.mu.Unlock()
			return out, nil
		}
		if b.err != nil {
			err := b.err
			b.mu.Unlock()
			return nil, err
		}
		ch := b.notify
		b.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// unread puts p back in front of the buffered data.
func (b *streamBuffer) unread(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	b.buf = append(append([]byte(nil), p...), b.buf...)
	b.mu.Unlock()
}

// reset drops buffered data, used after a session was resynchronised.
func (b *streamBuffer) reset() {
	b.mu.Lock()
	b.buf = nil
	b.mu.Unlock()
}

func drain(r io.Reader, b *streamBuffer) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			b.write(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errStreamClosed
			}
			b.closeWithError(fmt.Errorf("%w: %v", errStreamClosed, err))
			return
		}
	}
}

// readFrame consumes one frame from b. Output before the start token line
// is discarded, the payload is copied to dst and the rest of the end token
// line is returned. Bytes following the end line stay in b.
func readFrame(ctx context.Context, b *streamBuffer, start, end string, dst io.Writer) (string, error) {
	startTok := []byte(start)
	endTok := []byte("\n" + end)

	var pending []byte
	// seek the start line
	for {
		if i := bytes.Index(pending, startTok); i >= 0 {
			if nl := bytes.IndexByte(pending[i:], '\n'); nl >= 0 {
				pending = pending[i+nl+1:]
				break
			}
		} else if keep := len(startTok) - 1; len(pending) > keep {
			pending = pending[len(pending)-keep:]
		}
		chunk, err := b.next(ctx)
		if err != nil {
			return "", frameError(err)
		}
		pending = append(pending, chunk...)
	}

	// payload up to the newline that precedes the end token
	for {
		if i := bytes.Index(pending, endTok); i >= 0 {
			payload := bytes.TrimSuffix(pending[:i], []byte("\r"))
			if _, err := dst.Write(payload); err != nil {
				return "", err
			}
			pending = pending[i+len(endTok):]
			break
		}
		// keep one byte more than the token for a preceding \r
		if flush := len(pending) - len(endTok); flush > 0 {
			if _, err := dst.Write(pending[:flush]); err != nil {
				return "", err
			}
			pending = pending[flush:]
		}
		chunk, err := b.next(ctx)
		if err != nil {
			return "", frameError(err)
		}
		pending = append(pending, chunk...)
	}

	// rest of the end line
	for {
		if nl := bytes.IndexByte(pending, '\n'); nl >= 0 {
			b.unread(pending[nl+1:])
			return strings.TrimRight(string(pending[:nl]), "\r"), nil
		}
		chunk, err := b.next(ctx)
		if err != nil {
			return "", frameError(err)
		}
		pending = append(pending, chunk...)
	}
}

// skipLine discards b up to and including the line holding token.
func skipLine(ctx context.Context, b *streamBuffer, token string) error {
	tok := []byte(token)
	var pending []byte
	for {
		if i := bytes.Index(pending, tok); i >= 0 {
			if nl := bytes.IndexByte(pending[i:], '\n'); nl >= 0 {
				b.unread(pending[i+nl+1:])
				return nil
			}
		} else if keep := len(tok) - 1; len(pending) > keep {
			pending = pending[len(pending)-keep:]
		}
		chunk, err := b.next(ctx)
		if err != nil {
			return frameError(err)
		}
		pending = append(pending, chunk...)
	}
}

func frameError(err error) error {
	if errors.Is(err, errStreamClosed) {
		return errkind.Wrap(errkind.TransportFailure, "read session output", err)
	}
	return err
}

// parseExitTrailer parses ":<code>" from the stdout end line.
func parseExitTrailer(trailer string) int {
	code, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(trailer, ":")))
	if err != nil {
		return InternalErrorExitCode
	}
	return code
}
