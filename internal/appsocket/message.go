// Package appsocket is the loopback socket the CLI uses to talk to a
// running xpipe daemon.
//
// Every frame is a 4-byte big-endian length followed by that many bytes: a
// compact JSON envelope, optionally followed by BodySeparator and a raw body.
package appsocket

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 21721

	maxFrameSize = 64 << 20
)

// BodySeparator divides the envelope from a raw body. Compact JSON never
// contains a raw CR or LF.
var BodySeparator = []byte("\r\n\r\n")

// Envelope shapes.
const (
	TypeMessage     = "xPipeMessage"
	TypeClientError = "xPipeClientError"
	TypeServerError = "xPipeServerError"
)

// Phase tells requests from responses.
type Phase string

const (
	PhaseRequest  Phase = "request"
	PhaseResponse Phase = "response"
)

type envelope struct {
	Type         string          `json:"type"`
	MessageType  string          `json:"messageType,omitempty"`
	MessagePhase Phase           `json:"messagePhase,omitempty"`
	RequestID    string          `json:"requestId,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Message      string          `json:"message,omitempty"`
	Kind         string          `json:"kind,omitempty"`
}

// Address joins host and port, filling in the defaults.
func Address(host string, port int) string {
	if host == "" {
		host = DefaultHost
	}
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func writeFrame(w io.Writer, env envelope, body []byte) error {
	head, err := json.Marshal(env)
	if err != nil {
		return err
	}
	size := len(head)
	if body != nil {
		size += len(BodySeparator) + len(body)
	}
	if size > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", size)
	}

	buf := make([]byte, 4, 4+size)
	binary.BigEndian.PutUint32(buf, uint32(size))
	buf = append(buf, head...)
	if body != nil {
		buf = append(buf, BodySeparator...)
		buf = append(buf, body...)
	}
	_, err = w.Write(buf)
	return err
}

func readFrame(r io.Reader) (envelope, []byte, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return envelope{}, nil, err
	}
	size := binary.BigEndian.Uint32(head[:])
	if size > maxFrameSize {
		return envelope{}, nil, fmt.Errorf("frame of %d bytes exceeds limit", size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return envelope{}, nil, err
	}

	var body []byte
	if i := bytes.Index(data, BodySeparator); i >= 0 {
		data, body = data[:i], data[i+len(BodySeparator):]
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, nil, fmt.Errorf("malformed envelope: %w", err)
	}
	return env, body, nil
}
